package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Biodata types.
const (
	TypeMale   = "Male"
	TypeFemale = "Female"
)

// DivisionCodes maps the short query codes to canonical division names.
var DivisionCodes = map[string]string{
	"dha": "Dhaka",
	"cha": "Chattagram",
	"ran": "Rangpur",
	"bar": "Barisal",
	"khu": "Khulna",
	"mym": "Mymensingh",
	"syl": "Sylhet",
}

// IsDivision reports whether name is one of the canonical division names.
func IsDivision(name string) bool {
	for _, d := range DivisionCodes {
		if d == name {
			return true
		}
	}
	return false
}

// IsBiodataType reports whether t is a canonical biodata type.
func IsBiodataType(t string) bool {
	return t == TypeMale || t == TypeFemale
}

// Biodata maps to the biodatas collection. BiodataID is the public
// sequential id; ID is the store identity.
type Biodata struct {
	ID                    bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	BiodataID             int           `bson:"biodataId" json:"biodataId"`
	BiodataType           string        `bson:"biodataType" json:"biodataType"`
	Name                  string        `bson:"name" json:"name"`
	ProfileImage          string        `bson:"profileImage,omitempty" json:"profileImage,omitempty"`
	DateOfBirth           string        `bson:"dateOfBirth,omitempty" json:"dateOfBirth,omitempty"`
	Height                string        `bson:"height,omitempty" json:"height,omitempty"`
	Weight                string        `bson:"weight,omitempty" json:"weight,omitempty"`
	Age                   int           `bson:"age" json:"age"`
	Occupation            string        `bson:"occupation,omitempty" json:"occupation,omitempty"`
	Race                  string        `bson:"race,omitempty" json:"race,omitempty"`
	FathersName           string        `bson:"fathersName,omitempty" json:"fathersName,omitempty"`
	MothersName           string        `bson:"mothersName,omitempty" json:"mothersName,omitempty"`
	PermanentDivision     string        `bson:"permanentDivision,omitempty" json:"permanentDivision,omitempty"`
	PresentDivision       string        `bson:"presentDivision,omitempty" json:"presentDivision,omitempty"`
	ExpectedPartnerAge    string        `bson:"expectedPartnerAge,omitempty" json:"expectedPartnerAge,omitempty"`
	ExpectedPartnerHeight string        `bson:"expectedPartnerHeight,omitempty" json:"expectedPartnerHeight,omitempty"`
	ExpectedPartnerWeight string        `bson:"expectedPartnerWeight,omitempty" json:"expectedPartnerWeight,omitempty"`
	ContactEmail          string        `bson:"contactEmail" json:"contactEmail"`
	MobileNumber          string        `bson:"mobileNumber,omitempty" json:"mobileNumber,omitempty"`
	IsPremium             bool          `bson:"isPremium" json:"isPremium"`
	CreatedBy             string        `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	CreatedAt             time.Time     `bson:"createdAt" json:"createdAt"`
}

// Role is the closed set of user roles. Admin privilege is derived from it.
type Role string

const (
	RoleUser             Role = "User"
	RolePremiumRequested Role = "PremiumRequested"
	RoleAdmin            Role = "Admin"
)

// ParseRole returns the Role named by s or ErrInvalidRole.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RolePremiumRequested, RoleAdmin:
		return r, nil
	}
	return "", ErrInvalidRole
}

// IsAdmin reports whether the role carries administrative privilege.
func (r Role) IsAdmin() bool { return r == RoleAdmin }

// User maps to the users collection.
type User struct {
	ID              bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	Email           string        `bson:"email" json:"email"`
	Name            string        `bson:"name,omitempty" json:"name,omitempty"`
	PhotoURL        string        `bson:"photoURL,omitempty" json:"photoURL,omitempty"`
	Role            Role          `bson:"role" json:"role"`
	IsPremiumMember bool          `bson:"isPremiumMember" json:"isPremiumMember"`
	Favourites      []int         `bson:"favourites" json:"favourites"`
	CreatedAt       time.Time     `bson:"createdAt" json:"createdAt"`
}

// NewUser carries the fields a caller may supply on first contact.
type NewUser struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL"`
}

// SuccessStory maps to the successStories collection.
type SuccessStory struct {
	ID               bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	StoryID          int           `bson:"storyId" json:"storyId"`
	SelfBiodataID    int           `bson:"selfBiodataId" json:"selfBiodataId"`
	PartnerBiodataID int           `bson:"partnerBiodataId" json:"partnerBiodataId"`
	CoupleImage      string        `bson:"coupleImage,omitempty" json:"coupleImage,omitempty"`
	MarriageDate     time.Time     `bson:"marriageDate" json:"marriageDate"`
	Rating           int           `bson:"rating" json:"rating"`
	Review           string        `bson:"review,omitempty" json:"review,omitempty"`
	CreatedBy        string        `bson:"createdBy" json:"createdBy"`
	CreatedAt        time.Time     `bson:"createdAt" json:"createdAt"`
}

// Contact request statuses. "approved" is the only accepted spelling.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// StatusApproving marks a premium approval whose steps are in progress.
const StatusApproving = "approving"

// ContactRequest maps to the contactRequests collection. ContactEmail and
// MobileNumber are snapshots of the target biodata and are only revealed
// to the requester once Status is approved.
type ContactRequest struct {
	ID             bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	BiodataID      int           `bson:"biodataId" json:"biodataId"`
	RequesterEmail string        `bson:"requesterEmail" json:"requesterEmail"`
	RequesterName  string        `bson:"requesterName,omitempty" json:"requesterName,omitempty"`
	Name           string        `bson:"name,omitempty" json:"name,omitempty"`
	ContactEmail   string        `bson:"contactEmail,omitempty" json:"contactEmail,omitempty"`
	MobileNumber   string        `bson:"mobileNumber,omitempty" json:"mobileNumber,omitempty"`
	TransactionID  string        `bson:"transactionId" json:"transactionId"`
	Amount         int64         `bson:"amount" json:"amount"`
	Status         string        `bson:"status" json:"status"`
	CreatedAt      time.Time     `bson:"createdAt" json:"createdAt"`
	ApprovedAt     *time.Time    `bson:"approvedAt,omitempty" json:"approvedAt,omitempty"`
}

// Redacted returns a copy without the target's contact details unless the
// request is approved.
func (c ContactRequest) Redacted() ContactRequest {
	if c.Status != StatusApproved {
		c.ContactEmail = ""
		c.MobileNumber = ""
	}
	return c
}

// PremiumRequest maps to the premiumRequests collection. Active is true
// while the request is outstanding and backs the one-per-user index.
type PremiumRequest struct {
	ID         bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	Email      string        `bson:"email" json:"email"`
	BiodataID  int           `bson:"biodataId" json:"biodataId"`
	Name       string        `bson:"name,omitempty" json:"name,omitempty"`
	Status     string        `bson:"status" json:"status"`
	Active     bool          `bson:"active" json:"-"`
	CreatedAt  time.Time     `bson:"createdAt" json:"createdAt"`
	ApprovedAt *time.Time    `bson:"approvedAt,omitempty" json:"approvedAt,omitempty"`
}

// PublicStats is the home-page counter block.
type PublicStats struct {
	TotalBiodatas  int64 `json:"totalBiodatas"`
	MaleBiodatas   int64 `json:"maleBiodatas"`
	FemaleBiodatas int64 `json:"femaleBiodatas"`
	MarriagesDone  int64 `json:"marriagesDone"`
}

// AdminStats extends PublicStats with premium and revenue figures.
type AdminStats struct {
	PublicStats
	PremiumBiodatas  int64 `json:"premiumBiodatas"`
	ContactRequests  int64 `json:"contactRequests"`
	ApprovedContacts int64 `json:"approvedContacts"`
	RevenueMinor     int64 `json:"revenueMinor"`
}
