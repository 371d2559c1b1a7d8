package data

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/PaulBabatuyi/biodata-api/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// SimilarLimit caps the "similar profiles" list shown next to a biodata.
const SimilarLimit = 3

// immutableFields can never be changed through an update payload.
var immutableFields = map[string]bool{
	"_id":          true,
	"contactEmail": true,
	"profileImage": true,
	"biodataId":    true,
	"createdBy":    true,
	"isPremium":    true,
	"createdAt":    true,
}

// mutableFields lists what an update may set, with the value kind expected.
var mutableFields = map[string]fieldKind{
	"biodataType":           kindType,
	"name":                  kindString,
	"dateOfBirth":           kindString,
	"height":                kindString,
	"weight":                kindString,
	"age":                   kindInt,
	"occupation":            kindString,
	"race":                  kindString,
	"fathersName":           kindString,
	"mothersName":           kindString,
	"permanentDivision":     kindDivision,
	"presentDivision":       kindDivision,
	"expectedPartnerAge":    kindString,
	"expectedPartnerHeight": kindString,
	"expectedPartnerWeight": kindString,
	"mobileNumber":          kindString,
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindType
	kindDivision
)

// BuildUpdate turns a decoded JSON payload into a $set document. Immutable
// and unknown fields are dropped; the remaining values are type checked.
// Keys are emitted in sorted order. ErrNoChanges is returned when nothing
// is left to set.
func BuildUpdate(payload map[string]interface{}) (bson.D, error) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if immutableFields[k] {
			continue
		}
		if _, ok := mutableFields[k]; !ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	set := bson.D{}
	for _, k := range keys {
		v, err := checkField(k, mutableFields[k], payload[k])
		if err != nil {
			return nil, err
		}
		set = append(set, bson.E{Key: k, Value: v})
	}
	if len(set) == 0 {
		return nil, ErrNoChanges
	}
	return set, nil
}

func checkField(name string, kind fieldKind, v interface{}) (interface{}, error) {
	switch kind {
	case kindInt:
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) || f < 0 || f > 150 {
			return nil, &FieldError{Field: name, Reason: "must be a whole number between 0 and 150"}
		}
		return int(f), nil
	case kindType:
		s, ok := v.(string)
		if !ok || !IsBiodataType(s) {
			return nil, &FieldError{Field: name, Reason: "must be Male or Female"}
		}
		return s, nil
	case kindDivision:
		s, ok := v.(string)
		if !ok || !IsDivision(s) {
			return nil, &FieldError{Field: name, Reason: "unknown division"}
		}
		return s, nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, &FieldError{Field: name, Reason: "must be a string"}
		}
		return s, nil
	}
}

// Validate checks a biodata submitted for creation.
func (b *Biodata) Validate() error {
	switch {
	case b.Name == "":
		return &FieldError{Field: "name", Reason: "required"}
	case !IsBiodataType(b.BiodataType):
		return &FieldError{Field: "biodataType", Reason: "must be Male or Female"}
	case b.Age < 0 || b.Age > 150:
		return &FieldError{Field: "age", Reason: "must be between 0 and 150"}
	case b.PresentDivision != "" && !IsDivision(b.PresentDivision):
		return &FieldError{Field: "presentDivision", Reason: "unknown division"}
	case b.PermanentDivision != "" && !IsDivision(b.PermanentDivision):
		return &FieldError{Field: "permanentDivision", Reason: "unknown division"}
	}
	return nil
}

// BiodatasStore performs biodata DB operations.
type BiodatasStore struct {
	coll     *mongo.Collection
	counters *CountersStore
}

// NewBiodatasStore returns a BiodatasStore using the provided collection and
// counters for id assignment.
func NewBiodatasStore(coll *mongo.Collection, counters *CountersStore) *BiodatasStore {
	return &BiodatasStore{coll: coll, counters: counters}
}

// Create inserts b for owner. The sequential id comes from the counter,
// premium is forced off and the owner becomes the contact email.
func (s *BiodatasStore) Create(ctx context.Context, owner string, b *Biodata) (*Biodata, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	owner = normalize.Email(owner)
	exists, err := s.coll.CountDocuments(ctx, bson.D{{Key: "contactEmail", Value: owner}})
	if err != nil {
		return nil, fmt.Errorf("failed to check existing biodata: %w", err)
	}
	if exists > 0 {
		return nil, ErrDuplicate
	}

	id, err := s.counters.Next(ctx, SeqBiodata)
	if err != nil {
		return nil, err
	}

	b.ID = bson.ObjectID{}
	b.BiodataID = id
	b.ContactEmail = owner
	b.CreatedBy = owner
	b.IsPremium = false
	b.CreatedAt = time.Now().UTC()

	result, err := s.coll.InsertOne(ctx, b)
	if err != nil {
		// the unique contactEmail index catches a concurrent create for the same owner
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert biodata: %w", err)
	}
	b.ID = result.InsertedID.(bson.ObjectID)
	return b, nil
}

// GetByBiodataID finds a biodata by its sequential id.
func (s *BiodatasStore) GetByBiodataID(ctx context.Context, id int) (*Biodata, error) {
	return s.findOne(ctx, bson.D{{Key: "biodataId", Value: id}})
}

// GetByEmail finds the biodata owned by email.
func (s *BiodatasStore) GetByEmail(ctx context.Context, email string) (*Biodata, error) {
	return s.findOne(ctx, bson.D{{Key: "contactEmail", Value: normalize.Email(email)}})
}

func (s *BiodatasStore) findOne(ctx context.Context, filter bson.D) (*Biodata, error) {
	var b Biodata
	if err := s.coll.FindOne(ctx, filter).Decode(&b); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find biodata: %w", err)
	}
	return &b, nil
}

// Similar returns up to SimilarLimit biodatas of the same type as b,
// excluding b itself.
func (s *BiodatasStore) Similar(ctx context.Context, b *Biodata) ([]*Biodata, error) {
	filter := bson.D{
		{Key: "biodataType", Value: b.BiodataType},
		{Key: "biodataId", Value: bson.D{{Key: "$ne", Value: b.BiodataID}}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "biodataId", Value: 1}}).
		SetLimit(SimilarLimit)
	return s.find(ctx, filter, opts)
}

// List returns one page of biodatas matching filter plus the total number
// of matches. Count and page use the same filter.
func (s *BiodatasStore) List(ctx context.Context, filter bson.D, sortBy bson.D, skip, limit int64) ([]*Biodata, int64, error) {
	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count biodatas: %w", err)
	}

	if len(sortBy) == 0 {
		sortBy = bson.D{{Key: "biodataId", Value: 1}}
	}
	opts := options.Find().
		SetSort(sortBy).
		SetSkip(skip).
		SetLimit(limit)

	items, err := s.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListPremium returns premium biodatas in the given order.
func (s *BiodatasStore) ListPremium(ctx context.Context, sortBy bson.D, limit int64) ([]*Biodata, error) {
	opts := options.Find().SetSort(sortBy).SetLimit(limit)
	return s.find(ctx, bson.D{{Key: "isPremium", Value: true}}, opts)
}

// ListByIDs returns the biodatas whose sequential ids are in ids.
func (s *BiodatasStore) ListByIDs(ctx context.Context, ids []int) ([]*Biodata, error) {
	if len(ids) == 0 {
		return []*Biodata{}, nil
	}
	filter := bson.D{{Key: "biodataId", Value: bson.D{{Key: "$in", Value: ids}}}}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "biodataId", Value: 1}}))
}

func (s *BiodatasStore) find(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]*Biodata, error) {
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query biodatas: %w", err)
	}
	defer cursor.Close(ctx)

	items := []*Biodata{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode biodatas: %w", err)
	}
	return items, nil
}

// Update applies set (see BuildUpdate) to the biodata owned by email and
// returns the updated document.
func (s *BiodatasStore) Update(ctx context.Context, email string, set bson.D) (*Biodata, error) {
	if len(set) == 0 {
		return nil, ErrNoChanges
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var b Biodata
	err := s.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "contactEmail", Value: normalize.Email(email)}},
		bson.D{{Key: "$set", Value: set}},
		opts,
	).Decode(&b)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update biodata: %w", err)
	}
	return &b, nil
}

// SetPremium marks the biodata owned by email as premium.
func (s *BiodatasStore) SetPremium(ctx context.Context, email string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "contactEmail", Value: normalize.Email(email)}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "isPremium", Value: true}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to set biodata premium: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of biodatas matching filter.
func (s *BiodatasStore) Count(ctx context.Context, filter bson.D) (int64, error) {
	if filter == nil {
		filter = bson.D{}
	}
	n, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count biodatas: %w", err)
	}
	return n, nil
}

// MaxBiodataID returns the highest sequential id in use, or 0.
func (s *BiodatasStore) MaxBiodataID(ctx context.Context) (int, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "biodataId", Value: -1}}).
		SetProjection(bson.D{{Key: "biodataId", Value: 1}})
	var b Biodata
	if err := s.coll.FindOne(ctx, bson.D{}, opts).Decode(&b); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read max biodata id: %w", err)
	}
	return b.BiodataID, nil
}
