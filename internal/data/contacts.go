package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/biodata-api/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ContactFee is the price of a contact request in minor currency units.
const ContactFee int64 = 500

// ContactsStore performs contact request DB operations.
type ContactsStore struct {
	coll *mongo.Collection
}

// NewContactsStore returns a ContactsStore using the provided collection.
func NewContactsStore(coll *mongo.Collection) *ContactsStore {
	return &ContactsStore{coll: coll}
}

// Create stores a pending request. The caller supplies the target and
// requester snapshots; a reused transaction id yields ErrDuplicate.
func (s *ContactsStore) Create(ctx context.Context, req *ContactRequest) (*ContactRequest, error) {
	if req.BiodataID <= 0 {
		return nil, &FieldError{Field: "biodataId", Reason: "required"}
	}
	if req.TransactionID == "" {
		return nil, &FieldError{Field: "transactionId", Reason: "required"}
	}

	req.ID = bson.ObjectID{}
	req.RequesterEmail = normalize.Email(req.RequesterEmail)
	req.Amount = ContactFee
	req.Status = StatusPending
	req.CreatedAt = time.Now().UTC()
	req.ApprovedAt = nil

	result, err := s.coll.InsertOne(ctx, req)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert contact request: %w", err)
	}
	req.ID = result.InsertedID.(bson.ObjectID)
	return req, nil
}

// RequesterPipeline selects the requests made by email, newest first, and
// removes the target's contact fields from every request not yet approved.
func RequesterPipeline(email string) mongo.Pipeline {
	reveal := func(field string) bson.D {
		return bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$eq", Value: bson.A{"$status", StatusApproved}}},
			"$" + field,
			"$$REMOVE",
		}}}
	}
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "requesterEmail", Value: normalize.Email(email)}}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}}}},
		{{Key: "$set", Value: bson.D{
			{Key: "contactEmail", Value: reveal("contactEmail")},
			{Key: "mobileNumber", Value: reveal("mobileNumber")},
		}}},
	}
}

// ListForRequester returns the requests made by email with contact details
// hidden unless approved.
func (s *ContactsStore) ListForRequester(ctx context.Context, email string) ([]*ContactRequest, error) {
	cursor, err := s.coll.Aggregate(ctx, RequesterPipeline(email))
	if err != nil {
		return nil, fmt.Errorf("failed to query contact requests: %w", err)
	}
	defer cursor.Close(ctx)

	var raw []ContactRequest
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode contact requests: %w", err)
	}

	// Redacted matches the $cond stage above
	items := make([]*ContactRequest, 0, len(raw))
	for _, r := range raw {
		red := r.Redacted()
		items = append(items, &red)
	}
	return items, nil
}

// ListAll returns every request, newest first.
func (s *ContactsStore) ListAll(ctx context.Context) ([]*ContactRequest, error) {
	cursor, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query contact requests: %w", err)
	}
	defer cursor.Close(ctx)

	items := []*ContactRequest{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode contact requests: %w", err)
	}
	return items, nil
}

// Approve marks the request approved. Approving twice keeps the first
// approval time.
func (s *ContactsStore) Approve(ctx context.Context, id bson.ObjectID) (*ContactRequest, error) {
	now := time.Now().UTC()
	filter := bson.D{{Key: "_id", Value: id}}

	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "status", Value: bson.D{{Key: "$ne", Value: StatusApproved}}}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: StatusApproved},
			{Key: "approvedAt", Value: now},
		}}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to approve contact request: %w", err)
	}

	var req ContactRequest
	if err := s.coll.FindOne(ctx, filter).Decode(&req); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find contact request: %w", err)
	}
	return &req, nil
}

// Delete removes a request made by email.
func (s *ContactsStore) Delete(ctx context.Context, id bson.ObjectID, email string) error {
	res, err := s.coll.DeleteOne(ctx, bson.D{
		{Key: "_id", Value: id},
		{Key: "requesterEmail", Value: normalize.Email(email)},
	})
	if err != nil {
		return fmt.Errorf("failed to delete contact request: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ContactTotals summarises the contact request collection.
type ContactTotals struct {
	Requests int64
	Approved int64
	Revenue  int64
}

// Totals counts requests, approved requests and the sum of their amounts.
func (s *ContactsStore) Totals(ctx context.Context) (ContactTotals, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "requests", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "approved", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$status", StatusApproved}}}, 1, 0,
			}}}}}},
			{Key: "revenue", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
		}}},
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return ContactTotals{}, fmt.Errorf("failed to aggregate contact requests: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Requests int64 `bson:"requests"`
		Approved int64 `bson:"approved"`
		Revenue  int64 `bson:"revenue"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return ContactTotals{}, fmt.Errorf("failed to decode contact totals: %w", err)
	}
	if len(rows) == 0 {
		return ContactTotals{}, nil
	}
	return ContactTotals{Requests: rows[0].Requests, Approved: rows[0].Approved, Revenue: rows[0].Revenue}, nil
}
