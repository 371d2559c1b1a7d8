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

// PremiumRequestsStore performs premium request DB operations. At most one
// active request exists per email, enforced by a partial unique index.
type PremiumRequestsStore struct {
	coll *mongo.Collection
}

// NewPremiumRequestsStore returns a PremiumRequestsStore using the provided
// collection.
func NewPremiumRequestsStore(coll *mongo.Collection) *PremiumRequestsStore {
	return &PremiumRequestsStore{coll: coll}
}

// Create opens a pending request for the owner of b. ErrAlreadyRequested is
// returned while another request for the same email is outstanding.
func (s *PremiumRequestsStore) Create(ctx context.Context, b *Biodata) (*PremiumRequest, error) {
	req := &PremiumRequest{
		Email:     normalize.Email(b.ContactEmail),
		BiodataID: b.BiodataID,
		Name:      b.Name,
		Status:    StatusPending,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	result, err := s.coll.InsertOne(ctx, req)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrAlreadyRequested
		}
		return nil, fmt.Errorf("failed to insert premium request: %w", err)
	}
	req.ID = result.InsertedID.(bson.ObjectID)
	return req, nil
}

// ListOutstanding returns pending and approving requests, oldest first.
func (s *PremiumRequestsStore) ListOutstanding(ctx context.Context) ([]*PremiumRequest, error) {
	cursor, err := s.coll.Find(ctx,
		bson.D{{Key: "active", Value: true}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query premium requests: %w", err)
	}
	defer cursor.Close(ctx)

	items := []*PremiumRequest{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode premium requests: %w", err)
	}
	return items, nil
}

// Outstanding returns the active request for email.
func (s *PremiumRequestsStore) Outstanding(ctx context.Context, email string) (*PremiumRequest, error) {
	return s.findOne(ctx, bson.D{
		{Key: "email", Value: normalize.Email(email)},
		{Key: "active", Value: true},
	}, nil)
}

// LatestApproved returns the most recently approved request for email.
func (s *PremiumRequestsStore) LatestApproved(ctx context.Context, email string) (*PremiumRequest, error) {
	return s.findOne(ctx, bson.D{
		{Key: "email", Value: normalize.Email(email)},
		{Key: "status", Value: StatusApproved},
	}, options.FindOne().SetSort(bson.D{{Key: "approvedAt", Value: -1}}))
}

func (s *PremiumRequestsStore) findOne(ctx context.Context, filter bson.D, opts *options.FindOneOptionsBuilder) (*PremiumRequest, error) {
	if opts == nil {
		opts = options.FindOne()
	}
	var req PremiumRequest
	if err := s.coll.FindOne(ctx, filter, opts).Decode(&req); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find premium request: %w", err)
	}
	return &req, nil
}

// MarkApproving moves the active request for email from pending to
// approving. A request already approving is left as is.
func (s *PremiumRequestsStore) MarkApproving(ctx context.Context, email string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.D{
			{Key: "email", Value: normalize.Email(email)},
			{Key: "active", Value: true},
			{Key: "status", Value: StatusPending},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: StatusApproving}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark premium request approving: %w", err)
	}
	return nil
}

// Finish closes the active request for email as approved.
func (s *PremiumRequestsStore) Finish(ctx context.Context, email string, at time.Time) (*PremiumRequest, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var req PremiumRequest
	err := s.coll.FindOneAndUpdate(ctx,
		bson.D{
			{Key: "email", Value: normalize.Email(email)},
			{Key: "active", Value: true},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: StatusApproved},
			{Key: "active", Value: false},
			{Key: "approvedAt", Value: at},
		}}},
		opts,
	).Decode(&req)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to finish premium request: %w", err)
	}
	return &req, nil
}
