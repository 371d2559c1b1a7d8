package data

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Sequence names in the counters collection.
const (
	SeqBiodata = "biodataId"
	SeqStory   = "storyId"
)

// CountersStore hands out sequential ids from the counters collection.
type CountersStore struct {
	coll *mongo.Collection
}

// NewCountersStore returns a CountersStore using the provided collection.
func NewCountersStore(coll *mongo.Collection) *CountersStore {
	return &CountersStore{coll: coll}
}

// Next atomically increments and returns the named sequence, creating it at
// 1 on first use. Concurrent callers always receive distinct values.
func (c *CountersStore) Next(ctx context.Context, name string) (int, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc struct {
		Seq int `bson:"seq"`
	}
	err := c.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: name}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: 1}}}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	return doc.Seq, nil
}

// Seed raises the named sequence to at least floor. It is used at startup so
// collections populated before the counter existed keep unique ids.
func (c *CountersStore) Seed(ctx context.Context, name string, floor int) error {
	_, err := c.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: name}},
		bson.D{{Key: "$max", Value: bson.D{{Key: "seq", Value: floor}}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to seed sequence %s: %w", name, err)
	}
	return nil
}
