package data

import (
	"context"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/biodata-api/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// StoriesStore performs success story DB operations.
type StoriesStore struct {
	coll     *mongo.Collection
	counters *CountersStore
}

// NewStoriesStore returns a StoriesStore using the provided collection.
func NewStoriesStore(coll *mongo.Collection, counters *CountersStore) *StoriesStore {
	return &StoriesStore{coll: coll, counters: counters}
}

// Validate checks a story submitted for creation.
func (s *SuccessStory) Validate() error {
	switch {
	case s.SelfBiodataID <= 0:
		return &FieldError{Field: "selfBiodataId", Reason: "required"}
	case s.PartnerBiodataID <= 0:
		return &FieldError{Field: "partnerBiodataId", Reason: "required"}
	case s.SelfBiodataID == s.PartnerBiodataID:
		return &FieldError{Field: "partnerBiodataId", Reason: "must differ from selfBiodataId"}
	case s.Rating < 1 || s.Rating > 5:
		return &FieldError{Field: "rating", Reason: "must be between 1 and 5"}
	case s.MarriageDate.IsZero():
		return &FieldError{Field: "marriageDate", Reason: "required"}
	}
	return nil
}

// Create inserts story authored by email with the next storyId.
func (s *StoriesStore) Create(ctx context.Context, email string, story *SuccessStory) (*SuccessStory, error) {
	if err := story.Validate(); err != nil {
		return nil, err
	}

	id, err := s.counters.Next(ctx, SeqStory)
	if err != nil {
		return nil, err
	}

	story.ID = bson.ObjectID{}
	story.StoryID = id
	story.CreatedBy = normalize.Email(email)
	story.CreatedAt = time.Now().UTC()

	result, err := s.coll.InsertOne(ctx, story)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert story: %w", err)
	}
	story.ID = result.InsertedID.(bson.ObjectID)
	return story, nil
}

// List returns every story in the given order.
func (s *StoriesStore) List(ctx context.Context, sortBy bson.D) ([]*SuccessStory, error) {
	if len(sortBy) == 0 {
		sortBy = bson.D{{Key: "marriageDate", Value: -1}}
	}
	cursor, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(sortBy))
	if err != nil {
		return nil, fmt.Errorf("failed to query stories: %w", err)
	}
	defer cursor.Close(ctx)

	stories := []*SuccessStory{}
	if err := cursor.All(ctx, &stories); err != nil {
		return nil, fmt.Errorf("failed to decode stories: %w", err)
	}
	return stories, nil
}

// Count returns the number of stories.
func (s *StoriesStore) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to count stories: %w", err)
	}
	return n, nil
}

// MaxStoryID returns the highest storyId in use, or 0.
func (s *StoriesStore) MaxStoryID(ctx context.Context) (int, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "storyId", Value: -1}}).
		SetProjection(bson.D{{Key: "storyId", Value: 1}})
	var story SuccessStory
	if err := s.coll.FindOne(ctx, bson.D{}, opts).Decode(&story); err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read max story id: %w", err)
	}
	return story.StoryID, nil
}
