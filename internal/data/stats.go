package data

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// StatsReader computes dashboard counters from the stores.
type StatsReader struct {
	biodatas *BiodatasStore
	stories  *StoriesStore
	contacts *ContactsStore
}

// NewStatsReader returns a StatsReader over the given stores.
func NewStatsReader(biodatas *BiodatasStore, stories *StoriesStore, contacts *ContactsStore) *StatsReader {
	return &StatsReader{biodatas: biodatas, stories: stories, contacts: contacts}
}

// Public returns the totals shown to every visitor.
func (r *StatsReader) Public(ctx context.Context) (*PublicStats, error) {
	total, err := r.biodatas.Count(ctx, nil)
	if err != nil {
		return nil, err
	}
	male, err := r.biodatas.Count(ctx, bson.D{{Key: "biodataType", Value: TypeMale}})
	if err != nil {
		return nil, err
	}
	female, err := r.biodatas.Count(ctx, bson.D{{Key: "biodataType", Value: TypeFemale}})
	if err != nil {
		return nil, err
	}
	marriages, err := r.stories.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &PublicStats{
		TotalBiodatas:  total,
		MaleBiodatas:   male,
		FemaleBiodatas: female,
		MarriagesDone:  marriages,
	}, nil
}

// Admin extends Public with premium and contact request revenue figures.
func (r *StatsReader) Admin(ctx context.Context) (*AdminStats, error) {
	pub, err := r.Public(ctx)
	if err != nil {
		return nil, err
	}
	premium, err := r.biodatas.Count(ctx, bson.D{{Key: "isPremium", Value: true}})
	if err != nil {
		return nil, err
	}
	totals, err := r.contacts.Totals(ctx)
	if err != nil {
		return nil, err
	}
	return &AdminStats{
		PublicStats:      *pub,
		PremiumBiodatas:  premium,
		ContactRequests:  totals.Requests,
		ApprovedContacts: totals.Approved,
		RevenueMinor:     totals.Revenue,
	}, nil
}
