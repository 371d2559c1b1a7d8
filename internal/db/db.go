// Package db manages the MongoDB connection, collections and indexes.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Collection names.
const (
	Biodatas        = "biodatas"
	Users           = "users"
	SuccessStories  = "successStories"
	ContactRequests = "contactRequests"
	PremiumRequests = "premiumRequests"
	Counters        = "counters"
)

// ErrTransactionsDisabled is returned by WithTransaction when the client was
// opened without transaction support.
var ErrTransactionsDisabled = errors.New("transactions disabled")

// Options tunes a Client.
type Options struct {
	Database string
	// Transactions enables WithTransaction. The deployment must be a replica
	// set or sharded cluster.
	Transactions bool
}

// Client wraps mongo.Client and exposes collections. It is created once at
// startup and handed to the stores; Close must be called at shutdown.
type Client struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
}

// New connects to MongoDB and returns a Client.
func New(ctx context.Context, mongoURI string, o Options) (*Client, error) {
	if o.Database == "" {
		o.Database = "biodataDB"
	}

	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client:       client,
		db:           client.Database(o.Database),
		transactions: o.Transactions,
	}, nil
}

// Collection returns the named collection.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Ping checks that the primary is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Drop removes the whole database. Only used by integration tests.
func (c *Client) Drop(ctx context.Context) error {
	return c.db.Drop(ctx)
}

// TransactionsEnabled reports whether WithTransaction may be used.
func (c *Client) TransactionsEnabled() bool {
	return c.transactions
}

// WithTransaction runs fn inside a multi-document transaction. fn must use
// the context it is given for every operation so they join the session.
// The driver retries fn on transient transaction errors.
func (c *Client) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !c.transactions {
		return ErrTransactionsDisabled
	}

	sess, err := c.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// CreateIndexes creates the indexes the stores rely on for uniqueness and
// lookups. It is idempotent.
func (c *Client) CreateIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		Users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		Biodatas: {
			{Keys: bson.D{{Key: "biodataId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "contactEmail", Value: 1}}, Options: options.Index().SetUnique(true)},
			// listing filters: type + division + age
			{Keys: bson.D{{Key: "biodataType", Value: 1}, {Key: "presentDivision", Value: 1}, {Key: "age", Value: 1}}},
			{Keys: bson.D{{Key: "isPremium", Value: 1}, {Key: "age", Value: 1}}},
		},
		SuccessStories: {
			{Keys: bson.D{{Key: "storyId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "marriageDate", Value: -1}}},
		},
		ContactRequests: {
			{Keys: bson.D{{Key: "requesterEmail", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "transactionId", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		PremiumRequests: {
			// one outstanding request per user; approved requests drop out of the index
			{
				Keys: bson.D{{Key: "email", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName("email_active_unique").
					SetPartialFilterExpression(bson.D{{Key: "active", Value: true}}),
			},
		},
	}

	for _, name := range []string{Users, Biodatas, SuccessStories, ContactRequests, PremiumRequests} {
		if _, err := c.Collection(name).Indexes().CreateMany(ctx, indexes[name]); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", name, err)
		}
	}
	return nil
}
