// Package data provides DB models and stores.
package data

import (
	"context" // Used for cancellation and timeouts
	"errors"  // Error handling
	"fmt"
	"time" // Timestamps

	"github.com/PaulBabatuyi/biodata-api/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"  // MongoDB document queries
	"go.mongodb.org/mongo-driver/v2/mongo" // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UsersStore performs user DB operations.
type UsersStore struct {
	// coll is reference to "users" collection in MongoDB
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// EnsureUser creates the user on first contact and returns the stored
// document either way. created reports whether this call inserted it.
// Repeated or concurrent calls for the same email leave exactly one record.
func (u *UsersStore) EnsureUser(ctx context.Context, nu NewUser) (user *User, created bool, err error) {
	email := normalize.Email(nu.Email)
	if email == "" {
		return nil, false, &FieldError{Field: "email", Reason: "required"}
	}

	// $setOnInsert only writes on the upsert path, so an existing user keeps
	// its role, favourites and premium flag untouched
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "email", Value: email},
		{Key: "name", Value: nu.Name},
		{Key: "photoURL", Value: nu.PhotoURL},
		{Key: "role", Value: RoleUser},
		{Key: "isPremiumMember", Value: false},
		{Key: "favourites", Value: bson.A{}},
		{Key: "createdAt", Value: time.Now().UTC()},
	}}}
	opts := options.UpdateOne().SetUpsert(true)

	res, err := u.coll.UpdateOne(ctx, bson.D{{Key: "email", Value: email}}, update, opts)
	if err != nil {
		// Two concurrent upserts can race on the unique email index; the loser
		// sees a duplicate key error and the record the winner wrote.
		if !mongo.IsDuplicateKeyError(err) {
			return nil, false, fmt.Errorf("failed to upsert user: %w", err)
		}
		res = &mongo.UpdateResult{}
	}

	user, err = u.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, false, err
	}
	return user, res.UpsertedCount > 0, nil
}

// GetUserByEmail finds a user by email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User

	err := u.coll.FindOne(ctx, bson.D{{Key: "email", Value: normalize.Email(email)}}).Decode(&user)
	if err != nil {
		// No document found (user never signed in)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	// legacy documents may lack the array entirely
	if user.Favourites == nil {
		user.Favourites = []int{}
	}
	if user.Role == "" {
		user.Role = RoleUser
	}
	return &user, nil
}

// RoleOf returns the stored role of email.
func (u *UsersStore) RoleOf(ctx context.Context, email string) (Role, error) {
	user, err := u.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return user.Role, nil
}

// AddFavourite adds biodataID to the user's favourites. Adding an id that is
// already present is a no-op.
func (u *UsersStore) AddFavourite(ctx context.Context, email string, biodataID int) error {
	return u.update(ctx, email, bson.D{
		{Key: "$addToSet", Value: bson.D{{Key: "favourites", Value: biodataID}}},
	})
}

// RemoveFavourite removes biodataID from the user's favourites. Removing an
// absent id is a no-op.
func (u *UsersStore) RemoveFavourite(ctx context.Context, email string, biodataID int) error {
	return u.update(ctx, email, bson.D{
		{Key: "$pull", Value: bson.D{{Key: "favourites", Value: biodataID}}},
	})
}

// SetRole assigns role to the user.
func (u *UsersStore) SetRole(ctx context.Context, email string, role Role) error {
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	return u.update(ctx, email, bson.D{
		{Key: "$set", Value: bson.D{{Key: "role", Value: role}}},
	})
}

// MarkPremiumRequested moves a plain user to PremiumRequested. Admins keep
// their role.
func (u *UsersStore) MarkPremiumRequested(ctx context.Context, email string) error {
	_, err := u.coll.UpdateOne(ctx,
		bson.D{
			{Key: "email", Value: normalize.Email(email)},
			{Key: "role", Value: bson.D{{Key: "$ne", Value: RoleAdmin}}},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "role", Value: RolePremiumRequested}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark premium requested: %w", err)
	}
	return nil
}

// SetPremiumMember grants premium membership. A PremiumRequested role falls
// back to User once granted.
func (u *UsersStore) SetPremiumMember(ctx context.Context, email string) error {
	email = normalize.Email(email)
	if err := u.update(ctx, email, bson.D{
		{Key: "$set", Value: bson.D{{Key: "isPremiumMember", Value: true}}},
	}); err != nil {
		return err
	}
	_, err := u.coll.UpdateOne(ctx,
		bson.D{{Key: "email", Value: email}, {Key: "role", Value: RolePremiumRequested}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "role", Value: RoleUser}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to reset role: %w", err)
	}
	return nil
}

// List returns users ordered by email. A non-empty pattern (already regex
// escaped) restricts the result to names or emails containing it.
func (u *UsersStore) List(ctx context.Context, pattern string) ([]*User, error) {
	filter := bson.D{}
	if pattern != "" {
		re := bson.Regex{Pattern: pattern, Options: "i"}
		filter = bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "name", Value: re}},
			bson.D{{Key: "email", Value: re}},
		}}}
	}

	cursor, err := u.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "email", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer cursor.Close(ctx)

	users := []*User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

// CountPremiumMembers returns how many users hold premium membership.
func (u *UsersStore) CountPremiumMembers(ctx context.Context) (int64, error) {
	n, err := u.coll.CountDocuments(ctx, bson.D{{Key: "isPremiumMember", Value: true}})
	if err != nil {
		return 0, fmt.Errorf("failed to count premium members: %w", err)
	}
	return n, nil
}

func (u *UsersStore) update(ctx context.Context, email string, update bson.D) error {
	res, err := u.coll.UpdateOne(ctx, bson.D{{Key: "email", Value: normalize.Email(email)}}, update)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
