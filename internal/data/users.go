// Package data provides DB models and stores.
package data

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Jishnu-21/chat-app/internal/normalize"
)

var (
	// ErrUserExists is returned when registration hits the unique username index.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when a lookup matches no user document.
	ErrUserNotFound = errors.New("user not found")
)

// UsersStore performs user DB operations.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document with an already-hashed password.
// New users start offline; they show up online only once they connect.
func (u *UsersStore) CreateUser(ctx context.Context, username, hashedPassword string) (*User, error) {
	now := time.Now()
	user := &User{
		Username:  normalize.Username(username),
		Password:  hashedPassword,
		Status:    StatusOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		// Unique index on username: duplicate key means the name is taken.
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	// MongoDB auto-generates the _id; extract it so callers can mint a token.
	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetUserByUsername finds a user by normalized username.
func (u *UsersStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"username": normalize.Username(username)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID finds a user by ObjectID.
func (u *UsersStore) GetUserByID(ctx context.Context, id bson.ObjectID) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UserExists reports whether a user document with the given id exists.
// CountDocuments is cheaper than FindOne when only existence matters.
func (u *UsersStore) UserExists(ctx context.Context, id bson.ObjectID) (bool, error) {
	count, err := u.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListUsers returns every user except the caller, sorted by username. The
// password hash is stripped so callers can serialize the result directly.
func (u *UsersStore) ListUsers(ctx context.Context, exclude bson.ObjectID) ([]*User, error) {
	opts := options.Find().
		SetSort(bson.M{"username": 1}).
		SetProjection(bson.M{"password": 0})

	cursor, err := u.coll.Find(ctx, bson.M{"_id": bson.M{"$ne": exclude}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateStatus records a presence transition on the user document. lastSeen
// is only written on the offline transition; the online transition leaves
// the previous value in place.
func (u *UsersStore) UpdateStatus(ctx context.Context, id bson.ObjectID, status string, lastSeen time.Time) error {
	set := bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}
	if status == StatusOffline {
		set["last_seen"] = lastSeen
	}

	result, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}
