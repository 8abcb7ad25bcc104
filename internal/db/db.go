// Package db manages MongoDB connections and collections.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Client wraps mongo.Client and exposes the application's collections.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB, pings it, and returns a Client.
func New(ctx context.Context, mongoURI string) (*Client, error) {
	// Fail fast if MongoDB is unreachable rather than hanging at startup.
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Connect is lazy; the ping is the actual connection test.
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database("chat_app"),
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection("users")
}

// MessagesCollection returns the messages collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection("messages")
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the stores rely on.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// Unique index on username: duplicate registration fails at the DB
	// level, which CreateUser surfaces as ErrUserExists.
	usersIndexModel := mongo.IndexModel{
		Keys:    map[string]int{"username": 1},
		Options: options.Index().SetUnique(true),
	}

	if _, err := c.UsersCollection().Indexes().CreateOne(ctx, usersIndexModel); err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}

	messageIndexes := []mongo.IndexModel{
		{
			// Conversation lookups: (from_id, to_id) pairs ordered by time.
			Keys: map[string]int{"from_id": 1, "to_id": 1, "sent_at": -1},
		},
		{
			// Recent-chats aggregation sorts on sent_at.
			Keys: map[string]int{"sent_at": -1},
		},
		{
			// Mark-read updates and unread counts filter on recipient + flag.
			Keys: map[string]int{"to_id": 1, "read": 1},
		},
	}

	if _, err := c.MessagesCollection().Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	return nil
}
