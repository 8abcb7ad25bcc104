package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Presence states stored on the user document. The broadcast status is
// always derived from live connections; this field only feeds the user
// listing so offline users can show a last-seen time.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// User maps to the users collection (id, username, password hash, presence).
type User struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Username  string        `bson:"username"`
	Password  string        `bson:"password"`
	Status    string        `bson:"status"`
	LastSeen  time.Time     `bson:"last_seen,omitempty"` // meaningful only when offline
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

// Message maps to the messages collection (sender, recipient, content,
// read flag, sent_at). Messages are never edited or deleted; the only
// mutation is the bulk mark-read flip.
type Message struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	FromID    bson.ObjectID `bson:"from_id"`
	ToID      bson.ObjectID `bson:"to_id"`
	Content   string        `bson:"content"`
	Read      bool          `bson:"read"`
	SentAt    time.Time     `bson:"sent_at"`
	CreatedAt time.Time     `bson:"created_at"`
}

// ChatPartner is a minimal struct used by recent-chats responses.
type ChatPartner struct {
	UserID          bson.ObjectID
	LastMessage     string
	LastMessageTime time.Time
	UnreadCount     int64
}
