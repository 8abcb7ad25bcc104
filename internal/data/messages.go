package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using the given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// SaveMessage inserts a message document and returns the saved record.
// Messages are created unread; the read flag flips only via MarkRead.
func (m *MessagesStore) SaveMessage(ctx context.Context, from, to bson.ObjectID, content string, sentAt time.Time) (*Message, error) {
	msg := &Message{
		FromID:    from,
		ToID:      to,
		Content:   content,
		Read:      false,
		SentAt:    sentAt,     // server-assigned timestamp, used for ordering
		CreatedAt: time.Now(), // when the document was actually written
	}

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, err
	}

	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// GetConversation returns recent messages between two users, oldest first.
func (m *MessagesStore) GetConversation(ctx context.Context, a, b bson.ObjectID, limit int64) ([]*Message, error) {
	// Sort newest-first and limit so the window covers the latest messages,
	// then reverse in memory to hand back chronological order.
	opts := options.Find().
		SetSort(bson.M{"sent_at": -1}).
		SetLimit(limit)

	filter := bson.M{
		"$or": bson.A{
			bson.M{"from_id": a, "to_id": b},
			bson.M{"from_id": b, "to_id": a},
		},
	}

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// MarkRead flips the read flag on every unread message from one sender to
// one recipient and returns how many documents were updated.
func (m *MessagesStore) MarkRead(ctx context.Context, to, from bson.ObjectID) (int64, error) {
	filter := bson.M{
		"from_id": from,
		"to_id":   to,
		"read":    false,
	}

	result, err := m.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// GetRecentChats aggregates recent partners with last message info and the
// number of messages the user has not read yet.
func (m *MessagesStore) GetRecentChats(ctx context.Context, userID bson.ObjectID, limit int64) ([]*ChatPartner, error) {
	pipeline := mongo.Pipeline{
		// Keep only messages where the user is sender or recipient.
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "from_id", Value: userID}},
				bson.D{{Key: "to_id", Value: userID}},
			}},
		}}},

		// Order within each conversation so $last picks the newest message.
		bson.D{{Key: "$sort", Value: bson.D{{Key: "sent_at", Value: 1}}}},

		// Group by conversation partner: if the user sent the message, the
		// partner is the recipient, otherwise the sender.
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "partner", Value: bson.D{
					{Key: "$cond", Value: bson.A{
						bson.D{{Key: "$eq", Value: bson.A{"$from_id", userID}}},
						"$to_id",
						"$from_id",
					}},
				}},
			}},
			{Key: "last_message", Value: bson.D{{Key: "$last", Value: "$content"}}},
			{Key: "last_message_at", Value: bson.D{{Key: "$last", Value: "$sent_at"}}},
			// Count inbound unread messages only.
			{Key: "unread", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$and", Value: bson.A{
						bson.D{{Key: "$eq", Value: bson.A{"$to_id", userID}}},
						bson.D{{Key: "$eq", Value: bson.A{"$read", false}}},
					}}},
					1,
					0,
				}},
			}}}},
		}}},

		// Most recently active conversation first.
		bson.D{{Key: "$sort", Value: bson.D{{Key: "last_message_at", Value: -1}}}},
		bson.D{{Key: "$limit", Value: limit}},
	}

	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID struct {
			Partner bson.ObjectID `bson:"partner"`
		} `bson:"_id"`
		LastMessage   string    `bson:"last_message"`
		LastMessageAt time.Time `bson:"last_message_at"`
		Unread        int64     `bson:"unread"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	partners := make([]*ChatPartner, 0, len(rows))
	for _, row := range rows {
		partners = append(partners, &ChatPartner{
			UserID:          row.ID.Partner,
			LastMessage:     row.LastMessage,
			LastMessageTime: row.LastMessageAt,
			UnreadCount:     row.Unread,
		})
	}

	return partners, nil
}
