// Package store holds the persisted chat records and the read side of blog
// posts, with a MongoDB backend for production and an embedded Pebble
// backend for development and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidMessage is returned when a message fails validation.
	ErrInvalidMessage = errors.New("store: invalid message")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Kind is the message content type.
type Kind string

// Message kinds.
const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindFile   Kind = "file"
	KindSystem Kind = "system"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindSystem:
		return true
	}
	return false
}

// BotSenderID is the sentinel sender of messages written by the site
// assistant.
const BotSenderID = "bot"

// Message is a persisted chat message.
type Message struct {
	ID        primitive.ObjectID  `json:"id" bson:"_id"`
	RoomID    string              `json:"roomId" bson:"conversationId"`
	SenderID  string              `json:"senderId" bson:"senderId"`
	Content   string              `json:"content" bson:"content"`
	Kind      Kind                `json:"type" bson:"type"`
	ReplyTo   string              `json:"replyTo,omitempty" bson:"replyToMessageId,omitempty"`
	Reactions map[string][]string `json:"reactions,omitempty" bson:"reactions,omitempty"`
	Delivered bool                `json:"delivered" bson:"delivered"`
	Read      bool                `json:"read" bson:"read"`
	CreatedAt time.Time           `json:"createdAt" bson:"createdAt"`
}

// Prepare validates m and fills the id, kind and timestamp defaults before
// the first write.
func (m *Message) Prepare(now time.Time) error {
	if strings.TrimSpace(m.RoomID) == "" {
		return fmt.Errorf("%w: empty room", ErrInvalidMessage)
	}
	if m.SenderID == "" {
		return fmt.Errorf("%w: empty sender", ErrInvalidMessage)
	}
	if m.Kind == "" {
		m.Kind = KindText
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Kind)
	}
	if m.ReplyTo != "" && !ValidID(m.ReplyTo) {
		return fmt.Errorf("%w: malformed reply reference %q", ErrInvalidMessage, m.ReplyTo)
	}
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now.UTC()
	}
	return nil
}

// AddReaction appends userID to the emoji's reactor list, creating the
// bucket if needed. The same user may appear more than once in a bucket.
func (m *Message) AddReaction(emoji, userID string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], userID)
}

// ValidID reports whether id is a structurally valid persisted record id.
func ValidID(id string) bool {
	return primitive.IsValidObjectID(id)
}

// ParseID converts a hex id into an ObjectID.
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return oid, nil
}

// PostStatus is the publication state of a blog post.
type PostStatus string

// Post statuses.
const (
	PostDraft     PostStatus = "draft"
	PostPublished PostStatus = "published"
	PostScheduled PostStatus = "scheduled"
)

// Post is the slice of a blog post the hub reads.
type Post struct {
	ID        primitive.ObjectID `json:"id" bson:"_id"`
	Title     string             `json:"title" bson:"title"`
	Slug      string             `json:"slug,omitempty" bson:"slug,omitempty"`
	Status    PostStatus         `json:"status" bson:"status"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}

// MessageStore persists chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *Message) error
	FindMessage(ctx context.Context, id string) (*Message, error)
	UpdateMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, roomID string, limit int) ([]Message, error)
}

// PostReader reads published blog posts.
type PostReader interface {
	LatestPosts(ctx context.Context, limit int) ([]Post, error)
}

// Store is a backend that serves both messages and posts.
type Store interface {
	MessageStore
	PostReader
	Close() error
}

var (
	_ Store = (*PebbleStore)(nil)
	_ Store = (*MongoStore)(nil)
)
