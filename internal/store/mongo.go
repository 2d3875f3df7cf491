package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names shared with the blog application.
const (
	MessagesCollection = "messages"
	PostsCollection    = "blogs"
)

// MongoStore is a Store backed by the platform's MongoDB database.
type MongoStore struct {
	client   *mongo.Client
	messages *mongo.Collection
	posts    *mongo.Collection
	logger   *slog.Logger
	now      func() time.Time
}

// OpenMongo connects to uri, pings the primary and returns a store on the
// named database.
func OpenMongo(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if uri == "" {
		return nil, errors.New("store: MONGO_URI not set")
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("store: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("store: ping mongo: %w", err)
	}

	db := client.Database(database)
	logger.Info("mongo_connected", "database", database)
	return &MongoStore{
		client:   client,
		messages: db.Collection(MessagesCollection),
		posts:    db.Collection(PostsCollection),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// CreateMessage validates and inserts m.
func (s *MongoStore) CreateMessage(ctx context.Context, m *Message) error {
	if err := m.Prepare(s.now()); err != nil {
		return err
	}
	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return nil
}

// FindMessage loads a message by hex id.
func (s *MongoStore) FindMessage(ctx context.Context, id string) (*Message, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	var m Message
	err = s.messages.FindOne(ctx, bson.M{"_id": oid}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: find message %s: %w", id, err)
	}
	return &m, nil
}

// UpdateMessage replaces the stored document of m.
func (s *MongoStore) UpdateMessage(ctx context.Context, m *Message) error {
	res, err := s.messages.ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("store: replace message %s: %w", m.ID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: message %s", ErrNotFound, m.ID.Hex())
	}
	return nil
}

// ListMessages returns up to limit of the most recent messages of a room in
// chronological order.
func (s *MongoStore) ListMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.messages.Find(ctx, bson.M{"conversationId": roomID}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list messages of %s: %w", roomID, err)
	}
	var out []Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode messages of %s: %w", roomID, err)
	}
	slices.Reverse(out)
	return out, nil
}

// LatestPosts returns up to limit published posts, newest first.
func (s *MongoStore) LatestPosts(ctx context.Context, limit int) ([]Post, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetProjection(bson.M{"title": 1, "slug": 1, "status": 1, "createdAt": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.posts.Find(ctx, bson.M{"status": PostPublished}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: find latest posts: %w", err)
	}
	var out []Post
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode posts: %w", err)
	}
	return out, nil
}
