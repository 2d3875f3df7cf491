package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Key layout:
//
//	msg:<id>                          -> message JSON
//	room:<roomID>\x00<unixnano>:<id>  -> id (room history index)
//	post:<unixnano>:<id>              -> post JSON
const (
	messagePrefix = "msg:"
	roomPrefix    = "room:"
	postPrefix    = "post:"
)

// PebbleStore is an embedded Store backed by a Pebble database.
type PebbleStore struct {
	mu     sync.RWMutex
	db     *pebble.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenPebble opens (or creates) a Pebble database at path.
func OpenPebble(path string, logger *slog.Logger) (*PebbleStore, error) {
	return openPebble(path, &pebble.Options{}, logger)
}

// OpenPebbleInMemory opens a Pebble database on an in-memory filesystem.
func OpenPebbleInMemory(logger *slog.Logger) (*PebbleStore, error) {
	return openPebble("", &pebble.Options{FS: vfs.NewMem()}, logger)
}

func openPebble(path string, opts *pebble.Options, logger *slog.Logger) (*PebbleStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("store: open pebble at %q: %w", path, err)
	}
	logger.Info("pebble_opened", "path", path)
	return &PebbleStore{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database. Further calls return ErrClosed.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// CreateMessage validates m, assigns its id and timestamp and writes it with
// its room index entry in one batch.
func (s *PebbleStore) CreateMessage(_ context.Context, m *Message) error {
	if err := m.Prepare(s.now()); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: marshal message: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}

	id := m.ID.Hex()
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(messageKey(id), data, nil); err != nil {
		return err
	}
	if err := b.Set(roomIndexKey(m.RoomID, m.CreatedAt, id), []byte(id), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		s.logger.Error("save_message_failed", "room", m.RoomID, "msg_id", id, "error", err)
		return fmt.Errorf("store: commit message: %w", err)
	}
	s.logger.Debug("message_saved", "room", m.RoomID, "msg_id", id)
	return nil
}

// FindMessage loads a message by hex id.
func (s *PebbleStore) FindMessage(_ context.Context, id string) (*Message, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.getMessage(id)
}

func (s *PebbleStore) getMessage(id string) (*Message, error) {
	v, closer, err := s.db.Get(messageKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get message %s: %w", id, err)
	}
	defer closer.Close()

	var m Message
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, fmt.Errorf("store: decode message %s: %w", id, err)
	}
	return &m, nil
}

// UpdateMessage overwrites an existing message record.
func (s *PebbleStore) UpdateMessage(_ context.Context, m *Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: marshal message: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}

	id := m.ID.Hex()
	if _, err := s.getMessage(id); err != nil {
		return err
	}
	if err := s.db.Set(messageKey(id), data, pebble.Sync); err != nil {
		return fmt.Errorf("store: update message %s: %w", id, err)
	}
	return nil
}

// ListMessages returns up to limit of the most recent messages of a room in
// chronological order. A non-positive limit returns the whole history.
func (s *PebbleStore) ListMessages(_ context.Context, roomID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	prefix := []byte(roomPrefix + roomID + "\x00")
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	// Room ids may contain the separator byte, so the prefix can also match
	// longer ids; records are checked against the requested room.
	var newest []Message
	for iter.Last(); iter.Valid(); iter.Prev() {
		m, err := s.getMessage(string(iter.Value()))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.RoomID != roomID {
			continue
		}
		newest = append(newest, *m)
		if limit > 0 && len(newest) == limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		out = append(out, newest[i])
	}
	return out, nil
}

// CreatePost writes a post. Posts are authored by the blog application;
// this exists to seed the embedded store.
func (s *PebbleStore) CreatePost(_ context.Context, p *Post) error {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if p.Status == "" {
		p.Status = PostDraft
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: marshal post: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	key := fmt.Sprintf("%s%020d:%s", postPrefix, p.CreatedAt.UnixNano(), p.ID.Hex())
	return s.db.Set([]byte(key), data, pebble.Sync)
}

// LatestPosts returns up to limit published posts, newest first.
func (s *PebbleStore) LatestPosts(_ context.Context, limit int) ([]Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	prefix := []byte(postPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Post
	for iter.Last(); iter.Valid(); iter.Prev() {
		var p Post
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			s.logger.Warn("skip_undecodable_post", "key", string(iter.Key()), "error", err)
			continue
		}
		if p.Status != PostPublished {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, iter.Error()
}

func messageKey(id string) []byte {
	return []byte(messagePrefix + id)
}

func roomIndexKey(roomID string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%020d:%s", roomPrefix, roomID, at.UnixNano(), id))
}

// prefixUpperBound returns the smallest key greater than every key that
// starts with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
