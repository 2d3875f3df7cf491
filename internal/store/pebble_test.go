package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Tyrowin/blogchat/internal/logging"
)

func openTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := OpenPebbleInMemory(logging.Discard())
	if err != nil {
		t.Fatalf("OpenPebbleInMemory() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestCreateAndFindMessage verifies that a created message gets a valid id,
// a timestamp and the default kind, and can be read back.
func TestCreateAndFindMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &Message{RoomID: "r1", SenderID: "u1", Content: "hi"}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if !ValidID(m.ID.Hex()) {
		t.Errorf("Expected valid id, got %q", m.ID.Hex())
	}
	if m.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
	if m.Kind != KindText {
		t.Errorf("Expected default kind text, got %q", m.Kind)
	}

	got, err := s.FindMessage(ctx, m.ID.Hex())
	if err != nil {
		t.Fatalf("FindMessage() error: %v", err)
	}
	if got.Content != "hi" || got.SenderID != "u1" || got.RoomID != "r1" {
		t.Errorf("Unexpected message: %+v", got)
	}
	if !got.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("Expected CreatedAt %v, got %v", m.CreatedAt, got.CreatedAt)
	}
}

func TestCreateMessageValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  Message
	}{
		{"empty room", Message{SenderID: "u1", Content: "x"}},
		{"empty sender", Message{RoomID: "r1", Content: "x"}},
		{"unknown kind", Message{RoomID: "r1", SenderID: "u1", Kind: "video"}},
		{"malformed reply", Message{RoomID: "r1", SenderID: "u1", ReplyTo: "12345"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.msg
			if err := s.CreateMessage(ctx, &m); !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("Expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

func TestFindMessageNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.FindMessage(ctx, "507f1f77bcf86cd799439011"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown id, got %v", err)
	}
	if _, err := s.FindMessage(ctx, "not-an-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for malformed id, got %v", err)
	}
}

// TestUpdateMessageReactions verifies that reaction buckets survive a
// load-append-update cycle and that duplicates are kept.
func TestUpdateMessageReactions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &Message{RoomID: "r1", SenderID: "u1", Content: "hi"}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	for _, user := range []string{"u2", "u2", "u3"} {
		loaded, err := s.FindMessage(ctx, m.ID.Hex())
		if err != nil {
			t.Fatalf("FindMessage() error: %v", err)
		}
		loaded.AddReaction("👍", user)
		if err := s.UpdateMessage(ctx, loaded); err != nil {
			t.Fatalf("UpdateMessage() error: %v", err)
		}
	}

	got, _ := s.FindMessage(ctx, m.ID.Hex())
	reactors := got.Reactions["👍"]
	if len(reactors) != 3 || reactors[0] != "u2" || reactors[1] != "u2" || reactors[2] != "u3" {
		t.Errorf("Unexpected reactors: %v", reactors)
	}
}

func TestUpdateMessageMissing(t *testing.T) {
	s := openTestStore(t)
	m := &Message{RoomID: "r1", SenderID: "u1"}
	_ = m.Prepare(time.Now())

	if err := s.UpdateMessage(context.Background(), m); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestListMessages verifies room scoping, chronological order and the
// most-recent limit.
func TestListMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		m := &Message{RoomID: "r1", SenderID: "u1", Content: fmt.Sprintf("m%d", i), CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage() error: %v", err)
		}
	}
	other := &Message{RoomID: "r10", SenderID: "u1", Content: "elsewhere"}
	if err := s.CreateMessage(ctx, other); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	all, err := s.ListMessages(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 messages in r1, got %d", len(all))
	}
	for i, m := range all {
		if want := fmt.Sprintf("m%d", i); m.Content != want {
			t.Errorf("Message %d: expected %q, got %q", i, want, m.Content)
		}
	}

	recent, _ := s.ListMessages(ctx, "r1", 2)
	if len(recent) != 2 || recent[0].Content != "m3" || recent[1].Content != "m4" {
		t.Errorf("Unexpected recent messages: %+v", recent)
	}
}

func TestListMessagesExactRoom(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hidden := &Message{RoomID: "a\x00secret", SenderID: "u1", Content: "private"}
	if err := s.CreateMessage(ctx, hidden); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	visible := &Message{RoomID: "a", SenderID: "u1", Content: "public"}
	if err := s.CreateMessage(ctx, visible); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	got, err := s.ListMessages(ctx, "a", 1)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(got) != 1 || got[0].Content != "public" {
		t.Errorf("Expected only the message of room a, got %+v", got)
	}

	got, _ = s.ListMessages(ctx, "a", 0)
	if len(got) != 1 {
		t.Errorf("Expected 1 message in room a, got %d", len(got))
	}
}

// TestLatestPosts verifies newest-first ordering, the published filter and
// the limit.
func TestLatestPosts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	posts, err := s.LatestPosts(ctx, 3)
	if err != nil {
		t.Fatalf("LatestPosts() error: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("Expected no posts, got %d", len(posts))
	}

	for i, status := range []PostStatus{PostPublished, PostPublished, PostDraft, PostPublished, PostPublished} {
		p := &Post{Title: fmt.Sprintf("p%d", i), Status: status, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.CreatePost(ctx, p); err != nil {
			t.Fatalf("CreatePost() error: %v", err)
		}
	}

	posts, err = s.LatestPosts(ctx, 3)
	if err != nil {
		t.Fatalf("LatestPosts() error: %v", err)
	}
	var titles []string
	for _, p := range posts {
		titles = append(titles, p.Title)
	}
	if fmt.Sprint(titles) != "[p4 p3 p1]" {
		t.Errorf("Expected [p4 p3 p1], got %v", titles)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := OpenPebbleInMemory(logging.Discard())
	if err != nil {
		t.Fatalf("OpenPebbleInMemory() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	m := &Message{RoomID: "r1", SenderID: "u1"}
	if err := s.CreateMessage(context.Background(), m); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close() returned error: %v", err)
	}
}
