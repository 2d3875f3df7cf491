package server

import (
	"errors"
	"time"

	"github.com/Tyrowin/blogchat/internal/store"
	"github.com/google/uuid"
)

// Persist sources, used as the metrics label.
const (
	sourceRelay   = "relay"
	sourceBot     = "bot"
	sourceWelcome = "welcome"
)

var errNoStore = errors.New("no message store configured")

// FallbackMessage is delivered in place of a stored record when the write
// fails. Its id is a UUID, so it can never be mistaken for a stored id.
type FallbackMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Kind      string    `json:"type"`
	ReplyTo   string    `json:"replyTo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Fallback  bool      `json:"fallback"`
}

func newFallback(draft store.Message, now time.Time) *FallbackMessage {
	kind := draft.Kind
	if kind == "" {
		kind = store.KindText
	}
	return &FallbackMessage{
		ID:        uuid.NewString(),
		RoomID:    draft.RoomID,
		SenderID:  draft.SenderID,
		Content:   draft.Content,
		Kind:      string(kind),
		ReplyTo:   draft.ReplyTo,
		CreatedAt: now.UTC(),
		Fallback:  true,
	}
}

// outcome is the result of one persist attempt: exactly one of record and
// fallback is set.
type outcome struct {
	record   *store.Message
	fallback *FallbackMessage
}

func (o outcome) persisted() bool { return o.record != nil }

func (o outcome) payload() any {
	if o.persisted() {
		return o.record
	}
	return o.fallback
}

// persist writes draft and reports what should be delivered instead.
// Store calls run under the hub context, so a sender disconnecting does not
// abort its in-flight write.
func (h *Hub) persist(draft store.Message, source string) outcome {
	m := draft
	err := errNoStore
	if h.messages != nil {
		err = h.messages.CreateMessage(h.ctx, &m)
	}
	if err != nil {
		h.logger.Warn("persisting message failed; delivering fallback",
			"source", source,
			"room", draft.RoomID,
			"sender", draft.SenderID,
			"error", err)
		h.metrics.fellBack(source)
		return outcome{fallback: newFallback(draft, h.now())}
	}
	h.metrics.stored(source)
	return outcome{record: &m}
}

// deliverOutcome broadcasts the stored record or its fallback to every
// member of room.
func (h *Hub) deliverOutcome(room RoomID, o outcome) {
	h.emitRoom(room, EventMessageReceive, o.payload(), nil)
}

// send relays a chat message to its room, sender included. Messages to the
// bot room are then answered by the assistant.
func (h *Hub) send(c *Client, p sendPayload) {
	room, err := ParseRoomID(p.RoomID)
	if err != nil {
		c.logger.Debug("dropping message without room")
		return
	}

	draft := store.Message{
		RoomID:   room.String(),
		SenderID: c.UserID(),
		Content:  p.Content,
		Kind:     store.Kind(p.Type),
		ReplyTo:  p.ReplyTo,
	}
	h.deliverOutcome(room, h.persist(draft, sourceRelay))

	switch room.Kind() {
	case RoomBot:
		h.askBot(c, p.Content)
	case RoomUser:
	}
}
