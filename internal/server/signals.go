package server

import (
	"errors"

	"github.com/Tyrowin/blogchat/internal/store"
)

// typing tells the rest of the room that c is typing. Nothing is stored;
// clients expire the indicator themselves.
func (h *Hub) typing(c *Client, p typingPayload) {
	room, err := ParseRoomID(p.RoomID)
	if err != nil {
		c.logger.Debug("dropping typing signal without room")
		return
	}
	h.emitRoom(room, EventTyping, typingPayload{RoomID: room.String(), UserID: c.UserID()}, c)
}

// addReaction records the reaction when it refers to a stored message and
// always broadcasts the event as received, so reactions on fallback
// messages still reach the room.
func (h *Hub) addReaction(c *Client, p reactionPayload) {
	room, err := ParseRoomID(p.RoomID)
	if err != nil {
		c.logger.Debug("dropping reaction without room")
		return
	}
	p.RoomID = room.String()
	p.UserID = c.UserID()

	if p.Emoji == "" {
		c.logger.Debug("reaction without emoji; not persisting", "message", p.MessageID)
	} else {
		h.recordReaction(c, p)
	}
	h.emitRoom(room, EventReactionUpdate, p, nil)
}

func (h *Hub) recordReaction(c *Client, p reactionPayload) {
	if h.messages == nil {
		return
	}
	if !store.ValidID(p.MessageID) {
		c.logger.Debug("reaction on unstored message id; not persisting", "message", p.MessageID)
		return
	}

	m, err := h.messages.FindMessage(h.ctx, p.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		c.logger.Debug("reaction on unknown message; not persisting", "message", p.MessageID)
		return
	}
	if err != nil {
		c.logger.Warn("loading message for reaction failed", "message", p.MessageID, "error", err)
		return
	}

	m.AddReaction(p.Emoji, p.UserID)
	if err := h.messages.UpdateMessage(h.ctx, m); err != nil {
		c.logger.Warn("saving reaction failed", "message", p.MessageID, "error", err)
	}
}
