package server

import (
	"github.com/Tyrowin/blogchat/internal/bot"
	"github.com/Tyrowin/blogchat/internal/store"
)

func botMessage(text string) store.Message {
	return store.Message{
		RoomID:   BotRoomID,
		SenderID: store.BotSenderID,
		Content:  text,
		Kind:     store.KindText,
	}
}

// join adds c to a room. Joining the bot room greets everyone in it.
func (h *Hub) join(c *Client, p joinPayload) {
	room, err := ParseRoomID(p.RoomID)
	if err != nil {
		c.logger.Debug("dropping join without room")
		return
	}
	if !h.rooms.Join(c, room) {
		c.logger.Debug("ignoring join from closed client", "room", room.String())
		return
	}
	c.logger.Debug("joined room", "room", room.String())

	switch room.Kind() {
	case RoomBot:
		h.deliverOutcome(BotRoom, h.persist(botMessage(bot.Welcome), sourceWelcome))
	case RoomUser:
	}
}

// askBot answers text in the bot room. A responder failure is reported to
// the asking client alone.
func (h *Hub) askBot(c *Client, text string) {
	if h.bot == nil {
		c.logger.Debug("no responder configured; ignoring bot message")
		return
	}

	reply, err := h.bot.Respond(h.ctx, text)
	if err != nil {
		c.logger.Error("bot responder failed", "rule", reply.Rule, "error", err)
		h.emitTo(c, EventMessageReceive, newFallback(botMessage(bot.ErrorReply), h.now()))
		return
	}
	if reply.Text == "" {
		return
	}
	c.logger.Debug("bot replied", "rule", reply.Rule)
	h.deliverOutcome(BotRoom, h.persist(botMessage(reply.Text), sourceBot))
}
