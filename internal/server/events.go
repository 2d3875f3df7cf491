package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event names carried in the envelope. Typing and the call events use the
// same name in both directions.
const (
	EventJoin             = "join:conversation"
	EventMessageSend      = "message:send"
	EventMessageReceive   = "message:receive"
	EventTyping           = "typing"
	EventReactionAdd      = "reaction:add"
	EventReactionUpdate   = "reaction:update"
	EventNotificationSend = "notification:send"
	EventNotificationRecv = "notification:receive"
	EventCallSignal       = "call:signal"
	EventCallAccept       = "call:accept"
	EventCallDecline      = "call:decline"
	EventChatbotMessage   = "chatbot:message"
	EventPresenceUpdate   = "presence:update"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinPayload struct {
	RoomID string `json:"roomId"`
}

// UnmarshalJSON also accepts a bare room id string.
func (p *joinPayload) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		p.RoomID = id
		return nil
	}
	type plain joinPayload
	return json.Unmarshal(b, (*plain)(p))
}

type sendPayload struct {
	Content string `json:"content"`
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	ReplyTo string `json:"replyTo,omitempty"`
}

type typingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type reactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
	RoomID    string `json:"roomId"`
}

type notificationIn struct {
	TargetUserID string          `json:"targetUserId"`
	Data         json.RawMessage `json:"data"`
}

type notificationOut struct {
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

type callIn struct {
	TargetUserID string          `json:"targetUserId"`
	Signal       json.RawMessage `json:"signal,omitempty"`
	Video        bool            `json:"video,omitempty"`
}

type callSignalOut struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
	Video  bool            `json:"video"`
}

type callAcceptOut struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

type callDeclineOut struct {
	From string `json:"from"`
}

type chatbotPayload struct {
	Content string `json:"content"`
}

// PresenceUpdate is broadcast to every connection when a user connects or
// their last connection goes away.
type PresenceUpdate struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

var errMissingData = errors.New("missing event data")

func decodeData[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, errMissingData
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}

func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// peekEvent returns the event name of a raw frame, or "" when the frame is
// not an envelope.
func peekEvent(raw []byte) string {
	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return head.Event
}

// isSignalEvent reports whether event is ephemeral relay traffic, which is
// rate limited apart from chat traffic.
func isSignalEvent(event string) bool {
	switch event {
	case EventTyping, EventCallSignal, EventCallAccept, EventCallDecline:
		return true
	}
	return false
}

// dispatch decodes one inbound frame and routes it to its handler.
// Malformed frames and unknown events are logged and dropped.
func (h *Hub) dispatch(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Debug("dropping malformed frame", "error", err)
		return
	}

	var err error
	switch env.Event {
	case EventJoin:
		var p joinPayload
		if p, err = decodeData[joinPayload](env.Data); err == nil {
			h.join(c, p)
		}
	case EventMessageSend:
		var p sendPayload
		if p, err = decodeData[sendPayload](env.Data); err == nil {
			h.send(c, p)
		}
	case EventTyping:
		var p typingPayload
		if p, err = decodeData[typingPayload](env.Data); err == nil {
			h.typing(c, p)
		}
	case EventReactionAdd:
		var p reactionPayload
		if p, err = decodeData[reactionPayload](env.Data); err == nil {
			h.addReaction(c, p)
		}
	case EventNotificationSend:
		var p notificationIn
		if p, err = decodeData[notificationIn](env.Data); err == nil {
			h.notify(c, p)
		}
	case EventCallSignal, EventCallAccept, EventCallDecline:
		var p callIn
		if p, err = decodeData[callIn](env.Data); err == nil {
			h.call(c, env.Event, p)
		}
	case EventChatbotMessage:
		var p chatbotPayload
		if p, err = decodeData[chatbotPayload](env.Data); err == nil {
			h.askBot(c, p.Content)
		}
	default:
		h.metrics.eventReceived("unknown")
		c.logger.Debug("dropping unknown event", "event", env.Event)
		return
	}

	if err != nil {
		c.logger.Debug("dropping event with malformed payload", "event", env.Event, "error", err)
		return
	}
	h.metrics.eventReceived(env.Event)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
