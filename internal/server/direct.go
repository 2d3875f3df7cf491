package server

// Direct events go to one user's current connection. The hub keeps no call
// state: peers move Idle -> Ringing on call:signal, Ringing -> Active on
// call:accept and back to Idle on call:decline, hangup or transport close,
// all tracked client side. Signal payloads are forwarded untouched.

func (h *Hub) notify(c *Client, p notificationIn) {
	h.direct(c, EventNotificationSend, p.TargetUserID, EventNotificationRecv,
		notificationOut{From: c.UserID(), Data: p.Data})
}

func (h *Hub) call(c *Client, event string, p callIn) {
	var out any
	switch event {
	case EventCallSignal:
		out = callSignalOut{From: c.UserID(), Signal: p.Signal, Video: p.Video}
	case EventCallAccept:
		out = callAcceptOut{From: c.UserID(), Signal: p.Signal}
	case EventCallDecline:
		out = callDeclineOut{From: c.UserID()}
	default:
		return
	}
	h.direct(c, event, p.TargetUserID, event, out)
}

// direct delivers an event to target's current connection. An offline
// target means the event is dropped without telling the sender.
func (h *Hub) direct(from *Client, inbound, targetID, outbound string, data any) bool {
	target, ok := h.registry.Lookup(targetID)
	if !ok || targetID == "" {
		h.metrics.directDropped(inbound)
		from.logger.Debug("target offline; dropping direct event", "event", inbound, "target", targetID)
		return false
	}
	if !h.emitTo(target, outbound, data) {
		h.metrics.directDropped(inbound)
		return false
	}
	return true
}
