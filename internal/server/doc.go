// Package server implements the realtime hub of the blog platform: an
// authenticated WebSocket endpoint with presence, room-scoped chat that is
// persisted when possible and delivered regardless, typing and reaction
// signals, direct notifications, call signaling relay and the site
// assistant's room.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, the per-event handlers, routing, and HTTP
// handlers.
package server
