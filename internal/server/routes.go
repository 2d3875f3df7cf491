package server

import (
	"net/http"

	"github.com/Tyrowin/blogchat/internal/auth"
	"github.com/Tyrowin/blogchat/internal/store"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// The REST endpoints share the WebSocket handshake's token verifier.
func SetupRoutes(hub *Hub, verifier auth.TokenVerifier, messages store.MessageStore, allowedOrigins []string) *http.ServeMux {
	requireAuth := auth.Middleware(verifier)

	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.Handle("/ws", WebSocketHandler(hub, verifier, allowedOrigins))
	mux.Handle("/test", TestPageHandler(hub.logger))
	mux.Handle("GET /api/presence", requireAuth(PresenceHandler(hub)))
	mux.Handle("GET /api/messages/{roomId}", requireAuth(MessagesHandler(messages, hub.logger)))
	mux.Handle("GET /metrics", hub.MetricsHandler())
	return mux
}
