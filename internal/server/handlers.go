package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Tyrowin/blogchat/internal/auth"
	"github.com/Tyrowin/blogchat/internal/store"
	"github.com/gorilla/websocket"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// WebSocketHandler authenticates the request, upgrades it to a WebSocket
// and hands the new client to the hub. Requests without a valid token are
// rejected with 401 before the upgrade, so nothing is registered for them.
func WebSocketHandler(hub *Hub, verifier auth.TokenVerifier, allowedOrigins []string) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newOriginPolicy(allowedOrigins, hub.logger).check,
	}

	upgrade := auth.Middleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := auth.IdentityFromContext(r.Context())

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(conn, hub, identity, r.RemoteAddr)
		if !hub.Register(client) {
			client.closeConnection()
		}
	}))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}
		upgrade.ServeHTTP(w, r)
	})
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Blogchat hub is running!")
}

// PresenceResponse lists the users that currently have a connection.
type PresenceResponse struct {
	Online []string `json:"online"`
	Count  int      `json:"count"`
}

// PresenceHandler reports the online users.
func PresenceHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		online := hub.Registry().Online()
		writeJSON(w, hub.logger, http.StatusOK, PresenceResponse{Online: online, Count: len(online)})
	}
}

// MessagesHandler returns the stored history of the room named in the path,
// oldest first. The optional limit query parameter keeps only the most
// recent messages.
func MessagesHandler(messages store.MessageStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := ParseRoomID(r.PathValue("roomId"))
		if err != nil {
			writeJSON(w, logger, http.StatusBadRequest, map[string]string{"error": "Invalid room id"})
			return
		}

		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSON(w, logger, http.StatusBadRequest, map[string]string{"error": "Invalid limit"})
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		list, err := messages.ListMessages(r.Context(), room.String(), limit)
		if err != nil {
			logger.Error("listing messages failed", "room", room.String(), "error", err)
			writeJSON(w, logger, http.StatusInternalServerError, map[string]string{"error": "Could not load messages"})
			return
		}
		if list == nil {
			list = []store.Message{}
		}
		writeJSON(w, logger, http.StatusOK, list)
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("writing JSON response failed", "error", err)
	}
}

// TestPageHandler serves an HTML page for exercising the hub by hand: paste
// a token, connect, join a room and send events.
func TestPageHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := fmt.Fprint(w, testPage); err != nil {
			logger.Warn("writing HTML response failed", "error", err)
		}
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Blogchat Hub Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 320px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
            white-space: pre-wrap;
        }
        input[type="text"] { width: 260px; padding: 5px; margin-right: 10px; }
        select { padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .row { margin: 8px 0; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Blogchat Hub Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div class="row">
        <input type="text" id="token" placeholder="JWT">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div class="row">
        <input type="text" id="room" placeholder="Room id (chatbot for the assistant)" value="chatbot">
        <button onclick="join()" class="needs-conn" disabled>Join</button>
    </div>
    <div class="row">
        <select id="event">
            <option value="message:send">message:send</option>
            <option value="chatbot:message">chatbot:message</option>
            <option value="typing">typing</option>
        </select>
        <input type="text" id="content" placeholder="Message...">
        <button onclick="sendEvent()" class="needs-conn" disabled>Send</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function log(line) {
            const el = document.createElement('div');
            el.textContent = line;
            eventsDiv.appendChild(el);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
            document.querySelectorAll('.needs-conn').forEach(b => b.disabled = !connected);
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
                log('> ' + event + ' ' + JSON.stringify(data));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const token = encodeURIComponent(document.getElementById('token').value.trim());
            ws = new WebSocket(scheme + location.host + '/ws?token=' + token);
            ws.onopen = () => { log('connected'); updateStatus(true); };
            ws.onmessage = (event) => event.data.split('\n').forEach(frame => log('< ' + frame));
            ws.onclose = () => { log('connection closed'); updateStatus(false); ws = null; };
            ws.onerror = () => { log('connection error'); updateStatus(false); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function join() {
            emit('join:conversation', {roomId: document.getElementById('room').value.trim()});
        }

        function sendEvent() {
            const event = document.getElementById('event').value;
            const roomId = document.getElementById('room').value.trim();
            const input = document.getElementById('content');
            const content = input.value.trim();
            if (event === 'typing') {
                emit(event, {roomId: roomId});
            } else if (event === 'chatbot:message') {
                emit(event, {content: content});
            } else {
                emit(event, {content: content, type: 'text', roomId: roomId});
            }
            input.value = '';
        }

        document.getElementById('content').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendEvent();
            }
        });
    </script>
</body>
</html>`
