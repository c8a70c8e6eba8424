package notify

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/auth"
	"github.com/ssd-technologies/atlas/internal/ratelimit"
)

const writeWait = 10 * time.Second

// Inbound is a message sent by a subscriber.
type Inbound struct {
	Type string `json:"type"`
}

// Reply is a direct answer to a subscriber, outside the event stream.
type Reply struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// AuthFunc resolves a bearer token to a principal.
type AuthFunc func(token string) (*auth.Principal, error)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// tokenFrom reads the bearer token from the Authorization header or the
// token query parameter.
func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// HandleWebSocket returns an HTTP handler that authenticates the caller,
// upgrades the connection and subscribes it to hub.
func HandleWebSocket(hub *Hub, authenticate AuthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := tokenFrom(r)
		if token == "" {
			rejectHTTP(w, apperr.New(apperr.Unauthorized, "access token required"))
			return
		}
		p, err := authenticate(token)
		if err != nil {
			rejectHTTP(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[ws] upgrade error: %v", err)
			return
		}
		defer conn.Close()

		c := hub.Register(p)
		defer hub.Unregister(c)

		done := make(chan struct{})
		go func() {
			defer close(done)
			writeLoop(conn, c)
		}()

		reply(hub, c, Reply{Type: "connected", Payload: map[string]string{"clientId": c.ID}})
		readLoop(conn, hub, c)

		hub.Unregister(c)
		<-done
	}
}

func readLoop(conn *websocket.Conn, hub *Hub, c *Client) {
	limiter := ratelimit.New(60, time.Minute)
	for {
		var msg Inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}

		if !limiter.Allow() {
			replyError(hub, c, "rate limit exceeded")
			continue
		}

		switch msg.Type {
		case "ping":
			reply(hub, c, Reply{Type: "pong"})
		default:
			replyError(hub, c, "unknown message type: "+msg.Type)
		}
	}
}

// writeLoop is the only writer of conn. It exits when the client queue is
// closed or a write fails.
func writeLoop(conn *websocket.Conn, c *Client) {
	for b := range c.send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Printf("[ws] write error: %v", err)
			conn.Close()
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	conn.Close()
}

func reply(hub *Hub, c *Client, r Reply) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	hub.Send(c, b)
}

func replyError(hub *Hub, c *Client, message string) {
	reply(hub, c, Reply{Type: "error", Payload: map[string]string{"error": message}})
}

func rejectHTTP(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.KindOf(err).Status())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": apperr.MessageOf(err),
	})
}
