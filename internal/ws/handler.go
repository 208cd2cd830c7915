package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"support-signaling/internal/auth"
	"support-signaling/internal/directory"
	"support-signaling/internal/presence"
	"support-signaling/internal/relay"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Inbound event names.
const (
	msgInitiate  = "initiate"
	msgAnswer    = "answer"
	msgReject    = "reject"
	msgTerminate = "terminate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth happens before the upgrade; the origin list is a deployment
	// concern handled at the edge.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler owns the /ws endpoint: one goroutine per connection reading frames
// into the relay, one writer goroutine per connection draining the outbound
// queue.
type Handler struct {
	Auth       *auth.Manager
	Relay      *relay.Service
	Presence   *presence.Registry
	Dir        directory.Lookup
	SendBuffer int
	Log        *slog.Logger
}

// Serve authenticates, upgrades, and then blocks on the connection's read
// loop until the socket dies.
func (h *Handler) Serve(c *gin.Context) {
	log := h.logger()

	tok := auth.TokenFromRequest(c.Request)
	if tok == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := h.Auth.Verify(tok, auth.TokenTypeAccess, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	identity := claims.UserID

	wsc, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn("websocket upgrade failed", "identity", identity, "err", err)
		return
	}

	conn := newConn(wsc, h.SendBuffer, log)
	go conn.writeLoop()

	// The request context dies with the handshake; cleanup and ledger writes
	// must not inherit its cancellation.
	ctx := context.Background()

	h.Presence.Register(identity, conn)
	if err := h.Dir.SetLiveness(ctx, identity, true, time.Now().UTC()); err != nil {
		log.Warn("liveness write failed", "identity", identity, "err", err)
	}
	h.Relay.SnapshotFor(conn)

	log.Info("participant connected", "identity", identity, "conn", conn.Key())
	h.readLoop(ctx, identity, conn)

	h.Relay.DisconnectCleanup(ctx, identity, conn)
	conn.close()
	log.Info("participant disconnected", "identity", identity, "conn", conn.Key())
}

func (h *Handler) readLoop(ctx context.Context, identity string, conn *Conn) {
	log := h.logger()

	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		env, err := conn.read()
		if err != nil {
			if errors.Is(err, errMalformedFrame) {
				log.Warn("dropping malformed frame", "identity", identity)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("connection read failed", "identity", identity, "err", err)
			}
			return
		}
		h.dispatch(ctx, identity, env)
	}
}

// dispatch routes one inbound frame. The acting identity always comes from
// the authenticated connection, never from the frame.
func (h *Handler) dispatch(ctx context.Context, identity string, env Envelope) {
	log := h.logger()

	switch env.Type {
	case msgInitiate:
		var req relay.InitiateRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.Target == "" {
			log.Warn("bad initiate frame", "identity", identity, "err", err)
			return
		}
		h.Relay.Initiate(ctx, identity, req)
	case msgAnswer:
		var req relay.AnswerRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.To == "" {
			log.Warn("bad answer frame", "identity", identity, "err", err)
			return
		}
		h.Relay.Answer(ctx, identity, req)
	case msgReject:
		var req relay.RejectRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.To == "" {
			log.Warn("bad reject frame", "identity", identity, "err", err)
			return
		}
		h.Relay.Reject(ctx, identity, req)
	case msgTerminate:
		var req relay.TerminateRequest
		if env.Data != nil {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				log.Warn("bad terminate frame", "identity", identity, "err", err)
				return
			}
		}
		h.Relay.Terminate(ctx, identity, req)
	default:
		log.Warn("unknown frame type", "identity", identity, "type", env.Type)
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}
