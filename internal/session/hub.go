package session

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kartikbazzad/bunbase/collab/internal/bus"
	"github.com/kartikbazzad/bunbase/collab/internal/metrics"
	"github.com/kartikbazzad/bunbase/collab/internal/middleware"
	"github.com/kartikbazzad/bunbase/collab/internal/runner"
	"github.com/kartikbazzad/bunbase/collab/internal/sandbox"
	"github.com/kartikbazzad/bunbase/collab/internal/store"
)

// Dispatcher schedules an AI turn for a chat message.
type Dispatcher interface {
	Dispatch(projectID, body string)
}

// MaxBacklog caps the messages replayed to a joining session.
const MaxBacklog = 50

// Config tunes sessions. BacklogSize is capped at MaxBacklog.
type Config struct {
	SendBuffer  int
	BacklogSize int
	CORSOrigin  string
	Runner      runner.Config
}

// Hub accepts websocket connections and tracks live sessions.
type Hub struct {
	gateway   *Gateway
	registry  *bus.Registry
	messages  store.Messages
	ai        Dispatcher
	sandboxes sandbox.Provider
	cfg       Config
	upgrader  websocket.Upgrader
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	wg       sync.WaitGroup
}

// NewHub creates a Hub.
func NewHub(gateway *Gateway, registry *bus.Registry, messages store.Messages, dispatcher Dispatcher, sandboxes sandbox.Provider, cfg Config, log *slog.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.BacklogSize <= 0 || cfg.BacklogSize > MaxBacklog {
		cfg.BacklogSize = MaxBacklog
	}
	h := &Hub{
		gateway:   gateway,
		registry:  registry,
		messages:  messages,
		ai:        dispatcher,
		sandboxes: sandboxes,
		cfg:       cfg,
		log:       log,
		sessions:  make(map[*Session]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits non-browser clients (no Origin header) and browsers
// from an origin the REST surface would also accept.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || middleware.OriginAllowed(h.cfg.CORSOrigin, origin)
}

// handshake reads the token from the Authorization header or the token
// query field, and the project id from the query.
func handshake(c *gin.Context) Handshake {
	token := c.Query("token")
	if header := c.GetHeader("Authorization"); header != "" {
		if bearer, ok := strings.CutPrefix(header, "Bearer "); ok {
			token = bearer
		}
	}
	return Handshake{Token: token, ProjectID: c.Query("projectId")}
}

// HandleWebSocket admits and upgrades a connection, then serves it until
// it closes.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	adm, err := h.gateway.Admit(c.Request.Context(), handshake(c))
	if err != nil {
		var refusal *Refusal
		if errors.As(err, &refusal) {
			c.JSON(refusal.Status, refusal)
			return
		}
		h.log.Error("Failed to admit session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	s := newSession(h, conn, adm)
	if !h.track(s) {
		conn.Close()
		return
	}
	defer h.untrack(s)

	metrics.SessionOpened()
	defer metrics.SessionClosed()
	s.serve()
}

func (h *Hub) track(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions == nil {
		return false
	}
	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) untrack(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown closes every live session and waits for them to finish.
// New connections are refused afterwards.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = nil
	h.mu.Unlock()

	for s := range sessions {
		s.conn.Close()
	}
	h.wg.Wait()
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
