package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kartikbazzad/bunbase/collab/internal/ai"
	"github.com/kartikbazzad/bunbase/collab/internal/bus"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
	"github.com/kartikbazzad/bunbase/collab/internal/runner"
)

// Client frame types.
const (
	TypeSendChat = "send-chat"
	TypeRun      = "run"
	TypeStop     = "stop"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	replayWait     = 5 * time.Second
)

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type chatPayload struct {
	Message string `json:"message"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Session is one admitted connection. Room events and private run events
// go through Deliver into a buffered queue drained by the write pump.
type Session struct {
	id       string
	identity models.Identity
	roomID   string

	conn  *websocket.Conn
	hub   *Hub
	runs  *runner.Orchestrator
	log   *slog.Logger
	send  chan []byte
	done  chan struct{}
	once  sync.Once
	ctx   context.Context
	close context.CancelFunc

	mu        sync.Mutex
	replaying bool
	pending   []bus.Event
	project   *models.Project
}

func newSession(hub *Hub, conn *websocket.Conn, adm *Admission) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        uuid.New().String(),
		identity:  adm.Identity,
		roomID:    adm.Project.ID,
		conn:      conn,
		hub:       hub,
		send:      make(chan []byte, hub.cfg.SendBuffer),
		done:      make(chan struct{}),
		ctx:       ctx,
		close:     cancel,
		replaying: true,
		project:   adm.Project,
	}
	s.log = hub.log.With("session", s.id, "project", s.roomID, "user", s.identity.UserID)
	s.runs = runner.New(hub.sandboxes, hub.cfg.Runner, s.deliverPrivate, s.log.With("component", "runner"))
	return s
}

// Deliver implements bus.Subscriber. Events that arrive while the
// backlog is being replayed are held and released after it.
func (s *Session) Deliver(ev bus.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaying {
		s.pending = append(s.pending, ev)
		return true
	}
	return s.enqueue(ev)
}

// SetProject implements bus.Subscriber.
func (s *Session) SetProject(p *models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project = p
}

// Project returns the session's current project copy.
func (s *Session) Project() *models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

func (s *Session) deliverPrivate(ev bus.Event) {
	if !s.Deliver(ev) {
		s.log.Warn("Dropped run event", "type", ev.Type)
	}
}

// enqueue never blocks. It reports false when the queue is full.
func (s *Session) enqueue(ev bus.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("Failed to encode event", "type", ev.Type, "error", err)
		return true
	}
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return true
	default:
		return false
	}
}

// replay sends the backlog as one load-messages frame, then releases the
// held live events, skipping messages the backlog already carried.
func (s *Session) replay(backlog []models.Message) {
	if backlog == nil {
		backlog = []models.Message{}
	}
	data, err := json.Marshal(bus.Event{Type: bus.TypeLoadMessages, Data: backlog})
	if err == nil {
		timer := time.NewTimer(replayWait)
		defer timer.Stop()
		select {
		case s.send <- data:
		case <-s.done:
		case <-timer.C:
			s.log.Warn("Backlog replay timed out")
		}
	} else {
		s.log.Error("Failed to encode backlog", "error", err)
	}

	seen := make(map[string]struct{}, len(backlog))
	for _, msg := range backlog {
		seen[msg.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.pending {
		if msg, ok := ev.Message(); ok {
			if _, dup := seen[msg.ID]; dup {
				continue
			}
		}
		if !s.enqueue(ev) {
			s.log.Warn("Dropped held event after replay", "type", ev.Type)
		}
	}
	s.pending = nil
	s.replaying = false
}

func (s *Session) shutdown() {
	s.once.Do(func() {
		close(s.done)
		s.close()
	})
}

// serve runs the session until the connection ends.
func (s *Session) serve() {
	s.hub.registry.Join(s.roomID, s)
	defer func() {
		s.hub.registry.Leave(s.roomID, s)
		s.runs.Close()
		s.shutdown()
		s.conn.Close()
		s.log.Info("Session closed")
	}()

	go s.writePump()

	backlog, err := s.hub.messages.RecentMessages(s.ctx, s.roomID, s.hub.cfg.BacklogSize)
	if err != nil {
		s.log.Error("Failed to load message backlog", "error", err)
		backlog = nil
	}
	s.replay(backlog)
	s.log.Info("Session started", "backlog", len(backlog))

	s.readLoop()
}

func (s *Session) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame inbound
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Connection read failed", "error", err)
			}
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
		s.handle(frame)
	}
}

func (s *Session) handle(frame inbound) {
	switch frame.Type {
	case TypeSendChat:
		var payload chatPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil || strings.TrimSpace(payload.Message) == "" {
			s.sendError("message is required")
			return
		}
		s.chat(payload.Message)
	case TypeRun:
		project := s.Project()
		s.runs.Run(s.ctx, project.FileTree)
	case TypeStop:
		s.runs.Stop()
	default:
		s.sendError("unknown message type: " + frame.Type)
	}
}

func (s *Session) chat(body string) {
	msg := models.Message{Body: body, Sender: s.identity.Sender()}
	if err := s.hub.registry.Publish(s.ctx, s.roomID, bus.Chat(msg, s)); err != nil {
		s.log.Warn("Chat message was broadcast but not persisted", "error", err)
	}
	if ai.Triggered(body) {
		s.hub.ai.Dispatch(s.roomID, body)
	}
}

func (s *Session) sendError(message string) {
	s.deliverPrivate(bus.Event{Type: bus.TypeError, Data: errorPayload{Message: message}})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.shutdown()
		s.conn.Close()
	}()

	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Warn("Connection write failed", "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
