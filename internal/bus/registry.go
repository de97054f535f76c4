// Package bus fans chat and project events out to the sessions of a
// project room. Each room has one lock; holding it across persist and
// fan-out gives every member the same order.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kartikbazzad/bunbase/collab/internal/metrics"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
	"github.com/kartikbazzad/bunbase/collab/internal/store"
)

const defaultAppendTimeout = 5 * time.Second

type room struct {
	id string

	// refs counts subscribers plus in-flight publishes; guarded by
	// Registry.mu. The room is dropped when it reaches zero.
	refs int

	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

// Registry owns the rooms keyed by project id.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room

	messages      store.Messages
	appendTimeout time.Duration
	log           *slog.Logger
}

// NewRegistry creates a registry that persists chat messages to messages.
func NewRegistry(messages store.Messages, appendTimeout time.Duration, log *slog.Logger) *Registry {
	if appendTimeout <= 0 {
		appendTimeout = defaultAppendTimeout
	}
	return &Registry{
		rooms:         make(map[string]*room),
		messages:      messages,
		appendTimeout: appendTimeout,
		log:           log,
	}
}

func (r *Registry) acquire(roomID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := r.rooms[roomID]
	if rm == nil {
		rm = &room{id: roomID, subs: make(map[Subscriber]struct{})}
		r.rooms[roomID] = rm
	}
	rm.refs++
	return rm
}

func (r *Registry) release(rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm.refs--
	if rm.refs == 0 {
		delete(r.rooms, rm.id)
	}
}

// Join adds sub to the room, creating the room on first join.
func (r *Registry) Join(roomID string, sub Subscriber) {
	rm := r.acquire(roomID)
	rm.mu.Lock()
	if _, ok := rm.subs[sub]; ok {
		rm.mu.Unlock()
		r.release(rm)
		return
	}
	rm.subs[sub] = struct{}{}
	rm.mu.Unlock()
}

// Leave removes sub. The room is deleted once it is empty and idle.
func (r *Registry) Leave(roomID string, sub Subscriber) {
	r.mu.Lock()
	rm := r.rooms[roomID]
	r.mu.Unlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	_, ok := rm.subs[sub]
	delete(rm.subs, sub)
	rm.mu.Unlock()
	if ok {
		r.release(rm)
	}
}

// Publish delivers ev to every member of the room except ev.Origin.
// A chat-message event is first stamped with an id and timestamp and
// appended to the message log. The broadcast happens even when the
// append fails; the append error is returned after delivery.
func (r *Registry) Publish(ctx context.Context, roomID string, ev Event) error {
	rm := r.acquire(roomID)
	defer r.release(rm)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	var appendErr error
	if msg, ok := ev.Message(); ok {
		msg.ProjectID = roomID
		if msg.ID == "" {
			msg.ID = ulid.Make().String()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		ev.Data = msg
		appendErr = r.appendMessage(ctx, msg)
	}

	metrics.IncBusEvent(ev.Type)
	for sub := range rm.subs {
		if ev.Origin != nil && sub == ev.Origin {
			continue
		}
		if !sub.Deliver(ev) {
			metrics.IncBusDropped()
			r.log.Warn("Dropped event for slow subscriber", "room", roomID, "type", ev.Type)
		}
	}
	return appendErr
}

func (r *Registry) appendMessage(ctx context.Context, msg models.Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.appendTimeout)
	defer cancel()

	if err := r.messages.AppendMessage(ctx, msg); err != nil {
		metrics.IncAppendFailure()
		r.log.Error("Failed to persist message", "room", msg.ProjectID, "message_id", msg.ID, "error", err)
		return err
	}
	return nil
}

// UpdateProject hands every member of the room its own copy of p.
func (r *Registry) UpdateProject(roomID string, p *models.Project) {
	r.mu.Lock()
	rm := r.rooms[roomID]
	r.mu.Unlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for sub := range rm.subs {
		sub.SetProject(p.Clone())
	}
}

// Members returns the number of subscribers in a room.
func (r *Registry) Members(roomID string) int {
	r.mu.Lock()
	rm := r.rooms[roomID]
	r.mu.Unlock()
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.subs)
}

// Rooms returns the number of live rooms.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
