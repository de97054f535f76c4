package bus

import "github.com/kartikbazzad/bunbase/collab/internal/models"

// Frame types exchanged over a session connection.
const (
	TypeLoadMessages = "load-messages"
	TypeChatMessage  = "chat-message"
	TypeRunLog       = "run-log"
	TypeRunStatus    = "run-status"
	TypeRunPreview   = "run-preview"
	TypeError        = "error"
)

// Event is one frame delivered to sessions, encoded as {"type","data"}.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`

	// Origin, when set, does not receive the event.
	Origin Subscriber `json:"-"`
}

// Chat builds a chat-message event. Publish assigns the id and timestamp.
func Chat(msg models.Message, origin Subscriber) Event {
	return Event{Type: TypeChatMessage, Data: msg, Origin: origin}
}

// Message returns the chat message carried by ev, if any.
func (ev Event) Message() (models.Message, bool) {
	if ev.Type != TypeChatMessage {
		return models.Message{}, false
	}
	msg, ok := ev.Data.(models.Message)
	return msg, ok
}

// Subscriber is a member of a room.
type Subscriber interface {
	// Deliver enqueues ev without blocking. It returns false when the
	// event was dropped.
	Deliver(ev Event) bool
	// SetProject replaces the subscriber's copy of the project.
	SetProject(p *models.Project)
}
