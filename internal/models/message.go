package models

import "time"

// AI sender identity used for every collaborator reply.
const (
	AISenderID    = "ai"
	AISenderEmail = "AI Assistant"
)

// Sender identifies who wrote a message.
type Sender struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AISender returns the synthetic collaborator identity.
func AISender() Sender {
	return Sender{ID: AISenderID, Email: AISenderEmail}
}

// IsAI reports whether the sender is the collaborator.
func (s Sender) IsAI() bool {
	return s.ID == AISenderID
}

// Message is one persisted chat message. Messages are immutable.
type Message struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Body      string    `json:"message"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"timestamp"`
}
