package models

import "time"

// User represents a user in the system
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never serialize password hash
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is the authenticated principal carried by a bearer token.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

// Sender converts the identity into a chat sender.
func (i Identity) Sender() Sender {
	return Sender{ID: i.UserID, Email: i.Email}
}
