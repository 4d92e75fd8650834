package models

import "time"

// Message is a chat message scoped to one chat thread. Immutable once sent.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}
