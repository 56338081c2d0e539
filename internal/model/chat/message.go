package chat

import "time"

// Message is a single turn of a session. ID is the store-assigned ordinal
// used to break timestamp ties.
type Message struct {
	ID        uint64    `json:"id"`
	SessionID string    `json:"sessionId"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"isUser"`
	Timestamp time.Time `json:"timestamp"`
}

// Before reports whether m sorts ahead of other in a transcript.
func (m Message) Before(other Message) bool {
	if m.Timestamp.Equal(other.Timestamp) {
		return m.ID < other.ID
	}
	return m.Timestamp.Before(other.Timestamp)
}
