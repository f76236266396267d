package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionWindowSize caps the rolling conversation window per session.
const SessionWindowSize = 20

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation session.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationSession is a fixed-capacity rolling window of prior turns,
// scoped to one session. Oldest entries are evicted, not archived, once the
// cap is exceeded. Callers serialize concurrent appends; the struct itself is
// plain data.
type ConversationSession struct {
	ID         SessionID  `json:"id"`
	PipelineID PipelineID `json:"pipeline_id,omitempty"`
	Messages   []Message  `json:"messages"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Append adds a message, evicting the oldest entries beyond the window cap.
func (s *ConversationSession) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	if n := len(s.Messages); n > SessionWindowSize {
		s.Messages = s.Messages[n-SessionWindowSize:]
	}
	s.UpdatedAt = msg.Timestamp
}
