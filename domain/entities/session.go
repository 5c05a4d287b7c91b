package entities

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle status of a live voice session
type SessionStatus string

const (
	SessionStatusIdle       SessionStatus = "idle"
	SessionStatusConnecting SessionStatus = "connecting"
	SessionStatusConnected  SessionStatus = "connected"
	SessionStatusError      SessionStatus = "error"
)

// Speaker identifies which side of the conversation produced an utterance.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Utterance is one finalized turn contribution by a single speaker.
type Utterance struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Session is the ephemeral state of one live ordering conversation. It is
// created when a client starts ordering and discarded on stop, close or
// error; it is never persisted.
type Session struct {
	ID          string
	ClientID    string
	StartedAt   time.Time
	Status      SessionStatus
	Transcript  []Utterance
	OrderPlaced bool
	OrderID     string
}

// NewSession creates a session for a client about to connect.
func NewSession(clientID string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		StartedAt: time.Now(),
		Status:    SessionStatusIdle,
	}
}

// AddUtterance appends a finalized utterance to the session transcript.
func (s *Session) AddUtterance(speaker Speaker, text string) {
	s.Transcript = append(s.Transcript, Utterance{
		Speaker: speaker,
		Text:    text,
		At:      time.Now(),
	})
}

// MarkOrderPlaced records that an order was committed during this session.
func (s *Session) MarkOrderPlaced(orderID string) {
	s.OrderPlaced = true
	s.OrderID = orderID
}
