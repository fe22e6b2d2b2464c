package types

import "time"

type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

type Session struct {
	ID        string    `json:"session_id"`
	Locale    string    `json:"locale"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`

	Connected      bool       `json:"connected"`
	LastConnected  *time.Time `json:"last_connected_at,omitempty"`
	LastDisconnect *time.Time `json:"last_disconnected_at,omitempty"`
}

// TurnStatus is the lifecycle of one submit/reply exchange.
type TurnStatus string

const (
	TurnPending  TurnStatus = "pending"
	TurnAnswered TurnStatus = "answered"
	TurnFailed   TurnStatus = "failed"
)

// Turn is one user-utterance/bot-reply exchange.
type Turn struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id,omitempty"`
	SubmittedText string     `json:"submitted_text"`
	Source        string     `json:"source"` // voice | text
	CreatedAt     time.Time  `json:"created_at"`
	Status        TurnStatus `json:"status"`
	Answer        string     `json:"answer,omitempty"`
	Error         string     `json:"error,omitempty"`
	HasAudio      bool       `json:"has_audio,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
