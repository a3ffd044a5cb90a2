package model

import (
	"time"
)

// EventType represents the type of session event.
type EventType string

const (
	EventTypeTurnCompleted  EventType = "turn_completed"
	EventTypeTurnFailed     EventType = "turn_failed"
	EventTypeSessionReset   EventType = "session_reset"
	EventTypeSessionsReaped EventType = "sessions_reaped"
)

// SessionEvent describes a change to conversation state. Tokens are masked.
type SessionEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Token      string    `json:"token,omitempty"`
	HistoryLen int       `json:"history_len,omitempty"`
	Removed    int       `json:"removed,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
