package models

import "time"

// SessionStatus represents the current state of a session
type SessionStatus string

const (
	StatusOpen   SessionStatus = "OPEN"
	StatusClosed SessionStatus = "CLOSED"
)

// Session describes an attached target
type Session struct {
	ID              string        `json:"id"`
	TargetID        string        `json:"targetId"`
	URL             string        `json:"url"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	LastActive      time.Time     `json:"lastActive"`
	PendingCommands int           `json:"pendingCommands"`
	DebuggerURL     string        `json:"-"`
}

// CreateSessionRequest is the payload for creating a new session
type CreateSessionRequest struct {
	URL       string `json:"url,omitempty"`
	TargetID  string `json:"targetId,omitempty"`
	NewTarget bool   `json:"newTarget,omitempty"`
	// IdleTimeout in seconds; zero uses the server default.
	IdleTimeout int `json:"idleTimeout,omitempty"`
}
