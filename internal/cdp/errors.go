package cdp

import (
	"errors"
	"fmt"
)

var (
	// ErrCommandTimeout is returned when a command's deadline elapses before
	// its response arrives. The connection stays open.
	ErrCommandTimeout = errors.New("command timeout")

	// ErrConnectionClosed is returned for every command still outstanding when
	// the connection closes, and for commands sent after it closed.
	ErrConnectionClosed = errors.New("connection closed")
)

// CommandError ties a transport-level failure to the command that suffered it.
type CommandError struct {
	ID     int64
	Method string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s (id=%d): %v", e.Method, e.ID, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ProtocolError is an error reported by the remote side in a response.
type ProtocolError struct {
	Method  string
	Code    int64
	Message string
	Data    string
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("%s: %s (%d): %s", e.Method, e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Method, e.Message, e.Code)
}
