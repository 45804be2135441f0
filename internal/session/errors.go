package session

import (
	"errors"
	"fmt"

	"github.com/shehryarbajwa/cdp-mini/internal/browser"
	"github.com/shehryarbajwa/cdp-mini/internal/cdp"
)

var (
	// ErrNavigationTimeout means the navigation's wait condition was not met
	// in time.
	ErrNavigationTimeout = errors.New("navigation timeout")

	// ErrElementNotFound means a selector matched nothing.
	ErrElementNotFound = errors.New("element not found")

	// ErrEvaluation is matched by every *EvaluationError.
	ErrEvaluation = errors.New("evaluation error")

	// ErrSessionNotFound means no open session has the requested id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions means the manager's session limit is reached.
	ErrTooManySessions = errors.New("too many open sessions")
)

// EvaluationError carries the exception thrown by evaluated script.
type EvaluationError struct {
	Expression string
	Text       string
	Line       int
	Column     int
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation error at %d:%d: %s", e.Line, e.Column, e.Text)
}

func (e *EvaluationError) Is(target error) bool { return target == ErrEvaluation }

// ElementError reports a selector-based operation that failed.
type ElementError struct {
	Action   string
	Selector string
	Err      error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Action, e.Selector, e.Err)
}

func (e *ElementError) Unwrap() error { return e.Err }

// NavigationError reports a failed navigation.
type NavigationError struct {
	URL       string
	WaitUntil WaitUntil
	Err       error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s (wait %s): %v", e.URL, e.WaitUntil, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// Error kinds returned by Kind.
const (
	KindLaunchTimeout     = "LaunchTimeout"
	KindNoTargetAvailable = "NoTargetAvailable"
	KindCommandTimeout    = "CommandTimeout"
	KindConnectionClosed  = "ConnectionClosed"
	KindEvaluationError   = "EvaluationError"
	KindElementNotFound   = "ElementNotFound"
	KindNavigationTimeout = "NavigationTimeout"
	KindProtocolError     = "ProtocolError"
	KindSessionNotFound   = "SessionNotFound"
	KindTooManySessions   = "TooManySessions"
	KindError             = "Error"
)

// Kind returns the stable tag for err's failure category.
func Kind(err error) string {
	var perr *cdp.ProtocolError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, browser.ErrLaunchTimeout):
		return KindLaunchTimeout
	case errors.Is(err, browser.ErrNoTargetAvailable):
		return KindNoTargetAvailable
	case errors.Is(err, ErrNavigationTimeout):
		return KindNavigationTimeout
	case errors.Is(err, ErrEvaluation):
		return KindEvaluationError
	case errors.Is(err, ErrElementNotFound):
		return KindElementNotFound
	case errors.Is(err, cdp.ErrCommandTimeout):
		return KindCommandTimeout
	case errors.Is(err, cdp.ErrConnectionClosed):
		return KindConnectionClosed
	case errors.Is(err, ErrSessionNotFound):
		return KindSessionNotFound
	case errors.Is(err, ErrTooManySessions):
		return KindTooManySessions
	case errors.As(err, &perr):
		return KindProtocolError
	default:
		return KindError
	}
}
