// Package session implements high-level page automation over a single
// DevTools connection and the manager that owns the browser and its sessions.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/cdp-mini/internal/cdp"
	"github.com/shehryarbajwa/cdp-mini/pkg/models"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultQuietWindow       = 500 * time.Millisecond
)

// Options tunes a session.
type Options struct {
	NavigationTimeout time.Duration
	QuietWindow       time.Duration
	CommandTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	if o.QuietWindow <= 0 {
		o.QuietWindow = DefaultQuietWindow
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = cdp.DefaultCommandTimeout
	}
	return o
}

// Session drives one target over one connection.
type Session struct {
	ID        string
	Target    models.Target
	CreatedAt time.Time

	conn *cdp.Conn
	opts Options
	log  *zap.Logger

	// domainMu serializes enables so each domain is sent at most once.
	domainMu sync.Mutex
	enabled  map[string]bool

	mu         sync.Mutex
	rootNodeID int64
	viewport   *Viewport
	lastActive time.Time

	closeOnce sync.Once
	onClose   func(*Session)
}

// Attach dials the target's websocket and returns a session over it.
func Attach(ctx context.Context, target models.Target, opts Options, log *zap.Logger) (*Session, error) {
	return attach(ctx, target, opts, log, nil)
}

// attach is Attach with a hook that runs once when the session closes. The
// hook is in place before any event can close the session.
func attach(ctx context.Context, target models.Target, opts Options, log *zap.Logger, onClose func(*Session)) (*Session, error) {
	if target.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("target %s has no websocket url", target.ID)
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	id := uuid.New().String()
	log = log.With(zap.String("session", id[:8]), zap.String("target", target.ID))

	conn, err := cdp.Dial(ctx, target.WebSocketDebuggerURL,
		cdp.WithLogger(log), cdp.WithCommandTimeout(opts.CommandTimeout))
	if err != nil {
		return nil, err
	}
	return newSession(id, target, conn, opts, log, onClose), nil
}

func newSession(id string, target models.Target, conn *cdp.Conn, opts Options, log *zap.Logger, onClose func(*Session)) *Session {
	now := time.Now()
	s := &Session{
		ID:         id,
		Target:     target,
		CreatedAt:  now,
		conn:       conn,
		opts:       opts,
		log:        log,
		enabled:    make(map[string]bool),
		lastActive: now,
		onClose:    onClose,
	}
	conn.On("DOM.documentUpdated", func(json.RawMessage) { s.invalidateDocument() })
	conn.On(cdp.EventDisconnected, func(json.RawMessage) {
		// Runs on the reader goroutine while the connection is shutting down.
		go s.Close()
	})
	return s
}

// Conn exposes the underlying connection for raw commands and events.
func (s *Session) Conn() *cdp.Conn { return s.conn }

// Call sends a raw command and decodes its result into res.
func (s *Session) Call(ctx context.Context, method string, params, res any) error {
	s.touch()
	return s.conn.Call(ctx, method, params, res)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns when the session last issued a command.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Done is closed once the session's connection has shut down.
func (s *Session) Done() <-chan struct{} { return s.conn.Done() }

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool { return s.conn.Closed() }

// Close releases the connection. The target itself stays open.
func (s *Session) Close() error {
	err := s.conn.Close()
	s.closeOnce.Do(func() {
		s.log.Debug("session closed")
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return err
}

// Info returns a snapshot for reporting.
func (s *Session) Info() models.Session {
	status := models.StatusOpen
	if s.Closed() {
		status = models.StatusClosed
	}
	return models.Session{
		ID:              s.ID,
		TargetID:        s.Target.ID,
		URL:             s.Target.URL,
		Status:          status,
		CreatedAt:       s.CreatedAt,
		LastActive:      s.LastActive(),
		PendingCommands: s.conn.Pending(),
		DebuggerURL:     s.Target.WebSocketDebuggerURL,
	}
}

// EnsureDomainsEnabled sends <Domain>.enable for each domain not yet enabled
// on this session. Concurrent callers share the same enable.
func (s *Session) EnsureDomainsEnabled(ctx context.Context, domains ...string) error {
	s.domainMu.Lock()
	defer s.domainMu.Unlock()
	for _, d := range domains {
		if s.enabled[d] {
			continue
		}
		if err := s.Call(ctx, d+".enable", nil, nil); err != nil {
			return fmt.Errorf("enable %s: %w", d, err)
		}
		s.enabled[d] = true
	}
	return nil
}

// DomainEnabled reports whether domain has been enabled.
func (s *Session) DomainEnabled(domain string) bool {
	s.domainMu.Lock()
	defer s.domainMu.Unlock()
	return s.enabled[domain]
}
