package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/cdp-mini/internal/browser"
	"github.com/shehryarbajwa/cdp-mini/internal/cdp"
	"github.com/shehryarbajwa/cdp-mini/internal/profile"
	"github.com/shehryarbajwa/cdp-mini/pkg/models"
)

// Config controls the manager.
type Config struct {
	Browser browser.Options
	// Endpoint is host:port of a running browser to attach to instead of
	// launching one.
	Endpoint string
	Session  Options
	// MaxSessions caps concurrently open sessions. Zero means no limit.
	MaxSessions int
	// IdleTimeout closes sessions that issue no command for this long. Zero
	// disables it.
	IdleTimeout time.Duration
	// CloseExternal makes CloseAll shut down a browser it attached to rather
	// than launched.
	CloseExternal bool
	// Profile names the saved user-data directory restored before launch and
	// saved by CloseAll. It needs Profiles.
	Profile  string
	Profiles *profile.Store
}

// SessionRequest selects the target for a new session.
type SessionRequest struct {
	// TargetID attaches to a specific existing target.
	TargetID string
	// NewTarget always opens a fresh page.
	NewTarget bool
	// URL, when set, is navigated to before NewSession returns.
	URL         string
	Navigate    NavigateOptions
	IdleTimeout time.Duration
}

// Manager owns at most one browser and the sessions attached to it.
type Manager struct {
	launcher browser.Launcher
	cfg      Config
	log      *zap.Logger
	slots    *semaphore.Weighted

	// launchMu serializes Launch so concurrent callers share one browser.
	launchMu sync.Mutex

	mu          sync.Mutex
	instance    *browser.Instance
	profileDir  string
	ownsProfile bool
	sessions    map[string]*Session
}

// NewManager creates a manager. Nothing is launched until first use.
func NewManager(launcher browser.Launcher, cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		launcher: launcher,
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*Session),
	}
	if cfg.MaxSessions > 0 {
		m.slots = semaphore.NewWeighted(int64(cfg.MaxSessions))
	}
	return m
}

// Instance returns the current browser, if any.
func (m *Manager) Instance() *browser.Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instance
}

// Launch returns the managed browser, starting it if needed. A browser that
// has exited or stopped answering is replaced.
func (m *Manager) Launch(ctx context.Context) (*browser.Instance, error) {
	m.launchMu.Lock()
	defer m.launchMu.Unlock()

	if inst := m.Instance(); inst != nil {
		if inst.Running() {
			if _, err := inst.DevTools().Version(ctx); err == nil {
				return inst, nil
			}
		}
		m.log.Warn("browser unavailable, relaunching",
			zap.Int("pid", inst.PID), zap.Error(inst.ExitErr()))
		m.discard(ctx, inst)
	}

	var (
		inst *browser.Instance
		err  error
	)
	if m.cfg.Endpoint != "" {
		inst, err = browser.Attach(ctx, m.cfg.Endpoint)
	} else {
		var opts browser.Options
		if opts, err = m.launchOptions(); err == nil {
			inst, err = m.launcher.Launch(ctx, opts)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	m.mu.Lock()
	m.instance = inst
	m.mu.Unlock()
	if inst.Exited() != nil {
		go m.watch(inst)
	}
	m.log.Info("browser ready",
		zap.String("endpoint", inst.Endpoint()),
		zap.Int("pid", inst.PID),
		zap.Bool("external", inst.External))
	return inst, nil
}

// launchOptions restores the configured profile into the user-data directory.
func (m *Manager) launchOptions() (browser.Options, error) {
	opts := m.cfg.Browser
	if m.cfg.Profile == "" || m.cfg.Profiles == nil {
		return opts, nil
	}

	owned := false
	if opts.UserDataDir == "" {
		dir, err := os.MkdirTemp("", "cdp-mini-"+m.cfg.Profile+"-")
		if err != nil {
			return opts, err
		}
		opts.UserDataDir = dir
		owned = true
	}
	restored, err := m.cfg.Profiles.Restore(m.cfg.Profile, opts.UserDataDir)
	if err != nil {
		return opts, err
	}
	m.log.Info("profile prepared",
		zap.String("profile", m.cfg.Profile),
		zap.String("dir", opts.UserDataDir),
		zap.Bool("restored", restored))

	m.mu.Lock()
	m.profileDir = opts.UserDataDir
	m.ownsProfile = owned
	m.mu.Unlock()
	return opts, nil
}

// watch logs an owned browser exiting while still managed.
func (m *Manager) watch(inst *browser.Instance) {
	<-inst.Exited()
	m.mu.Lock()
	current := m.instance == inst
	m.mu.Unlock()
	if current {
		m.log.Warn("browser exited unexpectedly", zap.Int("pid", inst.PID), zap.Error(inst.ExitErr()))
	}
}

// discard drops a dead browser and its sessions.
func (m *Manager) discard(ctx context.Context, inst *browser.Instance) {
	if err := m.closeSessions(); err != nil {
		m.log.Debug("closing sessions of dead browser", zap.Error(err))
	}
	if err := inst.Stop(ctx); err != nil {
		m.log.Debug("stopping dead browser", zap.Error(err))
	}
	m.mu.Lock()
	if m.instance == inst {
		m.instance = nil
	}
	m.mu.Unlock()
}

// NewSession attaches a new session to a page target, launching the browser
// if needed.
func (m *Manager) NewSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if m.slots != nil && !m.slots.TryAcquire(1) {
		return nil, fmt.Errorf("%w (max %d)", ErrTooManySessions, m.cfg.MaxSessions)
	}
	acquired := m.slots != nil
	defer func() {
		if acquired {
			m.slots.Release(1)
		}
	}()

	inst, err := m.Launch(ctx)
	if err != nil {
		return nil, err
	}
	target, err := m.pickTarget(ctx, inst.DevTools(), req)
	if err != nil {
		return nil, err
	}

	s, err := attach(ctx, target, m.cfg.Session, m.log, m.release)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	// From here the slot belongs to the registry entry.
	acquired = false
	if s.Closed() {
		m.release(s)
		return nil, fmt.Errorf("attach %s: %w", target.ID, cdp.ErrConnectionClosed)
	}

	idle := req.IdleTimeout
	if idle <= 0 {
		idle = m.cfg.IdleTimeout
	}
	if idle > 0 {
		go m.reapIdle(s, idle)
	}

	m.log.Info("session opened",
		zap.String("session", s.ID),
		zap.String("target", target.ID),
		zap.String("url", target.URL))

	if req.URL != "" {
		if err := s.Navigate(ctx, req.URL, req.Navigate); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (m *Manager) pickTarget(ctx context.Context, dt *browser.DevTools, req SessionRequest) (models.Target, error) {
	switch {
	case req.TargetID != "":
		targets, err := dt.ListTargets(ctx)
		if err != nil {
			return models.Target{}, err
		}
		for _, t := range targets {
			if t.ID == req.TargetID {
				return t, nil
			}
		}
		return models.Target{}, fmt.Errorf("%w: no target %s", browser.ErrNoTargetAvailable, req.TargetID)

	case req.NewTarget:
		t, err := dt.CreateTarget(ctx, "")
		if err != nil {
			return models.Target{}, fmt.Errorf("%w: %v", browser.ErrNoTargetAvailable, err)
		}
		return *t, nil
	}

	attached := m.attachedTargets()
	if len(attached) == 0 {
		t, err := dt.PageTarget(ctx)
		if err != nil {
			return models.Target{}, err
		}
		return *t, nil
	}

	// Prefer a page nobody is driving yet.
	if targets, err := dt.ListTargets(ctx); err == nil {
		for _, t := range targets {
			if t.IsPage() && !attached[t.ID] && t.WebSocketDebuggerURL != "" {
				return t, nil
			}
		}
	}
	t, err := dt.CreateTarget(ctx, "")
	if err != nil {
		return models.Target{}, fmt.Errorf("%w: %v", browser.ErrNoTargetAvailable, err)
	}
	return *t, nil
}

func (m *Manager) attachedTargets() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]bool, len(m.sessions))
	for _, s := range m.sessions {
		ids[s.Target.ID] = true
	}
	return ids
}

// release unregisters s and frees its slot. Safe to call more than once.
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	_, ok := m.sessions[s.ID]
	delete(m.sessions, s.ID)
	m.mu.Unlock()
	if !ok {
		return
	}
	if m.slots != nil {
		m.slots.Release(1)
	}
	m.log.Info("session closed", zap.String("session", s.ID))
}

// reapIdle closes s once it has been idle for timeout.
func (m *Manager) reapIdle(s *Session, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-s.Done():
			return
		case <-timer.C:
			if idle := time.Since(s.LastActive()); idle < timeout {
				timer.Reset(timeout - idle)
				continue
			}
			m.log.Info("closing idle session", zap.String("session", s.ID), zap.Duration("timeout", timeout))
			_ = s.Close()
			return
		}
	}
}

// Session returns an open session by id.
func (m *Manager) Session(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Sessions returns open sessions, oldest first.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// OpenSessions returns the number of registered sessions.
func (m *Manager) OpenSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseSession closes one session.
func (m *Manager) CloseSession(id string) error {
	s, err := m.Session(id)
	if err != nil {
		return err
	}
	return s.Close()
}

func (m *Manager) closeSessions() error {
	var g errgroup.Group
	for _, s := range m.Sessions() {
		g.Go(func() error {
			if err := s.Close(); err != nil {
				return fmt.Errorf("close session %s: %w", s.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CloseAll closes every session and then the browser, saving the configured
// profile. Every step runs even if an earlier one fails. With nothing open it
// does nothing.
func (m *Manager) CloseAll(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, fmt.Errorf("close all: panic: %v", r))
		}
	}()

	m.launchMu.Lock()
	defer m.launchMu.Unlock()

	sessErr := m.closeSessions()

	m.mu.Lock()
	inst := m.instance
	dir, owned := m.profileDir, m.ownsProfile
	m.instance, m.profileDir, m.ownsProfile = nil, "", false
	m.mu.Unlock()
	if inst == nil {
		return sessErr
	}

	var stopErr error
	if inst.External && m.cfg.CloseExternal {
		stopErr = inst.CloseBrowser(ctx)
	} else {
		stopErr = inst.Stop(ctx)
	}
	if stopErr != nil {
		stopErr = fmt.Errorf("stop browser: %w", stopErr)
	}
	saveErr := m.saveProfile(dir, owned)

	m.log.Info("browser closed", zap.String("endpoint", inst.Endpoint()), zap.Bool("external", inst.External))
	return errors.Join(sessErr, stopErr, saveErr)
}

func (m *Manager) saveProfile(dir string, owned bool) error {
	if dir == "" || m.cfg.Profiles == nil || m.cfg.Profile == "" {
		return nil
	}
	p, err := m.cfg.Profiles.Save(m.cfg.Profile, dir)
	if owned {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			m.log.Warn("remove profile directory", zap.String("dir", dir), zap.Error(rmErr))
		}
	}
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	m.log.Info("profile saved", zap.String("profile", p.Name), zap.Int64("bytes", p.Size))
	return nil
}

// Detach closes every session but leaves the browser running so a later
// process can attach to it.
func (m *Manager) Detach(ctx context.Context) error {
	m.launchMu.Lock()
	defer m.launchMu.Unlock()

	err := m.closeSessions()
	m.mu.Lock()
	inst := m.instance
	m.instance = nil
	m.mu.Unlock()
	if inst != nil {
		m.log.Info("detached from browser", zap.String("endpoint", inst.Endpoint()), zap.Int("pid", inst.PID))
	}
	return err
}
