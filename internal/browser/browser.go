// Package browser starts and stops Chrome processes exposing the DevTools
// protocol and queries their HTTP target directory.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/shehryarbajwa/cdp-mini/internal/cdp"
)

var (
	// ErrLaunchTimeout means the browser did not expose a working DevTools
	// endpoint before the startup timeout.
	ErrLaunchTimeout = errors.New("browser launch timeout")

	// ErrNoTargetAvailable means the directory had no page and a new one
	// could not be created.
	ErrNoTargetAvailable = errors.New("no target available")
)

// Defaults applied by Options.withDefaults.
const (
	DefaultStartupTimeout = 20 * time.Second
	DefaultPollInterval   = 100 * time.Millisecond
)

// Options describes how to start a browser.
type Options struct {
	// Bin is the Chrome executable. Empty means search well-known names.
	Bin string
	// Headless adds --headless=new.
	Headless bool
	// Port is the DevTools port. Zero lets Chrome pick a free port.
	Port int
	// Flags are appended verbatim after the built-in flags.
	Flags []string
	// UserDataDir is the profile directory. Empty means a temporary one.
	UserDataDir string
	// StartupTimeout bounds the wait for the DevTools endpoint.
	StartupTimeout time.Duration
	// PollInterval is the delay between readiness probes.
	PollInterval time.Duration
	// Detach lets the browser outlive this program so another invocation can
	// reuse it through Port.
	Detach bool
}

func (o Options) withDefaults() Options {
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = DefaultStartupTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Launcher starts browsers.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (*Instance, error)
}

// Instance is a browser exposing a DevTools endpoint.
type Instance struct {
	PID         int
	Host        string
	Port        int
	Flags       []string
	UserDataDir string
	// External instances were already running; Stop leaves them alive.
	External bool

	devtools *DevTools
	stopFn   func(ctx context.Context) error
	exited   chan struct{}

	mu      sync.Mutex
	stopped bool
	exitErr error
}

// Endpoint returns the DevTools HTTP base URL.
func (i *Instance) Endpoint() string {
	return "http://" + net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// DevTools returns the HTTP directory client for the instance.
func (i *Instance) DevTools() *DevTools { return i.devtools }

// Exited is closed when an owned process exits. It is nil for external
// instances.
func (i *Instance) Exited() <-chan struct{} { return i.exited }

// ExitErr returns the process exit error, if it has exited.
func (i *Instance) ExitErr() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exitErr
}

// Running reports whether the instance has neither been stopped nor exited.
func (i *Instance) Running() bool {
	i.mu.Lock()
	stopped := i.stopped
	i.mu.Unlock()
	if stopped {
		return false
	}
	if i.exited == nil {
		return true
	}
	select {
	case <-i.exited:
		return false
	default:
		return true
	}
}

func (i *Instance) markExited(err error) {
	i.mu.Lock()
	i.exitErr = err
	i.mu.Unlock()
	close(i.exited)
}

// Stop terminates an owned browser and releases its resources. It is a no-op
// for external instances and when already stopped.
func (i *Instance) Stop(ctx context.Context) error {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return nil
	}
	i.stopped = true
	i.mu.Unlock()

	if i.External || i.stopFn == nil {
		return nil
	}
	return i.stopFn(ctx)
}

// CloseBrowser asks the browser to exit through the protocol. It is the only
// way to shut down an external instance.
func (i *Instance) CloseBrowser(ctx context.Context) error {
	v, err := i.devtools.Version(ctx)
	if err != nil {
		return err
	}
	conn, err := cdp.Dial(ctx, i.devtools.rewrite(v.WebSocketDebuggerURL))
	if err != nil {
		return err
	}
	defer conn.Close()

	// The browser usually drops the socket before answering.
	err = conn.Call(ctx, "Browser.close", nil, nil)
	if err != nil && !errors.Is(err, cdp.ErrConnectionClosed) {
		return fmt.Errorf("Browser.close: %w", err)
	}
	i.mu.Lock()
	i.stopped = true
	i.mu.Unlock()
	return nil
}

// Attach returns an external instance for a browser already listening on
// hostport, verifying the endpoint answers.
func Attach(ctx context.Context, hostport string) (*Instance, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", hostport, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint port %q: %w", portStr, err)
	}
	inst := &Instance{Host: host, Port: port, External: true}
	inst.devtools = NewDevTools(inst.Endpoint(), nil)
	if _, err := inst.devtools.Version(ctx); err != nil {
		return nil, err
	}
	return inst, nil
}

// Own is Attach for a browser the caller started and must shut down. The
// returned instance is owned: Stop runs stop once.
func Own(ctx context.Context, hostport string, stop func(ctx context.Context) error) (*Instance, error) {
	inst, err := Attach(ctx, hostport)
	if err != nil {
		return nil, err
	}
	inst.External = false
	inst.stopFn = stop
	return inst, nil
}

// waitForEndpoint polls until the DevTools endpoint answers, the process
// exits, or the startup timeout elapses. portFn resolves the port on each
// attempt since it may only become known after start.
func waitForEndpoint(ctx context.Context, inst *Instance, opts Options, portFn func() (int, error)) error {
	deadline := time.NewTimer(opts.StartupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		if port, err := portFn(); err == nil {
			inst.Port = port
			inst.devtools = NewDevTools(inst.Endpoint(), nil)
			probeCtx, cancel := context.WithTimeout(ctx, opts.PollInterval*5)
			_, err := inst.devtools.Version(probeCtx)
			cancel()
			if err == nil {
				return nil
			}
		}

		select {
		case <-ticker.C:
		case <-inst.exited:
			return fmt.Errorf("browser exited during startup: %v", inst.ExitErr())
		case <-deadline.C:
			return fmt.Errorf("%w: no DevTools endpoint after %s", ErrLaunchTimeout, opts.StartupTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
