package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCommandTimeout bounds every command unless overridden.
const DefaultCommandTimeout = 30 * time.Second

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the connection's logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Conn) {
		if log != nil {
			c.log = log
		}
	}
}

// WithCommandTimeout sets the default per-command deadline.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.timeout = d
		}
	}
}

type result struct {
	raw json.RawMessage
	err error
}

type pendingCommand struct {
	id       int64
	method   string
	created  time.Time
	deadline time.Time
	timer    *time.Timer
	future   *Future
}

// complete must be called once, by whoever removed p from the pending table.
func (p *pendingCommand) complete(res result) {
	p.future.res = res
	close(p.future.done)
}

// Future is the eventual outcome of one command.
type Future struct {
	ID     int64
	Method string

	done chan struct{}
	res  result
}

// Done is closed once the command has resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the command resolves or ctx ends. Abandoning the wait
// leaves the command in flight; it still resolves or times out normally.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.res.raw, f.res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", f.Method, ctx.Err())
	}
}

// Conn is one DevTools connection bound to one target. Commands may be sent
// from any goroutine; a single reader goroutine dispatches responses and events.
type Conn struct {
	t       Transport
	log     *zap.Logger
	timeout time.Duration
	bus     *Bus

	mu      sync.Mutex
	seq     int64
	pending map[int64]*pendingCommand
	closed  bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewConn starts a connection over t. The reader goroutine runs until the
// transport fails or Close is called.
func NewConn(t Transport, opts ...Option) *Conn {
	c := &Conn{
		t:       t,
		log:     zap.NewNop(),
		timeout: DefaultCommandTimeout,
		pending: make(map[int64]*pendingCommand),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bus = NewBus(c.log)
	go c.readLoop()
	return c
}

// Send issues a command with the connection's default deadline.
func (c *Conn) Send(method string, params any) *Future {
	return c.SendWithTimeout(method, params, c.timeout)
}

// SendWithTimeout issues a command that fails with ErrCommandTimeout unless a
// response arrives within d.
func (c *Conn) SendWithTimeout(method string, params any, d time.Duration) *Future {
	if params == nil {
		params = emptyParams
	}
	if d <= 0 {
		d = c.timeout
	}

	f := &Future{Method: method, done: make(chan struct{})}
	p := &pendingCommand{
		method:  method,
		created: time.Now(),
		future:  f,
	}
	p.deadline = p.created.Add(d)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		f.res = result{err: &CommandError{Method: method, Err: ErrConnectionClosed}}
		close(f.done)
		return f
	}
	c.seq++
	p.id = c.seq
	f.ID = p.id
	c.pending[p.id] = p
	// The timer is armed under the lock so resolve never sees a nil timer.
	p.timer = time.AfterFunc(d, func() {
		c.resolve(p.id, result{err: &CommandError{ID: p.id, Method: method, Err: ErrCommandTimeout}})
	})
	c.mu.Unlock()

	data, err := json.Marshal(request{ID: p.id, Method: method, Params: params})
	if err != nil {
		c.resolve(p.id, result{err: fmt.Errorf("marshal %s params: %w", method, err)})
		return f
	}
	if err := c.t.WriteMessage(data); err != nil {
		c.resolve(p.id, result{err: &CommandError{ID: p.id, Method: method, Err: fmt.Errorf("write: %w", err)}})
	}
	return f
}

// Call sends a command, waits for it and decodes its result into res (which
// may be nil).
func (c *Conn) Call(ctx context.Context, method string, params, res any) error {
	raw, err := c.Send(method, params).Wait(ctx)
	if err != nil {
		return err
	}
	if res == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, res); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// resolve completes the pending command id exactly once. It reports false when
// the command was already resolved (or never existed).
func (c *Conn) resolve(id int64, res result) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.timer.Stop()
	if res.err != nil {
		c.log.Debug("command failed",
			zap.Int64("id", id),
			zap.String("method", p.method),
			zap.Duration("elapsed", time.Since(p.created)),
			zap.Error(res.err))
	}
	p.complete(res)
	return true
}

// Pending returns the number of commands awaiting a response.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// On subscribes to an event for the lifetime of the connection.
func (c *Conn) On(name string, h Handler) Subscription { return c.bus.On(name, h) }

// Once subscribes to the next occurrence of an event.
func (c *Conn) Once(name string, h Handler) Subscription { return c.bus.Once(name, h) }

// Off cancels a subscription.
func (c *Conn) Off(s Subscription) bool { return c.bus.Off(s) }

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Closed reports whether the connection has shut down.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close fails every outstanding command with ErrConnectionClosed, drops all
// subscriptions and releases the socket. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.shutdown(false)
	return c.closeErr
}

func (c *Conn) shutdown(remote bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		pending := c.pending
		c.pending = make(map[int64]*pendingCommand)
		c.mu.Unlock()

		for id, p := range pending {
			p.timer.Stop()
			p.complete(result{err: &CommandError{ID: id, Method: p.method, Err: ErrConnectionClosed}})
		}
		if remote {
			c.log.Warn("connection lost", zap.Int("failed_commands", len(pending)))
			c.bus.Emit(EventDisconnected, nil)
		}
		c.bus.Clear()
		c.closeErr = c.t.Close()
		close(c.done)
	})
}

func (c *Conn) readLoop() {
	for {
		data, err := c.t.ReadMessage()
		if err != nil {
			if !c.Closed() {
				c.log.Debug("read failed", zap.Error(err))
			}
			c.shutdown(true)
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("dropping malformed message", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}

	switch {
	case msg.ID != 0:
		c.mu.Lock()
		p := c.pending[msg.ID]
		c.mu.Unlock()
		if p == nil {
			c.log.Debug("dropping response for unknown command", zap.Int64("id", msg.ID))
			return
		}
		res := result{raw: msg.Result}
		if msg.Error != nil {
			res = result{err: &ProtocolError{
				Method:  p.method,
				Code:    msg.Error.Code,
				Message: msg.Error.Message,
				Data:    msg.Error.Data,
			}}
		}
		if !c.resolve(msg.ID, res) {
			c.log.Debug("dropping late response", zap.Int64("id", msg.ID))
		}
	case msg.Method != "":
		c.bus.Emit(msg.Method, msg.Params)
	default:
		c.log.Debug("dropping message without id or method")
	}
}
