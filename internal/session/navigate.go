package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/cdp-mini/internal/cdp"
)

// WaitUntil selects the condition that completes a navigation.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	// WaitNetworkIdle completes once no request has started or finished for
	// the quiet window.
	WaitNetworkIdle WaitUntil = "networkidle"
	// WaitCommit completes as soon as Page.navigate returns.
	WaitCommit WaitUntil = "commit"
)

// ParseWaitUntil validates a user-supplied condition. Empty means load.
func ParseWaitUntil(s string) (WaitUntil, error) {
	switch w := WaitUntil(s); w {
	case "":
		return WaitLoad, nil
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle, WaitCommit:
		return w, nil
	default:
		return "", fmt.Errorf("unknown wait condition %q", s)
	}
}

// NavigateOptions tunes one navigation. Zero values use the session defaults.
type NavigateOptions struct {
	WaitUntil   WaitUntil
	Timeout     time.Duration
	QuietWindow time.Duration
}

type navigateResult struct {
	FrameID   string `json:"frameId"`
	LoaderID  string `json:"loaderId"`
	ErrorText string `json:"errorText"`
}

// Navigate loads url in the session's target and waits for the requested
// condition. The wait subscription is in place before the command is sent so
// a fast load event cannot be missed.
func (s *Session) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if opts.WaitUntil == "" {
		opts.WaitUntil = WaitLoad
	}
	if opts.Timeout <= 0 {
		opts.Timeout = s.opts.NavigationTimeout
	}
	if opts.QuietWindow <= 0 {
		opts.QuietWindow = s.opts.QuietWindow
	}
	if _, err := ParseWaitUntil(string(opts.WaitUntil)); err != nil {
		return &NavigationError{URL: url, WaitUntil: opts.WaitUntil, Err: err}
	}

	ctx, cancel := context.WithTimeoutCause(ctx, opts.Timeout, ErrNavigationTimeout)
	defer cancel()
	fail := func(err error) error {
		if errors.Is(context.Cause(ctx), ErrNavigationTimeout) {
			err = fmt.Errorf("%w after %s", ErrNavigationTimeout, opts.Timeout)
		}
		return &NavigationError{URL: url, WaitUntil: opts.WaitUntil, Err: err}
	}

	domains := []string{"Page"}
	if opts.WaitUntil == WaitNetworkIdle {
		domains = append(domains, "Network")
	}
	if err := s.EnsureDomainsEnabled(ctx, domains...); err != nil {
		return fail(err)
	}

	var (
		fired    <-chan struct{}
		activity <-chan struct{}
		subs     []cdp.Subscription
	)
	switch opts.WaitUntil {
	case WaitLoad:
		var sub cdp.Subscription
		fired, sub = s.waitEvent("Page.loadEventFired")
		subs = append(subs, sub)
	case WaitDOMContentLoaded:
		var sub cdp.Subscription
		fired, sub = s.waitEvent("Page.domContentEventFired")
		subs = append(subs, sub)
	case WaitNetworkIdle:
		activity, subs = s.watchNetwork()
	}
	defer func() {
		for _, sub := range subs {
			s.conn.Off(sub)
		}
	}()

	var res navigateResult
	if err := s.Call(ctx, "Page.navigate", map[string]any{"url": url}, &res); err != nil {
		return fail(err)
	}
	if res.ErrorText != "" {
		return &NavigationError{URL: url, WaitUntil: opts.WaitUntil, Err: errors.New(res.ErrorText)}
	}
	s.invalidateDocument()
	s.log.Debug("navigation committed", zap.String("url", url), zap.String("frame", res.FrameID))

	// Same-document navigations have no loader and fire no load events.
	if res.LoaderID == "" {
		return nil
	}

	switch opts.WaitUntil {
	case WaitLoad, WaitDOMContentLoaded:
		select {
		case <-fired:
		case <-ctx.Done():
			return fail(ctx.Err())
		}
	case WaitNetworkIdle:
		if err := waitQuiet(ctx, activity, opts.QuietWindow); err != nil {
			return fail(err)
		}
	}
	return nil
}

// waitEvent returns a channel closed on the next occurrence of name.
func (s *Session) waitEvent(name string) (<-chan struct{}, cdp.Subscription) {
	ch := make(chan struct{})
	var once sync.Once
	sub := s.conn.Once(name, func(json.RawMessage) {
		once.Do(func() { close(ch) })
	})
	return ch, sub
}

// watchNetwork signals request activity without ever blocking the reader.
func (s *Session) watchNetwork() (<-chan struct{}, []cdp.Subscription) {
	ch := make(chan struct{}, 1)
	notify := func(json.RawMessage) {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	var subs []cdp.Subscription
	for _, ev := range []string{
		"Network.requestWillBeSent",
		"Network.responseReceived",
		"Network.loadingFinished",
		"Network.loadingFailed",
	} {
		subs = append(subs, s.conn.On(ev, notify))
	}
	return ch, subs
}

// waitQuiet returns once activity has been silent for quiet.
func waitQuiet(ctx context.Context, activity <-chan struct{}, quiet time.Duration) error {
	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		select {
		case <-activity:
			timer.Reset(quiet)
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
