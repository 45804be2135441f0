package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shehryarbajwa/cdp-mini/internal/cdp"
)

// ElementHandle refers to a DOM node in the session's current document. It is
// invalidated by navigation.
type ElementHandle struct {
	NodeID   int64
	Selector string
}

// invalidateDocument drops the cached document root.
func (s *Session) invalidateDocument() {
	s.mu.Lock()
	s.rootNodeID = 0
	s.mu.Unlock()
}

func (s *Session) documentRoot(ctx context.Context) (int64, error) {
	s.mu.Lock()
	root := s.rootNodeID
	s.mu.Unlock()
	if root != 0 {
		return root, nil
	}

	var res struct {
		Root struct {
			NodeID int64 `json:"nodeId"`
		} `json:"root"`
	}
	if err := s.Call(ctx, "DOM.getDocument", map[string]any{"depth": 0}, &res); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.rootNodeID = res.Root.NodeID
	s.mu.Unlock()
	return res.Root.NodeID, nil
}

// QuerySelector returns the first element matching selector, or nil when
// nothing matches.
func (s *Session) QuerySelector(ctx context.Context, selector string) (*ElementHandle, error) {
	if err := s.EnsureDomainsEnabled(ctx, "DOM"); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		root, err := s.documentRoot(ctx)
		if err != nil {
			return nil, err
		}
		var res struct {
			NodeID int64 `json:"nodeId"`
		}
		err = s.Call(ctx, "DOM.querySelector", map[string]any{
			"nodeId":   root,
			"selector": selector,
		}, &res)

		var perr *cdp.ProtocolError
		if errors.As(err, &perr) && attempt == 0 && perr.Message == "Could not find node with given id" {
			// The root went stale without a documentUpdated event reaching us.
			s.invalidateDocument()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", selector, err)
		}
		if res.NodeID == 0 {
			return nil, nil
		}
		return &ElementHandle{NodeID: res.NodeID, Selector: selector}, nil
	}
}

// WaitForSelector polls until selector matches or timeout elapses.
func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (*ElementHandle, error) {
	if timeout <= 0 {
		timeout = s.opts.NavigationTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		el, err := s.QuerySelector(ctx, selector)
		if err != nil && ctx.Err() == nil {
			return nil, err
		}
		if el != nil {
			return el, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, &ElementError{Action: "wait for", Selector: selector,
				Err: fmt.Errorf("%w within %s", ErrElementNotFound, timeout)}
		}
	}
}

// element resolves selector or fails with ErrElementNotFound.
func (s *Session) element(ctx context.Context, action, selector string) (*ElementHandle, error) {
	el, err := s.QuerySelector(ctx, selector)
	if err != nil {
		return nil, &ElementError{Action: action, Selector: selector, Err: err}
	}
	if el == nil {
		return nil, &ElementError{Action: action, Selector: selector, Err: ErrElementNotFound}
	}
	return el, nil
}
