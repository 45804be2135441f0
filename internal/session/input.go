package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type boxModel struct {
	Model struct {
		Border []float64 `json:"border"`
	} `json:"model"`
}

// Click scrolls the first element matching selector into view and clicks the
// centre of its border box.
func (s *Session) Click(ctx context.Context, selector string) error {
	el, err := s.element(ctx, "click", selector)
	if err != nil {
		return err
	}

	if err := s.Call(ctx, "DOM.scrollIntoViewIfNeeded", map[string]any{"nodeId": el.NodeID}, nil); err != nil {
		s.log.Debug("scroll into view failed", zap.String("selector", selector), zap.Error(err))
	}

	var box boxModel
	if err := s.Call(ctx, "DOM.getBoxModel", map[string]any{"nodeId": el.NodeID}, &box); err != nil {
		return &ElementError{Action: "click", Selector: selector, Err: err}
	}
	quad := box.Model.Border
	if len(quad) < 8 {
		return &ElementError{Action: "click", Selector: selector, Err: fmt.Errorf("element has no box")}
	}
	x := (quad[0] + quad[2] + quad[4] + quad[6]) / 4
	y := (quad[1] + quad[3] + quad[5] + quad[7]) / 4

	for _, ev := range []map[string]any{
		{"type": "mouseMoved", "x": x, "y": y},
		{"type": "mousePressed", "x": x, "y": y, "button": "left", "clickCount": 1},
		{"type": "mouseReleased", "x": x, "y": y, "button": "left", "clickCount": 1},
	} {
		if err := s.Call(ctx, "Input.dispatchMouseEvent", ev, nil); err != nil {
			return &ElementError{Action: "click", Selector: selector, Err: err}
		}
	}
	return nil
}

// Type focuses the first element matching selector and types text into it
// one key at a time. A newline presses Enter.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	el, err := s.element(ctx, "type into", selector)
	if err != nil {
		return err
	}
	if err := s.Call(ctx, "DOM.focus", map[string]any{"nodeId": el.NodeID}, nil); err != nil {
		return &ElementError{Action: "type into", Selector: selector, Err: err}
	}

	var prev rune
	for _, r := range text {
		// CRLF is one Enter.
		crlf := r == '\n' && prev == '\r'
		prev = r
		if crlf {
			continue
		}
		down := map[string]any{"type": "keyDown", "key": string(r), "text": string(r), "unmodifiedText": string(r)}
		up := map[string]any{"type": "keyUp", "key": string(r)}
		if r == '\n' || r == '\r' {
			down = map[string]any{"type": "keyDown", "key": "Enter", "code": "Enter", "text": "\r", "windowsVirtualKeyCode": 13}
			up = map[string]any{"type": "keyUp", "key": "Enter", "code": "Enter", "windowsVirtualKeyCode": 13}
		}
		for _, ev := range []map[string]any{down, up} {
			if err := s.Call(ctx, "Input.dispatchKeyEvent", ev, nil); err != nil {
				return &ElementError{Action: "type into", Selector: selector, Err: err}
			}
		}
	}
	return nil
}
