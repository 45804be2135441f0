package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/cdp-mini/internal/cdptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newTestSession attaches a session to a fresh page on a fake browser.
func newTestSession(t *testing.T) (*Session, *cdptest.Browser) {
	t.Helper()
	fake := cdptest.New(t)
	page := fake.AddPage("about:blank")

	s, err := Attach(testCtx(t), page, Options{
		NavigationTimeout: 2 * time.Second,
		QuietWindow:       100 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, fake
}

// scriptPage installs handlers for a page whose document has one
// element, #present.
func scriptPage(fake *cdptest.Browser) {
	fake.Handle("Page.navigate", func(p *cdptest.Peer, _ json.RawMessage) (any, error) {
		_ = p.Emit("Page.domContentEventFired", map[string]any{"timestamp": 1.0})
		_ = p.Emit("Page.loadEventFired", map[string]any{"timestamp": 1.1})
		return map[string]any{"frameId": "F1", "loaderId": "L1"}, nil
	})
	fake.Handle("Runtime.evaluate", func(_ *cdptest.Peer, raw json.RawMessage) (any, error) {
		var params struct {
			Expression string `json:"expression"`
		}
		_ = json.Unmarshal(raw, &params)
		switch params.Expression {
		case "1+1":
			return map[string]any{"result": map[string]any{"type": "number", "value": 2}}, nil
		case "undefined":
			return map[string]any{"result": map[string]any{"type": "undefined"}}, nil
		case "0/0":
			return map[string]any{"result": map[string]any{"type": "number", "unserializableValue": "NaN"}}, nil
		default:
			return map[string]any{
				"result": map[string]any{"type": "object", "subtype": "error"},
				"exceptionDetails": map[string]any{
					"text":         "Uncaught",
					"lineNumber":   0,
					"columnNumber": 6,
					"exception":    map[string]any{"type": "object", "description": "ReferenceError: nope is not defined"},
				},
			}, nil
		}
	})
	fake.Reply("DOM.getDocument", map[string]any{"root": map[string]any{"nodeId": 1}})
	fake.Handle("DOM.querySelector", func(_ *cdptest.Peer, raw json.RawMessage) (any, error) {
		var params struct {
			Selector string `json:"selector"`
		}
		_ = json.Unmarshal(raw, &params)
		if params.Selector == "#present" {
			return map[string]any{"nodeId": 5}, nil
		}
		return map[string]any{"nodeId": 0}, nil
	})
	fake.Reply("DOM.getBoxModel", map[string]any{"model": map[string]any{
		"border": []float64{10, 20, 110, 20, 110, 70, 10, 70},
	}})
}

// sentParams returns the decoded params of every received command named method.
func sentParams(fake *cdptest.Browser, method string) []map[string]any {
	var out []map[string]any
	for _, c := range fake.Received() {
		if c.Method != method {
			continue
		}
		var p map[string]any
		_ = json.Unmarshal(c.Params, &p)
		out = append(out, p)
	}
	return out
}
