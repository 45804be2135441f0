package session

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/cdp-mini/internal/cdp"
)

// ConsoleMessage is one console API call made by the page.
type ConsoleMessage struct {
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	Args      []any   `json:"args"`
	Timestamp float64 `json:"timestamp"`
}

// OnConsole calls fn for every console API call in the page until the
// returned subscription is cancelled through Conn().Off.
func (s *Session) OnConsole(ctx context.Context, fn func(ConsoleMessage)) (cdp.Subscription, error) {
	if err := s.EnsureDomainsEnabled(ctx, "Runtime"); err != nil {
		return cdp.Subscription{}, err
	}
	return s.conn.On("Runtime.consoleAPICalled", func(raw json.RawMessage) {
		var ev struct {
			Type      string         `json:"type"`
			Args      []remoteObject `json:"args"`
			Timestamp float64        `json:"timestamp"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.log.Debug("bad console event", zap.Error(err))
			return
		}
		msg := ConsoleMessage{Type: ev.Type, Timestamp: ev.Timestamp}
		parts := make([]string, 0, len(ev.Args))
		for _, a := range ev.Args {
			var v any
			if len(a.Value) > 0 && json.Unmarshal(a.Value, &v) == nil {
				msg.Args = append(msg.Args, v)
				if str, ok := v.(string); ok {
					parts = append(parts, str)
				} else {
					parts = append(parts, string(a.Value))
				}
				continue
			}
			desc := a.Description
			if desc == "" {
				desc = a.UnserializableValue
			}
			if desc == "" {
				desc = a.Type
			}
			msg.Args = append(msg.Args, desc)
			parts = append(parts, desc)
		}
		msg.Text = strings.Join(parts, " ")
		fn(msg)
	}), nil
}
