// Package cdp implements a minimal Chrome DevTools Protocol client: one
// websocket connection per target, correlation of commands with their
// responses, and fan-out of protocol events to subscribers.
package cdp

import "encoding/json"

// request is the outgoing command envelope: {id, method, params}.
type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// message is any incoming envelope. Responses carry an id, events carry a
// method and no id.
type message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Params is a convenience type for ad hoc command parameters.
type Params map[string]any

// emptyParams is sent when a caller passes nil so that params is always an
// object on the wire.
var emptyParams = struct{}{}
