package models

// NavigateRequest is the payload for POST /v1/sessions/{id}/navigate
type NavigateRequest struct {
	URL       string `json:"url"`
	WaitUntil string `json:"waitUntil,omitempty"` // load, domcontentloaded, networkidle, commit
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// EvaluateRequest is the payload for POST /v1/sessions/{id}/evaluate
type EvaluateRequest struct {
	Expression string `json:"expression"`
}

// ElementRequest is the payload for click and type
type ElementRequest struct {
	Selector string `json:"selector"`
	Text     string `json:"text,omitempty"`
}

// Result is the envelope returned by action endpoints and the CLI
type Result struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Value   any    `json:"value,omitempty"`
	Found   *bool  `json:"found,omitempty"`
	Path    string `json:"path,omitempty"`
	Bytes   int    `json:"bytes,omitempty"`

	// Console holds page console output captured during the action
	Console []string `json:"console,omitempty"`
}

// ErrorResponse reports a failure with its stable kind
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Stack   string `json:"stack,omitempty"`
}
