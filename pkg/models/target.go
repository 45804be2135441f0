package models

// TargetTypePage is the target type of a browser tab.
const TargetTypePage = "page"

// Target is one entry of the DevTools /json/list directory
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
	DevtoolsFrontendURL  string `json:"devtoolsFrontendUrl,omitempty"`
}

// IsPage reports whether the target is a tab that can be attached to.
func (t Target) IsPage() bool {
	return t.Type == TargetTypePage && t.WebSocketDebuggerURL != ""
}

// Version is the DevTools /json/version response
type Version struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	V8Version            string `json:"V8-Version,omitempty"`
	WebKitVersion        string `json:"WebKit-Version,omitempty"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}
