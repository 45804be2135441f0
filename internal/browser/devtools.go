package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shehryarbajwa/cdp-mini/pkg/models"
)

// DevTools is a client for the browser's HTTP target directory.
type DevTools struct {
	base   string
	client *http.Client
	// rewriteHost replaces the host of returned websocket URLs. Browsers in
	// containers report their internal address.
	rewriteHost string
}

// NewDevTools creates a directory client for endpoint (http://host:port).
func NewDevTools(endpoint string, client *http.Client) *DevTools {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DevTools{base: endpoint, client: client}
}

// WithHostRewrite makes the client rewrite websocket URLs to hostport.
func (d *DevTools) WithHostRewrite(hostport string) *DevTools {
	d.rewriteHost = hostport
	return d
}

// Endpoint returns the base URL.
func (d *DevTools) Endpoint() string { return d.base }

// Version queries /json/version.
func (d *DevTools) Version(ctx context.Context) (*models.Version, error) {
	var v models.Version
	if err := d.get(ctx, http.MethodGet, "/json/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListTargets queries /json/list.
func (d *DevTools) ListTargets(ctx context.Context) ([]models.Target, error) {
	var targets []models.Target
	if err := d.get(ctx, http.MethodGet, "/json/list", &targets); err != nil {
		return nil, err
	}
	for i := range targets {
		targets[i].WebSocketDebuggerURL = d.rewrite(targets[i].WebSocketDebuggerURL)
	}
	return targets, nil
}

// CreateTarget opens a new tab at rawURL (about:blank when empty). Current
// Chrome requires PUT; older builds only accept GET.
func (d *DevTools) CreateTarget(ctx context.Context, rawURL string) (*models.Target, error) {
	if rawURL == "" {
		rawURL = "about:blank"
	}
	path := "/json/new?" + url.QueryEscape(rawURL)

	var t models.Target
	err := d.get(ctx, http.MethodPut, path, &t)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusMethodNotAllowed {
		err = d.get(ctx, http.MethodGet, path, &t)
	}
	if err != nil {
		return nil, err
	}
	t.WebSocketDebuggerURL = d.rewrite(t.WebSocketDebuggerURL)
	return &t, nil
}

// CloseTarget closes the tab with the given id.
func (d *DevTools) CloseTarget(ctx context.Context, id string) error {
	return d.get(ctx, http.MethodGet, "/json/close/"+url.PathEscape(id), nil)
}

// PageTarget returns the first attachable page, creating one when the
// directory has none.
func (d *DevTools) PageTarget(ctx context.Context) (*models.Target, error) {
	targets, listErr := d.ListTargets(ctx)
	for _, t := range targets {
		if t.IsPage() {
			return &t, nil
		}
	}
	t, err := d.CreateTarget(ctx, "")
	if err == nil && t.WebSocketDebuggerURL != "" {
		return t, nil
	}
	if err == nil {
		err = errors.New("created target has no websocket url")
	}
	if listErr != nil {
		return nil, fmt.Errorf("%w: list: %v; create: %v", ErrNoTargetAvailable, listErr, err)
	}
	return nil, fmt.Errorf("%w: create: %v", ErrNoTargetAvailable, err)
}

type statusError struct {
	path string
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("devtools %s: status %d: %s", e.path, e.code, e.body)
}

func (d *DevTools) get(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, d.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("devtools %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{path: path, code: resp.StatusCode, body: string(body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (d *DevTools) rewrite(wsURL string) string {
	if d.rewriteHost == "" || wsURL == "" {
		return wsURL
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	u.Host = d.rewriteHost
	return u.String()
}
