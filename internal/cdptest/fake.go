// Package cdptest provides a scriptable fake browser for tests: a DevTools
// HTTP directory plus websocket endpoints speaking the protocol envelope.
package cdptest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/shehryarbajwa/cdp-mini/pkg/models"
)

// ErrNoReply makes the fake swallow a command without responding.
var ErrNoReply = errors.New("no reply")

// Handler answers one command. Returning an error other than ErrNoReply sends
// a protocol error response.
type Handler func(p *Peer, params json.RawMessage) (any, error)

// Command is a command received by the fake.
type Command struct {
	TargetID string
	ID       int64
	Method   string
	Params   json.RawMessage
}

// Peer is the server side of one websocket.
type Peer struct {
	TargetID string
	conn     *websocket.Conn
	mu       sync.Mutex
}

// Emit sends an event to the client.
func (p *Peer) Emit(method string, params any) error {
	return p.write(map[string]any{"method": method, "params": params})
}

func (p *Peer) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Browser is a fake DevTools endpoint.
type Browser struct {
	Server *httptest.Server

	mu          sync.Mutex
	targets     []models.Target
	handlers    map[string]Handler
	received    []Command
	peers       map[*Peer]struct{}
	nextTarget  int
	createFails bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// New starts a fake browser with no targets. It is closed when the test ends.
func New(t testing.TB) *Browser {
	t.Helper()
	b := &Browser{
		handlers: make(map[string]Handler),
		peers:    make(map[*Peer]struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/json/version", b.version).Methods(http.MethodGet)
	r.HandleFunc("/json/list", b.list).Methods(http.MethodGet)
	r.HandleFunc("/json", b.list).Methods(http.MethodGet)
	r.HandleFunc("/json/new", b.create).Methods(http.MethodPut)
	r.HandleFunc("/json/close/{id}", b.closeTarget).Methods(http.MethodGet)
	r.HandleFunc("/devtools/{kind}/{id}", b.serveWS).Methods(http.MethodGet)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Close)
	return b
}

// Endpoint returns the http:// base URL.
func (b *Browser) Endpoint() string { return b.Server.URL }

// HostPort returns host:port of the fake.
func (b *Browser) HostPort() string {
	return strings.TrimPrefix(b.Server.URL, "http://")
}

// Port returns the listening port.
func (b *Browser) Port() int {
	_, p, _ := net.SplitHostPort(b.HostPort())
	port, _ := strconv.Atoi(p)
	return port
}

// AddPage registers a page target.
func (b *Browser) AddPage(url string) models.Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addPageLocked(url)
}

func (b *Browser) addPageLocked(url string) models.Target {
	b.nextTarget++
	id := fmt.Sprintf("PAGE%d", b.nextTarget)
	t := models.Target{
		ID:                   id,
		Type:                 models.TargetTypePage,
		Title:                url,
		URL:                  url,
		WebSocketDebuggerURL: "ws://" + b.HostPort() + "/devtools/page/" + id,
	}
	b.targets = append(b.targets, t)
	return t
}

// FailCreate makes /json/new answer 500.
func (b *Browser) FailCreate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createFails = true
}

// Handle installs the handler for method.
func (b *Browser) Handle(method string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[method] = h
}

// Reply installs a handler that always answers result.
func (b *Browser) Reply(method string, result any) {
	b.Handle(method, func(*Peer, json.RawMessage) (any, error) { return result, nil })
}

// Received returns the commands received so far.
func (b *Browser) Received() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Command(nil), b.received...)
}

// Count returns how many times method was received.
func (b *Browser) Count(method string) int {
	n := 0
	for _, c := range b.Received() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// OpenConnections returns the number of live websockets.
func (b *Browser) OpenConnections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

// DropConnections closes every websocket from the server side.
func (b *Browser) DropConnections() {
	b.mu.Lock()
	peers := make([]*Peer, 0, len(b.peers))
	for p := range b.peers {
		peers = append(peers, p)
	}
	b.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close()
	}
}

// Close shuts the fake down.
func (b *Browser) Close() {
	b.DropConnections()
	b.Server.Close()
}

func (b *Browser) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, models.Version{
		Browser:              "HeadlessChrome/120.0.0.0",
		ProtocolVersion:      "1.3",
		UserAgent:            "cdptest",
		WebSocketDebuggerURL: "ws://" + b.HostPort() + "/devtools/browser/fake",
	})
}

func (b *Browser) list(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	targets := append([]models.Target{}, b.targets...)
	b.mu.Unlock()
	writeJSON(w, targets)
}

func (b *Browser) create(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	if b.createFails {
		b.mu.Unlock()
		http.Error(w, "cannot create target", http.StatusInternalServerError)
		return
	}
	target, err := url.QueryUnescape(r.URL.RawQuery)
	if err != nil || target == "" {
		target = "about:blank"
	}
	t := b.addPageLocked(target)
	b.mu.Unlock()
	writeJSON(w, t)
}

func (b *Browser) closeTarget(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, t := range b.targets {
		if t.ID == id {
			b.targets = append(b.targets[:i], b.targets[i+1:]...)
			_, _ = w.Write([]byte("Target is closing"))
			return
		}
	}
	http.Error(w, "No such target id: "+id, http.StatusNotFound)
}

func (b *Browser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	peer := &Peer{TargetID: mux.Vars(r)["id"], conn: conn}

	b.mu.Lock()
	b.peers[peer] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.peers, peer)
		b.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}

		b.mu.Lock()
		b.received = append(b.received, Command{TargetID: peer.TargetID, ID: cmd.ID, Method: cmd.Method, Params: cmd.Params})
		h := b.handlers[cmd.Method]
		b.mu.Unlock()

		var result any = struct{}{}
		if h != nil {
			result, err = h(peer, cmd.Params)
		}
		switch {
		case errors.Is(err, ErrNoReply):
			continue
		case err != nil:
			_ = peer.write(map[string]any{
				"id":    cmd.ID,
				"error": map[string]any{"code": -32000, "message": err.Error()},
			})
		default:
			if result == nil {
				result = struct{}{}
			}
			_ = peer.write(map[string]any{"id": cmd.ID, "result": result})
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
