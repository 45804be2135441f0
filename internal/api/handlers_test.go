package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/cdp-mini/internal/cdptest"
	"github.com/shehryarbajwa/cdp-mini/internal/profile"
	"github.com/shehryarbajwa/cdp-mini/internal/proxy"
	"github.com/shehryarbajwa/cdp-mini/internal/ratelimit"
	"github.com/shehryarbajwa/cdp-mini/internal/session"
	"github.com/shehryarbajwa/cdp-mini/pkg/models"
)

func fakePage(fake *cdptest.Browser) {
	fake.Handle("Page.navigate", func(p *cdptest.Peer, _ json.RawMessage) (any, error) {
		_ = p.Emit("Page.domContentEventFired", map[string]any{})
		_ = p.Emit("Page.loadEventFired", map[string]any{})
		return map[string]any{"frameId": "F1", "loaderId": "L1"}, nil
	})
	fake.Reply("Runtime.evaluate", map[string]any{"result": map[string]any{"type": "number", "value": 2}})
	fake.Reply("DOM.getDocument", map[string]any{"root": map[string]any{"nodeId": 1}})
	fake.Reply("DOM.querySelector", map[string]any{"nodeId": 0})
	fake.Reply("Page.captureScreenshot", map[string]any{"data": base64.StdEncoding.EncodeToString([]byte("png"))})
}

type testServer struct {
	*httptest.Server
	fake *cdptest.Browser
	mgr  *session.Manager
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *testServer {
	t.Helper()
	fake := cdptest.New(t)
	fakePage(fake)

	mgr := session.NewManager(nil, session.Config{Endpoint: fake.HostPort()}, zap.NewNop())
	t.Cleanup(func() { _ = mgr.CloseAll(context.Background()) })

	store, err := profile.NewStore(t.TempDir())
	require.NoError(t, err)

	h := NewHandler(mgr, zap.NewNop())
	srv := httptest.NewServer(h.SetupRoutes(NewProfileHandler(store), proxy.NewServer(mgr, nil), limiter))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, fake: fake, mgr: mgr}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) createSession(t *testing.T) models.Session {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[models.Session](t, resp)
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	sess := srv.createSession(t)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, models.StatusOpen, sess.Status)

	resp := srv.do(t, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.Session](t, resp), 1)

	resp = srv.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodDelete, "/v1/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, session.KindSessionNotFound, decode[models.ErrorResponse](t, resp).Kind)
}

func TestSessionActions(t *testing.T) {
	srv := newTestServer(t, nil)
	sess := srv.createSession(t)
	base := "/v1/sessions/" + sess.ID

	resp := srv.do(t, http.MethodPost, base+"/navigate", models.NavigateRequest{URL: "http://test/", WaitUntil: "domcontentloaded"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[models.Result](t, resp).Success)

	resp = srv.do(t, http.MethodPost, base+"/evaluate", models.EvaluateRequest{Expression: "1+1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), decode[models.Result](t, resp).Value)

	resp = srv.do(t, http.MethodPost, base+"/query", models.ElementRequest{Selector: "#missing"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[models.Result](t, resp)
	require.NotNil(t, res.Found)
	assert.False(t, *res.Found)

	resp = srv.do(t, http.MethodPost, base+"/click", models.ElementRequest{Selector: "#missing"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, session.KindElementNotFound, decode[models.ErrorResponse](t, resp).Kind)

	resp = srv.do(t, http.MethodGet, base+"/screenshot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), img)
}

func TestSessionActions_BadRequests(t *testing.T) {
	srv := newTestServer(t, nil)
	base := "/v1/sessions/" + srv.createSession(t).ID

	resp := srv.do(t, http.MethodPost, base+"/navigate", models.NavigateRequest{URL: "http://test/", WaitUntil: "eventually"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, base+"/evaluate", models.EvaluateRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, base+"/screenshot?quality=200", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/v1/sessions/nope/evaluate", models.EvaluateRequest{Expression: "1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTargets(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.fake.AddPage("http://listed/")

	resp := srv.do(t, http.MethodGet, "/v1/targets", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	targets := decode[[]models.Target](t, resp)
	require.Len(t, targets, 1)
	assert.Equal(t, "http://listed/", targets[0].URL)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, ratelimit.NewLimiter(1, 2))

	for i := 0; i < 2; i++ {
		resp := srv.do(t, http.MethodGet, "/v1/sessions", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := srv.do(t, http.MethodGet, "/v1/sessions", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	// Screenshots are not limited.
	resp = srv.do(t, http.MethodGet, "/v1/sessions/nope/screenshot", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProfiles(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := srv.do(t, http.MethodGet, "/v1/profiles", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]models.Profile](t, resp))

	resp = srv.do(t, http.MethodGet, "/v1/profiles/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = srv.do(t, http.MethodDelete, "/v1/profiles/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDebugProxy(t *testing.T) {
	srv := newTestServer(t, nil)
	sess := srv.createSession(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + sess.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"id":     1,
		"method": "Runtime.evaluate",
		"params": map[string]any{"expression": "1+1"},
	}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg struct {
		ID     int64 `json:"id"`
		Result struct {
			Result struct {
				Value float64 `json:"value"`
			} `json:"result"`
		} `json:"result"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, int64(1), msg.ID)
	assert.Equal(t, float64(2), msg.Result.Result.Value)
	assert.Equal(t, 1, srv.fake.Count("Runtime.evaluate"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(session.KindSessionNotFound))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(session.KindTooManySessions))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(session.KindNavigationTimeout))
	assert.Equal(t, http.StatusBadGateway, statusFor(session.KindProtocolError))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(session.KindNoTargetAvailable))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(session.KindEvaluationError))
	assert.Equal(t, http.StatusInternalServerError, statusFor(session.KindError))
}
