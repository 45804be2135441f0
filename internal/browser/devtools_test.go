package browser_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/cdp-mini/internal/browser"
	"github.com/shehryarbajwa/cdp-mini/internal/cdptest"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDevTools_ListTargets(t *testing.T) {
	fake := cdptest.New(t)
	page := fake.AddPage("http://test/page")

	targets, err := browser.NewDevTools(fake.Endpoint(), nil).ListTargets(testCtx(t))
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, page.ID, targets[0].ID)
	assert.True(t, targets[0].IsPage())
}

func TestDevTools_PageTargetCreatesWhenEmpty(t *testing.T) {
	fake := cdptest.New(t)

	target, err := browser.NewDevTools(fake.Endpoint(), nil).PageTarget(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "about:blank", target.URL)
	assert.NotEmpty(t, target.WebSocketDebuggerURL)
}

func TestDevTools_CreateTargetKeepsURL(t *testing.T) {
	fake := cdptest.New(t)

	target, err := browser.NewDevTools(fake.Endpoint(), nil).CreateTarget(testCtx(t), "http://test/page?q=a b&n=1#top")
	require.NoError(t, err)
	assert.Equal(t, "http://test/page?q=a b&n=1#top", target.URL)
}

func TestDevTools_PageTargetPrefersExisting(t *testing.T) {
	fake := cdptest.New(t)
	page := fake.AddPage("http://test/existing")

	target, err := browser.NewDevTools(fake.Endpoint(), nil).PageTarget(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, page.ID, target.ID)
}

func TestDevTools_NoTargetAvailable(t *testing.T) {
	fake := cdptest.New(t)
	fake.FailCreate()

	_, err := browser.NewDevTools(fake.Endpoint(), nil).PageTarget(testCtx(t))
	require.ErrorIs(t, err, browser.ErrNoTargetAvailable)
}

func TestDevTools_CreateFallsBackToGet(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(`{"id":"T1","type":"page","url":"about:blank","webSocketDebuggerUrl":"ws://127.0.0.1:1/devtools/page/T1"}`))
	}))
	defer srv.Close()

	target, err := browser.NewDevTools(srv.URL, nil).CreateTarget(testCtx(t), "")
	require.NoError(t, err)
	assert.Equal(t, "T1", target.ID)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{http.MethodPut, http.MethodGet}, methods)
}

func TestDevTools_HostRewrite(t *testing.T) {
	fake := cdptest.New(t)
	fake.AddPage("about:blank")

	dt := browser.NewDevTools(fake.Endpoint(), nil).WithHostRewrite("127.0.0.1:49999")
	targets, err := dt.ListTargets(testCtx(t))
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Contains(t, targets[0].WebSocketDebuggerURL, "ws://127.0.0.1:49999/devtools/page/")
}

func TestDevTools_CloseTarget(t *testing.T) {
	fake := cdptest.New(t)
	page := fake.AddPage("about:blank")
	dt := browser.NewDevTools(fake.Endpoint(), nil)

	require.NoError(t, dt.CloseTarget(testCtx(t), page.ID))
	targets, err := dt.ListTargets(testCtx(t))
	require.NoError(t, err)
	assert.Empty(t, targets)
	assert.Error(t, dt.CloseTarget(testCtx(t), page.ID))
}

func TestAttach(t *testing.T) {
	fake := cdptest.New(t)

	inst, err := browser.Attach(testCtx(t), fake.HostPort())
	require.NoError(t, err)
	assert.True(t, inst.External)
	assert.True(t, inst.Running())
	assert.Equal(t, fake.Endpoint(), inst.Endpoint())

	require.NoError(t, inst.Stop(testCtx(t)))
	assert.False(t, inst.Running())
}

func TestAttach_Unreachable(t *testing.T) {
	_, err := browser.Attach(testCtx(t), "127.0.0.1:1")
	require.Error(t, err)
}
