package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/cdp-mini/internal/browser"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Browser.Headless)
	assert.Zero(t, cfg.Browser.Port)
	assert.Equal(t, BackendLocal, cfg.Browser.Backend)
	assert.Equal(t, 16, cfg.Session.MaxSessions)
	assert.Equal(t, 30*time.Second, cfg.GetCommandTimeout())
	assert.Equal(t, 30*time.Second, cfg.GetNavigationTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.GetQuietWindow())
	assert.Equal(t, 20*time.Second, cfg.GetStartupTimeout())
	assert.Zero(t, cfg.GetIdleTimeout())
}

func TestLoad_YAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "cdp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
browser:
  headless: false
  port: 9333
  flags: ["--window-size=800,600"]
  backend: docker
cdp:
  command_timeout: 5s
session:
  navigation_timeout: 12s
  idle_timeout: 10m
  max_sessions: 4
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 9333, cfg.Browser.Port)
	assert.Equal(t, []string{"--window-size=800,600"}, cfg.Browser.Flags)
	assert.Equal(t, BackendDocker, cfg.Browser.Backend)
	assert.Equal(t, 5*time.Second, cfg.GetCommandTimeout())

	mc := cfg.ManagerConfig()
	assert.Equal(t, 12*time.Second, mc.Session.NavigationTimeout)
	assert.Equal(t, 10*time.Minute, mc.IdleTimeout)
	assert.Equal(t, 4, mc.MaxSessions)
	assert.Equal(t, 9333, mc.Browser.Port)
	// Unset keys keep their defaults.
	assert.Equal(t, 500*time.Millisecond, mc.Session.QuietWindow)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("browser: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("browser settings", func(t *testing.T) {
		t.Setenv("CHROME_PATH", "/opt/chrome")
		t.Setenv("CDP_BROWSER_BIN", "")
		t.Setenv("CDP_HEADLESS", "false")
		t.Setenv("CDP_PORT", "9444")
		t.Setenv("CDP_BROWSER_FLAGS", "--lang=de  --mute-audio")
		t.Setenv("CDP_ENDPOINT", "127.0.0.1:9222")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, "/opt/chrome", cfg.Browser.Bin)
		assert.False(t, cfg.Browser.Headless)
		assert.Equal(t, 9444, cfg.Browser.Port)
		assert.Equal(t, []string{"--lang=de", "--mute-audio"}, cfg.Browser.Flags)
		assert.Equal(t, "127.0.0.1:9222", cfg.Browser.Endpoint)
	})

	t.Run("CDP_BROWSER_BIN wins over CHROME_PATH", func(t *testing.T) {
		t.Setenv("CHROME_PATH", "/opt/chrome")
		t.Setenv("CDP_BROWSER_BIN", "/usr/bin/chromium")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())
		assert.Equal(t, "/usr/bin/chromium", cfg.Browser.Bin)
	})

	t.Run("timeouts and limits", func(t *testing.T) {
		t.Setenv("CDP_COMMAND_TIMEOUT", "2s")
		t.Setenv("CDP_NAVIGATION_TIMEOUT", "3s")
		t.Setenv("CDP_QUIET_WINDOW", "250ms")
		t.Setenv("CDP_MAX_SESSIONS", "2")
		t.Setenv("CDP_SERVER_ADDR", ":9000")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())
		assert.Equal(t, 2*time.Second, cfg.GetCommandTimeout())
		assert.Equal(t, 3*time.Second, cfg.GetNavigationTimeout())
		assert.Equal(t, 250*time.Millisecond, cfg.GetQuietWindow())
		assert.Equal(t, 2, cfg.Session.MaxSessions)
		assert.Equal(t, ":9000", cfg.Server.Addr)
	})

	t.Run("bad values", func(t *testing.T) {
		t.Setenv("CDP_PORT", "ninety")
		cfg := DefaultConfig()
		assert.Error(t, cfg.applyEnvOverrides())
	})
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Browser.Backend = "vm"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Session.QuietWindow = "soon"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Browser.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestNewLauncher_Local(t *testing.T) {
	cfg := DefaultConfig()
	l, closeFn, err := cfg.NewLauncher(zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &browser.LocalLauncher{}, l)
	assert.NoError(t, closeFn())
}
