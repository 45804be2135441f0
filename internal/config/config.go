// Package config loads driver settings from an optional YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/cdp-mini/internal/browser"
	"github.com/shehryarbajwa/cdp-mini/internal/session"
)

// Backends accepted by browser.backend.
const (
	BackendLocal  = "local"
	BackendDocker = "docker"
)

// Config holds all driver configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	CDP     CDPConfig     `yaml:"cdp"`
	Session SessionConfig `yaml:"session"`
	Server  ServerConfig  `yaml:"server"`
}

// BrowserConfig configures how the browser is obtained.
type BrowserConfig struct {
	Bin            string   `yaml:"bin"`
	Headless       bool     `yaml:"headless"`
	Port           int      `yaml:"port"`
	Flags          []string `yaml:"flags"`
	UserDataDir    string   `yaml:"user_data_dir"`
	StartupTimeout string   `yaml:"startup_timeout"`
	Backend        string   `yaml:"backend"` // local, docker
	Image          string   `yaml:"image"`
	Endpoint       string   `yaml:"endpoint"` // host:port of a running browser
	Detach         bool     `yaml:"detach"`
	Profile        string   `yaml:"profile"`
	ProfileDir     string   `yaml:"profile_dir"`
}

// CDPConfig configures protocol connections.
type CDPConfig struct {
	CommandTimeout string `yaml:"command_timeout"`
}

// SessionConfig configures sessions and the manager.
type SessionConfig struct {
	NavigationTimeout string `yaml:"navigation_timeout"`
	QuietWindow       string `yaml:"quiet_window"`
	MaxSessions       int    `yaml:"max_sessions"`
	IdleTimeout       string `yaml:"idle_timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	RatePerHour int    `yaml:"rate_per_hour"`
	Burst       int    `yaml:"burst"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:       true,
			StartupTimeout: "20s",
			Backend:        BackendLocal,
			Image:          browser.DefaultImage,
			ProfileDir:     "./storage/profiles",
		},
		CDP: CDPConfig{
			CommandTimeout: "30s",
		},
		Session: SessionConfig{
			NavigationTimeout: "30s",
			QuietWindow:       "500ms",
			MaxSessions:       16,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			RatePerHour: 3600,
			Burst:       20,
		},
	}
}

// Load reads path (a missing file means defaults), then loads .env and
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if bin := os.Getenv("CHROME_PATH"); bin != "" {
		c.Browser.Bin = bin
	}
	if bin := os.Getenv("CDP_BROWSER_BIN"); bin != "" {
		c.Browser.Bin = bin
	}
	if v := os.Getenv("CDP_HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CDP_HEADLESS: %w", err)
		}
		c.Browser.Headless = b
	}
	if v := os.Getenv("CDP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CDP_PORT: %w", err)
		}
		c.Browser.Port = port
	}
	if v := os.Getenv("CDP_BROWSER_FLAGS"); v != "" {
		c.Browser.Flags = strings.Fields(v)
	}
	if v := os.Getenv("CDP_BACKEND"); v != "" {
		c.Browser.Backend = v
	}
	if v := os.Getenv("CDP_ENDPOINT"); v != "" {
		c.Browser.Endpoint = v
	}
	if v := os.Getenv("CDP_COMMAND_TIMEOUT"); v != "" {
		c.CDP.CommandTimeout = v
	}
	if v := os.Getenv("CDP_NAVIGATION_TIMEOUT"); v != "" {
		c.Session.NavigationTimeout = v
	}
	if v := os.Getenv("CDP_QUIET_WINDOW"); v != "" {
		c.Session.QuietWindow = v
	}
	if v := os.Getenv("CDP_MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CDP_MAX_SESSIONS: %w", err)
		}
		c.Session.MaxSessions = n
	}
	if v := os.Getenv("CDP_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Browser.Backend {
	case "", BackendLocal, BackendDocker:
	default:
		return fmt.Errorf("browser.backend must be %q or %q, got %q", BackendLocal, BackendDocker, c.Browser.Backend)
	}
	if c.Browser.Port < 0 || c.Browser.Port > 65535 {
		return fmt.Errorf("browser.port out of range: %d", c.Browser.Port)
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("session.max_sessions must not be negative")
	}
	for key, v := range map[string]string{
		"browser.startup_timeout":    c.Browser.StartupTimeout,
		"cdp.command_timeout":        c.CDP.CommandTimeout,
		"session.navigation_timeout": c.Session.NavigationTimeout,
		"session.quiet_window":       c.Session.QuietWindow,
		"session.idle_timeout":       c.Session.IdleTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// GetCommandTimeout returns the per-command deadline.
func (c *Config) GetCommandTimeout() time.Duration {
	return duration(c.CDP.CommandTimeout, 30*time.Second)
}

// GetNavigationTimeout returns the default navigation deadline.
func (c *Config) GetNavigationTimeout() time.Duration {
	return duration(c.Session.NavigationTimeout, 30*time.Second)
}

// GetQuietWindow returns the networkidle quiet window.
func (c *Config) GetQuietWindow() time.Duration {
	return duration(c.Session.QuietWindow, 500*time.Millisecond)
}

// GetStartupTimeout returns the browser startup deadline.
func (c *Config) GetStartupTimeout() time.Duration {
	return duration(c.Browser.StartupTimeout, browser.DefaultStartupTimeout)
}

// GetIdleTimeout returns the session idle timeout; zero disables it.
func (c *Config) GetIdleTimeout() time.Duration {
	return duration(c.Session.IdleTimeout, 0)
}

// BrowserOptions converts the browser section to launch options.
func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		Bin:            c.Browser.Bin,
		Headless:       c.Browser.Headless,
		Port:           c.Browser.Port,
		Flags:          c.Browser.Flags,
		UserDataDir:    c.Browser.UserDataDir,
		StartupTimeout: c.GetStartupTimeout(),
		Detach:         c.Browser.Detach,
	}
}

// ManagerConfig converts the configuration for session.NewManager. Profiles
// are left for the caller to open.
func (c *Config) ManagerConfig() session.Config {
	return session.Config{
		Browser:  c.BrowserOptions(),
		Endpoint: c.Browser.Endpoint,
		Session: session.Options{
			NavigationTimeout: c.GetNavigationTimeout(),
			QuietWindow:       c.GetQuietWindow(),
			CommandTimeout:    c.GetCommandTimeout(),
		},
		MaxSessions: c.Session.MaxSessions,
		IdleTimeout: c.GetIdleTimeout(),
		Profile:     c.Browser.Profile,
	}
}

// NewLauncher builds the launcher for the configured backend. The returned
// function releases backend resources.
func (c *Config) NewLauncher(log *zap.Logger) (browser.Launcher, func() error, error) {
	if c.Browser.Backend != BackendDocker {
		return browser.NewLocalLauncher(log), func() error { return nil }, nil
	}
	l, err := browser.NewContainerLauncher(c.Browser.Image, log)
	if err != nil {
		return nil, nil, err
	}
	return l, l.Close, nil
}
