// Command cdpctl drives a Chrome page from the shell. Each invocation prints
// one JSON object: the result on stdout, or the failure on stderr with a
// non-zero exit status.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/cdp-mini/internal/browser"
	"github.com/shehryarbajwa/cdp-mini/internal/config"
	"github.com/shehryarbajwa/cdp-mini/internal/logging"
	"github.com/shehryarbajwa/cdp-mini/internal/profile"
	"github.com/shehryarbajwa/cdp-mini/internal/session"
	"github.com/shehryarbajwa/cdp-mini/pkg/models"
)

// defaultPort lets consecutive invocations find and reuse the same browser.
const defaultPort = 9222

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs one command line and returns the exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stderr)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		a.fail(err)
		return 1
	}
	return 0
}

type app struct {
	stdout, stderr io.Writer

	configPath string
	url        string
	headless   bool
	timeout    time.Duration
	waitUntil  string
	waitFor    string
	port       int
	endpoint   string
	closeAll   bool
	profile    string
	verbose    bool

	log *zap.Logger
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cdpctl",
		Short:         "Drive a Chrome page over the DevTools protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "config file")
	f.StringVar(&a.url, "url", "", "navigate here before the action")
	f.BoolVar(&a.headless, "headless", true, "run Chrome headless")
	f.DurationVar(&a.timeout, "timeout", session.DefaultNavigationTimeout, "navigation timeout")
	f.StringVar(&a.waitUntil, "wait-until", string(session.WaitLoad), "load, domcontentloaded, networkidle or commit")
	f.StringVar(&a.waitFor, "wait-for", "", "wait for this selector after navigating")
	f.IntVar(&a.port, "port", defaultPort, "DevTools port; 0 picks a free one")
	f.StringVar(&a.endpoint, "endpoint", "", "host:port of a running browser to attach to")
	f.BoolVar(&a.closeAll, "close", false, "shut the browser down afterwards")
	f.StringVar(&a.profile, "profile", "", "saved profile to restore and save back")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		a.navigateCmd(),
		a.evaluateCmd(),
		a.queryCmd(),
		a.clickCmd(),
		a.typeCmd(),
		a.screenshotCmd(),
		a.targetsCmd(),
		a.profilesCmd(),
	)
	return root
}

func (a *app) writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (a *app) succeed(res models.Result) {
	res.Success = true
	a.writeJSON(a.stdout, res)
}

func (a *app) fail(err error) {
	resp := models.ErrorResponse{Error: err.Error(), Kind: session.Kind(err)}
	var evalErr *session.EvaluationError
	if errors.As(err, &evalErr) {
		resp.Stack = fmt.Sprintf("%s\n    at <expression>:%d:%d", evalErr.Text, evalErr.Line+1, evalErr.Column+1)
	}
	a.writeJSON(a.stderr, resp)
}

// setup loads configuration and applies the flags that were set explicitly.
func (a *app) setup(cmd *cobra.Command) (*config.Config, error) {
	if a.verbose {
		log, err := logging.New(true)
		if err != nil {
			return nil, err
		}
		a.log = log
	} else {
		a.log = logging.Quiet()
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("headless") {
		cfg.Browser.Headless = a.headless
	}
	if flags.Changed("port") || cfg.Browser.Port == 0 {
		cfg.Browser.Port = a.port
	}
	if flags.Changed("endpoint") {
		cfg.Browser.Endpoint = a.endpoint
	}
	if flags.Changed("profile") {
		cfg.Browser.Profile = a.profile
	}
	if flags.Changed("timeout") {
		cfg.Session.NavigationTimeout = a.timeout.String()
	}
	// A browser on a fixed port can be found again by the next run.
	cfg.Browser.Detach = a.keepBrowser(cfg)
	return cfg, nil
}

func (a *app) keepBrowser(cfg *config.Config) bool {
	if a.closeAll || cfg.Browser.Profile != "" {
		return false
	}
	return cfg.Browser.Endpoint != "" || cfg.Browser.Port != 0
}

// action runs fn against a session on the reused or launched browser.
type action func(ctx context.Context, s *session.Session) (models.Result, error)

func (a *app) withSession(cmd *cobra.Command, fn action) error {
	cfg, err := a.setup(cmd)
	if err != nil {
		return err
	}
	wait, err := session.ParseWaitUntil(a.waitUntil)
	if err != nil {
		return err
	}

	return a.withManager(cmd.Context(), cfg, func(ctx context.Context, mgr *session.Manager) error {
		s, err := mgr.NewSession(ctx, session.SessionRequest{
			URL:      a.url,
			Navigate: session.NavigateOptions{WaitUntil: wait, Timeout: cfg.GetNavigationTimeout()},
		})
		if err != nil {
			return err
		}
		if a.waitFor != "" {
			if _, err := s.WaitForSelector(ctx, a.waitFor, cfg.GetNavigationTimeout()); err != nil {
				return err
			}
		}
		res, err := fn(ctx, s)
		if err != nil {
			return err
		}
		if res.URL == "" {
			res.URL = a.url
		}
		a.succeed(res)
		return nil
	})
}

// withManager owns the manager for one run and tears it down afterwards:
// sessions always close, the browser only when it is not kept for reuse.
func (a *app) withManager(ctx context.Context, cfg *config.Config, fn func(context.Context, *session.Manager) error) error {
	launcher, closeLauncher, err := cfg.NewLauncher(a.log)
	if err != nil {
		return err
	}
	defer func() { _ = closeLauncher() }()

	mcfg := cfg.ManagerConfig()
	if cfg.Browser.Profile != "" {
		store, err := profile.NewStore(cfg.Browser.ProfileDir)
		if err != nil {
			return err
		}
		mcfg.Profiles = store
	}
	mcfg.CloseExternal = a.closeAll
	mgr := session.NewManager(launcher, mcfg, a.log)

	defer func() {
		teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		var closeErr error
		if cfg.Browser.Detach {
			closeErr = mgr.Detach(teardownCtx)
		} else {
			closeErr = mgr.CloseAll(teardownCtx)
		}
		if closeErr != nil {
			a.log.Warn("teardown failed", zap.Error(closeErr))
		}
	}()

	return fn(ctx, mgr)
}

// withBrowser runs fn against the browser without opening a session.
func (a *app) withBrowser(cmd *cobra.Command, fn func(ctx context.Context, inst *browser.Instance) (models.Result, error)) error {
	cfg, err := a.setup(cmd)
	if err != nil {
		return err
	}
	return a.withManager(cmd.Context(), cfg, func(ctx context.Context, mgr *session.Manager) error {
		inst, err := mgr.Launch(ctx)
		if err != nil {
			return err
		}
		res, err := fn(ctx, inst)
		if err != nil {
			return err
		}
		a.succeed(res)
		return nil
	})
}
