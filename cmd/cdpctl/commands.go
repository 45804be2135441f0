package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/cdp-mini/internal/browser"
	"github.com/shehryarbajwa/cdp-mini/internal/config"
	"github.com/shehryarbajwa/cdp-mini/internal/profile"
	"github.com/shehryarbajwa/cdp-mini/internal/session"
	"github.com/shehryarbajwa/cdp-mini/pkg/models"
)

func (a *app) navigateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "navigate [url]",
		Short: "Load a URL and wait for it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.url = args[0]
			}
			if a.url == "" {
				return fmt.Errorf("navigate needs a url")
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) (models.Result, error) {
				var href string
				if err := s.EvaluateInto(ctx, "location.href", &href); err != nil {
					return models.Result{}, err
				}
				return models.Result{URL: href}, nil
			})
		},
	}
}

func (a *app) evaluateCmd() *cobra.Command {
	var console bool
	cmd := &cobra.Command{
		Use:   "evaluate <expression>",
		Short: "Evaluate a JavaScript expression and print its value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) (models.Result, error) {
				var (
					mu   sync.Mutex
					logs []string
				)
				if console {
					sub, err := s.OnConsole(ctx, func(m session.ConsoleMessage) {
						mu.Lock()
						logs = append(logs, m.Type+": "+m.Text)
						mu.Unlock()
					})
					if err != nil {
						return models.Result{}, err
					}
					defer s.Conn().Off(sub)
				}

				v, err := s.Evaluate(ctx, args[0])
				if err != nil {
					return models.Result{}, err
				}
				mu.Lock()
				defer mu.Unlock()
				return models.Result{Value: v, Console: logs}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&console, "console", false, "include console output produced by the expression")
	return cmd
}

func (a *app) queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <selector>",
		Short: "Report whether a selector matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) (models.Result, error) {
				el, err := s.QuerySelector(ctx, args[0])
				if err != nil {
					return models.Result{}, err
				}
				found := el != nil
				return models.Result{Found: &found}, nil
			})
		},
	}
}

func (a *app) clickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "click <selector>",
		Short: "Click the element matching a selector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) (models.Result, error) {
				return models.Result{}, s.Click(ctx, args[0])
			})
		},
	}
}

func (a *app) typeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "type <selector> <text>",
		Short: "Focus an element and type text into it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) (models.Result, error) {
				return models.Result{}, s.Type(ctx, args[0], args[1])
			})
		},
	}
}

func (a *app) screenshotCmd() *cobra.Command {
	var (
		output   string
		opts     session.ScreenshotOptions
		viewport session.Viewport
	)
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Capture the page to an image file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format == "" {
				opts.Format = strings.TrimPrefix(filepath.Ext(output), ".")
				if opts.Format == "jpg" {
					opts.Format = "jpeg"
				}
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) (models.Result, error) {
				if viewport.Width > 0 && viewport.Height > 0 {
					if err := s.SetViewport(ctx, viewport); err != nil {
						return models.Result{}, err
					}
				}
				img, err := s.Screenshot(ctx, opts)
				if err != nil {
					return models.Result{}, err
				}
				if err := os.WriteFile(output, img, 0o644); err != nil {
					return models.Result{}, fmt.Errorf("failed to write screenshot: %w", err)
				}
				return models.Result{Path: output, Bytes: len(img)}, nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "screenshot.png", "image file to write")
	f.StringVar(&opts.Format, "format", "", "png, jpeg or webp (default from the output extension)")
	f.IntVar(&opts.Quality, "quality", 0, "jpeg/webp quality 0-100")
	f.BoolVar(&opts.FullPage, "full-page", false, "capture the whole scrollable page")
	f.IntVar(&viewport.Width, "width", 0, "viewport width")
	f.IntVar(&viewport.Height, "height", 0, "viewport height")
	return cmd
}

func (a *app) targetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the browser's targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBrowser(cmd, func(ctx context.Context, inst *browser.Instance) (models.Result, error) {
				targets, err := inst.DevTools().ListTargets(ctx)
				if err != nil {
					return models.Result{}, err
				}
				return models.Result{Value: targets}, nil
			})
		},
	}
}

func (a *app) profilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage saved browser profiles",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved profiles",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := a.profileStore()
				if err != nil {
					return err
				}
				profiles, err := store.List()
				if err != nil {
					return err
				}
				if profiles == nil {
					profiles = []models.Profile{}
				}
				a.succeed(models.Result{Value: profiles})
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a saved profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := a.profileStore()
				if err != nil {
					return err
				}
				if err := store.Delete(args[0]); err != nil {
					return err
				}
				a.succeed(models.Result{})
				return nil
			},
		},
	)
	return cmd
}

func (a *app) profileStore() (*profile.Store, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	return profile.NewStore(cfg.Browser.ProfileDir)
}
