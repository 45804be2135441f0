package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DebuggingPortFile is written by Chrome into the user data directory when it
// is started with --remote-debugging-port=0.
const DebuggingPortFile = "DevToolsActivePort"

// stopGrace is how long Stop waits after SIGTERM before sending SIGKILL.
const stopGrace = 5 * time.Second

// defaultFlags keep Chrome quiet and container friendly.
var defaultFlags = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-gpu",
	"--no-sandbox",
	"--disable-dev-shm-usage",
}

// binaryCandidates are searched on PATH when Options.Bin is empty.
var binaryCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

// LocalLauncher runs Chrome as a child process.
type LocalLauncher struct {
	log *zap.Logger
}

// NewLocalLauncher creates a launcher for locally installed Chrome.
func NewLocalLauncher(log *zap.Logger) *LocalLauncher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalLauncher{log: log}
}

// BuildFlags returns the command line for opts and the given profile dir.
func BuildFlags(opts Options, userDataDir string) []string {
	flags := append([]string{}, defaultFlags...)
	flags = append(flags,
		"--remote-debugging-port="+strconv.Itoa(opts.Port),
		"--user-data-dir="+userDataDir,
	)
	if opts.Headless {
		flags = append(flags, "--headless=new")
	}
	flags = append(flags, opts.Flags...)
	return append(flags, "about:blank")
}

// Launch starts Chrome, or attaches to one already listening on opts.Port.
func (l *LocalLauncher) Launch(ctx context.Context, opts Options) (*Instance, error) {
	opts = opts.withDefaults()

	if opts.Port != 0 {
		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		inst, err := Attach(probeCtx, net.JoinHostPort("127.0.0.1", strconv.Itoa(opts.Port)))
		cancel()
		if err == nil {
			l.log.Info("reusing running browser", zap.Int("port", opts.Port))
			return inst, nil
		}
	}

	bin, err := findBinary(opts.Bin)
	if err != nil {
		return nil, err
	}

	userDataDir := opts.UserDataDir
	tempProfile := false
	if userDataDir == "" {
		userDataDir, err = os.MkdirTemp("", "cdp-mini-profile-")
		if err != nil {
			return nil, fmt.Errorf("create user data directory: %w", err)
		}
		tempProfile = true
	} else if err := os.MkdirAll(userDataDir, 0755); err != nil {
		return nil, fmt.Errorf("create user data directory: %w", err)
	}
	portFile := filepath.Join(userDataDir, DebuggingPortFile)
	if opts.Port == 0 {
		_ = os.Remove(portFile)
	}

	flags := BuildFlags(opts, userDataDir)
	cmd := exec.Command(bin, flags...)
	cmd.SysProcAttr = sysProcAttr(opts.Detach)
	if err := cmd.Start(); err != nil {
		if tempProfile {
			_ = os.RemoveAll(userDataDir)
		}
		return nil, fmt.Errorf("start browser: %w", err)
	}

	inst := &Instance{
		PID:         cmd.Process.Pid,
		Host:        "127.0.0.1",
		Port:        opts.Port,
		Flags:       flags,
		UserDataDir: userDataDir,
		exited:      make(chan struct{}),
	}
	go func() {
		inst.markExited(cmd.Wait())
	}()
	inst.stopFn = func(ctx context.Context) error {
		err := terminate(ctx, cmd.Process.Pid, inst.exited)
		if tempProfile {
			if rmErr := os.RemoveAll(userDataDir); rmErr != nil {
				l.log.Warn("remove temporary profile", zap.String("dir", userDataDir), zap.Error(rmErr))
			}
		}
		return err
	}

	l.log.Info("browser started", zap.Int("pid", inst.PID), zap.String("bin", bin), zap.Bool("headless", opts.Headless))

	portFn := func() (int, error) {
		if opts.Port != 0 {
			return opts.Port, nil
		}
		return readDebuggingPort(portFile)
	}
	if err := waitForEndpoint(ctx, inst, opts, portFn); err != nil {
		if stopErr := inst.Stop(context.Background()); stopErr != nil {
			l.log.Warn("stop browser after failed launch", zap.Error(stopErr))
		}
		return nil, err
	}

	l.log.Info("browser ready", zap.Int("pid", inst.PID), zap.Int("port", inst.Port))
	return inst, nil
}

// readDebuggingPort returns the port number from the first line of p.
func readDebuggingPort(p string) (int, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return 0, err
	}
	line, _, _ := strings.Cut(string(b), "\n")
	port, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", p, err)
	}
	return port, nil
}

func findBinary(bin string) (string, error) {
	if bin != "" {
		return exec.LookPath(bin)
	}
	for _, name := range binaryCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no chrome executable found (tried %s)", strings.Join(binaryCandidates, ", "))
}

// terminate sends SIGTERM to the process group, then SIGKILL if it has not
// exited after stopGrace or when ctx ends.
func terminate(ctx context.Context, pid int, exited <-chan struct{}) error {
	if err := killGroup(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal browser: %w", err)
	}
	grace := time.NewTimer(stopGrace)
	defer grace.Stop()
	select {
	case <-exited:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}
	if err := killGroup(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill browser: %w", err)
	}
	<-exited
	return nil
}
