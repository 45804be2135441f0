package browser

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultImage serves DevTools on 9222 with headless Chrome.
const DefaultImage = "chromedp/headless-shell:latest"

const containerPort = nat.Port("9222/tcp")

// ContainerLauncher runs Chrome inside a Docker container.
type ContainerLauncher struct {
	client *client.Client
	image  string
	log    *zap.Logger
}

// NewContainerLauncher connects to the Docker daemon from the environment.
func NewContainerLauncher(imageName string, log *zap.Logger) (*ContainerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if imageName == "" {
		imageName = DefaultImage
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ContainerLauncher{client: cli, image: imageName, log: log}, nil
}

// containerArgs are passed to the image entrypoint. The image always runs
// headless and binds DevTools itself, so only profile and extra flags apply.
func containerArgs(opts Options) []string {
	args := []string{"--user-data-dir=/data"}
	return append(args, opts.Flags...)
}

// Launch starts a container and waits for its DevTools endpoint.
func (l *ContainerLauncher) Launch(ctx context.Context, opts Options) (*Instance, error) {
	opts = opts.withDefaults()

	if err := l.EnsureImage(ctx); err != nil {
		return nil, err
	}

	hostPort := "0"
	if opts.Port != 0 {
		hostPort = strconv.Itoa(opts.Port)
	}
	containerConfig := &container.Config{
		Image: l.image,
		Cmd:   containerArgs(opts),
		Labels: map[string]string{
			"managed-by": "cdp-mini",
		},
		ExposedPorts: nat.PortSet{
			containerPort: struct{}{},
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: hostPort,
				},
			},
		},
		AutoRemove: false,
	}
	if opts.UserDataDir != "" {
		hostConfig.Mounts = []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: opts.UserDataDir,
				Target: "/data",
			},
		}
	}

	name := fmt.Sprintf("cdp-mini-%s", uuid.NewString()[:8])
	resp, err := l.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	if err := l.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		l.remove(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := l.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		l.remove(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[containerPort]
	if len(bindings) == 0 {
		l.remove(resp.ID)
		return nil, fmt.Errorf("container %s has no binding for %s", name, containerPort)
	}
	port, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		l.remove(resp.ID)
		return nil, fmt.Errorf("parse host port %q: %w", bindings[0].HostPort, err)
	}

	inst := &Instance{
		Host:        "127.0.0.1",
		Flags:       containerConfig.Cmd,
		UserDataDir: opts.UserDataDir,
		exited:      make(chan struct{}),
	}
	if inspect.State != nil {
		inst.PID = inspect.State.Pid
	}

	waitCtx, stopWatching := context.WithCancel(context.Background())
	statusCh, errCh := l.client.ContainerWait(waitCtx, resp.ID, container.WaitConditionNotRunning)
	go func() {
		select {
		case st := <-statusCh:
			inst.markExited(fmt.Errorf("container exited with status %d", st.StatusCode))
		case err := <-errCh:
			inst.markExited(err)
		}
	}()
	inst.stopFn = func(ctx context.Context) error {
		defer stopWatching()
		return l.stop(ctx, resp.ID)
	}

	l.log.Info("browser container started", zap.String("container", name), zap.Int("port", port))

	portFn := func() (int, error) { return port, nil }
	if err := waitForEndpoint(ctx, inst, opts, portFn); err != nil {
		if stopErr := inst.Stop(context.Background()); stopErr != nil {
			l.log.Warn("stop container after failed launch", zap.Error(stopErr))
		}
		return nil, err
	}
	inst.devtools.WithHostRewrite(net.JoinHostPort(inst.Host, strconv.Itoa(inst.Port)))
	return inst, nil
}

func (l *ContainerLauncher) stop(ctx context.Context, containerID string) error {
	timeout := 10
	stopOptions := container.StopOptions{
		Timeout: &timeout,
	}
	if err := l.client.ContainerStop(ctx, containerID, stopOptions); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := l.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (l *ContainerLauncher) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		l.log.Warn("remove container", zap.String("container", containerID), zap.Error(err))
	}
}

// EnsureImage pulls the browser image unless it is present.
func (l *ContainerLauncher) EnsureImage(ctx context.Context) error {
	images, err := l.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == l.image {
				return nil
			}
		}
	}

	l.log.Info("pulling browser image", zap.String("image", l.image))
	reader, err := l.client.ImagePull(ctx, l.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the Docker client.
func (l *ContainerLauncher) Close() error {
	return l.client.Close()
}
