// Package docker implements the Container Manager (spec.md §4.4):
// provisioning, health-probing, and stopping one long-lived container per
// session. Generalized from the teacher's one-shot Runtime.RunHolon
// (create -> start -> wait -> validate artifacts, pkg/runtime/docker's
// original runtime.go) into a create -> start -> ready|failed provisioner
// that hands back a live Handle instead of blocking until the process
// exits.
package docker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/sandboxrun/sandboxd/pkg/agentclient"
)

const (
	sessionLabel = "sandboxd.session_id"

	createMaxAttempts = 3
	createBackoff     = 500 * time.Millisecond

	portCollisionMaxAttempts = 3
)

// Handle is what Provision hands back to the Session Registry: enough to
// probe health, stop, and reconcile the container against a session id.
type Handle struct {
	ContainerID string
	APIPort     int
	CodePort    int
}

// ProvisionRequest describes the container a session needs.
type ProvisionRequest struct {
	SessionID    string
	WorkspaceDir string
	Ports        PortBindings
	AgentKey     string
	AgentModel   string

	// LeasePorts and ReleasePorts let Provision recover from a port
	// collision discovered at container start (spec.md §4.4) by asking
	// the allocator for a fresh pair instead of retrying with the same
	// colliding ports. Both must be set for collision recovery to run;
	// if either is nil, a collision fails the call immediately.
	LeasePorts   func() (PortBindings, error)
	ReleasePorts func(PortBindings)
}

// Manager drives container lifecycle against a configured Docker daemon
// and image.
type Manager struct {
	cli           *client.Client
	image         string
	memLimitBytes int64
	cpuLimit      float64
	agentTimeout  time.Duration
}

// New constructs a Manager from the ambient Docker environment
// (DOCKER_HOST / TLS vars), matching the teacher's client.FromEnv usage.
func New(image string, memLimitBytes int64, cpuLimit float64, agentTimeout time.Duration) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connecting to docker daemon: %w", err)
	}
	return &Manager{cli: cli, image: image, memLimitBytes: memLimitBytes, cpuLimit: cpuLimit, agentTimeout: agentTimeout}, nil
}

// CheckImagePresent refuses to start the service if the configured image
// is absent locally, per spec.md §6.
func (m *Manager) CheckImagePresent(ctx context.Context) error {
	images, err := m.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("listing docker images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == m.image {
				return nil
			}
		}
	}
	return fmt.Errorf("configured image %q not found locally; pull it before starting sandboxd", m.image)
}

// Provision creates and starts a session container, retrying transient
// failures up to createMaxAttempts times. A fatal failure class (missing
// image) returns immediately. A port collision discovered at container
// start is a separate recovery path (spec.md §4.4): the colliding pair is
// released and a fresh one leased from req.LeasePorts/ReleasePorts, up to
// portCollisionMaxAttempts times, since retrying with the same ports can
// never succeed.
func (m *Manager) Provision(ctx context.Context, req ProvisionRequest) (Handle, error) {
	if err := ValidateMountTargets(&MountConfig{WorkspaceDir: req.WorkspaceDir}); err != nil {
		return Handle{}, fmt.Errorf("%s: %w", req.SessionID, err)
	}

	ports := req.Ports
	var lastErr error
	for attempt := 1; attempt <= portCollisionMaxAttempts; attempt++ {
		handle, err := m.provisionWithPorts(ctx, req, ports)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if classifyCreateError(err) != failurePortCollision {
			return Handle{}, err
		}
		if attempt == portCollisionMaxAttempts {
			break
		}
		if req.LeasePorts == nil || req.ReleasePorts == nil {
			return Handle{}, fmt.Errorf("provisioning session %s: port collision with no re-lease hook configured: %w", req.SessionID, err)
		}

		req.ReleasePorts(ports)
		fresh, leaseErr := req.LeasePorts()
		if leaseErr != nil {
			return Handle{}, fmt.Errorf("re-leasing ports for session %s after collision: %w", req.SessionID, leaseErr)
		}
		ports = fresh
	}

	return Handle{}, fmt.Errorf("provisioning session %s: port collision persisted after %d attempts: %w", req.SessionID, portCollisionMaxAttempts, lastErr)
}

// provisionWithPorts runs the create -> start attempt loop against one
// fixed port pair, retrying transient (non-collision, non-fatal) failures
// up to createMaxAttempts times.
func (m *Manager) provisionWithPorts(ctx context.Context, req ProvisionRequest, ports PortBindings) (Handle, error) {
	mounts := BuildContainerMounts(&MountConfig{WorkspaceDir: req.WorkspaceDir})
	env := BuildContainerEnv(&EnvConfig{
		AgentKey:   req.AgentKey,
		AgentModel: req.AgentModel,
		SessionID:  req.SessionID,
		HostUID:    os.Getuid(),
		HostGID:    os.Getgid(),
	})
	exposed, _ := BuildContainerPortMap(ports)
	hostConfig := BuildContainerHostConfig(&HostConfigOptions{
		Mounts:        mounts,
		Ports:         ports,
		MemLimitBytes: m.memLimitBytes,
		CPULimit:      m.cpuLimit,
	})

	var lastErr error
	var containerID string
	for attempt := 1; attempt <= createMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Handle{}, err
		}

		resp, err := m.cli.ContainerCreate(ctx, &container.Config{
			Image:        m.image,
			Env:          env,
			WorkingDir:   ContainerWorkspaceDir,
			ExposedPorts: exposed,
			Labels:       map[string]string{sessionLabel: req.SessionID},
			Tty:          false,
		}, hostConfig, nil, nil, "")
		if err != nil {
			lastErr = fmt.Errorf("creating container: %w", err)
			class := classifyCreateError(lastErr)
			if class == failureFatal || class == failurePortCollision {
				return Handle{}, lastErr
			}
			m.backoff(ctx, attempt)
			continue
		}
		containerID = resp.ID

		if err := m.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			_ = m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
			lastErr = fmt.Errorf("starting container: %w", err)
			class := classifyCreateError(lastErr)
			if class == failureFatal || class == failurePortCollision {
				return Handle{}, lastErr
			}
			m.backoff(ctx, attempt)
			continue
		}

		return Handle{ContainerID: containerID, APIPort: ports.APIPort, CodePort: ports.CodePort}, nil
	}

	return Handle{}, fmt.Errorf("provisioning session %s: %w", req.SessionID, lastErr)
}

func (m *Manager) backoff(ctx context.Context, attempt int) {
	select {
	case <-time.After(createBackoff * time.Duration(attempt)):
	case <-ctx.Done():
	}
}

// Status is the result of a single health probe.
type Status struct {
	Healthy bool
	Detail  string
}

// Health probes the agent API published on h.APIPort. Ports are always
// bound to the host loopback interface (pkg/portpool's probe convention),
// not the config.HostLoopback callback address, which names the address
// containers use to call back into core services and has nothing to do
// with how core reaches a container. The caller owns the context deadline
// (spec.md §6 health_check_timeout).
func (m *Manager) Health(ctx context.Context, h Handle, agentKey string) (Status, error) {
	base := fmt.Sprintf("http://127.0.0.1:%d", h.APIPort)
	ac := agentclient.New(base, agentKey, m.agentTimeout)
	hs, err := ac.Health(ctx)
	if err != nil {
		return Status{Healthy: false, Detail: err.Error()}, nil
	}
	return Status{Healthy: hs.Healthy, Detail: hs.Detail}, nil
}

// Stop gracefully stops then force-removes a session's container.
func (m *Manager) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	if containerID == "" {
		return nil
	}
	seconds := int(grace.Seconds())
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("stopping container %s: %w", containerID, err)
	}
	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("removing container %s: %w", containerID, err)
	}
	return nil
}

// ListOrphans returns container IDs labeled with a session id not present
// in liveIDs, for the Lifecycle Supervisor's reconciliation pass.
func (m *Manager) ListOrphans(ctx context.Context, liveIDs map[string]bool) ([]string, error) {
	labelFilter := filters.NewArgs(filters.Arg("label", sessionLabel))
	containers, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: labelFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("listing session containers: %w", err)
	}
	var orphans []string
	for _, c := range containers {
		sid := c.Labels[sessionLabel]
		if sid != "" && !liveIDs[sid] {
			orphans = append(orphans, c.ID)
		}
	}
	return orphans, nil
}
