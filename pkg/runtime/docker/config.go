package docker

import (
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
)

const (
	// ContainerWorkspaceDir is the fixed internal mount point for the
	// session workspace, bind-mounted read-write so the agent can edit
	// the checked-out repository.
	ContainerWorkspaceDir = "/workspace"
)

// Pure helper functions for container configuration assembly, kept in the
// same shape as the teacher's (MountConfig/EnvConfig/HostConfigOptions ->
// BuildContainer*) so Manager stays a thin orchestrator over deterministic
// builders that are easy to unit test without a Docker daemon.

// MountConfig describes the single bind mount a session container needs:
// its workspace directory.
type MountConfig struct {
	WorkspaceDir string
}

// EnvConfig represents the environment variables injected into a session
// container.
type EnvConfig struct {
	AgentKey   string
	AgentModel string
	SessionID  string
	HostUID    int
	HostGID    int
}

// PortBindings describes the two ports published from the container to the
// host, leased from the Port Allocator (C2) before Provision is called.
type PortBindings struct {
	APIPort  int
	CodePort int
}

const (
	containerAPIPort  = "8080/tcp"
	containerCodePort = "8081/tcp"
)

// HostConfigOptions represents docker host configuration inputs.
type HostConfigOptions struct {
	Mounts        []mount.Mount
	Ports         PortBindings
	MemLimitBytes int64
	CPULimit      float64
}

// BuildContainerMounts assembles the Docker mounts configuration: the
// workspace bind mount, read-write so agent edits land on the host
// checkout.
func BuildContainerMounts(cfg *MountConfig) []mount.Mount {
	return []mount.Mount{
		{
			Type:   mount.TypeBind,
			Source: cfg.WorkspaceDir,
			Target: ContainerWorkspaceDir,
		},
	}
}

// BuildContainerEnv assembles the environment variables for a session
// container.
func BuildContainerEnv(cfg *EnvConfig) []string {
	env := make([]string, 0, 6)
	if cfg.AgentKey != "" {
		env = append(env, fmt.Sprintf("AGENT_KEY=%s", cfg.AgentKey))
	}
	if cfg.AgentModel != "" {
		env = append(env, fmt.Sprintf("AGENT_MODEL=%s", cfg.AgentModel))
	}
	env = append(env, fmt.Sprintf("SESSION_ID=%s", cfg.SessionID))
	env = append(env, fmt.Sprintf("HOST_UID=%d", cfg.HostUID))
	env = append(env, fmt.Sprintf("HOST_GID=%d", cfg.HostGID))
	// Containers may run under a different UID than the host checkout,
	// which git otherwise flags as "dubious ownership".
	env = append(env, "GIT_CONFIG_NOSYSTEM=1")
	return env
}

// BuildContainerPortMap assembles the exposed-port set and the host port
// bindings for ContainerCreate's config/hostConfig arguments.
func BuildContainerPortMap(ports PortBindings) (nat.PortSet, nat.PortMap) {
	apiPort := nat.Port(containerAPIPort)
	codePort := nat.Port(containerCodePort)

	exposed := nat.PortSet{
		apiPort:  struct{}{},
		codePort: struct{}{},
	}
	bindings := nat.PortMap{
		apiPort:  {{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", ports.APIPort)}},
		codePort: {{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", ports.CodePort)}},
	}
	return exposed, bindings
}

// BuildContainerHostConfig assembles host-level sandbox settings for
// session containers: the workspace mount, published port bindings, and
// the configured resource ceiling (spec.md §6 mem_limit_bytes/cpu_limit).
func BuildContainerHostConfig(cfg *HostConfigOptions) *container.HostConfig {
	if cfg == nil {
		cfg = &HostConfigOptions{}
	}

	_, bindings := BuildContainerPortMap(cfg.Ports)

	hc := &container.HostConfig{
		Mounts:       cfg.Mounts,
		PortBindings: bindings,
		// Keep explicit non-privileged defaults for regression visibility.
		Privileged:     false,
		ReadonlyRootfs: false,
		NetworkMode:    container.NetworkMode("default"),
	}
	if cfg.MemLimitBytes > 0 || cfg.CPULimit > 0 {
		hc.Resources = container.Resources{
			Memory:   cfg.MemLimitBytes,
			NanoCPUs: int64(cfg.CPULimit * 1e9),
		}
	}
	return hc
}

// ValidateMountTargets validates that the workspace directory exists before
// a container is created against it.
func ValidateMountTargets(cfg *MountConfig) error {
	if cfg.WorkspaceDir == "" {
		return fmt.Errorf("workspace directory cannot be empty")
	}
	return nil
}
