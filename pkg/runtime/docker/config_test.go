package docker

import (
	"testing"

	"github.com/docker/go-connections/nat"
)

func TestBuildContainerMountsUsesFixedWorkspaceTarget(t *testing.T) {
	mounts := BuildContainerMounts(&MountConfig{WorkspaceDir: "/host/session-1"})
	if len(mounts) != 1 {
		t.Fatalf("expected exactly one mount, got %d", len(mounts))
	}
	if mounts[0].Source != "/host/session-1" || mounts[0].Target != ContainerWorkspaceDir {
		t.Fatalf("unexpected mount: %+v", mounts[0])
	}
}

func TestBuildContainerEnvIncludesSessionAndHostIDs(t *testing.T) {
	env := BuildContainerEnv(&EnvConfig{
		AgentKey:   "k",
		AgentModel: "m",
		SessionID:  "s1",
		HostUID:    1000,
		HostGID:    1000,
	})
	want := map[string]bool{
		"AGENT_KEY=k": false, "AGENT_MODEL=m": false, "SESSION_ID=s1": false,
		"HOST_UID=1000": false, "HOST_GID=1000": false, "GIT_CONFIG_NOSYSTEM=1": false,
	}
	for _, e := range env {
		if _, ok := want[e]; ok {
			want[e] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Fatalf("expected env to include %q, got %v", k, env)
		}
	}
}

func TestBuildContainerPortMapPublishesBothPorts(t *testing.T) {
	exposed, bindings := BuildContainerPortMap(PortBindings{APIPort: 10001, CodePort: 20001})
	if len(exposed) != 2 || len(bindings) != 2 {
		t.Fatalf("expected two exposed ports and two bindings, got %d/%d", len(exposed), len(bindings))
	}
	apiBinding := bindings[nat.Port(containerAPIPort)]
	if len(apiBinding) != 1 || apiBinding[0].HostPort != "10001" {
		t.Fatalf("unexpected api port binding: %+v", apiBinding)
	}
}

func TestValidateMountTargetsRejectsEmptyWorkspace(t *testing.T) {
	if err := ValidateMountTargets(&MountConfig{}); err == nil {
		t.Fatalf("expected error for empty workspace directory")
	}
}

func TestClassifyCreateErrorDistinguishesFatalFromTransientFromCollision(t *testing.T) {
	cases := []struct {
		msg  string
		want failureClass
	}{
		{"Error response from daemon: No such image: sandboxd-agent:latest", failureFatal},
		{"repository does not exist or may require 'docker login'", failureFatal},
		{"Bind for 0.0.0.0:10001 failed: port is already allocated", failurePortCollision},
		{"listen tcp 0.0.0.0:10002: bind: address already in use", failurePortCollision},
		{"Error response from daemon: dial unix docker.sock: connect: connection refused", failureTransient},
	}
	for _, c := range cases {
		err := &stringError{c.msg}
		if got := classifyCreateError(err); got != c.want {
			t.Fatalf("classifyCreateError(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

type stringError struct{ s string }

func (e *stringError) Error() string { return e.s }
