package docker

import "strings"

// State is a session container's position in the lifecycle state machine,
// mirrored onto registry.Status by Manager's callers.
type State string

const (
	StateCreating State = "creating"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateDegraded State = "degraded"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// failureClass distinguishes retryable container-creation failures from
// ones that should fail a Provision call immediately, and separates port
// collisions (spec.md §4.4: release and re-lease, up to three times) from
// the general transient-retry path, since a collision can never be fixed
// by retrying with the same ports.
type failureClass int

const (
	failureTransient failureClass = iota
	failureFatal
	failurePortCollision
)

// classifyCreateError buckets a container-create/start error so Provision
// knows whether to retry in place, fail immediately, or release and
// re-lease a fresh port pair. Grounded on the teacher's runtime.go, which
// never retried at all; this domain's long-lived containers need to
// tolerate a momentarily unreachable daemon or transient resource
// pressure, so a small allow-list of fatal/collision substrings is
// checked first and everything else is treated as transient.
func classifyCreateError(err error) failureClass {
	if err == nil {
		return failureTransient
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"port is already allocated",
		"address already in use",
	} {
		if strings.Contains(msg, marker) {
			return failurePortCollision
		}
	}
	for _, marker := range []string{
		"no such image",
		"repository does not exist",
	} {
		if strings.Contains(msg, marker) {
			return failureFatal
		}
	}
	return failureTransient
}
