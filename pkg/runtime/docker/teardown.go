package docker

import (
	"context"
	"time"

	"github.com/sandboxrun/sandboxd/pkg/portpool"
	"github.com/sandboxrun/sandboxd/pkg/registry"
)

// Teardown implements registry.Teardown for sandbox-backend sessions: stop
// the container, then release its leased ports. Constructed once at
// startup and passed to every registry.Close call, matching design note
// §9's "dependency-inject the Container Manager" guidance — the registry
// package itself never imports this one.
type Teardown struct {
	Manager *Manager
	Ports   *portpool.Pair
	Grace   time.Duration
}

// Stop tears down whatever sandbox resources rec holds. Safe to call on a
// record that never finished provisioning (zero ContainerID/ports).
func (t Teardown) Stop(ctx context.Context, rec *registry.Record) error {
	if rec.Backend != registry.BackendSandbox {
		return nil
	}
	err := t.Manager.Stop(ctx, rec.ContainerID, t.Grace)
	t.Ports.ReleaseBoth(rec.APIPort, rec.CodePort)
	return err
}
