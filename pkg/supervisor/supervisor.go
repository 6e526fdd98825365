// Package supervisor implements the Lifecycle Supervisor (C6): a single
// background task running at a configured interval that evicts idle
// sessions and escalates persistent degradation. Grounded on the teacher's
// pkg/serve.Service.Run scan-decide-act-log loop shape and its injectable
// now func() time.Time clock pattern (serve.Service.now,
// control.Runtime.now), generalized from "read one NDJSON event line,
// decide, act" to "snapshot the session registry, decide, act" per pass.
package supervisor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandboxrun/sandboxd/pkg/log"
	"github.com/sandboxrun/sandboxd/pkg/registry"
)

// HealthProber probes one session's container health. Satisfied by
// *docker.Manager.Health with its Handle/agentKey arguments closed over by
// the caller; kept as a narrow function type so this package does not
// import pkg/runtime/docker.
type HealthProber func(ctx context.Context, rec *registry.Record) (healthy bool, detail string)

// Supervisor runs the sweep loop described in spec.md §4.6.
type Supervisor struct {
	Registry  *registry.Registry
	Teardown  registry.Teardown
	Probe     HealthProber
	Interval  time.Duration
	IdleAfter time.Duration
	// DegradedThreshold is the number of consecutive degraded passes
	// before a session is force-closed.
	DegradedThreshold int

	now func() time.Time
}

// New constructs a Supervisor. now defaults to time.Now; tests inject a
// deterministic clock so idle-eviction assertions do not require real
// sleeps, mirroring the teacher's now-func convention.
func New(reg *registry.Registry, td registry.Teardown, probe HealthProber, interval, idleAfter time.Duration, degradedThreshold int) *Supervisor {
	return &Supervisor{
		Registry:          reg,
		Teardown:          td,
		Probe:             probe,
		Interval:          interval,
		IdleAfter:         idleAfter,
		DegradedThreshold: degradedThreshold,
		now:               time.Now,
	}
}

// Run blocks, driving one sweep pass per Interval, until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweepResult tallies one pass's outcome for the telemetry line (spec.md
// §4.6 "count live, count evicted, count failed").
type sweepResult struct {
	live    int
	evicted int
	failed  int
}

// Sweep runs one pass synchronously and returns its outcome; exported for
// tests that want to assert on counts without waiting on the ticker.
func (s *Supervisor) Sweep(ctx context.Context) {
	s.sweep(ctx)
}

func (s *Supervisor) sweep(ctx context.Context) {
	sessions := s.Registry.List()
	result := sweepResult{live: len(sessions)}

	now := s.now()
	var toClose []*registry.Record
	var toProbe []*registry.Record
	for _, rec := range sessions {
		if (rec.Status == registry.StatusReady || rec.Status == registry.StatusDegraded) &&
			now.Sub(rec.LastActivity) > s.IdleAfter {
			toClose = append(toClose, rec)
			continue
		}
		toProbe = append(toProbe, rec)
	}

	for _, rec := range toClose {
		if err := s.Registry.Close(ctx, rec.ID, "idle", s.Teardown); err != nil {
			log.Errorf("supervisor: evict %s: %v", rec.ID, err)
			result.failed++
			continue
		}
		result.evicted++
	}

	if s.Probe != nil && len(toProbe) > 0 {
		group, gctx := errgroup.WithContext(ctx)
		escalate := make(chan string, len(toProbe))
		for _, rec := range toProbe {
			rec := rec
			group.Go(func() error {
				healthy, detail := s.Probe(gctx, rec)
				shouldStop := s.Registry.MarkHealthResult(rec.ID, healthy, s.DegradedThreshold)
				if !healthy {
					log.Debugf("supervisor: %s unhealthy: %s", rec.ID, detail)
				}
				if shouldStop {
					escalate <- rec.ID
				}
				return nil
			})
		}
		_ = group.Wait()
		close(escalate)
		for id := range escalate {
			if err := s.Registry.Close(ctx, id, "degraded", s.Teardown); err != nil {
				log.Errorf("supervisor: close degraded %s: %v", id, err)
				result.failed++
				continue
			}
			result.evicted++
		}
	}

	log.Info("supervisor sweep", "live", result.live, "evicted", result.evicted, "failed", result.failed)
}
