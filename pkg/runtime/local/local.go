// Package local implements the Legacy Local Executor (C7): the
// config.Backend == "local" backend that runs the agent client in-process
// per session instead of behind a per-container loopback port. Grounded on
// the teacher's pkg/agent/llm.Provider interface (pkg/agent/llm/anthropic.go)
// — the same "thin interface over an HTTP call to the model" shape, reused
// here as the transport this backend drives directly rather than through a
// container boundary.
package local

import (
	"context"
	"fmt"
	"time"

	"github.com/sandboxrun/sandboxd/pkg/agentclient"
	"github.com/sandboxrun/sandboxd/pkg/chatproxy"
	"github.com/sandboxrun/sandboxd/pkg/log"
	"github.com/sandboxrun/sandboxd/pkg/promptrouter"
	"github.com/sandboxrun/sandboxd/pkg/registry"
	"github.com/sandboxrun/sandboxd/pkg/sberrors"
)

// Manager implements chatproxy.Backend without a container or port
// allocator: every session reuses the same agentclient.Client pointed at
// config.AgentBaseURL, with session_id doubling as the agent's own
// conversation id. Sessions are still tracked in the registry (for the
// one-turn-per-session rule and idle/degraded bookkeeping) but provisioning
// is a no-op — there is no workspace, container, or port to allocate.
type Manager struct {
	Registry *registry.Registry
	Client   *agentclient.Client

	RequestTimeout time.Duration
	StreamTimeout  time.Duration
}

var _ chatproxy.Backend = (*Manager)(nil)

// New constructs a Manager. baseURL and agentKey come from
// config.AgentBaseURL / config.AgentKey; there is exactly one client shared
// across every local-backend session, since there is no per-session
// container to address separately.
func New(reg *registry.Registry, baseURL, agentKey string, requestTimeout, streamTimeout time.Duration) *Manager {
	return &Manager{
		Registry:       reg,
		Client:         agentclient.New(baseURL, agentKey, requestTimeout),
		RequestTimeout: requestTimeout,
		StreamTimeout:  streamTimeout,
	}
}

// Ensure registers id in the registry as a local-backend session if it does
// not already exist. Unlike the sandbox backend's GetOrCreate+Provisioner,
// there is nothing to provision: the record exists purely so the turn
// semaphore, idle timer, and degraded-streak counter have somewhere to live.
func (m *Manager) Ensure(ctx context.Context, sessionID string) error {
	_, _, err := m.Registry.GetOrCreate(ctx, sessionID, registry.Spec{
		Name:    sessionID,
		Backend: registry.BackendLocal,
	}, func(ctx context.Context, rec *registry.Record) error {
		return nil
	})
	return err
}

// Chat performs a full turn and collects every event before returning, per
// spec.md §4.5's blocking chat() — identical contract to chatproxy.Proxy.Chat.
func (m *Manager) Chat(ctx context.Context, sessionID, content, taskTag string) ([]chatproxy.Event, error) {
	events, err := m.ChatStream(ctx, sessionID, content, taskTag)
	if err != nil {
		return nil, err
	}
	var out []chatproxy.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out, nil
}

// ChatStream is the local-backend twin of chatproxy.Proxy.ChatStream: same
// one-turn-per-session enforcement via registry.BeginTurn, same translation
// of agentclient.Event into chatproxy.Event, same interrupted-on-cancel
// terminal event. The only difference is the absence of a container lookup
// — every session's requests go to the one shared m.Client.
func (m *Manager) ChatStream(ctx context.Context, sessionID, content, taskTag string) (<-chan chatproxy.Event, error) {
	if rec := m.Registry.Lookup(sessionID); rec == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, sberrors.ErrNotFound)
	}

	turnCtx, release, err := m.Registry.BeginTurn(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.Registry.Touch(sessionID)

	req, err := promptrouter.Route(sessionID, content, taskTag)
	if err != nil {
		release()
		return nil, fmt.Errorf("routing task_tag %q: %w", taskTag, err)
	}

	streamCtx := turnCtx
	streamCancel := func() {}
	if m.StreamTimeout > 0 {
		streamCtx, streamCancel = context.WithTimeout(turnCtx, m.StreamTimeout)
	}

	upstream, err := m.Client.ChatStream(streamCtx, agentclient.ChatRequest{
		SessionID: sessionID,
		Message:   req.Message,
		TaskTag:   req.TaskTag,
		Params:    req.Params,
	})
	if err != nil {
		streamCancel()
		release()
		return nil, fmt.Errorf("session %s: %w", sessionID, sberrors.ErrUpstream)
	}

	out := make(chan chatproxy.Event, 16)
	go func() {
		defer streamCancel()
		defer release()
		defer close(out)
		for {
			select {
			case ev, ok := <-upstream:
				if !ok {
					return
				}
				translated := chatproxy.Translate(ev)
				select {
				case out <- translated:
				case <-ctx.Done():
					return
				}
				if translated.Type.Terminal() {
					return
				}
			case <-streamCtx.Done():
				select {
				case out <- chatproxy.Event{Type: chatproxy.EventInterrupted, Cause: "turn cancelled"}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return out, nil
}

// Interrupt implements spec.md §5's interrupt(session_id) for the local
// backend: identical to chatproxy.Proxy.Interrupt, since both backends
// share the registry's turn-cancellation handle.
func (m *Manager) Interrupt(sessionID string) error {
	return m.Registry.Interrupt(sessionID)
}

// Close drops the session's registry record. There is no container to stop
// and no ports to release, so registry.Close is given a no-op Teardown.
func (m *Manager) Close(ctx context.Context, sessionID, reason string) error {
	if err := m.Registry.Close(ctx, sessionID, reason, noopTeardown{}); err != nil {
		log.Errorf("local: close %s: %v", sessionID, err)
		return err
	}
	return nil
}

// Teardown returns the no-op registry.Teardown this backend closes sessions
// with, exported so the supervisor (which also drives registry.Close on
// idle/degraded eviction) can share it instead of constructing its own.
func (m *Manager) Teardown() registry.Teardown {
	return noopTeardown{}
}

type noopTeardown struct{}

func (noopTeardown) Stop(ctx context.Context, rec *registry.Record) error { return nil }
