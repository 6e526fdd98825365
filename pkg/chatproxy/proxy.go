package chatproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sandboxrun/sandboxd/pkg/agentclient"
	"github.com/sandboxrun/sandboxd/pkg/log"
	"github.com/sandboxrun/sandboxd/pkg/promptrouter"
	"github.com/sandboxrun/sandboxd/pkg/registry"
	"github.com/sandboxrun/sandboxd/pkg/sberrors"
)

// Backend is the chat/chat_stream/interrupt/close surface exposed to edge
// handlers (spec.md §4.7), implemented both by this package's Proxy
// (sandbox backend) and pkg/runtime/local.Manager (local backend), so
// cmd/sandboxd can wire whichever config.Backend selects behind one
// interface (design note §9: "dependency-inject ... tests swap the
// container runtime for a fake").
type Backend interface {
	Chat(ctx context.Context, sessionID, content, taskTag string) ([]Event, error)
	ChatStream(ctx context.Context, sessionID, content, taskTag string) (<-chan Event, error)
	Interrupt(sessionID string) error
	Close(ctx context.Context, sessionID, reason string) error
}

// ClientFactory builds the agent client for one session, given its record.
// A separate type (rather than calling agentclient.New directly) so tests
// can inject a fake transport without standing up a real container.
type ClientFactory func(rec *registry.Record) *agentclient.Client

// Proxy is the Chat Proxy (C5): the sandbox-backend implementation of
// Backend, multiplexing edge chat calls onto per-session agent turns
// reached over the container's loopback-bound API port.
type Proxy struct {
	Registry       *registry.Registry
	Teardown       registry.Teardown
	NewClient      ClientFactory
	RequestTimeout time.Duration
	StreamTimeout  time.Duration
}

// New constructs a Proxy. agentKey is passed to every constructed client's
// Authorization header. td is the sandbox-backend teardown (stop container,
// release ports) invoked by Close.
func New(reg *registry.Registry, td registry.Teardown, agentKey string, requestTimeout, streamTimeout time.Duration) *Proxy {
	return &Proxy{
		Registry:       reg,
		Teardown:       td,
		RequestTimeout: requestTimeout,
		StreamTimeout:  streamTimeout,
		NewClient: func(rec *registry.Record) *agentclient.Client {
			base := fmt.Sprintf("http://127.0.0.1:%d", rec.APIPort)
			return agentclient.New(base, agentKey, requestTimeout)
		},
	}
}

func (p *Proxy) lookupReady(sessionID string) (*registry.Record, error) {
	rec := p.Registry.Lookup(sessionID)
	if rec == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, sberrors.ErrNotFound)
	}
	return rec, nil
}

// Chat performs spec.md §4.5's blocking chat(): it runs a full turn and
// collects every event before returning.
func (p *Proxy) Chat(ctx context.Context, sessionID, content, taskTag string) ([]Event, error) {
	events, err := p.ChatStream(ctx, sessionID, content, taskTag)
	if err != nil {
		return nil, err
	}
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out, nil
}

// ChatStream performs spec.md §4.5's chat_stream(): a lazy, finite,
// non-restartable sequence of events. Concurrent turns on the same session
// fail fast with sberrors.ErrBusy (registry.BeginTurn enforces the
// single-in-flight-turn rule).
func (p *Proxy) ChatStream(ctx context.Context, sessionID, content, taskTag string) (<-chan Event, error) {
	rec, err := p.lookupReady(sessionID)
	if err != nil {
		return nil, err
	}

	turnCtx, release, err := p.Registry.BeginTurn(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p.Registry.Touch(sessionID)

	req, err := promptrouter.Route(sessionID, content, taskTag)
	if err != nil {
		release()
		return nil, fmt.Errorf("routing task_tag %q: %w", taskTag, err)
	}

	streamCtx := turnCtx
	streamCancel := func() {}
	if p.StreamTimeout > 0 {
		streamCtx, streamCancel = context.WithTimeout(turnCtx, p.StreamTimeout)
	}

	client := p.NewClient(rec)
	upstream, err := client.ChatStream(streamCtx, agentclient.ChatRequest{
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

	out := make(chan Event, 16)
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
				translated := Translate(ev)
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
				case out <- Event{Type: EventInterrupted, Cause: "turn cancelled"}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return out, nil
}

func decodeParams(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Translate maps an agentclient.Event (the container or local-backend
// agent's own wire shape) onto this package's Event, preserving the
// nine-event vocabulary unchanged — the envelope, not the semantics, is
// what the two packages share. Exported so pkg/runtime/local's Backend
// implementation can reuse the same mapping instead of re-deriving it.
func Translate(ev agentclient.Event) Event {
	out := Event{Type: EventType(ev.Method)}
	switch out.Type {
	case EventToolUse, EventToolResult:
		var tool ToolPayload
		_ = decodeParams(ev.Params, &tool)
		out.Tool = &tool
	case EventResult:
		var result ResultPayload
		_ = decodeParams(ev.Params, &result)
		out.Result = &result
	case EventError, EventInterrupted:
		var payload struct {
			Message string `json:"message"`
		}
		_ = decodeParams(ev.Params, &payload)
		out.Cause = payload.Message
	default:
		var payload struct {
			Text string `json:"text"`
		}
		_ = decodeParams(ev.Params, &payload)
		out.Text = payload.Text
	}
	return out
}

// Interrupt implements spec.md §5's interrupt(session_id): triggers the
// in-flight turn's cancellation handle. Not an error if no turn is active.
func (p *Proxy) Interrupt(sessionID string) error {
	return p.Registry.Interrupt(sessionID)
}

// Close cancels any in-flight turn, then drives teardown (stop container,
// release ports) through the registry. Idempotent on an already-closed id.
func (p *Proxy) Close(ctx context.Context, sessionID, reason string) error {
	if err := p.Registry.Close(ctx, sessionID, reason, p.Teardown); err != nil {
		log.Errorf("chatproxy: close %s: %v", sessionID, err)
		return err
	}
	return nil
}
