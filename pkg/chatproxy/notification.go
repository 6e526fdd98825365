package chatproxy

import (
	"encoding/json"
	"fmt"
)

// EventType enumerates the nine chat event kinds a turn may emit (spec.md
// §4.5). Mirrors agentclient.EventType; kept as a distinct type here because
// this package's vocabulary is the edge-facing contract, not an
// implementation detail of the agent transport.
type EventType string

const (
	EventSystem      EventType = "system"
	EventText        EventType = "text"
	EventTextDelta   EventType = "text_delta"
	EventThinking    EventType = "thinking"
	EventToolUse     EventType = "tool_use"
	EventToolResult  EventType = "tool_result"
	EventResult      EventType = "result"
	EventError       EventType = "error"
	EventInterrupted EventType = "interrupted"
)

// Terminal reports whether t ends a turn's stream, per spec.md §4.5's
// "exactly one terminal event ends the stream" ordering guarantee. Exported
// so pkg/runtime/local's Backend implementation shares the same rule.
func (t EventType) Terminal() bool {
	return t == EventResult || t == EventError || t == EventInterrupted
}

// Notification is the JSON-RPC 2.0 notification envelope written onto the
// edge-facing stream, unchanged in shape from the teacher's
// pkg/serve.Notification — only the method vocabulary (EventType) differs.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  EventType       `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Event is the proxy's internal representation of one chat_stream item,
// produced by the agent client adapter and consumed by the stream writer.
type Event struct {
	Type   EventType
	Text   string
	Tool   *ToolPayload
	Result *ResultPayload
	Cause  string
}

// ToolPayload carries a tool_use/tool_result event's structured payload.
type ToolPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
	Value any    `json:"value,omitempty"`
}

// ResultPayload carries a result event's turn-completion metadata.
type ResultPayload struct {
	DurationMS int64   `json:"duration_ms,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	TokensIn   int     `json:"tokens_in,omitempty"`
	TokensOut  int     `json:"tokens_out,omitempty"`
}

// ToNotification marshals ev's payload and wraps it in the JSON-RPC
// notification envelope.
func (ev Event) ToNotification() (Notification, error) {
	var payload any
	switch ev.Type {
	case EventToolUse, EventToolResult:
		payload = ev.Tool
	case EventResult:
		payload = ev.Result
	case EventError, EventInterrupted:
		payload = map[string]string{"message": ev.Cause}
	default:
		payload = map[string]string{"text": ev.Text}
	}
	params, err := json.Marshal(payload)
	if err != nil {
		return Notification{}, fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	return Notification{JSONRPC: "2.0", Method: ev.Type, Params: params}, nil
}
