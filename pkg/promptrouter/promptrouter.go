// Package promptrouter implements spec.md §4.5's task_tag dispatch table: a
// pure command-construction step that rewrites an edge-supplied prompt into
// the message and params an agent command expects. It does not interpret
// PRD semantics and never calls out to the registry or agent client.
// Grounded on the teacher's cliSolveExecutor.Execute switch-on-action-type
// in cmd/holon/serve.go, generalized from solve/review/fix CLI args to
// chat-turn message/params construction.
package promptrouter

import (
	"fmt"
	"strings"
)

// Known task tags enumerated by spec.md §4.5.
const (
	TaskPRDDecompose = "prd-decompose"
	TaskAnalyzePRD   = "analyze-prd"
	TaskPRDChange    = "prd-change"
	TaskConfirmPRD   = "confirm-prd"
)

// Request is the agent-facing command constructed from one edge chat call.
type Request struct {
	Message string
	TaskTag string
	Params  map[string]any
}

// Route rewrites content according to taskTag, per spec.md §4.5's table.
// sessionID is accepted but unused by any tag's construction today; it is
// threaded through so a future tag needing session-aware rewriting (as
// prd-change's session-reuse requirement is enforced one layer up, by the
// caller reusing the same session id rather than by this function) does not
// require a signature change.
func Route(sessionID, content, taskTag string) (Request, error) {
	switch taskTag {
	case TaskPRDDecompose:
		path := strings.TrimSpace(content)
		if path == "" {
			return Request{}, fmt.Errorf("prd-decompose: prompt must be a PRD file path")
		}
		return Request{
			TaskTag: taskTag,
			Message: "decompose_prd",
			Params:  map[string]any{"prd_path": path},
		}, nil

	case TaskAnalyzePRD:
		flags, err := parseFlagString(content)
		if err != nil {
			return Request{}, fmt.Errorf("analyze-prd: %w", err)
		}
		return Request{
			TaskTag: taskTag,
			Message: "analyze_module",
			Params:  flags,
		}, nil

	case TaskPRDChange:
		review := strings.TrimSpace(content)
		if review == "" {
			return Request{}, fmt.Errorf("prd-change: review instruction is required")
		}
		return Request{
			TaskTag: taskTag,
			Message: "modify_prd",
			Params:  map[string]any{"instruction": review},
		}, nil

	case TaskConfirmPRD:
		return Request{
			TaskTag: taskTag,
			Message: "confirm_prd_edits",
		}, nil

	default:
		return Request{
			TaskTag: taskTag,
			Message: content,
		}, nil
	}
}

// parseFlagString parses a "--module foo --feature-tree bar --prd baz"
// style string into a flat params map, as analyze-prd's prompt is
// documented to carry (spec.md §4.5).
func parseFlagString(s string) (map[string]any, error) {
	out := make(map[string]any)
	fields := strings.Fields(s)
	for i := 0; i < len(fields); i++ {
		tok := fields[i]
		if !strings.HasPrefix(tok, "--") {
			return nil, fmt.Errorf("unexpected token %q, want a --flag", tok)
		}
		name := strings.TrimPrefix(tok, "--")
		if i+1 >= len(fields) || strings.HasPrefix(fields[i+1], "--") {
			return nil, fmt.Errorf("flag --%s requires a value", name)
		}
		out[name] = fields[i+1]
		i++
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no flags found")
	}
	return out, nil
}
