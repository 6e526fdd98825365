package githubclient

import (
	"context"
	"net/http"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// TestNotifySessionReadyPostsComment replays a recorded GitHub API
// interaction instead of hitting the network, mirroring the pack's
// go-vcr.v2 dependency (declared but never wired by the teacher itself).
func TestNotifySessionReadyPostsComment(t *testing.T) {
	r, err := recorder.New("testdata/notify_session_ready")
	if err != nil {
		t.Fatalf("recorder.New: %v", err)
	}
	defer r.Stop()

	client := newWithHTTPClient(&http.Client{Transport: r})

	id, err := client.NotifySessionReady(context.Background(), "acme", "widgets", 42, "sess-1", "Workspace provisioned at /workspace/sess-1.")
	if err != nil {
		t.Fatalf("NotifySessionReady: %v", err)
	}
	if id != 987654321 {
		t.Fatalf("expected comment id 987654321, got %d", id)
	}
}
