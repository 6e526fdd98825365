package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sandboxrun/sandboxd/pkg/chatproxy"
	"github.com/sandboxrun/sandboxd/pkg/registry"
	"github.com/sandboxrun/sandboxd/pkg/sberrors"
	"github.com/sandboxrun/sandboxd/pkg/sessionrepo"
)

// fakeBackend is a minimal chatproxy.Backend double driven entirely by
// test-supplied closures, so handler tests never stand up a real proxy,
// registry turn semaphore, or agent transport.
type fakeBackend struct {
	chatFn       func(ctx context.Context, sessionID, content, taskTag string) ([]chatproxy.Event, error)
	chatStreamFn func(ctx context.Context, sessionID, content, taskTag string) (<-chan chatproxy.Event, error)
	interruptFn  func(sessionID string) error
	closeFn      func(ctx context.Context, sessionID, reason string) error
}

func (f *fakeBackend) Chat(ctx context.Context, sessionID, content, taskTag string) ([]chatproxy.Event, error) {
	return f.chatFn(ctx, sessionID, content, taskTag)
}

func (f *fakeBackend) ChatStream(ctx context.Context, sessionID, content, taskTag string) (<-chan chatproxy.Event, error) {
	return f.chatStreamFn(ctx, sessionID, content, taskTag)
}

func (f *fakeBackend) Interrupt(sessionID string) error {
	return f.interruptFn(sessionID)
}

func (f *fakeBackend) Close(ctx context.Context, sessionID, reason string) error {
	return f.closeFn(ctx, sessionID, reason)
}

func newTestServer(t *testing.T, chat chatproxy.Backend, create CreateFunc) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	s := NewServer(":0", reg, chat, create, nil, nil, sessionrepo.NewInMemory())
	return s, reg
}

func TestHandleCreateSessionReturnsDescriptor(t *testing.T) {
	create := func(ctx context.Context, sessionID, name, repoURL, branch string) (*registry.Record, error) {
		return &registry.Record{ID: sessionID, Name: name, Backend: registry.BackendSandbox, Status: registry.StatusReady}, nil
	}
	s, _ := newTestServer(t, nil, create)

	body := strings.NewReader(`{"name":"demo"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions", body)
	rec := httptest.NewRecorder()

	s.handleCreateSession(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var got sessionDescriptor
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "demo" || got.Status != string(registry.StatusReady) {
		t.Fatalf("unexpected descriptor: %+v", got)
	}
}

func TestHandleCreateSessionProvisioningFailureReturns502(t *testing.T) {
	create := func(ctx context.Context, sessionID, name, repoURL, branch string) (*registry.Record, error) {
		return nil, sberrors.ErrProvisioningFailed
	}
	s, _ := newTestServer(t, nil, create)

	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{"name":"demo"}`))
	rec := httptest.NewRecorder()
	s.handleCreateSession(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestHandleGetSessionNotFoundReturns404(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	s.handleGetSession(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleGetSessionReturnsLiveRecord(t *testing.T) {
	s, reg := newTestServer(t, nil, nil)
	_, _, err := reg.GetOrCreate(context.Background(), "s1", registry.Spec{Name: "s1", Backend: registry.BackendSandbox}, func(ctx context.Context, rec *registry.Record) error {
		return nil
	})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1", nil)
	req.SetPathValue("id", "s1")
	rec := httptest.NewRecorder()
	s.handleGetSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleChatReturnsEnvelopeOnBusy(t *testing.T) {
	chat := &fakeBackend{
		chatFn: func(ctx context.Context, sessionID, content, taskTag string) ([]chatproxy.Event, error) {
			return nil, sberrors.ErrBusy
		},
	}
	s, _ := newTestServer(t, chat, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat/s1", strings.NewReader(`{"content":"hi"}`))
	req.SetPathValue("session_id", "s1")
	rec := httptest.NewRecorder()
	s.handleChat(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	var env sberrors.Envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Code != sberrors.CodeBusy {
		t.Fatalf("code = %q, want %q", env.Code, sberrors.CodeBusy)
	}
}

func TestHandleChatReturnsNotifications(t *testing.T) {
	chat := &fakeBackend{
		chatFn: func(ctx context.Context, sessionID, content, taskTag string) ([]chatproxy.Event, error) {
			return []chatproxy.Event{{Type: chatproxy.EventText, Text: "hello"}, {Type: chatproxy.EventResult}}, nil
		},
	}
	s, _ := newTestServer(t, chat, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat/s1", strings.NewReader(`{"content":"hi"}`))
	req.SetPathValue("session_id", "s1")
	rec := httptest.NewRecorder()
	s.handleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Events []chatproxy.Notification `json:"events"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Events) != 2 || body.Events[1].Method != chatproxy.EventResult {
		t.Fatalf("unexpected events: %+v", body.Events)
	}
}

func TestHandleChatStreamWritesSSEFraming(t *testing.T) {
	out := make(chan chatproxy.Event, 2)
	out <- chatproxy.Event{Type: chatproxy.EventText, Text: "hi"}
	out <- chatproxy.Event{Type: chatproxy.EventResult}
	close(out)

	chat := &fakeBackend{
		chatStreamFn: func(ctx context.Context, sessionID, content, taskTag string) (<-chan chatproxy.Event, error) {
			return out, nil
		},
	}
	s, _ := newTestServer(t, chat, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat/stream/s1", strings.NewReader(`{"content":"hi"}`))
	req.SetPathValue("session_id", "s1")
	rec := httptest.NewRecorder()
	s.handleChatStream(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") {
		t.Fatalf("body does not start with SSE data prefix: %q", body)
	}
	if !strings.Contains(body, "\n\n") {
		t.Fatalf("body does not contain blank-line SSE event separator: %q", body)
	}
	if strings.Count(body, "data: ") != 2 {
		t.Fatalf("expected 2 SSE events, got body: %q", body)
	}
}

func TestHandleInterruptAcksWhenNoError(t *testing.T) {
	chat := &fakeBackend{
		interruptFn: func(sessionID string) error { return nil },
	}
	s, _ := newTestServer(t, chat, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat/interrupt/s1", nil)
	req.SetPathValue("session_id", "s1")
	rec := httptest.NewRecorder()
	s.handleInterrupt(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleDeleteSessionNotFoundReturns404(t *testing.T) {
	chat := &fakeBackend{}
	s, _ := newTestServer(t, chat, nil)

	req := httptest.NewRequest(http.MethodDelete, "/sessions/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	s.handleDeleteSession(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleDeleteSessionClosesAndReturns204(t *testing.T) {
	closed := false
	chat := &fakeBackend{
		closeFn: func(ctx context.Context, sessionID, reason string) error {
			closed = true
			return nil
		},
	}
	s, reg := newTestServer(t, chat, nil)
	_, _, err := reg.GetOrCreate(context.Background(), "s1", registry.Spec{Name: "s1", Backend: registry.BackendSandbox}, func(ctx context.Context, rec *registry.Record) error {
		return nil
	})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/sessions/s1", nil)
	req.SetPathValue("id", "s1")
	rec := httptest.NewRecorder()
	s.handleDeleteSession(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if !closed {
		t.Fatal("expected Chat.Close to be called")
	}
}
