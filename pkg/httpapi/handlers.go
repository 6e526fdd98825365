package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sandboxrun/sandboxd/pkg/chatproxy"
	"github.com/sandboxrun/sandboxd/pkg/log"
	"github.com/sandboxrun/sandboxd/pkg/registry"
	"github.com/sandboxrun/sandboxd/pkg/sberrors"
	"github.com/sandboxrun/sandboxd/pkg/sessionrepo"
)

// sessionDescriptor is the session shape returned by every /sessions
// endpoint (spec.md §6's "returns session descriptor").
type sessionDescriptor struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Backend       string    `json:"backend"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	WorkspacePath string    `json:"workspace_path,omitempty"`
	RepoURL       string    `json:"repo_url,omitempty"`
	Branch        string    `json:"branch,omitempty"`
	FailureCause  string    `json:"failure_cause,omitempty"`
}

func toDescriptor(rec *registry.Record) sessionDescriptor {
	return sessionDescriptor{
		ID:            rec.ID,
		Name:          rec.Name,
		Backend:       string(rec.Backend),
		Status:        string(rec.Status),
		CreatedAt:     rec.CreatedAt,
		LastActivity:  rec.LastActivity,
		WorkspacePath: rec.WorkspacePath,
		RepoURL:       rec.RepoURL,
		Branch:        rec.Branch,
		FailureCause:  rec.FailureCause,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("httpapi: encoding response: %v", err)
	}
}

// writeError translates err into spec.md §7's uniform {code, message, data}
// envelope and the HTTP status sberrors.HTTPStatus maps it to.
func writeError(w http.ResponseWriter, err error) {
	envelope := sberrors.ToEnvelope(err)
	writeJSON(w, sberrors.HTTPStatus(envelope.Code), envelope)
}

type createSessionRequest struct {
	Name    string `json:"name"`
	RepoURL string `json:"repo_url,omitempty"`
	Branch  string `json:"branch,omitempty"`

	// GitHub* are optional; when all three are set and a Notify func is
	// configured, session creation posts a ready notice to that issue
	// (spec.md §9's outbound menu-registration sidechannel).
	GitHubOwner       string `json:"github_owner,omitempty"`
	GitHubRepo        string `json:"github_repo,omitempty"`
	GitHubIssueNumber int    `json:"github_issue_number,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sberrors.Envelope{Code: sberrors.CodeConfigInvalid, Message: "malformed request body"})
		return
	}

	id := newSessionID()
	rec, err := s.Create(r.Context(), id, req.Name, req.RepoURL, req.Branch)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.Sessions != nil {
		row := sessionrepo.Row{
			SessionID: rec.ID,
			Backend:   string(rec.Backend),
			RepoURL:   rec.RepoURL,
			Branch:    rec.Branch,
			CreatedAt: rec.CreatedAt,
		}
		if err := s.Sessions.Put(r.Context(), row); err != nil {
			// The repository is a sidechannel collaborator (spec.md §3); a
			// failure to persist the metadata row never invalidates a
			// session the registry already considers live.
			log.Errorf("httpapi: persisting session %s to repository: %v", rec.ID, err)
		}
	}

	if s.Notify != nil && req.GitHubOwner != "" && req.GitHubRepo != "" && req.GitHubIssueNumber != 0 {
		message := fmt.Sprintf("Workspace provisioned at %s.", rec.WorkspacePath)
		if _, err := s.Notify(r.Context(), req.GitHubOwner, req.GitHubRepo, req.GitHubIssueNumber, rec.ID, message); err != nil {
			log.Errorf("httpapi: notifying issue %s/%s#%d of session %s: %v", req.GitHubOwner, req.GitHubRepo, req.GitHubIssueNumber, rec.ID, err)
		}
	}

	writeJSON(w, http.StatusCreated, toDescriptor(rec))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if rec := s.Registry.Lookup(id); rec != nil {
		writeJSON(w, http.StatusOK, toDescriptor(rec))
		return
	}
	if rec, ok := s.Registry.LastFailure(id); ok {
		writeJSON(w, http.StatusOK, toDescriptor(rec))
		return
	}
	writeError(w, sberrors.ErrNotFound)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	records := s.Registry.List()
	descriptors := make([]sessionDescriptor, 0, len(records))
	for _, rec := range records {
		descriptors = append(descriptors, toDescriptor(rec))
	}
	writeJSON(w, http.StatusOK, descriptors)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec := s.Registry.Lookup(id)
	if rec == nil {
		writeError(w, sberrors.ErrNotFound)
		return
	}

	if err := s.Chat.Close(r.Context(), id, "deleted"); err != nil {
		writeError(w, err)
		return
	}

	if s.Destroy != nil && rec.WorkspacePath != "" {
		if err := s.Destroy(r.Context(), rec); err != nil {
			log.Errorf("httpapi: destroying workspace for %s: %v", id, err)
		}
	}
	if s.Sessions != nil {
		if err := s.Sessions.Delete(r.Context(), id); err != nil {
			log.Errorf("httpapi: removing session %s from repository: %v", id, err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	Content string `json:"content"`
	TaskTag string `json:"task_tag"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sberrors.Envelope{Code: sberrors.CodeConfigInvalid, Message: "malformed request body"})
		return
	}

	events, err := s.Chat.Chat(r.Context(), id, req.Content, req.TaskTag)
	if err != nil {
		writeError(w, err)
		return
	}

	notifications := make([]chatproxy.Notification, 0, len(events))
	for _, ev := range events {
		n, err := ev.ToNotification()
		if err != nil {
			writeError(w, err)
			return
		}
		notifications = append(notifications, n)
	}
	writeJSON(w, http.StatusOK, struct {
		Events []chatproxy.Notification `json:"events"`
	}{Events: notifications})
}

// handleChatStream implements spec.md §6's streaming chat_stream endpoint:
// one SSE event per chatproxy.Event, final event always terminal.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sberrors.Envelope{Code: sberrors.CodeConfigInvalid, Message: "malformed request body"})
		return
	}

	events, err := s.Chat.ChatStream(r.Context(), id, req.Content, req.TaskTag)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sw := chatproxy.NewStreamWriter(newSSEWriter(w))
	for ev := range events {
		if err := sw.WriteEvent(ev); err != nil {
			log.Errorf("httpapi: writing sse event for %s: %v", id, err)
			return
		}
	}
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	if err := s.Chat.Interrupt(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}
