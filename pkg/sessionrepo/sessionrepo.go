// Package sessionrepo models the external session-store collaborator named
// in spec.md §9's "treat as an explicit outbound interface with a narrow
// method, not shared database coupling" guidance: spec.md §3 delegates
// message/session persistence to the edge layer rather than the core, so
// the core only needs a small interface it calls into, injected by
// cmd/sandboxd, the same way pkg/registry.Teardown and pkg/serve.EventHandler
// are interfaces the core depends on with the concrete implementation
// supplied by the caller (pkg/serve/service.go's Service.handler).
package sessionrepo

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("sessionrepo: not found")

// Row is the external store's view of a session: the subset of
// pkg/registry.Record worth persisting outside the process, so a session
// can be looked up (by an edge UI, an audit job) independent of the
// in-memory registry's lifetime.
type Row struct {
	SessionID string
	Backend   string
	RepoURL   string
	Branch    string
	CreatedAt time.Time
	ClosedAt  *time.Time
	Reason    string
}

// Repository is the narrow interface the core calls into. Implementations
// are expected to be collaborator-owned stores (a database, an external
// service); this package ships only the in-memory one, since nothing in
// the corpus wires a SQL or document-store driver for the core to use here
// — see DESIGN.md.
type Repository interface {
	Put(ctx context.Context, row Row) error
	Get(ctx context.Context, sessionID string) (Row, error)
	List(ctx context.Context) ([]Row, error)
	Delete(ctx context.Context, sessionID string) error
}

// InMemory is a Repository backed by a guarded map, suitable for tests and
// for local/dev runs where no external store is configured.
type InMemory struct {
	mu   sync.RWMutex
	rows map[string]Row
}

// NewInMemory constructs an empty InMemory repository.
func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[string]Row)}
}

var _ Repository = (*InMemory)(nil)

func (m *InMemory) Put(ctx context.Context, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.SessionID] = row
	return nil
}

func (m *InMemory) Get(ctx context.Context, sessionID string) (Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[sessionID]
	if !ok {
		return Row{}, ErrNotFound
	}
	return row, nil
}

func (m *InMemory) List(ctx context.Context) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Row, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

func (m *InMemory) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.rows, sessionID)
	return nil
}
