package sessionrepo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPutThenGetRoundTrips(t *testing.T) {
	repo := NewInMemory()
	row := Row{SessionID: "s1", Backend: "sandbox", RepoURL: "https://example.com/acme/widgets.git", CreatedAt: time.Now()}

	if err := repo.Put(context.Background(), row); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := repo.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != "s1" || got.RepoURL != row.RepoURL {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	repo := NewInMemory()
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	repo := NewInMemory()
	_ = repo.Put(context.Background(), Row{SessionID: "s1"})

	if err := repo.Delete(context.Background(), "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(context.Background(), "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to return ErrNotFound, got %v", err)
	}
}

func TestListReturnsAllRows(t *testing.T) {
	repo := NewInMemory()
	_ = repo.Put(context.Background(), Row{SessionID: "s1"})
	_ = repo.Put(context.Background(), Row{SessionID: "s2"})

	rows, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}
