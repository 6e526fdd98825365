package portpool

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/sandboxrun/sandboxd/pkg/sberrors"
)

func TestLeaseDistinctPorts(t *testing.T) {
	p, err := New("test", 40000, 40005, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seen := make(map[int]bool)
	for i := 0; i < 6; i++ {
		port, err := p.Lease()
		if err != nil {
			t.Fatalf("Lease %d: %v", i, err)
		}
		if seen[port] {
			t.Fatalf("port %d leased twice", port)
		}
		seen[port] = true
	}
}

func TestLeaseExhaustion(t *testing.T) {
	p, err := New("test", 40010, 40011, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Lease(); err != nil {
		t.Fatalf("first lease: %v", err)
	}
	if _, err := p.Lease(); err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if _, err := p.Lease(); !errors.Is(err, sberrors.ErrPoolExhausted) {
		t.Fatalf("third lease: want PoolExhausted, got %v", err)
	}
}

func TestReleaseAllowsReuse(t *testing.T) {
	p, err := New("test", 40020, 40020, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	port, err := p.Lease()
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	p.Release(port)
	if p.IsLeased(port) {
		t.Fatalf("port %d still reported leased after release", port)
	}
	if _, err := p.Lease(); err != nil {
		t.Fatalf("re-lease after release: %v", err)
	}
}

func TestLeaseSkipsHostBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("could not bind loopback listener: %v", err)
	}
	defer ln.Close()
	boundPort := ln.Addr().(*net.TCPAddr).Port

	p, err := New("test", boundPort, boundPort+1, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	port, err := p.Lease()
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if port == boundPort {
		t.Fatalf("allocator leased a port (%d) bound on the host loopback", boundPort)
	}
}

func TestPairLeaseBothReleasesOnPartialFailure(t *testing.T) {
	pr, err := NewPair(40030, 40030, 40040, 40040, time.Millisecond)
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	if _, err := pr.Code.Lease(); err != nil {
		t.Fatalf("pre-exhaust code pool: %v", err)
	}
	if _, _, err := pr.LeaseBoth(); !errors.Is(err, sberrors.ErrPoolExhausted) {
		t.Fatalf("expected LeaseBoth to fail with PoolExhausted, got %v", err)
	}
	if pr.API.LeasedCount() != 0 {
		t.Fatalf("api pool should have released its lease after code pool failed, leased=%d", pr.API.LeasedCount())
	}
}
