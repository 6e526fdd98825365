// Package portpool implements the two disjoint bounded port pools described
// in spec.md §4.2: Port Allocator. Each pool is a configured inclusive range
// plus a bookkeeping set of leased ports; leasing probes the host loopback
// before committing so the allocator never hands out a port some other
// process already holds.
package portpool

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sandboxrun/sandboxd/pkg/sberrors"
)

// Pool is one independent allocator over an inclusive port range.
type Pool struct {
	name string
	low  int
	high int

	probeTimeout time.Duration
	probeAddr    string // host used for the loopback probe, default "127.0.0.1"

	mu     sync.Mutex
	leased map[int]struct{}
	next   int // next port to try, for sequential-scan-from-low-end behavior
}

// New creates a Pool over [low, high]. probeTimeout bounds the per-port
// loopback dial; a zero value defaults to 200ms.
func New(name string, low, high int, probeTimeout time.Duration) (*Pool, error) {
	if low <= 0 || high <= 0 || low > high {
		return nil, fmt.Errorf("portpool %s: invalid range [%d, %d]", name, low, high)
	}
	if probeTimeout <= 0 {
		probeTimeout = 200 * time.Millisecond
	}
	return &Pool{
		name:         name,
		low:          low,
		high:         high,
		probeTimeout: probeTimeout,
		probeAddr:    "127.0.0.1",
		leased:       make(map[int]struct{}),
		next:         low,
	}, nil
}

// Lease selects the first unleased, unbound port in the range, starting the
// scan where the previous scan left off (sequential, predictable, per
// spec.md §4.2 — no fairness guarantee is required). Returns
// sberrors.ErrPoolExhausted if every port in range is leased or bound.
func (p *Pool) Lease() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	span := p.high - p.low + 1
	start := p.next
	for i := 0; i < span; i++ {
		port := p.low + (start-p.low+i)%span
		if _, ok := p.leased[port]; ok {
			continue
		}
		if p.isBound(port) {
			continue
		}
		p.leased[port] = struct{}{}
		p.next = port + 1
		if p.next > p.high {
			p.next = p.low
		}
		return port, nil
	}
	return 0, fmt.Errorf("portpool %s: %w", p.name, sberrors.ErrPoolExhausted)
}

// Release returns port to the pool. No host-level action is taken; release
// is pure bookkeeping per spec.md §4.2.
func (p *Pool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.leased, port)
}

// IsLeased reports whether port is currently leased from this pool. Used by
// tests and diagnostics to assert the post-close invariant in spec.md §8.
func (p *Pool) IsLeased(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.leased[port]
	return ok
}

// LeasedCount returns the number of currently leased ports.
func (p *Pool) LeasedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased)
}

func (p *Pool) isBound(port int) bool {
	addr := net.JoinHostPort(p.probeAddr, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, p.probeTimeout)
	if err != nil {
		// Connection refused (or timeout) means nothing is listening there.
		return false
	}
	_ = conn.Close()
	return true
}

// Pair bundles the two pools the session record draws from: the agent API
// port pool and the code-service/preview port pool.
type Pair struct {
	API  *Pool
	Code *Pool
}

// NewPair constructs both pools from configured ranges.
func NewPair(apiLow, apiHigh, codeLow, codeHigh int, probeTimeout time.Duration) (*Pair, error) {
	api, err := New("api", apiLow, apiHigh, probeTimeout)
	if err != nil {
		return nil, err
	}
	code, err := New("code", codeLow, codeHigh, probeTimeout)
	if err != nil {
		return nil, err
	}
	return &Pair{API: api, Code: code}, nil
}

// LeaseBoth leases one port from each pool, releasing the first on failure
// of the second so a partial lease is never observable by callers.
func (pr *Pair) LeaseBoth() (apiPort, codePort int, err error) {
	apiPort, err = pr.API.Lease()
	if err != nil {
		return 0, 0, err
	}
	codePort, err = pr.Code.Lease()
	if err != nil {
		pr.API.Release(apiPort)
		return 0, 0, err
	}
	return apiPort, codePort, nil
}

// ReleaseBoth releases both ports of a session. Safe to call on zero values.
func (pr *Pair) ReleaseBoth(apiPort, codePort int) {
	if apiPort != 0 {
		pr.API.Release(apiPort)
	}
	if codePort != 0 {
		pr.Code.Release(codePort)
	}
}
