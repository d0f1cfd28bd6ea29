// Package netcache implements the connection cache described by
// conn_cache.c: a pool of outbound connections keyed by (host, port, flags)
// with a four-state lifecycle (IDLE, BUSY, BROKEN, OFFLINE), serialized by
// a single mutex since the agent this pool serves is single-threaded and
// correctness under contention, not throughput, is the requirement.
package netcache

import (
	"net"
	"sync"
)

// Status is a connection cache entry's lifecycle state.
type Status int

const (
	// Idle entries may be matched and checked out by FindIdleMarkBusy.
	Idle Status = iota
	// Busy entries are checked out by exactly one caller.
	Busy
	// Broken entries had a socket error and are never returned again.
	Broken
	// Offline entries were recorded by a caller whose dial failed.
	Offline
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Busy:
		return "BUSY"
	case Broken:
		return "BROKEN"
	case Offline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// Flags are compared field-wise (not as an opaque integer) when matching a
// lookup against pool entries.
type Flags struct {
	Protocol    string // e.g. "classic" or "tls"
	ForceIPv4   bool
	TrustServer bool
}

// entry is one pooled connection.
type entry struct {
	conn   net.Conn
	host   string
	port   int
	flags  Flags
	status Status
}

// Cache is the process-wide connection pool singleton.
type Cache struct {
	mu      sync.Mutex
	entries []*entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{}
}

// Handle is an opaque reference to a pool entry returned to callers so they
// can later release it via MarkNotBusy without re-scanning the pool.
type Handle struct {
	e *entry
}

// Conn returns the underlying net.Conn for h.
func (h Handle) Conn() net.Conn { return h.e.conn }

// SocketErrorProbe reports whether a pooled connection's descriptor
// currently carries a socket error, the equivalent of the
// getsockopt(SOL_SOCKET, SO_ERROR) check the original performs before
// handing an idle connection back out.
type SocketErrorProbe func(net.Conn) error

// FindIdleMarkBusy scans the pool for an IDLE entry matching (host, port,
// flags) exactly, probing each candidate's liveness before committing to
// it: a candidate whose probe reports an error is moved to BROKEN and the
// scan continues rather than returning a dead connection. The first live
// match is marked BUSY and returned.
func (c *Cache) FindIdleMarkBusy(host string, port int, flags Flags, probe SocketErrorProbe) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.status != Idle {
			continue
		}
		if e.host != host || e.port != port || e.flags != flags {
			continue
		}
		if probe != nil {
			if err := probe(e.conn); err != nil {
				e.status = Broken
				continue
			}
		}
		e.status = Busy
		return Handle{e: e}, true
	}
	return Handle{}, false
}

// MarkNotBusy returns a checked-out entry to IDLE. Calling it on an entry
// that has since become BROKEN (e.g. a caller observed a write error after
// checkout) should instead route through MarkBroken.
func (c *Cache) MarkNotBusy(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.e.status == Busy {
		h.e.status = Idle
	}
}

// MarkBroken moves a checked-out entry to BROKEN, terminal: it will never
// be returned by a future FindIdleMarkBusy.
func (c *Cache) MarkBroken(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h.e.status = Broken
}

// Add inserts a new pool entry in O(1); initialStatus is typically BUSY
// (the caller just dialed and is about to use it) or OFFLINE (the caller
// is recording a failed dial attempt so future lookups short-circuit).
func (c *Cache) Add(conn net.Conn, host string, port int, flags Flags, initialStatus Status) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &entry{conn: conn, host: host, port: port, flags: flags, status: initialStatus}
	c.entries = append(c.entries, e)
	return Handle{e: e}
}

// Len returns the number of entries currently in the pool, for diagnostics
// and tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CountByStatus returns the number of entries in status s.
func (c *Cache) CountByStatus(s Status) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.status == s {
			n++
		}
	}
	return n
}

// Destroy closes every still-open connection in the pool and empties it.
func (c *Cache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.conn != nil {
			e.conn.Close()
		}
	}
	c.entries = nil
}
