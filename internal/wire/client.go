package wire

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cfengine-go/agentcore/internal/crypto"
	"github.com/cfengine-go/agentcore/internal/lastseen"
	"github.com/cfengine-go/agentcore/internal/netcache"
)

// Client issues synchronous verb calls over connections checked out of a
// netcache.Cache, throttling new dials with a token bucket the way
// infrastructure/ratelimit.RateLimiter throttles outbound HTTP calls.
type Client struct {
	cache     *netcache.Cache
	dialer    net.Dialer
	dialLimit *rate.Limiter
	timeout   time.Duration

	// Identity, when set, lets the client perform the HELLO handshake
	// via Hello. Nil leaves the client usable for OPENDIR/STAT/GET but
	// unable to establish or record peer trust.
	Identity *crypto.KeyPair
	// PeerRegistry, when set, records a Hello call's peer digest as an
	// outgoing contact.
	PeerRegistry *lastseen.Registry

	// Logf, when set, is called with a fresh correlation ID on every
	// call's entry and exit, letting a multi-connection log stream be
	// grouped back into individual request/response round trips.
	Logf func(format string, args ...any)
}

// NewClient returns a Client sharing cache, limiting new dials to rps with
// a burst of burst, and enforcing timeout as both the dial deadline and the
// per-call read/write deadline.
func NewClient(cache *netcache.Cache, rps float64, burst int, timeout time.Duration) *Client {
	return &Client{
		cache:     cache,
		dialer:    net.Dialer{Timeout: timeout},
		dialLimit: rate.NewLimiter(rate.Limit(rps), burst),
		timeout:   timeout,
	}
}

// call holds the connection BUSY from checkout until it returns, and on
// any I/O or framing error moves the connection to BROKEN before
// propagating the error, per the client guarantee in the wire protocol
// component design.
func (c *Client) call(ctx context.Context, host string, port int, flags netcache.Flags, fn func(net.Conn) error) error {
	corrID := uuid.NewString()
	c.logf("corr=%s call %s:%d start", corrID, host, port)

	h, ok := c.cache.FindIdleMarkBusy(host, port, flags, socketErrorProbe)
	if !ok {
		conn, err := c.dial(ctx, host, port)
		if err != nil {
			c.cache.Add(nil, host, port, flags, netcache.Offline)
			c.logf("corr=%s call %s:%d dial failed: %v", corrID, host, port, err)
			return fmt.Errorf("wire: dial %s:%d: %w", host, port, err)
		}
		h = c.cache.Add(conn, host, port, flags, netcache.Busy)
	}

	if c.timeout > 0 {
		h.Conn().SetDeadline(time.Now().Add(c.timeout))
	}

	if err := fn(h.Conn()); err != nil {
		c.cache.MarkBroken(h)
		c.logf("corr=%s call %s:%d failed: %v", corrID, host, port, err)
		return err
	}
	c.cache.MarkNotBusy(h)
	c.logf("corr=%s call %s:%d ok", corrID, host, port)
	return nil
}

func (c *Client) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

func (c *Client) dial(ctx context.Context, host string, port int) (net.Conn, error) {
	if err := c.dialLimit.Wait(ctx); err != nil {
		return nil, err
	}
	return c.dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
}

func socketErrorProbe(conn net.Conn) error {
	one := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, err := conn.Read(one)
	conn.SetReadDeadline(time.Time{})
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return nil
	}
	return err
}

// OpenDir lists the directory at path on host, returning the NUL-separated
// names up to the terminator token.
func (c *Client) OpenDir(ctx context.Context, host string, port int, flags netcache.Flags, path string) ([]string, error) {
	var names []string
	err := c.call(ctx, host, port, flags, func(conn net.Conn) error {
		if err := WriteMessage(conn, Message{Verb: VerbOpenDir, Args: []string{path}}); err != nil {
			return err
		}
		r := bufio.NewReader(conn)
		for {
			msg, err := ReadMessage(r)
			if err != nil {
				return err
			}
			line := msg.String()
			if line == DirTerminator {
				return nil
			}
			names = append(names, line)
		}
	})
	return names, err
}

// Stat issues SYNCH <epoch> STAT <path> and returns the parsed field
// string on success.
func (c *Client) Stat(ctx context.Context, host string, port int, flags netcache.Flags, path string, clientEpoch int64) (string, error) {
	var fields string
	err := c.call(ctx, host, port, flags, func(conn net.Conn) error {
		msg := Message{Verb: VerbSynch, Args: []string{fmt.Sprintf("%d", clientEpoch), string(VerbStat), path}}
		if err := WriteMessage(conn, msg); err != nil {
			return err
		}
		r := bufio.NewReader(conn)
		reply, err := ReadMessage(r)
		if err != nil {
			return err
		}
		resp := ParseResponse(reply.String())
		if !resp.OK {
			return fmt.Errorf("wire: STAT rejected: %s", resp.Payload)
		}
		fields = resp.Payload
		return nil
	})
	return fields, err
}

// Get streams the file at path in chunkSize-bounded chunks, invoking onChunk
// for each one; the call returns once the final (non-full) chunk has been
// delivered.
func (c *Client) Get(ctx context.Context, host string, port int, flags netcache.Flags, path string, chunkSize int, onChunk func([]byte) error) error {
	return c.call(ctx, host, port, flags, func(conn net.Conn) error {
		msg := Message{Verb: VerbGet, Args: []string{fmt.Sprintf("%d", chunkSize), path}}
		if err := WriteMessage(conn, msg); err != nil {
			return err
		}
		buf := make([]byte, chunkSize)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return err
			}
			if err := onChunk(buf[:n]); err != nil {
				return err
			}
			if IsFinalChunk(n) {
				return nil
			}
		}
	})
}
