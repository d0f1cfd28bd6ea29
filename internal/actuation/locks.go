package actuation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cfengine-go/agentcore/internal/kv"
)

// LockManager guards promise actuation against concurrent and
// too-frequent re-runs using a locks kv database: one global lock that
// serializes an entire agent run against another instance of itself, and
// per-promise locks keyed by handle that enforce ifelapsed (skip if the
// promise last ran too recently) and expireafter (force-release a lock
// that has been held implausibly long, treating the holder as dead).
type LockManager struct {
	h     *kv.Handle
	token string
}

const locksDBName = "cf_lock"

var globalLockKey = []byte("__global__")

// OpenLockManager opens (or creates) the locks database under dir.
func OpenLockManager(dir string) (*LockManager, error) {
	h, err := kv.Open(dir, locksDBName)
	if err != nil {
		return nil, fmt.Errorf("actuation: open lock db: %w", err)
	}
	return &LockManager{h: h, token: uuid.NewString()}, nil
}

// Close releases the underlying kv handle.
func (m *LockManager) Close() error { return m.h.Close() }

// HolderToken identifies this LockManager instance (and so, in
// practice, this running agent process) in lock records it acquires.
// The token is stored in each record's Holder field; nothing in this
// tree reads it back for comparison.
func (m *LockManager) HolderToken() string { return m.token }

// lockRecord's two timestamps are each independently optional: a global
// or promise lock record has AcquiredAt set while held and LastRan set
// once released, never both meaningfully at once, so zero-valued
// time.Time (rather than a round-tripped Unix nanosecond count, which is
// undefined for the zero time) marks "absent". Holder is the acquiring
// LockManager's token, empty on a released (LastRan-only) record.
type lockRecord struct {
	AcquiredAt time.Time
	LastRan    time.Time
	Holder     string
}

func encodeLockRecord(r lockRecord) []byte {
	holder := []byte(r.Holder)
	buf := make([]byte, 19+len(holder))
	putTimestamp(buf[0:9], r.AcquiredAt)
	putTimestamp(buf[9:18], r.LastRan)
	buf[18] = byte(len(holder))
	copy(buf[19:], holder)
	return buf
}

func decodeLockRecord(b []byte) (lockRecord, bool) {
	if len(b) < 18 {
		return lockRecord{}, false
	}
	rec := lockRecord{AcquiredAt: timestampAt(b[0:9]), LastRan: timestampAt(b[9:18])}
	if len(b) >= 19 {
		n := int(b[18])
		if len(b) >= 19+n {
			rec.Holder = string(b[19 : 19+n])
		}
	}
	return rec, true
}

// putTimestamp writes a 1-byte present flag followed by an 8-byte Unix
// nanosecond count; the zero time.Time is written with the flag unset so
// decoding it yields time.Time{} (IsZero() == true) rather than an
// undefined Unix-nanosecond overflow.
func putTimestamp(b []byte, t time.Time) {
	if t.IsZero() {
		b[0] = 0
		return
	}
	b[0] = 1
	v := uint64(t.UnixNano())
	for i := 0; i < 8; i++ {
		b[1+i] = byte(v >> (56 - 8*i))
	}
}

func timestampAt(b []byte) time.Time {
	if b[0] == 0 {
		return time.Time{}
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[1+i])
	}
	return time.Unix(0, int64(v)).UTC()
}

// AcquireGlobal takes the whole-agent-run lock, forcing it past a stale
// holder whose expireafter has elapsed. It returns ok=false without
// error when a live holder already owns the lock.
func (m *LockManager) AcquireGlobal(now time.Time, expireAfter time.Duration) (ok bool, err error) {
	return m.acquire(globalLockKey, now, 0, expireAfter)
}

// ReleaseGlobal releases the global lock.
func (m *LockManager) ReleaseGlobal() error {
	return m.h.Delete(globalLockKey)
}

// AcquirePromise takes a handle-scoped lock, honoring ifelapsed (refuse
// to re-acquire before the interval since the promise's last completed
// run has passed) and expireafter (steal the lock from a holder that has
// held it for longer than this, presumed dead).
func (m *LockManager) AcquirePromise(handle string, now time.Time, ifElapsed, expireAfter time.Duration) (ok bool, err error) {
	return m.acquire([]byte(handle), now, ifElapsed, expireAfter)
}

// ReleasePromise releases handle's lock and records now as its last-ran
// time so a subsequent AcquirePromise can evaluate ifelapsed against it.
func (m *LockManager) ReleasePromise(handle string, now time.Time) error {
	key := []byte(handle)
	rec := lockRecord{LastRan: now}
	return m.h.Write(key, encodeLockRecord(rec))
}

func (m *LockManager) acquire(key []byte, now time.Time, ifElapsed, expireAfter time.Duration) (bool, error) {
	existing, present, err := m.h.Read(key)
	if err != nil {
		return false, err
	}
	if present {
		rec, ok := decodeLockRecord(existing)
		if ok {
			held := now.Sub(rec.AcquiredAt)
			if !rec.AcquiredAt.IsZero() && expireAfter > 0 && held > expireAfter {
				// Stale holder: fall through and steal the lock.
			} else if !rec.AcquiredAt.IsZero() {
				return false, nil
			} else if ifElapsed > 0 && !rec.LastRan.IsZero() && now.Sub(rec.LastRan) < ifElapsed {
				return false, nil
			}
		}
	}
	rec := lockRecord{AcquiredAt: now, Holder: m.token}
	if err := m.h.Write(key, encodeLockRecord(rec)); err != nil {
		return false, err
	}
	return true, nil
}
