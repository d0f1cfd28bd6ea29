// Package kv implements the per-database-handle key/value contract that
// the lastseen registry, locks database, and checksums/state databases are
// all built on: open/read/write/has/delete/clear/cursor/diagnose over a
// single embedded B-tree backend (go.etcd.io/bbolt), chosen as the
// Go-idiomatic analogue of the mapped-B-tree/MVCC backend, with a
// per-handle mutex layered on top to emulate the non-MVCC discipline for
// operations bbolt itself does not serialize for us (cursor-during-write).
package kv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cfengine-go/agentcore/pkg/metrics"
)

// Status reports the outcome of opening a handle.
type Status int

const (
	StatusOK Status = iota
	StatusBroken
)

var rootBucket = []byte("kv")

// ErrBroken is returned (wrapped) when a handle could not be opened or
// repaired and the caller should treat the database as needing re-creation.
var ErrBroken = errors.New("kv: handle broken")

// ErrCursorHeld is returned by Cursor when a cursor is already open on the
// handle; the contract allows only one cursor per handle at a time.
var ErrCursorHeld = errors.New("kv: cursor already held")

// Handle is one opened database file. All operations on a Handle are safe
// for concurrent use. An open Cursor holds the write lock until it is
// closed, so Write/Delete/Clear block for that long, and one issued by the
// cursor's own holder before closing it deadlocks.
type Handle struct {
	name string
	path string
	db   *bbolt.DB

	writeMu  sync.Mutex
	cursorMu sync.Mutex
}

// Open opens (creating if absent) the database file for name under dir. If
// the backend reports corruption, Open attempts a repair by replication
// once; if that also fails it returns ErrBroken so the caller can delete
// and recreate the file.
func Open(dir, name string) (*Handle, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("kv: create state dir: %w", err)
	}
	path := filepath.Join(dir, name+".db")

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		if repaired, rerr := attemptRepair(path); rerr == nil {
			db = repaired
		} else {
			return nil, fmt.Errorf("%w: %s: %v", ErrBroken, name, err)
		}
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: init bucket for %s: %w", name, err)
	}

	return &Handle{name: name, path: path, db: db}, nil
}

func attemptRepair(path string) (*bbolt.DB, error) {
	tmp := path + ".repair"
	if err := Replicate(path, tmp); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, err
	}
	return bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
}

// Name returns the handle's database name.
func (h *Handle) Name() string { return h.name }

// Path returns the handle's backing file path.
func (h *Handle) Path() string { return h.path }

// Close releases the underlying file.
func (h *Handle) Close() error { return h.db.Close() }

// Read returns the value stored at key, or ok=false if absent.
func (h *Handle) Read(key []byte) (value []byte, ok bool, err error) {
	start := time.Now()
	err = h.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(rootBucket).Get(key)
		if v != nil {
			value = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	metrics.RecordKVOperation(h.name, "read", err, time.Since(start))
	return value, ok, err
}

// Write stores value at key, creating or overwriting it.
func (h *Handle) Write(key, value []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	start := time.Now()
	err := h.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(rootBucket).Put(key, value)
	})
	metrics.RecordKVOperation(h.name, "write", err, time.Since(start))
	return err
}

// Has reports whether key is present.
func (h *Handle) Has(key []byte) (bool, error) {
	_, ok, err := h.Read(key)
	return ok, err
}

// SizeOfValue returns the byte length of the value at key, or ok=false if
// absent.
func (h *Handle) SizeOfValue(key []byte) (size int, ok bool, err error) {
	err = h.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(rootBucket).Get(key)
		if v != nil {
			size = len(v)
			ok = true
		}
		return nil
	})
	return size, ok, err
}

// Delete removes key. It is not an error for key to be absent.
func (h *Handle) Delete(key []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	start := time.Now()
	err := h.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(rootBucket).Delete(key)
	})
	metrics.RecordKVOperation(h.name, "delete", err, time.Since(start))
	return err
}

// Clear removes every key in the handle.
func (h *Handle) Clear() error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(rootBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(rootBucket)
		return err
	})
}

// Cursor is a single outstanding iteration over a Handle. Only one Cursor
// may be open per Handle at a time; acquiring it takes the cursor lock and
// then the write lock, both held until Close, so a write issued while a
// cursor is open blocks until the cursor is closed (rather than racing
// it), and a cursor that is never closed blocks writers indefinitely.
type Cursor struct {
	h  *Handle
	tx *bbolt.Tx
	c  *bbolt.Cursor

	curKey []byte
	closed bool
	opened time.Time
}

// Cursor opens an iterator over h. The cursor's transaction is read-write
// so that WriteCurrent/DeleteCurrent can mutate in place during iteration.
func (h *Handle) Cursor() (*Cursor, error) {
	if !h.cursorMu.TryLock() {
		metrics.RecordKVOperation(h.name, "cursor_open", ErrCursorHeld, 0)
		return nil, ErrCursorHeld
	}
	h.writeMu.Lock()

	tx, err := h.db.Begin(true)
	if err != nil {
		h.writeMu.Unlock()
		h.cursorMu.Unlock()
		metrics.RecordKVOperation(h.name, "cursor_open", err, 0)
		return nil, err
	}
	return &Cursor{h: h, tx: tx, c: tx.Bucket(rootBucket).Cursor(), opened: time.Now()}, nil
}

// Next advances to the next entry, returning ok=false once exhausted.
func (c *Cursor) Next() (key, value []byte, ok bool) {
	var k, v []byte
	if c.curKey == nil {
		k, v = c.c.First()
	} else {
		k, v = c.c.Next()
	}
	if k == nil {
		return nil, nil, false
	}
	c.curKey = append([]byte(nil), k...)
	return k, v, true
}

// DeleteCurrent removes the entry the cursor is positioned on.
func (c *Cursor) DeleteCurrent() error { return c.c.Delete() }

// WriteCurrent overwrites the value of the entry the cursor is positioned
// on.
func (c *Cursor) WriteCurrent(value []byte) error {
	return c.tx.Bucket(rootBucket).Put(c.curKey, value)
}

// Close commits the cursor's transaction and releases the handle's locks.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.tx.Commit()
	c.h.writeMu.Unlock()
	c.h.cursorMu.Unlock()
	metrics.RecordKVOperation(c.h.name, "cursor", err, time.Since(c.opened))
	return err
}

// Diagnose returns a human-readable description of any structural problem
// found in the database file at path, or "" if it looks healthy.
func Diagnose(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if info.Size() == 0 {
		return "empty database file", nil
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return fmt.Sprintf("failed to open: %v", err), nil
	}
	defer db.Close()

	problem := ""
	err = db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			return b.ForEach(func(k, v []byte) error { return nil })
		})
	})
	if err != nil {
		problem = fmt.Sprintf("structural scan failed: %v", err)
	}
	return problem, nil
}
