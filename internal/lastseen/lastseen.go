// Package lastseen implements the forward/reverse/quality registry of
// peers an agent has exchanged connections with, layered on internal/kv.
// Every peer contact updates a forward record (key → address), a reverse
// record (address → key, last claimant wins), and a quality record driven
// by an exponentially-weighted estimator of round-trip reliability.
package lastseen

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cfengine-go/agentcore/internal/kv"
)

// Direction distinguishes a connection this agent initiated (outgoing) from
// one a peer initiated against this agent (incoming); each gets its own
// quality record key prefix so inbound and outbound reliability are
// tracked independently.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

const (
	forwardPrefix = "k"
	reversePrefix = "a"
	qualityInPrefix  = "qi"
	qualityOutPrefix = "qo"
)

// alpha is the EWMA smoothing factor from the quality recurrence in §4.C.
const alpha = 0.7

// ErrBroken is returned by Open when the coherence check fails.
var ErrBroken = errors.New("lastseen: handle broken")

// Quality is the exponentially-weighted reliability estimate for a peer
// direction.
type Quality struct {
	LastSeenEpoch int64
	Q             float64
	Expected      float64
	Variance      float64
}

// Update folds a new observation q into the estimate following:
//
//	expected' = α·expected + (1-α)·q
//	variance' = α·variance + (1-α)·(q-expected')²
//
// NaN in Expected or Variance is treated as "not yet initialized": the
// first observation seeds Expected directly and Variance starts at 0.
func (qr Quality) Update(observation float64, now time.Time) Quality {
	expected := qr.Expected
	variance := qr.Variance
	if math.IsNaN(expected) {
		expected = observation
		variance = 0
	} else {
		newExpected := alpha*expected + (1-alpha)*observation
		variance = alpha*variance + (1-alpha)*(observation-newExpected)*(observation-newExpected)
		expected = newExpected
	}
	return Quality{
		LastSeenEpoch: now.Unix(),
		Q:             observation,
		Expected:      expected,
		Variance:      variance,
	}
}

// NewQuality returns the uninitialized (NaN) quality value a peer starts
// with before its first observation.
func NewQuality() Quality {
	return Quality{Expected: math.NaN(), Variance: math.NaN()}
}

// Forward is the forward record: the address last associated with a peer
// key.
type Forward struct {
	Address   string
	UpdatedAt time.Time
}

// Registry is a lastseen database layered on a kv.Handle.
type Registry struct {
	h *kv.Handle
}

// Open opens the lastseen database under dir, running the migration hook
// (gated on the version marker) and then the coherence check. A failing
// coherence check returns ErrBroken so the caller can quarantine and
// recreate the handle.
func Open(dir string) (*Registry, error) {
	h, err := kv.Open(dir, "cf_lastseen")
	if err != nil {
		return nil, err
	}
	r := &Registry{h: h}

	if _, err := h.Migrate(migrateLegacyLayout); err != nil {
		h.Close()
		return nil, fmt.Errorf("lastseen: migrate: %w", err)
	}

	if err := r.checkCoherence(); err != nil {
		h.Close()
		return nil, fmt.Errorf("%w: %v", ErrBroken, err)
	}
	return r, nil
}

// Close releases the underlying handle.
func (r *Registry) Close() error { return r.h.Close() }

// Register writes/refreshes the forward, reverse, and quality records for
// a contact with peerKey at address observed at now, with a round-trip
// reliability observation folded into the EWMA estimator.
func (r *Registry) Register(dir Direction, peerKey, address string, now time.Time, observation float64) error {
	fwdKey := []byte(forwardPrefix + peerKey)
	revKey := []byte(reversePrefix + address)
	qualKey := qualityKey(dir, peerKey)

	if err := r.h.Write(fwdKey, encodeForward(Forward{Address: address, UpdatedAt: now})); err != nil {
		return err
	}
	if err := r.h.Write(revKey, []byte(peerKey)); err != nil {
		return err
	}

	q := NewQuality()
	if existing, ok, err := r.h.Read(qualKey); err != nil {
		return err
	} else if ok {
		q = decodeQuality(existing)
	}
	q = q.Update(observation, now)
	return r.h.Write(qualKey, encodeQuality(q))
}

// Forward returns the forward record for peerKey.
func (r *Registry) Forward(peerKey string) (Forward, bool, error) {
	raw, ok, err := r.h.Read([]byte(forwardPrefix + peerKey))
	if err != nil || !ok {
		return Forward{}, ok, err
	}
	return decodeForward(raw), true, nil
}

// Reverse returns the peer key currently claiming address.
func (r *Registry) Reverse(address string) (peerKey string, ok bool, err error) {
	raw, ok, err := r.h.Read([]byte(reversePrefix + address))
	if err != nil || !ok {
		return "", ok, err
	}
	return string(raw), true, nil
}

// QualityOf returns the quality record for peerKey in the given direction.
func (r *Registry) QualityOf(dir Direction, peerKey string) (Quality, bool, error) {
	raw, ok, err := r.h.Read(qualityKey(dir, peerKey))
	if err != nil || !ok {
		return Quality{}, ok, err
	}
	return decodeQuality(raw), true, nil
}

// Forget removes peerKey's forward record and its quality records in both
// directions, plus the reverse record of its address when that record
// still names peerKey (an address since claimed by another peer keeps that
// peer's reverse record). The reverse record is deleted first. Each delete
// is its own write transaction, not one atomic removal: a concurrent reader
// can observe a partly removed state, and an error midway leaves the
// remaining records in place.
func (r *Registry) Forget(peerKey string) error {
	fwd, ok, err := r.Forward(peerKey)
	if err != nil {
		return err
	}
	if ok {
		claimant, has, err := r.Reverse(fwd.Address)
		if err != nil {
			return err
		}
		if has && claimant == peerKey {
			if err := r.h.Delete([]byte(reversePrefix + fwd.Address)); err != nil {
				return err
			}
		}
	}
	if err := r.h.Delete([]byte(forwardPrefix + peerKey)); err != nil {
		return err
	}
	if err := r.h.Delete(qualityKey(Incoming, peerKey)); err != nil {
		return err
	}
	return r.h.Delete(qualityKey(Outgoing, peerKey))
}

func qualityKey(dir Direction, peerKey string) []byte {
	if dir == Incoming {
		return []byte(qualityInPrefix + peerKey)
	}
	return []byte(qualityOutPrefix + peerKey)
}

// recordKind classifies a raw key by its single/double-character prefix.
type recordKind int

const (
	kindOther recordKind = iota
	kindForward
	kindQualityIn
	kindQualityOut
)

func classify(key string) (kind recordKind, peer string) {
	switch {
	case len(key) > len(qualityInPrefix) && key[:len(qualityInPrefix)] == qualityInPrefix:
		return kindQualityIn, key[len(qualityInPrefix):]
	case len(key) > len(qualityOutPrefix) && key[:len(qualityOutPrefix)] == qualityOutPrefix:
		return kindQualityOut, key[len(qualityOutPrefix):]
	case len(key) > len(forwardPrefix) && key[:len(forwardPrefix)] == forwardPrefix:
		return kindForward, key[len(forwardPrefix):]
	default:
		return kindOther, ""
	}
}

// checkCoherence verifies that every quality record has a corresponding
// forward record. Forward-to-reverse pointers are not checked: addresses
// may be reused and the most recent claimant wins, so a reverse record
// naming a different peer is not a violation.
func (r *Registry) checkCoherence() error {
	cur, err := r.h.Cursor()
	if err != nil {
		return err
	}

	forwardKeys := make(map[string]Forward)
	var qualityPeers []string
	for {
		k, v, ok := cur.Next()
		if !ok {
			break
		}
		switch kind, peer := classify(string(k)); kind {
		case kindForward:
			forwardKeys[peer] = decodeForward(v)
		case kindQualityIn, kindQualityOut:
			qualityPeers = append(qualityPeers, peer)
		}
	}
	if err := cur.Close(); err != nil {
		return err
	}

	// Forward-to-reverse pointers are not re-validated here: a reverse
	// record naming a different peer than a given forward record is the
	// expected result of address reuse, not a coherence violation (the
	// most recent claimant wins by construction of Register).
	for _, peer := range qualityPeers {
		if _, ok := forwardKeys[peer]; !ok {
			return fmt.Errorf("quality record for %q has no forward record", peer)
		}
	}
	return nil
}

func encodeForward(f Forward) []byte {
	b := make([]byte, 8+len(f.Address))
	binary.BigEndian.PutUint64(b[:8], uint64(f.UpdatedAt.Unix()))
	copy(b[8:], f.Address)
	return b
}

func decodeForward(b []byte) Forward {
	if len(b) < 8 {
		return Forward{}
	}
	ts := int64(binary.BigEndian.Uint64(b[:8]))
	return Forward{Address: string(b[8:]), UpdatedAt: time.Unix(ts, 0).UTC()}
}

func encodeQuality(q Quality) []byte {
	b := make([]byte, 32)
	binary.BigEndian.PutUint64(b[0:8], uint64(q.LastSeenEpoch))
	binary.BigEndian.PutUint64(b[8:16], math.Float64bits(q.Q))
	binary.BigEndian.PutUint64(b[16:24], math.Float64bits(q.Expected))
	binary.BigEndian.PutUint64(b[24:32], math.Float64bits(q.Variance))
	return b
}

func decodeQuality(b []byte) Quality {
	if len(b) < 32 {
		return NewQuality()
	}
	return Quality{
		LastSeenEpoch: int64(binary.BigEndian.Uint64(b[0:8])),
		Q:             math.Float64frombits(binary.BigEndian.Uint64(b[8:16])),
		Expected:      math.Float64frombits(binary.BigEndian.Uint64(b[16:24])),
		Variance:      math.Float64frombits(binary.BigEndian.Uint64(b[24:32])),
	}
}
