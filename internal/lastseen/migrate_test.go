package lastseen

import (
	"testing"

	"github.com/cfengine-go/agentcore/internal/kv"
)

// TestMigrateLegacyLayoutDiscardsMalformedEntriesWithoutDeadlock exercises
// the corruption-cleanup branch of migrateLegacyLayout: a legacy database
// containing a too-short forward record and a too-short quality record,
// which must be deleted during the same migration pass that found them.
func TestMigrateLegacyLayoutDiscardsMalformedEntriesWithoutDeadlock(t *testing.T) {
	dir := t.TempDir()
	h, err := kv.Open(dir, "cf_lastseen")
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}

	if err := h.Write([]byte(forwardPrefix+"good"), encodeForward(Forward{Address: "10.0.0.1:5308"})); err != nil {
		t.Fatalf("Write good forward: %v", err)
	}
	if err := h.Write([]byte(forwardPrefix+"short"), []byte("bad")); err != nil {
		t.Fatalf("Write malformed forward: %v", err)
	}
	if err := h.Write([]byte(qualityInPrefix+"short"), []byte("bad")); err != nil {
		t.Fatalf("Write malformed quality: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close before migrate: %v", err)
	}

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open (runs migration): %v", err)
	}
	defer r.Close()

	if _, ok, err := r.Forward("good"); err != nil || !ok {
		t.Fatalf("good forward record lost in migration: ok=%v err=%v", ok, err)
	}
	if _, ok, err := r.Forward("short"); err != nil || ok {
		t.Fatalf("malformed forward record survived migration: ok=%v err=%v", ok, err)
	}
	if ok, err := r.h.Has([]byte(qualityInPrefix + "short")); err != nil || ok {
		t.Fatalf("malformed quality record survived migration: ok=%v err=%v", ok, err)
	}
}
