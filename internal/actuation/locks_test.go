package actuation

import (
	"testing"
	"time"
)

func openTestLockManager(t *testing.T) *LockManager {
	t.Helper()
	m, err := OpenLockManager(t.TempDir())
	if err != nil {
		t.Fatalf("OpenLockManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestGlobalLockExclusivity(t *testing.T) {
	m := openTestLockManager(t)
	now := time.Now()

	ok, err := m.AcquireGlobal(now, time.Hour)
	if err != nil || !ok {
		t.Fatalf("first AcquireGlobal = %v, %v, want true, nil", ok, err)
	}
	ok, err = m.AcquireGlobal(now, time.Hour)
	if err != nil || ok {
		t.Fatalf("second AcquireGlobal = %v, %v, want false, nil", ok, err)
	}
	if err := m.ReleaseGlobal(); err != nil {
		t.Fatalf("ReleaseGlobal: %v", err)
	}
	ok, err = m.AcquireGlobal(now, time.Hour)
	if err != nil || !ok {
		t.Fatalf("AcquireGlobal after release = %v, %v, want true, nil", ok, err)
	}
}

func TestGlobalLockExpireAfterSteal(t *testing.T) {
	m := openTestLockManager(t)
	start := time.Now()

	ok, err := m.AcquireGlobal(start, time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireGlobal = %v, %v", ok, err)
	}
	later := start.Add(2 * time.Minute)
	ok, err = m.AcquireGlobal(later, time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireGlobal after expireafter elapsed = %v, %v, want true, nil", ok, err)
	}
}

func TestAcquireGlobalRecordsHolderToken(t *testing.T) {
	m := openTestLockManager(t)
	if m.HolderToken() == "" {
		t.Fatal("expected OpenLockManager to assign a non-empty holder token")
	}

	ok, err := m.AcquireGlobal(time.Now(), time.Hour)
	if err != nil || !ok {
		t.Fatalf("AcquireGlobal = %v, %v", ok, err)
	}

	raw, present, err := m.h.Read(globalLockKey)
	if err != nil || !present {
		t.Fatalf("Read(globalLockKey): present=%v err=%v", present, err)
	}
	rec, ok := decodeLockRecord(raw)
	if !ok {
		t.Fatal("decodeLockRecord failed")
	}
	if rec.Holder != m.HolderToken() {
		t.Fatalf("rec.Holder = %q, want %q", rec.Holder, m.HolderToken())
	}
}

func TestPromiseIfElapsedSkipsTooSoon(t *testing.T) {
	m := openTestLockManager(t)
	start := time.Now()

	ok, err := m.AcquirePromise("h1", start, time.Hour, 0)
	if err != nil || !ok {
		t.Fatalf("AcquirePromise = %v, %v", ok, err)
	}
	if err := m.ReleasePromise("h1", start); err != nil {
		t.Fatalf("ReleasePromise: %v", err)
	}

	soon := start.Add(time.Second)
	ok, err = m.AcquirePromise("h1", soon, time.Hour, 0)
	if err != nil || ok {
		t.Fatalf("AcquirePromise too soon = %v, %v, want false, nil", ok, err)
	}

	muchLater := start.Add(2 * time.Hour)
	ok, err = m.AcquirePromise("h1", muchLater, time.Hour, 0)
	if err != nil || !ok {
		t.Fatalf("AcquirePromise after ifelapsed = %v, %v, want true, nil", ok, err)
	}
}
