package kv

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func createEmptyFile(path string) (*os.File, error) {
	return os.Create(path)
}

func openTestHandle(t *testing.T) *Handle {
	t.Helper()
	h, err := Open(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestWriteReadHasDelete(t *testing.T) {
	h := openTestHandle(t)

	if ok, _ := h.Has([]byte("k")); ok {
		t.Fatal("Has reported present before any write")
	}

	if err := h.Write([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	v, ok, err := h.Read([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Read: v=%q ok=%v err=%v", v, ok, err)
	}
	if !bytes.Equal(v, []byte("v1")) {
		t.Fatalf("Read = %q, want v1", v)
	}

	size, ok, err := h.SizeOfValue([]byte("k"))
	if err != nil || !ok || size != 2 {
		t.Fatalf("SizeOfValue = %d ok=%v err=%v", size, ok, err)
	}

	if err := h.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := h.Has([]byte("k")); ok {
		t.Fatal("Has reported present after delete")
	}

	// Delete of an absent key is not an error.
	if err := h.Delete([]byte("missing")); err != nil {
		t.Fatalf("Delete of absent key returned error: %v", err)
	}
}

func TestClearRemovesAllKeys(t *testing.T) {
	h := openTestHandle(t)
	for _, k := range []string{"a", "b", "c"} {
		if err := h.Write([]byte(k), []byte("1")); err != nil {
			t.Fatalf("Write(%s): %v", k, err)
		}
	}
	if err := h.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if ok, _ := h.Has([]byte(k)); ok {
			t.Fatalf("key %s survived Clear", k)
		}
	}
}

func TestCursorIteratesAllEntries(t *testing.T) {
	h := openTestHandle(t)
	want := map[string]string{"a": "1", "b": "2", "c": "3"}
	for k, v := range want {
		if err := h.Write([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	cur, err := h.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}

	got := map[string]string{}
	for {
		k, v, ok := cur.Next()
		if !ok {
			break
		}
		got[string(k)] = string(v)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("Cursor.Close: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("entry %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestCursorExclusivity(t *testing.T) {
	h := openTestHandle(t)
	if err := h.Write([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	cur, err := h.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	defer cur.Close()

	if _, err := h.Cursor(); err != ErrCursorHeld {
		t.Fatalf("second Cursor() err = %v, want ErrCursorHeld", err)
	}
}

func TestCursorWriteCurrentAndDeleteCurrent(t *testing.T) {
	h := openTestHandle(t)
	if err := h.Write([]byte("k"), []byte("old")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	cur, err := h.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	k, _, ok := cur.Next()
	if !ok || string(k) != "k" {
		t.Fatalf("Next() = %q, %v", k, ok)
	}
	if err := cur.WriteCurrent([]byte("new")); err != nil {
		t.Fatalf("WriteCurrent: %v", err)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	v, ok, err := h.Read([]byte("k"))
	if err != nil || !ok || string(v) != "new" {
		t.Fatalf("Read after WriteCurrent = %q ok=%v err=%v", v, ok, err)
	}
}

func TestReplicateCopiesAllEntries(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")

	h, err := Open(dir, "src")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if err := h.Write([]byte(k), []byte("v-"+k)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dst := filepath.Join(dir, "dst.db")
	if err := Replicate(src, dst); err != nil {
		t.Fatalf("Replicate: %v", err)
	}

	dh, err := Open(dir, "dst")
	if err != nil {
		t.Fatalf("Open replicated: %v", err)
	}
	defer dh.Close()

	for _, k := range []string{"a", "b", "c"} {
		v, ok, err := dh.Read([]byte(k))
		if err != nil || !ok || string(v) != "v-"+k {
			t.Errorf("replicated key %s = %q ok=%v err=%v", k, v, ok, err)
		}
	}
}

func TestDiagnoseReportsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.db")
	f, err := createEmptyFile(path)
	if err != nil {
		t.Fatalf("createEmptyFile: %v", err)
	}
	defer f.Close()

	problem, err := Diagnose(path)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if problem == "" {
		t.Fatal("Diagnose reported no problem for an empty file")
	}
}

func TestDiagnoseHealthyHandle(t *testing.T) {
	h := openTestHandle(t)
	if err := h.Write([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	problem, err := Diagnose(h.Path())
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if problem != "" {
		t.Fatalf("Diagnose reported a problem on a healthy handle: %s", problem)
	}
}
