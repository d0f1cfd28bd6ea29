package actuation

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func collectLocateFilePromiserGroup(t *testing.T, promiser string, create bool) []string {
	t.Helper()
	var got []string
	if err := LocateFilePromiserGroup(promiser, create, func(path string) error {
		got = append(got, path)
		return nil
	}); err != nil {
		t.Fatalf("LocateFilePromiserGroup: %v", err)
	}
	return got
}

func TestLocateFilePromiserGroupLiteral(t *testing.T) {
	got := collectLocateFilePromiserGroup(t, "/etc/hosts", false)
	if len(got) != 1 || got[0] != "/etc/hosts" {
		t.Fatalf("got %v, want [/etc/hosts]", got)
	}
}

func TestLocateFilePromiserGroupGlob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.cf", "b.cf", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	got := collectLocateFilePromiserGroup(t, filepath.Join(dir, "*.cf"), false)
	sort.Strings(got)
	want := []string{filepath.Join(dir, "a.cf"), filepath.Join(dir, "b.cf")}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLocateFilePromiserGroupNoMatch(t *testing.T) {
	dir := t.TempDir()
	got := collectLocateFilePromiserGroup(t, filepath.Join(dir, "*.nonexistent"), false)
	if len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}

func TestLocateFilePromiserGroupNoMatchWithCreateStillInvokesCallbackOnce(t *testing.T) {
	dir := t.TempDir()
	wildpath := filepath.Join(dir, "*.nonexistent")
	got := collectLocateFilePromiserGroup(t, wildpath, true)
	if len(got) != 1 || got[0] != wildpath {
		t.Fatalf("got %v, want [%s]", got, wildpath)
	}
}

func TestLocateFilePromiserGroupStopsOnFirstCallbackError(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.cf", "b.cf"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	sentinel := os.ErrPermission
	calls := 0
	err := LocateFilePromiserGroup(filepath.Join(dir, "*.cf"), false, func(path string) error {
		calls++
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times, want exactly 1 (walk should stop on first error)", calls)
	}
}
