package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/cfengine-go/agentcore/internal/kv"
)

// TestMain lets this test binary act as the re-exec'd replication child
// that kv.ReplicateInSubprocess starts, the role main() plays for the
// real cf-check binary.
func TestMain(m *testing.M) {
	if kv.IsReplicateChild() {
		if len(os.Args) < 4 {
			os.Exit(1)
		}
		kv.RunReplicateChild(os.Args[2], os.Args[3])
	}
	os.Exit(m.Run())
}

func writeTestDB(t *testing.T, path string) {
	t.Helper()
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatalf("bbolt.Open: %v", err)
	}
	defer db.Close()
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte("kv"))
		if err != nil {
			return err
		}
		return b.Put([]byte("hostname"), []byte("alpha"))
	})
	if err != nil {
		t.Fatalf("seed db: %v", err)
	}
}

func TestDatabaseFilesListsDBExtensionOnly(t *testing.T) {
	dir := t.TempDir()
	writeTestDB(t, filepath.Join(dir, "cf_state.db"))
	if err := os.WriteFile(filepath.Join(dir, "randseed"), []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	files, err := databaseFiles(dir, nil)
	if err != nil {
		t.Fatalf("databaseFiles: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "cf_state.db" {
		t.Fatalf("files = %v, want just cf_state.db", files)
	}
}

func TestDatabaseFilesHonorsExplicitNames(t *testing.T) {
	files, err := databaseFiles("/some/dir", []string{"cf_state", "cf_lock"})
	if err != nil {
		t.Fatalf("databaseFiles: %v", err)
	}
	want := []string{"/some/dir/cf_state.db", "/some/dir/cf_lock.db"}
	for i, f := range files {
		if f != want[i] {
			t.Fatalf("files[%d] = %s, want %s", i, f, want[i])
		}
	}
}

func TestRunDiagnoseReportsOKForHealthyDatabase(t *testing.T) {
	dir := t.TempDir()
	writeTestDB(t, filepath.Join(dir, "cf_state.db"))

	code, err := runDiagnose(dir, nil)
	if err != nil {
		t.Fatalf("runDiagnose: %v", err)
	}
	if code != 0 {
		t.Fatalf("code = %d, want 0 for a healthy database", code)
	}
}

func TestRunDiagnoseFlagsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cf_lock.db")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	code, err := runDiagnose(dir, nil)
	if err != nil {
		t.Fatalf("runDiagnose: %v", err)
	}
	if code == 0 {
		t.Fatal("expected non-zero exit for an empty (zero-byte) database file")
	}
}

func TestRunBackupCopiesDatabasesAndReportsFailureCount(t *testing.T) {
	workDir := t.TempDir()
	stateDir := filepath.Join(workDir, "state")
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeTestDB(t, filepath.Join(stateDir, "cf_state.db"))

	failed, err := runBackup(workDir, stateDir, nil)
	if err != nil {
		t.Fatalf("runBackup: %v", err)
	}
	if failed != 0 {
		t.Fatalf("failed = %d, want 0", failed)
	}

	entries, err := os.ReadDir(filepath.Join(workDir, "backups"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one backup directory, got %v err=%v", entries, err)
	}
}

func TestRunRepairSucceedsOnAHealthyDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cf_state.db")
	writeTestDB(t, path)

	code, err := runRepair(dir, nil)
	if err != nil {
		t.Fatalf("runRepair: %v", err)
	}
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
}

func TestRunReportsUsageWithNoSubcommand(t *testing.T) {
	code, err := run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 0 {
		t.Fatalf("code = %d, want 0 for bare usage", code)
	}
}
