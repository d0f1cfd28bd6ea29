package kv

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.etcd.io/bbolt"
)

// ReplicateStatus mirrors the backend's repair exit classification.
type ReplicateStatus int

const (
	ReplicateOK ReplicateStatus = iota
	ReplicateCorruptPage
	ReplicateUnknown
)

// replicateSubprocessEnv is set on a re-exec'd child so it knows to run
// Replicate and exit rather than starting the agent. A forked child in the
// original sense does not exist in Go; re-executing the current binary
// with this marker gives the same fault-isolation property (a backend
// assertion or panic during replication brings down only the child process,
// never the parent) without needing cgo or raw fork/exec tricks.
const replicateSubprocessEnv = "CFENGINE_REPLICATE_CHILD"

// Replicate copies every key/value pair from src into a fresh database at
// dst, in the source's natural (insertion/B-tree) order, and removes any
// backend side-file (`*-lock`) the copy leaves behind. It opens the source
// read-only so a concurrent writer on src is unaffected.
func Replicate(src, dst string) error {
	srcDB, err := bbolt.Open(src, 0o600, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("kv: replicate open source: %w", err)
	}
	defer srcDB.Close()

	dstDB, err := bbolt.Open(dst, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("kv: replicate open dest: %w", err)
	}
	defer dstDB.Close()
	defer os.Remove(dst + "-lock")

	return srcDB.View(func(stx *bbolt.Tx) error {
		return dstDB.Update(func(dtx *bbolt.Tx) error {
			return stx.ForEach(func(name []byte, sb *bbolt.Bucket) error {
				db, err := dtx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return sb.ForEach(func(k, v []byte) error {
					return db.Put(k, v)
				})
			})
		})
	})
}

// ReplicateInSubprocess re-execs the current binary with
// replicateSubprocessEnv set, waits for it to exit, and classifies the
// exit status. cf-check repair uses it to isolate a hard backend abort to
// the child so the parent process survives it; Open's own repair calls
// Replicate in-process instead.
func ReplicateInSubprocess(src, dst string) (ReplicateStatus, error) {
	self, err := os.Executable()
	if err != nil {
		return ReplicateUnknown, err
	}

	cmd := exec.Command(self, "--replicate-child", src, dst)
	cmd.Env = append(os.Environ(), replicateSubprocessEnv+"=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err = cmd.Run()
	if err == nil {
		return ReplicateOK, nil
	}
	var exitErr *exec.ExitError
	if asExitError(err, &exitErr) {
		switch exitErr.ExitCode() {
		case exitCodeCorruptPage:
			return ReplicateCorruptPage, nil
		default:
			return ReplicateUnknown, nil
		}
	}
	return ReplicateUnknown, err
}

const exitCodeCorruptPage = 97

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// RunReplicateChild is invoked by main() when replicateSubprocessEnv is set
// in the environment; it performs the replication and exits with a status
// code the parent classifies via ReplicateInSubprocess.
func RunReplicateChild(src, dst string) {
	if err := Replicate(src, dst); err != nil {
		os.Exit(exitCodeCorruptPage)
	}
	os.Exit(0)
}

// IsReplicateChild reports whether the current process was re-exec'd to
// perform a replication repair.
func IsReplicateChild() bool {
	return os.Getenv(replicateSubprocessEnv) == "1"
}
