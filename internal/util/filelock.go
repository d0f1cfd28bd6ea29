package util

import (
	"os"
	"syscall"
)

// FileLock holds an advisory, whole-file exclusive lock acquired via
// flock(2), for serializing multi-process access to a file the way
// CFEngine's libutils/file_lib.c does. Nothing in this tree calls
// LockFile or TryLockFile.
type FileLock struct {
	f *os.File
}

// LockFile opens (creating if absent, mode 0600) and flock-locks path
// exclusively, blocking until the lock is available.
func LockFile(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return &FileLock{f: f}, nil
}

// TryLockFile attempts a non-blocking exclusive lock, returning
// (nil, nil, false) without error when the lock is already held elsewhere.
func TryLockFile(path string) (*FileLock, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, false, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &FileLock{f: f}, true, nil
}

// Unlock releases the lock and closes the underlying file descriptor.
func (l *FileLock) Unlock() error {
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
