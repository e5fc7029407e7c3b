// Package health holds process-level guards for the tracker daemon.
package health

import (
	"fmt"
	"os"
	"syscall"
)

// Lock is an exclusive single-instance lock held for the process lifetime.
type Lock struct {
	f *os.File
}

// AcquireLock takes an exclusive, non-blocking flock on path and records the
// current PID in it. It fails when another process holds the lock.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("flock: open %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another tracker instance is running (lock: %s)", path)
	}

	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())

	return &Lock{f: f}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.f.Name()
}

// Release unlocks and removes the lock file. Safe on a nil lock.
func (l *Lock) Release() {
	if l == nil || l.f == nil {
		return
	}
	syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	name := l.f.Name()
	l.f.Close()
	l.f = nil
	os.Remove(name)
}
