// OS-level file locking for cross-process `is_shared` coordination: a
// mutex-guards-the-handle discipline with a build-tag split for the
// actual syscall, scaled from a single whole-file advisory lock to the
// per-path table that Attach maintains.
package pagestore

import (
	"os"
	"sync"
)

// LockMode selects shared (read) or exclusive (write) locking.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// fileLock coordinates OS-level advisory locks with safe handle teardown.
// mu serialises the lock/unlock syscalls against setFile so a concurrent
// Close cannot invalidate the fd mid-syscall.
type fileLock struct {
	mu sync.Mutex
	f  *os.File
}

func (l *fileLock) Lock(mode LockMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.lock(mode)
}

func (l *fileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.unlock()
}

// setFile swaps the underlying handle. Passing nil drains any in-flight
// lock call and disables further locking until the next setFile(f).
func (l *fileLock) setFile(f *os.File) {
	l.mu.Lock()
	l.f = f
	l.mu.Unlock()
}
