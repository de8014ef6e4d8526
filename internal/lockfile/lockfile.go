// Package lockfile implements the module's single global, non-blocking
// advisory lock: one process may hold the database lock at a time, and
// a second attempt fails immediately rather than queuing. The lock is a
// scoped resource: a value whose release is the caller's explicit,
// deferred responsibility.
package lockfile

import (
	"os"
	"syscall"

	"github.com/solus-project/eopkg-core/internal/model"
)

// Lock is a held advisory lock on a single file. The zero value is not
// usable; obtain one via Acquire.
type Lock struct {
	file *os.File
}

// Acquire attempts to take an exclusive, non-blocking lock on path,
// creating it if absent. It returns *model.DatabaseBusyError if another
// process already holds the lock.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, &model.DatabaseBusyError{}
		}
		return nil, err
	}
	return &Lock{file: f}, nil
}

// Release drops the lock and closes the underlying file descriptor. It
// is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
