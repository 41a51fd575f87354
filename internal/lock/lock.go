// Package lock guards destination paths against concurrent writers.
//
// A lock is a marker file next to the destination, created with an atomic
// create-if-absent so that exactly one of several racing sessions wins. The
// Registry mirrors held locks in memory so conflicts between sessions of the
// same process are detected without touching the filesystem. A process that
// dies while holding a lock leaves the marker behind; stale markers are not
// detected or expired.
package lock

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/bamsammich/transdata/internal/fault"
	"github.com/bamsammich/transdata/internal/storage"
)

// Suffix is appended to a destination path to form its lock path.
const Suffix = ".lock"

// ErrExists is the cause of a LockExists failure.
var ErrExists = errors.New("lock file exists")

// PathFor returns the lock path guarding dest.
func PathFor(dest string) string { return dest + Suffix }

// Registry hands out locks over destination paths.
type Registry struct {
	store storage.Store
	held  map[string]struct{}
	mu    sync.Mutex
}

// NewRegistry creates a registry whose markers live in store.
func NewRegistry(store storage.Store) *Registry {
	return &Registry{store: store, held: make(map[string]struct{})}
}

// Lock is a held lock. Release it exactly once on every exit path; extra
// calls are no-ops.
type Lock struct {
	reg  *Registry
	err  error
	dest string
	path string
	once sync.Once
}

// Acquire takes the lock for dest without blocking. owner is written into the
// marker file for operators inspecting a stale lock. A lock held by anyone
// else yields a LockExists failure; any other creation problem yields
// LockCreateFailed.
func (r *Registry) Acquire(dest, owner string) (*Lock, error) {
	r.mu.Lock()
	if _, ok := r.held[dest]; ok {
		r.mu.Unlock()
		return nil, fault.New(fault.LockExists, "acquire "+dest, ErrExists)
	}
	r.held[dest] = struct{}{}
	r.mu.Unlock()

	path := PathFor(dest)
	w, err := r.store.CreateExclusive(path)
	if err != nil {
		r.forget(dest)
		if errors.Is(err, os.ErrExist) {
			return nil, fault.New(fault.LockExists, "acquire "+dest, ErrExists)
		}
		return nil, fault.New(fault.LockCreateFailed, "acquire "+dest, err)
	}

	// The marker's existence is the lock; its content is informational.
	_, werr := fmt.Fprintf(w, "%d %s\n", os.Getpid(), owner)
	if cerr := w.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		r.store.Remove(path) //nolint:errcheck // best-effort rollback of a half-written marker
		r.forget(dest)
		return nil, fault.New(fault.LockCreateFailed, "write "+path, werr)
	}

	return &Lock{reg: r, dest: dest, path: path}, nil
}

// Held returns the number of locks currently held by this registry.
func (r *Registry) Held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

func (r *Registry) forget(dest string) {
	r.mu.Lock()
	delete(r.held, dest)
	r.mu.Unlock()
}

// Path returns the marker file path.
func (l *Lock) Path() string { return l.path }

// Release deletes the marker and forgets the lock. A marker that has already
// vanished is not an error.
func (l *Lock) Release() error {
	l.once.Do(func() {
		defer l.reg.forget(l.dest)
		if err := l.reg.store.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.err = fault.New(fault.LockRemoveFailed, "release "+l.path, err)
		}
	})
	return l.err
}
