// Package lock provides the exclusive lock that guards multi-file mutations
// of a storage root.
//
// A root lock combines two layers:
//   - an in-process mutex shared by every handle opened on the same absolute
//     root, so two Stores in one process serialise against each other
//   - an advisory flock(2) on <root>/.lock, so separate processes do too
//
// Example:
//
//	l, err := lock.ForRoot("/data/mind")
//	if err != nil {
//		return err
//	}
//	release, err := l.Acquire()
//	if err != nil {
//		return err
//	}
//	defer release()
package lock

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// FileName is the lock file created inside every storage root.
const FileName = ".lock"

// Root is the exclusive lock of one storage root.
type Root struct {
	mu   sync.Mutex
	path string
	file *flock.Flock
}

var registry = struct {
	sync.Mutex
	roots map[string]*Root
}{roots: make(map[string]*Root)}

// ForRoot returns the lock for root. Every call with the same absolute path
// returns the same *Root.
func ForRoot(root string) (*Root, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving lock root: %w", err)
	}

	registry.Lock()
	defer registry.Unlock()

	if r, ok := registry.roots[abs]; ok {
		return r, nil
	}
	r := &Root{
		path: abs,
		file: flock.New(filepath.Join(abs, FileName)),
	}
	registry.roots[abs] = r
	return r, nil
}

// Path returns the absolute root this lock guards.
func (r *Root) Path() string {
	return r.path
}

// Acquire blocks until the lock is held and returns the function that
// releases it. The release function is safe to call more than once.
func (r *Root) Acquire() (func(), error) {
	r.mu.Lock()
	if err := r.file.Lock(); err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("locking %s: %w", r.path, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.file.Unlock()
			r.mu.Unlock()
		})
	}, nil
}

// TryAcquire is Acquire without blocking. ok is false when another holder
// owns the lock.
func (r *Root) TryAcquire() (release func(), ok bool, err error) {
	if !r.mu.TryLock() {
		return nil, false, nil
	}
	locked, err := r.file.TryLock()
	if err != nil || !locked {
		r.mu.Unlock()
		if err != nil {
			return nil, false, fmt.Errorf("locking %s: %w", r.path, err)
		}
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.file.Unlock()
			r.mu.Unlock()
		})
	}, true, nil
}
