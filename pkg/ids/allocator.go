// Package ids issues monotonically increasing, file-persisted integer IDs.
//
// Each Scope owns one counter file holding the next ID to hand out as a
// decimal integer. Next reads the value, persists value+1, and returns the
// value read. The read-increment-write step runs under the allocator's mutex
// and the new value is written through a temp file and rename, so a crash
// never leaves a half-written counter behind.
//
// Example Usage:
//
//	if err := ids.Initialize("/data/neurons/ids", 1); err != nil {
//		return err
//	}
//	alloc := ids.New("/data/neurons/ids")
//	id, err := alloc.Next() // 1, the file now holds 2
//
// Thread Safety:
//
//	An Allocator is safe for concurrent use. Two Allocators pointing at the
//	same file are not; callers sharing a counter across processes must hold
//	an external lock (see package lock).
package ids

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrAllocatorUnavailable is returned when a counter file cannot be read,
// parsed or rewritten.
var ErrAllocatorUnavailable = errors.New("allocator unavailable")

// Scope names an independent ID sequence.
type Scope string

const (
	// ScopeNeuron numbers neurons created without a morpheme.
	ScopeNeuron Scope = "neuron"
	// ScopeEdge numbers pathways.
	ScopeEdge Scope = "edge"
)

// CounterFile is the base name of every counter file.
const CounterFile = "ids"

// Allocator hands out IDs from a single counter file.
type Allocator struct {
	mu   sync.Mutex
	path string
}

// New returns an allocator backed by the counter file at path. The file is
// not touched until Next is called.
func New(path string) *Allocator {
	return &Allocator{path: path}
}

// Path returns the counter file location.
func (a *Allocator) Path() string {
	return a.path
}

// Next returns the next ID of the sequence and persists its successor.
func (a *Allocator) Next() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next, err := readCounter(a.path)
	if err != nil {
		return 0, err
	}
	if err := writeCounter(a.path, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

// Peek returns the ID the next call to Next would hand out.
func (a *Allocator) Peek() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return readCounter(a.path)
}

// Initialize creates the counter file with start if it does not exist yet.
// An existing counter is left as is.
func Initialize(path string, start int64) error {
	if start < 0 {
		return fmt.Errorf("invalid start id %d", start)
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking counter %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating counter directory: %w", err)
	}
	return writeCounter(path, start)
}

// Counters groups one allocator per scope.
type Counters struct {
	allocs map[Scope]*Allocator
}

// NewCounters returns counters for the given scope to file mapping.
func NewCounters(files map[Scope]string) *Counters {
	c := &Counters{allocs: make(map[Scope]*Allocator, len(files))}
	for scope, path := range files {
		c.allocs[scope] = New(path)
	}
	return c
}

// Next allocates an ID in scope.
func (c *Counters) Next(scope Scope) (int64, error) {
	a, ok := c.allocs[scope]
	if !ok {
		return 0, fmt.Errorf("%w: unknown scope %q", ErrAllocatorUnavailable, scope)
	}
	return a.Next()
}

// Allocator returns the allocator serving scope, or nil.
func (c *Counters) Allocator(scope Scope) *Allocator {
	return c.allocs[scope]
}

func readCounter(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: reading %s: %v", ErrAllocatorUnavailable, path, err)
	}
	next, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing %s: %v", ErrAllocatorUnavailable, path, err)
	}
	if next < 0 {
		return 0, fmt.Errorf("%w: negative counter in %s", ErrAllocatorUnavailable, path)
	}
	return next, nil
}

func writeCounter(path string, value int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ids-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAllocatorUnavailable, err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.WriteString(strconv.FormatInt(value, 10))
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmpName, path)
	}
	if werr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing %s: %v", ErrAllocatorUnavailable, path, werr)
	}
	return nil
}
