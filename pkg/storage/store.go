package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/orneryd/mindstore/pkg/emotion"
	"github.com/orneryd/mindstore/pkg/ids"
	"github.com/orneryd/mindstore/pkg/journal"
	"github.com/orneryd/mindstore/pkg/lock"
)

// Options configures a Store.
type Options struct {
	// Logger receives store diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
	// Vocabulary validates emotion tags on create and load. When nil, tags
	// are stored and loaded without validation.
	Vocabulary emotion.Vocabulary
	// Journal overrides the intent journal. The store does not close an
	// injected journal.
	Journal *journal.Journal
	// DisableJournal runs without an intent journal. Crashes in the middle
	// of a create or relocate are then only repaired by the generic sweep.
	DisableJournal bool
	// SyncWrites fsyncs every record and intent before it becomes visible.
	SyncWrites bool
}

// Store is a handle on one storage root.
//
// It keeps an index of every neuron, category and pathway loaded during the
// session, keyed by storage path, so two lookups of the same path return the
// same handle and every mutation is applied to that single instance before
// it is written back. Writes made by other processes are not observed until
// Refresh.
type Store struct {
	root     string
	files    files
	resolver *Resolver
	counters *ids.Counters
	lock     *lock.Root
	journal  *journal.Journal
	ownsJrnl bool
	log      *zap.Logger
	vocab    emotion.Vocabulary

	mu         sync.Mutex
	neurons    map[string]*Neuron
	categories map[string]*Category
	pathways   map[string]*Pathway
	closed     bool
}

// Init lays out a storage root: the neuron and pathway directories and their
// ID counters starting at startID. Existing counters and records are kept.
func Init(root string, startID int64) error {
	for _, dir := range []string{NeuronRoot, PathwayRoot} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		if err := ids.Initialize(filepath.Join(root, dir, ids.CounterFile), startID); err != nil {
			return err
		}
	}
	return nil
}

// Open returns a Store on an existing root. Missing ID counters are not an
// error here; allocations fail later with ErrAllocatorUnavailable.
func Open(root string, opts Options) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("opening storage root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", abs)
	}

	rootLock, err := lock.ForRoot(abs)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	counters := ids.NewCounters(map[ids.Scope]string{
		ids.ScopeNeuron: filepath.Join(abs, NeuronRoot, ids.CounterFile),
		ids.ScopeEdge:   filepath.Join(abs, PathwayRoot, ids.CounterFile),
	})

	s := &Store{
		root:       abs,
		files:      files{root: abs, sync: opts.SyncWrites},
		resolver:   NewResolver(counters),
		counters:   counters,
		lock:       rootLock,
		log:        log.Named("storage"),
		vocab:      opts.Vocabulary,
		neurons:    make(map[string]*Neuron),
		categories: make(map[string]*Category),
		pathways:   make(map[string]*Pathway),
	}

	switch {
	case opts.Journal != nil:
		s.journal = opts.Journal
	case !opts.DisableJournal:
		j, err := journal.Open(filepath.Join(abs, JournalDir), journal.Options{SyncWrites: opts.SyncWrites})
		if err != nil {
			return nil, err
		}
		s.journal = j
		s.ownsJrnl = true
	}

	s.log.Debug("opened store", zap.String("root", abs), zap.Bool("journal", s.journal != nil))
	return s, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string {
	return s.root
}

// Resolver returns the path resolver of the store.
func (s *Store) Resolver() *Resolver {
	return s.resolver
}

// Refresh drops the in-memory index. Handles obtained before the call keep
// their last known state but are no longer the store's instances.
func (s *Store) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.neurons = make(map[string]*Neuron)
	s.categories = make(map[string]*Category)
	s.pathways = make(map[string]*Pathway)
}

// Close releases the journal. Further operations fail with ErrStorageClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ownsJrnl {
		return s.journal.Close()
	}
	return nil
}

// exclusive takes the root lock and the index mutex for a mutating sequence.
func (s *Store) exclusive() (func(), error) {
	release, err := s.lock.Acquire()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		release()
		return nil, ErrStorageClosed
	}
	return func() {
		s.mu.Unlock()
		release()
	}, nil
}

// shared takes only the index mutex, for reads.
func (s *Store) shared() (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStorageClosed
	}
	return s.mu.Unlock, nil
}

// ============================================================================
// Index loaders. Callers hold s.mu.
// ============================================================================

func (s *Store) loadNeuron(p string) (*Neuron, error) {
	if n, ok := s.neurons[p]; ok {
		return n, nil
	}
	data, err := s.files.read(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: neuron %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("reading neuron %s: %w", p, err)
	}
	n, err := DecodeNeuron(data)
	if err != nil {
		return nil, withPath(err, p)
	}
	if n.path != p {
		return nil, &MalformedRecordError{Path: p, Field: fieldStoragePath, Reason: fmt.Sprintf("record claims %s", n.path)}
	}
	if n.emotion != "" && s.vocab != nil {
		if _, err := s.vocab.Lookup(n.emotion); err != nil {
			return nil, &MalformedRecordError{Path: p, Field: fieldEmotionTag, Reason: err.Error()}
		}
	}
	s.neurons[p] = n
	return n, nil
}

func (s *Store) loadCategory(p string) (*Category, error) {
	if c, ok := s.categories[p]; ok {
		return c, nil
	}
	data, err := s.files.read(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("reading category %s: %w", p, err)
	}
	c, err := DecodeCategory(data)
	if err != nil {
		return nil, withPath(err, p)
	}
	if c.path != p {
		return nil, &MalformedRecordError{Path: p, Field: fieldStoragePath, Reason: fmt.Sprintf("record claims %s", c.path)}
	}
	s.categories[p] = c
	return c, nil
}

func (s *Store) loadPathway(p string) (*Pathway, error) {
	if pw, ok := s.pathways[p]; ok {
		return pw, nil
	}
	data, err := s.files.read(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: pathway %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("reading pathway %s: %w", p, err)
	}
	pw, err := DecodePathway(data)
	if err != nil {
		return nil, withPath(err, p)
	}
	if pw.path != p {
		return nil, &MalformedRecordError{Path: p, Field: fieldStoragePath, Reason: fmt.Sprintf("record claims %s", pw.path)}
	}
	s.pathways[p] = pw
	return pw, nil
}

// ownNeuron returns the indexed instance behind a caller's handle.
func (s *Store) ownNeuron(n *Neuron) (*Neuron, error) {
	if !n.Valid() {
		return nil, ErrInvalidHandle
	}
	return s.loadNeuron(n.path)
}

func (s *Store) ownCategory(c *Category) (*Category, error) {
	if c == nil || c.path == "" {
		return nil, ErrInvalidHandle
	}
	return s.loadCategory(c.path)
}

func (s *Store) ownPathway(p *Pathway) (*Pathway, error) {
	if p == nil || p.path == "" {
		return nil, ErrInvalidHandle
	}
	return s.loadPathway(p.path)
}

func (s *Store) saveNeuron(n *Neuron) error {
	data, err := EncodeNeuron(n)
	if err != nil {
		return err
	}
	return s.files.replace(n.path, data)
}

func (s *Store) saveCategory(c *Category) error {
	data, err := EncodeCategory(c)
	if err != nil {
		return err
	}
	return s.files.replace(c.path, data)
}

func (s *Store) savePathway(p *Pathway) error {
	data, err := EncodePathway(p)
	if err != nil {
		return err
	}
	return s.files.replace(p.path, data)
}

// ============================================================================
// Journal helpers. A store without a journal records nothing.
// ============================================================================

func (s *Store) beginIntent(in *journal.Intent) error {
	if s.journal == nil {
		return nil
	}
	if err := s.journal.Begin(in); err != nil {
		return fmt.Errorf("journaling %s: %w", in.Op, err)
	}
	return nil
}

func (s *Store) updateIntent(in *journal.Intent) error {
	if s.journal == nil {
		return nil
	}
	if err := s.journal.Update(in); err != nil {
		return fmt.Errorf("journaling %s: %w", in.Op, err)
	}
	return nil
}

// commitIntent closes an intent. Failing to do so leaves it for repair,
// which recognises finished operations, so it is only logged.
func (s *Store) commitIntent(in *journal.Intent) {
	if s.journal == nil || in.ID == "" {
		return
	}
	if err := s.journal.Commit(in.ID); err != nil {
		s.log.Warn("failed to commit intent",
			zap.String("op", string(in.Op)),
			zap.String("neuron", in.Neuron),
			zap.Error(err))
	}
}
