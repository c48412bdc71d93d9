// Package journal records multi-file mutations that are in flight.
//
// The graph itself has no transaction log: every neuron, category and pathway
// is an independent file. A create or relocate touches several of those files
// in sequence, so a crash in the middle leaves the tree half-updated. Before
// the first file is touched the store writes an Intent here, updates it as
// files are written, and commits (deletes) it when the sequence finishes.
// Intents still pending at repair time tell the consistency scan what to roll
// back or roll forward.
//
// Intents are kept in BadgerDB, one JSON value per key.
//
// Example Usage:
//
//	j, err := journal.Open("/data/mind/.journal", journal.Options{})
//	if err != nil {
//		return err
//	}
//	defer j.Close()
//
//	in := &journal.Intent{Op: journal.OpCreate, Neuron: "neurons/dog.nrn"}
//	if err := j.Begin(in); err != nil {
//		return err
//	}
//	// ... write files, j.Update(in) after each ...
//	return j.Commit(in.ID)
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Journal errors
var (
	ErrClosed   = errors.New("journal: closed")
	ErrNotFound = errors.New("journal: intent not found")
)

// Op names the multi-file operation an intent describes.
type Op string

const (
	OpCreate   Op = "create"
	OpRelocate Op = "relocate"
	OpDestroy  Op = "destroy"
)

const keyPrefix = "intent/"

// Intent is one in-flight operation. Paths are root-relative.
type Intent struct {
	ID string `json:"id"`
	Op Op     `json:"op"`

	// Neuron is the neuron being created or destroyed, or its path before
	// relocation.
	Neuron string `json:"neuron"`

	// Written lists the files a create has written so far, or the pathways
	// a destroy deletes.
	Written []string `json:"written,omitempty"`

	OldPath     string `json:"old_path,omitempty"`
	NewPath     string `json:"new_path,omitempty"`
	OldCategory string `json:"old_category,omitempty"`
	NewCategory string `json:"new_category,omitempty"`

	// Retargeted lists pathways of other neurons that point at OldPath and
	// must point at NewPath once the relocation finishes.
	Retargeted []string `json:"retargeted,omitempty"`

	// Record is the encoded neuron as it must look after a relocation.
	Record []byte `json:"record,omitempty"`

	StartedAt time.Time `json:"started_at"`
}

// Options configures the badger database behind a journal.
type Options struct {
	// InMemory keeps intents in RAM only (tests).
	InMemory bool
	// SyncWrites fsyncs every intent write.
	SyncWrites bool
	// Logger receives badger's internal log output. Nil silences it.
	Logger badger.Logger
}

// Journal is a badger-backed intent log.
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
type Journal struct {
	db *badger.DB
}

// Open opens (creating if needed) the journal stored in dir.
func Open(dir string, opts Options) (*Journal, error) {
	badgerOpts := badger.DefaultOptions(dir)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	// Intents are tiny and short-lived; keep the footprint small.
	badgerOpts = badgerOpts.
		WithMemTableSize(4 << 20).
		WithValueLogFileSize(16 << 20).
		WithNumMemtables(1).
		WithNumLevelZeroTables(1).
		WithNumLevelZeroTablesStall(2).
		WithValueThreshold(1024).
		WithBlockCacheSize(1 << 20).
		WithIndexCacheSize(1 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// OpenInMemory opens a journal that is discarded on Close.
func OpenInMemory() (*Journal, error) {
	return Open("", Options{InMemory: true})
}

// Begin assigns the intent an ID and start time and stores it.
func (j *Journal) Begin(in *Intent) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.StartedAt.IsZero() {
		in.StartedAt = time.Now().UTC()
	}
	return j.put(in)
}

// Update overwrites a stored intent.
func (j *Journal) Update(in *Intent) error {
	if in.ID == "" {
		return fmt.Errorf("%w: intent has no id", ErrNotFound)
	}
	return j.put(in)
}

// Commit removes a finished intent. Committing an unknown ID is not an error.
func (j *Journal) Commit(id string) error {
	if j.db.IsClosed() {
		return ErrClosed
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + id))
	})
}

// Get returns the pending intent with id.
func (j *Journal) Get(id string) (*Intent, error) {
	if j.db.IsClosed() {
		return nil, ErrClosed
	}
	var in Intent
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &in)
		})
	})
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// Pending returns every uncommitted intent, oldest first.
func (j *Journal) Pending() ([]*Intent, error) {
	if j.db.IsClosed() {
		return nil, ErrClosed
	}
	var intents []*Intent
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var in Intent
				if err := json.Unmarshal(val, &in); err != nil {
					return fmt.Errorf("decoding intent %s: %w", it.Item().Key(), err)
				}
				intents = append(intents, &in)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(intents, func(a, b int) bool {
		return intents[a].StartedAt.Before(intents[b].StartedAt)
	})
	return intents, nil
}

// Close flushes and closes the underlying database.
func (j *Journal) Close() error {
	if j.db.IsClosed() {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) put(in *Intent) error {
	if j.db.IsClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding intent: %w", err)
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+in.ID), data)
	})
}
