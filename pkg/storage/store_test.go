package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/mindstore/pkg/emotion"
	"github.com/orneryd/mindstore/pkg/ids"
)

// newTestStore opens a store on a fresh root with IDs starting at 1.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, Init(root, 1))
	return openTestStore(t, root)
}

func openTestStore(t *testing.T, root string) *Store {
	t.Helper()
	s, err := Open(root, Options{Vocabulary: emotion.Default()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func readRecord(t *testing.T, s *Store, p string) string {
	t.Helper()
	data, err := os.ReadFile(s.files.abs(p))
	require.NoError(t, err)
	return string(data)
}

func fileExists(t *testing.T, s *Store, p string) bool {
	t.Helper()
	ok, err := s.files.exists(p)
	require.NoError(t, err)
	return ok
}

func TestInit(t *testing.T) {
	t.Run("lays_out_root", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, Init(root, 5))

		for _, dir := range []string{NeuronRoot, PathwayRoot} {
			data, err := os.ReadFile(filepath.Join(root, dir, ids.CounterFile))
			require.NoError(t, err)
			assert.Equal(t, "5", string(data))
		}
	})

	t.Run("keeps_existing_counters", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, Init(root, 1))
		s := openTestStore(t, root)
		_, err := s.CreateNeuron(NeuronOptions{})
		require.NoError(t, err)

		require.NoError(t, Init(root, 1))
		n, err := s.CreateNeuron(NeuronOptions{})
		require.NoError(t, err)
		assert.Equal(t, "neurons/2.nrn", n.Path())
	})
}

func TestOpen(t *testing.T) {
	t.Run("missing_root_fails", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope"), Options{})
		assert.Error(t, err)
	})

	t.Run("file_root_fails", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(f, nil, 0644))
		_, err := Open(f, Options{})
		assert.Error(t, err)
	})

	t.Run("without_journal", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, Init(root, 1))
		s, err := Open(root, Options{DisableJournal: true})
		require.NoError(t, err)
		defer s.Close()

		_, err = s.CreateNeuron(NeuronOptions{Label: "plain"})
		require.NoError(t, err)
		assert.NoDirExists(t, filepath.Join(root, JournalDir))
	})

	t.Run("root_is_absolute", func(t *testing.T) {
		s := newTestStore(t)
		assert.True(t, filepath.IsAbs(s.Root()))
	})
}

func TestStore_Close(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.CreateNeuron(NeuronOptions{})
	assert.ErrorIs(t, err, ErrStorageClosed)
	_, err = s.Neuron("neurons/1.nrn")
	assert.ErrorIs(t, err, ErrStorageClosed)
}

func TestStore_IdentityMap(t *testing.T) {
	t.Run("same_path_same_handle", func(t *testing.T) {
		s := newTestStore(t)
		n, err := s.CreateNeuron(NeuronOptions{Label: "dog"})
		require.NoError(t, err)

		a, err := s.Neuron("neurons/dog.nrn")
		require.NoError(t, err)
		b, err := s.NeuronAt(nil, "dog")
		require.NoError(t, err)
		assert.Same(t, n, a)
		assert.Same(t, a, b)
	})

	t.Run("refresh_rereads_files", func(t *testing.T) {
		s := newTestStore(t)
		n, err := s.CreateNeuron(NeuronOptions{Label: "dog"})
		require.NoError(t, err)

		s.Refresh()
		again, err := s.Neuron(n.Path())
		require.NoError(t, err)
		assert.NotSame(t, n, again)
		assert.Equal(t, n.Path(), again.Path())
	})

	t.Run("mismatched_storage_path_is_malformed", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, os.WriteFile(s.files.abs("neurons/a.nrn"), []byte(`{
			"parent_category": "NO_CATEGORY",
			"outgoing_edges": [],
			"storage_path": "neurons/b.nrn"
		}`), 0644))

		_, err := s.Neuron("neurons/a.nrn")
		var m *MalformedRecordError
		require.ErrorAs(t, err, &m)
		assert.Equal(t, fieldStoragePath, m.Field)
		assert.Equal(t, "neurons/a.nrn", m.Path)
	})

	t.Run("unknown_emotion_on_disk_is_malformed", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, os.WriteFile(s.files.abs("neurons/a.nrn"), []byte(`{
			"parent_category": "NO_CATEGORY",
			"outgoing_edges": [],
			"storage_path": "neurons/a.nrn",
			"emotion_tag": "ennui"
		}`), 0644))

		_, err := s.Neuron("neurons/a.nrn")
		var m *MalformedRecordError
		require.ErrorAs(t, err, &m)
		assert.Equal(t, fieldEmotionTag, m.Field)
	})

	t.Run("bad_lookup_path_is_not_found", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Neuron("../etc/passwd")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Neuron("neurons/missing.nrn")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_TwoHandlesShareLock(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Init(root, 1))
	a, err := Open(root, Options{DisableJournal: true})
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(root, Options{DisableJournal: true})
	require.NoError(t, err)
	defer b.Close()

	var wg sync.WaitGroup
	paths := make(chan string, 40)
	for _, s := range []*Store{a, b} {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			for range 20 {
				n, err := s.CreateNeuron(NeuronOptions{})
				if assert.NoError(t, err) {
					paths <- n.Path()
				}
			}
		}(s)
	}
	wg.Wait()
	close(paths)

	seen := make(map[string]bool)
	for p := range paths {
		assert.False(t, seen[p], "duplicate path %s", p)
		seen[p] = true
	}
	assert.Len(t, seen, 40)
}

func TestFiles(t *testing.T) {
	f := files{root: t.TempDir()}

	t.Run("create_is_exclusive", func(t *testing.T) {
		require.NoError(t, f.create("a/b.nrn", []byte("one")))
		err := f.create("a/b.nrn", []byte("two"))
		assert.ErrorIs(t, err, ErrPathAlreadyExists)

		data, err := f.read("a/b.nrn")
		require.NoError(t, err)
		assert.Equal(t, "one", string(data))
	})

	t.Run("replace_overwrites", func(t *testing.T) {
		require.NoError(t, f.replace("c.nrn", []byte("one")))
		require.NoError(t, f.replace("c.nrn", []byte("two")))
		data, err := f.read("c.nrn")
		require.NoError(t, err)
		assert.Equal(t, "two", string(data))
	})

	t.Run("remove_missing_is_ok", func(t *testing.T) {
		assert.NoError(t, f.remove("never.nrn"))
	})

	t.Run("leaves_no_temp_files", func(t *testing.T) {
		require.NoError(t, f.create("d/e.nrn", []byte("x")))
		require.NoError(t, f.replace("d/e.nrn", []byte("y")))
		entries, err := os.ReadDir(f.abs("d"))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "e.nrn", entries[0].Name())
	})
}
