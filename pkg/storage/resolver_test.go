package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/mindstore/pkg/ids"
)

func newTestResolver(t *testing.T, start int64) *Resolver {
	t.Helper()
	dir := t.TempDir()
	files := map[ids.Scope]string{
		ids.ScopeNeuron: filepath.Join(dir, "neuron-ids"),
		ids.ScopeEdge:   filepath.Join(dir, "edge-ids"),
	}
	for _, f := range files {
		require.NoError(t, ids.Initialize(f, start))
	}
	return NewResolver(ids.NewCounters(files))
}

func TestResolver_Resolve(t *testing.T) {
	t.Run("named_neuron", func(t *testing.T) {
		r := newTestResolver(t, 1)
		p, err := r.Resolve(KindNeuron, "neurons/animals", "dog")
		require.NoError(t, err)
		assert.Equal(t, "neurons/animals/dog.nrn", p)
	})

	t.Run("allocates_sequential_ids", func(t *testing.T) {
		r := newTestResolver(t, 10)
		first, err := r.Resolve(KindNeuron, NeuronRoot, "")
		require.NoError(t, err)
		second, err := r.Resolve(KindNeuron, NeuronRoot, "")
		require.NoError(t, err)

		assert.Equal(t, "neurons/10.nrn", first)
		assert.Equal(t, "neurons/11.nrn", second)
	})

	t.Run("pathways_use_their_own_sequence", func(t *testing.T) {
		r := newTestResolver(t, 1)
		_, err := r.Resolve(KindNeuron, NeuronRoot, "")
		require.NoError(t, err)

		p, err := r.Resolve(KindPathway, PathwayRoot, "")
		require.NoError(t, err)
		assert.Equal(t, "pathways/1.tlink", p)
	})

	t.Run("category_needs_a_name", func(t *testing.T) {
		r := newTestResolver(t, 1)
		_, err := r.Resolve(KindCategory, NeuronRoot, "")
		assert.ErrorIs(t, err, ErrInvalidName)

		p, err := r.Resolve(KindCategory, NeuronRoot, "animals")
		require.NoError(t, err)
		assert.Equal(t, "neurons/animals.ctg", p)
	})

	t.Run("rejects_bad_names", func(t *testing.T) {
		r := newTestResolver(t, 1)
		for _, name := range []string{".", "..", "a/b", `a\b`, ".hidden", "nul\x00"} {
			_, err := r.Resolve(KindNeuron, NeuronRoot, name)
			assert.ErrorIs(t, err, ErrInvalidName, name)
		}
	})

	t.Run("rejects_bad_directories", func(t *testing.T) {
		r := newTestResolver(t, 1)
		for _, dir := range []string{"", "/neurons", "../neurons", "neurons/"} {
			_, err := r.Resolve(KindNeuron, dir, "x")
			assert.ErrorIs(t, err, ErrInvalidName, dir)
		}
	})

	t.Run("missing_counter_is_unavailable", func(t *testing.T) {
		r := NewResolver(ids.NewCounters(map[ids.Scope]string{
			ids.ScopeNeuron: filepath.Join(t.TempDir(), "missing"),
		}))
		_, err := r.Resolve(KindNeuron, NeuronRoot, "")
		assert.ErrorIs(t, err, ErrAllocatorUnavailable)
	})
}

func TestKind(t *testing.T) {
	assert.Equal(t, ".nrn", KindNeuron.Ext())
	assert.Equal(t, ".tlink", KindPathway.Ext())
	assert.Equal(t, ".ctg", KindCategory.Ext())
	assert.Equal(t, "pathway", KindPathway.String())
}
