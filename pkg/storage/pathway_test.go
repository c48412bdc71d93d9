package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLinkedPair(t *testing.T) (*Store, *Neuron, *Neuron, *Pathway) {
	t.Helper()
	s := newTestStore(t)
	dog, err := s.CreateNeuron(NeuronOptions{Label: "dog"})
	require.NoError(t, err)
	cat, err := s.CreateNeuron(NeuronOptions{Label: "cat", Linked: dog})
	require.NoError(t, err)
	pw, err := s.Pathway(cat.Edges()[0])
	require.NoError(t, err)
	return s, cat, dog, pw
}

func TestStore_Weights(t *testing.T) {
	t.Run("increase_is_monotonic_and_persisted", func(t *testing.T) {
		s, _, _, pw := newLinkedPair(t)
		prev := pw.Weight()
		for range 3 {
			require.NoError(t, s.IncreaseWeight(pw))
			assert.Greater(t, pw.Weight(), prev)
			prev = pw.Weight()
		}
		assert.InDelta(t, 4*WeightStep, pw.Weight(), 1e-12)

		s.Refresh()
		again, err := s.Pathway(pw.Path())
		require.NoError(t, err)
		assert.InDelta(t, pw.Weight(), again.Weight(), 1e-12)
	})

	t.Run("decrease_is_clamped", func(t *testing.T) {
		s, _, _, pw := newLinkedPair(t)
		require.NoError(t, s.IncreaseWeight(pw))
		require.NoError(t, s.DecreaseWeight(pw))
		assert.InDelta(t, WeightStep, pw.Weight(), 1e-12)

		for range 5 {
			require.NoError(t, s.DecreaseWeight(pw))
			assert.Greater(t, pw.Weight(), 0.0)
		}
		assert.InDelta(t, WeightStep, pw.Weight(), 1e-12)
	})

	t.Run("stale_handle_is_synced", func(t *testing.T) {
		s, _, _, pw := newLinkedPair(t)
		stale := &Pathway{path: pw.path, target: pw.target, weight: pw.weight}
		require.NoError(t, s.IncreaseWeight(stale))
		assert.Equal(t, pw.Weight(), stale.Weight())
	})

	t.Run("deleted_pathway_fails", func(t *testing.T) {
		s, cat, dog, pw := newLinkedPair(t)
		require.NoError(t, s.RemoveEdge(cat, dog))
		assert.ErrorIs(t, s.IncreaseWeight(pw), ErrNotFound)
	})
}

func TestStore_ResolveTarget(t *testing.T) {
	t.Run("resolves", func(t *testing.T) {
		s, _, dog, pw := newLinkedPair(t)
		got, err := s.ResolveTarget(pw)
		require.NoError(t, err)
		assert.Same(t, dog, got)
	})

	t.Run("destroyed_target_is_broken", func(t *testing.T) {
		s, _, dog, pw := newLinkedPair(t)
		require.NoError(t, s.Destroy(dog))
		_, err := s.ResolveTarget(pw)
		assert.ErrorIs(t, err, ErrBrokenEdge)
	})
}

func TestSortByWeight(t *testing.T) {
	ps := []*Pathway{
		{path: "pathways/3.tlink", weight: 0.3},
		{path: "pathways/2.tlink", weight: 0.1},
		{path: "pathways/1.tlink", weight: 0.1},
	}
	SortByWeight(ps)
	assert.Equal(t, "pathways/1.tlink", ps[0].Path())
	assert.Equal(t, "pathways/2.tlink", ps[1].Path())
	assert.Equal(t, "pathways/3.tlink", ps[2].Path())
}
