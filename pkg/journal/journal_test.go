package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_Lifecycle(t *testing.T) {
	j, err := OpenInMemory()
	require.NoError(t, err)
	defer j.Close()

	in := &Intent{Op: OpCreate, Neuron: "neurons/dog.nrn"}
	require.NoError(t, j.Begin(in))
	assert.NotEmpty(t, in.ID)
	assert.False(t, in.StartedAt.IsZero())

	in.Written = append(in.Written, "pathways/1.tlink")
	require.NoError(t, j.Update(in))

	got, err := j.Get(in.ID)
	require.NoError(t, err)
	assert.Equal(t, OpCreate, got.Op)
	assert.Equal(t, []string{"pathways/1.tlink"}, got.Written)

	pending, err := j.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, j.Commit(in.ID))
	_, err = j.Get(in.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	pending, err = j.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.NoError(t, j.Commit("never-existed"))
}

func TestJournal_PendingOrder(t *testing.T) {
	j, err := OpenInMemory()
	require.NoError(t, err)
	defer j.Close()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.Begin(&Intent{Op: OpRelocate, Neuron: "b", StartedAt: base.Add(time.Minute)}))
	require.NoError(t, j.Begin(&Intent{Op: OpCreate, Neuron: "a", StartedAt: base}))
	require.NoError(t, j.Begin(&Intent{Op: OpDestroy, Neuron: "c", StartedAt: base.Add(time.Hour)}))

	pending, err := j.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "a", pending[0].Neuron)
	assert.Equal(t, "b", pending[1].Neuron)
	assert.Equal(t, "c", pending[2].Neuron)
}

func TestJournal_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir, Options{SyncWrites: true})
	require.NoError(t, err)
	in := &Intent{Op: OpRelocate, Neuron: "neurons/animals/cat.nrn", NewPath: "neurons/pets/cat.nrn", Record: []byte(`{"x":1}`)}
	require.NoError(t, j.Begin(in))
	require.NoError(t, j.Close())

	j, err = Open(dir, Options{})
	require.NoError(t, err)
	defer j.Close()

	got, err := j.Get(in.ID)
	require.NoError(t, err)
	assert.Equal(t, "neurons/pets/cat.nrn", got.NewPath)
	assert.Equal(t, []byte(`{"x":1}`), got.Record)
}

func TestOpen_OnDiskDefaults(t *testing.T) {
	j, err := Open(t.TempDir(), Options{})
	require.NoError(t, err)
	defer j.Close()

	in := &Intent{
		Op:         OpRelocate,
		Neuron:     "neurons/dog.nrn",
		Retargeted: []string{"pathways/1.tlink"},
		Record:     make([]byte, 4096),
	}
	require.NoError(t, j.Begin(in))

	got, err := j.Get(in.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"pathways/1.tlink"}, got.Retargeted)
	assert.Len(t, got.Record, 4096)
}

func TestJournal_Closed(t *testing.T) {
	j, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	assert.ErrorIs(t, j.Begin(&Intent{Op: OpCreate}), ErrClosed)
	_, err = j.Pending()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestJournal_UpdateWithoutID(t *testing.T) {
	j, err := OpenInMemory()
	require.NoError(t, err)
	defer j.Close()

	assert.ErrorIs(t, j.Update(&Intent{Op: OpCreate}), ErrNotFound)
}
