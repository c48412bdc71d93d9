package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeuronCodec(t *testing.T) {
	t.Run("round_trips_every_field", func(t *testing.T) {
		n := &Neuron{
			path:        "neurons/animals/dog.nrn",
			category:    "neurons/animals.ctg",
			edges:       []string{"pathways/3.tlink", "pathways/1.tlink"},
			emotion:     "joy",
			morpheme:    "dog",
			hasMorpheme: true,
		}
		data, err := EncodeNeuron(n)
		require.NoError(t, err)

		got, err := DecodeNeuron(data)
		require.NoError(t, err)
		assert.Equal(t, n, got)

		again, err := EncodeNeuron(got)
		require.NoError(t, err)
		assert.Equal(t, string(data), string(again))
	})

	t.Run("uncategorised_neuron_persists_sentinel", func(t *testing.T) {
		n := &Neuron{path: "neurons/7.nrn", edges: []string{}}
		data, err := EncodeNeuron(n)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"parent_category": "NO_CATEGORY"`)
		assert.Contains(t, string(data), `"outgoing_edges": []`)
		assert.NotContains(t, string(data), "emotion_tag")
		assert.NotContains(t, string(data), "morpheme")

		got, err := DecodeNeuron(data)
		require.NoError(t, err)
		assert.Equal(t, "", got.CategoryPath())
	})

	t.Run("missing_optionals_decode_as_absent", func(t *testing.T) {
		got, err := DecodeNeuron([]byte(`{
			"parent_category": "NO_CATEGORY",
			"outgoing_edges": [],
			"storage_path": "neurons/1.nrn"
		}`))
		require.NoError(t, err)

		_, ok := got.EmotionTag()
		assert.False(t, ok)
		_, ok = got.Morpheme()
		assert.False(t, ok)
	})

	t.Run("empty_morpheme_is_present", func(t *testing.T) {
		got, err := DecodeNeuron([]byte(`{
			"parent_category": "NO_CATEGORY",
			"outgoing_edges": [],
			"storage_path": "neurons/1.nrn",
			"morpheme": ""
		}`))
		require.NoError(t, err)
		m, ok := got.Morpheme()
		assert.True(t, ok)
		assert.Equal(t, "", m)
	})

	t.Run("unknown_fields_are_ignored", func(t *testing.T) {
		_, err := DecodeNeuron([]byte(`{
			"parent_category": "NO_CATEGORY",
			"outgoing_edges": [],
			"storage_path": "neurons/1.nrn",
			"colour": "blue"
		}`))
		assert.NoError(t, err)
	})

	t.Run("encoding_destroyed_handle_fails", func(t *testing.T) {
		_, err := EncodeNeuron(&Neuron{path: "neurons/1.nrn", destroyed: true})
		assert.ErrorIs(t, err, ErrInvalidHandle)
	})
}

func TestNeuronCodec_Malformed(t *testing.T) {
	cases := []struct {
		name  string
		data  string
		field string
	}{
		{"not_json", `{"parent_category": `, ""},
		{"json_null", `null`, ""},
		{"missing_edges", `{"parent_category": "NO_CATEGORY", "storage_path": "neurons/1.nrn"}`, fieldOutgoingEdges},
		{"null_edges", `{"parent_category": "NO_CATEGORY", "outgoing_edges": null, "storage_path": "neurons/1.nrn"}`, fieldOutgoingEdges},
		{"edges_not_list", `{"parent_category": "NO_CATEGORY", "outgoing_edges": "pathways/1.tlink", "storage_path": "neurons/1.nrn"}`, fieldOutgoingEdges},
		{"edge_wrong_extension", `{"parent_category": "NO_CATEGORY", "outgoing_edges": ["pathways/1.nrn"], "storage_path": "neurons/1.nrn"}`, fieldOutgoingEdges},
		{"missing_parent", `{"outgoing_edges": [], "storage_path": "neurons/1.nrn"}`, fieldParentCategory},
		{"parent_not_category", `{"parent_category": "neurons/a.nrn", "outgoing_edges": [], "storage_path": "neurons/1.nrn"}`, fieldParentCategory},
		{"missing_path", `{"parent_category": "NO_CATEGORY", "outgoing_edges": []}`, fieldStoragePath},
		{"absolute_path", `{"parent_category": "NO_CATEGORY", "outgoing_edges": [], "storage_path": "/neurons/1.nrn"}`, fieldStoragePath},
		{"escaping_path", `{"parent_category": "NO_CATEGORY", "outgoing_edges": [], "storage_path": "../1.nrn"}`, fieldStoragePath},
		{"empty_emotion", `{"parent_category": "NO_CATEGORY", "outgoing_edges": [], "storage_path": "neurons/1.nrn", "emotion_tag": ""}`, fieldEmotionTag},
		{"numeric_morpheme", `{"parent_category": "NO_CATEGORY", "outgoing_edges": [], "storage_path": "neurons/1.nrn", "morpheme": 4}`, fieldMorpheme},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeNeuron([]byte(tc.data))
			require.ErrorIs(t, err, ErrMalformedRecord)

			var m *MalformedRecordError
			require.True(t, errors.As(err, &m))
			assert.Equal(t, tc.field, m.Field)
		})
	}
}

func TestCategoryCodec(t *testing.T) {
	t.Run("round_trips", func(t *testing.T) {
		c := &Category{
			name:     "pets",
			parent:   "neurons/animals.ctg",
			children: []string{"neurons/animals/pets/dog.nrn"},
			path:     "neurons/animals/pets.ctg",
		}
		data, err := EncodeCategory(c)
		require.NoError(t, err)

		got, err := DecodeCategory(data)
		require.NoError(t, err)
		assert.Equal(t, c, got)
		assert.Equal(t, "animals/pets", got.FullName())
		assert.Equal(t, "neurons/animals/pets", got.Dir())
	})

	t.Run("root_category_has_no_parent", func(t *testing.T) {
		data, err := EncodeCategory(&Category{name: "animals", path: "neurons/animals.ctg"})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"parent_category": "NO_CATEGORY"`)
		assert.Contains(t, string(data), `"child_neurons": []`)
	})

	t.Run("name_must_match_path", func(t *testing.T) {
		_, err := DecodeCategory([]byte(`{
			"name": "cats",
			"parent_category": "NO_CATEGORY",
			"child_neurons": [],
			"storage_path": "neurons/dogs.ctg"
		}`))
		var m *MalformedRecordError
		require.ErrorAs(t, err, &m)
		assert.Equal(t, fieldName, m.Field)
	})

	t.Run("missing_children", func(t *testing.T) {
		_, err := DecodeCategory([]byte(`{
			"name": "dogs",
			"parent_category": "NO_CATEGORY",
			"storage_path": "neurons/dogs.ctg"
		}`))
		var m *MalformedRecordError
		require.ErrorAs(t, err, &m)
		assert.Equal(t, fieldChildNeurons, m.Field)
	})
}

func TestPathwayCodec(t *testing.T) {
	t.Run("round_trips", func(t *testing.T) {
		p := &Pathway{path: "pathways/4.tlink", target: "neurons/animals/dog.nrn", weight: 0.00003}
		data, err := EncodePathway(p)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"weight": 0.00003`)
		assert.Equal(t, byte('\n'), data[len(data)-1])

		got, err := DecodePathway(data)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	})

	for name, tc := range map[string]struct {
		data  string
		field string
	}{
		"missing_weight":  {`{"target": "neurons/1.nrn", "storage_path": "pathways/1.tlink"}`, fieldWeight},
		"string_weight":   {`{"weight": "heavy", "target": "neurons/1.nrn", "storage_path": "pathways/1.tlink"}`, fieldWeight},
		"zero_weight":     {`{"weight": 0, "target": "neurons/1.nrn", "storage_path": "pathways/1.tlink"}`, fieldWeight},
		"negative_weight": {`{"weight": -1, "target": "neurons/1.nrn", "storage_path": "pathways/1.tlink"}`, fieldWeight},
		"missing_target":  {`{"weight": 1, "storage_path": "pathways/1.tlink"}`, fieldTarget},
		"target_is_edge":  {`{"weight": 1, "target": "pathways/2.tlink", "storage_path": "pathways/1.tlink"}`, fieldTarget},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePathway([]byte(tc.data))
			var m *MalformedRecordError
			require.ErrorAs(t, err, &m)
			assert.Equal(t, tc.field, m.Field)
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestMalformedRecordError(t *testing.T) {
	err := withPath(malformed(fieldWeight, "not a number"), "pathways/1.tlink")
	assert.EqualError(t, err, `malformed record pathways/1.tlink: field "weight": not a number`)
	assert.ErrorIs(t, err, ErrMalformedRecord)
	assert.NotErrorIs(t, err, ErrNotFound)
}
