package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"path"
	"strings"
)

// Record field names.
const (
	fieldParentCategory = "parent_category"
	fieldOutgoingEdges  = "outgoing_edges"
	fieldStoragePath    = "storage_path"
	fieldEmotionTag     = "emotion_tag"
	fieldMorpheme       = "morpheme"
	fieldName           = "name"
	fieldChildNeurons   = "child_neurons"
	fieldWeight         = "weight"
	fieldTarget         = "target"
)

type neuronRecord struct {
	ParentCategory string   `json:"parent_category"`
	OutgoingEdges  []string `json:"outgoing_edges"`
	StoragePath    string   `json:"storage_path"`
	EmotionTag     *string  `json:"emotion_tag,omitempty"`
	Morpheme       *string  `json:"morpheme,omitempty"`
}

type categoryRecord struct {
	Name           string   `json:"name"`
	ParentCategory string   `json:"parent_category"`
	ChildNeurons   []string `json:"child_neurons"`
	StoragePath    string   `json:"storage_path"`
}

type pathwayRecord struct {
	Weight      float64 `json:"weight"`
	Target      string  `json:"target"`
	StoragePath string  `json:"storage_path"`
}

// EncodeNeuron renders n as its record text.
func EncodeNeuron(n *Neuron) ([]byte, error) {
	if !n.Valid() {
		return nil, ErrInvalidHandle
	}
	rec := neuronRecord{
		ParentCategory: categoryRef(n.category),
		OutgoingEdges:  nonNil(n.edges),
		StoragePath:    n.path,
	}
	if n.emotion != "" {
		tag := n.emotion
		rec.EmotionTag = &tag
	}
	if n.hasMorpheme {
		m := n.morpheme
		rec.Morpheme = &m
	}
	return marshalRecord(rec)
}

// DecodeNeuron parses a neuron record. A missing emotion_tag or morpheme
// decodes as absent.
func DecodeNeuron(data []byte) (*Neuron, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	n := &Neuron{}
	if n.category, err = requiredCategoryRef(raw, fieldParentCategory); err != nil {
		return nil, err
	}
	if n.edges, err = requiredPathList(raw, fieldOutgoingEdges, PathwayExt); err != nil {
		return nil, err
	}
	if n.path, err = requiredPath(raw, fieldStoragePath, NeuronExt); err != nil {
		return nil, err
	}
	tag, ok, err := optionalString(raw, fieldEmotionTag)
	if err != nil {
		return nil, err
	}
	if ok {
		if tag == "" {
			return nil, malformed(fieldEmotionTag, "empty emotion name")
		}
		n.emotion = tag
	}
	if n.morpheme, n.hasMorpheme, err = optionalString(raw, fieldMorpheme); err != nil {
		return nil, err
	}
	return n, nil
}

// EncodeCategory renders c as its record text.
func EncodeCategory(c *Category) ([]byte, error) {
	if c == nil || c.path == "" {
		return nil, ErrInvalidHandle
	}
	return marshalRecord(categoryRecord{
		Name:           c.name,
		ParentCategory: categoryRef(c.parent),
		ChildNeurons:   nonNil(c.children),
		StoragePath:    c.path,
	})
}

// DecodeCategory parses a category record.
func DecodeCategory(data []byte) (*Category, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	c := &Category{}
	if c.name, err = requiredString(raw, fieldName); err != nil {
		return nil, err
	}
	if err := validateName(c.name); err != nil {
		return nil, malformed(fieldName, "%v", err)
	}
	if c.parent, err = requiredCategoryRef(raw, fieldParentCategory); err != nil {
		return nil, err
	}
	if c.children, err = requiredPathList(raw, fieldChildNeurons, NeuronExt); err != nil {
		return nil, err
	}
	if c.path, err = requiredPath(raw, fieldStoragePath, CategoryExt); err != nil {
		return nil, err
	}
	if path.Base(c.Dir()) != c.name {
		return nil, malformed(fieldName, "%q does not match storage path %q", c.name, c.path)
	}
	return c, nil
}

// EncodePathway renders p as its record text.
func EncodePathway(p *Pathway) ([]byte, error) {
	if p == nil || p.path == "" {
		return nil, ErrInvalidHandle
	}
	return marshalRecord(pathwayRecord{
		Weight:      p.weight,
		Target:      p.target,
		StoragePath: p.path,
	})
}

// DecodePathway parses a pathway record.
func DecodePathway(data []byte) (*Pathway, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	p := &Pathway{}
	v, ok := raw[fieldWeight]
	if !ok || isNull(v) {
		return nil, malformed(fieldWeight, "missing")
	}
	if err := json.Unmarshal(v, &p.weight); err != nil {
		return nil, malformed(fieldWeight, "not a number")
	}
	if math.IsNaN(p.weight) || math.IsInf(p.weight, 0) || p.weight <= 0 {
		return nil, malformed(fieldWeight, "must be positive, got %v", p.weight)
	}
	if p.target, err = requiredPath(raw, fieldTarget, NeuronExt); err != nil {
		return nil, err
	}
	if p.path, err = requiredPath(raw, fieldStoragePath, PathwayExt); err != nil {
		return nil, err
	}
	return p, nil
}

func marshalRecord(rec any) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, malformed("", "not a JSON object: %v", err)
	}
	if raw == nil {
		return nil, malformed("", "record is null")
	}
	return raw, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func requiredString(raw map[string]json.RawMessage, field string) (string, error) {
	v, ok := raw[field]
	if !ok || isNull(v) {
		return "", malformed(field, "missing")
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", malformed(field, "not a string")
	}
	return s, nil
}

func optionalString(raw map[string]json.RawMessage, field string) (string, bool, error) {
	v, ok := raw[field]
	if !ok || isNull(v) {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false, malformed(field, "not a string")
	}
	return s, true, nil
}

func requiredPath(raw map[string]json.RawMessage, field, ext string) (string, error) {
	s, err := requiredString(raw, field)
	if err != nil {
		return "", err
	}
	if err := validateRecordPath(s, ext); err != nil {
		return "", malformed(field, "%v", err)
	}
	return s, nil
}

func requiredCategoryRef(raw map[string]json.RawMessage, field string) (string, error) {
	s, err := requiredString(raw, field)
	if err != nil {
		return "", err
	}
	if s == NoCategory {
		return "", nil
	}
	if err := validateRecordPath(s, CategoryExt); err != nil {
		return "", malformed(field, "%v", err)
	}
	return s, nil
}

func requiredPathList(raw map[string]json.RawMessage, field, ext string) ([]string, error) {
	v, ok := raw[field]
	if !ok || isNull(v) {
		return nil, malformed(field, "missing")
	}
	var list []string
	if err := json.Unmarshal(v, &list); err != nil {
		return nil, malformed(field, "not a list of paths")
	}
	for i, p := range list {
		if err := validateRecordPath(p, ext); err != nil {
			return nil, malformed(field, "entry %d: %v", i, err)
		}
	}
	return list, nil
}

// validateRecordPath checks that p is a clean, root-relative path with the
// given extension.
func validateRecordPath(p, ext string) error {
	switch {
	case p == "":
		return fmt.Errorf("empty path")
	case path.IsAbs(p) || strings.Contains(p, `\`):
		return fmt.Errorf("path %q is not root-relative", p)
	case path.Clean(p) != p || p == ".." || strings.HasPrefix(p, "../"):
		return fmt.Errorf("path %q is not clean or escapes the root", p)
	case !strings.HasSuffix(p, ext) || len(p) == len(ext):
		return fmt.Errorf("path %q does not name a %s file", p, ext)
	}
	return nil
}

func categoryRef(p string) string {
	if p == "" {
		return NoCategory
	}
	return p
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
