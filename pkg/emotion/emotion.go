// Package emotion is the vocabulary of affect labels a neuron may carry.
//
// The store never interprets emotions. It persists the name of the tag and
// asks a Vocabulary to turn names back into handles when records are loaded.
package emotion

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownEmotion is returned by Lookup for names outside the vocabulary.
var ErrUnknownEmotion = errors.New("unknown emotion")

// Handle identifies one vocabulary entry. The zero Handle means no emotion.
type Handle struct {
	name string
}

// Name returns the persisted name of the emotion.
func (h Handle) Name() string { return h.name }

// IsZero reports whether h is the empty handle.
func (h Handle) IsZero() bool { return h.name == "" }

func (h Handle) String() string { return h.name }

// Vocabulary resolves emotion names.
type Vocabulary interface {
	Lookup(name string) (Handle, error)
}

// Static is a fixed, case-insensitive vocabulary.
type Static struct {
	entries map[string]Handle
}

// NewStatic builds a vocabulary from names. Blank names are skipped.
func NewStatic(names ...string) *Static {
	s := &Static{entries: make(map[string]Handle, len(names))}
	for _, n := range names {
		n = normalize(n)
		if n == "" {
			continue
		}
		s.entries[n] = Handle{name: n}
	}
	return s
}

// Default returns Plutchik's eight primary emotions.
func Default() *Static {
	return NewStatic("joy", "trust", "fear", "surprise", "sadness", "disgust", "anger", "anticipation")
}

// Lookup returns the handle for name.
func (s *Static) Lookup(name string) (Handle, error) {
	h, ok := s.entries[normalize(name)]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %q", ErrUnknownEmotion, name)
	}
	return h, nil
}

// Must is Lookup for names known to exist; it panics otherwise.
func (s *Static) Must(name string) Handle {
	h, err := s.Lookup(name)
	if err != nil {
		panic(err)
	}
	return h
}

// Names lists the vocabulary in sorted order.
func (s *Static) Names() []string {
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type vocabularyFile struct {
	Emotions []string `yaml:"emotions"`
}

// LoadFile reads a YAML vocabulary:
//
//	emotions:
//	  - joy
//	  - nostalgia
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f vocabularyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing vocabulary %s: %w", path, err)
	}
	if len(f.Emotions) == 0 {
		return nil, fmt.Errorf("vocabulary %s defines no emotions", path)
	}
	return NewStatic(f.Emotions...), nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
