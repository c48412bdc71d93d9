package storage

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/orneryd/mindstore/pkg/ids"
)

// Kind selects the record type a path is resolved for.
type Kind int

const (
	KindNeuron Kind = iota
	KindPathway
	KindCategory
)

// Ext returns the file extension of the kind.
func (k Kind) Ext() string {
	switch k {
	case KindNeuron:
		return NeuronExt
	case KindPathway:
		return PathwayExt
	default:
		return CategoryExt
	}
}

func (k Kind) String() string {
	switch k {
	case KindNeuron:
		return "neuron"
	case KindPathway:
		return "pathway"
	default:
		return "category"
	}
}

// scope returns the ID sequence of the kind. Categories are always named.
func (k Kind) scope() (ids.Scope, bool) {
	switch k {
	case KindNeuron:
		return ids.ScopeNeuron, true
	case KindPathway:
		return ids.ScopeEdge, true
	default:
		return "", false
	}
}

// Resolver maps an entity's logical position to its storage path.
type Resolver struct {
	counters *ids.Counters
}

// NewResolver returns a resolver allocating anonymous names from counters.
func NewResolver(counters *ids.Counters) *Resolver {
	return &Resolver{counters: counters}
}

// Resolve returns "<dir>/<name><ext>", allocating an ID for the name when
// nameOrID is empty. dir is a root-relative directory. Resolve does not
// check whether the path is taken; creation does.
func (r *Resolver) Resolve(kind Kind, dir, nameOrID string) (string, error) {
	if dir == "" || path.IsAbs(dir) || path.Clean(dir) != dir || strings.HasPrefix(dir, "..") {
		return "", fmt.Errorf("%w: directory %q", ErrInvalidName, dir)
	}
	if nameOrID == "" {
		scope, ok := kind.scope()
		if !ok {
			return "", fmt.Errorf("%w: a %s needs a name", ErrInvalidName, kind)
		}
		id, err := r.counters.Next(scope)
		if err != nil {
			return "", err
		}
		nameOrID = strconv.FormatInt(id, 10)
	} else if err := validateName(nameOrID); err != nil {
		return "", err
	}
	return dir + "/" + nameOrID + kind.Ext(), nil
}

// validateName rejects names that cannot be a single path segment.
func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q is hidden", ErrInvalidName, name)
	}
	return nil
}
