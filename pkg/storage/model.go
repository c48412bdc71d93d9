// Package storage is a file-backed graph of weighted associations.
//
// The graph is made of three kinds of records, each persisted as its own
// file under a storage root:
//   - Neuron (*.nrn): a node holding an ordered list of outgoing pathways,
//     an optional emotion tag and an optional morpheme (label)
//   - Pathway (*.tlink): a directed, weighted reference to a target neuron
//   - Category (*.ctg): a folder-like node; its directory holds the neuron
//     files filed under it and the records of its sub-categories
//
// Records reference each other by root-relative, slash-separated paths, so a
// tree can be moved or copied as a whole. There is no central index: a
// Store keeps an in-memory index of the entities loaded during a session and
// routes every mutation through it, writing each changed record back to its
// file.
//
// Example Usage:
//
//	if err := storage.Init("/data/mind", 1); err != nil {
//		return err
//	}
//	store, err := storage.Open("/data/mind", storage.Options{})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	animals, _ := store.CreateCategory("animals", nil)
//	dog, _ := store.CreateNeuron(storage.NeuronOptions{Label: "dog", Category: animals})
//	cat, _ := store.CreateNeuron(storage.NeuronOptions{Label: "cat", Category: animals, Linked: dog})
//
//	for n, err := range store.EdgesWithin(cat, animals) {
//		// n == dog
//	}
//
// ELI12:
//
// Imagine a cabinet of index cards. Every card (neuron) sits in a drawer
// (category), and drawers can hold smaller drawers. On a card you write
// "see also" notes (pathways) that point at other cards by their drawer and
// card name. When a card moves to another drawer, the notes on OTHER cards
// still point at the old spot. Nobody fixes those automatically; instead you
// can ask the librarian to walk the whole cabinet (ScanAndRepair) and throw
// away every note that points at an empty spot.
//
// Thread Safety:
//
//	A Store is safe for concurrent use. Multi-file mutations hold the
//	storage root lock (package lock) for their whole sequence. Neuron,
//	Category and Pathway values are handles owned by the Store; read them
//	through their accessors and mutate them only through Store methods.
package storage

import (
	"path"
	"slices"
	"strings"
)

// Storage layout, relative to the storage root.
const (
	NeuronRoot  = "neurons"
	PathwayRoot = "pathways"
	JournalDir  = ".journal"

	NeuronExt   = ".nrn"
	PathwayExt  = ".tlink"
	CategoryExt = ".ctg"

	// NoCategory is the persisted parent_category of uncategorised records.
	NoCategory = "NO_CATEGORY"
)

// Pathway weights.
const (
	DefaultWeight = 0.00001
	WeightStep    = 0.00001
)

// Neuron is a graph node persisted as one .nrn file.
type Neuron struct {
	path        string
	category    string
	edges       []string
	emotion     string
	morpheme    string
	hasMorpheme bool
	destroyed   bool
}

// Path returns the root-relative storage path, or "" once destroyed.
func (n *Neuron) Path() string {
	if n.destroyed {
		return ""
	}
	return n.path
}

// Name returns the file base name without extension: the morpheme or the
// allocated ID.
func (n *Neuron) Name() string {
	return strings.TrimSuffix(path.Base(n.path), NeuronExt)
}

// CategoryPath returns the record path of the owning category, or "" when
// the neuron is filed at the root.
func (n *Neuron) CategoryPath() string {
	return n.category
}

// Edges returns the outgoing pathway paths in creation order.
func (n *Neuron) Edges() []string {
	return slices.Clone(n.edges)
}

// EmotionTag returns the emotion name, if any.
func (n *Neuron) EmotionTag() (string, bool) {
	return n.emotion, n.emotion != ""
}

// Morpheme returns the label, if any. A present morpheme may be empty.
func (n *Neuron) Morpheme() (string, bool) {
	return n.morpheme, n.hasMorpheme
}

// Valid reports whether the handle still refers to a stored neuron.
func (n *Neuron) Valid() bool {
	return n != nil && !n.destroyed && n.path != ""
}

// Pathway is a directed, weighted edge persisted as one .tlink file.
type Pathway struct {
	path   string
	target string
	weight float64
}

// Path returns the root-relative storage path.
func (p *Pathway) Path() string { return p.path }

// Target returns the storage path of the destination neuron.
func (p *Pathway) Target() string { return p.target }

// Weight returns the connection strength.
func (p *Pathway) Weight() float64 { return p.weight }

func (p *Pathway) increase() {
	p.weight += WeightStep
}

func (p *Pathway) decrease() {
	p.weight -= WeightStep
	if p.weight < WeightStep {
		p.weight = WeightStep
	}
}

// Category is a named folder of neurons persisted as a .ctg file next to its
// directory.
type Category struct {
	name     string
	parent   string
	children []string
	path     string
}

// Name returns the folder segment.
func (c *Category) Name() string { return c.name }

// Path returns the root-relative record path.
func (c *Category) Path() string { return c.path }

// ParentPath returns the record path of the enclosing category, or "".
func (c *Category) ParentPath() string { return c.parent }

// Dir returns the root-relative directory holding the category's neurons.
func (c *Category) Dir() string {
	return strings.TrimSuffix(c.path, CategoryExt)
}

// FullName returns the slash-joined names of the category and its ancestors,
// e.g. "animals/pets".
func (c *Category) FullName() string {
	return strings.TrimPrefix(c.Dir(), NeuronRoot+"/")
}

// Children returns the paths of the neurons filed directly under c.
func (c *Category) Children() []string {
	return slices.Clone(c.children)
}

// HasChild reports whether n is registered as a direct child.
func (c *Category) HasChild(n *Neuron) bool {
	return n != nil && slices.Contains(c.children, n.path)
}

// categoryDir returns the directory neurons of category c live in.
func categoryDir(c *Category) string {
	if c == nil {
		return NeuronRoot
	}
	return c.Dir()
}

// isUnder reports whether p lies inside dir.
func isUnder(p, dir string) bool {
	return strings.HasPrefix(p, dir+"/")
}
