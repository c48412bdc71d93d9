package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// CreateCategory creates and persists a category named name under parent
// (nil for a root category). Categories never allocate IDs. Creating over an
// existing record fails with ErrPathAlreadyExists.
func (s *Store) CreateCategory(name string, parent *Category) (*Category, error) {
	release, err := s.exclusive()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.createCategoryLocked(name, parent)
}

func (s *Store) createCategoryLocked(name string, parent *Category) (*Category, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	parentPath := ""
	if parent != nil {
		p, err := s.ownCategory(parent)
		if err != nil {
			return nil, err
		}
		parent, parentPath = p, p.path
	}

	p, err := s.resolver.Resolve(KindCategory, categoryDir(parent), name)
	if err != nil {
		return nil, err
	}
	c := &Category{
		name:     name,
		parent:   parentPath,
		children: []string{},
		path:     p,
	}
	data, err := EncodeCategory(c)
	if err != nil {
		return nil, err
	}
	if err := s.files.create(p, data); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.files.abs(c.Dir()), 0755); err != nil {
		return nil, errors.Join(fmt.Errorf("creating category directory: %w", err), s.files.remove(p))
	}

	s.categories[p] = c
	s.log.Debug("created category", zap.String("path", p))
	return c, nil
}

// EnsureCategory returns the category with the slash-separated full name
// (e.g. "animals/pets"), creating every missing level.
func (s *Store) EnsureCategory(fullName string) (*Category, error) {
	segments, err := splitCategoryName(fullName)
	if err != nil {
		return nil, err
	}

	release, err := s.exclusive()
	if err != nil {
		return nil, err
	}
	defer release()

	var cur *Category
	for _, seg := range segments {
		next, err := s.loadCategory(categoryDir(cur) + "/" + seg + CategoryExt)
		if errors.Is(err, ErrCategoryNotFound) {
			next, err = s.createCategoryLocked(seg, cur)
		}
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Category loads the category with the given full name.
func (s *Store) Category(fullName string) (*Category, error) {
	segments, err := splitCategoryName(fullName)
	if err != nil {
		return nil, err
	}
	return s.ParseCategory(NeuronRoot + "/" + strings.Join(segments, "/") + CategoryExt)
}

// ParseCategory loads the category record at the root-relative path p.
// A missing record fails with ErrCategoryNotFound.
func (s *Store) ParseCategory(p string) (*Category, error) {
	if err := validateRecordPath(p, CategoryExt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCategoryNotFound, err)
	}
	release, err := s.shared()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.loadCategory(p)
}

// Parent returns the enclosing category of c, or nil for a root category.
func (s *Store) Parent(c *Category) (*Category, error) {
	if c.parent == "" {
		return nil, nil
	}
	return s.ParseCategory(c.parent)
}

// AddChild registers n as a direct child of c and persists c. Adding a
// registered child again is a no-op.
func (s *Store) AddChild(c *Category, n *Neuron) error {
	release, err := s.exclusive()
	if err != nil {
		return err
	}
	defer release()

	c, err = s.ownCategory(c)
	if err != nil {
		return err
	}
	if !n.Valid() {
		return ErrInvalidHandle
	}
	return s.addChildLocked(c, n.path)
}

// RemoveChild unregisters n from c and persists c.
//
// Removing a neuron that is not a child succeeds without writing anything.
// Callers that treat that case as a bug should check HasChild first.
func (s *Store) RemoveChild(c *Category, n *Neuron) error {
	release, err := s.exclusive()
	if err != nil {
		return err
	}
	defer release()

	c, err = s.ownCategory(c)
	if err != nil {
		return err
	}
	if n == nil || n.path == "" {
		return ErrInvalidHandle
	}
	return s.removeChildLocked(c, n.path)
}

func (s *Store) addChildLocked(c *Category, neuronPath string) error {
	if slices.Contains(c.children, neuronPath) {
		return nil
	}
	c.children = append(c.children, neuronPath)
	if err := s.saveCategory(c); err != nil {
		c.children = slices.DeleteFunc(c.children, func(p string) bool { return p == neuronPath })
		return err
	}
	return nil
}

func (s *Store) removeChildLocked(c *Category, neuronPath string) error {
	i := slices.Index(c.children, neuronPath)
	if i < 0 {
		return nil
	}
	prev := slices.Clone(c.children)
	c.children = slices.Delete(c.children, i, i+1)
	if err := s.saveCategory(c); err != nil {
		c.children = prev
		return err
	}
	return nil
}

// ListDescendantNeurons yields the neurons stored under c's directory in
// lexical path order: direct children only, or the whole subtree when
// recursive is set. A nil category lists from the neuron root.
//
// The sequence reads the directory when iteration starts, so ranging over it
// again observes later changes. Entries that fail to load are yielded with
// their error and iteration continues.
func (s *Store) ListDescendantNeurons(c *Category, recursive bool) iter.Seq2[*Neuron, error] {
	return func(yield func(*Neuron, error) bool) {
		paths, err := s.neuronFiles(categoryDir(c), recursive)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, p := range paths {
			if !yield(s.Neuron(p)) {
				return
			}
		}
	}
}

// AllNeurons yields every neuron of the store in lexical path order.
func (s *Store) AllNeurons() iter.Seq2[*Neuron, error] {
	return s.ListDescendantNeurons(nil, true)
}

// RenameCategory is not supported: every record below the category embeds
// its path.
func (s *Store) RenameCategory(c *Category, name string) error {
	return fmt.Errorf("%w: renaming category %s", ErrUnsupported, c.FullName())
}

// MoveCategory is not supported, for the same reason as RenameCategory.
func (s *Store) MoveCategory(c *Category, parent *Category) error {
	return fmt.Errorf("%w: moving category %s", ErrUnsupported, c.FullName())
}

// neuronFiles lists root-relative .nrn paths under dir.
func (s *Store) neuronFiles(dir string, recursive bool) ([]string, error) {
	return s.recordFiles(dir, NeuronExt, recursive)
}

func (s *Store) recordFiles(dir, ext string, recursive bool) ([]string, error) {
	absDir := s.files.abs(dir)
	var out []string

	if !recursive {
		entries, err := os.ReadDir(absDir)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
				out = append(out, dir+"/"+e.Name())
			}
		}
		return out, nil
	}

	err := filepath.WalkDir(absDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == absDir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if p != absDir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ext) {
			rel, err := filepath.Rel(s.root, p)
			if err != nil {
				return err
			}
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	return out, nil
}

func splitCategoryName(fullName string) ([]string, error) {
	fullName = strings.Trim(fullName, "/")
	if fullName == "" {
		return nil, fmt.Errorf("%w: empty category name", ErrInvalidName)
	}
	segments := strings.Split(fullName, "/")
	for _, seg := range segments {
		if err := validateName(seg); err != nil {
			return nil, err
		}
	}
	return segments, nil
}
