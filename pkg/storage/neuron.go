package storage

import (
	"errors"
	"fmt"
	"iter"
	"path"
	"slices"

	"go.uber.org/zap"

	"github.com/orneryd/mindstore/pkg/emotion"
	"github.com/orneryd/mindstore/pkg/journal"
)

// NeuronOptions describes a neuron to create. Every field is optional.
type NeuronOptions struct {
	// Linked receives the new neuron's first outgoing pathway.
	Linked *Neuron
	// Emotion tags the neuron.
	Emotion emotion.Handle
	// Label is the morpheme; it names the file instead of an allocated ID.
	Label string
	// Category files the neuron; nil files it at the neuron root.
	Category *Category
}

// CreateNeuron allocates a storage path, writes a pathway to opts.Linked,
// writes the neuron and registers it with its category.
//
// Either every step succeeds or the returned error matches ErrCreateFailed
// (along with the cause, e.g. ErrAllocatorUnavailable or
// ErrPathAlreadyExists) and the files written so far are removed. When that
// cleanup fails too, its errors are joined to the result and the intent stays
// in the journal for ScanAndRepair.
func (s *Store) CreateNeuron(opts NeuronOptions) (*Neuron, error) {
	release, err := s.exclusive()
	if err != nil {
		return nil, err
	}
	defer release()

	n, err := s.createNeuronLocked(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	s.log.Debug("created neuron", zap.String("path", n.path), zap.Int("edges", len(n.edges)))
	return n, nil
}

func (s *Store) createNeuronLocked(opts NeuronOptions) (*Neuron, error) {
	var cat *Category
	if opts.Category != nil {
		c, err := s.ownCategory(opts.Category)
		if err != nil {
			return nil, err
		}
		cat = c
	}

	var linked *Neuron
	if opts.Linked != nil {
		l, err := s.targetLocked(opts.Linked)
		if err != nil {
			return nil, err
		}
		linked = l
	}

	if !opts.Emotion.IsZero() && s.vocab != nil {
		if _, err := s.vocab.Lookup(opts.Emotion.Name()); err != nil {
			return nil, err
		}
	}

	p, err := s.freeNeuronPathLocked(categoryDir(cat), opts.Label)
	if err != nil {
		return nil, err
	}

	n := &Neuron{
		path:        p,
		edges:       []string{},
		emotion:     opts.Emotion.Name(),
		morpheme:    opts.Label,
		hasMorpheme: opts.Label != "",
	}
	if cat != nil {
		n.category = cat.path
	}

	intent := &journal.Intent{Op: journal.OpCreate, Neuron: p}
	if err := s.beginIntent(intent); err != nil {
		return nil, err
	}

	var registered bool
	rollback := func(cause error) error {
		var errs []error
		if registered {
			if err := s.removeChildLocked(cat, p); err != nil {
				errs = append(errs, err)
			}
		}
		for _, w := range slices.Backward(intent.Written) {
			if err := s.files.remove(w); err != nil {
				errs = append(errs, err)
			}
			delete(s.pathways, w)
		}
		if len(errs) > 0 {
			s.log.Warn("create rollback incomplete", zap.String("path", p), zap.Errors("errors", errs))
			return errors.Join(append([]error{cause}, errs...)...)
		}
		s.commitIntent(intent)
		return cause
	}

	if linked != nil {
		pw, err := s.newPathwayLocked(linked.path)
		if err != nil {
			return nil, rollback(err)
		}
		if err := s.writePathwayLocked(pw, intent); err != nil {
			return nil, rollback(err)
		}
		n.edges = append(n.edges, pw.path)
	}

	data, err := EncodeNeuron(n)
	if err != nil {
		return nil, rollback(err)
	}
	intent.Written = append(intent.Written, p)
	if err := s.updateIntent(intent); err != nil {
		return nil, rollback(err)
	}
	if err := s.files.create(p, data); err != nil {
		// The path may belong to someone else now; never delete it.
		intent.Written = intent.Written[:len(intent.Written)-1]
		return nil, rollback(err)
	}

	if cat != nil {
		if err := s.addChildLocked(cat, p); err != nil {
			return nil, rollback(err)
		}
		registered = true
	}

	s.neurons[p] = n
	s.commitIntent(intent)
	return n, nil
}

// freeNeuronPathLocked resolves the path of a new neuron filed in dir. A
// taken labelled path fails with ErrPathAlreadyExists; an allocated ID whose
// path is already taken, e.g. by a numeric morpheme, is skipped.
func (s *Store) freeNeuronPathLocked(dir, label string) (string, error) {
	for {
		p, err := s.resolver.Resolve(KindNeuron, dir, label)
		if err != nil {
			return "", err
		}
		ok, err := s.files.exists(p)
		if err != nil {
			return "", err
		}
		if !ok {
			return p, nil
		}
		if label != "" {
			return "", fmt.Errorf("%w: %s", ErrPathAlreadyExists, p)
		}
		s.log.Debug("skipping taken neuron id", zap.String("path", p))
	}
}

// targetLocked returns the indexed instance of an edge target whose file
// still exists.
func (s *Store) targetLocked(target *Neuron) (*Neuron, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: invalid handle", ErrNoSuchTarget)
	}
	ok, err := s.files.exists(target.path)
	if err != nil {
		return nil, err
	}
	if !ok {
		delete(s.neurons, target.path)
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTarget, target.path)
	}
	n, err := s.loadNeuron(target.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSuchTarget, err)
	}
	return n, nil
}

// Neuron loads the neuron stored at the root-relative path p. A missing file
// fails with ErrNotFound.
func (s *Store) Neuron(p string) (*Neuron, error) {
	if err := validateRecordPath(p, NeuronExt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	release, err := s.shared()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.loadNeuron(p)
}

// NeuronAt loads the neuron named name (morpheme or ID) filed under c.
func (s *Store) NeuronAt(c *Category, name string) (*Neuron, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return s.Neuron(categoryDir(c) + "/" + name + NeuronExt)
}

// CategoryOf returns the category n is filed under, or nil.
func (s *Store) CategoryOf(n *Neuron) (*Category, error) {
	if n.category == "" {
		return nil, nil
	}
	return s.ParseCategory(n.category)
}

// Emotion resolves n's emotion tag through the vocabulary. ok is false when
// n carries no tag.
func (s *Store) Emotion(n *Neuron) (h emotion.Handle, ok bool, err error) {
	tag, ok := n.EmotionTag()
	if !ok {
		return emotion.Handle{}, false, nil
	}
	if s.vocab == nil {
		return emotion.Handle{}, true, fmt.Errorf("%w: no vocabulary configured", emotion.ErrUnknownEmotion)
	}
	h, err = s.vocab.Lookup(tag)
	return h, true, err
}

// Relocate files n under newCategory (nil for the neuron root).
//
// The move detaches n from the old category, deletes the old file, attaches
// n to the new category and writes the record under the new path. Pathways
// that target n, its own included, are then pointed at the new path, so
// every edge that resolved before the move still resolves after it. The file
// keeps its base name. A failure rolls the completed steps back and returns
// an error matching ErrRelocateFailed; the intent journal lets ScanAndRepair
// finish a move interrupted by a crash. Relocating into the current category
// is a no-op.
func (s *Store) Relocate(n *Neuron, newCategory *Category) error {
	release, err := s.exclusive()
	if err != nil {
		return err
	}
	defer release()

	n, err = s.ownNeuron(n)
	if err != nil {
		return err
	}

	newCatPath := ""
	if newCategory != nil {
		newCategory, err = s.ownCategory(newCategory)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRelocateFailed, err)
		}
		newCatPath = newCategory.path
	}
	if n.category == newCatPath {
		return nil
	}

	oldPath, oldCatPath := n.path, n.category
	newPath := categoryDir(newCategory) + "/" + path.Base(oldPath)
	if ok, err := s.files.exists(newPath); err != nil {
		return fmt.Errorf("%w: %w", ErrRelocateFailed, err)
	} else if ok {
		return fmt.Errorf("%w: %w: %s", ErrRelocateFailed, ErrPathAlreadyExists, newPath)
	}

	moved := *n
	moved.path, moved.category = newPath, newCatPath
	record, err := EncodeNeuron(&moved)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRelocateFailed, err)
	}
	oldRecord, err := EncodeNeuron(n)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRelocateFailed, err)
	}

	var oldCat *Category
	if oldCatPath != "" {
		oldCat, err = s.loadCategory(oldCatPath)
		if err != nil && !errors.Is(err, ErrCategoryNotFound) {
			return fmt.Errorf("%w: %w", ErrRelocateFailed, err)
		}
	}

	inbound, err := s.inboundPathwaysLocked(oldPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRelocateFailed, err)
	}
	retargeted := make([]string, 0, len(inbound))
	for _, pw := range inbound {
		retargeted = append(retargeted, pw.path)
	}

	intent := &journal.Intent{
		Op:          journal.OpRelocate,
		Neuron:      oldPath,
		OldPath:     oldPath,
		NewPath:     newPath,
		OldCategory: oldCatPath,
		NewCategory: newCatPath,
		Retargeted:  retargeted,
		Record:      record,
	}
	if err := s.beginIntent(intent); err != nil {
		return fmt.Errorf("%w: %w", ErrRelocateFailed, err)
	}

	var undo []func() error
	fail := func(cause error) error {
		var errs []error
		for _, u := range slices.Backward(undo) {
			if err := u(); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			s.log.Warn("relocate rollback incomplete",
				zap.String("from", oldPath), zap.String("to", newPath), zap.Errors("errors", errs))
			return fmt.Errorf("%w: %w", ErrRelocateFailed, errors.Join(append([]error{cause}, errs...)...))
		}
		s.commitIntent(intent)
		return fmt.Errorf("%w: %w", ErrRelocateFailed, cause)
	}

	// (a) detach from the old category
	if oldCat != nil && slices.Contains(oldCat.children, oldPath) {
		if err := s.removeChildLocked(oldCat, oldPath); err != nil {
			return fail(err)
		}
		undo = append(undo, func() error { return s.addChildLocked(oldCat, oldPath) })
	}

	// (b) delete the old file
	if err := s.files.remove(oldPath); err != nil {
		return fail(err)
	}
	undo = append(undo, func() error { return s.files.replace(oldPath, oldRecord) })

	// (c) attach to the new category
	if newCategory != nil {
		if err := s.addChildLocked(newCategory, newPath); err != nil {
			return fail(err)
		}
		undo = append(undo, func() error { return s.removeChildLocked(newCategory, newPath) })
	}

	// (d) persist under the new path
	if err := s.files.create(newPath, record); err != nil {
		return fail(err)
	}
	undo = append(undo, func() error { return s.files.remove(newPath) })

	// (e) follow the move with every inbound pathway
	for _, pw := range inbound {
		if err := s.retargetLocked(pw, newPath); err != nil {
			return fail(err)
		}
		undo = append(undo, func() error { return s.retargetLocked(pw, oldPath) })
	}

	delete(s.neurons, oldPath)
	n.path, n.category = newPath, newCatPath
	s.neurons[newPath] = n
	s.commitIntent(intent)

	s.log.Debug("relocated neuron",
		zap.String("from", oldPath), zap.String("to", newPath), zap.Int("retargeted", len(inbound)))
	return nil
}

// AddEdge creates a pathway from src to target and appends it to src's
// outgoing edges. A target without a readable file fails with
// ErrNoSuchTarget.
func (s *Store) AddEdge(src, target *Neuron) (*Pathway, error) {
	release, err := s.exclusive()
	if err != nil {
		return nil, err
	}
	defer release()

	src, err = s.ownNeuron(src)
	if err != nil {
		return nil, err
	}
	target, err = s.targetLocked(target)
	if err != nil {
		return nil, err
	}

	pw, err := s.newPathwayLocked(target.path)
	if err != nil {
		return nil, err
	}
	if err := s.writePathwayLocked(pw, nil); err != nil {
		return nil, err
	}

	src.edges = append(src.edges, pw.path)
	if err := s.saveNeuron(src); err != nil {
		src.edges = src.edges[:len(src.edges)-1]
		delete(s.pathways, pw.path)
		return nil, errors.Join(err, s.files.remove(pw.path))
	}
	return pw, nil
}

// RemoveEdge drops the first outgoing pathway of src that targets target,
// persists src and deletes the pathway file. It is a no-op when no pathway
// matches. target may be a destroyed handle.
func (s *Store) RemoveEdge(src, target *Neuron) error {
	if target == nil || target.path == "" {
		return nil
	}
	return s.RemoveEdgeTo(src, target.path)
}

// RemoveEdgeTo is RemoveEdge for a target known only by its storage path,
// which need not exist any more.
func (s *Store) RemoveEdgeTo(src *Neuron, targetPath string) error {
	release, err := s.exclusive()
	if err != nil {
		return err
	}
	defer release()

	src, err = s.ownNeuron(src)
	if err != nil {
		return err
	}

	for i, ep := range src.edges {
		pw, err := s.loadPathway(ep)
		if err != nil {
			// Dangling or unreadable entries are repair's business.
			continue
		}
		if pw.target != targetPath {
			continue
		}
		prev := slices.Clone(src.edges)
		src.edges = slices.Delete(src.edges, i, i+1)
		if err := s.saveNeuron(src); err != nil {
			src.edges = prev
			return err
		}
		delete(s.pathways, ep)
		if err := s.files.remove(ep); err != nil {
			return fmt.Errorf("edge dropped but pathway file kept: %w", err)
		}
		return nil
	}
	return nil
}

// EdgesWithin yields the targets of n's outgoing pathways that are stored
// under c's directory (at any depth), in edge order. Broken or unreadable
// pathways are yielded as errors.
func (s *Store) EdgesWithin(n *Neuron, c *Category) iter.Seq2[*Neuron, error] {
	return func(yield func(*Neuron, error) bool) {
		release, err := s.shared()
		if err != nil {
			yield(nil, err)
			return
		}
		edges, dir := n.Edges(), categoryDir(c)
		release()

		for _, ep := range edges {
			pw, err := s.Pathway(ep)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !isUnder(pw.target, dir) {
				continue
			}
			if !yield(s.ResolveTarget(pw)) {
				return
			}
		}
	}
}

// Destroy deletes n's file together with its own outgoing pathways and its
// category membership, then invalidates the handle.
//
// Pathways held by other neurons that target n are NOT touched; they stay
// broken until ScanAndRepair removes them.
func (s *Store) Destroy(n *Neuron) error {
	release, err := s.exclusive()
	if err != nil {
		return err
	}
	defer release()

	handle := n
	n, err = s.ownNeuron(n)
	if err != nil {
		return err
	}

	intent := &journal.Intent{
		Op:      journal.OpDestroy,
		Neuron:  n.path,
		Written: slices.Clone(n.edges),
	}
	if err := s.beginIntent(intent); err != nil {
		return err
	}

	// Until the file is gone the destroy is abandoned, not rolled forward.
	var detached *Category
	abort := func(cause error) error {
		if detached != nil {
			if err := s.addChildLocked(detached, n.path); err != nil {
				s.log.Warn("destroy rollback incomplete", zap.String("path", n.path), zap.Error(err))
				cause = errors.Join(cause, err)
			}
		}
		s.commitIntent(intent)
		return cause
	}

	if n.category != "" {
		cat, err := s.loadCategory(n.category)
		switch {
		case err == nil:
			if slices.Contains(cat.children, n.path) {
				if err := s.removeChildLocked(cat, n.path); err != nil {
					return abort(err)
				}
				detached = cat
			}
		case !errors.Is(err, ErrCategoryNotFound):
			return abort(err)
		}
	}

	if err := s.files.remove(n.path); err != nil {
		return abort(err)
	}
	delete(s.neurons, n.path)
	n.destroyed = true
	handle.destroyed = true

	var errs []error
	for _, ep := range n.edges {
		delete(s.pathways, ep)
		if err := s.files.remove(ep); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("neuron destroyed, pathways left behind: %w", errors.Join(errs...))
	}
	s.commitIntent(intent)

	s.log.Debug("destroyed neuron", zap.String("path", n.path))
	return nil
}
