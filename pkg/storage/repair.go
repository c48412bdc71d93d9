package storage

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/orneryd/mindstore/pkg/journal"
)

// RepairReport lists what ScanAndRepair changed. Paths are root-relative.
type RepairReport struct {
	// ReplayedIntents are unfinished operations found in the journal,
	// formatted as "<op> <neuron>".
	ReplayedIntents []string
	// EdgesScanned counts the pathway files examined.
	EdgesScanned int
	// BrokenEdges are pathways whose target no longer exists. Each was
	// removed from its owner and deleted.
	BrokenEdges []string
	// DanglingRefs are outgoing edge entries whose pathway file is gone.
	DanglingRefs []string
	// OrphanEdges are pathway files no neuron references. They were deleted.
	OrphanEdges []string
	// StaleChildren are category entries ("<category> <neuron>") naming a
	// neuron that is gone or filed elsewhere.
	StaleChildren []string
	// Reregistered are neurons added back to their category's child list.
	Reregistered []string
	// Unreadable records were skipped and left untouched.
	Unreadable []string
}

// Repaired returns the number of fixes applied.
func (r *RepairReport) Repaired() int {
	return len(r.ReplayedIntents) + len(r.BrokenEdges) + len(r.DanglingRefs) +
		len(r.OrphanEdges) + len(r.StaleChildren) + len(r.Reregistered)
}

// ScanAndRepair restores referential integrity across the whole store.
//
// It first settles operations the journal still lists as in flight, then
// sweeps every record:
//   - every pathway file is resolved; a broken one is removed from its
//     owner's edge list and deleted, an unowned one is deleted
//   - edge entries naming a missing pathway file are dropped
//   - category child lists lose neurons that are gone or filed elsewhere and
//     regain neurons that name the category but are missing from it
//
// Records that cannot be decoded are reported and left alone; while any
// neuron is unreadable, unowned pathways are kept because that neuron may
// own them. Running ScanAndRepair twice in a row reports nothing the second
// time.
func (s *Store) ScanAndRepair() (*RepairReport, error) {
	release, err := s.exclusive()
	if err != nil {
		return nil, err
	}
	defer release()

	report := &RepairReport{}
	if err := s.replayIntents(report); err != nil {
		return report, err
	}
	s.pruneIndex()

	neuronPaths, err := s.neuronFiles(NeuronRoot, true)
	if err != nil {
		return report, err
	}
	var (
		neurons     []*Neuron
		byPath      = make(map[string]*Neuron, len(neuronPaths))
		owners      = make(map[string]*Neuron)
		unreadable  = make(map[string]bool)
		dirtyNeuron = make(map[*Neuron]bool)
	)
	for _, p := range neuronPaths {
		n, err := s.loadNeuron(p)
		if err != nil {
			s.log.Warn("skipping unreadable neuron", zap.String("path", p), zap.Error(err))
			report.Unreadable = append(report.Unreadable, p)
			unreadable[p] = true
			continue
		}
		neurons = append(neurons, n)
		byPath[p] = n
		for _, ep := range n.edges {
			owners[ep] = n
		}
	}

	edgeFiles, err := s.recordFiles(PathwayRoot, PathwayExt, false)
	if err != nil {
		return report, err
	}
	for _, ep := range edgeFiles {
		report.EdgesScanned++
		pw, err := s.loadPathway(ep)
		if err != nil {
			s.log.Warn("skipping unreadable pathway", zap.String("path", ep), zap.Error(err))
			report.Unreadable = append(report.Unreadable, ep)
			continue
		}

		owner, owned := owners[ep]
		if !owned {
			if len(unreadable) > 0 {
				continue
			}
			if err := s.dropPathway(ep); err != nil {
				return report, err
			}
			report.OrphanEdges = append(report.OrphanEdges, ep)
			continue
		}

		ok, err := s.files.exists(pw.target)
		if err != nil {
			return report, err
		}
		if ok {
			continue
		}
		owner.edges = slices.DeleteFunc(owner.edges, func(p string) bool { return p == ep })
		dirtyNeuron[owner] = true
		if err := s.dropPathway(ep); err != nil {
			return report, err
		}
		report.BrokenEdges = append(report.BrokenEdges, ep)
	}

	for _, n := range neurons {
		var dropErr error
		n.edges = slices.DeleteFunc(n.edges, func(ep string) bool {
			ok, err := s.files.exists(ep)
			if err != nil {
				dropErr = err
				return false
			}
			if !ok {
				delete(s.pathways, ep)
				report.DanglingRefs = append(report.DanglingRefs, n.path+" "+ep)
				dirtyNeuron[n] = true
			}
			return !ok
		})
		if dropErr != nil {
			return report, dropErr
		}
	}

	for _, n := range neurons {
		if !dirtyNeuron[n] {
			continue
		}
		if err := s.saveNeuron(n); err != nil {
			return report, err
		}
	}

	if err := s.repairCategories(neurons, byPath, unreadable, report); err != nil {
		return report, err
	}

	s.log.Info("repair finished",
		zap.Int("edges_scanned", report.EdgesScanned),
		zap.Int("repaired", report.Repaired()),
		zap.Int("unreadable", len(report.Unreadable)))
	return report, nil
}

func (s *Store) repairCategories(neurons []*Neuron, byPath map[string]*Neuron, unreadable map[string]bool, report *RepairReport) error {
	catPaths, err := s.recordFiles(NeuronRoot, CategoryExt, true)
	if err != nil {
		return err
	}
	cats := make(map[string]*Category, len(catPaths))
	dirty := make(map[*Category]bool)

	for _, cp := range catPaths {
		c, err := s.loadCategory(cp)
		if err != nil {
			s.log.Warn("skipping unreadable category", zap.String("path", cp), zap.Error(err))
			report.Unreadable = append(report.Unreadable, cp)
			continue
		}
		cats[cp] = c
		c.children = slices.DeleteFunc(c.children, func(child string) bool {
			if unreadable[child] {
				return false
			}
			n, ok := byPath[child]
			if ok && n.category == cp {
				return false
			}
			report.StaleChildren = append(report.StaleChildren, cp+" "+child)
			dirty[c] = true
			return true
		})
	}

	for _, n := range neurons {
		c, ok := cats[n.category]
		if !ok || slices.Contains(c.children, n.path) {
			continue
		}
		c.children = append(c.children, n.path)
		report.Reregistered = append(report.Reregistered, n.path)
		dirty[c] = true
	}

	for _, cp := range catPaths {
		c := cats[cp]
		if c == nil || !dirty[c] {
			continue
		}
		if err := s.saveCategory(c); err != nil {
			return err
		}
	}
	return nil
}

// pruneIndex forgets indexed records whose files have disappeared.
func (s *Store) pruneIndex() {
	for p, n := range s.neurons {
		if ok, err := s.files.exists(p); err == nil && !ok {
			n.destroyed = true
			delete(s.neurons, p)
		}
	}
	for p := range s.pathways {
		if ok, err := s.files.exists(p); err == nil && !ok {
			delete(s.pathways, p)
		}
	}
	for p := range s.categories {
		if ok, err := s.files.exists(p); err == nil && !ok {
			delete(s.categories, p)
		}
	}
}

func (s *Store) dropPathway(p string) error {
	delete(s.pathways, p)
	return s.files.remove(p)
}

// ============================================================================
// Journal replay
// ============================================================================

func (s *Store) replayIntents(report *RepairReport) error {
	if s.journal == nil {
		return nil
	}
	pending, err := s.journal.Pending()
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	for _, in := range pending {
		var err error
		switch in.Op {
		case journal.OpCreate:
			err = s.replayCreate(in)
		case journal.OpRelocate:
			err = s.replayRelocate(in)
		case journal.OpDestroy:
			err = s.replayDestroy(in)
		default:
			s.log.Warn("dropping unknown intent", zap.String("op", string(in.Op)), zap.String("id", in.ID))
		}
		if err != nil {
			return fmt.Errorf("replaying %s of %s: %w", in.Op, in.Neuron, err)
		}
		s.commitIntent(in)
		report.ReplayedIntents = append(report.ReplayedIntents, string(in.Op)+" "+in.Neuron)
		s.log.Info("replayed intent", zap.String("op", string(in.Op)), zap.String("neuron", in.Neuron))
	}
	return nil
}

// replayCreate keeps a create that reached its last step and removes the
// files of one that did not.
func (s *Store) replayCreate(in *journal.Intent) error {
	complete, err := s.createComplete(in.Neuron)
	if err != nil {
		return err
	}
	if complete {
		return nil
	}
	for _, w := range slices.Backward(in.Written) {
		if err := s.files.remove(w); err != nil {
			return err
		}
		delete(s.pathways, w)
		if n, ok := s.neurons[w]; ok {
			n.destroyed = true
			delete(s.neurons, w)
		}
	}
	return nil
}

func (s *Store) createComplete(p string) (bool, error) {
	data, err := s.files.read(p)
	if err != nil {
		return false, nil
	}
	n, err := DecodeNeuron(data)
	if err != nil {
		return false, nil
	}
	for _, ep := range n.edges {
		if ok, err := s.files.exists(ep); err != nil || !ok {
			return false, err
		}
	}
	if n.category == "" {
		return true, nil
	}
	c, err := s.loadCategory(n.category)
	if errors.Is(err, ErrCategoryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return slices.Contains(c.children, p), nil
}

// replayRelocate finishes a move whose old file is already gone, including
// the inbound pathways still naming the old path, and abandons one that never
// got that far.
func (s *Store) replayRelocate(in *journal.Intent) error {
	oldExists, err := s.files.exists(in.OldPath)
	if err != nil {
		return err
	}
	newExists, err := s.files.exists(in.NewPath)
	if err != nil {
		return err
	}
	if oldExists && !newExists {
		return nil
	}
	if len(in.Record) == 0 {
		return fmt.Errorf("relocate intent %s carries no record", in.ID)
	}
	moved, err := DecodeNeuron(in.Record)
	if err != nil {
		return err
	}

	if !newExists {
		if err := s.files.create(in.NewPath, in.Record); err != nil && !errors.Is(err, ErrPathAlreadyExists) {
			return err
		}
	}
	if err := s.files.remove(in.OldPath); err != nil {
		return err
	}
	if n, ok := s.neurons[in.OldPath]; ok {
		delete(s.neurons, in.OldPath)
		n.path, n.category = moved.path, moved.category
		s.neurons[moved.path] = n
	}
	for _, ep := range in.Retargeted {
		pw, err := s.loadPathway(ep)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if pw.target != in.OldPath {
			continue
		}
		if err := s.retargetLocked(pw, in.NewPath); err != nil {
			return err
		}
	}
	return nil
}

// replayDestroy finishes a destroy.
func (s *Store) replayDestroy(in *journal.Intent) error {
	if err := s.files.remove(in.Neuron); err != nil {
		return err
	}
	if n, ok := s.neurons[in.Neuron]; ok {
		n.destroyed = true
		delete(s.neurons, in.Neuron)
	}
	for _, ep := range in.Written {
		if err := s.dropPathway(ep); err != nil {
			return err
		}
	}
	return nil
}
