package storage

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/orneryd/mindstore/pkg/journal"
)

// newPathwayLocked allocates a pathway path. Nothing is written yet.
func (s *Store) newPathwayLocked(target string) (*Pathway, error) {
	p, err := s.resolver.Resolve(KindPathway, PathwayRoot, "")
	if err != nil {
		return nil, err
	}
	return &Pathway{path: p, target: target, weight: DefaultWeight}, nil
}

// writePathwayLocked creates the pathway file, recording it in intent first
// when one is given.
func (s *Store) writePathwayLocked(pw *Pathway, intent *journal.Intent) error {
	data, err := EncodePathway(pw)
	if err != nil {
		return err
	}
	if intent != nil {
		intent.Written = append(intent.Written, pw.path)
		if err := s.updateIntent(intent); err != nil {
			return err
		}
	}
	if err := s.files.create(pw.path, data); err != nil {
		if intent != nil {
			intent.Written = intent.Written[:len(intent.Written)-1]
		}
		return err
	}
	s.pathways[pw.path] = pw
	return nil
}

// inboundPathwaysLocked returns every readable pathway whose target is p, in
// path order. Unreadable pathway files are left for ScanAndRepair.
func (s *Store) inboundPathwaysLocked(p string) ([]*Pathway, error) {
	edgeFiles, err := s.recordFiles(PathwayRoot, PathwayExt, false)
	if err != nil {
		return nil, err
	}
	var inbound []*Pathway
	for _, ep := range edgeFiles {
		pw, err := s.loadPathway(ep)
		if err != nil {
			s.log.Warn("skipping unreadable pathway", zap.String("path", ep), zap.Error(err))
			continue
		}
		if pw.target == p {
			inbound = append(inbound, pw)
		}
	}
	return inbound, nil
}

// retargetLocked points pw at target and persists it. The pathway keeps its
// path and weight.
func (s *Store) retargetLocked(pw *Pathway, target string) error {
	prev := pw.target
	pw.target = target
	if err := s.savePathway(pw); err != nil {
		pw.target = prev
		return err
	}
	return nil
}

// Pathway loads the pathway stored at p. A missing file fails with
// ErrNotFound.
func (s *Store) Pathway(p string) (*Pathway, error) {
	if err := validateRecordPath(p, PathwayExt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	release, err := s.shared()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.loadPathway(p)
}

// Pathways loads every outgoing pathway of n in edge order.
func (s *Store) Pathways(n *Neuron) ([]*Pathway, error) {
	release, err := s.shared()
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([]*Pathway, 0, len(n.edges))
	for _, ep := range n.edges {
		pw, err := s.loadPathway(ep)
		if err != nil {
			return nil, err
		}
		out = append(out, pw)
	}
	return out, nil
}

// IncreaseWeight strengthens p by WeightStep and persists it.
func (s *Store) IncreaseWeight(p *Pathway) error {
	return s.adjustWeight(p, (*Pathway).increase)
}

// DecreaseWeight weakens p by WeightStep and persists it. The weight never
// drops below WeightStep.
func (s *Store) DecreaseWeight(p *Pathway) error {
	return s.adjustWeight(p, (*Pathway).decrease)
}

func (s *Store) adjustWeight(p *Pathway, adjust func(*Pathway)) error {
	release, err := s.exclusive()
	if err != nil {
		return err
	}
	defer release()

	own, err := s.ownPathway(p)
	if err != nil {
		return err
	}
	prev := own.weight
	adjust(own)
	if err := s.savePathway(own); err != nil {
		own.weight = prev
		return err
	}
	if p != own {
		p.weight = own.weight
	}
	return nil
}

// ResolveTarget loads the neuron p points at. A missing target fails with
// ErrBrokenEdge.
func (s *Store) ResolveTarget(p *Pathway) (*Neuron, error) {
	release, err := s.shared()
	if err != nil {
		return nil, err
	}
	defer release()

	ok, err := s.files.exists(p.target)
	if err != nil {
		return nil, err
	}
	if !ok {
		delete(s.neurons, p.target)
		return nil, fmt.Errorf("%w: %s -> %s", ErrBrokenEdge, p.path, p.target)
	}
	n, err := s.loadNeuron(p.target)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBrokenEdge, p.path, p.target)
	}
	return n, err
}

// ComparePathways orders pathways by ascending weight, then by path.
func ComparePathways(a, b *Pathway) int {
	if c := cmp.Compare(a.weight, b.weight); c != 0 {
		return c
	}
	return cmp.Compare(a.path, b.path)
}

// SortByWeight sorts ps in place by ascending weight.
func SortByWeight(ps []*Pathway) {
	slices.SortFunc(ps, ComparePathways)
}
