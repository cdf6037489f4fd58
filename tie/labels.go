package tie

import (
	"fmt"
	"sort"

	"github.com/sbl8/ligature/param"
)

// labelsOf returns the distinct positive labels currently touching the given
// items, in ascending order.
func (t *Ties) labelsOf(items []param.Item) []uint32 {
	set := make(map[uint32]bool)
	for _, it := range items {
		it.Each(func(p *param.Param) {
			for _, l := range p.Tie {
				if l > 0 {
					set[l] = true
				}
			}
		})
	}
	labels := make([]uint32, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

// assignLabels broadcasts a single label to every scalar of every item, or,
// given one label per scalar, assigns them positionally to each item in
// traversal order.
func (t *Ties) assignLabels(items []param.Item, labels []uint32) error {
	if len(labels) == 1 {
		for _, it := range items {
			it.Each(func(p *param.Param) {
				for i := range p.Tie {
					p.Tie[i] = labels[0]
				}
			})
		}
		return nil
	}
	for _, it := range items {
		if it.Size() != len(labels) {
			return fmt.Errorf("tie: label vector has %d entries, item needs %d", len(labels), it.Size())
		}
		off := 0
		it.Each(func(p *param.Param) {
			copy(p.Tie, labels[off:off+p.Size()])
			off += p.Size()
		})
	}
	return nil
}

// replaceLabels rewrites every occurrence of the map's keys throughout the
// whole tree, canonical slots included.
func (t *Ties) replaceLabels(pairs map[uint32]uint32) {
	if len(pairs) == 0 {
		return
	}
	t.tree.Each(func(p *param.Param) {
		for i, l := range p.Tie {
			if nl, ok := pairs[l]; ok {
				p.Tie[i] = nl
			}
		}
	})
}

// mergeLabels unifies a list of labels into the first one: the redundant
// canonical slots are removed and every occurrence of the removed labels is
// rewritten to the survivor.
func (t *Ties) mergeLabels(labels []uint32) error {
	if len(labels) < 2 {
		return nil
	}
	if err := t.removeSlots(labels[1:]); err != nil {
		return err
	}
	pairs := make(map[uint32]uint32, len(labels)-1)
	for _, l := range labels[1:] {
		pairs[l] = labels[0]
	}
	t.replaceLabels(pairs)
	return nil
}

// mergeLabelPairs merges each src label into its positionally matching dst
// label, one pair at a time in scheduling order, so earlier rewrites are
// visible to later pairs: a pair whose dst or src was already merged away is
// carried on to that label's survivor. Returns the fully resolved src-to-
// survivor mapping. Used by vector ties, where several pairs are scheduled
// at once.
func (t *Ties) mergeLabelPairs(dst, src []uint32) (map[uint32]uint32, error) {
	if len(src) == 0 {
		return nil, nil
	}
	resolved := make(map[uint32]uint32, len(src))
	for i := range src {
		s, d := src[i], dst[i]
		if nl, ok := resolved[s]; ok {
			s = nl
		}
		if nl, ok := resolved[d]; ok {
			d = nl
		}
		if s == d {
			continue
		}
		if err := t.removeSlots([]uint32{s}); err != nil {
			return nil, err
		}
		t.replaceLabels(map[uint32]uint32{s: d})
		for k, v := range resolved {
			if v == s {
				resolved[k] = d
			}
		}
		resolved[s] = d
	}
	return resolved, nil
}

// pruneUnnecessary removes every group that has fewer than two genuine leaf
// members left: the count over the label buffer includes the canonical slot
// position itself, so a viable group occupies at least three positions.
// The label buffer must be current (rebuild before calling).
func (t *Ties) pruneUnnecessary() error {
	if t.slots == nil {
		return nil
	}
	counts := make(map[uint32]int)
	for _, l := range t.labelBuf {
		if l > 0 {
			counts[l]++
		}
	}
	var doomed []uint32
	for _, l := range t.slots.Tie {
		if counts[l] <= 2 {
			doomed = append(doomed, l)
		}
	}
	if len(doomed) == 0 {
		return nil
	}
	if err := t.removeSlots(doomed); err != nil {
		return err
	}
	pairs := make(map[uint32]uint32, len(doomed))
	for _, l := range doomed {
		pairs[l] = 0
	}
	t.replaceLabels(pairs)
	return nil
}

// rebuild recomputes the label buffer, the buffer index and the untie mask
// by walking the tree and reading each leaf's labels. It must run after any
// structural change (expand, remove, merge, split) before the buffer is
// trusted again.
func (t *Ties) rebuild() error {
	if t.slots == nil {
		t.labelBuf, t.bufIdx, t.untie = nil, nil, nil
		return nil
	}
	buf := make([]uint32, t.tree.Size())
	var walkErr error
	t.tree.Each(func(p *param.Param) {
		off, err := t.tree.RaveledIndex(p)
		if err != nil {
			if walkErr == nil {
				walkErr = err
			}
			return
		}
		copy(buf[off:off+p.Size()], p.Tie)
	})
	if walkErr != nil {
		return walkErr
	}
	off, err := t.tree.RaveledIndex(t.slots)
	if err != nil {
		return err
	}
	idx := make([]int, t.slots.Size())
	for i := range idx {
		idx[i] = off + i
	}
	untie := make([]bool, len(buf))
	for i, l := range buf {
		untie[i] = l == 0
	}
	for _, i := range idx {
		untie[i] = true
	}
	for _, l := range t.slots.Tie {
		if l == 0 {
			return fmt.Errorf("tie: canonical slot with zero label in tree %q", t.tree.Name)
		}
	}
	t.labelBuf, t.bufIdx, t.untie = buf, idx, untie
	return nil
}

// flattenLabels returns the per-scalar labels of an item in traversal order.
func flattenLabels(it param.Item) []uint32 {
	out := make([]uint32, 0, it.Size())
	it.Each(func(p *param.Param) { out = append(out, p.Tie...) })
	return out
}

// flattenValues returns the per-scalar values of an item in traversal order.
func flattenValues(it param.Item) []float64 {
	out := make([]float64, 0, it.Size())
	it.Each(func(p *param.Param) { out = append(out, p.Values()...) })
	return out
}

// flattenConstraints expands an item's per-leaf constraints to one entry per
// scalar, nil where the leaf is unconstrained.
func flattenConstraints(it param.Item) []*param.Constraint {
	out := make([]*param.Constraint, 0, it.Size())
	it.Each(func(p *param.Param) {
		var c *param.Constraint
		if con, ok := p.Constrained(); ok {
			cc := con
			c = &cc
		}
		for i := 0; i < p.Size(); i++ {
			out = append(out, c)
		}
	})
	return out
}

// writeValues copies vals positionally into an item's scalars.
func writeValues(it param.Item, vals []float64) {
	off := 0
	it.Each(func(p *param.Param) {
		copy(p.Values(), vals[off:off+p.Size()])
		off += p.Size()
	})
}
