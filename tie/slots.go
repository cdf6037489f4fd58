package tie

import (
	"github.com/sbl8/ligature/param"
)

// slotParamName is the name of the canonical slot parameter linked into the
// host tree.
const slotParamName = "tied"

// expandSlots allocates n new canonical slots with fresh sequential labels
// strictly greater than the current maximum (starting at 1 when the store is
// empty). Existing slot values, labels and constraints are carried over into
// new backing storage and the store is relinked into the tree. Returns the
// new labels and their positions within the store. Callers must rebuild the
// label buffer before relying on it again.
func (t *Ties) expandSlots(n int) ([]uint32, []int, error) {
	if n <= 0 {
		return nil, nil, nil
	}
	var start uint32 = 1
	oldSize := 0
	var oldVals []float64
	var oldLabels []uint32
	var oldCons []*param.Constraint
	if t.slots != nil {
		oldSize = t.slots.Size()
		oldVals = append([]float64(nil), t.slots.Values()...)
		oldLabels = append([]uint32(nil), t.slots.Tie...)
		oldCons = t.cons
		for _, l := range oldLabels {
			if l >= start {
				start = l + 1
			}
		}
		if err := t.tree.Unlink(t.slots); err != nil {
			return nil, nil, err
		}
	}
	vals := make([]float64, oldSize+n)
	copy(vals, oldVals)
	next := param.NewParam(slotParamName, vals...)
	copy(next.Tie, oldLabels)
	labels := make([]uint32, n)
	idx := make([]int, n)
	for i := 0; i < n; i++ {
		labels[i] = start + uint32(i)
		next.Tie[oldSize+i] = labels[i]
		idx[i] = oldSize + i
	}
	if err := t.tree.Link(next); err != nil {
		return nil, nil, err
	}
	t.slots = next
	cons := make([]*param.Constraint, oldSize+n)
	copy(cons, oldCons)
	t.cons = cons
	return labels, idx, nil
}

// removeSlots deletes the canonical slots matching the given labels. When
// nothing remains the store is unlinked entirely; otherwise surviving slots
// are compacted into fresh backing storage, preserving order, and relinked.
// Callers must rebuild the label buffer afterwards.
func (t *Ties) removeSlots(labels []uint32) error {
	if t.slots == nil || len(labels) == 0 {
		return nil
	}
	doomed := make(map[uint32]bool, len(labels))
	for _, l := range labels {
		doomed[l] = true
	}
	var keepVals []float64
	var keepLabels []uint32
	var keepCons []*param.Constraint
	for i, l := range t.slots.Tie {
		if doomed[l] {
			continue
		}
		keepVals = append(keepVals, t.slots.Values()[i])
		keepLabels = append(keepLabels, l)
		keepCons = append(keepCons, t.cons[i])
	}
	if err := t.tree.Unlink(t.slots); err != nil {
		return err
	}
	if len(keepLabels) == 0 {
		t.slots = nil
		t.cons = nil
		return nil
	}
	next := param.NewParam(slotParamName, keepVals...)
	copy(next.Tie, keepLabels)
	if err := t.tree.Link(next); err != nil {
		return err
	}
	t.slots = next
	t.cons = keepCons
	return nil
}

// slotIndex returns the store position of the slot carrying the given label.
func (t *Ties) slotIndex(label uint32) (int, bool) {
	if t.slots == nil || label == 0 {
		return 0, false
	}
	for i, l := range t.slots.Tie {
		if l == label {
			return i, true
		}
	}
	return 0, false
}

// groupConstraint returns the shared constraint of a group, nil when the
// group is unconstrained or unknown.
func (t *Ties) groupConstraint(label uint32) *param.Constraint {
	if i, ok := t.slotIndex(label); ok {
		return t.cons[i]
	}
	return nil
}

// setGroupConstraint records the shared constraint of a group.
func (t *Ties) setGroupConstraint(label uint32, c *param.Constraint) {
	if i, ok := t.slotIndex(label); ok {
		t.cons[i] = c
	}
}

// Slots returns the canonical slot parameter linked into the host tree, or
// nil when no groups exist. Hosts use it to tell slots apart from genuine
// leaves, e.g. when persisting.
func (t *Ties) Slots() *param.Param { return t.slots }

// GroupCount returns the number of active tie groups.
func (t *Ties) GroupCount() int {
	if t.slots == nil {
		return 0
	}
	return t.slots.Size()
}

// GroupLabels returns the active group labels in store order.
func (t *Ties) GroupLabels() []uint32 {
	if t.slots == nil {
		return nil
	}
	return append([]uint32(nil), t.slots.Tie...)
}

// LabelBuffer returns a copy of the label buffer, aligned to the tree's
// flattened parameter vector. Nil when no groups exist.
func (t *Ties) LabelBuffer() []uint32 {
	if t.labelBuf == nil {
		return nil
	}
	return append([]uint32(nil), t.labelBuf...)
}

// GroupConstraint returns the shared constraint of the given group.
func (t *Ties) GroupConstraint(label uint32) (param.Constraint, bool) {
	if c := t.groupConstraint(label); c != nil {
		return *c, true
	}
	return param.Constraint{}, false
}

// Members returns the raw positions belonging to a group within the tree's
// flattened vector, the canonical slot position excluded.
func (t *Ties) Members(label uint32) []int {
	if label == 0 || t.labelBuf == nil {
		return nil
	}
	slotPos := make(map[int]bool, len(t.bufIdx))
	for _, i := range t.bufIdx {
		slotPos[i] = true
	}
	var out []int
	for j, l := range t.labelBuf {
		if l == label && !slotPos[j] {
			out = append(out, j)
		}
	}
	return out
}
