package tie

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/sbl8/ligature/param"
)

// observerPriority places the engine's change handler after ordinary
// recomputation on the host tree.
const observerPriority = -500

// Ties is the tying engine for one parameter tree. It exclusively owns the
// label buffer, the buffer index and the canonical slot store; it reads and
// writes the tree's shared value and gradient arenas but does not own them.
type Ties struct {
	tree  *param.Tree
	slots *param.Param        // canonical slot store, nil while no groups exist
	cons  []*param.Constraint // shared constraint per slot, parallel to slots

	labelBuf []uint32 // group label per flattened position, 0 = untied
	bufIdx   []int    // flattened positions occupied by the slot store
	untie    []bool   // true where untied or occupied by a slot

	// set by PropagateValue so the next notification, triggered by our own
	// broadcast, is consumed without a consistency check
	justPropagated bool
}

// New creates the tying engine for a tree and registers it as a low-priority
// change observer, so it runs after ordinary recomputation.
func New(tree *param.Tree) *Ties {
	t := &Ties{tree: tree}
	tree.Observe(t, observerPriority, t.onChange)
	return t
}

// Recover rebuilds the complete tie state of a tree from the per-leaf labels
// alone, as after loading a snapshot: one canonical slot is allocated per
// distinct positive label, each group adopts its first member's value, and
// that value is propagated to the remaining members.
func Recover(tree *param.Tree) (*Ties, error) {
	t := New(tree)
	set := make(map[uint32]bool)
	tree.Each(func(p *param.Param) {
		for _, l := range p.Tie {
			if l > 0 {
				set[l] = true
			}
		}
	})
	if len(set) == 0 {
		return t, nil
	}
	labels := make([]uint32, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	tree.SetUpdates(false)
	defer tree.SetUpdates(true)
	_, idx, err := t.expandSlots(len(labels))
	if err != nil {
		return nil, err
	}
	// keep the recovered labels rather than the fresh sequential ones
	for i, l := range labels {
		t.slots.Tie[idx[i]] = l
	}
	if err := t.rebuild(); err != nil {
		return nil, err
	}
	values := tree.Values()
	for i, pos := range t.bufIdx {
		members := t.Members(t.slots.Tie[i])
		if len(members) == 0 {
			return nil, fmt.Errorf("tie: recovered group %d has no members", t.slots.Tie[i])
		}
		values[pos] = values[members[0]]
		for _, m := range members {
			values[m] = values[pos]
		}
	}
	return t, nil
}

// TieTogether ties an arbitrary list of leaves (or nested collections) to
// one shared value: the mean of the affected leaves and of any canonical
// slots they already belong to.
func (t *Ties) TieTogether(items ...param.Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := t.validateItems(items); err != nil {
		return err
	}
	t.tree.SetUpdates(false)
	defer t.tree.SetUpdates(true)

	labels := t.labelsOf(items)
	mean := t.tieValue(items, labels)

	var keep uint32
	if len(labels) == 0 {
		// none of the leaves has been tied before
		fresh, _, err := t.expandSlots(1)
		if err != nil {
			return err
		}
		keep = fresh[0]
		if err := t.assignLabels(items, []uint32{keep}); err != nil {
			return err
		}
		if con := t.electGroupConstraint(items); con != nil {
			t.setGroupConstraint(keep, con)
		}
	} else {
		// some leaves are tied already: merge every touched group into one
		keep = labels[0]
		if len(labels) > 1 {
			if err := t.mergeLabels(labels); err != nil {
				return err
			}
		}
		if err := t.assignLabels(items, []uint32{keep}); err != nil {
			return err
		}
		t.forceGroupConstraint(items, t.groupConstraint(keep))
	}
	if err := t.rebuild(); err != nil {
		return err
	}
	t.broadcastValue(keep, mean)
	return nil
}

// TieVector ties two equal-length parameter vectors element-wise. Where
// neither side is tied a fresh shared label is allocated; where exactly one
// side is tied the other adopts its label; where both are tied to different
// groups the groups are merged. p1's values and constraints are the truth
// for every affected group.
func (t *Ties) TieVector(p1, p2 param.Item) error {
	if p1 == nil || p2 == nil {
		return errors.New("tie: vector operands must not be nil")
	}
	if p1.Size() != p2.Size() {
		return fmt.Errorf("tie: vector length mismatch: %d vs %d", p1.Size(), p2.Size())
	}
	if err := t.validateItems([]param.Item{p1, p2}); err != nil {
		return err
	}
	if p1.Size() == 0 {
		return nil
	}
	la := flattenLabels(p1)
	lb := flattenLabels(p2)
	vals := flattenValues(p1)

	t.tree.SetUpdates(false)
	defer t.tree.SetUpdates(true)

	labels := make([]uint32, len(la))
	var expandPos []int
	var mergeDst, mergeSrc []uint32
	for i := range la {
		a, b := la[i], lb[i]
		switch {
		case a == 0 && b == 0:
			expandPos = append(expandPos, i)
		case a == 0:
			labels[i] = b
		case b == 0:
			labels[i] = a
		case a != b:
			labels[i] = a
			mergeDst = append(mergeDst, a)
			mergeSrc = append(mergeSrc, b)
		default:
			labels[i] = a
		}
	}
	writeValues(p2, vals)
	if len(expandPos) > 0 {
		fresh, _, err := t.expandSlots(len(expandPos))
		if err != nil {
			return err
		}
		for k, pos := range expandPos {
			labels[pos] = fresh[k]
		}
	}
	merged, err := t.mergeLabelPairs(mergeDst, mergeSrc)
	if err != nil {
		return err
	}
	// labels adopted from p2 may themselves have been merged away
	for i, l := range labels {
		if nl, ok := merged[l]; ok {
			labels[i] = nl
		}
	}
	if err := t.assignLabels([]param.Item{p1, p2}, labels); err != nil {
		return err
	}
	t.reconcileVectorConstraints(p1, p2, labels)
	if err := t.rebuild(); err != nil {
		return err
	}
	for i, l := range labels {
		t.broadcastValue(l, vals[i])
	}
	return nil
}

// Untie resets the leaves' labels to 0 and prunes every group left with
// fewer than two genuine members. Untying already-untied leaves is a no-op.
func (t *Ties) Untie(items ...param.Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := t.validateItems(items); err != nil {
		return err
	}
	t.tree.SetUpdates(false)
	defer t.tree.SetUpdates(true)
	if err := t.assignLabels(items, []uint32{0}); err != nil {
		return err
	}
	if err := t.rebuild(); err != nil {
		return err
	}
	if err := t.pruneUnnecessary(); err != nil {
		return err
	}
	return t.rebuild()
}

// Merge absorbs another tree's leaves and tie groups into this one. The
// absorbed groups are re-labelled with fresh labels appended to this store;
// values, gradients and shared constraints carry over. The other engine is
// detached from its (now empty) tree and must not be used afterwards.
func (t *Ties) Merge(other *Ties) error {
	if other == nil || other == t {
		return errors.New("tie: merge requires a distinct tying engine")
	}
	if other.tree == t.tree {
		return errors.New("tie: cannot merge a tree into itself")
	}
	t.tree.SetUpdates(false)
	defer t.tree.SetUpdates(true)
	other.tree.SetUpdates(false)
	defer other.tree.SetUpdates(true)

	pairs := make(map[uint32]uint32)
	if other.slots != nil {
		srcVals := append([]float64(nil), other.slots.Values()...)
		srcLabels := append([]uint32(nil), other.slots.Tie...)
		srcCons := append([]*param.Constraint(nil), other.cons...)
		fresh, idx, err := t.expandSlots(len(srcLabels))
		if err != nil {
			return err
		}
		for i := range fresh {
			t.slots.Values()[idx[i]] = srcVals[i]
			t.cons[idx[i]] = srcCons[i]
			pairs[srcLabels[i]] = fresh[i]
		}
		if err := other.tree.Unlink(other.slots); err != nil {
			return err
		}
	}
	var leaves []param.Item
	for _, p := range other.tree.Params() {
		leaves = append(leaves, p)
	}
	if len(leaves) > 0 {
		if err := other.tree.Unlink(leaves...); err != nil {
			return err
		}
	}
	for _, it := range leaves {
		it.Each(func(p *param.Param) {
			for i, l := range p.Tie {
				if nl, ok := pairs[l]; ok {
					p.Tie[i] = nl
				}
			}
		})
	}
	if len(leaves) > 0 {
		if err := t.tree.Link(leaves...); err != nil {
			return err
		}
	}
	other.tree.RemoveObserver(other)
	other.slots, other.cons = nil, nil
	other.labelBuf, other.bufIdx, other.untie = nil, nil, nil
	return t.rebuild()
}

// Split moves the leaves of sub into the dst tree and carves their tie
// groups out of this engine into a fresh one owning dst. Group labels and
// slot values are copied for every label the departing subtree touches;
// both sides are pruned afterwards.
func (t *Ties) Split(sub param.Item, dst *param.Tree) (*Ties, error) {
	if sub == nil || dst == nil {
		return nil, errors.New("tie: split requires a subtree and a destination tree")
	}
	if dst == t.tree {
		return nil, errors.New("tie: split destination must be a different tree")
	}
	if err := t.validateItems([]param.Item{sub}); err != nil {
		return nil, err
	}
	labels := t.labelsOf([]param.Item{sub})
	vals := make([]float64, len(labels))
	cons := make([]*param.Constraint, len(labels))
	for i, l := range labels {
		si, ok := t.slotIndex(l)
		if !ok {
			return nil, fmt.Errorf("tie: departing label %d has no canonical slot", l)
		}
		vals[i] = t.slots.Values()[si]
		cons[i] = t.cons[si]
	}

	t.tree.SetUpdates(false)
	defer t.tree.SetUpdates(true)
	dst.SetUpdates(false)
	defer dst.SetUpdates(true)

	if err := t.tree.Unlink(sub); err != nil {
		return nil, err
	}
	if err := dst.Link(sub); err != nil {
		return nil, err
	}
	nt := New(dst)
	if len(labels) > 0 {
		_, idx, err := nt.expandSlots(len(labels))
		if err != nil {
			return nil, err
		}
		for i := range labels {
			nt.slots.Tie[idx[i]] = labels[i]
			nt.slots.Values()[idx[i]] = vals[i]
			nt.cons[idx[i]] = cons[i]
		}
		if err := nt.rebuild(); err != nil {
			return nil, err
		}
		if err := nt.pruneUnnecessary(); err != nil {
			return nil, err
		}
		if err := nt.rebuild(); err != nil {
			return nil, err
		}
	}
	if err := t.rebuild(); err != nil {
		return nil, err
	}
	if err := t.pruneUnnecessary(); err != nil {
		return nil, err
	}
	if err := t.rebuild(); err != nil {
		return nil, err
	}
	return nt, nil
}

// CheckChange verifies every group against the raw values and repairs any
// divergence: a single differing member is the most recent edit and wins;
// otherwise the canonical slot is authoritative. Reports whether any group
// needed correction.
func (t *Ties) CheckChange() bool {
	if t.slots == nil {
		return false
	}
	values := t.tree.Values()
	if len(t.labelBuf) != len(values) {
		// stale buffer, structural change without a rebuild
		return false
	}
	changed := false
	for _, pos := range t.bufIdx {
		label := t.labelBuf[pos]
		sv := values[pos]
		var diverged []int
		for j, l := range t.labelBuf {
			if l == label && values[j] != sv {
				diverged = append(diverged, j)
			}
		}
		if len(diverged) == 0 {
			continue
		}
		v := sv
		if len(diverged) == 1 {
			v = values[diverged[0]]
		}
		t.broadcastValue(label, v)
		changed = true
	}
	return changed
}

// CollateGradient sums the gradients of every group's raw members into the
// canonical slot's gradient, so an optimizer operating on the slots sees the
// combined sensitivity. Runs after every gradient pass.
func (t *Ties) CollateGradient() {
	if t.slots == nil {
		return
	}
	grads := t.tree.Grads()
	if len(t.labelBuf) != len(grads) {
		return
	}
	for _, pos := range t.bufIdx {
		label := t.labelBuf[pos]
		sum := 0.0
		for j, l := range t.labelBuf {
			if l == label && j != pos {
				sum += grads[j]
			}
		}
		grads[pos] = sum
	}
}

// PropagateValue broadcasts every canonical slot's value into all its
// members and arms the one-shot flag, so the notification the broadcast
// provokes is consumed without a consistency check.
func (t *Ties) PropagateValue() {
	if t.slots == nil {
		return
	}
	values := t.tree.Values()
	for _, pos := range t.bufIdx {
		t.broadcastValue(t.labelBuf[pos], values[pos])
	}
	t.justPropagated = true
}

// Rebuild recomputes the label buffer after an external structural change to
// the tree, such as linking new leaves.
func (t *Ties) Rebuild() error { return t.rebuild() }

// onChange is the tree's change notification handler.
func (t *Ties) onChange(ev param.Event) {
	if ev.Origin == t {
		return
	}
	if t.justPropagated {
		t.justPropagated = false
	} else if t.CheckChange() {
		// corrected values need one more recompute pass
		t.tree.NotifyChanged(t)
	}
	t.CollateGradient()
}

// broadcastValue writes v into every position carrying the label, the
// canonical slot included. The label buffer must be current.
func (t *Ties) broadcastValue(label uint32, v float64) {
	values := t.tree.Values()
	for j, l := range t.labelBuf {
		if l == label {
			values[j] = v
		}
	}
}

// tieValue computes the tying value: the mean over every affected leaf
// scalar and over the canonical slot of each group already touched.
func (t *Ties) tieValue(items []param.Item, labels []uint32) float64 {
	sum, n := 0.0, 0
	for _, it := range items {
		it.Each(func(p *param.Param) {
			for _, v := range p.Values() {
				sum += v
				n++
			}
		})
	}
	for _, l := range labels {
		if i, ok := t.slotIndex(l); ok {
			sum += t.slots.Values()[i]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// electGroupConstraint picks the shared constraint for a brand-new group:
// the first constraint found among the leaves, or nil when none is
// constrained. Leaves with a missing or different constraint are forced to
// the elected one with a warning.
func (t *Ties) electGroupConstraint(items []param.Item) *param.Constraint {
	var elected *param.Constraint
	for _, it := range items {
		it.Each(func(p *param.Param) {
			if elected != nil {
				return
			}
			if c, ok := p.Constrained(); ok {
				cc := c
				elected = &cc
			}
		})
	}
	if elected == nil {
		return nil
	}
	for _, it := range items {
		it.Each(func(p *param.Param) {
			c, ok := p.Constrained()
			if !ok || !c.Equal(*elected) {
				log.Printf("tie: warning: %s has a different constraint, constraining to %s", p.Name, elected)
				p.Constrain(*elected)
			}
		})
	}
	return elected
}

// forceGroupConstraint reconciles leaves joining an existing group: when the
// group is constrained every leaf adopts that constraint, otherwise
// constrained leaves are unconstrained. Both adjustments warn.
func (t *Ties) forceGroupConstraint(items []param.Item, con *param.Constraint) {
	for _, it := range items {
		it.Each(func(p *param.Param) {
			c, ok := p.Constrained()
			if con != nil {
				if !ok || !c.Equal(*con) {
					log.Printf("tie: warning: %s has a different constraint, constraining to %s", p.Name, con)
					p.Constrain(*con)
				}
			} else if ok {
				log.Printf("tie: warning: %s has a constraint, the tie group is unconstrained", p.Name)
				p.Unconstrain()
			}
		})
	}
}

// reconcileVectorConstraints applies p1's per-leaf constraints to the
// resulting groups of a vector tie; p2's constraints are only compared
// against, with a warning when the sides disagree.
func (t *Ties) reconcileVectorConstraints(p1, p2 param.Item, labels []uint32) {
	c1 := flattenConstraints(p1)
	c2 := flattenConstraints(p2)
	warned := false
	for i := range c1 {
		if !warned && !constraintEqual(c1[i], c2[i]) {
			log.Printf("tie: warning: vector operands have different constraints, only the first operand's are kept")
			warned = true
		}
		t.setGroupConstraint(labels[i], c1[i])
	}
}

// validateItems checks the preconditions shared by every public operation:
// every leaf must be linked into the engine's tree and must not be the
// canonical slot store itself. Runs before any mutation.
func (t *Ties) validateItems(items []param.Item) error {
	var err error
	for _, it := range items {
		if it == nil {
			return errors.New("tie: nil item")
		}
		it.Each(func(p *param.Param) {
			if err != nil {
				return
			}
			if p == t.slots {
				err = errors.New("tie: the canonical slot store cannot be tied")
				return
			}
			if p.Tree() != t.tree {
				err = fmt.Errorf("tie: param %q is not linked into tree %q", p.Name, t.tree.Name)
			}
		})
	}
	return err
}

func constraintEqual(a, b *param.Constraint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

