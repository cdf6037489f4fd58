package param

import (
	"errors"
	"fmt"
	"sort"
)

// Event is the change notification delivered to tree observers. Origin
// identifies the component that triggered the mutation, or nil for external
// edits, so observers can recognize their own broadcasts.
type Event struct {
	Origin any
}

type observer struct {
	owner    any
	priority int
	fn       func(Event)
}

// Tree is the hierarchical parameter container. It owns one contiguous value
// arena and one contiguous gradient arena covering every linked leaf; each
// leaf is addressed by an explicit offset range within them. Structural
// edits (Link, Unlink) rebuild both arenas while preserving per-leaf state.
type Tree struct {
	Name string

	values    []float64
	grads     []float64
	params    []*Param
	offsets   map[*Param]int
	observers []observer

	updates bool
	pending bool
}

// NewTree creates an empty tree with notifications enabled.
func NewTree(name string) *Tree {
	return &Tree{
		Name:    name,
		offsets: make(map[*Param]int),
		updates: true,
	}
}

// Size returns the total scalar count across all linked leaves.
func (t *Tree) Size() int { return len(t.values) }

// Values returns the flattened value arena. Positions follow link order.
func (t *Tree) Values() []float64 { return t.values }

// Grads returns the flattened gradient arena, parallel to Values.
func (t *Tree) Grads() []float64 { return t.grads }

// Params returns the linked leaves in flattening order.
func (t *Tree) Params() []*Param {
	out := make([]*Param, len(t.params))
	copy(out, t.params)
	return out
}

// Each visits every linked leaf in flattening order.
func (t *Tree) Each(fn func(*Param)) {
	for _, p := range t.params {
		fn(p)
	}
}

// RaveledIndex returns the leaf's offset within the flattened arenas.
func (t *Tree) RaveledIndex(p *Param) (int, error) {
	off, ok := t.offsets[p]
	if !ok {
		return 0, fmt.Errorf("param %q is not linked into tree %q", p.Name, t.Name)
	}
	return off, nil
}

// Link appends the leaves of the given items to the tree, reflattens the
// arenas and fires a change notification.
func (t *Tree) Link(items ...Item) error {
	var incoming []*Param
	for _, it := range items {
		if it == nil {
			return errors.New("cannot link nil item")
		}
		it.Each(func(p *Param) { incoming = append(incoming, p) })
	}
	seen := make(map[*Param]bool, len(incoming))
	for _, p := range incoming {
		if p.tree != nil {
			return fmt.Errorf("param %q is already linked into tree %q", p.Name, p.tree.Name)
		}
		if seen[p] {
			return fmt.Errorf("param %q appears twice in link request", p.Name)
		}
		seen[p] = true
	}
	for _, p := range incoming {
		p.tree = t
		t.params = append(t.params, p)
	}
	t.reflatten()
	t.NotifyChanged(nil)
	return nil
}

// Unlink removes the leaves of the given items from the tree. Removed leaves
// keep a private copy of their values and gradients.
func (t *Tree) Unlink(items ...Item) error {
	remove := make(map[*Param]bool)
	var err error
	for _, it := range items {
		if it == nil {
			return errors.New("cannot unlink nil item")
		}
		it.Each(func(p *Param) {
			if p.tree != t && err == nil {
				err = fmt.Errorf("param %q is not linked into tree %q", p.Name, t.Name)
			}
			remove[p] = true
		})
	}
	if err != nil {
		return err
	}
	kept := t.params[:0]
	for _, p := range t.params {
		if remove[p] {
			data := make([]float64, len(p.data))
			copy(data, p.data)
			grad := make([]float64, len(p.grad))
			copy(grad, p.grad)
			p.data, p.grad = data, grad
			p.tree = nil
			delete(t.offsets, p)
			continue
		}
		kept = append(kept, p)
	}
	t.params = kept
	t.reflatten()
	t.NotifyChanged(nil)
	return nil
}

// reflatten rebuilds the value and gradient arenas from the current leaf
// list, preserving every leaf's state and rebinding its views.
func (t *Tree) reflatten() {
	total := 0
	for _, p := range t.params {
		total += p.Size()
	}
	values := make([]float64, total)
	grads := make([]float64, total)
	off := 0
	for _, p := range t.params {
		n := p.Size()
		copy(values[off:off+n], p.data)
		copy(grads[off:off+n], p.grad)
		p.data = values[off : off+n : off+n]
		p.grad = grads[off : off+n : off+n]
		t.offsets[p] = off
		off += n
	}
	t.values = values
	t.grads = grads
}

// Observe registers a change observer under the given owner. Higher
// priorities run first; equal priorities run in registration order.
func (t *Tree) Observe(owner any, priority int, fn func(Event)) {
	t.observers = append(t.observers, observer{owner: owner, priority: priority, fn: fn})
	sort.SliceStable(t.observers, func(i, j int) bool {
		return t.observers[i].priority > t.observers[j].priority
	})
}

// RemoveObserver drops every observer registered under the given owner.
func (t *Tree) RemoveObserver(owner any) {
	kept := t.observers[:0]
	for _, o := range t.observers {
		if o.owner != owner {
			kept = append(kept, o)
		}
	}
	t.observers = kept
}

// SetUpdates enables or disables notification delivery. Disabling buffers at
// most one pending notification; re-enabling fires it.
func (t *Tree) SetUpdates(on bool) {
	if t.updates == on {
		return
	}
	t.updates = on
	if on && t.pending {
		t.pending = false
		t.NotifyChanged(nil)
	}
}

// UpdatesEnabled reports whether notifications are currently delivered.
func (t *Tree) UpdatesEnabled() bool { return t.updates }

// NotifyChanged delivers a change event to all observers in priority order,
// or buffers it while updates are suspended. Origin identifies the mutating
// component, nil for external edits.
func (t *Tree) NotifyChanged(origin any) {
	if !t.updates {
		t.pending = true
		return
	}
	ev := Event{Origin: origin}
	for _, o := range t.observers {
		o.fn(ev)
	}
}

// SetValues overwrites the whole value arena, as an optimizer step would,
// and notifies observers once.
func (t *Tree) SetValues(values []float64) error {
	if len(values) != len(t.values) {
		return fmt.Errorf("value vector has %d entries, tree %q has %d", len(values), t.Name, len(t.values))
	}
	copy(t.values, values)
	t.NotifyChanged(nil)
	return nil
}

// SetGrads overwrites the whole gradient arena and notifies observers once,
// so gradient collation runs after every gradient pass.
func (t *Tree) SetGrads(grads []float64) error {
	if len(grads) != len(t.grads) {
		return fmt.Errorf("gradient vector has %d entries, tree %q has %d", len(grads), t.Name, len(t.grads))
	}
	copy(t.grads, grads)
	t.NotifyChanged(nil)
	return nil
}
