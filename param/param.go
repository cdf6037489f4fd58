package param

// Item is the traversal capability shared by leaves and nested collections.
// Each visits every leaf reachable from the item in a fixed order
// (leaf-internal order, then declaration order); Size is the total scalar
// count across those leaves.
type Item interface {
	Each(fn func(*Param))
	Size() int
}

// Param is a leaf: a named vector of scalars with per-scalar tie labels and
// at most one active constraint. While linked into a Tree, the value and
// gradient slices alias the tree's arenas.
type Param struct {
	Name string
	Tie  []uint32 // tie label per scalar, 0 = untied

	data       []float64
	grad       []float64
	constraint *Constraint
	tree       *Tree
}

// NewParam creates an unlinked leaf with the given initial values.
func NewParam(name string, values ...float64) *Param {
	data := make([]float64, len(values))
	copy(data, values)
	return &Param{
		Name: name,
		Tie:  make([]uint32, len(values)),
		data: data,
		grad: make([]float64, len(values)),
	}
}

// Size returns the number of scalars in the leaf.
func (p *Param) Size() int { return len(p.data) }

// Each visits the leaf itself.
func (p *Param) Each(fn func(*Param)) { fn(p) }

// Values returns the leaf's value slice. While linked, writes land directly
// in the tree arena; callers performing raw edits are expected to notify the
// tree (or run the tying engine's change check) afterwards.
func (p *Param) Values() []float64 { return p.data }

// Grads returns the leaf's gradient slice, aliasing the tree arena while
// linked.
func (p *Param) Grads() []float64 { return p.grad }

// SetValue writes one scalar and notifies the owning tree.
func (p *Param) SetValue(i int, v float64) {
	p.data[i] = v
	if p.tree != nil {
		p.tree.NotifyChanged(nil)
	}
}

// Fill writes v into every scalar and notifies the owning tree.
func (p *Param) Fill(v float64) {
	for i := range p.data {
		p.data[i] = v
	}
	if p.tree != nil {
		p.tree.NotifyChanged(nil)
	}
}

// Constrain replaces the leaf's active constraint.
func (p *Param) Constrain(c Constraint) {
	cc := c
	p.constraint = &cc
}

// Unconstrain clears the leaf's constraint.
func (p *Param) Unconstrain() { p.constraint = nil }

// Constrained returns the active constraint, if any.
func (p *Param) Constrained() (Constraint, bool) {
	if p.constraint == nil {
		return Constraint{}, false
	}
	return *p.constraint, true
}

// Tree returns the owning tree, or nil while unlinked.
func (p *Param) Tree() *Tree { return p.tree }

// Group is a named, arbitrarily nested collection of items.
type Group struct {
	Name  string
	items []Item
}

// NewGroup creates a collection over the given items.
func NewGroup(name string, items ...Item) *Group {
	return &Group{Name: name, items: items}
}

// Add appends items to the collection.
func (g *Group) Add(items ...Item) { g.items = append(g.items, items...) }

// Each visits every leaf in the collection, depth first.
func (g *Group) Each(fn func(*Param)) {
	for _, it := range g.items {
		it.Each(fn)
	}
}

// Size returns the total scalar count across the collection.
func (g *Group) Size() int {
	n := 0
	for _, it := range g.items {
		n += it.Size()
	}
	return n
}
