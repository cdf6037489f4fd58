// Package tie synchronizes groups of parameters that must share one value.
//
// Every tie group is identified by a positive integer label. A label buffer
// parallel to the host tree's flattened parameter vector records which group
// owns each position (0 means untied). The groups' free scalars, one per
// group, live in a canonical slot parameter that is itself linked into the
// tree, so slot values and gradients flow through the ordinary recompute
// machinery; an optimizer that operates on the tree simply sees one degree
// of freedom per group.
//
// The engine registers as a low-priority tree observer. After every value
// mutation it verifies each group: if exactly one member diverged, that
// member was just edited and wins; otherwise the canonical slot is
// authoritative. After every gradient pass it sums member gradients into the
// slot gradient. Public operations (TieTogether, TieVector, Untie, Merge,
// Split) suspend tree notifications for their duration so observers never
// see a half-updated label or value state.
package tie
