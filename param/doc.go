// Package param provides the parameter tree that hosts tied parameters.
//
// A Tree owns two contiguous arenas, one for values and one for gradients,
// covering every linked leaf in a fixed, stable order. Leaves (Param) and
// nested collections (Group) satisfy the Item capability, which is the only
// interface the tying engine traverses. While a leaf is linked its value and
// gradient slices alias the tree's arenas at an explicit offset range; when
// unlinked the leaf keeps a private copy, so linking and unlinking never
// lose state.
//
// Trees notify registered observers on every value mutation. Observers carry
// an explicit priority: higher priorities run first, so a component that
// must see the tree after ordinary recomputation registers with a negative
// priority. SetUpdates(false) suspends notification delivery and buffers at
// most one pending event, which fires on SetUpdates(true); multi-step edits
// use this to stay atomic from the observers' point of view.
package param
