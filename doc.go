// Package ligature implements parameter tying for hierarchical numeric models.
//
// Ligature lets a caller declare that several scalar parameters scattered
// across a tree of model parameters must always hold an identical value.
// Tied parameters are synchronized transparently whenever any of them
// changes, and their gradients are collated into a single free scalar, so an
// external optimizer sees one degree of freedom per tie group instead of
// many.
//
// # Architecture Overview
//
// The module consists of three layers:
//
//   - param: the parameter tree host. A Tree owns one contiguous value arena
//     and one contiguous gradient arena covering every leaf, addressed by
//     explicit per-leaf offset ranges. Leaves carry per-scalar tie labels
//     and an optional constraint. Trees expose prioritized change observers
//     and explicit suspend/resume of change notifications.
//   - tie: the tying engine. A label buffer parallel to the flattened
//     parameter vector records which tie group owns each position; one
//     canonical slot per group, stored in a parameter that is itself linked
//     into the tree, holds the group's agreed value and summed gradient.
//   - store: sqlite-backed snapshot persistence of parameter values,
//     gradients, labels and constraints, with full tie-state recovery on
//     load.
//
// # Consistency Model
//
// Ligature is single-threaded and observer-driven. Every multi-step edit
// (tie, untie, vector tie, merge, split) suspends tree notifications, mutates
// labels, slots and values atomically, then resumes, firing a single
// buffered notification. The engine's change handler runs at low priority,
// after ordinary recomputation, and repairs any inconsistency it finds:
// a single edited member wins over its group, anything else defers to the
// canonical slot.
//
// # Basic Usage
//
//	tree := param.NewTree("model")
//	a := param.NewParam("a", 2.0)
//	b := param.NewParam("b", 4.0)
//	if err := tree.Link(a, b); err != nil {
//	    log.Fatal(err)
//	}
//
//	ties := tie.New(tree)
//	if err := ties.TieTogether(a, b); err != nil {
//	    log.Fatal(err)
//	}
//	// a and b now both hold 3.0, tracked by one canonical slot.
//
// # Package Structure
//
//   - param: parameter tree, leaves, groups, constraints, observers
//   - tie: label management, canonical slots, synchronization, collation
//   - store: snapshot persistence and tie recovery
//   - cmd/liginspect: snapshot inspection tool
package ligature
