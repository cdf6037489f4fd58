package tie

import (
	"testing"

	"github.com/sbl8/ligature/param"
)

func TestTieVectorFreshLabels(t *testing.T) {
	t.Parallel()
	tree := param.NewTree("model")
	p1 := param.NewParam("p1", 1.0, 2.0, 3.0)
	p2 := param.NewParam("p2", 4.0, 5.0, 6.0)
	if err := tree.Link(p1, p2); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	ties := New(tree)

	if err := ties.TieVector(p1, p2); err != nil {
		t.Fatalf("TieVector failed: %v", err)
	}
	if ties.GroupCount() != 3 {
		t.Fatalf("Expected 3 groups, got %d", ties.GroupCount())
	}
	for i := 0; i < 3; i++ {
		if p2.Values()[i] != p1.Values()[i] {
			t.Errorf("Position %d: p2 at %g, want p1's %g", i, p2.Values()[i], p1.Values()[i])
		}
		if p1.Values()[i] != float64(i+1) {
			t.Errorf("Position %d: p1 changed to %g", i, p1.Values()[i])
		}
		if p1.Tie[i] == 0 || p1.Tie[i] != p2.Tie[i] {
			t.Errorf("Position %d: labels %d and %d", i, p1.Tie[i], p2.Tie[i])
		}
	}
	if p1.Tie[0] == p1.Tie[1] || p1.Tie[1] == p1.Tie[2] {
		t.Errorf("Expected distinct labels per position, got %v", p1.Tie)
	}
}

func TestTieVectorAdoptsAndMerges(t *testing.T) {
	t.Parallel()
	tree := param.NewTree("model")
	x := param.NewParam("x", 0.0)
	y := param.NewParam("y", 0.0)
	p1a := param.NewParam("p1a", 2.0)
	p1b := param.NewParam("p1b", 3.0)
	p1c := param.NewParam("p1c", 4.0)
	p2a := param.NewParam("p2a", 8.0)
	p2b := param.NewParam("p2b", 9.0)
	p2c := param.NewParam("p2c", 10.0)
	if err := tree.Link(x, y, p1a, p1b, p1c, p2a, p2b, p2c); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	ties := New(tree)

	// position 0 of both vectors tied into different pre-existing groups
	if err := ties.TieTogether(x, p1a); err != nil {
		t.Fatalf("Pre-tie 1 failed: %v", err)
	}
	if err := ties.TieTogether(y, p2a); err != nil {
		t.Fatalf("Pre-tie 2 failed: %v", err)
	}
	p1 := param.NewGroup("p1", p1a, p1b, p1c)
	p2 := param.NewGroup("p2", p2a, p2b, p2c)

	if err := ties.TieVector(p1, p2); err != nil {
		t.Fatalf("TieVector failed: %v", err)
	}
	// the two pre-existing groups merged at position 0, two fresh ones added
	if ties.GroupCount() != 3 {
		t.Fatalf("Expected 3 groups, got %d", ties.GroupCount())
	}
	if p1a.Tie[0] != p2a.Tie[0] || y.Tie[0] != p1a.Tie[0] || x.Tie[0] != p1a.Tie[0] {
		t.Errorf("Expected the merged group to span x, y and both vectors: %d %d %d %d",
			x.Tie[0], y.Tie[0], p1a.Tie[0], p2a.Tie[0])
	}
	// p1 is the truth: its pre-tie value flows into every merged member
	want := p1a.Values()[0]
	for _, p := range []*param.Param{x, y, p2a} {
		if p.Values()[0] != want {
			t.Errorf("%s at %g, want %g", p.Name, p.Values()[0], want)
		}
	}
	if p2b.Values()[0] != 3.0 || p2c.Values()[0] != 4.0 {
		t.Errorf("Expected p2 to adopt p1's values, got %g and %g", p2b.Values()[0], p2c.Values()[0])
	}
}

func TestTieVectorAdoptsExistingLabel(t *testing.T) {
	t.Parallel()
	tree := param.NewTree("model")
	x := param.NewParam("x", 0.0)
	y := param.NewParam("y", 4.0)
	p1a := param.NewParam("p1a", 2.0)
	p1b := param.NewParam("p1b", 6.0)
	p2a := param.NewParam("p2a", 8.0)
	p2b := param.NewParam("p2b", 9.0)
	if err := tree.Link(x, y, p1a, p1b, p2a, p2b); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	ties := New(tree)

	// position 0 tied on the second operand only, position 1 on the first only
	if err := ties.TieTogether(x, p2a); err != nil {
		t.Fatalf("Pre-tie 1 failed: %v", err)
	}
	if err := ties.TieTogether(y, p1b); err != nil {
		t.Fatalf("Pre-tie 2 failed: %v", err)
	}
	p1 := param.NewGroup("p1", p1a, p1b)
	p2 := param.NewGroup("p2", p2a, p2b)

	if err := ties.TieVector(p1, p2); err != nil {
		t.Fatalf("TieVector failed: %v", err)
	}
	// the untied sides adopt the existing labels, no fresh groups appear
	if ties.GroupCount() != 2 {
		t.Fatalf("Expected 2 groups, got %d", ties.GroupCount())
	}
	if p1a.Tie[0] != p2a.Tie[0] || p1a.Tie[0] != x.Tie[0] {
		t.Errorf("Position 0 labels diverge: %d %d %d", p1a.Tie[0], p2a.Tie[0], x.Tie[0])
	}
	if p1b.Tie[0] != p2b.Tie[0] || p1b.Tie[0] != y.Tie[0] {
		t.Errorf("Position 1 labels diverge: %d %d %d", p1b.Tie[0], p2b.Tie[0], y.Tie[0])
	}
	if p1a.Tie[0] == p1b.Tie[0] {
		t.Errorf("Expected distinct groups per position, both labelled %d", p1a.Tie[0])
	}
	// p1 is the truth for every adopted group
	for _, p := range []*param.Param{x, p1a, p2a} {
		if p.Values()[0] != 2.0 {
			t.Errorf("%s at %g, want 2.0", p.Name, p.Values()[0])
		}
	}
	for _, p := range []*param.Param{y, p1b, p2b} {
		if p.Values()[0] != 5.0 {
			t.Errorf("%s at %g, want 5.0", p.Name, p.Values()[0])
		}
	}
}

func TestTieVectorChainedMerges(t *testing.T) {
	t.Parallel()
	tree := param.NewTree("model")
	u := param.NewParam("u", 1.0)
	v := param.NewParam("v", 0.0)
	w := param.NewParam("w", 0.0)
	e1 := param.NewParam("e1", 1.0)
	e2 := param.NewParam("e2", 6.0)
	f1 := param.NewParam("f1", 4.0)
	f2 := param.NewParam("f2", 1.0)
	if err := tree.Link(u, v, w, e1, e2, f1, f2); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	ties := New(tree)

	if err := ties.TieTogether(u, e1); err != nil {
		t.Fatalf("Pre-tie 1 failed: %v", err)
	}
	if err := ties.TieTogether(v, f1); err != nil {
		t.Fatalf("Pre-tie 2 failed: %v", err)
	}
	if err := ties.TieTogether(w, e2); err != nil {
		t.Fatalf("Pre-tie 3 failed: %v", err)
	}
	if err := ties.TieTogether(u, f2); err != nil {
		t.Fatalf("Pre-tie 4 failed: %v", err)
	}
	p1 := param.NewGroup("p1", e1, e2)
	p2 := param.NewGroup("p2", f1, f2)

	// position 0 merges f1's group into e1's; position 1 merges the just
	// enlarged e1 group into e2's: the chain must land everyone in one group
	if err := ties.TieVector(p1, p2); err != nil {
		t.Fatalf("TieVector failed: %v", err)
	}
	if ties.GroupCount() != 1 {
		t.Fatalf("Expected one surviving group, got %d", ties.GroupCount())
	}
	survivor := ties.GroupLabels()[0]
	leaves := []*param.Param{u, v, w, e1, e2, f1, f2}
	for _, p := range leaves {
		if p.Tie[0] != survivor {
			t.Errorf("%s carries label %d, want the survivor %d", p.Name, p.Tie[0], survivor)
		}
	}
	if got := len(ties.Members(survivor)); got != len(leaves) {
		t.Errorf("Expected %d members, got %d", len(leaves), got)
	}
	// everyone holds one value, and every labelled position has a slot
	want := e1.Values()[0]
	for _, p := range leaves {
		if p.Values()[0] != want {
			t.Errorf("%s at %g, want %g", p.Name, p.Values()[0], want)
		}
	}
	for i, l := range ties.LabelBuffer() {
		if l != 0 && l != survivor {
			t.Errorf("Position %d carries label %d with no canonical slot", i, l)
		}
	}
}

func TestTieVectorLengthMismatch(t *testing.T) {
	t.Parallel()
	tree := param.NewTree("model")
	p1 := param.NewParam("p1", 1.0, 2.0)
	p2 := param.NewParam("p2", 3.0, 4.0, 5.0)
	if err := tree.Link(p1, p2); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	ties := New(tree)

	if err := ties.TieVector(p1, p2); err == nil {
		t.Fatal("Expected length mismatch error")
	}
	if ties.GroupCount() != 0 {
		t.Errorf("Failed tie must not create groups, got %d", ties.GroupCount())
	}
	if p2.Values()[0] != 3.0 {
		t.Errorf("Failed tie must not touch values, got %g", p2.Values()[0])
	}
}

func TestTieVectorConstraintsFollowFirstOperand(t *testing.T) {
	t.Parallel()
	tree := param.NewTree("model")
	p1 := param.NewParam("p1", 1.0)
	p2 := param.NewParam("p2", 2.0)
	if err := tree.Link(p1, p2); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	p1.Constrain(param.Bounded(0, 5))
	p2.Constrain(param.Positive())
	ties := New(tree)

	if err := ties.TieVector(p1, p2); err != nil {
		t.Fatalf("TieVector failed: %v", err)
	}
	con, ok := ties.GroupConstraint(ties.GroupLabels()[0])
	if !ok || !con.Equal(param.Bounded(0, 5)) {
		t.Errorf("Expected the first operand's constraint kept, got %v (%v)", con, ok)
	}
}

func TestMergeAbsorbsTree(t *testing.T) {
	t.Parallel()
	t1, ps1 := scalarTree(t, 2.0, 4.0)
	ties1 := New(t1)
	if err := ties1.TieTogether(ps1[0], ps1[1]); err != nil {
		t.Fatalf("Tie on host failed: %v", err)
	}
	t2 := param.NewTree("donor")
	c := param.NewParam("c", 6.0)
	d := param.NewParam("d", 8.0)
	if err := t2.Link(c, d); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	ties2 := New(t2)
	if err := ties2.TieTogether(c, d); err != nil {
		t.Fatalf("Tie on donor failed: %v", err)
	}

	if err := ties1.Merge(ties2); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if ties1.GroupCount() != 2 {
		t.Fatalf("Expected 2 groups after merge, got %d", ties1.GroupCount())
	}
	if t2.Size() != 0 {
		t.Errorf("Expected the donor tree emptied, got size %d", t2.Size())
	}
	if c.Tree() != t1 || d.Tree() != t1 {
		t.Error("Expected the donor leaves relinked into the host")
	}
	if c.Tie[0] == 0 || c.Tie[0] != d.Tie[0] {
		t.Errorf("Expected the donor group relabelled intact, got %d and %d", c.Tie[0], d.Tie[0])
	}
	if c.Tie[0] == ps1[0].Tie[0] {
		t.Error("Donor group must not collide with a host group label")
	}
	if c.Values()[0] != 7.0 || d.Values()[0] != 7.0 {
		t.Errorf("Expected the donor group value preserved, got %g and %g", c.Values()[0], d.Values()[0])
	}
	if got := groupValue(t, ties1, c.Tie[0]); got != 7.0 {
		t.Errorf("Expected the absorbed slot value 7.0, got %g", got)
	}
}

func TestMergeSelfIsError(t *testing.T) {
	t.Parallel()
	tree, _ := scalarTree(t, 1.0)
	ties := New(tree)
	if err := ties.Merge(ties); err == nil {
		t.Error("Expected error merging an engine into itself")
	}
	if err := ties.Merge(nil); err == nil {
		t.Error("Expected error merging nil")
	}
}

func TestSplitCarvesGroupOut(t *testing.T) {
	t.Parallel()
	tree, ps := scalarTree(t, 1.0, 2.0, 3.0, 4.0)
	ties := New(tree)
	if err := ties.TieTogether(ps[0], ps[1]); err != nil {
		t.Fatalf("Tie 1 failed: %v", err)
	}
	if err := ties.TieTogether(ps[2], ps[3]); err != nil {
		t.Fatalf("Tie 2 failed: %v", err)
	}
	departing := ties.labelsOf([]param.Item{ps[2]})[0]
	want := groupValue(t, ties, departing)

	dst := param.NewTree("half")
	sub := param.NewGroup("sub", ps[2], ps[3])
	nt, err := ties.Split(sub, dst)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if ps[2].Tree() != dst || ps[3].Tree() != dst {
		t.Error("Expected the subtree moved into the destination")
	}
	if ties.GroupCount() != 1 || nt.GroupCount() != 1 {
		t.Fatalf("Expected one group on each side, got %d and %d", ties.GroupCount(), nt.GroupCount())
	}
	if got := nt.GroupLabels()[0]; got != departing {
		t.Errorf("Expected the departing label %d preserved, got %d", departing, got)
	}
	if got := groupValue(t, nt, departing); got != want {
		t.Errorf("Expected the slot value %g carried over, got %g", want, got)
	}
	if ps[2].Values()[0] != want || ps[3].Values()[0] != want {
		t.Errorf("Expected the member values intact, got %g and %g", ps[2].Values()[0], ps[3].Values()[0])
	}
}

func TestSplitPrunesHalvedGroup(t *testing.T) {
	t.Parallel()
	tree, ps := scalarTree(t, 1.0, 2.0)
	ties := New(tree)
	if err := ties.TieTogether(ps[0], ps[1]); err != nil {
		t.Fatalf("TieTogether failed: %v", err)
	}

	dst := param.NewTree("half")
	nt, err := ties.Split(ps[1], dst)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if ties.GroupCount() != 0 || nt.GroupCount() != 0 {
		t.Errorf("Expected both halves pruned, got %d and %d groups", ties.GroupCount(), nt.GroupCount())
	}
	if ps[0].Tie[0] != 0 || ps[1].Tie[0] != 0 {
		t.Errorf("Expected all labels cleared, got %d and %d", ps[0].Tie[0], ps[1].Tie[0])
	}
}

func TestRecoverFromLabels(t *testing.T) {
	t.Parallel()
	tree, ps := scalarTree(t, 1.0, 2.0, 9.0)
	ps[0].Tie[0] = 5
	ps[1].Tie[0] = 5

	ties, err := Recover(tree)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if ties.GroupCount() != 1 {
		t.Fatalf("Expected 1 recovered group, got %d", ties.GroupCount())
	}
	if got := ties.GroupLabels()[0]; got != 5 {
		t.Errorf("Expected the stored label 5 kept, got %d", got)
	}
	// the first member's value becomes the group value
	if ps[1].Values()[0] != 1.0 {
		t.Errorf("Expected the second member at 1.0, got %g", ps[1].Values()[0])
	}
	if got := groupValue(t, ties, 5); got != 1.0 {
		t.Errorf("Expected the slot at 1.0, got %g", got)
	}
	if ps[2].Values()[0] != 9.0 {
		t.Errorf("Untied leaf must be untouched, got %g", ps[2].Values()[0])
	}
}

func TestRecoverWithoutLabels(t *testing.T) {
	t.Parallel()
	tree, _ := scalarTree(t, 1.0, 2.0)
	ties, err := Recover(tree)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if ties.GroupCount() != 0 || ties.Slots() != nil {
		t.Errorf("Expected no groups on an untied tree, got %d", ties.GroupCount())
	}
}
