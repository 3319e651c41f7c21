package combine

import (
	"testing"

	"github.com/gogpu/gisel/mir"
)

// TestCombineConcatVectors_Flattens tests collapsing a concat of two
// vector builds into one build over all the scalars.
func TestCombineConcatVectors_Flattens(t *testing.T) {
	fn, b := testFunc(t)
	v2 := mir.Vector(2, mir.S32)
	v4 := mir.Vector(4, mir.S32)
	x0 := b.ImplicitDef(mir.S32)
	x1 := b.ImplicitDef(mir.S32)
	x2 := b.ImplicitDef(mir.S32)
	x3 := b.ImplicitDef(mir.S32)
	lo := fn.NewReg(v2)
	b.BuildVectorInto(lo, x0, x1)
	hi := fn.NewReg(v2)
	b.BuildVectorInto(hi, x2, x3)
	cat := fn.DefOf(b.ConcatVectors(v4, lo, hi))

	h := NewHelper(fn, DefaultOptions())
	if !h.TryCombineConcatVectors(cat) {
		t.Fatal("flattening did not fire")
	}
	if countOps(fn, mir.OpConcatVectors) != 0 {
		t.Error("concat survived")
	}
	bv := fn.DefOf(cat.Reg(0))
	if bv == nil || bv.Op() != mir.OpBuildVector {
		t.Fatalf("result def = %v, want a vector build", bv)
	}
	want := []mir.Reg{x0, x1, x2, x3}
	if bv.NumOperands() != len(want)+1 {
		t.Fatalf("flattened build has %d lanes, want %d", bv.NumOperands()-1, len(want))
	}
	for i, w := range want {
		if bv.Reg(i+1) != w {
			t.Errorf("lane %d = %%%d, want %%%d", i, bv.Reg(i+1), w)
		}
	}
	checkValid(t, fn)
}

// TestCombineConcatVectors_AllUndef tests that a concat of undefined
// vectors becomes a single undefined value.
func TestCombineConcatVectors_AllUndef(t *testing.T) {
	fn, b := testFunc(t)
	v2 := mir.Vector(2, mir.S32)
	u1 := b.ImplicitDef(v2)
	u2 := b.ImplicitDef(v2)
	cat := fn.DefOf(b.ConcatVectors(mir.Vector(4, mir.S32), u1, u2))

	h := NewHelper(fn, DefaultOptions())
	if !h.TryCombineConcatVectors(cat) {
		t.Fatal("flattening did not fire")
	}
	def := fn.DefOf(cat.Reg(0))
	if def == nil || def.Op() != mir.OpImplicitDef {
		t.Errorf("result def = %v, want undefined", def)
	}
	checkValid(t, fn)
}

// TestCombineConcatVectors_MixedUndef tests that an undefined source
// contributes shared undefined scalar lanes to the flattened build.
func TestCombineConcatVectors_MixedUndef(t *testing.T) {
	fn, b := testFunc(t)
	v2 := mir.Vector(2, mir.S32)
	x0 := b.ImplicitDef(mir.S32)
	x1 := b.ImplicitDef(mir.S32)
	lo := fn.NewReg(v2)
	b.BuildVectorInto(lo, x0, x1)
	u := b.ImplicitDef(v2)
	cat := fn.DefOf(b.ConcatVectors(mir.Vector(4, mir.S32), lo, u))

	h := NewHelper(fn, DefaultOptions())
	if !h.TryCombineConcatVectors(cat) {
		t.Fatal("flattening did not fire")
	}
	bv := fn.DefOf(cat.Reg(0))
	if bv == nil || bv.Op() != mir.OpBuildVector {
		t.Fatalf("result def = %v, want a vector build", bv)
	}
	if bv.Reg(1) != x0 || bv.Reg(2) != x1 {
		t.Error("defined lanes were not preserved")
	}
	if bv.Reg(3) != bv.Reg(4) {
		t.Error("undefined lanes do not share one scalar")
	}
	if def := fn.DefOf(bv.Reg(3)); def == nil || def.Op() != mir.OpImplicitDef {
		t.Error("undefined lane is not an undefined scalar")
	}
	checkValid(t, fn)
}

// TestCombineConcatVectors_OpaqueSourceAbstains tests that a source
// that is neither a build nor undefined blocks the flattening.
func TestCombineConcatVectors_OpaqueSourceAbstains(t *testing.T) {
	fn, b := testFunc(t)
	v2 := mir.Vector(2, mir.S32)
	x := b.ImplicitDef(mir.S32)
	splat := b.SplatVector(v2, x)
	lo := fn.NewReg(v2)
	b.BuildVectorInto(lo, x, x)
	cat := fn.DefOf(b.ConcatVectors(mir.Vector(4, mir.S32), lo, splat))

	h := NewHelper(fn, DefaultOptions())
	var info ConcatMatch
	if h.MatchCombineConcatVectors(cat, &info) {
		t.Error("matched a concat with an opaque source")
	}
}

// TestUndefShuffleVectorMask tests replacing a shuffle whose mask
// leaves every lane undefined.
func TestUndefShuffleVectorMask(t *testing.T) {
	fn, b := testFunc(t)
	v2 := mir.Vector(2, mir.S32)
	x := b.ImplicitDef(v2)
	y := b.ImplicitDef(v2)
	sh := fn.DefOf(b.ShuffleVector(v2, x, y, []int32{-1, -1}))
	partial := fn.DefOf(b.ShuffleVector(v2, x, y, []int32{-1, 0}))

	h := NewHelper(fn, DefaultOptions())
	if h.MatchUndefShuffleVectorMask(partial) {
		t.Error("matched a mask with a defined lane")
	}
	if !h.TryUndefShuffleVectorMask(sh) {
		t.Fatal("undef-mask rewrite did not fire")
	}
	def := fn.DefOf(sh.Reg(0))
	if def == nil || def.Op() != mir.OpImplicitDef {
		t.Errorf("result def = %v, want undefined", def)
	}
	if countOps(fn, mir.OpShuffleVector) != 1 {
		t.Error("the rewritten shuffle survived")
	}
	checkValid(t, fn)
}

// TestCombineShuffleVector_Concat tests rewriting an identity shuffle
// over both sources as their concat.
func TestCombineShuffleVector_Concat(t *testing.T) {
	fn, b := testFunc(t)
	v2 := mir.Vector(2, mir.S32)
	x := b.ImplicitDef(v2)
	y := b.ImplicitDef(v2)
	sh := fn.DefOf(b.ShuffleVector(mir.Vector(4, mir.S32), x, y, []int32{0, 1, 2, 3}))

	h := NewHelper(fn, DefaultOptions())
	if !h.TryCombineShuffleVector(sh) {
		t.Fatal("shuffle rewrite did not fire")
	}
	cat := findOp(fn, mir.OpConcatVectors)
	if cat == nil {
		t.Fatal("no concat produced")
	}
	if cat.Reg(0) != sh.Reg(0) || cat.Reg(1) != x || cat.Reg(2) != y {
		t.Errorf("concat = %v, want the shuffle's def over both sources", cat)
	}
	if countOps(fn, mir.OpShuffleVector) != 0 {
		t.Error("shuffle survived")
	}
	checkValid(t, fn)
}

// TestCombineShuffleVector_ForwardsSource tests that a mask reading one
// whole source in lane order forwards that source.
func TestCombineShuffleVector_ForwardsSource(t *testing.T) {
	fn, b := testFunc(t)
	v2 := mir.Vector(2, mir.S32)
	x := b.ImplicitDef(v2)
	y := b.ImplicitDef(v2)
	s := b.ShuffleVector(v2, x, y, []int32{2, 3})
	sh := fn.DefOf(s)
	use := fn.DefOf(b.ShuffleVector(v2, s, s, []int32{1, 0}))

	h := NewHelper(fn, DefaultOptions())
	if !h.TryCombineShuffleVector(sh) {
		t.Fatal("shuffle rewrite did not fire")
	}
	if use.Reg(1) != y || use.Reg(2) != y {
		t.Error("consumer does not read the forwarded source")
	}
	checkValid(t, fn)
}

// TestCombineShuffleVector_Abstains tests masks that are not
// whole-source runs.
func TestCombineShuffleVector_Abstains(t *testing.T) {
	fn, b := testFunc(t)
	v2 := mir.Vector(2, mir.S32)
	x := b.ImplicitDef(v2)
	y := b.ImplicitDef(v2)

	h := NewHelper(fn, DefaultOptions())
	for _, mask := range [][]int32{{1, 0}, {0, 2}, {1, 2}} {
		sh := fn.DefOf(b.ShuffleVector(v2, x, y, mask))
		var info ShuffleMatch
		if h.MatchCombineShuffleVector(sh, &info) {
			t.Errorf("matched mask %v", mask)
		}
	}
}
