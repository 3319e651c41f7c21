package combine

import (
	"testing"

	"github.com/gogpu/gisel/mir"
	"github.com/gogpu/gisel/target"
)

// testFunc returns an empty single-block function and a builder parked
// at its entry.
func testFunc(t *testing.T) (*mir.Function, *mir.Builder) {
	t.Helper()
	fn := mir.NewFunction(t.Name())
	blk := fn.NewBlock()
	b := mir.NewBuilder(fn)
	b.SetBlockFront(blk)
	return fn, b
}

// checkValid fails the test when fn no longer validates.
func checkValid(t *testing.T, fn *mir.Function) {
	t.Helper()
	errs, err := mir.Validate(fn)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, e := range errs {
		t.Errorf("validation error after combine: %v", &e)
	}
}

// countOps counts instructions with the given opcode across fn.
func countOps(fn *mir.Function, op mir.Opcode) int {
	n := 0
	for _, blk := range fn.Blocks() {
		for _, in := range blk.Instrs() {
			if in.Op() == op {
				n++
			}
		}
	}
	return n
}

// findOp returns the first instruction with the given opcode, or nil.
func findOp(fn *mir.Function, op mir.Opcode) *mir.Instr {
	for _, blk := range fn.Blocks() {
		for _, in := range blk.Instrs() {
			if in.Op() == op {
				return in
			}
		}
	}
	return nil
}

// mem32 returns a plain 4-byte aligned 32-bit memory descriptor.
func mem32() *mir.MemOperand {
	return &mir.MemOperand{AlignBytes: 4, SizeBits: 32}
}

// memBits returns a descriptor of the given width with byte alignment
// matching its size.
func memBits(bits uint32) *mir.MemOperand {
	return &mir.MemOperand{AlignBytes: (bits + 7) / 8, SizeBits: bits}
}

// fakeKnownBits is a canned bit-fact oracle keyed by register.
type fakeKnownBits struct {
	zeros map[mir.Reg]uint64
	signs map[mir.Reg]uint32
}

func (f *fakeKnownBits) KnownZeroBits(r mir.Reg) uint64 { return f.zeros[r] }

func (f *fakeKnownBits) NumSignBits(r mir.Reg) uint32 {
	if n, ok := f.signs[r]; ok {
		return n
	}
	return 1
}

func (f *fakeKnownBits) MaskedValueIsZero(r mir.Reg, mask uint64) bool {
	return f.zeros[r]&mask == mask
}

// rejectOps is a legality oracle that rejects a fixed opcode set.
type rejectOps map[mir.Opcode]bool

func (r rejectOps) IsLegal(op mir.Opcode, types []mir.Type, mem *mir.MemOperand) bool {
	return !r[op]
}

// indexingProfile returns a profile with both indexed flavors enabled.
func indexingProfile() *target.Profile {
	p := target.DefaultProfile()
	p.Index.Pre = true
	p.Index.Post = true
	return p
}

// TestReplaceRegWith_MergeVsCopy tests that register replacement
// merges same-typed registers directly and falls back to a fresh copy
// when the types cannot merge.
func TestReplaceRegWith_MergeVsCopy(t *testing.T) {
	fn, b := testFunc(t)
	x := b.Constant(mir.S32, 1)
	y := b.Constant(mir.S32, 2)
	b.BinOp(mir.OpAdd, mir.S32, x, x)

	h := NewHelper(fn, DefaultOptions())
	h.replaceRegWith(x, y)
	if fn.HasUses(x) {
		t.Error("merge left uses of the replaced register")
	}
	if countOps(fn, mir.OpCopy) != 0 {
		t.Error("same-type replacement interposed a copy")
	}

	// A same-size but differently typed replacement cannot merge; a
	// copy typed as the old register is interposed after the
	// replacement's definition.
	fn2, b2 := testFunc(t)
	iv := b2.Constant(mir.S64, 3)
	pv := b2.Insert(mir.OpIntToPtr,
		[]mir.Operand{mir.RegOp(fn2.NewReg(mir.Pointer(0, 64))), mir.RegOp(iv)}).Reg(0)
	old := b2.Constant(mir.S64, 4)
	b2.BinOp(mir.OpAdd, mir.S64, old, old)

	h2 := NewHelper(fn2, DefaultOptions())
	h2.replaceRegWith(old, pv)
	cp := findOp(fn2, mir.OpCopy)
	if cp == nil {
		t.Fatal("type-changing replacement did not interpose a copy")
	}
	if fn2.TypeOf(cp.Reg(0)) != mir.S64 || cp.Reg(1) != pv {
		t.Errorf("copy is %v, want a fresh s64 of the pointer value", cp)
	}
	add := findOp(fn2, mir.OpAdd)
	if add.Reg(1) != cp.Reg(0) || add.Reg(2) != cp.Reg(0) {
		t.Error("uses do not read the interposed copy")
	}
	checkValid(t, fn2)
}

// TestMatchCopy tests copy elimination, including the type gate.
func TestMatchCopy(t *testing.T) {
	fn, b := testFunc(t)
	x := b.Constant(mir.S32, 5)
	dst := fn.NewReg(mir.S32)
	cp := b.Copy(dst, x)
	use := fn.DefOf(b.BinOp(mir.OpAdd, mir.S32, dst, dst))

	h := NewHelper(fn, DefaultOptions())
	if !h.TryCopy(cp) {
		t.Fatal("TryCopy did not fire on a same-type copy")
	}
	if use.Reg(1) != x || use.Reg(2) != x {
		t.Error("uses not merged into the copy source")
	}
	if countOps(fn, mir.OpCopy) != 0 {
		t.Error("copy not erased")
	}
	checkValid(t, fn)
}

// TestConstantValue_LookThrough tests constant resolution through
// copies and width changes.
func TestConstantValue_LookThrough(t *testing.T) {
	fn, b := testFunc(t)
	c := b.Constant(mir.S32, -2)
	cp := fn.NewReg(mir.S32)
	b.Copy(cp, c)
	wide := b.Ext(mir.OpSExt, mir.S64, cp)
	narrow := b.Trunc(mir.S8, c)
	uns := b.Ext(mir.OpZExt, mir.S64, narrow)

	h := NewHelper(fn, DefaultOptions())
	if v, ok := h.constantValue(wide); !ok || v != -2 {
		t.Errorf("constantValue(sext(copy(-2))) = (%d, %v), want (-2, true)", v, ok)
	}
	if v, ok := h.constantValue(uns); !ok || v != 0xFE {
		t.Errorf("constantValue(zext(trunc8(-2))) = (%d, %v), want (254, true)", v, ok)
	}
	if _, ok := h.constantValue(fn.NewReg(mir.S32)); ok {
		t.Error("constantValue of an undefined register succeeded")
	}
}
