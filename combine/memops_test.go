package combine

import (
	"testing"

	"github.com/gogpu/gisel/mir"
	"github.com/gogpu/gisel/target"
)

// plannedStore describes one emitted store: its width and its byte
// offset from the destination pointer.
type plannedStore struct {
	bits uint32
	off  int64
}

// storePlan collects the emitted stores relative to dst, in program
// order.
func storePlan(t *testing.T, fn *mir.Function, dst mir.Reg) []plannedStore {
	t.Helper()
	var plan []plannedStore
	for _, blk := range fn.Blocks() {
		for _, in := range blk.Instrs() {
			if in.Op() != mir.OpStore {
				continue
			}
			addr := in.Reg(1)
			var off int64
			if addr != dst {
				pa := fn.DefOf(addr)
				if pa == nil || pa.Op() != mir.OpPtrAdd || pa.Reg(1) != dst {
					t.Fatalf("store address %v is not dst or dst+offset", addr)
				}
				c := fn.DefOf(pa.Reg(2))
				if c == nil || c.Op() != mir.OpConstant {
					t.Fatalf("store offset of %v is not a constant", addr)
				}
				off = c.Imm(1)
			}
			plan = append(plan, plannedStore{bits: in.MemOp(0).SizeBits, off: off})
		}
	}
	return plan
}

func memsetFixture(t *testing.T, length int64, mem *mir.MemOperand) (*mir.Function, mir.Reg, *mir.Instr) {
	t.Helper()
	fn, b := testFunc(t)
	dst := b.ImplicitDef(mir.Pointer(0, 64))
	val := b.Constant(mir.S8, 0x5A)
	n := b.Constant(mir.S64, length)
	in := b.Insert(mir.OpMemSet,
		[]mir.Operand{mir.RegOp(dst), mir.RegOp(val), mir.RegOp(n)}, mem)
	return fn, dst, in
}

// strictAlignProfile models a target that faults on misaligned access
// and inlines at most three stores per memset.
func strictAlignProfile() *target.Profile {
	p := target.DefaultProfile()
	p.Access.MisalignedAllowed = false
	p.Access.MisalignedFastBits = 0
	p.Stores.Memset = 3
	return p
}

// TestMemset_StrictAlignment tests lowering a 9-byte fill on a target
// without misaligned access: two word stores and a byte tail, no
// overlap.
func TestMemset_StrictAlignment(t *testing.T) {
	fn, dst, in := memsetFixture(t, 9, &mir.MemOperand{AlignBytes: 4, SizeBits: 72})

	opts := DefaultOptions()
	opts.Policy = strictAlignProfile()
	h := NewHelper(fn, opts)
	if !h.TryCombineMemCpyFamily(in, 0) {
		t.Fatal("memset lowering did not fire")
	}

	want := []plannedStore{{32, 0}, {32, 4}, {8, 8}}
	got := storePlan(t, fn, dst)
	if len(got) != len(want) {
		t.Fatalf("store plan = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("store %d = %v, want %v", i, got[i], want[i])
		}
	}

	// The fill byte is replicated once across the widest store type
	// and the tail truncates it rather than rebuilding the pattern.
	if countOps(fn, mir.OpTrunc) != 1 {
		t.Error("byte tail did not reuse the wide fill value")
	}
	wide := findOp(fn, mir.OpStore)
	if c := fn.DefOf(wide.Reg(0)); c == nil || c.Imm(1) != 0x5A5A5A5A {
		t.Error("wide fill value is not the replicated byte pattern")
	}
	if countOps(fn, mir.OpMemSet) != 0 {
		t.Error("memset instruction survived")
	}
	checkValid(t, fn)
}

// TestMemset_OverlappingTail tests that a fast-misalignment target
// covers a 7-byte fill with two word stores, the second slid back to
// end at the region's end.
func TestMemset_OverlappingTail(t *testing.T) {
	fn, dst, in := memsetFixture(t, 7, &mir.MemOperand{AlignBytes: 4, SizeBits: 56})

	h := NewHelper(fn, DefaultOptions())
	if !h.TryCombineMemCpyFamily(in, 0) {
		t.Fatal("memset lowering did not fire")
	}

	want := []plannedStore{{32, 0}, {32, 3}}
	got := storePlan(t, fn, dst)
	if len(got) != len(want) {
		t.Fatalf("store plan = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("store %d = %v, want %v", i, got[i], want[i])
		}
	}
	checkValid(t, fn)
}

// TestMemset_RaisesFrameSlotAlign tests that lowering into a frame
// slot the function owns raises the slot's alignment to the widest
// planned store.
func TestMemset_RaisesFrameSlotAlign(t *testing.T) {
	fn, b := testFunc(t)
	fi := fn.AddFrameSlot(16, 1, false)
	dst := b.FrameIndex(mir.Pointer(0, 64), fi)
	val := b.Constant(mir.S8, 0)
	n := b.Constant(mir.S64, 8)
	in := b.Insert(mir.OpMemSet,
		[]mir.Operand{mir.RegOp(dst), mir.RegOp(val), mir.RegOp(n)},
		&mir.MemOperand{AlignBytes: 1, SizeBits: 64})

	h := NewHelper(fn, DefaultOptions())
	if !h.TryCombineMemCpyFamily(in, 0) {
		t.Fatal("memset lowering did not fire")
	}
	if got := fn.SlotAlign(fi); got != 8 {
		t.Errorf("slot align = %d, want 8", got)
	}
	plan := storePlan(t, fn, dst)
	if len(plan) != 1 || plan[0].bits != 64 {
		t.Errorf("store plan = %v, want one 64-bit store", plan)
	}
	checkValid(t, fn)
}

// TestMemcpy_SingleChunk tests that an aligned 8-byte copy becomes one
// load/store pair with no address arithmetic.
func TestMemcpy_SingleChunk(t *testing.T) {
	fn, b := testFunc(t)
	dst := b.ImplicitDef(mir.Pointer(0, 64))
	src := b.ImplicitDef(mir.Pointer(0, 64))
	n := b.Constant(mir.S64, 8)
	in := b.Insert(mir.OpMemCopy,
		[]mir.Operand{mir.RegOp(dst), mir.RegOp(src), mir.RegOp(n)},
		&mir.MemOperand{AlignBytes: 8, SizeBits: 64},
		&mir.MemOperand{AlignBytes: 8, SizeBits: 64})

	h := NewHelper(fn, DefaultOptions())
	if !h.TryCombineMemCpyFamily(in, 0) {
		t.Fatal("memcpy lowering did not fire")
	}
	if countOps(fn, mir.OpLoad) != 1 || countOps(fn, mir.OpStore) != 1 {
		t.Fatalf("want one load and one store, got %d loads %d stores",
			countOps(fn, mir.OpLoad), countOps(fn, mir.OpStore))
	}
	if countOps(fn, mir.OpPtrAdd) != 0 {
		t.Error("zero-offset chunk materialized address arithmetic")
	}
	ld, st := findOp(fn, mir.OpLoad), findOp(fn, mir.OpStore)
	if ld.Reg(1) != src || st.Reg(1) != dst || st.Reg(0) != ld.Reg(0) {
		t.Error("copy chunk does not move src to dst")
	}
	checkValid(t, fn)
}

// TestMemmove_LoadsBeforeStores tests that a 12-byte move schedules
// every load before any store, since the regions may overlap.
func TestMemmove_LoadsBeforeStores(t *testing.T) {
	fn, b := testFunc(t)
	dst := b.ImplicitDef(mir.Pointer(0, 64))
	src := b.ImplicitDef(mir.Pointer(0, 64))
	n := b.Constant(mir.S64, 12)
	in := b.Insert(mir.OpMemMove,
		[]mir.Operand{mir.RegOp(dst), mir.RegOp(src), mir.RegOp(n)},
		&mir.MemOperand{AlignBytes: 8, SizeBits: 96},
		&mir.MemOperand{AlignBytes: 8, SizeBits: 96})

	h := NewHelper(fn, DefaultOptions())
	if !h.TryCombineMemCpyFamily(in, 0) {
		t.Fatal("memmove lowering did not fire")
	}

	want := []plannedStore{{64, 0}, {32, 8}}
	got := storePlan(t, fn, dst)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("store plan = %v, want %v", got, want)
	}

	seenStore := false
	for _, blk := range fn.Blocks() {
		for _, inst := range blk.Instrs() {
			switch inst.Op() {
			case mir.OpStore:
				seenStore = true
			case mir.OpLoad:
				if seenStore {
					t.Fatal("load issued after a store")
				}
			}
		}
	}
	checkValid(t, fn)
}

// TestBulkMem_EdgeCases tests the abstention and erasure edges of the
// family.
func TestBulkMem_EdgeCases(t *testing.T) {
	t.Run("zero length erased", func(t *testing.T) {
		fn, _, in := memsetFixture(t, 0, &mir.MemOperand{AlignBytes: 1, SizeBits: 0})
		h := NewHelper(fn, DefaultOptions())
		if !h.TryCombineMemCpyFamily(in, 0) {
			t.Fatal("zero-length memset not handled")
		}
		if countOps(fn, mir.OpMemSet) != 0 || countOps(fn, mir.OpStore) != 0 {
			t.Error("zero-length memset should vanish without stores")
		}
		checkValid(t, fn)
	})

	t.Run("volatile abstains", func(t *testing.T) {
		fn, _, in := memsetFixture(t, 8, &mir.MemOperand{AlignBytes: 8, SizeBits: 64, Volatile: true})
		h := NewHelper(fn, DefaultOptions())
		if h.TryCombineMemCpyFamily(in, 0) {
			t.Fatal("volatile memset was lowered")
		}
		if countOps(fn, mir.OpMemSet) != 1 {
			t.Error("volatile memset disappeared")
		}
	})

	t.Run("unknown length abstains", func(t *testing.T) {
		fn, b := testFunc(t)
		dst := b.ImplicitDef(mir.Pointer(0, 64))
		val := b.Constant(mir.S8, 0)
		n := b.ImplicitDef(mir.S64)
		in := b.Insert(mir.OpMemSet,
			[]mir.Operand{mir.RegOp(dst), mir.RegOp(val), mir.RegOp(n)},
			&mir.MemOperand{AlignBytes: 8, SizeBits: 0})
		h := NewHelper(fn, DefaultOptions())
		if h.TryCombineMemCpyFamily(in, 0) {
			t.Fatal("memset with unknown length was lowered")
		}
	})

	t.Run("length cap abstains", func(t *testing.T) {
		fn, _, in := memsetFixture(t, 9, &mir.MemOperand{AlignBytes: 4, SizeBits: 72})
		h := NewHelper(fn, DefaultOptions())
		if h.TryCombineMemCpyFamily(in, 4) {
			t.Fatal("memset above the inline cap was lowered")
		}
	})

	t.Run("store limit abstains", func(t *testing.T) {
		fn, _, in := memsetFixture(t, 9, &mir.MemOperand{AlignBytes: 4, SizeBits: 72})
		opts := DefaultOptions()
		p := strictAlignProfile()
		p.Stores.Memset = 2
		opts.Policy = p
		h := NewHelper(fn, opts)
		if h.TryCombineMemCpyFamily(in, 0) {
			t.Fatal("memset needing three stores was lowered under a two-store limit")
		}
	})
}
