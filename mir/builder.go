package mir

import "fmt"

// Builder creates instructions at a movable insertion point. Successive
// builds land in program order. A zero insertion point is invalid;
// callers position the builder before building.
type Builder struct {
	fn  *Function
	blk *Block
	idx int
}

// NewBuilder returns a builder over fn with no insertion point.
func NewBuilder(fn *Function) *Builder { return &Builder{fn: fn, idx: -1} }

// Func returns the underlying function.
func (b *Builder) Func() *Function { return b.fn }

// SetInsertBefore positions the builder immediately before in.
func (b *Builder) SetInsertBefore(in *Instr) {
	b.blk = in.Block()
	b.idx = b.blk.IndexOf(in)
}

// SetInsertAfter positions the builder immediately after in.
func (b *Builder) SetInsertAfter(in *Instr) {
	b.blk = in.Block()
	b.idx = b.blk.IndexOf(in) + 1
}

// SetBlockFront positions the builder at the top of blk, after any
// phis.
func (b *Builder) SetBlockFront(blk *Block) {
	b.blk = blk
	b.idx = blk.FirstNonPhi()
}

// SetBlockEnd positions the builder at the end of blk, before the
// trailing terminator run if one exists.
func (b *Builder) SetBlockEnd(blk *Block) {
	b.blk = blk
	b.idx = blk.firstTerminator()
}

// Insert builds an instruction with explicit operands at the insertion
// point and advances past it.
func (b *Builder) Insert(op Opcode, ops []Operand, mem ...*MemOperand) *Instr {
	if b.blk == nil || b.idx < 0 {
		panic(fmt.Sprintf("mir: Builder.Insert %s with no insertion point", op))
	}
	in := b.fn.NewInstr(b.blk, b.idx, op, ops, mem...)
	b.idx++
	return in
}

// Constant materializes an integer constant of type t.
func (b *Builder) Constant(t Type, v int64) Reg {
	r := b.fn.NewReg(t)
	b.Insert(OpConstant, []Operand{RegOp(r), ImmOp(v)})
	return r
}

// FrameIndex materializes the address of frame slot idx as a pointer of
// type t.
func (b *Builder) FrameIndex(t Type, idx int64) Reg {
	r := b.fn.NewReg(t)
	b.Insert(OpFrameIndex, []Operand{RegOp(r), ImmOp(idx)})
	return r
}

// BinOp builds a two-operand arithmetic or bitwise instruction with a
// fresh result of type t.
func (b *Builder) BinOp(op Opcode, t Type, x, y Reg) Reg {
	r := b.fn.NewReg(t)
	b.Insert(op, []Operand{RegOp(r), RegOp(x), RegOp(y)})
	return r
}

// PtrAdd offsets pointer base by off, producing a pointer of type t.
func (b *Builder) PtrAdd(t Type, base, off Reg) Reg {
	return b.BinOp(OpPtrAdd, t, base, off)
}

// Copy builds dst = Copy src into the existing register dst.
func (b *Builder) Copy(dst, src Reg) *Instr {
	return b.Insert(OpCopy, []Operand{RegOp(dst), RegOp(src)})
}

// Trunc narrows src to type t.
func (b *Builder) Trunc(t Type, src Reg) Reg {
	r := b.fn.NewReg(t)
	b.Insert(OpTrunc, []Operand{RegOp(r), RegOp(src)})
	return r
}

// Ext widens src to type t with the given extension opcode.
func (b *Builder) Ext(op Opcode, t Type, src Reg) Reg {
	if !op.IsExtend() {
		panic(fmt.Sprintf("mir: Ext with %s", op))
	}
	r := b.fn.NewReg(t)
	b.Insert(op, []Operand{RegOp(r), RegOp(src)})
	return r
}

// ExtInto builds dst = op src into the existing register dst.
func (b *Builder) ExtInto(op Opcode, dst, src Reg) *Instr {
	if !op.IsExtend() {
		panic(fmt.Sprintf("mir: ExtInto with %s", op))
	}
	return b.Insert(op, []Operand{RegOp(dst), RegOp(src)})
}

// TruncInto builds dst = Trunc src into the existing register dst.
func (b *Builder) TruncInto(dst, src Reg) *Instr {
	return b.Insert(OpTrunc, []Operand{RegOp(dst), RegOp(src)})
}

// SExtInReg sign-extends the low width bits of src in place, producing
// a fresh register of src's type.
func (b *Builder) SExtInReg(src Reg, width int64) Reg {
	r := b.fn.CloneReg(src)
	b.Insert(OpSExtInReg, []Operand{RegOp(r), RegOp(src), ImmOp(width)})
	return r
}

// SExtInRegInto builds dst = SExtInReg src, width into the existing
// register dst.
func (b *Builder) SExtInRegInto(dst, src Reg, width int64) *Instr {
	return b.Insert(OpSExtInReg, []Operand{RegOp(dst), RegOp(src), ImmOp(width)})
}

// Load builds a plain or extending load of type t from ptr.
func (b *Builder) Load(op Opcode, t Type, ptr Reg, mem *MemOperand) Reg {
	if op != OpLoad && op != OpSExtLoad && op != OpZExtLoad {
		panic(fmt.Sprintf("mir: Load with %s", op))
	}
	r := b.fn.NewReg(t)
	b.Insert(op, []Operand{RegOp(r), RegOp(ptr)}, mem)
	return r
}

// Store builds a store of val through ptr.
func (b *Builder) Store(val, ptr Reg, mem *MemOperand) *Instr {
	return b.Insert(OpStore, []Operand{RegOp(val), RegOp(ptr)}, mem)
}

// IndexedLoad builds an indexed load. op selects the extension flavor,
// pre chooses pre-increment addressing.
func (b *Builder) IndexedLoad(op Opcode, dst, wb, base, off Reg, pre bool, mem *MemOperand) *Instr {
	if op != OpIndexedLoad && op != OpIndexedSExtLoad && op != OpIndexedZExtLoad {
		panic(fmt.Sprintf("mir: IndexedLoad with %s", op))
	}
	return b.Insert(op, []Operand{RegOp(dst), RegOp(wb), RegOp(base), RegOp(off), ImmOp(boolImm(pre))}, mem)
}

// IndexedStore builds an indexed store with writeback register wb.
func (b *Builder) IndexedStore(wb, val, base, off Reg, pre bool, mem *MemOperand) *Instr {
	return b.Insert(OpIndexedStore, []Operand{RegOp(wb), RegOp(val), RegOp(base), RegOp(off), ImmOp(boolImm(pre))}, mem)
}

// ICmp compares x and y under p, producing a fresh result of type t.
func (b *Builder) ICmp(t Type, p Predicate, x, y Reg) Reg {
	r := b.fn.NewReg(t)
	b.Insert(OpICmp, []Operand{RegOp(r), PredOp(p), RegOp(x), RegOp(y)})
	return r
}

// Select builds a fresh select of x or y on cond.
func (b *Builder) Select(t Type, cond, x, y Reg) Reg {
	r := b.fn.NewReg(t)
	b.Insert(OpSelect, []Operand{RegOp(r), RegOp(cond), RegOp(x), RegOp(y)})
	return r
}

// Unmerge splits src into parts of type elem, lowest part first.
func (b *Builder) Unmerge(elem Type, src Reg) (lo, hi Reg) {
	lo = b.fn.NewReg(elem)
	hi = b.fn.NewReg(elem)
	b.Insert(OpUnmerge, []Operand{RegOp(lo), RegOp(hi), RegOp(src)})
	return lo, hi
}

// MergeInto builds dst = Merge lo, hi into the existing register dst.
func (b *Builder) MergeInto(dst, lo, hi Reg) *Instr {
	return b.Insert(OpMerge, []Operand{RegOp(dst), RegOp(lo), RegOp(hi)})
}

// SplatVector broadcasts scalar v into a fresh vector of type t.
func (b *Builder) SplatVector(t Type, v Reg) Reg {
	r := b.fn.NewReg(t)
	b.Insert(OpSplatVector, []Operand{RegOp(r), RegOp(v)})
	return r
}

// BuildVectorInto assembles the element registers into the existing
// vector register dst, lowest lane first.
func (b *Builder) BuildVectorInto(dst Reg, elems ...Reg) *Instr {
	ops := make([]Operand, 0, len(elems)+1)
	ops = append(ops, RegOp(dst))
	for _, e := range elems {
		ops = append(ops, RegOp(e))
	}
	return b.Insert(OpBuildVector, ops)
}

// ConcatVectors joins the source vectors end to end into a fresh
// vector of type t.
func (b *Builder) ConcatVectors(t Type, srcs ...Reg) Reg {
	r := b.fn.NewReg(t)
	ops := make([]Operand, 0, len(srcs)+1)
	ops = append(ops, RegOp(r))
	for _, s := range srcs {
		ops = append(ops, RegOp(s))
	}
	b.Insert(OpConcatVectors, ops)
	return r
}

// ConcatVectorsInto joins the source vectors end to end into the
// existing register dst.
func (b *Builder) ConcatVectorsInto(dst Reg, srcs ...Reg) *Instr {
	ops := make([]Operand, 0, len(srcs)+1)
	ops = append(ops, RegOp(dst))
	for _, s := range srcs {
		ops = append(ops, RegOp(s))
	}
	return b.Insert(OpConcatVectors, ops)
}

// ShuffleVector permutes lanes of the concatenation of x and y by
// mask into a fresh vector of type t.
func (b *Builder) ShuffleVector(t Type, x, y Reg, mask []int32) Reg {
	r := b.fn.NewReg(t)
	b.Insert(OpShuffleVector, []Operand{RegOp(r), RegOp(x), RegOp(y), MaskOp(mask)})
	return r
}

// Br builds an unconditional branch to dst.
func (b *Builder) Br(dst *Block) *Instr {
	return b.Insert(OpBr, []Operand{BlockOp(dst)})
}

// BrCond builds a conditional branch to dst when cond is true.
func (b *Builder) BrCond(cond Reg, dst *Block) *Instr {
	return b.Insert(OpBrCond, []Operand{RegOp(cond), BlockOp(dst)})
}

// ImplicitDef builds an undefined value of type t.
func (b *Builder) ImplicitDef(t Type) Reg {
	r := b.fn.NewReg(t)
	b.Insert(OpImplicitDef, []Operand{RegOp(r)})
	return r
}

func boolImm(v bool) int64 {
	if v {
		return 1
	}
	return 0
}
