package mir

import "fmt"

// Reg identifies a virtual register within one Function. Registers are
// handles into the function's register arena; 0 is the invalid
// register.
type Reg uint32

// NoReg is the zero, invalid register.
const NoReg Reg = 0

// UseRef points at one register-operand slot of one instruction.
type UseRef struct {
	Instr *Instr
	Index int
}

type regInfo struct {
	typ  Type
	def  *Instr
	uses []UseRef
}

type frameSlot struct {
	size  uint64
	align uint32
	fixed bool
}

// Function is an arena of basic blocks, instructions, virtual registers
// and frame slots. All IR mutation goes through Function methods (or a
// Builder wrapping one) so that def and use chains stay exact and the
// attached observers see every change.
type Function struct {
	name   string
	blocks []*Block
	regs   []regInfo
	slots  []frameSlot
	note   Notifier
}

// NewFunction returns an empty function.
func NewFunction(name string) *Function {
	return &Function{
		name: name,
		regs: make([]regInfo, 1), // index 0 is NoReg
	}
}

// Name returns the function name.
func (fn *Function) Name() string { return fn.name }

// Notify returns the function's notifier. Observers attach here.
func (fn *Function) Notify() *Notifier { return &fn.note }

// Blocks returns the blocks in layout order.
func (fn *Function) Blocks() []*Block { return fn.blocks }

// Entry returns the entry block, or nil for an empty function.
func (fn *Function) Entry() *Block {
	if len(fn.blocks) == 0 {
		return nil
	}
	return fn.blocks[0]
}

// NewBlock appends a fresh empty block at the end of the layout.
func (fn *Function) NewBlock() *Block {
	b := &Block{fn: fn, id: len(fn.blocks)}
	fn.blocks = append(fn.blocks, b)
	return b
}

// NewReg allocates a virtual register of type t. Observers see
// CreatedReg.
func (fn *Function) NewReg(t Type) Reg {
	if !t.Valid() {
		panic("mir: NewReg with invalid type")
	}
	fn.regs = append(fn.regs, regInfo{typ: t})
	r := Reg(len(fn.regs) - 1)
	fn.note.createdReg(r)
	return r
}

// CloneReg allocates a fresh register with the same type as r.
func (fn *Function) CloneReg(r Reg) Reg { return fn.NewReg(fn.TypeOf(r)) }

// TypeOf returns the type of r.
func (fn *Function) TypeOf(r Reg) Type {
	if r == NoReg || int(r) >= len(fn.regs) {
		panic(fmt.Sprintf("mir: TypeOf of invalid register %%%d", r))
	}
	return fn.regs[r].typ
}

// DefOf returns the instruction defining r, or nil if r has no
// definition yet.
func (fn *Function) DefOf(r Reg) *Instr { return fn.regs[r].def }

// UseRefs returns every operand slot reading r, one entry per slot. An
// instruction using r twice appears twice. The slice aliases internal
// state and must not be retained across mutations.
func (fn *Function) UseRefs(r Reg) []UseRef { return fn.regs[r].uses }

// UsesOf returns the instructions reading r, deduplicated and in no
// particular order.
func (fn *Function) UsesOf(r Reg) []*Instr {
	refs := fn.regs[r].uses
	out := make([]*Instr, 0, len(refs))
	for _, ref := range refs {
		dup := false
		for _, in := range out {
			if in == ref.Instr {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, ref.Instr)
		}
	}
	return out
}

// HasOneUse reports whether exactly one operand slot reads r.
func (fn *Function) HasOneUse(r Reg) bool { return len(fn.regs[r].uses) == 1 }

// HasUses reports whether any operand slot reads r.
func (fn *Function) HasUses(r Reg) bool { return len(fn.regs[r].uses) > 0 }

// AddFrameSlot reserves a stack slot and returns its index, suitable as
// the immediate of a frame-index instruction. Fixed slots model
// incoming arguments and other locations whose placement the function
// cannot move.
func (fn *Function) AddFrameSlot(size uint64, align uint32, fixed bool) int64 {
	if align == 0 || align&(align-1) != 0 {
		panic("mir: frame slot alignment must be a power of two")
	}
	fn.slots = append(fn.slots, frameSlot{size: size, align: align, fixed: fixed})
	return int64(len(fn.slots) - 1)
}

// SlotAlign returns the alignment of frame slot idx in bytes.
func (fn *Function) SlotAlign(idx int64) uint32 { return fn.slots[idx].align }

// SlotSize returns the size of frame slot idx in bytes.
func (fn *Function) SlotSize(idx int64) uint64 { return fn.slots[idx].size }

// SlotFixed reports whether frame slot idx has a fixed placement.
func (fn *Function) SlotFixed(idx int64) bool { return fn.slots[idx].fixed }

// SetSlotAlign raises or lowers the alignment of frame slot idx.
func (fn *Function) SetSlotAlign(idx int64, align uint32) {
	if align == 0 || align&(align-1) != 0 {
		panic("mir: frame slot alignment must be a power of two")
	}
	fn.slots[idx].align = align
}

// link records the def and use chains of a freshly attached in.
func (fn *Function) link(in *Instr) {
	defs := in.NumDefs()
	for i, op := range in.ops {
		if op.Kind != OperandReg || op.Reg == NoReg {
			continue
		}
		if i < defs {
			if fn.regs[op.Reg].def != nil {
				panic(fmt.Sprintf("mir: second definition of %%%d", op.Reg))
			}
			fn.regs[op.Reg].def = in
		} else {
			ri := &fn.regs[op.Reg]
			ri.uses = append(ri.uses, UseRef{Instr: in, Index: i})
		}
	}
}

// unlink removes in from every def and use chain.
func (fn *Function) unlink(in *Instr) {
	defs := in.NumDefs()
	for i, op := range in.ops {
		if op.Kind != OperandReg || op.Reg == NoReg {
			continue
		}
		if i < defs {
			fn.regs[op.Reg].def = nil
		} else {
			fn.dropUse(op.Reg, in, i)
		}
	}
}

func (fn *Function) dropUse(r Reg, in *Instr, idx int) {
	uses := fn.regs[r].uses
	for i, ref := range uses {
		if ref.Instr == in && ref.Index == idx {
			fn.regs[r].uses = append(uses[:i], uses[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("mir: use of %%%d not on chain", r))
}

// NewInstr creates an instruction and inserts it into blk at index idx
// (len(blk.instrs) appends). Observers see CreatedInstr after the
// instruction is linked.
func (fn *Function) NewInstr(blk *Block, idx int, op Opcode, ops []Operand, mem ...*MemOperand) *Instr {
	if blk.fn != fn {
		panic("mir: NewInstr into a foreign block")
	}
	in := &Instr{op: op, ops: ops, blk: blk, mem: mem}
	blk.insertAt(idx, in)
	fn.link(in)
	fn.note.createdInstr(in)
	return in
}

// Remove erases in from the function. Observers see ErasingInstr while
// the instruction is still intact; afterwards in is detached and must
// not be reused.
func (fn *Function) Remove(in *Instr) {
	if in.blk == nil {
		panic("mir: Remove of detached instruction")
	}
	fn.note.erasingInstr(in)
	fn.unlink(in)
	in.blk.remove(in)
	in.blk = nil
}

// mutate brackets a single-instruction edit with change notifications.
func (fn *Function) mutate(in *Instr, edit func()) {
	fn.note.changingInstr(in)
	edit()
	fn.note.changedInstr(in)
}

// SetOpcode rewrites the opcode in place. The operand list must remain
// valid for the new opcode; in particular the def count may not change.
func (fn *Function) SetOpcode(in *Instr, op Opcode) {
	if in.op.NumDefs() != op.NumDefs() {
		panic(fmt.Sprintf("mir: SetOpcode %s -> %s changes def count", in.op, op))
	}
	fn.mutate(in, func() { in.op = op })
}

// SetReg rewrites register operand i of in, maintaining use chains.
// Rewriting a def slot re-targets the definition.
func (fn *Function) SetReg(in *Instr, i int, r Reg) {
	if in.ops[i].Kind != OperandReg {
		panic(fmt.Sprintf("mir: SetReg on non-register operand %d of %s", i, in.op))
	}
	old := in.ops[i].Reg
	if old == r {
		return
	}
	fn.mutate(in, func() {
		if i < in.NumDefs() {
			if r != NoReg && fn.regs[r].def != nil {
				panic(fmt.Sprintf("mir: second definition of %%%d", r))
			}
			if old != NoReg {
				fn.regs[old].def = nil
			}
			in.ops[i].Reg = r
			if r != NoReg {
				fn.regs[r].def = in
			}
			return
		}
		if old != NoReg {
			fn.dropUse(old, in, i)
		}
		in.ops[i].Reg = r
		if r != NoReg {
			ri := &fn.regs[r]
			ri.uses = append(ri.uses, UseRef{Instr: in, Index: i})
		}
	})
}

// SetImm rewrites immediate operand i.
func (fn *Function) SetImm(in *Instr, i int, v int64) {
	if in.ops[i].Kind != OperandImm {
		panic(fmt.Sprintf("mir: SetImm on non-immediate operand %d of %s", i, in.op))
	}
	fn.mutate(in, func() { in.ops[i].Imm = v })
}

// SetPred rewrites predicate operand i.
func (fn *Function) SetPred(in *Instr, i int, p Predicate) {
	if in.ops[i].Kind != OperandPred {
		panic(fmt.Sprintf("mir: SetPred on non-predicate operand %d of %s", i, in.op))
	}
	fn.mutate(in, func() { in.ops[i].Pred = p })
}

// SetBlockArg rewrites branch-target operand i.
func (fn *Function) SetBlockArg(in *Instr, i int, b *Block) {
	if in.ops[i].Kind != OperandBlock {
		panic(fmt.Sprintf("mir: SetBlockArg on non-block operand %d of %s", i, in.op))
	}
	fn.mutate(in, func() { in.ops[i].Block = b })
}

// SetMemOp rewrites memory descriptor i.
func (fn *Function) SetMemOp(in *Instr, i int, m *MemOperand) {
	fn.mutate(in, func() { in.mem[i] = m })
}

// ReplaceAllRegUses rewrites every use of from into a use of to. Defs
// are untouched. Callers that need observer brackets around the whole
// rewrite use Notifier.ChangingAllUsesOfReg; each individual operand
// edit is bracketed here regardless.
func (fn *Function) ReplaceAllRegUses(from, to Reg) {
	if from == to {
		return
	}
	// The use list shrinks as we rewrite, so always take the head.
	for len(fn.regs[from].uses) > 0 {
		ref := fn.regs[from].uses[0]
		fn.SetReg(ref.Instr, ref.Index, to)
	}
}

// ConstrainRegType reports whether the types of a and b can be merged
// so that every use of a could read b directly. Types here are exact,
// so the merge succeeds only when they already agree.
func (fn *Function) ConstrainRegType(a, b Reg) bool {
	return fn.TypeOf(a) == fn.TypeOf(b)
}
