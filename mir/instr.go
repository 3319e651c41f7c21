package mir

import (
	"fmt"
	"slices"
	"strings"
)

// OperandKind discriminates the payload of an Operand.
type OperandKind uint8

const (
	OperandReg OperandKind = iota
	OperandImm
	OperandBlock
	OperandPred
	OperandPhys
	OperandMask
)

// PhysReg names a physical register. The rewrite engine never reasons
// about the meaning of a physical register; it only needs to notice that
// one is involved. 0 is invalid.
type PhysReg uint16

// Operand is one slot of an instruction: a virtual register (def or use),
// an immediate, a branch target, a comparison predicate, a physical
// register reference, or a shuffle permutation mask.
type Operand struct {
	Kind  OperandKind
	Reg   Reg
	Imm   int64
	Block *Block
	Pred  Predicate
	Phys  PhysReg
	Mask  []int32
}

// Equal reports whether two operands carry the same kind and payload.
func (o Operand) Equal(p Operand) bool {
	if o.Kind != p.Kind {
		return false
	}
	if o.Kind == OperandMask {
		return slices.Equal(o.Mask, p.Mask)
	}
	return o.Reg == p.Reg && o.Imm == p.Imm && o.Block == p.Block &&
		o.Pred == p.Pred && o.Phys == p.Phys
}

// RegOp returns a register operand.
func RegOp(r Reg) Operand { return Operand{Kind: OperandReg, Reg: r} }

// ImmOp returns an immediate operand.
func ImmOp(v int64) Operand { return Operand{Kind: OperandImm, Imm: v} }

// BlockOp returns a branch-target operand.
func BlockOp(b *Block) Operand { return Operand{Kind: OperandBlock, Block: b} }

// PredOp returns a comparison-predicate operand.
func PredOp(p Predicate) Operand { return Operand{Kind: OperandPred, Pred: p} }

// PhysOp returns a physical-register operand.
func PhysOp(p PhysReg) Operand { return Operand{Kind: OperandPhys, Phys: p} }

// MaskOp returns a shuffle-mask operand. Each entry picks a lane of the
// concatenated sources; -1 marks an undefined lane.
func MaskOp(mask []int32) Operand { return Operand{Kind: OperandMask, Mask: mask} }

// Instr is one instruction: an opcode, its operands (definitions first,
// per the opcode's convention), the owning block, and any memory
// descriptors. Instructions are created through a Builder or
// Function.NewInstr and mutated only through Function methods so that
// use-def chains stay exact.
type Instr struct {
	op  Opcode
	ops []Operand
	blk *Block
	mem []*MemOperand
}

// Op returns the opcode.
func (in *Instr) Op() Opcode { return in.op }

// NumOperands returns the operand count.
func (in *Instr) NumOperands() int { return len(in.ops) }

// NumDefs returns how many leading operands are definitions.
func (in *Instr) NumDefs() int { return in.op.NumDefs() }

// Operand returns operand i.
func (in *Instr) Operand(i int) Operand { return in.ops[i] }

// Reg returns the register of operand i, which must be a register
// operand.
func (in *Instr) Reg(i int) Reg {
	if in.ops[i].Kind != OperandReg {
		panic(fmt.Sprintf("mir: operand %d of %s is not a register", i, in.op))
	}
	return in.ops[i].Reg
}

// Imm returns the immediate of operand i.
func (in *Instr) Imm(i int) int64 {
	if in.ops[i].Kind != OperandImm {
		panic(fmt.Sprintf("mir: operand %d of %s is not an immediate", i, in.op))
	}
	return in.ops[i].Imm
}

// BlockArg returns the block of operand i.
func (in *Instr) BlockArg(i int) *Block {
	if in.ops[i].Kind != OperandBlock {
		panic(fmt.Sprintf("mir: operand %d of %s is not a block", i, in.op))
	}
	return in.ops[i].Block
}

// MaskArg returns the shuffle mask of operand i.
func (in *Instr) MaskArg(i int) []int32 {
	if in.ops[i].Kind != OperandMask {
		panic(fmt.Sprintf("mir: operand %d of %s is not a mask", i, in.op))
	}
	return in.ops[i].Mask
}

// PredArg returns the predicate of operand i.
func (in *Instr) PredArg(i int) Predicate {
	if in.ops[i].Kind != OperandPred {
		panic(fmt.Sprintf("mir: operand %d of %s is not a predicate", i, in.op))
	}
	return in.ops[i].Pred
}

// Block returns the owning basic block, or nil for a detached
// instruction.
func (in *Instr) Block() *Block { return in.blk }

// Func returns the owning function, or nil for a detached instruction.
func (in *Instr) Func() *Function {
	if in.blk == nil {
		return nil
	}
	return in.blk.fn
}

// MemOp returns memory descriptor i. Loads and stores carry one; bulk
// copy and move carry two, destination first.
func (in *Instr) MemOp(i int) *MemOperand { return in.mem[i] }

// NumMemOps returns the memory descriptor count.
func (in *Instr) NumMemOps() int { return len(in.mem) }

// IsPhi reports whether this is a phi node.
func (in *Instr) IsPhi() bool { return in.op == OpPhi }

// UsesPhysReg reports whether any operand references a physical register.
func (in *Instr) UsesPhysReg() bool {
	for i := range in.ops {
		if in.ops[i].Kind == OperandPhys {
			return true
		}
	}
	return false
}

// Identical reports whether other has the same opcode and literally the
// same operand list as in. It compares structure only; it does not look
// through copies or reason about values.
func (in *Instr) Identical(other *Instr) bool {
	if in.op != other.op || len(in.ops) != len(other.ops) {
		return false
	}
	for i := range in.ops {
		if !in.ops[i].Equal(other.ops[i]) {
			return false
		}
	}
	return true
}

// IdenticalUses reports whether other has the same opcode and literally
// the same use operands as in, ignoring the defined registers. Two
// distinct instructions with the same shape compare equal here even
// though their results live in different registers.
func (in *Instr) IdenticalUses(other *Instr) bool {
	if in.op != other.op || len(in.ops) != len(other.ops) {
		return false
	}
	for i := in.NumDefs(); i < len(in.ops); i++ {
		if !in.ops[i].Equal(other.ops[i]) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (in *Instr) String() string {
	var sb strings.Builder
	for i := 0; i < in.NumDefs(); i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%%%d", in.ops[i].Reg)
	}
	if in.NumDefs() > 0 {
		sb.WriteString(" = ")
	}
	sb.WriteString(in.op.String())
	for i := in.NumDefs(); i < len(in.ops); i++ {
		if i > in.NumDefs() {
			sb.WriteString(",")
		}
		sb.WriteString(" ")
		switch op := in.ops[i]; op.Kind {
		case OperandReg:
			fmt.Fprintf(&sb, "%%%d", op.Reg)
		case OperandImm:
			fmt.Fprintf(&sb, "%d", op.Imm)
		case OperandBlock:
			fmt.Fprintf(&sb, "bb%d", op.Block.id)
		case OperandPred:
			sb.WriteString(op.Pred.String())
		case OperandPhys:
			fmt.Fprintf(&sb, "$p%d", op.Phys)
		case OperandMask:
			sb.WriteString("[")
			for j, lane := range op.Mask {
				if j > 0 {
					sb.WriteString(" ")
				}
				if lane < 0 {
					sb.WriteString("u")
				} else {
					fmt.Fprintf(&sb, "%d", lane)
				}
			}
			sb.WriteString("]")
		}
	}
	return sb.String()
}
