package mir

import (
	"fmt"
)

// ValidationError represents a validation error.
type ValidationError struct {
	Message string
	// Optional context
	Function string
	Block    int
	Instr    string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Function != "" {
		if e.Instr != "" {
			return fmt.Sprintf("in function %s, bb%d, %s: %s", e.Function, e.Block, e.Instr, e.Message)
		}
		return fmt.Sprintf("in function %s, bb%d: %s", e.Function, e.Block, e.Message)
	}
	return e.Message
}

// Validator checks a function against the structural IR invariants:
// exact use and def chains, block layout (phis first, terminators
// last), operand shapes per opcode and basic type agreement.
type Validator struct {
	fn     *Function
	errors []ValidationError
	cur    *Block
}

// Validate checks fn for structural correctness. It returns the
// collected validation errors, or nil if the function is valid.
func Validate(fn *Function) ([]ValidationError, error) {
	if fn == nil {
		return nil, fmt.Errorf("function is nil")
	}

	v := &Validator{
		fn:     fn,
		errors: make([]ValidationError, 0),
	}

	v.validateBlocks()
	v.validateChains()

	if len(v.errors) > 0 {
		return v.errors, nil
	}
	return nil, nil
}

func (v *Validator) addError(msg string) {
	e := ValidationError{Message: msg, Function: v.fn.name}
	if v.cur != nil {
		e.Block = v.cur.id
	}
	v.errors = append(v.errors, e)
}

func (v *Validator) addInstrError(in *Instr, msg string) {
	v.errors = append(v.errors, ValidationError{
		Message:  msg,
		Function: v.fn.name,
		Block:    in.Block().id,
		Instr:    in.String(),
	})
}

// validateBlocks checks block layout and per-instruction shape.
func (v *Validator) validateBlocks() {
	for _, blk := range v.fn.blocks {
		v.cur = blk
		seenNonPhi := false
		for i, in := range blk.instrs {
			if in.blk != blk {
				v.addError(fmt.Sprintf("instruction %s not linked to its block", in))
			}
			if in.IsPhi() {
				if seenNonPhi {
					v.addError(fmt.Sprintf("phi %s after non-phi instruction", in))
				}
			} else {
				seenNonPhi = true
			}
			if in.op.IsTerminator() && i != len(blk.instrs)-1 && !blk.instrs[i+1].op.IsTerminator() {
				v.addError(fmt.Sprintf("non-terminator after terminator %s", in))
			}
			v.validateInstr(in)
		}
	}
	v.cur = nil
}

// validateInstr checks operand shape and type agreement for one
// instruction.
//
//nolint:gocognit,gocyclo,cyclop // Shape validation checks many opcode variants
func (v *Validator) validateInstr(in *Instr) {
	if in.op == OpInvalid || in.op >= numOpcodes {
		v.addInstrError(in, "invalid opcode")
		return
	}
	for i := 0; i < in.NumDefs(); i++ {
		if in.Operand(i).Kind != OperandReg || in.Operand(i).Reg == NoReg {
			v.addInstrError(in, fmt.Sprintf("def operand %d is not a register", i))
			return
		}
	}

	switch in.op {
	case OpCopy:
		// A copy may bridge distinct types of the same size, such as a
		// pointer and its integer representation.
		if v.fn.TypeOf(in.Reg(0)).Bits() != v.fn.TypeOf(in.Reg(1)).Bits() {
			v.addInstrError(in, "copy between different sizes")
		}

	case OpAdd, OpSub, OpMul, OpAnd, OpOr, OpXor:
		t := v.fn.TypeOf(in.Reg(0))
		if v.fn.TypeOf(in.Reg(1)) != t || v.fn.TypeOf(in.Reg(2)) != t {
			v.addInstrError(in, "operand types differ from result type")
		}

	case OpPtrAdd:
		if !v.fn.TypeOf(in.Reg(0)).IsPointer() || !v.fn.TypeOf(in.Reg(1)).IsPointer() {
			v.addInstrError(in, "pointer add of non-pointer")
		}
		if v.fn.TypeOf(in.Reg(2)).IsPointer() {
			v.addInstrError(in, "pointer add offset is a pointer")
		}

	case OpTrunc:
		if v.fn.TypeOf(in.Reg(0)).Bits() >= v.fn.TypeOf(in.Reg(1)).Bits() {
			v.addInstrError(in, "truncate does not narrow")
		}

	case OpAnyExt, OpSExt, OpZExt:
		if v.fn.TypeOf(in.Reg(0)).Bits() <= v.fn.TypeOf(in.Reg(1)).Bits() {
			v.addInstrError(in, "extend does not widen")
		}

	case OpSExtInReg:
		if v.fn.TypeOf(in.Reg(0)) != v.fn.TypeOf(in.Reg(1)) {
			v.addInstrError(in, "in-register extend changes type")
		}
		if w := in.Imm(2); w <= 0 || uint32(w) >= v.fn.TypeOf(in.Reg(0)).Bits() {
			v.addInstrError(in, fmt.Sprintf("in-register extend width %d out of range", in.Imm(2)))
		}

	case OpICmp:
		if in.Operand(1).Kind != OperandPred {
			v.addInstrError(in, "compare without predicate operand")
		}

	case OpPhi:
		if (in.NumOperands()-1)%2 != 0 {
			v.addInstrError(in, "phi with unpaired operands")
		}
		for i := 1; i < in.NumOperands(); i += 2 {
			if in.Operand(i).Kind != OperandReg || in.Operand(i+1).Kind != OperandBlock {
				v.addInstrError(in, fmt.Sprintf("phi pair at %d is not (value, block)", i))
				break
			}
		}

	case OpLoad, OpSExtLoad, OpZExtLoad, OpStore:
		if in.NumMemOps() != 1 {
			v.addInstrError(in, "scalar memory access without memory descriptor")
			break
		}
		ptr := in.Reg(in.NumDefs())
		if in.op == OpStore {
			ptr = in.Reg(1)
		}
		if !v.fn.TypeOf(ptr).IsPointer() {
			v.addInstrError(in, "memory access through non-pointer")
		}
		if in.op == OpSExtLoad || in.op == OpZExtLoad {
			if v.fn.TypeOf(in.Reg(0)).Bits() <= in.MemOp(0).SizeBits {
				v.addInstrError(in, "extending load does not widen its memory size")
			}
		}

	case OpIndexedLoad, OpIndexedSExtLoad, OpIndexedZExtLoad, OpIndexedStore:
		if in.NumMemOps() != 1 {
			v.addInstrError(in, "indexed memory access without memory descriptor")
			break
		}
		last := in.Operand(in.NumOperands() - 1)
		if last.Kind != OperandImm || (last.Imm != 0 && last.Imm != 1) {
			v.addInstrError(in, "indexed access flavor must be 0 or 1")
		}

	case OpMemCopy, OpMemMove:
		if in.NumMemOps() != 2 {
			v.addInstrError(in, "bulk copy needs two memory descriptors")
		}

	case OpMemSet:
		if in.NumMemOps() != 1 {
			v.addInstrError(in, "bulk set needs one memory descriptor")
		}

	case OpUnmerge:
		if v.fn.TypeOf(in.Reg(0)) != v.fn.TypeOf(in.Reg(1)) {
			v.addInstrError(in, "unmerge parts have different types")
		}
		if 2*v.fn.TypeOf(in.Reg(0)).Bits() != v.fn.TypeOf(in.Reg(2)).Bits() {
			v.addInstrError(in, "unmerge parts do not cover the source")
		}

	case OpMerge:
		if 2*v.fn.TypeOf(in.Reg(1)).Bits() != v.fn.TypeOf(in.Reg(0)).Bits() {
			v.addInstrError(in, "merge parts do not cover the result")
		}

	case OpConcatVectors:
		dst := v.fn.TypeOf(in.Reg(0))
		if !dst.IsVector() {
			v.addInstrError(in, "vector concat into non-vector")
			break
		}
		var lanes uint32
		for i := 1; i < in.NumOperands(); i++ {
			src := v.fn.TypeOf(in.Reg(i))
			if !src.IsVector() || src.Elem() != dst.Elem() {
				v.addInstrError(in, "vector concat source disagrees with result element type")
				break
			}
			lanes += uint32(src.Elems())
		}
		if lanes != uint32(dst.Elems()) {
			v.addInstrError(in, "vector concat sources do not cover the result lanes")
		}

	case OpShuffleVector:
		dst := v.fn.TypeOf(in.Reg(0))
		src := v.fn.TypeOf(in.Reg(1))
		if !dst.IsVector() || !src.IsVector() {
			v.addInstrError(in, "vector shuffle of non-vector")
			break
		}
		if v.fn.TypeOf(in.Reg(2)) != src || src.Elem() != dst.Elem() {
			v.addInstrError(in, "vector shuffle sources disagree")
			break
		}
		if in.Operand(3).Kind != OperandMask {
			v.addInstrError(in, "vector shuffle without mask operand")
			break
		}
		mask := in.MaskArg(3)
		if len(mask) != int(dst.Elems()) {
			v.addInstrError(in, "vector shuffle mask length differs from result lanes")
		}
		for _, lane := range mask {
			if lane < -1 || lane >= 2*int32(src.Elems()) {
				v.addInstrError(in, fmt.Sprintf("vector shuffle mask lane %d out of range", lane))
				break
			}
		}
	}
}

// validateChains cross-checks the register arena against the
// instructions actually present.
func (v *Validator) validateChains() {
	for r := Reg(1); int(r) < len(v.fn.regs); r++ {
		ri := &v.fn.regs[r]
		if ri.def != nil {
			if ri.def.blk == nil {
				v.addError(fmt.Sprintf("%%%d defined by detached instruction", r))
				continue
			}
			found := false
			for i := 0; i < ri.def.NumDefs(); i++ {
				if ri.def.Operand(i).Reg == r {
					found = true
					break
				}
			}
			if !found {
				v.addError(fmt.Sprintf("%%%d def chain points at non-defining %s", r, ri.def))
			}
		}
		for _, ref := range ri.uses {
			if ref.Instr.blk == nil {
				v.addError(fmt.Sprintf("%%%d used by detached instruction", r))
				continue
			}
			if ref.Index < ref.Instr.NumDefs() || ref.Index >= ref.Instr.NumOperands() {
				v.addError(fmt.Sprintf("%%%d use index %d out of range in %s", r, ref.Index, ref.Instr))
				continue
			}
			op := ref.Instr.Operand(ref.Index)
			if op.Kind != OperandReg || op.Reg != r {
				v.addError(fmt.Sprintf("%%%d use chain points at stale operand %d of %s", r, ref.Index, ref.Instr))
			}
		}
	}

	// The reverse direction: every register operand in the function must
	// be on its chain.
	for _, blk := range v.fn.blocks {
		for _, in := range blk.instrs {
			defs := in.NumDefs()
			for i, op := range in.ops {
				if op.Kind != OperandReg || op.Reg == NoReg {
					continue
				}
				if i < defs {
					if v.fn.regs[op.Reg].def != in {
						v.addError(fmt.Sprintf("%%%d def missing from chain for %s", op.Reg, in))
					}
					continue
				}
				onChain := false
				for _, ref := range v.fn.regs[op.Reg].uses {
					if ref.Instr == in && ref.Index == i {
						onChain = true
						break
					}
				}
				if !onChain {
					v.addError(fmt.Sprintf("%%%d use at operand %d missing from chain for %s", op.Reg, i, in))
				}
			}
		}
	}
}
