package combine

import "github.com/gogpu/gisel/mir"

// MatchEqualDefs reports whether two registers provably hold the same
// value. Both defs are chased through copies. Memory accesses never
// compare equal unless they read a provably invariant location, and
// anything touching a physical register only matches itself operand
// for operand.
func (h *Helper) MatchEqualDefs(a, b mir.Reg) bool {
	ia := h.defIgnoringCopies(a)
	ib := h.defIgnoringCopies(b)
	if ia == nil || ib == nil {
		return false
	}
	if ia == ib {
		// Multi-def instructions produce distinct values per def, so
		// the registers themselves have to line up.
		if ia.Op().NumDefs() > 1 {
			return h.regIgnoringCopies(a) == h.regIgnoringCopies(b)
		}
		return true
	}
	if ia.Op() != ib.Op() {
		return false
	}
	if mayAccessMemory(ia.Op()) {
		if ia.Op() != mir.OpLoad {
			return false
		}
		ma, mb := ia.MemOp(0), ib.MemOp(0)
		if ma == nil || mb == nil ||
			!ma.Invariant || !mb.Invariant || ma.Volatile || mb.Volatile {
			return false
		}
		if ma.SizeBits != mb.SizeBits || ma.Space != mb.Space {
			return false
		}
	}
	// Identical pure computations produce the same value. Operand
	// equality is literal, so physical register reads only match when
	// they name the same register.
	return ia.IdenticalUses(ib)
}

func mayAccessMemory(op mir.Opcode) bool {
	return op.IsLoadStore() || op.IsBulkMem() ||
		op == mir.OpIndexedLoad || op == mir.OpIndexedSExtLoad ||
		op == mir.OpIndexedZExtLoad || op == mir.OpIndexedStore
}

// MatchConstantOp reports whether operand idx of in is a constant with
// value v, chasing copies and extensions.
func (h *Helper) MatchConstantOp(in *mir.Instr, idx int, v int64) bool {
	c, ok := h.constantValue(in.Reg(idx))
	return ok && c == v
}

// ReplaceSingleDefInstWithOperand forwards use operand idx of a
// single-def instruction into its def and erases it.
func (h *Helper) ReplaceSingleDefInstWithOperand(in *mir.Instr, idx int) {
	if in.Op().NumDefs() != 1 || idx < 1 {
		panic("combine: ReplaceSingleDefInstWithOperand needs a single def and a use operand")
	}
	h.replaceInstWithReg(in, in.Reg(idx))
}

// TrySelectSameVal removes a select whose two arms are the same value.
func (h *Helper) TrySelectSameVal(in *mir.Instr) bool {
	if !h.MatchSelectSameVal(in) {
		return false
	}
	h.ReplaceSingleDefInstWithOperand(in, 2)
	return true
}

// MatchSelectSameVal matches Select cond, x, x.
func (h *Helper) MatchSelectSameVal(in *mir.Instr) bool {
	return in.Op() == mir.OpSelect && h.MatchEqualDefs(in.Reg(2), in.Reg(3))
}

// TryBinOpSameVal replaces a binary operation over twice the same
// value when the operation is idempotent for that shape: and/or of x
// with itself.
func (h *Helper) TryBinOpSameVal(in *mir.Instr) bool {
	if !h.MatchBinOpSameVal(in) {
		return false
	}
	h.ReplaceSingleDefInstWithOperand(in, 1)
	return true
}

// MatchBinOpSameVal matches And x, x and Or x, x.
func (h *Helper) MatchBinOpSameVal(in *mir.Instr) bool {
	if in.Op() != mir.OpAnd && in.Op() != mir.OpOr {
		return false
	}
	return h.MatchEqualDefs(in.Reg(1), in.Reg(2))
}

// MatchOperandIsZero reports whether use operand idx is a constant
// zero.
func (h *Helper) MatchOperandIsZero(in *mir.Instr, idx int) bool {
	return h.MatchConstantOp(in, idx, 0)
}

// TryConstantSelectCmp folds a select whose condition is a constant
// down to the chosen arm.
func (h *Helper) TryConstantSelectCmp(in *mir.Instr) bool {
	var idx int
	if !h.MatchConstantSelectCmp(in, &idx) {
		return false
	}
	h.ReplaceSingleDefInstWithOperand(in, idx)
	return true
}

// MatchConstantSelectCmp matches a select with a constant condition
// and reports which arm operand survives.
func (h *Helper) MatchConstantSelectCmp(in *mir.Instr, idx *int) bool {
	if in.Op() != mir.OpSelect {
		return false
	}
	c, ok := h.constantValue(in.Reg(1))
	if !ok {
		return false
	}
	if c != 0 {
		*idx = 2
	} else {
		*idx = 3
	}
	return true
}

// TryUndefSelectCmp folds a select on an undefined condition to its
// first arm, which is as good a choice as any.
func (h *Helper) TryUndefSelectCmp(in *mir.Instr) bool {
	if !h.MatchUndefSelectCmp(in) {
		return false
	}
	h.ReplaceSingleDefInstWithOperand(in, 2)
	return true
}

// MatchUndefSelectCmp matches a select whose condition is undefined.
func (h *Helper) MatchUndefSelectCmp(in *mir.Instr) bool {
	if in.Op() != mir.OpSelect {
		return false
	}
	_, ok := h.matchOpcodeDef(mir.OpImplicitDef, in.Reg(1))
	return ok
}

// MatchAnyExplicitUseIsUndef reports whether any use operand of in is
// an undefined value.
func (h *Helper) MatchAnyExplicitUseIsUndef(in *mir.Instr) bool {
	for i := in.Op().NumDefs(); i < in.NumOperands(); i++ {
		if in.Operand(i).Kind != mir.OperandReg {
			continue
		}
		if _, ok := h.matchOpcodeDef(mir.OpImplicitDef, in.Reg(i)); ok {
			return true
		}
	}
	return false
}

// MatchAllExplicitUsesAreUndef reports whether every register use
// operand of in is an undefined value.
func (h *Helper) MatchAllExplicitUsesAreUndef(in *mir.Instr) bool {
	for i := in.Op().NumDefs(); i < in.NumOperands(); i++ {
		if in.Operand(i).Kind != mir.OperandReg {
			continue
		}
		if _, ok := h.matchOpcodeDef(mir.OpImplicitDef, in.Reg(i)); !ok {
			return false
		}
	}
	return true
}

// TryUndefStore erases a store of an undefined value.
func (h *Helper) TryUndefStore(in *mir.Instr) bool {
	if !h.MatchUndefStore(in) {
		return false
	}
	h.eraseInst(in)
	return true
}

// MatchUndefStore matches a non-volatile, non-atomic store whose
// value is undefined. Volatile and atomic stores have side effects
// beyond the value and must stay.
func (h *Helper) MatchUndefStore(in *mir.Instr) bool {
	if in.Op() != mir.OpStore {
		return false
	}
	if m := in.MemOp(0); m != nil && (m.Volatile || m.Atomic()) {
		return false
	}
	_, ok := h.matchOpcodeDef(mir.OpImplicitDef, in.Reg(0))
	return ok
}

// ReplaceInstWithConstant removes in and rebuilds its def as a
// constant.
func (h *Helper) ReplaceInstWithConstant(in *mir.Instr, v int64) {
	h.replaceInstWithConstant(in, v)
}

// ReplaceInstWithUndef removes in and rebuilds its def as an
// undefined value.
func (h *Helper) ReplaceInstWithUndef(in *mir.Instr) {
	h.replaceInstWithUndef(in)
}

// EraseInst removes in from its function.
func (h *Helper) EraseInst(in *mir.Instr) {
	h.eraseInst(in)
}

// TryAndWithTrivialMask removes an AND with a low-ones mask when the
// bit-fact oracle proves the masked-off bits of the other operand are
// already zero.
func (h *Helper) TryAndWithTrivialMask(in *mir.Instr) bool {
	if !h.MatchAndWithTrivialMask(in) {
		return false
	}
	h.ReplaceSingleDefInstWithOperand(in, 1)
	return true
}

// MatchAndWithTrivialMask matches And x, mask where mask is a
// contiguous run of low one bits and the bits above it are known zero
// in x. Needs the bit-fact oracle; abstains without one.
func (h *Helper) MatchAndWithTrivialMask(in *mir.Instr) bool {
	if in.Op() != mir.OpAnd || h.kb == nil {
		return false
	}
	ty := h.fn.TypeOf(in.Reg(0))
	if !ty.IsScalar() {
		return false
	}
	c, ok := h.constantValue(in.Reg(2))
	if !ok {
		return false
	}
	width := ty.Bits()
	mask := uint64(c) & maskForBits(width)
	if mask == 0 || mask&(mask+1) != 0 {
		return false
	}
	notMask := ^mask & maskForBits(width)
	return h.kb.MaskedValueIsZero(in.Reg(1), notMask)
}

// TryRedundantSExtInReg removes an in-register sign extension whose
// source already carries at least that many sign bits.
func (h *Helper) TryRedundantSExtInReg(in *mir.Instr) bool {
	if !h.MatchRedundantSExtInReg(in) {
		return false
	}
	h.ReplaceSingleDefInstWithOperand(in, 1)
	return true
}

// MatchRedundantSExtInReg needs the bit-fact oracle: the source must
// be known to have more sign bits than the extension would create.
func (h *Helper) MatchRedundantSExtInReg(in *mir.Instr) bool {
	if in.Op() != mir.OpSExtInReg || h.kb == nil {
		return false
	}
	src := in.Reg(1)
	size := h.fn.TypeOf(src).Bits()
	extBits := uint32(in.Imm(2))
	return h.kb.NumSignBits(src) >= size-extBits+1
}

// TryNotCmp folds a logical negation of a comparison into the
// comparison by inverting its predicate.
func (h *Helper) TryNotCmp(in *mir.Instr) bool {
	var cmp *mir.Instr
	if !h.MatchNotCmp(in, &cmp) {
		return false
	}
	h.ApplyNotCmp(in, cmp)
	return true
}

// MatchNotCmp matches Xor cmp, true where cmp is the direct result of
// a comparison, the negation is its only reader, and true is the
// all-ones or one constant of the boolean type. Copies are not chased
// here: inverting the predicate rewrites the comparison in place, so
// any other path to its result would silently change meaning.
func (h *Helper) MatchNotCmp(in *mir.Instr, cmp **mir.Instr) bool {
	if in.Op() != mir.OpXor {
		return false
	}
	ty := h.fn.TypeOf(in.Reg(0))
	if !ty.IsScalar() {
		return false
	}
	c, ok := h.constantValue(in.Reg(2))
	if !ok || !isTrueConstant(c, ty.Bits()) {
		return false
	}
	src := in.Reg(1)
	def := h.fn.DefOf(src)
	if def == nil || def.Op() != mir.OpICmp || !h.fn.HasOneUse(src) {
		return false
	}
	*cmp = def
	return true
}

// ApplyNotCmp inverts the comparison predicate in place and forwards
// its result into the negation's def.
func (h *Helper) ApplyNotCmp(in *mir.Instr, cmp *mir.Instr) {
	h.assertOp(in, mir.OpXor)
	h.fn.SetPred(cmp, 1, cmp.PredArg(1).Inverse())
	dst := in.Reg(0)
	h.eraseInst(in)
	h.replaceRegWith(dst, cmp.Reg(0))
}

// isTrueConstant reports whether c reads as boolean true at the given
// width: the sole bit of an s1, or the value one elsewhere.
func isTrueConstant(c int64, width uint32) bool {
	if width == 1 {
		return c&1 == 1
	}
	return c == 1
}

// TryElideBrByInvertingCond removes an unconditional branch that
// follows a conditional one by inverting the condition and retargeting
// the conditional branch, letting control fall through to the layout
// successor.
func (h *Helper) TryElideBrByInvertingCond(in *mir.Instr) bool {
	var brCond, cmp *mir.Instr
	if !h.MatchElideBrByInvertingCond(in, &brCond, &cmp) {
		return false
	}
	h.ApplyElideBrByInvertingCond(in, brCond, cmp)
	return true
}

// MatchElideBrByInvertingCond matches
//
//	BrCond %c, bbNext   ; bbNext is the layout successor
//	Br bbOther
//
// where %c is the direct, single-use result of a comparison, so the
// predicate can be inverted without affecting other readers. A %c
// produced through a copy is not accepted for the same reason as in
// MatchNotCmp.
func (h *Helper) MatchElideBrByInvertingCond(in *mir.Instr, brCond, cmp **mir.Instr) bool {
	if in.Op() != mir.OpBr {
		return false
	}
	blk := in.Block()
	idx := blk.IndexOf(in)
	if idx < 1 {
		return false
	}
	prev := blk.Instrs()[idx-1]
	if prev.Op() != mir.OpBrCond {
		return false
	}
	if prev.BlockArg(1) != blk.LayoutSuccessor() {
		return false
	}
	cond := prev.Reg(0)
	def := h.fn.DefOf(cond)
	if def == nil || def.Op() != mir.OpICmp || !h.fn.HasOneUse(cond) {
		return false
	}
	*brCond = prev
	*cmp = def
	return true
}

// ApplyElideBrByInvertingCond inverts the comparison, points the
// conditional branch at the unconditional branch's target, and erases
// the unconditional branch.
func (h *Helper) ApplyElideBrByInvertingCond(in *mir.Instr, brCond, cmp *mir.Instr) {
	h.assertOp(in, mir.OpBr)
	h.fn.SetPred(cmp, 1, cmp.PredArg(1).Inverse())
	h.fn.SetBlockArg(brCond, 1, in.BlockArg(0))
	h.eraseInst(in)
}
