package combine

import (
	"math/bits"

	"github.com/gogpu/gisel/mir"
)

// PtrAddChain is the match info of the pointer-add chain fold: the
// original base and the combined immediate.
type PtrAddChain struct {
	Imm  int64
	Base mir.Reg
}

// TryPtrAddImmedChain folds two chained constant pointer-adds into one.
func (h *Helper) TryPtrAddImmedChain(in *mir.Instr) bool {
	var info PtrAddChain
	if !h.MatchPtrAddImmedChain(in, &info) {
		return false
	}
	h.ApplyPtrAddImmedChain(in, &info)
	return true
}

// MatchPtrAddImmedChain matches
//
//	%t = PtrAdd %base, Constant imm1
//	%r = PtrAdd %t, Constant imm2
//
// reassociating to %r = PtrAdd %base, (imm1 + imm2).
func (h *Helper) MatchPtrAddImmedChain(in *mir.Instr, info *PtrAddChain) bool {
	if in.Op() != mir.OpPtrAdd {
		return false
	}
	imm1, ok := h.constantValue(in.Reg(2))
	if !ok {
		return false
	}
	inner := h.fn.DefOf(in.Reg(1))
	if inner == nil || inner.Op() != mir.OpPtrAdd {
		return false
	}
	imm2, ok := h.constantValue(inner.Reg(2))
	if !ok {
		return false
	}
	info.Imm = imm1 + imm2
	info.Base = inner.Reg(1)
	return true
}

// ApplyPtrAddImmedChain rewrites in to add the combined immediate to
// the original base.
func (h *Helper) ApplyPtrAddImmedChain(in *mir.Instr, info *PtrAddChain) {
	h.assertOp(in, mir.OpPtrAdd)
	h.b.SetInsertBefore(in)
	offTy := h.fn.TypeOf(in.Reg(2))
	c := h.b.Constant(offTy, info.Imm)
	h.fn.SetReg(in, 1, info.Base)
	h.fn.SetReg(in, 2, c)
}

// TryMulToShl strength-reduces a multiply by a power of two to a left
// shift.
func (h *Helper) TryMulToShl(in *mir.Instr) bool {
	var shift int64
	if !h.MatchMulToShl(in, &shift) {
		return false
	}
	h.ApplyMulToShl(in, shift)
	return true
}

// MatchMulToShl reports the shift amount when in multiplies by a
// power-of-two constant.
func (h *Helper) MatchMulToShl(in *mir.Instr, shift *int64) bool {
	if in.Op() != mir.OpMul {
		return false
	}
	v, ok := h.constantValue(in.Reg(2))
	if !ok || v <= 0 || uint64(v)&(uint64(v)-1) != 0 {
		return false
	}
	*shift = int64(bits.TrailingZeros64(uint64(v)))
	return true
}

// ApplyMulToShl mutates the multiply into a shift in place.
func (h *Helper) ApplyMulToShl(in *mir.Instr, shift int64) {
	h.assertOp(in, mir.OpMul)
	h.b.SetInsertBefore(in)
	c := h.b.Constant(h.fn.TypeOf(in.Reg(0)), shift)
	h.fn.SetOpcode(in, mir.OpShl)
	h.fn.SetReg(in, 2, c)
}

// RegisterImmPair is a register plus an immediate, shared by rules
// whose rewrite needs exactly that.
type RegisterImmPair struct {
	Reg mir.Reg
	Imm int64
}

// TryShlOfExtend narrows shl (ext x), C to zext (shl x, C) when the
// shifted bits provably stay inside the narrow value.
func (h *Helper) TryShlOfExtend(in *mir.Instr) bool {
	var info RegisterImmPair
	if !h.MatchShlOfExtend(in, &info) {
		return false
	}
	h.ApplyShlOfExtend(in, &info)
	return true
}

// MatchShlOfExtend needs the bit-fact oracle: the extension source must
// have at least C known-leading-zero bits so the shift cannot overflow
// into the extended half.
func (h *Helper) MatchShlOfExtend(in *mir.Instr, info *RegisterImmPair) bool {
	if in.Op() != mir.OpShl || h.kb == nil {
		return false
	}
	ext := h.fn.DefOf(in.Reg(1))
	if ext == nil || !ext.Op().IsExtend() {
		return false
	}
	src := ext.Reg(1)
	amt, ok := h.constantValue(in.Reg(2))
	if !ok || amt < 0 {
		return false
	}
	srcTy := h.fn.TypeOf(src)
	if !srcTy.IsScalar() {
		return false
	}
	if !h.legal(mir.OpShl, []mir.Type{srcTy, srcTy}, nil) {
		return false
	}
	info.Reg = src
	info.Imm = amt
	return leadingKnownZeros(h.kb.KnownZeroBits(src), srcTy.Bits()) >= uint32(amt)
}

// ApplyShlOfExtend shifts in the narrow width and zero-extends the
// result.
func (h *Helper) ApplyShlOfExtend(in *mir.Instr, info *RegisterImmPair) {
	h.assertOp(in, mir.OpShl)
	dst := in.Reg(0)
	srcTy := h.fn.TypeOf(info.Reg)

	h.b.SetInsertBefore(in)
	amt := h.b.Constant(srcTy, info.Imm)
	narrow := h.b.BinOp(mir.OpShl, srcTy, info.Reg, amt)
	h.eraseInst(in)
	h.b.ExtInto(mir.OpZExt, dst, narrow)
}

// leadingKnownZeros counts the consecutive known-zero bits from the
// top of a width-bit value.
func leadingKnownZeros(knownZero uint64, width uint32) uint32 {
	var n uint32
	for i := int32(width) - 1; i >= 0; i-- {
		if knownZero&(1<<uint(i)) == 0 {
			break
		}
		n++
	}
	return n
}

// TryCombineShiftToUnmerge splits a wide shift by a constant of at
// least half the width into an unmerge, one narrow shift and a merge.
// targetShiftSize is the width below which the target wants shifts.
func (h *Helper) TryCombineShiftToUnmerge(in *mir.Instr, targetShiftSize uint32) bool {
	var shift int64
	if !h.MatchCombineShiftToUnmerge(in, targetShiftSize, &shift) {
		return false
	}
	h.ApplyCombineShiftToUnmerge(in, shift)
	return true
}

// MatchCombineShiftToUnmerge matches a scalar shift wider than
// targetShiftSize by a constant in [width/2, width).
func (h *Helper) MatchCombineShiftToUnmerge(in *mir.Instr, targetShiftSize uint32, shift *int64) bool {
	if !in.Op().IsShift() {
		return false
	}
	ty := h.fn.TypeOf(in.Reg(0))
	if !ty.IsScalar() {
		return false
	}
	size := ty.Bits()
	if size <= targetShiftSize || size%2 != 0 {
		return false
	}
	amt, ok := h.constantValue(in.Reg(2))
	if !ok {
		return false
	}
	*shift = amt
	return amt >= int64(size/2) && amt < int64(size)
}

// ApplyCombineShiftToUnmerge performs the split. The three shift kinds
// differ in which half carries the narrow shift and what fills the
// other half: zeros for logical shifts, sign-bit copies for the
// arithmetic right shift.
func (h *Helper) ApplyCombineShiftToUnmerge(in *mir.Instr, shift int64) {
	h.assertOp(in, mir.OpShl, mir.OpLShr, mir.OpAShr)
	dst := in.Reg(0)
	src := in.Reg(1)
	size := h.fn.TypeOf(src).Bits()
	halfSize := size / 2
	halfTy := mir.Scalar(uint16(halfSize))
	narrowAmt := shift - int64(halfSize)

	h.b.SetInsertBefore(in)
	lo, hi := h.b.Unmerge(halfTy, src)

	switch in.Op() {
	case mir.OpLShr:
		narrowed := hi
		if narrowAmt != 0 {
			c := h.b.Constant(halfTy, narrowAmt)
			narrowed = h.b.BinOp(mir.OpLShr, halfTy, hi, c)
		}
		zero := h.b.Constant(halfTy, 0)
		h.b.MergeInto(dst, narrowed, zero)
	case mir.OpShl:
		narrowed := lo
		if narrowAmt != 0 {
			c := h.b.Constant(halfTy, narrowAmt)
			narrowed = h.b.BinOp(mir.OpShl, halfTy, lo, c)
		}
		zero := h.b.Constant(halfTy, 0)
		h.b.MergeInto(dst, zero, narrowed)
	default:
		signAmt := h.b.Constant(halfTy, int64(halfSize)-1)
		signs := h.b.BinOp(mir.OpAShr, halfTy, hi, signAmt)
		switch {
		case shift == int64(halfSize):
			h.b.MergeInto(dst, hi, signs)
		case shift == int64(size)-1:
			// The sign fill is also the result half.
			h.b.MergeInto(dst, signs, signs)
		default:
			c := h.b.Constant(halfTy, narrowAmt)
			low := h.b.BinOp(mir.OpAShr, halfTy, hi, c)
			h.b.MergeInto(dst, low, signs)
		}
	}
	h.eraseInst(in)
}

// TryI2POfP2I removes an int-to-pointer of a pointer-to-int round
// trip.
func (h *Helper) TryI2POfP2I(in *mir.Instr) bool {
	var reg mir.Reg
	if !h.MatchI2POfP2I(in, &reg) {
		return false
	}
	h.replaceInstWithReg(in, reg)
	return true
}

// MatchI2POfP2I matches IntToPtr (PtrToInt x) where x already has the
// destination pointer type.
func (h *Helper) MatchI2POfP2I(in *mir.Instr, reg *mir.Reg) bool {
	if in.Op() != mir.OpIntToPtr {
		return false
	}
	p2i, ok := h.matchOpcodeDef(mir.OpPtrToInt, in.Reg(1))
	if !ok {
		return false
	}
	src := p2i.Reg(1)
	if h.fn.TypeOf(src) != h.fn.TypeOf(in.Reg(0)) {
		return false
	}
	*reg = src
	return true
}

// TryP2IOfI2P removes a pointer-to-int of an int-to-pointer round
// trip, adjusting the width if the two integer types differ.
func (h *Helper) TryP2IOfI2P(in *mir.Instr) bool {
	var reg mir.Reg
	if !h.MatchP2IOfI2P(in, &reg) {
		return false
	}
	h.ApplyP2IOfI2P(in, reg)
	return true
}

// MatchP2IOfI2P matches PtrToInt (IntToPtr x).
func (h *Helper) MatchP2IOfI2P(in *mir.Instr, reg *mir.Reg) bool {
	if in.Op() != mir.OpPtrToInt {
		return false
	}
	i2p, ok := h.matchOpcodeDef(mir.OpIntToPtr, in.Reg(1))
	if !ok {
		return false
	}
	*reg = i2p.Reg(1)
	return true
}

// ApplyP2IOfI2P forwards the original integer, zero-extending or
// truncating when the round trip changed width.
func (h *Helper) ApplyP2IOfI2P(in *mir.Instr, reg mir.Reg) {
	h.assertOp(in, mir.OpPtrToInt)
	dst := in.Reg(0)
	dstTy := h.fn.TypeOf(dst)
	srcTy := h.fn.TypeOf(reg)
	switch {
	case dstTy == srcTy:
		h.replaceInstWithReg(in, reg)
	case dstTy.Bits() > srcTy.Bits():
		h.b.SetInsertBefore(in)
		h.eraseInst(in)
		h.b.ExtInto(mir.OpZExt, dst, reg)
	default:
		h.b.SetInsertBefore(in)
		h.eraseInst(in)
		h.b.TruncInto(dst, reg)
	}
}

// PtrAddFromAdd is the match info of the add-of-pointer-to-int fold.
type PtrAddFromAdd struct {
	Ptr     mir.Reg
	Commute bool
}

// TryAddP2IToPtrAdd rewrites an integer add over a pointer-to-int into
// pointer arithmetic followed by one conversion.
func (h *Helper) TryAddP2IToPtrAdd(in *mir.Instr) bool {
	var info PtrAddFromAdd
	if !h.MatchAddP2IToPtrAdd(in, &info) {
		return false
	}
	h.ApplyAddP2IToPtrAdd(in, &info)
	return true
}

// MatchAddP2IToPtrAdd matches Add (PtrToInt p), x or its commuted
// form, but only when the conversion does not change width.
func (h *Helper) MatchAddP2IToPtrAdd(in *mir.Instr, info *PtrAddFromAdd) bool {
	if in.Op() != mir.OpAdd {
		return false
	}
	intBits := h.fn.TypeOf(in.Reg(1)).Bits()
	for i, r := range []mir.Reg{in.Reg(1), in.Reg(2)} {
		p2i, ok := h.matchOpcodeDef(mir.OpPtrToInt, r)
		if !ok {
			continue
		}
		ptr := p2i.Reg(1)
		if h.fn.TypeOf(ptr).Bits() != intBits {
			continue
		}
		info.Ptr = ptr
		info.Commute = i == 1
		return true
	}
	return false
}

// ApplyAddP2IToPtrAdd builds PtrAdd ptr, off and converts the result
// back to an integer in the add's register.
func (h *Helper) ApplyAddP2IToPtrAdd(in *mir.Instr, info *PtrAddFromAdd) {
	h.assertOp(in, mir.OpAdd)
	dst := in.Reg(0)
	off := in.Reg(2)
	if info.Commute {
		off = in.Reg(1)
	}
	ptrTy := h.fn.TypeOf(info.Ptr)

	h.b.SetInsertBefore(in)
	sum := h.b.PtrAdd(ptrTy, info.Ptr, off)
	h.eraseInst(in)
	h.b.Insert(mir.OpPtrToInt, []mir.Operand{mir.RegOp(dst), mir.RegOp(sum)})
}

// TryAnyExtTrunc removes an any-extend of a truncate when the
// truncate's input already has the destination type.
func (h *Helper) TryAnyExtTrunc(in *mir.Instr) bool {
	var reg mir.Reg
	if !h.MatchAnyExtTrunc(in, &reg) {
		return false
	}
	h.replaceInstWithReg(in, reg)
	return true
}

// MatchAnyExtTrunc matches AnyExt (Trunc x) with x of the destination
// type. The truncated bits are undefined in the result, so forwarding
// x is always sound.
func (h *Helper) MatchAnyExtTrunc(in *mir.Instr, reg *mir.Reg) bool {
	if in.Op() != mir.OpAnyExt {
		return false
	}
	tr, ok := h.matchOpcodeDef(mir.OpTrunc, in.Reg(1))
	if !ok {
		return false
	}
	src := tr.Reg(1)
	if h.fn.TypeOf(src) != h.fn.TypeOf(in.Reg(0)) {
		return false
	}
	*reg = src
	return true
}

// ExtOfExt is the match info of the chained-extension fold.
type ExtOfExt struct {
	Src   mir.Reg
	SrcOp mir.Opcode
}

// TryExtOfExt collapses chained extensions of compatible kinds.
func (h *Helper) TryExtOfExt(in *mir.Instr) bool {
	var info ExtOfExt
	if !h.MatchExtOfExt(in, &info) {
		return false
	}
	h.ApplyExtOfExt(in, &info)
	return true
}

// MatchExtOfExt matches extensions of extensions with the same opcode,
// plus anyext([sz]ext) and sext(zext), which fold to the inner kind.
func (h *Helper) MatchExtOfExt(in *mir.Instr, info *ExtOfExt) bool {
	if !in.Op().IsExtend() {
		return false
	}
	src := h.fn.DefOf(in.Reg(1))
	if src == nil || !src.Op().IsExtend() {
		return false
	}
	op, srcOp := in.Op(), src.Op()
	if op == srcOp ||
		(op == mir.OpAnyExt && (srcOp == mir.OpSExt || srcOp == mir.OpZExt)) ||
		(op == mir.OpSExt && srcOp == mir.OpZExt) {
		info.Src = src.Reg(1)
		info.SrcOp = srcOp
		return true
	}
	return false
}

// ApplyExtOfExt extends straight from the innermost source, keeping
// the inner kind when it is the stronger one.
func (h *Helper) ApplyExtOfExt(in *mir.Instr, info *ExtOfExt) {
	h.assertOp(in, mir.OpAnyExt, mir.OpSExt, mir.OpZExt)
	if in.Op() == info.SrcOp {
		h.fn.SetReg(in, 1, info.Src)
		return
	}
	dst := in.Reg(0)
	h.b.SetInsertBefore(in)
	h.eraseInst(in)
	h.b.ExtInto(info.SrcOp, dst, info.Src)
}

// TryAshrShlToSextInreg turns ashr (shl x, C), C into an in-register
// sign extension of the low width-C bits.
func (h *Helper) TryAshrShlToSextInreg(in *mir.Instr) bool {
	var info RegisterImmPair
	if !h.MatchAshrShlToSextInreg(in, &info) {
		return false
	}
	h.ApplyAshrShlToSextInreg(in, &info)
	return true
}

// MatchAshrShlToSextInreg matches the shift pair with equal constant
// amounts, subject to SExtInReg being legal at the source type.
func (h *Helper) MatchAshrShlToSextInreg(in *mir.Instr, info *RegisterImmPair) bool {
	if in.Op() != mir.OpAShr {
		return false
	}
	shl := h.fn.DefOf(in.Reg(1))
	if shl == nil || shl.Op() != mir.OpShl {
		return false
	}
	ashrAmt, ok := h.constantValue(in.Reg(2))
	if !ok {
		return false
	}
	shlAmt, ok := h.constantValue(shl.Reg(2))
	if !ok || shlAmt != ashrAmt {
		return false
	}
	srcTy := h.fn.TypeOf(shl.Reg(1))
	if ashrAmt <= 0 || ashrAmt >= int64(srcTy.Bits()) {
		return false
	}
	if !h.legal(mir.OpSExtInReg, []mir.Type{srcTy}, nil) {
		return false
	}
	info.Reg = shl.Reg(1)
	info.Imm = ashrAmt
	return true
}

// ApplyAshrShlToSextInreg replaces the pair with one SExtInReg.
func (h *Helper) ApplyAshrShlToSextInreg(in *mir.Instr, info *RegisterImmPair) {
	h.assertOp(in, mir.OpAShr)
	dst := in.Reg(0)
	size := int64(h.fn.TypeOf(info.Reg).Bits())
	h.b.SetInsertBefore(in)
	h.eraseInst(in)
	h.b.SExtInRegInto(dst, info.Reg, size-info.Imm)
}

// AddToSub is the match info of the add-of-negation fold.
type AddToSub struct {
	LHS mir.Reg
	RHS mir.Reg
}

// TrySimplifyAddToSub rewrites (0-A) + B and A + (0-B) as
// subtractions.
func (h *Helper) TrySimplifyAddToSub(in *mir.Instr) bool {
	var info AddToSub
	if !h.MatchSimplifyAddToSub(in, &info) {
		return false
	}
	h.ApplySimplifyAddToSub(in, &info)
	return true
}

// MatchSimplifyAddToSub matches an add where either operand is a
// subtraction from a constant zero.
func (h *Helper) MatchSimplifyAddToSub(in *mir.Instr, info *AddToSub) bool {
	if in.Op() != mir.OpAdd {
		return false
	}
	checkFold := func(maybeSub, other mir.Reg) bool {
		sub, ok := h.matchOpcodeDef(mir.OpSub, maybeSub)
		if !ok {
			return false
		}
		if c, ok := h.constantValue(sub.Reg(1)); !ok || c != 0 {
			return false
		}
		info.LHS = other
		info.RHS = sub.Reg(2)
		return true
	}
	return checkFold(in.Reg(1), in.Reg(2)) || checkFold(in.Reg(2), in.Reg(1))
}

// ApplySimplifyAddToSub replaces the add with the subtraction.
func (h *Helper) ApplySimplifyAddToSub(in *mir.Instr, info *AddToSub) {
	h.assertOp(in, mir.OpAdd)
	dst := in.Reg(0)
	h.b.SetInsertBefore(in)
	h.eraseInst(in)
	h.b.Insert(mir.OpSub, []mir.Operand{mir.RegOp(dst), mir.RegOp(info.LHS), mir.RegOp(info.RHS)})
}

// HoistLogicMatch records the rewrite of
// logic (hand x, ...), (hand y, ...) into hand (logic x, y), ...: the
// opcodes involved, the inner operands and the optional shared second
// hand operand.
type HoistLogicMatch struct {
	HandOp mir.Opcode
	X, Y   mir.Reg
	Extra  mir.Reg // NoReg when the hand is an extension
}

// TryHoistLogicOpWithSameOpcodeHands hoists a commutative logic
// operation through two structurally identical hands.
func (h *Helper) TryHoistLogicOpWithSameOpcodeHands(in *mir.Instr) bool {
	var info HoistLogicMatch
	if !h.MatchHoistLogicOpWithSameOpcodeHands(in, &info) {
		return false
	}
	h.ApplyHoistLogicOpWithSameOpcodeHands(in, &info)
	return true
}

// MatchHoistLogicOpWithSameOpcodeHands matches and/or/xor whose two
// operands are single-use hands of the same opcode: matching extends,
// or matching binary operations sharing an equal second operand.
func (h *Helper) MatchHoistLogicOpWithSameOpcodeHands(in *mir.Instr, info *HoistLogicMatch) bool {
	op := in.Op()
	if op != mir.OpAnd && op != mir.OpOr && op != mir.OpXor {
		return false
	}
	lhs, rhs := in.Reg(1), in.Reg(2)
	// Don't recompute anything.
	if !h.fn.HasOneUse(lhs) || !h.fn.HasOneUse(rhs) {
		return false
	}
	left := h.defIgnoringCopies(lhs)
	right := h.defIgnoringCopies(rhs)
	if left == nil || right == nil || left.Op() != right.Op() {
		return false
	}
	handOp := left.Op()

	x, y := left.Reg(1), right.Reg(1)
	xTy := h.fn.TypeOf(x)
	if xTy != h.fn.TypeOf(y) {
		return false
	}
	if !h.legal(op, []mir.Type{xTy, xTy}, nil) {
		return false
	}

	extra := mir.NoReg
	switch handOp {
	case mir.OpAnyExt, mir.OpSExt, mir.OpZExt:
		// logic (ext x), (ext y) -> ext (logic x, y)
	case mir.OpAnd, mir.OpAShr, mir.OpLShr, mir.OpShl:
		// logic (binop x, z), (binop y, z) -> binop (logic x, y), z
		if !h.MatchEqualDefs(left.Reg(2), right.Reg(2)) {
			return false
		}
		extra = left.Reg(2)
	default:
		return false
	}

	info.HandOp = handOp
	info.X = x
	info.Y = y
	info.Extra = extra
	return true
}

// ApplyHoistLogicOpWithSameOpcodeHands builds the hoisted form. The
// old hands become dead and are left for dead-code cleanup.
func (h *Helper) ApplyHoistLogicOpWithSameOpcodeHands(in *mir.Instr, info *HoistLogicMatch) {
	h.assertOp(in, mir.OpAnd, mir.OpOr, mir.OpXor)
	dst := in.Reg(0)
	logicOp := in.Op()
	xTy := h.fn.TypeOf(info.X)

	h.b.SetInsertBefore(in)
	inner := h.b.BinOp(logicOp, xTy, info.X, info.Y)
	h.eraseInst(in)
	if info.Extra == mir.NoReg {
		h.b.ExtInto(info.HandOp, dst, inner)
		return
	}
	h.b.Insert(info.HandOp, []mir.Operand{mir.RegOp(dst), mir.RegOp(inner), mir.RegOp(info.Extra)})
}
