package combine

import (
	"go.uber.org/zap"

	"github.com/gogpu/gisel/mir"
)

// ExtLoadMatch is the match info of the extending-load combine: the
// load opcode and result type the load will be rewritten to.
type ExtLoadMatch struct {
	Op mir.Opcode
	Ty mir.Type
}

// TryExtendingLoads hoists extend operations into the load feeding
// them, rewriting the load to produce the extended value directly.
func (h *Helper) TryExtendingLoads(in *mir.Instr) bool {
	var info ExtLoadMatch
	if !h.MatchExtendingLoads(in, &info) {
		return false
	}
	h.ApplyExtendingLoads(in, &info)
	return true
}

// extCandidate pairs a load opcode with a destination type during
// preferred-use selection. defined distinguishes sign/zero extension
// from the undefined-bits any-extend.
type extCandidate struct {
	op      mir.Opcode
	ty      mir.Type
	defined bool
}

// MatchExtendingLoads scans the uses of a load's result for extend
// operations, picks the single preferred one under the deterministic
// tie-break, and reports the rewritten load shape in info. Vector
// loads, sub-byte widths and non-power-of-two widths abstain, as does
// a load with no extend use.
func (h *Helper) MatchExtendingLoads(in *mir.Instr, info *ExtLoadMatch) bool {
	if !in.Op().IsAnyLoad() {
		return false
	}
	res := in.Reg(0)
	resTy := h.fn.TypeOf(res)
	if !scalarPow2(resTy) {
		return false
	}
	mem := in.MemOp(0)
	if mem.Volatile || mem.Atomic() {
		return false
	}
	ptrTy := h.fn.TypeOf(in.Reg(1))

	var cur extCandidate
	for _, use := range h.fn.UsesOf(res) {
		cand, ok := h.extLoadCandidate(in, use, ptrTy, mem)
		if !ok {
			continue
		}
		cur = choosePreferredUse(cur, cand)
	}
	if cur.op == mir.OpInvalid {
		return false
	}
	info.Op = cur.op
	info.Ty = cur.ty
	return true
}

// extLoadCandidate turns one use of the load's result into a candidate
// rewritten load shape, or reports that the use is not an extend worth
// folding.
func (h *Helper) extLoadCandidate(load, use *mir.Instr, ptrTy mir.Type, mem *mir.MemOperand) (extCandidate, bool) {
	if !use.Op().IsExtend() {
		return extCandidate{}, false
	}
	useTy := h.fn.TypeOf(use.Reg(0))
	if !scalarPow2(useTy) {
		return extCandidate{}, false
	}

	var cand extCandidate
	switch use.Op() {
	case mir.OpSExt:
		cand = extCandidate{op: mir.OpSExtLoad, ty: useTy, defined: true}
	case mir.OpZExt:
		cand = extCandidate{op: mir.OpZExtLoad, ty: useTy, defined: true}
	case mir.OpAnyExt:
		// Undefined high bits: widen the load without changing its
		// extension behavior.
		cand = extCandidate{op: load.Op(), ty: useTy, defined: load.Op() != mir.OpLoad}
	}
	// An extending load only folds uses of its own kind.
	if load.Op() == mir.OpSExtLoad && cand.op != mir.OpSExtLoad {
		return extCandidate{}, false
	}
	if load.Op() == mir.OpZExtLoad && cand.op != mir.OpZExtLoad {
		return extCandidate{}, false
	}
	if !h.legal(cand.op, []mir.Type{cand.ty, ptrTy}, mem) {
		return extCandidate{}, false
	}
	return cand, true
}

// choosePreferredUse picks between the current preferred candidate and
// a new one: a defined (sign/zero) extension beats an undefined one;
// at equal width sign beats zero; otherwise the larger destination
// width wins.
func choosePreferredUse(cur, cand extCandidate) extCandidate {
	if cur.op == mir.OpInvalid {
		return cand
	}
	if cur.defined != cand.defined {
		if cand.defined {
			return cand
		}
		return cur
	}
	if cand.ty.Bits() > cur.ty.Bits() {
		return cand
	}
	if cand.ty.Bits() == cur.ty.Bits() &&
		cand.op == mir.OpSExtLoad && cur.op == mir.OpZExtLoad {
		return cand
	}
	return cur
}

// ApplyExtendingLoads rewrites the load to the shape chosen by
// MatchExtendingLoads and rewires every use of the old narrow result:
// same-kind extends merge into the new result (re-extending or
// truncating when widths differ), all other uses read a truncate
// inserted at a control-flow-safe point, at most one per block.
func (h *Helper) ApplyExtendingLoads(in *mir.Instr, info *ExtLoadMatch) {
	h.assertOp(in, mir.OpLoad, mir.OpSExtLoad, mir.OpZExtLoad)

	oldRes := in.Reg(0)
	oldTy := h.fn.TypeOf(oldRes)
	ptr := in.Reg(1)
	mem := in.MemOp(0)

	h.b.SetInsertBefore(in)
	newRes := h.fn.NewReg(info.Ty)
	newLoad := h.b.Insert(info.Op, []mir.Operand{mir.RegOp(newRes), mir.RegOp(ptr)}, mem)

	// One truncate of the wide result per block, reused across uses.
	truncs := make(map[*mir.Block]mir.Reg)

	for _, use := range h.fn.UsesOf(oldRes) {
		if h.sameKindExtend(use, info) {
			useDst := use.Reg(0)
			useTy := h.fn.TypeOf(useDst)
			switch {
			case useTy == info.Ty:
				h.eraseInst(use)
				h.replaceRegWith(useDst, newRes)
			case useTy.Bits() < info.Ty.Bits():
				// Narrower same-kind extend: its value is a truncate
				// of the wide result.
				h.b.SetInsertBefore(use)
				h.eraseInst(use)
				h.b.TruncInto(useDst, newRes)
			default:
				// Wider: re-extend from the already extended result.
				h.replaceRegOperand(use, 1, newRes)
			}
			continue
		}
		// Incompatible or non-extend use: hand it a truncate back to
		// the original narrow type.
		for _, ref := range usesIn(h.fn.UseRefs(oldRes), use) {
			t := h.truncInBlockFor(newLoad, use, ref.Index, oldTy, newRes, truncs)
			h.replaceRegOperand(use, ref.Index, t)
		}
	}
	h.eraseInst(in)

	h.log.Debug("combined extending load",
		zap.Stringer("load", newLoad.Op()),
		zap.Stringer("type", info.Ty))
}

// sameKindExtend reports whether use is an extend that the rewritten
// load already performs. Any-extends are compatible with every chosen
// kind because their high bits are undefined.
func (h *Helper) sameKindExtend(use *mir.Instr, info *ExtLoadMatch) bool {
	switch use.Op() {
	case mir.OpAnyExt:
		return true
	case mir.OpSExt:
		return info.Op == mir.OpSExtLoad
	case mir.OpZExt:
		return info.Op == mir.OpZExtLoad
	}
	return false
}

// truncInBlockFor returns a truncate of wide back to ty, visible at
// use's operand idx, inserting it at a control-flow-safe point: the
// end of the matching predecessor for a phi operand, right after the
// load when the use shares its block, otherwise at the top of the
// use's block after any phis. Truncates are deduplicated per insertion
// block through seen.
func (h *Helper) truncInBlockFor(load, use *mir.Instr, idx int, ty mir.Type, wide mir.Reg, seen map[*mir.Block]mir.Reg) mir.Reg {
	var blk *mir.Block
	atFront := false
	switch {
	case use.IsPhi():
		blk = use.BlockArg(idx + 1)
	case use.Block() == load.Block():
		blk = load.Block()
	default:
		blk = use.Block()
		atFront = true
	}
	if t, ok := seen[blk]; ok {
		return t
	}
	switch {
	case use.IsPhi():
		h.b.SetBlockEnd(blk)
	case atFront:
		h.b.SetBlockFront(blk)
	default:
		h.b.SetInsertAfter(load)
	}
	t := h.b.Trunc(ty, wide)
	seen[blk] = t
	return t
}

// usesIn filters refs down to the slots belonging to in. The result is
// a snapshot safe to hold across mutation.
func usesIn(refs []mir.UseRef, in *mir.Instr) []mir.UseRef {
	var out []mir.UseRef
	for _, ref := range refs {
		if ref.Instr == in {
			out = append(out, ref)
		}
	}
	return out
}

// scalarPow2 reports whether t is a byte-or-wider power-of-two scalar.
func scalarPow2(t mir.Type) bool {
	bits := t.Bits()
	return t.IsScalar() && bits >= 8 && bits&(bits-1) == 0
}

// TrySExtTruncSExtLoad removes an in-register sign extension made
// redundant by a sign-extending load further up a truncate chain.
func (h *Helper) TrySExtTruncSExtLoad(in *mir.Instr) bool {
	if !h.MatchSExtTruncSExtLoad(in) {
		return false
	}
	h.ApplySExtTruncSExtLoad(in)
	return true
}

// MatchSExtTruncSExtLoad matches
//
//	%w = SExtLoad (mem n bits)
//	%n = Trunc %w
//	%d = SExtInReg %n, n
//
// where the load already sign-extended from exactly n bits, making the
// in-register extension a no-op.
func (h *Helper) MatchSExtTruncSExtLoad(in *mir.Instr) bool {
	if in.Op() != mir.OpSExtInReg {
		return false
	}
	src := in.Reg(1)
	loadSrc := src
	if tr, ok := h.matchOpcodeDef(mir.OpTrunc, src); ok {
		loadSrc = tr.Reg(1)
	}
	load := h.defIgnoringCopies(loadSrc)
	if load == nil || load.Op() != mir.OpSExtLoad {
		return false
	}
	return uint64(load.MemOp(0).SizeBits) == uint64(in.Imm(2))
}

// ApplySExtTruncSExtLoad merges the result into the already-extended
// source.
func (h *Helper) ApplySExtTruncSExtLoad(in *mir.Instr) {
	h.assertOp(in, mir.OpSExtInReg)
	h.replaceInstWithReg(in, in.Reg(1))
}

// SExtInRegOfLoadMatch carries the narrowed memory width chosen by
// MatchSExtInRegOfLoad.
type SExtInRegOfLoadMatch struct {
	SizeBits uint32
}

// TrySExtInRegOfLoad folds an in-register sign extension of a load's
// only use into a sign-extending load of the narrowed width.
func (h *Helper) TrySExtInRegOfLoad(in *mir.Instr) bool {
	var info SExtInRegOfLoadMatch
	if !h.MatchSExtInRegOfLoad(in, &info) {
		return false
	}
	h.ApplySExtInRegOfLoad(in, &info)
	return true
}

// MatchSExtInRegOfLoad matches SExtInReg of a plain load that has no
// other user, choosing the narrower of the extension width and the
// load's memory width.
func (h *Helper) MatchSExtInRegOfLoad(in *mir.Instr, info *SExtInRegOfLoadMatch) bool {
	if in.Op() != mir.OpSExtInReg {
		return false
	}
	src := in.Reg(1)
	load := h.fn.DefOf(src)
	if load == nil || load.Op() != mir.OpLoad || !h.fn.HasOneUse(src) {
		return false
	}
	mem := load.MemOp(0)
	if mem.Volatile || mem.Atomic() {
		return false
	}
	bits := uint32(in.Imm(2))
	if mem.SizeBits < bits {
		bits = mem.SizeBits
	}
	if bits < 8 || bits&(bits-1) != 0 {
		return false
	}
	dstTy := h.fn.TypeOf(in.Reg(0))
	if !h.legal(mir.OpSExtLoad, []mir.Type{dstTy, h.fn.TypeOf(load.Reg(1))}, mem) {
		return false
	}
	info.SizeBits = bits
	return true
}

// ApplySExtInRegOfLoad replaces the load/SExtInReg pair with one
// sign-extending load of the narrowed width.
func (h *Helper) ApplySExtInRegOfLoad(in *mir.Instr, info *SExtInRegOfLoadMatch) {
	h.assertOp(in, mir.OpSExtInReg)
	dst := in.Reg(0)
	load := h.fn.DefOf(in.Reg(1))
	ptr := load.Reg(1)
	mem := load.MemOp(0).Offset(0, info.SizeBits/8)

	h.eraseInst(in)
	h.b.SetInsertBefore(load)
	h.b.Insert(mir.OpSExtLoad, []mir.Operand{mir.RegOp(dst), mir.RegOp(ptr)}, mem)
	h.eraseInst(load)
}
