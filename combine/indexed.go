package combine

import (
	"go.uber.org/zap"

	"github.com/gogpu/gisel/mir"
)

// IndexedMatch is the match info of indexed access formation: the
// pointer-add result that becomes the writeback register, its base and
// offset, and the addressing flavor.
type IndexedMatch struct {
	Addr   mir.Reg
	Base   mir.Reg
	Offset mir.Reg
	Pre    bool
}

// TryCombineIndexed folds a pointer-add adjacent to a load or store
// into a single pre- or post-indexed access.
func (h *Helper) TryCombineIndexed(in *mir.Instr) bool {
	var info IndexedMatch
	if !h.MatchCombineIndexed(in, &info) {
		return false
	}
	h.ApplyCombineIndexed(in, &info)
	return true
}

// MatchCombineIndexed looks for a pre-index candidate first, then a
// post-index candidate. Legality is decided per candidate against the
// access's own opcode and types, so a target that only selects, say,
// post-indexed stores still gets those formed.
func (h *Helper) MatchCombineIndexed(in *mir.Instr, info *IndexedMatch) bool {
	if !in.Op().IsLoadStore() {
		return false
	}
	info.Pre = h.findPreIndexCandidate(in, info)
	if !info.Pre && !h.findPostIndexCandidate(in, info) {
		return false
	}
	return true
}

func (h *Helper) indexingLegal(in *mir.Instr, pre bool) bool {
	if h.cfg.ForceLegalIndexing {
		return true
	}
	// Loads and stores both keep the value at operand 0 and the
	// address at operand 1.
	return h.pol.IsIndexingLegal(in.Op(), h.fn.TypeOf(in.Reg(1)), h.fn.TypeOf(in.Reg(0)), pre)
}

// findPostIndexCandidate searches the users of the access's base
// pointer for a pointer-add that could become the writeback: its
// offset must be computable before the access, and the access must
// dominate every use of the pointer-add's result so the indexed form
// can stand in for all later consumers.
func (h *Helper) findPostIndexCandidate(in *mir.Instr, info *IndexedMatch) bool {
	base := in.Reg(1)
	if def := h.fn.DefOf(base); def != nil && def.Op() == mir.OpFrameIndex {
		return false
	}

	for _, use := range h.fn.UsesOf(base) {
		if use.Op() != mir.OpPtrAdd || use.Reg(1) != base {
			continue
		}
		offset := use.Reg(2)
		if !h.indexingLegal(in, false) {
			continue
		}
		// The offset calculation must be before the access.
		offsetDef := h.fn.DefOf(offset)
		if offsetDef == nil || !h.dominates(offsetDef, in) {
			continue
		}
		ok := true
		for _, addrUse := range h.fn.UsesOf(use.Reg(0)) {
			if !h.dominates(in, addrUse) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		info.Addr = use.Reg(0)
		info.Base = base
		info.Offset = offset
		return true
	}
	return false
}

// findPreIndexCandidate checks whether the access's address is a
// pointer-add whose result the access can take over as a writeback.
// Frame-index bases gain nothing, a store of its own base or address
// would need a copy anyway, and every other use of the address must be
// dominated by the access.
func (h *Helper) findPreIndexCandidate(in *mir.Instr, info *IndexedMatch) bool {
	addr := in.Reg(1)
	addrDef, ok := h.matchOpcodeDef(mir.OpPtrAdd, addr)
	if !ok || h.fn.HasOneUse(addr) {
		return false
	}
	base := addrDef.Reg(1)
	offset := addrDef.Reg(2)

	if !h.indexingLegal(in, true) {
		return false
	}
	if baseDef := h.defIgnoringCopies(base); baseDef != nil && baseDef.Op() == mir.OpFrameIndex {
		return false
	}
	if in.Op() == mir.OpStore {
		if in.Reg(0) == base || in.Reg(0) == addr {
			return false
		}
	}
	for _, use := range h.fn.UsesOf(addr) {
		if use == in {
			continue
		}
		if !h.dominates(in, use) {
			return false
		}
	}
	info.Addr = addr
	info.Base = base
	info.Offset = offset
	return true
}

// ApplyCombineIndexed replaces the access and its pointer-add with one
// indexed instruction that performs the access and writes the next
// address back.
func (h *Helper) ApplyCombineIndexed(in *mir.Instr, info *IndexedMatch) {
	h.assertOp(in, mir.OpLoad, mir.OpSExtLoad, mir.OpZExtLoad, mir.OpStore)
	addrDef := h.fn.DefOf(info.Addr)
	mem := in.MemOp(0)

	var op mir.Opcode
	switch in.Op() {
	case mir.OpLoad:
		op = mir.OpIndexedLoad
	case mir.OpSExtLoad:
		op = mir.OpIndexedSExtLoad
	case mir.OpZExtLoad:
		op = mir.OpIndexedZExtLoad
	case mir.OpStore:
		op = mir.OpIndexedStore
	}

	val := in.Reg(0)
	blk, idx := in.Block(), in.Block().IndexOf(in)
	if addrDef.Block() == blk && blk.IndexOf(addrDef) < idx {
		idx--
	}
	h.eraseInst(in)
	h.eraseInst(addrDef)

	var ops []mir.Operand
	if op == mir.OpIndexedStore {
		ops = []mir.Operand{mir.RegOp(info.Addr), mir.RegOp(val)}
	} else {
		ops = []mir.Operand{mir.RegOp(val), mir.RegOp(info.Addr)}
	}
	ops = append(ops, mir.RegOp(info.Base), mir.RegOp(info.Offset), mir.ImmOp(boolToImm(info.Pre)))
	h.fn.NewInstr(blk, idx, op, ops, mem)

	h.log.Debug("combined to indexed access",
		zap.Stringer("op", op),
		zap.Bool("pre", info.Pre))
}

func boolToImm(v bool) int64 {
	if v {
		return 1
	}
	return 0
}
