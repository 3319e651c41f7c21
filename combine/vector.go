package combine

import (
	"go.uber.org/zap"

	"github.com/gogpu/gisel/mir"
)

// ConcatMatch is the match info of concat flattening: one register per
// result lane, lowest first, with NoReg marking a lane that every
// contributing source leaves undefined.
type ConcatMatch struct {
	Elems []mir.Reg
}

// TryCombineConcatVectors flattens a concat of built vectors into a
// single vector build.
func (h *Helper) TryCombineConcatVectors(in *mir.Instr) bool {
	var info ConcatMatch
	if !h.MatchCombineConcatVectors(in, &info) {
		return false
	}
	h.ApplyCombineConcatVectors(in, &info)
	return true
}

// MatchCombineConcatVectors matches a concat whose sources are all
// vector builds or undefined values, collecting the scalar lanes the
// flattened build will carry.
func (h *Helper) MatchCombineConcatVectors(in *mir.Instr, info *ConcatMatch) bool {
	if in.Op() != mir.OpConcatVectors {
		return false
	}
	for i := 1; i < in.NumOperands(); i++ {
		src := in.Reg(i)
		def := h.defIgnoringCopies(src)
		if def == nil {
			return false
		}
		switch def.Op() {
		case mir.OpBuildVector:
			for j := 1; j < def.NumOperands(); j++ {
				info.Elems = append(info.Elems, def.Reg(j))
			}
		case mir.OpImplicitDef:
			for lanes := h.fn.TypeOf(src).Elems(); lanes > 0; lanes-- {
				info.Elems = append(info.Elems, mir.NoReg)
			}
		default:
			return false
		}
	}
	return true
}

// ApplyCombineConcatVectors replaces the concat with one vector build
// of the collected lanes, or with an undefined value when no source
// defines any lane. Undefined lanes share a single fresh scalar.
func (h *Helper) ApplyCombineConcatVectors(in *mir.Instr, info *ConcatMatch) {
	h.assertOp(in, mir.OpConcatVectors)

	defined := false
	for _, e := range info.Elems {
		if e != mir.NoReg {
			defined = true
			break
		}
	}
	if !defined {
		h.replaceInstWithUndef(in)
		h.log.Debug("combined all-undef vector concat")
		return
	}

	h.b.SetInsertBefore(in)
	elemTy := h.fn.TypeOf(in.Reg(0)).Elem()
	undef := mir.NoReg
	ops := make([]mir.Operand, 0, len(info.Elems)+1)
	ops = append(ops, mir.RegOp(in.Reg(0)))
	for _, e := range info.Elems {
		if e == mir.NoReg {
			if undef == mir.NoReg {
				undef = h.b.ImplicitDef(elemTy)
			}
			e = undef
		}
		ops = append(ops, mir.RegOp(e))
	}

	blk, idx := in.Block(), in.Block().IndexOf(in)
	h.eraseInst(in)
	h.fn.NewInstr(blk, idx, mir.OpBuildVector, ops)

	h.log.Debug("flattened vector concat",
		zap.Int("lanes", len(info.Elems)))
}

// TryUndefShuffleVectorMask replaces a shuffle whose mask leaves every
// lane undefined with an undefined value.
func (h *Helper) TryUndefShuffleVectorMask(in *mir.Instr) bool {
	if !h.MatchUndefShuffleVectorMask(in) {
		return false
	}
	h.replaceInstWithUndef(in)
	h.log.Debug("combined all-undef shuffle mask")
	return true
}

// MatchUndefShuffleVectorMask matches a shuffle with an all-undef mask.
func (h *Helper) MatchUndefShuffleVectorMask(in *mir.Instr) bool {
	if in.Op() != mir.OpShuffleVector {
		return false
	}
	for _, lane := range in.MaskArg(3) {
		if lane >= 0 {
			return false
		}
	}
	return true
}

// ShuffleMatch is the match info of shuffle simplification: the source
// vectors whose concatenation, in order, reproduces the shuffle.
type ShuffleMatch struct {
	Srcs []mir.Reg
}

// TryCombineShuffleVector rewrites a shuffle whose mask copies whole
// sources in sequence as a concat, or forwards the single source it
// selects.
func (h *Helper) TryCombineShuffleVector(in *mir.Instr) bool {
	var info ShuffleMatch
	if !h.MatchCombineShuffleVector(in, &info) {
		return false
	}
	h.ApplyCombineShuffleVector(in, &info)
	return true
}

// MatchCombineShuffleVector matches a shuffle whose mask is a sequence
// of whole-source runs: each run of source-width lanes reads one input
// in lane order. [0 1 2 3] over two 2-lane inputs is their concat;
// [2 3] alone is the second input.
func (h *Helper) MatchCombineShuffleVector(in *mir.Instr, info *ShuffleMatch) bool {
	if in.Op() != mir.OpShuffleVector {
		return false
	}
	n := int32(h.fn.TypeOf(in.Reg(1)).Elems())
	mask := in.MaskArg(3)
	if n == 0 || len(mask)%int(n) != 0 {
		return false
	}
	for run := 0; run < len(mask); run += int(n) {
		first := mask[run]
		if first != 0 && first != n {
			return false
		}
		for j := int32(1); j < n; j++ {
			if mask[run+int(j)] != first+j {
				return false
			}
		}
		src := in.Reg(1)
		if first == n {
			src = in.Reg(2)
		}
		info.Srcs = append(info.Srcs, src)
	}
	return true
}

// ApplyCombineShuffleVector forwards the single selected source, or
// replaces the shuffle with a concat of the selected sources.
func (h *Helper) ApplyCombineShuffleVector(in *mir.Instr, info *ShuffleMatch) {
	h.assertOp(in, mir.OpShuffleVector)

	if len(info.Srcs) == 1 {
		src := info.Srcs[0]
		h.replaceInstWithReg(in, src)
		h.log.Debug("forwarded identity shuffle",
			zap.Uint32("src", uint32(src)))
		return
	}

	ops := make([]mir.Operand, 0, len(info.Srcs)+1)
	ops = append(ops, mir.RegOp(in.Reg(0)))
	for _, s := range info.Srcs {
		ops = append(ops, mir.RegOp(s))
	}
	blk, idx := in.Block(), in.Block().IndexOf(in)
	h.eraseInst(in)
	h.fn.NewInstr(blk, idx, mir.OpConcatVectors, ops)

	h.log.Debug("combined shuffle to concat",
		zap.Int("srcs", len(info.Srcs)))
}
