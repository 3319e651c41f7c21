// Package combine implements a local, pattern-driven rewrite pass over
// the mir instruction graph: peephole rules that eliminate redundant
// operations, hoist extensions across loads, form pre/post-indexed
// memory accesses and lower constant-length bulk-memory operations.
//
// Every rule is a (match, apply) pair. Match is read-only; it may walk
// use-def edges and consult oracles but never mutates. Apply performs
// the rewrite through the function's notification protocol and cannot
// fail once its match has succeeded. An external driver decides which
// instruction to try next; TryCombine is the representative default
// dispatch order.
package combine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/gogpu/gisel/mir"
	"github.com/gogpu/gisel/target"
)

// Dominance answers whether one instruction executes before another on
// every path. The helper falls back to a same-block linear scan when no
// oracle is supplied.
type Dominance interface {
	Dominates(def, use *mir.Instr) bool
}

// KnownBits answers conservative bit-level facts about register values.
type KnownBits interface {
	// KnownZeroBits returns a mask of bits proven zero.
	KnownZeroBits(r mir.Reg) uint64
	// NumSignBits returns the number of copies of the sign bit,
	// counting the sign bit itself. At least 1.
	NumSignBits(r mir.Reg) uint32
	// MaskedValueIsZero reports whether every bit of mask is proven
	// zero in r.
	MaskedValueIsZero(r mir.Reg, mask uint64) bool
}

// Legality answers whether an operation is directly supported by the
// consuming backend. A nil Legality means everything is legal, which is
// the configuration used by pre-legalization passes.
type Legality interface {
	IsLegal(op mir.Opcode, types []mir.Type, mem *mir.MemOperand) bool
}

// Config carries the pass-level switches threaded into a Helper at
// construction.
type Config struct {
	// ForceLegalIndexing enables indexed load/store formation without
	// consulting the target policy. Off by default because most
	// backends do not select the indexed opcodes.
	ForceLegalIndexing bool
	// OptSize selects the size-optimized operation count limits when
	// lowering bulk-memory operations.
	OptSize bool
}

// Options configures a Helper. Zero values select the documented
// defaults.
type Options struct {
	// Dominance resolves cross-block ordering queries. Optional; when
	// nil only same-block ordering is known.
	Dominance Dominance
	// KnownBits supplies bit-level value facts. Optional; when nil the
	// rules depending on such facts abstain.
	KnownBits KnownBits
	// Legality gates rewrites on backend support. Optional; nil means
	// everything is legal.
	Legality Legality
	// Policy supplies target tuning knobs (default: target.DefaultProfile).
	Policy target.Policy
	// Logger receives debug traces of applied rewrites (default: no-op).
	Logger *zap.Logger

	Config Config
}

// DefaultOptions returns sensible default options: no oracles, the
// generic target profile, no tracing.
func DefaultOptions() Options {
	return Options{}
}

// Helper owns the rewrite rules for one function. It is single-writer:
// exactly one Helper mutates a function at a time, and every mutation
// flows through the function's notifier.
type Helper struct {
	fn  *mir.Function
	b   *mir.Builder
	dom Dominance
	kb  KnownBits
	leg Legality
	pol target.Policy
	cfg Config
	log *zap.Logger
}

// NewHelper returns a Helper over fn.
func NewHelper(fn *mir.Function, opts Options) *Helper {
	pol := opts.Policy
	if pol == nil {
		pol = target.DefaultProfile()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Helper{
		fn:  fn,
		b:   mir.NewBuilder(fn),
		dom: opts.Dominance,
		kb:  opts.KnownBits,
		leg: opts.Legality,
		pol: pol,
		cfg: opts.Config,
		log: log,
	}
}

// Func returns the function this helper rewrites.
func (h *Helper) Func() *mir.Function { return h.fn }

// TryCombine runs the default rule order on in: copy elimination, the
// extending-load combine, indexed access formation, then the vector
// shuffle and concat rewrites. It returns true when some rule rewrote
// the graph. The other rule families are exposed as individual TryX
// entry points for the driver to invoke opportunistically.
func (h *Helper) TryCombine(in *mir.Instr) bool {
	if h.TryCopy(in) {
		return true
	}
	if h.TryExtendingLoads(in) {
		return true
	}
	if h.TryCombineIndexed(in) {
		return true
	}
	if h.TryCombineConcatVectors(in) {
		return true
	}
	if h.TryUndefShuffleVectorMask(in) {
		return true
	}
	if h.TryCombineShuffleVector(in) {
		return true
	}
	return false
}

// TryCopy eliminates a copy by merging its result into its source.
func (h *Helper) TryCopy(in *mir.Instr) bool {
	if !h.MatchCopy(in) {
		return false
	}
	h.ApplyCopy(in)
	return true
}

// MatchCopy reports whether in is an eliminable copy: one whose result
// can be merged directly into its source without a residual copy.
func (h *Helper) MatchCopy(in *mir.Instr) bool {
	return in.Op() == mir.OpCopy && h.fn.ConstrainRegType(in.Reg(1), in.Reg(0))
}

// ApplyCopy merges the copy's result into its source and erases it.
func (h *Helper) ApplyCopy(in *mir.Instr) {
	h.assertOp(in, mir.OpCopy)
	dst, src := in.Reg(0), in.Reg(1)
	h.fn.Remove(in)
	h.replaceRegWith(dst, src)
}

// legal asks the legality oracle, treating its absence as yes.
func (h *Helper) legal(op mir.Opcode, types []mir.Type, mem *mir.MemOperand) bool {
	if h.leg == nil {
		return true
	}
	return h.leg.IsLegal(op, types, mem)
}

// dominates reports whether a executes before b on every path: a
// same-block linear scan when both share a block, else the dominance
// oracle, else unknown (false).
func (h *Helper) dominates(a, b *mir.Instr) bool {
	if a.Block() == b.Block() {
		return h.isPredecessor(a, b)
	}
	if h.dom != nil {
		return h.dom.Dominates(a, b)
	}
	return false
}

// isPredecessor reports whether a comes before b inside their shared
// block.
func (h *Helper) isPredecessor(a, b *mir.Instr) bool {
	blk := a.Block()
	if blk == nil || blk != b.Block() {
		panic("combine: isPredecessor across blocks")
	}
	return blk.IndexOf(a) < blk.IndexOf(b)
}

// defIgnoringCopies returns the defining instruction of r, looking
// through copy chains.
func (h *Helper) defIgnoringCopies(r mir.Reg) *mir.Instr {
	for {
		def := h.fn.DefOf(r)
		if def == nil || def.Op() != mir.OpCopy {
			return def
		}
		r = def.Reg(1)
	}
}

// regIgnoringCopies returns the register at the root of r's copy chain.
func (h *Helper) regIgnoringCopies(r mir.Reg) mir.Reg {
	for {
		def := h.fn.DefOf(r)
		if def == nil || def.Op() != mir.OpCopy {
			return r
		}
		r = def.Reg(1)
	}
}

// matchOpcodeDef returns r's copy-chain root definition when it has the
// given opcode.
func (h *Helper) matchOpcodeDef(op mir.Opcode, r mir.Reg) (*mir.Instr, bool) {
	def := h.defIgnoringCopies(r)
	if def == nil || def.Op() != op {
		return nil, false
	}
	return def, true
}

// constantValue resolves r to a compile-time integer constant, looking
// through copies and width changes. The value is returned in the width
// of r, sign-extended into the int64.
func (h *Helper) constantValue(r mir.Reg) (int64, bool) {
	def := h.fn.DefOf(r)
	if def == nil {
		return 0, false
	}
	switch def.Op() {
	case mir.OpConstant:
		return def.Imm(1), true
	case mir.OpCopy:
		return h.constantValue(def.Reg(1))
	case mir.OpTrunc:
		v, ok := h.constantValue(def.Reg(1))
		if !ok {
			return 0, false
		}
		return signExtend(v, h.fn.TypeOf(r).Bits()), true
	case mir.OpZExt:
		v, ok := h.constantValue(def.Reg(1))
		if !ok {
			return 0, false
		}
		return int64(uint64(v) & maskForBits(h.fn.TypeOf(def.Reg(1)).Bits())), true
	case mir.OpSExt, mir.OpAnyExt:
		v, ok := h.constantValue(def.Reg(1))
		if !ok {
			return 0, false
		}
		return signExtend(v, h.fn.TypeOf(def.Reg(1)).Bits()), true
	}
	return 0, false
}

// replaceRegWith redirects every use of from to to. When the type
// constraints cannot be merged a fresh copy of to, typed as from, is
// interposed instead; correctness is never traded for economy. The
// whole fan-out is bracketed as one unit for observers.
func (h *Helper) replaceRegWith(from, to mir.Reg) {
	if from == to {
		return
	}
	if !h.fn.ConstrainRegType(to, from) {
		def := h.fn.DefOf(to)
		if def != nil {
			h.b.SetInsertAfter(def)
		} else {
			h.b.SetBlockFront(h.fn.Entry())
		}
		fresh := h.fn.CloneReg(from)
		h.b.Copy(fresh, to)
		to = fresh
	}
	n := h.fn.Notify()
	n.ChangingAllUsesOfReg(h.fn, from)
	h.fn.ReplaceAllRegUses(from, to)
	n.FinishedChangingAllUsesOfReg()
}

// replaceRegOperand rewires one operand slot.
func (h *Helper) replaceRegOperand(in *mir.Instr, idx int, to mir.Reg) {
	h.fn.SetReg(in, idx, to)
}

// eraseInst removes in from the graph.
func (h *Helper) eraseInst(in *mir.Instr) {
	h.fn.Remove(in)
}

// replaceInstWithConstant replaces in with a constant materialization
// of its single result.
func (h *Helper) replaceInstWithConstant(in *mir.Instr, v int64) {
	r := in.Reg(0)
	blk, idx := in.Block(), in.Block().IndexOf(in)
	h.fn.Remove(in)
	h.fn.NewInstr(blk, idx, mir.OpConstant, []mir.Operand{mir.RegOp(r), mir.ImmOp(v)})
}

// replaceInstWithUndef replaces in with an undefined value.
func (h *Helper) replaceInstWithUndef(in *mir.Instr) {
	r := in.Reg(0)
	blk, idx := in.Block(), in.Block().IndexOf(in)
	h.fn.Remove(in)
	h.fn.NewInstr(blk, idx, mir.OpImplicitDef, []mir.Operand{mir.RegOp(r)})
}

// replaceInstWithReg erases in and merges its single result into r.
func (h *Helper) replaceInstWithReg(in *mir.Instr, r mir.Reg) {
	def := in.Reg(0)
	h.fn.Remove(in)
	h.replaceRegWith(def, r)
}

// assertOp panics when in does not carry the opcode a rule was
// dispatched for. Reaching this is a driver bug, not bad input.
func (h *Helper) assertOp(in *mir.Instr, want ...mir.Opcode) {
	for _, op := range want {
		if in.Op() == op {
			return
		}
	}
	panic(fmt.Sprintf("combine: expected %v, got %s", want, in.Op()))
}

// maskForBits returns a mask of the low bits.
func maskForBits(bits uint32) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

// signExtend interprets the low bits of v as a signed value.
func signExtend(v int64, bits uint32) int64 {
	if bits >= 64 {
		return v
	}
	shift := 64 - bits
	return int64(uint64(v)<<shift) >> shift
}
