// Package gisel provides a pure Go instruction combiner over a generic
// machine IR.
//
// gisel rewrites mir functions with local, pattern-driven combines:
//   - redundant-operation elimination (copies, round trips, identities)
//   - extension hoisting into loads
//   - pre/post-indexed load and store formation
//   - constant-length bulk-memory lowering to load/store sequences
//   - vector shuffle and concat simplification
//
// The package provides a simple, high-level API for running the
// combiner to a fixpoint as well as lower-level access to the
// individual rules.
//
// Example usage:
//
//	fn := mir.NewFunction("f")
//	// ... build IR with a mir.Builder ...
//	changed, err := gisel.Combine(fn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// For rule-level control, use the combine package directly:
//
//	h := combine.NewHelper(fn, combine.DefaultOptions())
//	h.TryExtendingLoads(in)
package gisel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/gogpu/gisel/combine"
	"github.com/gogpu/gisel/mir"
	"github.com/gogpu/gisel/target"
)

// Options configures a combiner run.
type Options struct {
	// Policy supplies the target tuning knobs (default: target.DefaultProfile)
	Policy target.Policy

	// Dominance resolves cross-block ordering queries (optional)
	Dominance combine.Dominance

	// KnownBits supplies bit-level value facts (optional)
	KnownBits combine.KnownBits

	// Legality gates rewrites on backend support (optional; nil means
	// everything is legal)
	Legality combine.Legality

	// Logger receives debug traces of applied rewrites
	Logger *zap.Logger

	// Validate enables IR validation before and after combining
	Validate bool

	// MaxPasses bounds the number of full fixpoint sweeps (default: 8)
	MaxPasses int

	// Config carries the pass-level combine switches
	Config combine.Config
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Validate:  true,
		MaxPasses: 8,
	}
}

// Combine rewrites fn to a fixpoint using default options. It reports
// whether anything changed.
//
// This is the simplest way to run the combiner. For more control, use
// CombineWithOptions or a Combiner.
func Combine(fn *mir.Function) (bool, error) {
	return CombineWithOptions(fn, DefaultOptions())
}

// CombineWithOptions rewrites fn to a fixpoint with custom options.
func CombineWithOptions(fn *mir.Function, opts Options) (bool, error) {
	return New(fn, opts).Run()
}

// Combiner drives the combine rules over one function: a worklist
// seeded in layout order and refilled through the function's change
// notifications until nothing more matches.
type Combiner struct {
	fn   *mir.Function
	h    *combine.Helper
	opts Options
}

// New wires a Combiner for fn.
func New(fn *mir.Function, opts Options) *Combiner {
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = 8
	}
	h := combine.NewHelper(fn, combine.Options{
		Dominance: opts.Dominance,
		KnownBits: opts.KnownBits,
		Legality:  opts.Legality,
		Policy:    opts.Policy,
		Logger:    opts.Logger,
		Config:    opts.Config,
	})
	return &Combiner{fn: fn, h: h, opts: opts}
}

// Helper exposes the rule engine for callers that mix the default
// sweep with hand-picked rules.
func (c *Combiner) Helper() *combine.Helper { return c.h }

// Run sweeps the function until no rule fires or the pass bound is
// hit. It reports whether anything changed.
func (c *Combiner) Run() (bool, error) {
	if c.opts.Validate {
		if err := validate(c.fn, "before combining"); err != nil {
			return false, err
		}
	}

	wl := newWorklist()
	n := c.fn.Notify()
	n.Attach(wl)
	defer n.Detach(wl)

	changed := false
	for pass := 0; pass < c.opts.MaxPasses; pass++ {
		for _, blk := range c.fn.Blocks() {
			for _, in := range blk.Instrs() {
				wl.push(in)
			}
		}
		any := false
		for {
			in, ok := wl.pop()
			if !ok {
				break
			}
			if c.h.TryCombine(in) {
				any = true
			}
		}
		if !any {
			break
		}
		changed = true
	}

	if c.opts.Validate {
		if err := validate(c.fn, "after combining"); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

func validate(fn *mir.Function, when string) error {
	errs, err := mir.Validate(fn)
	if err != nil {
		return fmt.Errorf("validation %s: %w", when, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation failed %s: %w", when, &errs[0])
	}
	return nil
}

// Validate checks a function against the structural IR invariants.
//
// Validation checks include:
//   - exact def and use chains
//   - block layout (phis first, terminators last)
//   - per-opcode operand shape and type agreement
//
// Returns a slice of validation errors. If the slice is empty,
// validation passed.
func Validate(fn *mir.Function) ([]mir.ValidationError, error) {
	return mir.Validate(fn)
}

// worklist is the driver's pending-instruction queue. It implements
// the observer capabilities so that rewrites requeue everything they
// touch, and erased instructions fall out instead of being revisited.
type worklist struct {
	queue   []*mir.Instr
	pending map[*mir.Instr]struct{}
}

func newWorklist() *worklist {
	return &worklist{pending: make(map[*mir.Instr]struct{})}
}

func (w *worklist) push(in *mir.Instr) {
	if _, ok := w.pending[in]; ok {
		return
	}
	w.pending[in] = struct{}{}
	w.queue = append(w.queue, in)
}

func (w *worklist) pop() (*mir.Instr, bool) {
	for len(w.queue) > 0 {
		in := w.queue[0]
		w.queue = w.queue[1:]
		if _, ok := w.pending[in]; !ok {
			continue // erased since queued
		}
		delete(w.pending, in)
		return in, true
	}
	return nil, false
}

// CreatedInstr implements mir.InstrObserver.
func (w *worklist) CreatedInstr(in *mir.Instr) { w.push(in) }

// ChangingInstr implements mir.InstrObserver.
func (w *worklist) ChangingInstr(*mir.Instr) {}

// ChangedInstr implements mir.InstrObserver.
func (w *worklist) ChangedInstr(in *mir.Instr) { w.push(in) }

// ErasingInstr implements mir.EraseObserver.
func (w *worklist) ErasingInstr(in *mir.Instr) { delete(w.pending, in) }
