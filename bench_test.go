package gisel

import (
	"testing"

	"github.com/gogpu/gisel/mir"
)

// buildLoadExtChain builds a function with n independent narrow loads,
// each extended and consumed, plus a copy in every chain. Every chain
// collapses to one extending load, so the function exercises the
// worklist across repeated local rewrites.
func buildLoadExtChain(n int) *mir.Function {
	fn := mir.NewFunction("bench")
	blk := fn.NewBlock()
	b := mir.NewBuilder(fn)
	b.SetBlockFront(blk)

	p := b.ImplicitDef(mir.Pointer(0, 64))
	for i := 0; i < n; i++ {
		off := b.Constant(mir.S64, int64(i*4))
		addr := b.PtrAdd(mir.Pointer(0, 64), p, off)
		v := b.Load(mir.OpLoad, mir.S8, addr, &mir.MemOperand{AlignBytes: 1, SizeBits: 8})
		c := fn.NewReg(mir.S8)
		b.Copy(c, v)
		w := b.Ext(mir.OpSExt, mir.S32, c)
		b.BinOp(mir.OpAdd, mir.S32, w, w)
	}
	return fn
}

var combineSizes = []struct {
	name string
	n    int
}{
	{"small", 8},
	{"medium", 64},
	{"large", 512},
}

func BenchmarkCombine(b *testing.B) {
	for _, sc := range combineSizes {
		b.Run(sc.name, func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				b.StopTimer()
				fn := buildLoadExtChain(sc.n)
				b.StartTimer()

				changed, err := Combine(fn)
				if err != nil {
					b.Fatalf("combine failed: %v", err)
				}
				if !changed {
					b.Fatal("combine found nothing to do")
				}
			}
		})
	}
}

func BenchmarkCombineNoValidation(b *testing.B) {
	opts := DefaultOptions()
	opts.Validate = false
	for _, sc := range combineSizes {
		b.Run(sc.name, func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				b.StopTimer()
				fn := buildLoadExtChain(sc.n)
				b.StartTimer()

				if _, err := CombineWithOptions(fn, opts); err != nil {
					b.Fatalf("combine failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkValidate(b *testing.B) {
	for _, sc := range combineSizes {
		b.Run(sc.name, func(b *testing.B) {
			fn := buildLoadExtChain(sc.n)
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				errs, err := Validate(fn)
				if err != nil {
					b.Fatalf("validate failed: %v", err)
				}
				if len(errs) != 0 {
					b.Fatalf("unexpected validation errors: %v", errs)
				}
			}
		})
	}
}
