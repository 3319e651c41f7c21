package mir

import "math/bits"

// AtomicOrdering describes the atomic ordering constraint of a memory
// access. AtomicNone marks an ordinary, non-atomic access.
type AtomicOrdering uint8

const (
	AtomicNone AtomicOrdering = iota
	AtomicMonotonic
	AtomicAcquire
	AtomicRelease
	AtomicAcqRel
	AtomicSeqCst
)

// MemOperand describes the memory touched by a load, store, or bulk
// memory operation: where it lives, how wide it is, how well aligned the
// base address is, and what the access is allowed to assume.
type MemOperand struct {
	Space      uint8
	AlignBytes uint32 // alignment of the base address in bytes
	SizeBits   uint32 // declared span of the access
	Volatile   bool
	Invariant  bool // the location provably never changes
	Ordering   AtomicOrdering
}

// SizeBytes returns the declared span in bytes, rounding up.
func (m *MemOperand) SizeBytes() uint32 { return (m.SizeBits + 7) / 8 }

// Atomic reports whether the access carries an atomic ordering.
func (m *MemOperand) Atomic() bool { return m.Ordering != AtomicNone }

// Offset derives a descriptor for an access of newSizeBytes bytes at the
// given byte offset from this operand's base. The derived alignment is
// the best the offset preserves and never exceeds the original; the
// derived span never widens past the requested size. Volatility, address
// space, and ordering are inherited.
func (m *MemOperand) Offset(byteOff int64, newSizeBytes uint32) *MemOperand {
	derived := *m
	derived.SizeBits = newSizeBytes * 8
	derived.AlignBytes = offsetAlign(m.AlignBytes, byteOff)
	return &derived
}

// offsetAlign returns the guaranteed alignment of base+off when base is
// aligned to align bytes.
func offsetAlign(align uint32, off int64) uint32 {
	if off == 0 {
		return align
	}
	if off < 0 {
		off = -off
	}
	offAlign := uint32(1) << bits.TrailingZeros64(uint64(off))
	if offAlign < align {
		return offAlign
	}
	return align
}
