package combine

import (
	"go.uber.org/zap"

	"github.com/gogpu/gisel/mir"
	"github.com/gogpu/gisel/target"
)

// memOpShape is the planner input: what findOptimalMemOpLowering needs
// to know about one bulk operation.
type memOpShape struct {
	size         uint64
	dstAlign     uint32
	srcAlign     uint32
	dstSpace     uint8
	dstCanChange bool
	isSet        bool
	zeroSet      bool
	allowOverlap bool
}

// TryCombineMemCpyFamily lowers a constant-length bulk-memory
// operation into an inline load/store sequence. Non-constant lengths
// are left for a runtime-call lowering elsewhere; volatile operations
// are never touched. maxLen, when non-zero, caps the length this
// combine will inline. Zero-length operations are simply erased.
//
// The discovery here is intertwined with the emission, so the family
// is not split into separate matcher and applier functions.
func (h *Helper) TryCombineMemCpyFamily(in *mir.Instr, maxLen uint64) bool {
	op := in.Op()
	if !op.IsBulkMem() {
		panic("combine: TryCombineMemCpyFamily on non-bulk instruction")
	}

	dstMem := in.MemOp(0)
	if dstMem.Volatile {
		return false
	}

	dst := in.Reg(0)
	src := in.Reg(1) // the fill value for a set
	length := in.Reg(2)

	knownLen, ok := h.constantValue(length)
	if !ok {
		return false
	}
	if knownLen == 0 {
		h.eraseInst(in)
		return true
	}
	if knownLen < 0 || (maxLen != 0 && uint64(knownLen) > maxLen) {
		return false
	}

	switch op {
	case mir.OpMemCopy:
		return h.optimizeMemcpy(in, dst, src, uint64(knownLen))
	case mir.OpMemMove:
		return h.optimizeMemmove(in, dst, src, uint64(knownLen))
	default:
		return h.optimizeMemset(in, dst, src, uint64(knownLen))
	}
}

// dstAlignCanChange reports whether the destination's alignment is
// still ours to raise: it must come from a frame slot the function
// owns rather than a fixed location. The slot index is returned for
// the eventual adjustment.
func (h *Helper) dstAlignCanChange(dst mir.Reg) (int64, bool) {
	fi, ok := h.matchOpcodeDef(mir.OpFrameIndex, dst)
	if !ok {
		return 0, false
	}
	idx := fi.Imm(1)
	if h.fn.SlotFixed(idx) {
		return 0, false
	}
	return idx, true
}

// raiseSlotAlign raises the frame slot's declared alignment to match
// the widest planned access, clamped so a target without dynamic stack
// realignment never exceeds its natural stack alignment. It returns
// the alignment now in effect.
func (h *Helper) raiseSlotAlign(fi int64, cur uint32, widest mir.Type) uint32 {
	newAlign := widest.Bytes()
	if !h.pol.StackRealignable() {
		for newAlign > cur && newAlign > h.pol.NaturalStackAlign() {
			newAlign /= 2
		}
	}
	if newAlign > cur {
		cur = newAlign
		if h.fn.SlotAlign(fi) < cur {
			h.fn.SetSlotAlign(fi, cur)
		}
	}
	return cur
}

// findOptimalMemOpLowering computes the sequence of access types
// covering shape.size: start from the widest type the destination
// alignment supports (or a target-suggested type), then repeatedly
// peel the widest power-of-two chunk that fits, switching to an
// overlapping unaligned tail instead of a narrower chunk when the
// target reports misaligned access as fast and at least one chunk has
// already been planned. Returns nil when the plan would exceed limit
// or no valid type exists.
func (h *Helper) findOptimalMemOpLowering(shape memOpShape, limit int) []mir.Type {
	if !shape.isSet && !shape.dstCanChange && shape.srcAlign < shape.dstAlign {
		return nil
	}

	ty := h.pol.OptimalMemOpType(target.MemOpShape{
		Size:       shape.size,
		DstAlign:   shape.dstAlign,
		SrcAlign:   shape.srcAlign,
		Memset:     shape.isSet,
		ZeroMemset: shape.zeroSet,
	})
	if !ty.Valid() {
		// Use the largest scalar whose alignment constraint is
		// satisfied. Only the destination matters: the source align is
		// always greater or equal (checked above).
		ty = mir.S64
		if !shape.dstCanChange {
			for ty.Bits() > 8 && shape.dstAlign < ty.Bytes() {
				if allowed, _ := h.pol.AllowsMisalignedAccess(ty, shape.dstSpace, shape.dstAlign); allowed {
					break
				}
				ty = mir.Scalar(uint16(ty.Bits() / 2))
			}
		}
	}
	if !ty.Valid() {
		return nil
	}

	var plan []mir.Type
	size := shape.size
	for size > 0 {
		tySize := uint64(ty.Bytes())
		for tySize > size {
			newTy := ty
			// Only scalar accesses for the left-over pieces.
			if newTy.IsVector() {
				if newTy.Bits() > 64 {
					newTy = mir.S64
				} else {
					newTy = mir.S32
				}
			}
			newTy = mir.Scalar(uint16(pow2Floor(newTy.Bits() - 1)))
			newTySize := uint64(newTy.Bytes())

			// If the narrower type cannot cover the remaining bytes
			// either, consider one overlapping unaligned access
			// instead of a chain of small ones.
			_, fast := h.pol.AllowsMisalignedAccess(ty, shape.dstSpace, shape.dstAlign)
			if len(plan) > 0 && shape.allowOverlap && newTySize < size && fast {
				tySize = size
			} else {
				ty = newTy
				tySize = newTySize
			}
		}

		if len(plan)+1 > limit {
			return nil
		}
		plan = append(plan, ty)
		size -= tySize
	}
	return plan
}

// memsetValue materializes the fill value replicated across ty. A
// known fill byte becomes a repeated-byte constant; otherwise the byte
// is widened and multiplied by the 0x0101..01 pattern, then splat
// across lanes for vector destinations.
func (h *Helper) memsetValue(val mir.Reg, ty mir.Type) mir.Reg {
	bits := uint32(ty.ScalarBits())
	if v, ok := h.constantValue(val); ok {
		if !ty.IsVector() {
			return h.b.Constant(ty, int64(splatByte(uint8(v), bits)))
		}
		if v == 0 {
			return h.b.Constant(ty, 0)
		}
	}

	extTy := mir.Scalar(ty.ScalarBits())
	valTy := h.fn.TypeOf(val)
	ext := val
	switch {
	case extTy.Bits() > valTy.Bits():
		ext = h.b.Ext(mir.OpZExt, extTy, val)
	case extTy.Bits() < valTy.Bits():
		ext = h.b.Trunc(extTy, val)
	}
	out := ext
	if bits > 8 {
		magic := h.b.Constant(extTy, int64(splatByte(0x01, bits)))
		out = h.b.BinOp(mir.OpMul, extTy, ext, magic)
	}
	if ty.IsVector() {
		out = h.b.SplatVector(ty, out)
	}
	return out
}

// offsetPtr returns base displaced by off bytes, materializing the
// constant and pointer-add only when off is non-zero.
func (h *Helper) offsetPtr(base mir.Reg, off int64) mir.Reg {
	if off == 0 {
		return base
	}
	ptrTy := h.fn.TypeOf(base)
	c := h.b.Constant(mir.Scalar(uint16(ptrTy.Bits())), off)
	return h.b.PtrAdd(ptrTy, base, c)
}

func (h *Helper) optimizeMemset(in *mir.Instr, dst, val mir.Reg, knownLen uint64) bool {
	dstMem := in.MemOp(0)
	align := dstMem.AlignBytes

	fi, canChange := h.dstAlignCanChange(dst)
	fillVal, haveFill := h.constantValue(val)
	isZero := haveFill && fillVal == 0

	limit := h.pol.MaxStoresPerMemset(h.cfg.OptSize)
	plan := h.findOptimalMemOpLowering(memOpShape{
		size:         knownLen,
		dstAlign:     align,
		dstSpace:     dstMem.Space,
		dstCanChange: canChange,
		isSet:        true,
		zeroSet:      isZero,
		allowOverlap: true,
	}, limit)
	if plan == nil {
		return false
	}

	if canChange {
		h.raiseSlotAlign(fi, align, plan[0])
	}

	h.b.SetInsertBefore(in)

	largest := plan[0]
	for _, ty := range plan[1:] {
		if ty.Bits() > largest.Bits() {
			largest = ty
		}
	}

	// The fill value arrives as an s8; replicate its bit pattern
	// across the widest planned store type once, up front.
	wide := h.memsetValue(val, largest)

	var dstOff int64
	size := knownLen
	for _, ty := range plan {
		tySize := uint64(ty.Bytes())
		if tySize > size {
			// Overlapping unaligned tail: slide the final store
			// backward so it ends exactly at the end of the region.
			dstOff -= int64(tySize - size)
		}

		value := wide
		if ty.Bits() < largest.Bits() {
			if !largest.IsVector() && !ty.IsVector() && h.pol.IsTruncateFree(largest, ty) {
				value = h.b.Trunc(ty, wide)
			} else {
				value = h.memsetValue(val, ty)
			}
		}

		storeMem := dstMem.Offset(dstOff, ty.Bytes())
		h.b.Store(value, h.offsetPtr(dst, dstOff), storeMem)

		dstOff += int64(tySize)
		size -= min64(tySize, size)
	}

	h.eraseInst(in)
	h.log.Debug("lowered memset", zap.Uint64("len", knownLen), zap.Int("stores", len(plan)))
	return true
}

func (h *Helper) optimizeMemcpy(in *mir.Instr, dst, src mir.Reg, knownLen uint64) bool {
	dstMem, srcMem := in.MemOp(0), in.MemOp(1)
	align := minAlign(dstMem.AlignBytes, srcMem.AlignBytes)

	fi, canChange := h.dstAlignCanChange(dst)
	limit := h.pol.MaxStoresPerMemcpy(h.cfg.OptSize)
	plan := h.findOptimalMemOpLowering(memOpShape{
		size:         knownLen,
		dstAlign:     align,
		srcAlign:     srcMem.AlignBytes,
		dstSpace:     dstMem.Space,
		dstCanChange: canChange,
		allowOverlap: true,
	}, limit)
	if plan == nil {
		return false
	}

	if canChange {
		h.raiseSlotAlign(fi, align, plan[0])
	}

	h.b.SetInsertBefore(in)

	// For each planned type: a load from src+offset immediately
	// followed by the store of that value to dst+offset.
	var off int64
	size := knownLen
	for _, ty := range plan {
		tySize := uint64(ty.Bytes())
		if tySize > size {
			off -= int64(tySize - size)
		}

		loadMem := srcMem.Offset(off, ty.Bytes())
		storeMem := dstMem.Offset(off, ty.Bytes())

		v := h.b.Load(mir.OpLoad, ty, h.offsetPtr(src, off), loadMem)
		h.b.Store(v, h.offsetPtr(dst, off), storeMem)

		off += int64(tySize)
		size -= min64(tySize, size)
	}

	h.eraseInst(in)
	h.log.Debug("lowered memcpy", zap.Uint64("len", knownLen), zap.Int("chunks", len(plan)))
	return true
}

func (h *Helper) optimizeMemmove(in *mir.Instr, dst, src mir.Reg, knownLen uint64) bool {
	dstMem, srcMem := in.MemOp(0), in.MemOp(1)
	align := minAlign(dstMem.AlignBytes, srcMem.AlignBytes)

	fi, canChange := h.dstAlignCanChange(dst)
	limit := h.pol.MaxStoresPerMemmove(h.cfg.OptSize)
	// No overlapping tail: the backward offset adjustment would break
	// the all-loads-first schedule's independence from the stores.
	plan := h.findOptimalMemOpLowering(memOpShape{
		size:         knownLen,
		dstAlign:     align,
		srcAlign:     srcMem.AlignBytes,
		dstSpace:     dstMem.Space,
		dstCanChange: canChange,
		allowOverlap: false,
	}, limit)
	if plan == nil {
		return false
	}

	if canChange {
		h.raiseSlotAlign(fi, align, plan[0])
	}

	h.b.SetInsertBefore(in)

	// The regions may overlap, so every load is issued before any
	// store.
	var off int64
	vals := make([]mir.Reg, 0, len(plan))
	for _, ty := range plan {
		loadMem := srcMem.Offset(off, ty.Bytes())
		vals = append(vals, h.b.Load(mir.OpLoad, ty, h.offsetPtr(src, off), loadMem))
		off += int64(ty.Bytes())
	}

	off = 0
	for i, ty := range plan {
		storeMem := dstMem.Offset(off, ty.Bytes())
		h.b.Store(vals[i], h.offsetPtr(dst, off), storeMem)
		off += int64(ty.Bytes())
	}

	h.eraseInst(in)
	h.log.Debug("lowered memmove", zap.Uint64("len", knownLen), zap.Int("chunks", len(plan)))
	return true
}

// splatByte repeats b across the low bits of the result.
func splatByte(b uint8, bits uint32) uint64 {
	v := uint64(0)
	for i := uint32(0); i < bits; i += 8 {
		v |= uint64(b) << i
	}
	return v
}

// pow2Floor returns the largest power of two not exceeding v.
func pow2Floor(v uint32) uint32 {
	p := uint32(1)
	for p<<1 <= v {
		p <<= 1
	}
	return p
}

func minAlign(a, b uint32) uint32 {
	if a == 0 {
		return b
	}
	if b != 0 && b < a {
		return b
	}
	return a
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
