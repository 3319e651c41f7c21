package mir

// Block is one basic block: phis first, then ordinary instructions,
// then the terminators. Most blocks end in a single terminator; a
// conditional branch followed by an unconditional one is the only
// multi-terminator shape combines produce.
type Block struct {
	fn     *Function
	id     int
	instrs []*Instr
}

// ID returns the block's layout index at creation time.
func (b *Block) ID() int { return b.id }

// Func returns the owning function.
func (b *Block) Func() *Function { return b.fn }

// Instrs returns the instructions in program order. The slice aliases
// internal state and must not be retained across mutations.
func (b *Block) Instrs() []*Instr { return b.instrs }

// Term returns the block terminator, or nil if the block has none yet.
func (b *Block) Term() *Instr {
	if n := len(b.instrs); n > 0 && b.instrs[n-1].op.IsTerminator() {
		return b.instrs[n-1]
	}
	return nil
}

// FirstNonPhi returns the index of the first non-phi instruction, which
// is len(b.Instrs()) for a block of only phis.
func (b *Block) FirstNonPhi() int {
	for i, in := range b.instrs {
		if !in.IsPhi() {
			return i
		}
	}
	return len(b.instrs)
}

// IndexOf returns the position of in within the block, or -1.
func (b *Block) IndexOf(in *Instr) int {
	for i, x := range b.instrs {
		if x == in {
			return i
		}
	}
	return -1
}

// Succs returns the control-flow successors read off the terminator
// run at the end of the block.
func (b *Block) Succs() []*Block {
	var out []*Block
	for i := b.firstTerminator(); i < len(b.instrs); i++ {
		t := b.instrs[i]
		for j := 0; j < t.NumOperands(); j++ {
			if t.Operand(j).Kind == OperandBlock {
				out = append(out, t.Operand(j).Block)
			}
		}
	}
	return out
}

// firstTerminator returns the index of the first instruction in the
// trailing terminator run, which is len(b.Instrs()) when the block has
// no terminator yet.
func (b *Block) firstTerminator() int {
	i := len(b.instrs)
	for i > 0 && b.instrs[i-1].op.IsTerminator() {
		i--
	}
	return i
}

// Preds returns the control-flow predecessors, computed by scanning the
// function.
func (b *Block) Preds() []*Block {
	var out []*Block
	for _, p := range b.fn.blocks {
		for _, s := range p.Succs() {
			if s == b {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// LayoutSuccessor returns the block that follows b in layout order, or
// nil for the last block.
func (b *Block) LayoutSuccessor() *Block {
	for i, x := range b.fn.blocks {
		if x == b && i+1 < len(b.fn.blocks) {
			return b.fn.blocks[i+1]
		}
	}
	return nil
}

func (b *Block) insertAt(idx int, in *Instr) {
	if idx < 0 || idx > len(b.instrs) {
		panic("mir: instruction index out of range")
	}
	b.instrs = append(b.instrs, nil)
	copy(b.instrs[idx+1:], b.instrs[idx:])
	b.instrs[idx] = in
}

func (b *Block) remove(in *Instr) {
	i := b.IndexOf(in)
	if i < 0 {
		panic("mir: remove of instruction not in block")
	}
	b.instrs = append(b.instrs[:i], b.instrs[i+1:]...)
}
