package mir

// InstrObserver is notified around instruction lifecycle events. A
// mutation is always bracketed: ChangingInstr fires while the
// instruction is still in its old form, ChangedInstr after the new form
// is in place. Worklist drivers use the bracket to re-queue affected
// instructions.
type InstrObserver interface {
	CreatedInstr(*Instr)
	ChangingInstr(*Instr)
	ChangedInstr(*Instr)
}

// EraseObserver is notified just before an instruction is unlinked and
// destroyed. The instruction is still fully intact when ErasingInstr
// fires.
type EraseObserver interface {
	ErasingInstr(*Instr)
}

// RegObserver is notified when a virtual register is allocated.
// Analyses that cache per-register facts attach one to size their
// tables.
type RegObserver interface {
	CreatedReg(Reg)
}

// Notifier fans function mutations out to attached observers. Every
// Function owns one; combiners and verifiers attach to it for the
// duration of a pass.
type Notifier struct {
	instr []InstrObserver
	erase []EraseObserver
	reg   []RegObserver

	// pending holds instructions announced by ChangingAllUsesOfReg
	// that still owe a ChangedInstr.
	pending []*Instr
}

// Attach registers o for every observer capability it implements.
// Attaching a value with no capability panics, since that is always a
// caller bug.
func (n *Notifier) Attach(o any) {
	attached := false
	if io, ok := o.(InstrObserver); ok {
		n.instr = append(n.instr, io)
		attached = true
	}
	if eo, ok := o.(EraseObserver); ok {
		n.erase = append(n.erase, eo)
		attached = true
	}
	if ro, ok := o.(RegObserver); ok {
		n.reg = append(n.reg, ro)
		attached = true
	}
	if !attached {
		panic("mir: Attach with no observer capability")
	}
}

// Detach removes every registration of o.
func (n *Notifier) Detach(o any) {
	for i := 0; i < len(n.instr); i++ {
		if any(n.instr[i]) == o {
			n.instr = append(n.instr[:i], n.instr[i+1:]...)
			i--
		}
	}
	for i := 0; i < len(n.erase); i++ {
		if any(n.erase[i]) == o {
			n.erase = append(n.erase[:i], n.erase[i+1:]...)
			i--
		}
	}
	for i := 0; i < len(n.reg); i++ {
		if any(n.reg[i]) == o {
			n.reg = append(n.reg[:i], n.reg[i+1:]...)
			i--
		}
	}
}

func (n *Notifier) createdInstr(in *Instr) {
	for _, o := range n.instr {
		o.CreatedInstr(in)
	}
}

func (n *Notifier) changingInstr(in *Instr) {
	if n.bracketed(in) {
		return
	}
	for _, o := range n.instr {
		o.ChangingInstr(in)
	}
}

func (n *Notifier) changedInstr(in *Instr) {
	if n.bracketed(in) {
		return
	}
	for _, o := range n.instr {
		o.ChangedInstr(in)
	}
}

// bracketed reports whether in already sits inside an open all-uses
// bracket, in which case per-operand edits must not re-announce it.
func (n *Notifier) bracketed(in *Instr) bool {
	for _, p := range n.pending {
		if p == in {
			return true
		}
	}
	return false
}

func (n *Notifier) createdReg(r Reg) {
	for _, o := range n.reg {
		o.CreatedReg(r)
	}
}

func (n *Notifier) erasingInstr(in *Instr) {
	for _, o := range n.erase {
		o.ErasingInstr(in)
	}
}

// ChangingAllUsesOfReg announces that every user of r is about to
// change. Each user receives ChangingInstr once now and is remembered;
// FinishedChangingAllUsesOfReg delivers the matching ChangedInstr
// events. While the bracket is open, per-operand edits to the
// remembered users stay silent so observers see one atomic unit per
// user rather than a nested pair for every slot touched.
func (n *Notifier) ChangingAllUsesOfReg(fn *Function, r Reg) {
	for _, use := range fn.UsesOf(r) {
		if n.bracketed(use) {
			continue
		}
		for _, o := range n.instr {
			o.ChangingInstr(use)
		}
		n.pending = append(n.pending, use)
	}
}

// FinishedChangingAllUsesOfReg closes the bracket opened by
// ChangingAllUsesOfReg.
func (n *Notifier) FinishedChangingAllUsesOfReg() {
	pending := n.pending
	n.pending = nil
	for _, in := range pending {
		for _, o := range n.instr {
			o.ChangedInstr(in)
		}
	}
}
