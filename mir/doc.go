// Package mir defines a target-independent machine intermediate
// representation for pre-selection rewriting: generic opcodes over
// typed virtual registers, basic blocks with phis and terminators, and
// memory descriptors on every access.
//
// A Function is the arena that owns blocks, instructions, registers and
// frame slots. Use and def chains are exact: every register knows its
// single defining instruction and every operand slot that reads it.
// All mutation goes through Function methods or a Builder so the
// chains stay exact and attached observers see each change as a
// ChangingInstr/ChangedInstr bracket.
//
// Types (see Type) are bit-width descriptors in the style of low-level
// machine IRs: scalars s8/s16/s32/s64, short vectors, and pointers
// tagged with an address space. They carry no sign; signedness lives in
// the opcodes (SExt vs ZExt, AShr vs LShr, signed vs unsigned
// predicates).
package mir
