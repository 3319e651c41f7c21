package mir

// Opcode identifies a target-independent operation. All opcodes are
// generic: the set corresponds to pre-selection machine operations, so a
// rewrite engine can reason about them without target knowledge.
type Opcode uint8

const (
	OpInvalid Opcode = iota

	// Value movement and materialization.
	OpCopy        // def, src
	OpImplicitDef // def (undefined value)
	OpConstant    // def, imm
	OpFrameIndex  // def, imm (frame slot index)

	// Integer arithmetic and bit operations.
	OpAdd  // def, lhs, rhs
	OpSub  // def, lhs, rhs
	OpMul  // def, lhs, rhs
	OpAnd  // def, lhs, rhs
	OpOr   // def, lhs, rhs
	OpXor  // def, lhs, rhs
	OpShl  // def, src, amount
	OpLShr // def, src, amount
	OpAShr // def, src, amount

	// Pointer arithmetic and conversions.
	OpPtrAdd   // def, base, offset
	OpPtrToInt // def, src
	OpIntToPtr // def, src

	// Width changes.
	OpTrunc     // def, src
	OpAnyExt    // def, src
	OpSExt      // def, src
	OpZExt      // def, src
	OpSExtInReg // def, src, imm (bits)

	// Comparison, selection, control flow.
	OpICmp   // def, pred, lhs, rhs
	OpSelect // def, cond, true, false
	OpPhi    // def, (value, block)...
	OpBr     // target block
	OpBrCond // cond, target block

	// Memory access. Load variants carry one memory descriptor, stores
	// one, bulk operations one per pointer operand (destination first).
	OpLoad     // def, addr
	OpSExtLoad // def, addr
	OpZExtLoad // def, addr
	OpStore    // value, addr

	// Indexed memory access: the address register is written back as an
	// extra def. The trailing immediate discriminates pre (1) from post
	// (0) indexing.
	OpIndexedLoad     // def, writeback, base, offset, imm
	OpIndexedSExtLoad // def, writeback, base, offset, imm
	OpIndexedZExtLoad // def, writeback, base, offset, imm
	OpIndexedStore    // writeback, value, base, offset, imm

	// Bulk memory operations with register lengths.
	OpMemCopy // dst, src, len
	OpMemMove // dst, src, len
	OpMemSet  // dst, value, len

	// Value aggregation.
	OpUnmerge       // lo, hi, src
	OpMerge         // def, lo, hi
	OpBuildVector   // def, elem...
	OpSplatVector   // def, scalar
	OpConcatVectors // def, src...
	OpShuffleVector // def, src1, src2, mask

	numOpcodes
)

type opcodeInfo struct {
	name       string
	numDefs    uint8
	terminator bool
}

var opcodes = [numOpcodes]opcodeInfo{
	OpInvalid:         {name: "INVALID"},
	OpCopy:            {name: "Copy", numDefs: 1},
	OpImplicitDef:     {name: "ImplicitDef", numDefs: 1},
	OpConstant:        {name: "Constant", numDefs: 1},
	OpFrameIndex:      {name: "FrameIndex", numDefs: 1},
	OpAdd:             {name: "Add", numDefs: 1},
	OpSub:             {name: "Sub", numDefs: 1},
	OpMul:             {name: "Mul", numDefs: 1},
	OpAnd:             {name: "And", numDefs: 1},
	OpOr:              {name: "Or", numDefs: 1},
	OpXor:             {name: "Xor", numDefs: 1},
	OpShl:             {name: "Shl", numDefs: 1},
	OpLShr:            {name: "LShr", numDefs: 1},
	OpAShr:            {name: "AShr", numDefs: 1},
	OpPtrAdd:          {name: "PtrAdd", numDefs: 1},
	OpPtrToInt:        {name: "PtrToInt", numDefs: 1},
	OpIntToPtr:        {name: "IntToPtr", numDefs: 1},
	OpTrunc:           {name: "Trunc", numDefs: 1},
	OpAnyExt:          {name: "AnyExt", numDefs: 1},
	OpSExt:            {name: "SExt", numDefs: 1},
	OpZExt:            {name: "ZExt", numDefs: 1},
	OpSExtInReg:       {name: "SExtInReg", numDefs: 1},
	OpICmp:            {name: "ICmp", numDefs: 1},
	OpSelect:          {name: "Select", numDefs: 1},
	OpPhi:             {name: "Phi", numDefs: 1},
	OpBr:              {name: "Br", terminator: true},
	OpBrCond:          {name: "BrCond", terminator: true},
	OpLoad:            {name: "Load", numDefs: 1},
	OpSExtLoad:        {name: "SExtLoad", numDefs: 1},
	OpZExtLoad:        {name: "ZExtLoad", numDefs: 1},
	OpStore:           {name: "Store"},
	OpIndexedLoad:     {name: "IndexedLoad", numDefs: 2},
	OpIndexedSExtLoad: {name: "IndexedSExtLoad", numDefs: 2},
	OpIndexedZExtLoad: {name: "IndexedZExtLoad", numDefs: 2},
	OpIndexedStore:    {name: "IndexedStore", numDefs: 1},
	OpMemCopy:         {name: "MemCopy"},
	OpMemMove:         {name: "MemMove"},
	OpMemSet:          {name: "MemSet"},
	OpUnmerge:         {name: "Unmerge", numDefs: 2},
	OpMerge:           {name: "Merge", numDefs: 1},
	OpBuildVector:     {name: "BuildVector", numDefs: 1},
	OpSplatVector:     {name: "SplatVector", numDefs: 1},
	OpConcatVectors:   {name: "ConcatVectors", numDefs: 1},
	OpShuffleVector:   {name: "ShuffleVector", numDefs: 1},
}

// String implements fmt.Stringer.
func (op Opcode) String() string {
	if op >= numOpcodes {
		return "INVALID"
	}
	return opcodes[op].name
}

// NumDefs returns how many leading operands of op are definitions.
func (op Opcode) NumDefs() int { return int(opcodes[op].numDefs) }

// IsTerminator reports whether op ends a basic block.
func (op Opcode) IsTerminator() bool { return opcodes[op].terminator }

// IsAnyLoad reports whether op is a plain or extending load.
func (op Opcode) IsAnyLoad() bool {
	return op == OpLoad || op == OpSExtLoad || op == OpZExtLoad
}

// IsLoadStore reports whether op is a non-indexed scalar memory access.
func (op Opcode) IsLoadStore() bool { return op.IsAnyLoad() || op == OpStore }

// IsExtend reports whether op widens a value.
func (op Opcode) IsExtend() bool {
	return op == OpAnyExt || op == OpSExt || op == OpZExt
}

// IsShift reports whether op is a shift by amount.
func (op Opcode) IsShift() bool {
	return op == OpShl || op == OpLShr || op == OpAShr
}

// IsBulkMem reports whether op is a fixed-semantics bulk memory operation.
func (op Opcode) IsBulkMem() bool {
	return op == OpMemCopy || op == OpMemMove || op == OpMemSet
}

// Predicate is an integer comparison predicate carried by ICmp operands.
type Predicate uint8

const (
	PredEq Predicate = iota
	PredNe
	PredSLt
	PredSLe
	PredSGt
	PredSGe
	PredULt
	PredULe
	PredUGt
	PredUGe
)

var predNames = [...]string{"eq", "ne", "slt", "sle", "sgt", "sge", "ult", "ule", "ugt", "uge"}

var predInverse = [...]Predicate{
	PredEq:  PredNe,
	PredNe:  PredEq,
	PredSLt: PredSGe,
	PredSLe: PredSGt,
	PredSGt: PredSLe,
	PredSGe: PredSLt,
	PredULt: PredUGe,
	PredULe: PredUGt,
	PredUGt: PredULe,
	PredUGe: PredULt,
}

// Inverse returns the predicate holding exactly when p does not.
func (p Predicate) Inverse() Predicate { return predInverse[p] }

// String implements fmt.Stringer.
func (p Predicate) String() string {
	if int(p) < len(predNames) {
		return predNames[p]
	}
	return "badpred"
}
