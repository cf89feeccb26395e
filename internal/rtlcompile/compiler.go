// Package rtlcompile lowers the ir AST (expressions and statements) into
// Wasm, using internal/wasmtext's Emitter for the actual instruction
// stream. It is the "visitor with double dispatch over a closed sum
// type" called for by the design notes: every ir.Value / ir.Statement
// concrete type gets its own case in the switches below, and LHS
// lowering returns a sink closure rather than relying on a virtual
// method on the AST itself (ir intentionally carries no behavior).
package rtlcompile

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/torii-hdl/wasmsim/internal/wasmtext"
	"github.com/torii-hdl/wasmsim/ir"
)

// Indexer resolves a Signal to its dense slot index, assigning one on
// first sight. internal/simstate.State implements this.
type Indexer interface {
	Index(sig *ir.Signal) int
}

// Mode selects how a Ref reads its signal.
type Mode int

const (
	// ModeAuto lets each Ref decide for itself: next_<index> (the
	// local staged by this statement body) if the signal is one of
	// the compiling domain's own outputs, slots[index].curr otherwise.
	ModeAuto Mode = iota
	// ModeCurr forces a memory read of curr, even for an output
	// signal — used for rvalues nested inside an lvalue (Part.offset,
	// ArrayProxy.Index), which must see a stable, already-settled value.
	ModeCurr
	// ModeNext forces a read of the signal's next_<index> local — the
	// read-modify-write base read used by Slice/Part LHS lowering.
	ModeNext
)

// Compiler lowers one compiled unit's worth of statements against em,
// resolving signal identity via idx and using outputs to decide which
// Refs have a next_<index> local.
type Compiler struct {
	em      *wasmtext.Emitter
	idx     Indexer
	outputs map[*ir.Signal]bool
}

func newCompiler(em *wasmtext.Emitter, idx Indexer, outputs map[*ir.Signal]bool) *Compiler {
	if outputs == nil {
		outputs = map[*ir.Signal]bool{}
	}
	return &Compiler{em: em, idx: idx, outputs: outputs}
}

func nextLocal(index int) string { return fmt.Sprintf("next_%d", index) }

// maskConst returns the bitmask keeping the low width bits, matching
// ir.Shape.Mask but callable for an ad hoc width (e.g. a Slice's length)
// that isn't itself carried in a Shape.
func maskConst(width int) uint64 {
	return ir.Shape{Width: width}.Mask()
}

// applyMaskSign masks the top-of-stack value to width bits and, if
// signed, sign-extends it — the width-discipline step every node result
// (and every Assign's final value) goes through.
func (c *Compiler) applyMaskSign(width int, signed bool) {
	mask := maskConst(width)
	if mask != ^uint64(0) {
		c.em.I64Const(int64(mask))
		c.em.And()
	}
	if signed {
		c.em.I64Const(int64(width))
		c.em.CallSign()
	}
}

// normalize applies a node's own declared shape to the value its raw
// lowering left on the stack.
func (c *Compiler) normalize(sh ir.Shape) {
	c.applyMaskSign(sh.Width, sh.Signed)
}

// emitValue lowers v and leaves its fully width-disciplined (masked,
// sign-extended if signed) i64 result on the stack.
func (c *Compiler) emitValue(v ir.Value, mode Mode) {
	c.emitRaw(v, mode)
	c.normalize(v.ValueShape())
}

// emitMaskedOnly lowers v and leaves only its unsigned-masked value on
// the stack, skipping sign extension — used where the table calls for
// "mask(arg)" rather than the fully signed value (boolean/reduction
// casts, Cat's per-part extraction).
func (c *Compiler) emitMaskedOnly(v ir.Value, mode Mode) {
	c.emitRaw(v, mode)
	c.applyMaskSign(v.ValueShape().Width, false)
}

func (c *Compiler) refIsOutput(sig *ir.Signal) bool { return c.outputs[sig] }

func (c *Compiler) emitRaw(v ir.Value, mode Mode) {
	switch n := v.(type) {
	case *ir.Const:
		c.em.I64Const(n.Value)

	case *ir.Ref:
		idx := c.idx.Index(n.Signal)
		useNext := mode == ModeNext || (mode == ModeAuto && c.refIsOutput(n.Signal))
		if mode == ModeCurr {
			useNext = false
		}
		if useNext {
			c.em.LocalGet(nextLocal(idx))
		} else {
			c.em.LoadCurr(idx)
		}

	case *ir.Unary:
		c.emitUnary(n, mode)

	case *ir.Binary:
		c.emitBinary(n, mode)

	case *ir.Mux:
		c.emitMaskedOnly(n.Sel, mode)
		c.em.I64Const(0)
		c.em.GtS()
		c.em.BeginIf(true)
		c.emitValue(n.A, mode)
		c.em.Else()
		c.emitValue(n.B, mode)
		c.em.EndIf()

	case *ir.Slice:
		width := n.End - n.Start
		c.emitValue(n.Operand, mode)
		if n.Start != 0 {
			c.em.I64Const(int64(n.Start))
			c.em.ShrU()
		}
		c.em.I64Const(int64(maskConst(width)))
		c.em.And()

	case *ir.Part:
		c.emitValue(n.Operand, mode)
		c.emitPartOffset(n, mode)
		c.em.ShrU()
		c.em.I64Const(int64(maskConst(n.Width)))
		c.em.And()

	case *ir.Cat:
		c.emitCat(n, mode)

	case *ir.ArrayProxy:
		c.emitArrayProxyRead(n, mode)

	default:
		panic(errors.Errorf("rtlcompile: unimplemented value node %T", v))
	}
}

// emitPartOffset pushes offset_eff = stride * (offset & mask(w_off)),
// always reading Offset in curr mode: the "rrhs" translator of §4.3,
// forced stable even when Offset happens to name an output signal.
func (c *Compiler) emitPartOffset(n *ir.Part, _ Mode) {
	c.emitMaskedOnly(n.Offset, ModeCurr)
	if n.Stride != 1 {
		c.em.I64Const(int64(n.Stride))
		c.em.Mul()
	}
}

func (c *Compiler) emitUnary(n *ir.Unary, mode Mode) {
	switch n.Op {
	case ir.OpInvert:
		c.emitValue(n.Operand, mode)
		c.em.I64Const(-1)
		c.em.Xor()
	case ir.OpNeg:
		c.emitValue(n.Operand, mode)
		c.em.I64Const(-1)
		c.em.Mul()
	case ir.OpBool:
		c.emitMaskedOnly(n.Operand, mode)
		c.em.I64Const(0)
		c.em.Ne()
		c.em.ExtendI32U()
	case ir.OpReduceOr:
		c.emitMaskedOnly(n.Operand, mode)
		c.em.I64Const(0)
		c.em.Ne()
		c.em.ExtendI32U()
	case ir.OpReduceAnd:
		c.emitMaskedOnly(n.Operand, mode)
		c.em.I64Const(int64(maskConst(n.Operand.ValueShape().Width)))
		c.em.Eq()
		c.em.ExtendI32U()
	case ir.OpReduceXor:
		c.emitMaskedOnly(n.Operand, mode)
		c.em.Popcnt()
		c.em.I64Const(1)
		c.em.And()
	case ir.OpAsUnsigned, ir.OpAsSigned:
		c.emitRaw(n.Operand, mode)
	default:
		panic(errors.Errorf("rtlcompile: unimplemented unary operator %q", n.Op))
	}
}

func (c *Compiler) emitBinary(n *ir.Binary, mode Mode) {
	switch n.Op {
	case ir.OpAdd:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.Add()
	case ir.OpSub:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.Sub()
	case ir.OpMul:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.Mul()
	case ir.OpFloorDiv:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.CallZDiv()
	case ir.OpMod:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.CallZMod()
	case ir.OpBitAnd:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.And()
	case ir.OpBitOr:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.Or()
	case ir.OpBitXor:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.Xor()
	case ir.OpShiftL:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.Shl()
	case ir.OpShiftR:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.ShrU()
	case ir.OpEq:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.Eq()
		c.em.ExtendI32U()
	case ir.OpNe:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.Ne()
		c.em.ExtendI32U()
	case ir.OpLt:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.LtS()
		c.em.ExtendI32U()
	case ir.OpLe:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.LeS()
		c.em.ExtendI32U()
	case ir.OpGt:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.GtS()
		c.em.ExtendI32U()
	case ir.OpGe:
		c.emitValue(n.LHS, mode)
		c.emitValue(n.RHS, mode)
		c.em.GeS()
		c.em.ExtendI32U()
	default:
		panic(errors.Errorf("rtlcompile: unimplemented binary operator %q", n.Op))
	}
}

// emitCat ORs each part, shifted into its cumulative offset, onto an
// accumulator that starts at zero, parts ordered least-significant-first
// per Cat's own doc comment. An empty Cat lowers to a bare zero.
func (c *Compiler) emitCat(n *ir.Cat, mode Mode) {
	c.em.I64Const(0)
	offset := 0
	for _, p := range n.Parts {
		width := p.ValueShape().Width
		c.emitMaskedOnly(p, mode)
		if offset != 0 {
			c.em.I64Const(int64(offset))
			c.em.Shl()
		}
		c.em.Or()
		offset += width
	}
}

// emitArrayProxyRead builds the chained if/else cascade selecting Elems
// by Index, clamping an out-of-range index to the last element.
func (c *Compiler) emitArrayProxyRead(n *ir.ArrayProxy, mode Mode) {
	if len(n.Elems) == 0 {
		c.em.I64Const(0)
		return
	}
	idxName, _ := c.em.FreshLocal("aidx")
	c.emitValue(n.Index, mode)
	c.em.LocalSet(idxName)
	c.emitArrayCascade(n.Elems, idxName, mode, 0)
}

func (c *Compiler) emitArrayCascade(elems []ir.Value, idxName string, mode Mode, i int) {
	if i == len(elems)-1 {
		c.emitValue(elems[i], mode)
		return
	}
	c.em.LocalGet(idxName)
	c.em.I64Const(int64(i))
	c.em.Eq()
	c.em.BeginIf(true)
	c.emitValue(elems[i], mode)
	c.em.Else()
	c.emitArrayCascade(elems, idxName, mode, i+1)
	c.em.EndIf()
}
