package rtlcompile

import (
	"github.com/pkg/errors"

	"github.com/torii-hdl/wasmsim/ir"
)

// sink is the "sink closure" the design notes call for: given a thunk
// that pushes the value to assign onto the stack, it emits whatever
// code actually performs the write. Every lvalue shape gets its own
// sink so Slice/Part/Cat/ArrayProxy can compose read-modify-write and
// fan-out without the top-level Assign knowing the difference.
type sink func(pushRHS func())

// lowerLHS returns the sink for lv. rhsSigned is the *originating*
// Assign's RHS signedness, threaded down to the Ref case: §4.2 says the
// final write is "masked to the LHS width and sign-extended if the RHS
// shape is signed" — note RHS's signedness, not the signal's own.
func (c *Compiler) lowerLHS(lv ir.Value, rhsSigned bool) sink {
	switch n := lv.(type) {
	case *ir.Ref:
		idx := c.idx.Index(n.Signal)
		width := n.Signal.Shape.Width
		local := nextLocal(idx)
		return func(pushRHS func()) {
			pushRHS()
			c.applyMaskSign(width, rhsSigned)
			c.em.LocalSet(local)
		}

	case *ir.Unary:
		if n.Op == ir.OpAsUnsigned || n.Op == ir.OpAsSigned {
			return c.lowerLHS(n.Operand, rhsSigned)
		}
		panic(errors.Errorf("rtlcompile: %q is not a valid lvalue operator", n.Op))

	case *ir.Slice:
		return c.lowerSliceLHS(n)

	case *ir.Part:
		return c.lowerPartLHS(n)

	case *ir.Cat:
		return c.lowerCatLHS(n)

	case *ir.ArrayProxy:
		return c.lowerArrayProxyLHS(n, rhsSigned)

	default:
		panic(errors.Errorf("rtlcompile: %T is not a valid lvalue", lv))
	}
}

// lowerSliceLHS implements the read-modify-write:
//
//	next := (next & ~(mask<<start)) | ((arg & mask) << start)
//
// where "next" is Operand read in next-mode (the lrhs translator),
// written back through Operand's own sink.
func (c *Compiler) lowerSliceLHS(n *ir.Slice) sink {
	width := n.End - n.Start
	mask := maskConst(width)
	inner := c.lowerLHS(n.Operand, false)
	return func(pushRHS func()) {
		combined := func() {
			c.emitValue(n.Operand, ModeNext)
			c.em.I64Const(int64(^(mask << uint(n.Start))))
			c.em.And()

			pushRHS()
			c.em.I64Const(int64(mask))
			c.em.And()
			if n.Start != 0 {
				c.em.I64Const(int64(n.Start))
				c.em.Shl()
			}
			c.em.Or()
		}
		inner(combined)
	}
}

// lowerPartLHS mirrors lowerSliceLHS with a dynamic offset_eff instead
// of a static Start.
func (c *Compiler) lowerPartLHS(n *ir.Part) sink {
	mask := maskConst(n.Width)
	inner := c.lowerLHS(n.Operand, false)
	return func(pushRHS func()) {
		offName, _ := c.em.FreshLocal("off")
		c.emitPartOffset(n, ModeCurr)
		c.em.LocalSet(offName)

		combined := func() {
			c.emitValue(n.Operand, ModeNext)
			c.em.I64Const(int64(mask))
			c.em.LocalGet(offName)
			c.em.Shl()
			c.em.I64Const(-1)
			c.em.Xor()
			c.em.And()

			pushRHS()
			c.em.I64Const(int64(mask))
			c.em.And()
			c.em.LocalGet(offName)
			c.em.Shl()
			c.em.Or()
		}
		inner(combined)
	}
}

// lowerCatLHS evaluates the RHS once into a local, then fans it out:
// each part receives (arg >> offset) & part_mask, offsets accumulating
// least-significant-part first to match Cat's own read-side ordering.
func (c *Compiler) lowerCatLHS(n *ir.Cat) sink {
	type part struct {
		s      sink
		offset int
		mask   uint64
	}
	parts := make([]part, len(n.Parts))
	offset := 0
	for i, p := range n.Parts {
		width := p.ValueShape().Width
		parts[i] = part{s: c.lowerLHS(p, false), offset: offset, mask: maskConst(width)}
		offset += width
	}
	return func(pushRHS func()) {
		argName, _ := c.em.FreshLocal("cat_arg")
		pushRHS()
		c.em.LocalSet(argName)
		for _, p := range parts {
			p := p
			p.s(func() {
				c.em.LocalGet(argName)
				if p.offset != 0 {
					c.em.I64Const(int64(p.offset))
					c.em.ShrU()
				}
				c.em.I64Const(int64(p.mask))
				c.em.And()
			})
		}
	}
}

// lowerArrayProxyLHS builds the same if/else index cascade as the read
// side, but each branch performs the write for that element's sink; an
// out-of-range index falls through to the last element.
func (c *Compiler) lowerArrayProxyLHS(n *ir.ArrayProxy, rhsSigned bool) sink {
	sinks := make([]sink, len(n.Elems))
	for i, e := range n.Elems {
		sinks[i] = c.lowerLHS(e, rhsSigned)
	}
	return func(pushRHS func()) {
		idxName, _ := c.em.FreshLocal("aidx")
		c.emitValue(n.Index, ModeCurr)
		c.em.LocalSet(idxName)
		c.emitArrayWriteCascade(sinks, idxName, pushRHS, 0)
	}
}

func (c *Compiler) emitArrayWriteCascade(sinks []sink, idxName string, pushRHS func(), i int) {
	if i == len(sinks)-1 {
		sinks[i](pushRHS)
		return
	}
	c.em.LocalGet(idxName)
	c.em.I64Const(int64(i))
	c.em.Eq()
	c.em.BeginIf(false)
	sinks[i](pushRHS)
	c.em.Else()
	c.emitArrayWriteCascade(sinks, idxName, pushRHS, i+1)
	c.em.EndIf()
}
