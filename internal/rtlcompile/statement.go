package rtlcompile

import (
	"github.com/pkg/errors"

	"github.com/torii-hdl/wasmsim/ir"
)

// Statement lowers one ir.Statement against the compiling domain's
// output set.
func (c *Compiler) Statement(st ir.Statement) {
	switch s := st.(type) {
	case *ir.Assign:
		c.assign(s)
	case *ir.Switch:
		c.emitSwitch(s, 0)
	default:
		panic(errors.Errorf("rtlcompile: unimplemented statement %T", st))
	}
}

func (c *Compiler) assign(s *ir.Assign) {
	rhsSigned := s.RHS.ValueShape().Signed
	dst := c.lowerLHS(s.LHS, rhsSigned)
	dst(func() { c.emitValue(s.RHS, ModeAuto) })
}

// emitSwitch compiles Cases[i:] as a nested if/else-if/.../else cascade,
// matching in order so the first hit wins. An empty pattern — used both
// for an explicit default arm and a zero-width test — always matches and
// so terminates the cascade without a further comparison.
func (c *Compiler) emitSwitch(s *ir.Switch, i int) {
	if i >= len(s.Cases) {
		return
	}
	pat := s.Cases[i].Pattern
	if pat == "" {
		c.emitBody(s.Cases[i].Body)
		return
	}

	c.emitValue(s.Test, ModeAuto)
	mask, value := patternMaskValue(pat)
	c.em.I64Const(int64(mask))
	c.em.And()
	c.em.I64Const(int64(value))
	c.em.Eq()
	c.em.BeginIf(false)
	c.emitBody(s.Cases[i].Body)
	if i+1 < len(s.Cases) {
		c.em.Else()
		c.emitSwitch(s, i+1)
	}
	c.em.EndIf()
}

func (c *Compiler) emitBody(body []ir.Statement) {
	for _, st := range body {
		c.Statement(st)
	}
}

// patternMaskValue turns a switch case pattern such as "1-0" into the
// (mask, value) pair used for "(test & mask) == value": '-' digits are
// don't-care and excluded from both mask and value.
func patternMaskValue(pat string) (mask, value uint64) {
	for _, r := range pat {
		mask <<= 1
		value <<= 1
		switch r {
		case '0':
			mask |= 1
		case '1':
			mask |= 1
			value |= 1
		case '-':
			// don't-care: contributes to neither mask nor value
		}
	}
	return mask, value
}
