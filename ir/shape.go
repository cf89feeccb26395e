// Package ir defines the elaborated hardware AST that the simulator
// consumes: signals, expressions, statements, clock domains and the
// Fragment hierarchy. Nothing in this package lowers to Wasm — that is
// internal/rtlcompile's job — ir only describes the shape of the input
// the HDL frontend hands the simulator.
package ir

import "github.com/pkg/errors"

// MaxWidth is the widest signal the translator can lower. Wider values
// cannot be represented as a single Wasm i64 lane and are diagnosed as a
// fatal compile error rather than silently truncated.
const MaxWidth = 63

// Shape describes the width and signedness of a signal or expression.
type Shape struct {
	Width  int
	Signed bool
}

// Mask returns the bitmask that keeps exactly Width low bits.
func (s Shape) Mask() uint64 {
	if s.Width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(s.Width)) - 1
}

// Validate reports an error if the shape exceeds MaxWidth.
func (s Shape) Validate(loc string) error {
	if s.Width > MaxWidth {
		return errors.Errorf("signal at %s is %d bits wide, exceeding the %d-bit limit", loc, s.Width, MaxWidth)
	}
	return nil
}
