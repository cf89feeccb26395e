package rtlcompile

import (
	"github.com/pkg/errors"

	"github.com/torii-hdl/wasmsim/internal/wasmtext"
	"github.com/torii-hdl/wasmsim/ir"
)

// CompileDomain lowers one domain's statements into a fresh exported
// "run" function on mod, per §4.4: a preamble declaring and seeding
// next_<index> for every output signal, the statement bodies, and an
// epilogue publishing each output through slots_set. comb selects the
// reset-value preamble (combinational domains) versus the
// load-from-memory preamble (clocked domains resuming mid-flight
// staged writes). Returns the assembled text dump (for TORII_WASMSIM_DUMP).
func CompileDomain(mod *wasmtext.Module, idx Indexer, outputs []*ir.Signal, statements []ir.Statement, comb bool) (string, error) {
	outSet := make(map[*ir.Signal]bool, len(outputs))
	for _, sig := range outputs {
		outSet[sig] = true
	}

	for _, st := range statements {
		if err := validateStatement(st); err != nil {
			return "", err
		}
	}

	em := wasmtext.NewEmitter(mod)
	c := newCompiler(em, idx, outSet)

	for _, sig := range outputs {
		index := idx.Index(sig)
		local := nextLocal(index)
		em.Local(local)
		if comb {
			em.I64Const(sig.Reset)
		} else {
			em.LoadNext(index)
		}
		em.LocalSet(local)
	}

	for _, st := range statements {
		c.Statement(st)
	}

	for _, sig := range outputs {
		index := idx.Index(sig)
		em.I64Const(int64(index))
		em.LocalGet(nextLocal(index))
		em.CallSlotsSet()
	}

	return em.Finish(false), nil
}

// CompileExpression lowers a single curr-mode Value into an exported
// "run" function returning its result — the RTL compiler's half of the
// CoroProcess "expression value" command (§4.9).
func CompileExpression(mod *wasmtext.Module, idx Indexer, v ir.Value) (string, error) {
	if err := validateValue(v, exprLoc(v)); err != nil {
		return "", err
	}
	em := wasmtext.NewEmitter(mod)
	c := newCompiler(em, idx, DiscoverOutputs([]ir.Statement{}))
	c.emitValue(v, ModeCurr)
	return em.Finish(true), nil
}

// CompileStatement lowers a single ad hoc Statement (a coroutine
// `sig.eq(value)` command) into an exported "run" function. Unlike a
// domain compile, the output set is derived from the statement itself
// rather than supplied by a Fragment, and every touched signal's
// next_<index> is seeded from its current memory value (coroutine
// writes are always read-modify-write against live state, never a
// reset).
func CompileStatement(mod *wasmtext.Module, idx Indexer, st ir.Statement) (string, error) {
	if err := validateStatement(st); err != nil {
		return "", err
	}
	outputs := DiscoverOutputs([]ir.Statement{st})

	em := wasmtext.NewEmitter(mod)
	c := newCompiler(em, idx, outputs)

	for sig := range outputs {
		index := idx.Index(sig)
		local := nextLocal(index)
		em.Local(local)
		em.LoadCurr(index)
		em.LocalSet(local)
	}

	c.Statement(st)

	for sig := range outputs {
		index := idx.Index(sig)
		em.I64Const(int64(index))
		em.LocalGet(nextLocal(index))
		em.CallSlotsSet()
	}

	return em.Finish(false), nil
}

// DiscoverOutputs walks the LHS of every Assign reachable from
// statements (through Switch bodies) and collects the root Signal of
// each lvalue — the set of signals that need a next_<index> local.
func DiscoverOutputs(statements []ir.Statement) map[*ir.Signal]bool {
	out := map[*ir.Signal]bool{}
	var walkStatements func([]ir.Statement)
	var rootSignal func(ir.Value) *ir.Signal

	rootSignal = func(v ir.Value) *ir.Signal {
		switch n := v.(type) {
		case *ir.Ref:
			return n.Signal
		case *ir.Unary:
			return rootSignal(n.Operand)
		case *ir.Slice:
			return rootSignal(n.Operand)
		case *ir.Part:
			return rootSignal(n.Operand)
		default:
			return nil
		}
	}

	walkStatements = func(stmts []ir.Statement) {
		for _, st := range stmts {
			switch s := st.(type) {
			case *ir.Assign:
				if sig := rootSignal(s.LHS); sig != nil {
					out[sig] = true
				}
				if cat, ok := s.LHS.(*ir.Cat); ok {
					for _, p := range cat.Parts {
						if sig := rootSignal(p); sig != nil {
							out[sig] = true
						}
					}
				}
				if ap, ok := s.LHS.(*ir.ArrayProxy); ok {
					for _, e := range ap.Elems {
						if sig := rootSignal(e); sig != nil {
							out[sig] = true
						}
					}
				}
			case *ir.Switch:
				for _, cs := range s.Cases {
					walkStatements(cs.Body)
				}
			}
		}
	}

	walkStatements(statements)
	return out
}

func exprLoc(v ir.Value) string {
	if r, ok := v.(*ir.Ref); ok {
		return r.Signal.String()
	}
	return "<expression>"
}

func validateStatement(st ir.Statement) error {
	switch s := st.(type) {
	case *ir.Assign:
		loc := exprLoc(s.LHS)
		if err := validateValue(s.LHS, loc); err != nil {
			return err
		}
		return validateValue(s.RHS, loc)
	case *ir.Switch:
		if err := validateValue(s.Test, "<switch test>"); err != nil {
			return err
		}
		for _, cs := range s.Cases {
			for _, inner := range cs.Body {
				if err := validateStatement(inner); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// validateValue enforces the §4.2 oversize guard: any AST value whose
// declared width exceeds ir.MaxWidth (63) is a fatal compile error
// naming loc, checked recursively since a narrow top-level node can
// still wrap an oversize sub-expression (e.g. a too-wide Cat operand).
func validateValue(v ir.Value, loc string) error {
	if err := v.ValueShape().Validate(loc); err != nil {
		return errors.WithStack(err)
	}
	switch n := v.(type) {
	case *ir.Unary:
		return validateValue(n.Operand, loc)
	case *ir.Binary:
		if err := validateValue(n.LHS, loc); err != nil {
			return err
		}
		return validateValue(n.RHS, loc)
	case *ir.Mux:
		for _, sub := range []ir.Value{n.Sel, n.A, n.B} {
			if err := validateValue(sub, loc); err != nil {
				return err
			}
		}
	case *ir.Slice:
		return validateValue(n.Operand, loc)
	case *ir.Part:
		if err := validateValue(n.Operand, loc); err != nil {
			return err
		}
		return validateValue(n.Offset, loc)
	case *ir.Cat:
		for _, p := range n.Parts {
			if err := validateValue(p, loc); err != nil {
				return err
			}
		}
	case *ir.ArrayProxy:
		for _, e := range n.Elems {
			if err := validateValue(e, loc); err != nil {
				return err
			}
		}
		return validateValue(n.Index, loc)
	}
	return nil
}
