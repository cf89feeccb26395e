package wasmtext

// Helpers holds the function indices of the four helper functions every
// compiled module prepends, per spec §4.1: slots_set (the read-modify-
// notify bridge to the host), sign (arbitrary-width sign extension), and
// zdiv/zmod (floor division and Python-sign modulo — deliberately not
// Wasm's own truncating div_s/rem_s).
type Helpers struct {
	SlotsSet int
	Sign     int
	ZDiv     int
	ZMod     int
}

// EnsureHelpers installs the shared "" gmem memory import, the "" .. "" slots_set_py
// host callback import, and the four helper functions into mod exactly
// once, returning their function indices.
func EnsureHelpers(mod *Module) *Helpers {
	if mod.helpers != nil {
		return mod.helpers
	}

	mod.ImportMemory("", "gmem", 0, 2)
	notifyIdx := mod.AddImport("", "slots_set_py", []byte{valI64, valI64}, nil)

	h := &Helpers{
		Sign:     buildSign(mod),
		ZDiv:     buildZDiv(mod),
		ZMod:     buildZMod(mod),
		SlotsSet: buildSlotsSet(mod, notifyIdx),
	}
	mod.helpers = h
	return h
}

// asm is a minimal binary-only instruction builder used for the four
// fixed helper bodies, which never need a text dump of their own (they
// are never read by a human; they are the same four bytes sequences in
// every compiled unit).
type asm struct{ b []byte }

func (a *asm) constI64(v int64)   { a.b = append(a.b, opI64Const); a.b = appendSLEB128_64(a.b, v) }
func (a *asm) localGet(i uint32)  { a.b = append(a.b, opLocalGet); a.b = appendULEB128(a.b, i) }
func (a *asm) localSet(i uint32)  { a.b = append(a.b, opLocalSet); a.b = appendULEB128(a.b, i) }
func (a *asm) localTee(i uint32)  { a.b = append(a.b, opLocalTee); a.b = appendULEB128(a.b, i) }
func (a *asm) op(b byte)          { a.b = append(a.b, b) }
func (a *asm) call(i int)         { a.b = append(a.b, opCall); a.b = appendULEB128(a.b, uint32(i)) }
func (a *asm) ifResult()          { a.b = append(a.b, opIf, blockI64) }
func (a *asm) ifVoid()            { a.b = append(a.b, opIf, blockVoid) }
func (a *asm) els()               { a.b = append(a.b, opElse) }
func (a *asm) end()               { a.b = append(a.b, opEnd) }
func (a *asm) wrap()              { a.b = append(a.b, opI32WrapI64) }
func (a *asm) load()              { a.b = append(a.b, opI64Load, 0x03, 0x00) }
func (a *asm) store()             { a.b = append(a.b, opI64Store, 0x03, 0x00) }

// buildSign builds sign(value, width) -> value sign-extended from a field
// `width` bits wide, via the classic shift-left-then-arithmetic-shift-right
// trick: shift = 64-width; (value << shift) >> shift.
func buildSign(mod *Module) int {
	fn := mod.AddFunc([]byte{valI64, valI64}, []byte{valI64})
	const value, width, shift = 0, 1, 2
	var a asm
	a.constI64(64)
	a.localGet(width)
	a.op(opI64Sub)
	a.localSet(shift)
	a.localGet(value)
	a.localGet(shift)
	a.op(opI64Shl)
	a.localGet(shift)
	a.op(opI64ShrS)
	mod.SetCode(fn, []byte{valI64}, a.b)
	return fn
}

// buildZDiv builds zdiv(lhs, rhs) -> floor(lhs/rhs), 0 when rhs == 0.
func buildZDiv(mod *Module) int {
	fn := mod.AddFunc([]byte{valI64, valI64}, []byte{valI64})
	const lhs, rhs, q, r = 0, 1, 2, 3
	var a asm
	a.localGet(rhs)
	a.op(opI64Eqz)
	a.ifResult()
	{
		a.constI64(0)
	}
	a.els()
	{
		a.localGet(lhs)
		a.localGet(rhs)
		a.op(opI64DivS)
		a.localSet(q)
		a.localGet(lhs)
		a.localGet(rhs)
		a.op(opI64RemS)
		a.localSet(r)

		// adjust: if r != 0 and (lhs xor rhs) < 0, q -= 1
		a.localGet(r)
		a.constI64(0)
		a.op(opI64Ne)
		a.op(opI64ExtendI32U)
		a.localGet(lhs)
		a.localGet(rhs)
		a.op(opI64Xor)
		a.constI64(0)
		a.op(opI64LtS)
		a.op(opI64ExtendI32U)
		a.op(opI64And)
		a.wrap()
		a.ifResult()
		{
			a.localGet(q)
			a.constI64(1)
			a.op(opI64Sub)
		}
		a.els()
		{
			a.localGet(q)
		}
		a.end()
	}
	a.end()
	mod.SetCode(fn, []byte{valI64, valI64}, a.b)
	return fn
}

// buildZMod builds zmod(lhs, rhs): modulo that follows the sign of rhs
// (Python semantics), 0 when rhs == 0.
func buildZMod(mod *Module) int {
	fn := mod.AddFunc([]byte{valI64, valI64}, []byte{valI64})
	const lhs, rhs, r = 0, 1, 2
	var a asm
	a.localGet(rhs)
	a.op(opI64Eqz)
	a.ifResult()
	{
		a.constI64(0)
	}
	a.els()
	{
		a.localGet(lhs)
		a.localGet(rhs)
		a.op(opI64RemS)
		a.localSet(r)

		a.localGet(r)
		a.constI64(0)
		a.op(opI64Ne)
		a.op(opI64ExtendI32U)
		a.localGet(r)
		a.localGet(rhs)
		a.op(opI64Xor)
		a.constI64(0)
		a.op(opI64LtS)
		a.op(opI64ExtendI32U)
		a.op(opI64And)
		a.wrap()
		a.ifResult()
		{
			a.localGet(r)
			a.localGet(rhs)
			a.op(opI64Add)
		}
		a.els()
		{
			a.localGet(r)
		}
		a.end()
	}
	a.end()
	mod.SetCode(fn, []byte{valI64}, a.b)
	return fn
}

// buildSlotsSet builds slots_set(index, value): writes value into
// slots[index].next, and if it differs from the previously-stored next,
// additionally notifies the host via notifyIdx so the new slot joins the
// pending set.
func buildSlotsSet(mod *Module, notifyIdx int) int {
	fn := mod.AddFunc([]byte{valI64, valI64}, nil)
	const index, value, addr, old = 0, 1, 2, 3
	var a asm
	// addr = index*16 + 8  (the `next` half of the slot)
	a.localGet(index)
	a.constI64(16)
	a.op(opI64Mul)
	a.constI64(8)
	a.op(opI64Add)
	a.localSet(addr)

	a.localGet(addr)
	a.wrap()
	a.load()
	a.localSet(old)

	a.localGet(old)
	a.localGet(value)
	a.op(opI64Ne)
	a.ifVoid()
	{
		a.localGet(addr)
		a.wrap()
		a.localGet(value)
		a.store()
		a.localGet(index)
		a.localGet(value)
		a.call(notifyIdx)
	}
	a.end()
	mod.SetCode(fn, []byte{valI64, valI64}, a.b)
	return fn
}
