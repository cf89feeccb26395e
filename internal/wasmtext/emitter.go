package wasmtext

import (
	"fmt"
	"strings"
)

// Emitter is the append-only textual/binary builder for one compiled
// unit's `run` function body. It tracks nesting depth purely for the
// readability of its text dump, allocates uniquely-suffixed local names,
// and keeps the binary encoding that actually executes in lockstep with
// the text so no separate text→binary pass is ever needed.
type Emitter struct {
	Mod *Module

	code  []byte
	text  strings.Builder
	depth int

	localIdx   map[string]uint32
	localOrder []string
	nextLocal  uint32

	tmpCounter int

	// Shared helper function indices, resolved once per Module by
	// EnsureHelpers and reused by every Emitter writing into that Module.
	helpers *Helpers
}

// NewEmitter starts a new function body against mod, reusing (or
// installing) its shared helper functions and the "" gmem / slots_set_py
// imports every compiled unit needs.
func NewEmitter(mod *Module) *Emitter {
	return &Emitter{
		Mod:      mod,
		localIdx: map[string]uint32{},
		helpers:  EnsureHelpers(mod),
	}
}

func (e *Emitter) indent() string { return strings.Repeat("  ", e.depth) }

func (e *Emitter) line(format string, args ...any) {
	fmt.Fprintf(&e.text, "%s%s\n", e.indent(), fmt.Sprintf(format, args...))
}

// Local returns the local-variable index for name, declaring a fresh i64
// local the first time it is seen.
func (e *Emitter) Local(name string) uint32 {
	if idx, ok := e.localIdx[name]; ok {
		return idx
	}
	idx := e.nextLocal
	e.nextLocal++
	e.localIdx[name] = idx
	e.localOrder = append(e.localOrder, name)
	return idx
}

// FreshLocal allocates a new, uniquely-suffixed local name for an
// intermediate value (e.g. the base of a Cat read-modify-write) and
// returns both its name and index.
func (e *Emitter) FreshLocal(prefix string) (string, uint32) {
	e.tmpCounter++
	name := fmt.Sprintf("%s_%d", prefix, e.tmpCounter)
	return name, e.Local(name)
}

func (e *Emitter) emitByte(b byte)      { e.code = append(e.code, b) }
func (e *Emitter) emitBytes(b ...byte)  { e.code = append(e.code, b...) }

// I64Const pushes a constant.
func (e *Emitter) I64Const(v int64) {
	e.emitByte(opI64Const)
	e.code = appendSLEB128_64(e.code, v)
	e.line("i64.const %d", v)
}

// LocalGet pushes the named local's value, declaring it if unseen.
func (e *Emitter) LocalGet(name string) {
	idx := e.Local(name)
	e.emitByte(opLocalGet)
	e.code = appendULEB128(e.code, idx)
	e.line("local.get $%s", name)
}

// LocalSet pops the top of stack into the named local.
func (e *Emitter) LocalSet(name string) {
	idx := e.Local(name)
	e.emitByte(opLocalSet)
	e.code = appendULEB128(e.code, idx)
	e.line("local.set $%s", name)
}

// LocalTee pops-and-keeps, mirroring LocalSet's wire shape but leaving a
// copy of the value on the stack.
func (e *Emitter) LocalTee(name string) {
	idx := e.Local(name)
	e.emitByte(opLocalTee)
	e.code = appendULEB128(e.code, idx)
	e.line("local.tee $%s", name)
}

// LoadCurr pushes slots[index].curr from shared memory (byte offset
// 16*index): the RHS compiler's "curr" mode load. The address is built
// in i64 (alongside the rest of the slot math) and wrapped to i32
// immediately before the load, since the module's memory is a standard
// 32-bit memory.
func (e *Emitter) LoadCurr(index int) {
	e.I64Const(int64(index) * 16)
	e.WrapI32()
	e.emitByte(opI64Load)
	e.emitBytes(0x03, 0x00) // align=8 bytes, offset=0 (offset folded into the pushed address above)
	e.line("i64.load offset=0  ; slots[%d].curr", index)
}

// LoadNext pushes slots[index].next from shared memory (byte offset
// 16*index+8): used only to seed a clocked domain's next_<index> local
// from whatever was last staged there, per §4.4's synchronous preamble.
func (e *Emitter) LoadNext(index int) {
	e.I64Const(int64(index)*16 + 8)
	e.WrapI32()
	e.emitByte(opI64Load)
	e.emitBytes(0x03, 0x00)
	e.line("i64.load offset=0  ; slots[%d].next", index)
}

// simple appends a single opcode with a one-line textual mnemonic.
func (e *Emitter) simple(op byte, mnemonic string) {
	e.emitByte(op)
	e.line("%s", mnemonic)
}

func (e *Emitter) Add() { e.simple(opI64Add, "i64.add") }
func (e *Emitter) Sub() { e.simple(opI64Sub, "i64.sub") }
func (e *Emitter) Mul() { e.simple(opI64Mul, "i64.mul") }
func (e *Emitter) And() { e.simple(opI64And, "i64.and") }
func (e *Emitter) Or()  { e.simple(opI64Or, "i64.or") }
func (e *Emitter) Xor() { e.simple(opI64Xor, "i64.xor") }
func (e *Emitter) Shl() { e.simple(opI64Shl, "i64.shl") }
func (e *Emitter) ShrU() { e.simple(opI64ShrU, "i64.shr_u") }
func (e *Emitter) ShrS() { e.simple(opI64ShrS, "i64.shr_s") }
func (e *Emitter) Eq()  { e.simple(opI64Eq, "i64.eq") }
func (e *Emitter) Ne()  { e.simple(opI64Ne, "i64.ne") }
func (e *Emitter) LtS() { e.simple(opI64LtS, "i64.lt_s") }
func (e *Emitter) GtS() { e.simple(opI64GtS, "i64.gt_s") }
func (e *Emitter) LeS() { e.simple(opI64LeS, "i64.le_s") }
func (e *Emitter) GeS() { e.simple(opI64GeS, "i64.ge_s") }
func (e *Emitter) Eqz() { e.simple(opI64Eqz, "i64.eqz") }
func (e *Emitter) Popcnt() { e.simple(opI64Popcnt, "i64.popcnt") }
func (e *Emitter) Drop() { e.simple(opDrop, "drop") }

// ExtendI32U widens the i32 produced by any comparison op back to i64.
func (e *Emitter) ExtendI32U() { e.simple(opI64ExtendI32U, "i64.extend_i32_u") }

// WrapI32 narrows an i64 byte address to the i32 the memory's
// load/store instructions require.
func (e *Emitter) WrapI32() { e.simple(opI32WrapI64, "i32.wrap_i64") }

// Call invokes the function at funcIdx with the given mnemonic for the dump.
func (e *Emitter) Call(funcIdx int, mnemonic string) {
	e.emitByte(opCall)
	e.code = appendULEB128(e.code, uint32(funcIdx))
	e.line("call %s", mnemonic)
}

// CallSign calls the shared sign(value, width) helper.
func (e *Emitter) CallSign() { e.Call(e.helpers.Sign, "$sign") }

// CallZDiv calls the shared floor-division helper.
func (e *Emitter) CallZDiv() { e.Call(e.helpers.ZDiv, "$zdiv") }

// CallZMod calls the shared Python-sign modulo helper.
func (e *Emitter) CallZMod() { e.Call(e.helpers.ZMod, "$zmod") }

// CallSlotsSet calls the shared slots_set(index, value) helper.
func (e *Emitter) CallSlotsSet() { e.Call(e.helpers.SlotsSet, "$slots_set") }

// BeginIf opens an `if` block with the given result arity (hasResult
// true for an expression-valued if/else, false for a statement cascade).
func (e *Emitter) BeginIf(hasResult bool) {
	e.emitByte(opIf)
	if hasResult {
		e.emitByte(blockI64)
	} else {
		e.emitByte(blockVoid)
	}
	e.line("if")
	e.depth++
}

// Else opens the else arm of the innermost open if.
func (e *Emitter) Else() {
	e.depth--
	e.line("else")
	e.depth++
	e.emitByte(opElse)
}

// EndIf closes the innermost open if.
func (e *Emitter) EndIf() {
	e.depth--
	e.emitByte(opEnd)
	e.line("end")
}

// Finish assembles the function: if the body ended without leaving a
// value on the stack (a bare statement sequence), a trailing zero
// constant balances the single-i64-result signature every compiled unit
// exports as `run`. It registers the function with Mod, attaches its
// code, and exports it as "run". Returns the assembled text for
// TORII_WASMSIM_DUMP.
func (e *Emitter) Finish(balanced bool) string {
	if !balanced {
		e.I64Const(0)
	}
	fn := e.Mod.AddFunc(nil, []byte{valI64})
	localTypes := make([]byte, len(e.localOrder))
	for i := range localTypes {
		localTypes[i] = valI64
	}
	e.Mod.SetCode(fn, localTypes, e.code)
	e.Mod.AddExport("run", extFunc, uint32(fn))
	return e.text.String()
}
