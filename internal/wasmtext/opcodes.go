package wasmtext

// Wasm binary encoding constants, adapted from the teacher's wasm32
// backend opcode table and extended with the i64 memory and popcount
// opcodes an RTL compiler targeting 64-bit slot memory needs that a
// pointer-sized wasm32 code generator never touched.

// Section IDs.
const (
	secType     = 1
	secImport   = 2
	secFunction = 3
	secMemory   = 5
	secExport   = 7
	secCode     = 10
)

// Value types.
const (
	valI64  = 0x7e
	funcTag = 0x60
	blockI64 = 0x7e
	blockVoid = 0x40
)

// External kinds.
const (
	extFunc   = 0x00
	extMemory = 0x02
)

// Control/parametric/variable opcodes.
const (
	opBlock   = 0x02
	opLoop    = 0x03
	opIf      = 0x04
	opElse    = 0x05
	opEnd     = 0x0b
	opCall    = 0x10
	opDrop    = 0x1a
	opLocalGet = 0x20
	opLocalSet = 0x21
	opLocalTee = 0x22
)

// Memory opcodes (alignment byte is always 3 for 8-byte-aligned i64 access).
const (
	opI64Load  = 0x29
	opI64Store = 0x37
)

// i64 numeric opcodes.
const (
	opI64Const = 0x42
	opI64Eqz   = 0x50
	opI64Eq    = 0x51
	opI64Ne    = 0x52
	opI64LtS   = 0x53
	opI64GtS   = 0x55
	opI64LeS   = 0x57
	opI64GeS   = 0x59
	opI64Clz   = 0x79
	opI64Popcnt = 0x7a
	opI64Add   = 0x7c
	opI64Sub   = 0x7d
	opI64Mul   = 0x7e
	opI64DivS  = 0x7f
	opI64RemS  = 0x81
	opI64And   = 0x83
	opI64Or    = 0x84
	opI64Xor   = 0x85
	opI64Shl   = 0x86
	opI64ShrS  = 0x87
	opI64ShrU  = 0x88
)

// i32→i64 conversion. Every i64 comparison (eq/ne/lt_s/.../eqz) yields an
// i32 boolean per the Wasm spec; the compiler's stack discipline is
// single-lane i64 throughout, so every comparison result is immediately
// widened with this before it joins an i64 expression. A comparison
// consumed directly as an `if` condition is left un-widened instead,
// since `if` pops i32.
const opI64ExtendI32U = 0xad

// i64→i32 conversion. The module's memory is a standard (not memory64)
// linear memory, so every byte address — always computed in i64
// arithmetic alongside the rest of the slot math — must be wrapped to
// i32 immediately before it reaches i64.load/i64.store.
const opI32WrapI64 = 0xa7

func appendULEB128(buf []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			break
		}
	}
	return buf
}

func appendSLEB128_64(buf []byte, v int64) []byte {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && (b&0x40) == 0) || (v == -1 && (b&0x40) != 0) {
			more = false
		} else {
			b |= 0x80
		}
		buf = append(buf, b)
	}
	return buf
}
