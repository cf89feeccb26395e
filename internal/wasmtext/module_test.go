package wasmtext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeStartsWithWasmMagicAndVersion(t *testing.T) {
	mod := &Module{}
	em := NewEmitter(mod)
	em.I64Const(42)
	em.Finish(true)

	bin := mod.Encode()
	require.GreaterOrEqual(t, len(bin), 8)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, bin[:8])
}

func TestEnsureHelpersIsIdempotentPerModule(t *testing.T) {
	mod := &Module{}
	h1 := EnsureHelpers(mod)
	h2 := EnsureHelpers(mod)
	assert.Same(t, h1, h2)

	// A second Emitter against the same module must reuse, not duplicate,
	// the helper functions and the gmem/slots_set_py imports.
	NewEmitter(mod)
	assert.Len(t, mod.imports, 2, "gmem memory + slots_set_py callback, installed exactly once")
}

func TestFinishBalancesAnUnbalancedBodyWithAZeroConstant(t *testing.T) {
	mod := &Module{}
	em := NewEmitter(mod)
	// A bare statement cascade: nothing pushed onto the stack.
	em.Finish(false)

	// The last bytes of the assembled code, before the trailing `end`, must
	// be the one-byte i64.const opcode followed by a zero LEB128 operand.
	code := mod.codes[len(mod.codes)-1]
	assert.Equal(t, byte(opEnd), code[len(code)-1])
	assert.Equal(t, byte(opI64Const), code[len(code)-3])
	assert.Equal(t, byte(0x00), code[len(code)-2])
}

func TestLocalReturnsStableIndexPerName(t *testing.T) {
	mod := &Module{}
	em := NewEmitter(mod)
	a := em.Local("a")
	b := em.Local("b")
	aAgain := em.Local("a")
	assert.Equal(t, a, aAgain)
	assert.NotEqual(t, a, b)
}

func TestFreshLocalNeverCollides(t *testing.T) {
	mod := &Module{}
	em := NewEmitter(mod)
	name1, idx1 := em.FreshLocal("tmp")
	name2, idx2 := em.FreshLocal("tmp")
	assert.NotEqual(t, name1, name2)
	assert.NotEqual(t, idx1, idx2)
}

func TestAddImportAndAddFuncShareTheFunctionIndexSpace(t *testing.T) {
	mod := &Module{}
	mod.AddImport("", "notify", []byte{valI64}, nil)
	fn := mod.AddFunc(nil, []byte{valI64})
	// The local function's index must come after the one imported function.
	assert.Equal(t, 1, fn)
}
