package rtlcompile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torii-hdl/wasmsim/internal/wasmtext"
	"github.com/torii-hdl/wasmsim/ir"
)

// fakeIndexer assigns dense indices in first-sight order, mirroring
// simstate.State.Index without pulling in a Memory.
type fakeIndexer struct {
	idx map[*ir.Signal]int
}

func newFakeIndexer() *fakeIndexer { return &fakeIndexer{idx: map[*ir.Signal]int{}} }

func (f *fakeIndexer) Index(sig *ir.Signal) int {
	if i, ok := f.idx[sig]; ok {
		return i
	}
	i := len(f.idx)
	f.idx[sig] = i
	return i
}

func TestPatternMaskValueTreatsDashAsDontCare(t *testing.T) {
	mask, value := patternMaskValue("1-0")
	// bit2=1 (care,1), bit1=- (don't care), bit0=0 (care,0)
	assert.EqualValues(t, 0b101, mask)
	assert.EqualValues(t, 0b100, value)
}

func TestPatternMaskValueEmptyMatchesAnything(t *testing.T) {
	mask, value := patternMaskValue("")
	assert.EqualValues(t, 0, mask)
	assert.EqualValues(t, 0, value)
}

func TestMaskConstKeepsOnlyLowWidthBits(t *testing.T) {
	assert.EqualValues(t, 0b1111, maskConst(4))
	assert.EqualValues(t, ^uint64(0), maskConst(64))
}

func TestCompileDomainCombPreambleSeedsFromResetNotMemory(t *testing.T) {
	idx := newFakeIndexer()
	count := ir.NewSignal("count", ir.Shape{Width: 3})
	count.Reset = 5

	assign := &ir.Assign{
		LHS: &ir.Ref{Signal: count},
		RHS: &ir.Const{Value: 1, Shape: ir.Shape{Width: 3}},
	}

	mod := &wasmtext.Module{}
	text, err := CompileDomain(mod, idx, []*ir.Signal{count}, []ir.Statement{assign}, true)
	require.NoError(t, err)
	assert.Contains(t, text, "i64.const 5", "combinational preamble seeds next_<i> from the signal's reset")
	assert.Contains(t, text, "call $slots_set")
}

func TestCompileDomainSyncPreambleLoadsFromMemoryNotReset(t *testing.T) {
	idx := newFakeIndexer()
	count := ir.NewSignal("count", ir.Shape{Width: 3})
	count.Reset = 5

	assign := &ir.Assign{
		LHS: &ir.Ref{Signal: count},
		RHS: &ir.Binary{
			Op:    ir.OpAdd,
			LHS:   &ir.Ref{Signal: count},
			RHS:   &ir.Const{Value: 1, Shape: ir.Shape{Width: 3}},
			Shape: ir.Shape{Width: 3},
		},
	}

	mod := &wasmtext.Module{}
	text, err := CompileDomain(mod, idx, []*ir.Signal{count}, []ir.Statement{assign}, false)
	require.NoError(t, err)
	assert.Contains(t, text, "slots[0].next", "clocked preamble resumes from the staged next, not the reset")
	assert.NotContains(t, text, "i64.const 5", "the reset value must never appear in a clocked domain's compile")
}

func TestLoadAddressesAreWrappedToI32BeforeLoad(t *testing.T) {
	idx := newFakeIndexer()
	sig := ir.NewSignal("s", ir.Shape{Width: 4})

	mod := &wasmtext.Module{}
	em := wasmtext.NewEmitter(mod)
	em.LoadCurr(idx.Index(sig))
	text := em.Finish(true)

	require.Contains(t, text, "i32.wrap_i64")
	require.Contains(t, text, "i64.load")
	assert.Less(t, strings.Index(text, "i32.wrap_i64"), strings.Index(text, "i64.load"),
		"the i64 byte address must be wrapped to i32 right before the load")
}

func TestMuxConditionIsNotWidenedBeforeIf(t *testing.T) {
	idx := newFakeIndexer()
	a := ir.NewSignal("a", ir.Shape{Width: 1})
	b := ir.NewSignal("b", ir.Shape{Width: 1})
	sel := ir.NewSignal("sel", ir.Shape{Width: 1})

	mux := &ir.Mux{
		Sel:   &ir.Ref{Signal: sel},
		A:     &ir.Ref{Signal: a},
		B:     &ir.Ref{Signal: b},
		Shape: ir.Shape{Width: 1},
	}

	mod := &wasmtext.Module{}
	text, err := CompileExpression(mod, idx, mux)
	require.NoError(t, err)
	assert.NotContains(t, text, "i64.extend_i32_u", "a Mux's selector test must stay i32 and feed `if` directly, never widened back to i64")
}

func TestCompileExpressionRejectsOversizeWidth(t *testing.T) {
	idx := newFakeIndexer()
	wide := ir.NewSignal("huge", ir.Shape{Width: 64})
	mod := &wasmtext.Module{}
	_, err := CompileExpression(mod, idx, &ir.Ref{Signal: wide})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "huge")
}

func TestDiscoverOutputsWalksSwitchBodiesAndLHSShapes(t *testing.T) {
	a := ir.NewSignal("a", ir.Shape{Width: 1})
	b := ir.NewSignal("b", ir.Shape{Width: 1})

	sw := &ir.Switch{
		Test: &ir.Const{Value: 0, Shape: ir.Shape{Width: 1}},
		Cases: []ir.SwitchCase{
			{Pattern: "0", Body: []ir.Statement{&ir.Assign{LHS: &ir.Ref{Signal: a}, RHS: &ir.Const{Shape: ir.Shape{Width: 1}}}}},
			{Pattern: "", Body: []ir.Statement{&ir.Assign{LHS: &ir.Ref{Signal: b}, RHS: &ir.Const{Shape: ir.Shape{Width: 1}}}}},
		},
	}

	out := DiscoverOutputs([]ir.Statement{sw})
	assert.True(t, out[a])
	assert.True(t, out[b])
	assert.Len(t, out, 2)
}

func TestEmitValueMasksAndSignExtendsASignedRef(t *testing.T) {
	idx := newFakeIndexer()
	sig := ir.NewSignal("s", ir.Shape{Width: 4, Signed: true})

	mod := &wasmtext.Module{}
	em := wasmtext.NewEmitter(mod)
	c := newCompiler(em, idx, nil)
	c.emitValue(&ir.Ref{Signal: sig}, ModeCurr)
	text := em.Finish(true)

	assert.Contains(t, text, "slots[0].curr")
	assert.Contains(t, text, "i64.const 15", "4-bit mask")
	assert.Contains(t, text, "call $sign")
}
