package process

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torii-hdl/wasmsim/internal/simstate"
	"github.com/torii-hdl/wasmsim/ir"
)

const pageSize = 65536

// fakeMemory is a growable byte slice satisfying simstate.Memory,
// letting these tests build a real simstate.State without wazero.
type fakeMemory struct{ buf []byte }

func (m *fakeMemory) Size() uint32 { return uint32(len(m.buf)) }
func (m *fakeMemory) Grow(deltaPages uint32) (uint32, bool) {
	prev := uint32(len(m.buf)) / pageSize
	m.buf = append(m.buf, make([]byte, int(deltaPages)*pageSize)...)
	return prev, true
}
func (m *fakeMemory) ReadUint64Le(offset uint32) (uint64, bool) {
	if int(offset)+8 > len(m.buf) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.buf[offset:]), true
}
func (m *fakeMemory) WriteUint64Le(offset uint32, v uint64) bool {
	if int(offset)+8 > len(m.buf) {
		return false
	}
	binary.LittleEndian.PutUint64(m.buf[offset:], v)
	return true
}

func newState() *simstate.State { return simstate.New(&fakeMemory{}) }

func TestClockProcessFirstRunWaitsPhaseThenTogglesEveryHalfPeriod(t *testing.T) {
	s := newState()
	clk := ir.NewSignal("clk", ir.Shape{Width: 1})

	cp, err := NewClockProcess(s, clk, 10, 3) // period=10ps, phase=3ps
	require.NoError(t, err)
	assert.True(t, cp.Runnable())

	require.NoError(t, cp.Run())
	assert.False(t, cp.Runnable())
	require.True(t, s.Advance())
	assert.EqualValues(t, 3, s.NowPs(), "first wake is the phase offset")

	idx := s.Index(clk)
	before := s.GetCurr(idx)
	require.NoError(t, cp.Run())
	s.Commit()
	after := s.GetCurr(idx)
	assert.NotEqual(t, before, after, "second run toggles the clock")

	require.True(t, s.Advance())
	assert.EqualValues(t, 3+5, s.NowPs(), "subsequent wakes are one half-period apart")
}

func TestNewClockProcessRejectsNonSingleBitSignal(t *testing.T) {
	s := newState()
	wide := ir.NewSignal("w", ir.Shape{Width: 4})
	_, err := NewClockProcess(s, wide, 10, 0)
	require.Error(t, err)
}

func TestRTLProcessCombStartsRunnableAndStaysPassive(t *testing.T) {
	s := newState()
	rp := NewRTLProcess(s, nil, stubRunner{}, true)
	assert.True(t, rp.Runnable())
	assert.True(t, rp.Passive())
}

func TestRTLProcessClockedSubscribesToClockEdge(t *testing.T) {
	s := newState()
	clk := ir.NewSignal("clk", ir.Shape{Width: 1})
	domain := &ir.Domain{Name: "sync", Clk: clk, ClkEdge: 1}

	rp := NewRTLProcess(s, domain, stubRunner{}, false)
	assert.False(t, rp.Runnable(), "clocked domains do not start runnable")

	idx := s.Index(clk)
	s.SetSlot(idx, 1)
	s.Commit()
	assert.True(t, rp.Runnable(), "rising edge on clk should mark the domain runnable")
}

type stubRunner struct{ called *int }

func (s stubRunner) Run() error {
	if s.called != nil {
		*s.called++
	}
	return nil
}

func TestCoroProcessTickParksOnClockEdgeAndResumesOnce(t *testing.T) {
	s := newState()
	clk := ir.NewSignal("clk", ir.Shape{Width: 1})
	domain := &ir.Domain{Name: "sync", Clk: clk, ClkEdge: 1}
	domains := map[string]*ir.Domain{"sync": domain}

	ticks := 0
	fn := func(yield func(cmd any) (any, error)) error {
		for i := 0; i < 2; i++ {
			if _, err := yield(Tick{Name: "sync"}); err != nil {
				return err
			}
			ticks++
		}
		return nil
	}

	cp := NewCoroProcess(s, domains, fakeRunner{}, fn, nil)
	require.NoError(t, cp.Run())
	assert.Equal(t, 0, ticks, "first Tick parks before the body after it runs")
	assert.False(t, cp.Dead())

	idx := s.Index(clk)
	s.SetSlot(idx, 1)
	s.Commit()
	require.NoError(t, cp.Run())
	assert.Equal(t, 1, ticks)

	s.SetSlot(idx, 0)
	s.Commit()
	s.SetSlot(idx, 1)
	s.Commit()
	require.NoError(t, cp.Run())
	assert.Equal(t, 2, ticks)
	assert.True(t, cp.Dead())
}

func TestCoroProcessDefaultCommandSubstitutesOnNilYield(t *testing.T) {
	s := newState()
	fn := func(yield func(cmd any) (any, error)) error {
		_, err := yield(nil)
		return err
	}
	cp := NewCoroProcess(s, nil, fakeRunner{}, fn, Passive{})
	require.NoError(t, cp.Run())
	assert.True(t, cp.Passive(), "nil yield substituted with the configured default command")
}

func TestCoroProcessNilYieldWithNoDefaultIsAnError(t *testing.T) {
	s := newState()
	var gotErr error
	fn := func(yield func(cmd any) (any, error)) error {
		_, err := yield(nil)
		gotErr = err
		return err
	}
	cp := NewCoroProcess(s, nil, fakeRunner{}, fn, nil)
	err := cp.Run() // the coroutine returns the injected error, which Run then surfaces
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDefaultCommandRequired)
	assert.ErrorIs(t, gotErr, ErrDefaultCommandRequired)
}

func TestCoroProcessRunExpressionValueIsNormalizedAndReturned(t *testing.T) {
	s := newState()
	var observed int64
	fn := func(yield func(cmd any) (any, error)) error {
		v, err := yield(&ir.Const{Value: 5, Shape: ir.Shape{Width: 4, Signed: true}})
		if err != nil {
			return err
		}
		observed = v.(int64)
		_, err = yield(Passive{})
		return err
	}
	cp := NewCoroProcess(s, nil, fakeRunner{raw: 0xf}, fn, nil) // 0b1111 as a signed 4-bit value is -1
	require.NoError(t, cp.Run())
	assert.EqualValues(t, -1, observed)
}

type fakeRunner struct{ raw uint64 }

func (f fakeRunner) RunExpression(v ir.Value) (uint64, error) { return f.raw, nil }
func (f fakeRunner) RunStatement(st ir.Statement) error        { return nil }
