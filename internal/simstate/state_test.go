package simstate

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torii-hdl/wasmsim/ir"
)

// fakeMemory is a plain byte-slice Memory, standing in for a wazero
// instance's shared linear memory in tests that don't need a live
// wasmrun.Engine.
type fakeMemory struct {
	buf []byte
}

const pageSize = 65536

func newFakeMemory() *fakeMemory { return &fakeMemory{} }

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

type fakeProc struct {
	marked int
	name   string
	log    *[]string
}

func (p *fakeProc) MarkRunnable() {
	p.marked++
	if p.log != nil {
		*p.log = append(*p.log, p.name)
	}
}

func TestIndexAllocatesDenseSlotsSeededAtReset(t *testing.T) {
	s := New(newFakeMemory())
	sigA := ir.NewSignal("a", ir.Shape{Width: 4})
	sigA.Reset = 3
	sigB := ir.NewSignal("b", ir.Shape{Width: 4})

	idxA := s.Index(sigA)
	idxB := s.Index(sigB)
	assert.Equal(t, 0, idxA)
	assert.Equal(t, 1, idxB)
	assert.Equal(t, idxA, s.Index(sigA), "re-indexing the same signal returns the same slot")

	assert.EqualValues(t, 3, s.GetCurr(idxA))
	assert.EqualValues(t, 3, s.GetNext(idxA))
	assert.EqualValues(t, 0, s.GetCurr(idxB))
}

func TestSetSlotStagesNextAndTracksPendingAgainstCurr(t *testing.T) {
	s := New(newFakeMemory())
	sig := ir.NewSignal("x", ir.Shape{Width: 8})
	idx := s.Index(sig)

	s.SetSlot(idx, 5)
	assert.EqualValues(t, 0, s.GetCurr(idx), "curr is untouched until commit")
	assert.EqualValues(t, 5, s.GetNext(idx))

	fired := s.Commit()
	assert.False(t, fired, "no trigger registered, so nothing should report as fired")
	assert.EqualValues(t, 5, s.GetCurr(idx))

	// Setting next back to the same value as curr removes it from pending;
	// a commit with nothing pending changes nothing and fires nothing.
	s.SetSlot(idx, 5)
	assert.False(t, s.Commit())
}

func TestCommitFiresEdgeTriggerOnlyOnMatchingTransition(t *testing.T) {
	s := New(newFakeMemory())
	clk := ir.NewSignal("clk", ir.Shape{Width: 1})
	idx := s.Index(clk)

	proc := &fakeProc{}
	s.AddTrigger(proc, clk, TriggerSpec{EdgeTo: 1})

	s.SetSlot(idx, 0)
	assert.False(t, s.Commit(), "0 -> 0 is not a rising edge")
	assert.Equal(t, 0, proc.marked)

	s.SetSlot(idx, 1)
	assert.True(t, s.Commit())
	assert.Equal(t, 1, proc.marked)

	s.SetSlot(idx, 0)
	assert.False(t, s.Commit(), "falling edge does not match EdgeTo: 1")
	assert.Equal(t, 1, proc.marked)
}

func TestRemoveTriggerAndClearTriggersStopFutureWakes(t *testing.T) {
	s := New(newFakeMemory())
	sig := ir.NewSignal("s", ir.Shape{Width: 1})
	idx := s.Index(sig)

	p1, p2 := &fakeProc{}, &fakeProc{}
	s.AddTrigger(p1, sig, TriggerSpec{AnyChange: true})
	s.AddTrigger(p2, sig, TriggerSpec{AnyChange: true})

	s.RemoveTrigger(p1, sig)
	s.SetSlot(idx, 1)
	s.Commit()
	assert.Equal(t, 0, p1.marked)
	assert.Equal(t, 1, p2.marked)

	s.ClearTriggers(p2)
	s.SetSlot(idx, 0)
	s.Commit()
	assert.Equal(t, 1, p2.marked, "cleared trigger should not fire again")
}

func TestWaitIntervalOrdersSettleAfterSameInstantTimedWakes(t *testing.T) {
	s := New(newFakeMemory())
	zero := int64(0)

	var order []string
	settleProc := &fakeProc{name: "settle", log: &order}
	timedProc := &fakeProc{name: "timed", log: &order}

	s.WaitInterval(settleProc, nil) // Settle at now (0)
	s.WaitInterval(timedProc, &zero) // ordinary wake also at now (0)

	require.True(t, s.Advance())
	assert.EqualValues(t, 0, s.NowPs())
	// Both are due at the same instant; Advance wakes everything due <= now,
	// popping the ordinary entry before the settle entry.
	assert.Equal(t, 1, timedProc.marked)
	assert.Equal(t, 1, settleProc.marked)
	assert.Equal(t, []string{"timed", "settle"}, order)
}

func TestAdvanceReportsNoFurtherWorkWhenTimelineEmpty(t *testing.T) {
	s := New(newFakeMemory())
	assert.False(t, s.HasScheduledWork())
	assert.False(t, s.Advance())
}

func TestResetReseedsSlotsAndClearsSchedulingState(t *testing.T) {
	s := New(newFakeMemory())
	sig := ir.NewSignal("x", ir.Shape{Width: 4})
	sig.Reset = 7
	idx := s.Index(sig)

	s.SetSlot(idx, 2)
	s.Commit()
	s.WaitInterval(&fakeProc{}, nil)
	assert.True(t, s.HasScheduledWork())

	s.Reset()
	assert.EqualValues(t, 7, s.GetCurr(idx))
	assert.EqualValues(t, 7, s.GetNext(idx))
	assert.False(t, s.HasScheduledWork())
	assert.EqualValues(t, 0, s.NowPs())
}
