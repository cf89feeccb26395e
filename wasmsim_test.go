package wasmsim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torii-hdl/wasmsim"
	"github.com/torii-hdl/wasmsim/internal/process"
	"github.com/torii-hdl/wasmsim/ir"
)

// buildCounter constructs §8 end-to-end scenario 1: a 3-bit count signal
// reset to 4, driven by count <- count+1 in the sync domain.
func buildCounter(t *testing.T) (*ir.Fragment, *ir.Signal, *ir.Signal) {
	t.Helper()
	count := ir.NewSignal("count", ir.Shape{Width: 3})
	count.Reset = 4
	clk := ir.NewSignal("clk", ir.Shape{Width: 1})
	domain := &ir.Domain{Name: "sync", Clk: clk, ClkEdge: 1}

	assign := &ir.Assign{
		LHS: &ir.Ref{Signal: count},
		RHS: &ir.Binary{
			Op:    ir.OpAdd,
			LHS:   &ir.Ref{Signal: count},
			RHS:   &ir.Const{Value: 1, Shape: ir.Shape{Width: 3}},
			Shape: ir.Shape{Width: 3},
		},
	}

	frag := &ir.Fragment{
		Drivers:    map[string][]*ir.Signal{"sync": {count}},
		Statements: map[string][]ir.Statement{"sync": {assign}},
		Domains:    map[string]*ir.Domain{"sync": domain},
	}
	return frag, count, clk
}

// TestCounterReachesFiveAfterOneEdgeAndWrapsAfterFour drives §8 scenario
// 1 end to end through the real wazero-backed engine.
func TestCounterReachesFiveAfterOneEdgeAndWrapsAfterFour(t *testing.T) {
	frag, count, clk := buildCounter(t)
	sim, err := wasmsim.New(frag)
	require.NoError(t, err)
	defer sim.Close()

	require.NoError(t, sim.AddClock(clk, 10e-9))

	// A clock is passive, so an active coroutine parked past the last
	// edge keeps RunUntil advancing time.
	keepAlive := 1e-6
	require.NoError(t, sim.AddProcess(func(yield func(cmd any) (any, error)) error {
		_, err := yield(process.Delay{Seconds: &keepAlive})
		return err
	}))

	idx := sim.State().Index(count)

	require.NoError(t, sim.RunUntil(10e-9))
	assert.EqualValues(t, 5, sim.State().GetCurr(idx), "after one clock edge count = reset(4) + 1")

	for i := 0; i < 3; i++ {
		require.NoError(t, sim.RunUntil(sim.Now()+10e-9))
	}
	assert.EqualValues(t, 0, sim.State().GetCurr(idx), "after four edges total, a 3-bit counter from 4 wraps to 0")
}

func TestAddClockRejectsDuplicateClockOnSameDomainUnlessIfExists(t *testing.T) {
	frag, _, clk := buildCounter(t)
	sim, err := wasmsim.New(frag)
	require.NoError(t, err)
	defer sim.Close()

	require.NoError(t, sim.AddClock(clk, 10e-9))
	require.Error(t, sim.AddClock(clk, 10e-9))
	require.NoError(t, sim.AddClock(clk, 10e-9, wasmsim.IfExists()))
}

func TestWriteVCDFailsAfterTimeHasAdvanced(t *testing.T) {
	frag, _, clk := buildCounter(t)
	sim, err := wasmsim.New(frag)
	require.NoError(t, err)
	defer sim.Close()

	require.NoError(t, sim.AddClock(clk, 10e-9))
	require.NoError(t, sim.RunUntil(10e-9))

	err = sim.WriteVCD(noopVCDWriter{}, "/tmp/x.vcd", "", nil)
	require.Error(t, err)
}

type noopVCDWriter struct{}

func (noopVCDWriter) WriteVCD(vcdPath, gtkwPath string, traces []*ir.Signal) error { return nil }

// TestAddSyncProcessReadsCounterAfterEachEdge exercises the coroutine
// command protocol (default Tick, Settle and an expression read) against
// a live simulation of the counter, reading count after each of two
// clock edges.
func TestAddSyncProcessReadsCounterAfterEachEdge(t *testing.T) {
	frag, count, clk := buildCounter(t)
	sim, err := wasmsim.New(frag)
	require.NoError(t, err)
	defer sim.Close()

	require.NoError(t, sim.AddClock(clk, 10e-9))

	var seen []int64
	err = sim.AddSyncProcess(func(yield func(cmd any) (any, error)) error {
		for i := 0; i < 2; i++ {
			if _, err := yield(nil); err != nil { // nil -> default Tick(sync)
				return err
			}
			// Settle lets the edge's RTL write commit before this
			// reads count, per §5's "settle-waiting coroutines run
			// after any same-instant trigger-driven processes".
			if _, err := yield(process.Settle{}); err != nil {
				return err
			}
			v, err := yield(ir.Value(&ir.Ref{Signal: count}))
			if err != nil {
				return err
			}
			seen = append(seen, v.(int64))
		}
		return nil
	}, "sync")
	require.NoError(t, err)

	require.NoError(t, sim.RunUntil(30e-9))
	assert.Equal(t, []int64{5, 6}, seen)
}
