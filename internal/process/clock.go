package process

import (
	"github.com/pkg/errors"

	"github.com/torii-hdl/wasmsim/internal/simstate"
	"github.com/torii-hdl/wasmsim/ir"
)

// ClockProcess toggles a 1-bit signal on a period, per §4.8: the first
// invocation only waits out the phase offset, every later one flips the
// signal and waits half a period.
type ClockProcess struct {
	state  *simstate.State
	index  int
	period int64
	phase  int64

	runnable bool
	initial  bool
}

// NewClockProcess constructs a ClockProcess over sig, which must be
// exactly 1 bit wide.
func NewClockProcess(state *simstate.State, sig *ir.Signal, periodPs, phasePs int64) (*ClockProcess, error) {
	if sig.Shape.Width != 1 {
		return nil, errors.Errorf("clock signal %s must be exactly 1 bit wide, not %d", sig, sig.Shape.Width)
	}
	p := &ClockProcess{state: state, index: state.Index(sig), period: periodPs, phase: phasePs}
	p.Reset()
	return p, nil
}

func (p *ClockProcess) Reset() {
	p.runnable = true
	p.initial = true
}

func (p *ClockProcess) MarkRunnable()  { p.runnable = true }
func (p *ClockProcess) Runnable() bool { return p.runnable }

// Passive is always true: a clock alone never keeps the simulation
// alive, only whatever coroutine is Ticking on it does.
func (p *ClockProcess) Passive() bool { return true }

func (p *ClockProcess) Run() error {
	p.runnable = false

	if p.initial {
		p.initial = false
		phase := p.phase
		p.state.WaitInterval(p, &phase)
		return nil
	}

	curr := p.state.GetCurr(p.index)
	next := (^curr) & 1
	p.state.SetSlot(p.index, next)

	half := p.period / 2
	p.state.WaitInterval(p, &half)
	return nil
}
