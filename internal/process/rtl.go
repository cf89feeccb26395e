package process

import (
	"github.com/torii-hdl/wasmsim/internal/simstate"
	"github.com/torii-hdl/wasmsim/ir"
)

// DomainRunner repeatedly re-enters one compiled module's exported
// run() against the live shared memory. §4.6 requires the runner be
// re-entrant and never cache a stale snapshot of curr — the concrete
// implementation in internal/wasmrun satisfies that by reading memory
// fresh on every call.
type DomainRunner interface {
	Run() error
}

// RTLProcess represents one compiled driver domain: combinational
// (IsComb) or synchronous. Per §4.7 it starts runnable exactly when
// combinational, and is always passive (it never, by itself, keeps the
// simulation alive — only a non-passive coroutine does).
type RTLProcess struct {
	state  *simstate.State
	domain *ir.Domain // nil for the combinational domain
	runner DomainRunner
	isComb bool

	runnable bool
}

// NewRTLProcess constructs and resets an RTLProcess, subscribing
// clocked domains to their clock (and, for async resets, reset) edges.
func NewRTLProcess(state *simstate.State, domain *ir.Domain, runner DomainRunner, isComb bool) *RTLProcess {
	p := &RTLProcess{state: state, domain: domain, runner: runner, isComb: isComb}
	p.Reset()
	return p
}

func (p *RTLProcess) Reset() {
	p.runnable = p.isComb
	if !p.isComb && p.domain != nil {
		p.state.AddTrigger(p, p.domain.Clk, simstate.TriggerSpec{EdgeTo: p.domain.ClkEdge})
		if p.domain.Rst != nil && p.domain.AsyncReset {
			p.state.AddTrigger(p, p.domain.Rst, simstate.TriggerSpec{EdgeTo: 1})
		}
	}
}

func (p *RTLProcess) MarkRunnable()  { p.runnable = true }
func (p *RTLProcess) Runnable() bool { return p.runnable }
func (p *RTLProcess) Passive() bool  { return true }

func (p *RTLProcess) Run() error {
	p.runnable = false
	return p.runner.Run()
}
