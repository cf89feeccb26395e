package process

import (
	"runtime"

	"github.com/pkg/errors"

	"github.com/torii-hdl/wasmsim/internal/simstate"
	"github.com/torii-hdl/wasmsim/ir"
)

// Runner compiles and executes one-off expressions and statements on
// behalf of a coroutine command — the Value/Statement rows of §4.9's
// table. internal/wasmrun's Engine implements it.
type Runner interface {
	RunExpression(v ir.Value) (uint64, error)
	RunStatement(st ir.Statement) error
}

// CoroFunc is a user simulation process: it runs until completion,
// calling yield to hand a command to the scheduler and receive back
// either a response or an injected error — Go's nearest equivalent of a
// Python generator's bidirectional yield, per the design notes'
// "blocking function the caller invokes". Go has no first-class
// generators, so CoroProcess backs this with a goroutine parked on a
// pair of unbuffered channels, the standard idiom for porting
// generator-based coroutines.
type CoroFunc func(yield func(cmd any) (any, error)) error

type resumeMsg struct {
	value any
	err   error
}

// CoroProcess drives one CoroFunc per the command protocol in §4.9.
type CoroProcess struct {
	state   *simstate.State
	domains map[string]*ir.Domain
	runner  Runner
	fn      CoroFunc
	defaultCmd any

	runnable bool
	passive  bool
	dead     bool
	started  bool

	cmdCh    chan any
	resumeCh chan resumeMsg
	exitErr  error
}

// NewCoroProcess constructs and resets a CoroProcess. domains resolves
// Tick commands that name a domain by string; defaultCmd is substituted
// whenever fn yields nil (add_sync_process wires a Tick here).
func NewCoroProcess(state *simstate.State, domains map[string]*ir.Domain, runner Runner, fn CoroFunc, defaultCmd any) *CoroProcess {
	p := &CoroProcess{state: state, domains: domains, runner: runner, fn: fn, defaultCmd: defaultCmd}
	p.Reset()
	return p
}

// Reset detaches any in-flight coroutine (closing resumeCh lets a
// parked goroutine unwind via runtime.Goexit rather than leak) and
// restarts fresh from the top — mirroring torii re-invoking the
// generator function to get a brand new generator object.
func (p *CoroProcess) Reset() {
	if p.resumeCh != nil {
		close(p.resumeCh)
	}
	p.cmdCh = nil
	p.resumeCh = nil
	p.exitErr = nil
	p.started = false
	p.dead = false
	p.runnable = true
	p.passive = false
}

func (p *CoroProcess) MarkRunnable()  { p.runnable = true }
func (p *CoroProcess) Runnable() bool { return p.runnable }
func (p *CoroProcess) Passive() bool  { return p.passive }

// Dead reports whether the coroutine has run to completion (its
// generator function returned). A dead coroutine's Run is a no-op.
func (p *CoroProcess) Dead() bool { return p.dead }

func (p *CoroProcess) ensureStarted() {
	if p.started {
		return
	}
	p.started = true
	p.cmdCh = make(chan any)
	p.resumeCh = make(chan resumeMsg)
	go func() {
		defer close(p.cmdCh)
		p.exitErr = p.fn(p.yield)
	}()
}

func (p *CoroProcess) yield(cmd any) (any, error) {
	p.cmdCh <- cmd
	msg, ok := <-p.resumeCh
	if !ok {
		runtime.Goexit()
	}
	return msg.value, msg.err
}

// Run implements §4.9: clear prior triggers, drive the coroutine until
// it parks on a blocking command or exhausts, funnelling command-
// processing errors back into the coroutine as an injected exception at
// its next resumption.
func (p *CoroProcess) Run() error {
	if p.dead {
		return nil
	}
	p.runnable = false
	p.state.ClearTriggers(p)

	skipSend := !p.started
	p.ensureStarted()

	var response any
	var exception error

	for {
		if !skipSend {
			p.resumeCh <- resumeMsg{value: response, err: exception}
		}
		skipSend = false

		cmd, ok := <-p.cmdCh
		if !ok {
			p.passive = true
			p.dead = true
			return p.exitErr
		}

		response, exception = nil, nil
		if cmd == nil {
			cmd = p.defaultCmd
		}
		if castable, ok := cmd.(ValueCastable); ok {
			cmd = castable.ToValue()
		}

		switch c := cmd.(type) {
		case ir.Value:
			raw, err := p.runner.RunExpression(c)
			if err != nil {
				exception = err
				continue
			}
			response = normalizeResult(raw, c.ValueShape())

		case ir.Statement:
			if err := p.runner.RunStatement(c); err != nil {
				exception = err
			}

		case Tick:
			domain, err := p.resolveDomain(c)
			if err != nil {
				exception = err
				continue
			}
			p.state.AddTrigger(p, domain.Clk, simstate.TriggerSpec{EdgeTo: domain.ClkEdge})
			if domain.Rst != nil && domain.AsyncReset {
				p.state.AddTrigger(p, domain.Rst, simstate.TriggerSpec{EdgeTo: 1})
			}
			return nil

		case Settle:
			p.state.WaitInterval(p, nil)
			return nil

		case Delay:
			var delta *int64
			if c.Seconds != nil {
				// Truncates rather than rounds, matching wasmcoro.py's
				// own int(...) conversion, not spec.md's round(...) wording.
				ps := int64(*c.Seconds * 1e12)
				delta = &ps
			}
			p.state.WaitInterval(p, delta)
			return nil

		case Passive:
			p.passive = true

		case Active:
			p.passive = false

		case nil:
			exception = ErrDefaultCommandRequired

		default:
			exception = errors.Errorf("unsupported command %T yielded", cmd)
		}
	}
}

func (p *CoroProcess) resolveDomain(t Tick) (*ir.Domain, error) {
	if t.Domain != nil {
		return t.Domain, nil
	}
	if d, ok := p.domains[t.Name]; ok {
		return d, nil
	}
	return nil, errors.Errorf("tick names nonexistent domain %q", t.Name)
}

// normalizeResult masks raw to shape's width and, if signed, sign-
// extends it into a plain Go int64 — the Const.normalize step of §4.9's
// "Expression value" row.
func normalizeResult(raw uint64, shape ir.Shape) int64 {
	masked := raw & shape.Mask()
	if shape.Signed && shape.Width > 0 {
		signBit := uint64(1) << uint(shape.Width-1)
		if masked&signBit != 0 {
			masked |= ^shape.Mask()
		}
	}
	return int64(masked)
}
