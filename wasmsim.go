// Package wasmsim is the outer API of §4.10: a Simulator constructed
// from an ir.Fragment, driving RTL, clock, and coroutine processes
// through a wazero-backed Wasm runtime until the design settles or a
// caller-supplied deadline is reached.
package wasmsim

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/torii-hdl/wasmsim/internal/process"
	"github.com/torii-hdl/wasmsim/internal/simstate"
	"github.com/torii-hdl/wasmsim/internal/wasmrun"
	"github.com/torii-hdl/wasmsim/ir"
)

// schedProcess is the uniform shape the scheduler drives every
// registered process through, satisfied by process.RTLProcess,
// process.ClockProcess and process.CoroProcess alike.
type schedProcess interface {
	Reset()
	MarkRunnable()
	Runnable() bool
	Passive() bool
	Run() error
}

// VCDWriter is the external collaborator write_vcd hands waveform
// events to; this package never formats VCD/GTKW bytes itself (a
// Non-goal) — it only enforces the "before any time advance" gate and
// calls back into whatever implementation the caller supplies.
type VCDWriter interface {
	WriteVCD(vcdPath string, gtkwPath string, traces []*ir.Signal) error
}

// Simulator drives one elaborated Fragment to completion.
type Simulator struct {
	ctx      context.Context
	engine   *wasmrun.Engine
	state    *simstate.State
	fragment *ir.Fragment

	domains map[string]*ir.Domain
	clocked map[string]bool // domain name -> a clock has been added

	processes  []schedProcess
	combProcs  []*process.RTLProcess
	coros      []*process.CoroProcess

	advanced bool // true once the first commit or timeline advance has happened

	log *logrus.Entry
}

// SimulatorOption configures a Simulator at construction.
type SimulatorOption func(*Simulator)

// WithLogger overrides the logrus entry the Simulator holds (by default
// one over the package-level, unconfigured logger). The scheduler writes
// no entries to it.
func WithLogger(log *logrus.Entry) SimulatorOption {
	return func(s *Simulator) { s.log = log }
}

// New constructs a Simulator over fragment: one shared wazero engine,
// a compiled RTLProcess per domain (§4.7), and nothing else yet — clocks
// and coroutines are added explicitly via AddClock/AddProcess/
// AddSyncProcess, mirroring torii's own incremental simulator setup.
// Per §4.10, an unrecognized engine specification is fatal; this port
// hardwires the one engine this package implements (the wasmrun/wazero
// backend), so there is no engine-name argument to validate against.
func New(fragment *ir.Fragment, opts ...SimulatorOption) (*Simulator, error) {
	if fragment == nil {
		return nil, errors.New("wasmsim: New requires a non-nil Fragment")
	}

	ctx := context.Background()
	engine, err := wasmrun.New(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "wasmsim: constructing the Wasm engine")
	}

	s := &Simulator{
		ctx:      ctx,
		engine:   engine,
		state:    engine.State(),
		fragment: fragment,
		domains:  fragment.Domains,
		clocked:  map[string]bool{},
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.buildRTLProcesses(); err != nil {
		engine.Close()
		return nil, err
	}
	return s, nil
}

func (s *Simulator) buildRTLProcesses() error {
	for _, name := range s.fragment.AllDomainNames() {
		outputs := s.fragment.Drivers[name]
		statements := s.fragment.Statements[name]
		comb := name == ""

		inst, err := s.engine.CompileDomain(name, outputs, statements, comb)
		if err != nil {
			return errors.Wrapf(err, "wasmsim: compiling domain %q", domainLabel(name))
		}

		var domain *ir.Domain
		if !comb {
			d, ok := s.domains[name]
			if !ok {
				return errors.Errorf("wasmsim: domain %q has drivers but no domain entry", name)
			}
			domain = d
		}

		rp := process.NewRTLProcess(s.state, domain, inst, comb)
		s.processes = append(s.processes, rp)
		if comb {
			s.combProcs = append(s.combProcs, rp)
		}
	}
	return nil
}

func domainLabel(name string) string {
	if name == "" {
		return "<comb>"
	}
	return name
}

// AddClock registers a periodic clock on sig, a signal belonging to
// domain. periodS is the full period in seconds; phaseS (default 0) the
// initial offset before the first edge. ifExists makes AddClock a no-op,
// instead of an error, when domain does not exist or already has a clock.
func (s *Simulator) AddClock(sig *ir.Signal, periodS float64, opts ...ClockOption) error {
	cfg := clockConfig{domain: "sync"}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := s.domains[cfg.domain]; !ok {
		if cfg.ifExists {
			return nil
		}
		return errors.Errorf("wasmsim: add_clock: domain %q does not exist", cfg.domain)
	}
	if s.clocked[cfg.domain] {
		if cfg.ifExists {
			return nil
		}
		return errors.Errorf("wasmsim: add_clock: domain %q already has a clock", cfg.domain)
	}

	periodPs := int64(periodS * 1e12)
	phasePs := int64(cfg.phaseS * 1e12)
	cp, err := process.NewClockProcess(s.state, sig, periodPs, phasePs)
	if err != nil {
		return errors.Wrap(err, "wasmsim: add_clock")
	}
	s.clocked[cfg.domain] = true
	s.processes = append(s.processes, cp)
	return nil
}

type clockConfig struct {
	domain   string
	phaseS   float64
	ifExists bool
}

// ClockOption configures AddClock.
type ClockOption func(*clockConfig)

// WithClockDomain names the domain the clock belongs to (default "sync").
func WithClockDomain(name string) ClockOption { return func(c *clockConfig) { c.domain = name } }

// WithClockPhase sets the initial phase offset in seconds (default 0).
func WithClockPhase(phaseS float64) ClockOption { return func(c *clockConfig) { c.phaseS = phaseS } }

// IfExists makes AddClock a no-op, rather than an error, when the domain
// is missing or already has a clock.
func IfExists() ClockOption { return func(c *clockConfig) { c.ifExists = true } }

// AddProcess registers fn as a free-running coroutine with no implicit
// default command — a bare yield(nil) is an error unless fn always
// yields an explicit command, per §7's "default-command misuse".
func (s *Simulator) AddProcess(fn process.CoroFunc) error {
	return s.addCoro(fn, nil)
}

// AddSyncProcess registers fn as a coroutine whose default command
// (substituted whenever it yields nil) is Tick(domain) — the common
// "runs once per clock edge" shape.
func (s *Simulator) AddSyncProcess(fn process.CoroFunc, domain string) error {
	return s.addCoro(fn, process.Tick{Name: domain})
}

func (s *Simulator) addCoro(fn process.CoroFunc, defaultCmd any) error {
	if fn == nil {
		return errors.New("wasmsim: add_process requires a non-nil generator function")
	}
	cp := process.NewCoroProcess(s.state, s.domains, s.engine, fn, defaultCmd)
	s.coros = append(s.coros, cp)
	s.processes = append(s.processes, cp)
	return nil
}

// Reset reinitializes every slot to its signal's reset value and every
// process to its initial state, per §3's Lifecycle, and reopens the VCD
// gate (a fresh Reset means no time has advanced yet again).
func (s *Simulator) Reset() {
	s.state.Reset()
	for _, p := range s.processes {
		p.Reset()
	}
	s.advanced = false
}

// Run drives the scheduler until no active process remains live — the
// unbounded form of RunUntil.
func (s *Simulator) Run() error {
	return s.runUntil(nil)
}

// RunUntil drives the scheduler until no active process remains live or
// the simulated time reaches deadlineS seconds, whichever comes first.
func (s *Simulator) RunUntil(deadlineS float64) error {
	return s.runUntil(&deadlineS)
}

// runUntil implements §4.10's scheduler loop.
func (s *Simulator) runUntil(deadlineS *float64) error {
	var deadlinePs int64
	if deadlineS != nil {
		deadlinePs = int64(*deadlineS * 1e12)
	}

	for {
		for {
			if err := s.runRunnable(); err != nil {
				return err
			}
			fired := s.state.Commit()
			s.advanced = true
			if !fired {
				break
			}
			// The combinational domain has no trigger registrations of
			// its own (§4.7 only wires triggers for clocked domains) —
			// re-mark it runnable after any change so it settles to a
			// fixed point alongside whatever triggers did fire.
			for _, cp := range s.combProcs {
				cp.MarkRunnable()
			}
		}

		if deadlineS != nil && s.state.NowPs() >= deadlinePs {
			return nil
		}
		if !s.anyLiveCoro() {
			return nil
		}
		if !s.state.Advance() {
			return nil
		}
		s.advanced = true
		if deadlineS != nil && s.state.NowPs() >= deadlinePs {
			return nil
		}
	}
}

func (s *Simulator) runRunnable() error {
	for _, p := range s.processes {
		if !p.Runnable() {
			continue
		}
		if err := p.Run(); err != nil {
			return errors.Wrap(err, "wasmsim: process run")
		}
	}
	return nil
}

// anyLiveCoro reports whether at least one coroutine remains both alive
// and non-passive — the only kind of process that can, by itself, keep
// the simulation going (clocks and RTL are always passive, per §4.7/4.8).
func (s *Simulator) anyLiveCoro() bool {
	for _, c := range s.coros {
		if !c.Dead() && !c.Passive() {
			return true
		}
	}
	return false
}

// Now returns the current simulated time in seconds.
func (s *Simulator) Now() float64 { return s.state.Now() }

// State exposes the underlying simstate.State for callers that need
// direct slot access (diagnostics, demos, tests) outside the coroutine
// command protocol.
func (s *Simulator) State() *simstate.State { return s.state }

// WriteVCD begins waveform capture via w, a caller-supplied VCDWriter.
// Per §6/§7, this is fatal once any time has advanced (a commit or a
// timeline advance), mirroring test_vcd_wrong_nonzero_time.
func (s *Simulator) WriteVCD(w VCDWriter, vcdPath, gtkwPath string, traces []*ir.Signal) error {
	if s.advanced {
		return errors.New("wasmsim: write_vcd must be called before any time advance")
	}
	return w.WriteVCD(vcdPath, gtkwPath, traces)
}

// Close releases the underlying wazero runtime.
func (s *Simulator) Close() error { return s.engine.Close() }
