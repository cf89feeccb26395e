// Package simstate is the event-driven simulation state of §3–§4.5: the
// signal→slot index, the slot values themselves (which live in the
// compiled modules' shared Wasm linear memory, not a parallel Go array
// — §5 names that memory "the sole site of mutable signal state"), the
// trigger table, and the timeline.
package simstate

import (
	"github.com/pkg/errors"

	"github.com/torii-hdl/wasmsim/ir"
)

// Memory is the subset of wazero's api.Memory this package needs. It is
// expressed as a plain interface (rather than importing wazero
// directly) so State can be exercised against a fake in tests; the real
// bridge module's instantiated memory satisfies it without adaptation.
type Memory interface {
	Size() uint32
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
	ReadUint64Le(offset uint32) (uint64, bool)
	WriteUint64Le(offset uint32, v uint64) bool
}

// Runnable is the subset of a Process that trigger and timeline wakes
// need to touch. internal/process's RTLProcess/ClockProcess/CoroProcess
// all implement it; simstate never imports internal/process, avoiding a
// cycle since process needs to call back into State.
type Runnable interface {
	MarkRunnable()
}

// TriggerSpec selects what slot change wakes a waiting process.
type TriggerSpec struct {
	AnyChange bool
	EdgeTo    int // 0 or 1; meaningful only when !AnyChange
}

type triggerEntry struct {
	proc Runnable
	spec TriggerSpec
}

const slotBytes = 16 // 8 bytes curr + 8 bytes next, per §6's memory layout

// State is the slot table, trigger table and timeline for one
// Simulator. It is re-created (not reused) across distinct Simulator
// instances, but Reset reinitializes one in place for repeated runs.
type State struct {
	mem Memory

	indices map[*ir.Signal]int
	order   []*ir.Signal

	pending  map[int]struct{}
	triggers map[int][]triggerEntry
	timeline *timeline
	nowPs    int64
}

// New constructs a State backed by mem, the shared linear memory every
// compiled module imports as `"" "gmem"`.
func New(mem Memory) *State {
	return &State{
		mem:      mem,
		indices:  map[*ir.Signal]int{},
		pending:  map[int]struct{}{},
		triggers: map[int][]triggerEntry{},
		timeline: newTimeline(),
	}
}

// Index resolves sig to its dense slot index, allocating a fresh slot
// (initialized to sig's reset value in both curr and next) on first
// sight. Identity, not equality, is the key — see ir.Signal's doc.
func (s *State) Index(sig *ir.Signal) int {
	if idx, ok := s.indices[sig]; ok {
		return idx
	}
	idx := len(s.order)
	s.order = append(s.order, sig)
	s.indices[sig] = idx
	s.ensureCapacity(idx + 1)
	s.writeSlot(idx, uint64(sig.Reset))
	return idx
}

func (s *State) ensureCapacity(slots int) {
	needed := uint32(slots) * slotBytes
	for s.mem.Size() < needed {
		if _, ok := s.mem.Grow(1); !ok {
			panic(errors.New("simstate: exhausted the shared memory's page limit growing the slot table"))
		}
	}
}

func (s *State) writeSlot(index int, v uint64) {
	base := uint32(index) * slotBytes
	s.mem.WriteUint64Le(base, v)
	s.mem.WriteUint64Le(base+8, v)
}

// GetCurr returns slot index's curr value as a raw bit pattern.
func (s *State) GetCurr(index int) uint64 {
	v, _ := s.mem.ReadUint64Le(uint32(index) * slotBytes)
	return v
}

// GetNext returns slot index's next (staged) value as a raw bit pattern.
func (s *State) GetNext(index int) uint64 {
	v, _ := s.mem.ReadUint64Le(uint32(index)*slotBytes + 8)
	return v
}

func (s *State) updatePending(index int, next uint64) {
	curr, _ := s.mem.ReadUint64Le(uint32(index) * slotBytes)
	if next != curr {
		s.pending[index] = struct{}{}
	} else {
		delete(s.pending, index)
	}
}

// NotifySlotChanged is the slots_set_py host callback bound into every
// compiled module's imports. The Wasm slots_set helper has already
// stored value into slots[index].next before invoking this; here we
// only do the §4.5 pending-set bookkeeping the compiled side can't
// itself observe (it has no notion of the global pending set).
func (s *State) NotifySlotChanged(index int, value uint64) {
	s.updatePending(index, value)
}

// SetSlot is the Go-native equivalent of the Wasm slots_set helper, for
// callers that mutate a slot without going through a compiled module —
// ClockProcess toggling its clock signal is the only such caller.
func (s *State) SetSlot(index int, value uint64) {
	s.mem.WriteUint64Le(uint32(index)*slotBytes+8, value)
	s.updatePending(index, value)
}

// Commit copies every pending slot's next to curr, atomically with
// respect to the trigger evaluation below (each slot's prior curr is
// captured before being overwritten), and fires every trigger whose
// condition the transition satisfies. Returns whether anything fired.
func (s *State) Commit() bool {
	fired := false
	for index := range s.pending {
		prev := s.GetCurr(index)
		next := s.GetNext(index)
		s.mem.WriteUint64Le(uint32(index)*slotBytes, next)
		if s.fireTriggers(index, prev, next) {
			fired = true
		}
	}
	s.pending = map[int]struct{}{}
	return fired
}

func (s *State) fireTriggers(index int, prev, next uint64) bool {
	any := false
	for _, t := range s.triggers[index] {
		match := t.spec.AnyChange
		if !match {
			edgeBit := uint64(t.spec.EdgeTo) & 1
			match = next&1 == edgeBit && prev&1 != edgeBit
		}
		if match {
			t.proc.MarkRunnable()
			any = true
		}
	}
	return any
}

// AddTrigger registers proc to be marked runnable when sig's slot
// changes according to spec.
func (s *State) AddTrigger(proc Runnable, sig *ir.Signal, spec TriggerSpec) {
	idx := s.Index(sig)
	s.triggers[idx] = append(s.triggers[idx], triggerEntry{proc: proc, spec: spec})
}

// RemoveTrigger drops every trigger proc holds on sig.
func (s *State) RemoveTrigger(proc Runnable, sig *ir.Signal) {
	idx := s.Index(sig)
	entries := s.triggers[idx]
	kept := entries[:0]
	for _, e := range entries {
		if e.proc != proc {
			kept = append(kept, e)
		}
	}
	s.triggers[idx] = kept
}

// ClearTriggers drops every trigger proc holds on any signal — used by
// CoroProcess at the top of each run(), per §4.9 step 1.
func (s *State) ClearTriggers(proc Runnable) {
	for idx, entries := range s.triggers {
		kept := entries[:0]
		for _, e := range entries {
			if e.proc != proc {
				kept = append(kept, e)
			}
		}
		s.triggers[idx] = kept
	}
}

// WaitInterval parks proc on the timeline. deltaPs == nil requests a
// Settle wait: woken at the current instant, but only after every
// ordinary (non-settle) entry due at that same instant, per §5.
func (s *State) WaitInterval(proc Runnable, deltaPs *int64) {
	if deltaPs == nil {
		s.timeline.push(s.nowPs, 1, proc)
		return
	}
	s.timeline.push(s.nowPs+*deltaPs, 0, proc)
}

// Advance pops the next timeline deadline, sets nowPs to it, wakes
// every process whose deadline has now been reached, and reports
// whether there was anything to advance to.
func (s *State) Advance() bool {
	if s.timeline.Len() == 0 {
		return false
	}
	first := s.timeline.pop()
	s.nowPs = first.deadline
	first.proc.MarkRunnable()
	for s.timeline.Len() > 0 && s.timeline.peekDeadline() <= s.nowPs {
		s.timeline.pop().proc.MarkRunnable()
	}
	return true
}

// HasScheduledWork reports whether the timeline holds any further wakes.
func (s *State) HasScheduledWork() bool { return s.timeline.Len() > 0 }

// NowPs returns the current simulated time in picoseconds.
func (s *State) NowPs() int64 { return s.nowPs }

// Now returns the current simulated time in seconds, the unit
// BaseEngine's accessor (§6) reports in.
func (s *State) Now() float64 { return float64(s.nowPs) / 1e12 }

// Reset reinitializes every known slot to its signal's reset value and
// clears all scheduling state, per §3's Lifecycle.
func (s *State) Reset() {
	for idx, sig := range s.order {
		s.writeSlot(idx, uint64(sig.Reset))
	}
	s.pending = map[int]struct{}{}
	s.triggers = map[int][]triggerEntry{}
	s.timeline = newTimeline()
	s.nowPs = 0
}
