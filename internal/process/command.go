// Package process implements the three process kinds of §3/§4.7-4.9:
// RTLProcess (compiled domain logic), ClockProcess (a toggling clock
// signal), and CoroProcess (a user coroutine driven by the command
// protocol). None of them know about the scheduler loop itself — that
// lives in the top-level wasmsim package — they only expose Runnable,
// Passive and Run so the scheduler can drive them uniformly.
package process

import (
	"github.com/pkg/errors"

	"github.com/torii-hdl/wasmsim/ir"
)

// Tick requests a wake on domain's clock edge (and async reset edge, if
// any). Exactly one of Name or Domain should be set; Domain, when
// present, is used directly (mirrors torii's "already a ClockDomain"
// branch), otherwise Name is resolved against the owning simulator's
// domain table.
type Tick struct {
	Name   string
	Domain *ir.Domain
}

// Settle requests a wake at the current instant, strictly after any
// trigger-driven or timed wake due at the same instant (§5).
type Settle struct{}

// Delay requests a wake after Seconds, or — if nil — at the current
// instant (equivalent to Settle, but expressed as "no interval").
type Delay struct{ Seconds *float64 }

// Passive marks the coroutine as not required for liveness.
type Passive struct{}

// Active marks the coroutine as required for liveness.
type Active struct{}

// ValueCastable is implemented by HDL values (e.g. enum members) that
// aren't themselves an ir.Value but can produce one — mirroring
// torii.hdl.ast.ValueCastable / Value.cast.
type ValueCastable interface {
	ToValue() ir.Value
}

// ErrDefaultCommandRequired is raised when a coroutine added with a
// bare add_process yields nil and has no default_cmd configured.
var ErrDefaultCommandRequired = errors.New("process yielded no command and has no default command configured")
