package ir

import "sort"

// Domain is a clock region: a clock signal, an optional reset signal, the
// active clock edge, and whether the reset is asynchronous.
type Domain struct {
	Name       string
	Clk        *Signal
	Rst        *Signal // nil if the domain has no reset
	ClkEdge    int      // 0 or 1: the active edge value of Clk
	AsyncReset bool
}

// Subfragment names a nested Fragment as it appears in the parent's
// hierarchy; Name is empty for anonymous subfragments.
type Subfragment struct {
	Fragment *Fragment
	Name     string
}

// Fragment is the elaborated design unit the HDL frontend hands the
// simulator: the signals each domain drives, the statements that drive
// them, the domain table, and nested subfragments. The combinational
// domain is keyed by the empty string in both Drivers and Statements,
// mirroring torii-hdl's own per-domain statement grouping.
type Fragment struct {
	Drivers      map[string][]*Signal
	Statements   map[string][]Statement
	Domains      map[string]*Domain
	Subfragments []Subfragment
}

// AllDomainNames returns the driver-domain keys in a stable order, with
// the combinational domain ("") sorted first.
func (f *Fragment) AllDomainNames() []string {
	names := make([]string, 0, len(f.Drivers))
	hasComb := false
	for name := range f.Drivers {
		if name == "" {
			hasComb = true
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if hasComb {
		names = append([]string{""}, names...)
	}
	return names
}
