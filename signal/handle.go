// Package signal models the simulator side of a testbench: four-state values,
// handles to named signals, and an in-memory net that applies assignments at
// clock-edge granularity.
package signal

// A Handle is a reference to one simulator signal.
type Handle interface {
	// Name returns the full hierarchical name of the signal.
	Name() string

	// Width returns the number of bits of the signal.
	Width() int

	// Value returns the value currently visible on the signal.
	Value() Value

	// Set schedules an assignment. Like a non-blocking assignment, the new
	// value becomes visible when the simulator commits the current time step.
	// Later assignments in the same step win.
	Set(v Value)

	// SetImmediate assigns the value right away.
	SetImmediate(v Value)
}

// An Entity is a design unit whose signals can be looked up by name.
type Entity interface {
	Name() string

	// Signal returns the handle with the given name, if it exists.
	Signal(name string) (Handle, bool)
}

// Drive schedules an unsigned integer assignment sized to the handle.
func Drive(h Handle, v uint64) {
	h.Set(NewValue(h.Width(), v))
}

// DriveImmediate assigns an unsigned integer sized to the handle right away.
func DriveImmediate(h Handle, v uint64) {
	h.SetImmediate(NewValue(h.Width(), v))
}

// IsHigh tells if the handle exists and carries a resolvable non-zero value.
func IsHigh(h Handle) bool {
	return h != nil && h.Value().IsHigh()
}
