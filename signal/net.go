package signal

import (
	"fmt"
	"sort"
	"sync"
)

// Net is an in-memory design entity. It owns a set of wires and applies
// scheduled assignments when Commit is called, which is what a simulator does
// at the end of a time step.
type Net struct {
	mu    sync.Mutex
	name  string
	wires map[string]*Wire
	dirty []*Wire
}

// NewNet creates an empty net.
func NewNet(name string) *Net {
	return &Net{
		name:  name,
		wires: make(map[string]*Wire),
	}
}

// Name returns the name of the net.
func (n *Net) Name() string {
	return n.name
}

// NewWire declares a wire. The wire starts unresolved, like an undriven
// signal. Declaring the same name twice panics.
func (n *Net) NewWire(name string, width int) *Wire {
	if width <= 0 {
		panic(fmt.Sprintf("wire %s: invalid width %d", name, width))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, found := n.wires[name]; found {
		panic(fmt.Sprintf("wire %s already declared in %s", name, n.name))
	}

	w := &Wire{
		net:   n,
		name:  name,
		width: width,
		cur:   Unknown(width),
	}
	n.wires[name] = w

	return w
}

// Signal looks up a wire by its local name.
func (n *Net) Signal(name string) (Handle, bool) {
	w, found := n.Wire(name)
	if !found {
		return nil, false
	}

	return w, true
}

// Wire looks up a wire by its local name.
func (n *Net) Wire(name string) (*Wire, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	w, found := n.wires[name]

	return w, found
}

// WireNames returns the local names of all wires, sorted.
func (n *Net) WireNames() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	names := make([]string, 0, len(n.wires))
	for name := range n.wires {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Commit applies every scheduled assignment and returns the number of wires
// whose visible value changed.
func (n *Net) Commit() int {
	n.mu.Lock()
	dirty := n.dirty
	n.dirty = nil
	n.mu.Unlock()

	changed := 0

	for _, w := range dirty {
		w.mu.Lock()
		if w.next != nil {
			if !w.cur.Equal(*w.next) {
				changed++
			}

			w.cur = *w.next
			w.next = nil
		}
		w.mu.Unlock()
	}

	return changed
}

func (n *Net) markDirty(w *Wire) {
	n.mu.Lock()
	n.dirty = append(n.dirty, w)
	n.mu.Unlock()
}

// Wire is a named signal of a Net.
type Wire struct {
	mu    sync.Mutex
	net   *Net
	name  string
	width int
	cur   Value
	next  *Value
}

// Name returns the hierarchical name of the wire.
func (w *Wire) Name() string {
	return w.net.name + "." + w.name
}

// Width returns the number of bits of the wire.
func (w *Wire) Width() int {
	return w.width
}

// Value returns the committed value.
func (w *Wire) Value() Value {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.cur
}

// Set schedules v for the next commit. It panics if the width of v differs
// from the width of the wire.
func (w *Wire) Set(v Value) {
	w.mustMatchWidth(v)

	w.mu.Lock()
	first := w.next == nil
	w.next = &v
	w.mu.Unlock()

	if first {
		w.net.markDirty(w)
	}
}

// SetImmediate assigns v right away and drops any scheduled assignment.
func (w *Wire) SetImmediate(v Value) {
	w.mustMatchWidth(v)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.cur = v
	w.next = nil
}

// SetUint schedules an unsigned integer assignment.
func (w *Wire) SetUint(v uint64) {
	w.Set(NewValue(w.width, v))
}

func (w *Wire) mustMatchWidth(v Value) {
	if v.Width() != w.width {
		panic(fmt.Sprintf("assigning %d-bit value to %d-bit wire %s",
			v.Width(), w.width, w.Name()))
	}
}

var (
	_ Entity = (*Net)(nil)
	_ Handle = (*Wire)(nil)
)
