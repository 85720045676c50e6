package timing

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/sarchlab/busvip/hooking"
	"github.com/sarchlab/busvip/signal"
)

// ErrCycleLimit is returned by Run when a clock reaches its cycle limit.
var ErrCycleLimit = errors.New("cycle limit reached")

// HookPosBeforeEdge triggers before the handlers of a clock edge run.
var HookPosBeforeEdge = &hooking.HookPos{Name: "BeforeEdge"}

// HookPosAfterEdge triggers after the read-only handlers of a clock edge ran.
var HookPosAfterEdge = &hooking.HookPos{Name: "AfterEdge"}

// EdgeKind selects clock edges.
type EdgeKind int

// Edge kinds. Either is only meaningful when subscribing.
const (
	Rising EdgeKind = iota + 1
	Falling
	Either
)

func (k EdgeKind) String() string {
	switch k {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	case Either:
		return "either"
	default:
		return fmt.Sprintf("EdgeKind(%d)", int(k))
	}
}

func (k EdgeKind) matches(actual EdgeKind) bool {
	return k == Either || k == actual
}

// Phase selects when a handler runs within an edge.
type Phase int

const (
	// PhaseActive handlers see the values from before the edge. Their
	// scheduled assignments become visible after all of them ran.
	PhaseActive Phase = iota

	// PhaseReadOnly handlers see the settled values of the edge and must not
	// assign signals.
	PhaseReadOnly
)

// Edge describes one clock edge.
type Edge struct {
	Kind EdgeKind
	Time VTimeInSec

	// Cycle counts rising edges, starting from 1. A falling edge carries the
	// cycle of the rising edge before it.
	Cycle uint64
}

// An EdgeHandler reacts to clock edges. A returned error stops the
// simulation.
type EdgeHandler interface {
	HandleEdge(e Edge) error
}

// EdgeHandlerFunc adapts a function into an EdgeHandler.
type EdgeHandlerFunc func(e Edge) error

// HandleEdge calls f.
func (f EdgeHandlerFunc) HandleEdge(e Edge) error {
	return f(e)
}

// A Committer applies the signal assignments scheduled during an edge.
type Committer interface {
	Commit() int
}

// Subscription is the registration of an EdgeHandler on a Clock.
type Subscription struct {
	clock   *Clock
	handler EdgeHandler
	kind    EdgeKind
	phase   Phase
}

// Cancel removes the handler from the clock. The handler is not called for
// later edges, including the remaining phases of the current edge.
func (s *Subscription) Cancel() {
	s.clock.unsubscribe(s)
}

type edgeEvent struct {
	*EventBase
	kind EdgeKind
	gen  uint64
}

// Clock generates rising and falling edges on an engine. Each edge runs the
// active handlers, commits the net, and then runs the read-only handlers.
type Clock struct {
	*hooking.HookableBase

	lock      sync.Mutex
	name      string
	engine    Engine
	freq      Freq
	committer Committer
	signal    signal.Handle
	maxCycles uint64

	subs      []*Subscription
	stopConds []func() bool
	running   bool
	gen       uint64
	cycle     uint64
}

// Name returns the name of the clock.
func (c *Clock) Name() string {
	return c.name
}

// Freq returns the frequency of the clock.
func (c *Clock) Freq() Freq {
	return c.freq
}

// Cycle returns the number of rising edges so far.
func (c *Clock) Cycle() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.cycle
}

// Running tells if the clock has edges scheduled.
func (c *Clock) Running() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.running
}

// Subscribe registers a handler for the given edges and phase. Handlers of the
// same phase run in subscription order.
func (c *Clock) Subscribe(
	h EdgeHandler,
	kind EdgeKind,
	phase Phase,
) *Subscription {
	s := &Subscription{clock: c, handler: h, kind: kind, phase: phase}

	c.lock.Lock()
	c.subs = append(c.subs, s)
	c.lock.Unlock()

	return s
}

func (c *Clock) unsubscribe(s *Subscription) {
	c.lock.Lock()
	defer c.lock.Unlock()

	for i, existing := range c.subs {
		if existing == s {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return
		}
	}
}

// StopWhen stops the clock after the first rising edge at which cond returns
// true. The condition is checked after the read-only phase.
func (c *Clock) StopWhen(cond func() bool) {
	c.lock.Lock()
	c.stopConds = append(c.stopConds, cond)
	c.lock.Unlock()
}

// Start schedules the first rising edge at the current tick. A clock that
// already ticked resumes at the next tick.
func (c *Clock) Start() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.running {
		return
	}

	c.running = true
	c.gen++

	now := c.engine.CurrentTime()

	t := c.freq.ThisTick(now)
	if c.cycle > 0 {
		t = c.freq.NextTick(now)
	}

	c.schedule(Rising, t)
}

// Stop prevents further edges. Edges that are already queued are dropped.
func (c *Clock) Stop() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.running = false
	c.gen++
}

func (c *Clock) schedule(kind EdgeKind, t VTimeInSec) {
	evt := edgeEvent{
		EventBase: NewEventBase(t, c),
		kind:      kind,
		gen:       c.gen,
	}
	c.engine.Schedule(evt)
}

// Handle runs one clock edge.
func (c *Clock) Handle(e Event) error {
	evt, ok := e.(edgeEvent)
	if !ok {
		panic(fmt.Sprintf("clock %s cannot handle event %T", c.name, e))
	}

	c.lock.Lock()
	if evt.gen != c.gen {
		c.lock.Unlock()
		return nil
	}

	if evt.kind == Rising {
		c.cycle++
	}

	edge := Edge{Kind: evt.kind, Time: evt.Time(), Cycle: c.cycle}
	c.lock.Unlock()

	if c.maxCycles > 0 && edge.Cycle > c.maxCycles {
		c.Stop()
		return errors.Wrapf(ErrCycleLimit, "clock %s: %d cycles",
			c.name, c.maxCycles)
	}

	c.driveClockSignal(edge.Kind)

	ctx := hooking.HookCtx{Domain: c, Pos: HookPosBeforeEdge, Item: edge}
	c.InvokeHook(ctx)

	if err := c.runPhase(edge, PhaseActive); err != nil {
		return err
	}

	if c.committer != nil {
		c.committer.Commit()
	}

	if err := c.runPhase(edge, PhaseReadOnly); err != nil {
		return err
	}

	ctx.Pos = HookPosAfterEdge
	c.InvokeHook(ctx)

	if edge.Kind == Rising && c.shouldStop() {
		c.Stop()
	}

	c.scheduleNext(evt)

	return nil
}

func (c *Clock) driveClockSignal(kind EdgeKind) {
	if c.signal == nil {
		return
	}

	level := uint64(0)
	if kind == Rising {
		level = 1
	}

	signal.DriveImmediate(c.signal, level)
}

func (c *Clock) runPhase(edge Edge, phase Phase) error {
	c.lock.Lock()
	subs := make([]*Subscription, len(c.subs))
	copy(subs, c.subs)
	c.lock.Unlock()

	for _, s := range subs {
		if s.phase != phase || !s.kind.matches(edge.Kind) {
			continue
		}

		if !c.stillSubscribed(s) {
			continue
		}

		if err := s.handler.HandleEdge(edge); err != nil {
			return err
		}
	}

	return nil
}

func (c *Clock) stillSubscribed(s *Subscription) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	for _, existing := range c.subs {
		if existing == s {
			return true
		}
	}

	return false
}

func (c *Clock) shouldStop() bool {
	c.lock.Lock()
	conds := c.stopConds
	c.lock.Unlock()

	for _, cond := range conds {
		if cond() {
			return true
		}
	}

	return false
}

func (c *Clock) scheduleNext(evt edgeEvent) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.running || evt.gen != c.gen {
		return
	}

	if evt.kind == Rising {
		c.schedule(Falling, c.freq.HalfTick(evt.Time()))
		return
	}

	c.schedule(Rising, c.freq.NextTick(evt.Time()))
}

// ClockBuilder can build clocks.
type ClockBuilder struct {
	engine    Engine
	freq      Freq
	committer Committer
	signal    signal.Handle
	maxCycles uint64
}

// MakeClockBuilder returns a ClockBuilder with a 1 GHz default frequency.
func MakeClockBuilder() ClockBuilder {
	return ClockBuilder{
		freq: 1 * GHz,
	}
}

// WithEngine sets the engine that the clock schedules edges on.
func (b ClockBuilder) WithEngine(engine Engine) ClockBuilder {
	b.engine = engine
	return b
}

// WithFreq sets the clock frequency.
func (b ClockBuilder) WithFreq(freq Freq) ClockBuilder {
	b.freq = freq
	return b
}

// WithCommitter sets the net whose scheduled assignments are applied between
// the active and the read-only phase.
func (b ClockBuilder) WithCommitter(c Committer) ClockBuilder {
	b.committer = c
	return b
}

// WithSignal sets a clock signal that follows the generated edges.
func (b ClockBuilder) WithSignal(h signal.Handle) ClockBuilder {
	b.signal = h
	return b
}

// WithMaxCycles bounds the number of rising edges. Zero means unbounded.
func (b ClockBuilder) WithMaxCycles(n uint64) ClockBuilder {
	b.maxCycles = n
	return b
}

// Build creates a clock.
func (b ClockBuilder) Build(name string) *Clock {
	if b.engine == nil {
		panic("clock requires an engine")
	}

	return &Clock{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		engine:       b.engine,
		freq:         b.freq,
		committer:    b.committer,
		signal:       b.signal,
		maxCycles:    b.maxCycles,
	}
}
