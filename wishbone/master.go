package wishbone

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/sarchlab/busvip/bus"
	"github.com/sarchlab/busvip/hooking"
	"github.com/sarchlab/busvip/idgen"
	"github.com/sarchlab/busvip/signal"
	"github.com/sarchlab/busvip/timing"
	"github.com/sarchlab/busvip/tracing"
)

// HookPosCycleDone is triggered when a cycle completes. The item is the
// []Result of the cycle and the detail is the timing.Edge it completed on.
var HookPosCycleDone = &hooking.HookPos{Name: "WishboneCycleDone"}

// Stats counts the activity of a master.
type Stats struct {
	Cycles      uint64
	Ops         uint64
	Acks        uint64
	Errs        uint64
	Rtys        uint64
	StallCycles uint64
}

type state int

const (
	stateIdle state = iota
	stateOpening
	stateIdleWait
	stateStrobe
	stateDraining
	stateClosing
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateOpening:
		return "opening"
	case stateIdleWait:
		return "idle_wait"
	case stateStrobe:
		return "strobe"
	case stateDraining:
		return "draining"
	case stateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// cycle is one open, operations, close sequence.
type cycle struct {
	id   string
	ops  []Op
	done func([]Result, error)

	next     int
	idleLeft int

	auxRecorded  bool
	stallCount   int
	ackWait      int
	ackedAtIssue int
	drainCount   int
	lastAcked    int

	counter int
	acked   int
	replies []reply
	auxes   []aux
}

// Master is a Wishbone master. It must be advanced by the rising edges of
// the bus clock, in the active phase.
type Master struct {
	*hooking.HookableBase

	lock    sync.Mutex
	name    string
	bus     *bus.Bus
	logger  *slog.Logger
	timeout int

	cyc, stb, we, adr, datwr, datrd, ack signal.Handle
	sel, err, stall, rty                 signal.Handle

	state  state
	cur    *cycle
	queue  []*cycle
	stats  Stats
	notify []func()
}

// Name returns the name of the master.
func (m *Master) Name() string {
	return m.name
}

// Bus returns the bus driven by the master.
func (m *Master) Bus() *bus.Bus {
	return m.bus
}

// Pipelined tells if the bus has a stall signal.
func (m *Master) Pipelined() bool {
	return m.stall != nil
}

// Busy tells if a cycle is open or waiting to open.
func (m *Master) Busy() bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.state != stateIdle
}

// Stats returns a snapshot of the statistics.
func (m *Master) Stats() Stats {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.stats
}

// SendCycle queues a cycle. The cycle opens on the next rising edge after the
// master becomes free; done receives one result per operation, or the error
// that aborted the cycle. Malformed operations are rejected with
// bus.ErrUsage before anything is driven.
func (m *Master) SendCycle(ops []Op, done func([]Result, error)) error {
	if err := m.validate(ops, done); err != nil {
		return err
	}

	c := &cycle{
		id:   idgen.Get().Generate(),
		ops:  append([]Op(nil), ops...),
		done: done,
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if m.state != stateIdle {
		m.logger.Error("opening cycle, but the master is already busy",
			"state", m.state, "queued", len(m.queue)+1)
	}

	m.queue = append(m.queue, c)
	if m.state == stateIdle {
		m.state = stateOpening
	}

	return nil
}

func (m *Master) validate(ops []Op, done func([]Result, error)) error {
	if len(ops) == 0 {
		return errors.Wrap(bus.ErrUsage, "no operations to carry out")
	}

	if done == nil {
		return errors.Wrap(bus.ErrUsage, "nil completion callback")
	}

	for i, op := range ops {
		if op.Idle < 0 {
			return errors.Wrapf(bus.ErrUsage,
				"op #%d: negative idle count %d", i, op.Idle)
		}

		if !fits(op.Adr, m.adr.Width()) {
			return errors.Wrapf(bus.ErrUsage,
				"op #%d: address 0x%x does not fit %d bits",
				i, op.Adr, m.adr.Width())
		}

		if op.Write && !fits(op.Dat, m.datwr.Width()) {
			return errors.Wrapf(bus.ErrUsage,
				"op #%d: data 0x%x does not fit %d bits",
				i, op.Dat, m.datwr.Width())
		}

		if m.sel != nil && op.Sel != SelAll && !fits(op.Sel, m.sel.Width()) {
			return errors.Wrapf(bus.ErrUsage,
				"op #%d: select 0x%x does not fit %d bits",
				i, op.Sel, m.sel.Width())
		}
	}

	return nil
}

func fits(v uint64, width int) bool {
	return width >= 64 || v>>uint(width) == 0
}

// HandleEdge advances the master by one clock edge. Falling edges are
// ignored. A returned error aborts the open cycle.
func (m *Master) HandleEdge(e timing.Edge) error {
	if e.Kind != timing.Rising {
		return nil
	}

	m.lock.Lock()
	err := m.step(e)
	notify := m.notify
	m.notify = nil
	m.lock.Unlock()

	for _, f := range notify {
		f()
	}

	return err
}

func (m *Master) step(e timing.Edge) error {
	switch m.state {
	case stateIdle:
		return nil
	case stateOpening:
		m.open()
		return m.startOp()
	case stateClosing:
		m.finish(e)
		return nil
	}

	c := m.cur
	c.counter++

	if err := m.collect(); err != nil {
		return m.fail(err)
	}

	if err := m.advance(); err != nil {
		return m.fail(err)
	}

	return nil
}

func (m *Master) open() {
	c := m.queue[0]
	m.queue = m.queue[1:]
	m.cur = c

	signal.Drive(m.cyc, 1)

	m.stats.Cycles++

	tracing.StartTask(c.id, "", m, "wishbone_cycle", cycleKind(c.ops), c.ops)
	m.logger.Debug("opening cycle", "ops", len(c.ops), "cycle", c.id)
}

func cycleKind(ops []Op) string {
	reads, writes := 0, 0

	for _, op := range ops {
		if op.Write {
			writes++
		} else {
			reads++
		}
	}

	switch {
	case writes == 0:
		return "read"
	case reads == 0:
		return "write"
	default:
		return "read_write"
	}
}

// startOp begins driving the next operation, on this edge if it asks for no
// idle cycles.
func (m *Master) startOp() error {
	c := m.cur
	op := c.ops[c.next]

	if op.Idle > 0 {
		c.idleLeft = op.Idle
		m.state = stateIdleWait

		return nil
	}

	m.strobe()

	return nil
}

func (m *Master) strobe() {
	c := m.cur
	op := c.ops[c.next]

	we := uint64(0)
	dat := uint64(0)

	if op.Write {
		we = 1
		dat = op.Dat
	}

	signal.Drive(m.stb, 1)
	signal.Drive(m.adr, op.Adr)
	signal.Drive(m.datwr, dat)
	signal.Drive(m.we, we)
	m.driveSel(op.Sel)

	c.auxRecorded = false
	c.stallCount = 0
	c.ackWait = 0
	c.ackedAtIssue = c.acked
	m.state = stateStrobe

	m.logger.Debug("op",
		"index", c.next, "we", we,
		"adr", fmt.Sprintf("0x%08x", op.Adr),
		"dat", fmt.Sprintf("0x%08x", dat),
		"sel", fmt.Sprintf("0x%x", op.Sel),
		"idle", op.Idle)
}

func (m *Master) driveSel(sel uint64) {
	if m.sel == nil {
		return
	}

	if sel == SelAll {
		m.sel.Set(signal.Ones(m.sel.Width()))
		return
	}

	signal.Drive(m.sel, sel)
}

func (m *Master) selValue(sel uint64) uint64 {
	if sel != SelAll {
		return sel
	}

	if m.sel == nil || m.sel.Width() >= 64 {
		return SelAll
	}

	return 1<<uint(m.sel.Width()) - 1
}

// collect samples the reply lines.
func (m *Master) collect() error {
	ack := signal.IsHigh(m.ack)
	errLine := signal.IsHigh(m.err)
	rty := signal.IsHigh(m.rty)

	code := ReplyNone
	asserted := 0

	if ack {
		code = ReplyAck
		asserted++
	}

	if errLine {
		code = ReplyErr
		asserted++
	}

	if rty {
		code = ReplyRty
		asserted++
	}

	if asserted > 1 {
		return errors.Wrapf(ErrReplyAmbiguous,
			"%s: ack=%t err=%t rty=%t", m.bus, ack, errLine, rty)
	}

	if code == ReplyNone {
		return nil
	}

	c := m.cur
	c.replies = append(c.replies, reply{
		code:  code,
		datrd: m.datrd.Value(),
		ts:    c.counter,
	})
	c.acked++

	m.countReply(code)

	return nil
}

func (m *Master) countReply(code ReplyCode) {
	switch code {
	case ReplyAck:
		m.stats.Acks++
	case ReplyErr:
		m.stats.Errs++
	case ReplyRty:
		m.stats.Rtys++
	}
}

func (m *Master) advance() error {
	c := m.cur

	switch m.state {
	case stateIdleWait:
		c.idleLeft--
		if c.idleLeft > 0 {
			return nil
		}

		m.strobe()

		return nil
	case stateStrobe:
		if m.stall != nil {
			return m.waitStall()
		}

		return m.waitAck()
	case stateDraining:
		return m.drain()
	default:
		panic(fmt.Sprintf("wishbone master %s: unexpected state %s",
			m.name, m.state))
	}
}

func (m *Master) waitStall() error {
	c := m.cur

	if signal.IsHigh(m.stall) {
		c.stallCount++
		m.stats.StallCycles++

		if m.timeout > 0 && c.stallCount > m.timeout {
			return errors.Wrapf(ErrStallTimeout,
				"%s: stalled for more than %d clock cycles",
				m.bus, m.timeout)
		}

		return nil
	}

	if c.stallCount > 0 {
		m.logger.Debug("stalled", "cycles", c.stallCount)
		tracing.AddTaskStep(c.id, m, "stall_released")
	}

	m.recordAux()

	return m.completeOp()
}

func (m *Master) waitAck() error {
	c := m.cur

	if !c.auxRecorded {
		m.recordAux()
	}

	if c.acked > c.ackedAtIssue {
		m.logger.Debug("waited for acknowledge", "cycles", c.ackWait)
		return m.completeOp()
	}

	c.ackWait++
	if m.timeout > 0 && c.ackWait > m.timeout {
		return errors.Wrapf(ErrAckTimeout,
			"%s: no reply within %d clock cycles", m.bus, m.timeout)
	}

	return nil
}

func (m *Master) recordAux() {
	c := m.cur
	op := c.ops[c.next]

	dat := uint64(0)
	if op.Write {
		dat = op.Dat
	}

	c.auxes = append(c.auxes, aux{
		sel:       m.selValue(op.Sel),
		adr:       op.Adr,
		datwr:     dat,
		write:     op.Write,
		waitIdle:  op.Idle,
		waitStall: c.stallCount,
		ts:        c.counter,
	})
	c.auxRecorded = true
	m.stats.Ops++
}

// completeOp drops the strobe and moves on. The next operation may raise it
// again on the same edge.
func (m *Master) completeOp() error {
	c := m.cur

	signal.Drive(m.stb, 0)
	signal.Drive(m.we, 0)

	c.next++
	if c.next < len(c.ops) {
		return m.startOp()
	}

	m.state = stateDraining

	return m.drain()
}

// drain waits for the outstanding replies before lowering cyc.
func (m *Master) drain() error {
	c := m.cur

	if c.acked >= len(c.ops) {
		signal.Drive(m.cyc, 0)
		m.state = stateClosing
		m.logger.Debug("closing cycle", "cycle", c.id)

		return nil
	}

	if c.acked != c.lastAcked {
		m.logger.Debug("waiting for missing acks",
			"acked", c.acked, "ops", len(c.ops))
	}

	c.lastAcked = c.acked

	c.drainCount++
	if m.timeout > 0 && c.drainCount > m.timeout {
		return errors.Wrapf(ErrAckTimeout,
			"%s: timeout of %d clock cycles reached when waiting for "+
				"reply from slave", m.bus, m.timeout)
	}

	return nil
}

func (m *Master) finish(e timing.Edge) {
	c := m.cur
	results := zip(c.replies, c.auxes)

	if len(c.replies) != len(c.auxes) {
		m.logger.Warn("replies do not match operations",
			"replies", len(c.replies), "ops", len(c.auxes))
	}

	m.cur = nil
	m.state = stateIdle
	if len(m.queue) > 0 {
		m.state = stateOpening
	}

	tracing.EndTask(c.id, m)

	m.notify = append(m.notify, func() {
		if m.NumHooks() > 0 {
			m.InvokeHook(hooking.HookCtx{
				Domain: m,
				Pos:    HookPosCycleDone,
				Item:   results,
				Detail: e,
			})
		}

		c.done(results, nil)
	})
}

// fail aborts the open cycle and releases the bus.
func (m *Master) fail(err error) error {
	c := m.cur

	signal.Drive(m.cyc, 0)
	signal.Drive(m.stb, 0)
	signal.Drive(m.we, 0)

	m.cur = nil
	m.state = stateIdle
	if len(m.queue) > 0 {
		m.state = stateOpening
	}

	m.logger.Error("cycle aborted", "cycle", c.id, "error", err.Error())
	tracing.EndTask(c.id, m)

	m.notify = append(m.notify, func() { c.done(nil, err) })

	return err
}
