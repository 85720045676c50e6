package wishbone

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/sarchlab/busvip/bus"
	"github.com/sarchlab/busvip/signal"
	"github.com/sarchlab/busvip/timing"
)

// AddrRange is a half-open address window [Lo, Hi).
type AddrRange struct {
	Lo, Hi uint64
}

// Contains tells if adr falls in the window.
func (r AddrRange) Contains(adr uint64) bool {
	return adr >= r.Lo && adr < r.Hi
}

type request struct {
	adr   uint64
	dat   uint64
	sel   uint64
	write bool
	due   uint64
}

// MemorySlave is a Wishbone slave backed by a word-addressed memory. It is
// pipelined when the bus has a stall signal and classic otherwise.
type MemorySlave struct {
	lock   sync.Mutex
	name   string
	bus    *bus.Bus
	logger *slog.Logger

	ackDelay     uint64
	stallPattern []bool
	errRange     *AddrRange
	rtyRange     *AddrRange

	cyc, stb, we, adr, datwr, datrd, ack signal.Handle
	sel, err, stall, rty                 signal.Handle

	mem      map[uint64]uint64
	edges    uint64
	waited   uint64
	replied  bool
	pending  []request
	requests uint64
}

// SlaveBuilder can build MemorySlaves.
type SlaveBuilder struct {
	ackDelay     uint64
	stallPattern []bool
	errRange     *AddrRange
	rtyRange     *AddrRange
	logger       *slog.Logger
	clock        *timing.Clock
}

// MakeSlaveBuilder creates a SlaveBuilder for a slave that replies on the
// edge after it sees a request and never stalls.
func MakeSlaveBuilder() SlaveBuilder {
	return SlaveBuilder{}
}

// WithAckDelay adds n clock cycles between a request and its reply.
func (b SlaveBuilder) WithAckDelay(n uint64) SlaveBuilder {
	b.ackDelay = n
	return b
}

// WithStallPattern makes a pipelined slave drive stall from the pattern,
// one entry per clock cycle, repeating.
func (b SlaveBuilder) WithStallPattern(pattern ...bool) SlaveBuilder {
	b.stallPattern = append([]bool(nil), pattern...)
	return b
}

// WithErrRange answers requests in the window with err.
func (b SlaveBuilder) WithErrRange(lo, hi uint64) SlaveBuilder {
	b.errRange = &AddrRange{Lo: lo, Hi: hi}
	return b
}

// WithRtyRange answers requests in the window with rty.
func (b SlaveBuilder) WithRtyRange(lo, hi uint64) SlaveBuilder {
	b.rtyRange = &AddrRange{Lo: lo, Hi: hi}
	return b
}

// WithLogger sets the logger of the slave.
func (b SlaveBuilder) WithLogger(l *slog.Logger) SlaveBuilder {
	b.logger = l
	return b
}

// WithClock subscribes the slave to the rising edges of the clock.
func (b SlaveBuilder) WithClock(c *timing.Clock) SlaveBuilder {
	b.clock = c
	return b
}

// Build creates a slave answering on the bus.
func (b SlaveBuilder) Build(name string, wb *bus.Bus) (*MemorySlave, error) {
	if b.errRange != nil && !wb.Has("err") {
		return nil, errors.Wrapf(bus.ErrConfig,
			"wishbone slave %s: err range without err signal", name)
	}

	if b.rtyRange != nil && !wb.Has("rty") {
		return nil, errors.Wrapf(bus.ErrConfig,
			"wishbone slave %s: rty range without rty signal", name)
	}

	if len(b.stallPattern) > 0 && !wb.Has("stall") {
		return nil, errors.Wrapf(bus.ErrConfig,
			"wishbone slave %s: stall pattern without stall signal", name)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &MemorySlave{
		name: name,
		bus:  wb,
		logger: logger.With(
			"component", "wishbone_slave", "bus", wb.String()),
		ackDelay:     b.ackDelay,
		stallPattern: b.stallPattern,
		errRange:     b.errRange,
		rtyRange:     b.rtyRange,
		cyc:          wb.MustSignal("cyc"),
		stb:          wb.MustSignal("stb"),
		we:           wb.MustSignal("we"),
		adr:          wb.MustSignal("adr"),
		datwr:        wb.MustSignal("datwr"),
		datrd:        wb.MustSignal("datrd"),
		ack:          wb.MustSignal("ack"),
		sel:          wb.Signal("sel"),
		err:          wb.Signal("err"),
		stall:        wb.Signal("stall"),
		rty:          wb.Signal("rty"),
		mem:          make(map[uint64]uint64),
	}

	for _, h := range []signal.Handle{s.ack, s.err, s.rty, s.stall, s.datrd} {
		if h != nil {
			signal.DriveImmediate(h, 0)
		}
	}

	if b.clock != nil {
		b.clock.Subscribe(s, timing.Rising, timing.PhaseActive)
	}

	return s, nil
}

// Name returns the name of the slave.
func (s *MemorySlave) Name() string {
	return s.name
}

// Peek reads a word of the memory without bus activity.
func (s *MemorySlave) Peek(adr uint64) uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.mem[adr]
}

// Poke writes a word of the memory without bus activity.
func (s *MemorySlave) Poke(adr, v uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.mem[adr] = v
}

// Requests returns the number of requests the slave accepted.
func (s *MemorySlave) Requests() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.requests
}

// HandleEdge advances the slave by one rising edge.
func (s *MemorySlave) HandleEdge(e timing.Edge) error {
	if e.Kind != timing.Rising {
		return nil
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.edges++

	if s.stall != nil {
		s.pipelinedEdge()
	} else {
		s.classicEdge()
	}

	return nil
}

func (s *MemorySlave) classicEdge() {
	if s.replied {
		s.release()
		s.replied = false

		return
	}

	if !signal.IsHigh(s.cyc) || !signal.IsHigh(s.stb) {
		s.waited = 0
		return
	}

	if s.waited < s.ackDelay {
		s.waited++
		return
	}

	s.waited = 0
	s.respond(s.sample())
	s.replied = true
}

func (s *MemorySlave) pipelinedEdge() {
	if !signal.IsHigh(s.cyc) {
		s.pending = nil
		s.release()
		s.driveStall()

		return
	}

	if signal.IsHigh(s.stb) && !signal.IsHigh(s.stall) {
		req := s.sample()
		req.due = s.edges + s.ackDelay
		s.pending = append(s.pending, req)
	}

	if len(s.pending) > 0 && s.pending[0].due <= s.edges {
		req := s.pending[0]
		s.pending = s.pending[1:]
		s.respond(req)
	} else {
		s.release()
	}

	s.driveStall()
}

func (s *MemorySlave) driveStall() {
	stall := uint64(0)

	if n := uint64(len(s.stallPattern)); n > 0 && s.stallPattern[s.edges%n] {
		stall = 1
	}

	signal.Drive(s.stall, stall)
}

func (s *MemorySlave) sample() request {
	req := request{
		adr:   uintOf(s.adr),
		dat:   uintOf(s.datwr),
		write: signal.IsHigh(s.we),
		sel:   ^uint64(0),
	}

	if s.sel != nil {
		req.sel = uintOf(s.sel)
	}

	return req
}

func uintOf(h signal.Handle) uint64 {
	v, err := h.Value().Uint64()
	if err != nil {
		return 0
	}

	return v
}

func (s *MemorySlave) respond(req request) {
	s.requests++
	s.release()

	switch {
	case s.errRange != nil && s.errRange.Contains(req.adr):
		signal.Drive(s.err, 1)
		s.logger.Debug("err", "adr", req.adr)

		return
	case s.rtyRange != nil && s.rtyRange.Contains(req.adr):
		signal.Drive(s.rty, 1)
		s.logger.Debug("rty", "adr", req.adr)

		return
	}

	if req.write {
		s.mem[req.adr] = mergeBytes(s.mem[req.adr], req.dat, req.sel)
	}

	signal.Drive(s.datrd, s.mem[req.adr])
	signal.Drive(s.ack, 1)

	s.logger.Debug("ack", "adr", req.adr, "write", req.write)
}

func (s *MemorySlave) release() {
	for _, h := range []signal.Handle{s.ack, s.err, s.rty} {
		if h != nil {
			signal.Drive(h, 0)
		}
	}
}

// mergeBytes replaces the bytes of old selected by sel with those of dat.
func mergeBytes(old, dat, sel uint64) uint64 {
	mask := uint64(0)

	for i := 0; i < 8; i++ {
		if sel&(1<<uint(i)) != 0 {
			mask |= 0xff << uint(8*i)
		}
	}

	return old&^mask | dat&mask
}
