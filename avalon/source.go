package avalon

import (
	"log/slog"
	"math/big"
	"sync"

	"github.com/pkg/errors"

	"github.com/sarchlab/busvip/bus"
	"github.com/sarchlab/busvip/hooking"
	"github.com/sarchlab/busvip/idgen"
	"github.com/sarchlab/busvip/signal"
	"github.com/sarchlab/busvip/timing"
	"github.com/sarchlab/busvip/tracing"
)

// PktsSourceBuilder can build PktsSources.
type PktsSourceBuilder struct {
	clock           *timing.Clock
	logger          *slog.Logger
	gap             int
	firstSymbolHigh bool
}

// MakePktsSourceBuilder creates a builder that sends back-to-back words with
// the first symbol in the high-order bits.
func MakePktsSourceBuilder() PktsSourceBuilder {
	return PktsSourceBuilder{firstSymbolHigh: true}
}

// WithClock subscribes the source to the rising edges of the clock.
func (b PktsSourceBuilder) WithClock(c *timing.Clock) PktsSourceBuilder {
	b.clock = c
	return b
}

// WithLogger sets the logger of the source.
func (b PktsSourceBuilder) WithLogger(l *slog.Logger) PktsSourceBuilder {
	b.logger = l
	return b
}

// WithGap inserts n cycles without valid data after every transferred word.
func (b PktsSourceBuilder) WithGap(n int) PktsSourceBuilder {
	b.gap = n
	return b
}

// WithFirstSymbolInHighOrderBits sets the symbol order of the data words.
func (b PktsSourceBuilder) WithFirstSymbolInHighOrderBits(
	on bool,
) PktsSourceBuilder {
	b.firstSymbolHigh = on
	return b
}

// Build creates a source on the bus and drives the idle values of its outputs
// immediately.
func (b PktsSourceBuilder) Build(name string, st *bus.Bus) (*PktsSource, error) {
	if b.gap < 0 {
		return nil, errors.Wrapf(bus.ErrConfig,
			"%s: negative gap %d", name, b.gap)
	}

	width := st.MustSignal("data").Width()
	if width%8 != 0 {
		return nil, errors.Wrapf(bus.ErrConfig,
			"%s: %d-bit data is not made of bytes", name, width)
	}

	if width > 8 && !st.Has("empty") {
		return nil, errors.Wrapf(bus.ErrConfig,
			"%s has %d data symbols, but contains no signal named empty",
			st, width/8)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &PktsSource{
		HookableBase:    hooking.NewHookableBase(),
		name:            name,
		bus:             st,
		logger:          logger.With("component", "avalon_st_pkts_source", "bus", st.String()),
		gap:             b.gap,
		firstSymbolHigh: b.firstSymbolHigh,
		valid:           st.MustSignal("valid"),
		data:            st.MustSignal("data"),
		sop:             st.MustSignal("startofpacket"),
		eop:             st.MustSignal("endofpacket"),
		empty:           st.Signal("empty"),
		channel:         st.Signal("channel"),
		ready:           st.Signal("ready"),
	}

	for _, h := range []signal.Handle{
		s.valid, s.data, s.sop, s.eop, s.empty, s.channel,
	} {
		if h != nil {
			signal.DriveImmediate(h, 0)
		}
	}

	if b.clock != nil {
		b.clock.Subscribe(s, timing.Rising, timing.PhaseActive)
	}

	return s, nil
}

type stWord struct {
	data    signal.Value
	sop     bool
	eop     bool
	empty   uint64
	channel uint64
}

type pendingPacket struct {
	id    string
	size  int
	words []stWord
}

// PktsSource drives packets onto a packetized Avalon-ST bus, one word per
// rising edge. A word is held until the sink is ready.
type PktsSource struct {
	*hooking.HookableBase

	lock            sync.Mutex
	name            string
	bus             *bus.Bus
	logger          *slog.Logger
	gap             int
	firstSymbolHigh bool

	valid, data, sop, eop, empty, channel, ready signal.Handle

	queue   []*pendingPacket
	cur     *pendingPacket
	idx     int
	gapLeft int
	driving bool
	sent    uint64
}

// Name returns the name of the source.
func (s *PktsSource) Name() string {
	return s.name
}

// Sent returns the number of completely transferred packets.
func (s *PktsSource) Sent() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.sent
}

// Idle tells if every packet has been transferred.
func (s *PktsSource) Idle() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.cur == nil && len(s.queue) == 0
}

// Send queues a packet. The channel must be 0 on buses without a channel
// signal.
func (s *PktsSource) Send(data []byte, channel uint64) error {
	if len(data) == 0 {
		return errors.Wrapf(bus.ErrUsage, "%s: empty packet", s.name)
	}

	if s.channel == nil && channel != 0 {
		return errors.Wrapf(bus.ErrUsage,
			"%s: channel %d on a bus without channel signal", s.name, channel)
	}

	if s.channel != nil {
		w := s.channel.Width()
		if w < 64 && channel>>uint(w) != 0 {
			return errors.Wrapf(bus.ErrUsage,
				"%s: channel %d does not fit %d bits", s.name, channel, w)
		}
	}

	pkt := &pendingPacket{
		id:    idgen.Get().Generate(),
		size:  len(data),
		words: s.pack(data, channel),
	}

	s.lock.Lock()
	s.queue = append(s.queue, pkt)
	s.lock.Unlock()

	s.logger.Debug("packet queued", "bytes", len(data), "channel", channel,
		"words", len(pkt.words))

	return nil
}

func (s *PktsSource) pack(data []byte, channel uint64) []stWord {
	width := s.data.Width()
	n := width / 8

	var words []stWord

	for i := 0; i < len(data); i += n {
		end := min(i+n, len(data))
		chunk := data[i:end]
		empty := n - len(chunk)

		buf := make([]byte, n)
		if s.firstSymbolHigh {
			copy(buf, chunk)
		} else {
			for j, c := range chunk {
				buf[n-1-j] = c
			}
		}

		words = append(words, stWord{
			data:    signal.NewBigValue(width, new(big.Int).SetBytes(buf)),
			sop:     i == 0,
			eop:     end == len(data),
			empty:   uint64(empty),
			channel: channel,
		})
	}

	return words
}

// HandleEdge drives the next word. It must run in the active phase of rising
// edges.
func (s *PktsSource) HandleEdge(e timing.Edge) error {
	if e.Kind != timing.Rising {
		return nil
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.driving && (s.ready == nil || signal.IsHigh(s.ready)) {
		s.accept()
	}

	if s.driving {
		return nil
	}

	if s.cur == nil && len(s.queue) > 0 {
		s.cur = s.queue[0]
		s.queue = s.queue[1:]
		s.idx = 0

		tracing.StartTask(s.cur.id, "", s, "avalon_packet", "send", nil)
	}

	if s.cur == nil || s.gapLeft > 0 {
		if s.gapLeft > 0 {
			s.gapLeft--
		}

		s.driveIdle()

		return nil
	}

	s.drive(s.cur.words[s.idx])
	s.driving = true

	return nil
}

func (s *PktsSource) accept() {
	s.driving = false
	s.idx++
	s.gapLeft = s.gap

	if s.idx < len(s.cur.words) {
		return
	}

	s.sent++
	s.logger.Info("sent a packet", "bytes", s.cur.size)
	tracing.EndTask(s.cur.id, s)

	s.cur = nil
}

func (s *PktsSource) drive(w stWord) {
	signal.Drive(s.valid, 1)
	s.data.Set(w.data)
	signal.Drive(s.sop, boolToUint(w.sop))
	signal.Drive(s.eop, boolToUint(w.eop))

	if s.empty != nil {
		signal.Drive(s.empty, w.empty)
	}

	if s.channel != nil {
		signal.Drive(s.channel, w.channel)
	}
}

func (s *PktsSource) driveIdle() {
	signal.Drive(s.valid, 0)
	signal.Drive(s.sop, 0)
	signal.Drive(s.eop, 0)
}

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}

	return 0
}
