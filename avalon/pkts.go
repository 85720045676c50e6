package avalon

import (
	"context"
	"encoding/hex"
	"log/slog"
	"math"

	"github.com/pkg/errors"

	"github.com/sarchlab/busvip/bus"
	"github.com/sarchlab/busvip/idgen"
	"github.com/sarchlab/busvip/monitor"
	"github.com/sarchlab/busvip/signal"
	"github.com/sarchlab/busvip/timing"
	"github.com/sarchlab/busvip/tracing"
)

// Packet is a received packet together with its channel. A PktsMonitor that
// reports channels emits Packets; otherwise it emits the []byte data alone.
type Packet struct {
	Data    []byte
	Channel uint64
}

// PktsConfig is the resolved configuration of a PktsMonitor.
type PktsConfig struct {
	DataBitsPerSymbol          int
	FirstSymbolInHighOrderBits bool
	MaxChannel                 uint64
	ReadyLatency               int
	InvalidTimeout             int

	// UseEmpty is set when a data word carries more than one symbol.
	UseEmpty bool
}

// PktsMonitorBuilder can build PktsMonitors.
type PktsMonitorBuilder struct {
	clock         *timing.Clock
	logger        *slog.Logger
	reset         signal.Handle
	resetActiveLo bool
	reportChannel bool

	dataBitsPerSymbol int
	firstSymbolHigh   bool
	maxChannel        *uint64
	readyLatency      int
	invalidTimeout    int
}

// MakePktsMonitorBuilder creates a builder with the default configuration:
// 8-bit symbols, first symbol in the high-order bits, no in-packet timeout.
func MakePktsMonitorBuilder() PktsMonitorBuilder {
	return PktsMonitorBuilder{
		dataBitsPerSymbol: 8,
		firstSymbolHigh:   true,
	}
}

// WithClock subscribes the monitor to the rising edges of the clock.
func (b PktsMonitorBuilder) WithClock(c *timing.Clock) PktsMonitorBuilder {
	b.clock = c
	return b
}

// WithLogger sets the logger of the monitor.
func (b PktsMonitorBuilder) WithLogger(l *slog.Logger) PktsMonitorBuilder {
	b.logger = l
	return b
}

// WithReset pauses the monitor while the active-high reset is asserted.
func (b PktsMonitorBuilder) WithReset(h signal.Handle) PktsMonitorBuilder {
	b.reset = h
	b.resetActiveLo = false

	return b
}

// WithResetN pauses the monitor while the active-low reset is asserted.
func (b PktsMonitorBuilder) WithResetN(h signal.Handle) PktsMonitorBuilder {
	b.reset = h
	b.resetActiveLo = true

	return b
}

// WithReportChannel makes the monitor emit Packets instead of []byte.
func (b PktsMonitorBuilder) WithReportChannel(on bool) PktsMonitorBuilder {
	b.reportChannel = on
	return b
}

// WithDataBitsPerSymbol sets the symbol size.
func (b PktsMonitorBuilder) WithDataBitsPerSymbol(n int) PktsMonitorBuilder {
	b.dataBitsPerSymbol = n
	return b
}

// WithFirstSymbolInHighOrderBits sets the symbol order of the data words.
func (b PktsMonitorBuilder) WithFirstSymbolInHighOrderBits(
	on bool,
) PktsMonitorBuilder {
	b.firstSymbolHigh = on
	return b
}

// WithMaxChannel sets the highest legal channel. It defaults to the highest
// value the channel signal can carry.
func (b PktsMonitorBuilder) WithMaxChannel(n uint64) PktsMonitorBuilder {
	b.maxChannel = &n
	return b
}

// WithReadyLatency records the ready latency of the bus.
func (b PktsMonitorBuilder) WithReadyLatency(n int) PktsMonitorBuilder {
	b.readyLatency = n
	return b
}

// WithInvalidTimeout bounds the number of consecutive cycles without valid
// data inside a packet. Zero waits forever.
func (b PktsMonitorBuilder) WithInvalidTimeout(n int) PktsMonitorBuilder {
	b.invalidTimeout = n
	return b
}

// Build creates a monitor on the bus.
func (b PktsMonitorBuilder) Build(name string, st *bus.Bus) (*PktsMonitor, error) {
	cfg, err := b.resolve(name, st)
	if err != nil {
		return nil, err
	}

	if b.reset != nil {
		st.WithReset(b.reset, b.resetActiveLo)
	}

	m := &PktsMonitor{
		Base:          monitor.NewBase(name, b.logger),
		bus:           st,
		config:        cfg,
		reportChannel: b.reportChannel,
		valid:         st.MustSignal("valid"),
		data:          st.MustSignal("data"),
		sop:           st.MustSignal("startofpacket"),
		eop:           st.MustSignal("endofpacket"),
		empty:         st.Signal("empty"),
		channelSig:    st.Signal("channel"),
		ready:         st.Signal("ready"),
	}

	m.logger = m.Logger().With("protocol", STPktsProtocol.Name,
		"bus", st.String())

	if b.clock != nil {
		m.Attach(b.clock.Subscribe(m, timing.Rising, timing.PhaseReadOnly))
	}

	m.logger.Debug("monitor created",
		"data_bits_per_symbol", cfg.DataBitsPerSymbol,
		"first_symbol_in_high_order_bits", cfg.FirstSymbolInHighOrderBits,
		"max_channel", cfg.MaxChannel,
		"ready_latency", cfg.ReadyLatency,
		"invalid_timeout", cfg.InvalidTimeout,
		"use_empty", cfg.UseEmpty)

	return m, nil
}

func (b PktsMonitorBuilder) resolve(name string, st *bus.Bus) (PktsConfig, error) {
	cfg := PktsConfig{
		DataBitsPerSymbol:          b.dataBitsPerSymbol,
		FirstSymbolInHighOrderBits: b.firstSymbolHigh,
		ReadyLatency:               b.readyLatency,
		InvalidTimeout:             b.invalidTimeout,
	}

	switch {
	case b.reportChannel && !st.Has("channel"):
		return cfg, errors.Wrapf(bus.ErrConfig,
			"%s: channel reporting asked on bus without channel signal", name)
	case cfg.DataBitsPerSymbol <= 0:
		return cfg, errors.Wrapf(bus.ErrConfig,
			"%s: %d data bits per symbol", name, cfg.DataBitsPerSymbol)
	case cfg.ReadyLatency < 0 || cfg.InvalidTimeout < 0:
		return cfg, errors.Wrapf(bus.ErrConfig,
			"%s: negative ready latency or invalid timeout", name)
	}

	dataWidth := st.MustSignal("data").Width()
	if dataWidth%cfg.DataBitsPerSymbol != 0 {
		return cfg, errors.Wrapf(bus.ErrConfig,
			"%s: %d-bit data is not made of %d-bit symbols",
			name, dataWidth, cfg.DataBitsPerSymbol)
	}

	symbols := dataWidth / cfg.DataBitsPerSymbol
	if symbols > 1 && !st.Has("empty") {
		return cfg, errors.Wrapf(bus.ErrConfig,
			"%s has %d data symbols, but contains no signal named empty",
			st, symbols)
	}

	cfg.UseEmpty = symbols > 1

	if !st.Has("channel") {
		if b.maxChannel != nil {
			cfg.MaxChannel = *b.maxChannel
		}

		return cfg, nil
	}

	width := st.Signal("channel").Width()
	if width > 128 {
		return cfg, errors.Wrapf(bus.ErrConfig,
			"%s: channel width is %d, the interface allows 1 to 128",
			st, width)
	}

	limit := uint64(math.MaxUint64)
	if width < 64 {
		limit = 1<<uint(width) - 1
	}

	cfg.MaxChannel = limit

	if b.maxChannel != nil {
		if *b.maxChannel > limit {
			return cfg, errors.Wrapf(bus.ErrConfig,
				"%s has max channel %d, but a %d-bit channel supports at "+
					"most %d", st, *b.maxChannel, width, limit)
		}

		cfg.MaxChannel = *b.maxChannel
	}

	return cfg, nil
}

// PktsMonitor reassembles packets from a packetized Avalon-ST bus.
type PktsMonitor struct {
	*monitor.Base

	bus           *bus.Bus
	logger        *slog.Logger
	config        PktsConfig
	reportChannel bool

	valid, data, sop, eop, empty, channelSig, ready signal.Handle

	inPkt        bool
	pkt          []byte
	channel      uint64
	chanLatched  bool
	invalidCount int
	taskID       string

	lastChannel    uint64
	hasLastChannel bool
}

// Config returns the resolved configuration.
func (m *PktsMonitor) Config() PktsConfig {
	return m.config
}

// LastChannel returns the channel of the last packet, if the bus has a
// channel signal and a packet was received.
func (m *PktsMonitor) LastChannel() (uint64, bool) {
	return m.lastChannel, m.hasLastChannel
}

// InPacket tells if a packet is being received.
func (m *PktsMonitor) InPacket() bool {
	return m.inPkt
}

// HandleEdge samples the bus. It must run in the read-only phase of rising
// edges. Protocol violations are returned as errors.
func (m *PktsMonitor) HandleEdge(e timing.Edge) error {
	if e.Kind != timing.Rising || m.Killed() {
		return nil
	}

	if m.bus.InReset() {
		return nil
	}

	if !m.isValid() {
		return m.idle()
	}

	m.invalidCount = 0

	if signal.IsHigh(m.sop) {
		if m.inPkt {
			return m.fail(errors.Wrapf(ErrDuplicateStart,
				"received on %s", m.sop.Name()))
		}

		m.startPacket()
	}

	if !m.inPkt {
		return m.fail(errors.Wrapf(ErrDataOutsidePacket,
			"valid data on %s", m.data.Name()))
	}

	eop := signal.IsHigh(m.eop)

	word, err := m.word(eop)
	if err != nil {
		return m.fail(err)
	}

	m.pkt = append(m.pkt, word...)

	if err := m.checkChannel(); err != nil {
		return m.fail(err)
	}

	if eop {
		m.endPacket(e)
	}

	return nil
}

func (m *PktsMonitor) isValid() bool {
	if !signal.IsHigh(m.valid) {
		return false
	}

	return m.ready == nil || signal.IsHigh(m.ready)
}

func (m *PktsMonitor) idle() error {
	if !m.inPkt {
		return nil
	}

	m.invalidCount++

	timeout := m.config.InvalidTimeout
	if timeout > 0 && m.invalidCount > timeout {
		return m.fail(errors.Wrapf(ErrInPacketTimeout,
			"no valid data for %d cycles", m.invalidCount))
	}

	return nil
}

func (m *PktsMonitor) startPacket() {
	m.inPkt = true
	m.pkt = nil
	m.chanLatched = false
	m.taskID = idgen.Get().Generate()

	tracing.StartTask(m.taskID, "", m, "avalon_packet", "packet", nil)
}

// word extracts the bytes of the current data word. On the last word of a
// packet the empty symbols are removed.
func (m *PktsMonitor) word(eop bool) ([]byte, error) {
	v := m.data.Value()

	if eop && m.config.UseEmpty {
		empty, err := m.empty.Value().Uint64()
		if err != nil {
			return nil, errors.Wrapf(ErrUnresolvedData,
				"empty %s", m.empty.Value())
		}

		bits := int(empty) * m.config.DataBitsPerSymbol
		if empty > uint64(v.Width()) || bits > v.Width() {
			return nil, errors.Wrapf(bus.ErrProtocol,
				"empty %d exceeds the symbols of %s", empty, m.data.Name())
		}

		if m.config.FirstSymbolInHighOrderBits {
			v = v.DropLow(bits)
		} else {
			v = v.DropHigh(bits)
		}
	}

	b, err := v.Bytes(m.config.FirstSymbolInHighOrderBits)
	if err != nil {
		return nil, errors.Wrapf(ErrUnresolvedData, "data %s, got value %s",
			m.data.Name(), m.data.Value().BinStr())
	}

	return b, nil
}

func (m *PktsMonitor) checkChannel() error {
	if m.channelSig == nil {
		return nil
	}

	cv := m.channelSig.Value()

	c, err := cv.Uint64()
	if err != nil {
		if errors.Is(err, signal.ErrOverflow) {
			return errors.Wrapf(ErrChannelRange,
				"channel %s, max channel %d", cv, m.config.MaxChannel)
		}

		return errors.Wrapf(ErrUnresolvedData, "channel %s", cv)
	}

	if !m.chanLatched {
		if c > m.config.MaxChannel {
			return errors.Wrapf(ErrChannelRange,
				"channel value (%d) is greater than max channel (%d)",
				c, m.config.MaxChannel)
		}

		m.channel = c
		m.chanLatched = true

		return nil
	}

	if c != m.channel {
		return errors.Wrapf(ErrChannelChanged, "from %d to %d", m.channel, c)
	}

	return nil
}

func (m *PktsMonitor) endPacket(e timing.Edge) {
	data := m.pkt

	m.logger.Info("received a packet", "bytes", len(data))
	if m.logger.Enabled(context.Background(), slog.LevelDebug) {
		m.logger.Debug("packet dump", "hex", hex.Dump(data))
	}

	if m.chanLatched {
		m.lastChannel = m.channel
		m.hasLastChannel = true
	}

	tracing.EndTask(m.taskID, m)
	m.reset()

	if m.reportChannel {
		m.Recv(e, Packet{Data: data, Channel: m.lastChannel})
		return
	}

	m.Recv(e, data)
}

func (m *PktsMonitor) fail(err error) error {
	if m.inPkt {
		tracing.EndTask(m.taskID, m)
	}

	m.reset()
	m.logger.Error("protocol error", "error", err.Error())

	return err
}

func (m *PktsMonitor) reset() {
	m.inPkt = false
	m.pkt = nil
	m.chanLatched = false
	m.invalidCount = 0
	m.taskID = ""
}
