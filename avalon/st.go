package avalon

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/sarchlab/busvip/bus"
	"github.com/sarchlab/busvip/monitor"
	"github.com/sarchlab/busvip/signal"
	"github.com/sarchlab/busvip/timing"
)

// STMonitorBuilder can build STMonitors.
type STMonitorBuilder struct {
	clock           *timing.Clock
	logger          *slog.Logger
	reset           signal.Handle
	resetActiveLo   bool
	firstSymbolHigh bool
}

// MakeSTMonitorBuilder creates a builder that puts the first symbol in the
// high-order bits.
func MakeSTMonitorBuilder() STMonitorBuilder {
	return STMonitorBuilder{firstSymbolHigh: true}
}

// WithClock subscribes the monitor to the rising edges of the clock.
func (b STMonitorBuilder) WithClock(c *timing.Clock) STMonitorBuilder {
	b.clock = c
	return b
}

// WithLogger sets the logger of the monitor.
func (b STMonitorBuilder) WithLogger(l *slog.Logger) STMonitorBuilder {
	b.logger = l
	return b
}

// WithReset pauses the monitor while the active-high reset is asserted.
func (b STMonitorBuilder) WithReset(h signal.Handle) STMonitorBuilder {
	b.reset = h
	b.resetActiveLo = false

	return b
}

// WithResetN pauses the monitor while the active-low reset is asserted.
func (b STMonitorBuilder) WithResetN(h signal.Handle) STMonitorBuilder {
	b.reset = h
	b.resetActiveLo = true

	return b
}

// WithFirstSymbolInHighOrderBits sets the byte order of the reported words.
func (b STMonitorBuilder) WithFirstSymbolInHighOrderBits(
	on bool,
) STMonitorBuilder {
	b.firstSymbolHigh = on
	return b
}

// Build creates a monitor on the bus.
func (b STMonitorBuilder) Build(name string, st *bus.Bus) (*STMonitor, error) {
	if !st.Has("valid") || !st.Has("data") {
		return nil, errors.Wrapf(bus.ErrConfig,
			"%s: %s needs valid and data", name, st)
	}

	if b.reset != nil {
		st.WithReset(b.reset, b.resetActiveLo)
	}

	m := &STMonitor{
		Base:            monitor.NewBase(name, b.logger),
		bus:             st,
		firstSymbolHigh: b.firstSymbolHigh,
		valid:           st.MustSignal("valid"),
		data:            st.MustSignal("data"),
		ready:           st.Signal("ready"),
	}

	m.logger = m.Logger().With("protocol", STProtocol.Name,
		"bus", st.String())

	if b.clock != nil {
		m.Attach(b.clock.Subscribe(m, timing.Rising, timing.PhaseReadOnly))
	}

	return m, nil
}

// STMonitor reports every transferred word of an Avalon-ST bus as []byte.
type STMonitor struct {
	*monitor.Base

	bus             *bus.Bus
	logger          *slog.Logger
	firstSymbolHigh bool

	valid, data, ready signal.Handle
}

// HandleEdge samples the bus in the read-only phase of rising edges.
func (m *STMonitor) HandleEdge(e timing.Edge) error {
	if e.Kind != timing.Rising || m.Killed() || m.bus.InReset() {
		return nil
	}

	if !signal.IsHigh(m.valid) {
		return nil
	}

	if m.ready != nil && !signal.IsHigh(m.ready) {
		return nil
	}

	word, err := m.data.Value().Bytes(m.firstSymbolHigh)
	if err != nil {
		err = errors.Wrapf(ErrUnresolvedData, "data %s, got value %s",
			m.data.Name(), m.data.Value().BinStr())
		m.logger.Error("protocol error", "error", err.Error())

		return err
	}

	m.logger.Debug("received a word", "data", m.data.Value().String())
	m.Recv(e, word)

	return nil
}
