package wishbone

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/sarchlab/busvip/bus"
	"github.com/sarchlab/busvip/hooking"
	"github.com/sarchlab/busvip/signal"
	"github.com/sarchlab/busvip/timing"
)

// Builder can build Wishbone masters.
type Builder struct {
	timeout int
	logger  *slog.Logger
	clock   *timing.Clock
}

// MakeBuilder creates a Builder with no timeout.
func MakeBuilder() Builder {
	return Builder{}
}

// WithTimeout bounds, in clock cycles, how long the master waits for the
// slave to release a stall or to reply. Zero waits forever.
func (b Builder) WithTimeout(n int) Builder {
	b.timeout = n
	return b
}

// WithLogger sets the logger of the master.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

// WithClock subscribes the master to the rising edges of the clock.
func (b Builder) WithClock(c *timing.Clock) Builder {
	b.clock = c
	return b
}

// Build creates a master on the bus and drives the idle values of its
// outputs immediately.
func (b Builder) Build(name string, wb *bus.Bus) (*Master, error) {
	if b.timeout < 0 {
		return nil, errors.Wrapf(bus.ErrConfig,
			"wishbone master %s: negative timeout %d", name, b.timeout)
	}

	for _, s := range []string{"adr", "datwr", "sel"} {
		if wb.Has(s) && wb.Signal(s).Width() > 64 {
			return nil, errors.Wrapf(bus.ErrConfig,
				"wishbone master %s: %s is wider than 64 bits", name, s)
		}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Master{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		bus:          wb,
		logger: logger.With(
			"component", "wishbone_master", "bus", wb.String()),
		timeout: b.timeout,
		cyc:     wb.MustSignal("cyc"),
		stb:     wb.MustSignal("stb"),
		we:      wb.MustSignal("we"),
		adr:     wb.MustSignal("adr"),
		datwr:   wb.MustSignal("datwr"),
		datrd:   wb.MustSignal("datrd"),
		ack:     wb.MustSignal("ack"),
		sel:     wb.Signal("sel"),
		err:     wb.Signal("err"),
		stall:   wb.Signal("stall"),
		rty:     wb.Signal("rty"),
	}

	m.driveDefaults()

	if b.clock != nil {
		b.clock.Subscribe(m, timing.Rising, timing.PhaseActive)
	}

	if b.timeout == 0 {
		m.logger.Info("wishbone master created, no cycle timeout")
	} else {
		m.logger.Info("wishbone master created",
			"timeout_cycles", b.timeout)
	}

	return m, nil
}

func (m *Master) driveDefaults() {
	for _, h := range []signal.Handle{m.cyc, m.stb, m.we, m.adr, m.datwr} {
		signal.DriveImmediate(h, 0)
	}

	if m.sel != nil {
		m.sel.SetImmediate(signal.Ones(m.sel.Width()))
	}
}
