// Package bus groups simulator signals into named buses.
//
// A bus is a set of signals named <entity>.<bus><separator><signal>. Which
// names are mandatory and which may be absent is given by a Protocol; the
// behavior of a protocol lives in the agents built on top of a Bus.
package bus

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/pkg/errors"

	"github.com/sarchlab/busvip/signal"
)

// Protocol describes the signals of a bus type.
type Protocol struct {
	Name            string
	Signals         []string
	OptionalSignals []string
}

func (p Protocol) has(name string) bool {
	for _, s := range p.Signals {
		if s == name {
			return true
		}
	}

	for _, s := range p.OptionalSignals {
		if s == name {
			return true
		}
	}

	return false
}

type bindConfig struct {
	separator string
	arrayIdx  *int
	aliases   map[string]string
	logger    *slog.Logger
}

// Option customizes how Bind looks signals up.
type Option func(*bindConfig)

// WithSeparator sets the string between the bus name and the signal name.
// The default is "_".
func WithSeparator(sep string) Option {
	return func(c *bindConfig) {
		c.separator = sep
	}
}

// WithArrayIndex appends "[i]" to every signal name.
func WithArrayIndex(i int) Option {
	return func(c *bindConfig) {
		c.arrayIdx = &i
	}
}

// WithAlias binds the protocol signal name to a differently named simulator
// signal.
func WithAlias(name, sigName string) Option {
	return func(c *bindConfig) {
		c.aliases[name] = sigName
	}
}

// WithLogger sets the logger that reports the resolved signal names.
func WithLogger(l *slog.Logger) Option {
	return func(c *bindConfig) {
		c.logger = l
	}
}

// Bus is a set of signal handles resolved once at construction.
type Bus struct {
	entity   signal.Entity
	name     string
	protocol Protocol
	signals  map[string]signal.Handle
	names    []string

	reset          signal.Handle
	resetActiveLow bool
}

// Bind resolves the signals of proto on entity. An empty name binds a
// nameless bus whose signals carry no prefix. A missing required signal fails
// with ErrConfig; a missing optional signal is skipped.
func Bind(
	entity signal.Entity,
	name string,
	proto Protocol,
	opts ...Option,
) (*Bus, error) {
	c := bindConfig{
		separator: "_",
		aliases:   make(map[string]string),
		logger:    slog.Default(),
	}

	for _, o := range opts {
		o(&c)
	}

	for alias := range c.aliases {
		if !proto.has(alias) {
			return nil, errors.Wrapf(ErrConfig,
				"signal %q is not part of %s bus", alias, proto.Name)
		}
	}

	b := &Bus{
		entity:   entity,
		name:     name,
		protocol: proto,
		signals:  make(map[string]signal.Handle),
	}

	log := c.logger.With("component", "bus", "bus", b.String())

	for _, s := range proto.Signals {
		sigName := c.signalName(name, s)

		h, found := entity.Signal(sigName)
		if !found {
			return nil, errors.Wrapf(ErrConfig,
				"%s bus %s: missing signal %s", proto.Name, b, sigName)
		}

		log.Debug("signal bound", "signal", s, "name", sigName)
		b.add(s, h)
	}

	for _, s := range proto.OptionalSignals {
		sigName := c.signalName(name, s)

		h, found := entity.Signal(sigName)
		if !found {
			log.Debug("ignoring optional missing signal", "signal", s)
			continue
		}

		log.Debug("signal bound", "signal", s, "name", sigName)
		b.add(s, h)
	}

	return b, nil
}

func (c *bindConfig) signalName(busName, s string) string {
	sigName := s
	if alias, ok := c.aliases[s]; ok {
		sigName = alias
	}

	if busName != "" {
		sigName = busName + c.separator + sigName
	}

	if c.arrayIdx != nil {
		sigName += fmt.Sprintf("[%d]", *c.arrayIdx)
	}

	return sigName
}

func (b *Bus) add(name string, h signal.Handle) {
	b.signals[name] = h
	b.names = append(b.names, name)
}

// Name returns the name of the bus.
func (b *Bus) Name() string {
	return b.name
}

// String returns the hierarchical name of the bus.
func (b *Bus) String() string {
	if b.name == "" {
		return b.entity.Name()
	}

	return b.entity.Name() + "." + b.name
}

// Protocol returns the descriptor the bus was bound with.
func (b *Bus) Protocol() Protocol {
	return b.protocol
}

// Signal returns the handle of a bound signal, or nil if it is absent.
func (b *Bus) Signal(name string) signal.Handle {
	return b.signals[name]
}

// MustSignal returns the handle of a bound signal and panics if it is absent.
func (b *Bus) MustSignal(name string) signal.Handle {
	h, ok := b.signals[name]
	if !ok {
		panic(fmt.Sprintf("bus %s has no signal %s", b, name))
	}

	return h
}

// Has tells if the signal is bound.
func (b *Bus) Has(name string) bool {
	_, ok := b.signals[name]
	return ok
}

// Names returns the bound signal names, required ones first.
func (b *Bus) Names() []string {
	names := make([]string, len(b.names))
	copy(names, b.names)

	return names
}

// WithReset attaches a reset signal to the bus.
func (b *Bus) WithReset(h signal.Handle, activeLow bool) *Bus {
	b.reset = h
	b.resetActiveLow = activeLow

	return b
}

// InReset tells if the attached reset is asserted. A bus without reset is
// never in reset. An unresolved reset counts as deasserted.
func (b *Bus) InReset() bool {
	if b.reset == nil {
		return false
	}

	v := b.reset.Value()
	if !v.IsResolvable() {
		return false
	}

	if b.resetActiveLow {
		return !v.IsHigh()
	}

	return v.IsHigh()
}

// Drive schedules the given values onto the bus. Values for signals the bus
// does not have are ignored. With strict, every bound signal must be given.
func (b *Bus) Drive(values map[string]signal.Value, strict bool) error {
	if strict {
		for _, name := range b.names {
			if _, ok := values[name]; !ok {
				return errors.Wrapf(ErrUsage,
					"unable to drive onto %s: missing value for %s", b, name)
			}
		}
	}

	for _, name := range b.names {
		v, ok := values[name]
		if !ok {
			continue
		}

		h := b.signals[name]
		if v.Width() != h.Width() {
			return errors.Wrapf(ErrUsage,
				"unable to drive onto %s: %d-bit value for %d-bit %s",
				b, v.Width(), h.Width(), name)
		}

		h.Set(v)
	}

	return nil
}

// Capture is a read-only snapshot of the bus.
type Capture map[string]signal.Value

// Get returns the captured value of a signal.
func (c Capture) Get(name string) (signal.Value, error) {
	v, ok := c[name]
	if !ok {
		return signal.Value{}, errors.Wrapf(ErrUsage,
			"signal %s not present in bus", name)
	}

	return v, nil
}

// Names returns the captured signal names, sorted.
func (c Capture) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Capture returns the current value of every bound signal.
func (b *Bus) Capture() Capture {
	c := make(Capture, len(b.signals))
	for name, h := range b.signals {
		c[name] = h.Value()
	}

	return c
}

// Sample copies the current values into the entries of dst that name a bound
// signal. With strict, dst must have an entry for every bound signal.
func (b *Bus) Sample(dst map[string]signal.Value, strict bool) error {
	for _, name := range b.names {
		if _, ok := dst[name]; !ok {
			if strict {
				return errors.Wrapf(ErrUsage,
					"unable to sample from %s: missing entry for %s", b, name)
			}

			continue
		}

		dst[name] = b.signals[name].Value()
	}

	return nil
}
