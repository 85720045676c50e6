// Package monitor provides the transaction sink shared by bus monitors.
//
// A monitor reconstructs transactions from bus activity and hands each one to
// its Base through Recv. The Base forwards the transaction to the registered
// callbacks, or queues it when nobody subscribed, wakes the waiters, counts
// it, and invokes the HookPosRecv hooks.
package monitor

import (
	"log/slog"
	"sync"

	"github.com/sarchlab/busvip/hooking"
	"github.com/sarchlab/busvip/timing"
)

// HookPosRecv is triggered for every transaction a monitor receives. The item
// is the transaction and the detail is the timing.Edge it completed on.
var HookPosRecv = &hooking.HookPos{Name: "MonitorRecv"}

// A Sink accepts reconstructed transactions.
type Sink interface {
	Recv(e timing.Edge, txn any)
}

// Callback is called with every received transaction.
type Callback func(txn any)

// A Canceler can be cancelled. *timing.Subscription is one.
type Canceler interface {
	Cancel()
}

// Stats counts the activity of a monitor.
type Stats struct {
	ReceivedTransactions uint64
}

// Base implements the sink side of a monitor.
type Base struct {
	*hooking.HookableBase

	lock      sync.Mutex
	name      string
	logger    *slog.Logger
	callbacks []Callback
	queue     []any
	waiters   []chan any
	stats     Stats
	sub       Canceler
	killed    bool
}

// NewBase creates a Base. A nil logger uses slog.Default.
func NewBase(name string, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}

	return &Base{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		logger:       logger.With("component", "monitor", "monitor", name),
	}
}

// Name returns the name of the monitor.
func (b *Base) Name() string {
	return b.name
}

// Logger returns the logger of the monitor.
func (b *Base) Logger() *slog.Logger {
	return b.logger
}

// AddCallback registers a callback. Once a callback exists, transactions are
// no longer queued.
func (b *Base) AddCallback(cb Callback) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.callbacks = append(b.callbacks, cb)
}

// WaitForRecv returns a channel that receives the next transaction. Each
// channel is used once.
func (b *Base) WaitForRecv() <-chan any {
	ch := make(chan any, 1)

	b.lock.Lock()
	b.waiters = append(b.waiters, ch)
	b.lock.Unlock()

	return ch
}

// Recv delivers a transaction to the consumers of the monitor.
func (b *Base) Recv(e timing.Edge, txn any) {
	b.lock.Lock()
	if b.killed {
		b.lock.Unlock()
		return
	}

	b.stats.ReceivedTransactions++

	callbacks := b.callbacks
	if len(callbacks) == 0 {
		b.queue = append(b.queue, txn)
	}

	waiters := b.waiters
	b.waiters = nil
	b.lock.Unlock()

	for _, cb := range callbacks {
		cb(txn)
	}

	for _, w := range waiters {
		w <- txn
	}

	if b.NumHooks() > 0 {
		b.InvokeHook(hooking.HookCtx{
			Domain: b,
			Pos:    HookPosRecv,
			Item:   txn,
			Detail: e,
		})
	}
}

// Len returns the number of queued transactions.
func (b *Base) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.queue)
}

// At returns the i-th queued transaction. It panics if i is out of range.
func (b *Base) At(i int) any {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.queue[i]
}

// Pop removes and returns the oldest queued transaction.
func (b *Base) Pop() (any, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if len(b.queue) == 0 {
		return nil, false
	}

	txn := b.queue[0]
	b.queue = b.queue[1:]

	return txn, true
}

// Stats returns a snapshot of the statistics.
func (b *Base) Stats() Stats {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.stats
}

// Attach remembers what Kill has to cancel, usually the clock subscription.
func (b *Base) Attach(sub Canceler) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.sub = sub
}

// Kill stops the monitor. Later transactions are dropped.
func (b *Base) Kill() {
	b.lock.Lock()
	sub := b.sub
	b.sub = nil
	b.killed = true
	b.lock.Unlock()

	if sub != nil {
		sub.Cancel()
	}

	b.logger.Debug("killed")
}

// Killed tells if Kill was called.
func (b *Base) Killed() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.killed
}

var _ Sink = (*Base)(nil)
