package bus

import "github.com/pkg/errors"

// Root errors. Protocol-specific packages wrap these so that callers can
// classify any failure with errors.Is.
var (
	// ErrProtocol marks a protocol violation observed on the bus.
	ErrProtocol = errors.New("protocol violation")

	// ErrTimeout marks a bounded wait that ran out of clock cycles.
	ErrTimeout = errors.New("timeout")

	// ErrUsage marks malformed caller arguments. Nothing has been driven on
	// the bus when it is returned.
	ErrUsage = errors.New("usage fault")

	// ErrConfig marks an agent that cannot be built on the given bus.
	ErrConfig = errors.New("invalid configuration")
)
