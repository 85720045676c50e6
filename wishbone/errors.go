package wishbone

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/busvip/bus"
)

// Errors reported by the master. They wrap the root errors of package bus.
var (
	ErrStallTimeout   = errors.WithMessage(bus.ErrTimeout, "stall timeout")
	ErrAckTimeout     = errors.WithMessage(bus.ErrTimeout, "ack timeout")
	ErrReplyAmbiguous = errors.WithMessage(bus.ErrProtocol,
		"more than one of ack, err and rty asserted")
)
