package avalon

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/busvip/bus"
)

// Protocol violations and timeouts reported by the monitors.
var (
	ErrDuplicateStart = errors.WithMessage(bus.ErrProtocol,
		"duplicate start-of-packet")
	ErrDataOutsidePacket = errors.WithMessage(bus.ErrProtocol,
		"data transfer outside of packet")
	ErrChannelChanged = errors.WithMessage(bus.ErrProtocol,
		"channel value changed during packet")
	ErrChannelRange = errors.WithMessage(bus.ErrProtocol,
		"channel value greater than max channel")
	ErrUnresolvedData = errors.WithMessage(bus.ErrProtocol,
		"unresolvable value")
	ErrInPacketTimeout = errors.WithMessage(bus.ErrTimeout,
		"no valid data inside packet")
)
