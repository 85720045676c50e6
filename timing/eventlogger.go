package timing

import (
	"log/slog"
	"reflect"

	"github.com/sarchlab/busvip/hooking"
)

// EventLogger is an hook that prints the event information
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger returns a new EventLogger which will write in to the logger
func NewEventLogger(logger *slog.Logger) *EventLogger {
	h := new(EventLogger)
	h.logger = logger

	return h
}

// Func writes the event information into the logger
func (h *EventLogger) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}

	evt, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	attrs := []any{
		"time", float64(evt.Time()),
		"event", reflect.TypeOf(evt).String(),
	}

	if named, ok := evt.Handler().(Named); ok {
		attrs = append(attrs, "handler", named.Name())
	}

	if edge, ok := evt.(edgeEvent); ok {
		attrs = append(attrs, "edge", edge.kind.String())
	}

	h.logger.Debug("event", attrs...)
}
