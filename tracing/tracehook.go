package tracing

import (
	"fmt"
	"slices"

	"github.com/sarchlab/busvip/hooking"
)

// CollectTrace forwards the tasks of an agent to a tracer. With kinds given,
// only tasks of those kinds (for example "wishbone_cycle") reach the tracer,
// along with their steps and their end.
func CollectTrace(domain NamedHookable, tracer Tracer, kinds ...string) {
	for _, h := range domain.Hooks() {
		if th, ok := h.(*traceHook); ok && th.tracer == tracer {
			panic(fmt.Sprintf("agent %s is already traced by %T",
				domain.Name(), tracer))
		}
	}

	domain.AcceptHook(&traceHook{
		tracer: tracer,
		kinds:  kinds,
		open:   make(map[string]bool),
	})
}

type traceHook struct {
	tracer Tracer
	kinds  []string

	// open holds the IDs of started tasks that passed the kind filter. Steps
	// and ends only carry the task ID.
	open map[string]bool
}

func (h *traceHook) Func(ctx hooking.HookCtx) {
	task, ok := ctx.Item.(Task)
	if !ok {
		return
	}

	switch ctx.Pos {
	case HookPosTaskStart:
		if len(h.kinds) > 0 && !slices.Contains(h.kinds, task.Kind) {
			return
		}

		h.open[task.ID] = true
		h.tracer.StartTask(task)
	case HookPosTaskStep:
		if h.open[task.ID] {
			h.tracer.StepTask(task)
		}
	case HookPosTaskEnd:
		if h.open[task.ID] {
			delete(h.open, task.ID)
			h.tracer.EndTask(task)
		}
	}
}
