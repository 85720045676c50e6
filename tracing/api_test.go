package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/busvip/hooking"
)

var _ = Describe("Api", func() {
	var (
		mockCtrl *gomock.Controller
		domain   *MockNamedHookable
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		domain = NewMockNamedHookable(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Context("with hooks", func() {
		BeforeEach(func() {
			domain.EXPECT().NumHooks().Return(1).AnyTimes()
		})

		It("should panic if ID is not given", func() {
			domain.EXPECT().Name().Return("domain").AnyTimes()
			Expect(func() {
				StartTask("", "123", domain, "kind", "what", nil)
			}).Should(Panic())
		})

		It("should be panic if domain's name is empty.", func() {
			domain.EXPECT().Name().Return("").AnyTimes()
			Expect(func() {
				StartTask("id", "123", domain, "kind", "what", nil)
			}).Should(Panic())
		})

		It("should be panic if kind is empty.", func() {
			domain.EXPECT().Name().Return("domain").AnyTimes()
			Expect(func() {
				StartTask("id", "123", domain, "", "what", nil)
			}).Should(Panic())
		})

		It("should be panic if what is empty.", func() {
			domain.EXPECT().Name().Return("domain").AnyTimes()
			Expect(func() {
				StartTask("id", "123", domain, "kind", "", nil)
			}).Should(Panic())
		})

		It("should pass the task to the hooks", func() {
			domain.EXPECT().Name().Return("wb").AnyTimes()
			domain.EXPECT().
				InvokeHook(gomock.Any()).
				Do(func(ctx hooking.HookCtx) {
					Expect(ctx.Pos).To(BeIdenticalTo(HookPosTaskStart))

					task := ctx.Item.(Task)
					Expect(task.ID).To(Equal("id"))
					Expect(task.Where).To(Equal("wb"))
					Expect(task.Kind).To(Equal("wishbone_cycle"))
				})

			StartTask("id", "", domain, "wishbone_cycle", "read", nil)
		})

		It("should report steps and ends", func() {
			var positions []*hooking.HookPos
			domain.EXPECT().
				InvokeHook(gomock.Any()).
				Do(func(ctx hooking.HookCtx) {
					positions = append(positions, ctx.Pos)
				}).
				Times(2)

			AddTaskStep("id", domain, "stall")
			EndTask("id", domain)

			Expect(positions).To(Equal([]*hooking.HookPos{
				HookPosTaskStep, HookPosTaskEnd,
			}))
		})
	})

	It("should skip domains without hooks", func() {
		domain.EXPECT().NumHooks().Return(0).Times(3)

		StartTask("id", "", domain, "kind", "what", nil)
		AddTaskStep("id", domain, "step")
		EndTask("id", domain)
	})
})

var _ = Describe("CollectTrace", func() {
	It("should refuse to attach the same tracer twice", func() {
		domain := hooking.NewHookableBase()
		named := namedHookable{HookableBase: domain, name: "wb"}
		tracer := NewTotalTimeTracer(nil, func(Task) bool { return true })

		CollectTrace(named, tracer)

		Expect(domain.NumHooks()).To(Equal(1))
		Expect(func() { CollectTrace(named, tracer) }).To(Panic())
	})

	It("should only forward the tasks of the given kinds", func() {
		named := namedHookable{
			HookableBase: hooking.NewHookableBase(),
			name:         "wb",
		}
		tracer := &taskLog{}

		CollectTrace(named, tracer, "wishbone_cycle")

		StartTask("1", "", named, "wishbone_cycle", "write", nil)
		StartTask("2", "", named, "avalon_packet", "packet", nil)
		AddTaskStep("1", named, "ack")
		AddTaskStep("2", named, "word")
		EndTask("2", named)
		EndTask("1", named)

		Expect(tracer.events).To(Equal([]string{
			"start 1", "step 1", "end 1",
		}))
	})

	It("should forward every task without kinds", func() {
		named := namedHookable{
			HookableBase: hooking.NewHookableBase(),
			name:         "st",
		}
		tracer := &taskLog{}

		CollectTrace(named, tracer)

		StartTask("1", "", named, "avalon_packet", "packet", nil)
		EndTask("1", named)
		EndTask("1", named)

		Expect(tracer.events).To(Equal([]string{"start 1", "end 1"}))
	})
})

type namedHookable struct {
	*hooking.HookableBase
	name string
}

func (n namedHookable) Name() string {
	return n.name
}

type taskLog struct {
	events []string
}

func (l *taskLog) StartTask(t Task) { l.events = append(l.events, "start "+t.ID) }
func (l *taskLog) StepTask(t Task)  { l.events = append(l.events, "step "+t.ID) }
func (l *taskLog) EndTask(t Task)   { l.events = append(l.events, "end "+t.ID) }
