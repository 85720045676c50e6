package timing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/busvip/hooking"
	"github.com/sarchlab/busvip/signal"
)

var _ = Describe("Clock", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *SerialEngine
		net      *signal.Net
		clk      *signal.Wire
		clock    *Clock
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewSerialEngine()
		net = signal.NewNet("tb")
		clk = net.NewWire("clk", 1)
		clock = MakeClockBuilder().
			WithEngine(engine).
			WithFreq(1 * GHz).
			WithCommitter(net).
			WithSignal(clk).
			WithMaxCycles(3).
			Build("clk")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should alternate rising and falling edges", func() {
		var edges []Edge
		clock.Subscribe(EdgeHandlerFunc(func(e Edge) error {
			edges = append(edges, e)
			return nil
		}), Either, PhaseActive)

		clock.Start()
		err := engine.Run()

		Expect(errors.Is(err, ErrCycleLimit)).To(BeTrue())
		Expect(edges).To(HaveLen(6))
		Expect(edges[0].Kind).To(Equal(Rising))
		Expect(edges[0].Cycle).To(Equal(uint64(1)))
		Expect(edges[1].Kind).To(Equal(Falling))
		Expect(edges[1].Cycle).To(Equal(uint64(1)))
		Expect(float64(edges[1].Time)).To(BeNumerically("~", 0.5e-9, 1e-15))
		Expect(float64(edges[2].Time)).To(BeNumerically("~", 1e-9, 1e-15))
		Expect(edges[5].Cycle).To(Equal(uint64(3)))
		Expect(clock.Running()).To(BeFalse())
	})

	It("should filter edges by kind", func() {
		handler := NewMockEdgeHandler(mockCtrl)
		handler.EXPECT().
			HandleEdge(gomock.Any()).
			DoAndReturn(func(e Edge) error {
				Expect(e.Kind).To(Equal(Falling))
				return nil
			}).
			Times(3)

		clock.Subscribe(handler, Falling, PhaseActive)
		clock.Start()

		_ = engine.Run()
	})

	It("should drive the clock signal", func() {
		var levels []bool
		clock.Subscribe(EdgeHandlerFunc(func(e Edge) error {
			levels = append(levels, clk.Value().IsHigh())
			return nil
		}), Either, PhaseActive)

		clock.Start()
		_ = engine.Run()

		Expect(levels[:4]).To(Equal([]bool{true, false, true, false}))
	})

	It("should show settled values in the read-only phase", func() {
		data := net.NewWire("data", 8)
		data.SetImmediate(signal.NewValue(8, 0))

		var seenActive, seenReadOnly []uint64

		clock.Subscribe(EdgeHandlerFunc(func(e Edge) error {
			v, _ := data.Value().Uint64()
			seenActive = append(seenActive, v)
			signal.Drive(data, e.Cycle)

			return nil
		}), Rising, PhaseActive)

		clock.Subscribe(EdgeHandlerFunc(func(e Edge) error {
			v, _ := data.Value().Uint64()
			seenReadOnly = append(seenReadOnly, v)

			return nil
		}), Rising, PhaseReadOnly)

		clock.Start()
		_ = engine.Run()

		Expect(seenActive).To(Equal([]uint64{0, 1, 2}))
		Expect(seenReadOnly).To(Equal([]uint64{1, 2, 3}))
	})

	It("should stop the run on handler errors", func() {
		failure := errors.New("protocol violation")
		handler := NewMockEdgeHandler(mockCtrl)
		handler.EXPECT().HandleEdge(gomock.Any()).Return(failure)

		clock.Subscribe(handler, Rising, PhaseReadOnly)
		clock.Start()

		Expect(engine.Run()).To(MatchError(failure))
	})

	It("should stop when asked", func() {
		count := 0
		clock.Subscribe(EdgeHandlerFunc(func(e Edge) error {
			count++
			if e.Cycle == 2 {
				clock.Stop()
			}

			return nil
		}), Rising, PhaseActive)

		clock.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(count).To(Equal(2))
		Expect(clock.Cycle()).To(Equal(uint64(2)))
	})

	It("should stop when the condition holds", func() {
		clock.StopWhen(func() bool { return clock.Cycle() >= 2 })
		clock.Start()

		Expect(engine.Run()).To(Succeed())
		Expect(clock.Cycle()).To(Equal(uint64(2)))
	})

	It("should resume at the next tick after a restart", func() {
		var edges []Edge
		clock.Subscribe(EdgeHandlerFunc(func(e Edge) error {
			edges = append(edges, e)
			return nil
		}), Rising, PhaseActive)

		stop := true
		clock.StopWhen(func() bool { return stop && clock.Cycle() == 2 })
		clock.Start()
		Expect(engine.Run()).To(Succeed())

		stop = false
		clock.Start()
		err := engine.Run()

		Expect(errors.Is(err, ErrCycleLimit)).To(BeTrue())
		Expect(edges).To(HaveLen(3))
		Expect(edges[2].Cycle).To(Equal(uint64(3)))
		Expect(float64(edges[2].Time)).
			To(BeNumerically("~", float64(edges[1].Time)+1e-9, 1e-15))
	})

	It("should not call cancelled handlers", func() {
		count := 0
		var sub *Subscription
		sub = clock.Subscribe(EdgeHandlerFunc(func(e Edge) error {
			count++
			sub.Cancel()

			return nil
		}), Either, PhaseActive)

		clock.Start()
		_ = engine.Run()

		Expect(count).To(Equal(1))
	})

	It("should invoke edge hooks", func() {
		var positions []*hooking.HookPos
		clock.AcceptHook(hooking.NewHookFunc(func(ctx hooking.HookCtx) {
			positions = append(positions, ctx.Pos)
		}))

		clock.StopWhen(func() bool { return true })
		clock.Start()
		_ = engine.Run()

		Expect(positions).To(Equal([]*hooking.HookPos{
			HookPosBeforeEdge, HookPosAfterEdge,
		}))
	})
})
