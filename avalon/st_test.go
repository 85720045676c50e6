package avalon

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/sarchlab/busvip/bus"
	"github.com/sarchlab/busvip/signal"
)

var _ = Describe("STMonitor", func() {
	var tb *testbench

	BeforeEach(func() {
		tb = newTestbench(STProtocol, map[string]int{
			"valid": 1, "data": 16, "ready": 1,
		})
	})

	It("should report every accepted word", func() {
		m, err := MakeSTMonitorBuilder().WithClock(tb.clock).Build("st", tb.bus)
		Expect(err).NotTo(HaveOccurred())

		tb.play(
			map[string]uint64{"valid": 1, "data": 0x0102, "ready": 1},
			map[string]uint64{"valid": 1, "data": 0x0304, "ready": 0},
			map[string]uint64{"valid": 0, "data": 0x0506, "ready": 1},
			map[string]uint64{"valid": 1, "data": 0x0708, "ready": 1},
		)

		Expect(tb.run()).To(Succeed())
		Expect(m.Len()).To(Equal(2))
		Expect(m.At(0)).To(Equal([]byte{1, 2}))
		Expect(m.At(1)).To(Equal([]byte{7, 8}))
	})

	It("should put the first symbol in the low-order bits", func() {
		m, _ := MakeSTMonitorBuilder().
			WithFirstSymbolInHighOrderBits(false).
			WithClock(tb.clock).
			Build("st", tb.bus)

		tb.play(map[string]uint64{"valid": 1, "data": 0x0102, "ready": 1})

		Expect(tb.run()).To(Succeed())
		Expect(m.At(0)).To(Equal([]byte{2, 1}))
	})

	It("should pause while in reset", func() {
		rstN := tb.net.NewWire("rst_n", 1)
		rstN.SetImmediate(signal.NewValue(1, 0))
		tb.wires["rst_n"] = rstN

		m, _ := MakeSTMonitorBuilder().
			WithResetN(rstN).
			WithClock(tb.clock).
			Build("st", tb.bus)

		tb.play(
			map[string]uint64{"valid": 1, "data": 0x0102, "ready": 1},
			map[string]uint64{"valid": 1, "data": 0x0304, "rst_n": 1},
		)

		Expect(tb.run()).To(Succeed())
		Expect(m.Len()).To(Equal(1))
		Expect(m.At(0)).To(Equal([]byte{3, 4}))
	})

	It("should report unresolvable data", func() {
		_, _ = MakeSTMonitorBuilder().WithClock(tb.clock).Build("st", tb.bus)
		tb.wires["data"].SetImmediate(signal.Unknown(16))
		tb.play(map[string]uint64{"valid": 1, "ready": 1})

		err := tb.run()

		Expect(errors.Is(err, ErrUnresolvedData)).To(BeTrue())
		Expect(errors.Is(err, bus.ErrProtocol)).To(BeTrue())
	})
})
