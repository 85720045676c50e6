package wishbone

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/sarchlab/busvip/bus"
	"github.com/sarchlab/busvip/signal"
	"github.com/sarchlab/busvip/timing"
	"github.com/sarchlab/busvip/tracing"
)

func withoutTiming(results []Result) []Result {
	stripped := make([]Result, len(results))
	for i, r := range results {
		r.WaitAck = 0
		r.WaitStall = 0
		r.WaitIdle = 0
		stripped[i] = r
	}

	return stripped
}

var _ = Describe("Builder", func() {
	It("should drive the idle values right away", func() {
		tb := newTestbench(classicWidths)

		_, err := MakeBuilder().Build("master", tb.bus)

		Expect(err).NotTo(HaveOccurred())
		for _, s := range []string{"cyc", "stb", "we", "adr", "datwr"} {
			v, err := tb.wires[s].Value().Uint64()
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(BeZero(), s)
		}
		Expect(tb.wires["sel"].Value().BinStr()).To(Equal("1111"))
	})

	It("should reject a negative timeout", func() {
		tb := newTestbench(classicWidths)

		_, err := MakeBuilder().WithTimeout(-1).Build("master", tb.bus)

		Expect(errors.Is(err, bus.ErrConfig)).To(BeTrue())
	})

	It("should reject addresses wider than 64 bits", func() {
		widths := map[string]int{
			"cyc": 1, "stb": 1, "we": 1, "adr": 65, "datwr": 32, "datrd": 32,
			"ack": 1,
		}
		tb := newTestbench(widths)

		_, err := MakeBuilder().Build("master", tb.bus)

		Expect(errors.Is(err, bus.ErrConfig)).To(BeTrue())
	})

	It("should tell the bus flavor", func() {
		classic := newTestbench(classicWidths)
		pipelined := newTestbench(pipelinedWidths)

		c, _ := MakeBuilder().Build("m", classic.bus)
		p, _ := MakeBuilder().Build("m", pipelined.bus)

		Expect(c.Pipelined()).To(BeFalse())
		Expect(p.Pipelined()).To(BeTrue())
	})
})

var _ = Describe("Master", func() {
	Context("usage faults", func() {
		var (
			tb     *testbench
			master *Master
			done   func([]Result, error)
		)

		BeforeEach(func() {
			tb = newTestbench(classicWidths)
			master, _ = MakeBuilder().Build("master", tb.bus)
			done = func([]Result, error) {}
		})

		DescribeTable("should reject malformed cycles",
			func(ops []Op) {
				err := master.SendCycle(ops, done)

				Expect(errors.Is(err, bus.ErrUsage)).To(BeTrue())
				Expect(master.Busy()).To(BeFalse())
			},
			Entry("no operations", []Op{}),
			Entry("negative idle", []Op{Read(0).WithIdle(-1)}),
			Entry("wide address", []Op{Read(0x100)}),
			Entry("wide data", []Op{Write(0, 0x1_0000_0000)}),
			Entry("wide select", []Op{Read(0).WithSel(0x10)}),
		)

		It("should reject a nil callback", func() {
			err := master.SendCycle([]Op{Read(0)}, nil)

			Expect(errors.Is(err, bus.ErrUsage)).To(BeTrue())
		})

		It("should ignore the data of reads", func() {
			op := Read(0)
			op.Dat = 0x1_0000_0000

			Expect(master.SendCycle([]Op{op}, done)).To(Succeed())
			Expect(master.Busy()).To(BeTrue())
		})
	})

	Context("on a classic bus", func() {
		var (
			tb     *testbench
			master *Master
			slave  *MemorySlave
		)

		BeforeEach(func() {
			var err error

			tb = newTestbench(classicWidths)
			master, err = MakeBuilder().
				WithTimeout(10).
				WithClock(tb.clock).
				Build("master", tb.bus)
			Expect(err).NotTo(HaveOccurred())

			slave, err = MakeSlaveBuilder().
				WithErrRange(0x80, 0x90).
				WithRtyRange(0x90, 0xa0).
				WithClock(tb.clock).
				Build("slave", tb.bus)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should write", func() {
			results, err := tb.run(master, []Op{Write(0x10, 0xAA)})

			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Ack).To(Equal(ReplyAck))
			Expect(results[0].Adr).To(Equal(uint64(0x10)))
			Expect(results[0].DatWr).To(Equal(uint64(0xAA)))
			Expect(results[0].Write).To(BeTrue())
			Expect(results[0].Sel).To(Equal(uint64(0xf)))
			Expect(results[0].WaitStall).To(BeZero())
			Expect(results[0].WaitAck).To(Equal(1))
			Expect(slave.Peek(0x10)).To(Equal(uint64(0xAA)))
		})

		It("should return one result per op in order", func() {
			ops := []Op{
				Write(0x01, 0x11),
				Write(0x02, 0x22),
				Read(0x01),
				Read(0x02),
			}

			results, err := tb.run(master, ops)

			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(len(ops)))
			for i, op := range ops {
				Expect(results[i].Adr).To(Equal(op.Adr))
				Expect(results[i].Write).To(Equal(op.Write))
				Expect(results[i].DatWr).To(Equal(op.Dat))
			}
			Expect(results[2].DatRd.Uint64()).To(Equal(uint64(0x11)))
			Expect(results[3].DatRd.Uint64()).To(Equal(uint64(0x22)))
			Expect(master.Stats().Ops).To(Equal(uint64(4)))
			Expect(master.Stats().Acks).To(Equal(uint64(4)))
		})

		It("should return the same result for the same read", func() {
			slave.Poke(0x20, 0xdead)

			first, err := tb.run(master, []Op{Read(0x20)})
			Expect(err).NotTo(HaveOccurred())

			second, err := tb.run(master, []Op{Read(0x20).WithIdle(3)})
			Expect(err).NotTo(HaveOccurred())

			Expect(withoutTiming(second)).To(Equal(withoutTiming(first)))
			Expect(second[0].WaitIdle).To(Equal(3))
		})

		It("should raise the strobe with cyc when no idle is asked", func() {
			cyc := tb.probe("cyc")
			stb := tb.probe("stb")

			_, err := tb.run(master, []Op{Read(0)})

			Expect(err).NotTo(HaveOccurred())
			Expect((*cyc)[0]).To(Equal(uint64(1)))
			Expect((*stb)[0]).To(Equal(uint64(1)))
		})

		It("should insert idle cycles before the strobe", func() {
			cyc := tb.probe("cyc")
			stb := tb.probe("stb")

			results, err := tb.run(master, []Op{Read(0).WithIdle(2)})

			Expect(err).NotTo(HaveOccurred())
			Expect((*cyc)[:3]).To(Equal([]uint64{1, 1, 1}))
			Expect((*stb)[:3]).To(Equal([]uint64{0, 0, 1}))
			Expect(results[0].WaitIdle).To(Equal(2))
		})

		It("should keep the strobe up between back-to-back ops", func() {
			stb := tb.probe("stb")

			_, err := tb.run(master, []Op{Read(1), Read(2)})

			Expect(err).NotTo(HaveOccurred())
			Expect((*stb)[:4]).To(Equal([]uint64{1, 1, 1, 1}))
		})

		It("should report err and rty replies", func() {
			results, err := tb.run(master, []Op{Read(0x81), Read(0x91), Read(1)})

			Expect(err).NotTo(HaveOccurred())
			Expect(results[0].Ack).To(Equal(ReplyErr))
			Expect(results[1].Ack).To(Equal(ReplyRty))
			Expect(results[2].Ack).To(Equal(ReplyAck))
			Expect(master.Stats().Errs).To(Equal(uint64(1)))
			Expect(master.Stats().Rtys).To(Equal(uint64(1)))
		})

		It("should merge the selected bytes on write", func() {
			slave.Poke(4, 0x11223344)

			_, err := tb.run(master, []Op{Write(4, 0xaabbccdd).WithSel(0x5)})

			Expect(err).NotTo(HaveOccurred())
			Expect(slave.Peek(4)).To(Equal(uint64(0x11bb33dd)))
		})

		It("should run queued cycles one after the other", func() {
			var order []uint64

			Expect(master.SendCycle([]Op{Write(1, 1)}, func(r []Result, _ error) {
				order = append(order, r[0].Adr)
			})).To(Succeed())

			results, err := tb.run(master, []Op{Write(2, 2)})

			Expect(err).NotTo(HaveOccurred())
			Expect(order).To(Equal([]uint64{1}))
			Expect(results[0].Adr).To(Equal(uint64(2)))
			Expect(master.Stats().Cycles).To(Equal(uint64(2)))
			Expect(master.Busy()).To(BeFalse())
		})

		It("should accept cycles sent from the completion callback", func() {
			var second []Result

			Expect(master.SendCycle([]Op{Write(1, 1)}, func([]Result, error) {
				Expect(master.SendCycle([]Op{Read(1)},
					func(r []Result, _ error) { second = r })).To(Succeed())
			})).To(Succeed())

			tb.clock.StopWhen(func() bool { return second != nil })
			tb.clock.Start()

			Expect(tb.engine.Run()).To(Succeed())
			Expect(second[0].DatRd.Uint64()).To(Equal(uint64(1)))
		})

		It("should trace cycles", func() {
			tracer := tracing.NewTotalTimeTracer(tb.engine,
				func(t tracing.Task) bool { return t.Kind == "wishbone_cycle" })
			tracing.CollectTrace(master, tracer)

			_, err := tb.run(master, []Op{Write(1, 1), Read(1)})

			Expect(err).NotTo(HaveOccurred())
			Expect(tracer.Count()).To(Equal(1))
			Expect(tracer.TotalTime()).To(BeNumerically(">", 0))
		})
	})

	Context("on a classic bus without slave", func() {
		var (
			tb     *testbench
			master *Master
		)

		BeforeEach(func() {
			tb = newTestbench(classicWidths)
			master, _ = MakeBuilder().
				WithTimeout(3).
				WithClock(tb.clock).
				Build("master", tb.bus)
		})

		It("should time out waiting for the reply", func() {
			_, err := tb.run(master, []Op{Read(0)})

			Expect(errors.Is(err, ErrAckTimeout)).To(BeTrue())
			Expect(errors.Is(err, bus.ErrTimeout)).To(BeTrue())
			Expect(tb.clock.Cycle()).To(Equal(uint64(5)))
			Expect(master.Busy()).To(BeFalse())

			tb.net.Commit()
			Expect(tb.wires["cyc"].Value().IsHigh()).To(BeFalse())
			Expect(tb.wires["stb"].Value().IsHigh()).To(BeFalse())
		})

		DescribeTable("should fail on simultaneous replies",
			func(first, second string) {
				tb.wires[first].SetImmediate(signal.NewValue(1, 1))
				tb.wires[second].SetImmediate(signal.NewValue(1, 1))

				_, err := tb.run(master, []Op{Read(0)})

				Expect(errors.Is(err, ErrReplyAmbiguous)).To(BeTrue())
				Expect(errors.Is(err, bus.ErrProtocol)).To(BeTrue())
			},
			Entry("ack and err", "ack", "err"),
			Entry("ack and rty", "ack", "rty"),
			Entry("err and rty", "err", "rty"),
		)
	})

	Context("on a pipelined bus", func() {
		var (
			tb     *testbench
			master *Master
		)

		BeforeEach(func() {
			tb = newTestbench(pipelinedWidths)
			master, _ = MakeBuilder().
				WithTimeout(5).
				WithClock(tb.clock).
				Build("master", tb.bus)
		})

		It("should issue one op per cycle", func() {
			_, err := MakeSlaveBuilder().
				WithClock(tb.clock).
				Build("slave", tb.bus)
			Expect(err).NotTo(HaveOccurred())

			ops := []Op{Write(1, 0x11), Write(2, 0x22), Read(1), Read(2)}
			results, err := tb.run(master, ops)

			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(4))
			for _, r := range results {
				Expect(r.Ack).To(Equal(ReplyAck))
				Expect(r.WaitAck).To(Equal(1))
				Expect(r.WaitStall).To(BeZero())
			}
			Expect(results[2].DatRd.Uint64()).To(Equal(uint64(0x11)))
			Expect(results[3].DatRd.Uint64()).To(Equal(uint64(0x22)))
			Expect(tb.clock.Cycle()).To(Equal(uint64(7)))
		})

		It("should count stalled cycles", func() {
			_, err := MakeSlaveBuilder().
				WithStallPattern(true, true, true, false).
				WithClock(tb.clock).
				Build("slave", tb.bus)
			Expect(err).NotTo(HaveOccurred())

			results, err := tb.run(master, []Op{Read(0)})

			Expect(err).NotTo(HaveOccurred())
			Expect(results[0].WaitStall).To(Equal(2))
			Expect(results[0].WaitAck).To(Equal(1))
			Expect(master.Stats().StallCycles).To(Equal(uint64(2)))
		})

		It("should time out on a stall held too long", func() {
			tb.wires["stall"].SetImmediate(signal.NewValue(1, 1))

			_, err := tb.run(master, []Op{Write(0, 1)})

			Expect(errors.Is(err, ErrStallTimeout)).To(BeTrue())
			Expect(errors.Is(err, bus.ErrTimeout)).To(BeTrue())
			Expect(tb.clock.Cycle()).To(Equal(uint64(7)))
		})

		It("should time out waiting for outstanding replies", func() {
			tb.wires["stall"].SetImmediate(signal.NewValue(1, 0))

			_, err := tb.run(master, []Op{Read(0)})

			Expect(errors.Is(err, ErrAckTimeout)).To(BeTrue())
			Expect(tb.clock.Cycle()).To(Equal(uint64(7)))
		})
	})

	It("should ignore falling edges", func() {
		tb := newTestbench(classicWidths)
		master, _ := MakeBuilder().Build("master", tb.bus)
		Expect(master.SendCycle([]Op{Read(0)},
			func([]Result, error) {})).To(Succeed())

		Expect(master.HandleEdge(timing.Edge{Kind: timing.Falling})).
			To(Succeed())
		tb.net.Commit()

		Expect(tb.wires["cyc"].Value().IsHigh()).To(BeFalse())
	})
})
