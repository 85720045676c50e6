package signal

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Net", func() {
	var net *Net

	BeforeEach(func() {
		net = NewNet("dut")
	})

	It("should start wires unresolved", func() {
		w := net.NewWire("data", 8)

		Expect(w.Value().IsResolvable()).To(BeFalse())
		Expect(w.Name()).To(Equal("dut.data"))
	})

	It("should defer assignments until commit", func() {
		w := net.NewWire("data", 8)

		w.SetUint(3)
		Expect(w.Value().IsResolvable()).To(BeFalse())

		Expect(net.Commit()).To(Equal(1))
		Expect(w.Value().Equal(NewValue(8, 3))).To(BeTrue())
	})

	It("should let the last assignment win", func() {
		w := net.NewWire("data", 8)

		w.SetUint(3)
		w.SetUint(4)
		net.Commit()

		Expect(w.Value().Equal(NewValue(8, 4))).To(BeTrue())
	})

	It("should not count unchanged wires", func() {
		w := net.NewWire("data", 8)
		w.SetImmediate(NewValue(8, 7))

		w.SetUint(7)

		Expect(net.Commit()).To(Equal(0))
	})

	It("should apply immediate assignments right away", func() {
		w := net.NewWire("data", 8)

		DriveImmediate(w, 9)

		Expect(w.Value().Equal(NewValue(8, 9))).To(BeTrue())
	})

	It("should look up signals by local name", func() {
		w := net.NewWire("valid", 1)

		h, found := net.Signal("valid")
		Expect(found).To(BeTrue())
		Expect(h).To(BeIdenticalTo(w))

		_, found = net.Signal("ready")
		Expect(found).To(BeFalse())
	})

	It("should list wire names sorted", func() {
		net.NewWire("b", 1)
		net.NewWire("a", 1)

		Expect(net.WireNames()).To(Equal([]string{"a", "b"}))
	})

	It("should panic on duplicated wires", func() {
		net.NewWire("a", 1)

		Expect(func() { net.NewWire("a", 1) }).To(Panic())
	})

	It("should panic on width mismatch", func() {
		w := net.NewWire("a", 4)

		Expect(func() { w.Set(NewValue(8, 0)) }).To(Panic())
	})

	It("should treat nil and unresolved handles as low", func() {
		w := net.NewWire("a", 1)

		Expect(IsHigh(nil)).To(BeFalse())
		Expect(IsHigh(w)).To(BeFalse())

		w.SetImmediate(NewValue(1, 1))
		Expect(IsHigh(w)).To(BeTrue())
	})
})
