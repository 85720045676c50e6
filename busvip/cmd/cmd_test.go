package cmd

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("wishbone", func() {
	It("should write and read back through a classic bus", func() {
		out, err := execute("wishbone", "--ops", "2")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("0xa5a50001"))
		Expect(out).To(ContainSubstring("ack"))
	})

	It("should run a pipelined bus with stalls", func() {
		out, err := execute("wishbone", "--ops", "3", "--pipelined",
			"--stall", "true,false", "--ack-delay", "1", "--idle", "1")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("0xa5a50002"))
	})

	It("should refuse a stall pattern without stall signal", func() {
		_, err := execute("wishbone", "--stall", "true")

		Expect(err).To(HaveOccurred())
	})

	It("should refuse zero ops", func() {
		_, err := execute("wishbone", "--ops", "0")

		Expect(err).To(HaveOccurred())
	})

	It("should refuse a negative ack delay", func() {
		_, err := execute("wishbone", "--ack-delay=-1")

		Expect(err).To(MatchError(ContainSubstring("ack delay")))
	})
})

var _ = Describe("avalon", func() {
	It("should loop packets back", func() {
		out, err := execute("avalon", "--packets", "3", "--size", "5")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("0001020304"))
	})

	It("should loop packets back with channels and backpressure", func() {
		out, err := execute("avalon", "--packets", "4", "--size", "2",
			"--channel-width", "2", "--backpressure", "3", "--gap", "1",
			"--little-endian", "--data-width", "64")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("3031323334"))
	})

	It("should refuse a data width that is not made of bytes", func() {
		_, err := execute("avalon", "--data-width", "12")

		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("report", func() {
	It("should print a recording", func() {
		output := filepath.Join(GinkgoT().TempDir(), "rec")

		_, err := execute("wishbone", "--ops", "2", "--record",
			"--output", output)
		Expect(err).NotTo(HaveOccurred())

		out, err := execute("report", output+".sqlite3", "--limit", "1")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("wishbone_results: 4 rows"))
		Expect(out).To(ContainSubstring("trace: 1 rows"))
	})

	It("should filter the rows", func() {
		output := filepath.Join(GinkgoT().TempDir(), "rec")

		_, err := execute("avalon", "--packets", "2", "--record",
			"--output", output)
		Expect(err).NotTo(HaveOccurred())

		out, err := execute("report", output+".sqlite3",
			"--table", "avalon_packets", "--where", "Length > 7")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("avalon_packets: 1 rows"))
		Expect(out).NotTo(ContainSubstring("wishbone_results"))
	})

	It("should trace only the asked task kinds", func() {
		output := filepath.Join(GinkgoT().TempDir(), "rec")

		_, err := execute("avalon", "--packets", "2", "--record",
			"--output", output, "--trace", "wishbone_cycle")
		Expect(err).NotTo(HaveOccurred())

		out, err := execute("report", output+".sqlite3", "--table", "trace")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("trace: 0 rows"))
	})

	It("should need a recording", func() {
		_, err := execute("report")

		Expect(err).To(HaveOccurred())
	})
})
