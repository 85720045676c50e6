package tracing

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/busvip/timing"
)

var _ = Describe("TotalTimeTracer", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		tracer     *TotalTimeTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)
		tracer = NewTotalTimeTracer(timeTeller, func(t Task) bool {
			return t.Kind == "wishbone_cycle"
		})
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should sum the time of filtered tasks", func() {
		timeTeller.EXPECT().CurrentTime().Return(timing.VTimeInSec(1))
		tracer.StartTask(Task{ID: "1", Kind: "wishbone_cycle"})

		timeTeller.EXPECT().CurrentTime().Return(timing.VTimeInSec(2))
		tracer.StartTask(Task{ID: "2", Kind: "other"})

		timeTeller.EXPECT().CurrentTime().Return(timing.VTimeInSec(4))
		tracer.EndTask(Task{ID: "1"})

		timeTeller.EXPECT().CurrentTime().Return(timing.VTimeInSec(5))
		tracer.EndTask(Task{ID: "2"})

		Expect(tracer.TotalTime()).To(Equal(timing.VTimeInSec(3)))
		Expect(tracer.Count()).To(Equal(1))
	})
})

var _ = Describe("CSVTraceWriter", func() {
	It("should write a header and the tasks", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")

		w := NewCSVTraceWriter(path)
		w.Init()
		w.Write(Task{ID: "1", Kind: "wishbone_cycle", What: "write",
			Where: "wb", StartTime: 1e-9, EndTime: 4e-9})
		w.Close()

		content, err := os.ReadFile(path + ".csv")
		Expect(err).NotTo(HaveOccurred())

		lines := strings.Split(strings.TrimSpace(string(content)), "\n")
		Expect(lines).To(HaveLen(2))
		Expect(lines[0]).To(HavePrefix("ID, ParentID"))
		Expect(lines[1]).To(HavePrefix("1, , wishbone_cycle, write, wb"))
	})

	It("should refuse to overwrite an existing file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")
		Expect(os.WriteFile(path+".csv", nil, 0o644)).To(Succeed())

		w := NewCSVTraceWriter(path)

		Expect(w.Init).To(Panic())
	})
})
