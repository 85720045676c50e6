package wishbone

import (
	"fmt"

	"github.com/sarchlab/busvip/datarecording"
	"github.com/sarchlab/busvip/hooking"
	"github.com/sarchlab/busvip/timing"
)

// ResultEntry is a row of the result table. Bus words are stored as hex
// strings since SQLite integers are signed.
type ResultEntry struct {
	Master    string
	Cycle     uint64
	Time      float64
	OpIndex   int
	Reply     string
	Write     bool
	Adr       string
	Sel       string
	DatWr     string
	DatRd     string
	WaitIdle  int
	WaitStall int
	WaitAck   int
}

// ResultRecorder is a hook that stores the results of completed cycles.
type ResultRecorder struct {
	recorder datarecording.DataRecorder
	table    string
}

// NewResultRecorder creates the table and returns a hook that fills it.
func NewResultRecorder(
	recorder datarecording.DataRecorder,
	table string,
) *ResultRecorder {
	recorder.CreateTable(table, ResultEntry{})

	return &ResultRecorder{recorder: recorder, table: table}
}

// Func records the results of a HookPosCycleDone invocation.
func (r *ResultRecorder) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosCycleDone {
		return
	}

	results, ok := ctx.Item.([]Result)
	if !ok {
		panic(fmt.Sprintf("cannot record %T as wishbone results", ctx.Item))
	}

	edge, _ := ctx.Detail.(timing.Edge)

	name := ""
	if n, ok := ctx.Domain.(timing.Named); ok {
		name = n.Name()
	}

	for i, res := range results {
		r.recorder.InsertData(r.table, ResultEntry{
			Master:    name,
			Cycle:     edge.Cycle,
			Time:      float64(edge.Time),
			OpIndex:   i,
			Reply:     res.Ack.String(),
			Write:     res.Write,
			Adr:       fmt.Sprintf("0x%x", res.Adr),
			Sel:       fmt.Sprintf("0x%x", res.Sel),
			DatWr:     fmt.Sprintf("0x%x", res.DatWr),
			DatRd:     res.DatRd.String(),
			WaitIdle:  res.WaitIdle,
			WaitStall: res.WaitStall,
			WaitAck:   res.WaitAck,
		})
	}
}
