package monitor

import (
	"github.com/sarchlab/busvip/datarecording"
	"github.com/sarchlab/busvip/hooking"
	"github.com/sarchlab/busvip/timing"
)

// EntryFunc converts a received transaction into a flat table entry. Returning
// false skips the transaction.
type EntryFunc func(e timing.Edge, monitor string, txn any) (any, bool)

// A Recorder is a hook that writes received transactions into a table.
type Recorder struct {
	recorder datarecording.DataRecorder
	table    string
	toEntry  EntryFunc
}

// NewRecorder creates the table and returns a hook filling it. The sample
// entry defines the columns.
func NewRecorder(
	recorder datarecording.DataRecorder,
	table string,
	sampleEntry any,
	toEntry EntryFunc,
) *Recorder {
	recorder.CreateTable(table, sampleEntry)

	return &Recorder{
		recorder: recorder,
		table:    table,
		toEntry:  toEntry,
	}
}

// Func records the transaction of a HookPosRecv invocation.
func (r *Recorder) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosRecv {
		return
	}

	edge, _ := ctx.Detail.(timing.Edge)

	name := ""
	if n, ok := ctx.Domain.(timing.Named); ok {
		name = n.Name()
	}

	entry, ok := r.toEntry(edge, name, ctx.Item)
	if !ok {
		return
	}

	r.recorder.InsertData(r.table, entry)
}
