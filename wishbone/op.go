package wishbone

import (
	"fmt"

	"github.com/sarchlab/busvip/signal"
)

// SelAll selects every byte lane, whatever the width of the sel signal.
const SelAll = ^uint64(0)

// Op is one bus operation of a cycle. Build it with Read or Write.
type Op struct {
	Adr   uint64
	Dat   uint64
	Write bool

	// Sel is the byte-select mask. SelAll drives all ones.
	Sel uint64

	// Idle is the number of clock cycles to wait before strobing.
	Idle int
}

// Read creates a read operation.
func Read(adr uint64) Op {
	return Op{Adr: adr, Sel: SelAll}
}

// Write creates a write operation.
func Write(adr, dat uint64) Op {
	return Op{Adr: adr, Dat: dat, Write: true, Sel: SelAll}
}

// WithSel returns a copy of the operation with the given byte-select mask.
func (o Op) WithSel(sel uint64) Op {
	o.Sel = sel
	return o
}

// WithIdle returns a copy of the operation that waits n cycles before it is
// strobed.
func (o Op) WithIdle(n int) Op {
	o.Idle = n
	return o
}

func (o Op) String() string {
	if o.Write {
		return fmt.Sprintf("write 0x%x <- 0x%x sel 0x%x idle %d",
			o.Adr, o.Dat, o.Sel, o.Idle)
	}

	return fmt.Sprintf("read 0x%x sel 0x%x idle %d", o.Adr, o.Sel, o.Idle)
}

// ReplyCode tells how the slave terminated an operation.
type ReplyCode int

// Reply codes, as reported by the master.
const (
	ReplyNone ReplyCode = iota
	ReplyAck
	ReplyErr
	ReplyRty
)

func (c ReplyCode) String() string {
	switch c {
	case ReplyNone:
		return "none"
	case ReplyAck:
		return "ack"
	case ReplyErr:
		return "err"
	case ReplyRty:
		return "rty"
	default:
		return fmt.Sprintf("ReplyCode(%d)", int(c))
	}
}

// Result is what happened on the bus for one operation.
type Result struct {
	Ack   ReplyCode
	Sel   uint64
	Adr   uint64
	DatRd signal.Value
	DatWr uint64
	Write bool

	// WaitIdle is the number of idle cycles inserted before the strobe.
	WaitIdle int

	// WaitStall is the number of cycles the slave stalled the operation.
	WaitStall int

	// WaitAck is the number of cycles from the accepted strobe to the reply.
	WaitAck int
}

// aux is what the master knows about an operation when its strobe is
// accepted.
type aux struct {
	sel       uint64
	adr       uint64
	datwr     uint64
	write     bool
	waitIdle  int
	waitStall int
	ts        int
}

// reply is what the master observed when the slave answered.
type reply struct {
	code  ReplyCode
	datrd signal.Value
	ts    int
}

func zip(replies []reply, auxes []aux) []Result {
	n := min(len(replies), len(auxes))
	results := make([]Result, 0, n)

	for i := 0; i < n; i++ {
		r, a := replies[i], auxes[i]
		results = append(results, Result{
			Ack:       r.code,
			Sel:       a.sel,
			Adr:       a.adr,
			DatRd:     r.datrd,
			DatWr:     a.datwr,
			Write:     a.write,
			WaitIdle:  a.waitIdle,
			WaitStall: a.waitStall,
			WaitAck:   r.ts - a.ts,
		})
	}

	return results
}
