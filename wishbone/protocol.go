// Package wishbone drives and answers Wishbone B4 bus cycles, classic and
// pipelined.
//
// A Master owns a bus, accepts cycles of operations through SendCycle and
// advances one step per rising clock edge. Each completed cycle yields one
// Result per operation, in issue order. A bus with a stall signal is driven
// the pipelined way; without it, every operation waits for its reply before
// the next one is issued.
package wishbone

import "github.com/sarchlab/busvip/bus"

// Protocol lists the Wishbone signals, as seen from the master.
var Protocol = bus.Protocol{
	Name:            "wishbone",
	Signals:         []string{"cyc", "stb", "we", "adr", "datwr", "datrd", "ack"},
	OptionalSignals: []string{"sel", "err", "stall", "rty"},
}
