// Package avalon watches and drives Intel Avalon streaming buses.
//
// PktsMonitor reassembles packets from a packetized Avalon-ST bus, STMonitor
// reports every word of a plain Avalon-ST bus, and PktsSource drives packets
// onto a packetized bus. Monitors sample the settled bus values of each rising
// clock edge.
package avalon

import "github.com/sarchlab/busvip/bus"

// MMProtocol lists the signals of an Avalon memory-mapped bus.
var MMProtocol = bus.Protocol{
	Name:    "avalon_mm",
	Signals: []string{"address"},
	OptionalSignals: []string{
		"read", "readdata", "readdatavalid", "write", "writedata",
		"waitrequest", "burstcount", "byteenable", "cs",
	},
}

// STProtocol lists the signals of an Avalon-ST bus.
var STProtocol = bus.Protocol{
	Name:            "avalon_st",
	Signals:         []string{"valid", "data"},
	OptionalSignals: []string{"ready"},
}

// STPktsProtocol lists the signals of a packetized Avalon-ST bus.
var STPktsProtocol = bus.Protocol{
	Name:            "avalon_st_pkts",
	Signals:         []string{"valid", "data", "startofpacket", "endofpacket"},
	OptionalSignals: []string{"error", "channel", "ready", "empty"},
}
