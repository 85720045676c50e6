package avalon

import (
	"encoding/hex"
	"fmt"

	"github.com/sarchlab/busvip/datarecording"
	"github.com/sarchlab/busvip/monitor"
	"github.com/sarchlab/busvip/timing"
)

// PacketEntry is a row of the packet table.
type PacketEntry struct {
	Monitor string
	Cycle   uint64
	Time    float64
	Length  int
	Channel string
	Data    string
}

// NewPacketRecorder creates the table and returns a hook that stores every
// packet or word a monitor receives. The data is stored as hex.
func NewPacketRecorder(
	recorder datarecording.DataRecorder,
	table string,
) *monitor.Recorder {
	return monitor.NewRecorder(recorder, table, PacketEntry{}, packetEntry)
}

func packetEntry(e timing.Edge, name string, txn any) (any, bool) {
	entry := PacketEntry{
		Monitor: name,
		Cycle:   e.Cycle,
		Time:    float64(e.Time),
	}

	var data []byte

	switch t := txn.(type) {
	case []byte:
		data = t
	case Packet:
		data = t.Data
		entry.Channel = fmt.Sprintf("0x%x", t.Channel)
	default:
		return nil, false
	}

	entry.Length = len(data)
	entry.Data = hex.EncodeToString(data)

	return entry, true
}
