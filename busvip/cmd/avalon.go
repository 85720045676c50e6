package cmd

import (
	"bytes"
	"fmt"
	"io"
	"math/bits"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sarchlab/busvip/avalon"
	"github.com/sarchlab/busvip/bus"
	"github.com/sarchlab/busvip/signal"
	"github.com/sarchlab/busvip/timing"
)

const avalonTable = "avalon_packets"

var avalonCmd = &cobra.Command{
	Use:   "avalon",
	Short: "Send packets through an Avalon-ST packet monitor.",
	Long: "`avalon --packets 4 --size 13 --data-width 32 --channel-width 2` " +
		"drives packets onto a packetized Avalon-ST bus, reassembles them " +
		"with a monitor and checks them.",
	Args: cobra.NoArgs,
	RunE: runAvalon,
}

func init() {
	rootCmd.AddCommand(avalonCmd)

	f := avalonCmd.Flags()
	f.Int("packets", 4, "Number of packets.")
	f.Int("size", 7, "Bytes of the first packet. Each next one is a byte longer.")
	f.Int("data-width", 32, "Width of the data signal, a multiple of 8.")
	f.Int("channel-width", 0, "Width of the channel signal, 0 for none.")
	f.Int("gap", 0, "Invalid cycles after each word.")
	f.Int("backpressure", 0, "Drop ready every n-th cycle, 0 for never.")
	f.Int("invalid-timeout", 0, "In-packet timeout of the monitor, 0 for none.")
	f.Bool("little-endian", false, "Put the first symbol in the low-order bits.")
}

type avalonConfig struct {
	packets, size, dataWidth, channelWidth int
	gap, backpressure, invalidTimeout      int
	littleEndian                           bool
}

func readAvalonConfig(cmd *cobra.Command) (avalonConfig, error) {
	f := cmd.Flags()

	var c avalonConfig
	c.packets, _ = f.GetInt("packets")
	c.size, _ = f.GetInt("size")
	c.dataWidth, _ = f.GetInt("data-width")
	c.channelWidth, _ = f.GetInt("channel-width")
	c.gap, _ = f.GetInt("gap")
	c.backpressure, _ = f.GetInt("backpressure")
	c.invalidTimeout, _ = f.GetInt("invalid-timeout")
	c.littleEndian, _ = f.GetBool("little-endian")

	switch {
	case c.packets <= 0 || c.size <= 0:
		return c, errors.New("packets and size must be positive")
	case c.dataWidth <= 0 || c.dataWidth%8 != 0:
		return c, errors.Errorf("data width %d is not a multiple of 8",
			c.dataWidth)
	case c.channelWidth < 0 || c.channelWidth > 64:
		return c, errors.Errorf("channel width %d is not in 0..64",
			c.channelWidth)
	}

	return c, nil
}

func (c avalonConfig) widths() map[string]int {
	w := map[string]int{
		"valid": 1, "data": c.dataWidth, "startofpacket": 1, "endofpacket": 1,
		"ready": 1, "channel": c.channelWidth,
	}

	if symbols := c.dataWidth / 8; symbols > 1 {
		w["empty"] = bits.Len(uint(symbols - 1))
	}

	return w
}

func (c avalonConfig) packet(i int) ([]byte, uint64) {
	data := make([]byte, c.size+i)
	for j := range data {
		data[j] = byte(i*16 + j)
	}

	var channel uint64
	if c.channelWidth > 0 {
		channel = uint64(i) % (1 << min(c.channelWidth, 16))
	}

	return data, channel
}

func runAvalon(cmd *cobra.Command, _ []string) error {
	c, err := readAvalonConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	sim, err := newSimulation(cmd, logger)
	if err != nil {
		return err
	}
	defer sim.Terminate()

	wires := bus.Declare(sim.Net(), "st", c.widths())

	st, err := bus.Bind(sim.Net(), "st", avalon.STPktsProtocol,
		bus.WithLogger(logger))
	if err != nil {
		return err
	}

	clk := sim.Clock()
	driveReady(clk, wires["ready"], c.backpressure)

	source, err := avalon.MakePktsSourceBuilder().
		WithGap(c.gap).
		WithFirstSymbolInHighOrderBits(!c.littleEndian).
		WithLogger(logger).
		WithClock(clk).
		Build("st_source", st)
	if err != nil {
		return err
	}

	mon, err := avalon.MakePktsMonitorBuilder().
		WithFirstSymbolInHighOrderBits(!c.littleEndian).
		WithReportChannel(c.channelWidth > 0).
		WithInvalidTimeout(c.invalidTimeout).
		WithLogger(logger).
		WithClock(clk).
		Build("st_monitor", st)
	if err != nil {
		return err
	}

	sim.RegisterAgent(source)
	sim.RegisterAgent(mon)

	if rec := sim.DataRecorder(); rec != nil {
		mon.AcceptHook(avalon.NewPacketRecorder(rec, avalonTable))
	}

	progress := newProgress(sim, "avalon packets", uint64(c.packets))

	var received []avalon.Packet

	mon.AddCallback(func(txn any) {
		switch t := txn.(type) {
		case avalon.Packet:
			received = append(received, t)
		case []byte:
			received = append(received, avalon.Packet{Data: t})
		}

		progress.finish(1)
	})

	clk.StopWhen(func() bool { return len(received) == c.packets })

	for i := 0; i < c.packets; i++ {
		data, channel := c.packet(i)
		if err := source.Send(data, channel); err != nil {
			return err
		}
	}

	if err := sim.Run(); err != nil {
		return err
	}

	printPackets(cmd.OutOrStdout(), received)

	return c.check(received)
}

// driveReady keeps ready high, except on every n-th cycle.
func driveReady(clk *timing.Clock, ready signal.Handle, n int) {
	signal.DriveImmediate(ready, 1)

	if n <= 0 {
		return
	}

	clk.Subscribe(timing.EdgeHandlerFunc(func(e timing.Edge) error {
		if e.Cycle%uint64(n) == 0 {
			signal.Drive(ready, 0)
		} else {
			signal.Drive(ready, 1)
		}

		return nil
	}), timing.Rising, timing.PhaseActive)
}

func (c avalonConfig) check(received []avalon.Packet) error {
	if len(received) != c.packets {
		return errors.Errorf("sent %d packets, received %d",
			c.packets, len(received))
	}

	for i, p := range received {
		data, channel := c.packet(i)

		if !bytes.Equal(p.Data, data) {
			return errors.Errorf("packet %d: got %x, want %x", i, p.Data, data)
		}

		if p.Channel != channel {
			return errors.Errorf("packet %d: channel %d, want %d",
				i, p.Channel, channel)
		}
	}

	return nil
}

func printPackets(w io.Writer, packets []avalon.Packet) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tCHANNEL\tBYTES\tDATA")

	for i, p := range packets {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%x\n", i, p.Channel, len(p.Data), p.Data)
	}

	tw.Flush()
}
