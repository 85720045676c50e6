package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sarchlab/busvip/bus"
	"github.com/sarchlab/busvip/wishbone"
)

const wishboneTable = "wishbone_results"

var wishboneCmd = &cobra.Command{
	Use:   "wishbone",
	Short: "Run writes then reads through a Wishbone master.",
	Long: "`wishbone --ops 8 --pipelined --stall 1,1,0` writes a pattern " +
		"into a memory slave with a single cycle, reads it back and checks " +
		"the read data.",
	Args: cobra.NoArgs,
	RunE: runWishbone,
}

func init() {
	rootCmd.AddCommand(wishboneCmd)

	f := wishboneCmd.Flags()
	f.Int("ops", 4, "Number of writes, each followed by a read.")
	f.Bool("pipelined", false, "Add a stall signal to the bus.")
	f.BoolSlice("stall", nil, "Stall pattern of the slave, one entry per cycle.")
	f.Int("ack-delay", 0, "Extra cycles before the slave replies.")
	f.Int("timeout", 100, "Stall and ack timeout of the master, 0 for none.")
	f.Int("idle", 0, "Idle cycles before each operation.")
}

func runWishbone(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	n, _ := f.GetInt("ops")
	pipelined, _ := f.GetBool("pipelined")
	stall, _ := f.GetBoolSlice("stall")
	ackDelay, _ := f.GetInt("ack-delay")
	timeout, _ := f.GetInt("timeout")
	idle, _ := f.GetInt("idle")

	if n <= 0 {
		return errors.Errorf("need at least one op, got %d", n)
	}

	if ackDelay < 0 {
		return errors.Errorf("ack delay cannot be negative, got %d", ackDelay)
	}

	sim, err := newSimulation(cmd, logger)
	if err != nil {
		return err
	}
	defer sim.Terminate()

	widths := map[string]int{
		"cyc": 1, "stb": 1, "we": 1, "adr": 32, "datwr": 32, "datrd": 32,
		"ack": 1, "sel": 4, "err": 1, "rty": 1,
	}
	if pipelined {
		widths["stall"] = 1
	}

	bus.Declare(sim.Net(), "wb", widths)

	wb, err := bus.Bind(sim.Net(), "wb", wishbone.Protocol,
		bus.WithLogger(logger))
	if err != nil {
		return err
	}

	clk := sim.Clock()

	master, err := wishbone.MakeBuilder().
		WithTimeout(timeout).
		WithLogger(logger).
		WithClock(clk).
		Build("wb_master", wb)
	if err != nil {
		return err
	}

	slave, err := wishbone.MakeSlaveBuilder().
		WithAckDelay(uint64(ackDelay)).
		WithStallPattern(stall...).
		WithLogger(logger).
		WithClock(clk).
		Build("wb_slave", wb)
	if err != nil {
		return err
	}

	sim.RegisterAgent(master)
	sim.RegisterAgent(slave)

	if rec := sim.DataRecorder(); rec != nil {
		master.AcceptHook(wishbone.NewResultRecorder(rec, wishboneTable))
	}

	ops := writeReadOps(n, idle)
	progress := newProgress(sim, "wishbone ops", uint64(len(ops)))

	var (
		results  []wishbone.Result
		cycleErr error
		done     bool
	)

	clk.StopWhen(func() bool { return done })

	err = master.SendCycle(ops, func(r []wishbone.Result, err error) {
		results, cycleErr, done = r, err, true
		progress.finish(uint64(len(r)))
	})
	if err != nil {
		return err
	}

	if err := sim.Run(); err != nil {
		return err
	}

	if cycleErr != nil {
		return cycleErr
	}

	printResults(cmd.OutOrStdout(), results)

	return checkReadBack(ops, results)
}

func writeReadOps(n, idle int) []wishbone.Op {
	ops := make([]wishbone.Op, 0, 2*n)

	for i := 0; i < n; i++ {
		adr := uint64(i * 4)
		dat := uint64(0xa5a50000 + i)

		ops = append(ops,
			wishbone.Write(adr, dat).WithIdle(idle),
			wishbone.Read(adr).WithIdle(idle))
	}

	return ops
}

func checkReadBack(ops []wishbone.Op, results []wishbone.Result) error {
	if len(results) != len(ops) {
		return errors.Errorf("%d ops, %d results", len(ops), len(results))
	}

	for i := 1; i < len(ops); i += 2 {
		got, err := results[i].DatRd.Uint64()
		if err != nil {
			return errors.Wrapf(err, "read %d", i)
		}

		if want := ops[i-1].Dat; got != want {
			return errors.Errorf("read 0x%x at 0x%x, want 0x%x",
				got, ops[i].Adr, want)
		}
	}

	return nil
}

func printResults(w io.Writer, results []wishbone.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tOP\tADR\tDATA\tREPLY\tIDLE\tSTALL\tACK")

	for i, r := range results {
		op, data := "R", r.DatRd.String()
		if r.Write {
			op, data = "W", fmt.Sprintf("0x%x", r.DatWr)
		}

		fmt.Fprintf(tw, "%d\t%s\t0x%x\t%s\t%s\t%d\t%d\t%d\n",
			i, op, r.Adr, data, r.Ack, r.WaitIdle, r.WaitStall, r.WaitAck)
	}

	tw.Flush()
}
