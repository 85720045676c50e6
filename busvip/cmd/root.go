// Package cmd provides the command-line interface of busvip.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/busvip/simulation"
	"github.com/sarchlab/busvip/timing"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "busvip",
	Short: "busvip runs Wishbone and Avalon-ST loopback testbenches.",
	Long: `busvip drives a bus adapter against a responder on an in-memory ` +
		`net, checks the transactions and prints them. Settings come from ` +
		`BUSVIP_* variables, a .env file, and the flags, in increasing ` +
		`priority.`,
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("env", ".env", "The .env file to load.")
	f.Float64("freq-mhz", 100, "The clock frequency in MHz.")
	f.Uint64("max-cycles", 100000, "Stop after this many cycles, 0 for never.")
	f.Bool("monitor", false, "Serve the monitoring page while running.")
	f.Int("monitor-port", 0, "The port of the monitoring server.")
	f.Bool("open-browser", false, "Open the monitoring page in a browser.")
	f.Bool("record", false, "Record traces and transactions into SQLite.")
	f.String("output", "", "The recording file name, without extension.")
	f.StringSlice("trace", nil,
		"Only record trace tasks of these kinds, such as wishbone_cycle.")
	f.String("log-level", "warn", "One of debug, info, warn and error.")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	name, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", name)
	}

	return slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: level})), nil
}

// newSimulation builds the simulation from the environment, overridden by the
// flags the user set.
func newSimulation(
	cmd *cobra.Command,
	logger *slog.Logger,
) (*simulation.Simulation, error) {
	f := cmd.Flags()
	envFile, _ := f.GetString("env")

	b, err := simulation.MakeBuilder().WithoutMonitoring().WithEnv(envFile)
	if err != nil {
		return nil, err
	}

	b = b.WithLogger(logger)

	if f.Changed("freq-mhz") {
		mhz, _ := f.GetFloat64("freq-mhz")
		b = b.WithFreq(timing.Freq(mhz) * timing.MHz)
	}

	if f.Changed("max-cycles") || os.Getenv(simulation.EnvMaxCycles) == "" {
		n, _ := f.GetUint64("max-cycles")
		b = b.WithMaxCycles(n)
	}

	if on, _ := f.GetBool("monitor"); on {
		b = b.WithMonitoring()
	}

	if port, _ := f.GetInt("monitor-port"); f.Changed("monitor-port") {
		b = b.WithMonitoring().WithMonitorPort(port)
	}

	if on, _ := f.GetBool("open-browser"); on {
		b = b.WithMonitoring().WithBrowser()
	}

	if on, _ := f.GetBool("record"); on {
		b = b.WithRecording()
	}

	if kinds, _ := f.GetStringSlice("trace"); len(kinds) > 0 {
		b = b.WithTraceKinds(kinds...)
	}

	if f.Changed("output") {
		output, _ := f.GetString("output")
		b = b.WithOutputFileName(output)
	}

	return b.Build()
}
