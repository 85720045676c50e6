package simulation

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/sarchlab/busvip/datarecording"
	"github.com/sarchlab/busvip/monitoring"
	"github.com/sarchlab/busvip/signal"
	"github.com/sarchlab/busvip/timing"
	"github.com/sarchlab/busvip/tracing"
)

// Environment variables read by WithEnv.
const (
	EnvFreqMHz     = "BUSVIP_FREQ_MHZ"
	EnvMaxCycles   = "BUSVIP_MAX_CYCLES"
	EnvMonitorPort = "BUSVIP_MONITOR_PORT"
	EnvRecord      = "BUSVIP_RECORD"
	EnvOutput      = "BUSVIP_OUTPUT"
)

// Builder can be used to build a simulation.
type Builder struct {
	freq           timing.Freq
	maxCycles      uint64
	monitorOn      bool
	monitorPort    int
	openBrowser    bool
	recordOn       bool
	outputFileName string
	traceKinds     []string
	logger         *slog.Logger
}

// MakeBuilder creates a new builder with a 100 MHz clock, monitoring on and
// recording off.
func MakeBuilder() Builder {
	return Builder{
		freq:      100 * timing.MHz,
		monitorOn: true,
	}
}

// WithFreq sets the frequency of the testbench clock.
func (b Builder) WithFreq(f timing.Freq) Builder {
	b.freq = f
	return b
}

// WithMaxCycles bounds the number of clock cycles. Zero runs unbounded.
func (b Builder) WithMaxCycles(n uint64) Builder {
	b.maxCycles = n
	return b
}

// WithoutMonitoring sets the simulation to not use monitoring.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitoring turns the monitoring server on.
func (b Builder) WithMonitoring() Builder {
	b.monitorOn = true
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithBrowser opens the monitoring page once the server started.
func (b Builder) WithBrowser() Builder {
	b.openBrowser = true
	return b
}

// WithRecording stores traces and the hooked transactions into an SQLite
// file.
func (b Builder) WithRecording() Builder {
	b.recordOn = true
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithTraceKinds restricts the recorded trace to tasks of the given kinds,
// such as "wishbone_cycle" or "avalon_packet".
func (b Builder) WithTraceKinds(kinds ...string) Builder {
	b.traceKinds = kinds
	return b
}

// WithLogger sets the logger handed to the engine event logger.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

// WithEnv loads the given .env files, if they exist, and applies the BUSVIP_*
// variables of the environment. Variables already set in the environment win
// over the files.
func (b Builder) WithEnv(files ...string) (Builder, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}

		if err := godotenv.Load(f); err != nil {
			return b, errors.Wrapf(err, "cannot load %s", f)
		}
	}

	if v, ok := os.LookupEnv(EnvFreqMHz); ok {
		mhz, err := strconv.ParseFloat(v, 64)
		if err != nil || mhz <= 0 {
			return b, errors.Errorf("%s: invalid frequency %q", EnvFreqMHz, v)
		}

		b.freq = timing.Freq(mhz) * timing.MHz
	}

	if v, ok := os.LookupEnv(EnvMaxCycles); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return b, errors.Wrapf(err, "%s", EnvMaxCycles)
		}

		b.maxCycles = n
	}

	if v, ok := os.LookupEnv(EnvMonitorPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return b, errors.Wrapf(err, "%s", EnvMonitorPort)
		}

		b.monitorOn = port >= 0
		b.monitorPort = max(port, 0)
	}

	if v, ok := os.LookupEnv(EnvRecord); ok {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return b, errors.Wrapf(err, "%s", EnvRecord)
		}

		b.recordOn = on
	}

	if v, ok := os.LookupEnv(EnvOutput); ok {
		b.outputFileName = v
	}

	return b, nil
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && b.monitorPort != 0 {
		panic("monitor port cannot be set when monitoring is disabled")
	}

	if b.freq <= 0 {
		panic("clock frequency must be positive")
	}
}

// Build builds the simulation: an engine, a net, the testbench clock and the
// optional recorder, tracer and monitoring server.
func (b Builder) Build() (*Simulation, error) {
	b.parametersMustBeValid()

	s := &Simulation{
		id:         xid.New().String(),
		agentIndex: make(map[string]int),
		engine:     timing.NewSerialEngine(),
	}

	s.net = signal.NewNet("tb")
	s.clock = timing.MakeClockBuilder().
		WithEngine(s.engine).
		WithFreq(b.freq).
		WithCommitter(s.net).
		WithSignal(s.net.NewWire("clk", 1)).
		WithMaxCycles(b.maxCycles).
		Build("clk")

	if b.logger != nil {
		s.engine.AcceptHook(timing.NewEventLogger(b.logger))
	}

	if b.recordOn {
		outputPath := b.outputFileName
		if outputPath == "" {
			outputPath = "busvip_sim_" + s.id
		}

		s.outputPath = outputPath + ".sqlite3"
		s.dataRecorder = datarecording.New(outputPath)
		s.tracer = tracing.NewDBTracer(s.engine,
			tracing.NewRecorderTraceWriter(s.dataRecorder))
		s.traceKinds = b.traceKinds
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor()
		if b.logger != nil {
			s.monitor.WithLogger(b.logger)
		}

		if b.monitorPort > 0 {
			s.monitor.WithPortNumber(b.monitorPort)
		}

		s.monitor.RegisterEngine(s.engine)
		s.monitor.RegisterClock(s.clock)

		url, err := s.monitor.StartServer()
		if err != nil {
			return nil, err
		}

		if b.openBrowser {
			if err := s.monitor.OpenBrowser(url); err != nil {
				slog.Warn("cannot open browser",
					"url", url, "error", err.Error())
			}
		}
	}

	return s, nil
}
