// Package simulation wires the pieces a testbench needs: an engine, a signal
// net, a clock and, optionally, a data recorder, a tracer and a monitoring
// server.
package simulation

import (
	"fmt"
	"log/slog"

	"github.com/sarchlab/busvip/datarecording"
	"github.com/sarchlab/busvip/monitoring"
	"github.com/sarchlab/busvip/signal"
	"github.com/sarchlab/busvip/timing"
	"github.com/sarchlab/busvip/tracing"
)

// A Simulation provides the services required to run a testbench.
type Simulation struct {
	id         string
	engine     *timing.SerialEngine
	net        *signal.Net
	clock      *timing.Clock
	outputPath string

	dataRecorder datarecording.DataRecorder
	tracer       *tracing.DBTracer
	traceKinds   []string
	monitor      *monitoring.Monitor

	agents     []monitoring.Agent
	agentIndex map[string]int
}

// ID returns the unique ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Engine returns the engine used in the simulation.
func (s *Simulation) Engine() *timing.SerialEngine {
	return s.engine
}

// Net returns the signal net the buses are declared on.
func (s *Simulation) Net() *signal.Net {
	return s.net
}

// Clock returns the testbench clock.
func (s *Simulation) Clock() *timing.Clock {
	return s.clock
}

// DataRecorder returns the data recorder, or nil if recording is off.
func (s *Simulation) DataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// OutputPath returns the SQLite file of the recorder, if recording is on.
func (s *Simulation) OutputPath() string {
	return s.outputPath
}

// Tracer returns the tracer, or nil if recording is off.
func (s *Simulation) Tracer() *tracing.DBTracer {
	return s.tracer
}

// Monitor returns the monitoring server, or nil if monitoring is off.
func (s *Simulation) Monitor() *monitoring.Monitor {
	return s.monitor
}

// RegisterAgent registers an agent with the simulation. Agents that expose
// hooks get traced when recording is on.
func (s *Simulation) RegisterAgent(a monitoring.Agent) {
	name := a.Name()
	if _, found := s.agentIndex[name]; found {
		panic(fmt.Sprintf("agent %s already registered", name))
	}

	s.agents = append(s.agents, a)
	s.agentIndex[name] = len(s.agents) - 1

	if s.monitor != nil {
		s.monitor.RegisterAgent(a)
	}

	if h, ok := a.(tracing.NamedHookable); ok && s.tracer != nil {
		tracing.CollectTrace(h, s.tracer, s.traceKinds...)
	}
}

// Agents returns all registered agents.
func (s *Simulation) Agents() []monitoring.Agent {
	return s.agents
}

// AgentByName returns the agent with the given name.
func (s *Simulation) AgentByName(name string) (monitoring.Agent, bool) {
	i, found := s.agentIndex[name]
	if !found {
		return nil, false
	}

	return s.agents[i], true
}

// Run starts the clock and runs the engine until no event is left or a
// handler fails.
func (s *Simulation) Run() error {
	s.clock.Start()

	err := s.engine.Run()
	s.engine.Finished()

	return err
}

// Terminate flushes the traces and the recorder and stops the monitoring
// server.
func (s *Simulation) Terminate() {
	if s.tracer != nil {
		s.tracer.Terminate()
	}

	if s.dataRecorder != nil {
		if err := s.dataRecorder.Close(); err != nil {
			slog.Error("cannot close recorder", "error", err.Error())
		}
	}

	if s.monitor != nil {
		_ = s.monitor.StopServer()
	}
}
