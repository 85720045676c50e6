package cmd

import (
	"github.com/sarchlab/busvip/monitoring"
	"github.com/sarchlab/busvip/simulation"
)

// progress updates a monitoring progress bar when the server is on.
type progress struct {
	bar *monitoring.ProgressBar
}

func newProgress(
	sim *simulation.Simulation,
	name string,
	total uint64,
) progress {
	m := sim.Monitor()
	if m == nil {
		return progress{}
	}

	bar := m.CreateProgressBar(name, total)
	bar.IncrementInProgress(total)

	return progress{bar: bar}
}

func (p progress) finish(amount uint64) {
	if p.bar != nil {
		p.bar.MoveInProgressToFinished(amount)
	}
}
