package bus

import "github.com/sarchlab/busvip/signal"

// Declare creates the wires of a bus on an in-memory net, using the default
// separator. Signals with a zero width are skipped, which is how optional
// signals are left out.
func Declare(
	net *signal.Net,
	name string,
	widths map[string]int,
) map[string]*signal.Wire {
	wires := make(map[string]*signal.Wire, len(widths))

	for s, w := range widths {
		if w == 0 {
			continue
		}

		sigName := s
		if name != "" {
			sigName = name + "_" + s
		}

		wires[s] = net.NewWire(sigName, w)
	}

	return wires
}
