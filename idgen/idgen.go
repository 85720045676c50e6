// Package idgen generates identifiers for bus transactions, trace tasks and
// scheduled events.
package idgen

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

var (
	generatorMutex        sync.Mutex
	generatorInstantiated bool
	generator             Generator
)

// Generator can generate IDs.
type Generator interface {
	// Generate returns a new ID.
	Generate() string
}

// UseSequential configures the process-wide generator to produce IDs in
// sequence ("1", "2", ...). Sequential IDs keep testbench runs reproducible.
func UseSequential() {
	setGenerator(&sequentialGenerator{})
}

// UseParallel configures the process-wide generator to produce globally
// unique IDs. The IDs are no longer deterministic.
func UseParallel() {
	setGenerator(parallelGenerator{})
}

func setGenerator(g Generator) {
	generatorMutex.Lock()
	defer generatorMutex.Unlock()

	if generatorInstantiated {
		panic("cannot change id generator type after using it")
	}

	generator = g
	generatorInstantiated = true
}

// Get returns the generator used by the current process. If none has been
// selected, a sequential generator is installed.
func Get() Generator {
	generatorMutex.Lock()
	defer generatorMutex.Unlock()

	if !generatorInstantiated {
		generator = &sequentialGenerator{}
		generatorInstantiated = true
	}

	return generator
}

// NewSequential returns a private sequential generator whose first ID is "1".
func NewSequential() Generator {
	return &sequentialGenerator{}
}

type sequentialGenerator struct {
	nextID uint64
}

func (g *sequentialGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)
	return strconv.FormatUint(idNumber, 10)
}

type parallelGenerator struct{}

func (parallelGenerator) Generate() string {
	return xid.New().String()
}
