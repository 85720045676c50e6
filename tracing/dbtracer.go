package tracing

import (
	"sync"

	"github.com/sarchlab/busvip/datarecording"
	"github.com/sarchlab/busvip/timing"
)

// A TraceWriter stores completed tasks.
type TraceWriter interface {
	Init()
	Write(task Task)
	Flush()
}

// DBTracer is a tracer that stamps tasks with the simulation time and hands
// the completed ones to a TraceWriter.
type DBTracer struct {
	lock       sync.Mutex
	timeTeller timing.TimeTeller
	backend    TraceWriter

	startTime, endTime timing.VTimeInSec

	tracingTasks map[string]Task
}

// NewDBTracer creates a new DBTracer and initializes the writer.
func NewDBTracer(
	timeTeller timing.TimeTeller,
	backend TraceWriter,
) *DBTracer {
	backend.Init()

	return &DBTracer{
		timeTeller:   timeTeller,
		backend:      backend,
		tracingTasks: make(map[string]Task),
	}
}

// SetTimeRange limits tracing to tasks that overlap the range. A zero bound
// is open.
func (t *DBTracer) SetTimeRange(startTime, endTime timing.VTimeInSec) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.startTime = startTime
	t.endTime = endTime
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	task.StartTime = t.timeTeller.CurrentTime()
	if t.endTime > 0 && task.StartTime > t.endTime {
		return
	}

	t.tracingTasks[task.ID] = task
}

// StepTask records a step of a task.
func (t *DBTracer) StepTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	for _, step := range task.Steps {
		step.Time = t.timeTeller.CurrentTime()
		originalTask.Steps = append(originalTask.Steps, step)
	}

	t.tracingTasks[task.ID] = originalTask
}

// EndTask marks the end of a task and writes it.
func (t *DBTracer) EndTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	task.EndTime = t.timeTeller.CurrentTime()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)

	if t.startTime > 0 && task.EndTime < t.startTime {
		return
	}

	originalTask.EndTime = task.EndTime
	t.backend.Write(originalTask)
}

// Terminate writes the unfinished tasks, ending them at the current time, and
// flushes the writer.
func (t *DBTracer) Terminate() {
	t.lock.Lock()
	defer t.lock.Unlock()

	now := t.timeTeller.CurrentTime()
	for _, task := range t.tracingTasks {
		task.EndTime = now
		t.backend.Write(task)
	}

	t.tracingTasks = make(map[string]Task)
	t.backend.Flush()
}

// TaskEntry is a row of the trace table.
type TaskEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime float64
	EndTime   float64
	NumSteps  int
}

// RecorderTraceWriter writes tasks into the "trace" table of a DataRecorder.
type RecorderTraceWriter struct {
	recorder datarecording.DataRecorder
}

// NewRecorderTraceWriter creates a RecorderTraceWriter.
func NewRecorderTraceWriter(
	recorder datarecording.DataRecorder,
) *RecorderTraceWriter {
	return &RecorderTraceWriter{recorder: recorder}
}

// Init creates the trace table.
func (w *RecorderTraceWriter) Init() {
	w.recorder.CreateTable("trace", TaskEntry{})
}

// Write buffers a task.
func (w *RecorderTraceWriter) Write(task Task) {
	w.recorder.InsertData("trace", TaskEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Location:  task.Where,
		StartTime: float64(task.StartTime),
		EndTime:   float64(task.EndTime),
		NumSteps:  len(task.Steps),
	})
}

// Flush flushes the recorder.
func (w *RecorderTraceWriter) Flush() {
	w.recorder.Flush()
}
