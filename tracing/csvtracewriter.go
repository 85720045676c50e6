package tracing

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// CSVTraceWriter is a TraceWriter that can store the tasks into a CSV file.
type CSVTraceWriter struct {
	lock sync.Mutex
	path string
	file *os.File

	tasks      []Task
	bufferSize int
}

// NewCSVTraceWriter creates a new CSVTraceWriter. The file is <path>.csv; an
// empty path picks a unique name.
func NewCSVTraceWriter(path string) *CSVTraceWriter {
	return &CSVTraceWriter{
		path:       path,
		bufferSize: 1000,
	}
}

// Path returns the path of the CSV file, without extension.
func (t *CSVTraceWriter) Path() string {
	return t.path
}

// Init creates the tracing csv file. It panics if the file already exists.
func (t *CSVTraceWriter) Init() {
	if t.path == "" {
		t.path = "busvip_trace_" + xid.New().String()
	}

	filename := t.path + ".csv"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	file, err := os.Create(filename)
	if err != nil {
		panic(err)
	}

	t.file = file

	fmt.Fprintf(file, "ID, ParentID, Kind, What, Where, Start, End\n")

	atexit.Register(func() { t.Close() })
}

// Write writes a task to the CSV file.
func (t *CSVTraceWriter) Write(task Task) {
	t.lock.Lock()
	t.tasks = append(t.tasks, task)
	full := len(t.tasks) >= t.bufferSize
	t.lock.Unlock()

	if full {
		t.Flush()
	}
}

// Flush flushes the tasks to the CSV file.
func (t *CSVTraceWriter) Flush() {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.file == nil {
		return
	}

	for _, task := range t.tasks {
		fmt.Fprintf(t.file, "%s, %s, %s, %s, %s, %.10f, %.10f\n",
			task.ID,
			task.ParentID,
			task.Kind,
			task.What,
			task.Where,
			task.StartTime,
			task.EndTime,
		)
	}

	t.tasks = nil
}

// Close flushes the buffered tasks and closes the file.
func (t *CSVTraceWriter) Close() {
	t.Flush()

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.file == nil {
		return
	}

	err := t.file.Close()
	if err != nil {
		panic(err)
	}

	t.file = nil
}
