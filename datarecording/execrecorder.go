package datarecording

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const execTable = "exec_info"

// ExecInfo is one property of a run.
type ExecInfo struct {
	Property string
	Value    string
}

// ExecRecorder records how the program was started and when it ended.
type ExecRecorder struct {
	recorder DataRecorder
	entries  []ExecInfo
}

// NewExecRecorder creates an ExecRecorder that writes into recorder.
func NewExecRecorder(recorder DataRecorder) *ExecRecorder {
	recorder.CreateTable(execTable, ExecInfo{})

	return &ExecRecorder{
		recorder: recorder,
	}
}

// Start records the start time, the command line, and the working directory.
func (e *ExecRecorder) Start() {
	e.Record("Start Time", now())
	e.Record("Command", strings.Join(os.Args, " "))

	ex, err := os.Executable()
	if err != nil {
		panic(err)
	}

	e.Record("Working Directory", filepath.Dir(ex))
}

// Record adds a property of the run, such as a configuration value.
func (e *ExecRecorder) Record(property, value string) {
	e.entries = append(e.entries, ExecInfo{property, value})
}

// End writes all properties along with the end time.
func (e *ExecRecorder) End() {
	e.Record("End Time", now())

	for _, entry := range e.entries {
		e.recorder.InsertData(execTable, entry)
	}

	e.entries = nil

	e.recorder.Flush()
}

func now() string {
	return time.Now().Format("2006-01-02 15:04:05.000000000")
}
