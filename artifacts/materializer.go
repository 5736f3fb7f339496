// Package artifacts writes the captured output and metadata of finished tasks to disk.
//
// Every task gets one directory under the base directory, named after the
// filesystem-safe form of its identity:
//
//	<base>/<task>/stdout  captured stdout of the last event, when present
//	<base>/<task>/stderr  captured stderr of the last event, when present
//	<base>/<task>/debug   JSON array of every recorded event, when debug is enabled
//	<base>/<task>/data    the task's own output directory followed by a newline
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

const (
	// ResultsDirName is the directory under the job log dir holding per task artifacts
	ResultsDirName = "test-results"

	StdoutFile = "stdout"
	StderrFile = "stderr"
	DebugFile  = "debug"
	DataFile   = "data"
)

// ErrNoEvents is returned when there is nothing to materialize
var ErrNoEvents = errors.New("no events to materialize")

// Error is a filesystem failure while materializing a task's artifacts
type Error struct {
	TaskID types.TaskID
	Path   string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("materializing %s at %s: %v", e.TaskID, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Materializer lays out task artifacts under BaseDir
type Materializer struct {
	BaseDir string
	Debug   bool
	Log     log.Logger
}

// New creates a materializer rooted at <jobLogDir>/test-results
func New(jobLogDir string, debug bool, logger log.Logger) *Materializer {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &Materializer{
		BaseDir: filepath.Join(jobLogDir, ResultsDirName),
		Debug:   debug,
		Log:     logger,
	}
}

// Dir returns the artifact directory of a task
func (m *Materializer) Dir(id types.TaskID) string {
	return filepath.Join(m.BaseDir, id.FilesystemSafe())
}

// Materialize writes the artifacts of task and returns the directory holding them.
// Running it again with the same events produces the same files.
func (m *Materializer) Materialize(task types.Task, events []types.StatusEvent) (string, error) {
	if len(events) == 0 {
		return "", &Error{TaskID: task.ID, Path: m.Dir(task.ID), Err: ErrNoEvents}
	}
	dir := m.Dir(task.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &Error{TaskID: task.ID, Path: dir, Err: err}
	}

	last := events[len(events)-1]
	if last.Stdout != nil {
		if err := m.write(task.ID, filepath.Join(dir, StdoutFile), last.Stdout); err != nil {
			return "", err
		}
	}
	if last.Stderr != nil {
		if err := m.write(task.ID, filepath.Join(dir, StderrFile), last.Stderr); err != nil {
			return "", err
		}
	}

	if m.Debug {
		dump := make([]types.StatusEvent, len(events))
		copy(dump, events)
		// The last event's output already has its own files
		dump[len(dump)-1] = last.WithoutOutput()
		data, err := json.MarshalIndent(dump, "", "  ")
		if err != nil {
			return "", &Error{TaskID: task.ID, Path: filepath.Join(dir, DebugFile), Err: err}
		}
		if err := m.write(task.ID, filepath.Join(dir, DebugFile), data); err != nil {
			return "", err
		}
	}

	if err := m.write(task.ID, filepath.Join(dir, DataFile), []byte(task.Runnable.OutputDir+"\n")); err != nil {
		return "", err
	}

	if m.Log != nil {
		m.Log.Debug("Materialized task artifacts", "task", task.ID, "dir", dir)
	}
	return dir, nil
}

func (m *Materializer) write(id types.TaskID, path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &Error{TaskID: id, Path: path, Err: err}
	}
	return nil
}
