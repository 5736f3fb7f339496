// Package types contains shared types used across the task runner
package types

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxFilesystemNameLength caps the length of a task's directory name
const MaxFilesystemNameLength = 255

// fsUnsafeChars are replaced with an underscore when rendering a TaskID as a path segment
const fsUnsafeChars = `<>:"/\|?*`

// Default runnable kinds
const (
	KindExecTest = "exec-test"
	KindNoop     = "noop"
)

// TaskID identifies a task for the lifetime of one suite run
type TaskID struct {
	Label    string // Suite name plus zero-padded position, eg. "smoke-03"
	URI      string // Runnable reference
	Variant  string // Optional variant marker
	NoDigits int    // Width used to pad the position
}

// NewTaskID builds the identity of the task at position index (1-based) of a suite with total entries
func NewTaskID(suiteName string, index int, uri, variant string, total int) TaskID {
	noDigits := len(strconv.Itoa(total))
	return TaskID{
		Label:    fmt.Sprintf("%s-%0*d", suiteName, noDigits, index),
		URI:      uri,
		Variant:  variant,
		NoDigits: noDigits,
	}
}

// String returns the human readable form, which is also the repository partition key
func (id TaskID) String() string {
	s := id.Label + "-" + id.URI
	if id.Variant != "" {
		s += ";" + id.Variant
	}
	return s
}

// IsZero reports whether the identity was never assigned
func (id TaskID) IsZero() bool {
	return id.Label == "" && id.URI == ""
}

// FilesystemSafe renders the identity as a single path segment
func (id TaskID) FilesystemSafe() string {
	return SafePathSegment(id.String())
}

// SafePathSegment replaces characters that are not allowed in file names and
// truncates the result so it fits in a single directory entry.
func SafePathSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(fsUnsafeChars, r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if strings.HasPrefix(out, ".") {
		out = "_" + out[1:]
	}
	if len(out) <= MaxFilesystemNameLength {
		return out
	}
	cut := MaxFilesystemNameLength
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut]
}

// Runnable describes what a backend has to execute
type Runnable struct {
	Kind          string            `yaml:"kind" json:"kind"`
	URI           string            `yaml:"uri" json:"uri"`
	Args          []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env           map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	OutputDir     string            `yaml:"output_dir,omitempty" json:"output_dir,omitempty"`
	SkipExitCodes []int             `yaml:"skip_exit_codes,omitempty" json:"skip_exit_codes,omitempty"`
	Variant       string            `yaml:"variant,omitempty" json:"variant,omitempty"`
}

// Task is a runnable with its assigned identity
type Task struct {
	ID       TaskID
	Runnable Runnable
}

// Suite is an ordered list of runnables sharing a name
type Suite struct {
	Name      string
	Runnables []Runnable
}

// Size returns the number of entries in the suite
func (s Suite) Size() int {
	return len(s.Runnables)
}

// Tasks assigns identities to every runnable of the suite, in suite order
func (s Suite) Tasks() []Task {
	tasks := make([]Task, 0, len(s.Runnables))
	for i, r := range s.Runnables {
		tasks = append(tasks, Task{
			ID:       NewTaskID(s.Name, i+1, r.URI, r.Variant, len(s.Runnables)),
			Runnable: r,
		})
	}
	return tasks
}

// RuntimeTask wraps a task for the duration of one suite run
type RuntimeTask struct {
	Task Task
	// StatusServices lists the status handles opened while the task runs
	StatusServices []string
}

// NewRuntimeTasks wraps every task for a new run
func NewRuntimeTasks(tasks []Task) []*RuntimeTask {
	out := make([]*RuntimeTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, &RuntimeTask{Task: t})
	}
	return out
}
