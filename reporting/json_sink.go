package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

const JSONFilename = "results.json"

var _ ResultSink = (*JSONSink)(nil)

// JSONSink writes results.json into the job log dir
type JSONSink struct{}

type jsonTest struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind,omitempty"`
	Status     string  `json:"status"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Time       float64 `json:"time"`
	LogDir     string  `json:"logdir"`
	FailReason string  `json:"fail_reason"`
	ReturnCode *int    `json:"returncode,omitempty"`
}

type jsonResult struct {
	JobID          string           `json:"job_id"`
	Suite          string           `json:"suite"`
	Total          int              `json:"total"`
	Pass           int              `json:"pass"`
	Errors         int              `json:"errors"`
	Failures       int              `json:"failures"`
	Skip           int              `json:"skip"`
	Cancel         int              `json:"cancel"`
	Warn           int              `json:"warn"`
	Interrupt      int              `json:"interrupt"`
	Interrupted    bool             `json:"interrupted"`
	Time           float64          `json:"time"`
	ExitStatus     int              `json:"exit_status"`
	Tests          []jsonTest       `json:"tests"`
	Excluded       []types.Runnable `json:"excluded,omitempty"`
	ContractErrors []string         `json:"contract_errors,omitempty"`
	ArtifactErrors []string         `json:"artifact_errors,omitempty"`
}

func (s *JSONSink) Name() string { return "json" }

func (s *JSONSink) StartTest(*types.EarlyState) error { return nil }

func (s *JSONSink) TestProgress() error { return nil }

func (s *JSONSink) EndTest(*types.TestState) error { return nil }

func (s *JSONSink) Complete(result *Result) error {
	if result.JobLogDir == "" {
		return fmt.Errorf("json results need a job log dir")
	}
	data, err := json.MarshalIndent(toJSONResult(result), "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode json results: %w", err)
	}
	path := filepath.Join(result.JobLogDir, JSONFilename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func toJSONResult(r *Result) jsonResult {
	out := jsonResult{
		JobID:       r.JobID,
		Suite:       r.SuiteName,
		Total:       r.TestsTotal,
		Pass:        r.Passed,
		Errors:      r.Errors,
		Failures:    r.Failed,
		Skip:        r.Skipped,
		Cancel:      r.Cancelled,
		Warn:        r.Warned,
		Interrupt:   r.InterruptedTests,
		Interrupted: r.Interrupted,
		Time:        r.Duration().Seconds(),
		ExitStatus:  r.ExitStatus(),
		Tests:       make([]jsonTest, 0, len(r.Tests)),
		Excluded:    r.Excluded,
	}
	for _, t := range r.Tests {
		out.Tests = append(out.Tests, jsonTest{
			ID:         t.ID.String(),
			Name:       t.Name(),
			Kind:       t.Kind,
			Status:     string(t.Status),
			Start:      types.UnixSeconds(t.TimeStart),
			End:        types.UnixSeconds(t.TimeEnd),
			Time:       t.TimeElapsed.Seconds(),
			LogDir:     t.LogDir,
			FailReason: t.FailReason,
			ReturnCode: t.ReturnCode,
		})
	}
	for _, err := range r.ContractErrors {
		out.ContractErrors = append(out.ContractErrors, err.Error())
	}
	for _, err := range r.ArtifactErrors {
		out.ArtifactErrors = append(out.ArtifactErrors, err.Error())
	}
	return out
}
