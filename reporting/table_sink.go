package reporting

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

var _ ResultSink = (*TableSink)(nil)

// TableSink prints a summary table of the job once it completes
type TableSink struct {
	out io.Writer
}

// NewTableSink writes to out, or stdout when out is nil
func NewTableSink(out io.Writer) *TableSink {
	if out == nil {
		out = os.Stdout
	}
	return &TableSink{out: out}
}

func (s *TableSink) Name() string { return "table" }

func (s *TableSink) StartTest(*types.EarlyState) error { return nil }

func (s *TableSink) TestProgress() error { return nil }

func (s *TableSink) EndTest(*types.TestState) error { return nil }

func (s *TableSink) Complete(result *Result) error {
	_, err := io.WriteString(s.out, RenderTable(result))
	return err
}

// RenderTable formats the per task results and job totals
func RenderTable(result *Result) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Job %s", result.JobID))
	t.AppendHeader(table.Row{"#", "TASK", "DURATION", "STATUS", "REASON"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "TASK", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "DURATION", Align: text.AlignRight},
		{Name: "REASON", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	for i, state := range result.Tests {
		t.AppendRow(table.Row{
			i + 1,
			state.Name(),
			formatDuration(state.TimeElapsed),
			string(state.Status),
			state.FailReason,
		})
	}

	switch {
	case result.HasFailures():
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case result.Interrupted:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	case len(result.Tests) > 0:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	default:
		t.SetStyle(table.StyleDefault)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("PASS %d | ERROR %d | FAIL %d | SKIP %d | WARN %d | INTERRUPT %d | CANCEL %d",
			result.Passed, result.Errors, result.Failed, result.Skipped,
			result.Warned, result.InterruptedTests, result.Cancelled),
		formatDuration(result.Duration()),
		fmt.Sprintf("%d/%d", result.Ended(), result.TestsTotal),
		"",
	})
	return t.Render() + "\n"
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
