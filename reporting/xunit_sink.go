package reporting

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-taskrunner/artifacts"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

const (
	XUnitFilename = "results.xml"

	// DefaultMaxTestLogChars bounds the system-out attached to one test case
	DefaultMaxTestLogChars = 100000

	unknownAttr = "<unknown>"
	cutMarker   = "\n\n--[ CUT DUE TO XML PER TEST LIMIT ]--\n\n"
)

var _ ResultSink = (*XUnitSink)(nil)

// XUnitSink renders the job as an xUnit document
type XUnitSink struct {
	// Output is an extra destination: a file path, or "-" for the Stdout writer
	Output string
	// JobName overrides the testsuite name, which defaults to the job log dir name
	JobName         string
	MaxTestLogChars int
	Stdout          io.Writer
}

func (s *XUnitSink) Name() string { return "xunit" }

func (s *XUnitSink) StartTest(*types.EarlyState) error { return nil }

func (s *XUnitSink) TestProgress() error { return nil }

func (s *XUnitSink) EndTest(*types.TestState) error { return nil }

// Complete writes results.xml into the job log dir and to Output when set.
// Jobs without tasks produce nothing.
func (s *XUnitSink) Complete(result *Result) error {
	if result.TestsTotal == 0 {
		return nil
	}
	content, err := s.Render(result)
	if err != nil {
		return err
	}
	if result.JobLogDir != "" {
		if err := os.WriteFile(filepath.Join(result.JobLogDir, XUnitFilename), content, 0644); err != nil {
			return fmt.Errorf("failed to write xunit results: %w", err)
		}
	}
	switch s.Output {
	case "":
	case "-":
		out := s.Stdout
		if out == nil {
			out = os.Stdout
		}
		if _, err := out.Write(content); err != nil {
			return fmt.Errorf("failed to print xunit results: %w", err)
		}
	default:
		if err := os.WriteFile(s.Output, content, 0644); err != nil {
			return fmt.Errorf("failed to write xunit results to %s: %w", s.Output, err)
		}
	}
	return nil
}

type xunitSuite struct {
	XMLName   xml.Name    `xml:"testsuite"`
	Name      string      `xml:"name,attr"`
	Tests     int         `xml:"tests,attr"`
	Errors    int         `xml:"errors,attr"`
	Failures  int         `xml:"failures,attr"`
	Skipped   int         `xml:"skipped,attr"`
	Time      string      `xml:"time,attr"`
	Timestamp string      `xml:"timestamp,attr"`
	Cases     []xunitCase `xml:"testcase"`
}

type xunitCase struct {
	ClassName string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	File      string        `xml:"file,attr"`
	Time      string        `xml:"time,attr"`
	Skipped   *struct{}     `xml:"skipped,omitempty"`
	Failure   *xunitProblem `xml:"failure,omitempty"`
	Error     *xunitProblem `xml:"error,omitempty"`
	SystemOut *xunitCDATA   `xml:"system-out,omitempty"`
}

type xunitProblem struct {
	Type    string `xml:"type,attr"`
	Message string `xml:"message,attr"`
	Body    string `xml:",cdata"`
}

type xunitCDATA struct {
	Body string `xml:",cdata"`
}

// Render produces the xUnit document for result
func (s *XUnitSink) Render(result *Result) ([]byte, error) {
	name := s.JobName
	if name == "" {
		name = filepath.Base(result.JobLogDir)
	}
	var total time.Duration
	for _, t := range result.Tests {
		total += t.TimeElapsed
	}

	suite := xunitSuite{
		Name:      name,
		Tests:     result.TestsTotal,
		Errors:    result.Errors + result.InterruptedTests,
		Failures:  result.Failed,
		Skipped:   result.Skipped + result.Cancelled,
		Time:      formatSeconds(total),
		Timestamp: time.Now().Format(time.RFC3339),
	}
	for _, t := range result.Tests {
		suite.Cases = append(suite.Cases, s.testCase(t))
	}

	out, err := xml.MarshalIndent(suite, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to encode xunit results: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

func (s *XUnitSink) testCase(t *types.TestState) xunitCase {
	c := xunitCase{
		ClassName: unknownAttr,
		Name:      escapeText(t.Name()),
		File:      escapeText(t.ID.URI),
		Time:      formatSeconds(t.TimeElapsed),
	}
	switch t.Status {
	case types.TestStatusPass, types.TestStatusWarn:
	case types.TestStatusSkip, types.TestStatusCancel:
		c.Skipped = &struct{}{}
	case types.TestStatusFail:
		c.Failure = s.problem(t)
		c.SystemOut = &xunitCDATA{Body: s.systemOut(t)}
	default:
		c.Error = s.problem(t)
		c.SystemOut = &xunitCDATA{Body: s.systemOut(t)}
	}
	return c
}

func (s *XUnitSink) problem(t *types.TestState) *xunitProblem {
	reason := t.FailReason
	if reason == "" {
		reason = unknownAttr
	}
	return &xunitProblem{
		Type:    string(t.Status),
		Message: escapeText(reason),
		Body:    unknownAttr,
	}
}

// systemOut returns the task's captured stdout, cut in the middle when it exceeds the limit
func (s *XUnitSink) systemOut(t *types.TestState) string {
	if t.LogDir == "" {
		return unknownAttr
	}
	data, err := os.ReadFile(filepath.Join(t.LogDir, artifacts.StdoutFile))
	if err != nil {
		return unknownAttr
	}
	max := s.MaxTestLogChars
	if max <= 0 {
		max = DefaultMaxTestLogChars
	}
	if len(data) >= max {
		half := max / 2
		cut := make([]byte, 0, 2*half+len(cutMarker))
		cut = append(cut, data[:half]...)
		cut = append(cut, cutMarker...)
		cut = append(cut, data[len(data)-half:]...)
		data = cut
	}
	return escapeText(stripansi.Strip(strings.ToValidUTF8(string(data), "�")))
}

// escapeText replaces characters XML cannot carry with a \xNN escape
func escapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || r == '\r' || unicode.IsPrint(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
			continue
		}
		fmt.Fprintf(&b, "\\x%02x", r)
	}
	return b.String()
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
