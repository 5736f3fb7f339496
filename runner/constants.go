package runner

import "time"

const (
	// DefaultStatusInterval is how often a running process emits a heartbeat
	DefaultStatusInterval = time.Second

	// DefaultCaptureLimit caps the bytes kept per output stream of one task
	DefaultCaptureLimit = 64 * 1024 * 1024

	// Output files an exec-test writes into its runnable's output directory
	StdoutFileName = "stdout"
	StderrFileName = "stderr"

	// OutputDirEnv tells an exec-test process where its output directory is
	OutputDirEnv = "TASK_OUTPUT_DIR"

	// Extension keys set on exec-test events
	ExtraKind            = "kind"
	ExtraURI             = "uri"
	ExtraPID             = "pid"
	ExtraStdoutTruncated = "stdout_truncated"
	ExtraStderrTruncated = "stderr_truncated"
	// Bytes the process wrote to a stream, set once either stream is truncated
	ExtraStdoutBytes = "stdout_bytes"
	ExtraStderrBytes = "stderr_bytes"
)
