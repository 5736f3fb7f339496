package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_TASKRUNNER"

var (
	Suite = &cli.StringFlag{
		Name:     "suite",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "SUITE"),
		Usage:    "Path to the suite file to run (eg. 'suite.yaml')",
	}
	ResultsDir = &cli.StringFlag{
		Name:    "results-dir",
		Value:   "results",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_DIR"),
		Usage:   "Directory under which each job creates its testrun-<id> log directory",
	}
	Timeout = &cli.IntFlag{
		Name:    "timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Suite timeout in seconds. No task is started once it elapses. 0 or less means unbounded.",
	}
	Debug = &cli.BoolFlag{
		Name:    "debug",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEBUG"),
		Usage:   "Write a debug dump of every status event next to each task's artifacts",
	}
	FailFast = &cli.BoolFlag{
		Name:    "failfast",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAILFAST"),
		Usage:   "Skip the remaining tasks after the first failing one",
	}
	Shuffle = &cli.BoolFlag{
		Name:    "shuffle",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHUFFLE"),
		Usage:   "Run the suite's tasks in random order",
	}
	StatusDB = &cli.StringFlag{
		Name:    "status-db",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STATUS_DB"),
		Usage:   "Path to a LevelDB database keeping status events after the run. In-memory when empty.",
	}
	ExecSkipExitCodes = &cli.IntSliceFlag{
		Name:    "exec-skip-exit-codes",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXEC_SKIP_EXIT_CODES"),
		Usage:   "Exit codes of exec tests that are reported as skip instead of fail",
	}
	ExecStatusInterval = &cli.DurationFlag{
		Name:    "exec-status-interval",
		Value:   time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXEC_STATUS_INTERVAL"),
		Usage:   "Interval between running heartbeats of exec tests",
	}
	Settings = &cli.StringFlag{
		Name:    "settings",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SETTINGS"),
		Usage:   "Path to an optional TOML settings file. Flags set explicitly take precedence.",
	}
	XUnit = &cli.StringFlag{
		Name:    "xunit",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "XUNIT"),
		Usage:   "Extra xUnit output location, '-' for stdout. results.xml is always written to the job log dir.",
	}
	XUnitJobName = &cli.StringFlag{
		Name:    "xunit-job-name",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "XUNIT_JOB_NAME"),
		Usage:   "Testsuite name in the xUnit output, defaults to the job log dir name",
	}
	XUnitMaxTestLogChars = &cli.IntFlag{
		Name:    "xunit-max-test-log-chars",
		Value:   100000,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "XUNIT_MAX_TEST_LOG_CHARS"),
		Usage:   "Maximum characters of a task's output embedded in the xUnit output",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   10 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Minimum interval between progress log lines of a running task",
	}
	Serve = &cli.BoolFlag{
		Name:    "serve",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVE"),
		Usage:   "Serve healthz, metrics and the status query API while the job runs",
	}
	ServeAddr = &cli.StringFlag{
		Name:    "serve.addr",
		Value:   "0.0.0.0",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVE_ADDR"),
		Usage:   "Listening address of the HTTP service",
	}
	ServePort = &cli.IntFlag{
		Name:    "serve.port",
		Value:   8080,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVE_PORT"),
		Usage:   "Listening port of the HTTP service",
	}
)

var requiredFlags = []cli.Flag{
	Suite,
}

var optionalFlags = []cli.Flag{
	ResultsDir,
	Timeout,
	Debug,
	FailFast,
	Shuffle,
	StatusDB,
	ExecSkipExitCodes,
	ExecStatusInterval,
	Settings,
	XUnit,
	XUnitJobName,
	XUnitMaxTestLogChars,
	ProgressInterval,
	Serve,
	ServeAddr,
	ServePort,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
