package taskrunner

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-taskrunner/flags"
)

// Config holds the application configuration
type Config struct {
	SuiteFile            string
	ResultsDir           string        // Directory under which job log directories are created
	Timeout              time.Duration // Suite timeout, zero or less is unbounded
	Debug                bool
	FailFast             bool
	Shuffle              bool
	StatusDB             string // LevelDB path, in-memory repository when empty
	ExecSkipExitCodes    []int
	ExecStatusInterval   time.Duration
	XUnitOutput          string
	XUnitJobName         string
	XUnitMaxTestLogChars int
	ProgressInterval     time.Duration
	Serve                bool
	ServeAddr            string
	ServePort            int
	Metrics              opmetrics.CLIConfig
	Log                  log.Logger
}

// TOMLDuration is a duration written as a Go duration string, eg. "1m30s"
type TOMLDuration time.Duration

func (t *TOMLDuration) UnmarshalText(b []byte) error {
	d, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*t = TOMLDuration(d)
	return nil
}

// Settings is the layout of the optional TOML settings file. Unset keys leave
// the flag value in place.
type Settings struct {
	Run    RunSettings    `toml:"run"`
	Runner RunnerSettings `toml:"runner"`
	XUnit  XUnitSettings  `toml:"xunit"`
}

type RunSettings struct {
	ResultsDir       *string       `toml:"results_dir"`
	Timeout          *TOMLDuration `toml:"timeout"`
	Debug            *bool         `toml:"debug"`
	FailFast         *bool         `toml:"failfast"`
	Shuffle          *bool         `toml:"shuffle"`
	StatusDB         *string       `toml:"status_db"`
	ProgressInterval *TOMLDuration `toml:"progress_interval"`
}

type RunnerSettings struct {
	ExecTest ExecTestSettings `toml:"exectest"`
}

type ExecTestSettings struct {
	SkipExitCodes  []int         `toml:"skip_exit_codes"`
	StatusInterval *TOMLDuration `toml:"status_interval"`
}

type XUnitSettings struct {
	Output          *string `toml:"output"`
	JobName         *string `toml:"job_name"`
	MaxTestLogChars *int    `toml:"max_test_log_chars"`
}

// LoadSettings decodes the settings file at path. Unknown keys are logged and ignored.
func LoadSettings(path string, logger log.Logger) (*Settings, error) {
	var s Settings
	md, err := toml.DecodeFile(path, &s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode settings file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 && logger != nil {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		logger.Warn("Ignoring unknown settings", "file", path, "keys", strings.Join(keys, ","))
	}
	return &s, nil
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	suiteFile := ctx.String(flags.Suite.Name)
	if suiteFile == "" {
		return nil, errors.New("suite file is required")
	}

	cfg := &Config{
		SuiteFile:            suiteFile,
		ResultsDir:           ctx.String(flags.ResultsDir.Name),
		Timeout:              time.Duration(ctx.Int(flags.Timeout.Name)) * time.Second,
		Debug:                ctx.Bool(flags.Debug.Name),
		FailFast:             ctx.Bool(flags.FailFast.Name),
		Shuffle:              ctx.Bool(flags.Shuffle.Name),
		StatusDB:             ctx.String(flags.StatusDB.Name),
		ExecSkipExitCodes:    ctx.IntSlice(flags.ExecSkipExitCodes.Name),
		ExecStatusInterval:   ctx.Duration(flags.ExecStatusInterval.Name),
		XUnitOutput:          ctx.String(flags.XUnit.Name),
		XUnitJobName:         ctx.String(flags.XUnitJobName.Name),
		XUnitMaxTestLogChars: ctx.Int(flags.XUnitMaxTestLogChars.Name),
		ProgressInterval:     ctx.Duration(flags.ProgressInterval.Name),
		Serve:                ctx.Bool(flags.Serve.Name),
		ServeAddr:            ctx.String(flags.ServeAddr.Name),
		ServePort:            ctx.Int(flags.ServePort.Name),
		Metrics:              opmetrics.ReadCLIConfig(ctx),
		Log:                  log,
	}

	if path := ctx.String(flags.Settings.Name); path != "" {
		settings, err := LoadSettings(path, log)
		if err != nil {
			return nil, err
		}
		cfg.apply(settings, ctx.IsSet)
	}

	if cfg.ResultsDir == "" {
		cfg.ResultsDir = "results"
	}

	// Resolve the absolute paths
	absSuite, err := filepath.Abs(cfg.SuiteFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for suite file '%s': %w", cfg.SuiteFile, err)
	}
	cfg.SuiteFile = absSuite
	absResults, err := filepath.Abs(cfg.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for results directory '%s': %w", cfg.ResultsDir, err)
	}
	cfg.ResultsDir = absResults

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apply copies the values of s over the config, except for flags set explicitly
func (c *Config) apply(s *Settings, isSet func(string) bool) {
	setString := func(flag string, dst *string, v *string) {
		if v != nil && !isSet(flag) {
			*dst = *v
		}
	}
	setBool := func(flag string, dst *bool, v *bool) {
		if v != nil && !isSet(flag) {
			*dst = *v
		}
	}
	setDuration := func(flag string, dst *time.Duration, v *TOMLDuration) {
		if v != nil && !isSet(flag) {
			*dst = time.Duration(*v)
		}
	}

	setString(flags.ResultsDir.Name, &c.ResultsDir, s.Run.ResultsDir)
	setDuration(flags.Timeout.Name, &c.Timeout, s.Run.Timeout)
	setBool(flags.Debug.Name, &c.Debug, s.Run.Debug)
	setBool(flags.FailFast.Name, &c.FailFast, s.Run.FailFast)
	setBool(flags.Shuffle.Name, &c.Shuffle, s.Run.Shuffle)
	setString(flags.StatusDB.Name, &c.StatusDB, s.Run.StatusDB)
	setDuration(flags.ProgressInterval.Name, &c.ProgressInterval, s.Run.ProgressInterval)

	if s.Runner.ExecTest.SkipExitCodes != nil && !isSet(flags.ExecSkipExitCodes.Name) {
		c.ExecSkipExitCodes = append([]int{}, s.Runner.ExecTest.SkipExitCodes...)
	}
	setDuration(flags.ExecStatusInterval.Name, &c.ExecStatusInterval, s.Runner.ExecTest.StatusInterval)

	setString(flags.XUnit.Name, &c.XUnitOutput, s.XUnit.Output)
	setString(flags.XUnitJobName.Name, &c.XUnitJobName, s.XUnit.JobName)
	if s.XUnit.MaxTestLogChars != nil && !isSet(flags.XUnitMaxTestLogChars.Name) {
		c.XUnitMaxTestLogChars = *s.XUnit.MaxTestLogChars
	}
}

// Check validates the values that cannot be defaulted
func (c *Config) Check() error {
	if c.ExecStatusInterval <= 0 {
		return fmt.Errorf("exec status interval must be positive, got %s", c.ExecStatusInterval)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative, got %s", c.ProgressInterval)
	}
	if c.XUnitMaxTestLogChars < 0 {
		return fmt.Errorf("xunit max test log chars cannot be negative, got %d", c.XUnitMaxTestLogChars)
	}
	if c.Serve && (c.ServePort < 0 || c.ServePort > 65535) {
		return fmt.Errorf("invalid serve port %d", c.ServePort)
	}
	return nil
}
