package flags

import (
	"testing"
	"time"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

func TestUniqueFlags(t *testing.T) {
	seenCLI := make(map[string]struct{})
	for _, flag := range Flags {
		name := flag.Names()[0]
		if _, ok := seenCLI[name]; ok {
			t.Errorf("duplicate flag %s", name)
			continue
		}
		seenCLI[name] = struct{}{}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range Flags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")
			require.Equal(t, opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix), envFlags[0])
		})
	}
}

func TestDefaults(t *testing.T) {
	app := &cli.App{
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, "suite.yaml", ctx.String(Suite.Name))
			assert.Equal(t, "results", ctx.String(ResultsDir.Name))
			assert.Equal(t, 0, ctx.Int(Timeout.Name))
			assert.Equal(t, time.Second, ctx.Duration(ExecStatusInterval.Name))
			assert.Equal(t, 100000, ctx.Int(XUnitMaxTestLogChars.Name))
			assert.False(t, ctx.Bool(FailFast.Name))
			assert.Empty(t, ctx.IntSlice(ExecSkipExitCodes.Name))
			return CheckRequired(ctx)
		},
	}
	require.NoError(t, app.Run([]string{"app", "--suite", "suite.yaml"}))
}

func TestParse(t *testing.T) {
	app := &cli.App{
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, 30, ctx.Int(Timeout.Name))
			assert.True(t, ctx.Bool(FailFast.Name))
			assert.Equal(t, []int{3, 77}, ctx.IntSlice(ExecSkipExitCodes.Name))
			assert.Equal(t, 9090, ctx.Int(ServePort.Name))
			return nil
		},
	}
	err := app.Run([]string{"app",
		"--suite", "suite.yaml",
		"--timeout", "30",
		"--failfast",
		"--exec-skip-exit-codes", "3",
		"--exec-skip-exit-codes", "77",
		"--serve.port", "9090",
	})
	require.NoError(t, err)
}

func TestCheckRequired(t *testing.T) {
	app := &cli.App{
		// Not marked required at the cli level so that CheckRequired is the one to complain
		Flags: []cli.Flag{&cli.StringFlag{Name: Suite.Name}},
		Action: func(ctx *cli.Context) error {
			return CheckRequired(ctx)
		},
	}
	err := app.Run([]string{"app"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flag suite is required")
}
