package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	taskrunner "github.com/ethereum-optimism/infra/op-taskrunner"
	"github.com/ethereum-optimism/infra/op-taskrunner/exitcodes"
	"github.com/ethereum-optimism/infra/op-taskrunner/flags"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer otelShutdown()

	if err := app.RunContext(ctxinterrupt.WithSignalWaiterMain(context.Background()), os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:        "op-taskrunner",
		Version:     fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate),
		Usage:       "Sequential task suite runner",
		Description: "op-taskrunner runs a suite of tasks and collects their results and artifacts",
		Flags:       cliapp.ProtectFlags(flags.Flags),
		Action:      cliapp.LifecycleCmd(newTaskRunner),
		ExitErrHandler: func(_ *cli.Context, err error) {
			if err != nil {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitCode(err)))
			}
		},
	}
}

// exitCode picks the process exit status for an error returned by the app.
// Job errors carry their own status bits; anything else failed before a job ran.
func exitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return exitcodes.RuntimeErr
}

func newTaskRunner(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logger := oplog.NewLogger(oplog.AppOut(ctx), oplog.ReadCLIConfig(ctx))
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()

	cfg, err := taskrunner.NewConfig(ctx, logger)
	if err != nil {
		return nil, taskrunner.NewRuntimeError(fmt.Errorf("invalid configuration: %w", err))
	}
	cfg.Log.Debug("Resolved configuration", "config", cfg)

	tr, err := taskrunner.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, taskrunner.NewRuntimeError(fmt.Errorf("failed to create taskrunner: %w", err))
	}
	return tr, nil
}
