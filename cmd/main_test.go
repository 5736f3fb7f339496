package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"

	taskrunner "github.com/ethereum-optimism/infra/op-taskrunner"
	"github.com/ethereum-optimism/infra/op-taskrunner/exitcodes"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "no error", err: nil, want: exitcodes.Success},
		{name: "runtime error", err: taskrunner.NewRuntimeError(errors.New("bad suite")), want: exitcodes.RuntimeErr},
		{
			name: "job status joined with a stop error",
			err: errors.Join(
				fmt.Errorf("failed to start: %w", &taskrunner.ExitStatusError{Status: exitcodes.TestFailure | exitcodes.Interrupted}),
				errors.New("stop failed"),
			),
			want: exitcodes.TestFailure | exitcodes.Interrupted,
		},
		{name: "explicit cli exit", err: cli.Exit("usage", 3), want: 3},
		{name: "untyped error", err: errors.New("flag parse"), want: exitcodes.RuntimeErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestNewApp(t *testing.T) {
	app := newApp()
	assert.Equal(t, "op-taskrunner", app.Name)
	assert.Contains(t, app.Version, Version)
	assert.NotNil(t, app.ExitErrHandler)
	assert.NotEmpty(t, app.Flags)
}
