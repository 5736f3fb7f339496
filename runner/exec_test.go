package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func shellTask(script string, mutate ...func(*types.Runnable)) types.Task {
	r := types.Runnable{Kind: types.KindExecTest, URI: "/bin/sh", Args: []string{"-c", script}}
	for _, m := range mutate {
		m(&r)
	}
	return types.Suite{Name: "exec", Runnables: []types.Runnable{r}}.Tasks()[0]
}

func collect(t *testing.T, b Backend, task types.Task) []types.StatusEvent {
	t.Helper()
	ch, err := b.Run(context.Background(), task)
	require.NoError(t, err)
	var out []types.StatusEvent
	for ev := range ch {
		out = append(out, ev)
	}
	require.NotEmpty(t, out)
	return out
}

func TestExecBackendOutcomes(t *testing.T) {
	requireShell(t)

	tests := []struct {
		name       string
		script     string
		skipCodes  []int
		globalSkip []int
		result     types.Outcome
		rc         int
	}{
		{name: "pass", script: "exit 0", result: types.OutcomePass, rc: 0},
		{name: "fail", script: "exit 1", result: types.OutcomeFail, rc: 1},
		{name: "runnable skip code", script: "exit 3", skipCodes: []int{3}, result: types.OutcomeSkip, rc: 3},
		{name: "global skip code", script: "exit 77", globalSkip: []int{77}, result: types.OutcomeSkip, rc: 77},
		{name: "non skip code fails", script: "exit 4", skipCodes: []int{3}, result: types.OutcomeFail, rc: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewExecBackend(ExecConfig{Log: log.New(), SkipExitCodes: tt.globalSkip})
			task := shellTask(tt.script, func(r *types.Runnable) { r.SkipExitCodes = tt.skipCodes })

			events := collect(t, b, task)
			first, last := events[0], events[len(events)-1]
			assert.Equal(t, types.LifecycleStarted, first.Status)
			assert.Equal(t, types.LifecycleFinished, last.Status)
			assert.Equal(t, tt.result, last.Result)
			require.NotNil(t, last.ReturnCode)
			assert.Equal(t, tt.rc, *last.ReturnCode)
			for _, ev := range events {
				assert.Equal(t, task.ID, ev.TaskID)
			}
		})
	}
}

func TestExecBackendCapturesOutput(t *testing.T) {
	requireShell(t)
	b := NewExecBackend(ExecConfig{Log: log.New()})

	events := collect(t, b, shellTask(`printf 'out\n'; printf 'err' >&2; echo "$GREETING"`,
		func(r *types.Runnable) { r.Env = map[string]string{"GREETING": "hello"} }))
	last := events[len(events)-1]
	assert.Equal(t, []byte("out\nhello\n"), last.Stdout)
	assert.Equal(t, []byte("err"), last.Stderr)
	assert.Nil(t, last.Extra, "no truncation markers below the capture limit")
}

func TestExecBackendLargeOutput(t *testing.T) {
	requireShell(t)
	b := NewExecBackend(ExecConfig{Log: log.New()})

	// 64 KiB on each stream
	script := `i=0; while [ $i -lt 1024 ]; do printf '%063d\n' $i; printf '%063d\n' $i >&2; i=$((i+1)); done`
	events := collect(t, b, shellTask(script))
	last := events[len(events)-1]
	assert.Equal(t, types.OutcomePass, last.Result)
	assert.Len(t, last.Stdout, 64*1024)
	assert.Len(t, last.Stderr, 64*1024)
	assert.True(t, bytes.HasPrefix(last.Stdout, []byte(strings.Repeat("0", 63)+"\n")))
}

func TestExecBackendCaptureLimit(t *testing.T) {
	requireShell(t)
	b := NewExecBackend(ExecConfig{Log: log.New(), CaptureLimit: 4})

	events := collect(t, b, shellTask(`printf 'abcdefgh'`))
	last := events[len(events)-1]
	assert.Equal(t, []byte("efgh"), last.Stdout)
	assert.Equal(t, true, last.Extra[ExtraStdoutTruncated])
	assert.Equal(t, false, last.Extra[ExtraStderrTruncated])
	assert.Equal(t, int64(8), last.Extra[ExtraStdoutBytes], "the full size survives truncation")
	assert.Equal(t, int64(0), last.Extra[ExtraStderrBytes])
}

func TestExecBackendHeartbeat(t *testing.T) {
	requireShell(t)
	b := NewExecBackend(ExecConfig{Log: log.New(), StatusInterval: 20 * time.Millisecond})

	events := collect(t, b, shellTask("sleep 0.3"))
	running := 0
	for _, ev := range events[1 : len(events)-1] {
		assert.Equal(t, types.LifecycleRunning, ev.Status)
		running++
	}
	assert.Greater(t, running, 0)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Time.Before(events[i-1].Time))
	}
}

func TestExecBackendOutputDir(t *testing.T) {
	requireShell(t)
	b := NewExecBackend(ExecConfig{Log: log.New()})
	dir := filepath.Join(t.TempDir(), "out")
	task := shellTask(`printf 'to file'; printf "$TASK_OUTPUT_DIR" >&2`, func(r *types.Runnable) { r.OutputDir = dir })

	events := collect(t, b, task)
	last := events[len(events)-1]
	require.Equal(t, types.OutcomePass, last.Result)

	data, err := os.ReadFile(filepath.Join(dir, StdoutFileName))
	require.NoError(t, err)
	assert.Equal(t, "to file", string(data))
	data, err = os.ReadFile(filepath.Join(dir, StderrFileName))
	require.NoError(t, err)
	assert.Equal(t, dir, string(data))

	// A second run into the same directory must not overwrite the first
	events = collect(t, b, task)
	last = events[len(events)-1]
	assert.Equal(t, types.LifecycleFinished, last.Status)
	assert.Equal(t, types.OutcomeError, last.Result)
	assert.Contains(t, last.FailReason, ErrOutputExists.Error())
	assert.Nil(t, last.ReturnCode)

	data, err = os.ReadFile(filepath.Join(dir, StdoutFileName))
	require.NoError(t, err)
	assert.Equal(t, "to file", string(data))
}

func TestExecBackendStartFailure(t *testing.T) {
	b := NewExecBackend(ExecConfig{Log: log.New()})
	task := types.Suite{Name: "exec", Runnables: []types.Runnable{
		{Kind: types.KindExecTest, URI: filepath.Join(t.TempDir(), "does-not-exist")},
	}}.Tasks()[0]

	events := collect(t, b, task)
	require.Len(t, events, 2)
	assert.Equal(t, types.OutcomeError, events[1].Result)
	assert.Contains(t, events[1].FailReason, "failed to start")
}

func TestExecBackendRequiresURI(t *testing.T) {
	b := NewExecBackend(ExecConfig{Log: log.New()})
	_, err := b.Run(context.Background(), types.Task{})
	assert.Error(t, err)
}

func TestExecBackendInterrupted(t *testing.T) {
	requireShell(t)
	b := NewExecBackend(ExecConfig{Log: log.New(), WaitDelay: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Run(ctx, shellTask("sleep 10"))
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, types.LifecycleStarted, first.Status)
	cancel()

	var last types.StatusEvent
	for ev := range ch {
		last = ev
	}
	assert.Equal(t, types.OutcomeInterrupted, last.Result)
}

func TestCaptureBuffer(t *testing.T) {
	b := newCaptureBuffer(5)
	_, _ = b.Write([]byte("abc"))
	assert.False(t, b.Truncated())
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, []byte("cdefg"), b.Bytes())
	assert.Equal(t, int64(7), b.TotalBytes())
	assert.True(t, b.Truncated())

	empty := newCaptureBuffer(0)
	assert.NotNil(t, empty.Bytes())
	assert.Empty(t, empty.Bytes())
}
