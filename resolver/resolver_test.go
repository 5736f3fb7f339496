package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

func writeSuite(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeSuite(t, "smoke.yaml", `
name: smoke
defaults:
  env:
    LEVEL: info
  skip_exit_codes: [77]
tests:
  - uri: /bin/true
  - uri: ./scripts/check.sh
    args: ["--fast"]
    env:
      LEVEL: debug
    output_dir: /tmp/check
  - kind: noop
    uri: placeholder
    skip_exit_codes: [3]
`)

	suite, err := Load(path, log.New())
	require.NoError(t, err)
	assert.Equal(t, "smoke", suite.Name)
	require.Equal(t, 3, suite.Size())

	first := suite.Runnables[0]
	assert.Equal(t, types.KindExecTest, first.Kind)
	assert.Equal(t, "/bin/true", first.URI)
	assert.Equal(t, []int{77}, first.SkipExitCodes)
	assert.Equal(t, map[string]string{"LEVEL": "info"}, first.Env)

	second := suite.Runnables[1]
	assert.Equal(t, filepath.Join(filepath.Dir(path), "scripts", "check.sh"), second.URI)
	assert.Equal(t, []string{"--fast"}, second.Args)
	assert.Equal(t, "debug", second.Env["LEVEL"])
	assert.Equal(t, "/tmp/check", second.OutputDir)

	third := suite.Runnables[2]
	assert.Equal(t, types.KindNoop, third.Kind)
	assert.Equal(t, "placeholder", third.URI)
	assert.Equal(t, []int{3}, third.SkipExitCodes)

	tasks := suite.Tasks()
	assert.Equal(t, "smoke-1-/bin/true", tasks[0].ID.String())
}

func TestLoadDefaultsName(t *testing.T) {
	path := writeSuite(t, "nightly.yml", "tests:\n  - uri: echo\n")
	suite, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "nightly", suite.Name)
	assert.Equal(t, "echo", suite.Runnables[0].URI, "bare commands are left for PATH lookup")
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{name: "invalid yaml", content: "tests: [", errMsg: "parsing suite file"},
		{name: "missing uri", content: "tests:\n  - kind: noop\n", errMsg: "uri is required"},
		{name: "bad name", content: "name: a/b\ntests: []\n", errMsg: "path separators"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeSuite(t, "s.yaml", tt.content), log.New())
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), log.New())
	assert.ErrorContains(t, err, "reading suite file")
}
