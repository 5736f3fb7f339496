// Package resolver loads suite files into runnable suites.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// SuiteFile is the on-disk form of a suite
type SuiteFile struct {
	Name     string           `yaml:"name"`
	Defaults Defaults         `yaml:"defaults"`
	Tests    []types.Runnable `yaml:"tests"`
}

// Defaults apply to every test of the file that does not set the field itself
type Defaults struct {
	Kind          string            `yaml:"kind"`
	Env           map[string]string `yaml:"env"`
	SkipExitCodes []int             `yaml:"skip_exit_codes"`
}

// Load reads and resolves the suite file at path
func Load(path string, logger log.Logger) (types.Suite, error) {
	if logger == nil {
		logger = log.New()
	}
	logger.Debug("Reading suite file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return types.Suite{}, fmt.Errorf("reading suite file: %w", err)
	}

	var file SuiteFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return types.Suite{}, fmt.Errorf("parsing suite file: %w", err)
	}

	if file.Name == "" {
		file.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	suite, err := Resolve(file, filepath.Dir(path))
	if err != nil {
		return types.Suite{}, fmt.Errorf("resolving suite %s: %w", file.Name, err)
	}
	logger.Debug("Suite resolved", "name", suite.Name, "len(tests)", suite.Size())
	return suite, nil
}

// Resolve applies defaults and validates every test. Relative exec-test
// paths are taken relative to baseDir.
func Resolve(file SuiteFile, baseDir string) (types.Suite, error) {
	if strings.ContainsAny(file.Name, `/\`) {
		return types.Suite{}, fmt.Errorf("suite name %q must not contain path separators", file.Name)
	}
	suite := types.Suite{Name: file.Name}
	for i, r := range file.Tests {
		if r.URI == "" {
			return types.Suite{}, fmt.Errorf("test %d: uri is required", i+1)
		}
		if r.Kind == "" {
			r.Kind = file.Defaults.Kind
		}
		if r.Kind == "" {
			r.Kind = types.KindExecTest
		}
		if len(r.SkipExitCodes) == 0 && len(file.Defaults.SkipExitCodes) > 0 {
			r.SkipExitCodes = append([]int(nil), file.Defaults.SkipExitCodes...)
		}
		r.Env = mergeEnv(file.Defaults.Env, r.Env)
		if r.Kind == types.KindExecTest && isRelativePath(r.URI) && baseDir != "" {
			r.URI = filepath.Join(baseDir, r.URI)
		}
		suite.Runnables = append(suite.Runnables, r)
	}
	return suite, nil
}

func mergeEnv(defaults, own map[string]string) map[string]string {
	if len(defaults) == 0 {
		return own
	}
	merged := make(map[string]string, len(defaults)+len(own))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range own {
		merged[k] = v
	}
	return merged
}

// isRelativePath is true for relative paths with a directory part; bare
// command names are left for PATH lookup
func isRelativePath(uri string) bool {
	return !filepath.IsAbs(uri) && strings.ContainsRune(uri, filepath.Separator)
}
