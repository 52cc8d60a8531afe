package engine

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanutp/foxbuild/internal/checkout"
	"github.com/vanutp/foxbuild/internal/config"
	"github.com/vanutp/foxbuild/internal/foxfile"
	"github.com/vanutp/foxbuild/internal/process"
	"github.com/vanutp/foxbuild/internal/profilecache"
	"github.com/vanutp/foxbuild/pkg/logger"
)

// scriptRunner fakes process execution for stages run directly against the
// host: every stage in these tests uses the default image, so StageRunner
// never builds a sandbox. It still resolves each stage's shell environment
// through nixenv, so the `jq -n env` capture call is answered with an empty
// JSON object; every other call funnels through Run below as well.
type scriptRunner struct {
	exitCodes map[string]int

	mu    sync.Mutex
	calls []process.Spec
}

func (r *scriptRunner) Run(ctx context.Context, spec process.Spec) (*process.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, spec)
	r.mu.Unlock()

	if len(spec.Argv) == 3 && spec.Argv[0] == "bash" && spec.Argv[1] == "-c" {
		script := spec.Argv[2]
		if strings.HasSuffix(script, "\njq -n env") {
			return &process.Result{ExitCode: 0, Stdout: "{}"}, nil
		}
		for needle, code := range r.exitCodes {
			if strings.Contains(script, needle) {
				return &process.Result{ExitCode: code, Stdout: needle}, nil
			}
		}
	}
	return &process.Result{ExitCode: 0}, nil
}

func testDeps(t *testing.T, runner process.Runner) *Deps {
	t.Helper()
	dataDir := t.TempDir()
	cfg := &config.Config{
		Mode:             config.ModeLocal,
		AlwaysUseSandbox: false,
		RunsDir:          dataDir,
		ProfilesDir:      dataDir,
		EmptyDir:         dataDir,
	}
	return &Deps{
		Config:       cfg,
		Runner:       runner,
		Checkout:     checkout.New(dataDir, runner),
		ProfileCache: profilecache.New(dataDir, dataDir, runner),
		Logger:       logger.Default(),
	}
}

func parseFoxfile(t *testing.T, doc string) *foxfile.Foxfile {
	t.Helper()
	ff, err := foxfile.Parse([]byte(doc))
	require.NoError(t, err)
	return ff
}

func TestOrchestrator_RunsWorkflowsInDeclarationOrder(t *testing.T) {
	runner := &scriptRunner{exitCodes: map[string]int{}}
	deps := testDeps(t, runner)
	ff := parseFoxfile(t, `
stages:
  build:
    run: echo build
  test:
    run: echo test
workflows:
  ci_second:
    stages: [test]
  ci_first:
    stages: [build]
`)

	orch := NewOrchestrator(deps)
	result, err := orch.RunLocal(context.Background(), t.TempDir(), ff)
	require.NoError(t, err)
	require.NotNil(t, result.Workflows["ci_first"])
	require.NotNil(t, result.Workflows["ci_second"])
	assert.Equal(t, 0, result.Workflows["ci_first"].Stages["build"].ExitCode)
	assert.Equal(t, 0, result.Workflows["ci_second"].Stages["test"].ExitCode)

	var scripts []string
	for _, spec := range runner.calls {
		if len(spec.Argv) == 3 && spec.Argv[0] == "bash" && strings.HasPrefix(spec.Argv[2], "set -e\n") {
			scripts = append(scripts, strings.TrimPrefix(spec.Argv[2], "set -e\n"))
		}
	}
	assert.Equal(t, []string{"echo test", "echo build"}, scripts)
}

func TestOrchestrator_NonzeroStageExitDoesNotAbortLaterWorkflows(t *testing.T) {
	runner := &scriptRunner{exitCodes: map[string]int{"echo build": 1}}
	deps := testDeps(t, runner)
	ff := parseFoxfile(t, `
stages:
  build:
    run: echo build
  test:
    run: echo test
workflows:
  build_workflow:
    stages: [build]
  test_workflow:
    stages: [test]
`)

	orch := NewOrchestrator(deps)
	result, err := orch.RunLocal(context.Background(), t.TempDir(), ff)
	require.NoError(t, err, "a nonzero exit code is not itself an error")
	require.NotNil(t, result.Workflows["build_workflow"])
	assert.Equal(t, 1, result.Workflows["build_workflow"].Stages["build"].ExitCode)
	// A nonzero stage exit does not abort later workflows -- only a
	// StageRunner error (checkout failure, sandbox failure, etc.) does.
	assert.NotNil(t, result.Workflows["test_workflow"])
}

func TestOrchestrator_RunStandalone_ChecksOutEachStage(t *testing.T) {
	runner := &scriptRunner{exitCodes: map[string]int{}}
	deps := testDeps(t, runner)
	ff := parseFoxfile(t, `
stages:
  build:
    run: echo build
workflows:
  main:
    stages: [build]
`)

	info := &RunInfo{
		Provider:  "github",
		CloneURL:  "https://example.com/acme/widgets.git",
		RepoName:  "acme/widgets",
		CommitSHA: "deadbeef",
		RunID:     "run-1",
	}

	orch := NewOrchestrator(deps)
	result, err := orch.RunStandalone(context.Background(), info, ff)
	require.NoError(t, err)
	require.NotNil(t, result.Workflows["main"])
	assert.Equal(t, 0, result.Workflows["main"].Stages["build"].ExitCode)

	stageWorkdir := filepath.Join(deps.Config.RunsDir, "github", "run-1", "0_0")
	foundClone := false
	for _, spec := range runner.calls {
		if len(spec.Argv) == 4 && spec.Argv[0] == "git" && spec.Argv[1] == "clone" && spec.Dir == stageWorkdir {
			foundClone = true
		}
	}
	assert.True(t, foundClone, "expected stage checkout to clone into %s, calls: %v", stageWorkdir, runner.calls)
}
