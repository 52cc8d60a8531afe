// Package engine executes a Foxfile's stages and workflows: the Stage
// Execution Engine and Workflow Orchestrator at the core of foxbuild.
package engine

import (
	"github.com/vanutp/foxbuild/internal/checkout"
	"github.com/vanutp/foxbuild/internal/config"
	"github.com/vanutp/foxbuild/internal/process"
	"github.com/vanutp/foxbuild/internal/profilecache"
	"github.com/vanutp/foxbuild/pkg/logger"
)

// RunInfo identifies a standalone-mode run: a specific commit in a specific
// repository, checked out fresh rather than read off the local disk.
type RunInfo struct {
	Provider  string
	CloneURL  string
	RepoName  string
	CommitSHA string
	RunID     string
}

// StageResult is the outcome of one stage run.
type StageResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// WorkflowResult collects the per-stage results of one workflow run. A nil
// entry marks the stage whose runner returned an error, and every stage after
// it in the same workflow, which never ran.
type WorkflowResult struct {
	Stages map[string]*StageResult
}

// RunResult collects the per-workflow results of a full run. A nil entry
// means the workflow never ran because an earlier workflow aborted the run.
type RunResult struct {
	Workflows map[string]*WorkflowResult
}

// Deps bundles the shared collaborators every StageRunner needs. A single
// Deps is constructed once per process and reused across runs.
type Deps struct {
	Config       *config.Config
	Runner       process.Runner
	Checkout     *checkout.Checkout
	ProfileCache *profilecache.Cache
	Logger       *logger.Logger
}

// Orchestrator runs every workflow in a Foxfile, in declaration order, for
// either a RunInfo (standalone mode: checks the repo out fresh) or a fixed
// host workdir (local mode: the repo is already on disk).
type Orchestrator struct {
	Deps *Deps
}

// NewOrchestrator returns an Orchestrator sharing deps.
func NewOrchestrator(deps *Deps) *Orchestrator {
	return &Orchestrator{Deps: deps}
}
