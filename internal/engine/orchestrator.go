package engine

import (
	"context"

	"github.com/vanutp/foxbuild/internal/foxfile"
)

// RunLocal executes every workflow in ff against a repository already
// checked out at workdir (local mode -- no RunInfo, nothing is fetched).
func (o *Orchestrator) RunLocal(ctx context.Context, workdir string, ff *foxfile.Foxfile) (*RunResult, error) {
	return o.run(ctx, nil, workdir, ff)
}

// RunStandalone executes every workflow in ff for a commit identified by
// info, checking the repository out fresh per stage.
func (o *Orchestrator) RunStandalone(ctx context.Context, info *RunInfo, ff *foxfile.Foxfile) (*RunResult, error) {
	return o.run(ctx, info, "", ff)
}

// run iterates workflows strictly in declaration order. A workflow that
// returns an error aborts every workflow after it; their results stay nil,
// and the error is returned to the caller so the check-run (or CLI exit
// code) can report failure distinctly from "stages ran and one failed".
func (o *Orchestrator) run(ctx context.Context, info *RunInfo, fixedWorkdir string, ff *foxfile.Foxfile) (*RunResult, error) {
	names := ff.Workflows.Names()
	results := make(map[string]*WorkflowResult, len(names))

	for i, name := range names {
		workflow, _ := ff.Workflows.Get(name)
		wr := &workflowRunner{
			deps:         o.Deps,
			runInfo:      info,
			fixedWorkdir: fixedWorkdir,
			foxfileDoc:   ff,
			workflow:     workflow,
			workflowIdx:  i,
		}
		result, err := wr.run(ctx)
		results[name] = result
		if err != nil {
			for _, remaining := range names[i+1:] {
				results[remaining] = nil
			}
			return &RunResult{Workflows: results}, err
		}
	}

	return &RunResult{Workflows: results}, nil
}
