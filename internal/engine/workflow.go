package engine

import (
	"context"
	"fmt"

	"github.com/vanutp/foxbuild/internal/foxfile"
)

// workflowRunner runs one workflow's stages strictly in sequence: stage N+1
// never starts until stage N (including its cleanup) has finished. A stage
// that returns an error -- as opposed to completing with a nonzero exit code
// -- aborts the remaining stages in this workflow; their results stay nil.
type workflowRunner struct {
	deps         *Deps
	runInfo      *RunInfo
	fixedWorkdir string
	foxfileDoc   *foxfile.Foxfile
	workflow     foxfile.WorkflowDef
	workflowIdx  int
}

func (wr *workflowRunner) run(ctx context.Context) (*WorkflowResult, error) {
	results := make(map[string]*StageResult, len(wr.workflow.Stages))

	for i, stageName := range wr.workflow.Stages {
		stage, ok := wr.foxfileDoc.Stages[stageName]
		if !ok {
			return nil, fmt.Errorf("workflow references unknown stage %q", stageName)
		}

		workflowStageKey := fmt.Sprintf("%d_%d", wr.workflowIdx, i)
		sr, err := newStageRunner(wr.deps, wr.runInfo, wr.fixedWorkdir, workflowStageKey, wr.foxfileDoc, wr.workflow, stage)
		if err != nil {
			for _, remaining := range wr.workflow.Stages[i:] {
				results[remaining] = nil
			}
			return &WorkflowResult{Stages: results}, err
		}

		result, err := sr.Run(ctx)
		if err != nil {
			for _, remaining := range wr.workflow.Stages[i:] {
				results[remaining] = nil
			}
			return &WorkflowResult{Stages: results}, err
		}
		results[stageName] = result
	}

	return &WorkflowResult{Stages: results}, nil
}
