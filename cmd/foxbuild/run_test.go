package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vanutp/foxbuild/internal/engine"
)

func TestPrintResult_NilResultIsNotOK(t *testing.T) {
	assert.False(t, printResult(nil))
}

func TestPrintResult_AllStagesSucceed(t *testing.T) {
	result := &engine.RunResult{
		Workflows: map[string]*engine.WorkflowResult{
			"ci": {Stages: map[string]*engine.StageResult{
				"build": {ExitCode: 0},
			}},
		},
	}
	assert.True(t, printResult(result))
}

func TestPrintResult_NonzeroExitIsNotOK(t *testing.T) {
	result := &engine.RunResult{
		Workflows: map[string]*engine.WorkflowResult{
			"ci": {Stages: map[string]*engine.StageResult{
				"build": {ExitCode: 1},
			}},
		},
	}
	assert.False(t, printResult(result))
}

func TestPrintResult_AbortedWorkflowIsNotOK(t *testing.T) {
	result := &engine.RunResult{
		Workflows: map[string]*engine.WorkflowResult{
			"ci": nil,
		},
	}
	assert.False(t, printResult(result))
}
