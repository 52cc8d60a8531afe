package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanutp/foxbuild/internal/fxerrors"
)

func TestExecRunner_Run_CapturesOutput(t *testing.T) {
	r := NewExecRunner()
	res, err := r.Run(context.Background(), Spec{
		Argv:   []string{"sh", "-c", "echo out; echo err >&2; exit 3"},
		Stdout: StdioCapture,
		Stderr: StdioCapture,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestExecRunner_Run_EmptyArgv(t *testing.T) {
	r := NewExecRunner()
	_, err := r.Run(context.Background(), Spec{})
	require.Error(t, err)
}

func TestExecRunner_Run_MissingBinary(t *testing.T) {
	r := NewExecRunner()
	_, err := r.Run(context.Background(), Spec{Argv: []string{"definitely-not-a-real-binary-xyz"}})
	require.Error(t, err)
	var spawnErr *fxerrors.SpawnError
	assert.ErrorAs(t, err, &spawnErr)
}

func TestCheck_NonZeroExit(t *testing.T) {
	r := NewExecRunner()
	_, err := Check(context.Background(), r, Spec{Argv: []string{"sh", "-c", "exit 7"}})
	require.Error(t, err)
	var nz *fxerrors.NonZeroExit
	require.ErrorAs(t, err, &nz)
	assert.Equal(t, 7, nz.Code)
}

func TestCheck_Success(t *testing.T) {
	r := NewExecRunner()
	res, err := Check(context.Background(), r, Spec{Argv: []string{"true"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

// fakeRunner is a Runner test double that records each Spec and replays
// canned results without spawning anything.
type fakeRunner struct {
	calls   []Spec
	results []*Result
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	f.calls = append(f.calls, spec)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > 0 {
		res := f.results[0]
		f.results = f.results[1:]
		return res, nil
	}
	return &Result{ExitCode: 0}, nil
}
