// Package process wraps exec.Cmd with the argv/cwd/env/stdio shape that every
// other foxbuild package spawns through, so sandboxed and host execution look
// identical to callers.
package process

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/vanutp/foxbuild/internal/fxerrors"
	"golang.org/x/sync/errgroup"
)

// Stdio selects how a spawned process's stdout/stderr are handled.
type Stdio int

const (
	// StdioCapture buffers the stream and returns it in the Result.
	StdioCapture Stdio = iota
	// StdioInherit connects the stream directly to the parent's.
	StdioInherit
	// StdioNull discards the stream.
	StdioNull
)

// Spec describes a single process invocation.
type Spec struct {
	Argv   []string
	Dir    string
	Env    map[string]string
	Stdout Stdio
	Stderr Stdio
}

// Result holds what came back from a completed process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner spawns processes. It exists as an interface so the engine and
// sandbox packages can be exercised with a fake in tests.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}

// ExecRunner is the production Runner, backed by os/exec.
type ExecRunner struct{}

// NewExecRunner returns a Runner that shells out via os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run spawns the process described by spec and waits for it to exit.
//
// A failure to start the process (binary missing, permission denied) is
// returned as *fxerrors.SpawnError. A nonzero exit is reported through
// Result.ExitCode, not as an error -- callers that want NonZeroExit treated
// as failure should use Check.
//
// Stdout and stderr are drained on separate goroutines so a chatty child
// writing to both pipes at once can't deadlock on a full pipe buffer while
// we're blocked reading the other one.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if len(spec.Argv) == 0 {
		return nil, fxerrors.New(fxerrors.CodeInternal, "empty argv")
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Stdin = nil
	if spec.Env != nil {
		cmd.Env = flattenEnv(spec.Env)
	}

	stdoutR, stdoutW := attachPipe(spec.Stdout, os.Stdout)
	stderrR, stderrW := attachPipe(spec.Stderr, os.Stderr)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		return nil, &fxerrors.SpawnError{Argv: spec.Argv, Err: err}
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	var eg errgroup.Group
	if stdoutR != nil {
		eg.Go(func() error { _, err := io.Copy(&stdoutBuf, stdoutR); return err })
	}
	if stderrR != nil {
		eg.Go(func() error { _, err := io.Copy(&stderrBuf, stderrR); return err })
	}

	waitErr := cmd.Wait()
	// cmd.Wait only waits for its own internal copy into stdoutW/stderrW to
	// finish; it never closes them. Without closing, the drain goroutines
	// above would block on Read forever waiting for an EOF that never comes.
	if pw, ok := stdoutW.(*io.PipeWriter); ok {
		_ = pw.Close()
	}
	if pw, ok := stderrW.(*io.PipeWriter); ok {
		_ = pw.Close()
	}
	_ = eg.Wait()

	result := &Result{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, &fxerrors.SpawnError{Argv: spec.Argv, Err: waitErr}
	}
	result.ExitCode = 0
	return result, nil
}

// attachPipe returns the reader to drain into a buffer (nil if the stream
// isn't captured) and the writer to hand to exec.Cmd.
func attachPipe(mode Stdio, inherited *os.File) (io.Reader, io.Writer) {
	switch mode {
	case StdioInherit:
		return nil, inherited
	case StdioNull:
		return nil, io.Discard
	default:
		r, w := io.Pipe()
		return r, w
	}
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// Check runs spec and returns an error (*fxerrors.NonZeroExit) if the process
// exits nonzero, mirroring the original's check_output helper.
func Check(ctx context.Context, r Runner, spec Spec) (*Result, error) {
	res, err := r.Run(ctx, spec)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return res, &fxerrors.NonZeroExit{Argv: spec.Argv, Code: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}
