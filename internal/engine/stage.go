package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/vanutp/foxbuild/internal/checkout"
	"github.com/vanutp/foxbuild/internal/config"
	"github.com/vanutp/foxbuild/internal/foxfile"
	"github.com/vanutp/foxbuild/internal/fxerrors"
	"github.com/vanutp/foxbuild/internal/nixenv"
	"github.com/vanutp/foxbuild/internal/process"
	"github.com/vanutp/foxbuild/internal/sandbox"
)

// sandboxWorkdir is the cwd a sandboxed stage's commands run in; it has no
// relation to the host path, since the sandbox only ever sees its binds.
const sandboxWorkdir = "/workdir"

// StageRunner executes a single stage: it checks the repository out if
// running in standalone mode, resolves the stage's effective environment,
// builds a fresh sandbox if the stage needs one, resolves the Nix shell
// environment, and finally runs the stage's script.
type StageRunner struct {
	deps *Deps

	runInfo     *RunInfo
	foxfileDoc  *foxfile.Foxfile
	workflow    foxfile.WorkflowDef
	stage       foxfile.StageDef
	hostWorkdir string

	sandbox *sandbox.Sandbox
}

// newStageRunner creates the per-stage working directory (standalone mode)
// or reuses the run's fixed host workdir (local mode).
func newStageRunner(deps *Deps, runInfo *RunInfo, fixedWorkdir string, workflowStageKey string, ff *foxfile.Foxfile, workflow foxfile.WorkflowDef, stage foxfile.StageDef) (*StageRunner, error) {
	sr := &StageRunner{
		deps:       deps,
		runInfo:    runInfo,
		foxfileDoc: ff,
		workflow:   workflow,
		stage:      stage,
	}
	if fixedWorkdir != "" {
		sr.hostWorkdir = fixedWorkdir
		return sr, nil
	}
	sr.hostWorkdir = filepath.Join(deps.Config.RunsDir, runInfo.Provider, runInfo.RunID, workflowStageKey)
	if err := os.MkdirAll(sr.hostWorkdir, 0o755); err != nil {
		return nil, fxerrors.Internal(err, "creating stage workdir")
	}
	return sr, nil
}

// effectiveEnv merges the stage's EnvSettings over the Foxfile's root
// defaults, falling back to DefaultImage when neither sets one.
func (sr *StageRunner) effectiveEnv() foxfile.EnvSettings {
	env := sr.stage.EnvSettings
	if !env.UseFlake.On() && sr.foxfileDoc.UseFlake.On() {
		env.UseFlake = sr.foxfileDoc.UseFlake
	}
	if env.Nixpkgs == "" {
		env.Nixpkgs = sr.foxfileDoc.Nixpkgs
	}
	if env.Packages == nil {
		env.Packages = sr.foxfileDoc.Packages
	}
	if env.Image == "" {
		env.Image = sr.foxfileDoc.Image
	}
	if env.Image == "" {
		env.Image = foxfile.DefaultImage
	}
	return env
}

// useSandbox decides whether this stage needs the podman/bwrap sandbox at
// all, or can run directly against the host. AlwaysUseSandbox lets
// standalone deployments force it even for the default image, since the
// host running the webhook service should never execute untrusted stage
// scripts directly.
func (sr *StageRunner) useSandbox(env foxfile.EnvSettings) bool {
	return sr.deps.Config.AlwaysUseSandbox || env.Image != foxfile.DefaultImage
}

// execMaybeSandboxed runs argv either directly against the host (cwd =
// hostWorkdir) or, if useSandbox, prepended with the sandbox's command
// prefix (cwd fixed to the empty dir, with extraEnv merged into the
// sandbox's tracked environment instead of the process's own env map).
// The sandbox's environment is cleared again afterward so it doesn't leak
// into the next call.
func (sr *StageRunner) execMaybeSandboxed(ctx context.Context, sandboxed bool, stdout, stderr process.Stdio, extraEnv map[string]string, argv ...string) (*process.Result, error) {
	if !sandboxed {
		return sr.deps.Runner.Run(ctx, process.Spec{
			Argv:   argv,
			Dir:    sr.hostWorkdir,
			Env:    extraEnv,
			Stdout: stdout,
			Stderr: stderr,
		})
	}

	defer sr.sandbox.ClearEnv()
	sr.sandbox.AddEnvs(extraEnv)
	prefix, err := sr.sandbox.BuildCmdPrefix()
	if err != nil {
		return nil, err
	}
	return sr.deps.Runner.Run(ctx, process.Spec{
		Argv:   append(prefix, argv...),
		Dir:    sr.deps.Config.EmptyDir,
		Stdout: stdout,
		Stderr: stderr,
	})
}

func (sr *StageRunner) checkMaybeSandboxed(ctx context.Context, sandboxed bool, extraEnv map[string]string, argv ...string) (string, error) {
	res, err := sr.execMaybeSandboxed(ctx, sandboxed, process.StdioCapture, process.StdioNull, extraEnv, argv...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", &fxerrors.NonZeroExit{Argv: argv, Code: res.ExitCode, Stderr: res.Stderr}
	}
	return res.Stdout, nil
}

// profileFingerprint returns the fingerprint used to key the profile cache,
// or "" if this stage's environment doesn't use a flake (fingerprinting only
// makes sense for flakes: inline-expr shells have no files to hash) or the
// Foxfile sets nix_paths to an explicit empty list.
func (sr *StageRunner) profileFingerprint(env foxfile.EnvSettings) (string, error) {
	nixPaths := sr.foxfileDoc.EffectiveNixPaths()
	if !env.UseFlake.On() || len(nixPaths) == 0 {
		return "", nil
	}
	return nixenv.Fingerprint(nixPaths, sr.hostWorkdir)
}

// resolveShellEnv resolves the Nix shell environment for this stage,
// consulting the profile cache first when the stage's environment is
// fingerprintable.
func (sr *StageRunner) resolveShellEnv(ctx context.Context, sandboxed bool, env foxfile.EnvSettings) (map[string]string, error) {
	fingerprint, err := sr.profileFingerprint(env)
	if err != nil {
		return nil, err
	}
	if fingerprint != "" {
		if cached, ok, err := sr.deps.ProfileCache.Get(fingerprint); err != nil {
			return nil, err
		} else if ok {
			return cached, nil
		}
	}

	tmpDir, err := os.MkdirTemp("", "foxbuild-profile-")
	if err != nil {
		return nil, fxerrors.Internal(err, "creating temp profile dir")
	}
	defer os.RemoveAll(tmpDir)
	if err := os.Chmod(tmpDir, 0o777); err != nil {
		return nil, fxerrors.Internal(err, "chmod temp profile dir")
	}
	tmpProfile := filepath.Join(tmpDir, "profile")

	if sandboxed {
		sr.sandbox.AddRWBind(tmpDir, tmpDir)
		defer sr.sandbox.RemoveRWBind(tmpDir, tmpDir)
	}

	exec := func(ctx context.Context, argv []string) (string, error) {
		return sr.checkMaybeSandboxed(ctx, sandboxed, nil, argv...)
	}
	resolver := nixenv.New(exec)

	resolvedEnv, err := resolver.ResolveEnv(ctx, env.UseFlake.Resolved(), env.Packages, tmpProfile)
	if err != nil {
		return nil, err
	}

	if fingerprint != "" {
		if err := sr.deps.ProfileCache.Store(ctx, fingerprint, resolvedEnv, tmpProfile); err != nil {
			return nil, err
		}
	}
	return resolvedEnv, nil
}

// Run executes the stage end to end: checkout (standalone mode only),
// sandbox construction, shell environment resolution, and the stage's own
// script, always followed by Cleanup regardless of outcome.
func (sr *StageRunner) Run(ctx context.Context) (result *StageResult, err error) {
	defer func() {
		if cerr := sr.cleanup(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if sr.runInfo != nil {
		if err := sr.deps.Checkout.Run(ctx, checkout.Request{
			Provider:  sr.runInfo.Provider,
			RepoName:  sr.runInfo.RepoName,
			CloneURL:  sr.runInfo.CloneURL,
			CommitSHA: sr.runInfo.CommitSHA,
			Dest:      sr.hostWorkdir,
		}); err != nil {
			return nil, err
		}
	}

	env := sr.effectiveEnv()
	sandboxed := sr.useSandbox(env)

	if sandboxed {
		sb, err := sandbox.New(sr.deps.Runner, sandbox.Config{
			GlobalProfileDir: sr.deps.Config.GlobalProfileDir,
			NixCacheDir:      sr.deps.Config.NixCacheDir,
			EmptyDir:         sr.deps.Config.EmptyDir,
			OverlayNixCache:  true,
			Workdir:          sandboxWorkdir,
			Image:            env.Image,
		})
		if err != nil {
			return nil, err
		}
		sr.sandbox = sb
		sr.sandbox.AddRWBind(sr.hostWorkdir, sandboxWorkdir)
	}

	shellEnv, err := sr.resolveShellEnv(ctx, sandboxed, env)
	if err != nil {
		return nil, err
	}

	res, err := sr.execMaybeSandboxed(ctx, sandboxed, process.StdioCapture, process.StdioCapture, shellEnv,
		"bash", "-c", "set -e\n"+sr.stage.Run)
	if err != nil {
		return nil, err
	}

	return &StageResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}, nil
}

// cleanup tears the stage's sandbox down and, in standalone mode, removes
// the stage's working directory entirely (local mode leaves the fixed
// workdir alone since the caller owns it).
func (sr *StageRunner) cleanup(ctx context.Context) error {
	standalone := sr.deps.Config.Mode == config.ModeStandalone
	if sr.sandbox == nil {
		if standalone {
			if err := os.RemoveAll(sr.hostWorkdir); err != nil {
				return fxerrors.Internal(err, "removing stage workdir")
			}
		}
		return nil
	}
	var workdirErr error
	if standalone {
		workdirErr = sr.removeWorkdir(ctx)
	}
	if err := sr.sandbox.Cleanup(ctx); err != nil {
		return err
	}
	return workdirErr
}

// removeWorkdir deletes everything the stage left in hostWorkdir by running
// `rm -rf` as root inside the (still-live) sandbox, since files written from
// inside the sandbox may be owned by uids that don't exist on the host.
func (sr *StageRunner) removeWorkdir(ctx context.Context) error {
	entries, err := os.ReadDir(sr.hostWorkdir)
	if err != nil {
		return fxerrors.Internal(err, "reading stage workdir")
	}
	var dirs []string
	for _, e := range entries {
		dirs = append(dirs, filepath.Join(sandboxWorkdir, e.Name()))
	}
	if len(dirs) == 0 {
		return os.Remove(sr.hostWorkdir)
	}

	sr.sandbox.ClearEnv()
	sr.sandbox.UnsafeRunAsRoot = true
	_, err = sr.checkMaybeSandboxed(ctx, true, nil, append([]string{"rm", "-rf"}, dirs...)...)
	sr.sandbox.UnsafeRunAsRoot = false
	if err != nil {
		return fxerrors.Internal(err, "removing stage workdir contents")
	}
	return os.Remove(sr.hostWorkdir)
}
