// Package setup implements foxbuild's one-shot privileged bootstrap: building
// the global Nix profile every sandbox binds read-only, and priming the
// shared Nix store cache so the first real run isn't the one paying for it.
package setup

import (
	"context"
	"os"

	"github.com/vanutp/foxbuild/internal/config"
	"github.com/vanutp/foxbuild/internal/fxerrors"
	"github.com/vanutp/foxbuild/internal/process"
	"github.com/vanutp/foxbuild/internal/sandbox"
	"github.com/vanutp/foxbuild/pkg/logger"
)

// envDir holds the flake that defines the packages every sandbox gets for
// free (coreutils, bash, git, nix itself).
const envDir = "env"

// SandboxEnv builds the global profile at cfg.GlobalProfileDir from envDir
// and primes the shared Nix cache. It must run once, before AlwaysUseSandbox
// (or any non-default image) is first exercised, and as a user who can write
// to cfg.GlobalProfileDir's parent directory.
func SandboxEnv(ctx context.Context, cfg *config.Config, runner process.Runner, log *logger.Logger) error {
	if !cfg.AlwaysUseSandbox {
		return fxerrors.Configuration("always_use_sandbox must be enabled before running setup")
	}

	if info, err := os.Lstat(cfg.GlobalProfileDir); err == nil {
		if info.Mode()&os.ModeSymlink == 0 {
			return fxerrors.Configuration("global profile directory must be a symlink")
		}
		if err := os.Remove(cfg.GlobalProfileDir); err != nil {
			return fxerrors.Internal(err, "removing stale global profile symlink")
		}
	}

	log.Info("creating global nix profile")
	tmpProfileDir, err := os.MkdirTemp("", "foxbuild-setup-")
	if err != nil {
		return fxerrors.Internal(err, "creating temp dir")
	}
	defer os.RemoveAll(tmpProfileDir)

	tmpProfile := tmpProfileDir + "/profile"
	if _, err := process.Check(ctx, runner, process.Spec{
		Argv: []string{"nix", "profile", "install", "--profile", tmpProfile, "."},
		Dir:  envDir,
	}); err != nil {
		return fxerrors.Nix(err, "installing global profile packages")
	}

	if _, err := process.Check(ctx, runner, process.Spec{
		Argv: []string{"nix", "build", "--out-link", cfg.GlobalProfileDir, tmpProfile},
		Dir:  envDir,
	}); err != nil {
		return fxerrors.Nix(err, "linking global profile")
	}

	log.Info("priming shared nix cache")
	sb, err := sandbox.New(runner, sandbox.Config{
		GlobalProfileDir: cfg.GlobalProfileDir,
		NixCacheDir:      cfg.NixCacheDir,
		EmptyDir:         cfg.EmptyDir,
		WritableNixCache: true,
		Workdir:          cfg.EmptyDir,
	})
	if err != nil {
		return err
	}
	defer sb.Cleanup(ctx)

	prefix, err := sb.BuildCmdPrefix()
	if err != nil {
		return err
	}
	argv := append(prefix, "bash", "-c", "nix eval --raw nixpkgs#hello && nix eval --raw poetry2nix")
	if _, err := process.Check(ctx, runner, process.Spec{Argv: argv, Dir: cfg.EmptyDir}); err != nil {
		return fxerrors.Nix(err, "priming nix cache")
	}

	log.Info("sandbox environment ready")
	return nil
}
