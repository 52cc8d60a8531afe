// Package nixenv resolves the shell environment a Nix flake or inline
// nixpkgs expression would export, by shelling out to `nix print-dev-env`
// and capturing the environment it sets up.
package nixenv

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/vanutp/foxbuild/internal/fxerrors"
)

var packageNameRe = regexp.MustCompile(`^[a-zA-Z_][\w-]+$`)

// variables nix print-dev-env leaves behind that are meaningless (or actively
// harmful, since they point at a scratch dir) outside the shell that created them.
var strippedVars = []string{
	"NIX_BUILD_TOP",
	"TMP",
	"TMPDIR",
	"TEMP",
	"TEMPDIR",
	"terminfo",
}

// Exec runs a command and returns its captured stdout. Callers supply this so
// nixenv stays agnostic to whether the command runs on the host or inside a
// sandbox.
type Exec func(ctx context.Context, argv []string) (string, error)

// Resolver resolves the environment variables a set of Nix packages, a flake,
// or an inline nixpkgs expression would export.
type Resolver struct {
	Exec Exec
}

// New returns a Resolver that runs commands via exec.
func New(exec Exec) *Resolver {
	return &Resolver{Exec: exec}
}

// NixShellExpr builds the ad-hoc `pkgs.mkShell` expression used when a stage
// lists bare packages instead of a flake.
func NixShellExpr(packages []string) (string, error) {
	for _, p := range packages {
		if !packageNameRe.MatchString(p) {
			return "", fxerrors.Configuration("invalid package name %q", p)
		}
	}
	list := ""
	for i, p := range packages {
		if i > 0 {
			list += " "
		}
		list += p
	}
	return fmt.Sprintf(`
let
  pkgs = import (fetchTarball "https://github.com/NixOS/nixpkgs/archive/nixpkgs-unstable.tar.gz") {};
in
  pkgs.mkShell {
    nativeBuildInputs = with pkgs; [%s];
  }
`, list), nil
}

// Fingerprint computes a content-addressed identifier for the set of files
// nix_paths resolves to under workdir: glob-expand each entry, sort the
// resulting relative paths, and stream a SHA-1 over (path, sha1(contents))
// pairs for every file that exists. Entries that match nothing, or point at
// missing files, are silently skipped -- the original allows a Foxfile to
// list flake.lock speculatively even when the repo has no flake.
func Fingerprint(nixPaths []string, workdir string) (string, error) {
	var paths []string
	for _, entry := range nixPaths {
		if containsGlobMeta(entry) {
			matches, err := filepath.Glob(filepath.Join(workdir, entry))
			if err != nil {
				return "", fxerrors.Internal(err, "expanding glob %q", entry)
			}
			for _, m := range matches {
				rel, err := filepath.Rel(workdir, m)
				if err != nil {
					return "", fxerrors.Internal(err, "relativizing %q", m)
				}
				paths = append(paths, rel)
			}
		} else {
			paths = append(paths, entry)
		}
	}
	sort.Strings(paths)

	h := sha1.New()
	for _, p := range paths {
		full := filepath.Join(workdir, p)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		contents, err := os.ReadFile(full)
		if err != nil {
			return "", fxerrors.Internal(err, "reading %q", full)
		}
		h.Write([]byte(p))
		sum := sha1.Sum(contents)
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func containsGlobMeta(s string) bool {
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// ResolveEnv runs `nix print-dev-env` for either a flake reference
// (useFlakeRef != "") or the inline expression built from packages, captures
// the resulting shell environment, and strips the scratch-dir variables that
// don't make sense to replay outside that shell.
//
// profilePath is where nix print-dev-env should write its build profile;
// ResolveEnv does not build a GC root from it -- that's the profile cache's
// job once it decides the fingerprint is worth persisting.
func (r *Resolver) ResolveEnv(ctx context.Context, useFlakeRef string, packages []string, profilePath string) (map[string]string, error) {
	var cmdArgs []string
	if useFlakeRef != "" {
		cmdArgs = []string{useFlakeRef}
	} else {
		expr, err := NixShellExpr(packages)
		if err != nil {
			return nil, err
		}
		cmdArgs = []string{"--impure", "--expr", expr}
	}

	argv := append([]string{"nix", "print-dev-env", "--profile", profilePath}, cmdArgs...)
	rc, err := r.Exec(ctx, argv)
	if err != nil {
		return nil, fxerrors.Nix(err, "running nix print-dev-env")
	}

	envJSON, err := r.Exec(ctx, []string{"bash", "-c", rc + "\njq -n env"})
	if err != nil {
		return nil, fxerrors.Nix(err, "capturing shell environment")
	}

	var env map[string]string
	if err := json.Unmarshal([]byte(envJSON), &env); err != nil {
		return nil, fxerrors.Nix(err, "parsing shell environment json")
	}

	if top, ok := env["NIX_BUILD_TOP"]; ok {
		if info, statErr := os.Stat(top); statErr == nil && info.IsDir() {
			_ = os.RemoveAll(top)
		}
	}
	for _, v := range strippedVars {
		delete(env, v)
	}
	return env, nil
}
