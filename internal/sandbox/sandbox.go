// Package sandbox builds the `podman run` command prefix that isolates a
// stage's process from the host filesystem inside a throwaway container,
// with the in-container `bwrap-wrapper` performing the final uid/gid drop.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vanutp/foxbuild/internal/fxerrors"
	"github.com/vanutp/foxbuild/internal/process"
)

const (
	// Home is the HOME exposed inside the sandbox, independent of the host user.
	Home = "/home/build"
	// containersDir is where podman's per-run storage lives inside the sandbox.
	containersDir = Home + "/.local/share/containers"
)

// Bind is a single bind-mount from a host path to a sandbox path.
type Bind struct {
	Src string
	Dst string
}

// Config configures a Sandbox at construction time.
type Config struct {
	GlobalProfileDir string
	NixCacheDir      string
	EmptyDir         string
	// OverlayNixCache mounts NixCacheDir read-only and tells bwrap-wrapper to
	// stack a writable overlay over it. Mutually exclusive with
	// WritableNixCache.
	OverlayNixCache bool
	// WritableNixCache bind-mounts NixCacheDir read-write, used only by the
	// one-shot setup routine that primes the shared cache.
	WritableNixCache bool
	Workdir          string
	Image            string
}

// Sandbox builds and tracks the podman argv prefix for one stage
// execution. It is not safe for concurrent use and must be built fresh per
// stage; Cleanup makes it unusable.
type Sandbox struct {
	runner process.Runner

	roBinds []Bind
	rwBinds []Bind
	env     map[string]string

	uid, gid int
	workdir  string
	overlay  bool
	tmpfses  []string
	image    string

	emptyDir string

	// UnsafeRunAsRoot disables privilege drop in BuildCmdPrefix for as long
	// as it is set. Used only to rm -rf the stage's own sandboxed files during
	// cleanup, where the files may be owned by uid 0 from inside the sandbox.
	UnsafeRunAsRoot bool

	containerTmp string
	shutdown     bool
}

// New constructs a Sandbox. overlay_nix_cache and writable_nix_cache are
// mutually exclusive.
func New(runner process.Runner, cfg Config) (*Sandbox, error) {
	if cfg.OverlayNixCache && cfg.WritableNixCache {
		return nil, fxerrors.New(fxerrors.CodeInternal, "overlay and writable nix cache are mutually exclusive")
	}

	containerTmp, err := os.MkdirTemp("", "foxbuild-sandbox-")
	if err != nil {
		return nil, fxerrors.Sandbox(err, "creating sandbox scratch dir")
	}

	s := &Sandbox{
		runner:       runner,
		uid:          1000,
		gid:          100,
		workdir:      cfg.Workdir,
		tmpfses:      []string{"/tmp", "/var/tmp", "/dev/shm", "/run/user/1000"},
		image:        nonEmpty(cfg.Image, "empty"),
		emptyDir:     cfg.EmptyDir,
		containerTmp: containerTmp,
	}
	s.roBinds = []Bind{
		{"/nix/store", "/nix/store"},
		{"/nix/var/nix/daemon-socket", "/nix/var/nix/daemon-socket"},
		{cfg.GlobalProfileDir, "/profile"},
		{filepath.Join(cfg.GlobalProfileDir, "bin/sh"), "/bin/sh"},
		{filepath.Join(cfg.GlobalProfileDir, "bin/env"), "/usr/bin/env"},
	}
	s.rwBinds = []Bind{{containerTmp, containersDir}}
	s.ClearEnv()

	nixCacheBind := Bind{cfg.NixCacheDir, Home + "/.cache/nix"}
	switch {
	case cfg.OverlayNixCache:
		s.roBinds = append(s.roBinds, nixCacheBind)
		s.overlay = true
	case cfg.WritableNixCache:
		s.rwBinds = append(s.rwBinds, nixCacheBind)
	}

	return s, nil
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// AddRWBind appends a read-write bind mount.
func (s *Sandbox) AddRWBind(src, dst string) {
	s.rwBinds = append(s.rwBinds, Bind{src, dst})
}

// RemoveRWBind removes a previously added read-write bind mount. A no-op if
// the bind isn't present.
func (s *Sandbox) RemoveRWBind(src, dst string) {
	for i, b := range s.rwBinds {
		if b.Src == src && b.Dst == dst {
			s.rwBinds = append(s.rwBinds[:i], s.rwBinds[i+1:]...)
			return
		}
	}
}

// ForceEnv returns the environment variables that AddEnvs can never override.
func ForceEnv() map[string]string {
	return map[string]string{
		"HOME":       Home,
		"NIX_REMOTE": "daemon",
	}
}

// ClearEnv resets the sandbox's environment to FORCE_ENV plus a bare PATH.
func (s *Sandbox) ClearEnv() {
	s.env = ForceEnv()
	s.env["PATH"] = "/bin:/profile/bin"
}

// AddEnvs merges additional variables in, prepending to PATH instead of
// overwriting it and silently dropping anything FORCE_ENV already pins.
func (s *Sandbox) AddEnvs(envs map[string]string) {
	force := ForceEnv()
	for k, v := range envs {
		if k == "PATH" {
			s.env[k] = v + ":" + s.env["PATH"]
			continue
		}
		if _, pinned := force[k]; pinned {
			continue
		}
		s.env[k] = v
	}
}

// BuildCmdPrefix returns the podman argv that, prepended to a command,
// executes it inside the sandbox.
func (s *Sandbox) BuildCmdPrefix() ([]string, error) {
	if s.shutdown {
		return nil, fxerrors.New(fxerrors.CodeShutdown, "sandbox is shut down")
	}

	res := []string{
		"podman",
		"--url=unix:///run/podman/podman.sock",
		"run",
		"--rm",
		"--cap-add=SYS_ADMIN",
	}
	for _, tmpfs := range s.tmpfses {
		res = append(res, "--mount", fmt.Sprintf("type=tmpfs,destination=%s", tmpfs))
	}
	if s.workdir != "" {
		res = append(res, "-w", s.workdir)
	}
	for _, b := range s.roBinds {
		res = append(res, "-v", fmt.Sprintf("%s:%s:ro", b.Src, b.Dst))
	}
	for _, b := range s.rwBinds {
		res = append(res, "-v", fmt.Sprintf("%s:%s", b.Src, b.Dst))
	}
	for k, v := range s.env {
		res = append(res, "-e", k+"="+v)
	}

	res = append(res, s.image)
	if !s.UnsafeRunAsRoot {
		res = append(res, "bwrap-wrapper", strconv.Itoa(s.uid), strconv.Itoa(s.gid), strconv.FormatBool(s.overlay))
	}
	return res, nil
}

// Cleanup removes the sandbox's per-run scratch state and marks it unusable.
// Any remaining contents under the container's podman storage directory are
// removed as root, since the sandboxed process may have left root-owned
// files there.
func (s *Sandbox) Cleanup(ctx context.Context) error {
	s.UnsafeRunAsRoot = true
	prefix, err := s.BuildCmdPrefix()
	if err != nil {
		return err
	}
	s.shutdown = true

	entries, err := os.ReadDir(s.containerTmp)
	if err != nil {
		return fxerrors.Sandbox(err, "reading sandbox scratch dir")
	}
	var dirs []string
	for _, e := range entries {
		dirs = append(dirs, filepath.Join(containersDir, e.Name()))
	}

	s.ClearEnv()
	if len(dirs) > 0 {
		argv := append(append(prefix, "rm", "-rf"), dirs...)
		if _, err := process.Check(ctx, s.runner, process.Spec{
			Argv: argv,
			Dir:  s.emptyDir,
		}); err != nil {
			return fxerrors.Sandbox(err, "cleaning up sandbox storage")
		}
	}
	return os.Remove(s.containerTmp)
}
