// Package profilecache persists resolved Nix shell environments to disk so a
// later stage run with an identical fingerprint can reuse the GC-rooted
// profile and its captured environment instead of rebuilding it.
package profilecache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/vanutp/foxbuild/internal/fxerrors"
	"github.com/vanutp/foxbuild/internal/process"
)

// Cache reads and writes entries under ProfilesDir, keyed by fingerprint.
// Each entry is a pair of files: "<fingerprint>.rc" (the captured
// environment, as JSON) and "<fingerprint>" (a GC-root symlink into the Nix
// store produced by `nix build --out-link`).
type Cache struct {
	ProfilesDir string
	Runner      process.Runner
	EmptyDir    string
}

// New returns a Cache rooted at profilesDir.
func New(profilesDir, emptyDir string, runner process.Runner) *Cache {
	return &Cache{ProfilesDir: profilesDir, Runner: runner, EmptyDir: emptyDir}
}

func (c *Cache) rcPath(fingerprint string) string {
	return filepath.Join(c.ProfilesDir, fingerprint+".rc")
}

func (c *Cache) rootPath(fingerprint string) string {
	return filepath.Join(c.ProfilesDir, fingerprint)
}

// Get returns the cached environment for fingerprint, if one was stored by a
// previous run. The second return value is false on a cache miss.
func (c *Cache) Get(fingerprint string) (map[string]string, bool, error) {
	data, err := os.ReadFile(c.rcPath(fingerprint))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fxerrors.Internal(err, "reading profile cache entry")
	}
	var env map[string]string
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fxerrors.Internal(err, "parsing profile cache entry")
	}
	return env, true, nil
}

// Store records env as the cached environment for fingerprint, and builds a
// GC root at profiles/<fingerprint> pointing at tmpProfile so the Nix store
// paths it references survive garbage collection. The .rc file is written to
// a temp file and renamed into place so a crash mid-write can never leave a
// truncated entry for a later Get to trip over.
func (c *Cache) Store(ctx context.Context, fingerprint string, env map[string]string, tmpProfile string) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fxerrors.Internal(err, "marshaling profile cache entry")
	}

	tmpDir := filepath.Join(c.ProfilesDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fxerrors.Internal(err, "creating profile cache tmp dir")
	}
	tmpFile, err := os.CreateTemp(tmpDir, fingerprint+".rc.*")
	if err != nil {
		return fxerrors.Internal(err, "creating temp profile cache entry")
	}
	tmpName := tmpFile.Name()
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpName)
		return fxerrors.Internal(err, "writing temp profile cache entry")
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpName)
		return fxerrors.Internal(err, "closing temp profile cache entry")
	}
	if err := os.Rename(tmpName, c.rcPath(fingerprint)); err != nil {
		os.Remove(tmpName)
		return fxerrors.Internal(err, "renaming profile cache entry into place")
	}

	_, err = process.Check(ctx, c.Runner, process.Spec{
		Argv: []string{"nix", "build", "--out-link", c.rootPath(fingerprint), tmpProfile},
		Dir:  c.EmptyDir,
	})
	if err != nil {
		return fxerrors.Nix(err, "building gc root for profile %s", fingerprint)
	}
	return nil
}
