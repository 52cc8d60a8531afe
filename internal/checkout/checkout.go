// Package checkout materializes a repository at a specific commit into a
// stage's working directory, via a local bare "mirror" clone that is reused
// (fetched, not re-cloned) across runs of the same repository.
package checkout

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/vanutp/foxbuild/internal/fxerrors"
	"github.com/vanutp/foxbuild/internal/process"
)

// Request describes one checkout.
type Request struct {
	Provider  string
	RepoName  string
	CloneURL  string
	CommitSHA string
	// Dest is the directory the commit is checked out into. Must exist and
	// be empty.
	Dest string
}

// Checkout clones (or reuses) a provider/repo mirror and checks out a commit
// into a stage workdir.
type Checkout struct {
	ReposDir string
	Runner   process.Runner

	mu      sync.Mutex
	mirrors map[string]*sync.Mutex
}

// New returns a Checkout rooted at reposDir.
func New(reposDir string, runner process.Runner) *Checkout {
	return &Checkout{
		ReposDir: reposDir,
		Runner:   runner,
		mirrors:  make(map[string]*sync.Mutex),
	}
}

// mirrorLock returns the mutex guarding the mirror clone for (provider, repo),
// creating it if necessary. The original implementation this was ported from
// had no such lock and could corrupt a mirror clone if two runs for the same
// repository landed concurrently; every caller here must hold it for the
// whole fetch-or-clone-then-read sequence.
func (c *Checkout) mirrorLock(provider, repoName string) *sync.Mutex {
	key := provider + "/" + repoName
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.mirrors[key]
	if !ok {
		lock = &sync.Mutex{}
		c.mirrors[key] = lock
	}
	return lock
}

// Run performs the checkout: a bare mirror clone (created once, fetched on
// reuse) under ReposDir/<provider>/<repo>, followed by a cheap local clone
// into req.Dest and a detached switch to req.CommitSHA.
func (c *Checkout) Run(ctx context.Context, req Request) error {
	lock := c.mirrorLock(req.Provider, req.RepoName)
	lock.Lock()
	defer lock.Unlock()

	mirrorPath := filepath.Join(c.ReposDir, req.Provider, req.RepoName)

	if dirExists(mirrorPath) {
		if _, err := process.Check(ctx, c.Runner, process.Spec{
			Argv: []string{"git", "remote", "set-url", "origin", req.CloneURL},
			Dir:  mirrorPath,
		}); err != nil {
			return fxerrors.Checkout(err, "updating mirror remote for %s", req.RepoName)
		}
		if _, err := process.Check(ctx, c.Runner, process.Spec{
			Argv: []string{"git", "fetch"},
			Dir:  mirrorPath,
		}); err != nil {
			return fxerrors.Checkout(err, "fetching mirror for %s", req.RepoName)
		}
	} else {
		if err := mkdirAll(mirrorPath); err != nil {
			return fxerrors.Checkout(err, "creating mirror dir for %s", req.RepoName)
		}
		if _, err := process.Check(ctx, c.Runner, process.Spec{
			Argv: []string{"git", "clone", "--mirror", req.CloneURL, "."},
			Dir:  mirrorPath,
		}); err != nil {
			return fxerrors.Checkout(err, "cloning mirror for %s", req.RepoName)
		}
	}

	if _, err := process.Check(ctx, c.Runner, process.Spec{
		Argv: []string{"git", "clone", mirrorPath, "."},
		Dir:  req.Dest,
	}); err != nil {
		return fxerrors.Checkout(err, "cloning %s into workdir", req.RepoName)
	}
	if _, err := process.Check(ctx, c.Runner, process.Spec{
		Argv: []string{"git", "switch", "-d", req.CommitSHA},
		Dir:  req.Dest,
	}); err != nil {
		return fxerrors.Checkout(err, "checking out %s at %s", req.RepoName, req.CommitSHA)
	}
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}
