package profilecache

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanutp/foxbuild/internal/process"
)

type fakeRunner struct {
	calls []process.Spec
}

func (f *fakeRunner) Run(ctx context.Context, spec process.Spec) (*process.Result, error) {
	f.calls = append(f.calls, spec)
	return &process.Result{ExitCode: 0}, nil
}

func TestGet_Miss(t *testing.T) {
	c := New(t.TempDir(), t.TempDir(), &fakeRunner{})
	env, ok, err := c.Get("nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, env)
}

func TestStoreThenGet_RoundTrips(t *testing.T) {
	runner := &fakeRunner{}
	c := New(t.TempDir(), t.TempDir(), runner)

	want := map[string]string{"FOO": "bar", "PATH": "/profile/bin"}
	require.NoError(t, c.Store(context.Background(), "abc123", want, "/tmp/some-profile"))

	got, ok, err := c.Get("abc123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"nix", "build", "--out-link", c.rootPath("abc123"), "/tmp/some-profile"}, runner.calls[0].Argv)
}

func TestStore_LeavesNoTempFilesBehind(t *testing.T) {
	profilesDir := t.TempDir()
	c := New(profilesDir, t.TempDir(), &fakeRunner{})

	require.NoError(t, c.Store(context.Background(), "fp", map[string]string{"A": "1"}, "/tmp/profile"))

	entries, err := os.ReadDir(profilesDir + "/tmp")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
