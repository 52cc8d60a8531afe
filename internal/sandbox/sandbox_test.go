package sandbox

import (
	"context"
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

func testConfig() Config {
	return Config{
		GlobalProfileDir: "/data/global-profile",
		NixCacheDir:      "/data/nix-cache",
		EmptyDir:         "/data/empty",
		Workdir:          "/workdir",
	}
}

func TestNew_RejectsOverlayAndWritableTogether(t *testing.T) {
	cfg := testConfig()
	cfg.OverlayNixCache = true
	cfg.WritableNixCache = true
	_, err := New(&fakeRunner{}, cfg)
	require.Error(t, err)
}

func TestBuildCmdPrefix_IncludesCoreBinds(t *testing.T) {
	sb, err := New(&fakeRunner{}, testConfig())
	require.NoError(t, err)
	defer sb.Cleanup(context.Background())

	prefix, err := sb.BuildCmdPrefix()
	require.NoError(t, err)

	joined := prefix
	assert.Contains(t, joined, "podman")
	assert.Contains(t, joined, "-v")
	assertHasArg(t, joined, "/data/global-profile:/profile:ro")
	assertHasArg(t, joined, "-w")
	assertHasArg(t, joined, "/workdir")
}

func TestBuildCmdPrefix_OverlayNixCacheIsReadOnly(t *testing.T) {
	cfg := testConfig()
	cfg.OverlayNixCache = true
	sb, err := New(&fakeRunner{}, cfg)
	require.NoError(t, err)
	defer sb.Cleanup(context.Background())

	prefix, err := sb.BuildCmdPrefix()
	require.NoError(t, err)
	assertHasArg(t, prefix, "/data/nix-cache:"+Home+"/.cache/nix:ro")
}

func TestBuildCmdPrefix_WritableNixCacheIsReadWrite(t *testing.T) {
	cfg := testConfig()
	cfg.WritableNixCache = true
	sb, err := New(&fakeRunner{}, cfg)
	require.NoError(t, err)
	defer sb.Cleanup(context.Background())

	prefix, err := sb.BuildCmdPrefix()
	require.NoError(t, err)
	assertHasArg(t, prefix, "/data/nix-cache:"+Home+"/.cache/nix")
	assertNotHasArg(t, prefix, "/data/nix-cache:"+Home+"/.cache/nix:ro")
}

func TestBuildCmdPrefix_AfterShutdownFails(t *testing.T) {
	sb, err := New(&fakeRunner{}, testConfig())
	require.NoError(t, err)
	require.NoError(t, sb.Cleanup(context.Background()))

	_, err = sb.BuildCmdPrefix()
	require.Error(t, err)
}

func TestAddEnvs_PrependsPathAndPinsForceEnv(t *testing.T) {
	sb, err := New(&fakeRunner{}, testConfig())
	require.NoError(t, err)
	defer sb.Cleanup(context.Background())

	sb.AddEnvs(map[string]string{
		"PATH": "/opt/bin",
		"HOME": "/should/not/apply",
		"FOO":  "bar",
	})

	prefix, err := sb.BuildCmdPrefix()
	require.NoError(t, err)
	assertHasArg(t, prefix, "HOME="+Home)
	assertHasArg(t, prefix, "FOO=bar")
	found := false
	for _, a := range prefix {
		if a == "PATH=/opt/bin:/bin:/profile/bin" {
			found = true
		}
	}
	assert.True(t, found, "expected PATH to be prepended, got %v", prefix)
}

func TestClearEnv_DropsAddedEnvs(t *testing.T) {
	sb, err := New(&fakeRunner{}, testConfig())
	require.NoError(t, err)
	defer sb.Cleanup(context.Background())

	sb.AddEnvs(map[string]string{"FOO": "bar"})
	sb.ClearEnv()

	prefix, err := sb.BuildCmdPrefix()
	require.NoError(t, err)
	assertNotHasArg(t, prefix, "FOO=bar")
}

func TestAddRemoveRWBind(t *testing.T) {
	sb, err := New(&fakeRunner{}, testConfig())
	require.NoError(t, err)
	defer sb.Cleanup(context.Background())

	sb.AddRWBind("/host/tmp", "/tmp/scratch")
	prefix, err := sb.BuildCmdPrefix()
	require.NoError(t, err)
	assertHasArg(t, prefix, "/host/tmp:/tmp/scratch")

	sb.RemoveRWBind("/host/tmp", "/tmp/scratch")
	prefix, err = sb.BuildCmdPrefix()
	require.NoError(t, err)
	assertNotHasArg(t, prefix, "/host/tmp:/tmp/scratch")
}

func assertHasArg(t *testing.T, argv []string, want string) {
	t.Helper()
	for _, a := range argv {
		if a == want {
			return
		}
	}
	t.Fatalf("expected argv %v to contain %q", argv, want)
}

func assertNotHasArg(t *testing.T, argv []string, unwanted string) {
	t.Helper()
	for _, a := range argv {
		if a == unwanted {
			t.Fatalf("expected argv %v to not contain %q", argv, unwanted)
		}
	}
}
