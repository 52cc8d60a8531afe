package foxfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PreservesWorkflowDeclarationOrder(t *testing.T) {
	data := []byte(`
stages:
  a:
    run: echo a
  b:
    run: echo b
  c:
    run: echo c
workflows:
  third:
    stages: [a]
  first:
    stages: [b]
  second:
    stages: [c]
`)
	ff, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "first", "second"}, ff.Workflows.Names())
}

func TestParse_UnknownStageInWorkflow(t *testing.T) {
	data := []byte(`
stages:
  a:
    run: echo a
workflows:
  main:
    stages: [a, missing]
`)
	_, err := Parse(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestParse_UnknownNeeds(t *testing.T) {
	data := []byte(`
stages:
  a:
    needs: ghost
    run: echo a
workflows: {}
`)
	_, err := Parse(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestUseFlake_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		wantKind UseFlakeKind
		wantRef  string
	}{
		{"true", "use_flake: true\n", UseFlakeDefault, ""},
		{"false", "use_flake: false\n", UseFlakeOff, ""},
		{"absent", "", UseFlakeOff, ""},
		{"ref", "use_flake: ./nix#ci\n", UseFlakeAt, "./nix#ci"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := []byte(tt.field + "stages: {}\nworkflows: {}\n")
			ff, err := Parse(doc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, ff.UseFlake.Kind)
			assert.Equal(t, tt.wantRef, ff.UseFlake.Ref)
		})
	}
}

func TestUseFlake_Validate_MutuallyExclusiveWithPackages(t *testing.T) {
	data := []byte(`
use_flake: true
packages: [hello]
stages: {}
workflows: {}
`)
	_, err := Parse(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "packages")
}

func TestUseFlake_Validate_RejectsEscapingPath(t *testing.T) {
	data := []byte(`
use_flake: "../../etc"
stages: {}
workflows: {}
`)
	_, err := Parse(data)
	require.Error(t, err)
}

func TestEnvSettings_Validate_RejectsBadPackageName(t *testing.T) {
	data := []byte(`
packages: ["not a package!"]
stages: {}
workflows: {}
`)
	_, err := Parse(data)
	require.Error(t, err)
}

func TestFoxfile_EffectiveNixPaths(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		ff := &Foxfile{}
		assert.Equal(t, []string{"flake.nix", "flake.lock", "shell.nix"}, ff.EffectiveNixPaths())
	})
	t.Run("override", func(t *testing.T) {
		paths := []string{"custom.nix"}
		ff := &Foxfile{NixPaths: &paths}
		assert.Equal(t, paths, ff.EffectiveNixPaths())
	})
	t.Run("explicit empty disables", func(t *testing.T) {
		paths := []string{}
		ff := &Foxfile{NixPaths: &paths}
		assert.Empty(t, ff.EffectiveNixPaths())
	})
}
