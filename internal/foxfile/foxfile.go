// Package foxfile defines the Foxfile document schema: the stages and
// workflows a repository declares, and the Nix/container environment each
// stage runs in.
package foxfile

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vanutp/foxbuild/internal/fxerrors"
)

// DefaultImage is the pseudo-image name meaning "run directly in the
// sandbox, no container image pull needed".
const DefaultImage = "empty"

var packageNameRe = regexp.MustCompile(`^[a-zA-Z_][\w-]+$`)

// UseFlakeKind distinguishes the three ways a stage can ask for a flake
// devShell: none, the default flake in the repo root, or an explicit flake
// reference (optionally with a `#attr` suffix).
type UseFlakeKind int

const (
	UseFlakeOff UseFlakeKind = iota
	UseFlakeDefault
	UseFlakeAt
)

// UseFlake is a sum type mirroring the Foxfile's `use_flake: true | false |
// "<ref>"` field. The YAML original overloads a single value across three
// meanings; modeling it as a Go sum type at parse time means nothing
// downstream has to re-derive which case it's in from a bool-or-string.
type UseFlake struct {
	Kind UseFlakeKind
	Ref  string
}

// Resolved returns the flake reference to pass to `nix print-dev-env`, or ""
// if use_flake is off.
func (u UseFlake) Resolved() string {
	switch u.Kind {
	case UseFlakeDefault:
		return "."
	case UseFlakeAt:
		return u.Ref
	default:
		return ""
	}
}

func (u UseFlake) On() bool {
	return u.Kind != UseFlakeOff
}

// UnmarshalYAML accepts a bool, an empty/missing value, or a string.
func (u *UseFlake) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!bool":
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		if b {
			*u = UseFlake{Kind: UseFlakeDefault}
		} else {
			*u = UseFlake{Kind: UseFlakeOff}
		}
		return nil
	case "!!str":
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		if s == "" {
			*u = UseFlake{Kind: UseFlakeOff}
			return nil
		}
		*u = UseFlake{Kind: UseFlakeAt, Ref: s}
		return nil
	case "!!null":
		*u = UseFlake{Kind: UseFlakeOff}
		return nil
	default:
		return fmt.Errorf("use_flake must be a bool or a string, got %s", value.Tag)
	}
}

// validate enforces the same rules as the original's field validator: the
// flake path component must not escape the repo root, and use_flake is
// mutually exclusive with nixpkgs/packages.
func (u UseFlake) validate(nixpkgs string, packages []string) error {
	if !u.On() {
		return nil
	}
	ref := u.Resolved()
	flakePath, _, _ := strings.Cut(ref, "#")
	cleaned := path.Clean(path.Join("/repo", flakePath))
	if cleaned != "/repo" && !strings.HasPrefix(cleaned, "/repo/") {
		return fmt.Errorf("use_flake path must be relative to the repo root")
	}
	if nixpkgs != "" {
		return fmt.Errorf("nixpkgs is incompatible with use_flake")
	}
	if len(packages) > 0 {
		return fmt.Errorf("packages is incompatible with use_flake")
	}
	return nil
}

// EnvSettings configures the Nix/container environment a stage (or the whole
// Foxfile, as defaults) runs in. StageRunner treats a field's zero value as
// "unset, inherit from root": a stage's `use_flake: false`, empty nixpkgs or
// empty image therefore does not clear a value set at the root. Only Packages
// tells an absent key (nil) apart from an explicit empty list.
type EnvSettings struct {
	UseFlake UseFlake `yaml:"use_flake"`
	Nixpkgs  string   `yaml:"nixpkgs"`
	Packages []string `yaml:"packages"`
	Image    string   `yaml:"image"`
}

func (e EnvSettings) validate() error {
	if err := e.UseFlake.validate(e.Nixpkgs, e.Packages); err != nil {
		return err
	}
	for _, p := range e.Packages {
		if !packageNameRe.MatchString(p) {
			return fmt.Errorf("invalid package name %q", p)
		}
	}
	return nil
}

// StageDef is a single named build step.
type StageDef struct {
	EnvSettings `yaml:",inline"`
	If          string `yaml:"if"`
	Needs       string `yaml:"needs"`
	Run         string `yaml:"run"`
}

// WorkflowDef groups an ordered list of stage names to run sequentially.
type WorkflowDef struct {
	If     string   `yaml:"if"`
	Stages []string `yaml:"stages"`
}

// WorkflowMap holds the Foxfile's workflows in declaration order. A plain
// Go map would lose that order on unmarshal, but the orchestrator runs
// workflows strictly in the sequence they appear in foxfile.yml, so the
// order has to survive parsing.
type WorkflowMap struct {
	names []string
	defs  map[string]WorkflowDef
}

// UnmarshalYAML walks the mapping node directly instead of decoding into a
// Go map, since map iteration order in Go is randomized.
func (m *WorkflowMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("workflows must be a mapping")
	}
	m.defs = make(map[string]WorkflowDef, len(value.Content)/2)
	for i := 0; i < len(value.Content); i += 2 {
		var name string
		if err := value.Content[i].Decode(&name); err != nil {
			return err
		}
		var def WorkflowDef
		if err := value.Content[i+1].Decode(&def); err != nil {
			return err
		}
		m.names = append(m.names, name)
		m.defs[name] = def
	}
	return nil
}

// Names returns the workflow names in declaration order.
func (m WorkflowMap) Names() []string {
	return m.names
}

// Get returns the workflow def for name, and whether it was present.
func (m WorkflowMap) Get(name string) (WorkflowDef, bool) {
	def, ok := m.defs[name]
	return def, ok
}

// Len returns the number of workflows.
func (m WorkflowMap) Len() int {
	return len(m.names)
}

// Foxfile is the root document parsed from foxfile.yml.
type Foxfile struct {
	EnvSettings `yaml:",inline"`
	// NixPaths lists the files (glob patterns allowed) whose content feeds
	// the profile-cache fingerprint. A nil value (key absent) falls back to
	// the default below; an explicit empty list disables fingerprinting. An
	// explicit `nix_paths: null` decodes the same as an absent key.
	NixPaths  *[]string           `yaml:"nix_paths"`
	Stages    map[string]StageDef `yaml:"stages"`
	Workflows WorkflowMap         `yaml:"workflows"`
}

var defaultNixPaths = []string{"flake.nix", "flake.lock", "shell.nix"}

// EffectiveNixPaths returns NixPaths if set, else the default set of files
// fingerprinted for profile caching.
func (f *Foxfile) EffectiveNixPaths() []string {
	if f.NixPaths != nil {
		return *f.NixPaths
	}
	return defaultNixPaths
}

// Parse decodes and validates a Foxfile document.
func Parse(data []byte) (*Foxfile, error) {
	var f Foxfile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fxerrors.Configuration("parsing foxfile.yml: %v", err)
	}
	if err := f.validate(); err != nil {
		return nil, fxerrors.Configuration("invalid foxfile.yml: %v", err)
	}
	return &f, nil
}

func (f *Foxfile) validate() error {
	if err := f.EnvSettings.validate(); err != nil {
		return err
	}
	for name, stage := range f.Stages {
		if err := stage.EnvSettings.validate(); err != nil {
			return fmt.Errorf("stage %q: %w", name, err)
		}
		if stage.Needs != "" {
			if _, ok := f.Stages[stage.Needs]; !ok {
				return fmt.Errorf("stage %q: needs references unknown stage %q", name, stage.Needs)
			}
		}
	}
	for _, name := range f.Workflows.Names() {
		wf, _ := f.Workflows.Get(name)
		for _, stageName := range wf.Stages {
			if _, ok := f.Stages[stageName]; !ok {
				return fmt.Errorf("workflow %q: references unknown stage %q", name, stageName)
			}
		}
	}
	return nil
}
