// Package config provides layered configuration for foxbuild: a YAML file under
// XDG_CONFIG_HOME, overridden by FOXBUILD_-prefixed environment variables.
package config

import (
	"crypto/rsa"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"
)

// Mode selects whether foxbuild drives stages in-process or serves GitHub webhooks.
type Mode string

const (
	// ModeLocal runs a single Foxfile against one commit and exits.
	ModeLocal Mode = "local"
	// ModeStandalone serves a webhook listener that schedules runs from GitHub events.
	ModeStandalone Mode = "standalone"
)

// Config holds all configuration for foxbuild.
type Config struct {
	Host  string
	Port  int
	Debug bool

	DataDir          string
	RunsDir          string
	ReposDir         string
	ProfilesDir      string
	GlobalProfileDir string
	NixCacheDir      string
	EmptyDir         string

	Mode             Mode
	AlwaysUseSandbox bool

	GHAppID int64
	GHKey   *rsa.PrivateKey

	ShutdownTimeout time.Duration
}

// fileConfig mirrors the subset of Config that may be set from the YAML file.
type fileConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Debug            bool   `yaml:"debug"`
	DataDir          string `yaml:"data_dir"`
	RunsDir          string `yaml:"runs_dir"`
	ReposDir         string `yaml:"repos_dir"`
	ProfilesDir      string `yaml:"profiles_dir"`
	GlobalProfileDir string `yaml:"global_profile_dir"`
	NixCacheDir      string `yaml:"nix_cache_dir"`
	EmptyDir         string `yaml:"empty_dir"`
	Mode             string `yaml:"mode"`
	AlwaysUseSandbox *bool  `yaml:"always_use_sandbox"`
	GHAppID          int64  `yaml:"gh_app_id"`
	GHKey            string `yaml:"gh_key"`
}

// Load reads config.yml from XDG_CONFIG_HOME/foxbuild (if present), layers
// FOXBUILD_-prefixed environment variables on top, fills in the directory
// defaults derived from data_dir and creates them (except global_profile_dir,
// which is populated lazily by the one-shot setup routine), and defaults mode
// based on whether isServerCmd indicates the process was invoked as `foxbuild server`.
func Load(isServerCmd bool) (*Config, error) {
	fc, err := loadFile()
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Host:  getEnv("FOXBUILD_HOST", fc.Host),
		Port:  getIntEnv("FOXBUILD_PORT", fc.Port),
		Debug: getBoolEnv("FOXBUILD_DEBUG", fc.Debug),

		DataDir: getEnv("FOXBUILD_DATA_DIR", fc.DataDir),

		ShutdownTimeout: getDurationEnv("FOXBUILD_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required")
	}
	abs, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data_dir: %w", err)
	}
	cfg.DataDir = abs

	cfg.Mode = Mode(getEnv("FOXBUILD_MODE", fc.Mode))
	if cfg.Mode == "" {
		if isServerCmd {
			cfg.Mode = ModeStandalone
		} else {
			cfg.Mode = ModeLocal
		}
	}

	cfg.AlwaysUseSandbox = fc.AlwaysUseSandbox != nil && *fc.AlwaysUseSandbox
	if v, ok := os.LookupEnv("FOXBUILD_ALWAYS_USE_SANDBOX"); ok {
		cfg.AlwaysUseSandbox = v == "1" || v == "true"
	} else if fc.AlwaysUseSandbox == nil {
		cfg.AlwaysUseSandbox = cfg.Mode == ModeStandalone
	}

	cfg.RunsDir, err = defaultDir(cfg.DataDir, "runs", getEnv("FOXBUILD_RUNS_DIR", fc.RunsDir), true)
	if err != nil {
		return nil, err
	}
	cfg.ReposDir, err = defaultDir(cfg.DataDir, "repos", getEnv("FOXBUILD_REPOS_DIR", fc.ReposDir), true)
	if err != nil {
		return nil, err
	}
	cfg.ProfilesDir, err = defaultDir(cfg.DataDir, "profiles", getEnv("FOXBUILD_PROFILES_DIR", fc.ProfilesDir), true)
	if err != nil {
		return nil, err
	}
	cfg.GlobalProfileDir, err = defaultDir(cfg.DataDir, "global-profile", getEnv("FOXBUILD_GLOBAL_PROFILE_DIR", fc.GlobalProfileDir), false)
	if err != nil {
		return nil, err
	}
	cfg.NixCacheDir, err = defaultDir(cfg.DataDir, "nix-cache", getEnv("FOXBUILD_NIX_CACHE_DIR", fc.NixCacheDir), true)
	if err != nil {
		return nil, err
	}
	cfg.EmptyDir, err = defaultDir(cfg.DataDir, "empty", getEnv("FOXBUILD_EMPTY_DIR", fc.EmptyDir), true)
	if err != nil {
		return nil, err
	}
	// profiles/tmp holds partially-written .rc files before rename.
	if err := os.MkdirAll(filepath.Join(cfg.ProfilesDir, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("creating profiles/tmp: %w", err)
	}

	cfg.GHAppID = getInt64Env("FOXBUILD_GH_APP_ID", fc.GHAppID)
	keyPEM := getEnv("FOXBUILD_GH_KEY", fc.GHKey)
	if keyPEM != "" {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(keyPEM))
		if err != nil {
			return nil, fmt.Errorf("parsing gh_key: %w", err)
		}
		cfg.GHKey = key
	}

	if cfg.Mode == ModeStandalone && (cfg.GHAppID == 0 || cfg.GHKey == nil) {
		return nil, fmt.Errorf("gh_app_id and gh_key are required in standalone mode")
	}

	return cfg, nil
}

func loadFile() (fileConfig, error) {
	var fc fileConfig
	home := os.Getenv("XDG_CONFIG_HOME")
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return fc, nil
		}
		home = filepath.Join(dir, ".config")
	}
	path := filepath.Join(home, "foxbuild", "config.yml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fc, nil
	}
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parsing %s: %w", path, err)
	}
	return fc, nil
}

func defaultDir(dataDir, name, override string, create bool) (string, error) {
	dir := override
	if dir == "" {
		dir = filepath.Join(dataDir, name)
	}
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return dir, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
