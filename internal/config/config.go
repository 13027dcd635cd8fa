package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile      = "FLUTTERBOX_CONFIG"
	defaultPort        = "8000"
	defaultDataDir     = "./data"
	defaultWorkspaces  = "./workspaces"
	defaultTemplateDir = "./templates/blank"
	defaultFlutterBin  = "flutter"
	defaultCacheEnv    = "PUB_CACHE"
	defaultCacheDir    = ".pub-cache"
	defaultOutputDir   = "build/web"
	defaultShutdown    = 30 * time.Second
)

// Config holds the configuration for the API server. It is loaded once in main
// and passed by pointer to every component that needs it.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Build     BuildConfig     `yaml:"build"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	DataDir         string        `yaml:"dataDir"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// DrainDelay is how long readiness reports draining before the listener closes.
	DrainDelay time.Duration `yaml:"drainDelay"`
}

type WorkspaceConfig struct {
	// Root is the parent directory holding one sub-directory per workspace.
	Root        string `yaml:"root"`
	TemplateDir string `yaml:"templateDir"`
	// Scaffold runs once inside a freshly copied workspace. Empty disables it.
	Scaffold []string `yaml:"scaffold"`
}

type BuildConfig struct {
	Fetch []string `yaml:"fetch"`
	Build []string `yaml:"build"`
	// CacheEnv names the environment variable pointed at CacheDir inside the workspace.
	CacheEnv  string `yaml:"cacheEnv"`
	CacheDir  string `yaml:"cacheDir"`
	OutputDir string `yaml:"outputDir"`
	// Timeout bounds a whole build run. Zero means no limit.
	Timeout   time.Duration `yaml:"timeout"`
	Exclusive *bool         `yaml:"exclusive"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"filePath"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   *bool  `yaml:"compress"`
	AddSource  bool   `yaml:"addSource"`
}

// IsExclusive reports whether builds of one workspace are serialized.
func (c BuildConfig) IsExclusive() bool {
	return c.Exclusive == nil || *c.Exclusive
}

// Load reads the optional YAML file named by FLUTTERBOX_CONFIG, applies
// environment overrides and fills defaults.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvConfigFile))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Build.OutputDir = strings.TrimRight(filepath.ToSlash(cfg.Build.OutputDir), "/")
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := getenv("DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := getenv("WORKSPACES_DIR"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := getenv("TEMPLATE_DIR"); v != "" {
		cfg.Workspace.TemplateDir = v
	}
	if v := getenv("FLUTTER_BIN"); v != "" {
		cfg.Workspace.Scaffold = replaceBin(cfg.Workspace.Scaffold, v)
		cfg.Build.Fetch = replaceBin(cfg.Build.Fetch, v)
		cfg.Build.Build = replaceBin(cfg.Build.Build, v)
		if len(cfg.Workspace.Scaffold) == 0 {
			cfg.Workspace.Scaffold = defaultScaffold(v)
		}
		if len(cfg.Build.Fetch) == 0 {
			cfg.Build.Fetch = defaultFetch(v)
		}
		if len(cfg.Build.Build) == 0 {
			cfg.Build.Build = defaultBuild(v)
		}
	}
	if v := getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", v, err)
		}
		cfg.Server.ShutdownTimeout = d
	}
	if v := getenv("BUILD_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid BUILD_TIMEOUT %q: %w", v, err)
		}
		cfg.Build.Timeout = d
	}
	if v := getenv("BUILD_EXCLUSIVE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BUILD_EXCLUSIVE %q: %w", v, err)
		}
		cfg.Build.Exclusive = &b
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := getenv("LOG_OUTPUT"); v != "" {
		cfg.Log.Output = v
	}
	if v := getenv("LOG_FILE_PATH"); v != "" {
		cfg.Log.FilePath = v
	}
	cfg.Log.MaxSizeMB = getenvInt("LOG_FILE_MAX_SIZE_MB", cfg.Log.MaxSizeMB)
	cfg.Log.MaxBackups = getenvInt("LOG_FILE_MAX_BACKUPS", cfg.Log.MaxBackups)
	cfg.Log.MaxAgeDays = getenvInt("LOG_FILE_MAX_AGE_DAYS", cfg.Log.MaxAgeDays)
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = defaultPort
	}
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = defaultDataDir
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = defaultShutdown
	}
	if cfg.Server.DrainDelay < 0 {
		cfg.Server.DrainDelay = 0
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = defaultWorkspaces
	}
	if cfg.Workspace.TemplateDir == "" {
		cfg.Workspace.TemplateDir = defaultTemplateDir
	}
	if cfg.Workspace.Scaffold == nil {
		cfg.Workspace.Scaffold = defaultScaffold(defaultFlutterBin)
	}
	if len(cfg.Build.Fetch) == 0 {
		cfg.Build.Fetch = defaultFetch(defaultFlutterBin)
	}
	if len(cfg.Build.Build) == 0 {
		cfg.Build.Build = defaultBuild(defaultFlutterBin)
	}
	if cfg.Build.CacheEnv == "" {
		cfg.Build.CacheEnv = defaultCacheEnv
	}
	if cfg.Build.CacheDir == "" {
		cfg.Build.CacheDir = defaultCacheDir
	}
	if cfg.Build.OutputDir == "" {
		cfg.Build.OutputDir = defaultOutputDir
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if len(c.Build.Fetch) == 0 || c.Build.Fetch[0] == "" {
		return errors.New("build.fetch command is required")
	}
	if len(c.Build.Build) == 0 || c.Build.Build[0] == "" {
		return errors.New("build.build command is required")
	}
	if filepath.IsAbs(c.Build.CacheDir) || strings.Contains(c.Build.CacheDir, "..") {
		return fmt.Errorf("build.cacheDir must be relative to the workspace: %q", c.Build.CacheDir)
	}
	if filepath.IsAbs(c.Build.OutputDir) || strings.HasPrefix(filepath.ToSlash(c.Build.OutputDir), "/") || strings.Contains(c.Build.OutputDir, "..") {
		return fmt.Errorf("build.outputDir must be relative to the workspace: %q", c.Build.OutputDir)
	}
	if c.Build.Timeout < 0 {
		return fmt.Errorf("build.timeout must not be negative: %s", c.Build.Timeout)
	}
	return nil
}

// DBPath is the sqlite file holding workspace metadata.
func (c *Config) DBPath() string {
	return filepath.Join(c.Server.DataDir, "flutterbox.db")
}

func defaultScaffold(bin string) []string {
	return []string{bin, "create", ".", "--platforms", "web"}
}

func defaultFetch(bin string) []string {
	return []string{bin, "pub", "get"}
}

func defaultBuild(bin string) []string {
	return []string{bin, "build", "web", "--release", "--pwa-strategy=none"}
}

func replaceBin(cmd []string, bin string) []string {
	if len(cmd) == 0 {
		return cmd
	}
	out := append([]string(nil), cmd...)
	out[0] = bin
	return out
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func getenvInt(key string, fallback int) int {
	v := getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
