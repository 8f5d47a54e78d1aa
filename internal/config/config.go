package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/modsync/internal/scan"
	"github.com/schaermu/modsync/internal/state"
)

// Default values applied to zero fields.
const (
	DefaultTimeout              = 5 * time.Minute
	DefaultListenAddr           = ":8080"
	DefaultPublisherProfileName = "publisher_profile.json"
)

// Config represents the complete modsync configuration
type Config struct {
	Paths PathsConfig `yaml:"paths"`
	HTTP  HTTPConfig  `yaml:"http"`
	Scan  ScanConfig  `yaml:"scan"`
	Serve ServeConfig `yaml:"serve"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	RootDir          string `yaml:"root_dir"`
	StateFile        string `yaml:"state_file"`
	SkipFlag         string `yaml:"skip_flag"`
	PublisherProfile string `yaml:"publisher_profile"`
}

// HTTPConfig configures the download client
type HTTPConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	UserAgent         string        `yaml:"user_agent"`
	MaxBytesPerSecond int64         `yaml:"max_bytes_per_second"`
}

// ScanConfig configures the untracked file scan
type ScanConfig struct {
	ExtraRoots []string `yaml:"extra_roots"`
}

// ServeConfig configures the origin server
type ServeConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ListenAddr        string `yaml:"listen_addr"`
	PublishDir        string `yaml:"publish_dir"`
	RebuildSecretFile string `yaml:"rebuild_secret_file"`
}

// executableDir is the default install root. Replaced in tests.
var executableDir = func() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// DefaultPath returns the config file location below the XDG config home.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "modsync", "config.yaml")
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return finish(&cfg)
}

// LoadOrDefault loads path, falling back to the defaults when the file does not
// exist. Any other error is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return Default()
	}
	return nil, err
}

// Default returns a validated configuration with every default applied.
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	cfg.expandEnv()

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.RootDir = os.ExpandEnv(c.Paths.RootDir)
	c.Paths.StateFile = os.ExpandEnv(c.Paths.StateFile)
	c.Paths.SkipFlag = os.ExpandEnv(c.Paths.SkipFlag)
	c.Paths.PublisherProfile = os.ExpandEnv(c.Paths.PublisherProfile)
	c.HTTP.UserAgent = os.ExpandEnv(c.HTTP.UserAgent)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.PublishDir = os.ExpandEnv(c.Serve.PublishDir)
	c.Serve.RebuildSecretFile = os.ExpandEnv(c.Serve.RebuildSecretFile)
	for i, r := range c.Scan.ExtraRoots {
		c.Scan.ExtraRoots[i] = os.ExpandEnv(r)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() error {
	if c.Paths.RootDir == "" {
		dir, err := executableDir()
		if err != nil {
			return fmt.Errorf("failed to determine install root: %w", err)
		}
		c.Paths.RootDir = dir
	}
	if c.Paths.StateFile == "" {
		c.Paths.StateFile = filepath.Join(c.Paths.RootDir, state.DefaultFileName)
	}
	if c.Paths.SkipFlag == "" {
		c.Paths.SkipFlag = filepath.Join(c.Paths.RootDir, state.DefaultSkipFlagName)
	}
	if c.Paths.PublisherProfile == "" {
		c.Paths.PublisherProfile = filepath.Join(c.Paths.RootDir, DefaultPublisherProfileName)
	}
	c.Paths.StateFile = c.underRoot(c.Paths.StateFile)
	c.Paths.SkipFlag = c.underRoot(c.Paths.SkipFlag)
	c.Paths.PublisherProfile = c.underRoot(c.Paths.PublisherProfile)
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = DefaultTimeout
	}
	if c.Scan.ExtraRoots == nil {
		c.Scan.ExtraRoots = append([]string(nil), scan.DefaultExtraRoots...)
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = DefaultListenAddr
	}
	return nil
}

// underRoot resolves a relative path against the install root.
func (c *Config) underRoot(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.RootDir, p)
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Paths.RootDir == "" {
		return fmt.Errorf("paths.root_dir is required")
	}
	if !filepath.IsAbs(c.Paths.RootDir) {
		return fmt.Errorf("paths.root_dir must be an absolute path: %s", c.Paths.RootDir)
	}

	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http.timeout must not be negative: %s", c.HTTP.Timeout)
	}
	if c.HTTP.MaxBytesPerSecond < 0 {
		return fmt.Errorf("http.max_bytes_per_second must not be negative: %d", c.HTTP.MaxBytesPerSecond)
	}

	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.PublishDir == "" {
			return fmt.Errorf("serve.publish_dir is required when serve is enabled")
		}
		if c.Serve.RebuildSecretFile == "" {
			return fmt.Errorf("serve.rebuild_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// Store returns the state store for the configured paths.
func (c *Config) Store() *state.Store {
	return &state.Store{
		Path:         c.Paths.StateFile,
		SkipFlagPath: c.Paths.SkipFlag,
	}
}
