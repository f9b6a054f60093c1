package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigEnvVar names the environment variable that selects the global
// config file when --config is not given.
const ConfigEnvVar = "COOKBOOK_SYNC_CONFIG"

// DefaultConfigFile is looked up in the working directory as a last resort.
const DefaultConfigFile = "cookbook-sync.yml"

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	Workers  int           `yaml:"workers"`
	StoreDir string        `yaml:"store_dir"`
	TempDir  string        `yaml:"temp_dir"`
	Content  ContentConfig `yaml:"content"`
	Fetch    FetchConfig   `yaml:"fetch"`
	Logging  LoggingConfig `yaml:"logging"`
}

// ContentConfig describes where published content is served from.
type ContentConfig struct {
	Host       string `yaml:"host"`
	PathPrefix string `yaml:"path_prefix"`
}

// FetchConfig bounds catalog and artifact downloads.
type FetchConfig struct {
	Attempts        int      `yaml:"attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	Timeout         Duration `yaml:"timeout"`
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Duration is a time.Duration written as "500ms", "2m" and so on.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", value.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	if parsed < 0 {
		return fmt.Errorf("line %d: negative duration %q", value.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// GlConfig is the active global configuration.
var GlConfig = DefaultGlobalConfig()

// DefaultGlobalConfig returns the built-in defaults.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Workers:  runtime.NumCPU(),
		StoreDir: "./cookbook-store",
		TempDir:  "",
		Content: ContentConfig{
			Host:       "http://localhost:24816",
			PathPrefix: "/pulp_cookbook/content/",
		},
		Fetch: FetchConfig{
			Attempts:        4,
			InitialInterval: Duration(500 * time.Millisecond),
			Timeout:         Duration(5 * time.Minute),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// ResolveConfigPath picks the config file: the explicit path if given, else
// $COOKBOOK_SYNC_CONFIG, else ./cookbook-sync.yml when it exists. An empty
// result means "use defaults".
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(ConfigEnvVar); env != "" {
		return env
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// LoadGlobalConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	if path == "" {
		return DefaultGlobalConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := parseGlobalConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func parseGlobalConfig(data []byte) (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *GlobalConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Workers > 256 {
		return fmt.Errorf("workers must be at most 256, got %d", c.Workers)
	}
	if c.StoreDir == "" {
		return fmt.Errorf("store_dir must not be empty")
	}
	if c.Fetch.Attempts < 1 {
		return fmt.Errorf("fetch.attempts must be at least 1, got %d", c.Fetch.Attempts)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}
