// Package config holds the explicit runtime configuration for the checker.
//
// Stage deadlines are part of the orchestrator's contract with its callers,
// so they live in a struct handed to components at construction rather than
// being read from the environment at call time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// StageTimeouts holds the per-stage deadlines handed to the orchestrator and
// the sequencer.
type StageTimeouts struct {
	Compile time.Duration
	Verify  time.Duration
	Review  time.Duration
}

// DefaultStageTimeouts returns the standard deadlines: compile and verify get
// two minutes, review gets ten (the LLM round-trip dominates).
func DefaultStageTimeouts() StageTimeouts {
	return StageTimeouts{
		Compile: 2 * time.Minute,
		Verify:  2 * time.Minute,
		Review:  10 * time.Minute,
	}
}

// ForStage returns the deadline for a stage name ("compile", "verify",
// "review"). Unknown stages get the compile deadline.
func (t StageTimeouts) ForStage(stage string) time.Duration {
	switch stage {
	case "verify":
		return t.Verify
	case "review":
		return t.Review
	default:
		return t.Compile
	}
}

// MinioConfig configures the review artifact store.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// Config is the top-level runtime configuration.
type Config struct {
	HTTPAddr     string   `yaml:"http_addr"`
	DatabaseDSN  string   `yaml:"database_dsn"`
	PollInterval Duration `yaml:"poll_interval"`

	Timeouts struct {
		Compile Duration `yaml:"compile"`
		Verify  Duration `yaml:"verify"`
		Review  Duration `yaml:"review"`
	} `yaml:"timeouts"`

	Minio MinioConfig `yaml:"minio"`

	// CatalogTTL bounds how long task catalog lookups are cached.
	CatalogTTL Duration `yaml:"catalog_ttl"`
}

// Default returns a Config with standard values.
func Default() Config {
	var cfg Config
	cfg.HTTPAddr = ":8080"
	cfg.DatabaseDSN = "checker.db?_journal_mode=WAL"
	cfg.PollInterval = Duration(100 * time.Millisecond)
	cfg.Timeouts.Compile = Duration(2 * time.Minute)
	cfg.Timeouts.Verify = Duration(2 * time.Minute)
	cfg.Timeouts.Review = Duration(10 * time.Minute)
	cfg.Minio.Bucket = "reviews"
	cfg.CatalogTTL = Duration(5 * time.Minute)
	return cfg
}

// Load reads configuration from an optional YAML file and applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHECKER_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("CHECKER_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("CHECKER_MINIO_ENDPOINT"); v != "" {
		cfg.Minio.Endpoint = v
	}
	if v := os.Getenv("CHECKER_MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("CHECKER_MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("CHECKER_MINIO_BUCKET"); v != "" {
		cfg.Minio.Bucket = v
	}
	for env, dst := range map[string]*Duration{
		"CHECKER_COMPILE_TIMEOUT": &cfg.Timeouts.Compile,
		"CHECKER_VERIFY_TIMEOUT":  &cfg.Timeouts.Verify,
		"CHECKER_REVIEW_TIMEOUT":  &cfg.Timeouts.Review,
	} {
		if v := os.Getenv(env); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			}
		}
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("config: database_dsn is required")
	}
	if c.Timeouts.Compile <= 0 || c.Timeouts.Verify <= 0 || c.Timeouts.Review <= 0 {
		return fmt.Errorf("config: stage timeouts must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive")
	}
	return nil
}

// Stage returns the stage deadlines as plain durations.
func (c Config) Stage() StageTimeouts {
	return StageTimeouts{
		Compile: time.Duration(c.Timeouts.Compile),
		Verify:  time.Duration(c.Timeouts.Verify),
		Review:  time.Duration(c.Timeouts.Review),
	}
}
