// Package config loads the service configuration from a YAML file, a .env
// file and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/llamacompass/compass/internal/github"
	"github.com/llamacompass/compass/internal/sql"
	"github.com/llamacompass/compass/internal/store"
	"github.com/llamacompass/compass/pkg/semver"
)

// Config is the complete service configuration.
type Config struct {
	ListenAddr       string        `yaml:"listen_addr"`
	ScannerURL       string        `yaml:"scanner_url"`
	ScannerVersion   string        `yaml:"scanner_version"`
	ScanTimeout      time.Duration `yaml:"scan_timeout"`
	GitHubToken      string        `yaml:"github_token"`
	GitHubAPIURL     string        `yaml:"github_api_url"`
	VerifyAccess     bool          `yaml:"verify_access"`
	Capacity         int           `yaml:"capacity"`
	LogLevel         string        `yaml:"log_level"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
	DatabaseDSN      string        `yaml:"database_dsn"`
	PprofAddr        string        `yaml:"pprof_addr"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		ListenAddr:       ":8080",
		ScannerURL:       "http://localhost:8000",
		ScannerVersion:   ">= 1.0.0, < 2.0.0",
		ScanTimeout:      5 * time.Minute,
		GitHubAPIURL:     github.DefaultAPIBaseURL,
		VerifyAccess:     true,
		Capacity:         store.DefaultCapacity,
		LogLevel:         "info",
		MetricsNamespace: "compass",
		DatabaseDSN:      sql.DefaultDSN,
		AllowedOrigins:   []string{"*"},
	}
}

// Load reads path (if not empty) over the defaults, then the given .env files,
// then the process environment. The result is validated.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads variables from the given .env files into the process
// environment without overriding variables already set. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from COMPASS_* variables and GITHUB_TOKEN.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("COMPASS_LISTEN_ADDR", &c.ListenAddr)
	str("COMPASS_SCANNER_URL", &c.ScannerURL)
	str("COMPASS_SCANNER_VERSION", &c.ScannerVersion)
	str("COMPASS_GITHUB_API_URL", &c.GitHubAPIURL)
	str("COMPASS_LOG_LEVEL", &c.LogLevel)
	str("COMPASS_METRICS_NAMESPACE", &c.MetricsNamespace)
	str("COMPASS_DATABASE_DSN", &c.DatabaseDSN)
	str("COMPASS_PPROF_ADDR", &c.PprofAddr)
	str("GITHUB_TOKEN", &c.GitHubToken)

	var errs []error
	if v, ok := lookup("COMPASS_CAPACITY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("COMPASS_CAPACITY: %w", err))
		} else {
			c.Capacity = n
		}
	}
	if v, ok := lookup("COMPASS_SCAN_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("COMPASS_SCAN_TIMEOUT: %w", err))
		} else {
			c.ScanTimeout = d
		}
	}
	if v, ok := lookup("COMPASS_VERIFY_ACCESS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("COMPASS_VERIFY_ACCESS: %w", err))
		} else {
			c.VerifyAccess = b
		}
	}
	if v, ok := lookup("COMPASS_ALLOWED_ORIGINS"); ok && v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.AllowedOrigins = origins
	}
	return errors.Join(errs...)
}

// Validate checks the configuration for values the service cannot run with.
// The log level is normalized to lower case.
func (c *Config) Validate() error {
	var errs []error
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity must be positive, got %d", c.Capacity))
	}
	if strings.TrimSpace(c.ScannerURL) == "" {
		errs = append(errs, errors.New("scanner URL cannot be empty"))
	}
	if c.ScanTimeout < 0 {
		errs = append(errs, fmt.Errorf("scan timeout cannot be negative, got %s", c.ScanTimeout))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if err := semver.ValidateConstraint(c.ScannerVersion); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
