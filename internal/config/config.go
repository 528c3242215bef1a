package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents ~/.config/bqops/config.yaml.
type Config struct {
	Project         string     `yaml:"project,omitempty"`
	CredentialsFile string     `yaml:"credentials_file,omitempty"`
	Emulator        string     `yaml:"emulator,omitempty"`
	Log             LogConfig  `yaml:"log"`
	Load            LoadConfig `yaml:"load"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig holds the defaults for load jobs.
type LoadConfig struct {
	Location      string        `yaml:"location"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	StagingBucket string        `yaml:"staging_bucket,omitempty"`
	StagingPrefix string        `yaml:"staging_prefix,omitempty"`
	Concurrency   int           `yaml:"concurrency"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Load: LoadConfig{
			Location:      "US",
			StagingPrefix: "bqops-staging",
			Concurrency:   4,
		},
	}
}

// DefaultPath returns the path to ~/.config/bqops/config.yaml, or the
// platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "bqops", "config.yaml")
}

// Load reads the file at path over the defaults and then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment without
// overwriting variables that are already set.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		c.Project = v
	} else if v := getenv("GCP_PROJECT"); v != "" {
		c.Project = v
	}
	if v := getenv("BQOPS_PROJECT"); v != "" {
		c.Project = v
	}

	if v := getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		c.CredentialsFile = v
	}
	if v := getenv("BQOPS_CREDENTIALS_FILE"); v != "" {
		c.CredentialsFile = v
	}

	if v := getenv("BIGQUERY_EMULATOR_HOST"); v != "" {
		c.Emulator = v
	}
	if v := getenv("BQOPS_EMULATOR"); v != "" {
		c.Emulator = v
	}

	if v := getenv("BQOPS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("BQOPS_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := getenv("BQOPS_LOCATION"); v != "" {
		c.Load.Location = v
	}
	if v := getenv("BQOPS_STAGING_BUCKET"); v != "" {
		c.Load.StagingBucket = v
	}
	if v := getenv("BQOPS_LOAD_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BQOPS_LOAD_TIMEOUT: %w", err)
		}
		c.Load.Timeout = d
	}
	if v := getenv("BQOPS_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BQOPS_CONCURRENCY: %w", err)
		}
		c.Load.Concurrency = n
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Load.Location == "" {
		return errors.New("load.location must not be empty")
	}
	if c.Load.Timeout < 0 {
		return fmt.Errorf("load.timeout must not be negative, got %s", c.Load.Timeout)
	}
	if c.Load.Concurrency < 1 {
		return fmt.Errorf("load.concurrency must be at least 1, got %d", c.Load.Concurrency)
	}
	if c.CredentialsFile != "" {
		if _, err := os.Stat(c.CredentialsFile); err != nil {
			return fmt.Errorf("credentials file not found: %s", c.CredentialsFile)
		}
	}
	return nil
}

// ResolveProject returns the configured project, falling back to the gcloud
// default.
func (c *Config) ResolveProject() (string, error) {
	if c.Project != "" {
		return c.Project, nil
	}
	if projID := gcloudDefaultProject(); projID != "" {
		return projID, nil
	}
	return "", errors.New("no project found. Please run 'gcloud config set project PROJECT_ID' or use --project")
}

func gcloudDefaultProject() string {
	cmd := exec.Command("gcloud", "config", "get-value", "project")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}

	projectID := strings.TrimSpace(string(output))
	if projectID == "(unset)" || projectID == "" {
		return ""
	}
	return projectID
}
