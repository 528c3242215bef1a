package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")
	t.Setenv("BQOPS_PROJECT", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "US", cfg.Load.Location)
	assert.Equal(t, 4, cfg.Load.Concurrency)
	assert.Zero(t, cfg.Load.Timeout)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")
	t.Setenv("BQOPS_PROJECT", "")
	t.Setenv("BQOPS_LOCATION", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
project: my-project
log:
  level: debug
  format: json
load:
  location: EU
  timeout: 10m
  staging_bucket: landing
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "my-project", cfg.Project)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "EU", cfg.Load.Location)
	assert.Equal(t, 10*time.Minute, cfg.Load.Timeout)
	assert.Equal(t, "landing", cfg.Load.StagingBucket)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, "bqops-staging", cfg.Load.StagingPrefix)
	assert.Equal(t, 4, cfg.Load.Concurrency)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("load: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.Project = "from-file"

	err := cfg.applyEnv(env(map[string]string{
		"GCP_PROJECT":                    "from-gcp",
		"GOOGLE_APPLICATION_CREDENTIALS": "/keys/sa.json",
		"BQOPS_LOAD_TIMEOUT":             "90s",
		"BQOPS_CONCURRENCY":              "8",
		"BQOPS_LOCATION":                 "asia-northeast1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "from-gcp", cfg.Project)
	assert.Equal(t, "/keys/sa.json", cfg.CredentialsFile)
	assert.Equal(t, 90*time.Second, cfg.Load.Timeout)
	assert.Equal(t, 8, cfg.Load.Concurrency)
	assert.Equal(t, "asia-northeast1", cfg.Load.Location)

	require.NoError(t, cfg.applyEnv(env(map[string]string{
		"GOOGLE_CLOUD_PROJECT": "from-google",
		"BQOPS_PROJECT":        "from-bqops",
	})))
	assert.Equal(t, "from-bqops", cfg.Project)

	assert.Error(t, Default().applyEnv(env(map[string]string{"BQOPS_LOAD_TIMEOUT": "soon"})))
	assert.Error(t, Default().applyEnv(env(map[string]string{"BQOPS_CONCURRENCY": "many"})))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	for name, mutate := range map[string]func(*Config){
		"format":      func(c *Config) { c.Log.Format = "xml" },
		"location":    func(c *Config) { c.Load.Location = "" },
		"timeout":     func(c *Config) { c.Load.Timeout = -time.Second },
		"concurrency": func(c *Config) { c.Load.Concurrency = 0 },
		"credentials": func(c *Config) { c.CredentialsFile = "/nonexistent/sa.json" },
	} {
		cfg := Default()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestResolveProject(t *testing.T) {
	cfg := Default()
	cfg.Project = "explicit"
	got, err := cfg.ResolveProject()
	require.NoError(t, err)
	assert.Equal(t, "explicit", got)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BQOPS_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("BQOPS_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("BQOPS_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("BQOPS_TEST_DOTENV"))
}
