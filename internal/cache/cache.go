package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"bqops/internal/bigquery"
)

// DefaultHistorySize is how many job records are kept before the oldest are dropped.
const DefaultHistorySize = 200

const historyFile = "jobs.json"

// Cache holds local state that outlives a single invocation: the history of
// submitted load jobs, so a job can be found again by name after the process
// that submitted it has exited.
type Cache struct {
	baseDir string
	limit   int

	mu sync.Mutex
}

var _ bigquery.JobRecorder = (*Cache)(nil)

// New creates a new cache instance with OS-appropriate cache directory
func New() (*Cache, error) {
	cacheDir, err := getCacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get cache directory: %w", err)
	}
	return NewAt(filepath.Join(cacheDir, "bqops"))
}

// NewAt creates a cache rooted at dir.
func NewAt(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{baseDir: dir, limit: DefaultHistorySize}, nil
}

// getCacheDir returns the appropriate cache directory for the OS
func getCacheDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		cacheDir := os.Getenv("LOCALAPPDATA")
		if cacheDir == "" {
			cacheDir = os.Getenv("TEMP")
		}
		if cacheDir == "" {
			return "", fmt.Errorf("cannot determine cache directory on Windows")
		}
		return cacheDir, nil
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, "Library", "Caches"), nil
	default:
		cacheDir := os.Getenv("XDG_CACHE_HOME")
		if cacheDir != "" {
			return cacheDir, nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, ".cache"), nil
	}
}

// Dir returns the directory the cache writes to.
func (c *Cache) Dir() string {
	return c.baseDir
}

// SetLimit changes how many records are retained. Values below one are ignored.
func (c *Cache) SetLimit(n int) {
	if n > 0 {
		c.mu.Lock()
		c.limit = n
		c.mu.Unlock()
	}
}

// RecordJob inserts rec, or replaces the record with the same job name.
func (c *Cache) RecordJob(rec bigquery.JobRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	jobs, err := c.readJobs()
	if err != nil {
		return err
	}

	replaced := false
	for i := range jobs {
		if jobs[i].JobID.Name == rec.JobID.Name {
			jobs[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		jobs = append(jobs, rec)
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt)
	})
	if len(jobs) > c.limit {
		jobs = jobs[len(jobs)-c.limit:]
	}

	return c.writeJobs(jobs)
}

// Jobs returns recorded jobs, most recent first.
func (c *Cache) Jobs() ([]bigquery.JobRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	jobs, err := c.readJobs()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	}
	return jobs, nil
}

// FindJob looks a job up by name. The location-qualified form "LOC:name"
// is accepted too.
func (c *Cache) FindJob(name string) (bigquery.JobRecord, bool, error) {
	jobs, err := c.Jobs()
	if err != nil {
		return bigquery.JobRecord{}, false, err
	}
	for _, job := range jobs {
		if job.JobID.Name == name || job.JobID.String() == name {
			return job, true, nil
		}
	}
	return bigquery.JobRecord{}, false, nil
}

// ClearJobs removes the job history.
func (c *Cache) ClearJobs() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := os.Remove(filepath.Join(c.baseDir, historyFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (c *Cache) readJobs() ([]bigquery.JobRecord, error) {
	data, err := os.ReadFile(filepath.Join(c.baseDir, historyFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job history: %w", err)
	}

	var jobs []bigquery.JobRecord
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to parse job history: %w", err)
	}
	return jobs, nil
}

func (c *Cache) writeJobs(jobs []bigquery.JobRecord) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job history: %w", err)
	}

	// Replace atomically; readers never see a partial file.
	tmp, err := os.CreateTemp(c.baseDir, historyFile+".*")
	if err != nil {
		return fmt.Errorf("failed to write job history: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write job history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write job history: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.baseDir, historyFile)); err != nil {
		return fmt.Errorf("failed to write job history: %w", err)
	}
	return nil
}
