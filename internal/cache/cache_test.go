package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bqops/internal/bigquery"
)

func record(name string, at time.Time, state bigquery.JobState) bigquery.JobRecord {
	return bigquery.JobRecord{
		JobID:       bigquery.JobID{Name: name, Location: "US"},
		Table:       bigquery.TableRef{DatasetID: "temporary_dataset", TableID: "temporary_table"},
		Source:      "annual-enterprise-survey.csv",
		Format:      "CSV",
		State:       state,
		SubmittedAt: at,
	}
}

func TestRecordJobUpserts(t *testing.T) {
	c, err := NewAt(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.RecordJob(record("job_a", base, bigquery.JobPending)))
	require.NoError(t, c.RecordJob(record("job_b", base.Add(time.Minute), bigquery.JobPending)))

	done := record("job_a", base, bigquery.JobSucceeded)
	done.OutputRows = 1000
	done.FinishedAt = base.Add(30 * time.Second)
	require.NoError(t, c.RecordJob(done))

	jobs, err := c.Jobs()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job_b", jobs[0].JobID.Name)
	assert.Equal(t, "job_a", jobs[1].JobID.Name)
	assert.Equal(t, bigquery.JobSucceeded, jobs[1].State)
	assert.EqualValues(t, 1000, jobs[1].OutputRows)
	assert.True(t, jobs[1].FinishedAt.Equal(done.FinishedAt))
}

func TestFindJob(t *testing.T) {
	c, err := NewAt(t.TempDir())
	require.NoError(t, err)

	_, ok, err := c.FindJob("job_a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.RecordJob(record("job_a", time.Now(), bigquery.JobPending)))

	got, ok, err := c.FindJob("job_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "US", got.JobID.Location)

	_, ok, err = c.FindJob("US:job_a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHistoryIsBounded(t *testing.T) {
	c, err := NewAt(t.TempDir())
	require.NoError(t, err)
	c.SetLimit(3)

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.RecordJob(record(fmt.Sprintf("job_%d", i), base.Add(time.Duration(i)*time.Second), bigquery.JobPending)))
	}

	jobs, err := c.Jobs()
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "job_4", jobs[0].JobID.Name)
	assert.Equal(t, "job_2", jobs[2].JobID.Name)
}

func TestClearJobs(t *testing.T) {
	dir := t.TempDir()
	c, err := NewAt(dir)
	require.NoError(t, err)

	// Clearing an empty history is fine.
	require.NoError(t, c.ClearJobs())

	require.NoError(t, c.RecordJob(record("job_a", time.Now(), bigquery.JobPending)))
	require.FileExists(t, filepath.Join(dir, historyFile))

	require.NoError(t, c.ClearJobs())
	jobs, err := c.Jobs()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCorruptHistory(t *testing.T) {
	dir := t.TempDir()
	c, err := NewAt(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, historyFile), []byte("{not json"), 0644))

	_, err = c.Jobs()
	assert.Error(t, err)
	assert.Error(t, c.RecordJob(record("job_a", time.Now(), bigquery.JobPending)))
}
