package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
)

const jobNamePrefix = "bqops_load_"

// JobID identifies a load job: the caller-generated name plus the location
// the job runs in.
type JobID struct {
	Name     string
	Location string
}

// NewJobID returns an identifier that has never been used before.
func NewJobID(location string) JobID {
	return JobID{Name: jobNamePrefix + uuid.NewString(), Location: location}
}

func (id JobID) String() string {
	if id.Location == "" {
		return id.Name
	}
	return id.Location + ":" + id.Name
}

type JobState int

const (
	JobPending JobState = iota
	JobRunning
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobRunning:
		return "running"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

func (s JobState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *JobState) UnmarshalText(text []byte) error {
	for _, st := range []JobState{JobPending, JobRunning, JobSucceeded, JobFailed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown job state %q", text)
}

func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// JobHandle refers to a submitted load job.
type JobHandle interface {
	ID() JobID
	// Wait blocks until the job is terminal. A failed job yields LoadFailed
	// wrapping a *JobError; a job that disappeared yields JobVanished; a
	// failure to poll yields PollError.
	Wait(ctx context.Context) (*LoadStatistics, error)
}

// Job is a JobHandle backed by the BigQuery jobs API. Polling cadence and
// backoff are those of the underlying client.
type Job struct {
	id  JobID
	job *bigquery.Job
}

var _ JobHandle = (*Job)(nil)

// LookupJob resolves a job by identifier.
func (c *Client) LookupJob(ctx context.Context, id JobID) (*Job, error) {
	job, err := c.bqClient.JobFromIDLocation(ctx, id.Name, id.Location)
	if err != nil {
		if isNotFound(err) {
			return nil, JobVanished.New("job %s no longer exists", id)
		}
		return nil, TransportError.Wrap(err)
	}
	return &Job{id: id, job: job}, nil
}

// Job implements Submitter.
func (c *Client) Job(ctx context.Context, id JobID) (JobHandle, error) {
	job, err := c.LookupJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (j *Job) ID() JobID {
	return j.id
}

func (j *Job) Wait(ctx context.Context) (*LoadStatistics, error) {
	status, err := j.job.Wait(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, JobVanished.New("job %s no longer exists", j.id)
		}
		return nil, PollError.Wrap(err)
	}
	return resolveStatus(j.id, status)
}

// State reports the job's current state without waiting.
func (j *Job) State(ctx context.Context) (JobState, error) {
	status, err := j.job.Status(ctx)
	if err != nil {
		if isNotFound(err) {
			return JobFailed, JobVanished.New("job %s no longer exists", j.id)
		}
		return JobPending, PollError.Wrap(err)
	}
	return stateOf(status), nil
}

// Result returns the outcome of a job that is already terminal.
func (j *Job) Result() (*LoadStatistics, error) {
	status := j.job.LastStatus()
	if status == nil || !status.Done() {
		return nil, fmt.Errorf("job %s is not finished", j.id)
	}
	return resolveStatus(j.id, status)
}

func stateOf(status *bigquery.JobStatus) JobState {
	switch status.State {
	case bigquery.Running:
		return JobRunning
	case bigquery.Done:
		if status.Err() != nil {
			return JobFailed
		}
		return JobSucceeded
	default:
		return JobPending
	}
}

func resolveStatus(id JobID, status *bigquery.JobStatus) (*LoadStatistics, error) {
	if status == nil {
		return nil, JobVanished.New("job %s no longer exists", id)
	}
	if status.Err() != nil {
		return nil, LoadFailed.Wrap(newJobError(status))
	}
	return loadStatistics(id, status.Statistics), nil
}

func loadStatistics(id JobID, js *bigquery.JobStatistics) *LoadStatistics {
	stats := &LoadStatistics{JobID: id}
	if js == nil {
		return stats
	}

	stats.StartedAt = js.StartTime
	stats.FinishedAt = js.EndTime
	if details, ok := js.Details.(*bigquery.LoadStatistics); ok {
		stats.OutputRows = details.OutputRows
		stats.OutputBytes = details.OutputBytes
		stats.InputFiles = details.InputFiles
		stats.InputFileBytes = details.InputFileBytes
	}
	return stats
}
