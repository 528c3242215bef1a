package bigquery

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	bqv2 "google.golang.org/api/bigquery/v2"
	"google.golang.org/api/option"
)

// fakeBigQuery answers the jobs and datasets calls of the BigQuery REST API
// from memory. Jobs are done the first time they are looked up.
type fakeBigQuery struct {
	mu       sync.Mutex
	jobs     map[string]*bqv2.Job
	payloads map[string]string
	datasets map[string]map[string]string
	patches  []map[string]any

	// insertStatus rejects job inserts with this HTTP status when set.
	insertStatus int
	// failure becomes the errorResult of every finished job when set.
	failure   *bqv2.ErrorProto
	rowErrors []*bqv2.ErrorProto
	// vanished makes every job lookup answer 404.
	vanished bool
}

func newFakeBigQuery() *fakeBigQuery {
	return &fakeBigQuery{
		jobs:     map[string]*bqv2.Job{},
		payloads: map[string]string{},
		datasets: map[string]map[string]string{},
	}
}

// newFakeServiceClient returns a Client talking to f over HTTP.
func newFakeServiceClient(t *testing.T, f *fakeBigQuery) *Client {
	t.Helper()

	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), testProject, zaptest.NewLogger(t),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func (f *fakeBigQuery) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(p, "/jobs"):
		f.insertJob(w, r)
	case r.Method == http.MethodGet && strings.Contains(p, "/jobs/"):
		f.getJob(w, path.Base(p))
	case strings.Contains(p, "/datasets/") && !strings.Contains(p, "/tables"):
		f.dataset(w, r, path.Base(p))
	default:
		writeAPIError(w, http.StatusNotFound, "notFound", "Not found: "+p)
	}
}

func (f *fakeBigQuery) insertJob(w http.ResponseWriter, r *http.Request) {
	job, payload, err := readJobInsert(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid", err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.insertStatus != 0 {
		writeAPIError(w, f.insertStatus, "accessDenied", "Access Denied: Table test-project:test_dataset.test_table")
		return
	}

	id := job.JobReference.JobId
	job.Status = &bqv2.JobStatus{State: "RUNNING"}
	f.jobs[id] = job
	f.payloads[id] = payload
	writeAPIJSON(w, job)
}

func (f *fakeBigQuery) getJob(w http.ResponseWriter, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok || f.vanished {
		writeAPIError(w, http.StatusNotFound, "notFound", "Not found: Job test-project:US."+id)
		return
	}

	job.Status = &bqv2.JobStatus{State: "DONE"}
	job.Statistics = &bqv2.JobStatistics{StartTime: 1700000000000, EndTime: 1700000002000}
	if f.failure != nil {
		job.Status.ErrorResult = f.failure
		job.Status.Errors = append([]*bqv2.ErrorProto{f.failure}, f.rowErrors...)
	} else {
		payload := f.payloads[id]
		rows := int64(strings.Count(payload, "\n"))
		if job.Configuration != nil && job.Configuration.Load != nil {
			rows -= job.Configuration.Load.SkipLeadingRows
		}
		job.Statistics.Load = &bqv2.JobStatistics3{
			InputFiles:     1,
			InputFileBytes: int64(len(payload)),
			OutputRows:     max(rows, 0),
		}
	}
	writeAPIJSON(w, job)
}

func (f *fakeBigQuery) dataset(w http.ResponseWriter, r *http.Request, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	labels, ok := f.datasets[id]
	if !ok {
		writeAPIError(w, http.StatusNotFound, "notFound", "Not found: Dataset test-project:"+id)
		return
	}

	if r.Method == http.MethodPatch {
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid", err.Error())
			return
		}
		f.patches = append(f.patches, patch)
		changes, _ := patch["labels"].(map[string]any)
		for k, v := range changes {
			if s, ok := v.(string); ok {
				labels[k] = s
			} else {
				delete(labels, k)
			}
		}
	}

	writeAPIJSON(w, &bqv2.Dataset{
		DatasetReference: &bqv2.DatasetReference{ProjectId: testProject, DatasetId: id},
		Location:         "US",
		Labels:           labels,
	})
}

func (f *fakeBigQuery) job(id string) *bqv2.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

func (f *fakeBigQuery) payload(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[id]
}

func (f *fakeBigQuery) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fakeBigQuery) datasetPatches() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.patches...)
}

func (f *fakeBigQuery) setFailure(e *bqv2.ErrorProto) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = e
}

func (f *fakeBigQuery) setVanished(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vanished = v
}

// readJobInsert decodes a jobs.insert request, splitting the media part off
// multipart uploads.
func readJobInsert(r *http.Request) (*bqv2.Job, string, error) {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	job := &bqv2.Job{}
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, "", err
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return job, "", json.NewDecoder(r.Body).Decode(job)
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	part, err := mr.NextPart()
	if err != nil {
		return nil, "", err
	}
	if err := json.NewDecoder(part).Decode(job); err != nil {
		return nil, "", err
	}
	part, err = mr.NextPart()
	if err != nil {
		return nil, "", err
	}
	data, err := io.ReadAll(part)
	return job, string(data), err
}

func writeAPIJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, code int, reason, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"errors":  []map[string]string{{"reason": reason, "message": message}},
		},
	})
}

var testDataset = DatasetRef{DatasetID: "test_dataset"}

func TestClientLoadFileUploadsMedia(t *testing.T) {
	fake := newFakeBigQuery()
	client := newFakeServiceClient(t, fake)
	src := writeCSV(t, 3)

	loader := NewLoader(client, zaptest.NewLogger(t))
	stats, err := loader.LoadFile(context.Background(), testDataset, "test_table", src, LoadOptions{
		Format:          bigquery.CSV,
		Autodetect:      true,
		SkipLeadingRows: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.EqualValues(t, 3, stats.OutputRows)
	assert.Equal(t, DefaultLocation, stats.JobID.Location)

	want, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, string(want), fake.payload(stats.JobID.Name))

	job := fake.job(stats.JobID.Name)
	require.NotNil(t, job)
	load := job.Configuration.Load
	assert.Equal(t, "test_table", load.DestinationTable.TableId)
	assert.Equal(t, "test_dataset", load.DestinationTable.DatasetId)
	assert.Equal(t, "CSV", load.SourceFormat)
	assert.True(t, load.Autodetect)
	assert.EqualValues(t, 1, load.SkipLeadingRows)
}

func TestClientLoadFileRejectedUpload(t *testing.T) {
	fake := newFakeBigQuery()
	fake.insertStatus = http.StatusForbidden
	client := newFakeServiceClient(t, fake)

	loader := NewLoader(client, zaptest.NewLogger(t))
	stats, err := loader.LoadFile(context.Background(), testDataset, "test_table", writeCSV(t, 3), LoadOptions{})
	require.Error(t, err)
	assert.Nil(t, stats)
	assert.True(t, TransportError.Has(err), "got %v", err)
	assert.Contains(t, Reason(err), "Access Denied")
	assert.Zero(t, fake.jobCount())
}

func TestClientLoadFileJobFailed(t *testing.T) {
	fake := newFakeBigQuery()
	fake.failure = &bqv2.ErrorProto{
		Reason:   "invalid",
		Location: "data.csv",
		Message:  "Error while reading data, error message: CSV table encountered too many errors",
	}
	fake.rowErrors = []*bqv2.ErrorProto{{
		Reason:  "invalid",
		Message: "Error while reading data, error message: Too many values in row starting at position: 8",
	}}
	client := newFakeServiceClient(t, fake)

	loader := NewLoader(client, zaptest.NewLogger(t))
	stats, err := loader.LoadFile(context.Background(), testDataset, "test_table", writeCSV(t, 3), LoadOptions{})
	require.Error(t, err)
	assert.Nil(t, stats)
	require.True(t, LoadFailed.Has(err), "got %v", err)

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "invalid", jobErr.Reason)
	assert.Equal(t, "data.csv", jobErr.Location)
	assert.Equal(t, fake.failure.Message, jobErr.Message)
	assert.Equal(t, []string{fake.rowErrors[0].Message}, jobErr.Details)
}

func TestClientLoadFileJobVanished(t *testing.T) {
	fake := newFakeBigQuery()
	fake.vanished = true
	client := newFakeServiceClient(t, fake)

	loader := NewLoader(client, zaptest.NewLogger(t))
	stats, err := loader.LoadFile(context.Background(), testDataset, "test_table", writeCSV(t, 3), LoadOptions{})
	require.Error(t, err)
	assert.Nil(t, stats)
	assert.True(t, JobVanished.Has(err), "got %v", err)
}

func TestUpdateDatasetLabelsSendsDelta(t *testing.T) {
	fake := newFakeBigQuery()
	fake.datasets["test_dataset"] = map[string]string{"keep": "yes", "stale": "old"}
	client := newFakeServiceClient(t, fake)

	ds, err := client.UpdateDatasetLabels(context.Background(), testDataset, LabelPatch{
		Set:    map[string]string{"team": "data"},
		Delete: []string{"stale"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"keep": "yes", "team": "data"}, ds.Labels)

	patches := fake.datasetPatches()
	require.Len(t, patches, 1)
	labels, ok := patches[0]["labels"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "data", labels["team"])
	stale, present := labels["stale"]
	assert.True(t, present)
	assert.Nil(t, stale)
	assert.NotContains(t, labels, "keep")
}
