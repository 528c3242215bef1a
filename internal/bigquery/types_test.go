package bigquery

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestParseTableRef(t *testing.T) {
	ref, err := ParseTableRef("temporary_dataset.temporary_table")
	require.NoError(t, err)
	assert.Equal(t, TableRef{DatasetID: "temporary_dataset", TableID: "temporary_table"}, ref)
	assert.Equal(t, "temporary_dataset.temporary_table", ref.String())

	ref, err = ParseTableRef("`proj.ds.tbl`")
	require.NoError(t, err)
	assert.Equal(t, TableRef{ProjectID: "proj", DatasetID: "ds", TableID: "tbl"}, ref)
	assert.Equal(t, DatasetRef{ProjectID: "proj", DatasetID: "ds"}, ref.Dataset())

	for _, bad := range []string{"", "tbl", "a..b", "a.b.c.d"} {
		_, err := ParseTableRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseDatasetRef(t *testing.T) {
	ref, err := ParseDatasetRef("ds")
	require.NoError(t, err)
	assert.Equal(t, DatasetRef{DatasetID: "ds"}, ref)
	assert.Equal(t, TableRef{DatasetID: "ds", TableID: "t"}, ref.Table("t"))

	ref, err = ParseDatasetRef("proj.ds")
	require.NoError(t, err)
	assert.Equal(t, "proj.ds", ref.String())

	for _, bad := range []string{"", ".ds", "a.b.c"} {
		_, err := ParseDatasetRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseLabelPatch(t *testing.T) {
	patch, err := ParseLabelPatch([]string{"env=dev", "team=data", "-stale"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"env": "dev", "team": "data"}, patch.Set)
	assert.Equal(t, []string{"stale"}, patch.Delete)
	assert.False(t, patch.Empty())

	empty, err := ParseLabelPatch(nil)
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	for _, bad := range []string{"novalue", "=x", "-"} {
		_, err := ParseLabelPatch([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseColumns(t *testing.T) {
	schema, err := ParseColumns("stringField:STRING, booleanField:bool, id:int64!, note")
	require.NoError(t, err)
	require.Len(t, schema.Fields, 4)

	assert.Equal(t, "stringField", schema.Fields[0].Name)
	assert.Equal(t, bigquery.StringFieldType, schema.Fields[0].Type)
	assert.Equal(t, bigquery.BooleanFieldType, schema.Fields[1].Type)
	assert.Equal(t, bigquery.IntegerFieldType, schema.Fields[2].Type)
	assert.True(t, schema.Fields[2].Required)
	assert.Equal(t, bigquery.StringFieldType, schema.Fields[3].Type)

	_, err = ParseColumns("a:BLOB")
	assert.Error(t, err)
	_, err = ParseColumns(":INTEGER")
	assert.Error(t, err)
	_, err = ParseColumns(" , ")
	assert.Error(t, err)
}

func TestSchemaRoundTrip(t *testing.T) {
	in := bigquery.Schema{
		{Name: "id", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "tags", Type: bigquery.StringFieldType, Repeated: true},
		{Name: "address", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{
			{Name: "city", Type: bigquery.StringFieldType, Description: "city name"},
		}},
	}

	schema := &TableSchema{Fields: convertBigQuerySchema(in)}
	require.Len(t, schema.Fields[2].Fields, 1)
	assert.Equal(t, "city name", schema.Fields[2].Fields[0].Description)
	assert.Equal(t, in, schema.toBigQuerySchema())

	var nilSchema *TableSchema
	assert.Nil(t, nilSchema.toBigQuerySchema())
}

func TestParseAccessEntry(t *testing.T) {
	entry, err := ParseAccessEntry("reader:user:jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, AccessEntry{Role: "reader", EntityType: "user", Entity: "jane@example.com"}, entry)

	ae, err := entry.toBigQuery()
	require.NoError(t, err)
	assert.Equal(t, bigquery.ReaderRole, ae.Role)
	assert.Equal(t, bigquery.UserEmailEntity, ae.EntityType)
	assert.Equal(t, entry.EntityType, fromBigQueryAccess(ae).EntityType)

	for _, bad := range []string{"READER:user", "ADMIN:user:x", "READER:robot:x", "READER:user:"} {
		_, err := ParseAccessEntry(bad)
		assert.Error(t, err, bad)
	}
}

func TestClassify(t *testing.T) {
	notFound := &googleapi.Error{Code: http.StatusNotFound, Message: "Not found: Dataset p:temporary_dataset"}
	conflict := &googleapi.Error{Code: http.StatusConflict, Message: "Already Exists: Dataset p:temporary_dataset"}
	inUse := &googleapi.Error{
		Code:    http.StatusBadRequest,
		Message: "Dataset p:temporary_dataset is still in use",
		Errors:  []googleapi.ErrorItem{{Reason: "resourceInUse"}},
	}
	unavailable := &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "backend error"}

	assert.True(t, NotFound.Has(classify(notFound)))
	assert.True(t, AlreadyExists.Has(classify(conflict)))
	assert.True(t, NotEmpty.Has(classify(inUse)))
	assert.True(t, TransportError.Has(classify(unavailable)))
	assert.True(t, TransportError.Has(classify(errors.New("dial tcp: i/o timeout"))))
	assert.NoError(t, classify(nil))

	// The service message survives classification.
	assert.Contains(t, classify(conflict).Error(), "Already Exists: Dataset p:temporary_dataset")
	assert.Equal(t, "Already Exists: Dataset p:temporary_dataset", Reason(classify(conflict)))
}

func TestJobErrorMessage(t *testing.T) {
	err := &JobError{Reason: "invalid", Location: "data.csv", Message: "Too many values in row"}
	assert.Equal(t, "Too many values in row (reason: invalid, location: data.csv)", err.Error())

	wrapped := LoadFailed.Wrap(err)
	assert.Equal(t, "Too many values in row", Reason(wrapped))
	assert.Equal(t, "plain", (&JobError{Message: "plain"}).Error())
}

func TestJobStateAndID(t *testing.T) {
	assert.True(t, JobSucceeded.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.Equal(t, "pending", JobPending.String())

	text, err := JobFailed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "failed", string(text))
	var st JobState
	require.NoError(t, st.UnmarshalText([]byte("succeeded")))
	assert.Equal(t, JobSucceeded, st)
	assert.Error(t, st.UnmarshalText([]byte("exploded")))

	a, b := NewJobID("US"), NewJobID("US")
	assert.NotEqual(t, a.Name, b.Name)
	assert.Equal(t, "US:"+a.Name, a.String())
}

func TestSuggest(t *testing.T) {
	candidates := []string{"temporary_table", "annual_enterprise_survey", "temp", "transactions"}

	got := suggest("tmp_table", candidates, 2)
	require.NotEmpty(t, got)
	assert.Equal(t, "temporary_table", got[0])

	assert.Empty(t, suggest("zzz", candidates, 3))
	assert.NotContains(t, suggest("temp", candidates, 0), "temp")
}

func TestLoadStatisticsFromJob(t *testing.T) {
	id := JobID{Name: "bqops_load_1", Location: "US"}
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	stats := loadStatistics(id, &bigquery.JobStatistics{
		StartTime: start,
		EndTime:   start.Add(4 * time.Second),
		Details: &bigquery.LoadStatistics{
			InputFileBytes: 2048,
			InputFiles:     1,
			OutputBytes:    1024,
			OutputRows:     12,
		},
	})

	assert.Equal(t, &LoadStatistics{
		JobID:          id,
		OutputRows:     12,
		OutputBytes:    1024,
		InputFiles:     1,
		InputFileBytes: 2048,
		StartedAt:      start,
		FinishedAt:     start.Add(4 * time.Second),
	}, stats)
	assert.Equal(t, 4*time.Second, stats.Duration())

	empty := loadStatistics(id, nil)
	assert.Equal(t, &LoadStatistics{JobID: id}, empty)
	assert.Zero(t, empty.Duration())
}
