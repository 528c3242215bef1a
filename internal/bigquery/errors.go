package bigquery

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/zeebo/errs"
	"google.golang.org/api/googleapi"
)

var (
	// NotFound is returned when a dataset, table or job is absent.
	NotFound = errs.Class("not found")
	// AlreadyExists is returned by create calls on a present resource.
	AlreadyExists = errs.Class("already exists")
	// NotEmpty is returned when a dataset with tables is deleted without cascading.
	NotEmpty = errs.Class("not empty")
	// TransportError covers connectivity, credential and other service failures.
	TransportError = errs.Class("transport")

	// LoadFailed is returned when the service reports a terminal job error.
	LoadFailed = errs.Class("load failed")
	// JobVanished is returned when a job handle no longer resolves to a job.
	JobVanished = errs.Class("job vanished")
	// PollError is returned when waiting on a job fails for reasons unrelated to the job.
	PollError = errs.Class("poll")
	// LocalIOError is returned when the source file cannot be read.
	LocalIOError = errs.Class("local io")
)

// JobError is the terminal error of a failed load job as reported by the service.
type JobError struct {
	Reason   string
	Location string
	Message  string
	// Details holds every additional error the service attached to the job,
	// typically one per rejected row.
	Details []string
}

func (e *JobError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Reason != "" {
		fmt.Fprintf(&b, " (reason: %s", e.Reason)
		if e.Location != "" {
			fmt.Fprintf(&b, ", location: %s", e.Location)
		}
		b.WriteString(")")
	}
	return b.String()
}

func newJobError(status *bigquery.JobStatus) *JobError {
	jobErr := &JobError{}

	var bqErr *bigquery.Error
	if errors.As(status.Err(), &bqErr) {
		jobErr.Reason = bqErr.Reason
		jobErr.Location = bqErr.Location
		jobErr.Message = bqErr.Message
	} else {
		jobErr.Message = status.Err().Error()
	}

	for _, e := range status.Errors {
		if e == nil || e.Message == jobErr.Message {
			continue
		}
		jobErr.Details = append(jobErr.Details, e.Message)
	}

	return jobErr
}

func apiError(err error) (*googleapi.Error, bool) {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr, true
	}
	return nil, false
}

func isNotFound(err error) bool {
	gErr, ok := apiError(err)
	return ok && gErr.Code == http.StatusNotFound
}

func isConflict(err error) bool {
	gErr, ok := apiError(err)
	return ok && gErr.Code == http.StatusConflict
}

func isInUse(err error) bool {
	gErr, ok := apiError(err)
	if !ok || gErr.Code != http.StatusBadRequest {
		return false
	}
	for _, item := range gErr.Errors {
		if item.Reason == "resourceInUse" {
			return true
		}
	}
	return strings.Contains(gErr.Message, "is still in use")
}

// classify maps a service error onto the error taxonomy, keeping the
// original message.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return NotFound.Wrap(err)
	case isConflict(err):
		return AlreadyExists.Wrap(err)
	case isInUse(err):
		return NotEmpty.Wrap(err)
	default:
		return TransportError.Wrap(err)
	}
}

// Reason returns the most specific service-supplied message for err.
func Reason(err error) string {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Message
	}
	if gErr, ok := apiError(err); ok && gErr.Message != "" {
		return gErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
