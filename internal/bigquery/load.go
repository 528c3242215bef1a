package bigquery

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
)

// DefaultLocation is where load jobs run unless configured otherwise.
const DefaultLocation = "US"

type LoadPhase int

const (
	PhaseUploading LoadPhase = iota
	PhaseSubmitted
	PhaseWaiting
	PhaseDone
)

func (p LoadPhase) String() string {
	switch p {
	case PhaseUploading:
		return "uploading"
	case PhaseSubmitted:
		return "submitted"
	case PhaseWaiting:
		return "waiting"
	case PhaseDone:
		return "done"
	}
	return "unknown"
}

// LoadProgress is reported to LoadOptions.Progress as a load advances.
type LoadProgress struct {
	JobID      JobID
	Phase      LoadPhase
	BytesSent  int64
	BytesTotal int64
}

type LoadOptions struct {
	Format          bigquery.DataFormat
	Autodetect      bool
	SkipLeadingRows int64
	Schema          *TableSchema
	MaxBadRecords   int64
	// Progress, if set, is called from the loading goroutine.
	Progress func(LoadProgress)
}

// JobRecorder persists what was submitted so callers can re-attach to a job
// after the process that submitted it is gone.
type JobRecorder interface {
	RecordJob(JobRecord) error
}

// JobRecord is one submitted load job.
type JobRecord struct {
	JobID       JobID     `json:"job_id"`
	Table       TableRef  `json:"table"`
	Source      string    `json:"source"`
	Format      string    `json:"format"`
	State       JobState  `json:"state"`
	OutputRows  int64     `json:"output_rows,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// Loader drives a local file into a table through a load job: upload, wait,
// classify. It never retries.
type Loader struct {
	submitter Submitter
	log       *zap.Logger

	// Location is where jobs are created.
	Location string
	// Timeout bounds a whole LoadFile call. Zero means no deadline.
	Timeout time.Duration
	// Recorder, if set, receives a record at submission and at completion.
	Recorder JobRecorder

	newJobID func(location string) JobID
	now      func() time.Time
}

func NewLoader(submitter Submitter, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		submitter: submitter,
		log:       log.Named("load"),
		Location:  DefaultLocation,
		newJobID:  NewJobID,
		now:       time.Now,
	}
}

// LoadFile streams the file at path into dataset.table and waits for the
// resulting job. The error is one of LocalIOError, TransportError,
// JobVanished, PollError or LoadFailed; LoadFailed wraps a *JobError.
func (l *Loader) LoadFile(ctx context.Context, dataset DatasetRef, table, path string, opts LoadOptions) (*LoadStatistics, error) {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	id := l.newJobID(l.Location)
	cfg := LoadConfig{
		Table:           dataset.Table(table),
		Format:          opts.Format,
		Autodetect:      opts.Autodetect,
		SkipLeadingRows: opts.SkipLeadingRows,
		Schema:          opts.Schema,
		MaxBadRecords:   opts.MaxBadRecords,
	}
	if cfg.Format == "" {
		cfg.Format = bigquery.CSV
	}

	log := l.log.With(zap.Stringer("job", id), zap.Stringer("table", cfg.Table), zap.String("source", path))
	record := JobRecord{
		JobID:       id,
		Table:       cfg.Table,
		Source:      path,
		Format:      string(cfg.Format),
		State:       JobPending,
		SubmittedAt: l.now(),
	}
	report := func(p LoadProgress) {
		if opts.Progress != nil {
			p.JobID = id
			opts.Progress(p)
		}
	}

	if err := l.stream(ctx, id, cfg, path, report); err != nil {
		log.Info("local file not loaded", zap.String("reason", Reason(err)))
		return nil, err
	}
	l.record(log, record)
	report(LoadProgress{Phase: PhaseSubmitted})

	job, err := l.submitter.Job(ctx, id)
	if err != nil {
		log.Info("job not executed since it no longer exists", zap.String("reason", Reason(err)))
		return nil, l.finish(log, record, nil, err)
	}

	report(LoadProgress{Phase: PhaseWaiting})
	stats, err := job.Wait(ctx)
	report(LoadProgress{Phase: PhaseDone})

	switch {
	case JobVanished.Has(err):
		log.Info("job not executed since it no longer exists")
	case LoadFailed.Has(err):
		log.Info("unable to load local file to the table", zap.String("reason", Reason(err)))
	case err != nil:
		log.Info("waiting for job failed", zap.Error(err))
	default:
		log.Info("successfully loaded rows", zap.Int64("rows", stats.OutputRows))
	}
	return stats, l.finish(log, record, stats, err)
}

// stream copies the file into a fresh upload channel. The channel is closed
// on every path; a failed copy aborts it instead of submitting a partial file.
func (l *Loader) stream(ctx context.Context, id JobID, cfg LoadConfig, path string, report func(LoadProgress)) (err error) {
	ch, err := l.submitter.OpenUpload(ctx, id, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := ch.CloseWithError(err)
		if err == nil {
			err = closeErr
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return LocalIOError.Wrap(err)
	}
	defer func() { _ = f.Close() }()

	var total int64
	if info, statErr := f.Stat(); statErr == nil {
		total = info.Size()
	}

	src := &progressReader{r: f, total: total, report: report}
	report(LoadProgress{Phase: PhaseUploading, BytesTotal: total})

	if _, err := io.Copy(ch, src); err != nil {
		if src.err != nil {
			return LocalIOError.Wrap(err)
		}
		return TransportError.Wrap(err)
	}
	if err := ctx.Err(); err != nil {
		return TransportError.Wrap(err)
	}
	return nil
}

func (l *Loader) record(log *zap.Logger, rec JobRecord) {
	if l.Recorder == nil {
		return
	}
	if err := l.Recorder.RecordJob(rec); err != nil {
		log.Warn("failed to record job", zap.Error(err))
	}
}

func (l *Loader) finish(log *zap.Logger, rec JobRecord, stats *LoadStatistics, err error) error {
	rec.FinishedAt = l.now()
	switch {
	case err == nil:
		rec.State = JobSucceeded
		rec.OutputRows = stats.OutputRows
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// The job may still complete server-side; leave it pending.
		rec.FinishedAt = time.Time{}
		rec.Error = err.Error()
	default:
		rec.State = JobFailed
		rec.Error = Reason(err)
	}
	l.record(log, rec)
	return err
}

// progressReader reports bytes read and remembers read errors so they can be
// told apart from write errors on the channel.
type progressReader struct {
	r      io.Reader
	read   int64
	total  int64
	err    error
	report func(LoadProgress)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if n > 0 {
		p.report(LoadProgress{Phase: PhaseUploading, BytesSent: p.read, BytesTotal: p.total})
	}
	if err != nil && err != io.EOF {
		p.err = err
	}
	return n, err
}
