package bigquery

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
)

// LoadConfig is the immutable description of a load job's destination and
// input. It is built once per LoadFile call.
type LoadConfig struct {
	Table           TableRef
	Format          bigquery.DataFormat
	Autodetect      bool
	SkipLeadingRows int64
	Schema          *TableSchema
	MaxBadRecords   int64
}

func (cfg LoadConfig) fileConfig() bigquery.FileConfig {
	fc := bigquery.FileConfig{
		SourceFormat:  cfg.Format,
		AutoDetect:    cfg.Autodetect,
		MaxBadRecords: cfg.MaxBadRecords,
		Schema:        cfg.Schema.toBigQuerySchema(),
	}
	if cfg.Format == bigquery.CSV {
		fc.SkipLeadingRows = cfg.SkipLeadingRows
	}
	return fc
}

var dataFormats = map[string]bigquery.DataFormat{
	"csv":     bigquery.CSV,
	"json":    bigquery.JSON,
	"ndjson":  bigquery.JSON,
	"avro":    bigquery.Avro,
	"parquet": bigquery.Parquet,
	"orc":     bigquery.ORC,
}

// ParseFormat maps a format name such as "csv" or "json" to a source format.
func ParseFormat(s string) (bigquery.DataFormat, error) {
	if f, ok := dataFormats[strings.ToLower(s)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unsupported source format %q", s)
}

// UploadChannel is a write-only sink for a load job's payload. Bytes written
// before Close are submitted in order. Close and CloseWithError may be called
// more than once; only the first call takes effect.
type UploadChannel interface {
	io.Writer
	// Close finalises the submission and reports whether it was accepted.
	Close() error
	// CloseWithError abandons the upload so the job is never created from a
	// partial payload. It returns cause.
	CloseWithError(cause error) error
}

// Submitter opens upload channels and resolves the jobs they create.
type Submitter interface {
	OpenUpload(ctx context.Context, id JobID, cfg LoadConfig) (UploadChannel, error)
	Job(ctx context.Context, id JobID) (JobHandle, error)
}

var _ Submitter = (*Client)(nil)

// OpenUpload starts a media upload for a load job. The returned channel feeds
// the upload through a pipe, so the whole file is never held in memory.
func (c *Client) OpenUpload(ctx context.Context, id JobID, cfg LoadConfig) (UploadChannel, error) {
	log := c.log.With(zap.Stringer("job", id))

	ch := startUpload(log, func(r io.Reader) error {
		src := bigquery.NewReaderSource(r)
		src.FileConfig = cfg.fileConfig()

		loader := c.table(cfg.Table).LoaderFrom(src)
		loader.JobID = id.Name
		loader.Location = id.Location

		_, err := loader.Run(ctx)
		return err
	})

	log.Debug("upload opened", zap.Stringer("table", cfg.Table), zap.String("format", string(cfg.Format)))
	return ch, nil
}

// startUpload runs submit in its own goroutine, reading from the returned
// channel's pipe.
func startUpload(log *zap.Logger, submit func(r io.Reader) error) *uploadChannel {
	pr, pw := io.Pipe()
	ch := &uploadChannel{
		pw:   pw,
		done: make(chan struct{}),
		log:  log,
	}

	go func() {
		defer close(ch.done)
		err := submit(pr)
		ch.runErr = err
		if err == nil {
			err = io.ErrClosedPipe
		}
		// Unblocks writers if the upload ended before consuming everything.
		_ = pr.CloseWithError(err)
	}()
	return ch
}

type uploadChannel struct {
	pw   *io.PipeWriter
	done chan struct{}
	log  *zap.Logger

	// runErr is written by the upload goroutine before done is closed.
	runErr error

	once     sync.Once
	closeErr error
}

func (ch *uploadChannel) Write(p []byte) (int, error) {
	return ch.pw.Write(p)
}

func (ch *uploadChannel) Close() error {
	return ch.CloseWithError(nil)
}

func (ch *uploadChannel) CloseWithError(cause error) error {
	ch.once.Do(func() {
		if cause != nil {
			_ = ch.pw.CloseWithError(cause)
		} else {
			_ = ch.pw.Close()
		}
		<-ch.done

		switch {
		case cause != nil:
			ch.log.Info("upload aborted", zap.Error(cause))
			ch.closeErr = cause
		case ch.runErr != nil:
			ch.log.Info("upload was not submitted", zap.String("reason", Reason(ch.runErr)))
			ch.closeErr = TransportError.Wrap(ch.runErr)
		default:
			ch.log.Debug("upload submitted")
		}
	})
	return ch.closeErr
}
