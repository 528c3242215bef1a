package bigquery

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// StagedSubmitter uploads the payload to a Cloud Storage object first and
// loads the table from there. The object is removed once the job is terminal.
type StagedSubmitter struct {
	client *Client
	bucket *storage.BucketHandle
	name   string
	prefix string
	log    *zap.Logger
}

var _ Submitter = (*StagedSubmitter)(nil)

func NewStagedSubmitter(client *Client, gcs *storage.Client, bucket, prefix string) *StagedSubmitter {
	return &StagedSubmitter{
		client: client,
		bucket: gcs.Bucket(bucket),
		name:   bucket,
		prefix: prefix,
		log:    client.log.Named("staging").With(zap.String("bucket", bucket)),
	}
}

func (s *StagedSubmitter) objectName(id JobID) string {
	return path.Join(s.prefix, id.Name)
}

func (s *StagedSubmitter) OpenUpload(ctx context.Context, id JobID, cfg LoadConfig) (UploadChannel, error) {
	object := s.bucket.Object(s.objectName(id))

	wctx, cancel := context.WithCancel(ctx)
	w := object.NewWriter(wctx)
	w.ContentType = "application/octet-stream"

	return &stagedChannel{
		ctx:       ctx,
		cancel:    cancel,
		w:         w,
		uri:       fmt.Sprintf("gs://%s/%s", s.name, s.objectName(id)),
		submitter: s,
		id:        id,
		cfg:       cfg,
		log:       s.log.With(zap.Stringer("job", id)),
	}, nil
}

// Job returns a handle that deletes the staging object once the job is done.
// After a PollError the object is kept; waiting on the job again through a
// StagedSubmitter removes it.
func (s *StagedSubmitter) Job(ctx context.Context, id JobID) (JobHandle, error) {
	job, err := s.client.Job(ctx, id)
	if err != nil {
		if JobVanished.Has(err) {
			s.cleanup(ctx, id)
		}
		return nil, err
	}
	return &stagedJob{JobHandle: job, submitter: s}, nil
}

func (s *StagedSubmitter) cleanup(ctx context.Context, id JobID) {
	err := s.bucket.Object(s.objectName(id)).Delete(context.WithoutCancel(ctx))
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		s.log.Warn("failed to delete staging object", zap.Stringer("job", id), zap.Error(err))
	}
}

type stagedChannel struct {
	ctx       context.Context
	cancel    context.CancelFunc
	w         *storage.Writer
	uri       string
	submitter *StagedSubmitter
	id        JobID
	cfg       LoadConfig
	log       *zap.Logger

	once     sync.Once
	closeErr error
}

func (ch *stagedChannel) Write(p []byte) (int, error) {
	return ch.w.Write(p)
}

func (ch *stagedChannel) Close() error {
	return ch.CloseWithError(nil)
}

func (ch *stagedChannel) CloseWithError(cause error) error {
	ch.once.Do(func() {
		defer ch.cancel()

		if cause != nil {
			// Cancelling the writer's context discards the object.
			ch.cancel()
			_ = ch.w.Close()
			ch.log.Info("staging upload aborted", zap.Error(cause))
			ch.closeErr = cause
			return
		}

		if err := ch.w.Close(); err != nil {
			ch.log.Info("staging object was not written", zap.String("reason", Reason(err)))
			ch.closeErr = TransportError.Wrap(err)
			return
		}

		ref := bigquery.NewGCSReference(ch.uri)
		ref.FileConfig = ch.cfg.fileConfig()

		loader := ch.submitter.client.table(ch.cfg.Table).LoaderFrom(ref)
		loader.JobID = ch.id.Name
		loader.Location = ch.id.Location

		if _, err := loader.Run(ch.ctx); err != nil {
			ch.log.Info("load from staging object was not submitted", zap.String("reason", Reason(err)))
			ch.submitter.cleanup(ch.ctx, ch.id)
			ch.closeErr = TransportError.Wrap(err)
			return
		}
		ch.log.Debug("load submitted from staging object", zap.String("uri", ch.uri))
	})
	return ch.closeErr
}

type stagedJob struct {
	JobHandle
	submitter *StagedSubmitter
}

func (j *stagedJob) Wait(ctx context.Context) (*LoadStatistics, error) {
	stats, err := j.JobHandle.Wait(ctx)
	if err == nil || LoadFailed.Has(err) || JobVanished.Has(err) {
		j.submitter.cleanup(ctx, j.ID())
	}
	return stats, err
}
