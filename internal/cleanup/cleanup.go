// Package cleanup holds the periodic sweeps that reap sources stuck in an
// intermediate state, expire source blobs past their plan's retention and
// purge closed accounts. Every sweep is a function of the current time and
// safe to run repeatedly or concurrently with user traffic.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/db"
	"github.com/SegaraRai/streamist-sub001/internal/lifecycle"
	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"github.com/SegaraRai/streamist-sub001/internal/metrics"
	"github.com/SegaraRai/streamist-sub001/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

type Job string

const (
	JobStaleUploads    Job = "stale-uploads"
	JobStaleTranscodes Job = "stale-transcodes"
	JobOverRetention   Job = "over-retention"
	JobClosedAccounts  Job = "closed-accounts"
)

var ErrUnknownJob = errors.New("cleanup: unknown job")

func Jobs() []Job {
	return []Job{JobStaleUploads, JobStaleTranscodes, JobOverRetention, JobClosedAccounts}
}

func ParseJob(s string) (Job, error) {
	for _, j := range Jobs() {
		if string(j) == s {
			return j, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJob, s)
}

const (
	DefaultUploadWindow       = 3 * time.Hour
	DefaultPresignExpiry      = 1 * time.Hour
	DefaultUploadMargin       = 30 * time.Minute
	DefaultTranscodeDeadline  = 6 * time.Hour
	DefaultClosedAccountGrace = 7 * 24 * time.Hour
	DefaultBatchSize          = 100
)

type Config struct {
	UploadWindow       time.Duration
	PresignExpiry      time.Duration
	UploadMargin       time.Duration
	TranscodeDeadline  time.Duration
	ClosedAccountGrace time.Duration
	BatchSize          int32
}

func (c Config) withDefaults() Config {
	if c.UploadWindow <= 0 {
		c.UploadWindow = DefaultUploadWindow
	}
	if c.PresignExpiry <= 0 {
		c.PresignExpiry = DefaultPresignExpiry
	}
	if c.UploadMargin <= 0 {
		c.UploadMargin = DefaultUploadMargin
	}
	if c.TranscodeDeadline <= 0 {
		c.TranscodeDeadline = DefaultTranscodeDeadline
	}
	if c.ClosedAccountGrace <= 0 {
		c.ClosedAccountGrace = DefaultClosedAccountGrace
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// StaleUploadDeadline is how long a file may stay uploading: the upload
// window, plus the longest presigned URL issued at its end, plus a margin.
func (c Config) StaleUploadDeadline() time.Duration {
	return c.UploadWindow + c.PresignExpiry + c.UploadMargin
}

// StateMachine is the part of lifecycle.Machine the sweeps drive.
type StateMachine interface {
	MarkNotUploaded(ctx context.Context, userID, sourceID string) (lifecycle.Result, error)
	MarkNotTranscoded(ctx context.Context, userID, sourceID string) (lifecycle.Result, error)
}

type Dependencies struct {
	Queries db.Querier
	Machine StateMachine
	Blobs   lifecycle.BlobDeleter
}

type Stats struct {
	Job Job
	// Processed counts sources transitioned, files expired or users purged.
	Processed int
	// Skipped counts rows a competing writer handled first.
	Skipped             int
	BlobsDeleted        int
	StorageDeleteErrors int
	DatabaseErrors      int
	Duration            time.Duration
}

func (s *Stats) record() {
	job := string(s.Job)
	metrics.RecordCleanup(job, "processed", s.Processed)
	metrics.RecordCleanup(job, "skipped", s.Skipped)
	metrics.RecordCleanup(job, "blob_deleted", s.BlobsDeleted)
	metrics.RecordCleanup(job, "storage_error", s.StorageDeleteErrors)
	metrics.RecordCleanup(job, "database_error", s.DatabaseErrors)
}

type Cleaner struct {
	deps Dependencies
	cfg  Config
	now  func() time.Time
}

type Option func(*Cleaner)

func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) {
		c.now = now
	}
}

func New(deps Dependencies, cfg Config, opts ...Option) *Cleaner {
	c := &Cleaner{
		deps: deps,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes one sweep.
func (c *Cleaner) Run(ctx context.Context, job Job) (*Stats, error) {
	var sweep func(context.Context, *Stats) error
	switch job {
	case JobStaleUploads:
		sweep = c.staleUploads
	case JobStaleTranscodes:
		sweep = c.staleTranscodes
	case JobOverRetention:
		sweep = c.overRetention
	case JobClosedAccounts:
		sweep = c.closedAccounts
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}

	ctx, span := tracing.StartSweepSpan(ctx, string(job))
	defer span.End()

	ctx = logger.With(ctx, "job", string(job))
	log := logger.FromContext(ctx)
	log.Info("starting cleanup job")
	start := time.Now()

	stats := &Stats{Job: job}
	err := sweep(ctx, stats)
	stats.Duration = time.Since(start)
	stats.record()
	tracing.AddSpanAttributes(ctx,
		attribute.Int("cleanup.processed", stats.Processed),
		attribute.Int("cleanup.skipped", stats.Skipped),
		attribute.Int("cleanup.blobs_deleted", stats.BlobsDeleted),
	)

	if err != nil {
		tracing.RecordError(ctx, err)
		log.Error("cleanup job failed", "error", err, "processed", stats.Processed)
		return stats, err
	}

	log.Info("cleanup job completed",
		"duration_ms", stats.Duration.Milliseconds(),
		"processed", stats.Processed,
		"skipped", stats.Skipped,
		"blobs_deleted", stats.BlobsDeleted,
		"storage_errors", stats.StorageDeleteErrors,
		"database_errors", stats.DatabaseErrors,
	)
	return stats, nil
}

func (c *Cleaner) StaleUploads(ctx context.Context) (*Stats, error) {
	return c.Run(ctx, JobStaleUploads)
}

func (c *Cleaner) StaleTranscodes(ctx context.Context) (*Stats, error) {
	return c.Run(ctx, JobStaleTranscodes)
}

func (c *Cleaner) OverRetention(ctx context.Context) (*Stats, error) {
	return c.Run(ctx, JobOverRetention)
}

func (c *Cleaner) ClosedAccounts(ctx context.Context) (*Stats, error) {
	return c.Run(ctx, JobClosedAccounts)
}

// drain lists batches until a batch is short or holds nothing new. Rows a
// previous batch already handled are dropped before handle sees them, so a
// row that cannot leave the listed set ends the loop instead of spinning.
func drain[T any](ctx context.Context, batchSize int32, list func(context.Context) ([]T, error), key func(T) string, handle func(context.Context, []T)) error {
	seen := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, err := list(ctx)
		if err != nil {
			return err
		}

		fresh := make([]T, 0, len(items))
		for _, it := range items {
			k := key(it)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			fresh = append(fresh, it)
		}
		if len(fresh) > 0 {
			handle(ctx, fresh)
		}

		if int32(len(items)) < batchSize || len(fresh) == 0 {
			return nil
		}
	}
}
