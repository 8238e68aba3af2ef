package cleanup

import (
	"context"
	"fmt"

	"github.com/SegaraRai/streamist-sub001/internal/db"
	"github.com/SegaraRai/streamist-sub001/internal/lifecycle"
	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"github.com/SegaraRai/streamist-sub001/internal/plan"
	"github.com/SegaraRai/streamist-sub001/internal/storage"
)

func (c *Cleaner) transition(ctx context.Context, stats *Stats, userID, sourceID string,
	mark func(context.Context, string, string) (lifecycle.Result, error)) {
	res, err := mark(ctx, userID, sourceID)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to transition stale source",
			"user_id", userID,
			"source_id", sourceID,
			"error", err,
		)
		stats.DatabaseErrors++
		return
	}
	if !res.Transitioned {
		stats.Skipped++
		return
	}
	stats.Processed++
}

// staleUploads fails every source that still has a file uploading after the
// stale upload deadline. Open multipart uploads are aborted by the transition.
func (c *Cleaner) staleUploads(ctx context.Context, stats *Stats) error {
	cutoff := c.now().Add(-c.cfg.StaleUploadDeadline())

	err := drain(ctx, c.cfg.BatchSize,
		func(ctx context.Context) ([]db.SourceFile, error) {
			return c.deps.Queries.ListStaleUploadingSourceFiles(ctx, db.ListStaleUploadsParams{
				CreatedBefore: cutoff,
				Limit:         c.cfg.BatchSize,
			})
		},
		func(f db.SourceFile) string { return f.SourceID },
		func(ctx context.Context, files []db.SourceFile) {
			for _, f := range files {
				c.transition(ctx, stats, f.UserID, f.SourceID, c.deps.Machine.MarkNotUploaded)
			}
		},
	)
	if err != nil {
		return fmt.Errorf("failed to sweep stale uploads: %w", err)
	}
	return nil
}

// staleTranscodes fails sources that were uploaded but never dispatched, or
// dispatched but never called back, within the transcode deadline.
func (c *Cleaner) staleTranscodes(ctx context.Context, stats *Stats) error {
	cutoff := c.now().Add(-c.cfg.TranscodeDeadline)

	err := drain(ctx, c.cfg.BatchSize,
		func(ctx context.Context) ([]db.Source, error) {
			return c.deps.Queries.ListStaleTranscodingSources(ctx, db.ListStaleTranscodesParams{
				UploadedBefore:    cutoff,
				TranscodingBefore: cutoff,
				Limit:             c.cfg.BatchSize,
			})
		},
		func(s db.Source) string { return s.ID },
		func(ctx context.Context, sources []db.Source) {
			for _, s := range sources {
				c.transition(ctx, stats, s.UserID, s.ID, c.deps.Machine.MarkNotTranscoded)
			}
		},
	)
	if err != nil {
		return fmt.Errorf("failed to sweep stale transcodes: %w", err)
	}
	return nil
}

func (c *Cleaner) deleteBlobs(ctx context.Context, stats *Stats, objs []storage.Object) {
	if len(objs) == 0 || c.deps.Blobs == nil {
		return
	}
	failed := c.deps.Blobs.DeleteAll(ctx, objs)
	stats.BlobsDeleted += len(objs) - failed
	stats.StorageDeleteErrors += failed
}

// overRetention expires source blobs older than their owner's plan allows.
// The row gives up the blob first; an uploadedAt exactly at the cutoff is kept.
func (c *Cleaner) overRetention(ctx context.Context, stats *Stats) error {
	now := c.now()
	log := logger.FromContext(ctx)

	for _, p := range plan.All() {
		if !p.HasRetention() {
			continue
		}
		cutoff := p.RetentionCutoff(now)

		err := drain(ctx, c.cfg.BatchSize,
			func(ctx context.Context) ([]db.SourceFile, error) {
				return c.deps.Queries.ListOverRetentionSourceFiles(ctx, db.ListOverRetentionParams{
					Plan:           string(p.ID),
					UploadedBefore: cutoff,
					Limit:          c.cfg.BatchSize,
				})
			},
			func(f db.SourceFile) string { return f.ID },
			func(ctx context.Context, files []db.SourceFile) {
				objs := make([]storage.Object, 0, len(files))
				for _, f := range files {
					n, err := c.deps.Queries.ClearSourceFileEntityExists(ctx, db.ClearEntityExistsParams{
						ID:     f.ID,
						UserID: f.UserID,
						Now:    now,
					})
					if err != nil {
						log.Warn("failed to expire source file",
							"source_file_id", f.ID,
							"error", err,
						)
						stats.DatabaseErrors++
						continue
					}
					if n == 0 {
						stats.Skipped++
						continue
					}
					stats.Processed++
					objs = append(objs, storage.Object{Region: f.Region, Key: storage.SourceFileKey(f.UserID, f.ID)})
				}
				c.deleteBlobs(ctx, stats, objs)
			},
		)
		if err != nil {
			return fmt.Errorf("failed to sweep %s plan retention: %w", p.ID, err)
		}
	}
	return nil
}

// closedAccounts purges users closed longer than the grace period. The user
// row is deleted first; blobs follow only once that delete has committed.
func (c *Cleaner) closedAccounts(ctx context.Context, stats *Stats) error {
	cutoff := c.now().Add(-c.cfg.ClosedAccountGrace)

	err := drain(ctx, c.cfg.BatchSize,
		func(ctx context.Context) ([]db.User, error) {
			return c.deps.Queries.ListClosedUsers(ctx, db.ListClosedUsersParams{
				ClosedBefore: cutoff,
				Limit:        c.cfg.BatchSize,
			})
		},
		func(u db.User) string { return u.ID },
		func(ctx context.Context, users []db.User) {
			for _, u := range users {
				c.purgeUser(ctx, stats, u.ID)
			}
		},
	)
	if err != nil {
		return fmt.Errorf("failed to sweep closed accounts: %w", err)
	}
	return nil
}

func (c *Cleaner) purgeUser(ctx context.Context, stats *Stats, userID string) {
	ctx = logger.With(ctx, "user_id", userID)
	log := logger.FromContext(ctx)

	objs, err := c.userObjects(ctx, userID)
	if err != nil {
		log.Warn("failed to collect user blobs", "error", err)
		stats.DatabaseErrors++
		return
	}

	n, err := c.deps.Queries.DeleteUser(ctx, userID)
	if err != nil {
		log.Warn("failed to delete user", "error", err)
		stats.DatabaseErrors++
		return
	}
	if n == 0 {
		stats.Skipped++
		return
	}
	stats.Processed++

	c.deleteBlobs(ctx, stats, objs)
	log.Info("closed account purged", "blobs", len(objs))
}

// userObjects lists every blob a user may own: source files, their transcode
// logs, and transcoded tracks and images.
func (c *Cleaner) userObjects(ctx context.Context, userID string) ([]storage.Object, error) {
	var objs []storage.Object

	sourceFiles, err := c.deps.Queries.ListSourceFilesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list source files: %w", err)
	}
	for _, f := range sourceFiles {
		obj := storage.Object{Region: f.Region, Key: storage.SourceFileKey(userID, f.ID)}
		if f.Multipart() && f.UploadedAt == nil {
			obj.UploadID = f.UploadID
		}
		if f.EntityExists || obj.UploadID != "" {
			objs = append(objs, obj)
		}

		logType := "audio"
		if f.Type == db.SourceFileTypeImage {
			logType = "image"
		}
		objs = append(objs, storage.Object{Region: f.Region, Key: storage.TranscodeLogKey(userID, f.ID, logType)})
	}

	trackFiles, err := c.deps.Queries.ListTrackFilesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list track files: %w", err)
	}
	for _, f := range trackFiles {
		objs = append(objs, storage.Object{Region: f.Region, Key: storage.TranscodedAudioKey(userID, f.ID, f.Extension)})
	}

	imageFiles, err := c.deps.Queries.ListImageFilesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list image files: %w", err)
	}
	for _, f := range imageFiles {
		objs = append(objs, storage.Object{Region: f.Region, Key: storage.TranscodedImageKey(userID, f.ID, f.Extension)})
	}
	return objs, nil
}
