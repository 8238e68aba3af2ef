// Package lifecycle moves sources and their files through the upload and
// transcode states. Every transition is a conditional update on
// (id, user id, expected state): a transition that finds the row elsewhere
// affects zero rows and is reported as a no-op.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/db"
	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"github.com/SegaraRai/streamist-sub001/internal/metrics"
	"github.com/SegaraRai/streamist-sub001/internal/storage"
)

var ErrNotFound = errors.New("lifecycle: source not found")

// BlobDeleter removes blobs on a best-effort basis and returns the number it
// failed to delete.
type BlobDeleter interface {
	DeleteAll(ctx context.Context, objs []storage.Object) int
}

// PersistFunc writes transcoding artifacts inside the transition transaction.
type PersistFunc func(ctx context.Context, q db.Querier, src db.Source) error

type Result struct {
	// Transitioned is false when a competing transition already moved the row.
	Transitioned bool
	// SourceReady is set by MarkUploaded when the last file of the source
	// completed and the source itself moved to uploaded.
	SourceReady bool
	Source      db.Source
	Files       []db.SourceFile
}

type Machine struct {
	store db.Store
	blobs BlobDeleter
	now   func() time.Time
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

func New(store db.Store, blobs BlobDeleter, opts ...Option) *Machine {
	m := &Machine{
		store: store,
		blobs: blobs,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func notFound(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// MarkUploaded moves one file uploading -> uploaded. When no file of the source
// is left uploading, the source follows in the same transaction.
func (m *Machine) MarkUploaded(ctx context.Context, userID, sourceID, sourceFileID string) (Result, error) {
	var res Result
	now := m.now()

	err := m.store.ExecTx(ctx, func(q db.Querier) error {
		src, err := q.LockSource(ctx, db.GetSourceParams{ID: sourceID, UserID: userID})
		if err != nil {
			return notFound(err)
		}
		res.Source = src

		n, err := q.UpdateSourceFileState(ctx, db.UpdateSourceFileStateParams{
			ID:       sourceFileID,
			SourceID: sourceID,
			UserID:   userID,
			From:     []db.SourceState{db.SourceStateUploading},
			To:       db.SourceStateUploaded,
			Now:      now,
			Uploaded: true,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := q.GetSourceFile(ctx, db.GetSourceFileParams{ID: sourceFileID, SourceID: sourceID, UserID: userID}); err != nil {
				return notFound(err)
			}
			return nil
		}
		res.Transitioned = true

		remaining, err := q.CountSourceFilesNotInState(ctx, db.CountSourceFilesNotInStateParams{
			SourceID: sourceID,
			UserID:   userID,
			State:    db.SourceStateUploaded,
		})
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}

		n, err = q.UpdateSourceState(ctx, db.UpdateSourceStateParams{
			ID:     sourceID,
			UserID: userID,
			From:   []db.SourceState{db.SourceStateUploading},
			To:     db.SourceStateUploaded,
			Now:    now,
		})
		if err != nil {
			return err
		}
		if n == 1 {
			res.SourceReady = true
			res.Source.State = db.SourceStateUploaded
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.RecordTransition(string(db.SourceStateUploaded), res.Transitioned)
	logger.FromContext(ctx).Info("source file uploaded",
		"source_id", sourceID,
		"source_file_id", sourceFileID,
		"transitioned", res.Transitioned,
		"source_ready", res.SourceReady,
	)
	return res, nil
}

// MarkTranscoding records that a transcode request was handed to a runner.
func (m *Machine) MarkTranscoding(ctx context.Context, userID, sourceID string) (Result, error) {
	res, err := m.move(ctx, userID, sourceID, move{
		from:             []db.SourceState{db.SourceStateUploaded},
		to:               db.SourceStateTranscoding,
		transcodeStarted: true,
	}, nil)
	if err != nil {
		return Result{}, err
	}
	metrics.RecordTransition(string(db.SourceStateTranscoding), res.Transitioned)
	return res, nil
}

// MarkTranscoded completes the source and runs persist in the same
// transaction. persist is not called when the transition is a no-op.
func (m *Machine) MarkTranscoded(ctx context.Context, userID, sourceID string, persist PersistFunc) (Result, error) {
	res, err := m.move(ctx, userID, sourceID, move{
		from:              []db.SourceState{db.SourceStateUploaded, db.SourceStateTranscoding},
		to:                db.SourceStateTranscoded,
		transcodeFinished: true,
	}, persist)
	if err != nil {
		return Result{}, err
	}
	metrics.RecordTransition(string(db.SourceStateTranscoded), res.Transitioned)
	logger.FromContext(ctx).Info("source transcoded", "source_id", sourceID, "transitioned", res.Transitioned)
	return res, nil
}

func (m *Machine) MarkFailed(ctx context.Context, userID, sourceID string) (Result, error) {
	return m.fail(ctx, userID, sourceID, move{
		from:              []db.SourceState{db.SourceStateUploaded, db.SourceStateTranscoding},
		to:                db.SourceStateFailed,
		transcodeFinished: true,
	})
}

func (m *Machine) MarkNotUploaded(ctx context.Context, userID, sourceID string) (Result, error) {
	return m.fail(ctx, userID, sourceID, move{
		from:     []db.SourceState{db.SourceStateUploading},
		fileFrom: []db.SourceState{db.SourceStateUploading, db.SourceStateUploaded},
		to:       db.SourceStateNotUploaded,
	})
}

func (m *Machine) MarkNotTranscoded(ctx context.Context, userID, sourceID string) (Result, error) {
	return m.fail(ctx, userID, sourceID, move{
		from: []db.SourceState{db.SourceStateUploaded, db.SourceStateTranscoding},
		to:   db.SourceStateNotTranscoded,
	})
}

type move struct {
	from              []db.SourceState
	fileFrom          []db.SourceState
	to                db.SourceState
	transcodeStarted  bool
	transcodeFinished bool
}

// move updates the source and then every file of it still in one of the
// source's prior states.
func (m *Machine) move(ctx context.Context, userID, sourceID string, mv move, persist PersistFunc) (Result, error) {
	var res Result
	now := m.now()

	fileFrom := mv.fileFrom
	if fileFrom == nil {
		fileFrom = mv.from
	}

	err := m.store.ExecTx(ctx, func(q db.Querier) error {
		src, err := q.LockSource(ctx, db.GetSourceParams{ID: sourceID, UserID: userID})
		if err != nil {
			return notFound(err)
		}

		n, err := q.UpdateSourceState(ctx, db.UpdateSourceStateParams{
			ID:                sourceID,
			UserID:            userID,
			From:              mv.from,
			To:                mv.to,
			Now:               now,
			TranscodeStarted:  mv.transcodeStarted,
			TranscodeFinished: mv.transcodeFinished,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			res.Source = src
			return nil
		}
		res.Transitioned = true

		files, err := q.UpdateSourceFilesBySource(ctx, db.UpdateSourceFilesBySourceParams{
			SourceID:          sourceID,
			UserID:            userID,
			From:              fileFrom,
			To:                mv.to,
			Now:               now,
			ClearEntityExists: Failure(mv.to),
		})
		if err != nil {
			return err
		}
		res.Files = files

		src.State = mv.to
		src.UpdatedAt = now
		res.Source = src

		if persist != nil {
			if err := persist(ctx, q, src); err != nil {
				return fmt.Errorf("persist artifacts: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// fail moves the source to a failure state, then deletes the blobs of the
// files it moved. Deletion runs after commit and never undoes the transition.
func (m *Machine) fail(ctx context.Context, userID, sourceID string, mv move) (Result, error) {
	res, err := m.move(ctx, userID, sourceID, mv, nil)
	if err != nil {
		return Result{}, err
	}
	metrics.RecordTransition(string(mv.to), res.Transitioned)

	ctx = logger.WithSource(ctx, userID, sourceID)
	log := logger.FromContext(ctx)
	if !res.Transitioned {
		log.Debug("source already transitioned", "to", mv.to, "state", res.Source.State)
		return res, nil
	}

	objs := make([]storage.Object, 0, len(res.Files))
	for _, f := range res.Files {
		obj := storage.Object{Region: f.Region, Key: storage.SourceFileKey(userID, f.ID)}
		if f.Multipart() && f.UploadedAt == nil {
			obj.UploadID = f.UploadID
		}
		objs = append(objs, obj)
	}

	failed := 0
	if m.blobs != nil {
		failed = m.blobs.DeleteAll(ctx, objs)
	}

	log.Info("source marked as failed", "state", mv.to, "files", len(res.Files), "delete_failures", failed)
	return res, nil
}
