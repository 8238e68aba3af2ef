package db

import (
	"context"
	"time"
)

type GetSourceParams struct {
	ID     string
	UserID string
}

type GetSourceFileParams struct {
	ID       string
	SourceID string
	UserID   string
}

type CreateSourceParams struct {
	ID         string
	UserID     string
	Type       SourceType
	Region     string
	AttachType AttachTarget
	AttachID   string
	Now        time.Time
}

type CreateSourceFileParams struct {
	ID       string
	SourceID string
	UserID   string
	Type     SourceFileType
	Region   string
	Filename string
	FileSize int64
	UploadID string
	Now      time.Time
}

type CountSourceFilesNotInStateParams struct {
	SourceID string
	UserID   string
	State    SourceState
}

// UpdateSourceStateParams drives a conditional update: the row changes only if
// it is owned by UserID and currently in one of From.
type UpdateSourceStateParams struct {
	ID                string
	UserID            string
	From              []SourceState
	To                SourceState
	Now               time.Time
	TranscodeStarted  bool
	TranscodeFinished bool
}

type UpdateSourceFileStateParams struct {
	ID       string
	SourceID string
	UserID   string
	From     []SourceState
	To       SourceState
	Now      time.Time
	Uploaded bool
}

type UpdateSourceFilesBySourceParams struct {
	SourceID          string
	UserID            string
	From              []SourceState
	To                SourceState
	Now               time.Time
	ClearEntityExists bool
}

type ClearEntityExistsParams struct {
	ID     string
	UserID string
	Now    time.Time
}

type CountPendingSourcesParams struct {
	UserID string
	Type   SourceType
}

type EntityOwnedParams struct {
	Type   AttachTarget
	ID     string
	UserID string
}

type ListStaleUploadsParams struct {
	CreatedBefore time.Time
	Limit         int32
}

type ListStaleTranscodesParams struct {
	UploadedBefore    time.Time
	TranscodingBefore time.Time
	Limit             int32
}

type ListOverRetentionParams struct {
	Plan           string
	UploadedBefore time.Time
	Limit          int32
}

type ListClosedUsersParams struct {
	ClosedBefore time.Time
	Limit        int32
}

type Querier interface {
	GetUser(ctx context.Context, id string) (User, error)
	DeleteUser(ctx context.Context, id string) (int64, error)
	ListClosedUsers(ctx context.Context, arg ListClosedUsersParams) ([]User, error)

	CreateSource(ctx context.Context, arg CreateSourceParams) (Source, error)
	GetSource(ctx context.Context, arg GetSourceParams) (Source, error)
	LockSource(ctx context.Context, arg GetSourceParams) (Source, error)
	UpdateSourceState(ctx context.Context, arg UpdateSourceStateParams) (int64, error)
	CountPendingSources(ctx context.Context, arg CountPendingSourcesParams) (int64, error)
	ListStaleTranscodingSources(ctx context.Context, arg ListStaleTranscodesParams) ([]Source, error)

	CreateSourceFile(ctx context.Context, arg CreateSourceFileParams) (SourceFile, error)
	GetSourceFile(ctx context.Context, arg GetSourceFileParams) (SourceFile, error)
	ListSourceFilesBySource(ctx context.Context, arg GetSourceParams) ([]SourceFile, error)
	ListSourceFilesByUser(ctx context.Context, userID string) ([]SourceFile, error)
	CountSourceFilesNotInState(ctx context.Context, arg CountSourceFilesNotInStateParams) (int64, error)
	UpdateSourceFileState(ctx context.Context, arg UpdateSourceFileStateParams) (int64, error)
	UpdateSourceFilesBySource(ctx context.Context, arg UpdateSourceFilesBySourceParams) ([]SourceFile, error)
	ClearSourceFileEntityExists(ctx context.Context, arg ClearEntityExistsParams) (int64, error)
	ListStaleUploadingSourceFiles(ctx context.Context, arg ListStaleUploadsParams) ([]SourceFile, error)
	ListOverRetentionSourceFiles(ctx context.Context, arg ListOverRetentionParams) ([]SourceFile, error)

	EntityOwnedByUser(ctx context.Context, arg EntityOwnedParams) (bool, error)
	CountTracksByUser(ctx context.Context, userID string) (int64, error)
	InsertTrack(ctx context.Context, t Track) error
	InsertTrackFile(ctx context.Context, f TrackFile) error
	ListTrackFilesByUser(ctx context.Context, userID string) ([]TrackFile, error)
	InsertImage(ctx context.Context, img Image) error
	InsertImageFile(ctx context.Context, f ImageFile) error
	ListImageFilesByUser(ctx context.Context, userID string) ([]ImageFile, error)
}

// Store is a Querier that can also run a function inside one transaction.
type Store interface {
	Querier
	ExecTx(ctx context.Context, fn func(Querier) error) error
}

func statesToStrings(states []SourceState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
