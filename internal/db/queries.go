package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

var _ Querier = (*Queries)(nil)

const userColumns = `id, plan, closed_at, created_at`

const sourceColumns = `id, user_id, type, state, region, attach_type, attach_id,
	transcode_started_at, transcode_finished_at, created_at, updated_at`

const sourceFileColumns = `id, source_id, user_id, type, region, filename, file_size, state,
	entity_exists, upload_id, uploaded_at, created_at, updated_at`

const trackFileColumns = `id, user_id, track_id, region, format, mime_type, extension, file_size, created_at`

const imageFileColumns = `id, user_id, image_id, region, format, mime_type, extension, width, height, file_size, created_at`

func collectOne[T any](rows pgx.Rows, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	v, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[T])
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, ErrNotFound
	}
	return v, err
}

func collectAll[T any](rows pgx.Rows, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[T])
}

func (q *Queries) GetUser(ctx context.Context, id string) (User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return collectOne[User](rows, err)
}

func (q *Queries) DeleteUser(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListClosedUsers(ctx context.Context, arg ListClosedUsersParams) ([]User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users
		WHERE closed_at IS NOT NULL AND closed_at < $1
		ORDER BY closed_at
		LIMIT $2`, arg.ClosedBefore, arg.Limit)
	return collectAll[User](rows, err)
}

func (q *Queries) CreateSource(ctx context.Context, arg CreateSourceParams) (Source, error) {
	rows, err := q.db.Query(ctx, `INSERT INTO sources
		(id, user_id, type, state, region, attach_type, attach_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+sourceColumns,
		arg.ID, arg.UserID, string(arg.Type), string(SourceStateUploading), arg.Region,
		string(arg.AttachType), arg.AttachID, arg.Now)
	return collectOne[Source](rows, err)
}

func (q *Queries) GetSource(ctx context.Context, arg GetSourceParams) (Source, error) {
	rows, err := q.db.Query(ctx, `SELECT `+sourceColumns+` FROM sources
		WHERE id = $1 AND user_id = $2`, arg.ID, arg.UserID)
	return collectOne[Source](rows, err)
}

// LockSource reads the source row and holds a row lock until the transaction ends.
func (q *Queries) LockSource(ctx context.Context, arg GetSourceParams) (Source, error) {
	rows, err := q.db.Query(ctx, `SELECT `+sourceColumns+` FROM sources
		WHERE id = $1 AND user_id = $2
		FOR UPDATE`, arg.ID, arg.UserID)
	return collectOne[Source](rows, err)
}

func (q *Queries) UpdateSourceState(ctx context.Context, arg UpdateSourceStateParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE sources SET
			state = $4,
			updated_at = $5,
			transcode_started_at = CASE WHEN $6::boolean THEN $5 ELSE transcode_started_at END,
			transcode_finished_at = CASE WHEN $7::boolean THEN $5 ELSE transcode_finished_at END
		WHERE id = $1 AND user_id = $2 AND state = ANY($3::text[])`,
		arg.ID, arg.UserID, statesToStrings(arg.From), string(arg.To), arg.Now,
		arg.TranscodeStarted, arg.TranscodeFinished)
	if err != nil {
		return 0, fmt.Errorf("update source state: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) CountPendingSources(ctx context.Context, arg CountPendingSourcesParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM sources
		WHERE user_id = $1 AND type = $2 AND state = ANY($3::text[])`,
		arg.UserID, string(arg.Type),
		statesToStrings([]SourceState{SourceStateUploading, SourceStateUploaded, SourceStateTranscoding}),
	).Scan(&n)
	return n, err
}

func (q *Queries) ListStaleTranscodingSources(ctx context.Context, arg ListStaleTranscodesParams) ([]Source, error) {
	rows, err := q.db.Query(ctx, `SELECT `+sourceColumns+` FROM sources
		WHERE (state = 'uploaded' AND updated_at < $1)
		   OR (state = 'transcoding' AND transcode_started_at < $2)
		ORDER BY updated_at
		LIMIT $3`, arg.UploadedBefore, arg.TranscodingBefore, arg.Limit)
	return collectAll[Source](rows, err)
}

func (q *Queries) CreateSourceFile(ctx context.Context, arg CreateSourceFileParams) (SourceFile, error) {
	rows, err := q.db.Query(ctx, `INSERT INTO source_files
		(id, source_id, user_id, type, region, filename, file_size, state, entity_exists, upload_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10, $10)
		RETURNING `+sourceFileColumns,
		arg.ID, arg.SourceID, arg.UserID, string(arg.Type), arg.Region, arg.Filename, arg.FileSize,
		string(SourceStateUploading), arg.UploadID, arg.Now)
	return collectOne[SourceFile](rows, err)
}

func (q *Queries) GetSourceFile(ctx context.Context, arg GetSourceFileParams) (SourceFile, error) {
	rows, err := q.db.Query(ctx, `SELECT `+sourceFileColumns+` FROM source_files
		WHERE id = $1 AND source_id = $2 AND user_id = $3`, arg.ID, arg.SourceID, arg.UserID)
	return collectOne[SourceFile](rows, err)
}

func (q *Queries) ListSourceFilesBySource(ctx context.Context, arg GetSourceParams) ([]SourceFile, error) {
	rows, err := q.db.Query(ctx, `SELECT `+sourceFileColumns+` FROM source_files
		WHERE source_id = $1 AND user_id = $2
		ORDER BY created_at, id`, arg.ID, arg.UserID)
	return collectAll[SourceFile](rows, err)
}

func (q *Queries) ListSourceFilesByUser(ctx context.Context, userID string) ([]SourceFile, error) {
	rows, err := q.db.Query(ctx, `SELECT `+sourceFileColumns+` FROM source_files
		WHERE user_id = $1`, userID)
	return collectAll[SourceFile](rows, err)
}

func (q *Queries) CountSourceFilesNotInState(ctx context.Context, arg CountSourceFilesNotInStateParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM source_files
		WHERE source_id = $1 AND user_id = $2 AND state <> $3`,
		arg.SourceID, arg.UserID, string(arg.State)).Scan(&n)
	return n, err
}

func (q *Queries) UpdateSourceFileState(ctx context.Context, arg UpdateSourceFileStateParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE source_files SET
			state = $5,
			updated_at = $6,
			uploaded_at = CASE WHEN $7::boolean THEN $6 ELSE uploaded_at END,
			entity_exists = CASE WHEN $7::boolean THEN TRUE ELSE entity_exists END
		WHERE id = $1 AND source_id = $2 AND user_id = $3 AND state = ANY($4::text[])`,
		arg.ID, arg.SourceID, arg.UserID, statesToStrings(arg.From), string(arg.To), arg.Now, arg.Uploaded)
	if err != nil {
		return 0, fmt.Errorf("update source file state: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) UpdateSourceFilesBySource(ctx context.Context, arg UpdateSourceFilesBySourceParams) ([]SourceFile, error) {
	rows, err := q.db.Query(ctx, `UPDATE source_files SET
			state = $4,
			updated_at = $5,
			entity_exists = CASE WHEN $6::boolean THEN FALSE ELSE entity_exists END
		WHERE source_id = $1 AND user_id = $2 AND state = ANY($3::text[])
		RETURNING `+sourceFileColumns,
		arg.SourceID, arg.UserID, statesToStrings(arg.From), string(arg.To), arg.Now, arg.ClearEntityExists)
	return collectAll[SourceFile](rows, err)
}

func (q *Queries) ClearSourceFileEntityExists(ctx context.Context, arg ClearEntityExistsParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE source_files SET entity_exists = FALSE, updated_at = $3
		WHERE id = $1 AND user_id = $2 AND entity_exists`, arg.ID, arg.UserID, arg.Now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListStaleUploadingSourceFiles(ctx context.Context, arg ListStaleUploadsParams) ([]SourceFile, error) {
	rows, err := q.db.Query(ctx, `SELECT `+sourceFileColumns+` FROM source_files
		WHERE state = 'uploading' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, arg.CreatedBefore, arg.Limit)
	return collectAll[SourceFile](rows, err)
}

func (q *Queries) ListOverRetentionSourceFiles(ctx context.Context, arg ListOverRetentionParams) ([]SourceFile, error) {
	rows, err := q.db.Query(ctx, `SELECT sf.id, sf.source_id, sf.user_id, sf.type, sf.region, sf.filename,
			sf.file_size, sf.state, sf.entity_exists, sf.upload_id, sf.uploaded_at, sf.created_at, sf.updated_at
		FROM source_files sf
		JOIN users u ON u.id = sf.user_id
		WHERE u.plan = $1 AND sf.entity_exists AND sf.uploaded_at < $2
		ORDER BY sf.uploaded_at
		LIMIT $3`, arg.Plan, arg.UploadedBefore, arg.Limit)
	return collectAll[SourceFile](rows, err)
}

var attachTables = map[AttachTarget]string{
	AttachTargetAlbum:    "albums",
	AttachTargetArtist:   "artists",
	AttachTargetPlaylist: "playlists",
}

func (q *Queries) EntityOwnedByUser(ctx context.Context, arg EntityOwnedParams) (bool, error) {
	table, ok := attachTables[arg.Type]
	if !ok {
		return false, fmt.Errorf("unknown attach target %q", arg.Type)
	}
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1 AND user_id = $2)`,
		arg.ID, arg.UserID).Scan(&exists)
	return exists, err
}

func (q *Queries) CountTracksByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM tracks WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

func (q *Queries) InsertTrack(ctx context.Context, t Track) error {
	_, err := q.db.Exec(ctx, `INSERT INTO tracks
		(id, user_id, source_id, title, artist_name, album_title, album_artist_name,
		 disc_number, track_number, duration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.UserID, t.SourceID, t.Title, t.ArtistName, t.AlbumTitle, t.AlbumArtistName,
		t.DiscNumber, t.TrackNumber, t.Duration, t.CreatedAt)
	return err
}

func (q *Queries) InsertTrackFile(ctx context.Context, f TrackFile) error {
	_, err := q.db.Exec(ctx, `INSERT INTO track_files (`+trackFileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		f.ID, f.UserID, f.TrackID, f.Region, f.Format, f.MimeType, f.Extension, f.FileSize, f.CreatedAt)
	return err
}

func (q *Queries) ListTrackFilesByUser(ctx context.Context, userID string) ([]TrackFile, error) {
	rows, err := q.db.Query(ctx, `SELECT `+trackFileColumns+` FROM track_files WHERE user_id = $1`, userID)
	return collectAll[TrackFile](rows, err)
}

func (q *Queries) InsertImage(ctx context.Context, img Image) error {
	_, err := q.db.Exec(ctx, `INSERT INTO images (id, user_id, source_id, attach_type, attach_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		img.ID, img.UserID, img.SourceID, string(img.AttachType), img.AttachID, img.CreatedAt)
	return err
}

func (q *Queries) InsertImageFile(ctx context.Context, f ImageFile) error {
	_, err := q.db.Exec(ctx, `INSERT INTO image_files (`+imageFileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		f.ID, f.UserID, f.ImageID, f.Region, f.Format, f.MimeType, f.Extension, f.Width, f.Height, f.FileSize, f.CreatedAt)
	return err
}

func (q *Queries) ListImageFilesByUser(ctx context.Context, userID string) ([]ImageFile, error) {
	rows, err := q.db.Query(ctx, `SELECT `+imageFileColumns+` FROM image_files WHERE user_id = $1`, userID)
	return collectAll[ImageFile](rows, err)
}
