package db

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("db: record not found")

type SourceState string

const (
	SourceStateUploading     SourceState = "uploading"
	SourceStateUploaded      SourceState = "uploaded"
	SourceStateTranscoding   SourceState = "transcoding"
	SourceStateTranscoded    SourceState = "transcoded"
	SourceStateFailed        SourceState = "failed"
	SourceStateNotUploaded   SourceState = "not_uploaded"
	SourceStateNotTranscoded SourceState = "not_transcoded"
)

type SourceType string

const (
	SourceTypeAudio SourceType = "audio"
	SourceTypeImage SourceType = "image"
)

type SourceFileType string

const (
	SourceFileTypeAudio    SourceFileType = "audio"
	SourceFileTypeCueSheet SourceFileType = "cue_sheet"
	SourceFileTypeImage    SourceFileType = "image"
)

type AttachTarget string

const (
	AttachTargetAlbum    AttachTarget = "album"
	AttachTargetArtist   AttachTarget = "artist"
	AttachTargetPlaylist AttachTarget = "playlist"
)

func (t AttachTarget) Valid() bool {
	switch t {
	case AttachTargetAlbum, AttachTargetArtist, AttachTargetPlaylist:
		return true
	}
	return false
}

type User struct {
	ID        string     `db:"id"`
	Plan      string     `db:"plan"`
	ClosedAt  *time.Time `db:"closed_at"`
	CreatedAt time.Time  `db:"created_at"`
}

type Source struct {
	ID                  string       `db:"id"`
	UserID              string       `db:"user_id"`
	Type                SourceType   `db:"type"`
	State               SourceState  `db:"state"`
	Region              string       `db:"region"`
	AttachType          AttachTarget `db:"attach_type"`
	AttachID            string       `db:"attach_id"`
	TranscodeStartedAt  *time.Time   `db:"transcode_started_at"`
	TranscodeFinishedAt *time.Time   `db:"transcode_finished_at"`
	CreatedAt           time.Time    `db:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"`
}

// SourceFile is one physical blob of a source. EntityExists is false until the
// upload completes and again once the blob has been deleted.
type SourceFile struct {
	ID           string         `db:"id"`
	SourceID     string         `db:"source_id"`
	UserID       string         `db:"user_id"`
	Type         SourceFileType `db:"type"`
	Region       string         `db:"region"`
	Filename     string         `db:"filename"`
	FileSize     int64          `db:"file_size"`
	State        SourceState    `db:"state"`
	EntityExists bool           `db:"entity_exists"`
	UploadID     string         `db:"upload_id"`
	UploadedAt   *time.Time     `db:"uploaded_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// Multipart reports whether the file is uploaded through a multipart upload.
func (f SourceFile) Multipart() bool {
	return f.UploadID != ""
}

type Track struct {
	ID              string    `db:"id"`
	UserID          string    `db:"user_id"`
	SourceID        string    `db:"source_id"`
	Title           string    `db:"title"`
	ArtistName      string    `db:"artist_name"`
	AlbumTitle      string    `db:"album_title"`
	AlbumArtistName string    `db:"album_artist_name"`
	DiscNumber      int       `db:"disc_number"`
	TrackNumber     int       `db:"track_number"`
	Duration        float64   `db:"duration"`
	CreatedAt       time.Time `db:"created_at"`
}

type TrackFile struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	TrackID   string    `db:"track_id"`
	Region    string    `db:"region"`
	Format    string    `db:"format"`
	MimeType  string    `db:"mime_type"`
	Extension string    `db:"extension"`
	FileSize  int64     `db:"file_size"`
	CreatedAt time.Time `db:"created_at"`
}

type Image struct {
	ID         string       `db:"id"`
	UserID     string       `db:"user_id"`
	SourceID   string       `db:"source_id"`
	AttachType AttachTarget `db:"attach_type"`
	AttachID   string       `db:"attach_id"`
	CreatedAt  time.Time    `db:"created_at"`
}

type ImageFile struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	ImageID   string    `db:"image_id"`
	Region    string    `db:"region"`
	Format    string    `db:"format"`
	MimeType  string    `db:"mime_type"`
	Extension string    `db:"extension"`
	Width     int       `db:"width"`
	Height    int       `db:"height"`
	FileSize  int64     `db:"file_size"`
	CreatedAt time.Time `db:"created_at"`
}
