package transcoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/db"
	"github.com/SegaraRai/streamist-sub001/internal/lifecycle"
	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"github.com/SegaraRai/streamist-sub001/internal/metrics"
	"github.com/SegaraRai/streamist-sub001/internal/storage"
	"github.com/SegaraRai/streamist-sub001/internal/tracing"
	"github.com/google/uuid"
)

var ErrInvalidCallback = errors.New("transcoder: invalid callback")

// Artifact is one file the transcoder wrote to storage. ID is chosen by the
// transcoder and determines the object key.
type Artifact struct {
	ID        string `json:"id"`
	Region    string `json:"region"`
	Format    string `json:"format"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	FileSize  int64  `json:"fileSize"`
}

type ImageArtifact struct {
	Artifact
	Width  int `json:"width"`
	Height int `json:"height"`
}

type TrackResult struct {
	Title       string     `json:"title"`
	Artist      string     `json:"artist"`
	Album       string     `json:"album"`
	AlbumArtist string     `json:"albumArtist"`
	Tags        NumberTags `json:"tags"`
	Duration    float64    `json:"duration"`
	Files       []Artifact `json:"files"`
}

type ImageResult struct {
	Files []ImageArtifact `json:"files"`
}

// Callback is what the transcoder posts back: the original request and either
// its artifacts or a failure.
type Callback struct {
	Request Request
	Success bool
	Error   string
	Tracks  []TrackResult
	Images  []ImageResult
}

func ParseCallback(data []byte) (*Callback, error) {
	var raw struct {
		Request json.RawMessage `json:"request"`
		Success bool            `json:"success"`
		Error   string          `json:"error"`
		Tracks  []TrackResult   `json:"tracks"`
		Images  []ImageResult   `json:"images"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	if len(raw.Request) == 0 {
		return nil, fmt.Errorf("%w: missing request", ErrInvalidCallback)
	}

	req, err := ParseRequest(raw.Request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	cb := &Callback{
		Request: req,
		Success: raw.Success,
		Error:   raw.Error,
		Tracks:  raw.Tracks,
		Images:  raw.Images,
	}

	switch req.(type) {
	case *AudioRequest:
		if len(cb.Images) > 0 {
			return nil, fmt.Errorf("%w: images reported for an audio request", ErrInvalidCallback)
		}
	case *ImageRequest:
		if len(cb.Tracks) > 0 {
			return nil, fmt.Errorf("%w: tracks reported for an image request", ErrInvalidCallback)
		}
	}

	if err := cb.validateArtifacts(); err != nil {
		return nil, err
	}
	return cb, nil
}

func validArtifact(a Artifact) error {
	switch {
	case a.ID == "":
		return fmt.Errorf("%w: artifact without id", ErrInvalidCallback)
	case strings.ContainsAny(a.ID, "/\\"):
		return fmt.Errorf("%w: artifact id %q", ErrInvalidCallback, a.ID)
	case a.Extension != "" && !strings.HasPrefix(a.Extension, "."):
		return fmt.Errorf("%w: extension %q", ErrInvalidCallback, a.Extension)
	}
	return nil
}

func (cb *Callback) validateArtifacts() error {
	for _, t := range cb.Tracks {
		for _, f := range t.Files {
			if err := validArtifact(f); err != nil {
				return err
			}
		}
	}
	for _, img := range cb.Images {
		for _, f := range img.Files {
			if err := validArtifact(f.Artifact); err != nil {
				return err
			}
		}
	}
	return nil
}

// artifacts returns the storage objects of every reported artifact.
func (cb *Callback) artifacts() []storage.Object {
	h := HeaderOf(cb.Request)
	region := func(a Artifact) string {
		if a.Region != "" {
			return a.Region
		}
		return h.Region
	}

	var objs []storage.Object
	for _, t := range cb.Tracks {
		for _, f := range t.Files {
			objs = append(objs, storage.Object{Region: region(f), Key: storage.TranscodedAudioKey(h.UserID, f.ID, f.Extension)})
		}
	}
	for _, img := range cb.Images {
		for _, f := range img.Files {
			objs = append(objs, storage.Object{Region: region(f.Artifact), Key: storage.TranscodedImageKey(h.UserID, f.ID, f.Extension)})
		}
	}
	return objs
}

// CallbackHandler is phase two of transcoding: it applies the result the
// transcoder reports.
type CallbackHandler struct {
	machine StateMachine
	blobs   lifecycle.BlobDeleter
	newID   func() string
	now     func() time.Time
}

func NewCallbackHandler(machine StateMachine, blobs lifecycle.BlobDeleter) *CallbackHandler {
	return &CallbackHandler{
		machine: machine,
		blobs:   blobs,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

func (h *CallbackHandler) Handle(ctx context.Context, cb *Callback) error {
	hdr := HeaderOf(cb.Request)

	ctx = tracing.ExtractTraceContext(ctx, hdr.Trace)
	ctx, span := tracing.StartCallbackSpan(ctx, string(hdr.Type), hdr.SourceID)
	defer span.End()

	ctx = logger.WithSource(ctx, hdr.UserID, hdr.SourceID)
	log := logger.FromContext(ctx)

	if !cb.Success || (len(cb.Tracks) == 0 && len(cb.Images) == 0) {
		log.Warn("transcode failed", "type", hdr.Type, "error", cb.Error)
		if _, err := h.machine.MarkFailed(ctx, hdr.UserID, hdr.SourceID); err != nil {
			tracing.RecordError(ctx, err)
			metrics.RecordCallback(string(hdr.Type), "error")
			return err
		}
		h.discard(ctx, cb)
		metrics.RecordCallback(string(hdr.Type), "failed")
		return nil
	}

	var persist lifecycle.PersistFunc
	switch req := cb.Request.(type) {
	case *AudioRequest:
		persist = h.persistTracks(req, cb.Tracks)
	case *ImageRequest:
		persist = h.persistImages(req, cb.Images)
	}

	res, err := h.machine.MarkTranscoded(ctx, hdr.UserID, hdr.SourceID, persist)
	if err != nil {
		tracing.RecordError(ctx, err)
		metrics.RecordCallback(string(hdr.Type), "error")
		return err
	}

	if !res.Transitioned {
		log.Warn("transcode result arrived for a settled source", "state", res.Source.State)
		h.discard(ctx, cb)
		metrics.RecordCallback(string(hdr.Type), "orphaned")
		return nil
	}

	log.Info("transcode completed", "type", hdr.Type, "tracks", len(cb.Tracks), "images", len(cb.Images))
	metrics.RecordCallback(string(hdr.Type), "success")
	return nil
}

// discard deletes artifacts that no row will ever reference.
func (h *CallbackHandler) discard(ctx context.Context, cb *Callback) {
	objs := cb.artifacts()
	if len(objs) == 0 || h.blobs == nil {
		return
	}
	if failed := h.blobs.DeleteAll(ctx, objs); failed > 0 {
		logger.FromContext(ctx).Error("failed to delete orphan artifacts", "count", failed)
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func (h *CallbackHandler) persistTracks(req *AudioRequest, tracks []TrackResult) lifecycle.PersistFunc {
	return func(ctx context.Context, q db.Querier, src db.Source) error {
		now := h.now()
		opts := GuessOptions{
			GuessTrackNumber: req.Options.GuessTrackNumber,
			GuessDiscNumber:  req.Options.GuessDiscNumber,
		}

		for _, t := range tracks {
			disc, num := InferDiscTrack(t.Tags, req.Audio.Filename, req.CueSheet != nil, opts)
			track := db.Track{
				ID:              h.newID(),
				UserID:          src.UserID,
				SourceID:        src.ID,
				Title:           orDefault(t.Title, req.Options.DefaultUnknownTrackTitle),
				ArtistName:      orDefault(t.Artist, req.Options.DefaultUnknownTrackArtist),
				AlbumTitle:      orDefault(t.Album, req.Options.DefaultUnknownAlbumTitle),
				AlbumArtistName: orDefault(t.AlbumArtist, req.Options.DefaultUnknownAlbumArtist),
				DiscNumber:      disc,
				TrackNumber:     num,
				Duration:        t.Duration,
				CreatedAt:       now,
			}
			if err := q.InsertTrack(ctx, track); err != nil {
				return fmt.Errorf("insert track: %w", err)
			}

			for _, f := range t.Files {
				err := q.InsertTrackFile(ctx, db.TrackFile{
					ID:        f.ID,
					UserID:    src.UserID,
					TrackID:   track.ID,
					Region:    orDefault(f.Region, src.Region),
					Format:    f.Format,
					MimeType:  f.MimeType,
					Extension: f.Extension,
					FileSize:  f.FileSize,
					CreatedAt: now,
				})
				if err != nil {
					return fmt.Errorf("insert track file: %w", err)
				}
			}
		}
		return nil
	}
}

func (h *CallbackHandler) persistImages(req *ImageRequest, images []ImageResult) lifecycle.PersistFunc {
	return func(ctx context.Context, q db.Querier, src db.Source) error {
		now := h.now()

		for _, result := range images {
			img := db.Image{
				ID:         h.newID(),
				UserID:     src.UserID,
				SourceID:   src.ID,
				AttachType: req.AttachType,
				AttachID:   req.AttachID,
				CreatedAt:  now,
			}
			if err := q.InsertImage(ctx, img); err != nil {
				return fmt.Errorf("insert image: %w", err)
			}

			for _, f := range result.Files {
				err := q.InsertImageFile(ctx, db.ImageFile{
					ID:        f.ID,
					UserID:    src.UserID,
					ImageID:   img.ID,
					Region:    orDefault(f.Region, src.Region),
					Format:    f.Format,
					MimeType:  f.MimeType,
					Extension: f.Extension,
					Width:     f.Width,
					Height:    f.Height,
					FileSize:  f.FileSize,
					CreatedAt: now,
				})
				if err != nil {
					return fmt.Errorf("insert image file: %w", err)
				}
			}
		}
		return nil
	}
}
