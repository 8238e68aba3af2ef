// Package upload turns an upload intent into source records and presigned
// URLs, and completes source files once the client reports them uploaded.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/apperror"
	"github.com/SegaraRai/streamist-sub001/internal/db"
	"github.com/SegaraRai/streamist-sub001/internal/lifecycle"
	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"github.com/SegaraRai/streamist-sub001/internal/metrics"
	"github.com/SegaraRai/streamist-sub001/internal/plan"
	"github.com/SegaraRai/streamist-sub001/internal/storage"
	"github.com/google/uuid"
)

const (
	DefaultPresignExpiry   = 1 * time.Hour
	DefaultUploadWindow    = 3 * time.Hour
	DefaultCueSheetMaxSize = 1 * MiB
	DefaultImageMaxSize    = 32 * MiB
)

// StateMachine is the part of lifecycle.Machine the upload flow drives.
type StateMachine interface {
	MarkUploaded(ctx context.Context, userID, sourceID, sourceFileID string) (lifecycle.Result, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, userID, sourceID string)
}

type Config struct {
	PresignExpiry   time.Duration
	UploadWindow    time.Duration
	CueSheetMaxSize int64
	ImageMaxSize    int64
}

func (c Config) withDefaults() Config {
	if c.PresignExpiry <= 0 {
		c.PresignExpiry = DefaultPresignExpiry
	}
	if c.UploadWindow <= 0 {
		c.UploadWindow = DefaultUploadWindow
	}
	if c.CueSheetMaxSize <= 0 {
		c.CueSheetMaxSize = DefaultCueSheetMaxSize
	}
	if c.ImageMaxSize <= 0 {
		c.ImageMaxSize = DefaultImageMaxSize
	}
	return c
}

type FileRequest struct {
	Filename string `json:"filename"`
	FileSize int64  `json:"fileSize"`
}

type CreateAudioRequest struct {
	Region   string       `json:"region"`
	Audio    FileRequest  `json:"audio"`
	CueSheet *FileRequest `json:"cueSheet,omitempty"`
}

type CreateImageRequest struct {
	Region     string          `json:"region"`
	AttachType db.AttachTarget `json:"attachType"`
	AttachID   string          `json:"attachId"`
	Image      FileRequest     `json:"image"`
}

type PartURL struct {
	PartNumber int    `json:"partNumber"`
	Size       int64  `json:"size"`
	URL        string `json:"url"`
}

// UploadURL is either a single PUT URL or one URL per multipart part.
type UploadURL struct {
	Multipart bool      `json:"multipart"`
	URL       string    `json:"url,omitempty"`
	Parts     []PartURL `json:"parts,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SourceFileUpload struct {
	SourceFileID string            `json:"sourceFileId"`
	Type         db.SourceFileType `json:"type"`
	UploadURL    *UploadURL        `json:"uploadURL"`
}

type CreateSourceResponse struct {
	SourceID string             `json:"sourceId"`
	Files    []SourceFileUpload `json:"files"`
}

// CompleteRequest is the body of an upload completion notification. Parts
// holds the ETag of part N at index N-1.
type CompleteRequest struct {
	State string   `json:"state"`
	Parts []string `json:"parts,omitempty"`
}

type CompleteResponse struct {
	SourceID     string         `json:"sourceId"`
	SourceFileID string         `json:"sourceFileId"`
	State        db.SourceState `json:"state"`
	// SourceReady is set when this call completed the last file of the source.
	SourceReady bool `json:"sourceReady"`
}

type Service struct {
	store      db.Store
	regions    *storage.Gateway
	machine    StateMachine
	dispatcher Dispatcher
	cfg        Config

	newID func() string
	now   func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

func NewService(store db.Store, regions *storage.Gateway, machine StateMachine, dispatcher Dispatcher, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:      store,
		regions:    regions,
		machine:    machine,
		dispatcher: dispatcher,
		cfg:        cfg.withDefaults(),
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type plannedFile struct {
	id       string
	fileType db.SourceFileType
	req      FileRequest
	uploadID string
}

func (s *Service) userPlan(ctx context.Context, userID string) (plan.Plan, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return plan.Plan{}, apperror.ErrUnauthorized
	}
	if err != nil {
		return plan.Plan{}, fmt.Errorf("get user: %w", err)
	}
	if user.ClosedAt != nil {
		return plan.Plan{}, apperror.ErrUnauthorized
	}
	return plan.Get(user.Plan), nil
}

func (s *Service) region(name string) (storage.Storage, error) {
	st, err := s.regions.Region(name)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrUnknownRegion)
	}
	return st, nil
}

func checkSize(f FileRequest, max int64) error {
	if f.FileSize <= 0 {
		return apperror.ErrEmptyFile
	}
	if f.FileSize > max {
		return apperror.WithMessage(apperror.ErrFileTooLarge,
			fmt.Sprintf("%s exceeds the maximum size of %d bytes", f.Filename, max))
	}
	return nil
}

// CreateAudioSource starts an audio upload of one audio file and an optional
// cue sheet.
func (s *Service) CreateAudioSource(ctx context.Context, userID string, req CreateAudioRequest) (*CreateSourceResponse, error) {
	p, err := s.userPlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	if req.Audio.Filename == "" {
		return nil, apperror.WithMessage(apperror.ErrBadRequest, "audio filename is required")
	}
	if err := checkSize(req.Audio, p.MaxFileSize); err != nil {
		return nil, err
	}
	if req.CueSheet != nil {
		if err := checkSize(*req.CueSheet, s.cfg.CueSheetMaxSize); err != nil {
			return nil, err
		}
	}

	files := []plannedFile{{id: s.newID(), fileType: db.SourceFileTypeAudio, req: req.Audio}}
	if req.CueSheet != nil {
		files = append(files, plannedFile{id: s.newID(), fileType: db.SourceFileTypeCueSheet, req: *req.CueSheet})
	}

	source := db.CreateSourceParams{
		ID:     s.newID(),
		UserID: userID,
		Type:   db.SourceTypeAudio,
		Region: req.Region,
	}
	return s.createSource(ctx, p, source, files, func(q db.Querier) error {
		if !p.HasTrackCeiling() {
			return nil
		}
		tracks, err := q.CountTracksByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("count tracks: %w", err)
		}
		pending, err := q.CountPendingSources(ctx, db.CountPendingSourcesParams{UserID: userID, Type: db.SourceTypeAudio})
		if err != nil {
			return fmt.Errorf("count pending sources: %w", err)
		}
		if !p.CanAddTracks(tracks+pending, 1) {
			metrics.RecordQuotaExceeded("tracks", string(p.ID))
			return apperror.ErrTrackLimit
		}
		return nil
	})
}

// CreateImageSource starts an image upload attached to an album, artist or
// playlist the user owns.
func (s *Service) CreateImageSource(ctx context.Context, userID string, req CreateImageRequest) (*CreateSourceResponse, error) {
	p, err := s.userPlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !req.AttachType.Valid() || req.AttachID == "" {
		return nil, apperror.WithMessage(apperror.ErrBadRequest, "attachType must be album, artist or playlist")
	}
	if err := checkSize(req.Image, s.cfg.ImageMaxSize); err != nil {
		return nil, err
	}

	owned, err := s.store.EntityOwnedByUser(ctx, db.EntityOwnedParams{Type: req.AttachType, ID: req.AttachID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("check attach target: %w", err)
	}
	if !owned {
		return nil, apperror.WithMessage(apperror.ErrNotFound, fmt.Sprintf("%s %s not found", req.AttachType, req.AttachID))
	}

	files := []plannedFile{{id: s.newID(), fileType: db.SourceFileTypeImage, req: req.Image}}
	source := db.CreateSourceParams{
		ID:         s.newID(),
		UserID:     userID,
		Type:       db.SourceTypeImage,
		Region:     req.Region,
		AttachType: req.AttachType,
		AttachID:   req.AttachID,
	}
	return s.createSource(ctx, p, source, files, nil)
}

// createSource opens multipart uploads for large files, inserts the source and
// its files in one transaction after check passes, and presigns every file.
func (s *Service) createSource(ctx context.Context, p plan.Plan, source db.CreateSourceParams, files []plannedFile, check func(db.Querier) error) (*CreateSourceResponse, error) {
	st, err := s.region(source.Region)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithSource(ctx, source.UserID, source.ID)
	log := logger.FromContext(ctx)

	abortOpen := func() {
		for _, f := range files {
			if f.uploadID == "" {
				continue
			}
			key := storage.SourceFileKey(source.UserID, f.id)
			if err := st.AbortMultipartUpload(context.WithoutCancel(ctx), key, f.uploadID); err != nil {
				log.Warn("failed to abort multipart upload", "source_file_id", f.id, "error", err)
			}
		}
	}

	for i := range files {
		if !IsMultipart(files[i].req.FileSize) {
			continue
		}
		uploadID, err := st.CreateMultipartUpload(ctx, storage.SourceFileKey(source.UserID, files[i].id))
		if err != nil {
			abortOpen()
			return nil, fmt.Errorf("create multipart upload: %w", err)
		}
		files[i].uploadID = uploadID
	}

	now := s.now()
	source.Now = now
	err = s.store.ExecTx(ctx, func(q db.Querier) error {
		if check != nil {
			if err := check(q); err != nil {
				return err
			}
		}
		if _, err := q.CreateSource(ctx, source); err != nil {
			return fmt.Errorf("create source: %w", err)
		}
		for _, f := range files {
			_, err := q.CreateSourceFile(ctx, db.CreateSourceFileParams{
				ID:       f.id,
				SourceID: source.ID,
				UserID:   source.UserID,
				Type:     f.fileType,
				Region:   source.Region,
				Filename: SanitizeFilename(f.req.Filename),
				FileSize: f.req.FileSize,
				UploadID: f.uploadID,
				Now:      now,
			})
			if err != nil {
				return fmt.Errorf("create source file: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		abortOpen()
		return nil, err
	}

	resp := &CreateSourceResponse{SourceID: source.ID}
	for _, f := range files {
		u, err := s.presign(ctx, st, source.UserID, f.id, f.req.FileSize, f.uploadID)
		if err != nil {
			return nil, err
		}
		resp.Files = append(resp.Files, SourceFileUpload{SourceFileID: f.id, Type: f.fileType, UploadURL: u})
		metrics.RecordSourceFile(string(f.fileType), f.req.FileSize, f.uploadID != "")
	}

	metrics.RecordSourceCreated(string(source.Type), string(p.ID))
	log.Info("source created", "type", source.Type, "region", source.Region, "files", len(files))
	return resp, nil
}

func (s *Service) presign(ctx context.Context, st storage.Storage, userID, sourceFileID string, size int64, uploadID string) (*UploadURL, error) {
	key := storage.SourceFileKey(userID, sourceFileID)
	u := &UploadURL{ExpiresAt: s.now().Add(s.cfg.PresignExpiry)}

	if uploadID == "" {
		url, err := st.PresignedPutURL(ctx, key, s.cfg.PresignExpiry)
		if err != nil {
			return nil, fmt.Errorf("presign upload: %w", err)
		}
		u.URL = url
		return u, nil
	}

	u.Multipart = true
	for i, partSize := range SplitIntoParts(size) {
		url, err := st.PresignedPartURL(ctx, key, uploadID, i+1, s.cfg.PresignExpiry)
		if err != nil {
			return nil, fmt.Errorf("presign part %d: %w", i+1, err)
		}
		u.Parts = append(u.Parts, PartURL{PartNumber: i + 1, Size: partSize, URL: url})
	}
	return u, nil
}

func (s *Service) sourceFile(ctx context.Context, userID, sourceID, sourceFileID string) (db.SourceFile, error) {
	f, err := s.store.GetSourceFile(ctx, db.GetSourceFileParams{ID: sourceFileID, SourceID: sourceID, UserID: userID})
	if errors.Is(err, db.ErrNotFound) {
		return db.SourceFile{}, apperror.ErrNotFound
	}
	if err != nil {
		return db.SourceFile{}, fmt.Errorf("get source file: %w", err)
	}
	return f, nil
}

// GetUploadURL re-issues the URLs of a file that is still uploading and whose
// upload window has not closed.
func (s *Service) GetUploadURL(ctx context.Context, userID, sourceID, sourceFileID string) (*UploadURL, error) {
	f, err := s.sourceFile(ctx, userID, sourceID, sourceFileID)
	if err != nil {
		return nil, err
	}
	if f.State != db.SourceStateUploading {
		return nil, apperror.ErrNotUploading
	}
	if !s.now().Before(f.CreatedAt.Add(s.cfg.UploadWindow)) {
		return nil, apperror.ErrUploadExpired
	}

	st, err := s.region(f.Region)
	if err != nil {
		return nil, err
	}
	return s.presign(ctx, st, userID, f.ID, f.FileSize, f.UploadID)
}

// OnSourceFileUploaded completes a source file. A repeated notification for an
// already uploaded file is a no-op. When the file is the last of its source
// the source is dispatched for transcoding.
func (s *Service) OnSourceFileUploaded(ctx context.Context, userID, sourceID, sourceFileID string, req CompleteRequest) (*CompleteResponse, error) {
	if req.State != string(db.SourceStateUploaded) {
		return nil, apperror.ErrInvalidState
	}

	ctx = logger.WithSource(ctx, userID, sourceID)
	ctx = logger.With(ctx, "source_file_id", sourceFileID)

	f, err := s.sourceFile(ctx, userID, sourceID, sourceFileID)
	if err != nil {
		return nil, err
	}

	resp := &CompleteResponse{SourceID: sourceID, SourceFileID: sourceFileID, State: f.State}
	switch f.State {
	case db.SourceStateUploading:
	case db.SourceStateUploaded, db.SourceStateTranscoding, db.SourceStateTranscoded:
		return resp, nil
	default:
		return nil, apperror.ErrNotUploading
	}

	if err := s.finishUpload(ctx, f, req.Parts); err != nil {
		return nil, err
	}

	res, err := s.machine.MarkUploaded(ctx, userID, sourceID, sourceFileID)
	if errors.Is(err, lifecycle.ErrNotFound) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark uploaded: %w", err)
	}

	if res.Transitioned {
		resp.State = db.SourceStateUploaded
	} else {
		latest, err := s.sourceFile(ctx, userID, sourceID, sourceFileID)
		if err != nil {
			return nil, err
		}
		resp.State = latest.State
	}
	resp.SourceReady = res.SourceReady

	if res.SourceReady {
		logger.FromContext(ctx).Info("source uploaded, dispatching")
		s.dispatcher.Dispatch(context.WithoutCancel(ctx), userID, sourceID)
	}
	return resp, nil
}

// finishUpload makes sure the blob of f exists, completing its multipart
// upload first when it has one.
func (s *Service) finishUpload(ctx context.Context, f db.SourceFile, etags []string) error {
	st, err := s.region(f.Region)
	if err != nil {
		return err
	}
	key := storage.SourceFileKey(f.UserID, f.ID)

	if !f.Multipart() {
		if len(etags) > 0 {
			return apperror.ErrPartsMismatch
		}
		ok, err := st.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("check upload: %w", err)
		}
		if !ok {
			return apperror.WithMessage(apperror.ErrBadRequest, "the file has not been uploaded")
		}
		return nil
	}

	if want := len(SplitIntoParts(f.FileSize)); len(etags) != want {
		return apperror.WithMessage(apperror.ErrPartsMismatch,
			fmt.Sprintf("expected %d parts, got %d", want, len(etags)))
	}

	err = st.CompleteMultipartUpload(ctx, key, f.UploadID, storage.PartsFromETags(etags))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrInvalidParts):
		return apperror.Wrap(err, apperror.ErrPartsMismatch)
	case errors.Is(err, storage.ErrNotFound):
		// A concurrent notification may have completed the upload already.
		if ok, _ := st.Exists(ctx, key); ok {
			return nil
		}
		return apperror.WrapWithMessage(err, apperror.ErrNotUploading.Code, "the multipart upload no longer exists", apperror.ErrNotUploading.StatusCode)
	}
	return fmt.Errorf("complete multipart upload: %w", err)
}
