package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/SegaraRai/streamist-sub001/internal/apperror"
	"github.com/SegaraRai/streamist-sub001/internal/health"
	"github.com/SegaraRai/streamist-sub001/internal/transcoder"
	"github.com/SegaraRai/streamist-sub001/internal/upload"
)

const (
	defaultMaxBodySize     = 1 << 20
	defaultMaxCallbackSize = 8 << 20
)

type UploadService interface {
	CreateAudioSource(ctx context.Context, userID string, req upload.CreateAudioRequest) (*upload.CreateSourceResponse, error)
	CreateAudioSources(ctx context.Context, userID string, req upload.BatchRequest) (*upload.BatchResponse, error)
	CreateImageSource(ctx context.Context, userID string, req upload.CreateImageRequest) (*upload.CreateSourceResponse, error)
	GetUploadURL(ctx context.Context, userID, sourceID, sourceFileID string) (*upload.UploadURL, error)
	OnSourceFileUploaded(ctx context.Context, userID, sourceID, sourceFileID string, req upload.CompleteRequest) (*upload.CompleteResponse, error)
}

type CallbackHandler interface {
	Handle(ctx context.Context, cb *transcoder.Callback) error
}

type Config struct {
	Uploads         UploadService
	Callbacks       CallbackHandler
	Health          *health.Checker
	RateLimiter     *RedisRateLimiter
	JWTSecret       string
	CallbackSecret  string
	MaxBodySize     int64
	MaxCallbackSize int64
}

func NewRouter(cfg *Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", health.LivenessHandler())
	if cfg.Health != nil {
		mux.HandleFunc("GET /health", health.HealthHandler(cfg.Health))
		mux.HandleFunc("GET /health/ready", health.ReadinessHandler(cfg.Health))
	} else {
		mux.HandleFunc("GET /health", health.LivenessHandler())
	}

	limited := func(h http.HandlerFunc) http.Handler {
		if cfg.RateLimiter == nil {
			return h
		}
		return RateLimit(cfg.RateLimiter)(h)
	}

	apiMux := http.NewServeMux()
	apiMux.Handle("POST /api/my/sources/audio", limited(createAudioSourceHandler(cfg)))
	apiMux.Handle("POST /api/my/sources/audio/batch", limited(createAudioSourcesHandler(cfg)))
	apiMux.Handle("POST /api/my/sources/image", limited(createImageSourceHandler(cfg)))
	apiMux.HandleFunc("GET /api/my/sources/{sourceId}/files/{sourceFileId}/upload-url", getUploadURLHandler(cfg))
	apiMux.HandleFunc("PATCH /api/my/sources/{sourceId}/files/{sourceFileId}", completeSourceFileHandler(cfg))
	mux.Handle("/api/my/", AuthMiddleware(cfg.JWTSecret)(apiMux))

	if cfg.Callbacks != nil {
		mux.Handle("POST /internal/transcoder/callback", SecretAuth(cfg.CallbackSecret)(transcoderCallbackHandler(cfg)))
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a single JSON object of at most limit bytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.New("request_too_large", "Request body too large", http.StatusRequestEntityTooLarge)
		}
		return apperror.WrapWithMessage(err, apperror.ErrBadRequest.Code, "Invalid JSON body", http.StatusBadRequest)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperror.WithMessage(apperror.ErrBadRequest, "Request body must contain a single JSON object")
	}
	return nil
}

func bodyLimit(n, def int64) int64 {
	if n > 0 {
		return n
	}
	return def
}
