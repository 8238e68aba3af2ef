package api

import (
	"net/http"

	"github.com/SegaraRai/streamist-sub001/internal/apperror"
	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"github.com/SegaraRai/streamist-sub001/internal/upload"
)

func createAudioSourceHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			apperror.WriteJSON(w, r, apperror.ErrUnauthorized)
			return
		}

		var req upload.CreateAudioRequest
		if err := decodeJSON(w, r, bodyLimit(cfg.MaxBodySize, defaultMaxBodySize), &req); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}

		resp, err := cfg.Uploads.CreateAudioSource(r.Context(), userID, req)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func createAudioSourcesHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			apperror.WriteJSON(w, r, apperror.ErrUnauthorized)
			return
		}

		var req upload.BatchRequest
		if err := decodeJSON(w, r, bodyLimit(cfg.MaxBodySize, defaultMaxBodySize), &req); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}

		resp, err := cfg.Uploads.CreateAudioSources(r.Context(), userID, req)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}

		status := http.StatusCreated
		if len(resp.Sources) == 0 {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, resp)
	}
}

func createImageSourceHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			apperror.WriteJSON(w, r, apperror.ErrUnauthorized)
			return
		}

		var req upload.CreateImageRequest
		if err := decodeJSON(w, r, bodyLimit(cfg.MaxBodySize, defaultMaxBodySize), &req); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}

		resp, err := cfg.Uploads.CreateImageSource(r.Context(), userID, req)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func getUploadURLHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			apperror.WriteJSON(w, r, apperror.ErrUnauthorized)
			return
		}

		sourceID := r.PathValue("sourceId")
		sourceFileID := r.PathValue("sourceFileId")

		url, err := cfg.Uploads.GetUploadURL(r.Context(), userID, sourceID, sourceFileID)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, url)
	}
}

func completeSourceFileHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			apperror.WriteJSON(w, r, apperror.ErrUnauthorized)
			return
		}

		sourceID := r.PathValue("sourceId")
		sourceFileID := r.PathValue("sourceFileId")
		ctx := logger.With(r.Context(), "source_id", sourceID, "source_file_id", sourceFileID)

		var req upload.CompleteRequest
		if err := decodeJSON(w, r, bodyLimit(cfg.MaxBodySize, defaultMaxBodySize), &req); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}

		resp, err := cfg.Uploads.OnSourceFileUploaded(ctx, userID, sourceID, sourceFileID, req)
		if err != nil {
			apperror.WriteJSON(w, r.WithContext(ctx), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
