package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/SegaraRai/streamist-sub001/internal/apperror"
	"github.com/SegaraRai/streamist-sub001/internal/lifecycle"
	"github.com/SegaraRai/streamist-sub001/internal/transcoder"
)

// transcoderCallbackHandler receives the transcoder's result for a source.
// It answers 204 for results that were applied or discarded as late.
func transcoderCallbackHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := bodyLimit(cfg.MaxCallbackSize, defaultMaxCallbackSize)
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		if err != nil {
			apperror.WriteJSON(w, r, apperror.New("request_too_large", "Request body too large", http.StatusRequestEntityTooLarge))
			return
		}

		cb, err := transcoder.ParseCallback(data)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, apperror.ErrBadRequest.Code, err.Error(), http.StatusBadRequest))
			return
		}

		if err := cfg.Callbacks.Handle(r.Context(), cb); err != nil {
			if errors.Is(err, lifecycle.ErrNotFound) {
				apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrNotFound))
				return
			}
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
