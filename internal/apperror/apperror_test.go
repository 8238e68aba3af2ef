package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Code:       "test_error",
		Message:    "Test error message",
		StatusCode: http.StatusBadRequest,
	}

	if got := err.Error(); got != "Test error message" {
		t.Errorf("Error() = %q, want %q", got, "Test error message")
	}
}

func TestError_Unwrap(t *testing.T) {
	innerErr := errors.New("inner error")
	err := &Error{
		Code:     "wrapped_error",
		Message:  "Wrapped error",
		Internal: innerErr,
	}

	if got := err.Unwrap(); got != innerErr {
		t.Errorf("Unwrap() = %v, want %v", got, innerErr)
	}
}

func TestWrap(t *testing.T) {
	innerErr := errors.New("database error")
	wrapped := Wrap(innerErr, ErrInternal)

	if wrapped.Code != ErrInternal.Code {
		t.Errorf("Code = %q, want %q", wrapped.Code, ErrInternal.Code)
	}
	if !errors.Is(wrapped, innerErr) {
		t.Error("errors.Is should return true for wrapped inner error")
	}
}

func TestWithMessage(t *testing.T) {
	err := WithMessage(ErrFileTooLarge, "File too large, max size: 512 MiB")

	if err.Code != ErrFileTooLarge.Code {
		t.Errorf("Code = %q, want %q", err.Code, ErrFileTooLarge.Code)
	}
	if err.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, http.StatusRequestEntityTooLarge)
	}
	if ErrFileTooLarge.Message == err.Message {
		t.Error("WithMessage() must not mutate the template error")
	}
}

func TestIs(t *testing.T) {
	wrapped := fmt.Errorf("create source: %w", Wrap(errors.New("boom"), ErrTrackLimit))

	tests := []struct {
		name   string
		err    error
		target *Error
		want   bool
	}{
		{"same code through fmt wrap", wrapped, ErrTrackLimit, true},
		{"different code", wrapped, ErrNotFound, false},
		{"plain error", errors.New("x"), ErrNotFound, false},
		{"nil error", nil, ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.target); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusCodeAndSafeMessage(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid state", ErrInvalidState, http.StatusBadRequest, "invalid_state"},
		{"parts mismatch", ErrPartsMismatch, http.StatusBadRequest, "parts_mismatch"},
		{"upload expired", ErrUploadExpired, http.StatusGone, "upload_expired"},
		{"not uploading", ErrNotUploading, http.StatusConflict, "not_uploading"},
		{"unknown error", errors.New("secret detail"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.wantStatus {
				t.Errorf("StatusCode() = %d, want %d", got, tt.wantStatus)
			}
			if got := Code(tt.err); got != tt.wantCode {
				t.Errorf("Code() = %q, want %q", got, tt.wantCode)
			}
		})
	}

	if got := SafeMessage(errors.New("secret detail")); got != ErrInternal.Message {
		t.Errorf("SafeMessage() leaked internal error: %q", got)
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/api/my/sources/s/files/f", nil)

	WriteJSON(rec, req, fmt.Errorf("wrapped: %w", ErrInvalidState))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != "invalid_state" {
		t.Errorf("code = %q, want invalid_state", body.Code)
	}
}
