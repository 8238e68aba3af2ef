package apperror

import (
	"errors"
	"net/http"
)

type Error struct {
	Code       string
	Message    string
	StatusCode int
	Internal   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Internal
}

var (
	ErrNotFound = &Error{
		Code:       "not_found",
		Message:    "The requested resource was not found",
		StatusCode: http.StatusNotFound,
	}

	ErrUnauthorized = &Error{
		Code:       "unauthorized",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrBadRequest = &Error{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInvalidState = &Error{
		Code:       "invalid_state",
		Message:    "The only accepted state is \"uploaded\"",
		StatusCode: http.StatusBadRequest,
	}

	ErrPartsMismatch = &Error{
		Code:       "parts_mismatch",
		Message:    "The number of uploaded parts does not match the upload plan",
		StatusCode: http.StatusBadRequest,
	}

	ErrEmptyFile = &Error{
		Code:       "empty_file",
		Message:    "Zero-byte uploads are not allowed",
		StatusCode: http.StatusBadRequest,
	}

	ErrFileTooLarge = &Error{
		Code:       "file_too_large",
		Message:    "The file exceeds the maximum allowed size",
		StatusCode: http.StatusRequestEntityTooLarge,
	}

	ErrUnknownRegion = &Error{
		Code:       "unknown_region",
		Message:    "The requested storage region is not available",
		StatusCode: http.StatusBadRequest,
	}

	ErrTrackLimit = &Error{
		Code:       "track_limit_reached",
		Message:    "Your plan does not allow any more tracks",
		StatusCode: http.StatusForbidden,
	}

	ErrNotUploading = &Error{
		Code:       "not_uploading",
		Message:    "The source file is no longer accepting uploads",
		StatusCode: http.StatusConflict,
	}

	ErrUploadExpired = &Error{
		Code:       "upload_expired",
		Message:    "The upload window for this source file has closed",
		StatusCode: http.StatusGone,
	}

	ErrInternal = &Error{
		Code:       "internal_error",
		Message:    "An unexpected error occurred. Please try again later",
		StatusCode: http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &Error{
		Code:       "service_unavailable",
		Message:    "Service temporarily unavailable. Please try again later",
		StatusCode: http.StatusServiceUnavailable,
	}
)

func New(code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Wrap(err error, appErr *Error) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    appErr.Message,
		StatusCode: appErr.StatusCode,
		Internal:   err,
	}
}

func WrapWithMessage(err error, code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Internal:   err,
	}
}

// WithMessage keeps the code and status of appErr but replaces the message.
func WithMessage(appErr *Error, message string) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    message,
		StatusCode: appErr.StatusCode,
	}
}

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func SafeMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrInternal.Message
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}
