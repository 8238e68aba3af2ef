// Package transcoder builds transcode requests, hands them to the external
// transcoder and applies the results it reports back.
package transcoder

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/SegaraRai/streamist-sub001/internal/db"
	"github.com/SegaraRai/streamist-sub001/internal/tracing"
)

var ErrUnknownRequestType = errors.New("transcoder: unknown request type")

type RequestType string

const (
	RequestTypeAudio RequestType = "audio"
	RequestTypeImage RequestType = "image"
)

// Default metadata for tracks whose tags are missing.
const (
	DefaultUnknownTrackTitle  = "Unknown Track"
	DefaultUnknownTrackArtist = "Unknown Artist"
	DefaultUnknownAlbumTitle  = "Unknown Album"
	DefaultUnknownAlbumArtist = "Unknown Artist"
)

// FileRef points at a source file blob. The key is derived from UserID and
// SourceFileID.
type FileRef struct {
	SourceFileID string            `json:"sourceFileId"`
	Region       string            `json:"region"`
	Type         db.SourceFileType `json:"type"`
	Filename     string            `json:"filename"`
	FileSize     int64             `json:"fileSize"`
}

type AudioOptions struct {
	GuessTrackNumber          bool   `json:"guessTrackNumber"`
	GuessDiscNumber           bool   `json:"guessDiscNumber"`
	PreferCueSheet            bool   `json:"preferCueSheet"`
	DefaultUnknownTrackTitle  string `json:"defaultUnknownTrackTitle"`
	DefaultUnknownTrackArtist string `json:"defaultUnknownTrackArtist"`
	DefaultUnknownAlbumTitle  string `json:"defaultUnknownAlbumTitle"`
	DefaultUnknownAlbumArtist string `json:"defaultUnknownAlbumArtist"`
}

// Header is shared by every request variant.
type Header struct {
	Type           RequestType          `json:"type"`
	UserID         string               `json:"userId"`
	SourceID       string               `json:"sourceId"`
	Region         string               `json:"region"`
	CallbackURL    string               `json:"callbackURL"`
	CallbackSecret string               `json:"callbackSecret"`
	Trace          tracing.TraceCarrier `json:"trace,omitempty"`
}

// Request is one of *AudioRequest or *ImageRequest.
type Request interface {
	header() *Header
}

type AudioRequest struct {
	Header
	Options  AudioOptions `json:"options"`
	Audio    FileRef      `json:"audio"`
	CueSheet *FileRef     `json:"cueSheet,omitempty"`
}

type ImageRequest struct {
	Header
	AttachType db.AttachTarget `json:"attachType"`
	AttachID   string          `json:"attachId"`
	Image      FileRef         `json:"image"`
}

func (r *AudioRequest) header() *Header { return &r.Header }
func (r *ImageRequest) header() *Header { return &r.Header }

func HeaderOf(r Request) Header {
	return *r.header()
}

// ParseRequest decodes a request, selecting the variant by its type field.
func ParseRequest(data []byte) (Request, error) {
	var h struct {
		Type RequestType `json:"type"`
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}

	var req Request
	switch h.Type {
	case RequestTypeAudio:
		req = &AudioRequest{}
	case RequestTypeImage:
		req = &ImageRequest{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequestType, h.Type)
	}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("decode %s request: %w", h.Type, err)
	}
	if err := validateHeader(req.header()); err != nil {
		return nil, err
	}
	return req, nil
}

func validateHeader(h *Header) error {
	switch {
	case h.UserID == "":
		return errors.New("transcoder: request without userId")
	case h.SourceID == "":
		return errors.New("transcoder: request without sourceId")
	}
	return nil
}
