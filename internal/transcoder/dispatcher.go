package transcoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/db"
	"github.com/SegaraRai/streamist-sub001/internal/lifecycle"
	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"github.com/SegaraRai/streamist-sub001/internal/metrics"
	"github.com/SegaraRai/streamist-sub001/internal/plan"
	"github.com/SegaraRai/streamist-sub001/internal/tracing"
)

var ErrNoRunner = errors.New("transcoder: no runner for region")

// StateMachine is the part of lifecycle.Machine the transcoder drives.
type StateMachine interface {
	MarkTranscoding(ctx context.Context, userID, sourceID string) (lifecycle.Result, error)
	MarkTranscoded(ctx context.Context, userID, sourceID string, persist lifecycle.PersistFunc) (lifecycle.Result, error)
	MarkFailed(ctx context.Context, userID, sourceID string) (lifecycle.Result, error)
}

type DispatcherConfig struct {
	CallbackURL    string
	CallbackSecret string
	// Runners maps a region to its runner. Default serves every other region.
	Runners map[string]Runner
	Default Runner
}

// Dispatcher is phase one of transcoding: it sends the request and records
// that the source awaits a callback. It never waits for the result.
type Dispatcher struct {
	queries db.Querier
	machine StateMachine
	cfg     DispatcherConfig
}

func NewDispatcher(queries db.Querier, machine StateMachine, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{queries: queries, machine: machine, cfg: cfg}
}

func (d *Dispatcher) runnerFor(region string) (Runner, error) {
	if r, ok := d.cfg.Runners[region]; ok {
		return r, nil
	}
	if d.cfg.Default != nil {
		return d.cfg.Default, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoRunner, region)
}

// Dispatch sends the transcode request for an uploaded source. Failures are
// logged, not returned: a request that cannot be built fails the source, and
// an invocation error leaves the source uploaded for the stale transcode
// sweep to reap.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, sourceID string) {
	ctx = logger.WithSource(ctx, userID, sourceID)
	log := logger.FromContext(ctx)

	req, err := d.BuildRequest(ctx, userID, sourceID)
	var runner Runner
	if err == nil {
		runner, err = d.runnerFor(HeaderOf(req).Region)
	}
	if err != nil {
		log.Error("failed to prepare transcode request", "error", err)
		metrics.RecordDispatch("none", err, 0)
		if _, ferr := d.machine.MarkFailed(ctx, userID, sourceID); ferr != nil {
			log.Error("failed to mark source as failed", "error", ferr)
		}
		return
	}

	ctx, span := tracing.StartDispatchSpan(ctx, runner.Name(), sourceID)
	defer span.End()
	req.header().Trace = tracing.InjectTraceContext(ctx)

	payload, err := json.Marshal(req)
	if err != nil {
		log.Error("failed to encode transcode request", "error", err)
		return
	}

	start := time.Now()
	err = runner.Invoke(ctx, payload)
	metrics.RecordDispatch(runner.Name(), err, time.Since(start))
	if err != nil {
		tracing.RecordError(ctx, err)
		log.Warn("transcoder invocation failed", "runner", runner.Name(), "error", err)
		return
	}

	res, err := d.machine.MarkTranscoding(ctx, userID, sourceID)
	if err != nil {
		log.Error("failed to mark source as transcoding", "error", err)
		return
	}
	log.Info("transcode dispatched", "runner", runner.Name(), "transitioned", res.Transitioned)
}

// BuildRequest assembles the request for a source from its files and the
// owner's plan.
func (d *Dispatcher) BuildRequest(ctx context.Context, userID, sourceID string) (Request, error) {
	src, err := d.queries.GetSource(ctx, db.GetSourceParams{ID: sourceID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	user, err := d.queries.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	files, err := d.queries.ListSourceFilesBySource(ctx, db.GetSourceParams{ID: sourceID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("list source files: %w", err)
	}

	h := Header{
		UserID:         userID,
		SourceID:       sourceID,
		Region:         src.Region,
		CallbackURL:    d.cfg.CallbackURL,
		CallbackSecret: d.cfg.CallbackSecret,
	}

	switch src.Type {
	case db.SourceTypeAudio:
		h.Type = RequestTypeAudio
		return buildAudioRequest(h, plan.Get(user.Plan), files)
	case db.SourceTypeImage:
		h.Type = RequestTypeImage
		return buildImageRequest(h, src, files)
	}
	return nil, fmt.Errorf("%w: source type %q", ErrUnknownRequestType, src.Type)
}

func fileRef(f db.SourceFile) FileRef {
	return FileRef{
		SourceFileID: f.ID,
		Region:       f.Region,
		Type:         f.Type,
		Filename:     f.Filename,
		FileSize:     f.FileSize,
	}
}

func buildAudioRequest(h Header, p plan.Plan, files []db.SourceFile) (*AudioRequest, error) {
	req := &AudioRequest{
		Header: h,
		Options: AudioOptions{
			GuessTrackNumber:          p.GuessTrackNumber,
			GuessDiscNumber:           p.GuessDiscNumber,
			PreferCueSheet:            p.PreferCueSheet,
			DefaultUnknownTrackTitle:  DefaultUnknownTrackTitle,
			DefaultUnknownTrackArtist: DefaultUnknownTrackArtist,
			DefaultUnknownAlbumTitle:  DefaultUnknownAlbumTitle,
			DefaultUnknownAlbumArtist: DefaultUnknownAlbumArtist,
		},
	}

	var haveAudio bool
	for _, f := range files {
		switch f.Type {
		case db.SourceFileTypeAudio:
			if haveAudio {
				return nil, errors.New("audio source has more than one audio file")
			}
			req.Audio = fileRef(f)
			haveAudio = true
		case db.SourceFileTypeCueSheet:
			ref := fileRef(f)
			req.CueSheet = &ref
		default:
			return nil, fmt.Errorf("unexpected %s file in audio source", f.Type)
		}
	}
	if !haveAudio {
		return nil, errors.New("audio source has no audio file")
	}
	return req, nil
}

func buildImageRequest(h Header, src db.Source, files []db.SourceFile) (*ImageRequest, error) {
	if len(files) != 1 || files[0].Type != db.SourceFileTypeImage {
		return nil, fmt.Errorf("image source must have exactly one image file, has %d", len(files))
	}
	return &ImageRequest{
		Header:     h,
		AttachType: src.AttachType,
		AttachID:   src.AttachID,
		Image:      fileRef(files[0]),
	}, nil
}
