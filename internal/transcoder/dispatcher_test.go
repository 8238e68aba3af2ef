package transcoder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/db"
	"github.com/SegaraRai/streamist-sub001/internal/lifecycle"
	"github.com/SegaraRai/streamist-sub001/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser   = "user-1"
	testRegion = "ap-northeast-1"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type fakeRunner struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (r *fakeRunner) Name() string { return "fake" }

func (r *fakeRunner) Invoke(ctx context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return r.err
}

type fixture struct {
	store   *db.MemoryStore
	blobs   *storage.MemoryStorage
	gateway *storage.Gateway
	machine *lifecycle.Machine
	runner  *fakeRunner
	disp    *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.NewMemoryStore()
	store.AddUser(db.User{ID: testUser, Plan: "free", CreatedAt: testNow})

	blobs := storage.NewMemoryStorage(testRegion)
	gw := storage.NewGateway(storage.WithDeleteBackoff(nil))
	require.NoError(t, gw.Register(testRegion, blobs))

	machine := lifecycle.New(store, gw, lifecycle.WithClock(func() time.Time { return testNow }))
	runner := &fakeRunner{}
	disp := NewDispatcher(store, machine, DispatcherConfig{
		CallbackURL:    "https://api.example.com/internal/transcoder/callback",
		CallbackSecret: "s3cret",
		Runners:        map[string]Runner{testRegion: runner},
	})

	return &fixture{store: store, blobs: blobs, gateway: gw, machine: machine, runner: runner, disp: disp}
}

// uploadedSource creates a source whose files have all been uploaded.
func (f *fixture) uploadedSource(t *testing.T, sourceID string, srcType db.SourceType, files map[string]db.SourceFileType) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.CreateSource(ctx, db.CreateSourceParams{
		ID: sourceID, UserID: testUser, Type: srcType, Region: testRegion,
		AttachType: db.AttachTargetAlbum, AttachID: "album-1", Now: testNow,
	})
	require.NoError(t, err)

	for id, ft := range files {
		_, err := f.store.CreateSourceFile(ctx, db.CreateSourceFileParams{
			ID: id, SourceID: sourceID, UserID: testUser, Type: ft,
			Region: testRegion, Filename: id, FileSize: 2048, Now: testNow,
		})
		require.NoError(t, err)
		f.blobs.Put(storage.SourceFileKey(testUser, id))
	}
	for id := range files {
		_, err := f.machine.MarkUploaded(ctx, testUser, sourceID, id)
		require.NoError(t, err)
	}
}

func (f *fixture) state(t *testing.T, sourceID string) db.SourceState {
	t.Helper()
	src, err := f.store.GetSource(context.Background(), db.GetSourceParams{ID: sourceID, UserID: testUser})
	require.NoError(t, err)
	return src.State
}

func TestDispatch_AudioWithCueSheet(t *testing.T) {
	f := newFixture(t)
	f.uploadedSource(t, "src-1", db.SourceTypeAudio, map[string]db.SourceFileType{
		"album.flac": db.SourceFileTypeAudio,
		"album.cue":  db.SourceFileTypeCueSheet,
	})

	f.disp.Dispatch(context.Background(), testUser, "src-1")

	require.Len(t, f.runner.payloads, 1)
	assert.Equal(t, db.SourceStateTranscoding, f.state(t, "src-1"))

	req, err := ParseRequest(f.runner.payloads[0])
	require.NoError(t, err)

	audio, ok := req.(*AudioRequest)
	require.True(t, ok, "expected audio request, got %T", req)
	assert.Equal(t, RequestTypeAudio, audio.Type)
	assert.Equal(t, "src-1", audio.SourceID)
	assert.Equal(t, testRegion, audio.Region)
	assert.Equal(t, "https://api.example.com/internal/transcoder/callback", audio.CallbackURL)
	assert.Equal(t, "s3cret", audio.CallbackSecret)
	assert.Equal(t, "album.flac", audio.Audio.SourceFileID)
	require.NotNil(t, audio.CueSheet)
	assert.Equal(t, "album.cue", audio.CueSheet.SourceFileID)
	assert.True(t, audio.Options.GuessTrackNumber)
	assert.Equal(t, DefaultUnknownAlbumTitle, audio.Options.DefaultUnknownAlbumTitle)
}

func TestDispatch_Image(t *testing.T) {
	f := newFixture(t)
	f.uploadedSource(t, "src-1", db.SourceTypeImage, map[string]db.SourceFileType{
		"cover.jpg": db.SourceFileTypeImage,
	})

	f.disp.Dispatch(context.Background(), testUser, "src-1")

	require.Len(t, f.runner.payloads, 1)
	req, err := ParseRequest(f.runner.payloads[0])
	require.NoError(t, err)

	img, ok := req.(*ImageRequest)
	require.True(t, ok)
	assert.Equal(t, db.AttachTargetAlbum, img.AttachType)
	assert.Equal(t, "album-1", img.AttachID)
	assert.Equal(t, "cover.jpg", img.Image.SourceFileID)
}

func TestDispatch_InvokeFailureLeavesUploaded(t *testing.T) {
	f := newFixture(t)
	f.runner.err = errors.New("connection refused")
	f.uploadedSource(t, "src-1", db.SourceTypeAudio, map[string]db.SourceFileType{
		"a.flac": db.SourceFileTypeAudio,
	})

	f.disp.Dispatch(context.Background(), testUser, "src-1")

	assert.Equal(t, db.SourceStateUploaded, f.state(t, "src-1"))
	assert.True(t, f.blobs.Has(storage.SourceFileKey(testUser, "a.flac")))
}

func TestDispatch_BuildFailureFailsSource(t *testing.T) {
	f := newFixture(t)
	f.uploadedSource(t, "src-1", db.SourceTypeAudio, map[string]db.SourceFileType{
		"a.cue": db.SourceFileTypeCueSheet,
	})

	f.disp.Dispatch(context.Background(), testUser, "src-1")

	assert.Empty(t, f.runner.payloads)
	assert.Equal(t, db.SourceStateFailed, f.state(t, "src-1"))
	assert.False(t, f.blobs.Has(storage.SourceFileKey(testUser, "a.cue")))
}

func TestDispatch_NoRunnerForRegion(t *testing.T) {
	f := newFixture(t)
	f.disp = NewDispatcher(f.store, f.machine, DispatcherConfig{Runners: map[string]Runner{"us-east-1": f.runner}})
	f.uploadedSource(t, "src-1", db.SourceTypeAudio, map[string]db.SourceFileType{
		"a.flac": db.SourceFileTypeAudio,
	})

	f.disp.Dispatch(context.Background(), testUser, "src-1")

	assert.Empty(t, f.runner.payloads)
	assert.Equal(t, db.SourceStateFailed, f.state(t, "src-1"))
}

func TestDispatch_DefaultRunner(t *testing.T) {
	f := newFixture(t)
	dev := &fakeRunner{}
	f.disp = NewDispatcher(f.store, f.machine, DispatcherConfig{Default: dev})
	f.uploadedSource(t, "src-1", db.SourceTypeAudio, map[string]db.SourceFileType{
		"a.flac": db.SourceFileTypeAudio,
	})

	f.disp.Dispatch(context.Background(), testUser, "src-1")

	assert.Len(t, dev.payloads, 1)
	assert.Equal(t, db.SourceStateTranscoding, f.state(t, "src-1"))
}

func TestParseRequest_UnknownType(t *testing.T) {
	_, err := ParseRequest([]byte(`{"type":"video","userId":"u","sourceId":"s"}`))
	assert.ErrorIs(t, err, ErrUnknownRequestType)

	_, err = ParseRequest([]byte(`{"type":"audio","userId":"u"}`))
	assert.Error(t, err)
}
