package cleanup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/db"
	"github.com/SegaraRai/streamist-sub001/internal/lifecycle"
	"github.com/SegaraRai/streamist-sub001/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const region = "ap-northeast-1"

var now = time.Date(2026, 10, 16, 17, 30, 0, 0, time.UTC)

type fixture struct {
	store   *db.MemoryStore
	blobs   *storage.MemoryStorage
	gateway *storage.Gateway
	cleaner *Cleaner
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store: db.NewMemoryStore(),
		blobs: storage.NewMemoryStorage(region),
	}
	f.gateway = storage.NewGateway(storage.WithDeleteBackoff(nil))
	require.NoError(t, f.gateway.Register(region, f.blobs))

	clock := func() time.Time { return now }
	machine := lifecycle.New(f.store, f.gateway, lifecycle.WithClock(clock))
	f.cleaner = New(Dependencies{Queries: f.store, Machine: machine, Blobs: f.gateway}, cfg, WithClock(clock))
	return f
}

func ptr(t time.Time) *time.Time { return &t }

// addSource stores a source with one file, both in state, and puts its blob.
func (f *fixture) addSource(userID, id string, state db.SourceState, created time.Time, mutate func(*db.Source, *db.SourceFile)) {
	src := db.Source{
		ID: id, UserID: userID, Type: db.SourceTypeAudio, State: state, Region: region,
		CreatedAt: created, UpdatedAt: created,
	}
	file := db.SourceFile{
		ID: id + "-file", SourceID: id, UserID: userID, Type: db.SourceFileTypeAudio, Region: region,
		Filename: "a.flac", FileSize: 1024, State: state, CreatedAt: created, UpdatedAt: created,
	}
	if state != db.SourceStateUploading {
		file.EntityExists = true
		file.UploadedAt = ptr(created)
	}
	if mutate != nil {
		mutate(&src, &file)
	}
	f.store.PutSource(src)
	f.store.PutSourceFile(file)
	if file.EntityExists {
		f.blobs.Put(storage.SourceFileKey(userID, file.ID))
	}
}

func (f *fixture) sourceState(t *testing.T, userID, id string) db.SourceState {
	t.Helper()
	src, err := f.store.GetSource(context.Background(), db.GetSourceParams{ID: id, UserID: userID})
	require.NoError(t, err)
	return src.State
}

func TestParseJob(t *testing.T) {
	for _, j := range Jobs() {
		got, err := ParseJob(string(j))
		require.NoError(t, err)
		assert.Equal(t, j, got)
	}

	_, err := ParseJob("vacuum")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestConfig_StaleUploadDeadline(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 4*time.Hour+30*time.Minute, cfg.StaleUploadDeadline())
	assert.Equal(t, int32(100), cfg.BatchSize)
}

func TestStaleUploads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.store.AddUser(db.User{ID: "u1", Plan: "free"})
	deadline := 4*time.Hour + 30*time.Minute

	uploadID, err := f.blobs.CreateMultipartUpload(ctx, storage.SourceFileKey("u1", "stale-file"))
	require.NoError(t, err)
	f.addSource("u1", "stale", db.SourceStateUploading, now.Add(-deadline-time.Millisecond), func(_ *db.Source, sf *db.SourceFile) {
		sf.UploadID = uploadID
	})
	f.addSource("u1", "boundary", db.SourceStateUploading, now.Add(-deadline), nil)
	f.addSource("u1", "fresh", db.SourceStateUploading, now.Add(-time.Hour), nil)

	stats, err := f.cleaner.StaleUploads(ctx)
	require.NoError(t, err)

	assert.Equal(t, JobStaleUploads, stats.Job)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, db.SourceStateNotUploaded, f.sourceState(t, "u1", "stale"))
	assert.Equal(t, db.SourceStateUploading, f.sourceState(t, "u1", "boundary"))
	assert.Equal(t, db.SourceStateUploading, f.sourceState(t, "u1", "fresh"))

	assert.Zero(t, f.blobs.OpenUploads())
	assert.Equal(t, []string{uploadID}, f.blobs.Aborts())
}

func TestStaleUploads_Batches(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2})
	f.store.AddUser(db.User{ID: "u1", Plan: "free"})
	for i := 0; i < 5; i++ {
		f.addSource("u1", fmt.Sprintf("s%d", i), db.SourceStateUploading, now.Add(-24*time.Hour), nil)
	}

	stats, err := f.cleaner.StaleUploads(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Processed)
	for i := 0; i < 5; i++ {
		assert.Equal(t, db.SourceStateNotUploaded, f.sourceState(t, "u1", fmt.Sprintf("s%d", i)))
	}
}

type stuckMachine struct {
	calls int
}

func (m *stuckMachine) MarkNotUploaded(ctx context.Context, userID, sourceID string) (lifecycle.Result, error) {
	m.calls++
	return lifecycle.Result{}, nil
}

func (m *stuckMachine) MarkNotTranscoded(ctx context.Context, userID, sourceID string) (lifecycle.Result, error) {
	m.calls++
	return lifecycle.Result{}, nil
}

func TestStaleUploads_StopsOnRowsThatCannotMove(t *testing.T) {
	store := db.NewMemoryStore()
	machine := &stuckMachine{}
	c := New(Dependencies{Queries: store, Machine: machine}, Config{BatchSize: 2}, WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		store.PutSourceFile(db.SourceFile{
			ID: fmt.Sprintf("f%d", i), SourceID: fmt.Sprintf("s%d", i), UserID: "u1",
			State: db.SourceStateUploading, CreatedAt: now.Add(-24 * time.Hour),
		})
	}

	stats, err := c.StaleUploads(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, machine.calls)
	assert.Equal(t, 2, stats.Skipped)
	assert.Zero(t, stats.Processed)
}

func TestStaleTranscodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.store.AddUser(db.User{ID: "u1", Plan: "free"})

	f.addSource("u1", "never-dispatched", db.SourceStateUploaded, now.Add(-7*time.Hour), nil)
	f.addSource("u1", "recently-uploaded", db.SourceStateUploaded, now.Add(-time.Hour), nil)
	f.addSource("u1", "no-callback", db.SourceStateTranscoding, now.Add(-8*time.Hour), func(src *db.Source, _ *db.SourceFile) {
		src.TranscodeStartedAt = ptr(now.Add(-6*time.Hour - time.Second))
	})
	f.addSource("u1", "still-transcoding", db.SourceStateTranscoding, now.Add(-8*time.Hour), func(src *db.Source, _ *db.SourceFile) {
		src.TranscodeStartedAt = ptr(now.Add(-5 * time.Hour))
	})
	f.addSource("u1", "done", db.SourceStateTranscoded, now.Add(-48*time.Hour), nil)

	stats, err := f.cleaner.StaleTranscodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)

	assert.Equal(t, db.SourceStateNotTranscoded, f.sourceState(t, "u1", "never-dispatched"))
	assert.Equal(t, db.SourceStateNotTranscoded, f.sourceState(t, "u1", "no-callback"))
	assert.Equal(t, db.SourceStateUploaded, f.sourceState(t, "u1", "recently-uploaded"))
	assert.Equal(t, db.SourceStateTranscoding, f.sourceState(t, "u1", "still-transcoding"))
	assert.Equal(t, db.SourceStateTranscoded, f.sourceState(t, "u1", "done"))

	assert.False(t, f.blobs.Has(storage.SourceFileKey("u1", "never-dispatched-file")))
	assert.False(t, f.blobs.Has(storage.SourceFileKey("u1", "no-callback-file")))
	assert.True(t, f.blobs.Has(storage.SourceFileKey("u1", "done-file")))
}

func TestOverRetention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.store.AddUser(db.User{ID: "free-user", Plan: "free"})
	f.store.AddUser(db.User{ID: "paid-user", Plan: "unlimited"})
	retention := 30 * 24 * time.Hour

	f.addSource("free-user", "expired", db.SourceStateTranscoded, now.Add(-retention-time.Millisecond), nil)
	f.addSource("free-user", "boundary", db.SourceStateTranscoded, now.Add(-retention), nil)
	f.addSource("free-user", "recent", db.SourceStateTranscoded, now.Add(-24*time.Hour), nil)
	f.addSource("free-user", "already-gone", db.SourceStateTranscoded, now.Add(-90*24*time.Hour), func(_ *db.Source, sf *db.SourceFile) {
		sf.EntityExists = false
	})
	f.addSource("paid-user", "forever", db.SourceStateTranscoded, now.Add(-365*24*time.Hour), nil)

	stats, err := f.cleaner.OverRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.BlobsDeleted)

	expired, err := f.store.GetSourceFile(ctx, db.GetSourceFileParams{ID: "expired-file", SourceID: "expired", UserID: "free-user"})
	require.NoError(t, err)
	assert.False(t, expired.EntityExists)
	assert.Equal(t, db.SourceStateTranscoded, expired.State, "retention does not touch the lifecycle state")

	assert.False(t, f.blobs.Has(storage.SourceFileKey("free-user", "expired-file")))
	assert.True(t, f.blobs.Has(storage.SourceFileKey("free-user", "boundary-file")))
	assert.True(t, f.blobs.Has(storage.SourceFileKey("free-user", "recent-file")))
	assert.True(t, f.blobs.Has(storage.SourceFileKey("paid-user", "forever-file")))

	again, err := f.cleaner.OverRetention(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Processed)
}

// orderingDeleter asserts that the user row is gone before any blob is deleted.
type orderingDeleter struct {
	t      *testing.T
	store  *db.MemoryStore
	userID string
	inner  lifecycle.BlobDeleter
	calls  int
}

func (d *orderingDeleter) DeleteAll(ctx context.Context, objs []storage.Object) int {
	d.calls++
	_, err := d.store.GetUser(ctx, d.userID)
	assert.ErrorIs(d.t, err, db.ErrNotFound)
	return d.inner.DeleteAll(ctx, objs)
}

func TestClosedAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.store.AddUser(db.User{ID: "gone", Plan: "free", ClosedAt: ptr(now.Add(-8 * 24 * time.Hour))})
	f.store.AddUser(db.User{ID: "grace", Plan: "free", ClosedAt: ptr(now.Add(-6 * 24 * time.Hour))})
	f.store.AddUser(db.User{ID: "active", Plan: "free"})

	f.addSource("gone", "src", db.SourceStateTranscoded, now.Add(-10*24*time.Hour), nil)
	require.NoError(t, f.store.InsertTrack(ctx, db.Track{ID: "t1", UserID: "gone", SourceID: "src"}))
	require.NoError(t, f.store.InsertTrackFile(ctx, db.TrackFile{ID: "tf1", UserID: "gone", TrackID: "t1", Region: region, Extension: ".m4a"}))
	require.NoError(t, f.store.InsertImage(ctx, db.Image{ID: "i1", UserID: "gone"}))
	require.NoError(t, f.store.InsertImageFile(ctx, db.ImageFile{ID: "if1", UserID: "gone", ImageID: "i1", Region: region, Extension: ".webp"}))
	f.blobs.Put(storage.TranscodedAudioKey("gone", "tf1", ".m4a"))
	f.blobs.Put(storage.TranscodedImageKey("gone", "if1", ".webp"))
	f.blobs.Put(storage.TranscodeLogKey("gone", "src-file", "audio"))

	f.addSource("grace", "kept", db.SourceStateTranscoded, now.Add(-10*24*time.Hour), nil)

	deleter := &orderingDeleter{t: t, store: f.store, userID: "gone", inner: f.gateway}
	f.cleaner.deps.Blobs = deleter

	stats, err := f.cleaner.ClosedAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, deleter.calls)
	assert.Zero(t, stats.StorageDeleteErrors)

	_, err = f.store.GetUser(ctx, "gone")
	assert.ErrorIs(t, err, db.ErrNotFound)
	_, err = f.store.GetUser(ctx, "grace")
	assert.NoError(t, err)

	assert.False(t, f.blobs.Has(storage.SourceFileKey("gone", "src-file")))
	assert.False(t, f.blobs.Has(storage.TranscodedAudioKey("gone", "tf1", ".m4a")))
	assert.False(t, f.blobs.Has(storage.TranscodedImageKey("gone", "if1", ".webp")))
	assert.False(t, f.blobs.Has(storage.TranscodeLogKey("gone", "src-file", "audio")))
	assert.True(t, f.blobs.Has(storage.SourceFileKey("grace", "kept-file")))
	assert.Empty(t, f.store.Tracks("gone"))
}

func TestClosedAccounts_StorageFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.store.AddUser(db.User{ID: "gone", Plan: "free", ClosedAt: ptr(now.Add(-30 * 24 * time.Hour))})
	f.addSource("gone", "src", db.SourceStateTranscoded, now.Add(-40*24*time.Hour), nil)
	f.blobs.FailDeletes(100, fmt.Errorf("storage unavailable"))

	stats, err := f.cleaner.ClosedAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Positive(t, stats.StorageDeleteErrors)

	_, err = f.store.GetUser(ctx, "gone")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRun_UnknownJob(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.cleaner.Run(context.Background(), "vacuum")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.cleaner.StaleUploads(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
