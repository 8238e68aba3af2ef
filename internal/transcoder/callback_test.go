package transcoder

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/SegaraRai/streamist-sub001/internal/db"
	"github.com/SegaraRai/streamist-sub001/internal/lifecycle"
	"github.com/SegaraRai/streamist-sub001/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func audioCallback(t *testing.T, success bool, tracks []TrackResult) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"request": AudioRequest{
			Header: Header{Type: RequestTypeAudio, UserID: testUser, SourceID: "src-1", Region: testRegion},
			Options: AudioOptions{
				GuessTrackNumber:         true,
				GuessDiscNumber:          true,
				DefaultUnknownTrackTitle: DefaultUnknownTrackTitle,
			},
			Audio: FileRef{SourceFileID: "sf-1", Region: testRegion, Type: db.SourceFileTypeAudio, Filename: "03 08 song.flac"},
		},
		"success": success,
		"tracks":  tracks,
	})
	require.NoError(t, err)
	return body
}

func newCallbackHandler(f *fixture) *CallbackHandler {
	h := NewCallbackHandler(f.machine, f.gateway)
	n := 0
	h.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return h
}

func TestCallback_AudioSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.uploadedSource(t, "src-1", db.SourceTypeAudio, map[string]db.SourceFileType{"sf-1": db.SourceFileTypeAudio})
	f.disp.Dispatch(ctx, testUser, "src-1")

	cb, err := ParseCallback(audioCallback(t, true, []TrackResult{
		{
			Title: "Song", Tags: NumberTags{Track: "5"}, Duration: 180,
			Files: []Artifact{
				{ID: "tf-1", Format: "aac", MimeType: "audio/mp4", Extension: ".m4a", FileSize: 100},
				{ID: "tf-2", Format: "opus", MimeType: "audio/webm", Extension: ".weba", FileSize: 80},
			},
		},
		{Files: []Artifact{{ID: "tf-3", Extension: ".m4a"}}},
	}))
	require.NoError(t, err)

	require.NoError(t, newCallbackHandler(f).Handle(ctx, cb))
	assert.Equal(t, db.SourceStateTranscoded, f.state(t, "src-1"))

	tracks := f.store.Tracks(testUser)
	require.Len(t, tracks, 2)

	byTitle := map[string]db.Track{}
	for _, tr := range tracks {
		byTitle[tr.Title] = tr
	}
	song := byTitle["Song"]
	assert.Equal(t, 3, song.DiscNumber)
	assert.Equal(t, 5, song.TrackNumber, "tag wins over filename")
	unknown := byTitle[DefaultUnknownTrackTitle]
	assert.Equal(t, 3, unknown.DiscNumber)
	assert.Equal(t, 8, unknown.TrackNumber)

	files, err := f.store.ListTrackFilesByUser(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, testRegion, files[0].Region)
}

func TestCallback_Failure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.uploadedSource(t, "src-1", db.SourceTypeAudio, map[string]db.SourceFileType{"sf-1": db.SourceFileTypeAudio})
	f.disp.Dispatch(ctx, testUser, "src-1")

	cb, err := ParseCallback(audioCallback(t, false, nil))
	require.NoError(t, err)

	require.NoError(t, newCallbackHandler(f).Handle(ctx, cb))
	assert.Equal(t, db.SourceStateFailed, f.state(t, "src-1"))
	assert.False(t, f.blobs.Has(storage.SourceFileKey(testUser, "sf-1")))
	assert.Empty(t, f.store.Tracks(testUser))
}

func TestCallback_LateResultDiscardsArtifacts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.uploadedSource(t, "src-1", db.SourceTypeAudio, map[string]db.SourceFileType{"sf-1": db.SourceFileTypeAudio})
	f.disp.Dispatch(ctx, testUser, "src-1")

	_, err := f.machine.MarkNotTranscoded(ctx, testUser, "src-1")
	require.NoError(t, err)

	key := storage.TranscodedAudioKey(testUser, "tf-1", ".m4a")
	f.blobs.Put(key)

	cb, err := ParseCallback(audioCallback(t, true, []TrackResult{
		{Title: "Song", Files: []Artifact{{ID: "tf-1", Extension: ".m4a"}}},
	}))
	require.NoError(t, err)

	require.NoError(t, newCallbackHandler(f).Handle(ctx, cb))
	assert.Equal(t, db.SourceStateNotTranscoded, f.state(t, "src-1"))
	assert.Empty(t, f.store.Tracks(testUser))
	assert.False(t, f.blobs.Has(key))
}

func TestCallback_ImageSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.uploadedSource(t, "src-1", db.SourceTypeImage, map[string]db.SourceFileType{"cover": db.SourceFileTypeImage})

	body := []byte(`{
		"request": {"type":"image","userId":"user-1","sourceId":"src-1","region":"ap-northeast-1",
			"attachType":"album","attachId":"album-1","image":{"sourceFileId":"cover"}},
		"success": true,
		"images": [{"files": [
			{"id":"if-1","extension":".webp","mimeType":"image/webp","width":320,"height":320,"fileSize":1000},
			{"id":"if-2","extension":".jpg","mimeType":"image/jpeg","width":1280,"height":1280,"fileSize":9000}
		]}]
	}`)
	cb, err := ParseCallback(body)
	require.NoError(t, err)

	require.NoError(t, newCallbackHandler(f).Handle(ctx, cb))
	assert.Equal(t, db.SourceStateTranscoded, f.state(t, "src-1"))

	images := f.store.Images(testUser)
	require.Len(t, images, 1)
	assert.Equal(t, db.AttachTargetAlbum, images[0].AttachType)
	assert.Equal(t, "album-1", images[0].AttachID)

	files, err := f.store.ListImageFilesByUser(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, 320, files[0].Width)
}

func TestCallback_UnknownSource(t *testing.T) {
	f := newFixture(t)

	cb, err := ParseCallback(audioCallback(t, true, []TrackResult{{Files: []Artifact{{ID: "tf-1", Extension: ".m4a"}}}}))
	require.NoError(t, err)

	err = newCallbackHandler(f).Handle(context.Background(), cb)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}

func TestParseCallback_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing request", `{"success":true}`},
		{"unknown type", `{"request":{"type":"video","userId":"u","sourceId":"s"}}`},
		{"tracks for image", `{"request":{"type":"image","userId":"u","sourceId":"s"},"success":true,"tracks":[{}]}`},
		{"artifact path traversal", `{"request":{"type":"audio","userId":"u","sourceId":"s"},"success":true,"tracks":[{"files":[{"id":"../x","extension":".m4a"}]}]}`},
		{"extension without dot", `{"request":{"type":"audio","userId":"u","sourceId":"s"},"success":true,"tracks":[{"files":[{"id":"x","extension":"m4a"}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCallback([]byte(tt.body))
			assert.ErrorIs(t, err, ErrInvalidCallback)
		})
	}
}
