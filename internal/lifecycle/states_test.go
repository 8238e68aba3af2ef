package lifecycle

import (
	"testing"

	"github.com/SegaraRai/streamist-sub001/internal/db"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to db.SourceState
		want     bool
	}{
		{db.SourceStateUploading, db.SourceStateUploaded, true},
		{db.SourceStateUploading, db.SourceStateNotUploaded, true},
		{db.SourceStateUploading, db.SourceStateTranscoding, false},
		{db.SourceStateUploaded, db.SourceStateTranscoding, true},
		{db.SourceStateUploaded, db.SourceStateFailed, true},
		{db.SourceStateUploaded, db.SourceStateNotTranscoded, true},
		{db.SourceStateTranscoding, db.SourceStateTranscoded, true},
		{db.SourceStateTranscoding, db.SourceStateFailed, true},
		{db.SourceStateTranscoding, db.SourceStateUploaded, false},
		{db.SourceStateTranscoded, db.SourceStateFailed, false},
		{db.SourceStateFailed, db.SourceStateUploaded, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []db.SourceState{db.SourceStateTranscoded, db.SourceStateFailed, db.SourceStateNotUploaded, db.SourceStateNotTranscoded} {
		if !Terminal(s) {
			t.Errorf("Terminal(%s) = false", s)
		}
	}
	if Terminal(db.SourceStateTranscoding) {
		t.Error("Terminal(transcoding) = true")
	}
}

func TestConsistent(t *testing.T) {
	tests := []struct {
		file, source db.SourceState
		want         bool
	}{
		{db.SourceStateUploading, db.SourceStateUploading, true},
		{db.SourceStateUploaded, db.SourceStateUploading, true},
		{db.SourceStateTranscoded, db.SourceStateUploading, false},
		{db.SourceStateTranscoding, db.SourceStateTranscoded, true},
		{db.SourceStateFailed, db.SourceStateFailed, true},
		{db.SourceStateFailed, db.SourceStateTranscoding, false},
		{db.SourceStateTranscoding, db.SourceStateNotTranscoded, false},
	}

	for _, tt := range tests {
		if got := Consistent(tt.file, tt.source); got != tt.want {
			t.Errorf("Consistent(%s, %s) = %v, want %v", tt.file, tt.source, got, tt.want)
		}
	}
}
