package lifecycle

import "github.com/SegaraRai/streamist-sub001/internal/db"

// rank orders the success path. Off-path terminals have no rank.
var rank = map[db.SourceState]int{
	db.SourceStateUploading:   0,
	db.SourceStateUploaded:    1,
	db.SourceStateTranscoding: 2,
	db.SourceStateTranscoded:  3,
}

var transitions = map[db.SourceState][]db.SourceState{
	db.SourceStateUploading:   {db.SourceStateUploaded, db.SourceStateNotUploaded},
	db.SourceStateUploaded:    {db.SourceStateTranscoding, db.SourceStateTranscoded, db.SourceStateFailed, db.SourceStateNotTranscoded},
	db.SourceStateTranscoding: {db.SourceStateTranscoded, db.SourceStateFailed, db.SourceStateNotTranscoded},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
// uploaded -> transcoded exists for a callback that overtakes the dispatcher.
func CanTransition(from, to db.SourceState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func Terminal(s db.SourceState) bool {
	return len(transitions[s]) == 0
}

// Failure reports whether s is one of the terminal failure states whose blobs
// are deleted.
func Failure(s db.SourceState) bool {
	switch s {
	case db.SourceStateFailed, db.SourceStateNotUploaded, db.SourceStateNotTranscoded:
		return true
	}
	return false
}

// Consistent reports whether a file in state file may belong to a source in
// state source. Files complete their upload one by one, so "uploaded" files
// under an "uploading" source are allowed. Otherwise a file never runs ahead
// of its source and failure states match exactly.
func Consistent(file, source db.SourceState) bool {
	fr, fok := rank[file]
	sr, sok := rank[source]
	switch {
	case fok && sok:
		return fr <= sr || (file == db.SourceStateUploaded && source == db.SourceStateUploading)
	case !fok && !sok:
		return file == source
	}
	return false
}
