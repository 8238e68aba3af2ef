package transcoder

import "testing"

func TestInferDiscTrack(t *testing.T) {
	guessAll := GuessOptions{GuessTrackNumber: true, GuessDiscNumber: true}

	tests := []struct {
		name      string
		tags      NumberTags
		filename  string
		cueSheet  bool
		opts      GuessOptions
		wantDisc  int
		wantTrack int
	}{
		{"tag overrides filename", NumberTags{Track: "5"}, "08 track.mp3", false, guessAll, 1, 5},
		{"disc and track from filename", NumberTags{}, "03 08 track.mp3", false, guessAll, 3, 8},
		{"track only from filename", NumberTags{}, "08 track.mp3", false, guessAll, 1, 8},
		{"dash separated prefix", NumberTags{}, "1-02 Intro.flac", false, guessAll, 1, 2},
		{"cue sheet trailing disc", NumberTags{}, "Disc3.wav", true, guessAll, 3, 1},
		{"catalog number rejected", NumberTags{}, "ABCD-1234.wav", true, guessAll, 1, 1},
		{"four digit prefix rejected", NumberTags{}, "1999 song.mp3", false, guessAll, 1, 1},
		{"zero prefix rejected", NumberTags{}, "00 hidden.mp3", false, guessAll, 1, 1},
		{"padded tags", NumberTags{Disc: "02", Track: "07"}, "x.mp3", false, guessAll, 2, 7},
		{"track with total", NumberTags{Track: "3/12"}, "x.mp3", false, guessAll, 1, 3},
		{"disc with total", NumberTags{Disc: "2/2", Track: "4"}, "x.mp3", false, guessAll, 2, 4},
		{"combined disc.track overrides disc tag", NumberTags{Disc: "1", Track: "2.9"}, "x.mp3", false, guessAll, 2, 9},
		{"tag disc kept while track guessed", NumberTags{Disc: "2"}, "05 song.mp3", false, guessAll, 2, 5},
		{"guessing disabled", NumberTags{}, "03 08 track.mp3", false, GuessOptions{}, 1, 1},
		{"only track guessing", NumberTags{}, "03 08 track.mp3", false, GuessOptions{GuessTrackNumber: true}, 1, 8},
		{"cue sheet does not guess track", NumberTags{}, "07.wav", true, guessAll, 7, 1},
		{"garbage tags ignored", NumberTags{Disc: "A", Track: "B"}, "song.mp3", false, guessAll, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disc, track := InferDiscTrack(tt.tags, tt.filename, tt.cueSheet, tt.opts)
			if disc != tt.wantDisc || track != tt.wantTrack {
				t.Errorf("InferDiscTrack(%+v, %q) = [%d, %d], want [%d, %d]",
					tt.tags, tt.filename, disc, track, tt.wantDisc, tt.wantTrack)
			}
		})
	}
}
