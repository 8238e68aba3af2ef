package transcoder

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	// N, 0N, N/M (M is the total) or N.M (disc.track)
	numberTagRegex = regexp.MustCompile(`^\s*(\d+)\s*(?:([/.])\s*(\d+))?\s*$`)
	// leading "TT" or "DD TT" of a standalone file
	leadingNumberRegex = regexp.MustCompile(`^(\d{1,2})(?:[ ._-]+(\d{1,2}))?(?:\D|$)`)
	// trailing "DD" of a cue sheet backed file
	trailingNumberRegex = regexp.MustCompile(`(?:^|\D)(\d{1,2})$`)
)

// NumberTags are the raw disc and track tags read from the audio file.
type NumberTags struct {
	Disc  string `json:"disc,omitempty"`
	Track string `json:"track,omitempty"`
}

type GuessOptions struct {
	GuessTrackNumber bool
	GuessDiscNumber  bool
}

func parseNumberTag(s string) (n int, sep string, m int) {
	match := numberTagRegex.FindStringSubmatch(s)
	if match == nil {
		return 0, "", 0
	}
	n, _ = strconv.Atoi(match[1])
	if match[3] != "" {
		m, _ = strconv.Atoi(match[3])
	}
	return n, match[2], m
}

func validNumber(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 99 {
		return 0
	}
	return n
}

// InferDiscTrack resolves disc and track numbers from tags first, then from
// the filename, then defaults to 1. cueSheet selects the filename pattern.
func InferDiscTrack(tags NumberTags, filename string, cueSheet bool, opts GuessOptions) (disc, track int) {
	disc, _, _ = parseNumberTag(tags.Disc)

	t, sep, m := parseNumberTag(tags.Track)
	if sep == "." && m > 0 {
		disc, track = t, m
	} else {
		track = t
	}

	needDisc := disc <= 0 && opts.GuessDiscNumber
	needTrack := track <= 0 && opts.GuessTrackNumber
	if needDisc || needTrack {
		base := filepath.Base(filename)
		stem := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))

		if cueSheet {
			if needDisc {
				if match := trailingNumberRegex.FindStringSubmatch(stem); match != nil {
					disc = validNumber(match[1])
				}
			}
		} else if match := leadingNumberRegex.FindStringSubmatch(stem); match != nil {
			first, second := validNumber(match[1]), validNumber(match[2])
			if match[2] != "" {
				if needDisc {
					disc = first
				}
				if needTrack {
					track = second
				}
			} else if needTrack {
				track = first
			}
		}
	}

	if disc <= 0 {
		disc = 1
	}
	if track <= 0 {
		track = 1
	}
	return disc, track
}
