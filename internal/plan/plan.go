package plan

import "time"

type ID string

const (
	Free      ID = "free"
	Unlimited ID = "unlimited"
)

const (
	FreeMaxTracks   = 100
	FreeMaxFileSize = 512 * 1024 * 1024 // 512 MiB
	FreeRetention   = 30 * 24 * time.Hour

	UnlimitedMaxTracks   = -1
	UnlimitedMaxFileSize = 4 * 1024 * 1024 * 1024 // 4 GiB
	UnlimitedRetention   = 0
)

// Plan is a static per-user tier. MaxTracks < 0 means no ceiling and a zero
// Retention means source blobs are kept forever.
type Plan struct {
	ID          ID
	MaxTracks   int
	MaxFileSize int64
	Retention   time.Duration

	GuessTrackNumber bool
	GuessDiscNumber  bool
	PreferCueSheet   bool
}

var plans = map[ID]Plan{
	Free: {
		ID:               Free,
		MaxTracks:        FreeMaxTracks,
		MaxFileSize:      FreeMaxFileSize,
		Retention:        FreeRetention,
		GuessTrackNumber: true,
		GuessDiscNumber:  true,
		PreferCueSheet:   true,
	},
	Unlimited: {
		ID:               Unlimited,
		MaxTracks:        UnlimitedMaxTracks,
		MaxFileSize:      UnlimitedMaxFileSize,
		Retention:        UnlimitedRetention,
		GuessTrackNumber: true,
		GuessDiscNumber:  true,
		PreferCueSheet:   true,
	},
}

// Get returns the plan for id, falling back to Free for unknown ids.
func Get(id string) Plan {
	if p, ok := plans[ID(id)]; ok {
		return p
	}
	return plans[Free]
}

func Lookup(id string) (Plan, bool) {
	p, ok := plans[ID(id)]
	return p, ok
}

// All returns every plan in a stable order.
func All() []Plan {
	return []Plan{plans[Free], plans[Unlimited]}
}

func (p Plan) HasRetention() bool {
	return p.Retention > 0
}

func (p Plan) HasTrackCeiling() bool {
	return p.MaxTracks >= 0
}

// CanAddTracks reports whether a user already holding current tracks may add n more.
func (p Plan) CanAddTracks(current int64, n int) bool {
	if !p.HasTrackCeiling() {
		return true
	}
	return current+int64(n) <= int64(p.MaxTracks)
}

func (p Plan) CanUploadSize(size int64) bool {
	return size <= p.MaxFileSize
}

// RetentionCutoff is the uploadedAt instant at or after which a source file is
// still retained at now. Only strictly older files are expired.
func (p Plan) RetentionCutoff(now time.Time) time.Time {
	return now.Add(-p.Retention)
}
