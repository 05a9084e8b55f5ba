package player

import (
	"time"

	"github.com/google/uuid"
)

// State is the buffer state of a playback session.
type State int

const (
	StateIdle State = iota
	StateManifestLoading
	StateBuffering
	StatePlayable
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateManifestLoading:
		return "manifest_loading"
	case StateBuffering:
		return "buffering"
	case StatePlayable:
		return "playable"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Selection is a dataset identity plus an inclusive date range, both as
// they appear in the playlist query string.
type Selection struct {
	Satellite  string
	Sector     string
	Product    string
	Resolution string
	From       string
	To         string
}

// Complete reports whether every field is set.
func (s Selection) Complete() bool {
	return s.Satellite != "" && s.Sector != "" && s.Product != "" && s.Resolution != "" &&
		s.From != "" && s.To != ""
}

// Session is a read-only snapshot of the current playback session.
type Session struct {
	ID             uuid.UUID
	Selection      Selection
	State          State
	Total          int
	Target         int
	Loaded         int
	LastFragmentAt time.Time
	// Message is the user-facing error text in StateError.
	Message string
}

// Progress returns min(Loaded/Target, 1), or 0 before the target is known.
func (s Session) Progress() float64 {
	if s.Target <= 0 {
		return 0
	}
	p := float64(s.Loaded) / float64(s.Target)
	if p > 1 {
		return 1
	}
	return p
}

// readinessTarget is two thirds of total, rounded up.
func readinessTarget(total int) int {
	if total <= 0 {
		return 0
	}
	return (total*2 + 2) / 3
}

// tuningFor sizes the engine's lookahead from the stream size.
func tuningFor(total, target int) Tuning {
	sync := max(target+1, 3)
	sync = min(sync, total)
	return Tuning{SyncCount: sync, MaxLatencyCount: min(sync+2, total)}
}
