package timelapse

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// KeyDelimiter joins DatasetIdentity fields into a storage key.
const KeyDelimiter = "."

// DatasetIdentity names one logical video stream: a capture source
// (satellite), a sector, a product and a resolution.
type DatasetIdentity struct {
	Source     string `json:"satellite"`
	Sector     string `json:"sector"`
	Product    string `json:"product"`
	Resolution string `json:"resolution"`
}

// Key returns the storage key, e.g. "GOES18.hi.GEOCOLOR.600x600".
func (id DatasetIdentity) Key() string {
	return strings.Join([]string{id.Source, id.Sector, id.Product, id.Resolution}, KeyDelimiter)
}

// IsZero reports whether no field is set.
func (id DatasetIdentity) IsZero() bool {
	return id == DatasetIdentity{}
}

// Validate rejects identities that would not map to exactly one directory
// below the data root.
func (id DatasetIdentity) Validate() error {
	fields := []struct{ name, value string }{
		{"satellite", id.Source},
		{"sector", id.Sector},
		{"product", id.Product},
		{"resolution", id.Resolution},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidRequest, f.name)
		}
		if strings.ContainsAny(f.value, `/\`+KeyDelimiter) || strings.ContainsRune(f.value, 0) {
			return fmt.Errorf("%w: %s contains a forbidden character", ErrInvalidRequest, f.name)
		}
	}
	return nil
}

// ParseIdentityKey splits a storage key back into its four fields.
func ParseIdentityKey(key string) (DatasetIdentity, error) {
	parts := strings.Split(key, KeyDelimiter)
	if len(parts) != 4 {
		return DatasetIdentity{}, fmt.Errorf("%w: identity key %q must have 4 parts", ErrInvalidRequest, key)
	}
	id := DatasetIdentity{Source: parts[0], Sector: parts[1], Product: parts[2], Resolution: parts[3]}
	return id, id.Validate()
}

// DaySegment is one (duration, file) pair of a day manifest.
type DaySegment struct {
	Duration float64
	URI      string
}

// DayManifest is the per-day, per-identity segment list produced by the
// external encoder.
type DayManifest struct {
	Date     time.Time
	Segments []DaySegment
	Size     int64 // manifest size in bytes, when known
}

// PlaylistSegment is one entry of a VirtualPlaylist with its rewritten
// gateway reference.
type PlaylistSegment struct {
	Duration float64   `json:"duration"`
	URI      string    `json:"uri"`
	Date     time.Time `json:"date"`
}

// VirtualPlaylist is the synthesized, range-spanning on-demand playlist.
// Segments are the chronological concatenation of each day's manifest.
type VirtualPlaylist struct {
	TargetDuration int               `json:"target_duration"`
	Segments       []PlaylistSegment `json:"segments"`
	// DayBoundaries holds indexes into Segments where a new contributing day
	// starts, excluding the first day. Only rendered when MarkDayBoundaries is set.
	DayBoundaries     []int `json:"day_boundaries,omitempty"`
	MarkDayBoundaries bool  `json:"mark_day_boundaries,omitempty"`
}

// SegmentCount returns the number of segments in the playlist.
func (p VirtualPlaylist) SegmentCount() int {
	return len(p.Segments)
}

// TotalDuration sums all segment durations in seconds.
func (p VirtualPlaylist) TotalDuration() float64 {
	var sum float64
	for _, s := range p.Segments {
		sum += s.Duration
	}
	return sum
}

// RangeInfo is the preview summary of a date range.
type RangeInfo struct {
	AvailableDays              int    `json:"availableDays"`
	TotalSegments              int    `json:"totalSegments"`
	EstimatedDurationSeconds   int    `json:"estimatedDurationSeconds"`
	EstimatedDurationFormatted string `json:"estimatedDurationFormatted"`
}

// DayListing describes one stored day manifest.
type DayListing struct {
	Satellite   string `json:"satellite"`
	Sector      string `json:"sector"`
	Product     string `json:"product"`
	Resolution  string `json:"resolution"`
	Date        string `json:"date"`
	PlaylistURL string `json:"playlist_url"`
	Segments    int    `json:"segments"`
	Duration    int    `json:"duration"`
	FileSize    int64  `json:"file_size"`
}

var (
	// ErrInvalidRequest marks malformed or out-of-bounds request parameters.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNoContent is returned when a range resolves to zero segments.
	ErrNoContent = errors.New("no video available for this period")

	// ErrDayNotFound is returned by a Store when a day has no manifest.
	ErrDayNotFound = errors.New("day manifest not found")
)
