package timelapse

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"
)

// DefaultTargetDuration is announced when a range contributes no segment.
const DefaultTargetDuration = 12

// DefaultGatewayPrefix is the URL prefix segment references are rewritten to.
const DefaultGatewayPrefix = "/api/hls"

// Options tune playlist synthesis.
type Options struct {
	// GatewayPrefix is prepended to "<key>/<date>/<file>" in every reference.
	GatewayPrefix string
	// MarkDayBoundaries inserts a discontinuity before each day after the first.
	MarkDayBoundaries bool
	// Log receives per-day skip notices at debug level. Nil disables them.
	Log *slog.Logger
}

// SegmentRef builds the gateway reference for one segment file.
func SegmentRef(prefix string, id DatasetIdentity, day time.Time, file string) string {
	prefix = strings.TrimRight(prefix, "/")
	return prefix + "/" + id.Key() + "/" + FormatDate(day) + "/" + strings.TrimLeft(file, "/")
}

// Synthesize concatenates the day manifests of id for every calendar day in
// [from, to], in ascending day order and original within-day order, and
// rewrites each reference through the gateway. Days without a readable
// manifest contribute nothing. The only error is ctx's.
func Synthesize(ctx context.Context, store Store, id DatasetIdentity, from, to time.Time, opts Options) (VirtualPlaylist, error) {
	prefix := opts.GatewayPrefix
	if prefix == "" {
		prefix = DefaultGatewayPrefix
	}

	out := VirtualPlaylist{MarkDayBoundaries: opts.MarkDayBoundaries}
	maxDuration := 0.0
	var ctxErr error

	EachDay(from, to, func(day time.Time) bool {
		if ctxErr = ctx.Err(); ctxErr != nil {
			return false
		}
		m, err := store.LoadDay(ctx, id, day)
		if err != nil {
			if opts.Log != nil {
				attrs := []any{slog.String("key", id.Key()), slog.String("date", FormatDate(day))}
				if !errors.Is(err, ErrDayNotFound) {
					attrs = append(attrs, slog.String("error", err.Error()))
				}
				opts.Log.Debug("no video for day", attrs...)
			}
			return true
		}
		if len(m.Segments) == 0 {
			return true
		}
		if len(out.Segments) > 0 {
			out.DayBoundaries = append(out.DayBoundaries, len(out.Segments))
		}
		for _, seg := range m.Segments {
			if seg.Duration > maxDuration {
				maxDuration = seg.Duration
			}
			out.Segments = append(out.Segments, PlaylistSegment{
				Duration: seg.Duration,
				URI:      SegmentRef(prefix, id, day, seg.URI),
				Date:     day,
			})
		}
		return true
	})
	if ctxErr != nil {
		return VirtualPlaylist{}, ctxErr
	}

	out.TargetDuration = targetDurationFromMax(maxDuration)
	return out, nil
}

// ComputeRangeInfo summarizes what Synthesize would produce for id over
// [from, to] without building references. When id is zero it aggregates
// every identity in the store: a day counts once if any identity has data.
// Estimated duration assumes nominalSegment seconds per segment.
func ComputeRangeInfo(ctx context.Context, store Store, id DatasetIdentity, from, to time.Time, nominalSegment int) (RangeInfo, error) {
	ids := []DatasetIdentity{id}
	if id.IsZero() {
		all, err := store.ListIdentities(ctx)
		if err != nil {
			return RangeInfo{}, err
		}
		ids = all
	}

	var info RangeInfo
	var ctxErr error
	EachDay(from, to, func(day time.Time) bool {
		dayHasData := false
		for _, each := range ids {
			if ctxErr = ctx.Err(); ctxErr != nil {
				return false
			}
			m, err := store.LoadDay(ctx, each, day)
			if err != nil || len(m.Segments) == 0 {
				continue
			}
			dayHasData = true
			info.TotalSegments += len(m.Segments)
		}
		if dayHasData {
			info.AvailableDays++
		}
		return true
	})
	if ctxErr != nil {
		return RangeInfo{}, ctxErr
	}

	info.EstimatedDurationSeconds = info.TotalSegments * nominalSegment
	info.EstimatedDurationFormatted = FormatDuration(info.EstimatedDurationSeconds)
	return info, nil
}

// targetDurationFromMax returns the HLS #EXT-X-TARGETDURATION value: the
// ceiling of the longest segment, or DefaultTargetDuration when there is none.
func targetDurationFromMax(max float64) int {
	if max <= 0 {
		return DefaultTargetDuration
	}
	return int(math.Ceil(max))
}
