package player

// TimeRange is a buffered span in seconds of media time.
type TimeRange struct {
	Start float64
	End   float64
}

// TrimRanges returns the spans of buffered that may be removed at playback
// position: every range ending at or before position-retention, and the
// leading part of a range that straddles that point. Nothing at or after
// position-retention is returned, so nothing past position ever is.
func TrimRanges(buffered []TimeRange, position, retention float64) []TimeRange {
	cutoff := position - retention
	if cutoff <= 0 {
		return nil
	}
	var out []TimeRange
	for _, r := range buffered {
		if r.End <= r.Start {
			continue
		}
		switch {
		case r.End <= cutoff:
			out = append(out, r)
		case r.Start < cutoff:
			out = append(out, TimeRange{Start: r.Start, End: cutoff})
		}
	}
	return out
}
