package timelapse

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	tagExtInf        = "#EXTINF:"
	tagDiscontinuity = "#EXT-X-DISCONTINUITY"
)

// BuildVODPlaylist renders p as an on-demand HLS media playlist:
// header, VOD type, target duration, media sequence 0, one EXTINF/reference
// pair per segment and ENDLIST. A playlist with no segments is still valid.
func BuildVODPlaylist(p VirtualPlaylist) string {
	var b strings.Builder

	target := p.TargetDuration
	if target <= 0 {
		target = DefaultTargetDuration
	}

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", target))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")

	boundary := 0
	for i, seg := range p.Segments {
		if p.MarkDayBoundaries && boundary < len(p.DayBoundaries) && p.DayBoundaries[boundary] == i {
			b.WriteString(tagDiscontinuity + "\n")
			boundary++
		}
		b.WriteString(fmt.Sprintf("%s%.6f,\n", tagExtInf, seg.Duration))
		b.WriteString(seg.URI)
		b.WriteString("\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// HasSegments reports whether a rendered playlist announces at least one
// segment. This is how callers tell "no content" apart from an error.
func HasSegments(m3u8 string) bool {
	return strings.Contains(m3u8, tagExtInf)
}

// FormatDuration renders seconds as "1h 2m 3s", "2m 3s" or "3s".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60

	switch {
	case h > 0:
		return strconv.Itoa(h) + "h " + strconv.Itoa(m) + "m " + strconv.Itoa(s) + "s"
	case m > 0:
		return strconv.Itoa(m) + "m " + strconv.Itoa(s) + "s"
	default:
		return strconv.Itoa(s) + "s"
	}
}
