package timelapse

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/grafov/m3u8"
)

// dayManifestCapacity bounds the segments decoded from one day manifest.
const dayManifestCapacity = 8192

// ParseDayManifest decodes a per-day media playlist into (duration, file)
// pairs in their original order. Decoding is lenient: a manifest that is
// still being written (no ENDLIST, no TARGETDURATION yet) is accepted. An
// EXTINF without a following URI, or whose duration is not a positive
// number, is dropped.
func ParseDayManifest(r io.Reader) ([]DaySegment, error) {
	p, err := m3u8.NewMediaPlaylist(0, dayManifestCapacity)
	if err != nil {
		return nil, err
	}
	if err := p.DecodeFrom(bufio.NewReader(r), false); err != nil {
		return nil, fmt.Errorf("decode day manifest: %w", err)
	}

	n := int(p.Count())
	out := make([]DaySegment, 0, n)
	for _, seg := range p.Segments[:n] {
		if seg == nil {
			continue
		}
		uri := strings.TrimSpace(seg.URI)
		if uri == "" || !(seg.Duration > 0) {
			continue
		}
		out = append(out, DaySegment{Duration: seg.Duration, URI: uri})
	}
	return out, nil
}
