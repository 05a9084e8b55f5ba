package timelapse

import (
	"strings"
	"testing"
	"time"
)

func TestBuildVODPlaylist_exact(t *testing.T) {
	day := time.Date(2025, 7, 20, 0, 0, 0, 0, time.UTC)
	p := VirtualPlaylist{
		TargetDuration: 10,
		Segments: []PlaylistSegment{
			{Duration: 10, URI: "/api/hls/K/2025-07-20/a.ts", Date: day},
			{Duration: 8.5, URI: "/api/hls/K/2025-07-20/b.ts", Date: day},
		},
	}
	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-PLAYLIST-TYPE:VOD\n" +
		"#EXT-X-TARGETDURATION:10\n" +
		"#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXTINF:10.000000,\n" +
		"/api/hls/K/2025-07-20/a.ts\n" +
		"#EXTINF:8.500000,\n" +
		"/api/hls/K/2025-07-20/b.ts\n" +
		"#EXT-X-ENDLIST\n"
	if got := BuildVODPlaylist(p); got != want {
		t.Errorf("BuildVODPlaylist:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildVODPlaylist_empty(t *testing.T) {
	out := BuildVODPlaylist(VirtualPlaylist{})
	if !strings.Contains(out, "#EXT-X-TARGETDURATION:12\n") {
		t.Errorf("expected default target duration 12, got:\n%s", out)
	}
	if HasSegments(out) {
		t.Error("empty playlist should not report segments")
	}
	if !strings.HasSuffix(out, "#EXT-X-ENDLIST\n") {
		t.Error("expected ENDLIST")
	}
}

func TestBuildVODPlaylist_day_boundaries(t *testing.T) {
	p := VirtualPlaylist{
		TargetDuration: 10,
		Segments: []PlaylistSegment{
			{Duration: 10, URI: "a.ts"},
			{Duration: 10, URI: "b.ts"},
			{Duration: 10, URI: "c.ts"},
		},
		DayBoundaries: []int{2},
	}

	if strings.Contains(BuildVODPlaylist(p), tagDiscontinuity) {
		t.Error("boundaries must not be rendered unless enabled")
	}

	p.MarkDayBoundaries = true
	out := BuildVODPlaylist(p)
	if strings.Count(out, tagDiscontinuity) != 1 {
		t.Fatalf("expected one discontinuity, got:\n%s", out)
	}
	if !strings.Contains(out, "b.ts\n"+tagDiscontinuity+"\n#EXTINF:10.000000,\nc.ts") {
		t.Errorf("discontinuity not placed before the second day:\n%s", out)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0s"},
		{3, "3s"},
		{123, "2m 3s"},
		{3723, "1h 2m 3s"},
		{3600, "1h 0m 0s"},
		{-5, "0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-07-20")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if d.Location() != time.UTC || FormatDate(d) != "2025-07-20" {
		t.Errorf("unexpected date %v", d)
	}
	for _, bad := range []string{"2025-7-20", "20-07-2025", "2025-02-30", "", "2025-07-20T00:00:00Z"} {
		if _, err := ParseDate(bad); err == nil {
			t.Errorf("ParseDate(%q): expected error", bad)
		}
	}
}

func TestEachDay_inclusive(t *testing.T) {
	from := time.Date(2025, 2, 27, 15, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)
	var got []string
	EachDay(from, to, func(d time.Time) bool {
		got = append(got, FormatDate(d))
		return true
	})
	want := []string{"2025-02-27", "2025-02-28", "2025-03-01"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("EachDay: got %v, want %v", got, want)
	}
	if DaysBetween(from, to) != 2 {
		t.Errorf("DaysBetween: got %d, want 2", DaysBetween(from, to))
	}
}
