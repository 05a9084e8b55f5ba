package player

import (
	"errors"
	"io"
	"sort"
	"sync"
	"time"
)

// ErrSinkBusy is returned by Attach when another engine is attached.
var ErrSinkBusy = errors.New("sink already attached")

// ErrNotAttached is returned by operations that need an attached sink.
var ErrNotAttached = errors.New("sink not attached")

// DefaultSinkBytes bounds the data a BufferSink holds.
const DefaultSinkBytes = 64 << 20

// BufferSink is a headless Sink. It keeps appended segments in memory up
// to a byte budget, copies each one to an optional writer, and plays by
// advancing a clock at the playback rate.
type BufferSink struct {
	mu        sync.Mutex
	w         io.Writer
	maxBytes  int
	size      int
	segments  []SegmentData
	attached  bool
	paused    bool
	position  float64
	rate      float64
	metadata  bool
	listeners map[int]func(Event)
	nextID    int
}

// NewBufferSink returns a detached, paused sink. w may be nil.
func NewBufferSink(w io.Writer, maxBytes int) *BufferSink {
	if maxBytes <= 0 {
		maxBytes = DefaultSinkBytes
	}
	return &BufferSink{w: w, maxBytes: maxBytes, paused: true, rate: 1, listeners: make(map[int]func(Event))}
}

// Attach implements Sink.Attach.
func (s *BufferSink) Attach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return ErrSinkBusy
	}
	s.attached = true
	return nil
}

// Detach drops buffered data and resets position, pause state and rate.
func (s *BufferSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = false
	s.segments = nil
	s.size = 0
	s.position = 0
	s.paused = true
	s.rate = 1
	s.metadata = false
}

// Attached reports whether an engine is attached.
func (s *BufferSink) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// Append implements Sink.Append.
func (s *BufferSink) Append(seg SegmentData) error {
	s.mu.Lock()
	if !s.attached {
		s.mu.Unlock()
		return ErrNotAttached
	}
	if s.size+len(seg.Data) > s.maxBytes {
		s.mu.Unlock()
		return ErrBufferFull
	}
	if s.w != nil {
		if _, err := s.w.Write(seg.Data); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.segments = append(s.segments, seg)
	sort.SliceStable(s.segments, func(i, j int) bool { return s.segments[i].Start < s.segments[j].Start })
	s.size += len(seg.Data)
	first := !s.metadata
	s.metadata = true
	s.mu.Unlock()

	if first {
		s.emit(MetadataLoaded{})
	}
	return nil
}

// Remove drops every segment lying entirely inside [start, end].
func (s *BufferSink) Remove(start, end float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return ErrNotAttached
	}
	kept := s.segments[:0]
	for _, seg := range s.segments {
		if seg.Start >= start && seg.Start+seg.Duration <= end {
			s.size -= len(seg.Data)
			continue
		}
		kept = append(kept, seg)
	}
	s.segments = kept
	return nil
}

// Buffered returns the merged spans of the held segments.
func (s *BufferSink) Buffered() []TimeRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TimeRange
	for _, seg := range s.segments {
		r := TimeRange{Start: seg.Start, End: seg.Start + seg.Duration}
		if n := len(out); n > 0 && r.Start <= out[n-1].End+1e-6 {
			out[n-1].End = max(out[n-1].End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Size returns the number of bytes held.
func (s *BufferSink) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// CurrentTime implements Sink.CurrentTime.
func (s *BufferSink) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Paused implements Sink.Paused.
func (s *BufferSink) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Play implements Sink.Play.
func (s *BufferSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return ErrNotAttached
	}
	s.paused = false
	return nil
}

// PlaybackRate returns the current rate.
func (s *BufferSink) PlaybackRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// SetPlaybackRate implements Sink.SetPlaybackRate.
func (s *BufferSink) SetPlaybackRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
}

// Advance moves the playback position by wall time d at the current rate,
// without passing the end of buffered data, and emits TimeUpdate.
func (s *BufferSink) Advance(d time.Duration) {
	s.mu.Lock()
	if !s.attached || s.paused {
		s.mu.Unlock()
		return
	}
	end := s.position
	for _, seg := range s.segments {
		if seg.Start <= end+1e-6 {
			end = max(end, seg.Start+seg.Duration)
		}
	}
	s.position = min(s.position+d.Seconds()*s.rate, end)
	pos := s.position
	s.mu.Unlock()

	s.emit(TimeUpdate{Position: pos})
}

// Subscribe implements Sink.Subscribe.
func (s *BufferSink) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *BufferSink) emit(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
