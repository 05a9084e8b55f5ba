package player

// Tuning sizes the engine's fetch window in segments.
type Tuning struct {
	SyncCount       int
	MaxLatencyCount int
}

// SegmentData is one fetched segment handed to a Sink.
type SegmentData struct {
	Sequence int
	// Start and Duration are in seconds of media time.
	Start    float64
	Duration float64
	Data     []byte
}

// Engine fetches segments of one manifest and feeds them to a Sink. An
// Engine belongs to exactly one session.
type Engine interface {
	// Subscribe registers fn for engine events and returns its unsubscribe.
	Subscribe(fn func(Event)) (unsubscribe func())
	LoadSource(url string)
	AttachMedia(sink Sink) error
	Tune(t Tuning)
	// StartLoad resumes fetching after a pause or failure.
	StartLoad()
	RecoverMediaError()
	FlushBuffer(start, end float64) error
	// Destroy stops all work and detaches the sink. No callback runs
	// after it returns.
	Destroy()
}

// EngineFactory creates a fresh Engine for each session.
type EngineFactory func() Engine

// Sink is the video output the controller borrows.
type Sink interface {
	Attach() error
	Detach()
	// Append buffers one segment or returns ErrBufferFull.
	Append(seg SegmentData) error
	Remove(start, end float64) error
	Buffered() []TimeRange
	CurrentTime() float64
	Paused() bool
	Play() error
	SetPlaybackRate(rate float64)
	Subscribe(fn func(Event)) (unsubscribe func())
}
