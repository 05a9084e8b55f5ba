package player

// Event is one typed notification from an Engine or a Sink.
type Event interface {
	isEvent()
}

// Fatal error categories.
type Category int

const (
	CategoryNetwork Category = iota + 1
	CategoryMedia
	CategoryOther
)

func (c Category) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryMedia:
		return "media"
	default:
		return "other"
	}
}

// Details values reported with FatalError.
const (
	DetailsManifestLoadError    = "manifestLoadError"
	DetailsManifestParsingError = "manifestParsingError"
	DetailsFragLoadError        = "fragLoadError"
	DetailsBufferAppendError    = "bufferAppendError"
)

// ManifestFetched is emitted when the engine has downloaded the manifest.
type ManifestFetched struct {
	URL string
}

// ManifestParsed reports the size of the stream.
type ManifestParsed struct {
	TotalSegments int
	MaxDuration   float64
}

// FragmentLoading is emitted before a segment request starts.
type FragmentLoading struct {
	Sequence int
}

// FragmentLoaded is emitted after a segment has been appended to the sink.
type FragmentLoaded struct {
	Sequence int
}

// FatalError is an error the engine cannot get past on its own.
type FatalError struct {
	Category Category
	Details  string
	Err      error
}

// BufferFull is emitted when the sink refused a segment for lack of space.
// The engine pauses until StartLoad.
type BufferFull struct{}

// MetadataLoaded is emitted by the sink when it first receives media.
type MetadataLoaded struct{}

// TimeUpdate is emitted by the sink when its playback position moves.
type TimeUpdate struct {
	Position float64
}

func (ManifestFetched) isEvent() {}
func (ManifestParsed) isEvent()  {}
func (FragmentLoading) isEvent() {}
func (FragmentLoaded) isEvent()  {}
func (FatalError) isEvent()      {}
func (BufferFull) isEvent()      {}
func (MetadataLoaded) isEvent()  {}
func (TimeUpdate) isEvent()      {}

// manifestResult carries the controller's own manifest check back onto
// the event queue.
type manifestResult struct {
	body []byte
	err  error
}

func (manifestResult) isEvent() {}
