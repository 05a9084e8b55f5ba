package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxManifestBytes bounds a manifest download.
const maxManifestBytes = 16 << 20

var (
	// ErrNoContent means the selected range has no segments.
	ErrNoContent = errors.New("no content for this range")
	// ErrBufferFull is returned by Sink.Append when it cannot take more data.
	ErrBufferFull = errors.New("buffer full")
)

// StatusError is a non-success HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// Is makes a 404 match ErrNoContent.
func (e *StatusError) Is(target error) bool {
	return target == ErrNoContent && e.StatusCode == http.StatusNotFound
}

// ManifestFetcher downloads a manifest.
type ManifestFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher is a ManifestFetcher over an http.Client.
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch implements ManifestFetcher.
func (f HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return fetch(ctx, f.Client, rawURL, maxManifestBytes)
}

func fetch(ctx context.Context, client *http.Client, rawURL string, limit int64) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// ValidateManifest checks that body announces at least one segment and
// references at least one segment file. A manifest without either is
// reported as ErrNoContent rather than as a parse failure.
func ValidateManifest(body []byte) error {
	hasInf, hasURI := false, false
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			hasInf = true
		case !strings.HasPrefix(line, "#"):
			hasURI = true
		}
		if hasInf && hasURI {
			return nil
		}
	}
	return ErrNoContent
}

// PlaylistURL builds the synthesized playlist URL for sel below base,
// e.g. "http://localhost:8080".
func PlaylistURL(base string, sel Selection) string {
	q := url.Values{}
	q.Set("satellite", sel.Satellite)
	q.Set("sector", sel.Sector)
	q.Set("product", sel.Product)
	q.Set("resolution", sel.Resolution)
	q.Set("from", sel.From)
	q.Set("to", sel.To)
	return strings.TrimRight(base, "/") + "/api/playlist?" + q.Encode()
}

// Messages shown to the user, one per failure category.
const (
	noContentFormat   = "No video available for the period from %s to %s"
	unavailableFormat = "Unable to load video for the period from %s to %s: %s"
	playbackPrefix    = "Playback error"
)

// NoContentMessage names the range that has no video.
func NoContentMessage(sel Selection) string {
	return fmt.Sprintf(noContentFormat, sel.From, sel.To)
}

// UnavailableMessage names the range whose manifest could not be loaded.
func UnavailableMessage(sel Selection, err error) string {
	return fmt.Sprintf(unavailableFormat, sel.From, sel.To, err)
}

// PlaybackErrorMessage is the generic decoder or engine failure text.
func PlaybackErrorMessage(details string) string {
	if details == "" {
		return playbackPrefix
	}
	return playbackPrefix + ": " + details
}
