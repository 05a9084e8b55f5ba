package timelapse

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JohannPlaye/earthimagery/internal/platform/metrics"
)

const gatewayCacheControl = "public, max-age=300"

var gatewayContentTypes = map[string]string{
	".m3u8": playlistContentType,
	".ts":   "video/mp2t",
	".m4s":  "video/mp4",
	".mp4":  "video/mp4",
}

// Gateway serves segment and manifest files from below the HLS root. Any
// path resolving outside the root (via "..", absolute parts or symlinks) is
// refused with 403.
type Gateway struct {
	root    string
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewGateway returns a Gateway rooted at root. Metrics may be nil.
func NewGateway(root string, log *slog.Logger, m *metrics.Metrics) *Gateway {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	return &Gateway{root: abs, log: log, metrics: m}
}

// ServeHTTP handles GET, HEAD and OPTIONS on <prefix>/*.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodGet, http.MethodHead:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rel, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	path, ok := g.resolve(rel)
	if !ok {
		g.log.Warn("gateway path escapes root", slog.String("path", rel))
		if g.metrics != nil {
			g.metrics.IncGatewayDenied()
		}
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		g.log.Error("gateway open failed", slog.String("path", rel), slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	h := w.Header()
	h.Set("Content-Type", contentTypeFor(path))
	h.Set("Cache-Control", gatewayCacheControl)
	h.Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)

	if g.metrics != nil && r.Method == http.MethodGet && filepath.Ext(path) != ".m3u8" {
		g.metrics.IncSegmentsServed()
	}
}

// resolve maps a request-relative path to a file below the root. It reports
// false when the lexical or symlink-resolved target leaves the root.
func (g *Gateway) resolve(rel string) (string, bool) {
	if strings.ContainsRune(rel, 0) {
		return "", false
	}
	joined := filepath.Join(g.root, filepath.FromSlash(rel))
	if !within(g.root, joined) {
		return "", false
	}

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// Missing files are reported as 404 by the caller.
		return joined, true
	}
	rootResolved, err := filepath.EvalSymlinks(g.root)
	if err != nil {
		rootResolved = g.root
	}
	if !within(rootResolved, resolved) {
		return "", false
	}
	return resolved, true
}

func within(root, path string) bool {
	r, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)) && !filepath.IsAbs(r)
}

func contentTypeFor(path string) string {
	if ct, ok := gatewayContentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range")
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
}
