package timelapse

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JohannPlaye/earthimagery/internal/platform/cache"
)

// RangeKey identifies one synthesis: an identity and an inclusive day range.
type RangeKey struct {
	Identity DatasetIdentity
	From     time.Time
	To       time.Time
}

// String returns the cache key form "<identity key>:<from>:<to>".
func (k RangeKey) String() string {
	return k.Identity.Key() + ":" + FormatDate(k.From) + ":" + FormatDate(k.To)
}

// Repository returns virtual playlists for validated range keys.
type Repository interface {
	// Playlist synthesizes (or recalls) the playlist for k.
	Playlist(ctx context.Context, k RangeKey) (VirtualPlaylist, error)
}

// SynthesizingRepository reads day manifests from a Store on every call.
type SynthesizingRepository struct {
	store Store
	opts  Options
}

// NewSynthesizingRepository returns a Repository without caching.
func NewSynthesizingRepository(store Store, opts Options) *SynthesizingRepository {
	return &SynthesizingRepository{store: store, opts: opts}
}

// Playlist implements Repository.Playlist.
func (r *SynthesizingRepository) Playlist(ctx context.Context, k RangeKey) (VirtualPlaylist, error) {
	return Synthesize(ctx, r.store, k.Identity, k.From, k.To, r.opts)
}

// CachedRepository is a read-through cache in front of another Repository.
// Entries live for a short ttl so segments trickling into today's manifest
// show up quickly. Concurrent misses on the same key share one recomputation.
type CachedRepository struct {
	next  Repository
	cache cache.Cache
	ttl   time.Duration
	log   *slog.Logger
	group singleflight.Group
	// namespace separates entries rendered with different options.
	namespace string
}

// NewCachedRepository wraps next. A ttl <= 0 disables storing but keeps the
// in-flight guard.
func NewCachedRepository(next Repository, c cache.Cache, ttl time.Duration, namespace string, log *slog.Logger) *CachedRepository {
	if c == nil {
		c = cache.Nop{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &CachedRepository{next: next, cache: c, ttl: ttl, log: log, namespace: namespace}
}

// Stats exposes the underlying cache counters.
func (r *CachedRepository) Stats() cache.Stats {
	return r.cache.Stats()
}

// Playlist implements Repository.Playlist.
func (r *CachedRepository) Playlist(ctx context.Context, k RangeKey) (VirtualPlaylist, error) {
	key := r.cacheKey(k)
	if p, ok := r.lookup(ctx, key); ok {
		return p, nil
	}

	v, err, shared := r.group.Do(key, func() (any, error) {
		// A caller that just finished may have filled the cache.
		if p, ok := r.lookup(ctx, key); ok {
			return p, nil
		}
		p, err := r.next.Playlist(context.WithoutCancel(ctx), k)
		if err != nil {
			return VirtualPlaylist{}, err
		}
		if data, err := json.Marshal(p); err == nil {
			r.cache.Set(ctx, key, data, r.ttl)
		}
		return p, nil
	})
	if err != nil {
		return VirtualPlaylist{}, err
	}
	if shared {
		r.log.Debug("playlist served from shared synthesis", slog.String("key", key))
	}
	return v.(VirtualPlaylist), nil
}

func (r *CachedRepository) cacheKey(k RangeKey) string {
	parts := []string{"playlist"}
	if r.namespace != "" {
		parts = append(parts, r.namespace)
	}
	parts = append(parts, k.String())
	return strings.Join(parts, ":")
}

func (r *CachedRepository) lookup(ctx context.Context, key string) (VirtualPlaylist, bool) {
	data, ok := r.cache.Get(ctx, key)
	if !ok {
		return VirtualPlaylist{}, false
	}
	var p VirtualPlaylist
	if err := json.Unmarshal(data, &p); err != nil {
		r.log.Warn("dropping undecodable cache entry", slog.String("key", key), slog.String("error", err.Error()))
		r.cache.Delete(ctx, key)
		return VirtualPlaylist{}, false
	}
	return p, true
}
