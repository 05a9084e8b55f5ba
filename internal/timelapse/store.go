package timelapse

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DayManifestFile is the file name of each per-day micro-manifest.
const DayManifestFile = "playlist.m3u8"

// Store is the read-only source of day manifests.
// Implementations can be filesystem-backed or in-memory.
type Store interface {
	// LoadDay returns the manifest of one identity for one calendar day, or
	// an error wrapping ErrDayNotFound when that day has none.
	LoadDay(ctx context.Context, id DatasetIdentity, day time.Time) (DayManifest, error)

	// ListDays returns the days that have a manifest for id, ascending.
	ListDays(ctx context.Context, id DatasetIdentity) ([]time.Time, error)

	// ListIdentities returns every identity with at least one day directory.
	ListIdentities(ctx context.Context) ([]DatasetIdentity, error)
}

// DirStore reads manifests laid out as <root>/<identity key>/<YYYY-MM-DD>/playlist.m3u8.
type DirStore struct {
	root string
}

// NewDirStore returns a Store rooted at the HLS directory.
func NewDirStore(root string) *DirStore {
	return &DirStore{root: filepath.Clean(root)}
}

// Root returns the HLS root directory.
func (s *DirStore) Root() string {
	return s.root
}

// DayPath returns the manifest path for id on day.
func (s *DirStore) DayPath(id DatasetIdentity, day time.Time) string {
	return filepath.Join(s.root, id.Key(), FormatDate(day), DayManifestFile)
}

// LoadDay implements Store.LoadDay.
func (s *DirStore) LoadDay(ctx context.Context, id DatasetIdentity, day time.Time) (DayManifest, error) {
	if err := ctx.Err(); err != nil {
		return DayManifest{}, err
	}
	data, err := os.ReadFile(s.DayPath(id, day))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DayManifest{}, ErrDayNotFound
		}
		return DayManifest{}, err
	}
	segs, err := ParseDayManifest(bytes.NewReader(data))
	if err != nil {
		return DayManifest{}, err
	}
	return DayManifest{Date: Day(day), Segments: segs, Size: int64(len(data))}, nil
}

// ListDays implements Store.ListDays.
func (s *DirStore) ListDays(ctx context.Context, id DatasetIdentity) ([]time.Time, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, id.Key()))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	days := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		day, err := ParseDate(e.Name())
		if err != nil {
			continue
		}
		if _, err := os.Stat(s.DayPath(id, day)); err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// ListIdentities implements Store.ListIdentities.
func (s *DirStore) ListIdentities(ctx context.Context) ([]DatasetIdentity, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	ids := make([]DatasetIdentity, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || strings.Count(e.Name(), KeyDelimiter) != 3 {
			continue
		}
		id, err := ParseIdentityKey(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })
	return ids, nil
}

// InMemoryStore is a concurrency-safe in-memory Store. It also counts
// LoadDay calls, which tests use to assert caching and validation behavior.
type InMemoryStore struct {
	mu    sync.RWMutex
	days  map[string]map[string]DayManifest
	loads int
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{days: make(map[string]map[string]DayManifest)}
}

// PutDay stores (or replaces) the manifest of id for day.
func (s *InMemoryStore) PutDay(id DatasetIdentity, day time.Time, segs ...DaySegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDay, ok := s.days[id.Key()]
	if !ok {
		byDay = make(map[string]DayManifest)
		s.days[id.Key()] = byDay
	}
	byDay[FormatDate(day)] = DayManifest{Date: Day(day), Segments: append([]DaySegment(nil), segs...)}
}

// Loads returns the number of LoadDay calls so far.
func (s *InMemoryStore) Loads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loads
}

// LoadDay implements Store.LoadDay.
func (s *InMemoryStore) LoadDay(ctx context.Context, id DatasetIdentity, day time.Time) (DayManifest, error) {
	if err := ctx.Err(); err != nil {
		return DayManifest{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++

	m, ok := s.days[id.Key()][FormatDate(day)]
	if !ok {
		return DayManifest{}, ErrDayNotFound
	}
	m.Segments = append([]DaySegment(nil), m.Segments...)
	return m, nil
}

// ListDays implements Store.ListDays.
func (s *InMemoryStore) ListDays(_ context.Context, id DatasetIdentity) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	days := make([]time.Time, 0, len(s.days[id.Key()]))
	for _, m := range s.days[id.Key()] {
		days = append(days, m.Date)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// ListIdentities implements Store.ListIdentities.
func (s *InMemoryStore) ListIdentities(_ context.Context) ([]DatasetIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]DatasetIdentity, 0, len(s.days))
	for key := range s.days {
		id, err := ParseIdentityKey(key)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })
	return ids, nil
}
