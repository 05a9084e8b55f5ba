package timelapse

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultMaxRangeDays bounds the span of one request.
	DefaultMaxRangeDays = 365
	// DefaultNominalSegmentSeconds is the per-segment duration assumed by range previews.
	DefaultNominalSegmentSeconds = 10
)

// ServiceConfig holds request-validation bounds and rendering settings.
type ServiceConfig struct {
	MaxRangeDays          int
	NominalSegmentSeconds int
	GatewayPrefix         string
}

// Service validates requests and delegates synthesis to a Repository.
type Service struct {
	repo  Repository
	store Store
	cfg   ServiceConfig
}

// NewService returns a Service. Zero config fields take their defaults.
func NewService(repo Repository, store Store, cfg ServiceConfig) *Service {
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = DefaultMaxRangeDays
	}
	if cfg.NominalSegmentSeconds <= 0 {
		cfg.NominalSegmentSeconds = DefaultNominalSegmentSeconds
	}
	if cfg.GatewayPrefix == "" {
		cfg.GatewayPrefix = DefaultGatewayPrefix
	}
	return &Service{repo: repo, store: store, cfg: cfg}
}

// ParseRangeKey validates playlist query parameters: the four identity
// fields, from and to as YYYY-MM-DD, from <= to, and the span limit.
// Nothing is read from storage.
func (s *Service) ParseRangeKey(q url.Values) (RangeKey, error) {
	names := []string{"from", "to", "satellite", "sector", "product", "resolution"}
	for _, n := range names {
		if strings.TrimSpace(q.Get(n)) == "" {
			return RangeKey{}, fmt.Errorf("%w: parameters %s are required", ErrInvalidRequest, strings.Join(quoteAll(names), ", "))
		}
	}
	id := DatasetIdentity{
		Source:     q.Get("satellite"),
		Sector:     q.Get("sector"),
		Product:    q.Get("product"),
		Resolution: q.Get("resolution"),
	}
	if err := id.Validate(); err != nil {
		return RangeKey{}, err
	}
	from, to, err := s.parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		return RangeKey{}, err
	}
	return RangeKey{Identity: id, From: from, To: to}, nil
}

func (s *Service) parseRange(fromStr, toStr string) (time.Time, time.Time, error) {
	from, err := ParseDate(fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := ParseDate(toStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start date must not be after end date", ErrInvalidRequest)
	}
	if DaysBetween(from, to) > s.cfg.MaxRangeDays {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date range too large, maximum %d days", ErrInvalidRequest, s.cfg.MaxRangeDays)
	}
	return from, to, nil
}

// Playlist returns the rendered playlist for k, or ErrNoContent when the
// range holds no segment.
func (s *Service) Playlist(ctx context.Context, k RangeKey) (m3u8 string, segments int, err error) {
	p, err := s.repo.Playlist(ctx, k)
	if err != nil {
		return "", 0, err
	}
	if p.SegmentCount() == 0 {
		return "", 0, ErrNoContent
	}
	return BuildVODPlaylist(p), p.SegmentCount(), nil
}

// RangeInfoRequest is the body of the range preview endpoint. Identity
// fields are optional; without them every stored identity is counted.
type RangeInfoRequest struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Satellite  string `json:"satellite,omitempty"`
	Sector     string `json:"sector,omitempty"`
	Product    string `json:"product,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// RangeInfo validates req and summarizes the range.
func (s *Service) RangeInfo(ctx context.Context, req RangeInfoRequest) (RangeInfo, error) {
	if req.From == "" || req.To == "" {
		return RangeInfo{}, fmt.Errorf("%w: parameters \"from\" and \"to\" are required", ErrInvalidRequest)
	}
	from, to, err := s.parseRange(req.From, req.To)
	if err != nil {
		return RangeInfo{}, err
	}
	id := DatasetIdentity{Source: req.Satellite, Sector: req.Sector, Product: req.Product, Resolution: req.Resolution}
	if !id.IsZero() {
		if err := id.Validate(); err != nil {
			return RangeInfo{}, err
		}
	}
	return ComputeRangeInfo(ctx, s.store, id, from, to, s.cfg.NominalSegmentSeconds)
}

// DayListings lists stored day manifests, newest first. A zero id lists
// every identity.
func (s *Service) DayListings(ctx context.Context, id DatasetIdentity) ([]DayListing, error) {
	ids := []DatasetIdentity{id}
	if id.IsZero() {
		all, err := s.store.ListIdentities(ctx)
		if err != nil {
			return nil, err
		}
		ids = all
	} else if err := id.Validate(); err != nil {
		return nil, err
	}

	out := make([]DayListing, 0)
	for _, each := range ids {
		days, err := s.store.ListDays(ctx, each)
		if err != nil {
			return nil, err
		}
		for _, day := range days {
			m, err := s.store.LoadDay(ctx, each, day)
			if err != nil {
				continue
			}
			var total float64
			for _, seg := range m.Segments {
				total += seg.Duration
			}
			out = append(out, DayListing{
				Satellite:   each.Source,
				Sector:      each.Sector,
				Product:     each.Product,
				Resolution:  each.Resolution,
				Date:        FormatDate(day),
				PlaylistURL: SegmentRef(s.cfg.GatewayPrefix, each, day, DayManifestFile),
				Segments:    len(m.Segments),
				Duration:    int(math.Round(total)),
				FileSize:    m.Size,
			})
		}
	}
	sortListingsNewestFirst(out)
	return out, nil
}

func quoteAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = `"` + s + `"`
	}
	return out
}

func sortListingsNewestFirst(ls []DayListing) {
	sort.SliceStable(ls, func(i, j int) bool {
		if ls[i].Date != ls[j].Date {
			return ls[i].Date > ls[j].Date
		}
		return ls[i].Satellite+ls[i].Sector+ls[i].Product+ls[i].Resolution <
			ls[j].Satellite+ls[j].Sector+ls[j].Product+ls[j].Resolution
	})
}
