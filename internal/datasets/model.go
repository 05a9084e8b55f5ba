// Package datasets exposes the dataset-status read model: which datasets
// are enabled, disabled or merely discovered, and how much has been
// downloaded for each. The files are written by external tooling; this
// package only reads them.
package datasets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// StatusFile lists enabled, disabled and discovered datasets.
	StatusFile = "datasets-status.json"
	// TrackingFile holds per-dataset download counters.
	TrackingFile = "download-tracking.json"
)

// Status is the derived state of one dataset.
type Status string

const (
	StatusAvailable  Status = "available"
	StatusDownloaded Status = "downloaded"
	StatusError      Status = "error"
	StatusDiscovered Status = "discovered"
)

// Dataset is one row of the read model.
type Dataset struct {
	Key            string `json:"key"`
	Satellite      string `json:"satellite"`
	Sector         string `json:"sector"`
	Product        string `json:"product"`
	Resolution     string `json:"resolution"`
	Enabled        bool   `json:"enabled"`
	AutoDownload   bool   `json:"auto_download"`
	LastDownload   string `json:"last_download,omitempty"`
	Status         Status `json:"status"`
	TotalImages    int    `json:"total_images"`
	Description    string `json:"description,omitempty"`
	DiscoveredDate string `json:"discovered_date,omitempty"`
	DisabledReason string `json:"disabled_reason,omitempty"`
}

type datasetConfig struct {
	Satellite      string `json:"satellite"`
	Sector         string `json:"sector"`
	Product        string `json:"product"`
	Resolution     string `json:"resolution"`
	Enabled        bool   `json:"enabled"`
	AutoDownload   bool   `json:"auto_download"`
	Description    string `json:"description"`
	ReEnabledDate  string `json:"re_enabled_date"`
	DisabledReason string `json:"disabled_reason"`
	DiscoveredDate string `json:"discovered_date"`
}

func (c datasetConfig) description() string {
	if c.Description != "" {
		return c.Description
	}
	return strings.Join([]string{c.Satellite, c.Sector, c.Product, c.Resolution}, " ")
}

type statusFile struct {
	Enabled    map[string]datasetConfig `json:"enabled_datasets"`
	Disabled   map[string]datasetConfig `json:"disabled_datasets"`
	Discovered map[string]datasetConfig `json:"discovered_datasets"`
}

type trackingEntry struct {
	TotalImagesDownloaded int           `json:"total_images_downloaded"`
	LastDownload          string        `json:"last_download"`
	DatasetInfo           datasetConfig `json:"dataset_info"`
}

type trackingFile struct {
	Tracking map[string]trackingEntry `json:"tracking"`
}

// Snapshot is an immutable view of both files.
type Snapshot struct {
	Datasets []Dataset
}

// EnabledCount returns the number of enabled datasets.
func (s Snapshot) EnabledCount() int {
	n := 0
	for _, d := range s.Datasets {
		if d.Enabled {
			n++
		}
	}
	return n
}

// DiscoveredCount returns the number of datasets only discovered so far.
func (s Snapshot) DiscoveredCount() int {
	n := 0
	for _, d := range s.Datasets {
		if d.Status == StatusDiscovered {
			n++
		}
	}
	return n
}

// Load reads both files from dir. A missing file counts as empty; a file
// that exists but does not decode is an error.
func Load(dir string) (Snapshot, error) {
	var st statusFile
	if err := readJSON(filepath.Join(dir, StatusFile), &st); err != nil {
		return Snapshot{}, err
	}
	var tr trackingFile
	if err := readJSON(filepath.Join(dir, TrackingFile), &tr); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Datasets: build(st, tr)}, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// build derives the rows: enabled first, then disabled, then discovered,
// each group ordered by key. Without any configured dataset the tracking
// file's own dataset_info is used instead.
func build(st statusFile, tr trackingFile) []Dataset {
	out := make([]Dataset, 0, len(st.Enabled)+len(st.Disabled)+len(st.Discovered))

	for _, key := range sortedKeys(st.Enabled) {
		c := st.Enabled[key]
		t := tr.Tracking[key]
		last := t.LastDownload
		if last == "" {
			last = c.ReEnabledDate
		}
		out = append(out, Dataset{
			Key: key, Satellite: c.Satellite, Sector: c.Sector, Product: c.Product, Resolution: c.Resolution,
			Enabled:      true,
			AutoDownload: c.AutoDownload,
			LastDownload: last,
			Status:       downloadStatus(t),
			TotalImages:  t.TotalImagesDownloaded,
			Description:  c.description(),
		})
	}

	for _, key := range sortedKeys(st.Disabled) {
		c := st.Disabled[key]
		t := tr.Tracking[key]
		status := downloadStatus(t)
		if strings.Contains(c.DisabledReason, "inactive") {
			status = StatusError
		}
		out = append(out, Dataset{
			Key: key, Satellite: c.Satellite, Sector: c.Sector, Product: c.Product, Resolution: c.Resolution,
			AutoDownload:   c.AutoDownload,
			LastDownload:   t.LastDownload,
			Status:         status,
			TotalImages:    t.TotalImagesDownloaded,
			Description:    c.description(),
			DisabledReason: c.DisabledReason,
		})
	}

	for _, key := range sortedKeys(st.Discovered) {
		c := st.Discovered[key]
		out = append(out, Dataset{
			Key: key, Satellite: c.Satellite, Sector: c.Sector, Product: c.Product, Resolution: c.Resolution,
			AutoDownload:   c.AutoDownload,
			Status:         StatusDiscovered,
			Description:    c.description(),
			DiscoveredDate: c.DiscoveredDate,
		})
	}

	if len(out) > 0 {
		return out
	}

	for _, key := range sortedKeys(tr.Tracking) {
		t := tr.Tracking[key]
		c := t.DatasetInfo
		out = append(out, Dataset{
			Key: key, Satellite: c.Satellite, Sector: c.Sector, Product: c.Product, Resolution: c.Resolution,
			Enabled:      c.Enabled,
			AutoDownload: c.AutoDownload,
			LastDownload: t.LastDownload,
			Status:       downloadStatus(t),
			TotalImages:  t.TotalImagesDownloaded,
		})
	}
	return out
}

func downloadStatus(t trackingEntry) Status {
	if t.TotalImagesDownloaded > 0 {
		return StatusDownloaded
	}
	return StatusAvailable
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
