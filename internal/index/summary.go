package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"milktea/internal/model"
)

// SchemaVersion guards the cache artifact formats. A mismatch on open forces
// a full rebuild of the cache directory.
const SchemaVersion = 1

// ErrSchemaMismatch is returned when a cache was written by an incompatible
// version of the artifact formats.
var ErrSchemaMismatch = errors.New("cache schema mismatch")

// Summary is the summary.json artifact: everything the stats endpoint and
// the parse summary need without touching the row store.
type Summary struct {
	SchemaVersion int `json:"schemaVersion"`

	TotalRows      int64             `json:"totalRows"`
	Malformed      int64             `json:"malformed"`
	LevelCounts    model.LevelCounts `json:"levelCounts"`
	MinTimestampMs *int64            `json:"minTimestampMs,omitempty"`
	MaxTimestampMs *int64            `json:"maxTimestampMs,omitempty"`
	MinTsDisplay   string            `json:"minTsDisplay,omitempty"`
	MaxTsDisplay   string            `json:"maxTsDisplay,omitempty"`
	LogBytes       int64             `json:"logBytes"`

	Timezone       string `json:"timezone,omitempty"`
	BestEffortTime bool   `json:"bestEffortTime,omitempty"`

	Device   model.DeviceInfo `json:"device"`
	ANRs     int64            `json:"anrs"`
	Crashes  int64            `json:"crashes"`
	EFTotal  int64            `json:"efTotal"`
	EFRecent int64            `json:"efRecent"`
}

// ParseSummary converts the stored summary into the parse command's result.
func (s *Summary) ParseSummary() model.ParseSummary {
	return model.ParseSummary{
		Device:   s.Device,
		Events:   s.TotalRows,
		ANRs:     s.ANRs,
		Crashes:  s.Crashes,
		EFTotal:  s.EFTotal,
		EFRecent: s.EFRecent,
	}
}

// Stats converts the stored summary into unfiltered logcat stats.
func (s *Summary) Stats() model.LogcatStats {
	return model.LogcatStats{
		TotalRows:      s.TotalRows,
		MinTimestampMs: s.MinTimestampMs,
		MaxTimestampMs: s.MaxTimestampMs,
		MinTsDisplay:   s.MinTsDisplay,
		MaxTsDisplay:   s.MaxTsDisplay,
		LevelCounts:    s.LevelCounts,
	}
}

// WriteFile serialises the summary into dir.
func (s *Summary) WriteFile(dir string) error {
	s.SchemaVersion = SchemaVersion
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, SummaryFile), data, 0o644)
}

// OpenSummary loads and validates the summary from dir.
func OpenSummary(dir string) (*Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	if s.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrSchemaMismatch, s.SchemaVersion, SchemaVersion)
	}
	return &s, nil
}
