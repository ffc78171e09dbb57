// Package model defines the shared domain types for bugreport ingest and logcat queries.
package model

// Log levels in severity order. Any other letter in the level column is malformed.
const Levels = "VDIWEF"

// ValidLevel reports whether b is one of the canonical logcat level letters.
func ValidLevel(b byte) bool {
	switch b {
	case 'V', 'D', 'I', 'W', 'E', 'F':
		return true
	}
	return false
}

// LogRow is one parsed threadtime logcat line. ByteOffset is the line's offset
// in the logical (decompressed) bugreport stream and serves as the primary key.
type LogRow struct {
	ByteOffset int64  `json:"byteOffset"`
	TsRaw      string `json:"ts"`
	TsEpochMs  *int64 `json:"tsEpochMs,omitempty"`
	Level      string `json:"level"`
	Tag        string `json:"tag"`
	Pid        int32  `json:"pid"`
	Tid        int32  `json:"tid"`
	Msg        string `json:"msg"`
}

// BatteryInfo holds the battery snapshot from the bugreport preamble.
type BatteryInfo struct {
	Level  int32   `json:"level"`
	TempC  float32 `json:"tempC"`
	Status string  `json:"status"`
}

// DeviceInfo is the device identity extracted from the bugreport header preamble.
type DeviceInfo struct {
	Brand          string       `json:"brand"`
	Model          string       `json:"model"`
	AndroidVersion string       `json:"androidVersion"`
	APILevel       int32        `json:"apiLevel"`
	BuildID        string       `json:"buildId"`
	Fingerprint    string       `json:"fingerprint"`
	UptimeMs       int64        `json:"uptimeMs"`
	ReportTime     string       `json:"reportTime"`
	Battery        *BatteryInfo `json:"battery,omitempty"`
}

// ParseSummary is the result of a completed ingest pass.
type ParseSummary struct {
	Device   DeviceInfo `json:"device"`
	Events   int64      `json:"events"`
	ANRs     int64      `json:"anrs"`
	Crashes  int64      `json:"crashes"`
	EFTotal  int64      `json:"efTotal"`
	EFRecent int64      `json:"efRecent"`
}

// Ingest phases reported through ParseProgress.
const (
	PhaseStarting   = "starting"
	PhaseScanning   = "scanning"
	PhaseIndexing   = "indexing"
	PhaseFinalizing = "finalizing"
)

// ParseProgress is emitted periodically during ingest.
type ParseProgress struct {
	Phase         string  `json:"phase"`
	BytesRead     int64   `json:"bytesRead"`
	TotalBytes    int64   `json:"totalBytes"`
	RowsProcessed int64   `json:"rowsProcessed"`
	Percent       float64 `json:"percent"`
}

// Text match modes for LogFilters.
const (
	TextModePlain = "plain"
	TextModeRegex = "regex"
)

// LogFilters selects a subset of rows. Absent fields match everything.
// TsFrom/TsTo are "YYYY-MM-DD HH:MM:SS" in the report's local timezone.
// Tag and plain-mode Text treat "|" as OR over literal alternatives.
type LogFilters struct {
	TsFrom        string   `json:"tsFrom,omitempty"`
	TsTo          string   `json:"tsTo,omitempty"`
	Levels        []string `json:"levels,omitempty"`
	Tag           string   `json:"tag,omitempty"`
	Pid           *int32   `json:"pid,omitempty"`
	Tid           *int32   `json:"tid,omitempty"`
	Text          string   `json:"text,omitempty"`
	NotText       string   `json:"notText,omitempty"`
	TextMode      string   `json:"textMode,omitempty"`
	CaseSensitive bool     `json:"caseSensitive,omitempty"`
}

// IsEmpty reports whether the filter set matches every row.
func (f LogFilters) IsEmpty() bool {
	return f.TsFrom == "" && f.TsTo == "" && len(f.Levels) == 0 &&
		f.Tag == "" && f.Pid == nil && f.Tid == nil &&
		f.Text == "" && f.NotText == ""
}

// Query directions.
const (
	DirectionForward  = "forward"
	DirectionBackward = "backward"
)

// QueryCursor encodes a pagination position. Callers never construct one;
// they echo a cursor from a prior QueryResponse. FilterHash pins the cursor
// to the filter set it was issued under.
type QueryCursor struct {
	Position   uint64 `json:"position"`
	Direction  string `json:"direction"`
	FilterHash uint64 `json:"filterHash"`
}

// QueryResponse is one page of rows plus cursors for paging in both directions.
// Rows are always ordered by ascending ByteOffset regardless of direction.
type QueryResponse struct {
	Rows           []LogRow     `json:"rows"`
	NextCursor     *QueryCursor `json:"nextCursor,omitempty"`
	PrevCursor     *QueryCursor `json:"prevCursor,omitempty"`
	HasMoreNext    bool         `json:"hasMoreNext"`
	HasMorePrev    bool         `json:"hasMorePrev"`
	EstimatedTotal *int64       `json:"estimatedTotal,omitempty"`
	PositionRatio  float64      `json:"positionRatio"`
}

// LevelCounts is the per-level row breakdown.
type LevelCounts struct {
	Verbose int64 `json:"verbose"`
	Debug   int64 `json:"debug"`
	Info    int64 `json:"info"`
	Warning int64 `json:"warning"`
	Error   int64 `json:"error"`
	Fatal   int64 `json:"fatal"`
}

// Add increments the counter for a level letter.
func (c *LevelCounts) Add(level byte) {
	switch level {
	case 'V':
		c.Verbose++
	case 'D':
		c.Debug++
	case 'I':
		c.Info++
	case 'W':
		c.Warning++
	case 'E':
		c.Error++
	case 'F':
		c.Fatal++
	}
}

// Total returns the sum over all levels.
func (c LevelCounts) Total() int64 {
	return c.Verbose + c.Debug + c.Info + c.Warning + c.Error + c.Fatal
}

// LogcatStats summarises the rows matching a filter set.
type LogcatStats struct {
	TotalRows      int64       `json:"totalRows"`
	FilteredRows   *int64      `json:"filteredRows,omitempty"`
	MinTimestampMs *int64      `json:"minTimestampMs,omitempty"`
	MaxTimestampMs *int64      `json:"maxTimestampMs,omitempty"`
	MinTsDisplay   string      `json:"minTsDisplay,omitempty"`
	MaxTsDisplay   string      `json:"maxTsDisplay,omitempty"`
	LevelCounts    LevelCounts `json:"levelCounts"`
}
