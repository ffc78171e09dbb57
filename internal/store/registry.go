// Package store provides the SQLite-backed registry of parsed reports. The
// registry lets the viewer list previously parsed bugreports without
// re-reading them and supplies the last-access order for LRU cache eviction.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver

	"milktea/internal/model"
)

// RegistryFile is the database file name under the cache root.
const RegistryFile = "reports.db"

// Registry tracks parsed reports.
type Registry struct {
	db *sql.DB
}

// Report is one registry row.
type Report struct {
	Fingerprint string
	SourcePath  string
	SizeBytes   int64
	MtimeNs     int64
	Device      model.DeviceInfo
	Events      int64
	ANRs        int64
	Crashes     int64
	EFTotal     int64
	EFRecent    int64
	CacheBytes  int64
	ParsedAt    time.Time
	LastAccess  time.Time
}

// Open opens or creates the registry database at the given path.
func Open(dbPath string) (*Registry, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating registry dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)")
	if err != nil {
		return nil, fmt.Errorf("opening registry db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close closes the registry database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Save upserts a report record, stamping parsed_at and last_access.
func (r *Registry) Save(rep Report) error {
	deviceJSON, err := json.Marshal(rep.Device)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.db.Exec(`INSERT OR REPLACE INTO reports
		(fingerprint, source_path, size_bytes, mtime_ns, device_json,
		 events, anrs, crashes, ef_total, ef_recent, cache_bytes,
		 parsed_at, last_access)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.Fingerprint, rep.SourcePath, rep.SizeBytes, rep.MtimeNs, string(deviceJSON),
		rep.Events, rep.ANRs, rep.Crashes, rep.EFTotal, rep.EFRecent, rep.CacheBytes,
		now, now,
	)
	return err
}

// Touch refreshes a report's last_access time.
func (r *Registry) Touch(fingerprint string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.Exec("UPDATE reports SET last_access = ? WHERE fingerprint = ?", now, fingerprint)
	return err
}

// LastAccess returns a report's last access time, zero when unknown.
func (r *Registry) LastAccess(fingerprint string) time.Time {
	var s string
	err := r.db.QueryRow("SELECT last_access FROM reports WHERE fingerprint = ?", fingerprint).Scan(&s)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// List returns all reports, most recently accessed first.
func (r *Registry) List() ([]Report, error) {
	rows, err := r.db.Query(`SELECT fingerprint, source_path, size_bytes, mtime_ns,
		device_json, events, anrs, crashes, ef_total, ef_recent, cache_bytes,
		parsed_at, last_access
		FROM reports ORDER BY last_access DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Report
	for rows.Next() {
		var rep Report
		var deviceJSON, parsedAt, lastAccess string
		if err := rows.Scan(&rep.Fingerprint, &rep.SourcePath, &rep.SizeBytes, &rep.MtimeNs,
			&deviceJSON, &rep.Events, &rep.ANRs, &rep.Crashes, &rep.EFTotal, &rep.EFRecent,
			&rep.CacheBytes, &parsedAt, &lastAccess); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(deviceJSON), &rep.Device)
		rep.ParsedAt, _ = time.Parse(time.RFC3339, parsedAt)
		rep.LastAccess, _ = time.Parse(time.RFC3339, lastAccess)
		out = append(out, rep)
	}
	return out, rows.Err()
}

// Delete removes a report record.
func (r *Registry) Delete(fingerprint string) error {
	_, err := r.db.Exec("DELETE FROM reports WHERE fingerprint = ?", fingerprint)
	return err
}

// Prune drops records whose fingerprints are not in the keep set. Cache
// eviction does not call it; it removes each evicted record with Delete.
func (r *Registry) Prune(keep map[string]bool) error {
	reports, err := r.List()
	if err != nil {
		return err
	}
	for _, rep := range reports {
		if !keep[rep.Fingerprint] {
			if err := r.Delete(rep.Fingerprint); err != nil {
				return err
			}
		}
	}
	return nil
}
