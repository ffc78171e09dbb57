package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS reports (
    fingerprint   TEXT PRIMARY KEY,
    source_path   TEXT NOT NULL,
    size_bytes    INTEGER NOT NULL,
    mtime_ns      INTEGER NOT NULL,
    device_json   TEXT,
    events        INTEGER NOT NULL DEFAULT 0,
    anrs          INTEGER NOT NULL DEFAULT 0,
    crashes       INTEGER NOT NULL DEFAULT 0,
    ef_total      INTEGER NOT NULL DEFAULT 0,
    ef_recent     INTEGER NOT NULL DEFAULT 0,
    cache_bytes   INTEGER NOT NULL DEFAULT 0,
    parsed_at     TEXT NOT NULL,
    last_access   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_last_access ON reports(last_access);
`
