package model

import "errors"

// Typed error values surfaced across the ingest and query boundary.
// Per-line parse failures are never errors; they are absorbed into the
// malformed counter.
var (
	// ErrNotFound: the bugreport path does not exist.
	ErrNotFound = errors.New("bugreport not found")

	// ErrUnsupportedArchive: the archive has no bugreport*.txt entry.
	ErrUnsupportedArchive = errors.New("no bugreport entry in archive")

	// ErrCorruptArchive: the archive could not be read.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrCancelled: the caller abandoned the ingest pass.
	ErrCancelled = errors.New("parse cancelled")

	// ErrCacheStale: cache artifacts are corrupt or from an incompatible
	// schema; the caller should re-parse.
	ErrCacheStale = errors.New("cache stale")

	// ErrCursorInvalid: cursor fingerprint mismatch or out-of-range position.
	ErrCursorInvalid = errors.New("cursor invalid")

	// ErrFilterInvalid: the filter set is infeasible (e.g. tsFrom > tsTo).
	ErrFilterInvalid = errors.New("filter invalid")
)
