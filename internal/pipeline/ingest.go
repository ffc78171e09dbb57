// Package pipeline orchestrates the ingest pass and the parse-or-open-cache
// path shared by every command.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"milktea/internal/cache"
	"milktea/internal/config"
	"milktea/internal/index"
	"milktea/internal/model"
	"milktea/internal/query"
	"milktea/internal/source"
	"milktea/internal/store"
)

// Options configures one ingest invocation.
type Options struct {
	// CacheRoot overrides the default cache root.
	CacheRoot string
	// Force rebuilds the cache even when a valid one exists.
	Force bool
	// Progress receives throttled ingest progress events.
	Progress func(model.ParseProgress)
	// Config supplies tuning knobs; zero value means defaults.
	Config config.Config
}

// Result is the outcome of Parse.
type Result struct {
	Summary     model.ParseSummary
	Fingerprint string
	CacheDir    string
	// Reused is true when a valid cache was found and no parsing happened.
	Reused bool
}

func (o Options) root() (string, error) {
	if o.CacheRoot != "" {
		return o.CacheRoot, nil
	}
	if o.Config.Cache.Dir != "" {
		return o.Config.Cache.Dir, nil
	}
	return cache.DefaultRoot()
}

// Parse ingests a bugreport, committing the cache atomically, or reuses a
// valid existing cache for the same report identity.
func Parse(ctx context.Context, path string, opts Options) (*Result, error) {
	root, err := opts.root()
	if err != nil {
		return nil, err
	}

	fpr, err := cache.Fingerprint(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, path)
		}
		return nil, err
	}

	reg := openRegistry(root)
	if reg != nil {
		defer reg.Close()
	}

	if !opts.Force && cache.Exists(root, fpr) {
		if sum, err := index.OpenSummary(cache.Dir(root, fpr)); err == nil {
			if reg != nil {
				_ = reg.Touch(fpr)
			}
			return &Result{
				Summary:     sum.ParseSummary(),
				Fingerprint: fpr,
				CacheDir:    cache.Dir(root, fpr),
				Reused:      true,
			}, nil
		}
		// Unreadable or schema-mismatched cache: rebuild from scratch.
		_ = cache.Remove(root, fpr)
	}

	emit(opts.Progress, model.PhaseStarting, 0, 0, 0)

	r, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	emit(opts.Progress, model.PhaseScanning, 0, r.TotalBytes(), 0)
	sample, err := r.Preamble()
	if err != nil {
		return nil, fmt.Errorf("scanning preamble: %w", err)
	}
	pre := source.ScanPreamble(sample)

	tmp, err := cache.NewTemp(root)
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	sum, err := index.Build(ctx, r, pre, tmp, index.Options{
		RecentWindow:      time.Duration(cfg.Index.RecentWindowMinutes) * time.Minute,
		PostingsThreshold: cfg.Index.PostingsThreshold,
		PostingsSampleN:   cfg.Index.PostingsSampleN,
		Progress:          opts.Progress,
	})
	if err != nil {
		cache.Discard(tmp)
		return nil, err
	}

	if err := cache.Commit(root, tmp, fpr); err != nil {
		cache.Discard(tmp)
		return nil, err
	}
	dir := cache.Dir(root, fpr)

	if reg != nil {
		info, statErr := os.Stat(path)
		rep := store.Report{
			Fingerprint: fpr,
			SourcePath:  path,
			Device:      sum.Device,
			Events:      sum.TotalRows,
			ANRs:        sum.ANRs,
			Crashes:     sum.Crashes,
			EFTotal:     sum.EFTotal,
			EFRecent:    sum.EFRecent,
			CacheBytes:  cache.DirSize(dir),
		}
		if statErr == nil {
			rep.SizeBytes = info.Size()
			rep.MtimeNs = info.ModTime().UnixNano()
		}
		_ = reg.Save(rep)
	}

	evict(root, fpr, cfg, reg)

	return &Result{
		Summary:     sum.ParseSummary(),
		Fingerprint: fpr,
		CacheDir:    dir,
		Reused:      false,
	}, nil
}

// OpenExecutor returns a query executor for a report, parsing it first when
// no valid cache exists. A stale cache triggers exactly one re-parse.
func OpenExecutor(ctx context.Context, path string, opts Options) (*query.Executor, *Result, error) {
	res, err := Parse(ctx, path, opts)
	if err != nil {
		return nil, nil, err
	}

	exec, err := query.Open(res.CacheDir)
	if errors.Is(err, model.ErrCacheStale) {
		opts.Force = true
		res, err = Parse(ctx, path, opts)
		if err != nil {
			return nil, nil, err
		}
		exec, err = query.Open(res.CacheDir)
	}
	if err != nil {
		return nil, nil, err
	}
	return exec, res, nil
}

// Clean removes cache directories. With fingerprint empty it clears the
// whole root.
func Clean(root, fingerprint string) error {
	if root == "" {
		r, err := cache.DefaultRoot()
		if err != nil {
			return err
		}
		root = r
	}
	if fingerprint != "" {
		reg := openRegistry(root)
		if reg != nil {
			defer reg.Close()
			_ = reg.Delete(fingerprint)
		}
		return cache.Remove(root, fingerprint)
	}
	return os.RemoveAll(root)
}

func openRegistry(root string) *store.Registry {
	reg, err := store.Open(filepath.Join(root, store.RegistryFile))
	if err != nil {
		// The registry is an accelerator; ingest works without it.
		return nil
	}
	return reg
}

func evict(root, keep string, cfg config.Config, reg *store.Registry) {
	ceiling := cfg.Cache.CeilingMB
	if ceiling <= 0 {
		ceiling = config.DefaultConfig().Cache.CeilingMB
	}
	var lastAccess func(string) time.Time
	if reg != nil {
		lastAccess = reg.LastAccess
	}
	evicted, err := cache.Evict(root, ceiling<<20, lastAccess, keep)
	if err != nil || reg == nil {
		return
	}
	for _, fpr := range evicted {
		_ = reg.Delete(fpr)
	}
}

func emit(fn func(model.ParseProgress), phase string, bytesRead, total, rows int64) {
	if fn == nil {
		return
	}
	pct := 0.0
	if total > 0 {
		pct = float64(bytesRead) / float64(total) * 100
	}
	fn(model.ParseProgress{Phase: phase, BytesRead: bytesRead, TotalBytes: total, RowsProcessed: rows, Percent: pct})
}
