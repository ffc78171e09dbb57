package index

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"milktea/internal/model"
	"milktea/internal/parser"
	"milktea/internal/source"
)

// cancelCheckInterval is how many lines pass between context checks.
const cancelCheckInterval = 8192

// Options tunes a single ingest pass.
type Options struct {
	RecentWindow      time.Duration
	PostingsThreshold int64
	PostingsSampleN   int
	Progress          func(model.ParseProgress)
}

func (o Options) withDefaults() Options {
	if o.RecentWindow <= 0 {
		o.RecentWindow = 5 * time.Minute
	}
	if o.PostingsThreshold <= 0 {
		o.PostingsThreshold = 1 << 20
	}
	if o.PostingsSampleN <= 1 {
		o.PostingsSampleN = 64
	}
	return o
}

// Build runs the single ingest pass: it drains the reader through the line
// parser and writes all four cache artifacts into dir. The directory is
// expected to be a fresh temp dir; the caller commits it atomically.
func Build(ctx context.Context, r *source.Reader, pre source.Preamble, dir string, opts Options) (*Summary, error) {
	opts = opts.withDefaults()

	anchor := parser.NewAnchor(pre.Timezone, pre.ReportDate, time.Now())
	lp := parser.New(anchor)

	rows, err := NewRowsWriter(dir)
	if err != nil {
		return nil, fmt.Errorf("creating rows store: %w", err)
	}
	b := &builder{
		rows:    rows,
		tidx:    NewTimeIndexWriter(),
		tags:    NewPostingsWriter(opts.PostingsThreshold, opts.PostingsSampleN),
		pids:    NewPostingsWriter(opts.PostingsThreshold, opts.PostingsSampleN),
		efSecs:  make(map[int64]int64),
		summary: Summary{Device: pre.Device, Timezone: pre.Timezone, BestEffortTime: anchor.BestEffort},
	}

	progress := newProgressThrottle(opts.Progress, r.TotalBytes())
	lines := 0
	for {
		line, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			rows.Abort()
			return nil, fmt.Errorf("reading bugreport: %w", err)
		}

		lines++
		if lines%cancelCheckInterval == 0 {
			select {
			case <-ctx.Done():
				rows.Abort()
				return nil, model.ErrCancelled
			default:
			}
			progress.emit(model.PhaseIndexing, r.Pos(), b.summary.TotalRows)
		}

		b.summary.LogBytes += int64(len(line.Text)) + 1
		if row, section, ok := lp.Feed(line.Offset, line.Section, line.Text); ok {
			if err := b.index(row, section); err != nil {
				rows.Abort()
				return nil, err
			}
		}
	}
	if row, section, ok := lp.Flush(); ok {
		if err := b.index(row, section); err != nil {
			rows.Abort()
			return nil, err
		}
	}

	progress.force(model.PhaseFinalizing, r.Pos(), b.summary.TotalRows)

	b.summary.Malformed = lp.Malformed
	b.finishEF(opts.RecentWindow)

	if err := rows.Finalize(); err != nil {
		return nil, fmt.Errorf("finalizing rows store: %w", err)
	}
	if err := b.tidx.WriteFile(dir); err != nil {
		return nil, fmt.Errorf("writing time index: %w", err)
	}
	if err := b.tags.WriteFile(dir, TagIndexFile); err != nil {
		return nil, fmt.Errorf("writing tag index: %w", err)
	}
	if err := b.pids.WriteFile(dir, PidIndexFile); err != nil {
		return nil, fmt.Errorf("writing pid index: %w", err)
	}
	if err := b.summary.WriteFile(dir); err != nil {
		return nil, fmt.Errorf("writing summary: %w", err)
	}
	return &b.summary, nil
}

type builder struct {
	rows *RowsWriter
	tidx *TimeIndexWriter
	tags *PostingsWriter
	pids *PostingsWriter

	// Per-second E/F counts, folded into efRecent once the range is known.
	efSecs map[int64]int64

	summary Summary
}

func (b *builder) index(row *model.LogRow, section int) error {
	ord, err := b.rows.Append(row, section)
	if err != nil {
		return fmt.Errorf("appending row: %w", err)
	}

	level := row.Level[0]
	s := &b.summary
	s.TotalRows++
	s.LevelCounts.Add(level)

	if row.TsEpochMs != nil {
		ts := *row.TsEpochMs
		if s.MinTimestampMs == nil || ts < *s.MinTimestampMs {
			v := ts
			s.MinTimestampMs = &v
			s.MinTsDisplay = row.TsRaw
		}
		if s.MaxTimestampMs == nil || ts > *s.MaxTimestampMs {
			v := ts
			s.MaxTimestampMs = &v
			s.MaxTsDisplay = row.TsRaw
		}
		b.tidx.Observe(ts, ord)
	}

	b.tags.Add(row.Tag, ord)
	b.pids.Add(PidKey(row.Pid), ord)

	if row.Tag == "ActivityManager" && strings.HasPrefix(row.Msg, "ANR in ") {
		s.ANRs++
	}
	if level == 'F' || (row.Tag == "AndroidRuntime" && strings.HasPrefix(row.Msg, "FATAL EXCEPTION")) {
		s.Crashes++
	}
	if level == 'E' || level == 'F' {
		s.EFTotal++
		if row.TsEpochMs != nil {
			b.efSecs[*row.TsEpochMs/1000]++
		}
	}
	return nil
}

// finishEF computes efRecent: E/F rows in the trailing window of the
// timestamp range, at one-second granularity.
func (b *builder) finishEF(window time.Duration) {
	if b.summary.MaxTimestampMs == nil {
		return
	}
	cut := (*b.summary.MaxTimestampMs - window.Milliseconds()) / 1000
	for sec, n := range b.efSecs {
		if sec >= cut {
			b.summary.EFRecent += n
		}
	}
}

// progressThrottle rate-limits progress emission to every 250 ms or 1% of
// logical bytes, whichever comes first.
type progressThrottle struct {
	fn         func(model.ParseProgress)
	total      int64
	step       int64
	lastAt     time.Time
	lastBytes  int64
}

func newProgressThrottle(fn func(model.ParseProgress), total int64) *progressThrottle {
	return &progressThrottle{fn: fn, total: total, step: total / 100}
}

func (p *progressThrottle) emit(phase string, bytesRead, rowCount int64) {
	if p.fn == nil {
		return
	}
	now := time.Now()
	if now.Sub(p.lastAt) < 250*time.Millisecond && bytesRead-p.lastBytes < p.step {
		return
	}
	p.lastAt = now
	p.lastBytes = bytesRead
	p.send(phase, bytesRead, rowCount)
}

func (p *progressThrottle) force(phase string, bytesRead, rowCount int64) {
	if p.fn == nil {
		return
	}
	p.lastAt = time.Now()
	p.lastBytes = bytesRead
	p.send(phase, bytesRead, rowCount)
}

func (p *progressThrottle) send(phase string, bytesRead, rowCount int64) {
	pct := 0.0
	if p.total > 0 {
		pct = float64(bytesRead) / float64(p.total) * 100
	}
	p.fn(model.ParseProgress{
		Phase:         phase,
		BytesRead:     bytesRead,
		TotalBytes:    p.total,
		RowsProcessed: rowCount,
		Percent:       pct,
	})
}
