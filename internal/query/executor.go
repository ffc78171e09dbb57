package query

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"

	"milktea/internal/index"
	"milktea/internal/model"
)

// DefaultLimit bounds a page when the caller passes no limit.
const DefaultLimit = 100

// Executor serves read-only requests against one committed cache directory.
// It holds no locks across reads; concurrent queries are safe.
type Executor struct {
	dir  string
	rows *index.RowsReader
	sum  *index.Summary
	loc  *time.Location

	mu   sync.Mutex
	tidx *index.TimeIndex
	tags *index.Postings
	pids *index.Postings
}

// Open validates a cache directory and prepares an executor. Corrupt
// artifacts delete the cache and surface ErrCacheStale so the host can
// re-parse.
func Open(dir string) (*Executor, error) {
	sum, err := index.OpenSummary(dir)
	if err != nil {
		return nil, staleAndPurge(dir, err)
	}
	rows, err := index.OpenRows(dir)
	if err != nil {
		return nil, staleAndPurge(dir, err)
	}

	loc := time.UTC
	if sum.Timezone != "" {
		if l, err := time.LoadLocation(sum.Timezone); err == nil {
			loc = l
		}
	}
	return &Executor{dir: dir, rows: rows, sum: sum, loc: loc}, nil
}

// Close releases the row store handle.
func (e *Executor) Close() error { return e.rows.Close() }

// Summary returns the cache's stored summary.
func (e *Executor) Summary() *index.Summary { return e.sum }

// Location returns the report's timezone.
func (e *Executor) Location() *time.Location { return e.loc }

func staleAndPurge(dir string, err error) error {
	_ = os.RemoveAll(dir)
	return fmt.Errorf("%w: %v", model.ErrCacheStale, err)
}

func (e *Executor) stale(err error) error {
	_ = e.rows.Close()
	return staleAndPurge(e.dir, err)
}

// timeIndex lazily loads time_index.bin.
func (e *Executor) timeIndex() (*index.TimeIndex, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tidx == nil {
		ti, err := index.OpenTimeIndex(e.dir)
		if err != nil {
			return nil, e.stale(err)
		}
		e.tidx = ti
	}
	return e.tidx, nil
}

func (e *Executor) tagPostings() (*index.Postings, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tags == nil {
		p, err := index.OpenPostings(e.dir, index.TagIndexFile)
		if err != nil {
			return nil, e.stale(err)
		}
		e.tags = p
	}
	return e.tags, nil
}

func (e *Executor) pidPostings() (*index.Postings, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pids == nil {
		p, err := index.OpenPostings(e.dir, index.PidIndexFile)
		if err != nil {
			return nil, e.stale(err)
		}
		e.pids = p
	}
	return e.pids, nil
}

// plan is the pruned search space for one request: ordinal bounds from the
// time index plus an optional exact candidate bitmap from the postings.
type plan struct {
	empty  bool
	lo, hi uint64
	// bm holds the candidates proven by exact postings; nil means every
	// ordinal in [lo, hi] is a candidate (sequential scan).
	bm        *roaring.Bitmap
	estimated *int64
}

func (e *Executor) buildPlan(pred *predicate, f model.LogFilters) (plan, error) {
	count := e.rows.Count()
	if count == 0 {
		return plan{empty: true}, nil
	}
	pl := plan{lo: 0, hi: count - 1}

	if pred.tsFromMs != nil || pred.tsToMs != nil {
		ti, err := e.timeIndex()
		if err != nil {
			return pl, err
		}
		if pred.tsFromMs != nil {
			lo, ok := ti.LowerBound(*pred.tsFromMs)
			if !ok {
				return plan{empty: true}, nil
			}
			if lo > pl.lo {
				pl.lo = lo
			}
		}
		if pred.tsToMs != nil {
			hi, ok := ti.UpperBound(*pred.tsToMs, count-1)
			if !ok {
				return plan{empty: true}, nil
			}
			if hi < pl.hi {
				pl.hi = hi
			}
		}
		if pl.lo > pl.hi {
			return plan{empty: true}, nil
		}
	}

	allExact := true
	if pred.usesTags() {
		tp, err := e.tagPostings()
		if err != nil {
			return pl, err
		}
		if tp.Exact() {
			pl.bm = tp.Union(pred.tagAlternatives())
		} else {
			allExact = false
		}
	}
	if pred.usesPid() {
		pp, err := e.pidPostings()
		if err != nil {
			return pl, err
		}
		if pp.Exact() {
			pbm := pp.Get(index.PidKey(*pred.pid))
			if pbm == nil {
				pbm = roaring.New()
			}
			if pl.bm != nil {
				pl.bm.And(pbm)
			} else {
				pl.bm = pbm.Clone()
			}
		} else {
			allExact = false
		}
	}

	if pl.bm != nil {
		pl.bm.RemoveRange(0, pl.lo)
		pl.bm.RemoveRange(pl.hi+1, uint64(1)<<32)
		// The bitmap is an intersection of exact constraints only; if it is
		// empty no row can satisfy them, sampled or not.
		if pl.bm.IsEmpty() {
			return plan{empty: true}, nil
		}
	}

	if f.IsEmpty() {
		total := e.sum.TotalRows
		pl.estimated = &total
	} else if pl.bm != nil && allExact && pred.metaOnly() {
		n := int64(pl.bm.GetCardinality())
		pl.estimated = &n
	}
	return pl, nil
}

// ordIter yields candidate ordinals in one direction.
type ordIter func() (uint64, bool)

// forwardIter yields candidates in [max(lo, from), hi] ascending.
func (pl plan) forwardIter(from uint64) ordIter {
	if from < pl.lo {
		from = pl.lo
	}
	if pl.bm != nil {
		it := pl.bm.Iterator()
		if from <= uint64(^uint32(0)) {
			it.AdvanceIfNeeded(uint32(from))
		}
		return func() (uint64, bool) {
			if !it.HasNext() {
				return 0, false
			}
			v := uint64(it.Next())
			if v > pl.hi {
				return 0, false
			}
			return v, true
		}
	}
	next := from
	return func() (uint64, bool) {
		if next > pl.hi {
			return 0, false
		}
		v := next
		next++
		return v, true
	}
}

// backwardIter yields candidates in [lo, min(hi, from)] descending.
func (pl plan) backwardIter(from uint64) ordIter {
	if from > pl.hi {
		from = pl.hi
	}
	if pl.bm != nil {
		it := pl.bm.ReverseIterator()
		return func() (uint64, bool) {
			for it.HasNext() {
				v := uint64(it.Next())
				if v > from {
					continue
				}
				if v < pl.lo {
					return 0, false
				}
				return v, true
			}
			return 0, false
		}
	}
	next := from
	done := false
	return func() (uint64, bool) {
		if done || next < pl.lo {
			return 0, false
		}
		v := next
		if next == pl.lo {
			done = true
		} else {
			next--
		}
		return v, true
	}
}

type match struct {
	ord uint64
	row model.LogRow
}

// collect gathers up to limit matching rows from the iterator, plus one
// extra probe match to answer the has-more question.
func (e *Executor) collect(pred *predicate, it ordIter, limit int) ([]match, bool, error) {
	var out []match
	for {
		ord, ok := it()
		if !ok {
			return out, false, nil
		}
		m, err := e.rows.Meta(ord)
		if err != nil {
			return nil, false, e.stale(err)
		}
		if !pred.matchMeta(m) {
			continue
		}
		row, err := e.rows.Row(ord)
		if err != nil {
			return nil, false, e.stale(err)
		}
		if pred.needsMsg() && !pred.matchMsg(row.Msg) {
			continue
		}
		if len(out) == limit {
			return out, true, nil
		}
		out = append(out, match{ord: ord, row: row})
	}
}

// exists reports whether the iterator yields any matching row.
func (e *Executor) exists(pred *predicate, it ordIter) (bool, error) {
	for {
		ord, ok := it()
		if !ok {
			return false, nil
		}
		m, err := e.rows.Meta(ord)
		if err != nil {
			return false, e.stale(err)
		}
		if !pred.matchMeta(m) {
			continue
		}
		if pred.needsMsg() {
			row, err := e.rows.Row(ord)
			if err != nil {
				return false, e.stale(err)
			}
			if !pred.matchMsg(row.Msg) {
				continue
			}
		}
		return true, nil
	}
}

// Stats answers the stats request. Unfiltered stats come straight from the
// summary; filtered stats scan the candidate set without materialising
// messages unless a text condition requires them.
func (e *Executor) Stats(f model.LogFilters) (model.LogcatStats, error) {
	if f.IsEmpty() {
		return e.sum.Stats(), nil
	}

	pred, err := compile(f, e.loc)
	if err != nil {
		return model.LogcatStats{}, err
	}
	pl, err := e.buildPlan(pred, f)
	if err != nil {
		return model.LogcatStats{}, err
	}

	stats := model.LogcatStats{TotalRows: e.sum.TotalRows}
	var filtered int64
	stats.FilteredRows = &filtered
	if pl.empty {
		return stats, nil
	}

	var minOrd, maxOrd uint64
	it := pl.forwardIter(pl.lo)
	for {
		ord, ok := it()
		if !ok {
			break
		}
		m, err := e.rows.Meta(ord)
		if err != nil {
			return model.LogcatStats{}, e.stale(err)
		}
		if !pred.matchMeta(m) {
			continue
		}
		if pred.needsMsg() {
			row, err := e.rows.Row(ord)
			if err != nil {
				return model.LogcatStats{}, e.stale(err)
			}
			if !pred.matchMsg(row.Msg) {
				continue
			}
		}

		filtered++
		stats.LevelCounts.Add(m.Level)
		if m.HasTs() {
			ts := m.TsEpochMs
			if stats.MinTimestampMs == nil || ts < *stats.MinTimestampMs {
				v := ts
				stats.MinTimestampMs = &v
				minOrd = ord
			}
			if stats.MaxTimestampMs == nil || ts > *stats.MaxTimestampMs {
				v := ts
				stats.MaxTimestampMs = &v
				maxOrd = ord
			}
		}
	}

	if stats.MinTimestampMs != nil {
		if row, err := e.rows.Row(minOrd); err == nil {
			stats.MinTsDisplay = row.TsRaw
		}
		if row, err := e.rows.Row(maxOrd); err == nil {
			stats.MaxTsDisplay = row.TsRaw
		}
	}
	return stats, nil
}

// Query answers one page request. Rows come back in ascending byteOffset
// order regardless of travel direction.
func (e *Executor) Query(f model.LogFilters, cursor *model.QueryCursor, limit int, direction string) (model.QueryResponse, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	hash := FilterHash(f)

	pred, err := compile(f, e.loc)
	if err != nil {
		return model.QueryResponse{}, err
	}
	if cursor != nil {
		if cursor.FilterHash != hash {
			return model.QueryResponse{}, fmt.Errorf("%w: filter changed", model.ErrCursorInvalid)
		}
		if cursor.Position >= e.rows.Count() {
			return model.QueryResponse{}, fmt.Errorf("%w: position %d out of range", model.ErrCursorInvalid, cursor.Position)
		}
	}

	pl, err := e.buildPlan(pred, f)
	if err != nil {
		return model.QueryResponse{}, err
	}
	resp := model.QueryResponse{Rows: []model.LogRow{}, EstimatedTotal: pl.estimated}
	if pl.empty {
		return resp, nil
	}

	backward := direction == model.DirectionBackward
	var matches []match
	var travelMore bool
	if !backward {
		start := pl.lo
		if cursor != nil && cursor.Position+1 > start {
			start = cursor.Position + 1
		}
		matches, travelMore, err = e.collect(pred, pl.forwardIter(start), limit)
		if err != nil {
			return model.QueryResponse{}, err
		}
		resp.HasMoreNext = travelMore

		probeFrom := int64(start) - 1
		if len(matches) > 0 {
			probeFrom = int64(matches[0].ord) - 1
		}
		if probeFrom >= int64(pl.lo) {
			resp.HasMorePrev, err = e.exists(pred, pl.backwardIter(uint64(probeFrom)))
			if err != nil {
				return model.QueryResponse{}, err
			}
		}
	} else {
		start := pl.hi
		collect := true
		if cursor != nil {
			if cursor.Position == 0 {
				collect = false
			} else {
				start = cursor.Position - 1
			}
		}
		if collect {
			matches, travelMore, err = e.collect(pred, pl.backwardIter(start), limit)
			if err != nil {
				return model.QueryResponse{}, err
			}
		}
		resp.HasMorePrev = travelMore
		reverseMatches(matches)

		probeFrom := uint64(0)
		probe := false
		if len(matches) > 0 {
			probeFrom = matches[len(matches)-1].ord + 1
			probe = true
		} else if cursor != nil {
			probeFrom = cursor.Position
			probe = true
		}
		if probe && probeFrom <= pl.hi {
			resp.HasMoreNext, err = e.exists(pred, pl.forwardIter(probeFrom))
			if err != nil {
				return model.QueryResponse{}, err
			}
		}
	}

	e.finishResponse(&resp, matches, hash)
	return resp, nil
}

// JumpToTime anchors at the first row with a timestamp at or past target and
// pages forward from there.
func (e *Executor) JumpToTime(f model.LogFilters, target string, limit int) (model.QueryResponse, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	targetMs, err := parseFilterTime(target, e.loc)
	if err != nil {
		return model.QueryResponse{}, fmt.Errorf("%w: targetTime: %v", model.ErrFilterInvalid, err)
	}
	hash := FilterHash(f)

	pred, err := compile(f, e.loc)
	if err != nil {
		return model.QueryResponse{}, err
	}
	pl, err := e.buildPlan(pred, f)
	if err != nil {
		return model.QueryResponse{}, err
	}
	resp := model.QueryResponse{Rows: []model.LogRow{}, EstimatedTotal: pl.estimated}
	if pl.empty {
		return resp, nil
	}

	anchor, ok, err := e.seekTime(targetMs)
	if err != nil {
		return model.QueryResponse{}, err
	}
	if !ok {
		// Nothing at or past the target; the caller can still page backward.
		resp.HasMorePrev, err = e.exists(pred, pl.backwardIter(pl.hi))
		if err != nil {
			return model.QueryResponse{}, err
		}
		return resp, nil
	}

	start := anchor
	if start < pl.lo {
		start = pl.lo
	}
	matches, more, err := e.collect(pred, pl.forwardIter(start), limit)
	if err != nil {
		return model.QueryResponse{}, err
	}
	resp.HasMoreNext = more

	probeFrom := int64(start) - 1
	if len(matches) > 0 {
		probeFrom = int64(matches[0].ord) - 1
	}
	if probeFrom >= int64(pl.lo) {
		resp.HasMorePrev, err = e.exists(pred, pl.backwardIter(uint64(probeFrom)))
		if err != nil {
			return model.QueryResponse{}, err
		}
	}

	e.finishResponse(&resp, matches, hash)
	return resp, nil
}

// seekTime finds the first ordinal whose timestamp is >= targetMs, using the
// time index to skip ahead and a bounded forward scan to refine.
func (e *Executor) seekTime(targetMs int64) (uint64, bool, error) {
	ti, err := e.timeIndex()
	if err != nil {
		return 0, false, err
	}
	start, ok := ti.LowerBound(targetMs)
	if !ok {
		return 0, false, nil
	}
	for ord := start; ord < e.rows.Count(); ord++ {
		m, err := e.rows.Meta(ord)
		if err != nil {
			return 0, false, e.stale(err)
		}
		if m.HasTs() && m.TsEpochMs >= targetMs {
			return ord, true, nil
		}
	}
	return 0, false, nil
}

func (e *Executor) finishResponse(resp *model.QueryResponse, matches []match, hash uint64) {
	if len(matches) == 0 {
		return
	}
	resp.Rows = make([]model.LogRow, len(matches))
	for i, m := range matches {
		resp.Rows[i] = m.row
	}
	first, last := matches[0].ord, matches[len(matches)-1].ord
	resp.NextCursor = &model.QueryCursor{Position: last, Direction: model.DirectionForward, FilterHash: hash}
	resp.PrevCursor = &model.QueryCursor{Position: first, Direction: model.DirectionBackward, FilterHash: hash}
	resp.PositionRatio = float64(last+1) / float64(e.rows.Count())
}

func reverseMatches(m []match) {
	for i, j := 0, len(m)-1; i < j; i, j = i+1, j-1 {
		m[i], m[j] = m[j], m[i]
	}
}
