package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const timeIndexMagic = "MTTIDX01"

// BucketKey converts epoch milliseconds to the minute-granularity bucket key.
func BucketKey(tsMs int64) int64 {
	if tsMs < 0 {
		return tsMs/60000 - 1
	}
	return tsMs / 60000
}

// TimeEntry maps a minute bucket to the first record ordinal inside it.
type TimeEntry struct {
	Bucket  int64
	Ordinal uint64
}

// TimeIndexWriter accumulates bucket transitions during the ingest pass.
type TimeIndexWriter struct {
	entries []TimeEntry
	last    int64
	seen    bool
}

// NewTimeIndexWriter returns an empty builder.
func NewTimeIndexWriter() *TimeIndexWriter {
	return &TimeIndexWriter{}
}

// Observe records a row's bucket, emitting an entry on bucket transitions.
func (w *TimeIndexWriter) Observe(tsMs int64, ord uint64) {
	b := BucketKey(tsMs)
	if w.seen && b == w.last {
		return
	}
	w.seen = true
	w.last = b
	w.entries = append(w.entries, TimeEntry{Bucket: b, Ordinal: ord})
}

// WriteFile serialises the index into dir.
func (w *TimeIndexWriter) WriteFile(dir string) error {
	f, err := os.Create(filepath.Join(dir, TimeIndexFile))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 64*1024)

	if _, err := bw.WriteString(timeIndexMagic); err != nil {
		f.Close()
		return err
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(len(w.entries)))
	if _, err := bw.Write(buf[:8]); err != nil {
		f.Close()
		return err
	}
	for _, e := range w.entries {
		binary.LittleEndian.PutUint64(buf[0:], uint64(e.Bucket))
		binary.LittleEndian.PutUint64(buf[8:], e.Ordinal)
		if _, err := bw.Write(buf[:]); err != nil {
			f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// TimeIndex is the loaded bucket index. Entries are in file order, which is
// ascending within each logcat section.
type TimeIndex struct {
	entries []TimeEntry
}

// OpenTimeIndex loads the index from dir.
func OpenTimeIndex(dir string) (*TimeIndex, error) {
	data, err := os.ReadFile(filepath.Join(dir, TimeIndexFile))
	if err != nil {
		return nil, err
	}
	if len(data) < len(timeIndexMagic)+8 || string(data[:len(timeIndexMagic)]) != timeIndexMagic {
		return nil, fmt.Errorf("time index has bad magic")
	}
	body := data[len(timeIndexMagic):]
	n := binary.LittleEndian.Uint64(body)
	body = body[8:]
	if uint64(len(body)) != n*16 {
		return nil, fmt.Errorf("time index truncated")
	}

	idx := &TimeIndex{entries: make([]TimeEntry, n)}
	for i := range idx.entries {
		idx.entries[i] = TimeEntry{
			Bucket:  int64(binary.LittleEndian.Uint64(body[i*16:])),
			Ordinal: binary.LittleEndian.Uint64(body[i*16+8:]),
		}
	}
	return idx, nil
}

// Len returns the number of bucket entries.
func (t *TimeIndex) Len() int { return len(t.entries) }

// LowerBound returns the smallest ordinal that can hold a row with
// timestamp >= tsMs. Rows at or after tsMs live in buckets >= the target
// bucket, and the entry sequence is piecewise sorted (one run per logcat
// section), so the first entry at or past the target bucket in file order is
// a conservative bound. ok=false means no bucket can match.
func (t *TimeIndex) LowerBound(tsMs int64) (uint64, bool) {
	target := BucketKey(tsMs)
	for _, e := range t.entries {
		if e.Bucket >= target {
			return e.Ordinal, true
		}
	}
	return 0, false
}

// UpperBound returns the largest ordinal that can hold a row with
// timestamp <= tsMs: the end of the last bucket run at or below the target
// bucket across all sections. max is the store's final ordinal.
func (t *TimeIndex) UpperBound(tsMs int64, max uint64) (uint64, bool) {
	target := BucketKey(tsMs)
	last := -1
	for i, e := range t.entries {
		if e.Bucket <= target {
			last = i
		}
	}
	if last < 0 {
		return 0, false
	}
	if last == len(t.entries)-1 {
		return max, true
	}
	next := t.entries[last+1].Ordinal
	if next == 0 {
		return 0, false
	}
	return next - 1, true
}
