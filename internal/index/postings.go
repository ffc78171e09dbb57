package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/RoaringBitmap/roaring"
)

const postingsMagic = "MTINV001"

// PostingsWriter accumulates key → ordinal bitmaps in memory. While the total
// entry count stays under the threshold the index is exact; past it, only
// every Nth occurrence per key is recorded and the index is flagged sampled,
// which downgrades its results to candidates needing row-level verification.
type PostingsWriter struct {
	m       map[string]*roaring.Bitmap
	counts  map[string]int64
	entries int64

	threshold int64
	sampleN   int64
	sampled   bool
}

// NewPostingsWriter returns a builder with the given degradation parameters.
func NewPostingsWriter(threshold int64, sampleN int) *PostingsWriter {
	return &PostingsWriter{
		m:         make(map[string]*roaring.Bitmap),
		counts:    make(map[string]int64),
		threshold: threshold,
		sampleN:   int64(sampleN),
	}
}

// Add records an occurrence of key at the given ordinal.
func (w *PostingsWriter) Add(key string, ord uint64) {
	n := w.counts[key]
	w.counts[key] = n + 1

	if w.sampled && n%w.sampleN != 0 {
		return
	}

	bm, ok := w.m[key]
	if !ok {
		bm = roaring.New()
		w.m[key] = bm
	}
	bm.Add(uint32(ord))
	w.entries++
	if !w.sampled && w.entries >= w.threshold {
		w.sampled = true
	}
}

// Sampled reports whether the index degraded to sampled postings.
func (w *PostingsWriter) Sampled() bool { return w.sampled }

// WriteFile serialises the postings into dir under name.
func (w *PostingsWriter) WriteFile(dir, name string) error {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 128*1024)

	if _, err := bw.WriteString(postingsMagic); err != nil {
		f.Close()
		return err
	}
	flags := byte(0)
	if w.sampled {
		flags = 1
	}
	if err := bw.WriteByte(flags); err != nil {
		f.Close()
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(w.sampleN))
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(w.m)))
	if _, err := bw.Write(buf[:]); err != nil {
		f.Close()
		return err
	}

	// Deterministic key order keeps the artifact stable for a given input.
	keys := make([]string, 0, len(w.m))
	for k := range w.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		bm := w.m[k]
		bm.RunOptimize()
		data, err := bm.ToBytes()
		if err != nil {
			f.Close()
			return err
		}
		kb := []byte(k)
		if len(kb) > 1<<16-1 {
			kb = kb[:1<<16-1]
		}
		binary.LittleEndian.PutUint16(buf[:2], uint16(len(kb)))
		if _, err := bw.Write(buf[:2]); err != nil {
			f.Close()
			return err
		}
		if _, err := bw.Write(kb); err != nil {
			f.Close()
			return err
		}
		binary.LittleEndian.PutUint32(buf[:4], uint32(len(data)))
		if _, err := bw.Write(buf[:4]); err != nil {
			f.Close()
			return err
		}
		if _, err := bw.Write(data); err != nil {
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

// Postings is a loaded inverted index.
type Postings struct {
	m       map[string]*roaring.Bitmap
	sampled bool
	sampleN int
}

// OpenPostings loads an inverted index file from dir.
func OpenPostings(dir, name string) (*Postings, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	if len(data) < len(postingsMagic)+9 || string(data[:len(postingsMagic)]) != postingsMagic {
		return nil, fmt.Errorf("postings %s has bad magic", name)
	}
	body := data[len(postingsMagic):]
	sampled := body[0] == 1
	sampleN := int(binary.LittleEndian.Uint32(body[1:]))
	count := int(binary.LittleEndian.Uint32(body[5:]))
	body = body[9:]

	p := &Postings{
		m:       make(map[string]*roaring.Bitmap, count),
		sampled: sampled,
		sampleN: sampleN,
	}
	for i := 0; i < count; i++ {
		if len(body) < 2 {
			return nil, fmt.Errorf("postings %s truncated", name)
		}
		klen := int(binary.LittleEndian.Uint16(body))
		body = body[2:]
		if len(body) < klen+4 {
			return nil, fmt.Errorf("postings %s truncated", name)
		}
		key := string(body[:klen])
		body = body[klen:]
		blen := int(binary.LittleEndian.Uint32(body))
		body = body[4:]
		if len(body) < blen {
			return nil, fmt.Errorf("postings %s truncated", name)
		}
		bm := roaring.New()
		if _, err := bm.ReadFrom(bytes.NewReader(body[:blen])); err != nil {
			return nil, fmt.Errorf("postings %s: %w", name, err)
		}
		p.m[key] = bm
		body = body[blen:]
	}
	return p, nil
}

// Exact reports whether the index holds every occurrence.
func (p *Postings) Exact() bool { return !p.sampled }

// Get returns the bitmap for a key, or nil when the key is unseen. With an
// exact index a nil result proves absence; with a sampled one it does not.
func (p *Postings) Get(key string) *roaring.Bitmap {
	return p.m[key]
}

// Union returns the combined bitmap over several keys.
func (p *Postings) Union(keys []string) *roaring.Bitmap {
	out := roaring.New()
	for _, k := range keys {
		if bm := p.m[k]; bm != nil {
			out.Or(bm)
		}
	}
	return out
}

// PidKey renders a pid for use as a postings key.
func PidKey(pid int32) string {
	return strconv.FormatInt(int64(pid), 10)
}
