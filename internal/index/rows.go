// Package index builds and reads the on-disk cache artifacts: the row record
// store, the summary, the time-bucket index, and the inverted postings.
package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"milktea/internal/model"
)

// Cache artifact file names.
const (
	RowsFile      = "rows"
	SummaryFile   = "summary.json"
	TimeIndexFile = "time_index.bin"
	TagIndexFile  = "inv_tag.bin"
	PidIndexFile  = "inv_pid.bin"
)

const rowsMagic = "MTROWS01"

// Record payload layout (little endian):
//
//	u64 byteOffset
//	u8  hasTs, i64 tsEpochMs
//	u8  level, u8 section
//	u32 pid, u32 tid
//	u16 tagLen, tag
//	u8  tsRawLen, tsRaw
//	u32 msgLen, msg
//
// Each record is framed by a u32 payload length on both sides so the store
// can be walked in either direction. After the last record comes a footer:
// one u64 file offset per record, then u64 footerStart, u64 count, magic.
const recordHeadLen = 29

// RecordMeta is the fixed part of a record plus its tag; everything a filter
// predicate needs short of the message text.
type RecordMeta struct {
	Ordinal    uint64
	ByteOffset int64
	TsEpochMs  int64 // math.MinInt64 when absent
	Level      byte
	Section    int
	Pid        int32
	Tid        int32
	Tag        string
}

// HasTs reports whether the record carries a normalised timestamp.
func (m RecordMeta) HasTs() bool { return m.TsEpochMs != math.MinInt64 }

// RowsWriter appends records to the rows store. Offsets are spooled to a side
// file and folded into the footer at Finalize, keeping memory flat.
type RowsWriter struct {
	f   *os.File
	w   *bufio.Writer
	off *os.File
	ow  *bufio.Writer

	pos   int64
	count uint64
	buf   []byte
}

// NewRowsWriter creates the rows store inside dir.
func NewRowsWriter(dir string) (*RowsWriter, error) {
	f, err := os.Create(filepath.Join(dir, RowsFile))
	if err != nil {
		return nil, err
	}
	off, err := os.Create(filepath.Join(dir, RowsFile+".offsets"))
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &RowsWriter{
		f:   f,
		w:   bufio.NewWriterSize(f, 256*1024),
		off: off,
		ow:  bufio.NewWriterSize(off, 64*1024),
	}
	if _, err := w.w.WriteString(rowsMagic); err != nil {
		w.abort()
		return nil, err
	}
	w.pos = int64(len(rowsMagic))
	return w, nil
}

// Append writes one row and returns its ordinal.
func (w *RowsWriter) Append(row *model.LogRow, section int) (uint64, error) {
	payload := w.encode(row, section)

	var frame [4]byte
	binary.LittleEndian.PutUint32(frame[:], uint32(len(payload)))

	var offBuf [8]byte
	binary.LittleEndian.PutUint64(offBuf[:], uint64(w.pos))
	if _, err := w.ow.Write(offBuf[:]); err != nil {
		return 0, err
	}

	if _, err := w.w.Write(frame[:]); err != nil {
		return 0, err
	}
	if _, err := w.w.Write(payload); err != nil {
		return 0, err
	}
	if _, err := w.w.Write(frame[:]); err != nil {
		return 0, err
	}

	ord := w.count
	w.count++
	w.pos += int64(8 + len(payload))
	return ord, nil
}

func (w *RowsWriter) encode(row *model.LogRow, section int) []byte {
	tag := row.Tag
	if len(tag) > math.MaxUint16 {
		tag = tag[:math.MaxUint16]
	}
	tsRaw := row.TsRaw
	if len(tsRaw) > math.MaxUint8 {
		tsRaw = tsRaw[:math.MaxUint8]
	}

	need := recordHeadLen + len(tag) + 1 + len(tsRaw) + 4 + len(row.Msg)
	if cap(w.buf) < need {
		w.buf = make([]byte, 0, need*2)
	}
	b := w.buf[:0]

	b = binary.LittleEndian.AppendUint64(b, uint64(row.ByteOffset))
	if row.TsEpochMs != nil {
		b = append(b, 1)
		b = binary.LittleEndian.AppendUint64(b, uint64(*row.TsEpochMs))
	} else {
		b = append(b, 0)
		b = binary.LittleEndian.AppendUint64(b, 0)
	}
	b = append(b, row.Level[0], byte(section))
	b = binary.LittleEndian.AppendUint32(b, uint32(row.Pid))
	b = binary.LittleEndian.AppendUint32(b, uint32(row.Tid))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(tag)))
	b = append(b, tag...)
	b = append(b, byte(len(tsRaw)))
	b = append(b, tsRaw...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(row.Msg)))
	b = append(b, row.Msg...)

	w.buf = b
	return b
}

// Finalize flushes records, appends the offsets footer, and closes the store.
func (w *RowsWriter) Finalize() error {
	if err := w.ow.Flush(); err != nil {
		w.abort()
		return err
	}
	if _, err := w.off.Seek(0, io.SeekStart); err != nil {
		w.abort()
		return err
	}

	footerStart := w.pos
	if _, err := io.Copy(w.w, w.off); err != nil {
		w.abort()
		return err
	}

	var trailer [24]byte
	binary.LittleEndian.PutUint64(trailer[0:], uint64(footerStart))
	binary.LittleEndian.PutUint64(trailer[8:], w.count)
	copy(trailer[16:], rowsMagic)
	if _, err := w.w.Write(trailer[:]); err != nil {
		w.abort()
		return err
	}

	if err := w.w.Flush(); err != nil {
		w.abort()
		return err
	}
	offPath := w.off.Name()
	w.off.Close()
	os.Remove(offPath)
	return w.f.Close()
}

// Count returns the number of records appended so far.
func (w *RowsWriter) Count() uint64 { return w.count }

func (w *RowsWriter) abort() {
	w.f.Close()
	offPath := w.off.Name()
	w.off.Close()
	os.Remove(offPath)
}

// Abort discards the writer without finalizing.
func (w *RowsWriter) Abort() { w.abort() }

// RowsReader provides random access to a finalized rows store. It holds no
// locks; concurrent readers share the file handle via ReadAt.
type RowsReader struct {
	f           *os.File
	count       uint64
	footerStart int64
}

// OpenRows opens a finalized rows store and validates its framing.
func OpenRows(dir string) (*RowsReader, error) {
	f, err := os.Open(filepath.Join(dir, RowsFile))
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < int64(len(rowsMagic))+24 {
		f.Close()
		return nil, fmt.Errorf("rows store truncated (%d bytes)", info.Size())
	}

	head := make([]byte, len(rowsMagic))
	if _, err := f.ReadAt(head, 0); err != nil {
		f.Close()
		return nil, err
	}
	var trailer [24]byte
	if _, err := f.ReadAt(trailer[:], info.Size()-24); err != nil {
		f.Close()
		return nil, err
	}
	if string(head) != rowsMagic || string(trailer[16:]) != rowsMagic {
		f.Close()
		return nil, fmt.Errorf("rows store has bad magic")
	}

	r := &RowsReader{
		f:           f,
		footerStart: int64(binary.LittleEndian.Uint64(trailer[0:])),
		count:       binary.LittleEndian.Uint64(trailer[8:]),
	}
	if r.footerStart < int64(len(rowsMagic)) ||
		r.footerStart+int64(r.count)*8+24 != info.Size() {
		f.Close()
		return nil, fmt.Errorf("rows store footer out of range")
	}
	return r, nil
}

// Count returns the number of records in the store.
func (r *RowsReader) Count() uint64 { return r.count }

func (r *RowsReader) recordAt(ord uint64) ([]byte, error) {
	if ord >= r.count {
		return nil, fmt.Errorf("ordinal %d out of range (count %d)", ord, r.count)
	}
	var offBuf [8]byte
	if _, err := r.f.ReadAt(offBuf[:], r.footerStart+int64(ord)*8); err != nil {
		return nil, err
	}
	pos := int64(binary.LittleEndian.Uint64(offBuf[:]))

	var lenBuf [4]byte
	if _, err := r.f.ReadAt(lenBuf[:], pos); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n < recordHeadLen || pos+int64(n)+8 > r.footerStart {
		return nil, fmt.Errorf("record %d has bad length %d", ord, n)
	}

	payload := make([]byte, n)
	if _, err := r.f.ReadAt(payload, pos+4); err != nil {
		return nil, err
	}
	return payload, nil
}

// Meta reads a record's metadata without materialising the message.
func (r *RowsReader) Meta(ord uint64) (RecordMeta, error) {
	payload, err := r.recordAt(ord)
	if err != nil {
		return RecordMeta{}, err
	}
	m, _, err := decodeMeta(payload)
	if err != nil {
		return RecordMeta{}, fmt.Errorf("record %d: %w", ord, err)
	}
	m.Ordinal = ord
	return m, nil
}

// Row reads a full record including the message.
func (r *RowsReader) Row(ord uint64) (model.LogRow, error) {
	payload, err := r.recordAt(ord)
	if err != nil {
		return model.LogRow{}, err
	}
	m, rest, err := decodeMeta(payload)
	if err != nil {
		return model.LogRow{}, fmt.Errorf("record %d: %w", ord, err)
	}

	if len(rest) < 1 {
		return model.LogRow{}, fmt.Errorf("record %d truncated", ord)
	}
	tsRawLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < tsRawLen+4 {
		return model.LogRow{}, fmt.Errorf("record %d truncated", ord)
	}
	tsRaw := string(rest[:tsRawLen])
	rest = rest[tsRawLen:]
	msgLen := binary.LittleEndian.Uint32(rest)
	rest = rest[4:]
	if uint32(len(rest)) < msgLen {
		return model.LogRow{}, fmt.Errorf("record %d truncated", ord)
	}

	row := model.LogRow{
		ByteOffset: m.ByteOffset,
		TsRaw:      tsRaw,
		Level:      string(m.Level),
		Tag:        m.Tag,
		Pid:        m.Pid,
		Tid:        m.Tid,
		Msg:        string(rest[:msgLen]),
	}
	if m.HasTs() {
		ts := m.TsEpochMs
		row.TsEpochMs = &ts
	}
	return row, nil
}

// decodeMeta returns the metadata and the remaining payload after the tag.
func decodeMeta(payload []byte) (RecordMeta, []byte, error) {
	if len(payload) < recordHeadLen {
		return RecordMeta{}, nil, fmt.Errorf("payload too short")
	}
	m := RecordMeta{
		ByteOffset: int64(binary.LittleEndian.Uint64(payload[0:])),
		TsEpochMs:  math.MinInt64,
		Level:      payload[17],
		Section:    int(payload[18]),
		Pid:        int32(binary.LittleEndian.Uint32(payload[19:])),
		Tid:        int32(binary.LittleEndian.Uint32(payload[23:])),
	}
	if payload[8] == 1 {
		m.TsEpochMs = int64(binary.LittleEndian.Uint64(payload[9:]))
	}
	tagLen := int(binary.LittleEndian.Uint16(payload[27:]))
	if len(payload) < recordHeadLen+tagLen {
		return RecordMeta{}, nil, fmt.Errorf("tag overruns payload")
	}
	m.Tag = string(payload[recordHeadLen : recordHeadLen+tagLen])
	return m, payload[recordHeadLen+tagLen:], nil
}

// Close releases the store's file handle.
func (r *RowsReader) Close() error { return r.f.Close() }
