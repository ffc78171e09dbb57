// Package source opens a bugreport artifact and streams its logcat sections
// as lines with logical byte offsets.
package source

import (
	"archive/zip"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"milktea/internal/model"
)

const (
	readBufSize    = 64 * 1024
	preambleSample = 256 * 1024
)

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// Logcat buffer names recognised in section headers.
var logcatBuffers = []string{"SYSTEM", "MAIN", "EVENT", "RADIO", "CRASH", "KERNEL"}

// Line is one line of the logical bugreport stream. Text excludes the line
// terminator and is only valid until the next call to Next.
type Line struct {
	// Offset of the line's first byte in the logical (decompressed) stream.
	Offset int64
	Text   []byte
	// Section is the ordinal of the enclosing logcat section, starting at 0
	// for content seen before any section header.
	Section int
}

// Reader streams logcat-section lines from a flat bugreport or a zip archive.
type Reader struct {
	path  string
	total int64
	open  func() (io.ReadCloser, error)

	rc  io.ReadCloser
	br  *bufio.Reader
	buf []byte
	pos int64

	sawHeader bool
	inLogcat  bool
	section   int

	zrc *zip.ReadCloser
}

// Open prepares a reader for the given path. Archives are detected by a .zip
// suffix or leading zip magic bytes; the first entry named bugreport*.txt is
// selected as the logical stream.
func Open(p string) (*Reader, error) {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, p)
		}
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", model.ErrNotFound, p)
	}

	if isZip(p) {
		return openZip(p)
	}

	r := &Reader{
		path:  p,
		total: info.Size(),
		open: func() (io.ReadCloser, error) {
			return os.Open(p)
		},
	}
	return r, r.reset()
}

func isZip(p string) bool {
	if strings.HasSuffix(strings.ToLower(p), ".zip") {
		return true
	}
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 4)
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return bytes.Equal(head, zipMagic)
}

func openZip(p string) (*Reader, error) {
	zrc, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCorruptArchive, err)
	}

	var entry *zip.File
	for _, f := range zrc.File {
		name := strings.ToLower(path.Base(f.Name))
		if strings.HasPrefix(name, "bugreport") && strings.HasSuffix(name, ".txt") {
			entry = f
			break
		}
	}
	if entry == nil {
		zrc.Close()
		return nil, model.ErrUnsupportedArchive
	}

	r := &Reader{
		path:  p,
		total: int64(entry.UncompressedSize64),
		zrc:   zrc,
		open: func() (io.ReadCloser, error) {
			return entry.Open()
		},
	}
	if err := r.reset(); err != nil {
		zrc.Close()
		return nil, err
	}
	return r, nil
}

// reset (re)opens the logical stream from the beginning.
func (r *Reader) reset() error {
	if r.rc != nil {
		r.rc.Close()
	}
	rc, err := r.open()
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	r.rc = rc
	r.br = bufio.NewReaderSize(rc, readBufSize)
	r.pos = 0
	r.sawHeader = false
	r.inLogcat = false
	r.section = 0
	return nil
}

// Path returns the input path.
func (r *Reader) Path() string { return r.path }

// TotalBytes returns the logical (decompressed) stream size.
func (r *Reader) TotalBytes() int64 { return r.total }

// Pos returns the number of logical bytes consumed so far.
func (r *Reader) Pos() int64 { return r.pos }

// Preamble reads up to 256 KiB from the start of the logical stream without
// disturbing the line iteration position.
func (r *Reader) Preamble() ([]byte, error) {
	rc, err := r.open()
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	defer rc.Close()

	sample := make([]byte, preambleSample)
	n, err := io.ReadFull(rc, sample)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return sample[:n], nil
}

// Next returns the next line belonging to a logcat section. Content before the
// first section header is forwarded as-is so that bare logcat dumps parse
// without any header. Returns io.EOF when the stream is exhausted.
func (r *Reader) Next() (Line, error) {
	for {
		offset := r.pos
		text, err := r.readLine()
		if err != nil {
			return Line{}, err
		}

		if name, ok := sectionName(text); ok {
			r.sawHeader = true
			if isLogcatSection(name) {
				r.inLogcat = true
				r.section++
			} else {
				r.inLogcat = false
			}
			continue
		}

		if r.sawHeader && !r.inLogcat {
			continue
		}
		return Line{Offset: offset, Text: text, Section: r.section}, nil
	}
}

// readLine consumes one line including its terminator, returning the content
// without the trailing newline. Lines longer than the buffer are accumulated.
func (r *Reader) readLine() ([]byte, error) {
	r.buf = r.buf[:0]
	for {
		chunk, err := r.br.ReadSlice('\n')
		r.pos += int64(len(chunk))
		r.buf = append(r.buf, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF {
			if len(r.buf) == 0 {
				return nil, io.EOF
			}
			return trimEOL(r.buf), nil
		}
		if err != nil {
			return nil, err
		}
		return trimEOL(r.buf), nil
	}
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

// sectionName extracts NAME from a "------ NAME (...) ------" header line.
func sectionName(line []byte) (string, bool) {
	const marker = "------"
	s := string(bytes.TrimSpace(line))
	if !strings.HasPrefix(s, marker) || !strings.HasSuffix(s, marker) || len(s) < 2*len(marker)+1 {
		return "", false
	}
	inner := strings.TrimSpace(s[len(marker) : len(s)-len(marker)])
	if inner == "" {
		return "", false
	}
	return inner, true
}

// isLogcatSection reports whether a section header names a logcat buffer,
// e.g. "SYSTEM LOG (logcat -v threadtime ...)".
func isLogcatSection(name string) bool {
	upper := strings.ToUpper(name)
	if !strings.Contains(upper, "LOG") {
		return false
	}
	for _, b := range logcatBuffers {
		if strings.Contains(upper, b) {
			return true
		}
	}
	return false
}

// Close releases the underlying file handles.
func (r *Reader) Close() error {
	var first error
	if r.rc != nil {
		first = r.rc.Close()
		r.rc = nil
	}
	if r.zrc != nil {
		if err := r.zrc.Close(); first == nil {
			first = err
		}
		r.zrc = nil
	}
	return first
}
