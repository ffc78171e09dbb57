package source

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"milktea/internal/model"
)

func writeReport(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func collectLines(t *testing.T, r *Reader) []Line {
	t.Helper()
	var lines []Line
	for {
		ln, err := r.Next()
		if err == io.EOF {
			return lines
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		cp := ln
		cp.Text = append([]byte(nil), ln.Text...)
		lines = append(lines, cp)
	}
}

func TestOpen_NotFound(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.txt"))
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNext_BareLogcat(t *testing.T) {
	// No section headers at all: everything is forwarded.
	p := writeReport(t, "dump.txt", "line one\nline two\n")
	r, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	lines := collectLines(t, r)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if string(lines[0].Text) != "line one" || lines[0].Offset != 0 {
		t.Errorf("first line = %q @ %d", lines[0].Text, lines[0].Offset)
	}
	if lines[1].Offset != int64(len("line one\n")) {
		t.Errorf("second offset = %d, want %d", lines[1].Offset, len("line one\n"))
	}
}

func TestNext_SectionGating(t *testing.T) {
	content := strings.Join([]string{
		"== dumpstate: 2024-08-24 14:22:33",
		"------ UPTIME (uptime) ------",
		"up 2 days",
		"------ SYSTEM LOG (logcat -v threadtime) ------",
		"08-24 14:22:33.123  1234  5678 I MyTag: hello",
		"------ VM TRACES ------",
		"not forwarded",
		"------ EVENT LOG (logcat -b events) ------",
		"08-24 14:22:34.000  1234  5678 I am_proc: [0,123]",
		"",
	}, "\n")
	p := writeReport(t, "bugreport-test.txt", content)
	r, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	lines := collectLines(t, r)
	// Preamble line before any header is forwarded; gated lines are not.
	var texts []string
	for _, ln := range lines {
		texts = append(texts, string(ln.Text))
	}
	want := []string{
		"== dumpstate: 2024-08-24 14:22:33",
		"08-24 14:22:33.123  1234  5678 I MyTag: hello",
		"08-24 14:22:34.000  1234  5678 I am_proc: [0,123]",
	}
	if len(texts) != len(want) {
		t.Fatalf("lines = %q, want %q", texts, want)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, texts[i], want[i])
		}
	}

	// The two logcat lines come from different sections.
	if lines[1].Section == lines[2].Section {
		t.Error("expected distinct section ordinals for SYSTEM and EVENT logs")
	}
}

func TestNext_OffsetsStrictlyIncrease(t *testing.T) {
	content := "------ MAIN LOG (logcat) ------\n" +
		strings.Repeat("08-24 14:22:33.123  1  2 I T: m\n", 50)
	p := writeReport(t, "b.txt", content)
	r, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	prev := int64(-1)
	for _, ln := range collectLines(t, r) {
		if ln.Offset <= prev {
			t.Fatalf("offset %d not greater than previous %d", ln.Offset, prev)
		}
		prev = ln.Offset
	}
}

func TestOpen_Zip(t *testing.T) {
	dir := t.TempDir()
	zp := filepath.Join(dir, "bugreport.zip")

	f, err := os.Create(zp)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, e := range []struct{ name, body string }{
		{"FS/data/something.bin", "junk"},
		{"bugreport-sunfish-2024-08-24.txt", "------ SYSTEM LOG (logcat) ------\n08-24 14:22:33.123  1  2 I T: from zip\n"},
	} {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(e.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(zp)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	lines := collectLines(t, r)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if !strings.Contains(string(lines[0].Text), "from zip") {
		t.Errorf("unexpected line %q", lines[0].Text)
	}
	if r.TotalBytes() == 0 {
		t.Error("TotalBytes = 0, want uncompressed entry size")
	}
}

func TestOpen_ZipWithoutBugreport(t *testing.T) {
	dir := t.TempDir()
	zp := filepath.Join(dir, "other.zip")

	f, err := os.Create(zp)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("notes.txt")
	_, _ = w.Write([]byte("hi"))
	_ = zw.Close()
	_ = f.Close()

	_, err = Open(zp)
	if !errors.Is(err, model.ErrUnsupportedArchive) {
		t.Fatalf("err = %v, want ErrUnsupportedArchive", err)
	}
}

func TestPreamble_DoesNotDisturbIteration(t *testing.T) {
	content := "header line\n------ SYSTEM LOG (logcat) ------\n08-24 14:22:33.123  1  2 I T: m\n"
	p := writeReport(t, "b.txt", content)
	r, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	sample, err := r.Preamble()
	if err != nil {
		t.Fatal(err)
	}
	if string(sample) != content {
		t.Errorf("preamble = %q, want full content", sample)
	}

	lines := collectLines(t, r)
	if len(lines) != 2 {
		t.Fatalf("got %d lines after Preamble, want 2", len(lines))
	}
}

func TestSectionName(t *testing.T) {
	if _, ok := sectionName([]byte("08-24 14:22:33.123  1  2 I T: m")); ok {
		t.Error("log line misdetected as section header")
	}
	name, ok := sectionName([]byte("------ SYSTEM LOG (logcat -v threadtime -d *:v) ------"))
	if !ok || !strings.HasPrefix(name, "SYSTEM LOG") {
		t.Errorf("sectionName = %q, %v", name, ok)
	}
	if !isLogcatSection("KERNEL LOG (dmesg)") {
		t.Error("KERNEL LOG should be a logcat section")
	}
	if isLogcatSection("VM TRACES JUST NOW") {
		t.Error("VM TRACES should not be a logcat section")
	}
}
