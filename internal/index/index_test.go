package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"milktea/internal/model"
	"milktea/internal/source"
)

// writeGarbage plants an invalid rows file for corruption tests.
func writeGarbage(dir string) error {
	return os.WriteFile(filepath.Join(dir, RowsFile), []byte("definitely not a rows store"), 0o644)
}

func buildFromText(t *testing.T, content string, opts Options) (*Summary, string) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "bugreport-test.txt")
	if err := os.WriteFile(src, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := source.Open(src)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	sample, err := r.Preamble()
	if err != nil {
		t.Fatal(err)
	}
	pre := source.ScanPreamble(sample)

	dir := t.TempDir()
	sum, err := Build(context.Background(), r, pre, dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	return sum, dir
}

const basicReport = `== dumpstate: 2024-08-24 15:00:00
persist.sys.timezone=Asia/Taipei
------ SYSTEM LOG (logcat -v threadtime) ------
08-24 14:22:33.123  1234  5678 E ActivityManager: ANR in com.foo
08-24 14:22:34.000  1234  5678 I MyTag: hello world
08-24 14:22:35.001  2222  5679 W Network: unstable
08-24 14:23:10.500  2222  5679 F AndroidRuntime: FATAL EXCEPTION: main
    at Foo.bar(Foo.java:1)
`

func TestBuild_Summary(t *testing.T) {
	sum, _ := buildFromText(t, basicReport, Options{})

	if sum.TotalRows != 4 {
		t.Fatalf("TotalRows = %d, want 4", sum.TotalRows)
	}
	lc := sum.LevelCounts
	if lc.Error != 1 || lc.Info != 1 || lc.Warning != 1 || lc.Fatal != 1 {
		t.Errorf("LevelCounts = %+v", lc)
	}
	if sum.Crashes != 1 {
		t.Errorf("Crashes = %d, want 1", sum.Crashes)
	}
	if sum.EFTotal != 2 {
		t.Errorf("EFTotal = %d, want 2", sum.EFTotal)
	}
	if sum.EFRecent != 2 {
		t.Errorf("EFRecent = %d, want 2 (range is under 5 min)", sum.EFRecent)
	}
	if sum.Timezone != "Asia/Taipei" || sum.BestEffortTime {
		t.Errorf("tz = %q bestEffort = %v", sum.Timezone, sum.BestEffortTime)
	}
	if sum.MinTimestampMs == nil || sum.MaxTimestampMs == nil {
		t.Fatal("timestamp range missing")
	}
	if *sum.MinTimestampMs >= *sum.MaxTimestampMs {
		t.Errorf("range = [%d, %d]", *sum.MinTimestampMs, *sum.MaxTimestampMs)
	}
	if sum.MinTsDisplay != "08-24 14:22:33.123" {
		t.Errorf("MinTsDisplay = %q", sum.MinTsDisplay)
	}
}

func TestBuild_ANRCount(t *testing.T) {
	report := "------ SYSTEM LOG (logcat) ------\n" +
		"08-24 14:22:33.123  1234  5678 E ActivityManager: ANR in com.foo\n" +
		"08-24 14:22:34.000  1234  5678 E OtherTag: ANR in com.bar\n"
	sum, _ := buildFromText(t, report, Options{})
	if sum.ANRs != 1 {
		t.Errorf("ANRs = %d, want 1 (only tag ActivityManager counts)", sum.ANRs)
	}
}

func TestBuild_ArtifactsOnDisk(t *testing.T) {
	_, dir := buildFromText(t, basicReport, Options{})

	for _, name := range []string{RowsFile, SummaryFile, TimeIndexFile, TagIndexFile, PidIndexFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("artifact %s missing: %v", name, err)
		}
	}

	// summary.json round-trips through the schema check.
	sum, err := OpenSummary(dir)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalRows != 4 {
		t.Errorf("reloaded TotalRows = %d", sum.TotalRows)
	}
}

func TestBuild_RowStoreMatchesSummary(t *testing.T) {
	sum, dir := buildFromText(t, basicReport, Options{})

	r, err := OpenRows(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if int64(r.Count()) != sum.TotalRows {
		t.Errorf("rows store count %d != summary total %d", r.Count(), sum.TotalRows)
	}

	// byteOffset strictly increasing; timestamps non-decreasing in-section.
	var prev RecordMeta
	for ord := uint64(0); ord < r.Count(); ord++ {
		m, err := r.Meta(ord)
		if err != nil {
			t.Fatal(err)
		}
		if ord > 0 {
			if m.ByteOffset <= prev.ByteOffset {
				t.Errorf("byteOffset not strictly increasing at ordinal %d", ord)
			}
			if m.Section == prev.Section && m.HasTs() && prev.HasTs() && m.TsEpochMs < prev.TsEpochMs {
				t.Errorf("timestamp decreased within section at ordinal %d", ord)
			}
		}
		prev = m
	}

	// Continuation attached to the final row.
	last, err := r.Row(r.Count() - 1)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(last.Msg, "at Foo.bar") {
		t.Errorf("continuation missing from message: %q", last.Msg)
	}
}

func TestBuild_TimeIndexSeeks(t *testing.T) {
	var b strings.Builder
	b.WriteString("------ SYSTEM LOG (logcat) ------\n")
	// Rows at 10:00, 10:01, ..., 10:09, one per minute.
	for i := 0; i < 10; i++ {
		b.WriteString("08-24 10:0")
		b.WriteByte(byte('0' + i))
		b.WriteString(":00.000  1 2 I T: row\n")
	}
	_, dir := buildFromText(t, b.String(), Options{})

	ti, err := OpenTimeIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if ti.Len() != 10 {
		t.Fatalf("entries = %d, want 10", ti.Len())
	}

	base := time.Date(time.Now().Year(), 8, 24, 10, 0, 0, 0, time.UTC).UnixMilli()
	ord, ok := ti.LowerBound(base + 5*60000)
	if !ok || ord != 5 {
		t.Errorf("LowerBound(+5m) = %d,%v, want 5,true", ord, ok)
	}
	if _, ok := ti.LowerBound(base + 60*60000); ok {
		t.Error("LowerBound past the range should report no match")
	}
	up, ok := ti.UpperBound(base+5*60000+30000, 9)
	if !ok || up != 5 {
		t.Errorf("UpperBound(+5.5m) = %d,%v, want 5,true", up, ok)
	}
}

func TestBuild_Postings(t *testing.T) {
	report := "------ SYSTEM LOG (logcat) ------\n" +
		"08-24 14:22:33.000  10 1 I Alpha: a\n" +
		"08-24 14:22:34.000  20 1 I Beta: b\n" +
		"08-24 14:22:35.000  10 1 I Alpha: c\n"
	_, dir := buildFromText(t, report, Options{})

	tags, err := OpenPostings(dir, TagIndexFile)
	if err != nil {
		t.Fatal(err)
	}
	if !tags.Exact() {
		t.Error("tiny index should be exact")
	}
	alpha := tags.Get("Alpha")
	if alpha == nil || alpha.GetCardinality() != 2 {
		t.Fatalf("Alpha postings = %v", alpha)
	}
	if !alpha.Contains(0) || !alpha.Contains(2) {
		t.Errorf("Alpha ordinals = %v, want {0,2}", alpha.ToArray())
	}

	pids, err := OpenPostings(dir, PidIndexFile)
	if err != nil {
		t.Fatal(err)
	}
	ten := pids.Get(PidKey(10))
	if ten == nil || ten.GetCardinality() != 2 {
		t.Fatalf("pid 10 postings = %v", ten)
	}
}

func TestBuild_MalformedCounted(t *testing.T) {
	report := "------ SYSTEM LOG (logcat) ------\n" +
		"08-24 14:22:33.123  1 2 X BadLevel: nope\n" +
		"08-24 14:22:34.000  1 2 I Good: yes\n"
	sum, _ := buildFromText(t, report, Options{})
	if sum.TotalRows != 1 {
		t.Errorf("TotalRows = %d, want 1", sum.TotalRows)
	}
	if sum.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", sum.Malformed)
	}
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var b strings.Builder
	b.WriteString("------ SYSTEM LOG (logcat) ------\n")
	for i := 0; i < 3*cancelCheckInterval; i++ {
		b.WriteString("08-24 14:22:33.123  1 2 I T: filler row\n")
	}
	src := filepath.Join(t.TempDir(), "big.txt")
	if err := os.WriteFile(src, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := source.Open(src)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	_, err = Build(ctx, r, source.Preamble{}, t.TempDir(), Options{})
	if err != model.ErrCancelled {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
}

func TestPostingsWriter_DegradesToSampled(t *testing.T) {
	w := NewPostingsWriter(10, 4)
	for i := uint64(0); i < 100; i++ {
		w.Add("tag", i)
	}
	if !w.Sampled() {
		t.Fatal("writer did not degrade past the threshold")
	}

	dir := t.TempDir()
	if err := w.WriteFile(dir, TagIndexFile); err != nil {
		t.Fatal(err)
	}
	p, err := OpenPostings(dir, TagIndexFile)
	if err != nil {
		t.Fatal(err)
	}
	if p.Exact() {
		t.Error("reloaded index claims to be exact")
	}
	bm := p.Get("tag")
	if bm == nil {
		t.Fatal("sampled postings lost the key")
	}
	if n := bm.GetCardinality(); n == 0 || n >= 100 {
		t.Errorf("sampled cardinality = %d, want thinned but non-empty", n)
	}
}

func TestBuild_EmitsProgress(t *testing.T) {
	var phases []string
	_, _ = buildFromText(t, basicReport, Options{
		Progress: func(p model.ParseProgress) { phases = append(phases, p.Phase) },
	})
	if len(phases) == 0 {
		t.Fatal("no progress emitted")
	}
	if phases[len(phases)-1] != model.PhaseFinalizing {
		t.Errorf("last phase = %q, want finalizing", phases[len(phases)-1])
	}
}
