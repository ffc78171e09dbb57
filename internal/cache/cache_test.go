package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bugreport.txt")
	writeFile(t, p, 100)

	a, err := Fingerprint(p)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Fingerprint(p)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("fingerprint unstable: %s vs %s", a, b)
	}
	if len(a) != 16 || !isFingerprint(a) {
		t.Errorf("fingerprint %q not 16 hex chars", a)
	}
}

func TestFingerprint_ChangesWithContentSize(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bugreport.txt")
	writeFile(t, p, 100)
	a, _ := Fingerprint(p)

	writeFile(t, p, 200)
	b, _ := Fingerprint(p)
	if a == b {
		t.Error("fingerprint identical after size change")
	}
}

func TestCommit_PublishesAtomically(t *testing.T) {
	root := t.TempDir()
	tmp, err := NewTemp(root)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(tmp, "rows"), 10)

	const fpr = "00112233aabbccdd"
	if Exists(root, fpr) {
		t.Fatal("cache exists before commit")
	}
	if err := Commit(root, tmp, fpr); err != nil {
		t.Fatal(err)
	}
	if !Exists(root, fpr) {
		t.Fatal("cache missing after commit")
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("temp dir still present after commit")
	}
}

func TestCommit_ReplacesPrevious(t *testing.T) {
	root := t.TempDir()
	const fpr = "00112233aabbccdd"

	tmp1, _ := NewTemp(root)
	writeFile(t, filepath.Join(tmp1, "old"), 1)
	if err := Commit(root, tmp1, fpr); err != nil {
		t.Fatal(err)
	}

	tmp2, _ := NewTemp(root)
	writeFile(t, filepath.Join(tmp2, "new"), 1)
	if err := Commit(root, tmp2, fpr); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(Dir(root, fpr), "old")); !os.IsNotExist(err) {
		t.Error("stale artifact survived recommit")
	}
	if _, err := os.Stat(filepath.Join(Dir(root, fpr), "new")); err != nil {
		t.Error("new artifact missing after recommit")
	}
}

func TestEvict_LRUOrder(t *testing.T) {
	root := t.TempDir()
	caches := []string{"aaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbb", "cccccccccccccccc"}
	for _, fpr := range caches {
		tmp, _ := NewTemp(root)
		writeFile(t, filepath.Join(tmp, "rows"), 1000)
		if err := Commit(root, tmp, fpr); err != nil {
			t.Fatal(err)
		}
	}

	access := map[string]time.Time{
		"aaaaaaaaaaaaaaaa": time.Now().Add(-3 * time.Hour), // oldest
		"bbbbbbbbbbbbbbbb": time.Now().Add(-1 * time.Hour),
		"cccccccccccccccc": time.Now(),
	}

	// Ceiling of 2500 bytes forces exactly one eviction.
	evicted, err := Evict(root, 2500, func(fpr string) time.Time { return access[fpr] }, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evicted) != 1 || evicted[0] != "aaaaaaaaaaaaaaaa" {
		t.Errorf("evicted = %v, want oldest only", evicted)
	}
	if Exists(root, "aaaaaaaaaaaaaaaa") {
		t.Error("oldest cache still on disk")
	}
	if !Exists(root, "bbbbbbbbbbbbbbbb") || !Exists(root, "cccccccccccccccc") {
		t.Error("newer caches were evicted")
	}
}

func TestEvict_KeepsPinned(t *testing.T) {
	root := t.TempDir()
	tmp, _ := NewTemp(root)
	writeFile(t, filepath.Join(tmp, "rows"), 1000)
	const fpr = "dddddddddddddddd"
	if err := Commit(root, tmp, fpr); err != nil {
		t.Fatal(err)
	}

	evicted, err := Evict(root, 0, nil, fpr)
	if err != nil {
		t.Fatal(err)
	}
	if len(evicted) != 0 || !Exists(root, fpr) {
		t.Errorf("pinned cache evicted: %v", evicted)
	}
}

func TestEvict_IgnoresTempAndForeignDirs(t *testing.T) {
	root := t.TempDir()
	tmp, _ := NewTemp(root)
	writeFile(t, filepath.Join(tmp, "rows"), 5000)
	writeFile(t, filepath.Join(root, "reports.db"), 5000)

	evicted, err := Evict(root, 100, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evicted) != 0 {
		t.Errorf("evicted = %v, want none", evicted)
	}
	if _, err := os.Stat(tmp); err != nil {
		t.Error("in-flight temp dir was evicted")
	}
}
