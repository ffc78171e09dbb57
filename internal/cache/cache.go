// Package cache manages the on-disk cache root: report identity fingerprints,
// atomic commit of freshly built cache directories, and LRU eviction.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/danjacques/gofslock/fslock"
	"github.com/google/uuid"
)

const lockFile = ".lock"

// DefaultRoot returns <user-cache>/lazy-milktea.
func DefaultRoot() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving user cache dir: %w", err)
	}
	return filepath.Join(base, "lazy-milktea"), nil
}

// Fingerprint derives the stable report identity from the input's path, size
// and modification time. A touched or regrown report gets a fresh identity,
// which is what invalidates stale caches.
func Fingerprint(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano())
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// Dir returns the cache directory for a fingerprint.
func Dir(root, fingerprint string) string {
	return filepath.Join(root, fingerprint)
}

// Exists reports whether a committed cache directory is present.
func Exists(root, fingerprint string) bool {
	info, err := os.Stat(Dir(root, fingerprint))
	return err == nil && info.IsDir()
}

// NewTemp creates a build directory under root. Builders write artifacts
// there and either Commit or Discard it.
func NewTemp(root string) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("creating cache root: %w", err)
	}
	dir := filepath.Join(root, "tmp-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	return dir, nil
}

// Commit atomically publishes a built temp directory as the cache for
// fingerprint, replacing any previous cache.
func Commit(root, tmp, fingerprint string) error {
	dst := Dir(root, fingerprint)
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("removing previous cache: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("committing cache: %w", err)
	}
	return nil
}

// Discard deletes a temp build directory.
func Discard(tmp string) {
	_ = os.RemoveAll(tmp)
}

// Remove deletes a committed cache directory.
func Remove(root, fingerprint string) error {
	return os.RemoveAll(Dir(root, fingerprint))
}

// DirSize returns the total byte size of a directory tree.
func DirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// isFingerprint matches the 16-hex-char directory names Commit produces.
func isFingerprint(name string) bool {
	if len(name) != 16 {
		return false
	}
	for _, c := range name {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

// entry is one committed cache directory during eviction.
type entry struct {
	fingerprint string
	bytes       int64
	lastAccess  time.Time
}

// Evict removes least-recently-used cache directories until the root is under
// ceilingBytes. lastAccess supplies the LRU order (zero time sorts oldest);
// keep is never evicted. The pass holds the root's advisory lock; a root
// locked by another process is skipped rather than contended.
func Evict(root string, ceilingBytes int64, lastAccess func(fingerprint string) time.Time, keep string) ([]string, error) {
	var evicted []string
	err := fslock.With(filepath.Join(root, lockFile), func() error {
		dirents, err := os.ReadDir(root)
		if err != nil {
			return err
		}

		var entries []entry
		var total int64
		for _, d := range dirents {
			if !d.IsDir() || !isFingerprint(d.Name()) {
				continue
			}
			e := entry{
				fingerprint: d.Name(),
				bytes:       DirSize(filepath.Join(root, d.Name())),
			}
			if lastAccess != nil {
				e.lastAccess = lastAccess(d.Name())
			}
			if e.lastAccess.IsZero() {
				if info, err := d.Info(); err == nil {
					e.lastAccess = info.ModTime()
				}
			}
			entries = append(entries, e)
			total += e.bytes
		}

		sort.Slice(entries, func(i, j int) bool {
			return entries[i].lastAccess.Before(entries[j].lastAccess)
		})

		for _, e := range entries {
			if total <= ceilingBytes {
				break
			}
			if e.fingerprint == keep {
				continue
			}
			if err := os.RemoveAll(filepath.Join(root, e.fingerprint)); err != nil {
				continue
			}
			total -= e.bytes
			evicted = append(evicted, e.fingerprint)
		}
		return nil
	})
	if err == fslock.ErrLockHeld {
		return nil, nil
	}
	return evicted, err
}
