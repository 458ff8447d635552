// Package tree manages the generated output directory. Reads are served
// from an in-memory cache keyed by path; every mutation must be followed
// by an invalidation before the next scoring pass, and the tree verifies
// that invalidated reads actually reflect the new bytes on disk.
package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"specforge/internal/logging"
)

// ErrStaleRead reports that a post-invalidation read returned the same
// bytes that were cached before a mutation. The run must halt rather
// than score against stale content.
type ErrStaleRead struct {
	Path string
}

func (e *ErrStaleRead) Error() string {
	return fmt.Sprintf("stale read after invalidation: %s", e.Path)
}

type cachedFile struct {
	content []byte
	hash    string
}

// FileTree is a cache-backed view of the output directory.
type FileTree struct {
	root string

	mu    sync.RWMutex
	cache map[string]*cachedFile
	// priorHash remembers the pre-mutation content hash of each written
	// path until the next invalidation proves the cache was refreshed.
	priorHash map[string]string
}

// New creates a FileTree rooted at dir, creating it if needed.
func New(dir string) (*FileTree, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &FileTree{
		root:      dir,
		cache:     make(map[string]*cachedFile),
		priorHash: make(map[string]string),
	}, nil
}

// Root returns the tree's root directory.
func (t *FileTree) Root() string {
	return t.root
}

// Read returns the contents of the file at the given tree-relative path.
// Cached content is returned when present.
func (t *FileTree) Read(path string) ([]byte, error) {
	t.mu.RLock()
	if f, ok := t.cache[path]; ok {
		t.mu.RUnlock()
		logging.TreeDebug("cache hit: %s", path)
		return f.content, nil
	}
	t.mu.RUnlock()

	content, err := os.ReadFile(filepath.Join(t.root, path))
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.cache[path] = &cachedFile{content: content, hash: hashBytes(content)}
	t.mu.Unlock()
	return content, nil
}

// Write replaces the file at path with content. The cached entry stays
// stale on purpose until Invalidate runs; this is what lets the tree
// detect a missing invalidation step.
func (t *FileTree) Write(path string, content []byte) error {
	full := filepath.Join(t.root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create parent dir for %s: %w", path, err)
	}

	newHash := hashBytes(content)
	t.mu.Lock()
	if f, ok := t.cache[path]; ok {
		// An identical rewrite is not a mutation worth policing.
		if f.hash != newHash {
			if _, pending := t.priorHash[path]; !pending {
				t.priorHash[path] = f.hash
			}
		}
	} else {
		t.priorHash[path] = ""
	}
	t.mu.Unlock()

	if err := os.WriteFile(full, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logging.Tree("wrote %s (%d bytes)", path, len(content))
	return nil
}

// Invalidate drops the cached entry for path and re-reads it from disk.
// If the path was written since the last invalidation and the fresh read
// hashes identically to the pre-mutation content, ErrStaleRead is
// returned and the caller must abort the run.
func (t *FileTree) Invalidate(path string) error {
	t.mu.Lock()
	prior, written := t.priorHash[path]
	delete(t.cache, path)
	delete(t.priorHash, path)
	t.mu.Unlock()

	content, err := os.ReadFile(filepath.Join(t.root, path))
	if err != nil {
		if os.IsNotExist(err) {
			logging.TreeDebug("invalidated deleted path: %s", path)
			return nil
		}
		return err
	}

	fresh := hashBytes(content)
	if written && prior != "" && fresh == prior {
		logging.Get(logging.CategoryTree).Error("invalidation did not surface new content: %s", path)
		return &ErrStaleRead{Path: path}
	}

	t.mu.Lock()
	t.cache[path] = &cachedFile{content: content, hash: fresh}
	t.mu.Unlock()
	logging.TreeDebug("invalidated %s", path)
	return nil
}

// InvalidateAll drops every cached entry. Disk is re-read lazily.
func (t *FileTree) InvalidateAll() {
	t.mu.Lock()
	t.cache = make(map[string]*cachedFile)
	t.priorHash = make(map[string]string)
	t.mu.Unlock()
	logging.Tree("invalidated full tree cache")
}

// PendingInvalidations returns written paths that have not been
// invalidated yet. The scorer refuses to run while any exist.
func (t *FileTree) PendingInvalidations() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	paths := make([]string, 0, len(t.priorHash))
	for p := range t.priorHash {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Files walks the tree and returns relative paths of all Go source
// files, sorted.
func (t *FileTree) Files() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != t.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Exists reports whether path is present on disk.
func (t *FileTree) Exists(path string) bool {
	_, err := os.Stat(filepath.Join(t.root, path))
	return err == nil
}

// Hash returns the content hash for path, reading through the cache.
func (t *FileTree) Hash(path string) (string, error) {
	content, err := t.Read(path)
	if err != nil {
		return "", err
	}
	return hashBytes(content), nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
