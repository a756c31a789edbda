// Package replica manages locally processed copies of photos. A Handle is
// owned by exactly one media item and deleted once, at session cleanup.
package replica

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Handle is a local replica file.
type Handle struct {
	path string

	mu       sync.Mutex
	released bool
}

// Open wraps an existing file path as a Handle.
func Open(path string) *Handle {
	return &Handle{path: path}
}

// Path returns the file path of the replica.
func (h *Handle) Path() string {
	return h.path
}

// Exists reports whether the replica is unreleased and still on disk.
func (h *Handle) Exists() bool {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return false
	}
	_, err := os.Stat(h.path)
	return err == nil
}

// Release deletes the replica file. Calling it again, or on a file that is
// already gone, is a no-op.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replica: release %s: %w", h.path, err)
	}
	return nil
}

// Dir is the directory replicas are written to.
type Dir struct {
	root string
}

// NewDir returns a Dir rooted at root. The directory is created lazily.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the directory path.
func (d *Dir) Root() string {
	return d.root
}

// Create makes the directory if needed and returns a Handle for a fresh,
// uniquely named file with the given prefix and extension. The file itself
// is not created.
func (d *Dir) Create(prefix, ext string) (*Handle, error) {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return nil, fmt.Errorf("replica: mkdir %s: %w", d.root, err)
	}
	name := fmt.Sprintf("%s_%s%s", prefix, uuid.NewString(), ext)
	return &Handle{path: filepath.Join(d.root, name)}, nil
}

// RemoveIfEmpty deletes the directory when it holds no files.
func (d *Dir) RemoveIfEmpty() {
	entries, err := os.ReadDir(d.root)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = os.Remove(d.root)
}
