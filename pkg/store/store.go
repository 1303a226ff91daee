package store

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound      = errors.New("store: resource not found")
	ErrConflict      = errors.New("store: parent collection missing")
	ErrExists        = errors.New("store: resource already exists")
	ErrInvalidTarget = errors.New("store: invalid target")
	ErrClosed        = errors.New("store: closed")
)

// Resource is one stored entry: either a collection or a content item.
type Resource struct {
	Path        string    `json:"path"`
	Collection  bool      `json:"collection"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	ETag        string    `json:"etag,omitempty"`
	Modified    time.Time `json:"modified"`
	// Content is only populated by Get.
	Content []byte `json:"-"`
}

// Name returns the last path element.
func (r Resource) Name() string {
	if r.Path == "/" {
		return "/"
	}
	return path.Base(r.Path)
}

// Stats summarises store contents.
type Stats struct {
	Resources    int    `json:"resources"`
	Collections  int    `json:"collections"`
	ContentBytes int64  `json:"content_bytes"`
	DiskBytes    uint64 `json:"disk_bytes"`
}

// Store is the shared content backend. Implementations must be safe for
// concurrent use; callers never coordinate access.
type Store interface {
	// Stat returns resource metadata without content.
	Stat(ctx context.Context, p string) (Resource, error)
	// Get returns metadata and content.
	Get(ctx context.Context, p string) (Resource, error)
	// Children lists the direct members of a collection, sorted by path.
	Children(ctx context.Context, p string) ([]Resource, error)
	// NewBatch starts an atomic group of writes.
	NewBatch() Batch
	Ready() bool
	Stats(ctx context.Context) (Stats, error)
	DiskUsage() uint64
	Compact(ctx context.Context) error
	Close() error
}

// Batch groups writes that become visible together on Commit. Reads made
// through the batch observe its own pending writes. Close must always be
// called; it discards uncommitted writes. At most one batch is open per
// store at a time: NewBatch waits for the previous batch to be closed.
type Batch interface {
	// Put writes a resource. Its parent must be an existing collection.
	Put(res Resource) error
	// Delete removes a resource and everything below it.
	Delete(p string) error
	// Copy duplicates src and everything below it to dst. dst must not
	// exist and its parent must be an existing collection.
	Copy(src, dst string) error
	Stat(p string) (Resource, error)
	Commit(ctx context.Context) error
	Close() error
}

// Clean normalises a request path into the store's canonical form: rooted,
// no trailing slash, no dot segments.
func Clean(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

// Parent returns the canonical parent path of p; the root is its own parent.
func Parent(p string) string {
	return path.Dir(Clean(p))
}

// Within reports whether p equals root or lies below it.
func Within(p, root string) bool {
	p, root = Clean(p), Clean(root)
	if root == "/" || p == root {
		return true
	}
	return strings.HasPrefix(p, root+"/")
}
