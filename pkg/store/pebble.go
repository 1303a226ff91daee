package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"golang.org/x/crypto/blake2b"

	"davhost/pkg/logger"
)

// Key layout:
//
//	m:<path>  JSON encoded Resource metadata
//	c:<path>  raw content of a non-collection resource
const (
	metaPrefix    = "m:"
	contentPrefix = "c:"
)

// Pebble is the Store implementation backed by a Pebble database.
type Pebble struct {
	db     *pebble.DB
	dir    string
	closed atomic.Bool
	// writeMu is held by the open batch from NewBatch to Close, so each
	// batch validates parents against a tree no other batch is changing.
	writeMu sync.Mutex
}

var _ Store = (*Pebble)(nil)

// Open opens (or creates) a Pebble database at dir.
func Open(dir string) (*Pebble, error) {
	return OpenWithOptions(dir, &pebble.Options{})
}

// OpenInMemory opens a store on an in-memory filesystem.
func OpenInMemory() (*Pebble, error) {
	return OpenWithOptions("", &pebble.Options{FS: vfs.NewMem()})
}

// OpenWithOptions opens a store with caller supplied Pebble options.
func OpenWithOptions(dir string, opts *pebble.Options) (*Pebble, error) {
	logger.Info("opening_pebble_db", "path", dir)
	db, err := pebble.Open(dir, opts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", dir, "error", err)
		return nil, errors.Wrapf(err, "open pebble at %q", dir)
	}
	logger.Info("pebble_opened", "path", dir)
	return &Pebble{db: db, dir: dir}, nil
}

// Dir returns the directory the database lives in ("" for in-memory).
func (s *Pebble) Dir() string { return s.dir }

// Ready reports whether the store is open.
func (s *Pebble) Ready() bool {
	return s != nil && s.db != nil && !s.closed.Load()
}

// Close closes the database. Subsequent calls are no-ops.
func (s *Pebble) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "close pebble")
	}
	logger.Info("pebble_closed", "path", s.dir)
	return nil
}

func (s *Pebble) check(ctx context.Context) error {
	if !s.Ready() {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *Pebble) Stat(ctx context.Context, p string) (Resource, error) {
	if err := s.check(ctx); err != nil {
		return Resource{}, err
	}
	return readMeta(s.db, Clean(p))
}

func (s *Pebble) Get(ctx context.Context, p string) (Resource, error) {
	if err := s.check(ctx); err != nil {
		return Resource{}, err
	}
	p = Clean(p)
	res, err := readMeta(s.db, p)
	if err != nil || res.Collection {
		return res, err
	}
	v, closer, err := s.db.Get(contentKey(p))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		return res, nil
	case err != nil:
		return Resource{}, errors.Wrapf(err, "read content %s", p)
	}
	defer closer.Close()
	res.Content = append([]byte(nil), v...)
	return res, nil
}

func (s *Pebble) Children(ctx context.Context, p string) ([]Resource, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	p = Clean(p)
	parent, err := readMeta(s.db, p)
	if err != nil {
		return nil, err
	}
	if !parent.Collection {
		return nil, nil
	}
	prefix := metaPrefix + childPrefix(p)
	var out []Resource
	err = scan(s.db, prefix, func(k, v []byte) error {
		if strings.Contains(string(k[len(prefix):]), "/") {
			return nil
		}
		var r Resource
		if err := json.Unmarshal(v, &r); err != nil {
			return errors.Wrapf(err, "decode %s", k)
		}
		out = append(out, r)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, err
}

func (s *Pebble) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.check(ctx); err != nil {
		return st, err
	}
	err := scan(s.db, metaPrefix, func(_, v []byte) error {
		var r Resource
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		st.Resources++
		if r.Collection {
			st.Collections++
		}
		st.ContentBytes += r.Size
		return nil
	})
	st.DiskBytes = s.DiskUsage()
	return st, err
}

// DiskUsage returns the bytes Pebble reports for its files.
func (s *Pebble) DiskUsage() uint64 {
	if !s.Ready() {
		return 0
	}
	return s.db.Metrics().DiskSpaceUsage()
}

// Compact compacts the whole keyspace.
func (s *Pebble) Compact(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	start := time.Now()
	if err := s.db.Compact([]byte(contentPrefix), []byte("m;"), true); err != nil {
		return errors.Wrap(err, "compact")
	}
	logger.Info("pebble_compacted", "path", s.dir, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// NewBatch blocks while another batch is open.
func (s *Pebble) NewBatch() Batch {
	if !s.Ready() {
		return &pebbleBatch{err: ErrClosed}
	}
	s.writeMu.Lock()
	if !s.Ready() {
		s.writeMu.Unlock()
		return &pebbleBatch{err: ErrClosed}
	}
	return &pebbleBatch{b: s.db.NewIndexedBatch(), release: s.writeMu.Unlock}
}

type pebbleBatch struct {
	b       *pebble.Batch
	err     error
	closed  bool
	release func()
}

func (b *pebbleBatch) Stat(p string) (Resource, error) {
	if b.err != nil {
		return Resource{}, b.err
	}
	return readMeta(b.b, Clean(p))
}

func (b *pebbleBatch) Put(res Resource) error {
	if b.err != nil {
		return b.err
	}
	p := Clean(res.Path)
	if p == "/" {
		return ErrInvalidTarget
	}
	if err := b.requireCollection(Parent(p)); err != nil {
		return err
	}
	if cur, err := readMeta(b.b, p); err == nil && cur.Collection != res.Collection {
		return errors.Wrapf(ErrExists, "%s", p)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	res.Path = p
	res.Modified = time.Now().UTC()
	if res.Collection {
		res.Size, res.ETag, res.ContentType = 0, "", ""
		if err := b.b.Delete(contentKey(p), nil); err != nil {
			return err
		}
	} else {
		res.Size = int64(len(res.Content))
		res.ETag = etagOf(res.Content)
		if err := b.b.Set(contentKey(p), res.Content, nil); err != nil {
			return err
		}
	}
	return b.setMeta(res)
}

func (b *pebbleBatch) Delete(p string) error {
	if b.err != nil {
		return b.err
	}
	p = Clean(p)
	if p == "/" {
		return ErrInvalidTarget
	}
	if _, err := readMeta(b.b, p); err != nil {
		return err
	}
	keys := [][]byte{metaKey(p), contentKey(p)}
	for _, prefix := range []string{metaPrefix + p + "/", contentPrefix + p + "/"} {
		if err := scan(b.b, prefix, func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
	}
	for _, k := range keys {
		if err := b.b.Delete(k, nil); err != nil {
			return err
		}
	}
	return nil
}

func (b *pebbleBatch) Copy(src, dst string) error {
	if b.err != nil {
		return b.err
	}
	src, dst = Clean(src), Clean(dst)
	if dst == "/" || Within(dst, src) {
		return ErrInvalidTarget
	}
	root, err := readMeta(b.b, src)
	if err != nil {
		return err
	}
	if _, err := readMeta(b.b, dst); err == nil {
		return errors.Wrapf(ErrExists, "%s", dst)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := b.requireCollection(Parent(dst)); err != nil {
		return err
	}

	metas := []Resource{root}
	if root.Collection {
		if err := scan(b.b, metaPrefix+src+"/", func(_, v []byte) error {
			var r Resource
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			metas = append(metas, r)
			return nil
		}); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	for _, m := range metas {
		from := m.Path
		m.Path = dst + strings.TrimPrefix(from, src)
		m.Modified = now
		if !m.Collection {
			v, closer, err := b.b.Get(contentKey(from))
			if err != nil && !errors.Is(err, pebble.ErrNotFound) {
				return err
			}
			if err == nil {
				content := append([]byte(nil), v...)
				closer.Close()
				if err := b.b.Set(contentKey(m.Path), content, nil); err != nil {
					return err
				}
			}
		}
		if err := b.setMeta(m); err != nil {
			return err
		}
	}
	return nil
}

func (b *pebbleBatch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.b.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "commit batch")
	}
	return nil
}

func (b *pebbleBatch) Close() error {
	if b.b == nil || b.closed {
		return nil
	}
	b.closed = true
	defer b.release()
	return b.b.Close()
}

func (b *pebbleBatch) requireCollection(p string) error {
	parent, err := readMeta(b.b, p)
	if errors.Is(err, ErrNotFound) {
		return errors.Wrapf(ErrConflict, "%s", p)
	}
	if err != nil {
		return err
	}
	if !parent.Collection {
		return errors.Wrapf(ErrConflict, "%s is not a collection", p)
	}
	return nil
}

func (b *pebbleBatch) setMeta(res Resource) error {
	v, err := json.Marshal(res)
	if err != nil {
		return errors.Wrapf(err, "encode %s", res.Path)
	}
	return b.b.Set(metaKey(res.Path), v, nil)
}

func readMeta(r pebble.Reader, p string) (Resource, error) {
	if p == "/" {
		return Resource{Path: "/", Collection: true}, nil
	}
	v, closer, err := r.Get(metaKey(p))
	if errors.Is(err, pebble.ErrNotFound) {
		return Resource{}, errors.Wrapf(ErrNotFound, "%s", p)
	}
	if err != nil {
		return Resource{}, errors.Wrapf(err, "read %s", p)
	}
	defer closer.Close()
	var res Resource
	if err := json.Unmarshal(v, &res); err != nil {
		return Resource{}, errors.Wrapf(err, "decode %s", p)
	}
	return res, nil
}

// scan calls fn for every key starting with prefix, in key order.
func scan(r pebble.Reader, prefix string, fn func(k, v []byte) error) error {
	lower := []byte(prefix)
	iter, err := r.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upperBound(lower)})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func childPrefix(p string) string {
	if p == "/" {
		return "/"
	}
	return p + "/"
}

func metaKey(p string) []byte    { return []byte(metaPrefix + p) }
func contentKey(p string) []byte { return []byte(contentPrefix + p) }

func etagOf(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:16])
}
