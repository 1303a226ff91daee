package store

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *Pebble {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func put(t *testing.T, s Store, res Resource) {
	t.Helper()
	b := s.NewBatch()
	defer b.Close()
	require.NoError(t, b.Put(res))
	require.NoError(t, b.Commit(context.Background()))
}

func TestCleanAndParent(t *testing.T) {
	assert.Equal(t, "/", Clean(""))
	assert.Equal(t, "/a/b", Clean("a/b/"))
	assert.Equal(t, "/b", Clean("/a/../b"))
	assert.Equal(t, "/", Parent("/a"))
	assert.Equal(t, "/a", Parent("/a/b"))
	assert.True(t, Within("/a/b", "/a"))
	assert.True(t, Within("/a", "/a"))
	assert.False(t, Within("/ab", "/a"))
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	put(t, s, Resource{Path: "/notes.txt", ContentType: "text/plain", Content: []byte("hello")})

	res, err := s.Get(ctx, "/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(res.Content))
	assert.Equal(t, int64(5), res.Size)
	assert.NotEmpty(t, res.ETag)
	assert.Equal(t, "notes.txt", res.Name())

	meta, err := s.Stat(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Nil(t, meta.Content)
	assert.Equal(t, res.ETag, meta.ETag)
}

func TestPutRequiresParentCollection(t *testing.T) {
	s := openMem(t)
	b := s.NewBatch()
	defer b.Close()

	err := b.Put(Resource{Path: "/missing/file", Content: []byte("x")})
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestStatMissing(t *testing.T) {
	s := openMem(t)
	_, err := s.Stat(context.Background(), "/nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	root, err := s.Stat(context.Background(), "/")
	require.NoError(t, err)
	assert.True(t, root.Collection)
}

func TestChildrenOnlyDirectMembers(t *testing.T) {
	s := openMem(t)
	put(t, s, Resource{Path: "/docs", Collection: true})
	put(t, s, Resource{Path: "/docs/a.txt", Content: []byte("a")})
	put(t, s, Resource{Path: "/docs/sub", Collection: true})
	put(t, s, Resource{Path: "/docs/sub/b.txt", Content: []byte("b")})
	put(t, s, Resource{Path: "/docsx", Collection: true})

	kids, err := s.Children(context.Background(), "/docs")
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, "/docs/a.txt", kids[0].Path)
	assert.Equal(t, "/docs/sub", kids[1].Path)

	top, err := s.Children(context.Background(), "/")
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestDeleteIsRecursive(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	put(t, s, Resource{Path: "/docs", Collection: true})
	put(t, s, Resource{Path: "/docs/a.txt", Content: []byte("a")})
	put(t, s, Resource{Path: "/docs2", Collection: true})

	b := s.NewBatch()
	require.NoError(t, b.Delete("/docs"))
	require.NoError(t, b.Commit(ctx))
	require.NoError(t, b.Close())

	_, err := s.Stat(ctx, "/docs/a.txt")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Stat(ctx, "/docs2")
	assert.NoError(t, err)
}

func TestCopyTree(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	put(t, s, Resource{Path: "/src", Collection: true})
	put(t, s, Resource{Path: "/src/a.txt", Content: []byte("a")})

	b := s.NewBatch()
	require.NoError(t, b.Copy("/src", "/dst"))
	assert.True(t, errors.Is(b.Copy("/src", "/src/inner"), ErrInvalidTarget))
	assert.True(t, errors.Is(b.Copy("/src", "/dst"), ErrExists))
	require.NoError(t, b.Commit(ctx))
	require.NoError(t, b.Close())

	res, err := s.Get(ctx, "/dst/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a", string(res.Content))
}

func TestUncommittedBatchIsDiscarded(t *testing.T) {
	s := openMem(t)
	b := s.NewBatch()
	require.NoError(t, b.Put(Resource{Path: "/tmp.txt", Content: []byte("x")}))
	_, err := b.Stat("/tmp.txt")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = s.Stat(context.Background(), "/tmp.txt")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStatsAndClose(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	put(t, s, Resource{Path: "/d", Collection: true})
	put(t, s, Resource{Path: "/d/f", Content: []byte("1234")})

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Resources)
	assert.Equal(t, 1, st.Collections)
	assert.Equal(t, int64(4), st.ContentBytes)

	require.NoError(t, s.Compact(ctx))
	require.NoError(t, s.Close())
	assert.False(t, s.Ready())
	_, err = s.Stat(ctx, "/d")
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(s.NewBatch().Put(Resource{Path: "/x"}), ErrClosed))
}

func TestConcurrentBatchesKeepTreeConsistent(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	put(t, s, Resource{Path: "/a", Collection: true})

	writer := s.NewBatch()
	require.NoError(t, writer.Put(Resource{Path: "/a/x", Content: []byte("hi")}))

	deleted := make(chan error, 1)
	go func() {
		b := s.NewBatch()
		defer b.Close()
		if err := b.Delete("/a"); err != nil {
			deleted <- err
			return
		}
		deleted <- b.Commit(ctx)
	}()

	select {
	case <-deleted:
		t.Fatal("second batch ran while the first was open")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, writer.Commit(ctx))
	require.NoError(t, writer.Close())
	require.NoError(t, <-deleted)

	_, err := s.Stat(ctx, "/a")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Stat(ctx, "/a/x")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPutAfterParentDeletedConflicts(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	put(t, s, Resource{Path: "/a", Collection: true})

	b := s.NewBatch()
	require.NoError(t, b.Delete("/a"))
	require.NoError(t, b.Commit(ctx))
	require.NoError(t, b.Close())

	b = s.NewBatch()
	defer b.Close()
	assert.True(t, errors.Is(b.Put(Resource{Path: "/a/x", Content: []byte("hi")}), ErrConflict))
}
