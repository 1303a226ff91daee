package handlers

import (
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"davhost/pkg/httpx"
	"davhost/pkg/httpx/httpxtest"
	"davhost/pkg/store"
)

func openStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// do resolves and runs one request the way the dispatcher would, including
// disposal.
func do(t *testing.T, st store.Store, method, target string, body []byte, hdr map[string]string) (*httpxtest.Context, bool) {
	t.Helper()
	c := httpxtest.NewContext(method, target, body)
	for k, v := range hdr {
		c.Req.Header.Set(k, v)
	}
	h, err := NewTable().Resolve(c)
	require.NoError(t, err)
	require.NotNil(t, h, "no handler for %s", method)
	ok, err := h.Execute(c, st)
	require.NoError(t, err)
	if closer, isCloser := h.(interface{ Close() error }); isCloser {
		require.NoError(t, closer.Close())
	}
	return c, ok
}

func status(t *testing.T, st store.Store, method, target string, body []byte, hdr map[string]string) int {
	t.Helper()
	c, ok := do(t, st, method, target, body, hdr)
	require.True(t, ok)
	return c.Resp.Status()
}

func TestTableResolve(t *testing.T) {
	tbl := NewTable()
	assert.Equal(t, []string{"COPY", "DELETE", "GET", "HEAD", "MKCOL", "MOVE", "OPTIONS", "PUT"}, tbl.Methods())

	h, err := tbl.Resolve(httpxtest.NewContext("LOCK", "/", nil))
	assert.NoError(t, err)
	assert.Nil(t, h)

	h, err = tbl.Resolve(httpxtest.NewContext("get", "/", nil))
	assert.NoError(t, err)
	assert.NotNil(t, h)

	tbl.Register("LOCK", nil)
	_, err = tbl.Resolve(httpxtest.NewContext("LOCK", "/", nil))
	assert.Error(t, err)

	tbl.Register("LOCK", func() httpx.Handler {
		return httpx.HandlerFunc(func(httpx.Context, store.Store) (bool, error) { return true, nil })
	})
	h, err = tbl.Resolve(httpxtest.NewContext("LOCK", "/", nil))
	assert.NoError(t, err)
	assert.NotNil(t, h)
}

func TestOptionsAdvertisesMethods(t *testing.T) {
	st := openStore(t)
	c, ok := do(t, st, http.MethodOptions, "/", nil, nil)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, c.Resp.Status())
	assert.Equal(t, "1", c.Resp.Header().Get("DAV"))
	assert.Contains(t, c.Resp.Header().Get("Allow"), "MKCOL")
}

func TestPutThenGet(t *testing.T) {
	st := openStore(t)
	assert.Equal(t, http.StatusCreated, status(t, st, http.MethodPut, "/a.txt", []byte("hello"), map[string]string{"Content-Type": "text/plain"}))
	pc, ok := do(t, st, http.MethodPut, "/a.txt", []byte("hello again"), nil)
	require.True(t, ok)
	assert.Equal(t, http.StatusNoContent, pc.Resp.Status())

	c, ok := do(t, st, http.MethodGet, "/a.txt", nil, nil)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, c.Resp.Status())
	assert.Equal(t, "hello again", c.Body())
	assert.Equal(t, "application/octet-stream", c.Resp.Header().Get("Content-Type"))
	etag := c.Resp.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, etag, pc.Resp.Header().Get("ETag"))
	assert.NotEmpty(t, c.Resp.Header().Get("Last-Modified"))

	c, _ = do(t, st, http.MethodGet, "/a.txt", nil, map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, c.Resp.Status())

	c, _ = do(t, st, http.MethodHead, "/a.txt", nil, nil)
	assert.Equal(t, http.StatusOK, c.Resp.Status())
	assert.Equal(t, "", c.Body())
	assert.Equal(t, "11", c.Resp.Header().Get("Content-Length"))
}

func TestGetMissingAndCollectionListing(t *testing.T) {
	st := openStore(t)
	assert.Equal(t, http.StatusNotFound, status(t, st, http.MethodGet, "/nope", nil, nil))

	require.Equal(t, http.StatusCreated, status(t, st, MethodMkcol, "/docs", nil, nil))
	require.Equal(t, http.StatusCreated, status(t, st, MethodMkcol, "/docs/sub", nil, nil))
	require.Equal(t, http.StatusCreated, status(t, st, http.MethodPut, "/docs/a.txt", []byte("a"), nil))

	c, _ := do(t, st, http.MethodGet, "/docs/", nil, nil)
	assert.Equal(t, http.StatusOK, c.Resp.Status())
	assert.Equal(t, "a.txt\nsub/\n", c.Body())
}

func TestPutStatusRules(t *testing.T) {
	st := openStore(t)
	assert.Equal(t, http.StatusConflict, status(t, st, http.MethodPut, "/missing/a.txt", []byte("x"), nil))
	assert.Equal(t, http.StatusMethodNotAllowed, status(t, st, http.MethodPut, "/", []byte("x"), nil))
	require.Equal(t, http.StatusCreated, status(t, st, MethodMkcol, "/col", nil, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, status(t, st, http.MethodPut, "/col", []byte("x"), nil))
}

func TestMkcolStatusRules(t *testing.T) {
	st := openStore(t)
	assert.Equal(t, http.StatusUnsupportedMediaType, status(t, st, MethodMkcol, "/c", []byte("<x/>"), nil))
	assert.Equal(t, http.StatusCreated, status(t, st, MethodMkcol, "/c", nil, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, status(t, st, MethodMkcol, "/c", nil, nil))
	assert.Equal(t, http.StatusConflict, status(t, st, MethodMkcol, "/x/y", nil, nil))
}

func TestDeleteStatusRules(t *testing.T) {
	st := openStore(t)
	assert.Equal(t, http.StatusForbidden, status(t, st, http.MethodDelete, "/", nil, nil))
	assert.Equal(t, http.StatusNotFound, status(t, st, http.MethodDelete, "/gone", nil, nil))

	require.Equal(t, http.StatusCreated, status(t, st, MethodMkcol, "/c", nil, nil))
	require.Equal(t, http.StatusCreated, status(t, st, http.MethodPut, "/c/f", []byte("f"), nil))
	assert.Equal(t, http.StatusNoContent, status(t, st, http.MethodDelete, "/c", nil, nil))
	assert.Equal(t, http.StatusNotFound, status(t, st, http.MethodGet, "/c/f", nil, nil))
}

func TestCopyAndMove(t *testing.T) {
	st := openStore(t)
	require.Equal(t, http.StatusCreated, status(t, st, MethodMkcol, "/src", nil, nil))
	require.Equal(t, http.StatusCreated, status(t, st, http.MethodPut, "/src/f", []byte("data"), nil))

	assert.Equal(t, http.StatusCreated, status(t, st, MethodCopy, "/src", nil, map[string]string{"Destination": "http://example.test/dst"}))
	c, _ := do(t, st, http.MethodGet, "/dst/f", nil, nil)
	assert.Equal(t, "data", c.Body())

	assert.Equal(t, http.StatusPreconditionFailed, status(t, st, MethodCopy, "/src", nil, map[string]string{"Destination": "/dst", "Overwrite": "F"}))
	assert.Equal(t, http.StatusNoContent, status(t, st, MethodCopy, "/src", nil, map[string]string{"Destination": "/dst"}))
	assert.Equal(t, http.StatusForbidden, status(t, st, MethodCopy, "/src", nil, map[string]string{"Destination": "/src"}))
	assert.Equal(t, http.StatusForbidden, status(t, st, MethodCopy, "/src", nil, map[string]string{"Destination": "/src/inner"}))
	assert.Equal(t, http.StatusNotFound, status(t, st, MethodCopy, "/nope", nil, map[string]string{"Destination": "/x"}))
	assert.Equal(t, http.StatusConflict, status(t, st, MethodCopy, "/src", nil, map[string]string{"Destination": "/no/parent"}))

	assert.Equal(t, http.StatusCreated, status(t, st, MethodMove, "/src", nil, map[string]string{"Destination": "/moved"}))
	assert.Equal(t, http.StatusNotFound, status(t, st, http.MethodGet, "/src/f", nil, nil))
	c, _ = do(t, st, http.MethodGet, "/moved/f", nil, nil)
	assert.Equal(t, "data", c.Body())
}

func TestTransferWithoutDestinationDeclines(t *testing.T) {
	st := openStore(t)
	c, ok := do(t, st, MethodMove, "/a", nil, nil)
	assert.False(t, ok)
	assert.False(t, c.Resp.Sent())
}

func TestMutationCloseWithoutExecute(t *testing.T) {
	m := &mutation{run: put}
	assert.NoError(t, m.Close())
}

// statFailsAfterPut hides a Put from the batch's own reads.
type statFailsAfterPut struct {
	store.Batch
	wrote bool
}

func (b *statFailsAfterPut) Put(res store.Resource) error {
	b.wrote = true
	return b.Batch.Put(res)
}

func (b *statFailsAfterPut) Stat(p string) (store.Resource, error) {
	if b.wrote {
		return store.Resource{}, errors.New("index unavailable")
	}
	return b.Batch.Stat(p)
}

func TestPutFailsWhenWriteCannotBeReadBack(t *testing.T) {
	st := openStore(t)
	b := &statFailsAfterPut{Batch: st.NewBatch()}
	defer b.Close()

	c := httpxtest.NewContext(http.MethodPut, "/a.txt", []byte("x"))
	ok, err := put(c, b)
	assert.False(t, ok)
	assert.ErrorContains(t, err, "index unavailable")
	assert.False(t, c.Resp.Sent())

	_, err = st.Stat(c.Req.Context(), "/a.txt")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
