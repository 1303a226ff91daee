package handlers

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"davhost/pkg/httpx"
	"davhost/pkg/store"
)

// mutation runs one write verb inside a store batch. The batch is opened
// by Execute and released by Close, which the caller invokes whatever the
// outcome; uncommitted writes are discarded there.
type mutation struct {
	batch store.Batch
	run   func(c httpx.Context, b store.Batch) (bool, error)
}

func (m *mutation) Execute(c httpx.Context, st store.Store) (bool, error) {
	m.batch = st.NewBatch()
	return m.run(c, m.batch)
}

func (m *mutation) Close() error {
	if m.batch == nil {
		return nil
	}
	err := m.batch.Close()
	m.batch = nil
	return err
}

func put(c httpx.Context, b store.Batch) (bool, error) {
	req := c.Request()
	resp := c.Response()
	p := store.Clean(req.Path)
	if p == "/" {
		return true, sendText(resp, http.StatusMethodNotAllowed, "cannot PUT to the root collection")
	}

	existing, err := b.Stat(p)
	created := errors.Is(err, store.ErrNotFound)
	switch {
	case err != nil && !created:
		return false, errors.Wrapf(err, "stat %s", p)
	case !created && existing.Collection:
		return true, sendText(resp, http.StatusMethodNotAllowed, "target is a collection")
	}

	var content []byte
	if req.Body != nil {
		if content, err = io.ReadAll(req.Body); err != nil {
			return false, errors.Wrap(err, "read request body")
		}
	}
	ct := req.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	err = b.Put(store.Resource{Path: p, ContentType: ct, Content: content, Modified: time.Now()})
	if errors.Is(err, store.ErrConflict) {
		return true, sendText(resp, http.StatusConflict, http.StatusText(http.StatusConflict))
	}
	if err != nil {
		return false, errors.Wrapf(err, "put %s", p)
	}
	res, err := b.Stat(p)
	if err != nil {
		return false, errors.Wrapf(err, "stat %s after put", p)
	}
	if err := b.Commit(req.Context()); err != nil {
		return false, errors.Wrap(err, "commit")
	}
	if res.ETag != "" {
		resp.Header().Set("ETag", quote(res.ETag))
	}
	if created {
		return true, resp.Send(http.StatusCreated, nil)
	}
	return true, resp.Send(http.StatusNoContent, nil)
}

func remove(c httpx.Context, b store.Batch) (bool, error) {
	req := c.Request()
	resp := c.Response()
	p := store.Clean(req.Path)
	if p == "/" {
		return true, sendText(resp, http.StatusForbidden, "cannot delete the root collection")
	}
	if _, err := b.Stat(p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true, sendText(resp, http.StatusNotFound, http.StatusText(http.StatusNotFound))
		}
		return false, errors.Wrapf(err, "stat %s", p)
	}
	if err := b.Delete(p); err != nil {
		return false, errors.Wrapf(err, "delete %s", p)
	}
	if err := b.Commit(req.Context()); err != nil {
		return false, errors.Wrap(err, "commit")
	}
	return true, resp.Send(http.StatusNoContent, nil)
}

func mkcol(c httpx.Context, b store.Batch) (bool, error) {
	req := c.Request()
	resp := c.Response()
	p := store.Clean(req.Path)

	if req.Body != nil {
		var one [1]byte
		if n, _ := io.ReadFull(req.Body, one[:]); n > 0 {
			return true, sendText(resp, http.StatusUnsupportedMediaType, "MKCOL does not accept a body")
		}
	}
	if _, err := b.Stat(p); err == nil {
		return true, sendText(resp, http.StatusMethodNotAllowed, "resource already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, errors.Wrapf(err, "stat %s", p)
	}

	err := b.Put(store.Resource{Path: p, Collection: true, Modified: time.Now()})
	if errors.Is(err, store.ErrConflict) {
		return true, sendText(resp, http.StatusConflict, http.StatusText(http.StatusConflict))
	}
	if err != nil {
		return false, errors.Wrapf(err, "mkcol %s", p)
	}
	if err := b.Commit(req.Context()); err != nil {
		return false, errors.Wrap(err, "commit")
	}
	return true, resp.Send(http.StatusCreated, nil)
}

// transfer implements COPY and, with move set, MOVE. A request without a
// usable Destination header is declined.
func transfer(move bool) func(httpx.Context, store.Batch) (bool, error) {
	return func(c httpx.Context, b store.Batch) (bool, error) {
		req := c.Request()
		resp := c.Response()
		src := store.Clean(req.Path)
		dst, ok := destination(req.Header.Get("Destination"))
		if !ok {
			return false, nil
		}
		if src == dst || (move && src == "/") {
			return true, sendText(resp, http.StatusForbidden, "source and destination conflict")
		}
		if _, err := b.Stat(src); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return true, sendText(resp, http.StatusNotFound, http.StatusText(http.StatusNotFound))
			}
			return false, errors.Wrapf(err, "stat %s", src)
		}

		overwrite := !strings.EqualFold(strings.TrimSpace(req.Header.Get("Overwrite")), "F")
		_, err := b.Stat(dst)
		replaced := err == nil
		switch {
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return false, errors.Wrapf(err, "stat %s", dst)
		case replaced && !overwrite:
			return true, sendText(resp, http.StatusPreconditionFailed, "destination exists")
		case replaced && store.Within(src, dst):
			return true, sendText(resp, http.StatusForbidden, "destination contains the source")
		case replaced:
			if err := b.Delete(dst); err != nil {
				return false, errors.Wrapf(err, "delete %s", dst)
			}
		}

		err = b.Copy(src, dst)
		switch {
		case errors.Is(err, store.ErrConflict):
			return true, sendText(resp, http.StatusConflict, http.StatusText(http.StatusConflict))
		case errors.Is(err, store.ErrInvalidTarget):
			return true, sendText(resp, http.StatusForbidden, "destination lies inside the source")
		case err != nil:
			return false, errors.Wrapf(err, "copy %s to %s", src, dst)
		}
		if move {
			if err := b.Delete(src); err != nil {
				return false, errors.Wrapf(err, "delete %s", src)
			}
		}
		if err := b.Commit(req.Context()); err != nil {
			return false, errors.Wrap(err, "commit")
		}
		resp.Header().Set("Location", dst)
		if replaced {
			return true, resp.Send(http.StatusNoContent, nil)
		}
		return true, resp.Send(http.StatusCreated, nil)
	}
}

// destination extracts the target path from a Destination header, which
// may be an absolute URI or an absolute path.
func destination(h string) (string, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", false
	}
	u, err := url.Parse(h)
	if err != nil || u.Path == "" {
		return "", false
	}
	return store.Clean(u.Path), true
}
