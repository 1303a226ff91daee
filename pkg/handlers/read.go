package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"davhost/pkg/httpx"
	"davhost/pkg/store"
)

type options struct {
	methods func() []string
}

func (h options) Execute(c httpx.Context, _ store.Store) (bool, error) {
	hdr := c.Response().Header()
	hdr.Set("Allow", strings.Join(h.methods(), ", "))
	hdr.Set("DAV", "1")
	hdr.Set("MS-Author-Via", "DAV")
	return true, c.Response().Send(http.StatusOK, nil)
}

// read serves GET and HEAD. Collections are rendered as a plain listing
// of their members, one per line, collections with a trailing slash.
type read struct {
	head bool
}

func (h read) Execute(c httpx.Context, st store.Store) (bool, error) {
	req := c.Request()
	resp := c.Response()
	p := store.Clean(req.Path)

	res, err := st.Get(req.Context(), p)
	if errors.Is(err, store.ErrNotFound) {
		return true, sendText(resp, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	}
	if err != nil {
		return false, errors.Wrapf(err, "get %s", p)
	}

	body := res.Content
	contentType := res.ContentType
	if res.Collection {
		kids, err := st.Children(req.Context(), p)
		if err != nil {
			return false, errors.Wrapf(err, "list %s", p)
		}
		var b strings.Builder
		for _, k := range kids {
			b.WriteString(k.Name())
			if k.Collection {
				b.WriteByte('/')
			}
			b.WriteByte('\n')
		}
		body = []byte(b.String())
		contentType = "text/plain; charset=utf-8"
	} else {
		resp.Header().Set("ETag", quote(res.ETag))
		if match := req.Header.Get("If-None-Match"); match != "" && etagMatches(match, res.ETag) {
			return true, resp.Send(http.StatusNotModified, nil)
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hdr := resp.Header()
	hdr.Set("Content-Type", contentType)
	if !res.Modified.IsZero() {
		hdr.Set("Last-Modified", res.Modified.UTC().Format(http.TimeFormat))
	}
	hdr.Set("Content-Length", strconv.Itoa(len(body)))
	if h.head {
		return true, resp.Send(http.StatusOK, nil)
	}
	return true, resp.Send(http.StatusOK, body)
}

func quote(etag string) string { return `"` + etag + `"` }

func etagMatches(header, etag string) bool {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "*" || strings.TrimPrefix(part, "W/") == quote(etag) {
			return true
		}
	}
	return false
}

func sendText(resp httpx.Response, status int, msg string) error {
	resp.Header().Set("Content-Type", "text/plain; charset=utf-8")
	return resp.Send(status, []byte(msg))
}
