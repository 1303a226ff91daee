package httpx

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
)

// NetHTTPOptions configures the net/http transport.
type NetHTTPOptions struct {
	ListenerOptions
	MaxRequestBodySize int64
}

// NetHTTPListener is a Listener that is also an http.Handler: mount it on
// an http.Server and every request it serves is handed to Accept.
type NetHTTPListener struct {
	queue
	maxBody int64
}

// NewNetHTTPListener builds the listener.
func NewNetHTTPListener(opts NetHTTPOptions) *NetHTTPListener {
	return &NetHTTPListener{queue: newQueue(opts.ListenerOptions), maxBody: opts.MaxRequestBodySize}
}

// Close ends the context stream. Requests arriving afterwards are answered
// with 503 by ServeHTTP. The owning http.Server is shut down separately.
func (l *NetHTTPListener) Close() error {
	l.queue.close()
	return nil
}

func (l *NetHTTPListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !l.admit(r.RemoteAddr) {
		l.refuse(w, http.StatusServiceUnavailable)
		return
	}

	// net/http closes r.Body when ServeHTTP returns, which can happen
	// before the dispatch unit is done with it
	body, err := l.readBody(w, r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			l.refuse(w, http.StatusRequestEntityTooLarge)
			return
		}
		l.refuse(w, http.StatusBadRequest)
		return
	}

	tc := newTransportContext(&Request{
		Ctx:        r.Context(),
		Method:     r.Method,
		URL:        r.URL.RequestURI(),
		Path:       r.URL.Path,
		Header:     r.Header.Clone(),
		Body:       bytes.NewReader(body),
		RemoteAddr: r.RemoteAddr,
		Raw:        r,
	})
	if !l.offer(tc) {
		l.refuse(w, http.StatusServiceUnavailable)
		return
	}

	select {
	case <-tc.done:
	case <-r.Context().Done():
		// client went away; whoever owns tc still closes it
		return
	}

	status, header, out, drop := tc.outcome()
	if drop {
		panic(http.ErrAbortHandler)
	}
	for k, v := range header {
		w.Header()[k] = append([]string(nil), v...)
	}
	if w.Header().Get("Content-Length") == "" && r.Method != http.MethodHead && bodyAllowed(status) {
		w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead && bodyAllowed(status) {
		_, _ = w.Write(out)
	}
}

func (l *NetHTTPListener) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	var rd io.Reader = r.Body
	if l.maxBody > 0 {
		rd = http.MaxBytesReader(w, r.Body, l.maxBody)
	}
	return io.ReadAll(rd)
}

// refuse answers a request the listener handles itself.
func (l *NetHTTPListener) refuse(w http.ResponseWriter, status int) {
	if l.server != "" {
		w.Header().Set("Server", l.server)
	}
	http.Error(w, http.StatusText(status), status)
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}
