package httpx

import (
	"net/http"
	"sync"
)

// BufferedResponse is the Response implementation shared by the listeners.
// It records headers, status and body in memory; the transport writes them
// out once the owning context is closed.
type BufferedResponse struct {
	mu     sync.Mutex
	header http.Header
	status int
	body   []byte
	sent   bool
}

// NewBufferedResponse returns an empty, unsent response.
func NewBufferedResponse() *BufferedResponse {
	return &BufferedResponse{header: make(http.Header)}
}

func (r *BufferedResponse) Header() http.Header { return r.header }

func (r *BufferedResponse) Send(status int, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent {
		return ErrResponseSent
	}
	r.sent = true
	r.status = status
	r.body = append([]byte(nil), body...)
	return nil
}

func (r *BufferedResponse) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *BufferedResponse) Sent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

// Body returns a copy of the recorded body.
func (r *BufferedResponse) Body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.body...)
}

// snapshot returns everything a transport needs to write the response.
func (r *BufferedResponse) snapshot() (status int, header http.Header, body []byte, sent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.header.Clone(), r.body, r.sent
}
