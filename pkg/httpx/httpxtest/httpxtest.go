// Package httpxtest provides in-memory request contexts, listeners and
// handler doubles for exercising code built on httpx without a network.
package httpxtest

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"sync"

	"davhost/pkg/httpx"
	"davhost/pkg/store"
)

// RemoteAddr is the peer address every Context built by NewContext reports.
const RemoteAddr = "192.0.2.10:40000"

// Context is an httpx.Context whose request and response are plain fields,
// so tests can prepare them and inspect the result.
type Context struct {
	Req  *httpx.Request
	Resp httpx.Response

	mu      sync.Mutex
	closes  int
	aborted bool
	done    chan struct{}
}

// NewContext builds a request for method and target with a buffered
// response. target may carry a query string.
func NewContext(method, target string, body []byte) *Context {
	p := target
	if u, err := url.ParseRequestURI(target); err == nil {
		p = u.Path
	}
	return &Context{
		Req: &httpx.Request{
			Ctx:        context.Background(),
			Method:     method,
			URL:        target,
			Path:       p,
			Header:     make(http.Header),
			Body:       bytes.NewReader(body),
			RemoteAddr: RemoteAddr,
		},
		Resp: httpx.NewBufferedResponse(),
		done: make(chan struct{}),
	}
}

func (c *Context) Request() *httpx.Request { return c.Req }
func (c *Context) Response() httpx.Response { return c.Resp }

// Close records the call; the first one closes Done.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closes == 1 {
		close(c.done)
	}
	return nil
}

// Abort records that the connection should be dropped.
func (c *Context) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
}

// Aborted reports whether Abort was called.
func (c *Context) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// Closes reports how many times Close was called.
func (c *Context) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Done is closed by the first Close.
func (c *Context) Done() <-chan struct{} { return c.done }

// Body returns the recorded response body as a string.
func (c *Context) Body() string {
	if b, ok := c.Resp.(interface{ Body() []byte }); ok {
		return string(b.Body())
	}
	return ""
}

// FaultyResponse wraps a BufferedResponse whose Send fails on demand.
type FaultyResponse struct {
	*httpx.BufferedResponse
	// SendErr is returned by Send instead of recording anything.
	SendErr error
	// SendPanics makes Send panic.
	SendPanics bool
}

func (r *FaultyResponse) Send(status int, body []byte) error {
	if r.SendPanics {
		panic("httpxtest: send failed")
	}
	if r.SendErr != nil {
		return r.SendErr
	}
	return r.BufferedResponse.Send(status, body)
}

// Disposable wraps a Handler and counts calls to Close.
type Disposable struct {
	Handler httpx.Handler

	mu     sync.Mutex
	closes int
}

func (d *Disposable) Execute(c httpx.Context, st store.Store) (bool, error) {
	return d.Handler.Execute(c, st)
}

func (d *Disposable) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

// Closes reports how many times Close was called.
func (d *Disposable) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Listener is an httpx.Listener fed by Push. Contexts are handed out in
// push order; Close and Fail take effect once the queue is drained.
type Listener struct {
	ch chan httpx.Context

	mu       sync.Mutex
	accepted int
	err      error
	once     sync.Once
}

// NewListener returns a Listener buffering up to size pushed contexts.
func NewListener(size int) *Listener {
	return &Listener{ch: make(chan httpx.Context, size)}
}

// Push queues c. It blocks when the buffer is full and panics after Close.
func (l *Listener) Push(c httpx.Context) { l.ch <- c }

// Close ends the stream with httpx.ErrListenerClosed.
func (l *Listener) Close() { l.Fail(httpx.ErrListenerClosed) }

// Fail ends the stream with err.
func (l *Listener) Fail(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.ch)
	})
}

// Accepted reports how many contexts Accept has returned.
func (l *Listener) Accepted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepted
}

func (l *Listener) Accept(ctx context.Context) (httpx.Context, error) {
	select {
	case c, ok := <-l.ch:
		l.mu.Lock()
		defer l.mu.Unlock()
		if !ok {
			return nil, l.err
		}
		l.accepted++
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
