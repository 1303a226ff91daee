package httpx

import (
	"context"
	"net"
	"strings"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// transportContext is the Context handed out by the listeners. The
// transport callback that created it blocks on done until Close is called.
type transportContext struct {
	req     *Request
	resp    *BufferedResponse
	once    sync.Once
	done    chan struct{}
	aborted atomic.Bool
}

func newTransportContext(req *Request) *transportContext {
	return &transportContext{req: req, resp: NewBufferedResponse(), done: make(chan struct{})}
}

func (c *transportContext) Request() *Request   { return c.req }
func (c *transportContext) Response() Response { return c.resp }

func (c *transportContext) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Abort asks the transport to drop the connection once the context is
// closed, unless a response was already sent.
func (c *transportContext) Abort() { c.aborted.Store(true) }

// outcome is what the transport writes once the context is closed. drop
// means no status line at all.
func (c *transportContext) outcome() (status int, header http.Header, body []byte, drop bool) {
	status, header, body, sent := c.resp.snapshot()
	if sent {
		return status, header, body, false
	}
	if c.aborted.Load() {
		return 0, nil, nil, true
	}
	return http.StatusOK, header, nil, false
}

// ListenerOptions configures admission for both listener flavours.
type ListenerOptions struct {
	// RPS and Burst enable per-remote-host rate limiting when both are > 0.
	RPS   float64
	Burst int
	// OnReject is called for every request refused before it reaches Accept.
	OnReject func(remote string)
	// Server is the Server header value for responses the listener
	// writes on its own (admission refusals, oversized bodies).
	Server string
}

// queue hands transport contexts from the transport's goroutines to Accept.
// The channel is unbuffered so a context is either accepted or refused,
// never dropped.
type queue struct {
	ch        chan *transportContext
	closed    chan struct{}
	closeOnce sync.Once
	limiter   *limiterPool
	onReject  func(remote string)
	server    string
}

func newQueue(opts ListenerOptions) queue {
	return queue{
		ch:       make(chan *transportContext),
		closed:   make(chan struct{}),
		limiter:  newLimiterPool(opts.RPS, opts.Burst, 10*time.Minute),
		onReject: opts.OnReject,
		server:   opts.Server,
	}
}

// Accept implements Listener.
func (q *queue) Accept(ctx context.Context) (Context, error) {
	select {
	case c := <-q.ch:
		return c, nil
	case <-q.closed:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// admit applies rate limiting for the remote host.
func (q *queue) admit(remote string) bool {
	if q.limiter.Allow(hostOf(remote), time.Now()) {
		return true
	}
	q.reject(remote)
	return false
}

// offer blocks until Accept takes c or the listener closes.
func (q *queue) offer(c *transportContext) bool {
	select {
	case <-q.closed:
		q.reject(c.req.RemoteAddr)
		return false
	default:
	}
	select {
	case q.ch <- c:
		return true
	case <-q.closed:
		q.reject(c.req.RemoteAddr)
		return false
	}
}

func (q *queue) reject(remote string) {
	if q.onReject != nil {
		q.onReject(remote)
	}
}

func (q *queue) close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

func hostOf(remote string) string {
	if h, _, err := net.SplitHostPort(remote); err == nil {
		return h
	}
	return strings.TrimSpace(remote)
}
