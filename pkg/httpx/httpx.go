package httpx

import (
	"context"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"

	"davhost/pkg/store"
)

var (
	// ErrListenerClosed is returned by Listener.Accept once the listener
	// has been closed and no further contexts will be produced.
	ErrListenerClosed = errors.New("httpx: listener closed")
	// ErrResponseSent is returned by Response.Send when a terminal status
	// was already sent for the response.
	ErrResponseSent = errors.New("httpx: response already sent")
)

// Request is the unified, read-only request representation used by handlers.
// Handlers should prefer using Request.Ctx for cancellations/values.
type Request struct {
	Ctx    context.Context
	Method string
	// URL is the request target as received (path plus query).
	URL    string
	Path   string
	Header http.Header
	Body   io.Reader
	// RemoteAddr is empty when the transport does not know the peer.
	RemoteAddr string
	// Raw holds the underlying transport-specific request object
	// (e.g. *http.Request or *fasthttp.RequestCtx) for escape hatches.
	Raw interface{}
}

// Context returns the request's context, never nil.
func (r *Request) Context() context.Context {
	if r.Ctx == nil {
		return context.Background()
	}
	return r.Ctx
}

// Response is a write-once sink for one request. Headers may be set until
// the transport flushes the response; Send records the terminal status.
type Response interface {
	Header() http.Header
	// Send records the terminal status and body. A second call returns
	// ErrResponseSent and leaves the first response untouched.
	Send(status int, body []byte) error
	Status() int
	Sent() bool
}

// Context pairs one inbound Request with its Response. It must be closed
// exactly once by whoever accepted it.
type Context interface {
	Request() *Request
	Response() Response
	Close() error
}

// Handler executes one request against the shared store. It returns false
// when it ran but declined to process the request. A Handler that also
// implements io.Closer is closed after use regardless of outcome.
type Handler interface {
	Execute(c Context, st store.Store) (bool, error)
}

// Resolver maps a context to a handler. (nil, nil) means the request is
// not supported; a non-nil error means resolution itself failed.
type Resolver interface {
	Resolve(c Context) (Handler, error)
}

// ResolverFunc adapts a function into a Resolver.
type ResolverFunc func(c Context) (Handler, error)

// Resolve calls f(c).
func (f ResolverFunc) Resolve(c Context) (Handler, error) { return f(c) }

// Listener produces request contexts. Accept blocks until a context is
// available, the listener is closed (ErrListenerClosed) or ctx is done.
type Listener interface {
	Accept(ctx context.Context) (Context, error)
}

// Aborter is implemented by contexts whose transport can drop the
// connection instead of answering. A context closed without Send and
// without Abort is answered with an empty 200.
type Aborter interface {
	Abort()
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(c Context, st store.Store) (bool, error)

// Execute calls f(c, st).
func (f HandlerFunc) Execute(c Context, st store.Store) (bool, error) { return f(c, st) }
