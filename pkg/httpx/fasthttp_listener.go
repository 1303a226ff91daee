package httpx

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

// FastHTTPOptions configures the fasthttp transport.
type FastHTTPOptions struct {
	ListenerOptions
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxRequestBodySize int
}

// FastHTTPListener is a Listener backed by a fasthttp.Server. Every request
// the server receives is turned into a Context and handed to Accept; the
// server goroutine then waits until the context is closed and writes the
// buffered response.
type FastHTTPListener struct {
	queue
	srv *fasthttp.Server
}

// NewFastHTTPListener builds the listener; call Serve or ListenAndServe to
// start receiving requests.
func NewFastHTTPListener(opts FastHTTPOptions) *FastHTTPListener {
	l := &FastHTTPListener{queue: newQueue(opts.ListenerOptions)}
	l.srv = &fasthttp.Server{
		Handler:               l.handle,
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		MaxRequestBodySize:    opts.MaxRequestBodySize,
		NoDefaultServerHeader: true,
	}
	return l
}

// Serve serves requests from ln until Close is called.
func (l *FastHTTPListener) Serve(ln net.Listener) error {
	return l.srv.Serve(ln)
}

// ListenAndServe listens on addr and serves requests until Close is called.
func (l *FastHTTPListener) ListenAndServe(addr string) error {
	return l.srv.ListenAndServe(addr)
}

// Close ends the context stream and shuts the server down. It blocks until
// requests already handed to Accept have been closed by their owner.
func (l *FastHTTPListener) Close() error {
	l.queue.close()
	return l.srv.Shutdown()
}

func (l *FastHTTPListener) handle(ctx *fasthttp.RequestCtx) {
	remote := ctx.RemoteAddr().String()
	if !l.admit(remote) {
		l.refuse(ctx, fasthttp.StatusServiceUnavailable)
		return
	}

	// create a cancellable context for this request
	cctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hdr := make(http.Header)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		key := http.CanonicalHeaderKey(string(k))
		hdr[key] = append(hdr[key], string(v))
	})

	// fasthttp reuses its buffers once the handler returns
	body := append([]byte(nil), ctx.PostBody()...)

	tc := newTransportContext(&Request{
		Ctx:        cctx,
		Method:     string(ctx.Method()),
		URL:        string(ctx.RequestURI()),
		Path:       string(ctx.Path()),
		Header:     hdr,
		Body:       bytes.NewReader(body),
		RemoteAddr: remote,
		Raw:        ctx,
	})
	if !l.offer(tc) {
		l.refuse(ctx, fasthttp.StatusServiceUnavailable)
		return
	}
	<-tc.done

	status, header, out, drop := tc.outcome()
	if drop {
		// nothing to say: drop the connection without a status line
		ctx.HijackSetNoResponse(true)
		ctx.Hijack(func(net.Conn) {})
		return
	}
	for k, vals := range header {
		for i, v := range vals {
			if i == 0 {
				ctx.Response.Header.Set(k, v)
				continue
			}
			ctx.Response.Header.Add(k, v)
		}
	}
	ctx.SetStatusCode(status)
	ctx.SetBody(out)
}

// refuse answers a request the listener handles itself.
func (l *FastHTTPListener) refuse(ctx *fasthttp.RequestCtx, status int) {
	ctx.Error(http.StatusText(status), status)
	if l.server != "" {
		ctx.Response.Header.Set("Server", l.server)
	}
}
