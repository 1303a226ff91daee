// Package dispatch runs the accept loop of the server: it pulls request
// contexts from a listener, resolves a handler for each one, runs it
// against the shared store and guarantees that every context is closed
// exactly once whatever happens along the way.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"davhost/pkg/handlers"
	"davhost/pkg/httpx"
	"davhost/pkg/identity"
	"davhost/pkg/logger"
	"davhost/pkg/store"
)

var (
	// ErrInvalidArgument is the class of construction errors.
	ErrInvalidArgument = errors.New("dispatch: invalid argument")
	ErrNilStore        = errors.Wrap(ErrInvalidArgument, "store is required")
	ErrNilListener     = errors.Wrap(ErrInvalidArgument, "listener is required")
	// ErrPanic marks errors recovered from a panic.
	ErrPanic = errors.New("dispatch: recovered panic")
)

// Bodies of the responses the supervisor itself sends.
const (
	BodyUnsupported  = "Unsupported request"
	BodyNotProcessed = "Request not processed"
)

// Supervisor owns the accept loop and the per-request dispatch lifecycle.
type Supervisor struct {
	store    store.Store
	listener httpx.Listener
	resolver httpx.Resolver
	log      *slog.Logger
	server   string
	observer Observer

	wg sync.WaitGroup
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithResolver replaces the default method-table resolver.
func WithResolver(r httpx.Resolver) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithLogger sets the logger; the global logger is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithIdentity sets the identity whose Server value is attached to every
// response.
func WithIdentity(id identity.Identity) Option {
	return func(s *Supervisor) { s.server = id.Server() }
}

// WithObserver registers lifecycle callbacks, typically metrics.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		if o != nil {
			s.observer = o
		}
	}
}

// New builds a Supervisor. The store and the listener are required.
func New(st store.Store, ln httpx.Listener, opts ...Option) (*Supervisor, error) {
	if st == nil {
		return nil, ErrNilStore
	}
	if ln == nil {
		return nil, ErrNilListener
	}
	s := &Supervisor{
		store:    st,
		listener: ln,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = handlers.NewTable()
	}
	if s.server == "" {
		s.server = identity.New(identity.DefaultProduct, "", "", "").Server()
	}
	s.log = logger.OrDefault(s.log)
	return s, nil
}

// Serve runs the accept loop until the listener reports the end of its
// stream or ctx is cancelled. Each context is dispatched on its own
// goroutine; Serve waits for all of them before returning. A non-nil error
// means the listener itself failed.
func (s *Supervisor) Serve(ctx context.Context) error {
	defer s.wg.Wait()
	s.log.Info("accept_loop_started", "server", s.server)
	for {
		c, err := s.listener.Accept(ctx)
		if err != nil {
			if errors.Is(err, httpx.ErrListenerClosed) || ctx.Err() != nil {
				s.log.Info("accept_loop_stopped")
				return nil
			}
			s.log.Error("accept_failed", "error", err)
			return errors.Wrap(err, "accept")
		}
		if c == nil {
			s.log.Info("accept_loop_stopped")
			return nil
		}
		s.wg.Add(1)
		go s.run(c)
	}
}

// run is the fault boundary of one dispatch unit.
func (s *Supervisor) run(c httpx.Context) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("dispatch_unit_panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	s.Dispatch(c)
}

// Dispatch processes one context synchronously and reports how it ended.
// The context is closed before Dispatch returns, on every path.
func (s *Supervisor) Dispatch(c httpx.Context) (outcome Outcome) {
	var (
		h     httpx.Handler
		start = time.Now()
		req   = requestOf(c)
		line  = fmt.Sprintf("%s:%s:%s", req.Method, req.URL, req.RemoteAddr)
		attrs = []any{"method", req.Method, "url", req.URL, "remote", req.RemoteAddr}
	)
	// ExecutionFailed stands until a later step decides otherwise, so a
	// panic escaping this function is still reported as a failure.
	outcome = ExecutionFailed
	defer func() {
		if closer, ok := h.(io.Closer); ok {
			if err := guard(closer.Close); err != nil {
				s.log.Warn(line+" - Handler dispose failed", append(attrs, "error", err)...)
			}
		}
		if err := guard(c.Close); err != nil {
			s.log.Warn(line+" - Context close failed", append(attrs, "error", err)...)
		}
		s.observer.Finished(req.Method, outcome, statusOf(c), time.Since(start))
	}()

	s.observer.Started(req.Method)
	c.Response().Header().Set("Server", s.server)
	s.log.Debug(line+" - Start processing", attrs...)

	err := guard(func() error {
		var rerr error
		h, rerr = s.resolver.Resolve(c)
		return rerr
	})
	switch {
	case err != nil:
		s.log.Error(line+" - Unexpected exception while resolving handler", append(attrs, "error", err)...)
		s.abort(c, line)
		return ResolutionFailed
	case h == nil:
		s.log.Warn(line+" - Not supported.", attrs...)
		s.bestEffortSend(c, http.StatusBadRequest, BodyUnsupported, line)
		return NoHandler
	}

	var ok bool
	err = guard(func() error {
		var xerr error
		ok, xerr = h.Execute(c, s.store)
		return xerr
	})
	elapsed := time.Since(start).Milliseconds()
	switch {
	case err != nil:
		s.log.Error(line+" - Unexpected exception while processing", append(attrs, "elapsed_ms", elapsed, "error", err)...)
		s.bestEffortSend(c, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), line)
		return ExecutionFailed
	case !ok:
		s.bestEffortSend(c, http.StatusBadRequest, BodyNotProcessed, line)
		s.log.Warn(line+" - Not processed.", append(attrs, "elapsed_ms", elapsed)...)
		return Declined
	}
	status := statusOf(c)
	s.log.Info(fmt.Sprintf("%s - Finished processing (%dms, result: %d)", line, elapsed, status),
		append(attrs, "elapsed_ms", elapsed, "status", status)...)
	return Completed
}

// bestEffortSend sends a terminal response. Failure is expected when the
// handler already sent one; it is logged at debug level and discarded.
// Headers the handler set without sending describe a response that never
// happened, so they are dropped.
func (s *Supervisor) bestEffortSend(c httpx.Context, status int, body, line string) {
	err := guard(func() error {
		resp := c.Response()
		if resp.Sent() {
			return httpx.ErrResponseSent
		}
		clear(resp.Header())
		resp.Header().Set("Server", s.server)
		resp.Header().Set("Content-Type", "text/plain; charset=utf-8")
		return resp.Send(status, []byte(body))
	})
	if err != nil {
		s.log.Debug(line+" - Failed to send response", "status", status, "error", err)
	}
}

// abort tells the transport to drop the connection rather than answer.
// Contexts that cannot abort are closed unanswered.
func (s *Supervisor) abort(c httpx.Context, line string) {
	a, ok := c.(httpx.Aborter)
	if !ok {
		return
	}
	if err := guard(func() error { a.Abort(); return nil }); err != nil {
		s.log.Debug(line+" - Failed to abort", "error", err)
	}
}

// guard runs fn and converts a panic into an error marked with ErrPanic.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return fn()
}

func panicError(r any) error {
	var err error
	if e, ok := r.(error); ok {
		err = errors.Wrap(e, "panic")
	} else {
		err = errors.Newf("panic: %v", r)
	}
	return errors.Mark(err, ErrPanic)
}

func requestOf(c httpx.Context) *httpx.Request {
	req := &httpx.Request{}
	_ = guard(func() error {
		if r := c.Request(); r != nil {
			req = r
		}
		return nil
	})
	return req
}

func statusOf(c httpx.Context) (status int) {
	_ = guard(func() error {
		status = c.Response().Status()
		return nil
	})
	return status
}
