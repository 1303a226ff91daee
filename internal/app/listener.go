package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"davhost/pkg/config"
	"davhost/pkg/httpx"
)

// transport couples the request-context Listener handed to the dispatch
// supervisor with the server that feeds it.
type transport interface {
	httpx.Listener
	serve(ln net.Listener) error
	// shutdown ends the context stream and stops the server.
	shutdown(ctx context.Context) error
}

type fastTransport struct{ *httpx.FastHTTPListener }

func (t fastTransport) serve(ln net.Listener) error { return t.Serve(ln) }

func (t fastTransport) shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- t.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "fasthttp shutdown")
	}
}

type netTransport struct {
	*httpx.NetHTTPListener
	srv *http.Server
}

func (t netTransport) serve(ln net.Listener) error {
	if err := t.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t netTransport) shutdown(ctx context.Context) error {
	_ = t.Close()
	return t.srv.Shutdown(ctx)
}

// newTransport builds the content transport selected by server.engine.
func newTransport(cfg *config.Config, serverName string, onReject func(string)) (transport, error) {
	lopts := httpx.ListenerOptions{
		RPS:      cfg.Limits.RPS,
		Burst:    cfg.Limits.Burst,
		OnReject: onReject,
		Server:   serverName,
	}
	readTimeout := cfg.Server.ReadTimeout.Duration()
	writeTimeout := cfg.Server.WriteTimeout.Duration()

	switch cfg.Server.Engine {
	case "", "fasthttp":
		return fastTransport{httpx.NewFastHTTPListener(httpx.FastHTTPOptions{
			ListenerOptions:    lopts,
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			MaxRequestBodySize: int(cfg.Server.MaxBodyBytes.Int64()),
		})}, nil
	case "nethttp":
		l := httpx.NewNetHTTPListener(httpx.NetHTTPOptions{
			ListenerOptions:    lopts,
			MaxRequestBodySize: cfg.Server.MaxBodyBytes.Int64(),
		})
		return netTransport{
			NetHTTPListener: l,
			srv: &http.Server{
				Handler:           l,
				ReadTimeout:       readTimeout,
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      writeTimeout,
			},
		}, nil
	default:
		return nil, errors.Newf("unknown engine %q", cfg.Server.Engine)
	}
}
