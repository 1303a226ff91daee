package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"davhost/internal/admin"
	"davhost/internal/maintenance"
	"davhost/pkg/banner"
	"davhost/pkg/config"
	"davhost/pkg/dispatch"
	"davhost/pkg/handlers"
	"davhost/pkg/identity"
	"davhost/pkg/logger"
	"davhost/pkg/state"
	"davhost/pkg/store"
	"davhost/pkg/telemetry"
)

// ShutdownTimeout bounds how long Run waits for transports to stop once
// the dispatch loop has drained.
var ShutdownTimeout = 10 * time.Second

// App encapsulates the server components and lifecycle.
type App struct {
	eff   config.EffectiveConfigResult
	id    identity.Identity
	log   *slog.Logger
	out   io.Writer
	paths state.Paths

	store     *store.Pebble
	metrics   *telemetry.Metrics
	table     *handlers.Table
	transport transport
	sup       *dispatch.Supervisor

	ln        net.Listener
	closeOnce sync.Once
}

// New validates the effective config and initializes everything that does
// not need a running context: logging, state directories, the store, the
// metrics registry, the content transport and the dispatch supervisor.
// Call Run to start serving, or Close to release the store.
func New(eff config.EffectiveConfigResult, id identity.Identity) (*App, error) {
	// validate effective config early and fail fast
	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config

	logger.Init(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Sink:   cfg.Logging.Sink,
	})
	log := logger.Log

	paths, err := state.EnsureStateDirs(eff.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "prepare state directories")
	}

	st, err := store.Open(paths.Store)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open pebble at %s", paths.Store)
	}

	metrics := telemetry.New(log)
	metrics.WatchStore(st, paths.Store)
	if d := cfg.Maintenance.SlowThreshold.Duration(); d > 0 {
		metrics.SetSlowThreshold(d)
	}

	tr, err := newTransport(cfg, id.Server(), metrics.Rejected)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	table := handlers.NewTable()
	sup, err := dispatch.New(st, tr,
		dispatch.WithResolver(table),
		dispatch.WithIdentity(id),
		dispatch.WithObserver(metrics),
		dispatch.WithLogger(log),
	)
	if err != nil {
		_ = st.Close()
		return nil, errors.Wrap(err, "build dispatch supervisor")
	}

	return &App{
		eff:       eff,
		id:        id,
		log:       log,
		out:       os.Stdout,
		paths:     paths,
		store:     st,
		metrics:   metrics,
		table:     table,
		transport: tr,
		sup:       sup,
	}, nil
}

// Listen binds the content address. Run calls it when it has not been
// called yet; calling it first lets the caller learn the bound address.
func (a *App) Listen() error {
	if a.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", a.eff.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", a.eff.Addr)
	}
	a.ln = ln
	return nil
}

// Addr is the bound content address, or nil before Listen.
func (a *App) Addr() net.Addr {
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// Run starts maintenance, the admin server, the content transport and the
// dispatch loop, and blocks until ctx is canceled or a server fails. On
// return every in-flight dispatch has finished and the store is closed.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	if err := a.Listen(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := a.eff.Config
	mr, err := maintenance.Start(runCtx, cfg.Maintenance, a.store, a.log)
	if err != nil {
		return err
	}

	adminDone := make(chan error, 1)
	if cfg.Admin.On() {
		srv := admin.New(a.eff.AdminAddr, admin.Deps{
			Store:       a.store,
			Identity:    a.id,
			Metrics:     a.metrics.Handler(),
			Maintenance: mr,
		}, a.log)
		go func() { adminDone <- srv.Run(runCtx) }()
	} else {
		adminDone <- nil
	}

	a.printBanner()

	transportErr := make(chan error, 1)
	go func() { transportErr <- a.transport.serve(a.ln) }()

	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- a.sup.Serve(runCtx) }()

	a.log.Info("server_started", "addr", a.ln.Addr().String(), "engine", cfg.Server.Engine, "server", a.id.Server())

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown_requested")
	case err := <-transportErr:
		runErr = errors.Wrap(err, "content transport stopped")
		transportErr <- nil
	case err := <-dispatchDone:
		runErr = err
		dispatchDone <- nil
	case err := <-adminDone:
		if err != nil {
			runErr = errors.Wrap(err, "admin server stopped")
		}
		adminDone <- nil
	}
	cancel()

	// in-flight dispatches finish before the transport and store go away
	if err := <-dispatchDone; err != nil && runErr == nil {
		runErr = err
	}
	sctx, scancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer scancel()
	if err := a.transport.shutdown(sctx); err != nil {
		a.log.Warn("transport_shutdown_failed", "error", err)
	}
	if err := <-adminDone; err != nil && runErr == nil {
		runErr = errors.Wrap(err, "admin server stopped")
	}
	a.log.Info("server_stopped")
	return runErr
}

// Close releases the store. It is safe to call more than once.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.ln != nil {
			_ = a.ln.Close()
		}
		err = a.store.Close()
	})
	return err
}

func (a *App) printBanner() {
	banner.Print(a.out, a.eff, a.id.String(), a.table.Methods())
}
