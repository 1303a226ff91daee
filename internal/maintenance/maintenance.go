// Package maintenance runs scheduled store compaction.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"

	"davhost/pkg/config"
	"davhost/pkg/logger"
	"davhost/pkg/store"
)

// ErrBusy is returned by RunOnce while another run is in progress.
var ErrBusy = errors.New("maintenance: run already in progress")

// Status describes the last run.
type Status struct {
	Enabled   bool      `json:"enabled"`
	Cron      string    `json:"cron"`
	Runs      int       `json:"runs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Next      time.Time `json:"next,omitempty"`
}

// Runner compacts the store on a cron schedule and on demand.
type Runner struct {
	st   store.Store
	cfg  config.MaintenanceConfig
	cron string
	log  *slog.Logger

	running sync.Mutex

	mu     sync.Mutex
	status Status
}

// New validates the schedule and builds a Runner. It does not start the
// scheduler.
func New(st store.Store, cfg config.MaintenanceConfig, l *slog.Logger) (*Runner, error) {
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = config.DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, errors.Newf("invalid maintenance cron expression: %s", cronExpr)
	}
	return &Runner{
		st:     st,
		cfg:    cfg,
		cron:   cronExpr,
		log:    logger.OrDefault(l),
		status: Status{Enabled: cfg.Enabled && !cfg.Paused, Cron: cronExpr},
	}, nil
}

// Start builds a Runner and, when enabled, starts its scheduler until ctx
// is done.
func Start(ctx context.Context, cfg config.MaintenanceConfig, st store.Store, l *slog.Logger) (*Runner, error) {
	r, err := New(st, cfg, l)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled || cfg.Paused {
		r.log.Info("maintenance_disabled", "paused", cfg.Paused)
		return r, nil
	}
	r.log.Info("maintenance_enabled", "cron", r.cron)
	go r.schedule(ctx)
	return r, nil
}

// Next returns the first scheduled tick after now.
func (r *Runner) Next(now time.Time) (time.Time, error) {
	return gronx.NextTickAfter(r.cron, now, false)
}

// Status returns a copy of the current run status.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	if s.Enabled {
		if next, err := r.Next(time.Now().UTC()); err == nil {
			s.Next = next
		}
	}
	return s
}

// RunOnce compacts the store now. Overlapping calls fail with ErrBusy.
func (r *Runner) RunOnce(ctx context.Context) error {
	if !r.running.TryLock() {
		return ErrBusy
	}
	defer r.running.Unlock()

	start := time.Now()
	before := r.st.DiskUsage()
	err := r.st.Compact(ctx)
	after := r.st.DiskUsage()

	r.mu.Lock()
	r.status.Runs++
	r.status.LastRun = start.UTC()
	r.status.LastError = ""
	if err != nil {
		r.status.LastError = err.Error()
	}
	r.mu.Unlock()

	if err != nil {
		r.log.Error("maintenance_run_failed", "error", err)
		return errors.Wrap(err, "compact store")
	}
	r.log.Info("maintenance_run_done",
		"elapsed_ms", time.Since(start).Milliseconds(),
		"disk_before", humanize.IBytes(before),
		"disk_after", humanize.IBytes(after))
	return nil
}

// schedule sleeps until each cron tick and runs compaction.
func (r *Runner) schedule(ctx context.Context) {
	for {
		next, err := r.Next(time.Now().UTC())
		if err != nil {
			r.log.Error("maintenance_nexttick_failed", "cron", r.cron, "error", err)
			// fallback sleep then retry
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				r.log.Info("maintenance_scheduler_stopping")
				return
			}
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			if err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrBusy) {
				r.log.Error("maintenance_run_error", "error", err)
			}
		case <-ctx.Done():
			timer.Stop()
			r.log.Info("maintenance_scheduler_stopping")
			return
		}
	}
}
