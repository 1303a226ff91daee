package app

import (
	"net"

	"github.com/adhocore/gronx"
	"github.com/cockroachdb/errors"

	"davhost/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.Config == nil {
		return errors.New("no effective configuration")
	}
	cfg := eff.Config

	if eff.DBPath == "" {
		return errors.New("database path is empty: set --db flag, DAVHOST_DB_PATH env, or storage.db_path in config")
	}
	if _, _, err := net.SplitHostPort(eff.Addr); err != nil {
		return errors.Wrapf(err, "invalid listen address %q", eff.Addr)
	}
	switch cfg.Server.Engine {
	case "fasthttp", "nethttp":
	default:
		return errors.Newf("unknown server.engine %q: use fasthttp or nethttp", cfg.Server.Engine)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return errors.New("server.max_body_bytes must not be negative")
	}
	if cfg.Admin.On() {
		if _, _, err := net.SplitHostPort(eff.AdminAddr); err != nil {
			return errors.Wrapf(err, "invalid admin address %q", eff.AdminAddr)
		}
		if eff.AdminAddr == eff.Addr {
			return errors.Newf("admin address %s collides with the content listener", eff.AdminAddr)
		}
	}
	if (cfg.Limits.RPS > 0) != (cfg.Limits.Burst > 0) {
		return errors.New("incomplete rate limit: both limits.rps and limits.burst must be set")
	}
	if cfg.Limits.RPS < 0 || cfg.Limits.Burst < 0 {
		return errors.New("rate limits must not be negative")
	}
	if cfg.Maintenance.Enabled && !gronx.IsValid(cfg.Maintenance.Cron) {
		return errors.Newf("invalid maintenance.cron %q", cfg.Maintenance.Cron)
	}
	return nil
}
