package banner

import (
	"fmt"
	"io"
	"strings"

	"davhost/pkg/config"
)

const banner = `
     _             _               _
  __| | __ ___   _| |__   ___  ___| |_
 / _' |/ _' \ \ / / '_ \ / _ \/ __| __|
| (_| | (_| |\ V /| | | | (_) \__ \ |_
 \__,_|\__,_| \_/ |_| |_|\___/|___/\__|
`

// Print writes the startup banner for the effective config. methods are
// the verbs the content listener resolves.
func Print(w io.Writer, eff config.EffectiveConfigResult, version string, methods []string) {
	cfg := eff.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	addr := eff.Addr
	if addr == "" {
		addr = cfg.Addr()
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s (%s)\n", addr, cfg.Server.Engine)
	fmt.Fprintf(w, "DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config:   %s\n", src)
	if len(methods) > 0 {
		fmt.Fprintf(w, "Methods:  %s\n", strings.Join(methods, " "))
	}

	fmt.Fprintln(w, "\n== Examples ===================================================")
	fmt.Fprintln(w, "curl -X MKCOL 'http://<host>:<port>/docs'")
	fmt.Fprintln(w, "curl -T notes.txt 'http://<host>:<port>/docs/notes.txt'")
	fmt.Fprintln(w, "curl 'http://<host>:<port>/docs/'")

	fmt.Fprintln(w, "\n== Production? =================================================")
	if cfg.Admin.On() {
		fmt.Fprintf(w, "- Admin: %s (/healthz /readyz /metrics /admin/stats)\n", eff.AdminAddr)
	} else {
		fmt.Fprintln(w, "- Admin: disabled")
	}
	if cfg.Limits.RPS > 0 && cfg.Limits.Burst > 0 {
		fmt.Fprintf(w, "- Rate limit: %g rps, burst %d per remote host\n", cfg.Limits.RPS, cfg.Limits.Burst)
	} else {
		fmt.Fprintln(w, "- Rate limit: off")
	}
	fmt.Fprintf(w, "- Max body: %s\n", cfg.Server.MaxBodyBytes)
	if cfg.Maintenance.Enabled && !cfg.Maintenance.Paused {
		fmt.Fprintf(w, "- Maintenance: enabled (cron=%s)\n", cfg.Maintenance.Cron)
	} else {
		fmt.Fprintln(w, "- Maintenance: disabled")
	}
	fmt.Fprintln(w, "- Authentication: none, put a proxy in front for production use")

	fmt.Fprintln(w, "\n== Logs: =================================================")
}
