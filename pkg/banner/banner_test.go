package banner

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"davhost/pkg/config"
)

func TestPrint(t *testing.T) {
	cfg := &config.Config{}
	cfg.Limits.RPS, cfg.Limits.Burst = 10, 20
	cfg.ApplyDefaults()
	eff := config.EffectiveConfigResult{Config: cfg, Addr: cfg.Addr(), DBPath: "/data", AdminAddr: cfg.Admin.Address, Source: "env"}

	var buf bytes.Buffer
	Print(&buf, eff, "v1.0.0", []string{"GET", "PUT"})
	out := buf.String()
	assert.Contains(t, out, "Listen:   0.0.0.0:8080 (fasthttp)")
	assert.Contains(t, out, "Config:   env")
	assert.Contains(t, out, "Methods:  GET PUT")
	assert.Contains(t, out, "Rate limit: 10 rps, burst 20")
	assert.Contains(t, out, "Max body: unlimited")
	assert.Contains(t, out, "Maintenance: disabled")
}
