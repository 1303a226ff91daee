package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  address: 127.0.0.1
  port: 8181
  engine: NetHTTP
  read_timeout: 5s
  max_body_bytes: 16MiB
storage:
  db_path: /var/lib/davhost
admin:
  enabled: false
limits:
  rps: 50
  burst: 100
maintenance:
  enabled: true
  cron: "*/5 * * * *"
identity:
  product: filehost
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadParsesSections(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	cfg, err := Load(p)
	require.NoError(t, err)
	cfg.ApplyDefaults()

	assert.Equal(t, "127.0.0.1:8181", cfg.Addr())
	assert.Equal(t, "nethttp", cfg.Server.Engine)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout.Duration())
	assert.Equal(t, DefaultReadTimeout, cfg.Server.WriteTimeout.Duration())
	assert.Equal(t, int64(16<<20), cfg.Server.MaxBodyBytes.Int64())
	assert.Equal(t, "/var/lib/davhost", cfg.Storage.DBPath)
	assert.False(t, cfg.Admin.On())
	assert.Equal(t, DefaultAdminAddr, cfg.Admin.Address)
	assert.Equal(t, 50.0, cfg.Limits.RPS)
	assert.Equal(t, "*/5 * * * *", cfg.Maintenance.Cron)
	assert.Equal(t, "filehost", cfg.Identity.Product)
}

func TestLoadRejectsBadValues(t *testing.T) {
	p := writeFile(t, t.TempDir(), "bad.yaml", "server:\n  read_timeout: soon\n")
	_, err := Load(p)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestParseSizeAndDuration(t *testing.T) {
	s, err := ParseSize("1024")
	require.NoError(t, err)
	assert.Equal(t, SizeBytes(1024), s)
	s, err = ParseSize("2 MB")
	require.NoError(t, err)
	assert.Equal(t, SizeBytes(2_000_000), s)
	_, err = ParseSize("lots")
	assert.Error(t, err)
	assert.Equal(t, "unlimited", SizeBytes(0).String())

	d, err := ParseDuration("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d.Duration())
}

func TestParseConfigFlags(t *testing.T) {
	f, err := ParseConfigFlags("davhost", []string{"--addr", ":9000", "--db", "/tmp/x"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, ":9000", f.Addr)
	assert.True(t, f.Set["addr"])
	assert.True(t, f.Set["db"])
	assert.False(t, f.Set["config"])

	_, err = ParseConfigFlags("davhost", []string{"--bogus"}, io.Discard)
	assert.Error(t, err)
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("DAVHOST_ADDR", "10.1.1.1:7070")
	t.Setenv("DAVHOST_DB_PATH", "/data")
	t.Setenv("DAVHOST_RATE_RPS", "2.5")
	t.Setenv("DAVHOST_ADMIN_ENABLED", "false")

	cfg, used, err := ParseConfigEnvs()
	require.NoError(t, err)
	assert.True(t, used)
	assert.Equal(t, "10.1.1.1:7070", cfg.Addr())
	assert.Equal(t, "/data", cfg.Storage.DBPath)
	assert.Equal(t, 2.5, cfg.Limits.RPS)
	assert.False(t, cfg.Admin.On())

	t.Setenv("DAVHOST_RATE_BURST", "many")
	_, _, err = ParseConfigEnvs()
	assert.ErrorContains(t, err, "DAVHOST_RATE_BURST")
}

func TestLoadEffectiveConfigSourceSelection(t *testing.T) {
	file := &Config{}
	file.Storage.DBPath = "/from/file"
	env := &Config{}
	env.Storage.DBPath = "/from/env"

	res, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, file, true, env, true)
	require.NoError(t, err)
	assert.Equal(t, "config", res.Source)
	assert.Equal(t, "/from/file", res.DBPath)

	res, err = LoadEffectiveConfig(Flags{Set: map[string]bool{}}, file, false, env, true)
	require.NoError(t, err)
	assert.Equal(t, "env", res.Source)
	assert.Equal(t, "/from/env", res.DBPath)

	flags := Flags{Addr: ":9999", Set: map[string]bool{"addr": true}}
	res, err = LoadEffectiveConfig(flags, file, true, env, true)
	require.NoError(t, err)
	assert.Equal(t, "flags", res.Source)
	assert.Equal(t, "0.0.0.0:9999", res.Addr)
	assert.Equal(t, "/from/env", res.DBPath)
	assert.Equal(t, DefaultAdminAddr, res.AdminAddr)

	_, err = LoadEffectiveConfig(Flags{Config: "x.yaml", Set: map[string]bool{"config": true}}, nil, false, nil, false)
	assert.Error(t, err)
}

func TestResolveWithConfigFlag(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.yaml", sampleYAML)
	_, res, err := Resolve("davhost", []string{"--config", p}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "config", res.Source)
	assert.Equal(t, "127.0.0.1:8181", res.Addr)
}

func TestLoadDotEnv(t *testing.T) {
	p := writeFile(t, t.TempDir(), ".env", "DAVHOST_TEST_DOTENV=loaded\n")
	t.Setenv("DAVHOST_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("DAVHOST_TEST_DOTENV"))
	require.NoError(t, LoadDotEnv(p, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, "loaded", os.Getenv("DAVHOST_TEST_DOTENV"))
}
