package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultPort        = 8080
	DefaultDBPath      = "./.davhost"
	DefaultAdminAddr   = "127.0.0.1:9090"
	DefaultEngine      = "fasthttp"
	DefaultCron        = "0 3 * * *"
	DefaultReadTimeout = 30 * time.Second
)

// Addr returns host:port for the content listener.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = DefaultPort
	}
	return net.JoinHostPort(addr, strconv.Itoa(p))
}

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Engine == "" {
		c.Server.Engine = DefaultEngine
	}
	c.Server.Engine = strings.ToLower(strings.TrimSpace(c.Server.Engine))
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(DefaultReadTimeout)
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = DefaultDBPath
	}
	if c.Admin.Address == "" {
		c.Admin.Address = DefaultAdminAddr
	}
	if c.Maintenance.Cron == "" {
		c.Maintenance.Cron = DefaultCron
	}
	if c.Maintenance.SlowThreshold == 0 {
		c.Maintenance.SlowThreshold = Duration(200 * time.Millisecond)
	}
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "load %s", f)
		}
	}
	return nil
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `DAVHOST_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("DAVHOST_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// Summary is a one-line rendering of the effective settings for the
// startup log.
func (c *Config) Summary() string {
	return fmt.Sprintf("engine=%s addr=%s db=%s admin=%s max_body=%s rps=%g burst=%d",
		c.Server.Engine, c.Addr(), c.Storage.DBPath, c.Admin.Address,
		c.Server.MaxBodyBytes, c.Limits.RPS, c.Limits.Burst)
}
