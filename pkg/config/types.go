package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Admin       AdminConfig       `yaml:"admin"`
	Limits      LimitsConfig      `yaml:"limits"`
	Logging     LoggingConfig     `yaml:"logging"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Identity    IdentityConfig    `yaml:"identity"`
}

// ServerConfig holds the content listener settings.
type ServerConfig struct {
	Address      string    `yaml:"address"`
	Port         int       `yaml:"port"`
	Engine       string    `yaml:"engine"` // fasthttp|nethttp
	ReadTimeout  Duration  `yaml:"read_timeout"`
	WriteTimeout Duration  `yaml:"write_timeout"`
	MaxBodyBytes SizeBytes `yaml:"max_body_bytes"`
}

// StorageConfig locates the database directory.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// AdminConfig holds the health/metrics/admin listener settings.
type AdminConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
}

// On reports whether the admin listener should run; unset means yes.
func (a AdminConfig) On() bool { return a.Enabled == nil || *a.Enabled }

// LimitsConfig configures per-remote-host admission.
type LimitsConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
	Sink   string `yaml:"sink"`   // stdout|stderr|file:<path>
}

// MaintenanceConfig holds configuration for scheduled compaction.
type MaintenanceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	Paused  bool   `yaml:"paused"`
	// SlowThreshold is the dispatch duration above which a request is
	// logged as slow.
	SlowThreshold Duration `yaml:"slow_threshold"`
}

// IdentityConfig overrides the product token of the Server header.
type IdentityConfig struct {
	Product string `yaml:"product"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// String renders the size for logs and the banner.
func (s SizeBytes) String() string {
	if s <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(s))
}

// ParseSize accepts "64MB", "1GiB" or a plain byte count.
func ParseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// ParseDuration accepts Go duration strings or numeric seconds.
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
