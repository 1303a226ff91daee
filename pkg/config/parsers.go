package config

import (
	"flag"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr      string
	DB        string
	Config    string
	AdminAddr string
	Version   bool
	Set       map[string]bool
}

// EffectiveConfigResult is the outcome of LoadEffectiveConfig.
type EffectiveConfigResult struct {
	Config    *Config
	Addr      string
	DBPath    string
	AdminAddr string
	Source    string // "flags", "config", or "env"
}

// ParseConfigFlags parses args (without the program name) into Flags.
func ParseConfigFlags(name string, args []string, output io.Writer) (Flags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	addrPtr := fs.String("addr", ":8080", "content listen address")
	dbPtr := fs.String("db", DefaultDBPath, "Pebble DB path")
	cfgPtr := fs.String("config", "./config.yaml", "Path to config file")
	adminPtr := fs.String("admin-addr", DefaultAdminAddr, "admin/metrics listen address")
	versionPtr := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{
		Addr:      *addrPtr,
		DB:        *dbPtr,
		Config:    *cfgPtr,
		AdminAddr: *adminPtr,
		Version:   *versionPtr,
		Set:       setFlags,
	}, nil
}

// ParseConfigFile resolves the config path and loads the YAML file. It
// returns the parsed config, a boolean indicating whether the file was
// present, and an error for fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs reads DAVHOST_* variables into a fresh Config and reports
// whether any were present. Malformed numeric values are errors.
func ParseConfigEnvs() (*Config, bool, error) {
	envCfg := &Config{}
	envUsed := false
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			envUsed = true
			*dst = v
		}
	}
	var errs error
	num := func(key string, parse func(string) error) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			envUsed = true
			if err := parse(v); err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "%s", key))
			}
		}
	}

	if v := os.Getenv("DAVHOST_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	} else {
		str("DAVHOST_ADDRESS", &envCfg.Server.Address)
		num("DAVHOST_PORT", func(v string) (err error) {
			envCfg.Server.Port, err = strconv.Atoi(v)
			return err
		})
	}
	str("DAVHOST_ENGINE", &envCfg.Server.Engine)
	num("DAVHOST_READ_TIMEOUT", func(v string) (err error) {
		envCfg.Server.ReadTimeout, err = ParseDuration(v)
		return err
	})
	num("DAVHOST_WRITE_TIMEOUT", func(v string) (err error) {
		envCfg.Server.WriteTimeout, err = ParseDuration(v)
		return err
	})
	num("DAVHOST_MAX_BODY", func(v string) (err error) {
		envCfg.Server.MaxBodyBytes, err = ParseSize(v)
		return err
	})
	str("DAVHOST_DB_PATH", &envCfg.Storage.DBPath)
	str("DAVHOST_ADMIN_ADDR", &envCfg.Admin.Address)
	num("DAVHOST_ADMIN_ENABLED", func(v string) error {
		b, err := strconv.ParseBool(v)
		envCfg.Admin.Enabled = &b
		return err
	})
	num("DAVHOST_RATE_RPS", func(v string) (err error) {
		envCfg.Limits.RPS, err = strconv.ParseFloat(v, 64)
		return err
	})
	num("DAVHOST_RATE_BURST", func(v string) (err error) {
		envCfg.Limits.Burst, err = strconv.Atoi(v)
		return err
	})
	str("DAVHOST_LOG_LEVEL", &envCfg.Logging.Level)
	str("DAVHOST_LOG_FORMAT", &envCfg.Logging.Format)
	str("DAVHOST_LOG_SINK", &envCfg.Logging.Sink)
	num("DAVHOST_MAINTENANCE_ENABLED", func(v string) (err error) {
		envCfg.Maintenance.Enabled, err = strconv.ParseBool(v)
		return err
	})
	str("DAVHOST_MAINTENANCE_CRON", &envCfg.Maintenance.Cron)
	str("DAVHOST_PRODUCT", &envCfg.Identity.Product)

	return envCfg, envUsed, errs
}

// LoadEffectiveConfig decides which single source to use (flags, config
// file, or env). An explicit --config means the file and nothing else.
// Otherwise, if --addr, --db or --admin-addr were given the flags win and
// unset values fall back to env then file. Without flags an existing
// config file wins over env. Defaults are applied to the result.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envUsed bool) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult
	if fileCfg == nil {
		fileCfg = &Config{}
	}
	if envCfg == nil {
		envCfg = &Config{}
	}

	switch {
	case flags.Set["config"]:
		if !fileExists {
			return res, errors.Newf("config file %s not found", flags.Config)
		}
		res.Config, res.Source = fileCfg, "config"
	case flags.Set["addr"] || flags.Set["db"] || flags.Set["admin-addr"]:
		base := envCfg
		if !envUsed {
			base = fileCfg
		}
		out := *base
		if flags.Set["addr"] {
			host, port := splitAddr(flags.Addr)
			out.Server.Address, out.Server.Port = host, port
		}
		if flags.Set["db"] {
			out.Storage.DBPath = flags.DB
		}
		if flags.Set["admin-addr"] {
			out.Admin.Address = flags.AdminAddr
		}
		res.Config, res.Source = &out, "flags"
	case fileExists:
		res.Config, res.Source = fileCfg, "config"
	default:
		res.Config, res.Source = envCfg, "env"
	}

	res.Config.ApplyDefaults()
	res.Addr = res.Config.Addr()
	res.DBPath = res.Config.Storage.DBPath
	res.AdminAddr = res.Config.Admin.Address
	return res, nil
}

// Resolve runs the whole pipeline: flags, .env, file, env, selection.
func Resolve(name string, args []string, output io.Writer) (Flags, EffectiveConfigResult, error) {
	flags, err := ParseConfigFlags(name, args, output)
	if err != nil {
		return flags, EffectiveConfigResult{}, err
	}
	if err := LoadDotEnv(".env"); err != nil {
		return flags, EffectiveConfigResult{}, err
	}
	fileCfg, exists, err := ParseConfigFile(flags)
	if err != nil {
		return flags, EffectiveConfigResult{}, err
	}
	envCfg, envUsed, err := ParseConfigEnvs()
	if err != nil {
		return flags, EffectiveConfigResult{}, err
	}
	res, err := LoadEffectiveConfig(flags, fileCfg, exists, envCfg, envUsed)
	return flags, res, err
}

// splitAddr extracts host and port from host:port; a bare ":port" keeps
// the host empty.
func splitAddr(a string) (string, int) {
	h, p, err := net.SplitHostPort(a)
	if err != nil {
		return a, 0
	}
	pi, _ := strconv.Atoi(p)
	return h, pi
}
