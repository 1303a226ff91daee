// Package identity describes the running build. An Identity is computed
// once at process start and passed to whatever needs it; it never changes
// afterwards.
package identity

import (
	"runtime/debug"
	"strings"
)

// DefaultProduct is the product name used in the Server header.
const DefaultProduct = "davhost"

// Identity is immutable build metadata.
type Identity struct {
	Product   string
	Version   string
	Commit    string
	BuildDate string
	server    string
}

// New builds an Identity from explicit values. Empty product falls back to
// DefaultProduct; empty version to "dev".
func New(product, version, commit, buildDate string) Identity {
	if strings.TrimSpace(product) == "" {
		product = DefaultProduct
	}
	if strings.TrimSpace(version) == "" {
		version = "dev"
	}
	return Identity{
		Product:   product,
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		server:    product + "/" + Major(version),
	}
}

// FromBuild builds an Identity from ldflags-provided values, filling gaps
// from the module build info embedded by the Go toolchain.
func FromBuild(product, version, commit, buildDate string) Identity {
	if bi, ok := debug.ReadBuildInfo(); ok {
		if version == "" || version == "dev" {
			if v := bi.Main.Version; v != "" && v != "(devel)" {
				version = v
			}
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" || commit == "none" {
					commit = s.Value
				}
			case "vcs.time":
				if buildDate == "" || buildDate == "unknown" {
					buildDate = s.Value
				}
			}
		}
	}
	return New(product, version, commit, buildDate)
}

// Server returns the Server header value "<Product>/<Major>".
func (i Identity) Server() string {
	if i.server == "" {
		return New(i.Product, i.Version, i.Commit, i.BuildDate).server
	}
	return i.server
}

// String returns a human readable version line for banners and logs.
func (i Identity) String() string {
	s := i.Version
	if i.Commit != "" && i.Commit != "none" {
		s += " (" + i.Commit + ")"
	}
	if i.BuildDate != "" && i.BuildDate != "unknown" {
		s += " @ " + i.BuildDate
	}
	return s
}

// Major extracts the major version number from a version string such as
// "v1.4.2" or "2.0.0-rc1". Versions without a numeric major yield "0".
func Major(version string) string {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	if i := strings.IndexAny(v, ".-+"); i >= 0 {
		v = v[:i]
	}
	if v == "" {
		return "0"
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return "0"
		}
	}
	return v
}
