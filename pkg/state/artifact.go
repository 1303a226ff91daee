package state

import (
	"os"
	"path/filepath"
	"strings"
)

// ArtifactRoot returns the absolute form of DAVHOST_ARTIFACT_ROOT, or ""
// when unset. Crash dumps written before the database layout exists go
// there instead of the working directory.
func ArtifactRoot() string {
	root := strings.TrimSpace(os.Getenv("DAVHOST_ARTIFACT_ROOT"))
	if root == "" {
		return ""
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return root
}

// CrashDir picks where a crash dump goes: the resolved layout when
// EnsureStateDirs succeeded, else the artifact root, else "" (the caller's
// default).
func CrashDir() string {
	if PathsVar.Crash != "" {
		return PathsVar.Crash
	}
	if root := ArtifactRoot(); root != "" {
		return filepath.Join(root, "crash")
	}
	return ""
}
