package state

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// Paths is the runtime folder layout under a database root.
type Paths struct {
	Root  string
	Store string
	State string
	Tmp   string
	Crash string
}

// PathsVar holds the layout resolved by EnsureStateDirs.
var PathsVar Paths

// Layout returns the folder layout for dbPath without touching disk.
func Layout(dbPath string) Paths {
	statePath := filepath.Join(dbPath, "state")
	return Paths{
		Root:  dbPath,
		Store: filepath.Join(dbPath, "store"),
		State: statePath,
		Tmp:   filepath.Join(statePath, "tmp"),
		Crash: filepath.Join(statePath, "crash"),
	}
}

// EnsureStateDirs ensures the canonical runtime folder layout exists under
// the provided DB path. It verifies paths are not symlinks and have
// restrictive permissions, and that they are writable by the process.
func EnsureStateDirs(dbPath string) (Paths, error) {
	if dbPath == "" {
		return Paths{}, errors.New("state: db path is empty")
	}
	p := Layout(dbPath)
	for _, dir := range []string{p.Store, p.Tmp, p.Crash} {
		if err := ensureDir(dir); err != nil {
			return Paths{}, err
		}
	}
	PathsVar = p
	return p, nil
}

func ensureDir(p string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return errors.Wrapf(err, "cannot create parent for %s", p)
	}

	// if path exists, reject symlinks and non-directories
	if fi, err := os.Lstat(p); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return errors.Newf("path is a symlink: %s", p)
		}
		if !fi.IsDir() {
			return errors.Newf("path exists and is not a directory: %s", p)
		}
		if fi.Mode().Perm()&0o022 != 0 {
			return errors.Newf("path has permissive mode (group/other write): %s", p)
		}
	}

	if err := os.MkdirAll(p, 0o700); err != nil {
		return errors.Wrapf(err, "cannot create path %s", p)
	}

	// writability check: create and remove a temp file
	tmp, err := os.CreateTemp(p, ".validate-*")
	if err != nil {
		return errors.Wrapf(err, "path not writable: %s", p)
	}
	tmp.Close()
	_ = os.Remove(tmp.Name())
	return nil
}
