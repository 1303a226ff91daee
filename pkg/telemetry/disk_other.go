//go:build !linux && !darwin

package telemetry

import "github.com/cockroachdb/errors"

// DiskSpace is not available on this platform.
func DiskSpace(string) (free, total uint64, err error) {
	return 0, 0, errors.New("telemetry: disk space not supported on this platform")
}
