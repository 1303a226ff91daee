package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"

	"davhost/pkg/logger"
)

var (
	// AbortDelay gives log sinks time to flush before Abort exits.
	AbortDelay = 3 * time.Second
	exit       = os.Exit
)

// Abort logs a fatal startup error, writes a crash dump into crashDir
// (./crash when empty) and exits the process with status 2.
func Abort(contextMsg string, err error, crashDir string) {
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	dumpPath, derr := WriteCrashDump(crashDir, contextMsg, err)
	if derr != nil {
		logger.Error("crash_dump_failed", "error", derr)
		fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
	} else {
		logger.Error("startup_fatal_crashdump", "path", dumpPath)
		fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", dumpPath)
	}
	if AbortDelay > 0 {
		time.Sleep(AbortDelay)
	}
	exit(2)
}

// WriteCrashDump writes reason, the error with its stack and all goroutine
// stacks to crash-<ts>.log under crashDir and returns the file path. The
// file is written to a temp name first so readers never see a partial dump.
func WriteCrashDump(crashDir, reason string, err error) (string, error) {
	if crashDir == "" {
		crashDir = "./crash"
	}
	if e := os.MkdirAll(crashDir, 0o700); e != nil {
		return "", errors.Wrap(e, "create crash dir")
	}

	f, ferr := os.CreateTemp(crashDir, ".crash-*.tmp")
	if ferr != nil {
		return "", errors.Wrap(ferr, "create temp crash file")
	}
	tmpName := f.Name()
	defer func() { _ = os.Remove(tmpName) }()

	fmt.Fprintf(f, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "pid: %d\n", os.Getpid())
	fmt.Fprintf(f, "reason: %s\n", reason)
	fmt.Fprintf(f, "error: %+v\n", err)
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	_, _ = f.Write(buf[:n])
	_ = f.Sync()
	if e := f.Close(); e != nil {
		return "", errors.Wrap(e, "close crash file")
	}

	dumpPath := filepath.Join(crashDir, fmt.Sprintf("crash-%d.log", time.Now().UnixNano()))
	if e := os.Rename(tmpName, dumpPath); e != nil {
		return "", errors.Wrap(e, "move crash dump into place")
	}
	_ = os.Chmod(dumpPath, 0o600)
	return dumpPath, nil
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
// SIGPIPE dumps goroutine stacks to the log and also cancels. The cancel
// function stops watching.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGPIPE)
	go func() {
		defer signal.Stop(sigc)
		select {
		case s := <-sigc:
			if s == syscall.SIGPIPE {
				buf := make([]byte, 1<<20)
				n := runtime.Stack(buf, true)
				logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
			}
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
