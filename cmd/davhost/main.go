package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"

	"davhost/internal/app"
	"davhost/pkg/config"
	"davhost/pkg/identity"
	"davhost/pkg/shutdown"
	"davhost/pkg/state"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	flags, eff, err := config.Resolve(os.Args[0], os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}

	product := ""
	if eff.Config != nil {
		product = eff.Config.Identity.Product
	}
	id := identity.FromBuild(product, version, commit, buildDate)
	if flags.Version {
		fmt.Println(id.String())
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	a, err := app.New(eff, id)
	if err != nil {
		shutdown.Abort("failed to initialize server", err, state.CrashDir())
		return
	}
	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server stopped with error", err, state.CrashDir())
	}
}
