// Command davhost-inspect prints the contents of a stopped davhost
// database: totals and the resource tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"davhost/pkg/state"
	"davhost/pkg/store"
)

func main() {
	var db string
	flag.StringVar(&db, "db", "./.davhost", "database path (the --db value given to davhost)")
	flag.Parse()

	st, err := store.Open(state.Layout(db).Store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(2)
	}
	defer st.Close()

	if err := inspect(context.Background(), os.Stdout, st); err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(1)
	}
}

func inspect(ctx context.Context, w io.Writer, st store.Store) error {
	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "resources: %d (%d collections)\n", stats.Resources, stats.Collections)
	fmt.Fprintf(w, "content:   %s\n", humanize.IBytes(uint64(stats.ContentBytes)))
	fmt.Fprintf(w, "on disk:   %s\n", humanize.IBytes(stats.DiskBytes))
	fmt.Fprintln(w, "/")
	return walk(ctx, w, st, "/", 1)
}

func walk(ctx context.Context, w io.Writer, st store.Store, p string, depth int) error {
	kids, err := st.Children(ctx, p)
	if err != nil {
		return err
	}
	for _, k := range kids {
		indent := strings.Repeat("  ", depth)
		if k.Collection {
			fmt.Fprintf(w, "%s%s/\n", indent, k.Name())
			if err := walk(ctx, w, st, k.Path, depth+1); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "%s%s  %s  %s\n", indent, k.Name(), humanize.IBytes(uint64(k.Size)), humanize.Time(k.Modified))
	}
	return nil
}
