// Package handlers implements the content verbs served over the store and
// the method table that resolves a request to one of them.
package handlers

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"davhost/pkg/httpx"
)

// Extension methods served next to the net/http ones.
const (
	MethodMkcol = "MKCOL"
	MethodCopy  = "COPY"
	MethodMove  = "MOVE"
)

// Factory builds a fresh handler for one request.
type Factory func() httpx.Handler

// Table is an httpx.Resolver keyed by request method.
type Table struct {
	mu       sync.RWMutex
	byMethod map[string]Factory
}

// NewTable returns a table with every built-in verb registered.
func NewTable() *Table {
	t := &Table{byMethod: make(map[string]Factory)}
	t.Register(http.MethodOptions, func() httpx.Handler { return options{methods: t.Methods} })
	t.Register(http.MethodGet, func() httpx.Handler { return read{} })
	t.Register(http.MethodHead, func() httpx.Handler { return read{head: true} })
	t.Register(http.MethodPut, func() httpx.Handler { return &mutation{run: put} })
	t.Register(http.MethodDelete, func() httpx.Handler { return &mutation{run: remove} })
	t.Register(MethodMkcol, func() httpx.Handler { return &mutation{run: mkcol} })
	t.Register(MethodCopy, func() httpx.Handler { return &mutation{run: transfer(false)} })
	t.Register(MethodMove, func() httpx.Handler { return &mutation{run: transfer(true)} })
	return t
}

// Register binds method to f, replacing any previous binding. A nil f
// leaves the method registered but unusable; Resolve reports it as an
// error.
func (t *Table) Register(method string, f Factory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byMethod[strings.ToUpper(method)] = f
}

// Methods returns the registered methods in sorted order.
func (t *Table) Methods() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.byMethod))
	for m := range t.byMethod {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Resolve implements httpx.Resolver. Unknown methods yield (nil, nil).
func (t *Table) Resolve(c httpx.Context) (httpx.Handler, error) {
	method := strings.ToUpper(c.Request().Method)
	t.mu.RLock()
	f, ok := t.byMethod[method]
	t.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if f == nil {
		return nil, errors.Newf("handlers: method %s registered without a factory", method)
	}
	return f(), nil
}
