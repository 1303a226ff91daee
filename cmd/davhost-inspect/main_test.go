package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"davhost/pkg/store"
)

func TestInspectTree(t *testing.T) {
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	b := st.NewBatch()
	require.NoError(t, b.Put(store.Resource{Path: "/docs", Collection: true}))
	require.NoError(t, b.Put(store.Resource{Path: "/docs/a.txt", Content: []byte("hello")}))
	require.NoError(t, b.Put(store.Resource{Path: "/top.bin", Content: make([]byte, 2048)}))
	require.NoError(t, b.Commit(ctx))
	require.NoError(t, b.Close())

	var out bytes.Buffer
	require.NoError(t, inspect(ctx, &out, st))
	s := out.String()
	assert.Contains(t, s, "resources: 3 (1 collections)")
	assert.Contains(t, s, "  docs/\n")
	assert.Contains(t, s, "    a.txt  5 B")
	assert.Contains(t, s, "  top.bin  2.0 KiB")
}
