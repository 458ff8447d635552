package tree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T) *FileTree {
	t.Helper()
	ft, err := New(t.TempDir())
	require.NoError(t, err)
	return ft
}

func TestReadWriteRoundTrip(t *testing.T) {
	ft := newTestTree(t)

	require.NoError(t, ft.Write("models/product.go", []byte("package models\n")))
	require.NoError(t, ft.Invalidate("models/product.go"))

	content, err := ft.Read("models/product.go")
	require.NoError(t, err)
	assert.Equal(t, "package models\n", string(content))
}

func TestReadIsCached(t *testing.T) {
	ft := newTestTree(t)
	require.NoError(t, ft.Write("a.go", []byte("package main\n")))
	require.NoError(t, ft.Invalidate("a.go"))

	_, err := ft.Read("a.go")
	require.NoError(t, err)

	// Mutate behind the cache's back. Read must keep serving the cached
	// bytes until an invalidation.
	require.NoError(t, os.WriteFile(filepath.Join(ft.Root(), "a.go"), []byte("package other\n"), 0644))

	content, err := ft.Read("a.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))

	require.NoError(t, ft.Invalidate("a.go"))
	content, err = ft.Read("a.go")
	require.NoError(t, err)
	assert.Equal(t, "package other\n", string(content))
}

func TestMutationThenInvalidationNeverServesStaleBytes(t *testing.T) {
	ft := newTestTree(t)
	require.NoError(t, ft.Write("b.go", []byte("package v1\n")))
	require.NoError(t, ft.Invalidate("b.go"))

	before, err := ft.Read("b.go")
	require.NoError(t, err)

	require.NoError(t, ft.Write("b.go", []byte("package v2\n")))
	require.NoError(t, ft.Invalidate("b.go"))

	after, err := ft.Read("b.go")
	require.NoError(t, err)
	assert.NotEqual(t, string(before), string(after))
	assert.Equal(t, "package v2\n", string(after))
}

func TestStaleReadDetected(t *testing.T) {
	ft := newTestTree(t)
	require.NoError(t, ft.Write("c.go", []byte("package v1\n")))
	require.NoError(t, ft.Invalidate("c.go"))
	_, err := ft.Read("c.go")
	require.NoError(t, err)

	require.NoError(t, ft.Write("c.go", []byte("package v2\n")))

	// Simulate a broken invalidation path: disk reverts to the
	// pre-mutation bytes before Invalidate re-reads.
	require.NoError(t, os.WriteFile(filepath.Join(ft.Root(), "c.go"), []byte("package v1\n"), 0644))

	err = ft.Invalidate("c.go")
	var stale *ErrStaleRead
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "c.go", stale.Path)
}

func TestPendingInvalidations(t *testing.T) {
	ft := newTestTree(t)
	require.NoError(t, ft.Write("x.go", []byte("package x\n")))
	require.NoError(t, ft.Write("y.go", []byte("package y\n")))

	assert.Equal(t, []string{"x.go", "y.go"}, ft.PendingInvalidations())

	require.NoError(t, ft.Invalidate("x.go"))
	assert.Equal(t, []string{"y.go"}, ft.PendingInvalidations())

	ft.InvalidateAll()
	assert.Empty(t, ft.PendingInvalidations())
}

func TestIdenticalRewriteIsNotAMutation(t *testing.T) {
	ft := newTestTree(t)
	require.NoError(t, ft.Write("same.go", []byte("package same\n")))
	require.NoError(t, ft.Invalidate("same.go"))
	_, err := ft.Read("same.go")
	require.NoError(t, err)

	require.NoError(t, ft.Write("same.go", []byte("package same\n")))
	assert.Empty(t, ft.PendingInvalidations())
	require.NoError(t, ft.Invalidate("same.go"))
}

func TestFilesListsGoSourcesSorted(t *testing.T) {
	ft := newTestTree(t)
	require.NoError(t, ft.Write("routes.go", []byte("package main\n")))
	require.NoError(t, ft.Write("models/cart.go", []byte("package models\n")))
	require.NoError(t, ft.Write("README.md", []byte("docs\n")))

	files, err := ft.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"models/cart.go", "routes.go"}, files)
}

func TestCheckerMemoizesByContentHash(t *testing.T) {
	ft := newTestTree(t)
	c := NewChecker(ft)
	ctx := context.Background()

	require.NoError(t, ft.Write("ok.go", []byte("package main\n\nfunc add(a, b int) int { return a + b }\n")))
	require.NoError(t, ft.Invalidate("ok.go"))

	r1, err := c.Check(ctx, "ok.go")
	require.NoError(t, err)
	assert.True(t, r1.OK)
	assert.Equal(t, 1, c.MemoSize())

	r2, err := c.Check(ctx, "ok.go")
	require.NoError(t, err)
	assert.True(t, r2.OK)
	assert.Equal(t, 1, c.MemoSize(), "unchanged file reuses the memoized result")

	require.NoError(t, ft.Write("ok.go", []byte("package main\n\nfunc sub(a, b int) int { return a - b }\n")))
	require.NoError(t, ft.Invalidate("ok.go"))

	r3, err := c.Check(ctx, "ok.go")
	require.NoError(t, err)
	assert.True(t, r3.OK)
	assert.Equal(t, 2, c.MemoSize(), "mutated file gets a fresh evaluation")
}

func TestCheckerReportsBrokenArtifact(t *testing.T) {
	ft := newTestTree(t)
	c := NewChecker(ft)

	require.NoError(t, ft.Write("bad.go", []byte("package main\n\nfunc broken( {\n")))
	require.NoError(t, ft.Invalidate("bad.go"))

	result, err := c.Check(context.Background(), "bad.go")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Detail)
}
