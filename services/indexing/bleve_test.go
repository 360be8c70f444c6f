package indexing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBleveBackend(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "index")

	backend, err := NewBleveBackend(root)
	require.NoError(t, err)
	defer backend.Close()

	docs := []Document{}
	for idx, row := range makeRows(3) {
		docs = append(docs, Document{ID: string(rune('a' + idx)), Row: row})
	}

	require.NoError(t, backend.Index(ctx, "d1_linux.pslist.pslist", docs))
	require.NoError(t, backend.Index(ctx, "d1_linux.bash.bash", docs[:1]))

	// Repeating a request replaces the documents.
	require.NoError(t, backend.Index(ctx, "d1_linux.pslist.pslist", docs))

	count, err := backend.Count(ctx, "d1_linux.pslist.pslist")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = backend.Count(ctx, "d2_missing")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, backend.DeleteIndex(ctx, "d1*"))
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Error(t, backend.Index(ctx, "../escape", docs))
}

func TestBleveSearchKeepsRows(t *testing.T) {
	ctx := context.Background()
	backend, err := NewBleveBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	rows := makeRows(2)
	require.NoError(t, backend.Index(ctx, "d1_linux.pslist.pslist", []Document{
		{ID: "a", Row: rows[0]}, {ID: "b", Row: rows[1]},
	}))

	hits, err := backend.Search(ctx, "d1_linux.pslist.pslist", 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Key order survives the round trip.
	assert.Equal(t, []string{"PID", "ImageFileName", "children"}, hits[0].Keys())

	hits, err = backend.Search(ctx, "d1_linux.pslist.pslist", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = backend.Search(ctx, "d9_missing", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
