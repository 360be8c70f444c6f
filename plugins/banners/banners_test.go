package banners

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"www.velocidex.com/golang/memtriage/plugins"
)

const (
	debian_banner = "Linux version 5.10.0-amd64 (debian-kernel@lists.debian.org) #1 SMP Debian 5.10.46-4"
	ubuntu_banner = "Linux version 5.4.0-80-generic (buildd@lcy01-amd64-030) #90-Ubuntu SMP"
)

func makeImage() []byte {
	image := make([]byte, chunk_size+1024)
	copy(image[100:], debian_banner+"\n")

	// Spans the first chunk boundary.
	copy(image[chunk_size-10:], ubuntu_banner+"\x00")

	// Duplicate banners are reported once by the plugin.
	copy(image[chunk_size+500:], debian_banner+"\n")
	return image
}

func TestScan(t *testing.T) {
	found := map[int64]string{}
	err := Scan(context.Background(), bytes.NewReader(makeImage()),
		func(offset int64, banner string) {
			found[offset] = banner
		}, nil)
	require.NoError(t, err)

	assert.Equal(t, map[int64]string{
		100:              debian_banner,
		chunk_size - 10:  ubuntu_banner,
		chunk_size + 500: debian_banner,
	}, found)
}

func TestBannersPlugin(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "memory.lime")
	require.NoError(t, os.WriteFile(filename, makeImage(), 0600))

	plugin, err := plugins.Get("banners.Banners")
	require.NoError(t, err)
	assert.Equal(t, "Linux", plugin.OS())

	grid, err := plugin.Run(context.Background(), &plugins.ExecutionContext{
		DumpPath: filename,
	})
	require.NoError(t, err)

	rows, errs := grid.Render()
	assert.Equal(t, 0, len(errs))
	require.Equal(t, 2, len(rows))

	offset, _ := rows[0].Get("Offset")
	assert.Equal(t, "0x64", offset)
	banner, _ := rows[1].Get("Banner")
	assert.Equal(t, ubuntu_banner, banner)
}

func TestMissingImage(t *testing.T) {
	_, err := Banners{}.Run(context.Background(), &plugins.ExecutionContext{
		DumpPath: "/does/not/exist",
	})
	assert.Error(t, err)
}
