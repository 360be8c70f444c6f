package file_store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/vtesting"
)

const hello_sha256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestBlobKey(t *testing.T) {
	assert.Equal(t, "mirror/2c/"+hello_sha256, blobKey("mirror", hello_sha256))
	assert.Equal(t, "2c/"+hello_sha256, blobKey("", hello_sha256))
}

func TestDirectoryBlobStore(t *testing.T) {
	ctx := context.Background()
	tmpdir := t.TempDir()
	src := vtesting.WriteFile(t, filepath.Join(tmpdir, "hello.txt"), []byte("hello"))

	config_obj := vtesting.GetTestConfig(t)
	config_obj.Mirror = &config_proto.MirrorConfig{
		Directory: filepath.Join(tmpdir, "blobs"),
	}

	store, err := GetBlobStore(ctx, config_obj)
	require.NoError(t, err)

	exists, err := store.Exists(ctx, hello_sha256)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Store(ctx, hello_sha256, src))

	// The second store is a no-op even if the source is gone.
	require.NoError(t, os.Remove(src))
	require.NoError(t, store.Store(ctx, hello_sha256, src))

	data := vtesting.ReadFile(t,
		filepath.Join(tmpdir, "blobs", "2c", hello_sha256))
	assert.Equal(t, "hello", string(data))
}

func TestNoMirror(t *testing.T) {
	store, err := GetBlobStore(context.Background(), vtesting.GetTestConfig(t))
	require.NoError(t, err)
	assert.Nil(t, store)
}
