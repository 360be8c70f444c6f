// Content addressed storage for captured files.
//
// Captured files live under the media root where the plugin wrote
// them. A blob store keeps a second copy keyed by the sha256 so the
// same binary extracted from many dumps is only kept once.
package file_store

import (
	"context"
	"path"

	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

type BlobStore interface {
	// Store the file at path under its hash. Storing a hash which is
	// already present is a no-op.
	Store(ctx context.Context, sha256, path string) error
	Exists(ctx context.Context, sha256 string) (bool, error)
}

// Blobs are fanned out by the first two hex digits of the hash.
func blobKey(prefix, sha256 string) string {
	if len(sha256) < 2 {
		return path.Join(prefix, sha256)
	}
	return path.Join(prefix, sha256[:2], sha256)
}

// Returns nil when no mirror is configured.
func GetBlobStore(
	ctx context.Context, config_obj *config_proto.Config) (BlobStore, error) {
	mirror := config_obj.Mirror
	if mirror == nil {
		return nil, nil
	}

	if mirror.Bucket != "" {
		return NewS3BlobStore(ctx, mirror)
	}

	if mirror.Directory != "" {
		return NewDirectoryBlobStore(mirror.Directory), nil
	}
	return nil, nil
}
