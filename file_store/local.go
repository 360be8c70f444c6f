package file_store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-errors/errors"
	"www.velocidex.com/golang/memtriage/utils"
)

type DirectoryBlobStore struct {
	root string
}

func (self *DirectoryBlobStore) filename(sha256 string) string {
	return filepath.Join(self.root, filepath.FromSlash(blobKey("", sha256)))
}

func (self *DirectoryBlobStore) Exists(
	ctx context.Context, sha256 string) (bool, error) {
	_, err := os.Stat(self.filename(sha256))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, 0)
}

func (self *DirectoryBlobStore) Store(
	ctx context.Context, sha256, path string) error {
	exists, err := self.Exists(ctx, sha256)
	if err != nil || exists {
		return err
	}

	dest := self.filename(sha256)
	err = os.MkdirAll(filepath.Dir(dest), 0700)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	// Copy to a temporary name first so a partial blob is never
	// visible under its hash.
	tmp := dest + ".tmp"
	err = utils.CopyFile(ctx, path, tmp, 0600)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	err = os.Rename(tmp, dest)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func NewDirectoryBlobStore(root string) *DirectoryBlobStore {
	return &DirectoryBlobStore{root: root}
}
