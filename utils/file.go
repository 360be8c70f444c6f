/*
Velociraptor - Dig Deeper
Copyright (C) 2019-2025 Rapid7 Inc.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package utils

import (
	"context"
	"fmt"
	"io"
	"os"

	errors "github.com/go-errors/errors"
)

// CopyFile copies the contents of src to dst, replacing dst if it
// exists.
func CopyFile(ctx context.Context,
	src, dst string, mode os.FileMode) (err error) {
	sfi, err := os.Stat(src)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	if !sfi.Mode().IsRegular() {
		return fmt.Errorf("CopyFile: non-regular source file %s (%q)",
			sfi.Name(), sfi.Mode().String())
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	defer func() {
		cerr := out.Close()
		if err == nil && cerr != nil {
			err = errors.Wrap(cerr, 0)
		}
	}()

	_, err = Copy(ctx, out, in)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	return out.Sync()
}

// MoveFile renames src to dst, falling back to a copy when they are
// on different filesystems.
func MoveFile(ctx context.Context, src, dst string, mode os.FileMode) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	err = CopyFile(ctx, src, dst, mode)
	if err != nil {
		return err
	}
	return os.Remove(src)
}

// Copy is io.Copy that stops when the context is done.
func Copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, HASH_BLOCK_SIZE)
	var total int64

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			written, werr := dst.Write(buf[:n])
			total += int64(written)
			if werr != nil {
				return total, werr
			}
		}

		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
