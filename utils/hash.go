package utils

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/glaslos/tlsh"
	errors "github.com/go-errors/errors"
)

const HASH_BLOCK_SIZE = 65536

// Sha256File hashes the file in fixed size blocks so memory use is
// bounded regardless of the file size.
func Sha256File(filename string) (string, error) {
	fd, err := os.Open(filename)
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	defer fd.Close()

	hasher := sha256.New()
	buf := make([]byte, HASH_BLOCK_SIZE)
	for {
		n, err := fd.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Wrap(err, 0)
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// TlshFile returns the fuzzy hash of the file. Small or low entropy
// files do not have a TLSH hash and return an empty string.
func TlshFile(filename string) string {
	fd, err := os.Open(filename)
	if err != nil {
		return ""
	}
	defer fd.Close()

	tlsh_hash, err := tlsh.HashReader(bufio.NewReader(fd))
	if err != nil {
		return ""
	}
	return tlsh_hash.String()
}

func Sha256Bytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
