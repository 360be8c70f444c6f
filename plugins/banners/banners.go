// Identify the kernel of a Linux memory image by searching for the
// banner the kernel prints at boot.
package banners

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/go-errors/errors"
	"www.velocidex.com/golang/memtriage/constants"
	"www.velocidex.com/golang/memtriage/plugins"
)

const (
	chunk_size     = 4 * 1024 * 1024
	max_banner_len = 256
)

var banner_marker = []byte("Linux version ")

type Banners struct{}

func (self Banners) Name() string {
	return constants.BANNERS_PLUGIN
}

func (self Banners) OS() string {
	return constants.OS_LINUX
}

func (self Banners) Description() string {
	return "Finds Linux kernel banners in the memory image"
}

func (self Banners) Flags() plugins.Flags {
	return plugins.Flags{}
}

func (self Banners) Requirements() []plugins.Requirement {
	return nil
}

func (self Banners) Run(
	ctx context.Context, exec_ctx *plugins.ExecutionContext) (*plugins.TreeGrid, error) {
	fd, err := os.Open(exec_ctx.DumpPath)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	defer fd.Close()

	stat, err := fd.Stat()
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	grid := plugins.NewTreeGrid(
		plugins.Column{Name: "Offset", Type: plugins.ColumnHex},
		plugins.Column{Name: "Banner", Type: plugins.ColumnString})

	progress := exec_ctx.Progress
	if progress == nil {
		progress = plugins.DiscardProgress
	}

	seen := make(map[string]bool)
	err = Scan(ctx, fd, func(offset int64, banner string) {
		if seen[banner] {
			return
		}
		seen[banner] = true
		grid.AddRow(nil, offset, banner)
	}, func(offset int64) {
		if stat.Size() > 0 {
			progress(float64(offset)*100/float64(stat.Size()), "Scanning for banners")
		}
	})
	if err != nil {
		return nil, err
	}

	return grid, nil
}

// Scan the reader for kernel banners. Chunks overlap by the maximum
// banner length so a banner spanning a chunk boundary is still found
// once.
func Scan(ctx context.Context, reader io.ReaderAt,
	cb func(offset int64, banner string), progress func(offset int64)) error {
	buf := make([]byte, chunk_size+max_banner_len)
	var offset int64

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), 0)
		default:
		}

		n, err := reader.ReadAt(buf, offset)
		if n == 0 {
			if err == io.EOF || err == nil {
				return nil
			}
			return errors.Wrap(err, 0)
		}
		data := buf[:n]

		// Only report banners starting in this chunk. Those starting
		// in the overlap are found by the next read.
		limit := n
		if n > chunk_size {
			limit = chunk_size
		}

		start := 0
		for {
			idx := bytes.Index(data[start:], banner_marker)
			if idx < 0 || start+idx >= limit {
				break
			}
			banner_start := start + idx
			cb(offset+int64(banner_start), extractBanner(data[banner_start:]))
			start = banner_start + len(banner_marker)
		}

		if progress != nil {
			progress(offset)
		}

		if err == io.EOF || n < len(buf) {
			return nil
		}
		offset += chunk_size
	}
}

// The banner ends at the first newline, NUL or after max_banner_len
// bytes.
func extractBanner(data []byte) string {
	if len(data) > max_banner_len {
		data = data[:max_banner_len]
	}
	end := bytes.IndexAny(data, "\x00\n")
	if end >= 0 {
		data = data[:end]
	}
	return string(bytes.TrimSpace(data))
}

func init() {
	plugins.Register(Banners{})
}
