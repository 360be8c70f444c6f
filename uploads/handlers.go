// Intercept the files a plugin writes and turn the ones worth keeping
// into extracted file records.
package uploads

import (
	"os"
	"sync"

	"github.com/go-errors/errors"
	"www.velocidex.com/golang/memtriage/constants"
	"www.velocidex.com/golang/memtriage/plugins"
	"www.velocidex.com/golang/memtriage/utils/tempfile"
)

// Swallows everything written to it. Used when local capture is off.
type NullFileHandler struct {
	name string
}

func (self *NullFileHandler) Write(p []byte) (int, error) {
	return len(p), nil
}

func (self *NullFileHandler) Close() error {
	return nil
}

func (self *NullFileHandler) PreferredFilename() string {
	return self.name
}

func NullFileHandlerFactory(preferred_filename string) (plugins.FileHandler, error) {
	return &NullFileHandler{name: preferred_filename}, nil
}

// A file the plugin finished writing, waiting for the capture
// pipeline to commit it.
type StagedFile struct {
	PreferredName string
	TempPath      string
	Size          int64
}

// Writes into a private temporary file. The file is only staged when
// the plugin closes it.
type StagingFileHandler struct {
	area *StagingArea
	fd   *os.File
	name string
	size int64

	closed bool
}

func (self *StagingFileHandler) Write(p []byte) (int, error) {
	if self.closed {
		return 0, errors.New("write to closed file " + self.name)
	}
	n, err := self.fd.Write(p)
	self.size += int64(n)
	return n, err
}

func (self *StagingFileHandler) PreferredFilename() string {
	return self.name
}

// Closing twice does not stage the file again.
func (self *StagingFileHandler) Close() error {
	if self.closed {
		return nil
	}
	self.closed = true

	err := self.fd.Close()
	if err != nil {
		return errors.Wrap(err, 0)
	}

	self.area.stage(&StagedFile{
		PreferredName: self.name,
		TempPath:      self.fd.Name(),
		Size:          self.size,
	})
	return nil
}

// Holds the temporary files created during one plugin run.
type StagingArea struct {
	mu        sync.Mutex
	directory string
	created   []string
	staged    []*StagedFile
}

func (self *StagingArea) Factory() plugins.FileHandlerFactory {
	return func(preferred_filename string) (plugins.FileHandler, error) {
		err := os.MkdirAll(self.directory, 0700)
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}

		fd, err := tempfile.CreateTemp(self.directory, constants.STAGING_PATTERN)
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}

		self.mu.Lock()
		self.created = append(self.created, fd.Name())
		self.mu.Unlock()

		return &StagingFileHandler{
			area: self,
			fd:   fd,
			name: preferred_filename,
		}, nil
	}
}

func (self *StagingArea) stage(file *StagedFile) {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.staged = append(self.staged, file)
}

func (self *StagingArea) Staged() []*StagedFile {
	self.mu.Lock()
	defer self.mu.Unlock()

	return append([]*StagedFile{}, self.staged...)
}

// Remove every temporary file still on disk. Files the capture
// pipeline already moved are gone and are skipped.
func (self *StagingArea) Cleanup() {
	self.mu.Lock()
	defer self.mu.Unlock()

	for _, filename := range self.created {
		err := os.Remove(filename)
		if err == nil || !os.IsNotExist(err) {
			tempfile.RemoveTmpFile(filename, err)
		}
	}
	self.created = nil
}

func NewStagingArea(directory string) *StagingArea {
	return &StagingArea{directory: directory}
}
