package uploads

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/paths"
	"www.velocidex.com/golang/memtriage/utils/tempfile"
	"www.velocidex.com/golang/memtriage/vtesting"
)

// sha256 of "hello"
const hello_sha256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

type fakeScanner struct {
	scanned []string
}

func (self *fakeScanner) ScanDirectory(
	ctx context.Context, path string) (map[string]string, error) {
	self.scanned = append(self.scanned, path)
	return map[string]string{
		filepath.Join(path, "evil.exe"): "Win.Test.EICAR_HDB-1",
	}, nil
}

type fakeMirror struct {
	stored []string
}

func (self *fakeMirror) Store(ctx context.Context, sha256, path string) error {
	self.stored = append(self.stored, sha256)
	return nil
}

type CaptureTestSuite struct {
	suite.Suite
	config_obj *config_proto.Config
	db         datastore.DataStore
	ctx        context.Context
	plugin     *models.Plugin
}

func (self *CaptureTestSuite) SetupTest() {
	self.ctx = context.Background()
	self.config_obj = vtesting.GetTestConfig(self.T())
	self.db = datastore.NewMemoryDataStore()
	self.plugin = &models.Plugin{
		Name:        "windows.dumpfiles.DumpFiles",
		OS:          "Windows",
		LocalDump:   true,
		ClamavCheck: true,
	}

	require.NoError(self.T(), self.db.CreateResults(self.ctx, []*models.Result{
		{Dump: "d1", Plugin: self.plugin.Name},
	}))
}

func (self *CaptureTestSuite) stage(area *StagingArea, name, content string) {
	handler, err := area.Factory()(name)
	require.NoError(self.T(), err)
	_, err = handler.Write([]byte(content))
	require.NoError(self.T(), err)
	require.NoError(self.T(), handler.Close())
}

func (self *CaptureTestSuite) TestStagingOnlyOnClose() {
	area := NewStagingArea(paths.StagingDirectory(self.config_obj))
	defer area.Cleanup()

	self.stage(area, "a.dat", "hello")

	handler, err := area.Factory()("unclosed.dat")
	require.NoError(self.T(), err)
	_, err = handler.Write([]byte("partial"))
	require.NoError(self.T(), err)

	staged := area.Staged()
	require.Equal(self.T(), 1, len(staged))
	assert.Equal(self.T(), "a.dat", staged[0].PreferredName)
	assert.Equal(self.T(), int64(5), staged[0].Size)
	assert.Equal(self.T(), "tmp_", filepath.Base(staged[0].TempPath)[:4])
	assert.Equal(self.T(), ".vol3", filepath.Ext(staged[0].TempPath))

	// Closing again does not stage twice.
	require.NoError(self.T(), handler.Close())
	require.NoError(self.T(), handler.Close())
	assert.Equal(self.T(), 2, len(area.Staged()))

	area.Cleanup()
	for _, file := range area.Staged() {
		_, err := os.Stat(file.TempPath)
		assert.True(self.T(), os.IsNotExist(err))
		assert.NotContains(self.T(), tempfile.LiveFiles(), file.TempPath)
	}
}

func (self *CaptureTestSuite) TestNullHandler() {
	handler, err := NullFileHandlerFactory("x.dat")
	require.NoError(self.T(), err)
	n, err := handler.Write([]byte("hello"))
	require.NoError(self.T(), err)
	assert.Equal(self.T(), 5, n)
	assert.Equal(self.T(), "x.dat", handler.PreferredFilename())
	assert.NoError(self.T(), handler.Close())
}

func (self *CaptureTestSuite) TestCommit() {
	area := NewStagingArea(paths.StagingDirectory(self.config_obj))
	defer area.Cleanup()

	self.stage(area, "a.dat", "hello")
	self.stage(area, "evil.exe", "X5O!P%@AP")
	self.stage(area, "a.dat", "hello")

	scanner := &fakeScanner{}
	mirror := &fakeMirror{}
	capture := NewCapture(self.config_obj, self.db, scanner, mirror)

	created, err := capture.Commit(self.ctx, "d1", self.plugin, area.Staged())
	require.NoError(self.T(), err)
	require.Equal(self.T(), 3, len(created))

	directory := paths.NewDumpPathManager(self.config_obj, "d1").
		PluginDirectory(self.plugin.Name)

	// One scan over the whole directory.
	assert.Equal(self.T(), []string{directory}, scanner.scanned)
	assert.Equal(self.T(), 3, len(mirror.stored))

	files, err := self.db.ListExtractedFiles(self.ctx, "d1", self.plugin.Name)
	require.NoError(self.T(), err)
	require.Equal(self.T(), 3, len(files))

	names := []string{}
	for _, file := range files {
		names = append(names, filepath.Base(file.Path))
		assert.NotEqual(self.T(), "", file.Sha256)
		assert.Equal(self.T(), directory, filepath.Dir(file.Path))

		switch filepath.Base(file.Path) {
		case "evil.exe":
			assert.Equal(self.T(), "Win.Test.EICAR_HDB-1", file.ClamAV)
		default:
			assert.Equal(self.T(), hello_sha256, file.Sha256)
			assert.Equal(self.T(), "", file.ClamAV)
		}
	}
	sort.Strings(names)
	assert.Equal(self.T(), []string{"a.dat", "a_1.dat", "evil.exe"}, names)

	// The staged files were moved away.
	for _, file := range area.Staged() {
		_, err := os.Stat(file.TempPath)
		assert.True(self.T(), os.IsNotExist(err))
	}
}

func (self *CaptureTestSuite) TestNoScanWithoutFlag() {
	area := NewStagingArea(paths.StagingDirectory(self.config_obj))
	defer area.Cleanup()
	self.stage(area, "a.dat", "hello")

	scanner := &fakeScanner{}
	plugin := *self.plugin
	plugin.ClamavCheck = false

	created, err := NewCapture(self.config_obj, self.db, scanner, nil).
		Commit(self.ctx, "d1", &plugin, area.Staged())
	require.NoError(self.T(), err)
	assert.Equal(self.T(), 1, len(created))
	assert.Equal(self.T(), 0, len(scanner.scanned))
}

func (self *CaptureTestSuite) TestFailedFileIsOmitted() {
	area := NewStagingArea(paths.StagingDirectory(self.config_obj))
	defer area.Cleanup()
	self.stage(area, "a.dat", "hello")
	self.stage(area, "b.dat", "world")

	staged := area.Staged()
	require.NoError(self.T(), os.Remove(staged[1].TempPath))

	scanner := &fakeScanner{}
	created, err := NewCapture(self.config_obj, self.db, scanner, nil).
		Commit(self.ctx, "d1", self.plugin, staged)
	require.NoError(self.T(), err)
	require.Equal(self.T(), 1, len(created))
	assert.Equal(self.T(), "a.dat", filepath.Base(created[0].Path))

	vtesting.MemoryLogsContain(self.T(), "unable to store b.dat")
}

func (self *CaptureTestSuite) TestNothingStaged() {
	scanner := &fakeScanner{}
	created, err := NewCapture(self.config_obj, self.db, scanner, nil).
		Commit(self.ctx, "d1", self.plugin, nil)
	require.NoError(self.T(), err)
	assert.Equal(self.T(), 0, len(created))
	assert.Equal(self.T(), 0, len(scanner.scanned))
}

func TestCapture(t *testing.T) {
	suite.Run(t, &CaptureTestSuite{})
}
