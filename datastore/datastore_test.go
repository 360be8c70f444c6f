package datastore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"www.velocidex.com/golang/memtriage/config"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/utils"
)

type BaseTestSuite struct {
	suite.Suite

	config_obj *config_proto.Config
	datastore  DataStore
	ctx        context.Context
}

func (self *BaseTestSuite) SetupTest() {
	self.ctx = context.Background()

	require.NoError(self.T(), self.datastore.SetDump(self.ctx, &models.Dump{
		Index:   "d1",
		Name:    "memory.raw",
		Path:    "/tmp/memory.raw",
		OS:      "Windows",
		Status:  models.DumpUploaded,
		Author:  "admin",
		Created: time.Unix(1600000000, 0).UTC(),
	}))
}

func (self *BaseTestSuite) TearDownTest() {
	require.NoError(self.T(), self.datastore.DeleteDump(self.ctx, "d1"))
}

func (self *BaseTestSuite) TestDumps() {
	dump, err := self.datastore.GetDump(self.ctx, "d1")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), "memory.raw", dump.Name)
	assert.Equal(self.T(), models.DumpUploaded, dump.Status)

	dump.Status = models.DumpComplete
	dump.Family = "Debian"
	require.NoError(self.T(), self.datastore.SetDump(self.ctx, dump))

	dump, err = self.datastore.GetDump(self.ctx, "d1")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), models.DumpComplete, dump.Status)
	assert.Equal(self.T(), "Debian", dump.Family)

	_, err = self.datastore.GetDump(self.ctx, "missing")
	assert.True(self.T(), errors.Is(err, utils.NotFoundError))
}

func (self *BaseTestSuite) TestResultUniqueness() {
	results := []*models.Result{
		{Dump: "d1", Plugin: "windows.pslist.PsList", Status: models.StatusPending},
		{Dump: "d1", Plugin: "windows.info.Info", Status: models.StatusNotApplicable},
	}
	require.NoError(self.T(), self.datastore.CreateResults(self.ctx, results))

	// A second result for the same pair is rejected and nothing
	// from the failed batch is created.
	err := self.datastore.CreateResults(self.ctx, []*models.Result{
		{Dump: "d1", Plugin: "windows.netscan.NetScan"},
		{Dump: "d1", Plugin: "windows.pslist.PsList"},
	})
	assert.Error(self.T(), err)

	stored, err := self.datastore.ListResults(self.ctx, "d1")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), 2, len(stored))
	assert.Equal(self.T(), "windows.info.Info", stored[0].Plugin)
	assert.Equal(self.T(), models.StatusNotApplicable, stored[0].Status)
}

func (self *BaseTestSuite) TestSaveResult() {
	require.NoError(self.T(), self.datastore.CreateResults(self.ctx,
		[]*models.Result{{Dump: "d1", Plugin: "windows.pslist.PsList"}}))

	result, err := self.datastore.GetResult(self.ctx, "d1", "windows.pslist.PsList")
	require.NoError(self.T(), err)
	assert.Nil(self.T(), result.Parameter)

	result.Status = models.StatusError
	result.Description = "Traceback"
	result.Parameter = ordereddict.NewDict().Set("pid", []interface{}{"4"})
	require.NoError(self.T(), self.datastore.SaveResult(self.ctx, result))

	// Saving the same values again is not an error.
	require.NoError(self.T(), self.datastore.SaveResult(self.ctx, result))

	result, err = self.datastore.GetResult(self.ctx, "d1", "windows.pslist.PsList")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), models.StatusError, result.Status)
	assert.Equal(self.T(), "Traceback", result.Description)
	require.NotNil(self.T(), result.Parameter)
	assert.Equal(self.T(), []string{"pid"}, result.Parameter.Keys())

	err = self.datastore.SaveResult(self.ctx, &models.Result{
		Dump: "d1", Plugin: "unknown"})
	assert.True(self.T(), errors.Is(err, utils.NotFoundError))
}

func (self *BaseTestSuite) TestExtractedFiles() {
	require.NoError(self.T(), self.datastore.CreateResults(self.ctx,
		[]*models.Result{{Dump: "d1", Plugin: "windows.dumpfiles.DumpFiles"}}))

	created, err := self.datastore.BulkCreateExtractedFiles(self.ctx,
		[]*models.ExtractedFile{
			{Dump: "d1", Plugin: "windows.dumpfiles.DumpFiles",
				Path: "/media/d1/a.dat", Sha256: "aa"},
			{Dump: "d1", Plugin: "windows.dumpfiles.DumpFiles",
				Path: "/media/d1/b.dat", Sha256: "bb", ClamAV: "Eicar"},
		})
	require.NoError(self.T(), err)
	require.Equal(self.T(), 2, len(created))
	assert.NotEqual(self.T(), "", created[0].ID)

	file, err := self.datastore.GetExtractedFile(self.ctx,
		"d1", "windows.dumpfiles.DumpFiles", "/media/d1/b.dat")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), "Eicar", file.ClamAV)
	assert.Nil(self.T(), file.VT)

	file.VT = ordereddict.NewDict().Set("malicious", 3).Set("harmless", 60)
	require.NoError(self.T(), self.datastore.UpdateExtractedFile(self.ctx, file))

	files, err := self.datastore.ListExtractedFiles(self.ctx,
		"d1", "windows.dumpfiles.DumpFiles")
	require.NoError(self.T(), err)
	require.Equal(self.T(), 2, len(files))
	assert.Nil(self.T(), files[0].VT)
	require.NotNil(self.T(), files[1].VT)
	assert.Equal(self.T(), []string{"malicious", "harmless"}, files[1].VT.Keys())

	require.NoError(self.T(), self.datastore.DeleteExtractedFiles(self.ctx,
		"d1", "windows.dumpfiles.DumpFiles"))
	files, err = self.datastore.ListExtractedFiles(self.ctx,
		"d1", "windows.dumpfiles.DumpFiles")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), 0, len(files))

	// Files must belong to an existing result.
	_, err = self.datastore.BulkCreateExtractedFiles(self.ctx,
		[]*models.ExtractedFile{{Dump: "d1", Plugin: "nope", Path: "x"}})
	assert.Error(self.T(), err)
}

func (self *BaseTestSuite) TestPluginsAndCredentials() {
	require.NoError(self.T(), self.datastore.SetPlugin(self.ctx, &models.Plugin{
		Name: "windows.registry.hivelist.HiveList", OS: "Windows",
		LocalDump: true, RegipyCheck: true}))
	require.NoError(self.T(), self.datastore.SetUserPlugin(self.ctx,
		&models.UserPlugin{Principal: "admin",
			Plugin: "windows.registry.hivelist.HiveList", Automatic: true}))

	plugin, err := self.datastore.GetPlugin(self.ctx,
		"windows.registry.hivelist.HiveList")
	require.NoError(self.T(), err)
	assert.True(self.T(), plugin.LocalDump)
	assert.True(self.T(), plugin.RegipyCheck)
	assert.False(self.T(), plugin.VtCheck)

	user_plugins, err := self.datastore.ListUserPlugins(self.ctx, "admin")
	require.NoError(self.T(), err)
	require.Equal(self.T(), 1, len(user_plugins))
	assert.True(self.T(), user_plugins[0].Automatic)

	_, err = self.datastore.GetServiceCredential(self.ctx, 1)
	assert.True(self.T(), errors.Is(err, utils.NotFoundError))

	require.NoError(self.T(), self.datastore.SetServiceCredential(self.ctx,
		&models.ServiceCredential{Service: 1, Key: "secret"}))
	credential, err := self.datastore.GetServiceCredential(self.ctx, 1)
	require.NoError(self.T(), err)
	assert.Equal(self.T(), "secret", credential.Key)
}

func (self *BaseTestSuite) TestAccess() {
	require.NoError(self.T(), self.datastore.GrantAccess(self.ctx, "bob", "d1"))
	require.NoError(self.T(), self.datastore.GrantAccess(self.ctx, "alice", "d1"))
	require.NoError(self.T(), self.datastore.GrantAccess(self.ctx, "alice", "d1"))

	principals, err := self.datastore.ListPrincipalsWithAccess(self.ctx, "d1")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), []string{"alice", "bob"}, principals)
}

func (self *BaseTestSuite) TestDeleteDumpCascades() {
	require.NoError(self.T(), self.datastore.CreateResults(self.ctx,
		[]*models.Result{{Dump: "d1", Plugin: "p"}}))
	_, err := self.datastore.BulkCreateExtractedFiles(self.ctx,
		[]*models.ExtractedFile{{Dump: "d1", Plugin: "p", Path: "x"}})
	require.NoError(self.T(), err)

	require.NoError(self.T(), self.datastore.DeleteDump(self.ctx, "d1"))

	results, err := self.datastore.ListResults(self.ctx, "d1")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), 0, len(results))

	files, err := self.datastore.ListExtractedFiles(self.ctx, "d1", "p")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), 0, len(files))
}

type MemoryTestSuite struct {
	BaseTestSuite
}

func TestMemoryDatastore(t *testing.T) {
	config_obj := config.GetDefaultConfig()
	config_obj.Datastore.Implementation = "memory"

	suite.Run(t, &MemoryTestSuite{BaseTestSuite{
		datastore:  NewMemoryDataStore(),
		config_obj: config_obj,
	}})
}

type SqliteTestSuite struct {
	BaseTestSuite
}

func TestSqliteDatastore(t *testing.T) {
	config_obj := config.GetDefaultConfig()
	config_obj.Datastore.Location = filepath.Join(t.TempDir(), "test.sqlite")

	db, err := GetDB(config_obj)
	require.NoError(t, err)
	defer CloseDB(config_obj)

	suite.Run(t, &SqliteTestSuite{BaseTestSuite{
		datastore:  db,
		config_obj: config_obj,
	}})
}

func TestRebind(t *testing.T) {
	db := &SQLDataStore{dialect: "postgres"}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2",
		db.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	db.dialect = "mysql"
	assert.Equal(t, "x = ?", db.rebind("x = ?"))
}
