package enrichment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Velocidex/ordereddict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/json"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/services/scheduler"
	"www.velocidex.com/golang/memtriage/vtesting"
)

const plugin_name = "windows.registry.hivelist.HiveList"

type fakeReputation struct {
	mu     sync.Mutex
	hashes []string
	err    error

	// Per digest failures.
	failing map[string]error
}

func (self *fakeReputation) Lookup(
	ctx context.Context, sha256 string) (*ordereddict.Dict, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.hashes = append(self.hashes, sha256)
	if self.err != nil {
		return nil, self.err
	}
	if err, pres := self.failing[sha256]; pres {
		return nil, err
	}
	return ordereddict.NewDict().Set("malicious", 1).Set("harmless", 70), nil
}

type EnrichmentTestSuite struct {
	suite.Suite

	config_obj *config_proto.Config
	db         datastore.DataStore
	scheduler  *scheduler.Scheduler
	reputation *fakeReputation
	ctx        context.Context
	files      []string
}

func (self *EnrichmentTestSuite) SetupTest() {
	self.ctx = context.Background()
	self.config_obj = vtesting.GetTestConfig(self.T())
	self.config_obj.Scheduler.Slots = 1

	var err error
	self.db, err = datastore.GetDB(self.config_obj)
	require.NoError(self.T(), err)

	self.scheduler = scheduler.NewScheduler(self.config_obj)
	services.RegisterScheduler(self.scheduler)

	self.reputation = &fakeReputation{}
	services.RegisterReputationService(self.reputation)

	require.NoError(self.T(), self.db.CreateResults(self.ctx, []*models.Result{
		{Dump: "d1", Plugin: plugin_name},
	}))

	dir := self.T().TempDir()
	records := []*models.ExtractedFile{}
	self.files = nil
	for _, name := range []string{"SYSTEM", "SAM", "NTUSER.DAT"} {
		path := filepath.Join(dir, name)
		require.NoError(self.T(), os.WriteFile(path, []byte("not a hive "+name), 0600))
		self.files = append(self.files, path)
		records = append(records, &models.ExtractedFile{
			Dump: "d1", Plugin: plugin_name, Path: path,
		})
	}

	// One file carries its digest from capture.
	records[0].Sha256 = "aaaa"

	_, err = self.db.BulkCreateExtractedFiles(self.ctx, records)
	require.NoError(self.T(), err)
}

func (self *EnrichmentTestSuite) TearDownTest() {
	self.scheduler.Close()
	services.RegisterScheduler(nil)
	services.RegisterReputationService(nil)
	require.NoError(self.T(), datastore.CloseDB(self.config_obj))
}

func (self *EnrichmentTestSuite) getFile(path string) *models.ExtractedFile {
	file, err := self.db.GetExtractedFile(self.ctx, "d1", plugin_name, path)
	require.NoError(self.T(), err)
	return file
}

func (self *EnrichmentTestSuite) TestReputationLookup() {
	dispatcher := NewDispatcher(self.config_obj)
	outcomes := dispatcher.Dispatch(self.ctx, "d1", plugin_name,
		self.files, ReputationLookup)

	require.Len(self.T(), outcomes, 3)
	for idx, outcome := range outcomes {
		assert.Equal(self.T(), self.files[idx], outcome.Path)
		assert.NoError(self.T(), outcome.Err)
		assert.NotNil(self.T(), outcome.Report)

		file := self.getFile(outcome.Path)
		assert.Equal(self.T(), `{"malicious":1,"harmless":70}`,
			json.MustMarshalString(file.VT))
		assert.Nil(self.T(), file.Reg)
	}

	// The captured digest is used when present.
	assert.Contains(self.T(), self.reputation.hashes, "aaaa")
	assert.Len(self.T(), self.reputation.hashes, 3)
}

func (self *EnrichmentTestSuite) TestReputationNotConfigured() {
	self.reputation.err = services.ErrNotConfigured

	dispatcher := NewDispatcher(self.config_obj)
	outcomes := dispatcher.Dispatch(self.ctx, "d1", plugin_name,
		self.files[:1], ReputationLookup)

	require.Len(self.T(), outcomes, 1)
	assert.Equal(self.T(), `{"error":"Service not configured"}`,
		json.MustMarshalString(self.getFile(self.files[0]).VT))
}

func (self *EnrichmentTestSuite) TestReputationUnavailable() {
	self.reputation.err = errors.New("quota exceeded")

	dispatcher := NewDispatcher(self.config_obj)
	outcomes := dispatcher.Dispatch(self.ctx, "d1", plugin_name,
		self.files, ReputationLookup)

	for _, outcome := range outcomes {
		assert.NoError(self.T(), outcome.Err)
		assert.Nil(self.T(), outcome.Report)
		assert.Nil(self.T(), self.getFile(outcome.Path).VT)
	}
}

func (self *EnrichmentTestSuite) TestRegistryDecodeFailureIsEmpty() {
	dispatcher := NewDispatcher(self.config_obj)
	outcomes := dispatcher.Dispatch(self.ctx, "d1", plugin_name,
		self.files, RegistryDecode)

	for _, outcome := range outcomes {
		assert.NoError(self.T(), outcome.Err)
		file := self.getFile(outcome.Path)
		require.NotNil(self.T(), file.Reg)
		assert.Equal(self.T(), "{}", json.MustMarshalString(file.Reg))
	}
}

// Dispatching from inside a task must not deadlock the single slot.
func (self *EnrichmentTestSuite) TestDispatchFromTask() {
	dispatcher := NewDispatcher(self.config_obj)

	future, err := self.scheduler.Submit(self.ctx, "d1/"+plugin_name,
		func(ctx context.Context) (interface{}, error) {
			return dispatcher.Dispatch(ctx, "d1", plugin_name,
				self.files, ReputationLookup), nil
		})
	require.NoError(self.T(), err)

	result, err := future.Wait(self.ctx)
	require.NoError(self.T(), err)
	assert.Len(self.T(), result.([]Outcome), 3)
}

func (self *EnrichmentTestSuite) TestMissingFileRecord() {
	dispatcher := NewDispatcher(self.config_obj)
	outcomes := dispatcher.Dispatch(self.ctx, "d1", plugin_name,
		[]string{"/nonexistent"}, RegistryDecode)

	require.Len(self.T(), outcomes, 1)
	assert.Error(self.T(), outcomes[0].Err)
}

// One file failing must not affect its siblings.
func (self *EnrichmentTestSuite) TestMixedOutcomes() {
	self.reputation.failing = map[string]error{
		"aaaa": errors.New("quota exceeded"),
	}

	files := []string{self.files[0], "/nonexistent", self.files[1]}
	dispatcher := NewDispatcher(self.config_obj)
	outcomes := dispatcher.Dispatch(self.ctx, "d1", plugin_name,
		files, ReputationLookup)

	require.Len(self.T(), outcomes, 3)

	// Lookup failed: no report and the record is left without one.
	assert.Equal(self.T(), self.files[0], outcomes[0].Path)
	assert.NoError(self.T(), outcomes[0].Err)
	assert.Nil(self.T(), outcomes[0].Report)
	assert.Nil(self.T(), self.getFile(self.files[0]).VT)

	// No record for this path.
	assert.Equal(self.T(), "/nonexistent", outcomes[1].Path)
	assert.Error(self.T(), outcomes[1].Err)
	assert.Nil(self.T(), outcomes[1].Report)

	// The sibling is enriched normally.
	assert.Equal(self.T(), self.files[1], outcomes[2].Path)
	assert.NoError(self.T(), outcomes[2].Err)
	require.NotNil(self.T(), outcomes[2].Report)
	assert.Equal(self.T(), `{"malicious":1,"harmless":70}`,
		json.MustMarshalString(self.getFile(self.files[1]).VT))

	// The untouched file is not enriched.
	assert.Nil(self.T(), self.getFile(self.files[2]).VT)
}

func TestEnrichment(t *testing.T) {
	suite.Run(t, &EnrichmentTestSuite{})
}
