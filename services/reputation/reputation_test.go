package reputation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Velocidex/ordereddict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/constants"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/json"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/vtesting"
)

const (
	known_hash   = "275a021bbfb6489e54d471899f7db9d1663fc695ec2fe2a2c4538aabf651fd0f"
	unknown_hash = "0000000000000000000000000000000000000000000000000000000000000000"
)

type ReputationTestSuite struct {
	suite.Suite

	config_obj *config_proto.Config
	server     *httptest.Server

	mu       sync.Mutex
	requests []*http.Request
}

func (self *ReputationTestSuite) SetupTest() {
	self.requests = nil
	self.server = httptest.NewServer(http.HandlerFunc(self.handle))

	self.config_obj = vtesting.GetTestConfig(self.T())
	self.config_obj.Reputation.Url = self.server.URL + "/api/v3"
	self.config_obj.Reputation.RequestsPerMinute = 600
	self.config_obj.Reputation.MaxRetries = 0
}

func (self *ReputationTestSuite) TearDownTest() {
	self.server.Close()
	require.NoError(self.T(), datastore.CloseDB(self.config_obj))
}

func (self *ReputationTestSuite) handle(w http.ResponseWriter, r *http.Request) {
	self.mu.Lock()
	self.requests = append(self.requests, r)
	self.mu.Unlock()

	if r.Header.Get("x-apikey") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"code": "WrongCredentialsError", "message": "Wrong API key"}}`))
		return
	}

	switch r.URL.Path {
	case "/api/v3/files/" + known_hash:
		_, _ = w.Write([]byte(`{"data": {"type": "file", "attributes": {
  "md5": "44d88612fea8a8f36de82e1278abb02f",
  "last_analysis_stats": {"malicious": 62, "suspicious": 0, "undetected": 8, "harmless": 0}
}}}`))

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"code": "NotFoundError", "message": "File not found"}}`))
	}
}

func (self *ReputationTestSuite) Requests() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.requests)
}

func (self *ReputationTestSuite) setKey(key string) {
	db, err := datastore.GetDB(self.config_obj)
	require.NoError(self.T(), err)

	err = db.SetServiceCredential(context.Background(), &models.ServiceCredential{
		Service: constants.SERVICE_VIRUSTOTAL,
		Key:     key,
	})
	require.NoError(self.T(), err)
}

func (self *ReputationTestSuite) TestNotConfigured() {
	service := NewReputationService(self.config_obj)
	defer service.Close()

	_, err := service.Lookup(context.Background(), known_hash)
	assert.ErrorIs(self.T(), err, services.ErrNotConfigured)
	assert.Equal(self.T(), 0, self.Requests())
}

func (self *ReputationTestSuite) TestLookupKeepsOnlyStats() {
	self.setKey("secret")

	service := NewReputationService(self.config_obj)
	defer service.Close()

	report, err := service.Lookup(context.Background(), known_hash)
	require.NoError(self.T(), err)

	assert.Equal(self.T(),
		`{"malicious":62,"suspicious":0,"undetected":8,"harmless":0}`,
		json.MustMarshalString(report))

	// The second lookup is served from the cache.
	_, err = service.Lookup(context.Background(), known_hash)
	require.NoError(self.T(), err)
	assert.Equal(self.T(), 1, self.Requests())
}

func (self *ReputationTestSuite) TestAPIErrors() {
	self.setKey("secret")

	service := NewReputationService(self.config_obj)
	defer service.Close()

	_, err := service.Lookup(context.Background(), unknown_hash)
	api_error, ok := err.(APIError)
	require.True(self.T(), ok, "%T", err)
	assert.Equal(self.T(), http.StatusNotFound, api_error.StatusCode)
	assert.Contains(self.T(), api_error.Message, "File not found")

	self.setKey("wrong")
	_, err = service.Lookup(context.Background(), known_hash)
	assert.ErrorContains(self.T(), err, "Wrong API key")
}

func (self *ReputationTestSuite) TestProxyConfiguration() {
	service := NewReputationService(self.config_obj)
	defer service.Close()

	proxy := ordereddict.NewDict().
		Set("http", "http://proxy.example.com:3128").
		Set("https", "")

	client, err := service.getClient(proxy)
	require.NoError(self.T(), err)

	again, err := service.getClient(proxy)
	require.NoError(self.T(), err)
	assert.Same(self.T(), client, again)

	direct, err := service.getClient(nil)
	require.NoError(self.T(), err)
	assert.NotSame(self.T(), client, direct)

	_, err = service.getClient(ordereddict.NewDict().Set("http", "://bad"))
	assert.Error(self.T(), err)
}

func (self *ReputationTestSuite) TestStartRegistersService() {
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	require.NoError(self.T(), StartReputationService(ctx, wg, self.config_obj))

	service, err := services.GetReputationService()
	require.NoError(self.T(), err)
	assert.NotNil(self.T(), service)

	cancel()
	wg.Wait()
}

func TestReputation(t *testing.T) {
	suite.Run(t, &ReputationTestSuite{})
}
