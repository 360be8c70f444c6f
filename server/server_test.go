package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/constants"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/json"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/plugins"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/services/indexing"
	"www.velocidex.com/golang/memtriage/services/notifications"
	"www.velocidex.com/golang/memtriage/services/orchestrator"
	"www.velocidex.com/golang/memtriage/services/runner"
	"www.velocidex.com/golang/memtriage/services/scheduler"
	"www.velocidex.com/golang/memtriage/vtesting"
	"www.velocidex.com/golang/memtriage/vtesting/fakes"
)

const (
	analyst = "analyst"
	pslist  = "windows.pslist.PsList"
)

type ServerTestSuite struct {
	suite.Suite

	config_obj   *config_proto.Config
	ctx          context.Context
	db           datastore.DataStore
	scheduler    *scheduler.Scheduler
	notifier     *notifications.Notifier
	orchestrator *orchestrator.Orchestrator
	plugin       *fakes.Plugin
	server       *httptest.Server
	dump_path    string
}

func (self *ServerTestSuite) SetupTest() {
	self.ctx = context.Background()
	self.config_obj = vtesting.GetTestConfig(self.T())
	self.config_obj.Frontend.NotificationsPerSecond = 0

	var err error
	self.db, err = datastore.GetDB(self.config_obj)
	require.NoError(self.T(), err)

	services.RegisterIndexer(indexing.NewIndexer(
		self.config_obj, indexing.NewMemoryBackend()))

	self.scheduler = scheduler.NewScheduler(self.config_obj)
	services.RegisterScheduler(self.scheduler)

	self.notifier = notifications.NewNotifier(self.config_obj, nil)
	services.RegisterNotifier(self.notifier)

	plugin_runner, err := runner.NewRunner(self.ctx, self.config_obj)
	require.NoError(self.T(), err)
	services.RegisterRunner(plugin_runner)

	self.orchestrator = orchestrator.NewOrchestrator(self.ctx, self.config_obj)
	services.RegisterOrchestrator(self.orchestrator)

	self.plugin = fakes.NewPlugin(pslist)
	self.plugin.PluginOS = constants.OS_WINDOWS
	self.plugin.Requires = []plugins.Requirement{
		{Name: "pid", Type: plugins.RequirementList,
			ElementType: plugins.RequirementInt, Optional: true},
	}
	plugins.Register(self.plugin)

	require.NoError(self.T(), self.db.SetPlugin(self.ctx, &models.Plugin{
		Name: pslist, OS: constants.OS_WINDOWS,
	}))
	require.NoError(self.T(), self.db.SetUserPlugin(self.ctx, &models.UserPlugin{
		Principal: analyst, Plugin: pslist, Automatic: true,
	}))

	self.dump_path = vtesting.WriteFile(self.T(),
		filepath.Join(self.T().TempDir(), "memory.raw"), []byte("image"))
	self.server = httptest.NewServer(NewRouter(self.config_obj))
}

func (self *ServerTestSuite) TearDownTest() {
	self.server.Close()
	plugins.Unregister(pslist)
	self.scheduler.Close()
	self.notifier.Close()
	services.RegisterOrchestrator(nil)
	services.RegisterRunner(nil)
	services.RegisterNotifier(nil)
	services.RegisterScheduler(nil)
	services.RegisterIndexer(nil)
	require.NoError(self.T(), datastore.CloseDB(self.config_obj))
}

func (self *ServerTestSuite) request(method, path, principal string,
	body io.Reader, content_type string) *http.Response {
	req, err := http.NewRequest(method, self.server.URL+path, body)
	require.NoError(self.T(), err)

	if principal != "" {
		req.Header.Set(PrincipalHeader, principal)
	}
	if content_type != "" {
		req.Header.Set("Content-Type", content_type)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(self.T(), err)
	return resp
}

func (self *ServerTestSuite) decode(resp *http.Response, item interface{}) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(self.T(), err)
	require.NoError(self.T(), json.Unmarshal(data, item), string(data))
}

// Creates a dump through the API and waits for its batch.
func (self *ServerTestSuite) createDump() *models.Dump {
	body := fmt.Sprintf(`{"name":"workstation","operating_system":"Windows","path":%q}`,
		self.dump_path)
	resp := self.request("POST", "/api/v1/dumps", analyst,
		strings.NewReader(body), "application/json")
	require.Equal(self.T(), http.StatusCreated, resp.StatusCode)

	dump := &models.Dump{}
	self.decode(resp, dump)
	require.NoError(self.T(), self.orchestrator.Wait(self.ctx, dump.Index))
	return dump
}

func (self *ServerTestSuite) TestPrincipalRequired() {
	resp := self.request("GET", "/api/v1/dumps", "", nil, "")
	resp.Body.Close()
	assert.Equal(self.T(), http.StatusUnauthorized, resp.StatusCode)

	// Health checks are not scoped to a principal.
	resp = self.request("GET", "/healthz", "", nil, "")
	resp.Body.Close()
	assert.Equal(self.T(), http.StatusOK, resp.StatusCode)
}

func (self *ServerTestSuite) TestDumpLifecycle() {
	dump := self.createDump()

	dumps := []*models.Dump{}
	self.decode(self.request("GET", "/api/v1/dumps", analyst, nil, ""), &dumps)
	require.Len(self.T(), dumps, 1)
	assert.Equal(self.T(), dump.Index, dumps[0].Index)

	results := []*models.Result{}
	self.decode(self.request("GET",
		"/api/v1/dumps/"+dump.Index+"/results", analyst, nil, ""), &results)
	require.Len(self.T(), results, 1)
	assert.Equal(self.T(), models.StatusSuccess, results[0].Status)

	rows := []map[string]interface{}{}
	self.decode(self.request("GET",
		"/api/v1/dumps/"+dump.Index+"/plugins/"+pslist+"/rows?limit=10",
		analyst, nil, ""), &rows)
	require.Len(self.T(), rows, 1)
	assert.Equal(self.T(), "System", rows[0]["Name"])

	resp := self.request("DELETE", "/api/v1/dumps/"+dump.Index, analyst, nil, "")
	resp.Body.Close()
	assert.Equal(self.T(), http.StatusOK, resp.StatusCode)

	resp = self.request("GET", "/api/v1/dumps/"+dump.Index, analyst, nil, "")
	resp.Body.Close()
	assert.Equal(self.T(), http.StatusNotFound, resp.StatusCode)
}

func (self *ServerTestSuite) TestOtherPrincipalsCanNotSeeDump() {
	dump := self.createDump()

	dumps := []*models.Dump{}
	self.decode(self.request("GET", "/api/v1/dumps", "mallory", nil, ""), &dumps)
	assert.Empty(self.T(), dumps)

	resp := self.request("GET",
		"/api/v1/dumps/"+dump.Index+"/results", "mallory", nil, "")
	resp.Body.Close()
	assert.Equal(self.T(), http.StatusNotFound, resp.StatusCode)
}

func (self *ServerTestSuite) TestInvalidRequests() {
	resp := self.request("POST", "/api/v1/dumps", analyst,
		strings.NewReader(`{"name":""}`), "application/json")
	resp.Body.Close()
	assert.Equal(self.T(), http.StatusBadRequest, resp.StatusCode)

	body := fmt.Sprintf(`{"name":"x","operating_system":"Plan9","path":%q}`,
		self.dump_path)
	resp = self.request("POST", "/api/v1/dumps", analyst,
		strings.NewReader(body), "application/json")
	resp.Body.Close()
	assert.Equal(self.T(), http.StatusBadRequest, resp.StatusCode)
}

func (self *ServerTestSuite) TestResubmit() {
	dump := self.createDump()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(self.T(), writer.WriteField("pid", "4,8"))
	require.NoError(self.T(), writer.Close())

	resp := self.request("POST",
		"/api/v1/dumps/"+dump.Index+"/plugins/"+pslist+"/resubmit",
		analyst, body, writer.FormDataContentType())
	resp.Body.Close()
	require.Equal(self.T(), http.StatusAccepted, resp.StatusCode)

	vtesting.WaitUntil(5*time.Second, self.T(), func() bool {
		return len(self.plugin.Calls()) == 2
	})

	pids, _ := self.plugin.Calls()[1].Parameters.Get("pid")
	assert.Equal(self.T(), []interface{}{int64(4), int64(8)}, pids)

	// Bad values are rejected before anything is discarded.
	body = &bytes.Buffer{}
	writer = multipart.NewWriter(body)
	require.NoError(self.T(), writer.WriteField("pid", "four"))
	require.NoError(self.T(), writer.Close())

	resp = self.request("POST",
		"/api/v1/dumps/"+dump.Index+"/plugins/"+pslist+"/resubmit",
		analyst, body, writer.FormDataContentType())
	resp.Body.Close()
	assert.Equal(self.T(), http.StatusBadRequest, resp.StatusCode)
}

func (self *ServerTestSuite) TestEventStream() {
	dump := self.createDump()

	url := "ws" + strings.TrimPrefix(self.server.URL, "http") + "/api/v1/events"
	header := http.Header{}
	header.Set(PrincipalHeader, analyst)

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(self.T(), err)
	defer conn.Close()

	vtesting.WaitUntil(5*time.Second, self.T(), func() bool {
		return len(self.notifier.Listeners()) == 1
	})

	require.NoError(self.T(), self.notifier.Notify(self.ctx,
		dump.Index, pslist, models.StatusSuccess))

	require.NoError(self.T(), conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(self.T(), err)

	event := &services.Event{}
	require.NoError(self.T(), json.Unmarshal(message, event))
	assert.Equal(self.T(), dump.Index, event.DumpID)
	assert.Contains(self.T(), event.Message, "<b>workstation</b>")

	listeners := []map[string]interface{}{}
	self.decode(self.request("GET", "/debug/notifications", "", nil, ""), &listeners)
	require.Len(self.T(), listeners, 1)
}

func TestServer(t *testing.T) {
	suite.Run(t, &ServerTestSuite{})
}
