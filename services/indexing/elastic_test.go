package indexing

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/json"
	"www.velocidex.com/golang/memtriage/vtesting"
)

// Just enough of the elastic API for the bulk indexer.
type fakeElastic struct {
	mu        sync.Mutex
	documents map[string]map[string]bool
	deleted   []string

	// Reject bulk items with this status.
	reject_status int

	// Fail the whole bulk request with this status.
	fail_status int

	// Index named in each bulk action line.
	action_indexes []string
}

func (self *fakeElastic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	self.mu.Lock()
	defer self.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.Method == "DELETE" && len(parts) == 1:
		self.deleted = append(self.deleted, parts[0])
		fmt.Fprint(w, `{"acknowledged":true}`)

	case len(parts) == 2 && parts[1] == "_search":
		hits := []string{}
		for id := range self.documents[parts[0]] {
			hits = append(hits, fmt.Sprintf(
				`{"_id":%q,"_source":{"Banner":"Linux version 5.10.0-amd64","Offset":"0x10"}}`, id))
		}
		fmt.Fprintf(w, `{"hits":{"total":{"value":%d},"hits":[%s]}}`,
			len(hits), strings.Join(hits, ","))

	case len(parts) == 2 && parts[1] == "_count":
		fmt.Fprintf(w, `{"count":%d}`, len(self.documents[parts[0]]))

	case len(parts) == 2 && parts[1] == "_bulk":
		self.bulk(w, r, parts[0])

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"not found"}`)
	}
}

func (self *fakeElastic) bulk(w http.ResponseWriter, r *http.Request, index string) {
	if self.fail_status != 0 {
		w.WriteHeader(self.fail_status)
		fmt.Fprint(w, `{"error":{"type":"cluster_block_exception","reason":"index read-only"}}`)
		return
	}

	items := []string{}
	has_errors := false

	scanner := bufio.NewScanner(r.Body)
	for scanner.Scan() {
		action := struct {
			Index struct {
				Index string `json:"_index"`
				ID    string `json:"_id"`
			} `json:"index"`
		}{}
		_ = json.Unmarshal(scanner.Bytes(), &action)
		self.action_indexes = append(self.action_indexes, action.Index.Index)

		// The document line.
		scanner.Scan()

		if self.reject_status != 0 {
			has_errors = true
			items = append(items, fmt.Sprintf(
				`{"index":{"_index":%q,"_id":%q,"status":%d,"error":{"type":"es_rejected_execution_exception","reason":"queue full"}}}`,
				index, action.Index.ID, self.reject_status))
			continue
		}

		if self.documents[index] == nil {
			self.documents[index] = make(map[string]bool)
		}
		self.documents[index][action.Index.ID] = true
		items = append(items, fmt.Sprintf(
			`{"index":{"_index":%q,"_id":%q,"status":201,"result":"created"}}`,
			index, action.Index.ID))
	}

	fmt.Fprintf(w, `{"took":1,"errors":%v,"items":[%s]}`,
		has_errors, strings.Join(items, ","))
}

type ElasticTestSuite struct {
	suite.Suite
	config_obj *config_proto.Config
	fake       *fakeElastic
	server     *httptest.Server
	backend    *ElasticBackend
	ctx        context.Context
}

func (self *ElasticTestSuite) SetupTest() {
	self.ctx = context.Background()
	self.fake = &fakeElastic{documents: make(map[string]map[string]bool)}
	self.server = httptest.NewServer(self.fake)

	self.config_obj = vtesting.GetTestConfig(self.T())
	self.config_obj.Elastic.Implementation = "elastic"
	self.config_obj.Elastic.Addresses = []string{self.server.URL}

	var err error
	self.backend, err = NewElasticBackend(self.config_obj)
	require.NoError(self.T(), err)
}

func (self *ElasticTestSuite) TearDownTest() {
	self.server.Close()
}

func (self *ElasticTestSuite) TestBulkIndex() {
	docs := []Document{}
	for idx, row := range makeRows(4) {
		docs = append(docs, Document{ID: fmt.Sprintf("doc%d", idx), Row: row})
	}

	require.NoError(self.T(), self.backend.Index(self.ctx, "d1_windows.info.info", docs))

	count, err := self.backend.Count(self.ctx, "d1_windows.info.info")
	require.NoError(self.T(), err)
	assert.Equal(self.T(), 4, count)

	rows, err := self.backend.Search(self.ctx, "d1_windows.info.info", 0)
	require.NoError(self.T(), err)
	require.Len(self.T(), rows, 4)
	assert.Equal(self.T(), []string{"Banner", "Offset"}, rows[0].Keys())

	assert.Equal(self.T(), []string{
		"d1_windows.info.info", "d1_windows.info.info",
		"d1_windows.info.info", "d1_windows.info.info",
	}, self.fake.action_indexes)
}

func (self *ElasticTestSuite) TestFailedBulkRequest() {
	self.fake.fail_status = http.StatusForbidden

	err := self.backend.Index(self.ctx, "d1_x", []Document{
		{ID: "a", Row: makeRows(1)[0]},
	})
	assert.ErrorContains(self.T(), err, "index read-only")
	assert.ErrorContains(self.T(), err, "403")
}

func (self *ElasticTestSuite) TestRejectedItemsFail() {
	self.fake.reject_status = 429

	err := self.backend.Index(self.ctx, "d1_x", []Document{
		{ID: "a", Row: makeRows(1)[0]},
	})
	assert.ErrorContains(self.T(), err, "queue full")
}

func (self *ElasticTestSuite) TestDeleteIndex() {
	require.NoError(self.T(), self.backend.DeleteIndex(self.ctx, "d1*"))
	assert.Equal(self.T(), []string{"d1*"}, self.fake.deleted)
}

func TestElastic(t *testing.T) {
	suite.Run(t, &ElasticTestSuite{})
}
