package indexing

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Velocidex/ordereddict"
	elasticsearch "github.com/Velocidex/go-elasticsearch/v9"
	"github.com/Velocidex/go-elasticsearch/v9/esapi"
	"github.com/go-errors/errors"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/json"
)

type ElasticBackend struct {
	client *elasticsearch.Client

	// Retries are handled by the Indexer.
	timeout time.Duration
}

type bulkAction struct {
	Index struct {
		Index string `json:"_index"`
		ID    string `json:"_id"`
	} `json:"index"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Sends all the documents in one bulk request. The body is NDJSON:
// an action line followed by the document for each row.
func (self *ElasticBackend) Index(
	ctx context.Context, index string, docs []Document) error {

	var buf bytes.Buffer
	for _, doc := range docs {
		action := &bulkAction{}
		action.Index.Index = index
		action.Index.ID = doc.ID

		serialized, err := json.Marshal(action)
		if err != nil {
			return errors.Wrap(err, 0)
		}
		buf.Write(serialized)
		buf.WriteByte('\n')

		serialized, err = json.Marshal(doc.Row)
		if err != nil {
			return errors.Wrap(err, 0)
		}
		buf.Write(serialized)
		buf.WriteByte('\n')
	}

	options := []func(*esapi.BulkRequest){
		self.client.Bulk.WithContext(ctx),
		self.client.Bulk.WithIndex(index),
	}
	if self.timeout > 0 {
		options = append(options, self.client.Bulk.WithTimeout(self.timeout))
	}

	res, err := self.client.Bulk(&buf, options...)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError(res.StatusCode, res.Body)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	response := &bulkResponse{}
	err = json.Unmarshal(body, response)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	if !response.Errors {
		return nil
	}

	failures := []string{}
	for _, item := range response.Items {
		for _, result := range item {
			if result.Status < 300 {
				continue
			}
			failures = append(failures, fmt.Sprintf("%v: %v: %v",
				result.ID, result.Error.Type, result.Error.Reason))
		}
	}

	return errors.Errorf("%v of %v documents failed: %v",
		len(failures), len(docs), firstFailure(failures))
}

func (self *ElasticBackend) DeleteIndex(ctx context.Context, pattern string) error {
	res, err := self.client.Indices.Delete([]string{pattern},
		self.client.Indices.Delete.WithContext(ctx),
		self.client.Indices.Delete.WithIgnoreUnavailable(true),
		self.client.Indices.Delete.WithAllowNoIndices(true))
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}

	if res.IsError() {
		return responseError(res.StatusCode, res.Body)
	}
	return nil
}

// The default result window of an index.
const max_search_size = 10000

func (self *ElasticBackend) Search(ctx context.Context,
	index string, limit int) ([]*ordereddict.Dict, error) {
	if limit <= 0 || limit > max_search_size {
		limit = max_search_size
	}

	res, err := self.client.Search(
		self.client.Search.WithContext(ctx),
		self.client.Search.WithIndex(index),
		self.client.Search.WithSize(limit),
		self.client.Search.WithIgnoreUnavailable(true))
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return []*ordereddict.Dict{}, nil
	}

	if res.IsError() {
		return nil, responseError(res.StatusCode, res.Body)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	response := struct {
		Hits struct {
			Hits []struct {
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}{}
	err = json.Unmarshal(body, &response)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	result := make([]*ordereddict.Dict, 0, len(response.Hits.Hits))
	for _, hit := range response.Hits.Hits {
		row := ordereddict.NewDict()
		err = json.Unmarshal(hit.Source, row)
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}
		result = append(result, row)
	}
	return result, nil
}

func (self *ElasticBackend) Count(ctx context.Context, index string) (int, error) {
	res, err := self.client.Count(
		self.client.Count.WithContext(ctx),
		self.client.Count.WithIndex(index),
		self.client.Count.WithIgnoreUnavailable(true))
	if err != nil {
		return 0, errors.Wrap(err, 0)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}

	if res.IsError() {
		return 0, responseError(res.StatusCode, res.Body)
	}

	result := struct {
		Count int `json:"count"`
	}{}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, errors.Wrap(err, 0)
	}

	err = json.Unmarshal(body, &result)
	if err != nil {
		return 0, errors.Wrap(err, 0)
	}
	return result.Count, nil
}

func responseError(status int, body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return errors.Errorf("elastic returned %v: %v",
		status, strings.TrimSpace(string(data)))
}

func (self *ElasticBackend) Close() error {
	return nil
}

func NewElasticBackend(config_obj *config_proto.Config) (*ElasticBackend, error) {
	timeout := time.Duration(config_obj.Elastic.RequestTimeoutSec) * time.Second

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	if config_obj.Elastic.DisableSSLVerify {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    config_obj.Elastic.Addresses,
		Username:     config_obj.Elastic.Username,
		Password:     config_obj.Elastic.Password,
		APIKey:       config_obj.Elastic.APIKey,
		Transport:    transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	return &ElasticBackend{
		client:  client,
		timeout: timeout,
	}, nil
}
