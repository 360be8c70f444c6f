// Looks up file hashes in a VirusTotal compatible reputation API.
package reputation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/Velocidex/ttlcache/v2"
	"github.com/go-errors/errors"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/juju/ratelimit"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/constants"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/json"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/utils"
)

// The API returns an error document for unknown hashes and bad
// keys. These are not worth retrying.
type APIError struct {
	StatusCode int
	Message    string
}

func (self APIError) Error() string {
	return fmt.Sprintf("reputation API returned %v: %v",
		self.StatusCode, self.Message)
}

type ReputationService struct {
	config_obj *config_proto.Config
	logger     *logging.LogContext

	// Shared by all lookups: the public API allows only a few
	// requests per minute.
	bucket *ratelimit.Bucket

	// Reports keyed by sha256.
	lru *ttlcache.Cache

	mu sync.Mutex

	// Clients keyed by the proxy configuration they use.
	clients map[string]*retryablehttp.Client
}

func (self *ReputationService) Lookup(
	ctx context.Context, sha256 string) (*ordereddict.Dict, error) {

	cached, err := self.lru.Get(sha256)
	if err == nil {
		return cached.(*ordereddict.Dict), nil
	}

	db, err := datastore.GetDB(self.config_obj)
	if err != nil {
		return nil, err
	}

	credential, err := db.GetServiceCredential(ctx, constants.SERVICE_VIRUSTOTAL)
	if err != nil {
		if errors.Is(err, utils.NotFoundError) {
			return nil, services.ErrNotConfigured
		}
		return nil, err
	}

	client, err := self.getClient(credential.Proxy)
	if err != nil {
		return nil, err
	}

	err = self.wait(ctx)
	if err != nil {
		return nil, err
	}

	report, err := self.fetch(ctx, client, credential.Key, sha256)
	if err != nil {
		return nil, err
	}

	_ = self.lru.Set(sha256, report)
	return report, nil
}

func (self *ReputationService) wait(ctx context.Context) error {
	delay := self.bucket.Take(1)
	if delay == 0 {
		return nil
	}

	self.logger.Debug("Reputation: rate limited for %v", delay)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (self *ReputationService) fetch(ctx context.Context,
	client *retryablehttp.Client,
	key, sha256 string) (*ordereddict.Dict, error) {

	endpoint := strings.TrimSuffix(self.config_obj.Reputation.Url, "/") +
		"/files/" + url.PathEscape(sha256)

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	req.Header.Set("x-apikey", key)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, APIError{
			StatusCode: resp.StatusCode,
			Message:    parseErrorMessage(body),
		}
	}

	return parseReport(body)
}

// Only the analysis stats are kept from the file report.
func parseReport(body []byte) (*ordereddict.Dict, error) {
	document := ordereddict.NewDict()
	err := json.Unmarshal(body, document)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	result := ordereddict.NewDict()
	data, ok := document.Get("data")
	if !ok {
		return result, nil
	}

	attributes, ok := getDict(data, "attributes")
	if !ok {
		return result, nil
	}

	stats, ok := getDict(attributes, "last_analysis_stats")
	if !ok {
		return result, nil
	}
	return stats, nil
}

func getDict(item interface{}, key string) (*ordereddict.Dict, bool) {
	dict, ok := item.(*ordereddict.Dict)
	if !ok {
		return nil, false
	}

	value, ok := dict.Get(key)
	if !ok {
		return nil, false
	}

	result, ok := value.(*ordereddict.Dict)
	return result, ok
}

func parseErrorMessage(body []byte) string {
	document := ordereddict.NewDict()
	err := json.Unmarshal(body, document)
	if err != nil {
		return strings.TrimSpace(string(body))
	}

	error_doc, ok := getDict(document, "error")
	if !ok {
		return strings.TrimSpace(string(body))
	}

	message, _ := error_doc.GetString("message")
	code, _ := error_doc.GetString("code")
	return strings.TrimSpace(code + " " + message)
}

// The proxy dict maps a url scheme to a proxy url.
func (self *ReputationService) getClient(
	proxy *ordereddict.Dict) (*retryablehttp.Client, error) {
	proxies := make(map[string]*url.URL)
	cache_key := ""

	if proxy != nil {
		for _, scheme := range proxy.Keys() {
			value, _ := proxy.GetString(scheme)
			if value == "" {
				continue
			}

			proxy_url, err := url.Parse(value)
			if err != nil {
				return nil, fmt.Errorf("%w: proxy for %v: %v",
					utils.InvalidConfigError, scheme, err)
			}
			proxies[strings.ToLower(scheme)] = proxy_url
			cache_key += scheme + "=" + value + ";"
		}
	}

	self.mu.Lock()
	defer self.mu.Unlock()

	client, pres := self.clients[cache_key]
	if pres {
		return client, nil
	}

	client = retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = self.config_obj.Reputation.MaxRetries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if len(proxies) > 0 {
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			return proxies[req.URL.Scheme], nil
		}
	}
	client.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   time.Minute,
	}

	self.clients[cache_key] = client
	return client, nil
}

func (self *ReputationService) Close() {
	self.lru.Close()
}

func NewReputationService(
	config_obj *config_proto.Config) *ReputationService {

	per_minute := config_obj.Reputation.RequestsPerMinute
	if per_minute <= 0 {
		per_minute = 4
	}

	result := &ReputationService{
		config_obj: config_obj,
		logger:     logging.GetLogger(config_obj, &logging.EnrichmentComponent),
		bucket: ratelimit.NewBucketWithRate(
			float64(per_minute)/60, int64(per_minute)),
		lru:     ttlcache.NewCache(),
		clients: make(map[string]*retryablehttp.Client),
	}

	ttl := time.Duration(config_obj.Reputation.CacheTTLSec) * time.Second
	if ttl > 0 {
		_ = result.lru.SetTTL(ttl)
	}
	result.lru.SetCacheSizeLimit(10000)
	result.lru.SkipTTLExtensionOnHit(true)

	return result
}

func StartReputationService(
	ctx context.Context,
	wg *sync.WaitGroup,
	config_obj *config_proto.Config) error {

	service := NewReputationService(config_obj)

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		service.Close()
	}()

	logger := logging.GetLogger(config_obj, &logging.EnrichmentComponent)
	logger.Info("Starting <green>Reputation Service</> using %v",
		config_obj.Reputation.Url)
	services.RegisterReputationService(service)

	return nil
}
