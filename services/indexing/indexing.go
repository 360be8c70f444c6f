// The ingestion sink. Plugin rows are stored as documents in a
// search index named after the dump and plugin.
package indexing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/dustin/go-humanize"
	"github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/utils"
)

var (
	metricsIndexedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memtriage_indexed_rows",
			Help: "Number of rows stored in the search index.",
		})

	metricsIndexRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memtriage_index_retries",
			Help: "Number of failed bulk requests that were retried.",
		})

	metricsIngestionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memtriage_ingestion_failures",
			Help: "Number of bulk requests abandoned after all retries.",
		})
)

// All the retries of a bulk request failed.
type IngestionFailure struct {
	Index    string
	Attempts int
	Err      error
}

func (self IngestionFailure) Error() string {
	return fmt.Sprintf("Ingestion into %v failed after %v attempts: %v",
		self.Index, self.Attempts, self.Err)
}

func (self IngestionFailure) Unwrap() error {
	return self.Err
}

type Document struct {
	ID  string
	Row *ordereddict.Dict
}

// A search store. Documents with an existing ID replace the old
// document so a bulk request can be repeated.
type Backend interface {
	Index(ctx context.Context, index string, docs []Document) error
	Search(ctx context.Context, index string, limit int) ([]*ordereddict.Dict, error)
	DeleteIndex(ctx context.Context, pattern string) error
	Count(ctx context.Context, index string) (int, error)
	Close() error
}

// Assigns document ids and retries failed bulk requests against
// the backend.
type Indexer struct {
	backend Backend
	logger  *logging.LogContext
	clock   utils.Clock

	max_retries int
	backoff     time.Duration
}

func (self *Indexer) BulkIndex(ctx context.Context,
	index string, rows []*ordereddict.Dict) error {
	if len(rows) == 0 {
		return nil
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, Document{ID: uuid.New().String(), Row: row})
	}

	attempts := 0
	err := utils.RetryWithBackoff(ctx, self.clock, func() error {
		attempts++
		err := self.backend.Index(ctx, index, docs)
		if err != nil {
			metricsIndexRetries.Inc()
			self.logger.Warn("Indexer: bulk request to %v failed (attempt %v): %v",
				index, attempts, err)
		}
		return err
	}, self.max_retries, self.backoff, 30*time.Second)
	if err != nil {
		metricsIngestionFailures.Inc()
		return IngestionFailure{Index: index, Attempts: attempts, Err: err}
	}

	metricsIndexedRows.Add(float64(len(docs)))
	self.logger.Debug("Indexer: stored %v rows in %v",
		humanize.Comma(int64(len(docs))), index)
	return nil
}

func (self *Indexer) DeleteIndex(ctx context.Context, pattern string) error {
	err := self.backend.DeleteIndex(ctx, pattern)
	if err != nil {
		return err
	}
	self.logger.Info("Indexer: deleted indexes matching %v", pattern)
	return nil
}

func (self *Indexer) Search(ctx context.Context,
	index string, limit int) ([]*ordereddict.Dict, error) {
	return self.backend.Search(ctx, index, limit)
}

func (self *Indexer) Count(ctx context.Context, index string) (int, error) {
	return self.backend.Count(ctx, index)
}

func (self *Indexer) Close() error {
	return self.backend.Close()
}

func (self *Indexer) SetClock(clock utils.Clock) {
	self.clock = clock
}

func NewIndexer(config_obj *config_proto.Config, backend Backend) *Indexer {
	max_retries := config_obj.Elastic.MaxRetries
	if max_retries <= 0 {
		max_retries = 10
	}

	return &Indexer{
		backend:     backend,
		logger:      logging.GetLogger(config_obj, &logging.RunnerComponent),
		clock:       utils.RealClock{},
		max_retries: max_retries,
		backoff: time.Duration(
			config_obj.Elastic.RetryBackoffMsec) * time.Millisecond,
	}
}

func NewBackend(config_obj *config_proto.Config) (Backend, error) {
	switch config_obj.Elastic.Implementation {
	case "elastic":
		return NewElasticBackend(config_obj)

	case "bleve":
		return NewBleveBackend(config_obj.Elastic.BleveDirectory)

	case "memory":
		return NewMemoryBackend(), nil
	}

	return nil, errors.Errorf("Unknown index implementation %v",
		config_obj.Elastic.Implementation)
}

func StartIndexingService(ctx context.Context, wg *sync.WaitGroup,
	config_obj *config_proto.Config) error {

	backend, err := NewBackend(config_obj)
	if err != nil {
		return err
	}

	indexer := NewIndexer(config_obj, backend)

	wg.Add(1)
	go func() {
		defer wg.Done()

		// For the context to be cancelled.
		<-ctx.Done()

		err := indexer.Close()
		if err != nil {
			indexer.logger.Error("Indexer: closing: %v", err)
		}
	}()

	logger := logging.GetLogger(config_obj, &logging.RunnerComponent)
	logger.Info("Starting <green>Indexing Service</> (%v)",
		config_obj.Elastic.Implementation)
	services.RegisterIndexer(indexer)

	return nil
}
