package services

import (
	"context"
	"sync"

	"github.com/Velocidex/ordereddict"
)

var (
	indexer_mu sync.Mutex
	g_indexer  Indexer
)

func GetIndexer() (Indexer, error) {
	indexer_mu.Lock()
	defer indexer_mu.Unlock()

	if g_indexer == nil {
		return nil, notReady("Indexer")
	}
	return g_indexer, nil
}

func RegisterIndexer(i Indexer) {
	indexer_mu.Lock()
	defer indexer_mu.Unlock()

	g_indexer = i
}

// The search store holding plugin rows.
type Indexer interface {
	// Add each row as a new document to the index.
	BulkIndex(ctx context.Context, index string, rows []*ordereddict.Dict) error

	// Delete all indexes matching the pattern. A trailing * matches
	// any suffix. Deleting an index which does not exist is not an
	// error.
	DeleteIndex(ctx context.Context, pattern string) error

	// Up to limit documents from the index in no particular
	// order. A limit of 0 returns all documents.
	Search(ctx context.Context, index string, limit int) ([]*ordereddict.Dict, error)

	// Number of documents in the index.
	Count(ctx context.Context, index string) (int, error)

	Close() error
}
