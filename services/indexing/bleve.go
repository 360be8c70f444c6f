package indexing

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Velocidex/ordereddict"
	"github.com/blevesearch/bleve/v2"
	"github.com/go-errors/errors"
	"www.velocidex.com/golang/memtriage/json"
)

// Stores each index in its own bleve directory under the root. Used
// when no search cluster is available.
type BleveBackend struct {
	mu      sync.Mutex
	root    string
	indexes map[string]bleve.Index
}

func (self *BleveBackend) getIndex(index string) (bleve.Index, error) {
	if strings.ContainsAny(index, `/\`) || index == "" ||
		strings.HasPrefix(index, ".") {
		return nil, errors.Errorf("invalid index name %q", index)
	}

	idx, pres := self.indexes[index]
	if pres {
		return idx, nil
	}

	path := filepath.Join(self.root, index)
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	self.indexes[index] = idx
	return idx, nil
}

func (self *BleveBackend) Index(
	ctx context.Context, index string, docs []Document) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	idx, err := self.getIndex(index)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		// Bleve maps plain maps, not ordered dicts.
		serialized, err := json.Marshal(doc.Row)
		if err != nil {
			return errors.Wrap(err, 0)
		}

		data := make(map[string]interface{})
		err = json.Unmarshal(serialized, &data)
		if err != nil {
			return errors.Wrap(err, 0)
		}

		err = batch.Index(doc.ID, data)
		if err != nil {
			return errors.Wrap(err, 0)
		}

		// Keep the original row so it can be returned with its key
		// order and nesting.
		batch.SetInternal([]byte(doc.ID), serialized)
	}

	err = idx.Batch(batch)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (self *BleveBackend) Search(ctx context.Context,
	index string, limit int) ([]*ordereddict.Dict, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := []*ordereddict.Dict{}
	_, err := os.Stat(filepath.Join(self.root, index))
	if errors.Is(err, os.ErrNotExist) {
		return result, nil
	}

	idx, err := self.getIndex(index)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		count, err := idx.DocCount()
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}
		limit = int(count)
	}

	request := bleve.NewSearchRequestOptions(
		bleve.NewMatchAllQuery(), limit, 0, false)
	request.SortBy([]string{"_id"})

	hits, err := idx.SearchInContext(ctx, request)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	for _, hit := range hits.Hits {
		serialized, err := idx.GetInternal([]byte(hit.ID))
		if err != nil || serialized == nil {
			continue
		}

		row := ordereddict.NewDict()
		err = json.Unmarshal(serialized, row)
		if err != nil {
			continue
		}
		result = append(result, row)
	}
	return result, nil
}

func (self *BleveBackend) DeleteIndex(ctx context.Context, pattern string) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(self.root, pattern))
	if err != nil {
		return errors.Wrap(err, 0)
	}

	for _, path := range matches {
		name := filepath.Base(path)
		idx, pres := self.indexes[name]
		if pres {
			_ = idx.Close()
			delete(self.indexes, name)
		}

		err := os.RemoveAll(path)
		if err != nil {
			return errors.Wrap(err, 0)
		}
	}
	return nil
}

func (self *BleveBackend) Count(ctx context.Context, index string) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	_, err := os.Stat(filepath.Join(self.root, index))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	idx, err := self.getIndex(index)
	if err != nil {
		return 0, err
	}

	count, err := idx.DocCount()
	if err != nil {
		return 0, errors.Wrap(err, 0)
	}
	return int(count), nil
}

func (self *BleveBackend) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()

	var result error
	for name, idx := range self.indexes {
		err := idx.Close()
		if err != nil && result == nil {
			result = errors.Wrap(err, 0)
		}
		delete(self.indexes, name)
	}
	return result
}

func NewBleveBackend(root string) (*BleveBackend, error) {
	err := os.MkdirAll(root, 0700)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	return &BleveBackend{
		root:    root,
		indexes: make(map[string]bleve.Index),
	}, nil
}
