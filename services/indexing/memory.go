package indexing

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/Velocidex/ordereddict"
)

type memoryIndex struct {
	// Insertion order of the documents.
	ids  []string
	docs map[string]*ordereddict.Dict
}

// Keeps documents in memory. Used in tests and for dry runs.
type MemoryBackend struct {
	mu      sync.Mutex
	indexes map[string]*memoryIndex

	// Fail this many Index() calls with fail_err.
	failures int
	fail_err error
}

func (self *MemoryBackend) Index(
	ctx context.Context, index string, docs []Document) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.failures > 0 {
		self.failures--
		return self.fail_err
	}

	record, pres := self.indexes[index]
	if !pres {
		record = &memoryIndex{docs: make(map[string]*ordereddict.Dict)}
		self.indexes[index] = record
	}

	for _, doc := range docs {
		_, pres := record.docs[doc.ID]
		if !pres {
			record.ids = append(record.ids, doc.ID)
		}
		record.docs[doc.ID] = doc.Row
	}
	return nil
}

func (self *MemoryBackend) Search(ctx context.Context,
	index string, limit int) ([]*ordereddict.Dict, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := []*ordereddict.Dict{}
	record, pres := self.indexes[index]
	if !pres {
		return result, nil
	}

	for _, id := range record.ids {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, record.docs[id])
	}
	return result, nil
}

func (self *MemoryBackend) DeleteIndex(ctx context.Context, pattern string) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	for name := range self.indexes {
		matched, _ := path.Match(pattern, name)
		if matched {
			delete(self.indexes, name)
		}
	}
	return nil
}

func (self *MemoryBackend) Count(ctx context.Context, index string) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	record, pres := self.indexes[index]
	if !pres {
		return 0, nil
	}
	return len(record.ids), nil
}

// Sorted names of all the indexes.
func (self *MemoryBackend) Indexes() []string {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := make([]string, 0, len(self.indexes))
	for name := range self.indexes {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func (self *MemoryBackend) SetFailures(count int, err error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.failures = count
	self.fail_err = err
}

func (self *MemoryBackend) Close() error {
	return nil
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		indexes: make(map[string]*memoryIndex),
	}
}
