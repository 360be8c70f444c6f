package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/utils"
)

type resultKey struct {
	dump, plugin string
}

// MemoryDataStore keeps everything in memory. Used by tests and for
// one shot command line runs. All records are copied on the way in
// and out so callers never share state.
type MemoryDataStore struct {
	mu sync.Mutex

	dumps        map[string]*models.Dump
	plugins      map[string]*models.Plugin
	user_plugins map[string]map[string]*models.UserPlugin
	results      map[resultKey]*models.Result
	files        map[resultKey][]*models.ExtractedFile
	credentials  map[int]*models.ServiceCredential
	access       map[string]map[string]bool
}

func NewMemoryDataStore() *MemoryDataStore {
	return &MemoryDataStore{
		dumps:        make(map[string]*models.Dump),
		plugins:      make(map[string]*models.Plugin),
		user_plugins: make(map[string]map[string]*models.UserPlugin),
		results:      make(map[resultKey]*models.Result),
		files:        make(map[resultKey][]*models.ExtractedFile),
		credentials:  make(map[int]*models.ServiceCredential),
		access:       make(map[string]map[string]bool),
	}
}

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %v", utils.NotFoundError, fmt.Sprintf(format, args...))
}

func (self *MemoryDataStore) GetDump(
	ctx context.Context, index string) (*models.Dump, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	dump, pres := self.dumps[index]
	if !pres {
		return nil, notFound("dump %v", index)
	}
	return dump.Copy(), nil
}

func (self *MemoryDataStore) SetDump(
	ctx context.Context, dump *models.Dump) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.dumps[dump.Index] = dump.Copy()
	return nil
}

func (self *MemoryDataStore) ListDumps(
	ctx context.Context) ([]*models.Dump, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := make([]*models.Dump, 0, len(self.dumps))
	for _, dump := range self.dumps {
		result = append(result, dump.Copy())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Created.Before(result[j].Created)
	})
	return result, nil
}

func (self *MemoryDataStore) DeleteDump(
	ctx context.Context, index string) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	delete(self.dumps, index)
	delete(self.access, index)
	for k := range self.results {
		if k.dump == index {
			delete(self.results, k)
			delete(self.files, k)
		}
	}
	return nil
}

func (self *MemoryDataStore) GetPlugin(
	ctx context.Context, name string) (*models.Plugin, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	plugin, pres := self.plugins[name]
	if !pres {
		return nil, notFound("plugin %v", name)
	}
	return plugin.Copy(), nil
}

func (self *MemoryDataStore) SetPlugin(
	ctx context.Context, plugin *models.Plugin) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.plugins[plugin.Name] = plugin.Copy()
	return nil
}

func (self *MemoryDataStore) ListPlugins(
	ctx context.Context) ([]*models.Plugin, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := make([]*models.Plugin, 0, len(self.plugins))
	for _, plugin := range self.plugins {
		result = append(result, plugin.Copy())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (self *MemoryDataStore) SetUserPlugin(
	ctx context.Context, user_plugin *models.UserPlugin) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	records, pres := self.user_plugins[user_plugin.Principal]
	if !pres {
		records = make(map[string]*models.UserPlugin)
		self.user_plugins[user_plugin.Principal] = records
	}
	item := *user_plugin
	records[user_plugin.Plugin] = &item
	return nil
}

func (self *MemoryDataStore) ListUserPlugins(
	ctx context.Context, principal string) ([]*models.UserPlugin, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := []*models.UserPlugin{}
	for _, record := range self.user_plugins[principal] {
		item := *record
		result = append(result, &item)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Plugin < result[j].Plugin
	})
	return result, nil
}

func (self *MemoryDataStore) GetResult(
	ctx context.Context, dump, plugin string) (*models.Result, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	result, pres := self.results[resultKey{dump, plugin}]
	if !pres {
		return nil, notFound("result %v/%v", dump, plugin)
	}
	return result.Copy(), nil
}

func (self *MemoryDataStore) SaveResult(
	ctx context.Context, result *models.Result) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	key := resultKey{result.Dump, result.Plugin}
	_, pres := self.results[key]
	if !pres {
		return notFound("result %v/%v", result.Dump, result.Plugin)
	}
	self.results[key] = result.Copy()
	return nil
}

func (self *MemoryDataStore) CreateResults(
	ctx context.Context, results []*models.Result) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	seen := make(map[resultKey]bool)
	for _, result := range results {
		key := resultKey{result.Dump, result.Plugin}
		_, pres := self.results[key]
		if pres || seen[key] {
			return fmt.Errorf("%w: result %v/%v",
				utils.AlreadyExistsError, result.Dump, result.Plugin)
		}
		seen[key] = true
	}

	for _, result := range results {
		self.results[resultKey{result.Dump, result.Plugin}] = result.Copy()
	}
	return nil
}

func (self *MemoryDataStore) ListResults(
	ctx context.Context, dump string) ([]*models.Result, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := []*models.Result{}
	for k, v := range self.results {
		if k.dump == dump {
			result = append(result, v.Copy())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Plugin < result[j].Plugin
	})
	return result, nil
}

func (self *MemoryDataStore) BulkCreateExtractedFiles(
	ctx context.Context,
	files []*models.ExtractedFile) ([]*models.ExtractedFile, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	for _, file := range files {
		_, pres := self.results[resultKey{file.Dump, file.Plugin}]
		if !pres {
			return nil, notFound("result %v/%v", file.Dump, file.Plugin)
		}
	}

	result := make([]*models.ExtractedFile, 0, len(files))
	for _, file := range files {
		item := file.Copy()
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		key := resultKey{file.Dump, file.Plugin}
		self.files[key] = append(self.files[key], item)
		result = append(result, item.Copy())
	}
	return result, nil
}

func (self *MemoryDataStore) GetExtractedFile(
	ctx context.Context,
	dump, plugin, path string) (*models.ExtractedFile, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	for _, file := range self.files[resultKey{dump, plugin}] {
		if file.Path == path {
			return file.Copy(), nil
		}
	}
	return nil, notFound("extracted file %v", path)
}

func (self *MemoryDataStore) UpdateExtractedFile(
	ctx context.Context, file *models.ExtractedFile) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	files := self.files[resultKey{file.Dump, file.Plugin}]
	for idx, existing := range files {
		if existing.ID == file.ID {
			files[idx] = file.Copy()
			return nil
		}
	}
	return notFound("extracted file %v", file.ID)
}

func (self *MemoryDataStore) ListExtractedFiles(
	ctx context.Context,
	dump, plugin string) ([]*models.ExtractedFile, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := []*models.ExtractedFile{}
	for _, file := range self.files[resultKey{dump, plugin}] {
		result = append(result, file.Copy())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Path < result[j].Path
	})
	return result, nil
}

func (self *MemoryDataStore) DeleteExtractedFiles(
	ctx context.Context, dump, plugin string) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	delete(self.files, resultKey{dump, plugin})
	return nil
}

func (self *MemoryDataStore) GetServiceCredential(
	ctx context.Context, service int) (*models.ServiceCredential, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	credential, pres := self.credentials[service]
	if !pres {
		return nil, notFound("service %v", service)
	}
	item := *credential
	return &item, nil
}

func (self *MemoryDataStore) SetServiceCredential(
	ctx context.Context, credential *models.ServiceCredential) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	item := *credential
	self.credentials[credential.Service] = &item
	return nil
}

func (self *MemoryDataStore) GrantAccess(
	ctx context.Context, principal, dump string) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	principals, pres := self.access[dump]
	if !pres {
		principals = make(map[string]bool)
		self.access[dump] = principals
	}
	principals[principal] = true
	return nil
}

func (self *MemoryDataStore) ListPrincipalsWithAccess(
	ctx context.Context, dump string) ([]string, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := []string{}
	for principal := range self.access[dump] {
		result = append(result, principal)
	}
	sort.Strings(result)
	return result, nil
}

func (self *MemoryDataStore) Close() error {
	return nil
}
