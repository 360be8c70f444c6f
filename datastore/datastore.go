/*
Velociraptor - Dig Deeper
Copyright (C) 2019-2025 Rapid7 Inc.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
// An interface into persistent storage of dumps, results and
// extracted files.
package datastore

import (
	"context"
	"errors"
	"sync"

	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/models"
)

var (
	mu sync.Mutex

	// Handles are shared by all callers using the same config.
	g_handles = make(map[*config_proto.DatastoreConfig]DataStore)
)

// DataStore is the narrow persistence contract used by the
// orchestration engine. Every method is atomic.
type DataStore interface {
	GetDump(ctx context.Context, index string) (*models.Dump, error)
	SetDump(ctx context.Context, dump *models.Dump) error
	ListDumps(ctx context.Context) ([]*models.Dump, error)

	// Removes the dump together with its results and extracted
	// files.
	DeleteDump(ctx context.Context, index string) error

	GetPlugin(ctx context.Context, name string) (*models.Plugin, error)
	SetPlugin(ctx context.Context, plugin *models.Plugin) error
	ListPlugins(ctx context.Context) ([]*models.Plugin, error)

	SetUserPlugin(ctx context.Context, user_plugin *models.UserPlugin) error
	ListUserPlugins(ctx context.Context, principal string) ([]*models.UserPlugin, error)

	GetResult(ctx context.Context, dump, plugin string) (*models.Result, error)

	// Updates status, description and parameters of an existing
	// result together.
	SaveResult(ctx context.Context, result *models.Result) error

	// Creates all the results in one transaction. Fails if any
	// (dump, plugin) pair already exists.
	CreateResults(ctx context.Context, results []*models.Result) error
	ListResults(ctx context.Context, dump string) ([]*models.Result, error)

	// Creates all the files in one transaction and returns them
	// with their ids filled in.
	BulkCreateExtractedFiles(ctx context.Context,
		files []*models.ExtractedFile) ([]*models.ExtractedFile, error)
	GetExtractedFile(ctx context.Context,
		dump, plugin, path string) (*models.ExtractedFile, error)
	UpdateExtractedFile(ctx context.Context, file *models.ExtractedFile) error
	ListExtractedFiles(ctx context.Context,
		dump, plugin string) ([]*models.ExtractedFile, error)
	DeleteExtractedFiles(ctx context.Context, dump, plugin string) error

	GetServiceCredential(ctx context.Context,
		service int) (*models.ServiceCredential, error)
	SetServiceCredential(ctx context.Context,
		credential *models.ServiceCredential) error

	// Visibility of dumps to principals.
	GrantAccess(ctx context.Context, principal, dump string) error
	ListPrincipalsWithAccess(ctx context.Context, dump string) ([]string, error)

	Close() error
}

func GetDB(config_obj *config_proto.Config) (DataStore, error) {
	if config_obj.Datastore == nil {
		return nil, errors.New("no datastore configured")
	}

	mu.Lock()
	defer mu.Unlock()

	db, pres := g_handles[config_obj.Datastore]
	if pres {
		return db, nil
	}

	var err error
	switch config_obj.Datastore.Implementation {
	case "sqlite":
		db, err = NewSqliteDataStore(config_obj)
	case "mysql":
		db, err = NewMySQLDataStore(config_obj)
	case "postgres":
		db, err = NewPostgresDataStore(config_obj)
	case "memory":
		db = NewMemoryDataStore()
	default:
		return nil, errors.New("no datastore implementation " +
			config_obj.Datastore.Implementation)
	}
	if err != nil {
		return nil, err
	}

	g_handles[config_obj.Datastore] = db
	return db, nil
}

// Closes and forgets the handle for this config.
func CloseDB(config_obj *config_proto.Config) error {
	mu.Lock()
	defer mu.Unlock()

	if config_obj.Datastore == nil {
		return nil
	}

	db, pres := g_handles[config_obj.Datastore]
	if !pres {
		return nil
	}
	delete(g_handles, config_obj.Datastore)
	return db.Close()
}
