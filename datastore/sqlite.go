package datastore

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	errors "github.com/pkg/errors"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

func NewSqliteDataStore(config_obj *config_proto.Config) (*SQLDataStore, error) {
	location := config_obj.Datastore.Location
	err := os.MkdirAll(filepath.Dir(location), 0700)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	db, err := sql.Open("sqlite3", location+"?_busy_timeout=10000&_foreign_keys=on")
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Sqlite only allows a single writer.
	db.SetMaxOpenConns(1)

	return newSQLDataStore(db, "sqlite", schemaFor("sqlite"))
}
