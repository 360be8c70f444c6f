package datastore

import (
	"database/sql"

	_ "github.com/lib/pq"
	errors "github.com/pkg/errors"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

func NewPostgresDataStore(config_obj *config_proto.Config) (*SQLDataStore, error) {
	db, err := sql.Open("postgres", config_obj.Datastore.PostgresConnectionString)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if config_obj.Datastore.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(config_obj.Datastore.MaxOpenConnections)
	}

	return newSQLDataStore(db, "postgres", schemaFor("postgres"))
}
