package datastore

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	errors "github.com/pkg/errors"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

func NewMySQLDataStore(config_obj *config_proto.Config) (*SQLDataStore, error) {
	db, err := sql.Open("mysql", config_obj.Datastore.MysqlConnectionString)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	// Deliberatly do not close db as it is owned by the datastore.

	if config_obj.Datastore.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(config_obj.Datastore.MaxOpenConnections)
	}

	return newSQLDataStore(db, "mysql", schemaFor("mysql"))
}
