package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/google/uuid"
	pkg_errors "github.com/pkg/errors"
	"www.velocidex.com/golang/memtriage/json"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/utils"
)

// SQLDataStore implements the DataStore on top of database/sql. The
// schema is kept portable between sqlite, mysql and postgres so
// only placeholders and the table definitions differ by dialect.
type SQLDataStore struct {
	db      *sql.DB
	dialect string
}

func newSQLDataStore(db *sql.DB, dialect string, schema []string) (*SQLDataStore, error) {
	self := &SQLDataStore{db: db, dialect: dialect}
	for _, statement := range schema {
		_, err := db.Exec(statement)
		if err != nil {
			return nil, pkg_errors.Wrapf(err, "initializing %v schema", dialect)
		}
	}
	return self, nil
}

// Postgres uses numbered placeholders.
func (self *SQLDataStore) rebind(query string) string {
	if self.dialect != "postgres" {
		return query
	}

	result := strings.Builder{}
	idx := 1
	for _, c := range query {
		if c == '?' {
			result.WriteString("$" + strconv.Itoa(idx))
			idx++
			continue
		}
		result.WriteRune(c)
	}
	return result.String()
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (self *SQLDataStore) exec(ctx context.Context, q queryer,
	query string, args ...interface{}) error {
	_, err := q.ExecContext(ctx, self.rebind(query), args...)
	return pkg_errors.WithStack(err)
}

// Run cb in a transaction, committing only if it succeeds.
func (self *SQLDataStore) inTransaction(
	ctx context.Context, cb func(tx *sql.Tx) error) (err error) {
	tx, err := self.db.BeginTx(ctx, nil)
	if err != nil {
		return pkg_errors.WithStack(err)
	}

	defer func() {
		if err != nil {
			// Keep the original error
			_ = tx.Rollback()
			return
		}
		err = pkg_errors.WithStack(tx.Commit())
	}()

	return cb(tx)
}

// Inserts or updates a row identified by the key columns.
func (self *SQLDataStore) upsert(ctx context.Context, tx *sql.Tx,
	table string, key_columns []string, key_values []interface{},
	columns []string, values []interface{}) error {

	where := make([]string, 0, len(key_columns))
	for _, k := range key_columns {
		where = append(where, k+" = ?")
	}
	where_clause := strings.Join(where, " AND ")

	var count int
	err := tx.QueryRowContext(ctx, self.rebind(
		"SELECT COUNT(*) FROM "+table+" WHERE "+where_clause),
		key_values...).Scan(&count)
	if err != nil {
		return pkg_errors.WithStack(err)
	}

	if count > 0 {
		if len(columns) == 0 {
			return nil
		}

		set := make([]string, 0, len(columns))
		for _, c := range columns {
			set = append(set, c+" = ?")
		}
		args := append(append([]interface{}{}, values...), key_values...)
		return self.exec(ctx, tx, "UPDATE "+table+" SET "+
			strings.Join(set, ", ")+" WHERE "+where_clause, args...)
	}

	all_columns := append(append([]string{}, key_columns...), columns...)
	args := append(append([]interface{}{}, key_values...), values...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(all_columns)), ", ")
	return self.exec(ctx, tx, "INSERT INTO "+table+" ("+
		strings.Join(all_columns, ", ")+") VALUES ("+placeholders+")", args...)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeDict(d *ordereddict.Dict) string {
	if d == nil {
		return ""
	}
	serialized, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(serialized)
}

func decodeDict(serialized string) *ordereddict.Dict {
	if serialized == "" {
		return nil
	}
	result := ordereddict.NewDict()
	err := json.Unmarshal([]byte(serialized), result)
	if err != nil {
		return nil
	}
	return result
}

func sqlNotFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(format, args...)
	}
	return pkg_errors.WithStack(err)
}

const dump_columns = `dump_index, name, path, operating_system, family,
 architecture, kernel, status, description, author, created`

func scanDump(scanner interface{ Scan(...interface{}) error }) (*models.Dump, error) {
	dump := &models.Dump{}
	var status int
	var created int64
	err := scanner.Scan(&dump.Index, &dump.Name, &dump.Path, &dump.OS,
		&dump.Family, &dump.Architecture, &dump.Kernel, &status,
		&dump.Description, &dump.Author, &created)
	if err != nil {
		return nil, err
	}
	dump.Status = models.DumpStatus(status)
	dump.Created = time.Unix(0, created).UTC()
	return dump, nil
}

func (self *SQLDataStore) GetDump(
	ctx context.Context, index string) (*models.Dump, error) {
	row := self.db.QueryRowContext(ctx, self.rebind(
		"SELECT "+dump_columns+" FROM dumps WHERE dump_index = ?"), index)
	dump, err := scanDump(row)
	if err != nil {
		return nil, sqlNotFound(err, "dump %v", index)
	}
	return dump, nil
}

func (self *SQLDataStore) SetDump(ctx context.Context, dump *models.Dump) error {
	return self.inTransaction(ctx, func(tx *sql.Tx) error {
		return self.upsert(ctx, tx, "dumps",
			[]string{"dump_index"}, []interface{}{dump.Index},
			[]string{"name", "path", "operating_system", "family",
				"architecture", "kernel", "status", "description",
				"author", "created"},
			[]interface{}{dump.Name, dump.Path, dump.OS, dump.Family,
				dump.Architecture, dump.Kernel, int(dump.Status),
				dump.Description, dump.Author, dump.Created.UnixNano()})
	})
}

func (self *SQLDataStore) ListDumps(ctx context.Context) ([]*models.Dump, error) {
	rows, err := self.db.QueryContext(ctx,
		"SELECT "+dump_columns+" FROM dumps ORDER BY created")
	if err != nil {
		return nil, pkg_errors.WithStack(err)
	}
	defer rows.Close()

	result := []*models.Dump{}
	for rows.Next() {
		dump, err := scanDump(rows)
		if err != nil {
			return nil, pkg_errors.WithStack(err)
		}
		result = append(result, dump)
	}
	return result, pkg_errors.WithStack(rows.Err())
}

func (self *SQLDataStore) DeleteDump(ctx context.Context, index string) error {
	return self.inTransaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{
			"extracted_files", "results", "access", "dumps"} {
			err := self.exec(ctx, tx,
				"DELETE FROM "+table+" WHERE dump_index = ?", index)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

const plugin_columns = `name, operating_system, description, local_dump,
 clamav_check, vt_check, regipy_check, disabled`

func scanPlugin(scanner interface{ Scan(...interface{}) error }) (*models.Plugin, error) {
	plugin := &models.Plugin{}
	err := scanner.Scan(&plugin.Name, &plugin.OS, &plugin.Description,
		&plugin.LocalDump, &plugin.ClamavCheck, &plugin.VtCheck,
		&plugin.RegipyCheck, &plugin.Disabled)
	return plugin, err
}

func (self *SQLDataStore) GetPlugin(
	ctx context.Context, name string) (*models.Plugin, error) {
	row := self.db.QueryRowContext(ctx, self.rebind(
		"SELECT "+plugin_columns+" FROM plugins WHERE name = ?"), name)
	plugin, err := scanPlugin(row)
	if err != nil {
		return nil, sqlNotFound(err, "plugin %v", name)
	}
	return plugin, nil
}

func (self *SQLDataStore) SetPlugin(ctx context.Context, plugin *models.Plugin) error {
	return self.inTransaction(ctx, func(tx *sql.Tx) error {
		return self.upsert(ctx, tx, "plugins",
			[]string{"name"}, []interface{}{plugin.Name},
			[]string{"operating_system", "description", "local_dump",
				"clamav_check", "vt_check", "regipy_check", "disabled"},
			[]interface{}{plugin.OS, plugin.Description,
				b2i(plugin.LocalDump), b2i(plugin.ClamavCheck),
				b2i(plugin.VtCheck), b2i(plugin.RegipyCheck),
				b2i(plugin.Disabled)})
	})
}

func (self *SQLDataStore) ListPlugins(ctx context.Context) ([]*models.Plugin, error) {
	rows, err := self.db.QueryContext(ctx,
		"SELECT "+plugin_columns+" FROM plugins ORDER BY name")
	if err != nil {
		return nil, pkg_errors.WithStack(err)
	}
	defer rows.Close()

	result := []*models.Plugin{}
	for rows.Next() {
		plugin, err := scanPlugin(rows)
		if err != nil {
			return nil, pkg_errors.WithStack(err)
		}
		result = append(result, plugin)
	}
	return result, pkg_errors.WithStack(rows.Err())
}

func (self *SQLDataStore) SetUserPlugin(
	ctx context.Context, user_plugin *models.UserPlugin) error {
	return self.inTransaction(ctx, func(tx *sql.Tx) error {
		return self.upsert(ctx, tx, "user_plugins",
			[]string{"principal", "plugin"},
			[]interface{}{user_plugin.Principal, user_plugin.Plugin},
			[]string{"automatic"},
			[]interface{}{b2i(user_plugin.Automatic)})
	})
}

func (self *SQLDataStore) ListUserPlugins(
	ctx context.Context, principal string) ([]*models.UserPlugin, error) {
	rows, err := self.db.QueryContext(ctx, self.rebind(`
SELECT principal, plugin, automatic FROM user_plugins
WHERE principal = ? ORDER BY plugin`), principal)
	if err != nil {
		return nil, pkg_errors.WithStack(err)
	}
	defer rows.Close()

	result := []*models.UserPlugin{}
	for rows.Next() {
		item := &models.UserPlugin{}
		err := rows.Scan(&item.Principal, &item.Plugin, &item.Automatic)
		if err != nil {
			return nil, pkg_errors.WithStack(err)
		}
		result = append(result, item)
	}
	return result, pkg_errors.WithStack(rows.Err())
}

const result_columns = `dump_index, plugin, status, description, parameter, updated`

func scanResult(scanner interface{ Scan(...interface{}) error }) (*models.Result, error) {
	result := &models.Result{}
	var status int
	var parameter string
	var updated int64
	err := scanner.Scan(&result.Dump, &result.Plugin, &status,
		&result.Description, &parameter, &updated)
	if err != nil {
		return nil, err
	}
	result.Status = models.ResultStatus(status)
	result.Parameter = decodeDict(parameter)
	result.Updated = time.Unix(0, updated).UTC()
	return result, nil
}

func (self *SQLDataStore) GetResult(
	ctx context.Context, dump, plugin string) (*models.Result, error) {
	row := self.db.QueryRowContext(ctx, self.rebind(
		"SELECT "+result_columns+" FROM results WHERE dump_index = ? AND plugin = ?"),
		dump, plugin)
	result, err := scanResult(row)
	if err != nil {
		return nil, sqlNotFound(err, "result %v/%v", dump, plugin)
	}
	return result, nil
}

func (self *SQLDataStore) SaveResult(ctx context.Context, result *models.Result) error {
	return self.inTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, self.rebind(`
UPDATE results SET status = ?, description = ?, parameter = ?, updated = ?
WHERE dump_index = ? AND plugin = ?`),
			int(result.Status), result.Description,
			encodeDict(result.Parameter), result.Updated.UnixNano(),
			result.Dump, result.Plugin)
		if err != nil {
			return pkg_errors.WithStack(err)
		}

		// Mysql reports 0 affected rows when nothing changed so
		// we need to check existence separately.
		affected, err := res.RowsAffected()
		if err == nil && affected > 0 {
			return nil
		}

		var count int
		err = tx.QueryRowContext(ctx, self.rebind(
			"SELECT COUNT(*) FROM results WHERE dump_index = ? AND plugin = ?"),
			result.Dump, result.Plugin).Scan(&count)
		if err != nil {
			return pkg_errors.WithStack(err)
		}
		if count == 0 {
			return notFound("result %v/%v", result.Dump, result.Plugin)
		}
		return nil
	})
}

func (self *SQLDataStore) CreateResults(
	ctx context.Context, results []*models.Result) error {
	return self.inTransaction(ctx, func(tx *sql.Tx) error {
		for _, result := range results {
			err := self.exec(ctx, tx, "INSERT INTO results ("+result_columns+
				") VALUES (?, ?, ?, ?, ?, ?)",
				result.Dump, result.Plugin, int(result.Status),
				result.Description, encodeDict(result.Parameter),
				result.Updated.UnixNano())
			if err != nil {
				return fmt.Errorf("%w: result %v/%v: %v",
					utils.AlreadyExistsError, result.Dump, result.Plugin, err)
			}
		}
		return nil
	})
}

func (self *SQLDataStore) ListResults(
	ctx context.Context, dump string) ([]*models.Result, error) {
	rows, err := self.db.QueryContext(ctx, self.rebind(
		"SELECT "+result_columns+" FROM results WHERE dump_index = ? ORDER BY plugin"),
		dump)
	if err != nil {
		return nil, pkg_errors.WithStack(err)
	}
	defer rows.Close()

	result := []*models.Result{}
	for rows.Next() {
		item, err := scanResult(rows)
		if err != nil {
			return nil, pkg_errors.WithStack(err)
		}
		result = append(result, item)
	}
	return result, pkg_errors.WithStack(rows.Err())
}

const file_columns = `id, dump_index, plugin, path, sha256, tlsh, clamav,
 vt_report, reg_array`

func scanFile(scanner interface{ Scan(...interface{}) error }) (*models.ExtractedFile, error) {
	file := &models.ExtractedFile{}
	var vt, reg string
	err := scanner.Scan(&file.ID, &file.Dump, &file.Plugin, &file.Path,
		&file.Sha256, &file.Tlsh, &file.ClamAV, &vt, &reg)
	if err != nil {
		return nil, err
	}
	file.VT = decodeDict(vt)
	file.Reg = decodeDict(reg)
	return file, nil
}

func (self *SQLDataStore) BulkCreateExtractedFiles(
	ctx context.Context,
	files []*models.ExtractedFile) ([]*models.ExtractedFile, error) {
	result := make([]*models.ExtractedFile, 0, len(files))

	err := self.inTransaction(ctx, func(tx *sql.Tx) error {
		for _, file := range files {
			var count int
			err := tx.QueryRowContext(ctx, self.rebind(
				"SELECT COUNT(*) FROM results WHERE dump_index = ? AND plugin = ?"),
				file.Dump, file.Plugin).Scan(&count)
			if err != nil {
				return pkg_errors.WithStack(err)
			}
			if count == 0 {
				return notFound("result %v/%v", file.Dump, file.Plugin)
			}

			item := file.Copy()
			if item.ID == "" {
				item.ID = uuid.New().String()
			}

			err = self.exec(ctx, tx, "INSERT INTO extracted_files ("+
				file_columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
				item.ID, item.Dump, item.Plugin, item.Path, item.Sha256,
				item.Tlsh, item.ClamAV, encodeDict(item.VT),
				encodeDict(item.Reg))
			if err != nil {
				return err
			}
			result = append(result, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (self *SQLDataStore) GetExtractedFile(
	ctx context.Context,
	dump, plugin, path string) (*models.ExtractedFile, error) {
	row := self.db.QueryRowContext(ctx, self.rebind(
		"SELECT "+file_columns+` FROM extracted_files
WHERE dump_index = ? AND plugin = ? AND path = ?`), dump, plugin, path)
	file, err := scanFile(row)
	if err != nil {
		return nil, sqlNotFound(err, "extracted file %v", path)
	}
	return file, nil
}

func (self *SQLDataStore) UpdateExtractedFile(
	ctx context.Context, file *models.ExtractedFile) error {
	return self.inTransaction(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx, self.rebind(
			"SELECT COUNT(*) FROM extracted_files WHERE id = ?"),
			file.ID).Scan(&count)
		if err != nil {
			return pkg_errors.WithStack(err)
		}
		if count == 0 {
			return notFound("extracted file %v", file.ID)
		}

		return self.exec(ctx, tx, `
UPDATE extracted_files SET path = ?, sha256 = ?, tlsh = ?, clamav = ?,
 vt_report = ?, reg_array = ? WHERE id = ?`,
			file.Path, file.Sha256, file.Tlsh, file.ClamAV,
			encodeDict(file.VT), encodeDict(file.Reg), file.ID)
	})
}

func (self *SQLDataStore) ListExtractedFiles(
	ctx context.Context,
	dump, plugin string) ([]*models.ExtractedFile, error) {
	rows, err := self.db.QueryContext(ctx, self.rebind(
		"SELECT "+file_columns+` FROM extracted_files
WHERE dump_index = ? AND plugin = ? ORDER BY path`), dump, plugin)
	if err != nil {
		return nil, pkg_errors.WithStack(err)
	}
	defer rows.Close()

	result := []*models.ExtractedFile{}
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, pkg_errors.WithStack(err)
		}
		result = append(result, file)
	}
	return result, pkg_errors.WithStack(rows.Err())
}

func (self *SQLDataStore) DeleteExtractedFiles(
	ctx context.Context, dump, plugin string) error {
	return self.exec(ctx, self.db,
		"DELETE FROM extracted_files WHERE dump_index = ? AND plugin = ?",
		dump, plugin)
}

func (self *SQLDataStore) GetServiceCredential(
	ctx context.Context, service int) (*models.ServiceCredential, error) {
	credential := &models.ServiceCredential{}
	var proxy string
	err := self.db.QueryRowContext(ctx, self.rebind(
		"SELECT service, service_key, proxy FROM services WHERE service = ?"),
		service).Scan(&credential.Service, &credential.Key, &proxy)
	if err != nil {
		return nil, sqlNotFound(err, "service %v", service)
	}
	credential.Proxy = decodeDict(proxy)
	return credential, nil
}

func (self *SQLDataStore) SetServiceCredential(
	ctx context.Context, credential *models.ServiceCredential) error {
	return self.inTransaction(ctx, func(tx *sql.Tx) error {
		return self.upsert(ctx, tx, "services",
			[]string{"service"}, []interface{}{credential.Service},
			[]string{"service_key", "proxy"},
			[]interface{}{credential.Key, encodeDict(credential.Proxy)})
	})
}

func (self *SQLDataStore) GrantAccess(
	ctx context.Context, principal, dump string) error {
	return self.inTransaction(ctx, func(tx *sql.Tx) error {
		return self.upsert(ctx, tx, "access",
			[]string{"principal", "dump_index"},
			[]interface{}{principal, dump}, nil, nil)
	})
}

func (self *SQLDataStore) ListPrincipalsWithAccess(
	ctx context.Context, dump string) ([]string, error) {
	rows, err := self.db.QueryContext(ctx, self.rebind(
		"SELECT principal FROM access WHERE dump_index = ? ORDER BY principal"),
		dump)
	if err != nil {
		return nil, pkg_errors.WithStack(err)
	}
	defer rows.Close()

	result := []string{}
	for rows.Next() {
		var principal string
		err := rows.Scan(&principal)
		if err != nil {
			return nil, pkg_errors.WithStack(err)
		}
		result = append(result, principal)
	}
	return result, pkg_errors.WithStack(rows.Err())
}

func (self *SQLDataStore) Close() error {
	return self.db.Close()
}
