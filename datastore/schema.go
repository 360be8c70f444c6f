package datastore

import "strings"

// Key columns use bounded varchar so the same schema works as a
// primary key in mysql.
var common_schema = []string{`
CREATE TABLE IF NOT EXISTS dumps (
  dump_index varchar(64) NOT NULL PRIMARY KEY,
  name varchar(255) NOT NULL,
  path text NOT NULL,
  operating_system varchar(32) NOT NULL,
  family varchar(64) NOT NULL,
  architecture varchar(32) NOT NULL,
  kernel varchar(255) NOT NULL,
  status integer NOT NULL,
  description text NOT NULL,
  author varchar(191) NOT NULL,
  created bigint NOT NULL)`, `
CREATE TABLE IF NOT EXISTS plugins (
  name varchar(191) NOT NULL PRIMARY KEY,
  operating_system varchar(32) NOT NULL,
  description text NOT NULL,
  local_dump integer NOT NULL,
  clamav_check integer NOT NULL,
  vt_check integer NOT NULL,
  regipy_check integer NOT NULL,
  disabled integer NOT NULL)`, `
CREATE TABLE IF NOT EXISTS user_plugins (
  principal varchar(191) NOT NULL,
  plugin varchar(191) NOT NULL,
  automatic integer NOT NULL,
  PRIMARY KEY (principal, plugin))`, `
CREATE TABLE IF NOT EXISTS results (
  dump_index varchar(64) NOT NULL,
  plugin varchar(191) NOT NULL,
  status integer NOT NULL,
  description text NOT NULL,
  parameter text NOT NULL,
  updated bigint NOT NULL,
  PRIMARY KEY (dump_index, plugin))`, `
CREATE TABLE IF NOT EXISTS extracted_files (
  id varchar(64) NOT NULL PRIMARY KEY,
  dump_index varchar(64) NOT NULL,
  plugin varchar(191) NOT NULL,
  path text NOT NULL,
  sha256 varchar(64) NOT NULL,
  tlsh varchar(128) NOT NULL,
  clamav text NOT NULL,
  vt_report text NOT NULL,
  reg_array text NOT NULL)`, `
CREATE TABLE IF NOT EXISTS services (
  service integer NOT NULL PRIMARY KEY,
  service_key text NOT NULL,
  proxy text NOT NULL)`, `
CREATE TABLE IF NOT EXISTS access (
  principal varchar(191) NOT NULL,
  dump_index varchar(64) NOT NULL,
  PRIMARY KEY (principal, dump_index))`,
}

func schemaFor(dialect string) []string {
	result := append([]string{}, common_schema...)

	switch dialect {
	case "sqlite", "postgres":
		result = append(result, `
CREATE INDEX IF NOT EXISTS extracted_files_result
  ON extracted_files (dump_index, plugin)`)

	case "mysql":
		// Mysql has no IF NOT EXISTS for indexes so we add it
		// with the table and use a larger text type for reg_array.
		for idx, statement := range result {
			if strings.Contains(statement, "TABLE IF NOT EXISTS extracted_files") {
				statement = strings.Replace(statement,
					"reg_array text NOT NULL)",
					"reg_array longtext NOT NULL,\n  INDEX extracted_files_result (dump_index, plugin))", 1)
				result[idx] = statement
			}
		}
	}
	return result
}
