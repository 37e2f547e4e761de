/* Copyright 2025 Plubot Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package database provides the SQLite connection, the schema migrations and
// helpers for the system table
package database

import (
	"database/sql"
	"strings"

	// sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrNestedTransaction is returned when beginning a transaction on a DB that
// is already a transaction
var ErrNestedTransaction = errors.New("transaction already in progress")

// DB contains a database connection and, if one was begun, a transaction.
// Queries run on the transaction when it is present.
type DB struct {
	Conn *sql.DB
	Tx   *sql.Tx
}

// Open opens a SQLite database at the given path or DSN. A single connection
// is used so that writes from concurrent goroutines are serialized.
// Transactions take the write lock when they begin, so that two processes
// doing a read-modify-write wait for each other instead of failing on commit.
func Open(p string) (*DB, error) {
	conn, err := sql.Open("sqlite3", withTxLock(p))
	if err != nil {
		return nil, errors.Wrap(err, "opening the database connection")
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "connecting to the database at %s", p)
	}

	return &DB{Conn: conn}, nil
}

func withTxLock(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_txlock=immediate"
	}

	return dsn + "?_txlock=immediate"
}

// Begin begins a transaction
func (d *DB) Begin() (*DB, error) {
	if d.Tx != nil {
		return nil, ErrNestedTransaction
	}

	tx, err := d.Conn.Begin()
	if err != nil {
		return nil, err
	}

	return &DB{Conn: d.Conn, Tx: tx}, nil
}

// Commit commits the transaction
func (d *DB) Commit() error {
	if d.Tx == nil {
		return errors.New("no transaction in progress")
	}

	return d.Tx.Commit()
}

// Rollback rolls back the transaction. It is a no-op outside a transaction.
func (d *DB) Rollback() error {
	if d.Tx == nil {
		return nil
	}

	return d.Tx.Rollback()
}

// Exec executes a query without returning any rows
func (d *DB) Exec(query string, values ...interface{}) (sql.Result, error) {
	if d.Tx != nil {
		return d.Tx.Exec(query, values...)
	}

	return d.Conn.Exec(query, values...)
}

// Query executes a query that returns rows
func (d *DB) Query(query string, values ...interface{}) (*sql.Rows, error) {
	if d.Tx != nil {
		return d.Tx.Query(query, values...)
	}

	return d.Conn.Query(query, values...)
}

// QueryRow executes a query that is expected to return at most one row
func (d *DB) QueryRow(query string, values ...interface{}) *sql.Row {
	if d.Tx != nil {
		return d.Tx.QueryRow(query, values...)
	}

	return d.Conn.QueryRow(query, values...)
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.Conn.Close()
}
