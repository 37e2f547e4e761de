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

package database

import (
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
)

const migrationTable = "migrations"

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "1-create-system",
			Up: []string{
				`CREATE TABLE IF NOT EXISTS system
				(
					key text PRIMARY KEY,
					value text NOT NULL
				)`,
			},
			Down: []string{"DROP TABLE system"},
		},
		{
			Id: "2-create-backups",
			Up: []string{
				`CREATE TABLE IF NOT EXISTS backups
				(
					key text PRIMARY KEY,
					value text NOT NULL,
					updated_at integer NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_backups_updated_at ON backups(updated_at)`,
			},
			Down: []string{"DROP TABLE backups"},
		},
	},
}

func init() {
	migrate.SetTable(migrationTable)
}

// Migrate applies all pending schema migrations and returns how many ran
func Migrate(db *DB) (int, error) {
	n, err := migrate.Exec(db.Conn, "sqlite3", migrations, migrate.Up)
	if err != nil {
		return n, errors.Wrap(err, "running migrations")
	}

	return n, nil
}
