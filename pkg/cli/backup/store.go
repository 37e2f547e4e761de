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

// Package backup implements the local backup store, a quota-aware key/value
// store of JSON documents kept in the SQLite database. Reads never fail: a
// missing or corrupt value yields the caller's default. Corrupt values are
// left in place and copied under their key with the ".corrupt" suffix.
package backup

import (
	"database/sql"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/consts"
	"github.com/plubot/plubot/pkg/cli/database"
	"github.com/plubot/plubot/pkg/clock"
	"go.uber.org/zap"
)

// ErrQuotaExceeded is returned when a value does not fit in the store even
// after evicting emergency snapshots
var ErrQuotaExceeded = errors.New("backup storage quota exceeded")

// Options configures the store limits
type Options struct {
	// QuotaBytes is the maximum size of all stored values
	QuotaBytes int64
	// MaxEmergencyBackups is the number of emergency snapshots kept by Cleanup
	MaxEmergencyBackups int
	// EmergencyBackupMaxAge is the age after which Cleanup drops a snapshot
	EmergencyBackupMaxAge time.Duration
}

// DefaultOptions returns the default store limits
func DefaultOptions() Options {
	return Options{
		QuotaBytes:            5 * 1024 * 1024,
		MaxEmergencyBackups:   20,
		EmergencyBackupMaxAge: 7 * 24 * time.Hour,
	}
}

// Store is the local backup store
type Store struct {
	db     *database.DB
	clock  clock.Clock
	logger *zap.Logger
	opts   Options

	// mu serializes read-modify-write cycles on list values
	mu sync.Mutex
}

// New returns a store backed by the given database
func New(db *database.DB, c clock.Clock, logger *zap.Logger, opts Options) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		db:     db,
		clock:  c,
		logger: logger,
		opts:   opts,
	}
}

// Get decodes the value stored under key into dest and reports whether it
// did. When the key is missing or its value cannot be decoded, dest is left
// as it was, which makes its prior content the default. A list with some
// undecodable elements yields the others.
func (s *Store) Get(key string, dest interface{}) bool {
	var raw string
	err := s.db.QueryRow("SELECT value FROM backups WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		s.logger.Warn("reading backup", zap.String("key", key), zap.Error(err))
		return false
	}

	if err := decode(raw, dest); err != nil {
		s.quarantine(key, raw, err)

		kept, dropped, err := salvage(raw, dest)
		if err != nil || kept == 0 {
			return false
		}
		s.logger.Warn("salvaged corrupt backup list", zap.String("key", key), zap.Int("kept", kept), zap.Int("dropped", dropped))
		return true
	}

	return true
}

// quarantine copies an undecodable value under the corrupt key of key. The
// original row is not touched.
func (s *Store) quarantine(key, raw string, cause error) {
	if strings.HasSuffix(key, consts.BackupCorruptSuffix) {
		return
	}

	s.logger.Warn("corrupt backup", zap.String("key", key), zap.Error(cause))

	_, err := s.db.Exec(`INSERT INTO backups (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		consts.CorruptBackupKey(key), raw, s.clock.Now().UnixNano())
	if err != nil {
		s.logger.Warn("quarantining corrupt backup", zap.String("key", key), zap.Error(err))
	}
}

// salvage decodes a JSON array element by element into dest, which must
// point to a slice, skipping the elements that do not decode. dest is only
// assigned when at least one element was kept.
func salvage(raw string, dest interface{}) (kept, dropped int, err error) {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Slice {
		return 0, 0, errors.New("destination is not a slice")
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return 0, 0, err
	}

	st := rv.Elem().Type()
	out := reflect.MakeSlice(st, 0, len(items))
	for _, item := range items {
		v := reflect.New(st.Elem())
		if err := json.Unmarshal(item, v.Interface()); err != nil {
			dropped++
			continue
		}
		out = reflect.Append(out, v.Elem())
	}

	if out.Len() > 0 {
		rv.Elem().Set(out)
	}

	return out.Len(), dropped, nil
}

// decode unmarshals into a fresh value of dest's type and only assigns it on
// success, so that a failed decode leaves dest untouched
func decode(raw string, dest interface{}) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("destination must be a non-nil pointer")
	}

	tmp := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal([]byte(raw), tmp.Interface()); err != nil {
		return err
	}
	rv.Elem().Set(tmp.Elem())

	return nil
}

// Set stores value under key, replacing any previous value. Failures are
// logged and returned; callers treat them as the backup being unavailable.
func (s *Store) Set(key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("serializing backup", zap.String("key", key), zap.Error(err))
		return errors.Wrapf(err, "serializing backup %s", key)
	}

	if err := s.ensureRoom(key, int64(len(b))); err != nil {
		s.logger.Error("storing backup", zap.String("key", key), zap.Int("bytes", len(b)), zap.Error(err))
		return err
	}

	_, err = s.db.Exec(`INSERT INTO backups (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(b), s.clock.Now().UnixNano())
	if err != nil {
		s.logger.Error("storing backup", zap.String("key", key), zap.Error(err))
		return errors.Wrapf(err, "storing backup %s", key)
	}

	return nil
}

// update runs fn against a store bound to a transaction and commits when fn
// succeeds. Reads and the write made by fn see one snapshot of the database,
// so a concurrent writer is either seen or makes the commit fail. Stores that
// already run in a transaction use it as is.
func (s *Store) update(fn func(tx *Store) error) error {
	db, err := s.db.Begin()
	if err == database.ErrNestedTransaction {
		return fn(s)
	}
	if err != nil {
		return errors.Wrap(err, "beginning a backup transaction")
	}

	tx := &Store{db: db, clock: s.clock, logger: s.logger, opts: s.opts}
	if err := fn(tx); err != nil {
		db.Rollback()
		return err
	}

	return errors.Wrap(db.Commit(), "committing a backup transaction")
}

// Remove deletes the value stored under key
func (s *Store) Remove(key string) error {
	if _, err := s.db.Exec("DELETE FROM backups WHERE key = ?", key); err != nil {
		return errors.Wrapf(err, "removing backup %s", key)
	}

	return nil
}

// Keys returns the stored keys that start with prefix, oldest first
func (s *Store) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM backups ORDER BY updated_at ASC, key ASC")
	if err != nil {
		return nil, errors.Wrap(err, "querying backup keys")
	}
	defer rows.Close()

	var ret []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "scanning a backup key")
		}
		if strings.HasPrefix(key, prefix) {
			ret = append(ret, key)
		}
	}

	return ret, rows.Err()
}

// Usage returns the total size in bytes of the stored values
func (s *Store) Usage() (int64, error) {
	return s.usageExcept("")
}

func (s *Store) usageExcept(key string) (int64, error) {
	var total int64
	err := s.db.QueryRow("SELECT COALESCE(SUM(length(CAST(value AS BLOB))), 0) FROM backups WHERE key != ?", key).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "measuring backup usage")
	}

	return total, nil
}

// ensureRoom makes sure a value of the given size fits under key, evicting
// emergency snapshots oldest first when it does not
func (s *Store) ensureRoom(key string, size int64) error {
	if s.opts.QuotaBytes <= 0 {
		return nil
	}

	used, err := s.usageExcept(key)
	if err != nil {
		return err
	}
	if used+size <= s.opts.QuotaBytes {
		return nil
	}

	if _, err := s.Cleanup(); err != nil {
		return errors.Wrap(err, "cleaning up backups")
	}

	keys, err := s.Keys(consts.BackupEmergencyPrefix)
	if err != nil {
		return err
	}

	for {
		used, err = s.usageExcept(key)
		if err != nil {
			return err
		}
		if used+size <= s.opts.QuotaBytes {
			return nil
		}

		var victim string
		for len(keys) > 0 && victim == "" {
			if keys[0] != key {
				victim = keys[0]
			}
			keys = keys[1:]
		}
		if victim == "" {
			return ErrQuotaExceeded
		}

		s.logger.Info("evicting emergency backup", zap.String("key", victim))
		if err := s.Remove(victim); err != nil {
			return err
		}
	}
}

// Cleanup drops expired emergency snapshots and keeps at most
// MaxEmergencyBackups of the newest ones. It returns how many were removed.
func (s *Store) Cleanup() (int, error) {
	keys, err := s.Keys(consts.BackupEmergencyPrefix)
	if err != nil {
		return 0, err
	}

	var removed int

	if s.opts.EmergencyBackupMaxAge > 0 {
		cutoff := s.clock.Now().Add(-s.opts.EmergencyBackupMaxAge).UnixNano()
		res, err := s.db.Exec("DELETE FROM backups WHERE key LIKE ? AND updated_at < ?", consts.BackupEmergencyPrefix+"%", cutoff)
		if err != nil {
			return removed, errors.Wrap(err, "removing expired emergency backups")
		}
		n, _ := res.RowsAffected()
		removed += int(n)

		if keys, err = s.Keys(consts.BackupEmergencyPrefix); err != nil {
			return removed, err
		}
	}

	if limit := s.opts.MaxEmergencyBackups; limit > 0 && len(keys) > limit {
		for _, key := range keys[:len(keys)-limit] {
			if err := s.Remove(key); err != nil {
				return removed, err
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("cleaned up emergency backups", zap.Int("removed", removed))
	}

	return removed, nil
}
