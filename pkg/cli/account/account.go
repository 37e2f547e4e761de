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

// Package account keeps the session and the profile of the signed in user
package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/client"
	"github.com/plubot/plubot/pkg/cli/consts"
	"github.com/plubot/plubot/pkg/cli/database"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"github.com/plubot/plubot/pkg/cli/repository"
	"github.com/plubot/plubot/pkg/cli/worker"
	"github.com/plubot/plubot/pkg/clock"
	"go.uber.org/zap"
)

// ErrNotLoggedIn is returned when an operation needs a session and there is none
var ErrNotLoggedIn = errors.New("not logged in")

// SessionTTL is how long a session is trusted locally after login
const SessionTTL = 30 * 24 * time.Hour

// User is the signed in user
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Profile is the outcome of loading the profile
type Profile struct {
	User User
	// Plubots is the number of plubots in the repository afterwards
	Plubots int
	// FromBackup is set when the server could not be reached and the
	// repository was restored from the local mirror
	FromBackup bool
	Err        error
}

// Store is the account store. It owns the session and reacts to the server
// rejecting it.
type Store struct {
	db     *database.DB
	client *client.Client
	repo   *repository.Repository
	worker *worker.Worker
	clock  clock.Clock
	logger *zap.Logger

	mu   sync.RWMutex
	user *User
}

// Options holds the collaborators of the account store
type Options struct {
	DB         *database.DB
	Client     *client.Client
	Repository *repository.Repository
	Worker     *worker.Worker
	Clock      clock.Clock
	Logger     *zap.Logger
}

// New returns an account store and registers it as the unauthorized handler
// of the client
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		db:     opts.DB,
		client: opts.Client,
		repo:   opts.Repository,
		worker: opts.Worker,
		clock:  opts.Clock,
		logger: logger,
	}
	opts.Client.OnUnauthorized(s.HandleUnauthorized)

	return s
}

// LoadSession restores the persisted session into the client. It returns
// ErrNotLoggedIn when there is no session or it has expired.
func (s *Store) LoadSession() error {
	var key string
	err := database.GetSystem(s.db, consts.SystemSessionKey, &key)
	if errors.Cause(err) == sql.ErrNoRows {
		return ErrNotLoggedIn
	} else if err != nil {
		return errors.Wrap(err, "getting session key")
	}

	var expiry string
	err = database.GetSystem(s.db, consts.SystemSessionKeyExpiry, &expiry)
	if err != nil && errors.Cause(err) != sql.ErrNoRows {
		return errors.Wrap(err, "getting session key expiry")
	}
	if expiry != "" {
		ts, err := strconv.ParseInt(expiry, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "parsing session key expiry '%s'", expiry)
		}
		if s.clock.Now().Unix() >= ts {
			s.logger.Info("session expired", zap.Int64("expiry", ts))
			return ErrNotLoggedIn
		}
	}

	var raw string
	err = database.GetSystem(s.db, consts.SystemUser, &raw)
	if err != nil && errors.Cause(err) != sql.ErrNoRows {
		return errors.Wrap(err, "getting user")
	}
	if raw != "" {
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			s.logger.Warn("decoding stored user", zap.Error(err))
		} else {
			s.setUser(&u)
		}
	}

	s.client.SetSessionKey(key)

	return nil
}

// IsAuthenticated reports whether a session is present
func (s *Store) IsAuthenticated() bool {
	return s.client.SessionKey() != ""
}

// User returns the signed in user
func (s *Store) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return User{}, false
	}

	return *s.user, true
}

func (s *Store) setUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = u
}

// HandleUnauthorized forgets the session after the server rejected it. The
// plubots and their backups are kept so that nothing is lost before the
// user logs in again.
func (s *Store) HandleUnauthorized() {
	s.logger.Warn("server rejected the session")

	if err := s.clearSession(); err != nil {
		s.logger.Error("clearing rejected session", zap.Error(err))
	}
}

func (s *Store) clearSession() error {
	s.client.SetSessionKey("")

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning a transaction")
	}

	for _, key := range []string{consts.SystemSessionKey, consts.SystemSessionKeyExpiry} {
		if err := database.DeleteSystem(tx, key); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "deleting %s", key)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}

	return nil
}

func (s *Store) saveSession(key string, u User) error {
	expiry := s.clock.Now().Add(SessionTTL).Unix()

	b, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "marshaling user")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning a transaction")
	}

	kv := map[string]string{
		consts.SystemSessionKey:       key,
		consts.SystemSessionKeyExpiry: strconv.FormatInt(expiry, 10),
		consts.SystemUser:             string(b),
	}
	for k, v := range kv {
		if err := database.UpsertSystem(tx, k, v); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "saving %s", k)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}

	return nil
}

// Login signs in, persists the session and merges the plubots of the user
// into the repository
func (s *Store) Login(ctx context.Context, email, password string) (User, error) {
	resp, err := s.client.Login(ctx, email, password)
	if err != nil {
		return User{}, errors.Wrap(err, "requesting session")
	}

	var u User
	var remote []plubot.Plubot
	if resp.User != nil {
		u = toUser(*resp.User)
		remote = resp.User.Plubots
	}

	if err := s.saveSession(resp.AccessToken, u); err != nil {
		return User{}, errors.Wrap(err, "saving session")
	}
	s.client.SetSessionKey(resp.AccessToken)
	s.setUser(&u)

	if resp.User != nil {
		s.merge(remote)
	}

	return u, nil
}

// Logout forgets the session locally and tells the server in the background
func (s *Store) Logout() error {
	key := s.client.SessionKey()
	if key == "" {
		return ErrNotLoggedIn
	}

	if err := s.clearSession(); err != nil {
		return errors.Wrap(err, "clearing session")
	}
	if err := database.DeleteSystem(s.db, consts.SystemUser); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	s.setUser(nil)

	err := s.worker.Go("logout", func(ctx context.Context) error {
		return s.client.Logout(ctx, key)
	})
	if err != nil {
		s.logger.Warn("scheduling server logout", zap.Error(err))
	}

	return nil
}

// LoadProfile fetches the profile and the plubots of the user. Plubots with
// local changes the server has not seen take precedence over the server
// copies. When the server cannot be reached, the repository is restored from
// the local mirror instead.
func (s *Store) LoadProfile(ctx context.Context) Profile {
	remote, err := s.client.GetProfile(ctx)
	if err != nil {
		s.logger.Warn("loading profile, falling back to backup", zap.Error(err))

		n := s.repo.Load()
		u, _ := s.User()

		return Profile{
			User:       u,
			Plubots:    n,
			FromBackup: true,
			Err:        err,
		}
	}

	u := toUser(remote)
	s.setUser(&u)
	if b, err := json.Marshal(u); err == nil {
		if err := database.UpsertSystem(s.db, consts.SystemUser, string(b)); err != nil {
			s.logger.Warn("saving user", zap.Error(err))
		}
	}

	if s.repo.Len() == 0 {
		s.repo.Load()
	}
	s.merge(remote.Plubots)

	return Profile{
		User:    u,
		Plubots: s.repo.Len(),
	}
}

// merge replaces the repository with the server list, keeping local entries
// that still need to be synchronized
func (s *Store) merge(remote []plubot.Plubot) {
	if err := s.repo.MergeRemote(remote); err != nil {
		s.logger.Warn("saving merged plubots", zap.Error(err))
	}
}

func toUser(u client.User) User {
	return User{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
	}
}
