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

package account

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/assert"
	"github.com/plubot/plubot/pkg/cli/backup"
	"github.com/plubot/plubot/pkg/cli/client"
	"github.com/plubot/plubot/pkg/cli/consts"
	"github.com/plubot/plubot/pkg/cli/database"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"github.com/plubot/plubot/pkg/cli/repository"
	"github.com/plubot/plubot/pkg/cli/testutils"
	"github.com/plubot/plubot/pkg/cli/worker"
	"github.com/plubot/plubot/pkg/clock"
	"go.uber.org/zap"
)

type fixture struct {
	store  *Store
	db     *database.DB
	client *client.Client
	repo   *repository.Repository
	backup *backup.Store
	worker *worker.Worker
	clock  *clock.Mock
	server *testutils.Server
}

func setup(t *testing.T) fixture {
	server := testutils.NewServer(t)
	db := database.InitTestMemoryDB(t)
	c := clock.NewMock()
	b := backup.New(db, c, zap.NewNop(), backup.DefaultOptions())
	repo := repository.New(b, zap.NewNop())
	w := worker.New(zap.NewNop(), 0)
	t.Cleanup(func() {
		w.Close(context.Background())
	})

	cl := client.New(client.Options{
		Endpoint:   server.URL,
		Version:    "test",
		HTTPClient: client.NewRateLimitedHTTPClient(5 * time.Second),
	})

	s := New(Options{
		DB:         db,
		Client:     cl,
		Repository: repo,
		Worker:     w,
		Clock:      c,
		Logger:     zap.NewNop(),
	})

	return fixture{
		store:  s,
		db:     db,
		client: cl,
		repo:   repo,
		backup: b,
		worker: w,
		clock:  c,
		server: server,
	}
}

func countSystem(t *testing.T, db *database.DB, key string) int {
	var count int
	database.MustScan(t, "counting system key", db.QueryRow("SELECT count(*) FROM system WHERE key = ?", key), &count)
	return count
}

func TestLogin(t *testing.T) {
	f := setup(t)
	f.server.Seed(plubot.Plubot{Name: "remote"})

	u, err := f.store.Login(context.Background(), testutils.Email, testutils.Password)
	if err != nil {
		t.Fatal(errors.Wrap(err, "logging in"))
	}

	assert.Equal(t, u.ID, "7", "user id mismatch")
	assert.Equal(t, u.Email, testutils.Email, "email mismatch")
	assert.Equal(t, f.client.SessionKey(), testutils.SessionKey, "client session mismatch")
	assert.Equal(t, f.store.IsAuthenticated(), true, "should be authenticated")

	var key string
	if err := database.GetSystem(f.db, consts.SystemSessionKey, &key); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, key, testutils.SessionKey, "persisted session mismatch")

	list := f.repo.List()
	assert.Equal(t, len(list), 1, "repository should hold the remote plubot")
	assert.Equal(t, list[0].ID, "101", "plubot id mismatch")
	assert.Equal(t, list[0].Synced, true, "remote plubot should be synced")
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := setup(t)

	_, err := f.store.Login(context.Background(), testutils.Email, "wrong")

	assert.Equal(t, errors.Cause(err), client.ErrInvalidLogin, "error mismatch")
	assert.Equal(t, countSystem(t, f.db, consts.SystemSessionKey), 0, "no session should be saved")
}

func TestLoadSession(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		f := setup(t)

		assert.Equal(t, f.store.LoadSession(), ErrNotLoggedIn, "error mismatch")
	})

	t.Run("valid", func(t *testing.T) {
		f := setup(t)
		if _, err := f.store.Login(context.Background(), testutils.Email, testutils.Password); err != nil {
			t.Fatal(err)
		}

		other := New(Options{DB: f.db, Client: client.New(client.Options{Endpoint: f.server.URL}), Repository: f.repo, Worker: f.worker, Clock: f.clock})
		assert.Equal(t, other.LoadSession(), nil, "error mismatch")
		assert.Equal(t, other.IsAuthenticated(), true, "session should be restored")

		u, ok := other.User()
		assert.Equal(t, ok, true, "user should be restored")
		assert.Equal(t, u.Name, "Alice", "user name mismatch")
	})

	t.Run("expired", func(t *testing.T) {
		f := setup(t)
		if _, err := f.store.Login(context.Background(), testutils.Email, testutils.Password); err != nil {
			t.Fatal(err)
		}
		f.clock.Add(SessionTTL + time.Minute)

		assert.Equal(t, f.store.LoadSession(), ErrNotLoggedIn, "error mismatch")
	})
}

func TestHandleUnauthorized(t *testing.T) {
	f := setup(t)
	if _, err := f.store.Login(context.Background(), testutils.Email, testutils.Password); err != nil {
		t.Fatal(err)
	}
	if err := f.repo.Add(plubot.Plubot{ID: "local_1", OfflineCreated: true}); err != nil {
		t.Fatal(err)
	}

	f.client.SetSessionKey("revoked")
	_, err := f.client.GetProfile(context.Background())

	assert.Equal(t, errors.Cause(err), client.ErrUnauthorized, "error mismatch")
	assert.Equal(t, f.client.SessionKey(), "", "client session should be cleared")
	assert.Equal(t, countSystem(t, f.db, consts.SystemSessionKey), 0, "persisted session should be cleared")
	assert.Equal(t, countSystem(t, f.db, consts.SystemSessionKeyExpiry), 0, "persisted expiry should be cleared")

	_, ok := f.repo.Get("local_1")
	assert.Equal(t, ok, true, "local plubots should be kept")
}

func TestLogout(t *testing.T) {
	f := setup(t)
	if _, err := f.store.Login(context.Background(), testutils.Email, testutils.Password); err != nil {
		t.Fatal(err)
	}

	if err := f.store.Logout(); err != nil {
		t.Fatal(errors.Wrap(err, "logging out"))
	}
	if err := f.worker.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, f.store.IsAuthenticated(), false, "should not be authenticated")
	assert.Equal(t, countSystem(t, f.db, consts.SystemSessionKey), 0, "session should be deleted")
	assert.Equal(t, countSystem(t, f.db, consts.SystemUser), 0, "user should be deleted")

	reqs := f.server.Requests(testutils.RouteLogout)
	assert.Equal(t, len(reqs), 1, "server should be told")
	assert.Equal(t, reqs[0].Auth, "Bearer "+testutils.SessionKey, "logout should carry the old session")

	assert.Equal(t, f.store.Logout(), ErrNotLoggedIn, "second logout")
}

func TestLoadProfile_Merge(t *testing.T) {
	f := setup(t)
	f.server.Seed(plubot.Plubot{ID: "101", Name: "server copy"})
	f.server.Seed(plubot.Plubot{ID: "102", Name: "other"})
	f.client.SetSessionKey(testutils.SessionKey)

	err := f.repo.Set([]plubot.Plubot{
		{ID: "101", Name: "edited locally", PendingChanges: true},
		{ID: "local_1", Name: "offline", OfflineCreated: true},
		{ID: "99", Name: "deleted on server", Synced: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	p := f.store.LoadProfile(context.Background())

	assert.Equal(t, p.Err, nil, "error mismatch")
	assert.Equal(t, p.FromBackup, false, "should not fall back")
	assert.Equal(t, p.Plubots, 3, "plubot count mismatch")
	assert.Equal(t, p.User.Email, testutils.Email, "user mismatch")

	got, _ := f.repo.Get("101")
	assert.Equal(t, got.Name, "edited locally", "local changes should win")
	_, ok := f.repo.Get("local_1")
	assert.Equal(t, ok, true, "offline plubot should be kept")
	_, ok = f.repo.Get("99")
	assert.Equal(t, ok, false, "synced plubot missing on the server should be dropped")
}

func TestLoadProfile_FallbackToBackup(t *testing.T) {
	f := setup(t)
	f.client.SetSessionKey(testutils.SessionKey)
	f.server.FailNext(testutils.RouteProfile, http.StatusServiceUnavailable)

	if err := f.backup.SaveUserPlubots([]plubot.Plubot{{ID: "1"}, {ID: "local_2", OfflineCreated: true}}); err != nil {
		t.Fatal(err)
	}

	p := f.store.LoadProfile(context.Background())

	assert.NotEqual(t, p.Err, nil, "error should be reported")
	assert.Equal(t, p.FromBackup, true, "should fall back")
	assert.Equal(t, p.Plubots, 2, "plubot count mismatch")
	assert.Equal(t, f.repo.Len(), 2, "repository should be restored")
}
