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

package infra

import (
	gocontext "context"
	"time"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/account"
	"github.com/plubot/plubot/pkg/cli/backup"
	"github.com/plubot/plubot/pkg/cli/client"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/creation"
	"github.com/plubot/plubot/pkg/cli/log"
	"github.com/plubot/plubot/pkg/cli/notify"
	"github.com/plubot/plubot/pkg/cli/repository"
	"github.com/plubot/plubot/pkg/cli/retry"
	"github.com/plubot/plubot/pkg/cli/syncer"
	"github.com/plubot/plubot/pkg/cli/transfer"
	"github.com/plubot/plubot/pkg/cli/worker"
	"go.uber.org/zap"
)

// App holds the services of a running plubot process. Every service shares
// the same backup store, repository and worker.
type App struct {
	Ctx        context.PlubotCtx
	Client     *client.Client
	Backup     *backup.Store
	Repository *repository.Repository
	Worker     *worker.Worker
	Account    *account.Store
	Creation   *creation.Service
	Syncer     *syncer.Engine
	Transfer   *transfer.Service
	Notifier   notify.Notifier
}

// NewApp wires the services on top of the context and restores the session
// and the repository
func NewApp(ctx context.PlubotCtx, notifier notify.Notifier) (*App, error) {
	if notifier == nil {
		notifier = notify.Console{}
	}
	logger := ctx.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := ctx.Settings

	c := client.New(client.Options{
		Endpoint:   ctx.APIEndpoint,
		Version:    ctx.Version,
		HTTPClient: ctx.HTTPClient,
	})
	store := backup.New(ctx.DB, ctx.Clock, logger.Named("backup"), s.Backup)
	repo := repository.New(store, logger.Named("repository"))
	w := worker.New(logger.Named("worker"), worker.DefaultBuffer)

	acc := account.New(account.Options{
		DB:         ctx.DB,
		Client:     c,
		Repository: repo,
		Worker:     w,
		Clock:      ctx.Clock,
		Logger:     logger.Named("account"),
	})

	engine := syncer.New(syncer.Options{
		Remote:        c,
		Repository:    repo,
		Backup:        store,
		Worker:        w,
		Clock:         ctx.Clock,
		Notifier:      notifier,
		Logger:        logger.Named("syncer"),
		Interval:      s.SyncInterval,
		FollowUpDelay: s.FollowUpDelay,
	})

	app := &App{
		Ctx:        ctx,
		Client:     c,
		Backup:     store,
		Repository: repo,
		Worker:     w,
		Account:    acc,
		Notifier:   notifier,
		Syncer:     engine,
		Creation: creation.New(creation.Options{
			Remote:     c,
			Repository: repo,
			Backup:     store,
			Policy:     retry.Linear(s.RetryAttempts, s.RetryBackoff),
			Clock:      ctx.Clock,
			Notifier:   notifier,
			Logger:     logger.Named("creation"),
		}),
		Transfer: transfer.New(transfer.Options{
			Repository: repo,
			Users:      acc,
			Syncer:     engine,
			Worker:     w,
			Clock:      ctx.Clock,
			Notifier:   notifier,
			Logger:     logger.Named("transfer"),
		}),
	}

	if err := acc.LoadSession(); err != nil && err != account.ErrNotLoggedIn {
		return nil, errors.Wrap(err, "loading the session")
	}
	app.Ctx.SessionKey = c.SessionKey()

	n := repo.Load()
	log.Debug("loaded %d plubot(s), context: %+v\n", n, context.Redact(app.Ctx))

	if removed, err := store.Cleanup(); err != nil {
		logger.Warn("cleaning up the backup store", zap.Error(err))
	} else if removed > 0 {
		logger.Info("removed stale emergency snapshots", zap.Int("count", removed))
	}

	return app, nil
}

// Close waits for queued background work and releases the logger. The
// database is owned by the context and closed by the caller.
func (a *App) Close(ctx gocontext.Context) error {
	err := a.Worker.Close(ctx)
	if a.Ctx.Logger != nil {
		a.Ctx.Logger.Sync()
	}

	if err != nil {
		return errors.Wrap(err, "waiting for background work")
	}

	return nil
}

// closeTimeout bounds how long a command waits for queued background work
const closeTimeout = 10 * time.Second

// WithApp builds the app, runs fn with it and waits for the background work
// fn queued before returning
func WithApp(ctx context.PlubotCtx, fn func(app *App) error) error {
	app, err := NewApp(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "initializing")
	}

	runErr := fn(app)

	c, cancel := gocontext.WithTimeout(gocontext.Background(), closeTimeout)
	defer cancel()
	if err := app.Close(c); err != nil {
		log.Debug("%s\n", err.Error())
	}

	return runErr
}
