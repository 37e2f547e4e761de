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

package sync

import (
	gocontext "context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/infra"
	"github.com/plubot/plubot/pkg/cli/log"
	"github.com/plubot/plubot/pkg/cli/output"
	"github.com/plubot/plubot/pkg/cli/syncer"
	"github.com/spf13/cobra"
)

var example = `
  * Synchronize every pending plubot once
  plubot sync

  * Keep synchronizing in the background until interrupted
  plubot sync --watch`

var watchFlag bool

// ErrNotLoggedIn is returned when syncing without a session
var ErrNotLoggedIn = errors.New("not logged in. Please run 'plubot login'")

// NewCmd returns a new sync command
func NewCmd(ctx context.PlubotCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sync",
		Aliases: []string{"s"},
		Short:   "Sync plubots with the server",
		Example: example,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.BoolVarP(&watchFlag, "watch", "w", false, "sync periodically until interrupted")

	return cmd
}

func printResult(res syncer.Result) {
	for _, r := range res.Synced {
		if r.OldID != r.NewID {
			log.Plainf("  %s -> %s\n", r.OldID, r.NewID)
		} else {
			log.Plainf("  %s\n", r.NewID)
		}
	}
	for _, e := range res.Errors {
		log.Warnf("%s\n", e)
	}
}

func runOnce(app *infra.App) error {
	pending := len(app.Repository.Pending())
	log.Infof("syncing %d plubot(s)\n", pending)

	res := app.Syncer.SyncAll(gocontext.Background())
	printResult(res)

	output.SyncState(app.Syncer.State(), app.Ctx.Clock.Now())

	if res.Status == syncer.StatusError {
		return errors.Errorf("%d plubot(s) failed to sync", len(res.Errors))
	}

	log.Success("success\n")
	return nil
}

func runWatch(app *infra.App) error {
	ctx, stop := signal.NotifyContext(gocontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	unsubscribe := app.Syncer.Subscribe(func(s syncer.State) {
		if s.IsSyncing {
			return
		}
		log.Debug("sync state: %s\n", s.Status)
	})
	defer unsubscribe()

	log.Infof("syncing every %s. Press Ctrl+C to stop\n", app.Ctx.Settings.SyncInterval)

	return app.Syncer.Start(ctx)
}

func newRun(ctx context.PlubotCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		return infra.WithApp(ctx, func(app *infra.App) error {
			if !app.Account.IsAuthenticated() {
				return ErrNotLoggedIn
			}

			if watchFlag {
				return runWatch(app)
			}

			return runOnce(app)
		})
	}
}
