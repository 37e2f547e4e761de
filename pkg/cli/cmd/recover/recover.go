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

package recover

import (
	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/infra"
	"github.com/plubot/plubot/pkg/cli/log"
	"github.com/plubot/plubot/pkg/cli/output"
	"github.com/plubot/plubot/pkg/cli/ui"
	"github.com/spf13/cobra"
)

var example = `
  * Guard a flow file against accidental wipes while you work on it
  plubot recover watch 101 ./flow.json

  * Restore the last emergency snapshot of a plubot
  plubot recover restore 101

  * List the creations that could not be saved
  plubot recover failed`

var yesFlag bool

// NewCmd returns a new recover command
func NewCmd(ctx context.PlubotCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recover",
		Short:   "Recover lost flows and failed creations",
		Example: example,
	}

	cmd.AddCommand(newWatchCmd(ctx))
	cmd.AddCommand(newRestoreCmd(ctx))
	cmd.AddCommand(newFailedCmd(ctx))

	return cmd
}

func newRestoreCmd(ctx context.PlubotCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <plubot id>",
		Short: "Restore the emergency snapshot of a plubot",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestore(ctx),
	}

	f := cmd.Flags()
	f.BoolVarP(&yesFlag, "yes", "y", false, "assume yes to the prompts and run in non-interactive mode")

	return cmd
}

func runRestore(ctx context.PlubotCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		id := args[0]

		return infra.WithApp(ctx, func(app *infra.App) error {
			if _, ok := app.Repository.Get(id); !ok {
				return errors.Errorf("plubot '%s' not found", id)
			}

			snap, ok := app.Backup.EmergencyBackup(id)
			if !ok {
				log.Info("no emergency snapshot for this plubot\n")
				return nil
			}

			n := snap.FlowData.NodeCount()
			if !yesFlag {
				question := "Replace the current flow with the snapshot of " + snap.Timestamp.Local().Format("2006-01-02 15:04") + "?"
				ok, err := ui.Stdio().Confirm(question, true)
				if err != nil {
					return errors.Wrap(err, "getting confirmation")
				}
				if !ok {
					log.Warnf("aborted by user\n")
					return nil
				}
			}

			if err := app.Repository.UpdateFlow(id, snap.FlowData.Clone()); err != nil {
				return errors.Wrap(err, "restoring flow")
			}

			log.Successf("restored %d node(s)\n", n)
			return nil
		})
	}
}

func newFailedCmd(ctx context.PlubotCtx) *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "List the creations that could not be saved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return infra.WithApp(ctx, func(app *infra.App) error {
				list := app.Backup.FailedCreations()
				if len(list) == 0 {
					log.Info("no failed creations\n")
					return nil
				}

				for _, f := range list {
					output.FailedCreation(f)
				}

				return nil
			})
		},
	}
}
