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

package edit

import (
	gocontext "context"
	"os"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/infra"
	"github.com/plubot/plubot/pkg/cli/log"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"github.com/plubot/plubot/pkg/cli/recovery"
	"github.com/plubot/plubot/pkg/cli/ui"
	"github.com/spf13/cobra"
)

var flowFlag string
var nameFlag string
var clearFlag bool

var example = `
  * Edit the flow of a plubot in your editor
  plubot edit 101

  * Replace the flow with the content of a file
  plubot edit 101 --flow ./flow.json

  * Rename a plubot
  plubot edit 101 -n Soporte

  * Empty the flow on purpose
  plubot edit 101 --clear
`

// NewCmd returns a new edit command
func NewCmd(ctx context.PlubotCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "edit <plubot id>",
		Short:   "Edit a plubot",
		Aliases: []string{"e"},
		Example: example,
		PreRunE: preRun,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVar(&flowFlag, "flow", "", "path to a JSON file with the new flow")
	f.StringVarP(&nameFlag, "name", "n", "", "a new name for the plubot")
	f.BoolVar(&clearFlag, "clear", false, "remove every node and edge of the flow")

	return cmd
}

func preRun(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.New("Incorrect number of argument")
	}

	return nil
}

func getFlow(ctx context.PlubotCtx, current plubot.FlowData) (plubot.FlowData, error) {
	if clearFlag {
		return plubot.FlowData{}, nil
	}

	var raw string
	if flowFlag != "" {
		b, err := os.ReadFile(flowFlag)
		if err != nil {
			return plubot.FlowData{}, errors.Wrap(err, "reading flow file")
		}
		raw = string(b)
	} else {
		initial, err := ui.EncodeFlow(current)
		if err != nil {
			return plubot.FlowData{}, err
		}

		fpath, err := ui.GetTmpFlowPath(ctx)
		if err != nil {
			return plubot.FlowData{}, errors.Wrap(err, "getting temporary flow file path")
		}

		raw, err = ui.GetEditorInput(ctx, fpath, initial)
		if err != nil {
			return plubot.FlowData{}, errors.Wrap(err, "getting editor input")
		}
	}

	return ui.DecodeFlow(raw)
}

// guardLoss feeds the old and new flows to a recovery detector and lets the
// user restore the snapshot when every node disappeared unexpectedly
func guardLoss(app *infra.App, id string, current, next plubot.FlowData) (plubot.FlowData, error) {
	d := recovery.New(recovery.Options{
		Backup:   app.Backup,
		PlubotID: id,
		Notifier: app.Notifier,
		Logger:   app.Ctx.Logger,
	})

	if _, err := d.Track(current); err != nil {
		log.Warnf("could not save an emergency snapshot: %s\n", err.Error())
	}
	if clearFlag {
		d.MarkExplicitClear()
	}

	ev, err := d.Track(next)
	if err != nil {
		log.Warnf("could not save an emergency snapshot: %s\n", err.Error())
	}
	if ev.Kind != recovery.EventRecoveryOffered {
		return next, nil
	}

	restore, err := ui.Stdio().PromptRecovery(ev)
	if err != nil {
		return next, err
	}
	if !restore {
		if err := d.Dismiss(); err != nil {
			return next, errors.Wrap(err, "dismissing recovery")
		}
		return next, nil
	}

	return d.Recover()
}

func newRun(ctx context.PlubotCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		id := args[0]

		return infra.WithApp(ctx, func(app *infra.App) error {
			p, ok := app.Repository.Get(id)
			if !ok {
				return errors.Errorf("plubot '%s' not found", id)
			}

			if nameFlag != "" {
				if err := app.Repository.Update(id, func(p *plubot.Plubot) {
					p.Name = nameFlag
					p.PendingChanges = true
				}); err != nil {
					return errors.Wrap(err, "renaming plubot")
				}
				log.Successf("renamed to %s\n", nameFlag)

				if flowFlag == "" && !clearFlag {
					return sync(app)
				}
			}

			var current plubot.FlowData
			if p.FlowData != nil {
				current = p.FlowData.Clone()
			}

			next, err := getFlow(ctx, current)
			if err != nil {
				return err
			}

			next, err = guardLoss(app, id, current, next)
			if err != nil {
				return err
			}

			if err := app.Repository.UpdateFlow(id, next); err != nil {
				return errors.Wrap(err, "saving flow")
			}
			log.Successf("flow saved with %d node(s)\n", next.NodeCount())

			return sync(app)
		})
	}
}

// sync pushes the change right away when a session exists
func sync(app *infra.App) error {
	if !app.Account.IsAuthenticated() {
		log.Info("not logged in, the change will be synchronized after login\n")
		return nil
	}

	app.Syncer.SyncAll(gocontext.Background())

	return nil
}
