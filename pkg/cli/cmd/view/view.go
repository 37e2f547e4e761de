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

package view

import (
	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/infra"
	"github.com/plubot/plubot/pkg/cli/log"
	"github.com/plubot/plubot/pkg/cli/output"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"github.com/spf13/cobra"
)

var example = `
 * List all plubots
 plubot view

 * List plubots the server has not seen yet
 plubot view --pending

 * View a particular plubot
 plubot view 101
 `

var nameOnly bool
var pendingOnly bool

func preRun(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return errors.New("Incorrect number of argument")
	}

	return nil
}

// NewCmd returns a new view command
func NewCmd(ctx context.PlubotCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "view <plubot id?>",
		Aliases: []string{"v", "ls"},
		Short:   "List plubots or view one",
		Example: example,
		RunE:    newRun(ctx),
		PreRunE: preRun,
	}

	f := cmd.Flags()
	f.BoolVarP(&nameOnly, "name-only", "", false, "print plubot names only")
	f.BoolVarP(&pendingOnly, "pending", "", false, "list only plubots waiting to be synchronized")

	return cmd
}

func filter(list []plubot.Plubot, pending bool) []plubot.Plubot {
	if !pending {
		return list
	}

	var ret []plubot.Plubot
	for _, p := range list {
		if p.NeedsSync() {
			ret = append(ret, p)
		}
	}

	return ret
}

func newRun(ctx context.PlubotCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		return infra.WithApp(ctx, func(app *infra.App) error {
			if len(args) == 1 {
				p, ok := app.Repository.Get(args[0])
				if !ok {
					return errors.Errorf("plubot '%s' not found", args[0])
				}

				output.PlubotInfo(p)
				return nil
			}

			list := filter(app.Repository.List(), pendingOnly)
			if len(list) == 0 {
				log.Info("no plubots\n")
				return nil
			}

			for _, p := range list {
				if nameOnly {
					log.Plainf("%s\n", p.Name)
				} else {
					output.PlubotLine(p)
				}
			}

			return nil
		})
	}
}
