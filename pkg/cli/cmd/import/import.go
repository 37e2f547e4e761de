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

package importcmd

import (
	gocontext "context"
	"os"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/infra"
	"github.com/plubot/plubot/pkg/cli/log"
	"github.com/plubot/plubot/pkg/cli/transfer"
	"github.com/plubot/plubot/pkg/cli/ui"
	"github.com/spf13/cobra"
)

var example = `
  * Import plubots, asking what to do about each id that already exists
  plubot import plubots_export_2025-03-01.json

  * Keep both copies on every conflict
  plubot import backup.json --policy keep-both`

var policyFlag string

// NewCmd returns a new import command
func NewCmd(ctx context.PlubotCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "import <file>",
		Short:   "Import plubots from an exported JSON file",
		Example: example,
		PreRunE: preRun,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVar(&policyFlag, "policy", "", "how to handle existing ids without asking: overwrite, keep-both or skip")

	return cmd
}

func preRun(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.New("Incorrect number of argument")
	}

	if policyFlag != "" {
		if _, err := transfer.ParseDecision(policyFlag); err != nil {
			return err
		}
	}

	return nil
}

func getResolver() transfer.Resolver {
	if policyFlag == "" {
		return ui.Stdio()
	}

	d, _ := transfer.ParseDecision(policyFlag)
	return transfer.PolicyResolver(d)
}

func newRun(ctx context.PlubotCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		b, err := os.ReadFile(args[0])
		if err != nil {
			return errors.Wrap(err, "reading the import file")
		}

		doc, err := transfer.ParseDocument(b)
		if err != nil {
			return errors.Wrap(err, "parsing the import file")
		}

		return infra.WithApp(ctx, func(app *infra.App) error {
			res := app.Transfer.Import(gocontext.Background(), doc, getResolver())
			for _, id := range res.Imported {
				log.Plainf("  + %s\n", id)
			}
			for _, id := range res.Updated {
				log.Plainf("  ~ %s\n", id)
			}

			return errors.Wrap(res.Err, "importing")
		})
	}
}
