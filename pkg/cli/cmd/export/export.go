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

package export

import (
	"os"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/infra"
	"github.com/plubot/plubot/pkg/cli/log"
	"github.com/plubot/plubot/pkg/cli/transfer"
	"github.com/spf13/cobra"
)

var example = `
  * Export every plubot
  plubot export

  * Export a single plubot
  plubot export 101

  * Choose the output file, or '-' for stdout
  plubot export -o backup.json
  plubot export 101 -o -`

var outputFlag string

// NewCmd returns a new export command
func NewCmd(ctx context.PlubotCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "export [plubot id]",
		Short:   "Export plubots to a JSON file",
		Example: example,
		PreRunE: preRun,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVarP(&outputFlag, "output", "o", "", "file to write to (defaults to a dated file name in the current directory)")

	return cmd
}

func preRun(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return errors.New("Incorrect number of argument")
	}

	return nil
}

func write(doc transfer.Document, path string) error {
	if path == "-" {
		return transfer.WriteDocument(os.Stdout, doc)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}

	if err := transfer.WriteDocument(f, doc); err != nil {
		f.Close()
		return err
	}

	return errors.Wrap(f.Close(), "closing the export file")
}

func newRun(ctx context.PlubotCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		return infra.WithApp(ctx, func(app *infra.App) error {
			var doc transfer.Document
			var err error
			if len(args) == 1 {
				doc, err = app.Transfer.ExportOne(args[0])
			} else {
				doc, err = app.Transfer.ExportAll()
			}
			if errors.Cause(err) == transfer.ErrNoPlubots {
				log.Info("nothing to export\n")
				return nil
			} else if err != nil {
				return errors.Wrap(err, "exporting")
			}

			path := outputFlag
			if path == "" {
				path = transfer.DefaultFilename(doc, ctx.Clock.Now())
			}

			if err := write(doc, path); err != nil {
				return err
			}

			if path != "-" {
				n := len(doc.Candidates())
				log.Successf("exported %d plubot(s) to %s\n", n, path)
			}

			return nil
		})
	}
}
