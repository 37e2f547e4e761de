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

package logout

import (
	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/account"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/infra"
	"github.com/plubot/plubot/pkg/cli/log"
	"github.com/spf13/cobra"
)

var example = `
  plubot logout`

var apiEndpointFlag string

// NewCmd returns a new logout command
func NewCmd(ctx context.PlubotCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "logout",
		Short:   "Logout from the server",
		Example: example,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVar(&apiEndpointFlag, "apiEndpoint", "", "API endpoint to connect to (defaults to value in config)")

	return cmd
}

func newRun(ctx context.PlubotCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		if apiEndpointFlag != "" {
			ctx.APIEndpoint = apiEndpointFlag
		}

		return infra.WithApp(ctx, func(app *infra.App) error {
			err := app.Account.Logout()
			if err == account.ErrNotLoggedIn {
				log.Error("not logged in\n")
				return nil
			} else if err != nil {
				return errors.Wrap(err, "logging out")
			}

			log.Success("logged out\n")

			if n := len(app.Repository.Pending()); n > 0 {
				log.Warnf("%d plubot(s) were not synchronized. They stay on this device and will be synchronized after the next login.\n", n)
			}

			return nil
		})
	}
}
