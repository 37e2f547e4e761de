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

package login

import (
	gocontext "context"
	"fmt"
	"net/url"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/client"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/infra"
	"github.com/plubot/plubot/pkg/cli/log"
	"github.com/plubot/plubot/pkg/cli/ui"
	"github.com/spf13/cobra"
)

var example = `
  plubot login`

var usernameFlag, passwordFlag, apiEndpointFlag string

// NewCmd returns a new login command
func NewCmd(ctx context.PlubotCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "login",
		Short:   "Login to the plubot server",
		Example: example,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVarP(&usernameFlag, "username", "u", "", "email address for authentication")
	f.StringVarP(&passwordFlag, "password", "p", "", "password for authentication")
	f.StringVar(&apiEndpointFlag, "apiEndpoint", "", "API endpoint to connect to (defaults to value in config)")

	return cmd
}

func getServerDisplayURL(ctx context.PlubotCtx) string {
	u, err := url.Parse(ctx.APIEndpoint)
	if err != nil {
		return ""
	}
	if u.Scheme == "" || u.Host == "" {
		return ""
	}

	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}

func getCredentials(term *ui.Terminal) (string, string, error) {
	email := usernameFlag
	if email == "" {
		if err := term.PromptInput("email", &email); err != nil {
			return "", "", errors.Wrap(err, "getting email input")
		}
	}
	if email == "" {
		return "", "", errors.New("Email is empty")
	}

	password := passwordFlag
	if password == "" {
		if err := term.PromptPassword("password", &password); err != nil {
			return "", "", errors.Wrap(err, "getting password input")
		}
	}
	if password == "" {
		return "", "", errors.New("Password is empty")
	}

	return email, password, nil
}

func newRun(ctx context.PlubotCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		if apiEndpointFlag != "" {
			ctx.APIEndpoint = apiEndpointFlag
		}

		if display := getServerDisplayURL(ctx); display != "" {
			log.Plainf("Logging in to %s\n", display)
		}

		email, password, err := getCredentials(ui.Stdio())
		if err != nil {
			return err
		}

		return infra.WithApp(ctx, func(app *infra.App) error {
			u, err := app.Account.Login(gocontext.Background(), email, password)
			if errors.Cause(err) == client.ErrInvalidLogin {
				log.Error("wrong login\n")
				return nil
			} else if err != nil {
				return errors.Wrap(err, "logging in")
			}

			log.Successf("logged in as %s\n", u.Email)

			profile := app.Account.LoadProfile(gocontext.Background())
			if profile.Err != nil {
				log.Warnf("could not load the profile: %s\n", profile.Err.Error())
			}
			log.Infof("%d plubot(s)\n", profile.Plubots)

			return nil
		})
	}
}
