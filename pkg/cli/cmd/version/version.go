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

package version

import (
	"fmt"
	"path/filepath"

	"github.com/plubot/plubot/pkg/cli/consts"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/spf13/cobra"
)

var verboseFlag bool

// NewCmd returns a new version command
func NewCmd(ctx context.PlubotCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of plubot",
		Long:  "Print the version number of plubot, and with --verbose where it keeps its data",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("plubot %s\n", ctx.Version)
			if !verboseFlag {
				return
			}

			fmt.Printf("api endpoint: %s\n", ctx.APIEndpoint)
			fmt.Printf("config: %s\n", filepath.Join(ctx.ConfigDir(), consts.ConfigFilename))
			fmt.Printf("diagnostic log: %s\n", filepath.Join(ctx.CacheDir(), consts.DiagnosticLogFilename))
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&verboseFlag, "verbose", "v", false, "also print the api endpoint and file locations")

	return cmd
}
