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

package main

import (
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/infra"
	"github.com/plubot/plubot/pkg/cli/log"

	// commands
	"github.com/plubot/plubot/pkg/cli/cmd/create"
	"github.com/plubot/plubot/pkg/cli/cmd/edit"
	"github.com/plubot/plubot/pkg/cli/cmd/export"
	importcmd "github.com/plubot/plubot/pkg/cli/cmd/import"
	"github.com/plubot/plubot/pkg/cli/cmd/login"
	"github.com/plubot/plubot/pkg/cli/cmd/logout"
	recovercmd "github.com/plubot/plubot/pkg/cli/cmd/recover"
	"github.com/plubot/plubot/pkg/cli/cmd/root"
	"github.com/plubot/plubot/pkg/cli/cmd/sync"
	"github.com/plubot/plubot/pkg/cli/cmd/version"
	"github.com/plubot/plubot/pkg/cli/cmd/view"
)

// apiEndpoint and versionTag are populated during link time
var apiEndpoint string
var versionTag = "master"

// parseDBPath extracts the --dbPath flag value from the command line
// arguments regardless of where it appears. Returns an empty string if not
// found.
func parseDBPath(args []string) string {
	for i, arg := range args {
		if strings.HasPrefix(arg, "--dbPath=") {
			return strings.TrimPrefix(arg, "--dbPath=")
		}
		if arg == "--dbPath" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func main() {
	// --dbPath can appear after the subcommand, which root.ParseFlags does not
	// look at, and the database is opened before cobra runs
	dbPath := parseDBPath(os.Args[1:])

	ctx, err := infra.Init(versionTag, apiEndpoint, dbPath)
	if err != nil {
		panic(errors.Wrap(err, "initializing context"))
	}
	defer ctx.DB.Close()

	root.Register(create.NewCmd(*ctx))
	root.Register(edit.NewCmd(*ctx))
	root.Register(view.NewCmd(*ctx))
	root.Register(sync.NewCmd(*ctx))
	root.Register(export.NewCmd(*ctx))
	root.Register(importcmd.NewCmd(*ctx))
	root.Register(recovercmd.NewCmd(*ctx))
	root.Register(login.NewCmd(*ctx))
	root.Register(logout.NewCmd(*ctx))
	root.Register(version.NewCmd(*ctx))

	if err := root.Execute(); err != nil {
		log.Errorf("%s\n", err.Error())
		os.Exit(1)
	}
}
