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

// Package infra provides operations and definitions for the
// local infrastructure for plubot
package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/client"
	"github.com/plubot/plubot/pkg/cli/config"
	"github.com/plubot/plubot/pkg/cli/consts"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/database"
	"github.com/plubot/plubot/pkg/cli/log"
	"github.com/plubot/plubot/pkg/cli/ui"
	"github.com/plubot/plubot/pkg/cli/utils"
	"github.com/plubot/plubot/pkg/clock"
	"github.com/plubot/plubot/pkg/dirs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	// DefaultAPIEndpoint is the default API endpoint used when none is configured
	DefaultAPIEndpoint = "http://localhost:5000/api"
	// EnvAPIEndpoint overrides the configured API endpoint
	EnvAPIEndpoint = "PLUBOT_API_ENDPOINT"
)

// RunEFunc is a function type of plubot commands
type RunEFunc func(*cobra.Command, []string) error

func getDBPath(paths context.Paths, customPath string) string {
	if customPath != "" {
		return customPath
	}

	return fmt.Sprintf("%s/%s/%s", paths.Data, consts.PlubotDirName, consts.PlubotDBFileName)
}

// newBaseCtx creates a minimal context with paths and database connection.
// This base context is used for file and database initialization before
// being enriched with config values by setupCtx.
func newBaseCtx(versionTag, customDBPath string) (context.PlubotCtx, error) {
	paths := context.Paths{
		Home:   dirs.Home,
		Config: dirs.ConfigHome,
		Data:   dirs.DataHome,
		Cache:  dirs.CacheHome,
	}

	if err := context.InitPlubotDirs(paths); err != nil {
		return context.PlubotCtx{}, errors.Wrap(err, "creating the plubot dirs")
	}

	dbPath := getDBPath(paths, customDBPath)

	db, err := database.Open(dbPath)
	if err != nil {
		return context.PlubotCtx{}, errors.Wrap(err, "connecting to db")
	}

	ctx := context.PlubotCtx{
		Paths:   paths,
		Version: versionTag,
		DB:      db,
	}

	return ctx, nil
}

// Init initializes the plubot environment and returns a new plubot context.
// apiEndpoint is used when creating a new config file and overrides the
// configured endpoint when set (e.g., from ldflags during tests).
func Init(versionTag, apiEndpoint, dbPath string) (*context.PlubotCtx, error) {
	ctx, err := newBaseCtx(versionTag, dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "initializing a context")
	}

	if err := initConfigFile(ctx, apiEndpoint); err != nil {
		return nil, errors.Wrap(err, "generating the config file")
	}
	if err := loadEnv(ctx); err != nil {
		return nil, errors.Wrap(err, "loading the env file")
	}

	n, err := database.Migrate(ctx.DB)
	if err != nil {
		return nil, errors.Wrap(err, "running migration")
	}
	if n > 0 {
		log.Debug("applied %d migration(s)\n", n)
	}

	ctx, err = setupCtx(ctx, apiEndpoint)
	if err != nil {
		return nil, errors.Wrap(err, "setting up the context")
	}

	log.Debug("context: %+v\n", context.Redact(ctx))

	return &ctx, nil
}

// resolveAPIEndpoint picks the endpoint from, in order, the environment, the
// endpoint given to Init and the config file
func resolveAPIEndpoint(override string, cf config.Config) string {
	if v := os.Getenv(EnvAPIEndpoint); v != "" {
		return v
	}
	if override != "" {
		return override
	}
	if cf.APIEndpoint != "" {
		return cf.APIEndpoint
	}

	return DefaultAPIEndpoint
}

// setupCtx enriches the base context with values from the config file.
// This is called after files and database have been initialized.
func setupCtx(ctx context.PlubotCtx, apiEndpoint string) (context.PlubotCtx, error) {
	cf, err := config.Read(ctx)
	if err != nil {
		return ctx, errors.Wrap(err, "reading config")
	}

	settings, err := cf.Settings()
	if err != nil {
		return ctx, errors.Wrap(err, "invalid config")
	}

	logger, err := newLogger(ctx)
	if err != nil {
		return ctx, errors.Wrap(err, "building the diagnostic logger")
	}

	ret := context.PlubotCtx{
		Paths:       ctx.Paths,
		Version:     ctx.Version,
		DB:          ctx.DB,
		APIEndpoint: resolveAPIEndpoint(apiEndpoint, cf),
		Editor:      cf.Editor,
		Clock:       clock.New(),
		HTTPClient:  client.NewRateLimitedHTTPClient(settings.RequestTimeout),
		Logger:      logger,
		Settings:    settings,
	}

	return ret, nil
}

func newLogger(ctx context.PlubotCtx) (*zap.Logger, error) {
	p := filepath.Join(ctx.CacheDir(), consts.DiagnosticLogFilename)

	logger, err := log.NewDiagnostic(p)
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("version", ctx.Version)), nil
}

// loadEnv loads the optional env file next to the config file. Variables
// already set in the environment take precedence.
func loadEnv(ctx context.PlubotCtx) error {
	p := filepath.Join(ctx.ConfigDir(), consts.EnvFilename)

	ok, err := utils.FileExists(p)
	if err != nil {
		return errors.Wrapf(err, "checking if env file exists at %s", p)
	}
	if !ok {
		return nil
	}

	if err := godotenv.Load(p); err != nil {
		return errors.Wrapf(err, "parsing %s", p)
	}

	return nil
}

// initConfigFile populates a new config file if it does not exist yet
func initConfigFile(ctx context.PlubotCtx, apiEndpoint string) error {
	path := config.GetPath(ctx)
	ok, err := utils.FileExists(path)
	if err != nil {
		return errors.Wrap(err, "checking if config exists")
	}
	if ok {
		return nil
	}

	endpoint := apiEndpoint
	if endpoint == "" {
		endpoint = DefaultAPIEndpoint
	}

	cf := config.Default(endpoint, ui.GetEditorCommand())
	if err := config.Write(ctx, cf); err != nil {
		return errors.Wrap(err, "writing config")
	}

	return nil
}
