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

// Package context defines the plubot runtime context
package context

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/plubot/plubot/pkg/cli/backup"
	"github.com/plubot/plubot/pkg/cli/consts"
	"github.com/plubot/plubot/pkg/cli/database"
	"github.com/plubot/plubot/pkg/clock"
	"go.uber.org/zap"
)

// Paths contain directory definitions
type Paths struct {
	Home   string
	Config string
	Data   string
	Cache  string
}

// Settings hold the tunables read from the config file
type Settings struct {
	RequestTimeout time.Duration
	SyncInterval   time.Duration
	FollowUpDelay  time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
	Backup         backup.Options
}

// DefaultSettings returns the settings used when the config file omits them
func DefaultSettings() Settings {
	return Settings{
		RequestTimeout: 30 * time.Second,
		SyncInterval:   5 * time.Minute,
		FollowUpDelay:  time.Second,
		RetryAttempts:  3,
		RetryBackoff:   time.Second,
		Backup:         backup.DefaultOptions(),
	}
}

// PlubotCtx is a context holding the information of the current runtime
type PlubotCtx struct {
	Paths       Paths
	APIEndpoint string
	Version     string
	Editor      string
	DB          *database.DB
	SessionKey  string
	Clock       clock.Clock
	HTTPClient  *http.Client
	Logger      *zap.Logger
	Settings    Settings
}

// ConfigDir returns the directory holding the config file
func (ctx PlubotCtx) ConfigDir() string {
	return filepath.Join(ctx.Paths.Config, consts.PlubotDirName)
}

// CacheDir returns the directory holding non-essential files such as the
// diagnostic log
func (ctx PlubotCtx) CacheDir() string {
	return filepath.Join(ctx.Paths.Cache, consts.PlubotDirName)
}

// Redact replaces private information from the context with a set of
// placeholder values.
func Redact(ctx PlubotCtx) PlubotCtx {
	var sessionKey string
	if ctx.SessionKey != "" {
		sessionKey = "1"
	} else {
		sessionKey = "0"
	}
	ctx.SessionKey = sessionKey

	return ctx
}
