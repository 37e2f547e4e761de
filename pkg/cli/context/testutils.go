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

package context

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/database"
	"github.com/plubot/plubot/pkg/clock"
	"go.uber.org/zap"
)

// InitTestCtx initializes a test context with an in-memory database, a mock
// clock and a temporary directory for all paths
func InitTestCtx(t *testing.T) PlubotCtx {
	tmpDir := t.TempDir()
	paths := Paths{
		Home:   tmpDir,
		Cache:  tmpDir,
		Config: tmpDir,
		Data:   tmpDir,
	}

	if err := InitPlubotDirs(paths); err != nil {
		t.Fatal(errors.Wrap(err, "creating test directories"))
	}

	settings := DefaultSettings()
	settings.RetryBackoff = 0
	settings.FollowUpDelay = 0

	return PlubotCtx{
		DB:       database.InitTestMemoryDB(t),
		Paths:    paths,
		Clock:    clock.NewMock(),
		Logger:   zap.NewNop(),
		Settings: settings,
		Version:  "test",
	}
}
