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
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/consts"
	"github.com/plubot/plubot/pkg/cli/utils"
)

// InitPlubotDirs creates the plubot directories if they don't already exist.
func InitPlubotDirs(paths Paths) error {
	dirs := []struct {
		base string
		name string
	}{
		{base: paths.Config, name: "config"},
		{base: paths.Data, name: "data"},
		{base: paths.Cache, name: "cache"},
	}

	for _, d := range dirs {
		if d.base == "" {
			continue
		}

		if err := utils.EnsureDir(filepath.Join(d.base, consts.PlubotDirName)); err != nil {
			return errors.Wrapf(err, "initializing %s dir", d.name)
		}
	}

	return nil
}
