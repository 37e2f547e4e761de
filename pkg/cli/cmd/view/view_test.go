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

package view

import (
	"testing"

	"github.com/plubot/plubot/pkg/assert"
	"github.com/plubot/plubot/pkg/cli/plubot"
)

func TestFilter(t *testing.T) {
	list := []plubot.Plubot{
		{ID: "101", Synced: true},
		{ID: "local_1", OfflineCreated: true},
		{ID: "102", PendingChanges: true},
	}

	assert.Equal(t, len(filter(list, false)), 3, "all plubots expected")

	pending := filter(list, true)
	assert.Equal(t, len(pending), 2, "pending count mismatch")
	assert.Equal(t, pending[0].ID, "local_1", "first pending mismatch")
	assert.Equal(t, pending[1].ID, "102", "second pending mismatch")
}
