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

package notify

import (
	"testing"

	"github.com/plubot/plubot/pkg/assert"
)

func TestConstructors(t *testing.T) {
	testCases := []struct {
		n     Notification
		level Level
	}{
		{n: Info("a"), level: LevelInfo},
		{n: Success("a"), level: LevelSuccess},
		{n: Warning("a"), level: LevelWarning},
		{n: Error("a"), level: LevelError},
	}

	for _, tc := range testCases {
		t.Run(string(tc.level), func(t *testing.T) {
			assert.Equal(t, tc.n.Level, tc.level, "level mismatch")
			assert.Equal(t, tc.n.TTL, DefaultTTL, "ttl mismatch")
			assert.Equal(t, tc.n.Message, "a", "message mismatch")
		})
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	var n Notifier = &r

	n.Notify(Info("one"))
	n.Notify(Error("two"))

	assert.DeepEqual(t, r.Levels(), []Level{LevelInfo, LevelError}, "levels mismatch")
	assert.Equal(t, r.All()[1].Message, "two", "message mismatch")
}
