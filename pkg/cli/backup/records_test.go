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

package backup

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/assert"
	"github.com/plubot/plubot/pkg/cli/consts"
	"github.com/plubot/plubot/pkg/cli/database"
	"github.com/plubot/plubot/pkg/cli/plubot"
)

func TestMarkLocalSynced(t *testing.T) {
	s, _, c := newTestStore(t, DefaultOptions())
	ts := c.Now()

	if err := s.AppendLocalPlubot(plubot.Plubot{ID: "local_1", LocalID: "local_1", Name: "A", Timestamp: &ts}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendLocalPlubot(plubot.Plubot{ID: "local_2", LocalID: "local_2", Name: "B", Timestamp: &ts}); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, len(s.PendingLocalPlubots()), 2, "both records should be pending")

	ok, err := s.MarkLocalSynced("local_1", plubot.Plubot{ID: "42", Name: "A"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, ok, true, "record should be found")

	records := s.LocalPlubots()
	assert.Equal(t, len(records), 2, "record count should not change")
	assert.Equal(t, records[0].ID, "42", "id should be the server id")
	assert.Equal(t, records[0].LocalID, "local_1", "local id should be kept")
	assert.Equal(t, records[0].Synced, true, "record should be synced")
	assert.Equal(t, records[0].Timestamp.Equal(ts), true, "timestamp should be kept")

	pending := s.PendingLocalPlubots()
	assert.Equal(t, len(pending), 1, "one record should be pending")
	assert.Equal(t, pending[0].ID, "local_2", "pending record mismatch")

	ok, err = s.MarkLocalSynced("local_9", plubot.Plubot{ID: "43"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, ok, false, "unknown record should not be found")
}

func TestRemoveLocalPlubot(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())

	for _, id := range []string{"local_1", "local_2"} {
		if err := s.AppendLocalPlubot(plubot.Plubot{ID: id, LocalID: id}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.RemoveLocalPlubot("local_1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveLocalPlubot("local_9"); err != nil {
		t.Fatal(err)
	}

	records := s.LocalPlubots()
	assert.Equal(t, len(records), 1, "record count mismatch")
	assert.Equal(t, records[0].LocalID, "local_2", "remaining record mismatch")
}

func TestFailedCreations(t *testing.T) {
	s, _, c := newTestStore(t, DefaultOptions())

	err := s.AppendFailedCreation(FailedCreation{
		Data:      plubot.Plubot{Name: ""},
		Timestamp: c.Now(),
		Error:     "name is required",
	})
	if err != nil {
		t.Fatal(err)
	}

	failed := s.FailedCreations()
	assert.Equal(t, len(failed), 1, "failed count mismatch")
	assert.Equal(t, failed[0].Error, "name is required", "error mismatch")
}

func TestEmergencyBackup(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())

	_, ok := s.EmergencyBackup("p1")
	assert.Equal(t, ok, false, "no snapshot yet")

	if err := s.SaveEmergencyBackup("p1", plubot.FlowData{}); err != nil {
		t.Fatal(err)
	}
	_, ok = s.EmergencyBackup("p1")
	assert.Equal(t, ok, false, "empty snapshot should be reported as missing")

	if err := s.SaveEmergencyBackup("p1", flowWithNodes(3)); err != nil {
		t.Fatal(err)
	}
	snap, ok := s.EmergencyBackup("p1")
	assert.Equal(t, ok, true, "snapshot should exist")
	assert.Equal(t, snap.FlowData.NodeCount(), 3, "node count mismatch")

	if err := s.MoveEmergencyBackup("p1", "42"); err != nil {
		t.Fatal(err)
	}
	_, ok = s.EmergencyBackup("p1")
	assert.Equal(t, ok, false, "old key should be gone")
	snap, ok = s.EmergencyBackup("42")
	assert.Equal(t, ok, true, "snapshot should move to the new key")
	assert.Equal(t, snap.FlowData.NodeCount(), 3, "moved node count mismatch")

	if err := s.RemoveEmergencyBackup("42"); err != nil {
		t.Fatal(err)
	}
	_, ok = s.EmergencyBackup("42")
	assert.Equal(t, ok, false, "snapshot should be removed")
}

func TestEmergencyBackup_Layout(t *testing.T) {
	s, db, _ := newTestStore(t, DefaultOptions())

	if err := s.SaveEmergencyBackup("p1", flowWithNodes(1)); err != nil {
		t.Fatal(err)
	}

	var raw string
	database.MustScan(t, "reading raw snapshot", db.QueryRow("SELECT value FROM backups WHERE key = ?", consts.EmergencyBackupKey("p1")), &raw)

	var value map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		t.Fatal(err)
	}
	_, hasNodes := value["nodes"]
	_, hasEdges := value["edges"]
	assert.Equal(t, hasNodes, true, "nodes should be at the top level")
	assert.Equal(t, hasEdges, true, "edges should be at the top level")
}

func TestUpdateUserPlubots(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())
	if err := s.SaveUserPlubots([]plubot.Plubot{{ID: "1"}}); err != nil {
		t.Fatal(err)
	}

	err := s.UpdateUserPlubots(func(stored []plubot.Plubot, found bool) ([]plubot.Plubot, error) {
		assert.Equal(t, found, true, "stored list should be found")
		return append(stored, plubot.Plubot{ID: "2"}), nil
	})
	assert.Equal(t, err, nil, "update error")
	assert.Equal(t, len(s.UserPlubots()), 2, "appended entry should be saved")

	errBoom := errors.New("boom")
	err = s.UpdateUserPlubots(func(stored []plubot.Plubot, found bool) ([]plubot.Plubot, error) {
		return nil, errBoom
	})
	assert.Equal(t, err, errBoom, "fn error should be returned as is")
	assert.Equal(t, len(s.UserPlubots()), 2, "nothing should be written when fn fails")
}

func TestUpdateUserPlubots_NothingStored(t *testing.T) {
	s, _, _ := newTestStore(t, DefaultOptions())

	err := s.UpdateUserPlubots(func(stored []plubot.Plubot, found bool) ([]plubot.Plubot, error) {
		assert.Equal(t, found, false, "nothing should be found")
		assert.Equal(t, len(stored), 0, "stored list should be empty")
		return []plubot.Plubot{{ID: "1"}}, nil
	})

	assert.Equal(t, err, nil, "update error")
	assert.Equal(t, len(s.UserPlubots()), 1, "list should be saved")
}
