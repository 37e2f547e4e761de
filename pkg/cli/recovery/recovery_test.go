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

package recovery

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/plubot/plubot/pkg/assert"
	"github.com/plubot/plubot/pkg/cli/backup"
	"github.com/plubot/plubot/pkg/cli/database"
	"github.com/plubot/plubot/pkg/cli/notify"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"github.com/plubot/plubot/pkg/clock"
	"go.uber.org/zap"
)

func newDetector(t *testing.T) (*Detector, *backup.Store, *notify.Recorder) {
	db := database.InitTestMemoryDB(t)
	c := clock.NewMock()
	c.SetNow(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))
	store := backup.New(db, c, zap.NewNop(), backup.DefaultOptions())
	n := &notify.Recorder{}

	d := New(Options{
		Backup:   store,
		PlubotID: "101",
		Notifier: n,
		Logger:   zap.NewNop(),
	})

	return d, store, n
}

func flowWithNodes(n int) plubot.FlowData {
	ret := plubot.FlowData{Edges: []json.RawMessage{}}
	for i := 0; i < n; i++ {
		ret.Nodes = append(ret.Nodes, json.RawMessage(fmt.Sprintf(`{"id":"n%d"}`, i)))
	}

	return ret
}

func TestObserve_Initialize(t *testing.T) {
	d, _, _ := newDetector(t)

	assert.Equal(t, d.Observe(0).Kind, EventNone, "empty graph should not initialize")
	assert.Equal(t, d.State(), StateUninitialized, "state mismatch")

	assert.Equal(t, d.Observe(3).Kind, EventInitialized, "event mismatch")
	assert.Equal(t, d.State(), StateStable, "state mismatch")

	assert.Equal(t, d.Observe(4).Kind, EventNone, "growth should be ignored")
}

func TestObserve_LossWithBackup(t *testing.T) {
	d, store, n := newDetector(t)

	if _, err := d.Track(flowWithNodes(5)); err != nil {
		t.Fatal(err)
	}

	ev, err := d.Track(flowWithNodes(0))
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, ev.Kind, EventRecoveryOffered, "event mismatch")
	assert.Equal(t, ev.Backup.NodeCount(), 5, "offered snapshot mismatch")
	assert.Equal(t, d.State(), StateRecoveryOffered, "state mismatch")

	all := n.All()
	assert.Equal(t, len(all), 1, "notification count mismatch")
	assert.Equal(t, all[0].TTL, notify.Persistent, "recovery prompt should persist")

	// no second prompt while one is open
	assert.Equal(t, d.Observe(0).Kind, EventNone, "event mismatch")

	flow, err := d.Recover()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, flow.NodeCount(), 5, "recovered node count mismatch")
	assert.Equal(t, d.State(), StateStable, "state mismatch")

	_, ok := store.EmergencyBackup("101")
	assert.Equal(t, ok, true, "snapshot should be kept after recovery")
}

func TestObserve_LossWithoutBackup(t *testing.T) {
	d, _, n := newDetector(t)

	d.Observe(5)
	ev := d.Observe(0)

	assert.Equal(t, ev.Kind, EventLostNoBackup, "event mismatch")
	assert.Equal(t, ev.Backup == nil, true, "nothing should be offered")
	assert.Equal(t, d.State(), StateStable, "state mismatch")
	assert.Equal(t, len(n.All()), 0, "no prompt expected")

	_, err := d.Recover()
	assert.Equal(t, err, ErrNoPrompt, "error mismatch")
}

func TestObserve_ExplicitClear(t *testing.T) {
	d, _, _ := newDetector(t)

	if _, err := d.Track(flowWithNodes(5)); err != nil {
		t.Fatal(err)
	}

	d.MarkExplicitClear()
	assert.Equal(t, d.Observe(0).Kind, EventNone, "explicit clear should not be a loss")

	// the clear only covers one transition
	d.Observe(2)
	assert.Equal(t, d.Observe(0).Kind, EventRecoveryOffered, "event mismatch")
}

func TestDismiss(t *testing.T) {
	d, store, _ := newDetector(t)

	if _, err := d.Track(flowWithNodes(5)); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, d.Observe(0).Kind, EventRecoveryOffered, "event mismatch")

	if err := d.Dismiss(); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, d.State(), StateStable, "state mismatch")

	_, ok := store.EmergencyBackup("101")
	assert.Equal(t, ok, false, "snapshot should be removed")

	assert.Equal(t, d.Observe(0).Kind, EventNone, "dismissed prompt should not fire again")
	assert.Equal(t, d.Dismiss(), ErrNoPrompt, "error mismatch")
}

func TestSnapshot(t *testing.T) {
	d, store, _ := newDetector(t)

	if err := d.Snapshot(flowWithNodes(0)); err != nil {
		t.Fatal(err)
	}
	_, ok := store.EmergencyBackup("101")
	assert.Equal(t, ok, false, "empty graphs should not be saved")

	if err := d.Snapshot(flowWithNodes(2)); err != nil {
		t.Fatal(err)
	}
	snap, ok := store.EmergencyBackup("101")
	assert.Equal(t, ok, true, "snapshot should be saved")
	assert.Equal(t, snap.NodeCount(), 2, "snapshot node count mismatch")

	d.Observe(2)
	d.Observe(0)
	if err := d.Snapshot(flowWithNodes(1)); err != nil {
		t.Fatal(err)
	}
	snap, _ = store.EmergencyBackup("101")
	assert.Equal(t, snap.NodeCount(), 2, "offered snapshot should not be overwritten")
}
