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

package recover

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/plubot/plubot/pkg/assert"
	"github.com/plubot/plubot/pkg/cli/backup"
	"github.com/plubot/plubot/pkg/cli/database"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"github.com/plubot/plubot/pkg/cli/recovery"
	"github.com/plubot/plubot/pkg/cli/repository"
	"github.com/plubot/plubot/pkg/cli/ui"
	"github.com/plubot/plubot/pkg/clock"
	"go.uber.org/zap"
)

func flowWithNodes(n int) plubot.FlowData {
	ret := plubot.FlowData{Nodes: []json.RawMessage{}, Edges: []json.RawMessage{}}
	for i := 0; i < n; i++ {
		ret.Nodes = append(ret.Nodes, json.RawMessage(fmt.Sprintf(`{"id":"n%d"}`, i)))
	}

	return ret
}

func newSession(t *testing.T, restore bool) (*session, *repository.Repository, *backup.Store) {
	db := database.InitTestMemoryDB(t)
	c := clock.NewMock()
	c.SetNow(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))
	store := backup.New(db, c, zap.NewNop(), backup.DefaultOptions())
	repo := repository.New(store, zap.NewNop())

	if err := repo.Add(plubot.Plubot{ID: "101", Name: "Ventas"}); err != nil {
		t.Fatal(err)
	}

	s := &session{
		id:   "101",
		path: filepath.Join(t.TempDir(), "flow.json"),
		repo: repo,
		detector: recovery.New(recovery.Options{
			Backup:   store,
			PlubotID: "101",
		}),
		ask: func(recovery.Event) (bool, error) {
			return restore, nil
		},
	}

	return s, repo, store
}

func nodeCount(t *testing.T, repo *repository.Repository) int {
	p, ok := repo.Get("101")
	if !ok {
		t.Fatal("plubot not found")
	}

	return p.FlowData.NodeCount()
}

func TestSession_Save(t *testing.T) {
	s, repo, _ := newSession(t, true)

	if err := s.handle(flowWithNodes(3)); err != nil {
		t.Fatal(err)
	}

	p, _ := repo.Get("101")
	assert.Equal(t, p.FlowData.NodeCount(), 3, "node count mismatch")
	assert.Equal(t, p.PendingChanges, true, "flow changes should be pending")
}

func TestSession_Restore(t *testing.T) {
	s, repo, _ := newSession(t, true)

	if err := s.handle(flowWithNodes(4)); err != nil {
		t.Fatal(err)
	}
	if err := s.handle(flowWithNodes(0)); err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, nodeCount(t, repo), 4, "repository should keep the restored flow")

	written, err := s.read()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, written.NodeCount(), 4, "the file should be rewritten with the restored flow")
}

func TestSession_Dismiss(t *testing.T) {
	s, repo, store := newSession(t, false)

	if err := s.handle(flowWithNodes(4)); err != nil {
		t.Fatal(err)
	}
	if err := s.handle(flowWithNodes(0)); err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, nodeCount(t, repo), 0, "the empty flow should be saved")

	_, ok := store.EmergencyBackup("101")
	assert.Equal(t, ok, false, "the snapshot should be discarded")
}

func TestSession_HandleFile_Invalid(t *testing.T) {
	s, repo, _ := newSession(t, true)

	if err := s.handle(flowWithNodes(2)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.path, []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}

	s.handleFile()

	assert.Equal(t, nodeCount(t, repo), 2, "invalid content should be ignored")
}

func TestSession_Write(t *testing.T) {
	s, _, _ := newSession(t, true)

	if err := s.write(flowWithNodes(2)); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatal(err)
	}

	flow, err := ui.DecodeFlow(string(b))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, flow.NodeCount(), 2, "node count mismatch")
}
