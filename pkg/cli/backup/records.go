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
	"time"

	"github.com/plubot/plubot/pkg/cli/consts"
	"github.com/plubot/plubot/pkg/cli/plubot"
)

// FailedCreation is a creation that could not be salvaged
type FailedCreation struct {
	Data      plubot.Plubot `json:"data"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error"`
}

// EmergencySnapshot is the last known non-empty flow of a plubot. Nodes and
// edges are stored at the top level of the value.
type EmergencySnapshot struct {
	plubot.FlowData
	Timestamp time.Time `json:"timestamp"`
}

// LocalPlubots returns the creation backup records
func (s *Store) LocalPlubots() []plubot.Plubot {
	var ret []plubot.Plubot
	s.Get(consts.BackupLocalPlubots, &ret)
	return ret
}

// PendingLocalPlubots returns the creation backup records the server has not
// confirmed
func (s *Store) PendingLocalPlubots() []plubot.Plubot {
	var ret []plubot.Plubot
	for _, p := range s.LocalPlubots() {
		if !p.Synced {
			ret = append(ret, p)
		}
	}

	return ret
}

// AppendLocalPlubot appends a creation backup record
func (s *Store) AppendLocalPlubot(p plubot.Plubot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.LocalPlubots()
	records = append(records, p)

	return s.Set(consts.BackupLocalPlubots, records)
}

// MarkLocalSynced replaces the creation backup record known by oldID, either
// as its local id or its id, with the confirmed plubot. It reports whether a
// record was found.
func (s *Store) MarkLocalSynced(oldID string, confirmed plubot.Plubot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.LocalPlubots()

	found := false
	for i, r := range records {
		if r.LocalID != oldID && r.ID != oldID {
			continue
		}

		rec := confirmed.Clone()
		rec.LocalID = oldID
		rec.Synced = true
		if rec.Timestamp == nil {
			rec.Timestamp = r.Timestamp
		}
		records[i] = rec
		found = true
	}

	if !found {
		return false, nil
	}

	return true, s.Set(consts.BackupLocalPlubots, records)
}

// RemoveLocalPlubot drops the creation backup record with the given local id
func (s *Store) RemoveLocalPlubot(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.LocalPlubots()
	kept := records[:0]
	for _, r := range records {
		if r.LocalID != localID {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(records) {
		return nil
	}

	return s.Set(consts.BackupLocalPlubots, kept)
}

// UserPlubots returns the mirrored plubot repository
func (s *Store) UserPlubots() []plubot.Plubot {
	ret, _ := s.StoredUserPlubots()
	return ret
}

// StoredUserPlubots returns the mirrored plubot repository and reports
// whether a readable list is stored
func (s *Store) StoredUserPlubots() ([]plubot.Plubot, bool) {
	var ret []plubot.Plubot
	ok := s.Get(consts.BackupUserPlubots, &ret)
	return ret, ok
}

// UpdateLocalPlubot applies fn to the creation backup record with the given
// local id and reports whether the record was found
func (s *Store) UpdateLocalPlubot(localID string, fn func(p *plubot.Plubot)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.LocalPlubots()
	for i := range records {
		if records[i].LocalID == localID {
			fn(&records[i])
			return true, s.Set(consts.BackupLocalPlubots, records)
		}
	}

	return false, nil
}

// SaveUserPlubots mirrors the plubot repository
func (s *Store) SaveUserPlubots(plubots []plubot.Plubot) error {
	return s.Set(consts.BackupUserPlubots, plubots)
}

// UpdateUserPlubots applies fn to the mirrored repository as currently
// stored and saves what fn returns. found is false when nothing readable is
// stored. The read and the write happen in one transaction so that entries
// saved by another process in between are not overwritten.
func (s *Store) UpdateUserPlubots(fn func(stored []plubot.Plubot, found bool) ([]plubot.Plubot, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(tx *Store) error {
		var stored []plubot.Plubot
		found := tx.Get(consts.BackupUserPlubots, &stored)

		next, err := fn(stored, found)
		if err != nil {
			return err
		}

		return tx.Set(consts.BackupUserPlubots, next)
	})
}

// FailedCreations returns the creations that could not be salvaged
func (s *Store) FailedCreations() []FailedCreation {
	var ret []FailedCreation
	s.Get(consts.BackupFailedPlubots, &ret)
	return ret
}

// AppendFailedCreation records a creation that could not be salvaged
func (s *Store) AppendFailedCreation(f FailedCreation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := s.FailedCreations()
	failed = append(failed, f)

	return s.Set(consts.BackupFailedPlubots, failed)
}

// EmergencyBackup returns the emergency snapshot of the plubot. Snapshots
// without nodes are reported as missing.
func (s *Store) EmergencyBackup(plubotID string) (EmergencySnapshot, bool) {
	var ret EmergencySnapshot
	if !s.Get(consts.EmergencyBackupKey(plubotID), &ret) {
		return ret, false
	}

	return ret, ret.FlowData.NodeCount() > 0
}

// SaveEmergencyBackup stores the flow as the emergency snapshot of the plubot
func (s *Store) SaveEmergencyBackup(plubotID string, flow plubot.FlowData) error {
	snap := EmergencySnapshot{
		FlowData:  flow,
		Timestamp: s.clock.Now().UTC(),
	}

	return s.Set(consts.EmergencyBackupKey(plubotID), snap)
}

// RemoveEmergencyBackup removes the emergency snapshot of the plubot
func (s *Store) RemoveEmergencyBackup(plubotID string) error {
	return s.Remove(consts.EmergencyBackupKey(plubotID))
}

// MoveEmergencyBackup re-keys the emergency snapshot of a plubot whose id
// changed. It is a no-op when there is no snapshot.
func (s *Store) MoveEmergencyBackup(oldID, newID string) error {
	var snap EmergencySnapshot
	if !s.Get(consts.EmergencyBackupKey(oldID), &snap) {
		return nil
	}

	if err := s.Set(consts.EmergencyBackupKey(newID), snap); err != nil {
		return err
	}

	return s.RemoveEmergencyBackup(oldID)
}
