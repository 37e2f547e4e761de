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

// Package plubot defines the plubot data model shared by the repository,
// the backup store and the remote API
package plubot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// LocalIDPrefix prefixes ids of plubots created while the server was unreachable
	LocalIDPrefix = "local_"
	// ImportedIDPrefix prefixes ids assigned to imported copies
	ImportedIDPrefix = "imported-"
)

// FlowData is the node and edge graph of a plubot. Nodes and edges are
// opaque and passed through untouched.
type FlowData struct {
	Nodes []json.RawMessage `json:"nodes"`
	Edges []json.RawMessage `json:"edges"`
}

// NodeCount returns the number of nodes in the flow
func (f *FlowData) NodeCount() int {
	if f == nil {
		return 0
	}

	return len(f.Nodes)
}

// Clone returns a deep copy of the flow
func (f FlowData) Clone() FlowData {
	return FlowData{
		Nodes: cloneRaw(f.Nodes),
		Edges: cloneRaw(f.Edges),
	}
}

// Plubot is a user owned flow-graph definition together with the bookkeeping
// used to synchronize it with the server
type Plubot struct {
	ID             string    `json:"id,omitempty"`
	Name           string    `json:"name"`
	Tone           string    `json:"tone,omitempty"`
	Color          string    `json:"color,omitempty"`
	Purpose        string    `json:"purpose,omitempty"`
	InitialMessage string    `json:"initialMessage,omitempty"`
	Powers         []string  `json:"powers,omitempty"`
	FlowData       *FlowData `json:"flowData,omitempty"`

	LocalID         string     `json:"_localId,omitempty"`
	Timestamp       *time.Time `json:"_timestamp,omitempty"`
	OfflineCreated  bool       `json:"_offlineCreated,omitempty"`
	RecoveryPending bool       `json:"_recoveryPending,omitempty"`
	PendingChanges  bool       `json:"_pendingChanges,omitempty"`
	Synced          bool       `json:"_synced,omitempty"`
	SyncedAt        *time.Time `json:"_syncedAt,omitempty"`
	Imported        bool       `json:"_imported,omitempty"`
	ImportedAt      *time.Time `json:"_importedAt,omitempty"`
	// Rejections counts creations the server refused as invalid
	Rejections int `json:"_rejections,omitempty"`
}

// NewLocalID returns a placeholder id for a plubot created at the given time
func NewLocalID(t time.Time) string {
	return fmt.Sprintf("%s%d", LocalIDPrefix, t.UnixMilli())
}

// IsLocalID reports whether the id is a placeholder that the server has not
// assigned
func IsLocalID(id string) bool {
	return id == "" || strings.HasPrefix(id, LocalIDPrefix) || strings.HasPrefix(id, ImportedIDPrefix)
}

// NeedsSync reports whether the plubot carries local state the server has not seen
func (p Plubot) NeedsSync() bool {
	return p.OfflineCreated || p.RecoveryPending || p.PendingChanges
}

// Clone returns a deep copy of the plubot
func (p Plubot) Clone() Plubot {
	ret := p

	if p.Powers != nil {
		ret.Powers = append([]string(nil), p.Powers...)
	}
	if p.FlowData != nil {
		fd := p.FlowData.Clone()
		ret.FlowData = &fd
	}
	ret.Timestamp = cloneTime(p.Timestamp)
	ret.SyncedAt = cloneTime(p.SyncedAt)
	ret.ImportedAt = cloneTime(p.ImportedAt)

	return ret
}

// Sanitize returns a copy of the plubot without any sync bookkeeping. It is
// what gets exported and what gets sent to the server.
func (p Plubot) Sanitize() Plubot {
	ret := p.Clone()

	ret.LocalID = ""
	ret.Timestamp = nil
	ret.OfflineCreated = false
	ret.RecoveryPending = false
	ret.PendingChanges = false
	ret.Synced = false
	ret.SyncedAt = nil
	ret.Imported = false
	ret.ImportedAt = nil
	ret.Rejections = 0

	return ret
}

func cloneRaw(in []json.RawMessage) []json.RawMessage {
	if in == nil {
		return nil
	}

	ret := make([]json.RawMessage, len(in))
	for i, m := range in {
		ret[i] = append(json.RawMessage(nil), m...)
	}

	return ret
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t
	return &v
}
