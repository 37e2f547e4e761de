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

package syncer

import (
	"fmt"
	"time"
)

// Status is the outcome of the latest sync pass
type Status string

const (
	// StatusIdle means no pass has run yet
	StatusIdle Status = "idle"
	// StatusSyncing means a pass is in flight
	StatusSyncing Status = "syncing"
	// StatusSuccess means every plubot of the latest pass was reconciled
	StatusSuccess Status = "success"
	// StatusError means at least one plubot of the latest pass failed
	StatusError Status = "error"
)

// MaxSyncErrors is the number of error messages kept in the state
const MaxSyncErrors = 50

// State is the synchronization state shown to observers
type State struct {
	IsSyncing   bool
	PendingSync bool
	LastSync    *time.Time
	// SyncErrors holds the latest error messages, most recent first
	SyncErrors []string
	Status     Status
}

func (s State) clone() State {
	ret := s
	if s.LastSync != nil {
		t := *s.LastSync
		ret.LastSync = &t
	}
	ret.SyncErrors = append([]string(nil), s.SyncErrors...)

	return ret
}

// prependErrors puts the new messages, in the order given, ahead of the
// existing ones and drops the oldest beyond MaxSyncErrors
func prependErrors(existing, msgs []string) []string {
	ret := make([]string, 0, len(existing)+len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		ret = append(ret, msgs[i])
	}
	ret = append(ret, existing...)

	if len(ret) > MaxSyncErrors {
		ret = ret[:MaxSyncErrors]
	}

	return ret
}

// FormatLastSync describes when the last pass ran relative to now
func FormatLastSync(last *time.Time, now time.Time) string {
	if last == nil || last.IsZero() {
		return "never"
	}

	d := now.Sub(*last)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", m)
	case d < 24*time.Hour:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	}

	return last.Local().Format("2006-01-02 15:04")
}
