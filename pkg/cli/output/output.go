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

// Package output provides functions to print informations on the terminal
// in a consistent manner
package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/plubot/plubot/pkg/cli/backup"
	"github.com/plubot/plubot/pkg/cli/log"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"github.com/plubot/plubot/pkg/cli/syncer"
)

const timeLayout = "Jan 2, 2006 3:04pm (MST)"

// Status returns a short description of the sync state of a plubot
func Status(p plubot.Plubot) string {
	var flags []string
	if p.OfflineCreated {
		flags = append(flags, "offline")
	}
	if p.RecoveryPending {
		flags = append(flags, "recovery pending")
	}
	if p.PendingChanges {
		flags = append(flags, "modified")
	}
	if p.Imported {
		flags = append(flags, "imported")
	}

	if len(flags) == 0 {
		if p.Synced {
			return "synced"
		}
		return "-"
	}

	return strings.Join(flags, ", ")
}

// PlubotLine prints a one-line summary of a plubot
func PlubotLine(p plubot.Plubot) {
	status := Status(p)
	if p.NeedsSync() {
		status = log.ColorYellow.Sprint(status)
	} else {
		status = log.ColorGray.Sprint(status)
	}

	log.Plainf("%s %s (%s)\n", log.ColorBlue.Sprint(p.ID), p.Name, status)
}

// PlubotInfo prints a plubot information
func PlubotInfo(p plubot.Plubot) {
	log.Infof("name: %s\n", p.Name)
	log.Infof("id: %s\n", p.ID)
	if p.LocalID != "" && p.LocalID != p.ID {
		log.Infof("local id: %s\n", p.LocalID)
	}
	if p.Tone != "" {
		log.Infof("tone: %s\n", p.Tone)
	}
	if p.Purpose != "" {
		log.Infof("purpose: %s\n", p.Purpose)
	}
	if len(p.Powers) > 0 {
		log.Infof("powers: %s\n", strings.Join(p.Powers, ", "))
	}
	log.Infof("nodes: %d\n", p.FlowData.NodeCount())
	log.Infof("status: %s\n", Status(p))
	if p.SyncedAt != nil {
		log.Infof("synced at: %s\n", p.SyncedAt.Local().Format(timeLayout))
	}
}

// SyncState prints the state of the sync engine
func SyncState(s syncer.State, now time.Time) {
	log.Infof("status: %s\n", s.Status)
	log.Infof("last sync: %s\n", syncer.FormatLastSync(s.LastSync, now))
	for _, e := range s.SyncErrors {
		log.Warnf("%s\n", e)
	}
}

// FailedCreation prints a creation that could not be salvaged
func FailedCreation(f backup.FailedCreation) {
	log.Errorf("%s\n", f.Data.Name)
	log.Plainf("  failed at: %s\n", f.Timestamp.Local().Format(timeLayout))
	log.Plainf("  error: %s\n", f.Error)
	if n := f.Data.FlowData.NodeCount(); n > 0 {
		log.Plainf("  nodes: %d\n", n)
	}
}

// FormatFailedCreation returns the failed creation as a single line
func FormatFailedCreation(f backup.FailedCreation) string {
	return fmt.Sprintf("%s %s: %s", f.Timestamp.UTC().Format(time.RFC3339), f.Data.Name, f.Error)
}
