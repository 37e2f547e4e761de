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

// Package recovery detects the unexpected loss of a flow graph and offers to
// restore it from the emergency snapshot
package recovery

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/backup"
	"github.com/plubot/plubot/pkg/cli/notify"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"go.uber.org/zap"
)

// ErrNoPrompt is returned when a prompt is answered while none is open
var ErrNoPrompt = errors.New("no recovery prompt is open")

// State is the state of a detector
type State int

const (
	// StateUninitialized means no nodes have been observed yet
	StateUninitialized State = iota
	// StateStable means the graph is being observed
	StateStable
	// StateRecoveryOffered means a recovery prompt is open
	StateRecoveryOffered
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStable:
		return "stable"
	case StateRecoveryOffered:
		return "recovery-offered"
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// EventKind is what an observation resulted in
type EventKind int

const (
	// EventNone means nothing noteworthy happened
	EventNone EventKind = iota
	// EventInitialized means the first nodes were observed
	EventInitialized
	// EventRecoveryOffered means the graph was lost and a snapshot exists
	EventRecoveryOffered
	// EventLostNoBackup means the graph was lost and nothing can be restored
	EventLostNoBackup
)

// Event is the outcome of an observation
type Event struct {
	Kind   EventKind
	Backup *backup.EmergencySnapshot
}

// Options holds the collaborators of a detector
type Options struct {
	Backup   *backup.Store
	PlubotID string
	Notifier notify.Notifier
	Logger   *zap.Logger
}

// Detector watches the node count of one plubot's live graph
type Detector struct {
	mu       sync.Mutex
	store    *backup.Store
	plubotID string
	notifier notify.Notifier
	logger   *zap.Logger

	state         State
	last          int
	explicitClear bool
	suppress      bool
	offered       *backup.EmergencySnapshot
}

// New returns a detector for the plubot
func New(opts Options) *Detector {
	d := &Detector{
		store:    opts.Backup,
		plubotID: opts.PlubotID,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
	if d.notifier == nil {
		d.notifier = notify.Nop{}
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.With(zap.String("plubot", opts.PlubotID))

	return d
}

// State returns the current state
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

// MarkExplicitClear records that the user emptied the graph on purpose. The
// next drop to zero nodes is not treated as a loss.
func (d *Detector) MarkExplicitClear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.explicitClear = true
}

// Observe feeds the current node count to the detector
func (d *Detector) Observe(count int) Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.last
	d.last = count

	if d.suppress {
		d.suppress = false
		return Event{}
	}

	switch d.state {
	case StateUninitialized:
		if count > 0 {
			d.state = StateStable
			return Event{Kind: EventInitialized}
		}
		return Event{}
	case StateRecoveryOffered:
		return Event{}
	}

	cleared := d.explicitClear
	d.explicitClear = false

	if prev == 0 || count > 0 || cleared {
		return Event{}
	}

	return d.lost(prev)
}

func (d *Detector) lost(prev int) Event {
	snap, ok := d.store.EmergencyBackup(d.plubotID)
	if !ok {
		d.logger.Warn("flow lost without an emergency snapshot", zap.Int("previous_nodes", prev))
		return Event{Kind: EventLostNoBackup}
	}

	d.state = StateRecoveryOffered
	d.offered = &snap
	d.logger.Warn("flow lost, offering recovery", zap.Int("previous_nodes", prev), zap.Int("snapshot_nodes", snap.NodeCount()))

	d.notifier.Notify(notify.Notification{
		Level:   notify.LevelWarning,
		Message: fmt.Sprintf("The flow lost all of its nodes. A snapshot with %d node(s) from %s can be restored.", snap.NodeCount(), snap.Timestamp.Local().Format("2006-01-02 15:04")),
		TTL:     notify.Persistent,
	})

	ret := snap
	ret.FlowData = snap.FlowData.Clone()
	return Event{Kind: EventRecoveryOffered, Backup: &ret}
}

// Recover answers the open prompt by returning the snapshot. The caller
// applies it to the live graph.
func (d *Detector) Recover() (plubot.FlowData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateRecoveryOffered {
		return plubot.FlowData{}, ErrNoPrompt
	}

	flow := d.offered.FlowData.Clone()
	d.offered = nil
	d.state = StateStable
	d.last = flow.NodeCount()

	d.logger.Info("flow recovered", zap.Int("nodes", d.last))
	d.notifier.Notify(notify.Success(fmt.Sprintf("Restored %d node(s).", d.last)))

	return flow, nil
}

// Dismiss answers the open prompt by discarding the snapshot. The graph stays
// empty and the next observation is ignored.
func (d *Detector) Dismiss() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateRecoveryOffered {
		return ErrNoPrompt
	}

	d.offered = nil
	d.state = StateStable
	d.suppress = true

	if err := d.store.RemoveEmergencyBackup(d.plubotID); err != nil {
		return errors.Wrap(err, "removing emergency snapshot")
	}

	return nil
}

// Snapshot saves the live graph as the emergency snapshot. Empty graphs are
// not saved, and neither is anything while a prompt is open.
func (d *Detector) Snapshot(flow plubot.FlowData) error {
	d.mu.Lock()
	offered := d.state == StateRecoveryOffered
	d.mu.Unlock()

	if offered || flow.NodeCount() == 0 {
		return nil
	}

	if err := d.store.SaveEmergencyBackup(d.plubotID, flow); err != nil {
		return errors.Wrap(err, "saving emergency snapshot")
	}

	return nil
}

// Track snapshots the graph and then observes its node count
func (d *Detector) Track(flow plubot.FlowData) (Event, error) {
	err := d.Snapshot(flow)

	return d.Observe(flow.NodeCount()), err
}
