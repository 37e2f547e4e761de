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

// Package syncer reconciles plubots that only exist locally, or carry local
// changes, with the server
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/backup"
	"github.com/plubot/plubot/pkg/cli/client"
	"github.com/plubot/plubot/pkg/cli/notify"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"github.com/plubot/plubot/pkg/cli/repository"
	"github.com/plubot/plubot/pkg/cli/worker"
	"github.com/plubot/plubot/pkg/clock"
	"github.com/robfig/cron"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of plubots reconciled at the same time
const DefaultConcurrency = 4

// DefaultMaxRejections is the number of times the server may refuse to create
// a plubot as invalid before it is moved to the failed creations
const DefaultMaxRejections = 3

// Remote is the part of the server API the engine needs
type Remote interface {
	CreatePlubot(ctx context.Context, payload plubot.Plubot) (plubot.Plubot, error)
	UpdatePlubot(ctx context.Context, id string, payload plubot.Plubot) (plubot.Plubot, error)
}

// Reconciled is a plubot the server accepted during a pass
type Reconciled struct {
	OldID string
	NewID string
}

// Result is the outcome of SyncAll
type Result struct {
	// Skipped is set when another pass was in flight. A follow-up pass is
	// scheduled instead.
	Skipped bool
	Status  Status
	Synced  []Reconciled
	Errors  []string
}

// Options holds the collaborators and tunables of the engine
type Options struct {
	Remote        Remote
	Repository    *repository.Repository
	Backup        *backup.Store
	Worker        *worker.Worker
	Clock         clock.Clock
	Notifier      notify.Notifier
	Logger        *zap.Logger
	Interval      time.Duration
	FollowUpDelay time.Duration
	Concurrency   int
	MaxRejections int
}

// Engine runs sync passes. At most one pass is in flight at a time.
type Engine struct {
	remote        Remote
	repo          *repository.Repository
	backup        *backup.Store
	worker        *worker.Worker
	clock         clock.Clock
	notifier      notify.Notifier
	logger        *zap.Logger
	interval      time.Duration
	followUpDelay time.Duration
	concurrency   int
	maxRejections int

	mu          sync.Mutex
	state       State
	subscribers map[int]func(State)
	nextSub     int
}

// New returns an engine
func New(opts Options) *Engine {
	e := &Engine{
		remote:        opts.Remote,
		repo:          opts.Repository,
		backup:        opts.Backup,
		worker:        opts.Worker,
		clock:         opts.Clock,
		notifier:      opts.Notifier,
		logger:        opts.Logger,
		interval:      opts.Interval,
		followUpDelay: opts.FollowUpDelay,
		concurrency:   opts.Concurrency,
		maxRejections: opts.MaxRejections,
		state:         State{Status: StatusIdle},
		subscribers:   map[int]func(State){},
	}

	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.interval <= 0 {
		e.interval = 5 * time.Minute
	}
	if e.concurrency < 1 {
		e.concurrency = DefaultConcurrency
	}
	if e.maxRejections < 1 {
		e.maxRejections = DefaultMaxRejections
	}

	return e
}

// State returns a copy of the current state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.clone()
}

// Subscribe registers fn to receive a copy of the state after every change.
// fn must not call back into the engine synchronously.
func (e *Engine) Subscribe(fn func(State)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subscribers, id)
	}
}

// update mutates the state under the lock and publishes the result
func (e *Engine) update(fn func(s *State)) State {
	e.mu.Lock()
	fn(&e.state)
	st := e.state.clone()
	subs := make([]func(State), 0, len(e.subscribers))
	for _, s := range e.subscribers {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	for _, s := range subs {
		s(st.clone())
	}

	return st
}

// SyncAll runs one pass over every plubot that needs to be synchronized
func (e *Engine) SyncAll(ctx context.Context) Result {
	started := false
	e.update(func(s *State) {
		if s.IsSyncing {
			s.PendingSync = true
			return
		}
		started = true
		s.IsSyncing = true
		s.Status = StatusSyncing
	})
	if !started {
		e.logger.Debug("sync in flight, queuing a follow-up pass")
		return Result{Skipped: true, Status: StatusSyncing}
	}

	// pick up what other processes saved since the last pass
	e.repo.Load()

	targets := e.selectTargets()
	e.logger.Info("sync pass started", zap.Int("targets", len(targets)))

	var mu sync.Mutex
	var res Result

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			newID, err := e.syncOne(ctx, t)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				msg := fmt.Sprintf("%s: %s", displayName(t.plubot), err.Error())
				res.Errors = append(res.Errors, msg)
				e.logger.Warn("syncing plubot", zap.String("id", t.plubot.ID), zap.Error(err))
				return nil
			}

			res.Synced = append(res.Synced, Reconciled{OldID: t.plubot.ID, NewID: newID})
			return nil
		})
	}
	g.Wait()

	now := e.clock.Now().UTC()
	status := StatusSuccess
	if len(res.Errors) > 0 {
		status = StatusError
	}
	res.Status = status

	followUp := false
	e.update(func(s *State) {
		s.IsSyncing = false
		s.LastSync = &now
		s.Status = status
		s.SyncErrors = prependErrors(s.SyncErrors, res.Errors)
		followUp = s.PendingSync
		s.PendingSync = false
	})

	e.logger.Info("sync pass finished", zap.String("status", string(status)), zap.Int("synced", len(res.Synced)), zap.Int("failed", len(res.Errors)))
	e.report(res)

	if followUp {
		e.scheduleFollowUp()
	}

	return res
}

func (e *Engine) report(res Result) {
	if n := len(res.Synced); n > 0 {
		e.notifier.Notify(notify.Success(fmt.Sprintf("%d plubot(s) synchronized.", n)))
	}
	if n := len(res.Errors); n > 0 {
		e.notifier.Notify(notify.Warning(fmt.Sprintf("%d plubot(s) could not be synchronized and will be retried.", n)))
	}
}

func (e *Engine) scheduleFollowUp() {
	if e.worker == nil {
		return
	}

	err := e.worker.After(e.followUpDelay, "follow-up sync", func(ctx context.Context) error {
		res := e.SyncAll(ctx)
		if res.Status == StatusError {
			return errors.Errorf("follow-up sync failed for %d plubot(s)", len(res.Errors))
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("scheduling follow-up sync", zap.Error(err))
	}
}

// Start runs a pass immediately and then one every interval until ctx is done
func (e *Engine) Start(ctx context.Context) error {
	c := cron.New()
	err := c.AddFunc(fmt.Sprintf("@every %s", e.interval), func() {
		e.SyncAll(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "scheduling sync")
	}

	e.SyncAll(ctx)

	c.Start()
	defer c.Stop()

	<-ctx.Done()

	return nil
}

type target struct {
	plubot plubot.Plubot
	// fromBackup is set for creation records that never made it into the
	// repository
	fromBackup bool
}

// selectTargets returns the plubots that need to be synchronized. Creation
// records of the backup store are only considered when the repository has
// nothing pending, which happens after a restart that lost the repository.
func (e *Engine) selectTargets() []target {
	confirmed := e.reconcileRecords()

	var ret []target
	for _, p := range e.repo.Pending() {
		ret = append(ret, target{plubot: p})
	}
	if len(ret) > 0 {
		return ret
	}

	for _, r := range e.backup.PendingLocalPlubots() {
		if r.ID == "" {
			r.ID = r.LocalID
		}
		if confirmed[r.LocalID] {
			continue
		}
		if _, ok := e.repo.Get(r.ID); ok {
			continue
		}
		ret = append(ret, target{plubot: r, fromBackup: true})
	}

	return ret
}

// reconcileRecords marks synced the pending creation records whose plubot
// the repository already holds under a server id, which is left behind when
// a pass stops between the two writes. It returns the local ids of those
// records.
func (e *Engine) reconcileRecords() map[string]bool {
	byLocalID := map[string]plubot.Plubot{}
	for _, p := range e.repo.List() {
		if p.LocalID != "" && !plubot.IsLocalID(p.ID) {
			byLocalID[p.LocalID] = p
		}
	}

	ret := map[string]bool{}
	for _, r := range e.backup.PendingLocalPlubots() {
		localID := r.LocalID
		if localID == "" {
			localID = r.ID
		}
		p, ok := byLocalID[localID]
		if !ok {
			continue
		}

		ret[localID] = true
		e.logger.Info("creation record already confirmed", zap.String("local_id", localID), zap.String("id", p.ID))
		if _, err := e.backup.MarkLocalSynced(localID, p); err != nil {
			e.logger.Warn("marking creation backup synced", zap.String("local_id", localID), zap.Error(err))
		}
		if err := e.backup.MoveEmergencyBackup(localID, p.ID); err != nil {
			e.logger.Warn("moving emergency backup", zap.String("local_id", localID), zap.Error(err))
		}
	}

	return ret
}

func (e *Engine) syncOne(ctx context.Context, t target) (string, error) {
	p := t.plubot

	if t.fromBackup || p.OfflineCreated || p.RecoveryPending || plubot.IsLocalID(p.ID) {
		return e.create(ctx, p)
	}

	return e.push(ctx, p)
}

// create creates the plubot on the server and swaps its placeholder id for
// the one the server assigned, in the repository and in the backup store
func (e *Engine) create(ctx context.Context, p plubot.Plubot) (string, error) {
	oldID := p.ID
	localID := p.LocalID
	if localID == "" {
		localID = oldID
	}

	req := p.Sanitize()
	req.ID = ""
	req.LocalID = localID

	created, err := e.remote.CreatePlubot(ctx, req)
	if err != nil {
		if client.Classify(err) == client.ClassFatal {
			e.reject(p, localID, err)
		}
		return "", describe(err)
	}

	now := e.clock.Now().UTC()
	confirmed := p.Clone()
	confirmed.ID = created.ID
	confirmed.LocalID = localID
	confirmed.Timestamp = nil
	confirmed.Rejections = 0
	confirmed.OfflineCreated = false
	confirmed.RecoveryPending = false
	confirmed.PendingChanges = false
	confirmed.Synced = true
	confirmed.SyncedAt = &now

	if err := e.repo.Replace(oldID, confirmed); err != nil {
		e.logger.Warn("replacing synced plubot", zap.String("old_id", oldID), zap.String("new_id", created.ID), zap.Error(err))
	}
	if _, err := e.backup.MarkLocalSynced(localID, confirmed); err != nil {
		e.logger.Warn("marking creation backup synced", zap.String("local_id", localID), zap.Error(err))
	}
	if err := e.backup.MoveEmergencyBackup(oldID, created.ID); err != nil {
		e.logger.Warn("moving emergency backup", zap.String("old_id", oldID), zap.Error(err))
	}

	return created.ID, nil
}

// reject counts a creation the server refused as invalid. Once the count
// reaches the limit the plubot is moved to the failed creations so that it is
// no longer sent.
func (e *Engine) reject(p plubot.Plubot, localID string, cause error) {
	rejections := p.Rejections + 1
	count := func(x *plubot.Plubot) { x.Rejections = rejections }

	if rejections < e.maxRejections {
		if err := e.repo.Update(p.ID, count); err != nil && errors.Cause(err) != repository.ErrNotFound {
			e.logger.Warn("counting rejection", zap.String("id", p.ID), zap.Error(err))
		}
		if _, err := e.backup.UpdateLocalPlubot(localID, count); err != nil {
			e.logger.Warn("counting rejection", zap.String("local_id", localID), zap.Error(err))
		}
		return
	}

	e.logger.Warn("server keeps refusing plubot, moving it to the failed creations",
		zap.String("id", p.ID), zap.Int("rejections", rejections), zap.Error(cause))

	data := p.Clone()
	data.Rejections = rejections
	failed := backup.FailedCreation{
		Data:      data,
		Timestamp: e.clock.Now().UTC(),
		Error:     cause.Error(),
	}
	if err := e.backup.AppendFailedCreation(failed); err != nil {
		// keep the plubot pending rather than lose it
		e.logger.Error("saving failed creation", zap.String("id", p.ID), zap.Error(err))
		return
	}
	if err := e.backup.RemoveLocalPlubot(localID); err != nil {
		e.logger.Warn("removing creation backup", zap.String("local_id", localID), zap.Error(err))
	}
	if err := e.repo.Remove(p.ID); err != nil && errors.Cause(err) != repository.ErrNotFound {
		e.logger.Warn("removing rejected plubot", zap.String("id", p.ID), zap.Error(err))
	}

	e.notifier.Notify(notify.Error(fmt.Sprintf("%s was refused by the server and moved to the failed creations.", displayName(p))))
}

// push sends local changes of a plubot the server already knows. A plubot
// the server no longer has is created again.
func (e *Engine) push(ctx context.Context, p plubot.Plubot) (string, error) {
	_, err := e.remote.UpdatePlubot(ctx, p.ID, p.Sanitize())

	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) && httpErr.IsNotFound() {
		e.logger.Info("plubot missing on the server, creating it", zap.String("id", p.ID))
		return e.create(ctx, p)
	}
	if err != nil {
		return "", describe(err)
	}

	now := e.clock.Now().UTC()
	err = e.repo.Update(p.ID, func(x *plubot.Plubot) {
		x.PendingChanges = false
		x.Synced = true
		x.SyncedAt = &now
	})
	if err != nil && errors.Cause(err) != repository.ErrNotFound {
		e.logger.Warn("clearing pending changes", zap.String("id", p.ID), zap.Error(err))
	}

	return p.ID, nil
}

// describe turns a client error into a message for the user
func describe(err error) error {
	switch client.Classify(err) {
	case client.ClassNetwork:
		return errors.New("server unreachable")
	case client.ClassUnauthorized:
		return errors.New("not logged in")
	}

	return err
}

func displayName(p plubot.Plubot) string {
	if p.Name != "" {
		return p.Name
	}

	return p.ID
}
