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

// Package creation creates plubots. A creation never fails because of the
// network: the payload is saved locally first and the plubot is handed back
// with a placeholder id when the server cannot be reached.
package creation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/backup"
	"github.com/plubot/plubot/pkg/cli/client"
	"github.com/plubot/plubot/pkg/cli/notify"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"github.com/plubot/plubot/pkg/cli/repository"
	"github.com/plubot/plubot/pkg/cli/retry"
	"github.com/plubot/plubot/pkg/cli/validate"
	"github.com/plubot/plubot/pkg/clock"
	"go.uber.org/zap"
)

// MaxPowers is the number of powers a plubot may be created with
const MaxPowers = 3

// Remote creates plubots on the server
type Remote interface {
	CreatePlubot(ctx context.Context, payload plubot.Plubot) (plubot.Plubot, error)
}

// Payload is what the user provides to create a plubot
type Payload struct {
	Name           string           `json:"name" validate:"required,notblank,singleline,max=100"`
	Tone           string           `json:"tone,omitempty" validate:"max=50"`
	Color          string           `json:"color,omitempty" validate:"max=32"`
	Purpose        string           `json:"purpose,omitempty" validate:"max=500"`
	InitialMessage string           `json:"initialMessage,omitempty" validate:"max=1000"`
	Powers         []string         `json:"powers,omitempty" validate:"max=3,unique,dive,notblank"`
	FlowData       *plubot.FlowData `json:"flowData,omitempty"`
}

// Plubot returns the plubot described by the payload, without any id
func (p Payload) Plubot() plubot.Plubot {
	ret := plubot.Plubot{
		Name:           p.Name,
		Tone:           p.Tone,
		Color:          p.Color,
		Purpose:        p.Purpose,
		InitialMessage: p.InitialMessage,
		Powers:         p.Powers,
		FlowData:       p.FlowData,
	}

	return ret.Clone()
}

// Result is the outcome of a creation. Errors are carried in the result, never
// returned.
type Result struct {
	Success bool
	Plubot  plubot.Plubot
	// OfflineMode is set when the server could not be reached and the plubot
	// only exists locally
	OfflineMode bool
	// Recoverable is set when the server was reached but did not create the
	// plubot. Payload carries the original input.
	Recoverable bool
	Payload     *Payload
	Message     string
	// Attempts is the number of remote calls made
	Attempts int
	Err      error
}

// Service creates plubots
type Service struct {
	remote   Remote
	repo     *repository.Repository
	backup   *backup.Store
	policy   retry.Policy
	clock    clock.Clock
	notifier notify.Notifier
	logger   *zap.Logger

	mu     sync.Mutex
	lastMs int64
}

// Options holds the collaborators of the creation service
type Options struct {
	Remote     Remote
	Repository *repository.Repository
	Backup     *backup.Store
	Policy     retry.Policy
	Clock      clock.Clock
	Notifier   notify.Notifier
	Logger     *zap.Logger
}

// New returns a creation service
func New(opts Options) *Service {
	s := &Service{
		remote:   opts.Remote,
		repo:     opts.Repository,
		backup:   opts.Backup,
		policy:   opts.Policy,
		clock:    opts.Clock,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	return s
}

// Create saves the payload locally, then creates it on the server
func (s *Service) Create(ctx context.Context, payload Payload) Result {
	now := s.clock.Now().UTC()
	localID := s.nextLocalID(now)

	record := payload.Plubot()
	record.ID = localID
	record.LocalID = localID
	record.Timestamp = &now

	if err := s.backup.AppendLocalPlubot(record); err != nil {
		s.logger.Warn("backup unavailable, creating without a safety copy", zap.String("local_id", localID), zap.Error(err))
	}

	if err := validate.Struct(payload); err != nil {
		return s.fail(record, err)
	}

	req := record.Sanitize()
	req.LocalID = localID

	var created plubot.Plubot
	attempts, err := s.policy.Do(ctx, client.IsRetryable, func(ctx context.Context, attempt int) error {
		var err error
		created, err = s.remote.CreatePlubot(ctx, req)
		if err != nil {
			s.logger.Info("creating plubot", zap.String("local_id", localID), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})

	var res Result
	switch client.Classify(err) {
	case client.ClassNone:
		res = s.created(record, created)
	case client.ClassNetwork:
		res = s.offline(record, "Saved offline. It will be synchronized once the server is reachable.")
	case client.ClassUnauthorized:
		res = s.offline(record, "Saved locally. Log in to synchronize it.")
	default:
		res = s.recoverable(record, payload, err)
	}
	res.Attempts = attempts

	return res
}

// nextLocalID returns a placeholder id that differs from the previous one
// even when two creations happen within the same millisecond
func (s *Service) nextLocalID(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := now.UnixMilli()
	if ms <= s.lastMs {
		ms = s.lastMs + 1
	}
	s.lastMs = ms

	return plubot.NewLocalID(time.UnixMilli(ms))
}

func (s *Service) created(record, created plubot.Plubot) Result {
	now := s.clock.Now().UTC()

	p := created.Clone()
	p.LocalID = record.LocalID
	p.Synced = true
	p.SyncedAt = &now

	// the repository goes first: a record left pending next to a repository
	// entry with the same local id is reconciled by the next sync pass
	if err := s.repo.Add(p); err != nil {
		s.logger.Warn("adding created plubot", zap.String("id", p.ID), zap.Error(err))
	}
	if _, err := s.backup.MarkLocalSynced(record.LocalID, p); err != nil {
		s.logger.Warn("marking creation backup synced", zap.String("local_id", record.LocalID), zap.Error(err))
	}
	if err := s.backup.MoveEmergencyBackup(record.LocalID, p.ID); err != nil {
		s.logger.Warn("moving emergency backup", zap.String("local_id", record.LocalID), zap.Error(err))
	}

	s.notifier.Notify(notify.Success("Plubot created."))

	return Result{
		Success: true,
		Plubot:  p,
		Message: "Plubot created.",
	}
}

func (s *Service) offline(record plubot.Plubot, msg string) Result {
	p := record.Clone()
	p.OfflineCreated = true

	if err := s.repo.Add(p); err != nil {
		s.logger.Warn("adding offline plubot", zap.String("id", p.ID), zap.Error(err))
	}

	s.notifier.Notify(notify.Warning(msg))

	return Result{
		Success:     true,
		Plubot:      p,
		OfflineMode: true,
		Message:     msg,
	}
}

func (s *Service) recoverable(record plubot.Plubot, payload Payload, cause error) Result {
	p := record.Clone()
	p.RecoveryPending = true

	if err := s.repo.Add(p); err != nil {
		s.logger.Warn("adding recovery pending plubot", zap.String("id", p.ID), zap.Error(err))
	}

	s.logger.Warn("server did not create plubot, keeping it for a later sync", zap.String("local_id", record.LocalID), zap.Error(cause))

	msg := "The server could not create the plubot right now. It was saved and will be retried."
	s.notifier.Notify(notify.Warning(msg))

	return Result{
		Success:     true,
		Plubot:      p,
		Recoverable: true,
		Payload:     &payload,
		Message:     msg,
		Err:         cause,
	}
}

// fail moves the creation backup record to the failed creations
func (s *Service) fail(record plubot.Plubot, cause error) Result {
	failed := backup.FailedCreation{
		Data:      record,
		Timestamp: *record.Timestamp,
		Error:     cause.Error(),
	}
	if err := s.backup.AppendFailedCreation(failed); err != nil {
		s.logger.Error("saving failed creation", zap.String("local_id", record.LocalID), zap.Error(err))
	} else if err := s.backup.RemoveLocalPlubot(record.LocalID); err != nil {
		s.logger.Warn("removing failed creation backup", zap.String("local_id", record.LocalID), zap.Error(err))
	}

	s.notifier.Notify(notify.Error(cause.Error()))

	return Result{
		Success: false,
		Plubot:  record,
		Message: cause.Error(),
		Err:     errors.Wrap(cause, "invalid plubot"),
	}
}
