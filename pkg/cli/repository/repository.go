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

// Package repository holds the plubots of the signed in user. Every change is
// made against the list mirrored in the local backup store, so that the list
// survives restarts and several processes can share it.
package repository

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/backup"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no plubot has the given id
var ErrNotFound = errors.New("plubot not found")

// Repository is the in-memory list of plubots. There is at most one entry
// per id.
type Repository struct {
	store  *backup.Store
	logger *zap.Logger

	mu      sync.RWMutex
	plubots []plubot.Plubot
}

// New returns an empty repository backed by the store
func New(store *backup.Store, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Repository{
		store:  store,
		logger: logger,
	}
}

// Load replaces the contents with the mirrored list from the backup store and
// returns the number of plubots held. The contents are kept when no readable
// list is stored.
func (r *Repository) Load() int {
	stored, ok := r.store.StoredUserPlubots()

	r.mu.Lock()
	defer r.mu.Unlock()

	if ok {
		r.plubots = dedupe(stored)
	}

	return len(r.plubots)
}

// List returns a copy of every plubot
func (r *Repository) List() []plubot.Plubot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return cloneAll(r.plubots)
}

// Len returns the number of plubots
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.plubots)
}

// Get returns a copy of the plubot with the given id
func (r *Repository) Get(id string) (plubot.Plubot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := index(r.plubots, id)
	if i == -1 {
		return plubot.Plubot{}, false
	}

	return r.plubots[i].Clone(), true
}

// Pending returns the plubots carrying changes the server has not seen
func (r *Repository) Pending() []plubot.Plubot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ret []plubot.Plubot
	for _, p := range r.plubots {
		if p.NeedsSync() {
			ret = append(ret, p.Clone())
		}
	}

	return ret
}

// Add inserts the plubot, replacing any entry with the same id
func (r *Repository) Add(p plubot.Plubot) error {
	return r.mutate(func(list []plubot.Plubot) ([]plubot.Plubot, error) {
		if i := index(list, p.ID); i != -1 {
			list[i] = p.Clone()
			return list, nil
		}

		return append(list, p.Clone()), nil
	})
}

// Replace swaps the entry known by oldID for p, which usually carries the id
// the server assigned. An existing entry with the new id is dropped so that
// the id stays unique. When oldID is unknown, p is added.
func (r *Repository) Replace(oldID string, p plubot.Plubot) error {
	return r.mutate(func(list []plubot.Plubot) ([]plubot.Plubot, error) {
		if p.ID != oldID {
			if i := index(list, p.ID); i != -1 {
				list = append(list[:i], list[i+1:]...)
			}
		}

		if i := index(list, oldID); i != -1 {
			list[i] = p.Clone()
			return list, nil
		}

		return append(list, p.Clone()), nil
	})
}

// Update applies fn to the plubot with the given id
func (r *Repository) Update(id string, fn func(p *plubot.Plubot)) error {
	return r.mutate(func(list []plubot.Plubot) ([]plubot.Plubot, error) {
		i := index(list, id)
		if i == -1 {
			return nil, errors.Wrap(ErrNotFound, id)
		}

		p := list[i].Clone()
		fn(&p)
		p.ID = list[i].ID
		list[i] = p

		return list, nil
	})
}

// UpdateFlow replaces the flow of the plubot and marks it for synchronization
func (r *Repository) UpdateFlow(id string, flow plubot.FlowData) error {
	return r.Update(id, func(p *plubot.Plubot) {
		fd := flow.Clone()
		p.FlowData = &fd
		p.PendingChanges = true
	})
}

// Remove drops the plubot with the given id
func (r *Repository) Remove(id string) error {
	return r.mutate(func(list []plubot.Plubot) ([]plubot.Plubot, error) {
		i := index(list, id)
		if i == -1 {
			return nil, errors.Wrap(ErrNotFound, id)
		}

		return append(list[:i], list[i+1:]...), nil
	})
}

// Set replaces every plubot
func (r *Repository) Set(list []plubot.Plubot) error {
	list = dedupe(list)

	return r.mutate(func([]plubot.Plubot) ([]plubot.Plubot, error) {
		return list, nil
	})
}

// MergeRemote replaces the plubots with the server list. Entries that still
// need to be synchronized take precedence over the server copies and are
// kept even when the server does not know them.
func (r *Repository) MergeRemote(remote []plubot.Plubot) error {
	return r.mutate(func(list []plubot.Plubot) ([]plubot.Plubot, error) {
		merged := make([]plubot.Plubot, 0, len(remote)+len(list))
		for _, p := range remote {
			p = p.Clone()
			p.Synced = true
			if i := index(list, p.ID); i != -1 {
				p.LocalID = list[i].LocalID
			}
			merged = append(merged, p)
		}

		for _, p := range list {
			if !p.NeedsSync() {
				continue
			}
			if i := index(merged, p.ID); i != -1 {
				merged[i] = p
				continue
			}
			merged = append(merged, p)
		}

		return dedupe(merged), nil
	})
}

// mutate applies fn to the list as currently stored and mirrors the result,
// so that entries saved by another repository or process since the last
// Load are kept. When nothing readable is stored, or the store is
// unavailable, fn is applied to the in-memory list, which stays
// authoritative.
func (r *Repository) mutate(fn func(list []plubot.Plubot) ([]plubot.Plubot, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var applied []plubot.Plubot
	var fnErr error
	called := false
	err := r.store.UpdateUserPlubots(func(stored []plubot.Plubot, found bool) ([]plubot.Plubot, error) {
		called = true
		base := cloneAll(r.plubots)
		if found {
			base = dedupe(stored)
		}

		applied, fnErr = fn(base)
		return applied, fnErr
	})
	if fnErr != nil {
		return fnErr
	}

	if !called {
		// the store could not be read
		applied, fnErr = fn(cloneAll(r.plubots))
		if fnErr != nil {
			return fnErr
		}
	}
	r.plubots = applied

	if err != nil {
		r.logger.Warn("mirroring plubots", zap.Int("count", len(applied)), zap.Error(err))
		return errors.Wrap(err, "mirroring plubots")
	}

	return nil
}

func index(list []plubot.Plubot, id string) int {
	for i, p := range list {
		if p.ID == id {
			return i
		}
	}

	return -1
}

// dedupe keeps the last entry for every id
func dedupe(list []plubot.Plubot) []plubot.Plubot {
	seen := map[string]int{}
	ret := make([]plubot.Plubot, 0, len(list))

	for _, p := range list {
		if i, ok := seen[p.ID]; ok {
			ret[i] = p.Clone()
			continue
		}
		seen[p.ID] = len(ret)
		ret = append(ret, p.Clone())
	}

	return ret
}

func cloneAll(list []plubot.Plubot) []plubot.Plubot {
	ret := make([]plubot.Plubot, len(list))
	for i, p := range list {
		ret[i] = p.Clone()
	}

	return ret
}
