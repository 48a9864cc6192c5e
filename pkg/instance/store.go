// instanceplane
// (C) 2024, Deutsche Telekom IT GmbH
//
// Deutsche Telekom IT GmbH and all other contributors /
// copyright owners license this file to you under the Apache
// License, Version 2.0 (the "License"); you may not use this
// file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package instance

import (
	"sync"
	"time"

	"github.com/caas-team/instanceplane/pkg/errs"
	"github.com/google/uuid"
)

// Mutator mutates an instance record in place under its exclusive lock. It
// must not retain the pointer past the call.
type Mutator func(*Instance) error

// record pairs an instance with the exclusive lock that serializes every
// mutation to it.
type record struct {
	mu   sync.Mutex
	inst Instance
}

// ChangeEvent is published by Update when a record's status changes; the
// control plane consumes the stream to log status transitions.
type ChangeEvent struct {
	ID     string
	Before Status
	After  Status
}

// Store is the in-memory instance map with secondary indices by name and
// by provider ID.
type Store struct {
	mu sync.RWMutex

	byID         map[string]*record
	byName       map[string]string // name -> id, live instances only
	byProviderID map[string]string // providerId -> id

	changes chan ChangeEvent
}

// NewStore creates an empty Store. changeBuffer sizes the change-event
// channel; events that find it full are dropped, so a consumer that falls
// behind misses transition log lines, never correctness (the store itself
// is authoritative).
func NewStore(changeBuffer int) *Store {
	return &Store{
		byID:         make(map[string]*record),
		byName:       make(map[string]string),
		byProviderID: make(map[string]string),
		changes:      make(chan ChangeEvent, changeBuffer),
	}
}

// Changes returns the read-only change-event stream.
func (s *Store) Changes() <-chan ChangeEvent { return s.changes }

// Create atomically reserves name and assigns a new internal ID.
func (s *Store) Create(name string, cfg Config, webhookURL string) (*Instance, error) {
	if !NamePattern.MatchString(name) {
		return nil, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return nil, errs.NameConflict(name)
	}

	now := time.Now()
	inst := Instance{
		ID:     uuid.NewString(),
		Name:   name,
		Status: StatusCreating,
		Config: cfg,
		Timestamps: Timestamps{
			Created:  now,
			LastUsed: now,
		},
	}
	inst.Config.WebhookURL = webhookURL

	s.byID[inst.ID] = &record{inst: inst}
	s.byName[name] = inst.ID

	cp := inst
	return &cp, nil
}

func (s *Store) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	return r, ok
}

// Get returns a copy of the instance with the given internal ID.
func (s *Store) Get(id string) (*Instance, error) {
	r, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := r.inst
	return &cp, nil
}

// GetByName resolves a live instance by its unique name.
func (s *Store) GetByName(name string) (*Instance, error) {
	s.mu.RLock()
	id, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(id)
}

// GetByProviderID resolves an instance by its provider-assigned ID.
func (s *Store) GetByProviderID(pid string) (*Instance, error) {
	s.mu.RLock()
	id, ok := s.byProviderID[pid]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(id)
}

// Update applies mutator under id's exclusive lock, persists the result,
// and publishes a ChangeEvent if the status changed. Each provider ID the
// record carries is indexed here; an existing index entry is never
// overwritten, so after a migration assigns a new provider ID the old one
// still resolves to this record.
func (s *Store) Update(id string, mutator Mutator) (*Instance, error) {
	r, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}

	r.mu.Lock()
	before := r.inst.Status
	if err := mutator(&r.inst); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	after := r.inst.Status
	providerID := r.inst.ProviderID
	cp := r.inst
	r.mu.Unlock()

	if providerID != "" {
		s.mu.Lock()
		if _, already := s.byProviderID[providerID]; !already {
			s.byProviderID[providerID] = id
		}
		s.mu.Unlock()
	}

	if !before.Terminal() && after.Terminal() {
		s.mu.Lock()
		if s.byName[cp.Name] == id {
			delete(s.byName, cp.Name)
		}
		s.mu.Unlock()
	}

	if before != after {
		select {
		case s.changes <- ChangeEvent{ID: id, Before: before, After: after}:
		default:
		}
	}
	return &cp, nil
}

// TouchLastUsed sets lastUsed to when (defaulting to now), rejecting any
// regression.
func (s *Store) TouchLastUsed(id string, when time.Time) error {
	if when.IsZero() {
		when = time.Now()
	}
	_, err := s.Update(id, func(inst *Instance) error {
		if when.Before(inst.Timestamps.LastUsed) {
			return ErrLastUsedRegression
		}
		inst.Timestamps.LastUsed = when
		return nil
	})
	return err
}

// Filter selects instances for List.
type Filter struct {
	Status []Status
	Region string
}

func (f Filter) matches(inst *Instance) bool {
	if len(f.Status) > 0 {
		found := false
		for _, st := range f.Status {
			if inst.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Region != "" && inst.Config.Region != f.Region {
		return false
	}
	return true
}

// List returns a snapshot copy of every instance matching filter.
func (s *Store) List(filter Filter) []Instance {
	s.mu.RLock()
	ids := make([]*record, 0, len(s.byID))
	for _, r := range s.byID {
		ids = append(ids, r)
	}
	s.mu.RUnlock()

	out := make([]Instance, 0, len(ids))
	for _, r := range ids {
		r.mu.Lock()
		cp := r.inst
		r.mu.Unlock()
		if filter.matches(&cp) {
			out = append(out, cp)
		}
	}
	return out
}

// Snapshot returns a read-only copy of every instance, used by the
// comprehensive-listing merge so concurrent writes can't corrupt it
// mid-fan-in.
func (s *Store) Snapshot() []Instance {
	return s.List(Filter{})
}
