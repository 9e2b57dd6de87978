// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

// Package store holds recorded matches and their review events, keyed by
// var_id, with optional durable persistence behind a small load/save/list
// contract.
//
// The controller goroutine is the only writer (single-writer discipline);
// the internal lock exists so websocket snapshot emitters can read
// concurrently and always observe fully-applied mutations.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/varbooth/varbooth/internal/logging"
	"github.com/varbooth/varbooth/internal/metrics"
	"github.com/varbooth/varbooth/internal/model"
)

var (
	// ErrMatchNotFound is returned when a var_id references no stored match.
	ErrMatchNotFound = errors.New("match not found")

	// ErrEventNotFound is returned when an event id is absent from a match.
	ErrEventNotFound = errors.New("review event not found")

	// ErrMatchExists is returned when creating a match with a taken var_id.
	ErrMatchExists = errors.New("match already exists")
)

// Persistence is the durable backing contract. The zero-value store works
// without one; mutations then live only in memory.
type Persistence interface {
	LoadMatch(varID string) (*model.RecordedMatch, error)
	SaveMatch(m *model.RecordedMatch) error
	ListMatchIDs() ([]string, error)
}

// EventUpdate carries partial review event updates; nil fields are left
// unchanged.
type EventUpdate struct {
	TimeSec     *float64
	Alliance    *model.Alliance
	TeamIndex   *int
	Reason      *string
	Coordinates *model.Coordinates
}

// Store is the in-memory review event store.
type Store struct {
	mu       sync.RWMutex
	matches  map[string]*model.RecordedMatch
	persist  Persistence
	onChange func(varID string)
}

// New creates a store backed by the given persistence (may be nil).
func New(persist Persistence) *Store {
	return &Store{
		matches: make(map[string]*model.RecordedMatch),
		persist: persist,
	}
}

// OnChange registers the single change listener, invoked after every
// successful mutation with the affected var_id. Must be set before
// concurrent use.
func (s *Store) OnChange(fn func(varID string)) {
	s.onChange = fn
}

// LoadAll populates the store from persistence. Records that fail to load
// are skipped with a warning.
func (s *Store) LoadAll() error {
	if s.persist == nil {
		return nil
	}
	ids, err := s.persist.ListMatchIDs()
	if err != nil {
		return fmt.Errorf("list matches: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		m, err := s.persist.LoadMatch(id)
		if err != nil {
			logging.Warn().Err(err).Str("var_id", id).Msg("skipping unreadable match record")
			continue
		}
		s.matches[m.VarID] = m
	}
	logging.Info().Int("matches", len(s.matches)).Msg("loaded recorded matches")
	return nil
}

// Create stores a new recorded match.
func (s *Store) Create(m model.RecordedMatch) error {
	s.mu.Lock()
	if _, ok := s.matches[m.VarID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMatchExists, m.VarID)
	}
	stored := m
	if stored.Events == nil {
		stored.Events = []model.ReviewEvent{}
	}
	s.matches[m.VarID] = &stored
	err := s.saveLocked(&stored)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(m.VarID)
	return nil
}

// Has reports whether a match with the given var_id exists.
func (s *Store) Has(varID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.matches[varID]
	return ok
}

// Get returns a copy of the match, events in stored (insertion) order.
func (s *Store) Get(varID string) (model.RecordedMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[varID]
	if !ok {
		return model.RecordedMatch{}, fmt.Errorf("%w: %s", ErrMatchNotFound, varID)
	}
	return copyMatch(m), nil
}

// AddEvent appends an event to the match and returns the assigned id.
// An empty ev.ID gets a fresh uuid; ids are never reused or renumbered.
func (s *Store) AddEvent(varID string, ev model.ReviewEvent) (string, error) {
	s.mu.Lock()
	m, ok := s.matches[varID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrMatchNotFound, varID)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	m.Events = append(m.Events, ev)
	err := s.saveLocked(m)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	metrics.ReviewEvents.WithLabelValues(string(ev.Kind)).Inc()
	logging.Info().
		Str("var_id", varID).
		Str("kind", string(ev.Kind)).
		Float64("time_sec", ev.TimeSec).
		Msg("review event added")
	s.notify(varID)
	return ev.ID, nil
}

// UpdateEvent applies a partial update to an existing event.
func (s *Store) UpdateEvent(varID, eventID string, upd EventUpdate) error {
	s.mu.Lock()
	m, ok := s.matches[varID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMatchNotFound, varID)
	}
	idx := eventIndex(m, eventID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}

	ev := &m.Events[idx]
	if upd.TimeSec != nil {
		ev.TimeSec = *upd.TimeSec
	}
	if upd.Alliance != nil {
		ev.Alliance = *upd.Alliance
	}
	if upd.TeamIndex != nil {
		ev.TeamIndex = upd.TeamIndex
	}
	if upd.Reason != nil {
		ev.Reason = *upd.Reason
	}
	if upd.Coordinates != nil {
		ev.Coordinates = upd.Coordinates
	}
	err := s.saveLocked(m)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(varID)
	return nil
}

// RemoveEvent deletes an event. Surviving event ids are untouched; display
// indices are derived by callers from ListSorted.
func (s *Store) RemoveEvent(varID, eventID string) error {
	s.mu.Lock()
	m, ok := s.matches[varID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMatchNotFound, varID)
	}
	idx := eventIndex(m, eventID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	m.Events = append(m.Events[:idx], m.Events[idx+1:]...)
	err := s.saveLocked(m)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(varID)
	return nil
}

// ListSorted returns the match's events ordered by time, insertion order
// breaking ties.
func (s *Store) ListSorted(varID string) ([]model.ReviewEvent, error) {
	s.mu.RLock()
	m, ok := s.matches[varID]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, varID)
	}
	events := make([]model.ReviewEvent, len(m.Events))
	copy(events, m.Events)
	s.mu.RUnlock()

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TimeSec < events[j].TimeSec
	})
	return events, nil
}

// SetClip records the finalized recorder clip for a match.
func (s *Store) SetClip(varID string, clipID int) error {
	s.mu.Lock()
	m, ok := s.matches[varID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMatchNotFound, varID)
	}
	m.ClipID = &clipID
	err := s.saveLocked(m)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(varID)
	return nil
}

// Summaries returns match_list entries for all stored matches, newest first.
func (s *Store) Summaries() []model.MatchSummary {
	s.mu.RLock()
	out := make([]model.MatchSummary, 0, len(s.matches))
	for _, m := range s.matches {
		out = append(out, m.Summary())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].VarID < out[j].VarID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// saveLocked persists m if a backing store is configured. Persistence
// failures are logged but do not roll back the in-memory mutation; the
// workflow must keep moving at a live event.
func (s *Store) saveLocked(m *model.RecordedMatch) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist.SaveMatch(m); err != nil {
		logging.Error().Err(err).Str("var_id", m.VarID).Msg("failed to persist match")
	}
	return nil
}

func (s *Store) notify(varID string) {
	if s.onChange != nil {
		s.onChange(varID)
	}
}

func eventIndex(m *model.RecordedMatch, eventID string) int {
	for i := range m.Events {
		if m.Events[i].ID == eventID {
			return i
		}
	}
	return -1
}

func copyMatch(m *model.RecordedMatch) model.RecordedMatch {
	out := *m
	out.Events = make([]model.ReviewEvent, len(m.Events))
	copy(out.Events, m.Events)
	return out
}
