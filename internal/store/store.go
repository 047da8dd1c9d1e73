// Package store provides the persistent event store.
package store

import (
	"fmt"
	"sync"

	"github.com/jmylchreest/examcast/internal/core"
	"github.com/jmylchreest/examcast/internal/model"
	"github.com/jmylchreest/examcast/internal/schedule"
)

// ChangeType indicates the type of store change.
type ChangeType int

const (
	// ChangeTypeAdd indicates events were added.
	ChangeTypeAdd ChangeType = iota
	// ChangeTypeClear indicates all events were cleared.
	ChangeTypeClear
	// ChangeTypeReload indicates the store was re-read from persistence.
	ChangeTypeReload
	// ChangeTypeRename indicates display names changed.
	ChangeTypeRename
	// ChangeTypeReplace indicates the whole schedule was swapped.
	ChangeTypeReplace
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeAdd:
		return "add"
	case ChangeTypeClear:
		return "clear"
	case ChangeTypeReload:
		return "reload"
	case ChangeTypeRename:
		return "rename"
	case ChangeTypeReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// ChangeEvent signals store content changes.
type ChangeEvent struct {
	Type  ChangeType
	Count int
}

// Store holds the schedule in memory with thread-safe operations and mirrors
// every change to an optional Persistence.
type Store struct {
	mu     sync.RWMutex
	events []model.ExamEvent
	index  map[string]int // id -> slice index

	persistence Persistence

	subscribers []chan ChangeEvent
	closed      bool
}

// NewStore creates a new Store.
// A nil persistence keeps the store in memory only.
func NewStore(persistence Persistence) *Store {
	return &Store{
		events:      make([]model.ExamEvent, 0),
		index:       make(map[string]int),
		persistence: persistence,
	}
}

// Persistent reports whether the store is backed by persistence.
func (s *Store) Persistent() bool {
	return s.persistence != nil
}

// Hydrate replaces the in-memory set with the persisted one.
func (s *Store) Hydrate() error {
	if s.persistence == nil {
		return nil
	}

	events, err := s.persistence.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.setLocked(events)
	s.notifyChange(ChangeEvent{Type: ChangeTypeReload, Count: len(events)})
	s.mu.Unlock()

	return nil
}

// Events returns a copy of all events in scheduled order.
func (s *Store) Events() []model.ExamEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ExamEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Count returns the number of events.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Get returns the event with the given id.
func (s *Store) Get(id string) (model.ExamEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.index[id]
	if !ok {
		return model.ExamEvent{}, false
	}
	return s.events[idx], true
}

// Add merges a batch into the store and persists the result with a single
// ReplaceAll. Events whose ID is already present are ignored.
// On a persistence error the in-memory set keeps the batch and the error is
// returned for the caller to report.
func (s *Store) Add(batch []model.ExamEvent) error {
	if len(batch) == 0 {
		return nil
	}
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return fmt.Errorf("invalid event %q: %w", batch[i].ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	added := make([]model.ExamEvent, 0, len(batch))
	seen := make(map[string]bool, len(batch))
	for _, e := range batch {
		if _, exists := s.index[e.ID]; exists || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		added = append(added, e)
	}
	if len(added) == 0 {
		return nil
	}

	s.setLocked(schedule.Merge(s.events, added))
	s.notifyChange(ChangeEvent{Type: ChangeTypeAdd, Count: len(added)})

	return s.persistLocked()
}

// Clear removes all events.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	count := len(s.events)
	s.setLocked(nil)
	s.notifyChange(ChangeEvent{Type: ChangeTypeClear, Count: count})

	return s.persistLocked()
}

// Replace swaps the whole schedule for events in a single write.
// Nothing changes when any event is invalid.
func (s *Store) Replace(events []model.ExamEvent) error {
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return fmt.Errorf("invalid event %q: %w", events[i].ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	kept := make([]model.ExamEvent, 0, len(events))
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		kept = append(kept, e)
	}

	s.setLocked(kept)
	s.notifyChange(ChangeEvent{Type: ChangeTypeReplace, Count: len(kept)})

	return s.persistLocked()
}

// ApplyDisplayNames patches DisplayName on matching events and persists the
// result. It returns the number of events changed.
func (s *Store) ApplyDisplayNames(overrides []model.DisplayOverride) (int, error) {
	if len(overrides) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	changed := model.ApplyOverrides(s.events, overrides)
	if changed == 0 {
		return 0, nil
	}
	s.notifyChange(ChangeEvent{Type: ChangeTypeRename, Count: changed})

	return changed, s.persistLocked()
}

// Subscribe returns a channel that receives change events.
func (s *Store) Subscribe() <-chan ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan ChangeEvent, 10)
	if s.closed {
		close(ch)
		return ch
	}
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscription.
func (s *Store) Unsubscribe(ch <-chan ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close releases resources and closes all subscriber channels.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil

	if s.persistence != nil {
		return s.persistence.Close()
	}
	return nil
}

func (s *Store) setLocked(events []model.ExamEvent) {
	s.events = make([]model.ExamEvent, len(events))
	copy(s.events, events)
	core.SortStable(s.events)

	s.index = make(map[string]int, len(s.events))
	for i, e := range s.events {
		s.index[e.ID] = i
	}
}

func (s *Store) persistLocked() error {
	if s.persistence == nil {
		return nil
	}
	if err := s.persistence.ReplaceAll(s.events); err != nil {
		return fmt.Errorf("failed to persist events: %w", err)
	}
	return nil
}

// notifyChange sends a change event to all subscribers (non-blocking).
func (s *Store) notifyChange(event ChangeEvent) {
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Errors
var (
	ErrStoreClosed = storeError("store is closed")
)

type storeError string

func (e storeError) Error() string {
	return string(e)
}
