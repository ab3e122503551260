// Package store holds the client-local conversation cache: an in-memory
// map of conversations, written through to a single persisted snapshot
// slot on every mutation.
package store

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/soyeahso/chatstudio/internal/domain"
	"github.com/soyeahso/chatstudio/internal/logging"
)

// snapshotState is the serialized form of the whole store.
type snapshotState struct {
	// Archived conversations, most recently archived first.
	Archived []*domain.Conversation `json:"archived"`
	// Active is the conversation currently being composed, if any.
	Active *domain.Conversation `json:"active,omitempty"`
}

// Store owns all in-memory conversations for the client session. It is
// the only writer of the persistent slot.
type Store struct {
	mu       sync.Mutex
	snap     Snapshot
	log      *logging.Logger
	active   *domain.Conversation
	archived []*domain.Conversation // most recently archived first
}

// New creates a store and loads the persisted snapshot. A missing or
// corrupt snapshot yields an empty store, never an error to the caller.
func New(snap Snapshot, log *logging.Logger) *Store {
	s := &Store{snap: snap, log: log.Sub("store")}

	data, err := snap.Load()
	if err != nil {
		s.log.Warn().Err(err).Msg("snapshot load failed, starting empty")
		return s
	}
	if len(data) == 0 {
		return s
	}

	var state snapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn().Err(err).Msg("snapshot corrupt, starting empty")
		return s
	}
	s.archived = state.Archived
	s.active = state.Active

	s.log.Info().Int("archived", len(s.archived)).Msg("conversations loaded")
	return s
}

// Active returns the active conversation, or nil.
func (s *Store) Active() *domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActive installs a conversation in the active slot.
func (s *Store) SetActive(c *domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = c
	s.persist()
}

// Get returns the conversation with the given id, active or archived.
func (s *Store) Get(id string) (*domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *Store) get(id string) (*domain.Conversation, bool) {
	if s.active != nil && s.active.ID == id {
		return s.active, true
	}
	for _, c := range s.archived {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Turns returns a snapshot of a conversation's turn sequence. Callers
// holding a *Conversation across goroutines should read turns through
// this instead of the live slice.
func (s *Store) Turns(id string) []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.get(id)
	if !ok {
		return nil
	}
	return append([]domain.Turn(nil), c.Turns...)
}

// AppendTurn appends a turn to the conversation with the given id,
// wherever it lives. Returns false if no such conversation exists
// locally (a late reply against a deleted conversation).
func (s *Store) AppendTurn(id string, t domain.Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.get(id)
	if !ok {
		return false
	}
	c.Append(t)
	s.persist()
	return true
}

// Archive moves the active conversation into the archived list at index
// 0. Conversations with zero turns are dropped instead of archived.
func (s *Store) Archive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.active
	s.active = nil
	if c == nil {
		return
	}
	if len(c.Turns) == 0 {
		s.persist()
		return
	}
	s.removeArchived(c.ID)
	s.archived = append([]*domain.Conversation{c}, s.archived...)
	s.persist()
}

// Select moves an archived conversation into the active slot. The
// previously active conversation, if any, is archived first. Returns
// false if the id is not present locally.
func (s *Store) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.ID == id {
		return true
	}
	idx := slices.IndexFunc(s.archived, func(c *domain.Conversation) bool { return c.ID == id })
	if idx < 0 {
		return false
	}
	c := s.archived[idx]
	s.archived = slices.Delete(s.archived, idx, idx+1)
	if prev := s.active; prev != nil && len(prev.Turns) > 0 {
		s.archived = append([]*domain.Conversation{prev}, s.archived...)
	}
	s.active = c
	s.persist()
	return true
}

// Archived returns the archived conversations, most recent first.
func (s *Store) Archived() []*domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.archived)
}

// Delete removes a conversation from the store. Returns false if absent.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.ID == id {
		s.active = nil
		s.persist()
		return true
	}
	idx := slices.IndexFunc(s.archived, func(c *domain.Conversation) bool { return c.ID == id })
	if idx < 0 {
		return false
	}
	s.archived = slices.Delete(s.archived, idx, idx+1)
	s.persist()
	return true
}

func (s *Store) removeArchived(id string) {
	idx := slices.IndexFunc(s.archived, func(c *domain.Conversation) bool { return c.ID == id })
	if idx >= 0 {
		s.archived = slices.Delete(s.archived, idx, idx+1)
	}
}

// persist re-serializes the whole store into the snapshot slot. Save
// failures are logged, not surfaced: the in-memory state stays
// authoritative for the rest of the session.
func (s *Store) persist() {
	state := snapshotState{Archived: s.archived, Active: s.active}
	data, err := json.Marshal(state)
	if err != nil {
		s.log.Error().Err(err).Msg("snapshot marshal failed")
		return
	}
	if err := s.snap.Save(data); err != nil {
		s.log.Error().Err(err).Msg("snapshot save failed")
	}
}
