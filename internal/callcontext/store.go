// Package callcontext implements the in-process call-context store: the
// association from a call id to the personalization payload an agent needs
// on first contact.
//
// Grounded on original_source/app/services/dialers/context.py, a plain
// module-level dict with store/get/cleanup/clear — not on
// iamprashant-voice-ai's Postgres-backed Store, which retains rows past
// call completion for async callback resolution. Each call-id here is
// touched by at most one setup handler and one bridge, so a simple
// mutex-guarded map is sufficient (per the concurrency model).
package callcontext

import "sync"

// Context is the personalization payload handed to an agent on connect.
type Context struct {
	AgentID          string
	DynamicVariables map[string]any
}

// Store is an in-process, ephemeral call-id -> Context mapping.
type Store struct {
	mu    sync.Mutex
	items map[string]Context
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{items: make(map[string]Context)}
}

// Save associates callID with ctx, overwriting any existing entry.
func (s *Store) Save(callID string, ctx Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[callID] = ctx
}

// Get returns the context for callID, and whether it was present. It does
// not remove the entry; call Delete explicitly once consumed.
func (s *Store) Get(callID string) (Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.items[callID]
	return ctx, ok
}

// Delete removes callID's entry, if present. Safe to call more than once.
func (s *Store) Delete(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, callID)
}

// Len reports the number of stored contexts. Intended for tests/diagnostics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
