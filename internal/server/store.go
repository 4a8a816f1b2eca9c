package server

import (
	"sync"

	"github.com/CK6170/Msectrax-go/session"
)

// StateStore keeps the latest update per head stage and a short history.
type StateStore struct {
	mu      sync.RWMutex
	latest  map[string]StateView
	history []StateView
	max     int
}

func NewStateStore(max int) *StateStore {
	if max <= 0 {
		max = 600
	}
	return &StateStore{latest: make(map[string]StateView), max: max}
}

func (s *StateStore) Put(u session.StateUpdate) StateView {
	v := viewOf(u)
	s.mu.Lock()
	s.latest[v.HeadStage] = v
	s.history = append(s.history, v)
	if len(s.history) > s.max {
		s.history = append(s.history[:0], s.history[len(s.history)-s.max:]...)
	}
	s.mu.Unlock()
	return v
}

func (s *StateStore) Latest(headStage string) (StateView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.latest[headStage]
	return v, ok
}

func (s *StateStore) All() map[string]StateView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]StateView, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out
}

// History returns up to n of the most recent updates, oldest first.
func (s *StateStore) History(n int) []StateView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	return append([]StateView(nil), s.history[len(s.history)-n:]...)
}
