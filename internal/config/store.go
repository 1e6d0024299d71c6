package config

import "sync"

// Store holds the active configuration. Readers get an immutable snapshot;
// Replace swaps the whole value.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Store) Replace(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}
