package utils

import (
	"sync"
	"time"
)

// Pacer enforces a minimum interval between successful operations per key.
// Only successful operations move the clock, so a failed send does not delay
// the next attempt for that key.
type Pacer struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        map[int64]time.Time

	Now   func() time.Time
	Sleep func(time.Duration)
}

// NewPacer creates a Pacer with the given minimum interval.
func NewPacer(minInterval time.Duration) *Pacer {
	return &Pacer{
		minInterval: minInterval,
		last:        make(map[int64]time.Time),
		Now:         time.Now,
		Sleep:       time.Sleep,
	}
}

// Wait blocks until key may be used again and returns how long it slept.
func (p *Pacer) Wait(key int64) time.Duration {
	p.mu.Lock()
	last, ok := p.last[key]
	p.mu.Unlock()
	if !ok {
		return 0
	}

	elapsed := p.Now().Sub(last)
	if elapsed >= p.minInterval {
		return 0
	}
	pause := p.minInterval - elapsed
	p.Sleep(pause)
	return pause
}

// Mark records a successful operation for key at the current time.
func (p *Pacer) Mark(key int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last[key] = p.Now()
}

// LastSent reports the last successful operation time for key.
func (p *Pacer) LastSent(key int64) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.last[key]
	return t, ok
}

// KeySet is a thread-safe set of string keys, used to skip listings already
// handled earlier in the same run.
type KeySet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{seen: make(map[string]struct{})}
}

// Add returns true if the key was newly added, false if already present.
func (s *KeySet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Contains returns true if the key has already been added.
func (s *KeySet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[key]
	return exists
}

// Size returns the number of unique keys tracked.
func (s *KeySet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
