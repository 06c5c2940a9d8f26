// Package session provides in-memory conversation session management.
// State is volatile and lives for the process lifetime unless evicted.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/KafClaw/soulbot/internal/provider"
)

// Session is the stored history for one conversation. The system prompt is
// computed per turn and never stored here.
type Session struct {
	Key       string
	Messages  []provider.Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession creates a new session with the given key.
func NewSession(key string) *Session {
	now := time.Now()
	return &Session{
		Key:       key,
		Messages:  []provider.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Store owns every live session, keyed by session id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session), now: time.Now}
}

// getOrCreate must be called with the write lock held.
func (s *Store) getOrCreate(key string) *Session {
	sess, ok := s.sessions[key]
	if !ok {
		sess = NewSession(key)
		sess.CreatedAt = s.now()
		sess.UpdatedAt = sess.CreatedAt
		s.sessions[key] = sess
	}
	return sess
}

// Append adds messages to a session, creating it on first touch, and returns
// the history length before the append.
func (s *Store) Append(key string, msgs ...provider.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreate(key)
	before := len(sess.Messages)
	sess.Messages = append(sess.Messages, msgs...)
	sess.UpdatedAt = s.now()
	return before
}

// Truncate drops every message at index n and beyond. It is used to roll a
// failed turn back out of the history.
func (s *Store) Truncate(key string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok || n < 0 || n >= len(sess.Messages) {
		return
	}
	clear(sess.Messages[n:])
	sess.Messages = sess.Messages[:n]
	sess.UpdatedAt = s.now()
}

// History returns a copy of the session's stored messages.
func (s *Store) History(key string) []provider.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}
	out := make([]provider.Message, len(sess.Messages))
	copy(out, sess.Messages)
	return out
}

// Replace swaps a session's history, as compaction does.
func (s *Store) Replace(key string, msgs []provider.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreate(key)
	sess.Messages = append([]provider.Message(nil), msgs...)
	sess.UpdatedAt = s.now()
}

// Len returns the number of stored messages for a session.
func (s *Store) Len(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[key]; ok {
		return len(sess.Messages)
	}
	return 0
}

// Evict removes a session. It reports whether the session existed.
func (s *Store) Evict(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[key]
	delete(s.sessions, key)
	return ok
}

// EvictIdle removes sessions not updated within maxIdle and returns the
// evicted keys.
func (s *Store) EvictIdle(maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxIdle)
	var evicted []string
	for key, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, key)
			evicted = append(evicted, key)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// SessionInfo contains metadata about a session.
type SessionInfo struct {
	Key       string
	Messages  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// List returns information about all live sessions, sorted by key.
func (s *Store) List() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, SessionInfo{
			Key:       sess.Key,
			Messages:  len(sess.Messages),
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
