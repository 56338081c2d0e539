package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/taptalk/backend/internal/model/chat"
)

// MemoryStore keeps conversations in process memory. A positive ttl evicts
// sessions idle for longer than ttl.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	lastID   uint64
	ttl      time.Duration
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession provisions a new session with a random identifier.
func (s *MemoryStore) CreateSession(_ context.Context) (chat.Session, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	for _, taken := s.sessions[id]; taken; _, taken = s.sessions[id] {
		id = uuid.NewString()
	}

	session := chat.Session{ID: id, CreatedAt: now, LastActive: now}
	s.sessions[id] = session
	s.messages[id] = make([]chat.Message, 0, 16)
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok || s.expired(session, s.now()) {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// TouchSession bumps LastActive to now.
func (s *MemoryStore) TouchSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchLocked(sessionID, s.now())
}

// AppendMessage stores a message under the next ordinal and touches the session.
func (s *MemoryStore) AppendMessage(_ context.Context, sessionID, content string, isUser bool) (chat.Message, error) {
	if content == "" {
		return chat.Message{}, ErrEmptyContent
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || s.expired(session, now) {
		return chat.Message{}, ErrSessionNotFound
	}

	transcript := s.messages[sessionID]
	stamp := now
	if n := len(transcript); n > 0 && transcript[n-1].Timestamp.After(stamp) {
		stamp = transcript[n-1].Timestamp
	}

	s.lastID++
	message := chat.Message{
		ID:        s.lastID,
		SessionID: sessionID,
		Content:   content,
		IsUser:    isUser,
		Timestamp: stamp,
	}
	s.messages[sessionID] = append(transcript, message)

	if _, err := s.touchLocked(sessionID, stamp); err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

// ListMessages returns a sorted copy of the session transcript.
func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[sessionID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)

	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].Before(copied[j])
	})
	return copied, nil
}

// DeleteSession drops a session and its transcript.
func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	return ok, nil
}

// Run evicts expired sessions every interval until ctx is done.
// It returns immediately when the store has no ttl.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evict()
		}
	}
}

// Evict removes every expired session and returns how many were dropped.
func (s *MemoryStore) Evict() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, session := range s.sessions {
		if s.expired(session, now) {
			delete(s.sessions, id)
			delete(s.messages, id)
			evicted++
		}
	}
	return evicted
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) touchLocked(sessionID string, now time.Time) (chat.Session, error) {
	session, ok := s.sessions[sessionID]
	if !ok || s.expired(session, now) {
		return chat.Session{}, ErrSessionNotFound
	}
	if now.After(session.LastActive) {
		session.LastActive = now
	}
	s.sessions[sessionID] = session
	return session, nil
}

func (s *MemoryStore) expired(session chat.Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(session.LastActive) > s.ttl
}
