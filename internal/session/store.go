package session

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cellavenue/rag-backend/internal/storage/models"
)

// MaxHistoryTurns bounds how many conversation turns a session retains.
const MaxHistoryTurns = 10

// Store holds per-session conversation history. Implementations must make
// Append atomic with respect to concurrent appenders on the same id.
type Store interface {
	Create() string
	Get(id string) []models.Message
	Append(id, role, content string)
	Count() int
}

// memoryStore is a process-lifetime map guarded by a single lock. Critical
// sections are one map operation each, so sessions never block one another
// for longer than that.
type memoryStore struct {
	mu       sync.Mutex
	maxTurns int
	sessions map[string][]models.Message
}

func NewMemoryStore(maxTurns int) Store {
	if maxTurns <= 0 {
		maxTurns = MaxHistoryTurns
	}
	return &memoryStore{
		maxTurns: maxTurns,
		sessions: make(map[string][]models.Message),
	}
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (s *memoryStore) Create() string {
	id := newSessionID()
	s.mu.Lock()
	s.sessions[id] = nil
	s.mu.Unlock()
	return id
}

// Get returns a copy of the session's history; an unknown id yields an
// empty history.
func (s *memoryStore) Get(id string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.sessions[id]
	out := make([]models.Message, len(history))
	copy(out, history)
	return out
}

// Append adds a message and trims the history to the most recent
// 2*maxTurns messages, oldest first.
func (s *memoryStore) Append(id, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.sessions[id], models.Message{Role: role, Content: content})
	if limit := s.maxTurns * 2; len(history) > limit {
		history = history[len(history)-limit:]
	}
	s.sessions[id] = history
}

func (s *memoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
