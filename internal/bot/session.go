package bot

import (
	"sync"

	"callboard/internal/domain"
)

type conversationStep int

const (
	stepName conversationStep = iota
	stepRole
	stepDiscipline
)

// conversation tracks one chat's registration progress. State lives in
// memory only; an interrupted registration restarts from /start.
type conversation struct {
	Step        conversationStep
	DisplayName string
	Role        domain.Role
}

type sessionStore struct {
	mu    sync.Mutex
	chats map[int64]*conversation
}

func newSessionStore() *sessionStore {
	return &sessionStore{chats: map[int64]*conversation{}}
}

func (s *sessionStore) begin(chatID int64) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &conversation{Step: stepName}
	s.chats[chatID] = c
	return c
}

func (s *sessionStore) get(chatID int64) (*conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	return c, ok
}

func (s *sessionStore) end(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
}
