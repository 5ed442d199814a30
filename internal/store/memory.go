package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/run-bigpig/thinktank/internal/models"
)

// MemoryStore 进程内存储
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	projects      map[string]models.Project
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		projects:      make(map[string]models.Project),
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, c *models.Conversation) error {
	prepareConversation(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *c
	stored.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	s.conversations[c.ID] = stored
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	return &c, nil
}

func (s *MemoryStore) UpdateConversation(_ context.Context, c *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.ID]; !ok {
		return ErrNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	stored := *c
	stored.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	s.conversations[c.ID] = stored
	return nil
}

func (s *MemoryStore) ListConversations(_ context.Context) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		c.ParticipantIDs = slices.Clone(c.ParticipantIDs)
		out = append(out, c)
	}
	sortConversations(out)
	return out, nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return ErrNotFound
	}
	msgs := s.messages[m.ConversationID]
	var last int64
	if n := len(msgs); n > 0 {
		last = msgs[n-1].Seq
	}
	prepareMessage(m, last+1)
	s.messages[m.ConversationID] = append(msgs, *m)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(tail(s.messages[conversationID], limit)), nil
}

func (s *MemoryStore) CreateProject(_ context.Context, p *models.Project) error {
	prepareProject(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) Close() error { return nil }

// sortConversations 按更新时间倒序，时间相同按 ID
func sortConversations(cs []models.Conversation) {
	slices.SortFunc(cs, func(a, b models.Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
