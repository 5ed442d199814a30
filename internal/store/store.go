// Package store 持久化会话、消息与项目，提供内存、bbolt 与 postgres 三种实现
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/run-bigpig/thinktank/internal/logger"
	"github.com/run-bigpig/thinktank/internal/models"
)

var log = logger.New("Store")

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// ConversationStore 会话与消息存储
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	UpdateConversation(ctx context.Context, c *models.Conversation) error
	// ListConversations 按更新时间倒序
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	// DeleteConversation 同时删除会话下的所有消息
	DeleteConversation(ctx context.Context, id string) error
	// AppendMessage 追加消息并分配会话内递增的 Seq
	AppendMessage(ctx context.Context, m *models.Message) error
	// ListMessages 返回最近 limit 条消息（Seq 升序），limit<=0 返回全部
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// ProjectStore 项目存储
type ProjectStore interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
}

// Store 全部存储能力
type Store interface {
	ConversationStore
	ProjectStore
	Close() error
}

// prepareConversation 补齐 ID 与时间戳
func prepareConversation(c *models.Conversation) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
}

func prepareMessage(m *models.Message, seq int64) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Seq = seq
}

func prepareProject(p *models.Project) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}

// tail 取最后 limit 条
func tail(msgs []models.Message, limit int) []models.Message {
	if limit > 0 && len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}

// 存储后端
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Options 存储选项
type Options struct {
	Backend  string
	BoltPath string
	DSN      string
}

// Open 按后端类型打开存储
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendBolt:
		return OpenBoltStore(opts.BoltPath)
	case BackendPostgres:
		return OpenPostgresStore(opts.DSN)
	}
	return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
}
