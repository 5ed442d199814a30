package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"slices"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/run-bigpig/thinktank/internal/logger"
	"github.com/run-bigpig/thinktank/internal/models"
)

// newGormLogger gorm 日志写入模块日志
func newGormLogger(w io.Writer) gormlogger.Interface {
	return gormlogger.New(stdlog.New(w, "", 0), gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// conversationRow conversations 表
type conversationRow struct {
	ID             string         `gorm:"primaryKey;size:64"`
	Title          string         `gorm:"size:255"`
	ParticipantIDs datatypes.JSON `gorm:"type:jsonb"`
	Mode           string         `gorm:"size:32"`
	ProjectID      string         `gorm:"size:64"`
	LastSeq        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index"`
}

func (conversationRow) TableName() string { return "conversations" }

// messageRow messages 表，(conversation_id, seq) 唯一
type messageRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	ConversationID string `gorm:"size:64;uniqueIndex:idx_messages_conv_seq,priority:1"`
	Seq            int64  `gorm:"uniqueIndex:idx_messages_conv_seq,priority:2"`
	Role           string `gorm:"size:16"`
	Content        string `gorm:"type:text"`
	ParticipantID  string `gorm:"size:64"`
	Round          int
	Kind           string `gorm:"size:16"`
	CreatedAt      time.Time
}

func (messageRow) TableName() string { return "messages" }

// projectRow projects 表
type projectRow struct {
	ID         string         `gorm:"primaryKey;size:64"`
	Title      string         `gorm:"size:255"`
	Summary    string         `gorm:"type:text"`
	Stage      string         `gorm:"size:64"`
	Notes      string         `gorm:"type:text"`
	Tasks      datatypes.JSON `gorm:"type:jsonb"`
	Milestones datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (projectRow) TableName() string { return "projects" }

// PostgresStore 基于 gorm + postgres 的存储
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgresStore 连接数据库并迁移表结构
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction:                   true,
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   newGormLogger(log.Writer(logger.WARN)),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&conversationRow{}, &messageRow{}, &projectRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("postgres store connected")
	return &PostgresStore{db: db}, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func toConversationRow(c *models.Conversation) (*conversationRow, error) {
	ids, err := json.Marshal(c.ParticipantIDs)
	if err != nil {
		return nil, err
	}
	return &conversationRow{
		ID:             c.ID,
		Title:          c.Title,
		ParticipantIDs: datatypes.JSON(ids),
		Mode:           string(c.Mode),
		ProjectID:      c.ProjectID,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}, nil
}

func (r *conversationRow) model() (models.Conversation, error) {
	c := models.Conversation{
		ID:        r.ID,
		Title:     r.Title,
		Mode:      models.DiscussionMode(r.Mode),
		ProjectID: r.ProjectID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.ParticipantIDs) > 0 {
		if err := json.Unmarshal(r.ParticipantIDs, &c.ParticipantIDs); err != nil {
			return c, err
		}
	}
	return c, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	prepareConversation(c)
	row, err := toConversationRow(c)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var row conversationRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	c, err := row.model()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) UpdateConversation(ctx context.Context, c *models.Conversation) error {
	c.UpdatedAt = time.Now().UTC()
	row, err := toConversationRow(c)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", c.ID).Updates(map[string]any{
		"title":           row.Title,
		"participant_ids": row.ParticipantIDs,
		"mode":            row.Mode,
		"project_id":      row.ProjectID,
		"updated_at":      row.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var rows []conversationRow
	if err := s.db.WithContext(ctx).Order("updated_at DESC, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Conversation, 0, len(rows))
	for i := range rows {
		c, err := rows[i].model()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&conversationRow{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Delete(&messageRow{}, "conversation_id = ?", id).Error
	})
}

// AppendMessage 锁定会话行并递增 last_seq，保证并发追加时 Seq 唯一且递增
func (s *PostgresStore) AppendMessage(ctx context.Context, m *models.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv conversationRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&conv, "id = ?", m.ConversationID).Error
		if err != nil {
			return notFound(err)
		}
		prepareMessage(m, conv.LastSeq+1)
		if err := tx.Model(&conversationRow{}).Where("id = ?", conv.ID).Update("last_seq", m.Seq).Error; err != nil {
			return err
		}
		return tx.Create(&messageRow{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Seq:            m.Seq,
			Role:           string(m.Role),
			Content:        m.Content,
			ParticipantID:  m.ParticipantID,
			Round:          m.Round,
			Kind:           string(m.Kind),
			CreatedAt:      m.CreatedAt,
		}).Error
	})
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Message{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Seq:            r.Seq,
			Role:           models.MessageRole(r.Role),
			Content:        r.Content,
			ParticipantID:  r.ParticipantID,
			Round:          r.Round,
			Kind:           models.MessageKind(r.Kind),
			CreatedAt:      r.CreatedAt,
		})
	}
	slices.Reverse(out)
	return out, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	prepareProject(p)
	tasks, err := json.Marshal(p.Tasks)
	if err != nil {
		return err
	}
	milestones, err := json.Marshal(p.Milestones)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&projectRow{
		ID:         p.ID,
		Title:      p.Title,
		Summary:    p.Summary,
		Stage:      p.Stage,
		Notes:      p.Notes,
		Tasks:      datatypes.JSON(tasks),
		Milestones: datatypes.JSON(milestones),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}).Error
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var row projectRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	p := &models.Project{
		ID:        row.ID,
		Title:     row.Title,
		Summary:   row.Summary,
		Stage:     row.Stage,
		Notes:     row.Notes,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Tasks) > 0 {
		if err := json.Unmarshal(row.Tasks, &p.Tasks); err != nil {
			return nil, err
		}
	}
	if len(row.Milestones) > 0 {
		if err := json.Unmarshal(row.Milestones, &p.Milestones); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
