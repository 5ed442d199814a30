// Package discussion 管理一次提问（turn）的生命周期：校验、会话加载与创建、转录持久化和中止
package discussion

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/run-bigpig/thinktank/internal/logger"
	"github.com/run-bigpig/thinktank/internal/models"
	"github.com/run-bigpig/thinktank/internal/project"
	"github.com/run-bigpig/thinktank/internal/store"
	"github.com/run-bigpig/thinktank/internal/thinktank"
)

var log = logger.New("Service")

// 错误定义
var (
	ErrTurnInFlight        = errors.New("a discussion is already running in this conversation")
	ErrUnknownConversation = errors.New("unknown conversation")
)

// DefaultHistoryLimit 作为上下文加载的历史消息条数
const DefaultHistoryLimit = 30

// noteTimeout 写入中止提示的最大时长
const noteTimeout = 5 * time.Second

// titleRunes 会话标题取提问的前若干字符
const titleRunes = 60

// Input 一次提问
type Input struct {
	Message        string                 `json:"message" validate:"required"`
	ParticipantIDs []string               `json:"participantIds" validate:"required,min=1,dive,required"`
	Mode           models.DiscussionMode  `json:"mode" validate:"required,oneof=single sequential moderated free"`
	Timing         models.InterjectTiming `json:"timing,omitempty" validate:"omitempty,oneof=after_each_round key_points before_summary"`
	Rounds         *int                   `json:"rounds,omitempty"`
	ConversationID string                 `json:"conversationId,omitempty"`
	ProjectID      string                 `json:"projectId,omitempty"`
}

// Service 讨论服务
type Service struct {
	orch          *thinktank.Orchestrator
	conversations store.ConversationStore
	projects      *project.ContextBuilder
	validate      *validator.Validate
	historyLimit  int

	mu       sync.Mutex
	inflight map[string]context.CancelFunc // 每个会话最多一个进行中的 turn
}

// NewService 创建讨论服务，historyLimit<=0 时使用默认值
func NewService(orch *thinktank.Orchestrator, conversations store.ConversationStore, projects *project.ContextBuilder, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Service{
		orch:          orch,
		conversations: conversations,
		projects:      projects,
		validate:      v,
		historyLimit:  historyLimit,
		inflight:      make(map[string]context.CancelFunc),
	}
}

// Experts 专家表
func (s *Service) Experts() []models.Expert {
	return s.orch.Roster().All()
}

// StartTurn 同步完成所有校验并写入用户消息，返回可供推流的 Turn。
// 返回的 Turn 必须通过 Events 消费或调用 Close 释放。
func (s *Service) StartTurn(ctx context.Context, in Input) (*Turn, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	var (
		conv    *models.Conversation
		history []models.Message
		err     error
	)
	if in.ConversationID != "" {
		conv, err = s.conversations.GetConversation(ctx, in.ConversationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, in.ConversationID)
			}
			return nil, err
		}
		if conv.Mode != in.Mode {
			return nil, &thinktank.ValidationError{
				Field:   "mode",
				Message: fmt.Sprintf("conversation is in %s mode; start a new conversation to switch to %s", conv.Mode, in.Mode),
			}
		}
		history, err = s.conversations.ListMessages(ctx, conv.ID, s.historyLimit)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
	}

	projectID := in.ProjectID
	if projectID == "" && conv != nil {
		projectID = conv.ProjectID
	}
	projectContext, err := s.projects.Build(ctx, projectID)
	if err != nil {
		if errors.Is(err, project.ErrUnknownProject) {
			return nil, &thinktank.ValidationError{Field: "projectId", Message: err.Error()}
		}
		return nil, fmt.Errorf("load project: %w", err)
	}

	d, err := s.orch.Prepare(thinktank.Request{
		Message:        in.Message,
		ParticipantIDs: in.ParticipantIDs,
		Mode:           in.Mode,
		Timing:         in.Timing,
		Rounds:         in.Rounds,
		ProjectContext: projectContext,
		History:        history,
	})
	if err != nil {
		return nil, err
	}
	req := d.Request()

	if conv == nil {
		conv = &models.Conversation{
			Title:          title(req.Message),
			ParticipantIDs: req.ParticipantIDs,
			Mode:           req.Mode,
			ProjectID:      projectID,
		}
		if err := s.conversations.CreateConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		log.Info("conversation created: %s mode=%s", conv.ID, conv.Mode)
	} else {
		// 参与者以最近一次提问为准，turn 结束时随 UpdateConversation 写回
		conv.ParticipantIDs = req.ParticipantIDs
	}

	turnCtx, cancel := context.WithCancel(ctx)
	if !s.register(conv.ID, cancel) {
		cancel()
		return nil, ErrTurnInFlight
	}

	question := &models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        req.Message,
		Kind:           models.KindQuestion,
	}
	if err := s.conversations.AppendMessage(ctx, question); err != nil {
		s.release(conv.ID)
		cancel()
		return nil, fmt.Errorf("save question: %w", err)
	}

	return &Turn{
		svc:          s,
		conversation: conv,
		discussion:   d,
		ctx:          turnCtx,
		cancel:       cancel,
	}, nil
}

// validateInput 结构校验，错误统一转换为 *thinktank.ValidationError
func (s *Service) validateInput(in Input) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		msg := fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
		switch fe.Tag() {
		case "required", "min":
			msg = fe.Field() + " is required"
		case "oneof":
			msg = fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
		}
		return &thinktank.ValidationError{Field: fe.Field(), Message: msg}
	}
	return &thinktank.ValidationError{Message: err.Error()}
}

// Stop 中止会话中进行中的 turn，没有进行中的 turn 时返回 false
func (s *Service) Stop(conversationID string) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[conversationID]
	s.mu.Unlock()
	if ok {
		log.Info("stop requested: %s", conversationID)
		cancel()
	}
	return ok
}

// Conversation 返回会话及完整转录
func (s *Service) Conversation(ctx context.Context, id string) (*models.Conversation, []models.Message, error) {
	conv, err := s.conversations.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrUnknownConversation
		}
		return nil, nil, err
	}
	msgs, err := s.conversations.ListMessages(ctx, id, 0)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

// List 列出会话（最近更新的在前）
func (s *Service) List(ctx context.Context) ([]models.Conversation, error) {
	return s.conversations.ListConversations(ctx)
}

// Delete 删除会话，进行中的会话不能删除
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, busy := s.inflight[id]
	s.mu.Unlock()
	if busy {
		return ErrTurnInFlight
	}
	if err := s.conversations.DeleteConversation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownConversation
		}
		return err
	}
	return nil
}

func (s *Service) register(id string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = cancel
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func title(message string) string {
	line, _, _ := strings.Cut(message, "\n")
	r := []rune(strings.TrimSpace(line))
	if len(r) > titleRunes {
		return string(r[:titleRunes]) + "…"
	}
	return string(r)
}

// Turn 一次进行中的提问
type Turn struct {
	svc          *Service
	conversation *models.Conversation
	discussion   *thinktank.Discussion
	ctx          context.Context
	cancel       context.CancelFunc
	once         sync.Once
}

// ConversationID 会话 ID（新建或已有）
func (t *Turn) ConversationID() string { return t.conversation.ID }

// Outcome 讨论结果
func (t *Turn) Outcome() thinktank.Outcome { return t.discussion.Outcome() }

// Events 运行讨论并产出事件；每段发言结束时写入一条 assistant 消息，用户中止时追加系统提示
func (t *Turn) Events() iter.Seq[thinktank.Event] {
	return func(yield func(thinktank.Event) bool) {
		defer t.Close()

		for ev := range t.discussion.Events(t.ctx, t.commit) {
			if !yield(ev) {
				break
			}
		}

		// 讨论结束后的写入不受请求取消影响
		ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), noteTimeout)
		defer cancel()

		if t.discussion.Outcome() == thinktank.OutcomeStopped {
			note := &models.Message{
				ConversationID: t.conversation.ID,
				Role:           models.RoleSystem,
				Content:        thinktank.StoppedMessage,
				Kind:           models.KindNote,
			}
			if err := t.svc.conversations.AppendMessage(ctx, note); err != nil {
				log.Error("save stop note for %s: %v", t.conversation.ID, err)
			}
		}
		if err := t.svc.conversations.UpdateConversation(ctx, t.conversation); err != nil {
			log.Warn("touch conversation %s: %v", t.conversation.ID, err)
		}
		log.Info("turn finished: %s outcome=%s", t.conversation.ID, t.discussion.Outcome())
	}
}

// Close 释放 turn 占用的会话，可重复调用
func (t *Turn) Close() {
	t.once.Do(func() {
		t.svc.release(t.conversation.ID)
		t.cancel()
	})
}

// commit 把完成的发言写入会话
func (t *Turn) commit(ctx context.Context, seg thinktank.Segment) error {
	return t.svc.conversations.AppendMessage(ctx, &models.Message{
		ConversationID: t.conversation.ID,
		Role:           models.RoleAssistant,
		Content:        seg.Content,
		ParticipantID:  seg.Speaker.ID,
		Round:          seg.Round,
		Kind:           seg.Kind,
	})
}
