package models

import "time"

// DiscussionMode 讨论模式
type DiscussionMode string

const (
	ModeSingle     DiscussionMode = "single"     // 单专家
	ModeSequential DiscussionMode = "sequential" // 按顺序轮流发言
	ModeModerated  DiscussionMode = "moderated"  // 主持人开场与总结
	ModeFree       DiscussionMode = "free"       // 多轮自由讨论
)

// Valid 是否为已知模式
func (m DiscussionMode) Valid() bool {
	switch m {
	case ModeSingle, ModeSequential, ModeModerated, ModeFree:
		return true
	}
	return false
}

// InterjectTiming 主持模式下用户插话时机
type InterjectTiming string

const (
	TimingAfterEachRound InterjectTiming = "after_each_round"
	TimingKeyPoints      InterjectTiming = "key_points"
	TimingBeforeSummary  InterjectTiming = "before_summary"
)

// MessageRole 消息角色
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageKind 消息类型
type MessageKind string

const (
	KindQuestion MessageKind = "question" // 用户提问
	KindOpening  MessageKind = "opening"  // 主持人开场
	KindOpinion  MessageKind = "opinion"  // 专家发言
	KindSummary  MessageKind = "summary"  // 总结
	KindNote     MessageKind = "note"     // 系统提示（如讨论被中止）
)

// Conversation 讨论会话
type Conversation struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	ParticipantIDs []string       `json:"participantIds"`
	Mode           DiscussionMode `json:"mode"`
	ProjectID      string         `json:"projectId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Message 会话消息，写入后不可变
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Seq            int64       `json:"seq"` // 会话内生成顺序
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	ParticipantID  string      `json:"participantId,omitempty"`
	Round          int         `json:"round,omitempty"`
	Kind           MessageKind `json:"kind,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}
