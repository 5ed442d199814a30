package thinktank

// EventType 流事件类型
type EventType string

const (
	EventExpertStart EventType = "expert_start" // 开始一段发言
	EventContent     EventType = "content"      // 发言片段
	EventExpertEnd   EventType = "expert_end"   // 发言结束
	EventRound       EventType = "round"        // 轮次边界
	EventError       EventType = "error"        // 终止：上游失败或超时
	EventStopped     EventType = "stopped"      // 终止：用户中止
	EventDone        EventType = "done"         // 终止：正常完成
)

// StoppedMessage 用户中止时展示并写入会话的提示
const StoppedMessage = "Discussion stopped by user."

// Event 讨论流中的一个事件，序列化后即为 SSE 的 data 部分
type Event struct {
	Type        EventType `json:"type"`
	ExpertID    string    `json:"expertId,omitempty"`
	ExpertName  string    `json:"expertName,omitempty"`
	ExpertRole  string    `json:"expertRole,omitempty"`
	Round       int       `json:"round,omitempty"`
	TotalRounds int       `json:"totalRounds,omitempty"`
	Content     string    `json:"content,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Terminal 是否为终止事件
func (e Event) Terminal() bool {
	switch e.Type {
	case EventError, EventStopped, EventDone:
		return true
	}
	return false
}
