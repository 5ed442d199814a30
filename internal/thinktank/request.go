package thinktank

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/run-bigpig/thinktank/internal/models"
)

// 轮次范围
const (
	MinRounds = 1
	MaxRounds = 10

	defaultSequentialRounds = 1
	defaultFreeRounds       = 3
)

// Request 一次讨论请求
type Request struct {
	Message        string
	ParticipantIDs []string
	Mode           models.DiscussionMode
	Timing         models.InterjectTiming // 仅主持模式使用
	Rounds         *int                   // nil 表示使用模式默认值
	ProjectContext string                 // 注入每位发言者提示词的项目摘要
	History        []models.Message       // 会话中已有的消息（按 Seq 升序）
}

// ValidationError 请求校验错误，在开始推流前同步返回
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Normalize 规范化请求：消息去空白并做 NFC 归一化，参与者去重保序，轮次按模式取默认值并限制在 [1,10]
func Normalize(req Request) (Request, error) {
	req.Message = norm.NFC.String(strings.TrimSpace(req.Message))
	if req.Message == "" {
		return req, invalid("message", "message must not be empty")
	}
	if !req.Mode.Valid() {
		return req, invalid("mode", "unknown mode %q", req.Mode)
	}

	switch req.Timing {
	case "":
		if req.Mode == models.ModeModerated {
			req.Timing = models.TimingBeforeSummary
		}
	case models.TimingAfterEachRound, models.TimingKeyPoints, models.TimingBeforeSummary:
	default:
		return req, invalid("timing", "unknown timing %q", req.Timing)
	}

	req.ParticipantIDs = dedupe(req.ParticipantIDs)

	rounds := defaultRounds(req.Mode)
	if req.Rounds != nil {
		rounds = ClampRounds(*req.Rounds)
	}
	req.Rounds = &rounds
	return req, nil
}

// ClampRounds 把轮次限制在 [MinRounds, MaxRounds]
func ClampRounds(n int) int {
	return min(max(n, MinRounds), MaxRounds)
}

func defaultRounds(mode models.DiscussionMode) int {
	if mode == models.ModeFree {
		return defaultFreeRounds
	}
	return defaultSequentialRounds
}

// dedupe 去掉空白与重复的 ID，保留首次出现的顺序
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
