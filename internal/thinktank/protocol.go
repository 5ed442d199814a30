package thinktank

import (
	"github.com/run-bigpig/thinktank/internal/models"
)

// StepKind 计划步骤类型
type StepKind int

const (
	StepRound StepKind = iota // 宣布新的一轮
	StepTurn                  // 一段发言
)

// Step 讨论计划中的一步
type Step struct {
	Kind        StepKind
	Round       int // 发言所属轮次，主持/单专家模式为 0
	TotalRounds int
	Speaker     models.Expert
	MessageKind models.MessageKind
	// InterjectBefore 本段发言前是用户插话点，发言者先请用户补充
	InterjectBefore bool
}

// PromptContext 构造发言提示词所需的上下文
type PromptContext struct {
	Request      Request
	Step         Step
	Participants []models.Expert
	Spoken       []Segment // 本次讨论中已完成的发言
	History      string    // 会话中更早的消息
}

// Protocol 讨论模式：决定参与人数、发言计划和每段发言的提示词
type Protocol interface {
	Mode() models.DiscussionMode
	// ParticipantRange 允许的参与者数量，max 为 0 表示不限
	ParticipantRange() (min, max int)
	Plan(participants []models.Expert, rounds int, timing models.InterjectTiming) []Step
	Prompt(pc PromptContext) models.Prompt
}

// ProtocolFor 返回模式对应的讨论协议
func ProtocolFor(mode models.DiscussionMode) (Protocol, bool) {
	switch mode {
	case models.ModeSingle:
		return singleProtocol{}, true
	case models.ModeSequential:
		return sequentialProtocol{}, true
	case models.ModeModerated:
		return moderatedProtocol{}, true
	case models.ModeFree:
		return freeProtocol{}, true
	}
	return nil, false
}

// 主持模式中的合成发言者
var (
	Moderator = models.Expert{
		ID:   models.ModeratorID,
		Name: "Moderator",
		Role: "Discussion moderator",
		Instruction: "You are the moderator of a think-tank panel for startup founders. " +
			"You frame questions sharply and keep experts focused. You never give your own verdict.",
	}
	Summarizer = models.Expert{
		ID:   models.SummaryID,
		Name: "Summary",
		Role: "Discussion summary",
		Instruction: "You are the moderator closing a think-tank panel for startup founders. " +
			"You condense the discussion into decisions the founder can act on.",
	}
)

// singleProtocol 单专家直接回答
type singleProtocol struct{}

func (singleProtocol) Mode() models.DiscussionMode { return models.ModeSingle }

func (singleProtocol) ParticipantRange() (int, int) { return 1, 1 }

func (singleProtocol) Plan(participants []models.Expert, _ int, _ models.InterjectTiming) []Step {
	if len(participants) == 0 {
		return nil
	}
	return []Step{{Kind: StepTurn, Speaker: participants[0], MessageKind: models.KindOpinion}}
}

func (singleProtocol) Prompt(pc PromptContext) models.Prompt {
	return expertPrompt(pc, "Answer the founder directly and concretely.")
}

// sequentialProtocol 专家按给定顺序轮流发言，可重复多轮
type sequentialProtocol struct{}

func (sequentialProtocol) Mode() models.DiscussionMode { return models.ModeSequential }

func (sequentialProtocol) ParticipantRange() (int, int) { return 2, 0 }

func (sequentialProtocol) Plan(participants []models.Expert, rounds int, _ models.InterjectTiming) []Step {
	return roundRobin(participants, rounds)
}

func (sequentialProtocol) Prompt(pc PromptContext) models.Prompt {
	return expertPrompt(pc, "Experts speak in turn. Build on the points already made instead of repeating them, and add what only your discipline can see.")
}

// freeProtocol 多轮自由讨论，专家相互回应
type freeProtocol struct{}

func (freeProtocol) Mode() models.DiscussionMode { return models.ModeFree }

func (freeProtocol) ParticipantRange() (int, int) { return 2, 0 }

func (freeProtocol) Plan(participants []models.Expert, rounds int, _ models.InterjectTiming) []Step {
	return roundRobin(participants, rounds)
}

func (freeProtocol) Prompt(pc PromptContext) models.Prompt {
	guidance := "This is an open debate. Respond to the other experts by name: agree, challenge or sharpen their arguments."
	if pc.Step.Round == pc.Step.TotalRounds && pc.Step.TotalRounds > 1 {
		guidance += " This is the final round, so converge on your firmest recommendation."
	}
	return expertPrompt(pc, guidance)
}

// roundRobin 每轮先宣布轮次，再让所有参与者依次发言
func roundRobin(participants []models.Expert, rounds int) []Step {
	if len(participants) == 0 {
		return nil
	}
	steps := make([]Step, 0, rounds*(len(participants)+1))
	for round := 1; round <= rounds; round++ {
		steps = append(steps, Step{Kind: StepRound, Round: round, TotalRounds: rounds})
		for _, p := range participants {
			steps = append(steps, Step{
				Kind:        StepTurn,
				Round:       round,
				TotalRounds: rounds,
				Speaker:     p,
				MessageKind: models.KindOpinion,
			})
		}
	}
	return steps
}

// moderatedProtocol 主持人开场，专家依次发言，最后总结
type moderatedProtocol struct{}

func (moderatedProtocol) Mode() models.DiscussionMode { return models.ModeModerated }

func (moderatedProtocol) ParticipantRange() (int, int) { return 2, 0 }

func (moderatedProtocol) Plan(participants []models.Expert, _ int, timing models.InterjectTiming) []Step {
	if len(participants) == 0 {
		return nil
	}
	steps := make([]Step, 0, len(participants)+2)
	steps = append(steps, Step{Kind: StepTurn, Speaker: Moderator, MessageKind: models.KindOpening})
	for i, p := range participants {
		step := Step{Kind: StepTurn, Speaker: p, MessageKind: models.KindOpinion}
		switch timing {
		case models.TimingAfterEachRound:
			step.InterjectBefore = i > 0
		case models.TimingKeyPoints:
			step.InterjectBefore = i == 0
		}
		steps = append(steps, step)
	}
	steps = append(steps, Step{Kind: StepTurn, Speaker: Summarizer, MessageKind: models.KindSummary, InterjectBefore: true})
	return steps
}

func (moderatedProtocol) Prompt(pc PromptContext) models.Prompt {
	switch pc.Step.MessageKind {
	case models.KindOpening:
		return openingPrompt(pc)
	case models.KindSummary:
		return summaryPrompt(pc)
	}
	return expertPrompt(pc, "The moderator has framed the question. Give your perspective on it and keep to your own area of expertise.")
}
