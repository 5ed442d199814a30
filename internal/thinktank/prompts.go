package thinktank

import (
	"fmt"
	"strings"

	"github.com/run-bigpig/thinktank/internal/models"
)

// 单段发言的篇幅要求
const lengthHint = "Keep it under 180 words. Plain prose, no headings."

const interjectHint = "The founder has just been invited to weigh in. Open with one sentence asking whether they want to add or correct anything, then continue."

// expertPrompt 构造专家发言提示词
func expertPrompt(pc PromptContext, guidance string) models.Prompt {
	speaker := pc.Step.Speaker

	var sys strings.Builder
	sys.WriteString(persona(speaker))
	sys.WriteString("\n\nYou are part of a think tank helping a founder with their startup idea.\n")
	if len(pc.Participants) > 1 {
		sys.WriteString("Panel: ")
		sys.WriteString(panelList(pc.Participants))
		sys.WriteString("\n")
	}
	if pc.Step.TotalRounds > 1 {
		sys.WriteString(fmt.Sprintf("This is round %d of %d.\n", pc.Step.Round, pc.Step.TotalRounds))
	}
	sys.WriteString(guidance)
	sys.WriteString("\n")
	sys.WriteString(lengthHint)
	writeProject(&sys, pc.Request.ProjectContext)

	return models.Prompt{System: sys.String(), User: userPrompt(pc)}
}

// openingPrompt 主持人开场提示词
func openingPrompt(pc PromptContext) models.Prompt {
	var sys strings.Builder
	sys.WriteString(persona(pc.Step.Speaker))
	sys.WriteString("\n\nOpen the panel discussion: restate the founder's question in one sentence, ")
	sys.WriteString("then tell each panelist which angle to cover. Do not answer the question yourself.\n")
	sys.WriteString("Panel: ")
	sys.WriteString(panelList(pc.Participants))
	sys.WriteString("\n")
	sys.WriteString(lengthHint)
	writeProject(&sys, pc.Request.ProjectContext)

	return models.Prompt{System: sys.String(), User: userPrompt(pc)}
}

// summaryPrompt 总结提示词
func summaryPrompt(pc PromptContext) models.Prompt {
	var sys strings.Builder
	sys.WriteString(persona(pc.Step.Speaker))
	sys.WriteString("\n\nClose the panel discussion. Summarize where the experts agree, where they disagree, ")
	sys.WriteString("and finish with the three most important next steps for the founder.\n")
	sys.WriteString("Keep it under 220 words.")
	writeProject(&sys, pc.Request.ProjectContext)

	return models.Prompt{System: sys.String(), User: userPrompt(pc)}
}

// userPrompt 用户侧内容：更早的会话、本次已有发言、插话提示，最后是问题本身
func userPrompt(pc PromptContext) string {
	var sb strings.Builder
	if pc.History != "" {
		sb.WriteString("Earlier in this conversation:\n")
		sb.WriteString(pc.History)
		sb.WriteString("\n")
	}
	if prev := previousContext(pc.Spoken); prev != "" {
		sb.WriteString(prev)
		sb.WriteString("\n")
	}
	if pc.Step.InterjectBefore {
		sb.WriteString(interjectHint)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Founder's question: ")
	sb.WriteString(pc.Request.Message)
	return sb.String()
}

// previousContext 本次讨论中前面的发言
func previousContext(spoken []Segment) string {
	if len(spoken) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Discussion so far:\n")
	for _, seg := range spoken {
		sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", seg.Speaker.Name, seg.Speaker.Role, seg.Content))
	}
	return sb.String()
}

func persona(e models.Expert) string {
	if e.Instruction != "" {
		return strings.TrimSpace(e.Instruction)
	}
	return fmt.Sprintf("You are %s, %s.", e.Name, e.Role)
}

func panelList(experts []models.Expert) string {
	names := make([]string, 0, len(experts))
	for _, e := range experts {
		names = append(names, fmt.Sprintf("%s (%s)", e.Name, e.Role))
	}
	return strings.Join(names, ", ")
}

func writeProject(sb *strings.Builder, project string) {
	if project == "" {
		return
	}
	sb.WriteString("\n\nThe founder's project:\n")
	sb.WriteString(project)
}

// renderHistory 把会话历史渲染为文本，name 用于把参与者 ID 转成显示名
func renderHistory(history []models.Message, name func(id string) string) string {
	if len(history) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			sb.WriteString("Founder: ")
		case models.RoleSystem:
			sb.WriteString("[")
			sb.WriteString(msg.Content)
			sb.WriteString("]\n")
			continue
		default:
			sb.WriteString(name(msg.ParticipantID))
			sb.WriteString(": ")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
