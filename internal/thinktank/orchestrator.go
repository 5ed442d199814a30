// Package thinktank 编排多专家讨论：校验请求、生成发言计划，并把每段发言以事件流的形式逐片段输出
package thinktank

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/run-bigpig/thinktank/internal/agent"
	"github.com/run-bigpig/thinktank/internal/logger"
	"github.com/run-bigpig/thinktank/internal/models"
)

var log = logger.New("Discussion")

// 默认超时
const (
	DefaultSegmentTimeout    = 90 * time.Second // 单段发言
	DefaultDiscussionTimeout = 10 * time.Minute // 整场讨论
)

// Completer 生成一段发言的文本流
type Completer interface {
	Complete(ctx context.Context, speaker models.Expert, prompt models.Prompt) iter.Seq2[string, error]
}

// Segment 一段已完成的发言
type Segment struct {
	Speaker models.Expert
	Kind    models.MessageKind
	Round   int
	Content string
}

// SegmentCallback 发言完成后、expert_end 发出前调用，返回错误会使讨论失败
type SegmentCallback func(ctx context.Context, seg Segment) error

// Outcome 讨论结果
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)

// Options 编排器配置
type Options struct {
	SegmentTimeout    time.Duration
	DiscussionTimeout time.Duration
}

// Orchestrator 讨论编排器
type Orchestrator struct {
	roster    *agent.Roster
	completer Completer
	opts      Options
}

// New 创建编排器，超时为 0 时使用默认值
func New(roster *agent.Roster, completer Completer, opts Options) *Orchestrator {
	if opts.SegmentTimeout <= 0 {
		opts.SegmentTimeout = DefaultSegmentTimeout
	}
	if opts.DiscussionTimeout <= 0 {
		opts.DiscussionTimeout = DefaultDiscussionTimeout
	}
	return &Orchestrator{roster: roster, completer: completer, opts: opts}
}

// Roster 返回专家表
func (o *Orchestrator) Roster() *agent.Roster {
	return o.roster
}

// Prepare 同步校验请求并生成发言计划，任何校验失败都以 *ValidationError 返回
func (o *Orchestrator) Prepare(req Request) (*Discussion, error) {
	req, err := Normalize(req)
	if err != nil {
		return nil, err
	}

	protocol, ok := ProtocolFor(req.Mode)
	if !ok {
		return nil, invalid("mode", "unknown mode %q", req.Mode)
	}

	participants, err := o.roster.Resolve(req.ParticipantIDs)
	if err != nil {
		if errors.Is(err, agent.ErrUnknownExpert) {
			return nil, invalid("participantIds", "%v", err)
		}
		return nil, err
	}

	minN, maxN := protocol.ParticipantRange()
	if len(participants) < minN {
		return nil, invalid("participantIds", "%s mode needs at least %d distinct participants, got %d", req.Mode, minN, len(participants))
	}
	if maxN > 0 && len(participants) > maxN {
		return nil, invalid("participantIds", "%s mode takes at most %d participant(s), got %d", req.Mode, maxN, len(participants))
	}

	steps := protocol.Plan(participants, *req.Rounds, req.Timing)
	if countTurns(steps) == 0 {
		return nil, invalid("participantIds", "nothing to discuss")
	}

	return &Discussion{
		orch:         o,
		req:          req,
		protocol:     protocol,
		participants: participants,
		steps:        steps,
		history:      renderHistory(req.History, o.displayName),
		outcome:      OutcomePending,
	}, nil
}

// displayName 历史消息中参与者 ID 对应的显示名
func (o *Orchestrator) displayName(id string) string {
	switch id {
	case models.ModeratorID:
		return Moderator.Name
	case models.SummaryID:
		return Summarizer.Name
	}
	if e, ok := o.roster.Get(id); ok {
		return e.Name
	}
	if id == "" {
		return "Expert"
	}
	return id
}

func countTurns(steps []Step) int {
	n := 0
	for _, s := range steps {
		if s.Kind == StepTurn {
			n++
		}
	}
	return n
}

// Discussion 一次已通过校验的讨论，Events 只能消费一次
type Discussion struct {
	orch         *Orchestrator
	req          Request
	protocol     Protocol
	participants []models.Expert
	steps        []Step
	history      string

	transcript []Segment
	outcome    Outcome
	err        error
	started    bool
}

// Request 返回规范化后的请求
func (d *Discussion) Request() Request { return d.req }

// Participants 按发言顺序返回参与专家
func (d *Discussion) Participants() []models.Expert {
	return append([]models.Expert(nil), d.participants...)
}

// Rounds 计划的轮次
func (d *Discussion) Rounds() int { return *d.req.Rounds }

// Steps 发言计划
func (d *Discussion) Steps() []Step { return append([]Step(nil), d.steps...) }

// Transcript 已提交的发言
func (d *Discussion) Transcript() []Segment { return append([]Segment(nil), d.transcript...) }

// Outcome 讨论结果，事件流结束后才有意义
func (d *Discussion) Outcome() Outcome { return d.outcome }

// Err 失败原因
func (d *Discussion) Err() error { return d.err }

// Events 运行讨论并逐个产出事件。ctx 被取消时以 stopped 结束；上游错误或超时以 error 结束；
// 消费方提前停止迭代视为中止。
func (d *Discussion) Events(ctx context.Context, onSegment SegmentCallback) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if d.started {
			d.finish(OutcomeFailed, errors.New("discussion already started"))
			yield(Event{Type: EventError, Message: "discussion already started"})
			return
		}
		d.started = true

		runCtx, cancel := context.WithTimeout(ctx, d.orch.opts.DiscussionTimeout)
		defer cancel()

		log.Info("discussion start: mode=%s participants=%d rounds=%d", d.req.Mode, len(d.participants), d.Rounds())
		for _, step := range d.steps {
			if runCtx.Err() != nil {
				yield(d.interrupted(ctx, runCtx, nil, nil))
				return
			}

			switch step.Kind {
			case StepRound:
				if !yield(Event{Type: EventRound, Round: step.Round, TotalRounds: step.TotalRounds}) {
					d.finish(OutcomeStopped, nil)
					return
				}
			case StepTurn:
				if !d.speak(ctx, runCtx, step, onSegment, yield) {
					return
				}
			}
		}

		d.finish(OutcomeCompleted, nil)
		log.Info("discussion done: %d segments", len(d.transcript))
		yield(Event{Type: EventDone})
	}
}

// speak 运行一段发言，返回 false 表示讨论已经结束（终止事件已发出或消费方已离开）
func (d *Discussion) speak(parent, runCtx context.Context, step Step, onSegment SegmentCallback, yield func(Event) bool) bool {
	segCtx, cancel := context.WithTimeout(runCtx, d.orch.opts.SegmentTimeout)
	defer cancel()

	speaker := step.Speaker
	prompt := d.protocol.Prompt(PromptContext{
		Request:      d.req,
		Step:         step,
		Participants: d.participants,
		Spoken:       d.transcript,
		History:      d.history,
	})

	if !yield(Event{
		Type:       EventExpertStart,
		ExpertID:   speaker.ID,
		ExpertName: speaker.Name,
		ExpertRole: speaker.Role,
		Round:      step.Round,
	}) {
		d.finish(OutcomeStopped, nil)
		return false
	}

	var content strings.Builder
	for chunk, err := range d.orch.completer.Complete(segCtx, speaker, prompt) {
		if err != nil || segCtx.Err() != nil {
			yield(d.interrupted(parent, runCtx, segCtx, err))
			return false
		}
		if chunk == "" {
			continue
		}
		content.WriteString(chunk)
		if !yield(Event{Type: EventContent, Content: chunk}) {
			d.finish(OutcomeStopped, nil)
			return false
		}
	}
	if segCtx.Err() != nil {
		yield(d.interrupted(parent, runCtx, segCtx, nil))
		return false
	}

	seg := Segment{Speaker: speaker, Kind: step.MessageKind, Round: step.Round, Content: content.String()}
	if onSegment != nil {
		if err := onSegment(runCtx, seg); err != nil {
			if parent.Err() != nil {
				yield(d.interrupted(parent, runCtx, segCtx, err))
				return false
			}
			log.Error("commit segment of %s: %v", speaker.ID, err)
			d.finish(OutcomeFailed, fmt.Errorf("commit segment: %w", err))
			yield(Event{Type: EventError, Message: "failed to save the discussion"})
			return false
		}
	}
	d.transcript = append(d.transcript, seg)

	if !yield(Event{Type: EventExpertEnd}) {
		d.finish(OutcomeStopped, nil)
		return false
	}
	return true
}

// interrupted 根据上下文状态把中断归类为用户中止、超时或上游错误，并返回对应的终止事件
func (d *Discussion) interrupted(parent, runCtx, segCtx context.Context, err error) Event {
	switch {
	case parent.Err() != nil && errors.Is(parent.Err(), context.Canceled):
		d.finish(OutcomeStopped, nil)
		log.Info("discussion stopped after %d segments", len(d.transcript))
		return Event{Type: EventStopped, Message: StoppedMessage}
	case runCtx.Err() != nil:
		d.finish(OutcomeFailed, fmt.Errorf("discussion timed out: %w", runCtx.Err()))
		log.Warn("discussion timed out after %d segments", len(d.transcript))
		return Event{Type: EventError, Message: "The discussion took too long and was ended."}
	case segCtx != nil && segCtx.Err() != nil:
		d.finish(OutcomeFailed, fmt.Errorf("segment timed out: %w", segCtx.Err()))
		log.Warn("segment timed out")
		return Event{Type: EventError, Message: "An expert took too long to respond."}
	}

	if err == nil {
		err = errors.New("discussion interrupted")
	}
	d.finish(OutcomeFailed, err)
	log.Error("upstream error: %v", err)
	return Event{Type: EventError, Message: "An expert failed to respond: " + err.Error()}
}

func (d *Discussion) finish(outcome Outcome, err error) {
	d.outcome = outcome
	d.err = err
}
