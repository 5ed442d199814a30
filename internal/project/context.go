// Package project 把孵化项目渲染为注入专家提示词的简短上下文
package project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/run-bigpig/thinktank/internal/models"
	"github.com/run-bigpig/thinktank/internal/store"
)

// ErrUnknownProject 项目不存在
var ErrUnknownProject = errors.New("unknown project")

// maxNotesRunes 笔记最多保留的字符数
const maxNotesRunes = 1200

// ContextBuilder 项目上下文构造器
type ContextBuilder struct {
	projects store.ProjectStore
}

// NewContextBuilder 创建项目上下文构造器
func NewContextBuilder(projects store.ProjectStore) *ContextBuilder {
	return &ContextBuilder{projects: projects}
}

// Build 加载项目并渲染上下文，projectID 为空时返回空串
func (b *ContextBuilder) Build(ctx context.Context, projectID string) (string, error) {
	if projectID == "" {
		return "", nil
	}
	p, err := b.projects.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
		}
		return "", err
	}
	return Render(p), nil
}

// Render 渲染项目摘要
func Render(p *models.Project) string {
	var sb strings.Builder
	sb.WriteString("Project: ")
	sb.WriteString(p.Title)
	if p.Stage != "" {
		sb.WriteString(" (stage: " + p.Stage + ")")
	}
	sb.WriteString("\n")
	if s := strings.TrimSpace(p.Summary); s != "" {
		sb.WriteString("Summary: " + s + "\n")
	}

	var open, done []string
	for _, t := range p.Tasks {
		if t.Done {
			done = append(done, t.Title)
		} else {
			open = append(open, t.Title)
		}
	}
	if len(open) > 0 {
		sb.WriteString("Open tasks: " + strings.Join(open, "; ") + "\n")
	}
	if len(done) > 0 {
		sb.WriteString("Completed tasks: " + strings.Join(done, "; ") + "\n")
	}

	if len(p.Milestones) > 0 {
		sb.WriteString("Milestones:\n")
		for _, m := range p.Milestones {
			sb.WriteString("- " + m.Title)
			if m.Due != "" {
				sb.WriteString(" (due " + m.Due + ")")
			}
			if m.Done {
				sb.WriteString(" [done]")
			}
			sb.WriteString("\n")
		}
	}

	if notes := truncate(FlattenHTML(p.Notes), maxNotesRunes); notes != "" {
		sb.WriteString("Notes:\n" + notes + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// blockSelector 按块级元素拆行
const blockSelector = "p, li, h1, h2, h3, h4, h5, h6, blockquote, pre, td"

// FlattenHTML 把富文本笔记转换为纯文本，每个块级元素一行，列表项加 "- " 前缀
func FlattenHTML(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml(" ")

	var lines []string
	doc.Find(blockSelector).Each(func(_ int, sel *goquery.Selection) {
		// 嵌套的块由子元素输出
		if sel.Find(blockSelector).Length() > 0 {
			return
		}
		text := collapse(sel.Text())
		if text == "" {
			return
		}
		if goquery.NodeName(sel) == "li" {
			text = "- " + text
		}
		lines = append(lines, text)
	})
	if len(lines) == 0 {
		return collapse(doc.Text())
	}
	return strings.Join(lines, "\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
