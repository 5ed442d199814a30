package models

import "time"

// Project 孵化项目（lab），用于给专家注入上下文
type Project struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Summary    string      `json:"summary"`
	Stage      string      `json:"stage,omitempty"`
	Notes      string      `json:"notes,omitempty"` // 富文本，可能包含 HTML
	Tasks      []Task      `json:"tasks,omitempty"`
	Milestones []Milestone `json:"milestones,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Task 项目任务
type Task struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// Milestone 项目里程碑
type Milestone struct {
	Title string `json:"title"`
	Due   string `json:"due,omitempty"`
	Done  bool   `json:"done"`
}
