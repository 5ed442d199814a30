package models

// Prompt 一次发言的提示词
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}
