package agent

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/run-bigpig/thinktank/internal/embed"
	"github.com/run-bigpig/thinktank/internal/models"
)

// ErrUnknownExpert 专家 ID 不存在
var ErrUnknownExpert = errors.New("unknown expert")

// Roster 专家表，创建后只读，可在多个请求间共享
type Roster struct {
	experts []models.Expert
	index   map[string]int
}

// rosterFile 专家表 YAML 结构
type rosterFile struct {
	Experts []models.Expert `yaml:"experts"`
}

// NewRoster 根据专家列表创建专家表
func NewRoster(experts []models.Expert) (*Roster, error) {
	if len(experts) == 0 {
		return nil, errors.New("expert table is empty")
	}

	r := &Roster{
		experts: make([]models.Expert, 0, len(experts)),
		index:   make(map[string]int, len(experts)),
	}
	for _, e := range experts {
		e.ID = strings.TrimSpace(e.ID)
		switch {
		case e.ID == "":
			return nil, fmt.Errorf("expert %q has no id", e.Name)
		case e.ID == models.ModeratorID || e.ID == models.SummaryID:
			return nil, fmt.Errorf("expert id %q is reserved", e.ID)
		}
		if _, dup := r.index[e.ID]; dup {
			return nil, fmt.Errorf("duplicate expert id %q", e.ID)
		}
		if e.Name == "" {
			e.Name = e.ID
		}
		e.MCPServers = append([]string(nil), e.MCPServers...)
		r.index[e.ID] = len(r.experts)
		r.experts = append(r.experts, e)
	}
	return r, nil
}

// ParseRoster 解析 YAML 专家表
func ParseRoster(data []byte) (*Roster, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse expert table: %w", err)
	}
	return NewRoster(f.Experts)
}

// LoadRoster 加载专家表，path 为空时使用内置表
func LoadRoster(path string) (*Roster, error) {
	if path == "" {
		return ParseRoster(embed.ExpertsYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read expert table: %w", err)
	}
	return ParseRoster(data)
}

// Get 获取指定专家
func (r *Roster) Get(id string) (models.Expert, bool) {
	i, ok := r.index[id]
	if !ok {
		return models.Expert{}, false
	}
	return r.experts[i], true
}

// Resolve 按给定顺序解析专家，任一 ID 未知即返回错误
func (r *Roster) Resolve(ids []string) ([]models.Expert, error) {
	result := make([]models.Expert, 0, len(ids))
	for _, id := range ids {
		e, ok := r.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownExpert, id)
		}
		result = append(result, e)
	}
	return result, nil
}

// All 按表中顺序返回全部专家
func (r *Roster) All() []models.Expert {
	return append([]models.Expert(nil), r.experts...)
}

// Len 专家数量
func (r *Roster) Len() int {
	return len(r.experts)
}
