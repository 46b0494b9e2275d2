// Package prompt 管理流水线各阶段的提示词模板
package prompt

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// 每个模板由 <id>.system.txt 与 <id>.user.txt 两个文件组成，变量使用 FString 语法
//
//go:embed templates/*.txt
var templatesFS embed.FS

const (
	systemSuffix = ".system.txt"
	userSuffix   = ".user.txt"
)

// PromptID 模板标识，带版本后缀
type PromptID string

const (
	PromptStrategyBriefV1      PromptID = "strategy_brief_v1"
	PromptAssemblyOutlineV1    PromptID = "assembly_outline_v1"
	PromptAssemblySectionV1    PromptID = "assembly_section_v1"
	PromptAssemblyIntroV1      PromptID = "assembly_intro_v1"
	PromptAssemblyConclusionV1 PromptID = "assembly_conclusion_v1"
)

// Registry 首次使用时一次性解析全部内嵌模板
type Registry struct {
	once      sync.Once
	loadErr   error
	templates map[PromptID]einoprompt.ChatTemplate
}

// NewRegistry 创建模板注册表
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) load() {
	r.templates, r.loadErr = loadTemplates(templatesFS)
}

func loadTemplates(fsys fs.FS) (map[PromptID]einoprompt.ChatTemplate, error) {
	systems, err := fs.Glob(fsys, "templates/*"+systemSuffix)
	if err != nil {
		return nil, err
	}
	out := make(map[PromptID]einoprompt.ChatTemplate, len(systems))
	for _, sysPath := range systems {
		id := PromptID(strings.TrimSuffix(path.Base(sysPath), systemSuffix))
		system, err := readText(fsys, sysPath)
		if err != nil {
			return nil, err
		}
		user, err := readText(fsys, path.Join("templates", string(id)+userSuffix))
		if err != nil {
			return nil, fmt.Errorf("prompt %s has no user template: %w", id, err)
		}
		out[id] = einoprompt.FromMessages(schema.FString,
			schema.SystemMessage(system),
			schema.UserMessage(user),
		)
	}
	return out, nil
}

func readText(fsys fs.FS, name string) (string, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ChatTemplate 按 ID 取模板
func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	r.once.Do(r.load)
	if r.loadErr != nil {
		return nil, fmt.Errorf("load prompt templates: %w", r.loadErr)
	}
	tpl, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("unknown prompt id %s", id)
	}
	return tpl, nil
}

// IDs 已注册的模板，按字典序
func (r *Registry) IDs() []PromptID {
	r.once.Do(r.load)
	ids := make([]PromptID, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Render 渲染模板为消息列表
func (r *Registry) Render(ctx context.Context, id PromptID, vars map[string]any) ([]*schema.Message, error) {
	tpl, err := r.ChatTemplate(id)
	if err != nil {
		return nil, err
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("format prompt %s: %w", id, err)
	}
	return msgs, nil
}
