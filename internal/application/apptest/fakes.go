// Package apptest 提供阶段测试共用的能力替身
package apptest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"content-pipeline-api/internal/workflow/port"
)

// Reply 一次脚本化的生成结果
type Reply struct {
	Text string
	Err  error
}

// ScriptedGenerator 按顺序返回预设结果；脚本耗尽后使用 Fallback
type ScriptedGenerator struct {
	mu       sync.Mutex
	Script   []Reply
	Fallback func(req *port.GenerateRequest) Reply
	Requests []*port.GenerateRequest
}

// Generate 实现 port.TextGenerator
func (g *ScriptedGenerator) Generate(ctx context.Context, req *port.GenerateRequest) (*port.GenerateResponse, error) {
	g.mu.Lock()
	g.Requests = append(g.Requests, req)
	var r Reply
	switch {
	case len(g.Script) > 0:
		r = g.Script[0]
		g.Script = g.Script[1:]
	case g.Fallback != nil:
		r = g.Fallback(req)
	default:
		r = Reply{Err: errors.New("script exhausted")}
	}
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &port.GenerateResponse{Text: r.Text, Model: "fake"}, nil
}

// Calls 已收到的请求数
func (g *ScriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}

// LastUserPrompt 最后一次请求的用户消息
func (g *ScriptedGenerator) LastUserPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Requests) == 0 {
		return ""
	}
	msgs := g.Requests[len(g.Requests)-1].Messages
	return msgs[len(msgs)-1].Content
}

// SystemPrompts 全部请求的系统消息拼接
func (g *ScriptedGenerator) SystemPrompts() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var b strings.Builder
	for _, r := range g.Requests {
		if len(r.Messages) > 0 {
			b.WriteString(r.Messages[0].Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}
