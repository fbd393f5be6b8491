package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ScriptedModel 按顺序返回预设响应的 ChatModel，用于测试
type ScriptedModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	errs      []error
	calls     [][]*schema.Message
	tools     []*schema.ToolInfo
}

var _ model.ToolCallingChatModel = (*ScriptedModel)(nil)

// NewScriptedModel 依次返回 responses 中的消息
func NewScriptedModel(responses ...*schema.Message) *ScriptedModel {
	return &ScriptedModel{responses: responses}
}

// Append 追加后续调用的响应
func (m *ScriptedModel) Append(responses ...*schema.Message) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
	return m
}

// FailWith 让第 n 次调用（从 0 开始）返回 err
func (m *ScriptedModel) FailWith(n int, err error) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.errs) <= n {
		m.errs = append(m.errs, nil)
	}
	m.errs[n] = err
	return m
}

func (m *ScriptedModel) next(input []*schema.Message) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.calls)
	m.calls = append(m.calls, input)
	if n < len(m.errs) && m.errs[n] != nil {
		return nil, m.errs[n]
	}
	if n >= len(m.responses) {
		return nil, errors.New("scripted model: no more responses")
	}
	return m.responses[n], nil
}

func (m *ScriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.next(input)
}

// Stream 把预设响应按内容拆成两段输出
func (m *ScriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := m.next(input)
	if err != nil {
		return nil, err
	}
	half := len(msg.Content) / 2
	chunks := []*schema.Message{
		{Role: msg.Role, Content: msg.Content[:half]},
		{Role: msg.Role, Content: msg.Content[half:], ToolCalls: msg.ToolCalls},
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (m *ScriptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = tools
	return m, nil
}

// Calls 返回每次调用收到的消息
func (m *ScriptedModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*schema.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *ScriptedModel) Tools() []*schema.ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tools
}
