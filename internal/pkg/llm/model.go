package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/weibaohui/pleroma/backend/config"
	"github.com/weibaohui/pleroma/backend/internal/pkg/metrics"
	"k8s.io/klog/v2"
)

// ChatModel 封装 Eino 的 ToolCallingChatModel，记录日志与调用指标
type ChatModel struct {
	chatModel model.ToolCallingChatModel
	modelName string
	metrics   *metrics.Metrics
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)

// NewChatModel 按配置创建 OpenAI 兼容的 ChatModel
// BaseURL 为空时使用 OpenAI 默认地址
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key is empty")
	}
	klog.V(6).Infof("[ChatModel] 创建 OpenAI ChatModel: model=%s, baseURL=%s", cfg.Model, cfg.APIURL)

	modelConfig := &openai.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
	}
	if cfg.APIURL != "" {
		modelConfig.BaseURL = cfg.APIURL
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelConfig.MaxTokens = &maxTokens
	}

	chatModel, err := openai.NewChatModel(ctx, modelConfig)
	if err != nil {
		klog.Errorf("[ChatModel] 创建 ChatModel 失败: %v", err)
		return nil, err
	}

	return Wrap(chatModel, cfg.Model), nil
}

// Wrap 包装已有的 ChatModel，测试中用于注入假模型
func Wrap(inner model.ToolCallingChatModel, modelName string) *ChatModel {
	return &ChatModel{chatModel: inner, modelName: modelName, metrics: metrics.NewMetrics()}
}

// Generate 同步生成响应
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	klog.V(6).Infof("[ChatModel] Generate 开始: messageCount=%d", len(input))
	for i, msg := range input {
		klog.V(8).Infof("[ChatModel]   Message[%d]: role=%s, content=%s", i, msg.Role, msg.Content)
	}

	start := time.Now()
	resp, err := m.chatModel.Generate(ctx, input, opts...)
	if err != nil {
		m.metrics.RecordLLMRequest(m.modelName, "generate", false, time.Since(start), 0, 0)
		klog.Errorf("[ChatModel] Generate 失败: %v", err)
		return nil, err
	}

	prompt, completion := usageOf(resp)
	m.metrics.RecordLLMRequest(m.modelName, "generate", true, time.Since(start), prompt, completion)
	klog.V(6).Infof("[ChatModel] Generate 完成: responseLength=%d, toolCalls=%d, 耗时=%v", len(resp.Content), len(resp.ToolCalls), time.Since(start))
	return resp, nil
}

// Stream 流式生成，指标只记录建立流的耗时
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (
	*schema.StreamReader[*schema.Message], error) {
	klog.V(6).Infof("[ChatModel] Stream 开始: messageCount=%d", len(input))

	start := time.Now()
	streamReader, err := m.chatModel.Stream(ctx, input, opts...)
	m.metrics.RecordLLMRequest(m.modelName, "stream", err == nil, time.Since(start), 0, 0)
	if err != nil {
		klog.Errorf("[ChatModel] Stream 失败: %v", err)
		return nil, err
	}
	return streamReader, nil
}

// WithTools 绑定工具并返回新的包装实例
func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	klog.V(6).Infof("[ChatModel] WithTools 被调用: toolCount=%d", len(tools))
	inner, err := m.chatModel.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &ChatModel{chatModel: inner, modelName: m.modelName, metrics: m.metrics}, nil
}

func usageOf(msg *schema.Message) (int, int) {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return 0, 0
	}
	return msg.ResponseMeta.Usage.PromptTokens, msg.ResponseMeta.Usage.CompletionTokens
}
