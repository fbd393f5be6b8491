package revision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// RegenerateToolName 对话中可调用的唯一工具
const RegenerateToolName = "regenerate_lesson"

// RegenerateRequest 模型提出的重写请求，由 Regenerator 执行
type RegenerateRequest struct {
	SyllabusSlug string
	LessonID     string
	Feedback     string
}

// RegenerateResult 执行结果，序列化后作为工具消息返回给模型
type RegenerateResult struct {
	Success  bool   `json:"success"`
	LessonID string `json:"lessonId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Regenerator 执行重写请求并写回存储
type Regenerator interface {
	Regenerate(ctx context.Context, req RegenerateRequest) RegenerateResult
}

// RegeneratorFunc 函数适配器
type RegeneratorFunc func(ctx context.Context, req RegenerateRequest) RegenerateResult

func (f RegeneratorFunc) Regenerate(ctx context.Context, req RegenerateRequest) RegenerateResult {
	return f(ctx, req)
}

type regenerateArgs struct {
	Feedback string `json:"feedback"`
}

// ToolInfo 重写工具的声明
func ToolInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: RegenerateToolName,
		Desc: "Regenerate the current lesson incorporating the user's feedback. " +
			"Call this only when the user explicitly asks to apply corrections, regenerate, or fix the lesson content.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"feedback": {
				Type: schema.String,
				Desc: "A clear summary of all the corrections and improvements to apply when regenerating the lesson. " +
					"Be specific about what is wrong and what should replace it.",
				Required: true,
			},
		}),
	}
}

// ParseAction 把工具调用解析为针对当前课时的重写请求
func ParseAction(call schema.ToolCall, lc LessonContext) (RegenerateRequest, error) {
	if call.Function.Name != RegenerateToolName {
		return RegenerateRequest{}, fmt.Errorf("unknown tool: %s", call.Function.Name)
	}
	var args regenerateArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return RegenerateRequest{}, fmt.Errorf("invalid %s arguments: %w", RegenerateToolName, err)
	}
	feedback := strings.TrimSpace(args.Feedback)
	if feedback == "" {
		return RegenerateRequest{}, errors.New("feedback is required")
	}
	return RegenerateRequest{
		SyllabusSlug: lc.SyllabusSlug,
		LessonID:     lc.LessonID,
		Feedback:     feedback,
	}, nil
}
