package revision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/weibaohui/pleroma/backend/internal/utils"
	"k8s.io/klog/v2"
)

// LessonContext 对话所针对的课时，由服务层从存储实时读取
type LessonContext struct {
	SyllabusSlug  string
	SyllabusTitle string
	LessonID      string
	LessonIdx     int
	LessonTitle   string
	ContentMd     string
}

type EventType string

const (
	EventDelta EventType = "delta" // 文本增量
	EventTool  EventType = "tool"  // 工具执行结果
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event 推送给客户端的流式事件
type Event struct {
	Type    EventType         `json:"type"`
	Content string            `json:"content,omitempty"`
	Tool    string            `json:"tool,omitempty"`
	Result  *RegenerateResult `json:"result,omitempty"`
}

// Assistant 单课时的对话助手，每轮最多 maxSteps 次模型调用、最多执行一次重写
type Assistant struct {
	chatModel einomodel.ToolCallingChatModel
	maxSteps  int
}

func NewAssistant(chatModel einomodel.ToolCallingChatModel, maxSteps int) *Assistant {
	if maxSteps < 1 {
		maxSteps = 2
	}
	return &Assistant{chatModel: chatModel, maxSteps: maxSteps}
}

// Run 执行一轮对话，history 为客户端传来的完整消息历史
// 事件通过 emit 推送，emit 返回错误时中止
func (a *Assistant) Run(ctx context.Context, lc LessonContext, history []*schema.Message, exec Regenerator, emit func(Event) error) error {
	bound, err := a.chatModel.WithTools([]*schema.ToolInfo{ToolInfo()})
	if err != nil {
		return fmt.Errorf("bind tools failed: %w", err)
	}

	messages := make([]*schema.Message, 0, len(history)+3)
	messages = append(messages, schema.SystemMessage(SystemPrompt(lc)))
	messages = append(messages, history...)

	regenerated := false
	for step := 0; step < a.maxSteps; step++ {
		msg, err := a.streamStep(ctx, bound, messages, emit)
		if err != nil {
			return err
		}
		if len(msg.ToolCalls) == 0 {
			return emit(Event{Type: EventDone})
		}
		if step == a.maxSteps-1 {
			klog.Warningf("[Revision] 已达到单轮模型调用上限，忽略工具调用: count=%d", len(msg.ToolCalls))
			break
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			result := a.execute(ctx, call, lc, exec, &regenerated)
			if err := emit(Event{Type: EventTool, Tool: call.Function.Name, Result: &result}); err != nil {
				return err
			}
			messages = append(messages, schema.ToolMessage(utils.ToJSON(result), call.ID))
		}
	}
	return emit(Event{Type: EventDone})
}

// execute 单次工具调用，同一轮中第二次重写请求直接拒绝
func (a *Assistant) execute(ctx context.Context, call schema.ToolCall, lc LessonContext, exec Regenerator, regenerated *bool) RegenerateResult {
	req, err := ParseAction(call, lc)
	if err != nil {
		klog.Warningf("[Revision] 工具调用无效: %v", err)
		return RegenerateResult{Success: false, Error: err.Error()}
	}
	if *regenerated {
		return RegenerateResult{Success: false, Error: "the lesson was already regenerated in this turn"}
	}
	*regenerated = true

	klog.V(6).Infof("[Revision] 执行课时重写: slug=%s, lessonId=%s, feedbackLength=%d", req.SyllabusSlug, req.LessonID, len(req.Feedback))
	return exec.Regenerate(ctx, req)
}

// streamStep 流式调用模型，文本增量即时推送，返回拼接后的完整消息
func (a *Assistant) streamStep(ctx context.Context, m einomodel.ToolCallingChatModel, messages []*schema.Message, emit func(Event) error) (*schema.Message, error) {
	reader, err := m.Stream(ctx, messages)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var chunks []*schema.Message
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if chunk.Content != "" {
			if err := emit(Event{Type: EventDelta, Content: chunk.Content}); err != nil {
				return nil, err
			}
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	return schema.ConcatMessages(chunks)
}

// SystemPrompt 构造对话系统提示词
func SystemPrompt(lc LessonContext) string {
	var b strings.Builder
	b.WriteString("You are a helpful teaching assistant for an AI-generated lesson platform called Pleroma. ")
	b.WriteString("The user is reading a lesson and may have questions, spot errors, or want to suggest improvements.\n\n")
	b.WriteString("Here is the lesson they are currently viewing:\n\n---\n")
	fmt.Fprintf(&b, "Syllabus: %s\n", lc.SyllabusTitle)
	fmt.Fprintf(&b, "Lesson %d: %s\n\n", lc.LessonIdx+1, lc.LessonTitle)
	if lc.ContentMd != "" {
		b.WriteString(lc.ContentMd)
	} else {
		b.WriteString("(This lesson has not been generated yet.)")
	}
	b.WriteString("\n---\n\n")
	b.WriteString(`Your role:
- Answer questions about the lesson content clearly and accurately.
- If the user spots an error (e.g. wrong API version, deprecated functions, incorrect commands), acknowledge it and provide the correct information.
- When providing corrections, be specific about what's wrong and what should replace it.
- Keep responses concise and practical.
- Use code blocks with correct language tags when showing code.
- When the user wants to apply corrections or regenerate the lesson, use the regenerate_lesson tool. Summarize the feedback from the conversation into a clear, actionable set of instructions for the tool.
- Do NOT call the tool unless the user explicitly asks to regenerate, apply changes, or fix the lesson. Discussing errors alone is not enough; wait for a clear request to make changes.
`)
	return b.String()
}
