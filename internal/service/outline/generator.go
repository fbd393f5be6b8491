package outline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/weibaohui/pleroma/backend/internal/model"
	"github.com/weibaohui/pleroma/backend/internal/utils"
	"k8s.io/klog/v2"
)

// ErrEmptyOutline 模型返回的大纲没有任何课时
var ErrEmptyOutline = errors.New("outline has no lessons")

// Request 大纲生成输入
type Request struct {
	Brief       string
	Level       string
	Constraints string
}

// Generator 根据需求描述生成结构化课程大纲
type Generator struct {
	chatModel einomodel.BaseChatModel
}

func New(chatModel einomodel.BaseChatModel) *Generator {
	return &Generator{chatModel: chatModel}
}

// Generate 调用模型生成大纲，并完成解析与规范化
func (g *Generator) Generate(ctx context.Context, req Request) (*model.Outline, error) {
	klog.V(6).Infof("[Outline] 开始生成大纲: level=%s, briefLength=%d", req.Level, len(req.Brief))

	resp, err := g.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(BuildPrompt(req)),
	})
	if err != nil {
		klog.Errorf("[Outline] 模型调用失败: %v", err)
		return nil, fmt.Errorf("generate outline failed: %w", err)
	}

	outline, err := Parse(resp.Content)
	if err != nil {
		klog.Errorf("[Outline] 解析大纲失败: %v", err)
		return nil, err
	}

	klog.V(6).Infof("[Outline] 大纲生成完成: title=%s, lessons=%d", outline.Title, len(outline.Lessons))
	return outline, nil
}

const systemPrompt = "You are an expert curriculum designer. You reply with a single JSON object and nothing else."

// BuildPrompt 构造大纲生成提示词
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Create a detailed syllabus outline for the following:\n\n")
	fmt.Fprintf(&b, "Brief: %s\n", req.Brief)
	fmt.Fprintf(&b, "Learner level: %s\n", req.Level)
	if strings.TrimSpace(req.Constraints) != "" {
		fmt.Fprintf(&b, "Constraints: %s\n", req.Constraints)
	}
	b.WriteString(`
Rules:
- Generate 10-25 lessons (target around 14 if unsure).
- lessonId must be zero-padded ascending ("01", "02", ...).
- Titles should be short and practical.
- Goals should be concrete and testable.
- Deliverable should be a tangible output (a file, a runnable command, a passing test, etc).
- The title should describe the overall syllabus/project, not just repeat the brief.
- Description should be 1-2 sentences summarizing what the learner will build/learn.
- Prerequisites are things the learner should already know.
- Assumptions are things about the learner's environment (OS, tools installed, etc).
- estMinutes is an integer estimate or null.

Respond with JSON matching exactly this shape:
`)
	b.WriteString(utils.ToJSON(shapeExample))
	b.WriteString("\n")
	return b.String()
}

var shapeExample = model.Outline{
	Title:         "string",
	Description:   "string",
	Audience:      "string",
	Prerequisites: []string{"string"},
	Assumptions:   []string{"string"},
	Lessons: []model.OutlineLesson{{
		LessonID:    "01",
		Title:       "string",
		Goals:       []string{"string"},
		Deliverable: "string",
	}},
}

// Parse 从模型回复中提取 JSON 并规范化
func Parse(content string) (*model.Outline, error) {
	raw := utils.ExtractJSON(content)
	var outline model.Outline
	if err := json.Unmarshal([]byte(raw), &outline); err != nil {
		return nil, fmt.Errorf("parse outline json failed: %w", err)
	}
	if err := Normalize(&outline); err != nil {
		return nil, err
	}
	return &outline, nil
}

// Normalize 清理字段并按位置重新编号 lessonId
// lessonId 与课时位置一一对应，保证 (syllabus, lessonId) 唯一
func Normalize(o *model.Outline) error {
	o.Title = strings.TrimSpace(o.Title)
	o.Description = strings.TrimSpace(o.Description)
	o.Audience = strings.TrimSpace(o.Audience)
	o.Prerequisites = cleanList(o.Prerequisites)
	o.Assumptions = cleanList(o.Assumptions)

	lessons := make([]model.OutlineLesson, 0, len(o.Lessons))
	for _, l := range o.Lessons {
		l.Title = strings.TrimSpace(l.Title)
		if l.Title == "" {
			continue
		}
		l.Goals = cleanList(l.Goals)
		l.Deliverable = strings.TrimSpace(l.Deliverable)
		if l.EstMinutes != nil && *l.EstMinutes <= 0 {
			l.EstMinutes = nil
		}
		lessons = append(lessons, l)
	}
	if len(lessons) == 0 {
		return ErrEmptyOutline
	}

	width := len(fmt.Sprint(len(lessons)))
	if width < 2 {
		width = 2
	}
	for i := range lessons {
		lessons[i].LessonID = fmt.Sprintf("%0*d", width, i+1)
	}
	o.Lessons = lessons

	if o.Title == "" {
		o.Title = lessons[0].Title
	}
	return nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
