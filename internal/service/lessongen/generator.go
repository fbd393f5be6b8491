package lessongen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/weibaohui/pleroma/backend/internal/model"
	"github.com/weibaohui/pleroma/backend/internal/utils"
	"k8s.io/klog/v2"
)

// ErrEmptyContent 模型返回空正文
var ErrEmptyContent = errors.New("model returned empty lesson content")

// Input 课时生成输入
type Input struct {
	SyllabusTitle       string
	SyllabusDescription string
	Audience            string
	Level               string
	Constraints         string

	PreviousTitles []string // idx 更小的课时标题，按 idx 升序

	Idx         int
	Title       string
	Goals       []string
	Deliverable string

	Correction *Correction // 非空时为纠错重写模式
}

// Correction 纠错模式附加输入
type Correction struct {
	PreviousContent string
	Feedback        string
}

// NewInput 由存储中的大纲和课时构造输入
// 目标/交付物优先取大纲中的条目，缺失时回退到课时行上的副本
func NewInput(syllabus *model.Syllabus, lesson *model.Lesson, previousTitles []string) Input {
	outline := syllabus.Outline.Data()
	in := Input{
		SyllabusTitle:       outline.Title,
		SyllabusDescription: outline.Description,
		Audience:            outline.Audience,
		Level:               syllabus.Level,
		PreviousTitles:      previousTitles,
		Idx:                 lesson.Idx,
		Title:               lesson.Title,
		Goals:               []string(lesson.Goals),
	}
	if in.SyllabusTitle == "" {
		in.SyllabusTitle = syllabus.Title
	}
	if syllabus.Constraints != nil {
		in.Constraints = *syllabus.Constraints
	}
	if stub := outline.LessonAt(lesson.Idx); stub != nil {
		if len(stub.Goals) > 0 {
			in.Goals = stub.Goals
		}
		in.Deliverable = stub.Deliverable
	}
	return in
}

// Generator 调用模型生成课时 Markdown 正文
type Generator struct {
	chatModel einomodel.BaseChatModel
}

func New(chatModel einomodel.BaseChatModel) *Generator {
	return &Generator{chatModel: chatModel}
}

// Generate 返回课时正文，正文不做结构校验
func (g *Generator) Generate(ctx context.Context, in Input) (string, error) {
	mode := "generate"
	if in.Correction != nil {
		mode = "correct"
	}
	klog.V(6).Infof("[LessonGen] 开始生成课时: idx=%d, title=%s, mode=%s", in.Idx, in.Title, mode)

	resp, err := g.chatModel.Generate(ctx, []*schema.Message{
		schema.UserMessage(BuildPrompt(in)),
	})
	if err != nil {
		klog.Errorf("[LessonGen] 模型调用失败: idx=%d, error=%v", in.Idx, err)
		return "", err
	}

	content := utils.UnwrapMarkdown(resp.Content)
	if content == "" {
		return "", ErrEmptyContent
	}
	klog.V(6).Infof("[LessonGen] 课时生成完成: idx=%d, contentLength=%d", in.Idx, len(content))
	return content, nil
}

// BuildPrompt 构造课时提示词，纠错模式附带旧正文与反馈
func BuildPrompt(in Input) string {
	var b strings.Builder
	if in.Correction != nil {
		b.WriteString("You are an expert technical instructor rewriting a lesson for a syllabus.\n\n")
	} else {
		b.WriteString("You are an expert technical instructor writing a lesson for a syllabus.\n\n")
	}

	fmt.Fprintf(&b, "Syllabus: %s\n", in.SyllabusTitle)
	fmt.Fprintf(&b, "Description: %s\n", in.SyllabusDescription)
	fmt.Fprintf(&b, "Audience: %s (%s level)\n", in.Audience, in.Level)
	if strings.TrimSpace(in.Constraints) != "" {
		fmt.Fprintf(&b, "Constraints: %s\n", in.Constraints)
	}
	b.WriteString("\n")

	if len(in.PreviousTitles) > 0 {
		b.WriteString("Previous lessons covered:\n")
		for i, title := range in.PreviousTitles {
			fmt.Fprintf(&b, "- Lesson %d: %s\n", i+1, title)
		}
		b.WriteString("\n")
	}

	verb := "write"
	if in.Correction != nil {
		verb = "rewrite"
	}
	fmt.Fprintf(&b, "Now %s Lesson %d: %q\n\n", verb, in.Idx+1, in.Title)

	b.WriteString("Learning goals:\n")
	for _, goal := range in.Goals {
		fmt.Fprintf(&b, "- %s\n", goal)
	}
	fmt.Fprintf(&b, "\nExpected deliverable: %s\n\n", in.Deliverable)

	if in.Correction != nil {
		b.WriteString("Here is the PREVIOUS version of this lesson that needs corrections:\n\n")
		b.WriteString(in.Correction.PreviousContent)
		b.WriteString("\n\nUSER FEEDBACK, apply these corrections:\n")
		b.WriteString(in.Correction.Feedback)
		b.WriteString("\n\n")
	}

	b.WriteString("Format the lesson in Markdown with these sections in order:\n")
	fmt.Fprintf(&b, "# %s\n", in.Title)
	b.WriteString(`## Objectives
- List the learning objectives
## Concepts
Explain concepts clearly, no big jumps.
## Steps
Numbered steps with commands and code blocks where relevant.
## Checkpoint
What should work now? How to verify?
## Exercises
3-6 exercises increasing difficulty.
## Common Pitfalls
Bullet list.

Rules:
- Keep it textbook-like but practical.
- 800-1800 words.
- Steps should be runnable; include terminal commands.
- Include code snippets fenced with correct language tags.
- Do NOT include raw HTML.
- Make code idiomatic for the relevant language/tools.
`)
	if in.Correction != nil {
		b.WriteString("- Pay special attention to the user feedback and fix every issue they raised.\n")
	}
	return b.String()
}
