package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/weibaohui/pleroma/backend/internal/model"
	"github.com/weibaohui/pleroma/backend/internal/pkg/metrics"
	"github.com/weibaohui/pleroma/backend/internal/repository"
	"github.com/weibaohui/pleroma/backend/internal/service/revision"
	"k8s.io/klog/v2"
)

var ErrEmptyConversation = errors.New("messages must contain at least one user message")

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatLessonRef 对话针对的课时，只携带标识，内容由服务端读取
type ChatLessonRef struct {
	SyllabusSlug string `json:"syllabusSlug"`
	LessonID     string `json:"lessonId"`
}

type ChatRequest struct {
	Messages      []ChatMessage `json:"messages"`
	LessonContext ChatLessonRef `json:"lessonContext"`
}

// ChatSession 已校验的一轮对话
type ChatSession struct {
	UserID  string
	Lesson  revision.LessonContext
	History []*schema.Message
}

type ChatService struct {
	syllabusRepo repository.SyllabusRepository
	lessonRepo   repository.LessonRepository
	generation   *GenerationService
	assistant    *revision.Assistant
	metrics      *metrics.Metrics
}

func NewChatService(
	syllabusRepo repository.SyllabusRepository,
	lessonRepo repository.LessonRepository,
	generation *GenerationService,
	assistant *revision.Assistant,
) *ChatService {
	return &ChatService{
		syllabusRepo: syllabusRepo,
		lessonRepo:   lessonRepo,
		generation:   generation,
		assistant:    assistant,
		metrics:      metrics.NewMetrics(),
	}
}

// Prepare 校验请求并从存储读取课时上下文，在开始流式响应前调用
func (s *ChatService) Prepare(ctx context.Context, userID string, req ChatRequest) (*ChatSession, error) {
	history := toSchemaMessages(req.Messages)
	if len(history) == 0 || history[len(history)-1].Role != schema.User {
		return nil, ErrEmptyConversation
	}

	syllabus, err := s.syllabusRepo.GetBySlug(ctx, req.LessonContext.SyllabusSlug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSyllabusNotFound
		}
		return nil, err
	}
	lesson, err := s.lessonRepo.GetByLessonID(ctx, syllabus.ID, req.LessonContext.LessonID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLessonNotFound
		}
		return nil, err
	}

	return &ChatSession{
		UserID:  userID,
		Lesson:  lessonContextOf(syllabus, lesson),
		History: history,
	}, nil
}

// Stream 运行一轮对话，事件通过 emit 推送
func (s *ChatService) Stream(ctx context.Context, session *ChatSession, emit func(revision.Event) error) error {
	regenerator := revision.RegeneratorFunc(func(ctx context.Context, req revision.RegenerateRequest) revision.RegenerateResult {
		return s.regenerate(ctx, session.UserID, req)
	})

	err := s.assistant.Run(ctx, session.Lesson, session.History, regenerator, emit)
	if err != nil {
		s.metrics.ChatTurns.WithLabelValues("failure").Inc()
		klog.Errorf("对话执行失败: slug=%s, lessonId=%s, err=%v", session.Lesson.SyllabusSlug, session.Lesson.LessonID, err)
		return err
	}
	s.metrics.ChatTurns.WithLabelValues("success").Inc()
	return nil
}

// regenerate 执行模型提出的重写请求，错误转换为工具结果返回给模型
func (s *ChatService) regenerate(ctx context.Context, userID string, req revision.RegenerateRequest) revision.RegenerateResult {
	lesson, err := s.generation.ApplyCorrection(ctx, req.SyllabusSlug, req.LessonID, req.Feedback, userID)
	s.metrics.ChatToolCalls.WithLabelValues(revision.RegenerateToolName, strconv.FormatBool(err == nil)).Inc()
	if err != nil {
		klog.Warningf("对话重写课时失败: slug=%s, lessonId=%s, err=%v", req.SyllabusSlug, req.LessonID, err)
		return revision.RegenerateResult{Success: false, Error: correctionErrorMessage(err)}
	}
	return revision.RegenerateResult{Success: true, LessonID: lesson.LessonID}
}

func correctionErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrSyllabusNotFound):
		return "Syllabus not found"
	case errors.Is(err, ErrLessonNotFound):
		return "Lesson not found"
	case errors.Is(err, ErrForbidden):
		return "Only the owner of this syllabus can regenerate its lessons"
	case errors.Is(err, ErrLessonBusy):
		return "The lesson is already being generated, try again later"
	case errors.Is(err, ErrLessonNotReady):
		return "The lesson has not been generated yet"
	default:
		return err.Error()
	}
}

func lessonContextOf(syllabus *model.Syllabus, lesson *model.Lesson) revision.LessonContext {
	lc := revision.LessonContext{
		SyllabusSlug:  syllabus.Slug,
		SyllabusTitle: syllabus.Title,
		LessonID:      lesson.LessonID,
		LessonIdx:     lesson.Idx,
		LessonTitle:   lesson.Title,
	}
	if lesson.ContentMd != nil {
		lc.ContentMd = *lesson.ContentMd
	}
	return lc
}

// toSchemaMessages 只保留 user/assistant 消息，客户端不能注入 system 消息
func toSchemaMessages(messages []ChatMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch schema.RoleType(m.Role) {
		case schema.User:
			out = append(out, schema.UserMessage(content))
		case schema.Assistant:
			out = append(out, schema.AssistantMessage(content, nil))
		}
	}
	return out
}
