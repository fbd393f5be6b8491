package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/weibaohui/pleroma/backend/internal/eventbus"
	"github.com/weibaohui/pleroma/backend/internal/model"
	"github.com/weibaohui/pleroma/backend/internal/repository"
	"github.com/weibaohui/pleroma/backend/internal/service/outline"
	"github.com/weibaohui/pleroma/backend/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"k8s.io/klog/v2"
)

const maxSlugAttempts = 5

// OutlineDesigner 大纲生成
type OutlineDesigner interface {
	Generate(ctx context.Context, req outline.Request) (*model.Outline, error)
}

// CreateSyllabusRequest 创建大纲请求
type CreateSyllabusRequest struct {
	Brief       string `json:"brief"`
	Level       string `json:"level"`
	Constraints string `json:"constraints"`
}

type SyllabusService struct {
	syllabusRepo repository.SyllabusRepository
	lessonRepo   repository.LessonRepository
	jobRepo      repository.GenerationJobRepository
	designer     OutlineDesigner
	syllabusBus  *eventbus.SyllabusEventBus
	makeSlug     func(title string) string
}

func NewSyllabusService(
	syllabusRepo repository.SyllabusRepository,
	lessonRepo repository.LessonRepository,
	jobRepo repository.GenerationJobRepository,
	designer OutlineDesigner,
	syllabusBus *eventbus.SyllabusEventBus,
) *SyllabusService {
	return &SyllabusService{
		syllabusRepo: syllabusRepo,
		lessonRepo:   lessonRepo,
		jobRepo:      jobRepo,
		designer:     designer,
		syllabusBus:  syllabusBus,
		makeSlug:     utils.MakeSlug,
	}
}

// Create 生成大纲并在同一事务中写入大纲与全部 pending 课时
func (s *SyllabusService) Create(ctx context.Context, userID string, req CreateSyllabusRequest) (*model.Syllabus, error) {
	req.Brief = strings.TrimSpace(req.Brief)
	req.Level = strings.TrimSpace(req.Level)
	req.Constraints = strings.TrimSpace(req.Constraints)
	if req.Brief == "" || req.Level == "" {
		return nil, ErrInvalidInput
	}

	klog.V(6).Infof("开始创建大纲: userID=%s, level=%s", userID, req.Level)
	o, err := s.designer.Generate(context.WithoutCancel(ctx), outline.Request{
		Brief:       req.Brief,
		Level:       req.Level,
		Constraints: req.Constraints,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutlineFailed, err)
	}

	var constraints *string
	if req.Constraints != "" {
		constraints = &req.Constraints
	}

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		slug := s.makeSlug(o.Title)
		exists, err := s.syllabusRepo.ExistsSlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		if exists {
			klog.V(6).Infof("slug 已存在，重新生成: %s", slug)
			continue
		}

		syllabus := &model.Syllabus{
			Slug:        slug,
			Title:       o.Title,
			Brief:       req.Brief,
			Level:       req.Level,
			Constraints: constraints,
			Outline:     datatypes.NewJSONType(*o),
			Status:      model.SyllabusStatusOutlined,
			OwnerID:     userID,
		}
		err = s.syllabusRepo.CreateWithLessons(context.WithoutCancel(ctx), syllabus, lessonsFromOutline(o))
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			klog.V(6).Infof("slug 写入冲突，重新生成: %s", slug)
			continue
		}
		if err != nil {
			klog.Errorf("写入大纲失败: slug=%s, err=%v", slug, err)
			return nil, err
		}

		if err := s.syllabusBus.Publish(ctx, eventbus.SyllabusEventCreated, eventbus.SyllabusEvent{
			Type:       eventbus.SyllabusEventCreated,
			SyllabusID: syllabus.ID,
			Slug:       syllabus.Slug,
			Level:      syllabus.Level,
			To:         syllabus.Status,
		}); err != nil {
			klog.Warningf("发布大纲创建事件失败: %v", err)
		}
		klog.V(6).Infof("大纲创建完成: slug=%s, lessons=%d", slug, len(syllabus.Lessons))
		return syllabus, nil
	}
	return nil, ErrSlugExhausted
}

// lessonsFromOutline 课时 idx 与大纲条目位置一致
func lessonsFromOutline(o *model.Outline) []model.Lesson {
	lessons := make([]model.Lesson, 0, len(o.Lessons))
	for i, stub := range o.Lessons {
		lessons = append(lessons, model.Lesson{
			Idx:      i,
			LessonID: stub.LessonID,
			Title:    stub.Title,
			Goals:    datatypes.JSONSlice[string](stub.Goals),
			Status:   model.LessonStatusPending,
		})
	}
	return lessons
}

// Get 按 slug 读取大纲及其课时，任何已登录用户都可读取
func (s *SyllabusService) Get(ctx context.Context, slug string) (*model.Syllabus, error) {
	syllabus, err := s.syllabusRepo.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSyllabusNotFound
		}
		return nil, err
	}
	lessons, err := s.lessonRepo.ListBySyllabus(ctx, syllabus.ID)
	if err != nil {
		return nil, err
	}
	syllabus.Lessons = lessons
	return syllabus, nil
}

// ListMine 列出调用者创建的大纲（不含课时）
func (s *SyllabusService) ListMine(ctx context.Context, userID string) ([]model.Syllabus, error) {
	return s.syllabusRepo.ListByOwner(ctx, userID)
}

// ListJobs 列出大纲的生成记录，仅所有者可见
func (s *SyllabusService) ListJobs(ctx context.Context, slug, userID string, limit int) ([]model.GenerationJob, error) {
	syllabus, err := s.syllabusRepo.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSyllabusNotFound
		}
		return nil, err
	}
	if syllabus.OwnerID != userID {
		return nil, ErrForbidden
	}
	return s.jobRepo.ListBySyllabus(ctx, syllabus.ID, limit)
}
