package repository

import (
	"context"
	"errors"
	"time"

	"github.com/weibaohui/pleroma/backend/internal/model"
)

// ErrNotFound 记录不存在错误
var ErrNotFound = errors.New("record not found")

type SyllabusRepository interface {
	// CreateWithLessons 在同一事务中写入大纲及其全部课时
	CreateWithLessons(ctx context.Context, syllabus *model.Syllabus, lessons []model.Lesson) error
	GetBySlug(ctx context.Context, slug string) (*model.Syllabus, error)
	ExistsSlug(ctx context.Context, slug string) (bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Syllabus, error)

	// UpdateStatus 条件更新：仅当当前状态属于 from 时写入 to，返回是否更新成功
	UpdateStatus(ctx context.Context, id uint, from []model.SyllabusStatus, to model.SyllabusStatus) (bool, error)
}

type LessonRepository interface {
	ListBySyllabus(ctx context.Context, syllabusID uint) ([]model.Lesson, error)
	GetByIdx(ctx context.Context, syllabusID uint, idx int) (*model.Lesson, error)
	GetByLessonID(ctx context.Context, syllabusID uint, lessonID string) (*model.Lesson, error)
	ListPending(ctx context.Context, syllabusID uint, limit int) ([]model.Lesson, error)
	PrecedingTitles(ctx context.Context, syllabusID uint, idx int) ([]string, error)
	GetStatusStats(ctx context.Context, syllabusID uint) (map[model.LessonStatus]int64, error)

	// Claim 条件更新：仅当当前状态属于 from 时置为 generating，返回是否抢占成功
	Claim(ctx context.Context, id uint, from []model.LessonStatus) (bool, error)
	MarkReady(ctx context.Context, id uint, contentMd string) error
	MarkError(ctx context.Context, id uint, message string) error
	CleanupStuck(ctx context.Context, timeout time.Duration) (int64, error)
}

type GenerationJobRepository interface {
	Create(ctx context.Context, job *model.GenerationJob) error
	Finish(ctx context.Context, jobID string, status model.GenerationJobStatus, message string) error
	ListBySyllabus(ctx context.Context, syllabusID uint, limit int) ([]model.GenerationJob, error)
}
