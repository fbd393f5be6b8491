package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weibaohui/pleroma/backend/internal/model"
	"gorm.io/gorm"
)

type lessonRepository struct {
	db *gorm.DB
}

func NewLessonRepository(db *gorm.DB) LessonRepository {
	return &lessonRepository{db: db}
}

func (r *lessonRepository) ListBySyllabus(ctx context.Context, syllabusID uint) ([]model.Lesson, error) {
	var lessons []model.Lesson
	err := r.db.WithContext(ctx).Where("syllabus_id = ?", syllabusID).Order("idx").Find(&lessons).Error
	return lessons, err
}

func (r *lessonRepository) GetByIdx(ctx context.Context, syllabusID uint, idx int) (*model.Lesson, error) {
	return r.first(ctx, "syllabus_id = ? AND idx = ?", syllabusID, idx)
}

func (r *lessonRepository) GetByLessonID(ctx context.Context, syllabusID uint, lessonID string) (*model.Lesson, error) {
	return r.first(ctx, "syllabus_id = ? AND lesson_id = ?", syllabusID, lessonID)
}

func (r *lessonRepository) first(ctx context.Context, query string, args ...interface{}) (*model.Lesson, error) {
	var lesson model.Lesson
	err := r.db.WithContext(ctx).Where(query, args...).First(&lesson).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &lesson, nil
}

// ListPending 按 idx 升序取前 limit 个 pending 课时
func (r *lessonRepository) ListPending(ctx context.Context, syllabusID uint, limit int) ([]model.Lesson, error) {
	var lessons []model.Lesson
	err := r.db.WithContext(ctx).
		Where("syllabus_id = ? AND status = ?", syllabusID, model.LessonStatusPending).
		Order("idx").
		Limit(limit).
		Find(&lessons).Error
	return lessons, err
}

// PrecedingTitles 返回 idx 之前所有课时的标题（按 idx 升序）
func (r *lessonRepository) PrecedingTitles(ctx context.Context, syllabusID uint, idx int) ([]string, error) {
	var titles []string
	err := r.db.WithContext(ctx).Model(&model.Lesson{}).
		Where("syllabus_id = ? AND idx < ?", syllabusID, idx).
		Order("idx").
		Pluck("title", &titles).Error
	return titles, err
}

func (r *lessonRepository) GetStatusStats(ctx context.Context, syllabusID uint) (map[model.LessonStatus]int64, error) {
	var rows []struct {
		Status model.LessonStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.Lesson{}).
		Select("status, COUNT(*) AS count").
		Where("syllabus_id = ?", syllabusID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := make(map[model.LessonStatus]int64, len(rows))
	for _, row := range rows {
		stats[row.Status] = row.Count
	}
	return stats, nil
}

// Claim 用条件更新抢占课时，RowsAffected 为 0 说明状态已被其他请求改变
// 抢占同时清空正文与错误信息，generating 状态下不持有正文
func (r *lessonRepository) Claim(ctx context.Context, id uint, from []model.LessonStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	result := r.db.WithContext(ctx).Model(&model.Lesson{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{
			"status":     model.LessonStatusGenerating,
			"content_md": nil,
			"error":      nil,
			"started_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *lessonRepository) MarkReady(ctx context.Context, id uint, contentMd string) error {
	return r.db.WithContext(ctx).Model(&model.Lesson{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.LessonStatusReady,
			"content_md": contentMd,
			"error":      nil,
		}).Error
}

func (r *lessonRepository) MarkError(ctx context.Context, id uint, message string) error {
	return r.db.WithContext(ctx).Model(&model.Lesson{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.LessonStatusError,
			"content_md": nil,
			"error":      message,
		}).Error
}

// CleanupStuck 将 generating 超过 timeout 的课时标记为 error
// 用于处理进程在生成过程中退出的情况
func (r *lessonRepository) CleanupStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	result := r.db.WithContext(ctx).Model(&model.Lesson{}).
		Where("status = ? AND started_at < ?", model.LessonStatusGenerating, cutoff).
		Updates(map[string]interface{}{
			"status":     model.LessonStatusError,
			"content_md": nil,
			"error":      fmt.Sprintf("generation interrupted (generating for more than %v)", timeout),
		})
	return result.RowsAffected, result.Error
}
