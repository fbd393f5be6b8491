package repository

import (
	"context"
	"time"

	"github.com/weibaohui/pleroma/backend/internal/model"
	"gorm.io/gorm"
)

type generationJobRepository struct {
	db *gorm.DB
}

// NewGenerationJobRepository 创建生成记录仓储
func NewGenerationJobRepository(db *gorm.DB) GenerationJobRepository {
	return &generationJobRepository{db: db}
}

func (r *generationJobRepository) Create(ctx context.Context, job *model.GenerationJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Finish 写入结束状态，message 为空时 error 列置空
func (r *generationJobRepository) Finish(ctx context.Context, jobID string, status model.GenerationJobStatus, message string) error {
	var errMsg interface{}
	if message != "" {
		errMsg = message
	}
	return r.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{
			"status":      status,
			"error":       errMsg,
			"finished_at": time.Now(),
		}).Error
}

func (r *generationJobRepository) ListBySyllabus(ctx context.Context, syllabusID uint, limit int) ([]model.GenerationJob, error) {
	var jobs []model.GenerationJob
	query := r.db.WithContext(ctx).Where("syllabus_id = ?", syllabusID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&jobs).Error
	return jobs, err
}
