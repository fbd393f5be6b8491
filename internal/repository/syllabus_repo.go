package repository

import (
	"context"
	"errors"

	"github.com/weibaohui/pleroma/backend/internal/model"
	"gorm.io/gorm"
)

type syllabusRepository struct {
	db *gorm.DB
}

func NewSyllabusRepository(db *gorm.DB) SyllabusRepository {
	return &syllabusRepository{db: db}
}

func (r *syllabusRepository) CreateWithLessons(ctx context.Context, syllabus *model.Syllabus, lessons []model.Lesson) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Lessons").Create(syllabus).Error; err != nil {
			return err
		}
		if len(lessons) == 0 {
			return nil
		}
		for i := range lessons {
			lessons[i].SyllabusID = syllabus.ID
		}
		if err := tx.Create(&lessons).Error; err != nil {
			return err
		}
		syllabus.Lessons = lessons
		return nil
	})
}

func (r *syllabusRepository) GetBySlug(ctx context.Context, slug string) (*model.Syllabus, error) {
	var syllabus model.Syllabus
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&syllabus).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &syllabus, nil
}

func (r *syllabusRepository) ExistsSlug(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Syllabus{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

func (r *syllabusRepository) ListByOwner(ctx context.Context, ownerID string) ([]model.Syllabus, error) {
	var syllabi []model.Syllabus
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&syllabi).Error
	return syllabi, err
}

func (r *syllabusRepository) UpdateStatus(ctx context.Context, id uint, from []model.SyllabusStatus, to model.SyllabusStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	result := r.db.WithContext(ctx).Model(&model.Syllabus{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
