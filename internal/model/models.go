package model

import (
	"time"

	"gorm.io/datatypes"
)

// Outline 大纲文档，作为 JSON 内嵌在 syllabi 表中
type Outline struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Audience      string          `json:"audience"`
	Prerequisites []string        `json:"prerequisites"`
	Assumptions   []string        `json:"assumptions"`
	Lessons       []OutlineLesson `json:"lessons"`
}

// OutlineLesson 大纲中的课时条目
type OutlineLesson struct {
	LessonID    string   `json:"lessonId"`
	Title       string   `json:"title"`
	Goals       []string `json:"goals"`
	Deliverable string   `json:"deliverable"`
	EstMinutes  *int     `json:"estMinutes"`
}

// LessonAt 按 idx 返回大纲课时，越界返回 nil
func (o Outline) LessonAt(idx int) *OutlineLesson {
	if idx < 0 || idx >= len(o.Lessons) {
		return nil
	}
	return &o.Lessons[idx]
}

type Syllabus struct {
	ID          uint                        `json:"id" gorm:"primaryKey"`
	Slug        string                      `json:"slug" gorm:"size:64;uniqueIndex;not null"`
	Title       string                      `json:"title" gorm:"size:255;not null"`
	Brief       string                      `json:"brief" gorm:"type:text;not null"`
	Level       string                      `json:"level" gorm:"size:50;not null"`
	Constraints *string                     `json:"constraints" gorm:"type:text"`
	Outline     datatypes.JSONType[Outline] `json:"outlineJson" gorm:"column:outline_json"`
	Status      SyllabusStatus              `json:"status" gorm:"size:20;not null;default:draft"`
	OwnerID     string                      `json:"userId" gorm:"column:owner_id;size:64;index"`
	CreatedAt   time.Time                   `json:"createdAt"`
	UpdatedAt   time.Time                   `json:"updatedAt"`
	Lessons     []Lesson                    `json:"lessons,omitempty" gorm:"foreignKey:SyllabusID"`
}

func (Syllabus) TableName() string {
	return "syllabi"
}

type Lesson struct {
	ID         uint                        `json:"id" gorm:"primaryKey"`
	SyllabusID uint                        `json:"syllabusId" gorm:"not null;uniqueIndex:idx_lesson_syllabus_idx;uniqueIndex:idx_lesson_syllabus_lesson_id"`
	Idx        int                         `json:"idx" gorm:"not null;uniqueIndex:idx_lesson_syllabus_idx"`
	LessonID   string                      `json:"lessonId" gorm:"column:lesson_id;size:16;not null;uniqueIndex:idx_lesson_syllabus_lesson_id"`
	Title      string                      `json:"title" gorm:"size:255;not null"`
	Goals      datatypes.JSONSlice[string] `json:"goalsJson" gorm:"column:goals_json"`
	ContentMd  *string                     `json:"contentMd" gorm:"column:content_md;type:text"`
	Status     LessonStatus                `json:"status" gorm:"size:20;not null;default:pending;index"`
	Error      *string                     `json:"error" gorm:"column:error;type:text"`
	StartedAt  *time.Time                  `json:"startedAt" gorm:"column:started_at"` // 最近一次进入 generating 的时间
	CreatedAt  time.Time                   `json:"createdAt"`
	UpdatedAt  time.Time                   `json:"updatedAt"`
}

func (Lesson) TableName() string {
	return "lessons"
}

// GenerationJob 单次课时生成尝试的记录
type GenerationJob struct {
	ID         uint                `json:"id" gorm:"primaryKey"`
	JobID      string              `json:"jobId" gorm:"size:64;uniqueIndex"`       // UUID
	BatchID    string              `json:"batchId,omitempty" gorm:"size:64;index"` // 异步批量任务 ID，同步请求为空
	SyllabusID uint                `json:"syllabusId" gorm:"not null;index:idx_job_syllabus_kind_idx"`
	Kind       GenerationKind      `json:"kind" gorm:"size:20;not null;index:idx_job_syllabus_kind_idx"`
	Idx        *int                `json:"idx" gorm:"index:idx_job_syllabus_kind_idx"`
	Status     GenerationJobStatus `json:"status" gorm:"size:20;not null;default:running"`
	Error      *string             `json:"error" gorm:"type:text"`
	StartedAt  *time.Time          `json:"startedAt"`
	FinishedAt *time.Time          `json:"finishedAt"`
}

func (GenerationJob) TableName() string {
	return "generation_jobs"
}
