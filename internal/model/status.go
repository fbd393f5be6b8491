package model

// LessonStatus 课时状态
type LessonStatus string

const (
	LessonStatusPending    LessonStatus = "pending"    // 未生成
	LessonStatusGenerating LessonStatus = "generating" // 生成中（包括纠错重写）
	LessonStatusReady      LessonStatus = "ready"      // 已生成，content_md 非空
	LessonStatusError      LessonStatus = "error"      // 生成失败，可重试
)

// SyllabusStatus 课程大纲状态，由课时状态推导
type SyllabusStatus string

const (
	SyllabusStatusDraft      SyllabusStatus = "draft"
	SyllabusStatusOutlined   SyllabusStatus = "outlined"
	SyllabusStatusGenerating SyllabusStatus = "generating"
	SyllabusStatusComplete   SyllabusStatus = "complete"
)

// GenerationJobStatus 生成记录状态
type GenerationJobStatus string

const (
	JobStatusRunning   GenerationJobStatus = "running"
	JobStatusSucceeded GenerationJobStatus = "succeeded"
	JobStatusFailed    GenerationJobStatus = "failed"
)

// GenerationKind 生成来源
type GenerationKind string

const (
	GenerationKindLesson     GenerationKind = "lesson"     // 单课时生成
	GenerationKindBatch      GenerationKind = "batch"      // generate-next 批量生成
	GenerationKindCorrection GenerationKind = "correction" // 对话纠错重写
)
