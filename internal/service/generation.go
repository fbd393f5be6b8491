package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/weibaohui/pleroma/backend/config"
	"github.com/weibaohui/pleroma/backend/internal/eventbus"
	"github.com/weibaohui/pleroma/backend/internal/model"
	"github.com/weibaohui/pleroma/backend/internal/pkg/tracing"
	"github.com/weibaohui/pleroma/backend/internal/repository"
	"github.com/weibaohui/pleroma/backend/internal/service/lessongen"
	"github.com/weibaohui/pleroma/backend/internal/service/statemachine"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"k8s.io/klog/v2"
)

// LessonWriter 课时正文生成
type LessonWriter interface {
	Generate(ctx context.Context, in lessongen.Input) (string, error)
}

// LessonStatusAlreadyReady 课时已是 ready，未调用模型
const LessonStatusAlreadyReady = "already_ready"

// LessonOutcome 单课时生成结果
type LessonOutcome struct {
	Status   string `json:"status"`
	LessonID string `json:"lessonId,omitempty"`
}

// BatchFailure 批量生成中单个课时的失败
type BatchFailure struct {
	LessonID string `json:"lessonId"`
	Error    string `json:"error"`
}

// BatchResult generate-next 结果
type BatchResult struct {
	Generated []string       `json:"generated"`
	Failed    []BatchFailure `json:"failed"`
	Message   string         `json:"message,omitempty"`
}

// attempt 一次课时生成尝试的参数
type attempt struct {
	kind       model.GenerationKind
	batchID    string
	correction *lessongen.Correction
}

// GenerationService 课时生成编排：抢占、生成、写回、大纲状态重算
type GenerationService struct {
	syllabusRepo repository.SyllabusRepository
	lessonRepo   repository.LessonRepository
	jobRepo      repository.GenerationJobRepository
	writer       LessonWriter
	lessonSM     *statemachine.LessonStateMachine
	syllabusSM   *statemachine.SyllabusStateMachine
	lessonBus    *eventbus.LessonEventBus
	syllabusBus  *eventbus.SyllabusEventBus
	cfg          config.GenerationConfig
}

func NewGenerationService(
	cfg config.GenerationConfig,
	syllabusRepo repository.SyllabusRepository,
	lessonRepo repository.LessonRepository,
	jobRepo repository.GenerationJobRepository,
	writer LessonWriter,
	lessonBus *eventbus.LessonEventBus,
	syllabusBus *eventbus.SyllabusEventBus,
) *GenerationService {
	return &GenerationService{
		syllabusRepo: syllabusRepo,
		lessonRepo:   lessonRepo,
		jobRepo:      jobRepo,
		writer:       writer,
		lessonSM:     statemachine.NewLessonStateMachine(),
		syllabusSM:   statemachine.NewSyllabusStateMachine(),
		lessonBus:    lessonBus,
		syllabusBus:  syllabusBus,
		cfg:          cfg,
	}
}

// NormalizeCount 规范化批量数量：0 取默认值，超过上限截断，负数报错
func (s *GenerationService) NormalizeCount(count int) (int, error) {
	if count < 0 {
		return 0, ErrInvalidCount
	}
	if count == 0 {
		count = s.cfg.DefaultBatchCount
	}
	if count < 1 {
		count = 1
	}
	if s.cfg.MaxBatchCount > 0 && count > s.cfg.MaxBatchCount {
		count = s.cfg.MaxBatchCount
	}
	return count, nil
}

// GenerateLesson 生成指定 idx 的课时，ready 状态直接返回 already_ready 不调用模型
func (s *GenerationService) GenerateLesson(ctx context.Context, slug string, idx int, userID string) (*LessonOutcome, error) {
	syllabus, err := s.ownedSyllabus(ctx, slug, userID)
	if err != nil {
		return nil, err
	}

	lesson, err := s.lessonRepo.GetByIdx(ctx, syllabus.ID, idx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLessonNotFound
		}
		return nil, err
	}
	if lesson.Status == model.LessonStatusReady {
		klog.V(6).Infof("课时已生成，跳过: syllabusID=%d, idx=%d", syllabus.ID, idx)
		return &LessonOutcome{Status: LessonStatusAlreadyReady}, nil
	}

	genErr := s.generate(ctx, syllabus, lesson, attempt{kind: model.GenerationKindLesson})
	if errors.Is(genErr, errAlreadyReady) {
		return &LessonOutcome{Status: LessonStatusAlreadyReady}, nil
	}
	if errors.Is(genErr, ErrLessonBusy) {
		return nil, genErr
	}

	s.reconcile(context.WithoutCancel(ctx), syllabus.ID, slug)

	if genErr != nil {
		return nil, genErr
	}
	return &LessonOutcome{Status: string(model.LessonStatusReady), LessonID: lesson.LessonID}, nil
}

// GenerateNext 按 idx 升序顺序生成最多 count 个 pending 课时
// 调用方断开连接不会中止批量，选中的课时全部处理完才结束
func (s *GenerationService) GenerateNext(ctx context.Context, slug string, userID string, count int, batchID string) (*BatchResult, error) {
	return s.RunBatch(context.WithoutCancel(ctx), slug, userID, count, batchID)
}

// RunBatch 执行批量生成，ctx 取消后在课时之间停止，已开始的课时照常写回
// 单个课时失败只记录，不影响后续课时
func (s *GenerationService) RunBatch(ctx context.Context, slug string, userID string, count int, batchID string) (*BatchResult, error) {
	count, err := s.NormalizeCount(count)
	if err != nil {
		return nil, err
	}
	syllabus, err := s.ownedSyllabus(ctx, slug, userID)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.Tracer().Start(ctx, "syllabus.generate_next")
	span.SetAttributes(attribute.String("syllabus.slug", slug), attribute.Int("batch.count", count))
	defer span.End()

	result := &BatchResult{Generated: []string{}, Failed: []BatchFailure{}}

	pending, err := s.lessonRepo.ListPending(ctx, syllabus.ID, count)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		s.reconcile(ctx, syllabus.ID, slug)
		result.Message = "No pending lessons"
		return result, nil
	}

	// 条件写入失败说明状态已被并发推进，无需重试
	if next := s.syllabusSM.Begin(syllabus.Status); next != syllabus.Status {
		_, _ = s.setSyllabusStatus(ctx, syllabus, next)
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			klog.Warningf("批量生成被中止: syllabusID=%d, 已处理=%d/%d, err=%v", syllabus.ID, i, len(pending), err)
			break
		}
		lesson := &pending[i]
		genErr := s.generate(ctx, syllabus, lesson, attempt{kind: model.GenerationKindBatch, batchID: batchID})
		if genErr != nil {
			result.Failed = append(result.Failed, BatchFailure{LessonID: lesson.LessonID, Error: genErr.Error()})
			continue
		}
		result.Generated = append(result.Generated, lesson.LessonID)
	}

	s.reconcile(context.WithoutCancel(ctx), syllabus.ID, slug)
	span.SetAttributes(attribute.Int("batch.generated", len(result.Generated)), attribute.Int("batch.failed", len(result.Failed)))
	klog.V(6).Infof("批量生成完成: syllabusID=%d, 成功=%d, 失败=%d", syllabus.ID, len(result.Generated), len(result.Failed))
	return result, nil
}

// ApplyCorrection 按反馈重写 ready 课时，课时与大纲均从存储实时读取
func (s *GenerationService) ApplyCorrection(ctx context.Context, slug, lessonID, feedback, userID string) (*model.Lesson, error) {
	syllabus, err := s.ownedSyllabus(ctx, slug, userID)
	if err != nil {
		return nil, err
	}
	lesson, err := s.lessonRepo.GetByLessonID(ctx, syllabus.ID, lessonID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLessonNotFound
		}
		return nil, err
	}

	switch {
	case lesson.Status == model.LessonStatusGenerating:
		return nil, ErrLessonBusy
	case !statemachine.HasContent(lesson.Status) || lesson.ContentMd == nil:
		return nil, ErrLessonNotReady
	}

	correction := &lessongen.Correction{PreviousContent: *lesson.ContentMd, Feedback: feedback}
	if err := s.generate(ctx, syllabus, lesson, attempt{kind: model.GenerationKindCorrection, correction: correction}); err != nil {
		return nil, err
	}
	s.reconcile(context.WithoutCancel(ctx), syllabus.ID, slug)

	updated, err := s.lessonRepo.GetByIdx(context.WithoutCancel(ctx), syllabus.ID, lesson.Idx)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

var errAlreadyReady = errors.New("lesson became ready")

// generate 抢占课时并调用模型生成，结果写回存储
// 抢占成功后使用与请求解耦的 context，调用方放弃等待不会中断生成与写回
func (s *GenerationService) generate(ctx context.Context, syllabus *model.Syllabus, lesson *model.Lesson, a attempt) error {
	kind := statemachine.KindGenerate
	if a.correction != nil {
		kind = statemachine.KindCorrect
	}
	from := lesson.Status

	claimed, err := s.lessonRepo.Claim(ctx, lesson.ID, s.lessonSM.SourcesOf(model.LessonStatusGenerating, kind))
	if err != nil {
		return err
	}
	if !claimed {
		s.publishLesson(ctx, eventbus.LessonEventRejected, syllabus, lesson, a.kind, from, from, 0, "")
		if current, err := s.lessonRepo.GetByIdx(ctx, syllabus.ID, lesson.Idx); err == nil &&
			current.Status == model.LessonStatusReady && a.correction == nil {
			return errAlreadyReady
		}
		return ErrLessonBusy
	}
	s.publishLesson(ctx, eventbus.LessonEventStarted, syllabus, lesson, a.kind, from, model.LessonStatusGenerating, 0, "")

	genCtx := context.WithoutCancel(ctx)
	genCtx, span := tracing.Tracer().Start(genCtx, "lesson.generate")
	span.SetAttributes(
		attribute.Int64("syllabus.id", int64(syllabus.ID)),
		attribute.Int("lesson.idx", lesson.Idx),
		attribute.String("generation.kind", string(a.kind)),
	)
	defer span.End()

	jobID := s.startJob(genCtx, syllabus.ID, lesson.Idx, a)
	start := time.Now()

	titles, err := s.lessonRepo.PrecedingTitles(genCtx, syllabus.ID, lesson.Idx)
	if err != nil {
		klog.Warningf("读取前序课时标题失败，继续生成: syllabusID=%d, idx=%d, err=%v", syllabus.ID, lesson.Idx, err)
	}
	input := lessongen.NewInput(syllabus, lesson, titles)
	input.Correction = a.correction

	content, genErr := s.writer.Generate(genCtx, input)
	if genErr != nil {
		span.RecordError(genErr)
		span.SetStatus(codes.Error, genErr.Error())
		s.fail(genCtx, syllabus, lesson, a, jobID, genErr, time.Since(start))
		return fmt.Errorf("%w: %v", ErrGenerationFailed, genErr)
	}

	if err := s.lessonRepo.MarkReady(genCtx, lesson.ID, content); err != nil {
		klog.Errorf("写入课时正文失败: lessonID=%d, err=%v", lesson.ID, err)
		s.fail(genCtx, syllabus, lesson, a, jobID, err, time.Since(start))
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	s.finishJob(genCtx, jobID, model.JobStatusSucceeded, "")
	s.publishLesson(genCtx, eventbus.LessonEventSucceeded, syllabus, lesson, a.kind, model.LessonStatusGenerating, model.LessonStatusReady, time.Since(start), "")
	return nil
}

// fail 记录生成失败
// 纠错失败时恢复原正文回到 ready，普通生成失败进入 error
func (s *GenerationService) fail(ctx context.Context, syllabus *model.Syllabus, lesson *model.Lesson, a attempt, jobID string, cause error, elapsed time.Duration) {
	to := model.LessonStatusError
	var err error
	if a.correction != nil {
		to = model.LessonStatusReady
		err = s.lessonRepo.MarkReady(ctx, lesson.ID, a.correction.PreviousContent)
	} else {
		err = s.lessonRepo.MarkError(ctx, lesson.ID, cause.Error())
	}
	if err != nil {
		klog.Errorf("写入失败状态出错: lessonID=%d, err=%v", lesson.ID, err)
	}
	s.finishJob(ctx, jobID, model.JobStatusFailed, cause.Error())
	s.publishLesson(ctx, eventbus.LessonEventFailed, syllabus, lesson, a.kind, model.LessonStatusGenerating, to, elapsed, cause.Error())
}

const reconcileAttempts = 3

// reconcile 按课时状态统计重算大纲状态，不会回退
// 写入以读到的状态为条件，被并发修改时重新读取再聚合
func (s *GenerationService) reconcile(ctx context.Context, syllabusID uint, slug string) {
	for i := 0; i < reconcileAttempts; i++ {
		current, err := s.syllabusRepo.GetBySlug(ctx, slug)
		if err != nil {
			klog.Errorf("读取大纲失败: slug=%s, err=%v", slug, err)
			return
		}
		stats, err := s.lessonRepo.GetStatusStats(ctx, syllabusID)
		if err != nil {
			klog.Errorf("统计课时状态失败: syllabusID=%d, err=%v", syllabusID, err)
			return
		}

		var summary statemachine.LessonStatusSummary
		for status, n := range stats {
			summary.Add(status, int(n))
		}
		next := s.syllabusSM.Reconcile(current.Status, summary, syllabusID)
		if next == current.Status {
			return
		}
		updated, err := s.setSyllabusStatus(ctx, current, next)
		if err != nil || updated {
			return
		}
		klog.V(6).Infof("大纲状态已被并发修改，重新聚合: syllabusID=%d, attempt=%d", syllabusID, i+1)
	}
	klog.Warningf("大纲状态聚合重试次数耗尽: syllabusID=%d", syllabusID)
}

// setSyllabusStatus 仅当存储中的状态仍为 syllabus.Status 时写入 next
func (s *GenerationService) setSyllabusStatus(ctx context.Context, syllabus *model.Syllabus, next model.SyllabusStatus) (bool, error) {
	from := syllabus.Status
	if err := s.syllabusSM.ValidateTransition(from, next); err != nil {
		return false, err
	}
	updated, err := s.syllabusRepo.UpdateStatus(ctx, syllabus.ID, []model.SyllabusStatus{from}, next)
	if err != nil {
		klog.Errorf("更新大纲状态失败: syllabusID=%d, %s -> %s, err=%v", syllabus.ID, from, next, err)
		return false, err
	}
	if !updated {
		return false, nil
	}
	syllabus.Status = next
	if err := s.syllabusBus.Publish(ctx, eventbus.SyllabusEventStatusChanged, eventbus.SyllabusEvent{
		Type:       eventbus.SyllabusEventStatusChanged,
		SyllabusID: syllabus.ID,
		Slug:       syllabus.Slug,
		Level:      syllabus.Level,
		From:       from,
		To:         next,
	}); err != nil {
		klog.Warningf("发布大纲状态事件失败: %v", err)
	}
	return true, nil
}

// Authorize 校验调用者可以对大纲发起生成，异步批量入队前调用
func (s *GenerationService) Authorize(ctx context.Context, slug, userID string) (*model.Syllabus, error) {
	return s.ownedSyllabus(ctx, slug, userID)
}

// ownedSyllabus 读取大纲并校验调用者为所有者
func (s *GenerationService) ownedSyllabus(ctx context.Context, slug, userID string) (*model.Syllabus, error) {
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
	return syllabus, nil
}

func (s *GenerationService) startJob(ctx context.Context, syllabusID uint, idx int, a attempt) string {
	now := time.Now()
	lessonIdx := idx
	job := &model.GenerationJob{
		JobID:      uuid.NewString(),
		BatchID:    a.batchID,
		SyllabusID: syllabusID,
		Kind:       a.kind,
		Idx:        &lessonIdx,
		Status:     model.JobStatusRunning,
		StartedAt:  &now,
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		klog.Warningf("写入生成记录失败: syllabusID=%d, idx=%d, err=%v", syllabusID, idx, err)
		return ""
	}
	return job.JobID
}

func (s *GenerationService) finishJob(ctx context.Context, jobID string, status model.GenerationJobStatus, message string) {
	if jobID == "" {
		return
	}
	if err := s.jobRepo.Finish(ctx, jobID, status, message); err != nil {
		klog.Warningf("更新生成记录失败: jobID=%s, err=%v", jobID, err)
	}
}

func (s *GenerationService) publishLesson(ctx context.Context, t eventbus.LessonEventType, syllabus *model.Syllabus, lesson *model.Lesson,
	kind model.GenerationKind, from, to model.LessonStatus, elapsed time.Duration, message string) {
	if err := s.lessonBus.Publish(ctx, t, eventbus.LessonEvent{
		Type:       t,
		SyllabusID: syllabus.ID,
		LessonID:   lesson.ID,
		Idx:        lesson.Idx,
		Kind:       kind,
		From:       from,
		To:         to,
		Duration:   elapsed,
		Error:      message,
	}); err != nil {
		klog.Warningf("发布课时事件失败: type=%s, err=%v", t, err)
	}
}
