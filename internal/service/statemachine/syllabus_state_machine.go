package statemachine

import (
	"github.com/weibaohui/pleroma/backend/internal/model"
	"k8s.io/klog/v2"
)

// SyllabusTransition 定义大纲状态迁移
type SyllabusTransition struct {
	From model.SyllabusStatus
	To   model.SyllabusStatus
}

// SyllabusStateMachine 大纲状态机
// 状态只前进不回退：draft -> outlined -> generating -> complete
type SyllabusStateMachine struct {
	allowedTransitions map[SyllabusTransition]bool
}

// NewSyllabusStateMachine 创建大纲状态机
func NewSyllabusStateMachine() *SyllabusStateMachine {
	sm := &SyllabusStateMachine{
		allowedTransitions: make(map[SyllabusTransition]bool),
	}

	transitions := []SyllabusTransition{
		{model.SyllabusStatusDraft, model.SyllabusStatusOutlined},
		{model.SyllabusStatusOutlined, model.SyllabusStatusGenerating},
		{model.SyllabusStatusOutlined, model.SyllabusStatusComplete},
		{model.SyllabusStatusGenerating, model.SyllabusStatusComplete},
	}

	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}

	return sm
}

// CanTransition 检查状态迁移是否合法
func (sm *SyllabusStateMachine) CanTransition(from, to model.SyllabusStatus) bool {
	if from == to {
		return false
	}
	return sm.allowedTransitions[SyllabusTransition{From: from, To: to}]
}

// ValidateTransition 验证状态迁移并返回错误
func (sm *SyllabusStateMachine) ValidateTransition(from, to model.SyllabusStatus) error {
	if !sm.CanTransition(from, to) {
		return &InvalidStateTransitionError{
			Entity: "syllabus",
			From:   string(from),
			To:     string(to),
		}
	}
	return nil
}

// LessonStatusSummary 课时状态汇总
type LessonStatusSummary struct {
	Total      int
	Pending    int
	Generating int
	Ready      int
	Error      int
}

// Summarize 统计课时状态
func Summarize(lessons []model.Lesson) LessonStatusSummary {
	var summary LessonStatusSummary
	for _, l := range lessons {
		summary.Add(l.Status, 1)
	}
	return summary
}

// Add 累加某状态的数量，未知状态只计入 Total
func (s *LessonStatusSummary) Add(status model.LessonStatus, n int) {
	s.Total += n
	switch status {
	case model.LessonStatusPending:
		s.Pending += n
	case model.LessonStatusGenerating:
		s.Generating += n
	case model.LessonStatusReady:
		s.Ready += n
	case model.LessonStatusError:
		s.Error += n
	}
}

// Recompute 由课时集合推导大纲状态（纯函数）
// 1. 没有 pending：complete
// 2. 存在已离开 pending 的课时：generating
// 3. 否则：outlined
func Recompute(lessons []model.Lesson) model.SyllabusStatus {
	return RecomputeSummary(Summarize(lessons))
}

// RecomputeSummary 与 Recompute 相同，输入为汇总结果
func RecomputeSummary(summary LessonStatusSummary) model.SyllabusStatus {
	switch {
	case summary.Pending == 0:
		return model.SyllabusStatusComplete
	case summary.Pending < summary.Total:
		return model.SyllabusStatusGenerating
	default:
		return model.SyllabusStatusOutlined
	}
}

// Reconcile 根据推导结果计算应写入的状态
// 推导结果不能通过状态机前进时保持原状态，保证 complete 不回退
func (sm *SyllabusStateMachine) Reconcile(current model.SyllabusStatus, summary LessonStatusSummary, syllabusID uint) model.SyllabusStatus {
	derived := RecomputeSummary(summary)
	if derived == current {
		return current
	}

	if err := sm.ValidateTransition(current, derived); err != nil {
		klog.V(6).Infof("大纲状态保持不变: syllabusID=%d, current=%s, derived=%s (summary: total=%d, pending=%d, generating=%d, ready=%d, error=%d)",
			syllabusID, current, derived,
			summary.Total, summary.Pending, summary.Generating, summary.Ready, summary.Error)
		return current
	}

	klog.V(6).Infof("大纲状态聚合: syllabusID=%d, %s -> %s (summary: total=%d, pending=%d, generating=%d, ready=%d, error=%d)",
		syllabusID, current, derived,
		summary.Total, summary.Pending, summary.Generating, summary.Ready, summary.Error)
	return derived
}

// Begin 批量生成开始时的状态：outlined 进入 generating，其余保持
func (sm *SyllabusStateMachine) Begin(current model.SyllabusStatus) model.SyllabusStatus {
	if sm.CanTransition(current, model.SyllabusStatusGenerating) {
		return model.SyllabusStatusGenerating
	}
	return current
}

// IsSyllabusTerminal 判断大纲是否已完成
func IsSyllabusTerminal(status model.SyllabusStatus) bool {
	return status == model.SyllabusStatusComplete
}
