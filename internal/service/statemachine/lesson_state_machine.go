package statemachine

import (
	"fmt"

	"github.com/weibaohui/pleroma/backend/internal/model"
)

// LessonTransition 定义课时状态迁移
type LessonTransition struct {
	From model.LessonStatus
	To   model.LessonStatus
}

// TransitionKind 迁移路径的类别
// 同一对 From/To 只属于一种路径，ready -> generating 只能走纠错路径
type TransitionKind string

const (
	KindGenerate TransitionKind = "generate" // pending/error -> generating
	KindCorrect  TransitionKind = "correct"  // ready -> generating
	KindSucceed  TransitionKind = "succeed"  // generating -> ready
	KindFail     TransitionKind = "fail"     // generating -> error
)

// LessonStateMachine 课时状态机
type LessonStateMachine struct {
	allowedTransitions map[LessonTransition]TransitionKind
}

// NewLessonStateMachine 创建课时状态机
func NewLessonStateMachine() *LessonStateMachine {
	sm := &LessonStateMachine{
		allowedTransitions: make(map[LessonTransition]TransitionKind),
	}

	// pending -> generating -> ready/error
	// error -> generating（重试）
	// ready -> generating（仅纠错）
	sm.allowedTransitions[LessonTransition{model.LessonStatusPending, model.LessonStatusGenerating}] = KindGenerate
	sm.allowedTransitions[LessonTransition{model.LessonStatusError, model.LessonStatusGenerating}] = KindGenerate
	sm.allowedTransitions[LessonTransition{model.LessonStatusReady, model.LessonStatusGenerating}] = KindCorrect
	sm.allowedTransitions[LessonTransition{model.LessonStatusGenerating, model.LessonStatusReady}] = KindSucceed
	sm.allowedTransitions[LessonTransition{model.LessonStatusGenerating, model.LessonStatusError}] = KindFail

	return sm
}

// CanTransition 检查迁移是否合法且属于指定路径
func (sm *LessonStateMachine) CanTransition(from, to model.LessonStatus, kind TransitionKind) bool {
	if from == to {
		return false
	}
	k, ok := sm.allowedTransitions[LessonTransition{From: from, To: to}]
	return ok && k == kind
}

// ValidateTransition 验证迁移并返回错误
func (sm *LessonStateMachine) ValidateTransition(from, to model.LessonStatus, kind TransitionKind) error {
	if !sm.CanTransition(from, to, kind) {
		return &InvalidStateTransitionError{
			Entity: "lesson",
			From:   string(from),
			To:     string(to),
		}
	}
	return nil
}

// SourcesOf 返回能通过指定路径进入 to 的所有状态
// 用于构造条件更新的 WHERE status IN (...)
func (sm *LessonStateMachine) SourcesOf(to model.LessonStatus, kind TransitionKind) []model.LessonStatus {
	var sources []model.LessonStatus
	for _, from := range []model.LessonStatus{
		model.LessonStatusPending,
		model.LessonStatusGenerating,
		model.LessonStatusReady,
		model.LessonStatusError,
	} {
		if sm.CanTransition(from, to, kind) {
			sources = append(sources, from)
		}
	}
	return sources
}

// InvalidStateTransitionError 无效的状态迁移错误
type InvalidStateTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s -> %s", e.Entity, e.From, e.To)
}

// HasContent 只有 ready 的课时持有正文
func HasContent(status model.LessonStatus) bool {
	return status == model.LessonStatusReady
}

// IsGenerating 判断课时是否正在生成
func IsGenerating(status model.LessonStatus) bool {
	return status == model.LessonStatusGenerating
}
