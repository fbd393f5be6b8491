package eventbus

import (
	"time"

	"github.com/weibaohui/pleroma/backend/internal/model"
)

type LessonEventType string

const (
	LessonEventStarted   LessonEventType = "Started"   // 抢占成功，进入 generating
	LessonEventSucceeded LessonEventType = "Succeeded" // 写入正文，进入 ready
	LessonEventFailed    LessonEventType = "Failed"    // 生成失败
	LessonEventRejected  LessonEventType = "Rejected"  // 课时正在生成，请求被拒绝
)

type LessonEvent struct {
	Type       LessonEventType
	SyllabusID uint
	LessonID   uint
	Idx        int
	Kind       model.GenerationKind
	From       model.LessonStatus
	To         model.LessonStatus
	Duration   time.Duration
	Error      string
}

type LessonEventHandler = Handler[LessonEvent]
type LessonEventBus = Bus[LessonEventType, LessonEvent]

func NewLessonEventBus() *LessonEventBus {
	return NewBus[LessonEventType, LessonEvent]()
}
