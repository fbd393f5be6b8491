package subscriber

import (
	"context"
	"strings"

	"github.com/weibaohui/pleroma/backend/internal/eventbus"
	"github.com/weibaohui/pleroma/backend/internal/model"
	"github.com/weibaohui/pleroma/backend/internal/pkg/metrics"
	"k8s.io/klog/v2"
)

// GenerationEventSubscriber 把生成事件记录到日志和 Prometheus 指标
type GenerationEventSubscriber struct {
	metrics *metrics.Metrics
}

func NewGenerationEventSubscriber(m *metrics.Metrics) *GenerationEventSubscriber {
	return &GenerationEventSubscriber{metrics: m}
}

func (s *GenerationEventSubscriber) Register(lessonBus *eventbus.LessonEventBus, syllabusBus *eventbus.SyllabusEventBus) {
	if lessonBus != nil {
		lessonBus.Subscribe(eventbus.LessonEventStarted, s.handleTransition)
		lessonBus.Subscribe(eventbus.LessonEventSucceeded, s.handleFinished)
		lessonBus.Subscribe(eventbus.LessonEventFailed, s.handleFinished)
		lessonBus.Subscribe(eventbus.LessonEventRejected, s.handleRejected)
	}
	if syllabusBus != nil {
		syllabusBus.Subscribe(eventbus.SyllabusEventCreated, s.handleSyllabusCreated)
		syllabusBus.Subscribe(eventbus.SyllabusEventStatusChanged, s.handleSyllabusStatus)
	}
}

func (s *GenerationEventSubscriber) handleTransition(ctx context.Context, event eventbus.LessonEvent) error {
	s.metrics.RecordTransition(string(event.From), string(event.To))
	klog.V(6).Infof("课时开始生成: syllabusID=%d, idx=%d, kind=%s, %s -> %s", event.SyllabusID, event.Idx, event.Kind, event.From, event.To)
	return nil
}

func (s *GenerationEventSubscriber) handleFinished(ctx context.Context, event eventbus.LessonEvent) error {
	s.metrics.RecordTransition(string(event.From), string(event.To))
	success := event.Type == eventbus.LessonEventSucceeded
	s.metrics.RecordLessonGeneration(string(event.Kind), success, event.Duration)
	if success {
		klog.V(6).Infof("课时生成成功: syllabusID=%d, idx=%d, kind=%s, 耗时=%v", event.SyllabusID, event.Idx, event.Kind, event.Duration)
	} else {
		klog.Warningf("课时生成失败: syllabusID=%d, idx=%d, kind=%s, error=%s", event.SyllabusID, event.Idx, event.Kind, event.Error)
	}
	return nil
}

func (s *GenerationEventSubscriber) handleRejected(ctx context.Context, event eventbus.LessonEvent) error {
	s.metrics.LessonClaimRejects.WithLabelValues(string(event.Kind)).Inc()
	klog.V(6).Infof("课时正在生成，拒绝请求: syllabusID=%d, idx=%d, kind=%s", event.SyllabusID, event.Idx, event.Kind)
	return nil
}

func (s *GenerationEventSubscriber) handleSyllabusCreated(ctx context.Context, event eventbus.SyllabusEvent) error {
	s.metrics.SyllabiCreated.WithLabelValues(levelLabel(event.Level)).Inc()
	klog.V(6).Infof("大纲已创建: syllabusID=%d, slug=%s", event.SyllabusID, event.Slug)
	return nil
}

func (s *GenerationEventSubscriber) handleSyllabusStatus(ctx context.Context, event eventbus.SyllabusEvent) error {
	if event.To == model.SyllabusStatusComplete {
		s.metrics.SyllabusCompletion.Inc()
	}
	klog.V(6).Infof("大纲状态变更: syllabusID=%d, %s -> %s", event.SyllabusID, event.From, event.To)
	return nil
}

// levelLabel 把用户填写的难度归一为有限的标签值
func levelLabel(level string) string {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "beginner", "intermediate", "advanced":
		return l
	default:
		return "other"
	}
}
