package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 课程生成相关的 Prometheus 指标
type Metrics struct {
	// 课时生成
	LessonGenerations  *prometheus.CounterVec
	LessonDuration     *prometheus.HistogramVec
	LessonTransitions  *prometheus.CounterVec
	LessonClaimRejects *prometheus.CounterVec

	// 大纲
	SyllabiCreated     *prometheus.CounterVec
	SyllabusCompletion prometheus.Counter

	// 模型调用
	LLMRequests *prometheus.CounterVec
	LLMLatency  *prometheus.HistogramVec
	LLMTokens   *prometheus.CounterVec

	// 对话
	ChatTurns     *prometheus.CounterVec
	ChatToolCalls *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics 创建并注册全部指标，多次调用返回同一实例
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			LessonGenerations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pleroma_lesson_generations_total",
					Help: "Total number of lesson generation attempts",
				},
				[]string{"kind", "result"},
			),
			LessonDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pleroma_lesson_generation_duration_seconds",
					Help:    "Duration of lesson generation in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to 512s
				},
				[]string{"kind", "result"},
			),
			LessonTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pleroma_lesson_transitions_total",
					Help: "Total number of lesson status transitions",
				},
				[]string{"from_status", "to_status"},
			),
			LessonClaimRejects: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pleroma_lesson_claim_rejects_total",
					Help: "Generation requests rejected because the lesson was busy",
				},
				[]string{"kind"},
			),
			SyllabiCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pleroma_syllabi_created_total",
					Help: "Total number of syllabi created",
				},
				[]string{"level"},
			),
			SyllabusCompletion: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "pleroma_syllabi_completed_total",
					Help: "Total number of syllabi that reached complete",
				},
			),
			LLMRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pleroma_llm_requests_total",
					Help: "Total number of model API requests",
				},
				[]string{"model", "mode", "success"},
			),
			LLMLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pleroma_llm_request_duration_seconds",
					Help:    "Model API latency in seconds",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
				},
				[]string{"model", "mode"},
			),
			LLMTokens: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pleroma_llm_tokens_total",
					Help: "Total number of tokens reported by the model API",
				},
				[]string{"model", "type"},
			),
			ChatTurns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pleroma_chat_turns_total",
					Help: "Total number of revision chat turns",
				},
				[]string{"result"},
			),
			ChatToolCalls: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pleroma_chat_tool_calls_total",
					Help: "Total number of tool invocations from the revision chat",
				},
				[]string{"tool", "success"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pleroma_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pleroma_http_request_duration_seconds",
					Help:    "HTTP request latency in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})
	return sharedMetrics
}

// RecordLessonGeneration 记录一次课时生成结果
func (m *Metrics) RecordLessonGeneration(kind string, success bool, d time.Duration) {
	result := resultLabel(success)
	m.LessonGenerations.WithLabelValues(kind, result).Inc()
	m.LessonDuration.WithLabelValues(kind, result).Observe(d.Seconds())
}

func (m *Metrics) RecordTransition(from, to string) {
	m.LessonTransitions.WithLabelValues(from, to).Inc()
}

// RecordLLMRequest 记录一次模型调用
func (m *Metrics) RecordLLMRequest(modelName, mode string, success bool, d time.Duration, promptTokens, completionTokens int) {
	m.LLMRequests.WithLabelValues(modelName, mode, strconv.FormatBool(success)).Inc()
	m.LLMLatency.WithLabelValues(modelName, mode).Observe(d.Seconds())
	if promptTokens > 0 {
		m.LLMTokens.WithLabelValues(modelName, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokens.WithLabelValues(modelName, "completion").Add(float64(completionTokens))
	}
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
