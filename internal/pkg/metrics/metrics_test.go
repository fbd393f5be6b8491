package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetricsIsShared(t *testing.T) {
	assert.Same(t, NewMetrics(), NewMetrics())
}

func TestRecordLessonGeneration(t *testing.T) {
	m := NewMetrics()
	before := testutil.ToFloat64(m.LessonGenerations.WithLabelValues("lesson", "success"))

	m.RecordLessonGeneration("lesson", true, 2*time.Second)

	after := testutil.ToFloat64(m.LessonGenerations.WithLabelValues("lesson", "success"))
	assert.Equal(t, before+1, after)
}

func TestRecordLLMRequestTokens(t *testing.T) {
	m := NewMetrics()
	before := testutil.ToFloat64(m.LLMTokens.WithLabelValues("test-model", "completion"))

	m.RecordLLMRequest("test-model", "generate", true, time.Second, 10, 25)

	assert.Equal(t, before+25, testutil.ToFloat64(m.LLMTokens.WithLabelValues("test-model", "completion")))
}
