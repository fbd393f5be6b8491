package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/weibaohui/pleroma/backend/internal/middleware"
	"github.com/weibaohui/pleroma/backend/internal/service"
	"github.com/weibaohui/pleroma/backend/internal/service/dispatcher"
	"k8s.io/klog/v2"
)

// BatchDispatcher 异步批量任务入队
type BatchDispatcher interface {
	Enqueue(job *dispatcher.Job) error
	GetQueueStatus() *dispatcher.QueueStatus
}

// GenerateNextRequest count 省略或为 0 时取默认值
type GenerateNextRequest struct {
	Count int  `json:"count"`
	Async bool `json:"async"`
}

type LessonHandler struct {
	generation *service.GenerationService
	dispatcher BatchDispatcher
}

func NewLessonHandler(generation *service.GenerationService, dispatcher BatchDispatcher) *LessonHandler {
	return &LessonHandler{generation: generation, dispatcher: dispatcher}
}

func (h *LessonHandler) Generate(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lesson index"})
		return
	}

	outcome, err := h.generation.GenerateLesson(c.Request.Context(), c.Param("slug"), idx, middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// GenerateNext 顺序生成后续 pending 课时，async 为 true 时入队后台执行并返回 202
func (h *LessonHandler) GenerateNext(c *gin.Context) {
	var req GenerateNextRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	slug := c.Param("slug")
	userID := middleware.UserID(c)
	count, err := h.generation.NormalizeCount(req.Count)
	if err != nil {
		writeError(c, err)
		return
	}

	if req.Async {
		h.enqueue(c, slug, userID, count)
		return
	}

	result, err := h.generation.GenerateNext(c.Request.Context(), slug, userID, count, "")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *LessonHandler) enqueue(c *gin.Context, slug, userID string, count int) {
	if h.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async generation is not enabled"})
		return
	}

	syllabus, err := h.generation.Authorize(c.Request.Context(), slug, userID)
	if err != nil {
		writeError(c, err)
		return
	}

	job := dispatcher.NewBatchJob(syllabus.ID, slug, userID, count)
	if err := h.dispatcher.Enqueue(job); err != nil {
		writeError(c, err)
		return
	}

	klog.V(6).Infof("[LessonHandler.GenerateNext] 异步批量任务已入队: jobID=%s, slug=%s, count=%d", job.ID, slug, count)
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID})
}

// QueueStatus 异步批量队列状态
func (h *LessonHandler) QueueStatus(c *gin.Context) {
	if h.dispatcher == nil {
		c.JSON(http.StatusOK, &dispatcher.QueueStatus{})
		return
	}
	c.JSON(http.StatusOK, h.dispatcher.GetQueueStatus())
}
