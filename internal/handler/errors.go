package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weibaohui/pleroma/backend/internal/service"
	"github.com/weibaohui/pleroma/backend/internal/service/dispatcher"
	"k8s.io/klog/v2"
)

// writeError 把服务层错误映射为 HTTP 状态码，未识别的错误返回 500
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidCount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEmptyConversation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, service.ErrSyllabusNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Syllabus not found"})
	case errors.Is(err, service.ErrLessonNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Lesson not found"})
	case errors.Is(err, service.ErrLessonBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "already_generating"})
	case errors.Is(err, service.ErrLessonNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, dispatcher.ErrSyllabusBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, dispatcher.ErrQueueFull), errors.Is(err, dispatcher.ErrDispatcherStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrGenerationFailed):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate lesson"})
	case errors.Is(err, service.ErrOutlineFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to generate outline"})
	default:
		klog.Errorf("[handler] 未处理的错误: path=%s, err=%v", c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
