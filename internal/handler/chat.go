package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weibaohui/pleroma/backend/internal/middleware"
	"github.com/weibaohui/pleroma/backend/internal/service"
	"github.com/weibaohui/pleroma/backend/internal/service/revision"
	"k8s.io/klog/v2"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Chat 针对单个课时的对话，以 SSE 推送 delta/tool/done/error 事件
// 请求校验失败时在开始推送前返回 JSON 错误
func (h *ChatHandler) Chat(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	session, err := h.chat.Prepare(ctx, middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	emit := func(e revision.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.SSEvent(string(e.Type), e)
		c.Writer.Flush()
		return nil
	}

	if err := h.chat.Stream(ctx, session, emit); err != nil {
		if ctx.Err() != nil {
			klog.V(6).Infof("[ChatHandler.Chat] 客户端已断开: slug=%s, lessonId=%s", session.Lesson.SyllabusSlug, session.Lesson.LessonID)
			return
		}
		c.SSEvent(string(revision.EventError), revision.Event{Type: revision.EventError, Content: "The assistant failed to respond"})
		c.Writer.Flush()
	}
}
