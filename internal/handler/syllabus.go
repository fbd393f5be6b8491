package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/weibaohui/pleroma/backend/internal/middleware"
	"github.com/weibaohui/pleroma/backend/internal/service"
)

const defaultJobListLimit = 50

type SyllabusHandler struct {
	service *service.SyllabusService
}

func NewSyllabusHandler(service *service.SyllabusService) *SyllabusHandler {
	return &SyllabusHandler{service: service}
}

func (h *SyllabusHandler) Create(c *gin.Context) {
	var req service.CreateSyllabusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	syllabus, err := h.service.Create(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"slug": syllabus.Slug})
}

// List 当前用户创建的大纲
func (h *SyllabusHandler) List(c *gin.Context) {
	syllabi, err := h.service.ListMine(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, syllabi)
}

func (h *SyllabusHandler) Get(c *gin.Context) {
	syllabus, err := h.service.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, syllabus)
}

// ListJobs 大纲的生成记录，最新的在前
func (h *SyllabusHandler) ListJobs(c *gin.Context) {
	limit := defaultJobListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), c.Param("slug"), middleware.UserID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, jobs)
}
