package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weibaohui/pleroma/backend/config"
	"github.com/weibaohui/pleroma/backend/internal/eventbus"
	"github.com/weibaohui/pleroma/backend/internal/middleware"
	"github.com/weibaohui/pleroma/backend/internal/model"
	"github.com/weibaohui/pleroma/backend/internal/pkg/llm"
	"github.com/weibaohui/pleroma/backend/internal/repository"
	"github.com/weibaohui/pleroma/backend/internal/service"
	"github.com/weibaohui/pleroma/backend/internal/service/dispatcher"
	"github.com/weibaohui/pleroma/backend/internal/service/lessongen"
	"github.com/weibaohui/pleroma/backend/internal/service/outline"
	"github.com/weibaohui/pleroma/backend/internal/service/revision"
	"gorm.io/gorm"
)

const testSecret = "handler-secret"

type stubDesigner struct{}

func (stubDesigner) Generate(ctx context.Context, req outline.Request) (*model.Outline, error) {
	return &model.Outline{
		Title: "Go Basics",
		Lessons: []model.OutlineLesson{
			{LessonID: "01", Title: "Hello", Goals: []string{"print"}},
			{LessonID: "02", Title: "Flags", Goals: []string{"parse"}},
			{LessonID: "03", Title: "Files", Goals: []string{"read"}},
		},
	}, nil
}

type stubWriter struct {
	mu   sync.Mutex
	fail map[int]bool
}

func (w *stubWriter) Generate(ctx context.Context, in lessongen.Input) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail[in.Idx] {
		return "", fmt.Errorf("upstream timeout")
	}
	if in.Correction != nil {
		return "# " + in.Title + " v2", nil
	}
	return "# " + in.Title, nil
}

type batchExecutor struct {
	generation *service.GenerationService
}

func (e *batchExecutor) ExecuteBatch(ctx context.Context, job *dispatcher.Job) error {
	_, err := e.generation.RunBatch(ctx, job.Slug, job.UserID, job.Count, job.ID)
	return err
}

type testServer struct {
	engine     *gin.Engine
	db         *gorm.DB
	lessonRepo repository.LessonRepository
	writer     *stubWriter
	chatModel  *llm.ScriptedModel
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Syllabus{}, &model.Lesson{}, &model.GenerationJob{}))

	syllabusRepo := repository.NewSyllabusRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	jobRepo := repository.NewGenerationJobRepository(db)
	syllabusBus := eventbus.NewSyllabusEventBus()
	writer := &stubWriter{fail: map[int]bool{}}
	chatModel := llm.NewScriptedModel()

	syllabi := service.NewSyllabusService(syllabusRepo, lessonRepo, jobRepo, stubDesigner{}, syllabusBus)
	generation := service.NewGenerationService(config.Default().Generation, syllabusRepo, lessonRepo, jobRepo,
		writer, eventbus.NewLessonEventBus(), syllabusBus)
	chat := service.NewChatService(syllabusRepo, lessonRepo, generation, revision.NewAssistant(chatModel, 2))

	d, err := dispatcher.New(1, 4, &batchExecutor{generation: generation})
	require.NoError(t, err)
	d.Start()
	t.Cleanup(func() { d.Stop(2 * time.Second) })

	syllabusHandler := NewSyllabusHandler(syllabi)
	lessonHandler := NewLessonHandler(generation, d)
	chatHandler := NewChatHandler(chat)

	r := gin.New()
	api := r.Group("/api", middleware.Auth(testSecret))
	api.POST("/syllabus", syllabusHandler.Create)
	api.GET("/syllabus", syllabusHandler.List)
	api.GET("/syllabus/:slug", syllabusHandler.Get)
	api.GET("/syllabus/:slug/jobs", syllabusHandler.ListJobs)
	api.POST("/syllabus/:slug/lessons/:idx/generate", lessonHandler.Generate)
	api.POST("/syllabus/:slug/generate-next", lessonHandler.GenerateNext)
	api.POST("/chat", chatHandler.Chat)

	return &testServer{engine: r, db: db, lessonRepo: lessonRepo, writer: writer, chatModel: chatModel}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := middleware.IssueToken(testSecret, user, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) createSyllabus(t *testing.T, user string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/syllabus", user, gin.H{"brief": "learn go", "level": "beginner"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Slug string `json:"slug"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Slug
}

func (s *testServer) fetch(t *testing.T, slug string) model.Syllabus {
	t.Helper()
	w := s.do(t, http.MethodGet, "/api/syllabus/"+slug, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var syllabus model.Syllabus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &syllabus))
	return syllabus
}

func TestCreateAndFetchSyllabus(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/syllabus", "", gin.H{"brief": "x", "level": "y"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/syllabus", "u1", gin.H{"brief": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	slug := s.createSyllabus(t, "u1")
	assert.True(t, strings.HasPrefix(slug, "go-basics-"))

	syllabus := s.fetch(t, slug)
	assert.Equal(t, model.SyllabusStatusOutlined, syllabus.Status)
	require.Len(t, syllabus.Lessons, 3)
	for i, l := range syllabus.Lessons {
		assert.Equal(t, i, l.Idx)
		assert.Equal(t, model.LessonStatusPending, l.Status)
		assert.Nil(t, l.ContentMd)
	}

	w = s.do(t, http.MethodGet, "/api/syllabus/nope", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/syllabus", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine []model.Syllabus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, slug, mine[0].Slug)
}

func TestGenerateLessonEndpoint(t *testing.T) {
	s := newTestServer(t)
	slug := s.createSyllabus(t, "u1")
	path := "/api/syllabus/" + slug + "/lessons/%s/generate"

	w := s.do(t, http.MethodPost, fmt.Sprintf(path, "abc"), "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, fmt.Sprintf(path, "9"), "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, fmt.Sprintf(path, "0"), "u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, fmt.Sprintf(path, "0"), "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready","lessonId":"01"}`, w.Body.String())

	w = s.do(t, http.MethodPost, fmt.Sprintf(path, "0"), "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"already_ready"}`, w.Body.String())

	s.writer.fail[1] = true
	w = s.do(t, http.MethodPost, fmt.Sprintf(path, "1"), "u1", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to generate lesson"}`, w.Body.String())

	syllabus := s.fetch(t, slug)
	assert.Equal(t, model.LessonStatusError, syllabus.Lessons[1].Status)
	require.NotNil(t, syllabus.Lessons[1].Error)
	assert.Equal(t, model.SyllabusStatusGenerating, syllabus.Status)
}

func TestGenerateLessonConflictWhileGenerating(t *testing.T) {
	s := newTestServer(t)
	slug := s.createSyllabus(t, "u1")
	syllabus := s.fetch(t, slug)

	claimed, err := s.lessonRepo.Claim(context.Background(), syllabus.Lessons[2].ID, []model.LessonStatus{model.LessonStatusPending})
	require.NoError(t, err)
	require.True(t, claimed)

	w := s.do(t, http.MethodPost, "/api/syllabus/"+slug+"/lessons/2/generate", "u1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"already_generating"}`, w.Body.String())
}

func TestGenerateNextEndpoint(t *testing.T) {
	s := newTestServer(t)
	slug := s.createSyllabus(t, "u1")
	path := "/api/syllabus/" + slug + "/generate-next"

	w := s.do(t, http.MethodPost, path, "u1", gin.H{"count": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, path, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"generated":["01"],"failed":[]}`, w.Body.String())

	s.writer.fail[1] = true
	w = s.do(t, http.MethodPost, path, "u1", gin.H{"count": 10})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"generated":["03"],"failed":[{"lessonId":"02","error":"lesson generation failed: upstream timeout"}]}`, w.Body.String())

	syllabus := s.fetch(t, slug)
	assert.Equal(t, model.SyllabusStatusComplete, syllabus.Status)

	w = s.do(t, http.MethodPost, path, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"generated":[],"failed":[],"message":"No pending lessons"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/syllabus/"+slug+"/jobs", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var jobs []model.GenerationJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 3)

	w = s.do(t, http.MethodGet, "/api/syllabus/"+slug+"/jobs", "u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGenerateNextAsync(t *testing.T) {
	s := newTestServer(t)
	slug := s.createSyllabus(t, "u1")
	path := "/api/syllabus/" + slug + "/generate-next"

	w := s.do(t, http.MethodPost, path, "u2", gin.H{"async": true})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, path, "u1", gin.H{"count": 3, "async": true})
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.fetch(t, slug).Status == model.SyllabusStatusComplete {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	syllabus := s.fetch(t, slug)
	require.Equal(t, model.SyllabusStatusComplete, syllabus.Status)
	for _, l := range syllabus.Lessons {
		assert.Equal(t, model.LessonStatusReady, l.Status)
	}

	var jobs []model.GenerationJob
	require.NoError(t, s.db.Where("batch_id = ?", resp.JobID).Find(&jobs).Error)
	assert.Len(t, jobs, 3)
}

func TestChatEndpointStreamsEvents(t *testing.T) {
	s := newTestServer(t)
	slug := s.createSyllabus(t, "u1")

	w := s.do(t, http.MethodPost, "/api/chat", "u1", gin.H{
		"messages":      []gin.H{},
		"lessonContext": gin.H{"syllabusSlug": slug, "lessonId": "01"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/chat", "u1", gin.H{
		"messages":      []gin.H{{"role": "user", "content": "hi"}},
		"lessonContext": gin.H{"syllabusSlug": "missing", "lessonId": "01"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/syllabus/"+slug+"/lessons/0/generate", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	s.chatModel.Append(
		schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "call-1",
			Type:     "function",
			Function: schema.FunctionCall{Name: revision.RegenerateToolName, Arguments: `{"feedback":"use os.ReadFile"}`},
		}}),
		schema.AssistantMessage("Updated the lesson.", nil),
	)

	w = s.do(t, http.MethodPost, "/api/chat", "u1", gin.H{
		"messages":      []gin.H{{"role": "user", "content": "please fix the file reading"}},
		"lessonContext": gin.H{"syllabusSlug": slug, "lessonId": "01"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "event:tool")
	assert.Contains(t, body, "event:delta")
	assert.Contains(t, body, "event:done")
	assert.Contains(t, body, `"success":true`)

	syllabus := s.fetch(t, slug)
	require.NotNil(t, syllabus.Lessons[0].ContentMd)
	assert.Equal(t, "# Hello v2", *syllabus.Lessons[0].ContentMd)
}
