package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/weibaohui/pleroma/backend/config"
	"github.com/weibaohui/pleroma/backend/internal/eventbus"
	"github.com/weibaohui/pleroma/backend/internal/model"
	"github.com/weibaohui/pleroma/backend/internal/repository"
	"github.com/weibaohui/pleroma/backend/internal/service/lessongen"
	"github.com/weibaohui/pleroma/backend/internal/service/outline"
	"gorm.io/gorm"
)

type fakeDesigner struct {
	outline *model.Outline
	err     error
	calls   int
}

func (f *fakeDesigner) Generate(ctx context.Context, req outline.Request) (*model.Outline, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	o := *f.outline
	return &o, nil
}

func outlineWith(n int) *model.Outline {
	o := &model.Outline{
		Title:       "Build a CLI Todo App",
		Description: "A todo app",
		Audience:    "beginners",
	}
	for i := 0; i < n; i++ {
		o.Lessons = append(o.Lessons, model.OutlineLesson{
			LessonID:    fmt.Sprintf("%02d", i+1),
			Title:       fmt.Sprintf("Lesson %d", i+1),
			Goals:       []string{fmt.Sprintf("goal %d", i+1)},
			Deliverable: "something runnable",
		})
	}
	return o
}

// fakeWriter 按 idx 返回正文或错误，记录每次输入
type fakeWriter struct {
	mu     sync.Mutex
	fail   map[int]error
	inputs []lessongen.Input
	before func(in lessongen.Input)
}

func (f *fakeWriter) Generate(ctx context.Context, in lessongen.Input) (string, error) {
	if f.before != nil {
		f.before(in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if err := f.fail[in.Idx]; err != nil {
		return "", err
	}
	if in.Correction != nil {
		return fmt.Sprintf("# %s (revised)", in.Title), nil
	}
	return fmt.Sprintf("# %s", in.Title), nil
}

func (f *fakeWriter) calls() []lessongen.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]lessongen.Input, len(f.inputs))
	copy(out, f.inputs)
	return out
}

type testEnv struct {
	db           *gorm.DB
	syllabusRepo repository.SyllabusRepository
	lessonRepo   repository.LessonRepository
	jobRepo      repository.GenerationJobRepository
	designer     *fakeDesigner
	writer       *fakeWriter
	syllabi      *SyllabusService
	generation   *GenerationService
}

func newTestEnv(t *testing.T, lessons int) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Syllabus{}, &model.Lesson{}, &model.GenerationJob{}))

	env := &testEnv{
		db:           db,
		syllabusRepo: repository.NewSyllabusRepository(db),
		lessonRepo:   repository.NewLessonRepository(db),
		jobRepo:      repository.NewGenerationJobRepository(db),
		designer:     &fakeDesigner{outline: outlineWith(lessons)},
		writer:       &fakeWriter{fail: map[int]error{}},
	}
	syllabusBus := eventbus.NewSyllabusEventBus()
	env.syllabi = NewSyllabusService(env.syllabusRepo, env.lessonRepo, env.jobRepo, env.designer, syllabusBus)
	env.generation = NewGenerationService(
		config.Default().Generation,
		env.syllabusRepo, env.lessonRepo, env.jobRepo,
		env.writer,
		eventbus.NewLessonEventBus(), syllabusBus,
	)
	return env
}

func (e *testEnv) create(t *testing.T, owner string) *model.Syllabus {
	t.Helper()
	s, err := e.syllabi.Create(context.Background(), owner, CreateSyllabusRequest{Brief: "Build a CLI todo app", Level: "beginner"})
	require.NoError(t, err)
	return s
}

func (e *testEnv) lessons(t *testing.T, syllabusID uint) []model.Lesson {
	t.Helper()
	lessons, err := e.lessonRepo.ListBySyllabus(context.Background(), syllabusID)
	require.NoError(t, err)
	return lessons
}

func (e *testEnv) syllabusStatus(t *testing.T, slug string) model.SyllabusStatus {
	t.Helper()
	s, err := e.syllabusRepo.GetBySlug(context.Background(), slug)
	require.NoError(t, err)
	return s.Status
}

// requireContentIffReady 正文非空当且仅当状态为 ready
func requireContentIffReady(t *testing.T, lessons []model.Lesson) {
	t.Helper()
	for _, l := range lessons {
		hasContent := l.ContentMd != nil
		require.Equal(t, l.Status == model.LessonStatusReady, hasContent, "lesson %s status=%s content=%v", l.LessonID, l.Status, hasContent)
	}
}

var errModel = errors.New("model exploded")
