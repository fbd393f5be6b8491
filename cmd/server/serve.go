package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/weibaohui/pleroma/backend/config"
	"github.com/weibaohui/pleroma/backend/internal/eventbus"
	"github.com/weibaohui/pleroma/backend/internal/handler"
	"github.com/weibaohui/pleroma/backend/internal/pkg/database"
	"github.com/weibaohui/pleroma/backend/internal/pkg/llm"
	"github.com/weibaohui/pleroma/backend/internal/pkg/metrics"
	"github.com/weibaohui/pleroma/backend/internal/pkg/tracing"
	"github.com/weibaohui/pleroma/backend/internal/repository"
	"github.com/weibaohui/pleroma/backend/internal/router"
	"github.com/weibaohui/pleroma/backend/internal/service"
	"github.com/weibaohui/pleroma/backend/internal/service/dispatcher"
	"github.com/weibaohui/pleroma/backend/internal/service/lessongen"
	"github.com/weibaohui/pleroma/backend/internal/service/outline"
	"github.com/weibaohui/pleroma/backend/internal/service/revision"
	"github.com/weibaohui/pleroma/backend/internal/subscriber"
	"k8s.io/klog/v2"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port, overrides server.port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()
	if servePort != "" {
		updated := *cfg
		updated.Server.Port = servePort
		config.UpdateConfig(&updated)
		cfg = &updated
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or JWT_SECRET) must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	klog.V(6).Info("服务启动中...")

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, cfg.Tracing.ServiceName, nil)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				klog.Warningf("关闭 tracing 失败: %v", err)
			}
		}()
	}

	// 初始化数据库
	db, err := database.InitDB(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	chatModel, err := llm.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("init chat model: %w", err)
	}

	// 初始化 Repository
	syllabusRepo := repository.NewSyllabusRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	jobRepo := repository.NewGenerationJobRepository(db)

	// 事件总线与订阅者
	m := metrics.NewMetrics()
	lessonBus := eventbus.NewLessonEventBus()
	syllabusBus := eventbus.NewSyllabusEventBus()
	subscriber.NewGenerationEventSubscriber(m).Register(lessonBus, syllabusBus)

	// 初始化 Service
	syllabusService := service.NewSyllabusService(syllabusRepo, lessonRepo, jobRepo, outline.New(chatModel), syllabusBus)
	generationService := service.NewGenerationService(cfg.Generation, syllabusRepo, lessonRepo, jobRepo,
		lessongen.New(chatModel), lessonBus, syllabusBus)
	chatService := service.NewChatService(syllabusRepo, lessonRepo, generationService,
		revision.NewAssistant(chatModel, cfg.Generation.ChatMaxSteps))

	// 启动时清理卡住的课时
	cleanupStuckLessons(ctx, lessonRepo, cfg.Generation.StuckTimeout)

	// 异步批量生成
	d, err := dispatcher.New(cfg.Generation.Workers, cfg.Generation.QueueSize, &batchExecutorAdapter{generation: generationService})
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}
	d.Start()
	defer d.Stop(time.Minute)

	r := router.Setup(cfg,
		handler.NewSyllabusHandler(syllabusService),
		handler.NewLessonHandler(generationService, d),
		handler.NewChatHandler(chatService),
		m,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		klog.Infof("Server starting on port %s...", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	klog.Infof("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		klog.Warningf("server shutdown: %v", err)
	}
	return nil
}

// cleanupStuckLessons 清理启动前卡在 generating 的课时
func cleanupStuckLessons(ctx context.Context, lessonRepo repository.LessonRepository, timeout time.Duration) {
	affected, err := lessonRepo.CleanupStuck(ctx, timeout)
	if err != nil {
		klog.V(6).Infof("清理卡住课时失败: %v", err)
		return
	}

	if affected > 0 {
		klog.V(6).Infof("启动时清理了 %d 个卡住的课时", affected)
	}
}
