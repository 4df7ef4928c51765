package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/config"
	"github.com/classpoint/proctor-backend/internal/database"
	"github.com/classpoint/proctor-backend/internal/handler"
	"github.com/classpoint/proctor-backend/internal/logger"
	"github.com/classpoint/proctor-backend/internal/monitor"
	"github.com/classpoint/proctor-backend/internal/proctor"
	"github.com/classpoint/proctor-backend/internal/repository"
	"github.com/classpoint/proctor-backend/internal/router"
	"github.com/classpoint/proctor-backend/internal/service"
	"github.com/classpoint/proctor-backend/internal/validator"
	"github.com/classpoint/proctor-backend/internal/worker"
)

func main() {
	cfg := config.Load()

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ClassPoint Proctor Backend")

	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Repositories
	studentRepo := repository.NewStudentRepository(pool)
	instructorRepo := repository.NewInstructorRepository(pool)
	quizRepo := repository.NewQuizRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)
	reviewRepo := repository.NewReviewRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)

	// Engine plumbing: the registry tracks live session runtimes on this
	// node; the hub fans monitor events out through Redis pub/sub.
	registry := proctor.NewRegistry()
	hub := monitor.NewHub(rdb, log)

	// Services
	authService := service.NewAuthService(cfg, rdb)
	quizService := service.NewQuizService(quizRepo, rdb, log)
	sessionService := service.NewSessionService(
		sessionRepo, quizRepo, violationRepo, reviewRepo,
		quizService, rdb, registry, hub, cfg, log,
	)
	reviewService := service.NewReviewService(sessionRepo, reviewRepo, studentRepo, instructorRepo, log)
	monitorService := service.NewMonitorService(sessionRepo, monitorRepo, violationRepo, studentRepo, log)

	// Handlers
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, studentRepo, instructorRepo),
		Session: handler.NewSessionHandler(sessionService, quizService, log),
		Review:  handler.NewReviewHandler(reviewService, log),
		WS:      handler.NewWSHandler(sessionService, hub, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(monitorService, quizRepo, instructorRepo, hub, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(pool, rdb, log),
	}

	// Background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())

	answerWorker := worker.NewAnswerWorker(pool, rdb, log)
	violationWorker := worker.NewViolationWorker(violationRepo, rdb, log)

	go answerWorker.Start(workerCtx)
	go violationWorker.Start(workerCtx)

	// Load all published quizzes into Redis before accepting traffic so
	// lazy loading never races a thundering herd.
	if err := quizService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	r := router.SetupRouter(authService, handlers, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Flush live session runtimes so buffered answers reach Redis.
	registry.CloseAll()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second)

	log.Info().Msg("Shutdown complete")
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
