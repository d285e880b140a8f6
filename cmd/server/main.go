package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yejinpRE/plan-checker/internal/cache"
	"github.com/yejinpRE/plan-checker/internal/config"
	apperrors "github.com/yejinpRE/plan-checker/internal/errors"
	"github.com/yejinpRE/plan-checker/internal/middleware"
	"github.com/yejinpRE/plan-checker/internal/monitoring"
	"github.com/yejinpRE/plan-checker/internal/pipeline"
	"github.com/yejinpRE/plan-checker/internal/ratelimit"
	"github.com/yejinpRE/plan-checker/internal/repository"
	"github.com/yejinpRE/plan-checker/internal/security"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := monitoring.NewLogger(monitoring.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger.Logger)

	srv, err := newServer(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.SystemLogger("server_start", fmt.Sprintf("listening on :%s (model %s, lexicon %s)",
			cfg.Port, srv.analyzer.Model().Version(), srv.analyzer.Rulebook().Version()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}

// server holds the long-lived components shared by the handlers.
type server struct {
	cfg         *config.Config
	analyzer    *pipeline.Analyzer
	runner      *pipeline.Runner
	repo        *repository.Repository
	db          *repository.DB
	guard       *security.Guard
	admin       *security.AdminAuth
	limiter     *ratelimit.RateLimiter
	redis       *ratelimit.RedisClient
	cache       *cache.Cache
	compression *middleware.Compression
	metrics     *monitoring.Metrics
	logger      *monitoring.Logger
	started     time.Time
}

// newServer loads the artifacts and wires every component. Artifact errors
// fail startup.
func newServer(cfg *config.Config, logger *monitoring.Logger) (*server, error) {
	analyzer, err := pipeline.Load(cfg.RulebookPath, cfg.ModelPath, cfg.MaxUploadBytes, logger)
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to load scoring artifacts", err)
	}

	db, err := repository.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to open repository %q", cfg.DatabaseDSN)
	}
	repo := repository.NewRepository(db)

	metrics := monitoring.NewMetrics()

	redisClient, err := ratelimit.NewRedisClient(context.Background(), ratelimit.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		slog.Warn("Redis unavailable, continuing with in-memory rate limiting", "error", err)
	}

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.IPLimitPerMin = cfg.IPLimitPerMin
	limiterCfg.UploadLimitPerMin = cfg.UploadPerMin

	guardCfg := security.DefaultConfig()
	guardCfg.MaxBodyBytes = cfg.MaxUploadBytes
	guardCfg.AllowedOrigins = cfg.CORSOrigins
	guardCfg.RequestTimeout = cfg.RequestTimeout
	guardCfg.EnableHSTS = cfg.EnableHSTS

	return &server{
		cfg:         cfg,
		analyzer:    analyzer,
		runner:      pipeline.NewRunner(analyzer, repo, cfg.BatchWorkers, logger),
		repo:        repo,
		db:          db,
		guard:       security.NewGuard(guardCfg),
		admin:       security.NewAdminAuth(cfg.AdminSecret),
		limiter:     ratelimit.NewRateLimiter(redisClient, limiterCfg, metrics),
		redis:       redisClient,
		cache:       cache.NewCache(cfg.CacheTTL, analyzer.Model().Version()+"/"+analyzer.Rulebook().Version()),
		compression: middleware.NewCompression(middleware.DefaultCompressionConfig()),
		metrics:     metrics,
		logger:      logger,
		started:     time.Now(),
	}, nil
}

// Close releases the server's resources.
func (s *server) Close() {
	s.limiter.Close()
	s.cache.Close()
	if err := s.redis.Close(); err != nil {
		slog.Warn("Failed to close redis", "error", err)
	}
	if err := s.db.Close(); err != nil {
		slog.Warn("Failed to close repository", "error", err)
	}
}
