package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"codelab/internal/common/cache"
	"codelab/internal/common/db"
	commonmw "codelab/internal/common/http/middleware"
	"codelab/internal/common/mq"
	"codelab/internal/common/storage"
	"codelab/internal/compilation/controller"
	"codelab/internal/compilation/repository"
	"codelab/internal/compilation/service"
	"codelab/internal/sandbox"
	"codelab/internal/sandbox/engine"
	"codelab/internal/sandbox/observer"
	"codelab/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/compile-service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envPath := flag.String("env", ".env", "Optional env file loaded before the config")
	flag.Parse()

	if err := loadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, appCfg); err != nil {
		logger.Error(context.Background(), "compile service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, appCfg *AppConfig) error {
	database, err := db.Open(appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer func() {
		_ = database.Close()
	}()

	var redisCache cache.Cache
	if appCfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer func() {
			_ = rc.Close()
		}()
		redisCache = rc
	} else {
		logger.Warn(ctx, "redis not configured; caching, rate limits and cross-replica locks are disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := observer.NewPrometheusRecorder(registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	eng, err := engine.NewEngine(appCfg.Sandbox.engineConfig())
	if err != nil {
		return fmt.Errorf("init sandbox engine: %w", err)
	}
	if err := os.MkdirAll(appCfg.Sandbox.ScratchRoot, 0o755); err != nil {
		return fmt.Errorf("create scratch root: %w", err)
	}
	executor, err := sandbox.NewExecutor(appCfg.Sandbox.executorConfig(), eng, nil, recorder)
	if err != nil {
		return fmt.Errorf("init executor: %w", err)
	}

	queue, err := openQueue(appCfg.Events)
	if err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}
	var publisher mq.Publisher
	if queue != nil {
		defer func() {
			_ = queue.Close()
		}()
		publisher = queue
	}

	archiver, err := openArchiver(ctx, appCfg.Archive)
	if err != nil {
		return fmt.Errorf("init archive: %w", err)
	}
	if archiver != nil {
		defer archiver.Close()
	}

	ttl := appCfg.Compilation.cacheTTL()
	svc, err := service.NewCompilationService(service.Config{
		Students:     repository.NewStudentRepository(database, redisCache, ttl),
		Activities:   repository.NewActivityRepository(database, redisCache, ttl),
		Sessions:     repository.NewSessionRepository(database, redisCache, ttl),
		Attempts:     repository.NewAttemptRepository(database, redisCache, ttl),
		Database:     database,
		Executor:     executor,
		Cache:        redisCache,
		Publisher:    publisher,
		Archiver:     archiver,
		EventTopic:   appCfg.Events.Topic,
		MaxCodeBytes: appCfg.Compilation.MaxCodeBytes,
		RateLimit:    appCfg.Compilation.RateLimit,
		LockTTL:      appCfg.Compilation.LockTTL,
		LockWait:     appCfg.Compilation.LockWait,
		Timeouts:     appCfg.Compilation.Timeouts,
	})
	if err != nil {
		return fmt.Errorf("init compilation service: %w", err)
	}

	if queue != nil && appCfg.Events.Projector.Enabled {
		if err := startProjector(ctx, queue, redisCache, appCfg.Events); err != nil {
			return err
		}
		defer func() {
			_ = queue.Stop()
		}()
	}

	httpServer := buildHTTPServer(appCfg, svc, database, registry)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(context.Background(), "compile http server started", zap.String("addr", appCfg.Server.Addr))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down compile http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openQueue(cfg EventsConfig) (mq.MessageQueue, error) {
	switch cfg.Driver {
	case "kafka":
		return mq.NewKafkaQueue(cfg.Kafka)
	case "nats":
		return mq.NewNatsQueue(cfg.Nats)
	default:
		return nil, nil
	}
}

func openArchiver(ctx context.Context, cfg ArchiveConfig) (*service.Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
	if err != nil {
		return nil, err
	}
	if err := objStorage.EnsureBucket(ctx, cfg.MinIO.Bucket); err != nil {
		return nil, err
	}
	return service.NewArchiver(objStorage, cfg.MinIO.Bucket, cfg.Prefix)
}

func startProjector(ctx context.Context, queue mq.MessageQueue, redisCache cache.Cache, cfg EventsConfig) error {
	if redisCache == nil {
		logger.Warn(ctx, "error-kind projector needs redis; skipping subscription")
		return nil
	}
	projector, err := service.NewKindProjector(redisCache)
	if err != nil {
		return err
	}
	if err := queue.Subscribe(ctx, cfg.Topic, projector.Handle, cfg.Projector.subscribeOptions()); err != nil {
		return fmt.Errorf("subscribe attempt events: %w", err)
	}
	if err := queue.Start(); err != nil {
		return fmt.Errorf("start event consumer: %w", err)
	}
	return nil
}

func buildHTTPServer(appCfg *AppConfig, svc *service.CompilationService, database db.Database, registry *prometheus.Registry) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	api.Use(commonmw.AuthMiddleware(commonmw.NewTokenVerifier(appCfg.Auth.JWTSecret, appCfg.Auth.Issuer)))
	controller.RegisterRoutes(api, controller.NewCompilationController(svc))

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}
