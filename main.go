package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/facegate/internal/auth"
	"github.com/example/facegate/internal/capture"
	"github.com/example/facegate/internal/config"
	"github.com/example/facegate/internal/facedetect"
	"github.com/example/facegate/internal/handlers"
	"github.com/example/facegate/internal/logging"
	"github.com/example/facegate/internal/normalize"
	"github.com/example/facegate/internal/pipeline"
	"github.com/example/facegate/internal/recognition"
	"github.com/example/facegate/internal/repository"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	db := initDatabase(ctx, cfg, logger)
	store := repository.NewSubmissionRepository(db, logger)
	if err := store.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)

	locator, err := facedetect.NewPigoLocator(cfg.CascadePath)
	if err != nil {
		logger.Fatal("failed to load face detection cascade", zap.Error(err), zap.String("path", cfg.CascadePath))
	}

	if cfg.RecognitionURL == "" {
		logger.Warn("API_URL is not set, recognition submissions will fail until it is configured")
	}
	transport := recognition.NewClient(cfg.RecognitionURL, logger)

	cache := pipeline.NewRedisCache(redisClient)
	pipe := pipeline.New(locator, transport, store, cache, logger)

	streamer := capture.NewStreamer(
		func() (capture.FrameSource, error) { return capture.NewSpoolSource(cfg.SpoolDir) },
		func(ctx context.Context, framePath string) error {
			_, err := pipe.ProcessFile(ctx, framePath, "stream")
			// The face crop is transient; do not let it pile up in
			// the spool directory.
			os.Remove(normalize.CroppedPath(framePath)) //nolint:errcheck
			return err
		},
		cfg.StreamInterval,
		logger,
	)
	defer streamer.Stop()

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	handlers.RegisterRoutes(r, pipe, streamer, authMiddleware)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	logger.Info("facegate listening", zap.String("addr", cfg.ListenAddr))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
