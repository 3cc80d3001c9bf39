package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"fieldchart/sync/internal/app"
	"fieldchart/sync/internal/blob"
	"fieldchart/sync/internal/config"
	"fieldchart/sync/internal/draft"
	"fieldchart/sync/internal/engine"
	"fieldchart/sync/internal/export"
	"fieldchart/sync/internal/localstore"
	"fieldchart/sync/internal/media"
	"fieldchart/sync/internal/remote"
	"fieldchart/sync/internal/watch"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	local, err := localstore.NewFileStore(cfg.DataDir)
	if err != nil {
		logger.Fatal("local shadow store init failed", zap.Error(err))
	}

	var remoteStore remote.Store
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := remote.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()

		pgStore := remote.NewPostgresStore(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logger.Fatal("schema setup failed", zap.Error(err))
		}
		remoteStore = pgStore
		logger.Info("using postgres document store")
	} else {
		redisStore, err := remote.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		remoteStore = redisStore
		logger.Info("using redis document store")
	}

	var blobs blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := blob.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Fatal("minio connection failed", zap.Error(err))
		}
		blobs = minioStore
		logger.Info("using minio blob store", zap.String("bucket", cfg.MinioBucket))
	} else {
		blobs = blob.NewMemoryStore()
		logger.Warn("MINIO_ENDPOINT unset, blobs held in memory only")
	}

	queue := media.NewQueue(blobs, logger)
	eng := engine.New(remoteStore, local, queue, logger, engine.WithQuietWindow(cfg.QuietWindow))
	drafts := draft.NewController(local, eng, remoteStore, logger)
	listener := watch.NewListener(remoteStore, drafts, logger).WithSkewTolerance(cfg.SkewTolerance)
	exports := export.NewService(blobs)

	service := app.New(cfg, drafts, eng, listener, remoteStore, local, exports, logger)
	defer service.Close()

	if err := service.Resume(ctx); err != nil {
		logger.Warn("could not resume previous draft", zap.Error(err))
	}

	if strings.TrimSpace(cfg.ProbeURL) != "" {
		probeCtx, cancelProbe := context.WithCancel(ctx)
		defer cancelProbe()
		prober := engine.NewProber(cfg.ProbeURL, cfg.ProbeInterval, eng, logger)
		go prober.Run(probeCtx)
	}

	httpServer := app.NewHTTPServer(service, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("syncd listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	eng.CancelPending()
}
