package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"songgen/internal/archive"
	"songgen/internal/audioproxy"
	"songgen/internal/config"
	"songgen/internal/httpapi"
	"songgen/internal/music"
	"songgen/internal/observability"
	"songgen/internal/pipeline"
	"songgen/internal/ratelimit"
	"songgen/internal/signing"
	"songgen/internal/storage"
	"songgen/internal/tags"
	"songgen/internal/upstream/openai"
	"songgen/internal/upstream/replicate"
)

type generationStore interface {
	httpapi.GenerationStore
	pipeline.Recorder
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	openAIHTTPClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: transport}
	// Replicate calls and archive copies are bounded by their contexts.
	longHTTPClient := &http.Client{Transport: transport}
	audioHTTPClient := &http.Client{Timeout: cfg.AudioFetchTimeout, Transport: transport}

	openAIClient := openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, openAIHTTPClient,
		openai.WithObserver(metrics.UpstreamObserver("openai")))
	replicateClient := replicate.New(cfg.ReplicateBaseURL, cfg.ReplicateAPIToken, longHTTPClient,
		replicate.WithObserver(metrics.UpstreamObserver("replicate")),
		replicate.WithPollInterval(cfg.ReplicatePollInterval))
	if !openAIClient.HasCredentials() {
		logger.Warn("OPENAI_API_KEY is not set, tag extraction will fail")
	}
	if !replicateClient.HasCredentials() {
		logger.Warn("REPLICATE_API_TOKEN is not set, music generation will fail")
	}

	vocabulary, err := tags.LoadVocabulary(cfg.TagsFile)
	if err != nil {
		logger.Error("tag vocabulary", "error", err)
		os.Exit(1)
	}
	extractor := tags.New(openAIClient, vocabulary, cfg.TagModel, cfg.TagTimeout)
	generator := music.New(replicateClient, cfg.MusicModelVersion, cfg.MusicDurationSeconds, cfg.GenerationTimeout)

	signer := signing.New(cfg.URLHashSecret)
	if signer.Insecure() {
		logger.Warn("URL_HASH_SECRET is not set, audio links are signed with the development secret")
	}

	var store generationStore = storage.Disabled{}
	if cfg.StoreEnabled() {
		db, err := storage.New(cfg.DBType, cfg.DBConn, cfg.DBDebug)
		if err != nil {
			logger.Error("generation store", "error", err)
			os.Exit(1)
		}
		if err := db.Start(ctx); err != nil {
			logger.Error("generation store start", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := db.Migrate(ctx); err != nil {
			logger.Error("generation store migrate", "error", err)
			os.Exit(1)
		}
		store = db
		logger.Info("generation store ready", "db_type", cfg.DBType)
	}

	var archiver pipeline.Archiver
	if cfg.ArchiveEnabled() {
		s3Store, err := archive.New(ctx, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSRegion, cfg.S3BucketName, longHTTPClient)
		if err != nil {
			// Archiving is best-effort; the service runs without it.
			logger.Error("s3 archive disabled", "bucket", cfg.S3BucketName, "error", err)
		} else {
			archiver = s3Store
			logger.Info("s3 archive ready", "bucket", cfg.S3BucketName)
		}
	}

	pipelineService := pipeline.New(cfg.ResolvedURLMode(), pipeline.Dependencies{
		Extractor: extractor,
		Generator: generator,
		Signer:    signer,
		Recorder:  store,
		Archiver:  archiver,
		Observer:  metrics,
		Logger:    logger,
	})

	limiter := ratelimit.New()
	go limiter.Run(ctx, time.Minute)

	proxy := audioproxy.New(limiter, store, signer, audioHTTPClient, audioproxy.Config{
		RateLimitMax:    cfg.AudioRateLimit,
		RateLimitWindow: cfg.AudioRateWindow,
		MaxAudioBytes:   cfg.AudioMaxBytes,
	}, logger, metrics)

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Tags:           extractor,
		Pipeline:       pipelineService,
		Audio:          proxy,
		Store:          store,
		Limiter:        limiter,
		Upstream:       openAIClient,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       35 * time.Second,
		WriteTimeout:      cfg.TagTimeout + cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ListenAddr, "url_mode", pipelineService.Mode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("waiting for archive copies")
	pipelineService.Wait()
	logger.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
