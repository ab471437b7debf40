package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"songgen/internal/apperr"
	"songgen/internal/audioproxy"
	"songgen/internal/config"
	"songgen/internal/model"
	"songgen/internal/music"
	"songgen/internal/pipeline"
	"songgen/internal/storage"
	"songgen/internal/tags"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type TagService interface {
	Extract(ctx context.Context, prompt string) (tags.Result, error)
}

type PipelineService interface {
	Process(ctx context.Context, in pipeline.ProcessInput) (pipeline.ProcessResult, error)
	ClientURL(generationID, upstreamURL string) string
	Mode() string
}

type AudioService interface {
	FetchAudio(ctx context.Context, generationID, token, clientKey string) (audioproxy.Audio, error)
}

type GenerationStore interface {
	GetGeneration(ctx context.Context, id string) (*storage.Generation, error)
	GetUserGeneration(ctx context.Context, userID, id string) (*storage.Generation, error)
	ListGenerations(ctx context.Context, userID string, limit, offset int) ([]*storage.Generation, error)
}

type RateLimiter interface {
	Allow(key string, maxRequests int, window time.Duration) bool
}

type UpstreamChecker interface {
	CheckModels(ctx context.Context) error
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
	IncRateLimited(scope string)
}

type Dependencies struct {
	Tags     TagService
	Pipeline PipelineService
	Audio    AudioService
	Store    GenerationStore
	Limiter  RateLimiter
	Upstream UpstreamChecker
	// Metrics and MetricsHandler are optional.
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	tags         TagService
	pipeline     PipelineService
	audio        AudioService
	store        GenerationStore
	limiter      RateLimiter
	upstream     UpstreamChecker
	metrics      MetricsObserver
	metricsRoute http.Handler
}

type ctxKey string

const (
	requestIDHeader  = "X-Request-Id"
	requestIDContext = ctxKey("request_id")
	userIDContext    = ctxKey("user_id")
	maxJSONBodyBytes = 1 << 20

	serviceName         = "songgen"
	defaultListLimit    = 50
	maxListLimit        = 100
	generatedMessage    = "Music generated successfully!"
	generationNotFound  = "Generation not found"
	unauthorizedMessage = "Unauthorized"
)

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Tags == nil || deps.Pipeline == nil || deps.Audio == nil || deps.Store == nil || deps.Limiter == nil || deps.Upstream == nil {
		panic("httpapi: all dependencies are required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		tags:         deps.Tags,
		pipeline:     deps.Pipeline,
		audio:        deps.Audio,
		store:        deps.Store,
		limiter:      deps.Limiter,
		upstream:     deps.Upstream,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, model.ErrorResponse{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, model.ErrorResponse{Error: "Method not allowed"})
	})

	r.Use(s.requestIDMiddleware)
	r.Use(chimw.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.identityMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/extract-tags", s.handleExtractTags)
		r.Post("/generate-music", s.handleGenerateMusic)
		r.Get("/audio/{generationId}/{hash}", s.handleAudio)
		r.Get("/generations", s.handleListGenerations)
		r.Get("/generations/{id}", s.handleGetGeneration)
		r.Get("/generations/{id}/public", s.handlePublicGeneration)
	})

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if pinger, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			s.writeError(w, r, http.StatusServiceUnavailable, model.ErrorResponse{Error: "generation store unavailable", Details: err.Error()})
			return
		}
	}
	if s.cfg.OpenAIAPIKey != "" {
		if err := s.upstream.CheckModels(ctx); err != nil {
			s.writeError(w, r, http.StatusServiceUnavailable, model.ErrorResponse{Error: "upstream check failed", Details: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: serviceName, URLMode: s.pipeline.Mode()})
}

func (s *server) handleExtractTags(w http.ResponseWriter, r *http.Request) {
	var req model.ExtractTagsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	result, err := s.tags.Extract(r.Context(), req.Prompt)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ExtractTagsResponse{
		Prompt:        result.Prompt,
		Tags:          result.Tags,
		ExtractedTags: result.ExtractedTags,
	})
}

func (s *server) handleGenerateMusic(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow("music_"+clientKey(r), s.cfg.GenerationRateLimit, s.cfg.GenerationRateWindow) {
		if s.metrics != nil {
			s.metrics.IncRateLimited("music")
		}
		s.writeMappedError(w, r, apperr.RateLimited(music.MessageRateLimited))
		return
	}

	var req model.GenerateMusicRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	result, err := s.pipeline.Process(r.Context(), pipeline.ProcessInput{
		Prompt: req.Prompt,
		Lyrics: req.Lyrics,
		UserID: userIDFromContext(r.Context()),
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, model.GenerateMusicResponse{
		Success:      true,
		GenerationID: result.GenerationID,
		AudioURL:     result.AudioURL,
		Message:      generatedMessage,
	})
}

func (s *server) handleAudio(w http.ResponseWriter, r *http.Request) {
	audio, err := s.audio.FetchAudio(r.Context(), chi.URLParam(r, "generationId"), chi.URLParam(r, "hash"), clientKey(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", audio.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(audio.Body)))
	h.Set("Cache-Control", "public, max-age=3600")
	h.Set("Accept-Ranges", "bytes")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Body)
}

func (s *server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	if userID == "" {
		s.writeMappedError(w, r, apperr.Unauthorized(unauthorizedMessage))
		return
	}

	limit, err := parseBoundedInt(r.URL.Query().Get("limit"), defaultListLimit, 1, maxListLimit)
	if err != nil {
		s.writeMappedError(w, r, apperr.Validation("limit must be an integer"))
		return
	}
	offset, err := parseBoundedInt(r.URL.Query().Get("offset"), 0, 0, -1)
	if err != nil {
		s.writeMappedError(w, r, apperr.Validation("offset must be an integer"))
		return
	}

	records, err := s.store.ListGenerations(r.Context(), userID, limit, offset)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	resp := model.GenerationListResponse{Generations: make([]model.GenerationSummary, 0, len(records))}
	for _, rec := range records {
		resp.Generations = append(resp.Generations, model.GenerationSummary{
			ID:        rec.ID,
			Prompt:    rec.Prompt,
			Tags:      rec.Tags,
			Status:    string(rec.Status),
			AudioURL:  s.audioURLFor(rec),
			CreatedAt: rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	if userID == "" {
		s.writeMappedError(w, r, apperr.Unauthorized(unauthorizedMessage))
		return
	}

	rec, err := s.store.GetUserGeneration(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.writeMappedError(w, r, apperr.NotFound(generationNotFound))
		return
	}
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, model.GenerationDetail{
		GenerationID:      rec.ID,
		UserID:            rec.UserID,
		Status:            string(rec.Status),
		Prompt:            rec.Prompt,
		Tags:              rec.Tags,
		Lyrics:            rec.Lyrics,
		GeneratedAudioURL: s.audioURLFor(rec),
		ArchiveURL:        rec.ArchiveURL,
		ErrorMessage:      rec.ErrorMessage,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
		CompletedAt:       rec.CompletedAt,
		Timestamp:         rec.CreatedAt,
	})
}

func (s *server) handlePublicGeneration(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetGeneration(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && rec.Status != storage.StatusCompleted) {
		s.writeMappedError(w, r, apperr.NotFound(generationNotFound))
		return
	}
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, model.PublicGeneration{
		GenerationID: rec.ID,
		Prompt:       rec.Prompt,
		Tags:         rec.Tags,
		Lyrics:       rec.Lyrics,
		AudioURL:     s.audioURLFor(rec),
		CreatedAt:    rec.CreatedAt,
		CompletedAt:  rec.CompletedAt,
	})
}

// audioURLFor returns the client-facing URL for a completed record, or "".
// In signed mode the upstream URL never leaves the server. Direct mode hands
// out the upstream URL, never the archive copy, since the bucket is private.
func (s *server) audioURLFor(rec *storage.Generation) string {
	if rec.Status != storage.StatusCompleted || rec.UpstreamURL == "" {
		return ""
	}
	if s.pipeline.Mode() == pipeline.ModeSigned {
		return s.pipeline.ClientURL(rec.ID, rec.UpstreamURL)
	}
	return rec.UpstreamURL
}

func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() { _ = r.Body.Close() }()

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return false
	}
	if err := ensureBodyFullyConsumed(decoder); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return false
	}
	return true
}

func (s *server) handleJSONDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrorResponse{Error: "JSON body too large"})
		return
	}
	s.writeError(w, r, http.StatusBadRequest, model.ErrorResponse{Error: "Invalid JSON body"})
}

func (s *server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		status := appErr.Kind.HTTPStatus()
		resp := model.ErrorResponse{Error: appErr.Message}
		if appErr.Kind == apperr.KindValidation {
			resp.Tags = appErr.Tags
		}
		if status >= http.StatusInternalServerError {
			resp.Details = appErr.Detail()
			s.logger.Error("request failed",
				"request_id", requestIDFromContext(r.Context()),
				"kind", appErr.Kind.String(),
				"error", err,
			)
		}
		s.writeError(w, r, status, resp)
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, r, http.StatusGatewayTimeout, model.ErrorResponse{Error: "Request timed out"})
	case errors.Is(err, context.Canceled):
		s.writeError(w, r, 499, model.ErrorResponse{Error: "Request canceled"})
	default:
		s.logger.Error("request failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		s.writeError(w, r, http.StatusInternalServerError, model.ErrorResponse{Error: "Internal server error", Details: err.Error()})
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, resp model.ErrorResponse) {
	if rid := requestIDFromContext(r.Context()); rid != "" {
		w.Header().Set(requestIDHeader, rid)
		resp.RequestID = rid
	}
	writeJSON(w, status, resp)
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = newRequestID()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContext, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"status", status,
			"client", clientKey(r),
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", requestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, model.ErrorResponse{Error: "Internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// identityMiddleware reads the user id set by the fronting auth proxy.
// Requests without it are anonymous; handlers that need a user enforce that.
func (s *server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthUserHeader != "" {
			if userID := strings.TrimSpace(r.Header.Get(s.cfg.AuthUserHeader)); userID != "" {
				r = r.WithContext(context.WithValue(r.Context(), userIDContext, userID))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func ensureBodyFullyConsumed(decoder *json.Decoder) error {
	var extra any
	if err := decoder.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple JSON values")
		}
		return err
	}
	return nil
}

// parseBoundedInt parses an optional query value and clamps it to [lo, hi].
// A negative hi means no upper bound.
func parseBoundedInt(value string, fallback, lo, hi int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < lo {
		n = lo
	}
	if hi >= 0 && n > hi {
		n = hi
	}
	return n, nil
}

// clientKey is the rate-limit identity: the host part of RemoteAddr after
// RealIP has applied forwarding headers.
func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}

func requestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDContext).(string)
	return value
}

func userIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(userIDContext).(string)
	return value
}

func newRequestID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
