// Package audioproxy serves generated audio behind signed paths so clients
// never see the upstream URL.
package audioproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"songgen/internal/apperr"
	"songgen/internal/storage"
)

const (
	ContentType = "audio/mpeg"

	MessageRateLimited    = "Rate limit exceeded"
	MessageNotFound       = "Audio not found"
	MessageInvalidToken   = "Invalid access token"
	MessageNotAccessible  = "Audio file not accessible"
	rateLimitKeyPrefix    = "audio_"
	defaultMaxAudioBytes  = 50 << 20
	defaultRateLimitMax   = 20
	defaultRateLimitRange = time.Minute
)

type Limiter interface {
	Allow(key string, maxRequests int, window time.Duration) bool
}

type Lookup interface {
	GetGeneration(ctx context.Context, id string) (*storage.Generation, error)
}

type Verifier interface {
	Verify(upstreamURL, generationID, token string) bool
}

type Observer interface {
	IncRateLimited(scope string)
}

type Audio struct {
	Body        []byte
	ContentType string
}

type Config struct {
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxAudioBytes   int64
}

type Proxy struct {
	limiter    Limiter
	lookup     Lookup
	verifier   Verifier
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
	observer   Observer
}

func New(limiter Limiter, lookup Lookup, verifier Verifier, httpClient *http.Client, cfg Config, logger *slog.Logger, observer Observer) *Proxy {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = defaultRateLimitMax
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = defaultRateLimitRange
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = defaultMaxAudioBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		limiter:    limiter,
		lookup:     lookup,
		verifier:   verifier,
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
		observer:   observer,
	}
}

// FetchAudio rate-checks clientKey, resolves the generation, verifies token
// and downloads the audio. Every stage either passes or ends the request;
// nothing is retried.
//
// A missing record, a record that is not COMPLETED and a record without an
// upstream URL all produce the same not-found error, so callers cannot tell
// an unknown id from one still processing.
func (p *Proxy) FetchAudio(ctx context.Context, generationID, token, clientKey string) (Audio, error) {
	if !p.limiter.Allow(rateLimitKeyPrefix+clientKey, p.cfg.RateLimitMax, p.cfg.RateLimitWindow) {
		if p.observer != nil {
			p.observer.IncRateLimited("audio")
		}
		return Audio{}, apperr.RateLimited(MessageRateLimited)
	}

	generation, err := p.lookup.GetGeneration(ctx, generationID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			p.logger.Error("generation lookup failed", "generation_id", generationID, "error", err)
		}
		return Audio{}, apperr.NotFound(MessageNotFound)
	}
	if generation.Status != storage.StatusCompleted || generation.UpstreamURL == "" {
		return Audio{}, apperr.NotFound(MessageNotFound)
	}

	if !p.verifier.Verify(generation.UpstreamURL, generationID, token) {
		return Audio{}, apperr.Forbidden(MessageInvalidToken)
	}

	body, err := p.download(ctx, generation.UpstreamURL)
	if err != nil {
		p.logger.Warn("upstream audio unavailable", "generation_id", generationID, "error", err)
		return Audio{}, apperr.New(apperr.KindNotFound, MessageNotAccessible, err)
	}
	return Audio{Body: body, ContentType: ContentType}, nil
}

func (p *Proxy) download(ctx context.Context, upstreamURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream responded %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxAudioBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > p.cfg.MaxAudioBytes {
		return nil, fmt.Errorf("upstream audio exceeds %d bytes", p.cfg.MaxAudioBytes)
	}
	return body, nil
}
