// Package music calls the generative audio model.
package music

import (
	"context"
	"strings"
	"time"

	"songgen/internal/apperr"
	"songgen/internal/upstream"
	"songgen/internal/upstream/replicate"
)

// InstrumentalMarker replaces lyrics for tracks without vocals.
const InstrumentalMarker = "[inst]"

const (
	verseDelimiter = "[verse]"

	MessageUpstreamAuth = "API authentication failed. Please check your API tokens."
	MessageRateLimited  = "Rate limit exceeded. Please wait before generating more music."
	MessageFailed       = "Failed to generate music. Please try again."
)

type PredictionClient interface {
	Run(ctx context.Context, version string, input map[string]any) (*replicate.Prediction, error)
	HasCredentials() bool
}

type Generator struct {
	client   PredictionClient
	version  string
	duration int
	timeout  time.Duration
}

func New(client PredictionClient, version string, durationSeconds int, timeout time.Duration) *Generator {
	return &Generator{
		client:   client,
		version:  strings.TrimSpace(version),
		duration: durationSeconds,
		timeout:  timeout,
	}
}

// FormatLyrics wraps lyrics in a verse block, or returns InstrumentalMarker
// when there are none.
func FormatLyrics(lyrics string) string {
	if lyrics == "" {
		return InstrumentalMarker
	}
	return verseDelimiter + lyrics + verseDelimiter
}

// Generate blocks until the model has produced a track and returns its URL.
// There is no retry; a half-finished remote job cannot be resumed.
func (g *Generator) Generate(ctx context.Context, tags, lyrics string) (string, error) {
	if !g.client.HasCredentials() {
		return "", apperr.Config("Replicate API token not configured")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	prediction, err := g.client.Run(ctx, g.version, map[string]any{
		"tags":     tags,
		"lyrics":   FormatLyrics(lyrics),
		"duration": g.duration,
	})
	if err != nil {
		return "", Classify(err)
	}

	audioURL, err := prediction.OutputURL()
	if err != nil {
		return "", apperr.New(apperr.KindGeneration, MessageFailed, err)
	}
	return audioURL, nil
}

// Classify maps a model-call failure onto the user-facing categories. Errors
// that are already classified pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) == apperr.KindConfig || apperr.KindOf(err) == apperr.KindValidation {
		return err
	}
	kind, ok := upstream.KindOf(err)
	switch {
	case ok && kind == upstream.KindUnauthorized:
		return apperr.New(apperr.KindUpstreamAuth, MessageUpstreamAuth, err)
	case ok && kind == upstream.KindRateLimited:
		return apperr.New(apperr.KindRateLimit, MessageRateLimited, err)
	default:
		return apperr.New(apperr.KindGeneration, MessageFailed, err)
	}
}
