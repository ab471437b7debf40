package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"songgen/internal/apperr"
	"songgen/internal/music"
	"songgen/internal/signing"
	"songgen/internal/storage"
	"songgen/internal/tags"
)

// URL modes decide what audio URL a client receives.
const (
	// ModeDirect returns the upstream URL for immediate playback.
	ModeDirect = "direct"
	// ModeSigned returns a signed proxy path. It needs a generation store,
	// because the proxy resolves the upstream URL from the record.
	ModeSigned = "signed"
)

const archiveTimeout = 2 * time.Minute

type TagExtractor interface {
	Extract(ctx context.Context, prompt string) (tags.Result, error)
}

type Generator interface {
	Generate(ctx context.Context, tags, lyrics string) (string, error)
}

// Recorder persists generation metadata. Failures are logged and dropped.
type Recorder interface {
	SetGeneration(ctx context.Context, v *storage.Generation) error
	SetArchiveURL(ctx context.Context, id, archiveURL string) error
}

// Archiver copies an artifact to durable storage and returns its URL.
type Archiver interface {
	Copy(ctx context.Context, sourceURL, generationID string) (string, error)
}

type Signer interface {
	Sign(upstreamURL, generationID string) string
}

type Observer interface {
	IncSidecarFailure(sidecar string)
	IncGeneration(outcome string)
}

type Service struct {
	extractor TagExtractor
	generator Generator
	recorder  Recorder
	archiver  Archiver
	signer    Signer
	mode      string
	logger    *slog.Logger
	observer  Observer
	now       func() time.Time
	newID     func() (string, error)

	wg sync.WaitGroup
}

type Dependencies struct {
	Extractor TagExtractor
	Generator Generator
	Signer    Signer
	// Recorder defaults to storage.Disabled.
	Recorder Recorder
	// Archiver is optional; nil disables durable copies.
	Archiver Archiver
	Observer Observer
	Logger   *slog.Logger
}

type ProcessInput struct {
	Prompt string
	Lyrics string
	UserID string
}

type ProcessResult struct {
	GenerationID string
	AudioURL     string
	UpstreamURL  string
	Tags         string
}

func New(mode string, deps Dependencies) *Service {
	if deps.Extractor == nil || deps.Generator == nil || deps.Signer == nil {
		panic("pipeline: extractor, generator and signer are required")
	}
	if mode != ModeSigned {
		mode = ModeDirect
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = storage.Disabled{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		extractor: deps.Extractor,
		generator: deps.Generator,
		recorder:  recorder,
		archiver:  deps.Archiver,
		signer:    deps.Signer,
		mode:      mode,
		logger:    logger,
		observer:  deps.Observer,
		now:       time.Now,
		newID:     NewGenerationID,
	}
}

// Mode reports the URL mode in effect.
func (s *Service) Mode() string {
	return s.mode
}

func (s *Service) Process(ctx context.Context, in ProcessInput) (ProcessResult, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return ProcessResult{}, apperr.Validation("Prompt is required")
	}

	generationID, err := s.newID()
	if err != nil {
		return ProcessResult{}, fmt.Errorf("pipeline: generation id: %w", err)
	}
	logger := s.logger.With("generation_id", generationID)

	extracted, err := s.extractor.Extract(ctx, in.Prompt)
	if err != nil {
		s.countGeneration("failed")
		return ProcessResult{}, music.Classify(err)
	}
	if len(extracted.Unknown) > 0 {
		logger.Warn("tags outside vocabulary", "tags", extracted.Unknown)
	}

	record := &storage.Generation{
		ID:        generationID,
		CreatedAt: s.now().UTC(),
		UserID:    in.UserID,
		Prompt:    in.Prompt,
		Tags:      extracted.Tags,
		Status:    storage.StatusProcessing,
	}
	if in.Lyrics != "" {
		lyrics := in.Lyrics
		record.Lyrics = &lyrics
	}
	_ = s.tryWrite(ctx, logger, record)

	upstreamURL, err := s.generator.Generate(ctx, extracted.Tags, in.Lyrics)
	if err != nil {
		s.countGeneration("failed")
		record.Status = storage.StatusFailed
		record.ErrorMessage = err.Error()
		_ = s.tryWrite(context.WithoutCancel(ctx), logger, record)
		return ProcessResult{}, err
	}

	completedAt := s.now().UTC()
	record.Status = storage.StatusCompleted
	record.UpstreamURL = upstreamURL
	record.AudioURL = upstreamURL
	record.CompletedAt = &completedAt
	persisted := s.tryWrite(context.WithoutCancel(ctx), logger, record) == nil

	if s.archiver != nil {
		s.archive(ctx, logger, generationID, upstreamURL)
	}

	s.countGeneration("completed")
	logger.Info("generation completed", "mode", s.mode, "tags", extracted.Tags)

	// A signed path resolves through the stored record, so an unsaved
	// generation gets the upstream URL instead.
	audioURL := upstreamURL
	if persisted {
		audioURL = s.ClientURL(generationID, upstreamURL)
	} else if s.mode == ModeSigned {
		logger.Warn("generation not stored, returning upstream audio url")
	}

	return ProcessResult{
		GenerationID: generationID,
		AudioURL:     audioURL,
		UpstreamURL:  upstreamURL,
		Tags:         extracted.Tags,
	}, nil
}

// ClientURL returns the audio URL handed to clients for a completed generation.
func (s *Service) ClientURL(generationID, upstreamURL string) string {
	if s.mode == ModeSigned {
		return signing.BuildPath(generationID, s.signer.Sign(upstreamURL, generationID))
	}
	return upstreamURL
}

// tryWrite saves the record on a best-effort basis. Failures are logged and
// counted; the error only tells the caller whether the record exists.
func (s *Service) tryWrite(ctx context.Context, logger *slog.Logger, record *storage.Generation) error {
	if err := s.recorder.SetGeneration(ctx, record); err != nil {
		logger.Error("generation record write failed", "status", record.Status, "error", err)
		s.countSidecarFailure("store")
		return err
	}
	return nil
}

// archive copies the artifact in the background. The request context is
// detached so the copy outlives the response.
func (s *Service) archive(ctx context.Context, logger *slog.Logger, generationID, upstreamURL string) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()

		archiveURL, err := s.archiver.Copy(ctx, upstreamURL, generationID)
		if err != nil {
			logger.Error("archive copy failed, continuing without backup", "error", err)
			s.countSidecarFailure("archive")
			return
		}
		if err := s.recorder.SetArchiveURL(ctx, generationID, archiveURL); err != nil {
			logger.Error("archive url write failed", "error", err)
			s.countSidecarFailure("store")
			return
		}
		logger.Info("audio archived", "archive_url", archiveURL)
	}()
}

// Wait blocks until background archive copies have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) countSidecarFailure(sidecar string) {
	if s.observer != nil {
		s.observer.IncSidecarFailure(sidecar)
	}
}

func (s *Service) countGeneration(outcome string) {
	if s.observer != nil {
		s.observer.IncGeneration(outcome)
	}
}

// NewGenerationID returns 24 lowercase hex characters from 12 random bytes.
func NewGenerationID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
