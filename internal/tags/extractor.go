// Package tags turns a free-text music description into the six canonical
// tags the music model is prompted with.
package tags

import (
	"context"
	"fmt"
	"strings"
	"time"

	"songgen/internal/apperr"
	"songgen/internal/upstream/openai"
)

// Count is the exact number of tags an extraction must yield.
const Count = 6

const (
	temperature = 0.3
	maxTokens   = 100
)

const systemPromptTemplate = `You are a music tag extraction expert. Given a natural language prompt about music, extract exactly 6 tags total representing the music's characteristics.

Available tags:
GENRES: %s
INSTRUMENTS: %s
MOODS: %s
GENDER: %s
TIMBRE: %s

Rules:
1. Extract exactly 6 tags total from ALL categories combined
2. Choose the most relevant tags that best represent the user's request
3. Ensure you cover different aspects: genre, instrument, mood, gender (if vocals), timbre (if vocals)
4. Return ONLY the 6 tags as a comma-separated string
5. Use exact tag names from the lists above
6. If no gender/timbre is specified but vocals are implied, choose appropriate defaults

Example:
Input: "Create an upbeat electronic dance track with female vocals"
Output: electronic, dance, uplifting, synthesizer, female, bright vocal`

type ChatClient interface {
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	HasCredentials() bool
}

type Result struct {
	Prompt string
	// Tags is the model reply, trimmed, exactly as the music model receives it.
	Tags          string
	ExtractedTags []string
	// Unknown lists tags missing from the vocabulary. They are kept.
	Unknown []string
}

type Extractor struct {
	client       ChatClient
	vocabulary   *Vocabulary
	model        string
	timeout      time.Duration
	systemPrompt string
}

func New(client ChatClient, vocabulary *Vocabulary, model string, timeout time.Duration) *Extractor {
	return &Extractor{
		client:       client,
		vocabulary:   vocabulary,
		model:        strings.TrimSpace(model),
		timeout:      timeout,
		systemPrompt: SystemPrompt(vocabulary),
	}
}

// SystemPrompt renders the instruction listing every category's tags.
func SystemPrompt(v *Vocabulary) string {
	return fmt.Sprintf(systemPromptTemplate,
		strings.Join(v.Genres, ", "),
		strings.Join(v.Instruments, ", "),
		strings.Join(v.Moods, ", "),
		strings.Join(v.Gender, ", "),
		strings.Join(v.Timbre, ", "),
	)
}

func (e *Extractor) Extract(ctx context.Context, prompt string) (Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return Result{}, apperr.Validation("Prompt is required")
	}
	if !e.client.HasCredentials() {
		return Result{}, apperr.Config("OpenAI API key not configured")
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: e.systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return Result{}, apperr.New(apperr.KindUpstream, "Failed to extract tags", err)
	}

	raw := strings.TrimSpace(resp.Content)
	if raw == "" {
		return Result{}, apperr.New(apperr.KindUpstream, "Failed to extract tags", fmt.Errorf("empty completion"))
	}

	extracted, err := Split(raw)
	if err != nil {
		return Result{}, err
	}

	result := Result{Prompt: prompt, Tags: raw, ExtractedTags: extracted}
	for _, tag := range extracted {
		if _, ok := e.vocabulary.CategoryOf(tag); !ok {
			result.Unknown = append(result.Unknown, tag)
		}
	}
	return result, nil
}

// Split parses a comma-separated reply. Anything other than exactly Count
// non-empty tags is a validation error; nothing is padded or dropped.
func Split(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) != Count {
		appErr := apperr.Validation(fmt.Sprintf("Expected %d tags, got %d", Count, len(parts)))
		appErr.Tags = raw
		return nil, appErr
	}
	for _, p := range parts {
		if p == "" {
			appErr := apperr.Validation(fmt.Sprintf("Expected %d tags, got an empty tag", Count))
			appErr.Tags = raw
			return nil, appErr
		}
	}
	return parts, nil
}
