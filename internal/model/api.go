package model

import "time"

type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Tags      string `json:"tags,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ReadyResponse struct {
	OK          bool   `json:"ok"`
	ServiceName string `json:"service_name,omitempty"`
	URLMode     string `json:"url_mode,omitempty"`
}

type ExtractTagsRequest struct {
	Prompt string `json:"prompt"`
}

type ExtractTagsResponse struct {
	Prompt        string   `json:"prompt"`
	Tags          string   `json:"tags"`
	ExtractedTags []string `json:"extractedTags"`
}

type GenerateMusicRequest struct {
	Prompt string `json:"prompt"`
	Lyrics string `json:"lyrics,omitempty"`
}

type GenerateMusicResponse struct {
	Success      bool   `json:"success"`
	GenerationID string `json:"generationId"`
	AudioURL     string `json:"audioUrl"`
	Message      string `json:"message"`
}

type GenerationSummary struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Tags      string    `json:"tags"`
	Status    string    `json:"status"`
	AudioURL  string    `json:"audio_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type GenerationListResponse struct {
	Generations []GenerationSummary `json:"generations"`
}

type GenerationDetail struct {
	GenerationID      string     `json:"generation_id"`
	UserID            string     `json:"user_id"`
	Status            string     `json:"status"`
	Prompt            string     `json:"prompt"`
	Tags              string     `json:"tags"`
	Lyrics            *string    `json:"lyrics"`
	GeneratedAudioURL string     `json:"generated_audio_url,omitempty"`
	ArchiveURL        string     `json:"archive_url,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
}

// PublicGeneration is the share document. It carries no user data.
type PublicGeneration struct {
	GenerationID string     `json:"generation_id"`
	Prompt       string     `json:"prompt"`
	Tags         string     `json:"tags"`
	Lyrics       *string    `json:"lyrics"`
	AudioURL     string     `json:"audio_url"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
