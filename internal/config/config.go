package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
)

const (
	URLModeAuto   = "auto"
	URLModeDirect = "direct"
	URLModeSigned = "signed"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	OpenAIBaseURL  string
	OpenAIAPIKey   string
	TagModel       string
	TagTimeout     time.Duration
	TagsFile       string
	RequestTimeout time.Duration

	ReplicateBaseURL      string
	ReplicateAPIToken     string
	MusicModelVersion     string
	MusicDurationSeconds  int
	GenerationTimeout     time.Duration
	ReplicatePollInterval time.Duration

	URLHashSecret string
	URLMode       string

	DBType  string
	DBConn  string
	DBDebug bool

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3BucketName       string

	AuthUserHeader string

	AudioRateLimit       int
	AudioRateWindow      time.Duration
	GenerationRateLimit  int
	GenerationRateWindow time.Duration
	AudioFetchTimeout    time.Duration
	AudioMaxBytes        int64
}

type envConfig struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	OpenAIBaseURL         string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIAPIKey          string `env:"OPENAI_API_KEY"`
	TagModel              string `env:"TAG_MODEL" envDefault:"gpt-3.5-turbo"`
	TagTimeoutSeconds     int    `env:"TAG_TIMEOUT_SECONDS" envDefault:"20"`
	TagsFile              string `env:"TAGS_FILE"`
	RequestTimeoutSeconds int    `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"25"`

	ReplicateBaseURL         string `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com/v1"`
	ReplicateAPIToken        string `env:"REPLICATE_API_TOKEN"`
	MusicModelVersion        string `env:"MUSIC_MODEL_VERSION" envDefault:"lucataco/ace-step:280fc4f9ee507577f880a167f639c02622421d8fecf492454320311217b688f1"`
	MusicDurationSeconds     int    `env:"MUSIC_DURATION_SECONDS" envDefault:"20"`
	GenerationTimeoutSeconds int    `env:"GENERATION_TIMEOUT_SECONDS" envDefault:"300"`
	ReplicatePollIntervalMS  int    `env:"REPLICATE_POLL_INTERVAL_MS" envDefault:"1000"`

	URLHashSecret string `env:"URL_HASH_SECRET"`
	URLMode       string `env:"AUDIO_URL_MODE" envDefault:"auto"`

	DBType  string `env:"DB_TYPE"`
	DBConn  string `env:"DB_CONN"`
	DBDebug bool   `env:"DB_DEBUG" envDefault:"false"`

	AWSRegion          string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3BucketName       string `env:"S3_BUCKET_NAME"`

	AuthUserHeader string `env:"AUTH_USER_HEADER" envDefault:"X-Auth-Request-User"`

	AudioRateLimit              int   `env:"AUDIO_RATE_LIMIT" envDefault:"20"`
	AudioRateWindowSeconds      int   `env:"AUDIO_RATE_WINDOW_SECONDS" envDefault:"60"`
	GenerationRateLimit         int   `env:"GENERATION_RATE_LIMIT" envDefault:"5"`
	GenerationRateWindowSeconds int   `env:"GENERATION_RATE_WINDOW_SECONDS" envDefault:"300"`
	AudioFetchTimeoutSeconds    int   `env:"AUDIO_FETCH_TIMEOUT_SECONDS" envDefault:"30"`
	AudioMaxBytes               int64 `env:"AUDIO_MAX_BYTES" envDefault:"52428800"`
}

func Load() (Config, error) {
	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr: strings.TrimSpace(raw.ListenAddr),
		LogLevel:   strings.ToLower(strings.TrimSpace(raw.LogLevel)),

		OpenAIBaseURL:  strings.TrimRight(strings.TrimSpace(raw.OpenAIBaseURL), "/"),
		OpenAIAPIKey:   strings.TrimSpace(raw.OpenAIAPIKey),
		TagModel:       strings.TrimSpace(raw.TagModel),
		TagTimeout:     time.Duration(raw.TagTimeoutSeconds) * time.Second,
		TagsFile:       strings.TrimSpace(raw.TagsFile),
		RequestTimeout: time.Duration(raw.RequestTimeoutSeconds) * time.Second,

		ReplicateBaseURL:      strings.TrimRight(strings.TrimSpace(raw.ReplicateBaseURL), "/"),
		ReplicateAPIToken:     strings.TrimSpace(raw.ReplicateAPIToken),
		MusicModelVersion:     strings.TrimSpace(raw.MusicModelVersion),
		MusicDurationSeconds:  raw.MusicDurationSeconds,
		GenerationTimeout:     time.Duration(raw.GenerationTimeoutSeconds) * time.Second,
		ReplicatePollInterval: time.Duration(raw.ReplicatePollIntervalMS) * time.Millisecond,

		URLHashSecret: raw.URLHashSecret,
		URLMode:       strings.ToLower(strings.TrimSpace(raw.URLMode)),

		DBType:  strings.ToLower(strings.TrimSpace(raw.DBType)),
		DBConn:  strings.TrimSpace(raw.DBConn),
		DBDebug: raw.DBDebug,

		AWSRegion:          strings.TrimSpace(raw.AWSRegion),
		AWSAccessKeyID:     strings.TrimSpace(raw.AWSAccessKeyID),
		AWSSecretAccessKey: strings.TrimSpace(raw.AWSSecretAccessKey),
		S3BucketName:       strings.TrimSpace(raw.S3BucketName),

		AuthUserHeader: strings.TrimSpace(raw.AuthUserHeader),

		AudioRateLimit:       raw.AudioRateLimit,
		AudioRateWindow:      time.Duration(raw.AudioRateWindowSeconds) * time.Second,
		GenerationRateLimit:  raw.GenerationRateLimit,
		GenerationRateWindow: time.Duration(raw.GenerationRateWindowSeconds) * time.Second,
		AudioFetchTimeout:    time.Duration(raw.AudioFetchTimeoutSeconds) * time.Second,
		AudioMaxBytes:        raw.AudioMaxBytes,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.OpenAIBaseURL == "" {
		return errors.New("OPENAI_BASE_URL must not be empty")
	}
	if c.TagModel == "" {
		return errors.New("TAG_MODEL must not be empty")
	}
	if c.ReplicateBaseURL == "" {
		return errors.New("REPLICATE_BASE_URL must not be empty")
	}
	if c.MusicModelVersion == "" {
		return errors.New("MUSIC_MODEL_VERSION must not be empty")
	}
	if c.MusicDurationSeconds <= 0 {
		return errors.New("MUSIC_DURATION_SECONDS must be > 0")
	}
	if c.TagTimeout <= 0 {
		return errors.New("TAG_TIMEOUT_SECONDS must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.GenerationTimeout <= 0 {
		return errors.New("GENERATION_TIMEOUT_SECONDS must be > 0")
	}
	if c.ReplicatePollInterval <= 0 {
		return errors.New("REPLICATE_POLL_INTERVAL_MS must be > 0")
	}
	switch c.URLMode {
	case URLModeAuto, URLModeDirect:
	case URLModeSigned:
		if !c.StoreEnabled() {
			return errors.New("AUDIO_URL_MODE=signed requires DB_TYPE")
		}
	default:
		return fmt.Errorf("AUDIO_URL_MODE must be one of auto, direct, signed; got %q", c.URLMode)
	}
	switch c.DBType {
	case "", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("DB_TYPE must be one of sqlite, postgres, mysql; got %q", c.DBType)
	}
	if c.DBType != "" && c.DBConn == "" {
		return errors.New("DB_CONN must be set when DB_TYPE is set")
	}
	if c.ArchiveEnabled() && c.AWSRegion == "" {
		return errors.New("AWS_REGION must be set when S3_BUCKET_NAME is set")
	}
	if c.AudioRateLimit <= 0 || c.AudioRateWindow <= 0 {
		return errors.New("AUDIO_RATE_LIMIT and AUDIO_RATE_WINDOW_SECONDS must be > 0")
	}
	if c.GenerationRateLimit <= 0 || c.GenerationRateWindow <= 0 {
		return errors.New("GENERATION_RATE_LIMIT and GENERATION_RATE_WINDOW_SECONDS must be > 0")
	}
	if c.AudioFetchTimeout <= 0 {
		return errors.New("AUDIO_FETCH_TIMEOUT_SECONDS must be > 0")
	}
	if c.AudioMaxBytes <= 0 {
		return errors.New("AUDIO_MAX_BYTES must be > 0")
	}
	return nil
}

// StoreEnabled reports whether a generation database is configured.
func (c Config) StoreEnabled() bool {
	return c.DBType != ""
}

// ArchiveEnabled reports whether durable S3 copies are configured.
func (c Config) ArchiveEnabled() bool {
	return c.S3BucketName != ""
}

// ResolvedURLMode returns "signed" or "direct". Auto selects signed whenever
// a generation store exists, since only then can the proxy resolve a path.
func (c Config) ResolvedURLMode() string {
	switch c.URLMode {
	case URLModeSigned:
		return URLModeSigned
	case URLModeDirect:
		return URLModeDirect
	}
	if c.StoreEnabled() {
		return URLModeSigned
	}
	return URLModeDirect
}
