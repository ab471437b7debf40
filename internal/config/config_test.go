package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", " sk-test ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, "gpt-3.5-turbo", cfg.TagModel)
	assert.Equal(t, 20, cfg.MusicDurationSeconds)
	assert.Equal(t, 20, cfg.AudioRateLimit)
	assert.Equal(t, time.Minute, cfg.AudioRateWindow)
	assert.Equal(t, 5, cfg.GenerationRateLimit)
	assert.Equal(t, 5*time.Minute, cfg.GenerationRateWindow)
	assert.Equal(t, "X-Auth-Request-User", cfg.AuthUserHeader)
	assert.False(t, cfg.StoreEnabled())
	assert.False(t, cfg.ArchiveEnabled())
	assert.Equal(t, URLModeDirect, cfg.ResolvedURLMode())
}

func TestResolvedURLModeFollowsStore(t *testing.T) {
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("DB_CONN", "data/songgen.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, URLModeSigned, cfg.ResolvedURLMode())

	cfg.URLMode = URLModeDirect
	assert.Equal(t, URLModeDirect, cfg.ResolvedURLMode())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"signed without store": {"AUDIO_URL_MODE": "signed"},
		"unknown url mode":     {"AUDIO_URL_MODE": "proxy"},
		"unknown db":           {"DB_TYPE": "mongodb", "DB_CONN": "x"},
		"db without conn":      {"DB_TYPE": "postgres"},
		"zero duration":        {"MUSIC_DURATION_SECONDS": "0"},
		"zero audio limit":     {"AUDIO_RATE_LIMIT": "0"},
		"empty listen addr":    {"LISTEN_ADDR": " "},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
