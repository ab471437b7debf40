package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("sqlite", filepath.Join(t.TempDir(), "db", "songgen.db"), false)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewRejectsUnknownDialect(t *testing.T) {
	_, err := New("mongodb", "mongodb://localhost", false)
	assert.Error(t, err)
}

func TestSetAndGetGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lyrics := "moonlight falls"
	require.NoError(t, s.SetGeneration(ctx, &Generation{
		ID:     "65f0c1a2b3c4d5e6f7a8b9c0",
		UserID: "u1",
		Prompt: "ballad",
		Tags:   "ballad, piano, romantic, strings, female, soft vocal",
		Lyrics: &lyrics,
		Status: StatusProcessing,
	}))

	got, err := s.GetGeneration(ctx, "65f0c1a2b3c4d5e6f7a8b9c0")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	require.NotNil(t, got.Lyrics)
	assert.Equal(t, "moonlight falls", *got.Lyrics)
	assert.False(t, got.CreatedAt.IsZero())

	completed := time.Now().UTC()
	got.Status = StatusCompleted
	got.UpstreamURL = "https://replicate.delivery/x.wav"
	got.AudioURL = got.UpstreamURL
	got.CompletedAt = &completed
	require.NoError(t, s.SetGeneration(ctx, got))

	again, err := s.GetGeneration(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)
	assert.Equal(t, "https://replicate.delivery/x.wav", again.UpstreamURL)
	assert.NotNil(t, again.CompletedAt)
}

func TestGetGenerationNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetGeneration(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUserGenerationChecksOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetGeneration(ctx, &Generation{ID: "g1", UserID: "alice", Status: StatusCompleted}))

	_, err := s.GetUserGeneration(ctx, "alice", "g1")
	require.NoError(t, err)

	_, err = s.GetUserGeneration(ctx, "bob", "g1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetArchiveURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetGeneration(ctx, &Generation{
		ID:          "g1",
		Status:      StatusCompleted,
		UpstreamURL: "https://replicate.delivery/x.wav",
		AudioURL:    "https://replicate.delivery/x.wav",
	}))

	archived := "https://bucket.s3.us-east-1.amazonaws.com/music-generations/k-g1.wav"
	require.NoError(t, s.SetArchiveURL(ctx, "g1", archived))

	got, err := s.GetGeneration(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, archived, got.ArchiveURL)
	assert.Equal(t, archived, got.AudioURL)
	assert.Equal(t, "https://replicate.delivery/x.wav", got.UpstreamURL, "upstream url keeps tokens valid")

	assert.ErrorIs(t, s.SetArchiveURL(ctx, "missing", archived), ErrNotFound)
}

func TestListGenerationsNewestFirstPerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SetGeneration(ctx, &Generation{
			ID:        id,
			UserID:    "alice",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Status:    StatusCompleted,
		}))
	}
	require.NoError(t, s.SetGeneration(ctx, &Generation{ID: "z", UserID: "bob", Status: StatusCompleted}))

	list, err := s.ListGenerations(ctx, "alice", 50, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})

	page, err := s.ListGenerations(ctx, "alice", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}

func TestDisabledStore(t *testing.T) {
	var d Disabled
	ctx := context.Background()
	assert.NoError(t, d.SetGeneration(ctx, &Generation{ID: "x"}))
	_, err := d.GetGeneration(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := d.ListGenerations(ctx, "u", 10, 0)
	assert.NoError(t, err)
	assert.Empty(t, list)
}
