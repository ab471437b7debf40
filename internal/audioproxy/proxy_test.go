package audioproxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songgen/internal/apperr"
	"songgen/internal/ratelimit"
	"songgen/internal/signing"
	"songgen/internal/storage"
)

type memLookup map[string]*storage.Generation

func (m memLookup) GetGeneration(_ context.Context, id string) (*storage.Generation, error) {
	g, ok := m[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return g, nil
}

type failingLookup struct{}

func (failingLookup) GetGeneration(context.Context, string) (*storage.Generation, error) {
	return nil, errors.New("connection refused")
}

const genID = "65f0c1a2b3c4d5e6f7a8b9c0"

type fixture struct {
	proxy    *Proxy
	signer   *signing.Signer
	upstream *httptest.Server
	records  memLookup
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.wav" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "ID3-audio-bytes")
	}))
	t.Cleanup(upstream.Close)

	signer := signing.New("test-secret")
	records := memLookup{
		genID: {ID: genID, Status: storage.StatusCompleted, UpstreamURL: upstream.URL + "/out.wav"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		proxy:    New(ratelimit.New(), records, signer, upstream.Client(), cfg, logger, nil),
		signer:   signer,
		upstream: upstream,
		records:  records,
	}
}

func (f *fixture) token(id string) string {
	return f.signer.Sign(f.records[id].UpstreamURL, id)
}

func TestFetchAudioStreamsVerifiedAudio(t *testing.T) {
	f := newFixture(t, Config{})

	audio, err := f.proxy.FetchAudio(context.Background(), genID, f.token(genID), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "ID3-audio-bytes", string(audio.Body))
	assert.Equal(t, "audio/mpeg", audio.ContentType)
}

func TestFetchAudioProcessingRecordIsNotFound(t *testing.T) {
	f := newFixture(t, Config{})
	f.records["processing"] = &storage.Generation{ID: "processing", Status: storage.StatusProcessing, UpstreamURL: f.upstream.URL + "/out.wav"}
	token := f.signer.Sign(f.upstream.URL+"/out.wav", "processing")

	_, err := f.proxy.FetchAudio(context.Background(), "processing", token, "1.2.3.4")
	assertAppErr(t, err, apperr.KindNotFound, MessageNotFound)
}

func TestFetchAudioUniformNotFound(t *testing.T) {
	f := newFixture(t, Config{})
	f.records["no-url"] = &storage.Generation{ID: "no-url", Status: storage.StatusCompleted}
	f.records["failed"] = &storage.Generation{ID: "failed", Status: storage.StatusFailed}

	for _, id := range []string{"missing", "no-url", "failed"} {
		_, err := f.proxy.FetchAudio(context.Background(), id, "00000000000000000000000000000000", "1.2.3.4")
		assertAppErr(t, err, apperr.KindNotFound, MessageNotFound)
	}
}

func TestFetchAudioWrongHashIsForbidden(t *testing.T) {
	f := newFixture(t, Config{})

	for _, token := range []string{
		f.signer.Sign(f.records[genID].UpstreamURL, "another-id"),
		"not-hex",
		"",
	} {
		_, err := f.proxy.FetchAudio(context.Background(), genID, token, "1.2.3.4")
		assertAppErr(t, err, apperr.KindForbidden, MessageInvalidToken)
	}
}

func TestFetchAudioUnreachableUpstreamIsNotAccessible(t *testing.T) {
	f := newFixture(t, Config{})
	f.records["gone"] = &storage.Generation{ID: "gone", Status: storage.StatusCompleted, UpstreamURL: f.upstream.URL + "/gone.wav"}

	_, err := f.proxy.FetchAudio(context.Background(), "gone", f.token("gone"), "1.2.3.4")
	assertAppErr(t, err, apperr.KindNotFound, MessageNotAccessible)
}

func TestFetchAudioRejectsOversizedPayload(t *testing.T) {
	f := newFixture(t, Config{MaxAudioBytes: 4})

	_, err := f.proxy.FetchAudio(context.Background(), genID, f.token(genID), "1.2.3.4")
	assertAppErr(t, err, apperr.KindNotFound, MessageNotAccessible)
}

func TestFetchAudioLookupFailureIsNotFound(t *testing.T) {
	p := New(ratelimit.New(), failingLookup{}, signing.New("k"), nil, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	_, err := p.FetchAudio(context.Background(), genID, "x", "1.2.3.4")
	assertAppErr(t, err, apperr.KindNotFound, MessageNotFound)
}

func TestFetchAudioRateLimitsPerClient(t *testing.T) {
	f := newFixture(t, Config{RateLimitMax: 2, RateLimitWindow: time.Minute})
	token := f.token(genID)

	for i := 0; i < 2; i++ {
		_, err := f.proxy.FetchAudio(context.Background(), genID, token, "1.2.3.4")
		require.NoError(t, err)
	}
	_, err := f.proxy.FetchAudio(context.Background(), genID, token, "1.2.3.4")
	assertAppErr(t, err, apperr.KindRateLimit, MessageRateLimited)

	_, err = f.proxy.FetchAudio(context.Background(), genID, token, "5.6.7.8")
	assert.NoError(t, err, "other clients keep their own window")
}

func TestRateCheckRunsBeforeLookup(t *testing.T) {
	f := newFixture(t, Config{RateLimitMax: 1, RateLimitWindow: time.Minute})

	_, err := f.proxy.FetchAudio(context.Background(), "missing", "x", "9.9.9.9")
	assertAppErr(t, err, apperr.KindNotFound, MessageNotFound)
	_, err = f.proxy.FetchAudio(context.Background(), "missing", "x", "9.9.9.9")
	assertAppErr(t, err, apperr.KindRateLimit, MessageRateLimited)
}

func assertAppErr(t *testing.T, err error, kind apperr.Kind, message string) {
	t.Helper()
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr), "expected *apperr.Error, got %v", err)
	assert.Equal(t, kind, appErr.Kind)
	assert.Equal(t, message, appErr.Message)
}
