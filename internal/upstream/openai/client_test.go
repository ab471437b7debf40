package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"songgen/internal/upstream"
)

func TestChatCompletionParsesContentAndUsage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", got)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.MaxTokens != 100 || req.Temperature != 0.3 {
			t.Errorf("unexpected sampling params: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"rock, guitar, energetic, drums, male, powerful"}}],"usage":{"prompt_tokens":50,"completion_tokens":10,"total_tokens":60}}`)
	}))
	defer ts.Close()

	c := New(ts.URL, "test-key", ts.Client())
	resp, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{
		Model:       "m",
		Temperature: 0.3,
		MaxTokens:   100,
		Messages:    []ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion() error = %v", err)
	}
	if resp.Content != "rock, guitar, energetic, drums, male, powerful" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 60 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestChatCompletionClassifiesUnauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Incorrect API key provided"}}`, http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := New(ts.URL, "bad-key", ts.Client())
	_, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	var upErr *upstream.Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *upstream.Error, got %T", err)
	}
	if upErr.Kind != upstream.KindUnauthorized || upErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected error: %+v", upErr)
	}
}

func TestChatCompletionClassifiesRateLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := New(ts.URL, "test-key", ts.Client())
	_, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	if kind, ok := upstream.KindOf(err); !ok || kind != upstream.KindRateLimited {
		t.Fatalf("unexpected kind: %v (%v)", kind, err)
	}
}

func TestChatCompletionTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	c := New(url, "test-key", &http.Client{Timeout: time.Second})
	_, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	if kind, ok := upstream.KindOf(err); !ok || kind != upstream.KindTransport {
		t.Fatalf("unexpected kind: %v (%v)", kind, err)
	}
}

func TestObserverReceivesFinalStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	var gotEndpoint string
	var gotStatus int
	c := New(ts.URL, "test-key", ts.Client(), WithObserver(func(endpoint string, status int, _ time.Duration) {
		gotEndpoint, gotStatus = endpoint, status
	}))
	if err := c.CheckModels(context.Background()); err != nil {
		t.Fatalf("CheckModels() error = %v", err)
	}
	if gotEndpoint != "models" || gotStatus != http.StatusOK {
		t.Fatalf("unexpected observation: %q %d", gotEndpoint, gotStatus)
	}
}

func TestHasCredentials(t *testing.T) {
	if New("http://x", "  ", nil).HasCredentials() {
		t.Fatal("blank key must not count as configured")
	}
	if !New("http://x", "k", nil).HasCredentials() {
		t.Fatal("expected credentials")
	}
}
