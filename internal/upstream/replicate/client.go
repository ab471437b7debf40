// Package replicate is a minimal client for Replicate's predictions API.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"songgen/internal/upstream"
)

const serviceName = "replicate"

const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithPollInterval sets the delay between status checks of a prediction that
// is still running after the initial request returns.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	pollInterval time.Duration
	observer     ObserverFunc
}

type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

// Terminal reports whether the prediction will not change status again.
func (p *Prediction) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// OutputURL returns the generated file URL. Models return either a single
// URL or a list of them; the first is used.
func (p *Prediction) OutputURL() (string, error) {
	if len(p.Output) == 0 || string(p.Output) == "null" {
		return "", fmt.Errorf("replicate: prediction %s has no output", p.ID)
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		if single == "" {
			return "", fmt.Errorf("replicate: prediction %s returned an empty output", p.ID)
		}
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil {
		for _, u := range list {
			if u != "" {
				return u, nil
			}
		}
		return "", fmt.Errorf("replicate: prediction %s returned an empty output list", p.ID)
	}
	return "", fmt.Errorf("replicate: prediction %s has unsupported output %s", p.ID, truncate(string(p.Output)))
}

func (p *Prediction) errorMessage() string {
	switch v := p.Error.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

type createRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

func New(baseURL, token string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        strings.TrimSpace(token),
		httpClient:   httpClient,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) HasCredentials() bool {
	return c.token != ""
}

// Run creates a prediction and blocks until it reaches a terminal status or
// ctx is done. It does not retry: a failed prediction is returned as an
// error. The returned prediction has succeeded.
func (c *Client) Run(ctx context.Context, version string, input map[string]any) (*Prediction, error) {
	payload, err := json.Marshal(createRequest{Version: versionID(version), Input: input})
	if err != nil {
		return nil, err
	}

	prediction, err := c.do(ctx, "predictions_create", http.MethodPost, c.baseURL+"/predictions", payload)
	if err != nil {
		return nil, err
	}

	for !prediction.Terminal() {
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		getURL := prediction.URLs.Get
		if getURL == "" {
			getURL = c.baseURL + "/predictions/" + prediction.ID
		}
		prediction, err = c.do(ctx, "predictions_get", http.MethodGet, getURL, nil)
		if err != nil {
			return nil, err
		}
	}

	if prediction.Status != StatusSucceeded {
		msg := prediction.errorMessage()
		if msg == "" {
			msg = "prediction " + prediction.Status
		}
		return nil, &upstream.Error{
			Service: serviceName,
			Kind:    upstream.KindUnknown,
			Err:     fmt.Errorf("prediction %s %s: %s", prediction.ID, prediction.Status, msg),
		}
	}
	return prediction, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, url string, payload []byte) (*Prediction, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe(endpoint, statusCode, time.Since(started)) }()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "wait")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, upstream.TransportError(serviceName, err)
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.TransportError(serviceName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstream.StatusError(serviceName, resp.StatusCode, string(respBody))
	}

	var prediction Prediction
	if err := json.Unmarshal(respBody, &prediction); err != nil {
		return nil, fmt.Errorf("replicate: invalid prediction response: %w", err)
	}
	if prediction.ID == "" && !prediction.Terminal() {
		return nil, fmt.Errorf("replicate: prediction response without id")
	}
	return &prediction, nil
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, duration)
	}
}

// versionID accepts either a bare version hash or "owner/model:hash".
func versionID(version string) string {
	if _, after, ok := strings.Cut(version, ":"); ok {
		return after
	}
	return version
}

func truncate(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "..."
}
