// Package whatsapp talks to a uazapi-compatible WhatsApp HTTP API: webhook
// parsing, media resolution and paced outbound delivery.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	sendTimeout       = 10 * time.Second
	presenceTimeout   = 3 * time.Second
	downloadTimeout   = 15 * time.Second
	transcribeTimeout = 25 * time.Second
	pdfFetchTimeout   = 20 * time.Second

	defaultRequestsPerSecond = 5
)

// Config holds the API connection settings.
type Config struct {
	APIURL string
	Token  string
	// OpenAIKey is forwarded to the API for audio transcription.
	OpenAIKey         string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// APIError is a non-2xx response from the WhatsApp API.
type APIError struct {
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp %s: HTTP %d: %s", e.Path, e.Status, e.Body)
}

// Channel is the WhatsApp API client. It implements turn.Sender.
type Channel struct {
	baseURL   string
	token     string
	openAIKey string
	http      *http.Client
	limiter   *rate.Limiter

	// pace returns the pause after sending chunk when more chunks follow.
	pace func(chunk string) time.Duration
}

// New creates a Channel from config.
func New(cfg Config) (*Channel, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, fmt.Errorf("whatsapp api_url is required")
	}
	base, err := apiOrigin(cfg.APIURL)
	if err != nil {
		return nil, err
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Channel{
		baseURL:   base,
		token:     strings.TrimSpace(cfg.Token),
		openAIKey: cfg.OpenAIKey,
		http:      hc,
		limiter:   rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		pace:      ChunkDelay,
	}, nil
}

// apiOrigin reduces the configured URL to scheme://host.
func apiOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("whatsapp api_url %q is not an absolute URL", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

func (c *Channel) post(ctx context.Context, path string, timeout time.Duration, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("whatsapp rate limit: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal whatsapp %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode whatsapp %s: %w", path, err)
	}
	return nil
}
