package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	backendTimeout    = 10 * time.Second
	backendMaxBody    = 1 << 20
	toolErrorMaxChars = 500
)

// BackendConfig points the tools at the store's ERP and knowledge base.
type BackendConfig struct {
	BaseURL       string // orders and stock search
	EANBaseURL    string // price/stock by EAN
	AuthToken     string
	KnowledgeURL  string
	KnowledgeAuth string
	KnowledgeKey  string
}

// Backend is the HTTP client shared by the store tools.
type Backend struct {
	cfg    BackendConfig
	client *http.Client
}

func NewBackend(cfg BackendConfig) *Backend {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.EANBaseURL = strings.TrimRight(strings.TrimSpace(cfg.EANBaseURL), "/")
	return &Backend{cfg: cfg, client: &http.Client{Timeout: backendTimeout}}
}

// WithHTTPClient overrides the HTTP client.
func (b *Backend) WithHTTPClient(c *http.Client) *Backend {
	b.client = c
	return b
}

// statusError is a non-2xx backend response.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, truncateStr(e.body, toolErrorMaxChars))
}

func (b *Backend) do(ctx context.Context, method, url string, body interface{}, headers map[string]string) ([]byte, int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, backendMaxBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, resp.StatusCode, &statusError{status: resp.StatusCode, body: string(data)}
	}
	return data, resp.StatusCode, nil
}

func (b *Backend) erp(ctx context.Context, method, url string, body interface{}) ([]byte, int, error) {
	return b.do(ctx, method, url, body, map[string]string{"Authorization": b.cfg.AuthToken})
}

// decodeItems accepts either a single object or a list of objects.
func decodeItems(data []byte) ([]map[string]interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	var items []map[string]interface{}
	switch x := v.(type) {
	case map[string]interface{}:
		items = append(items, x)
	case []interface{}:
		for _, it := range x {
			if m, ok := it.(map[string]interface{}); ok {
				items = append(items, m)
			}
		}
	}
	return items, nil
}

func jsonResult(v interface{}) *Result {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult(fmt.Sprintf("encode result: %v", err))
	}
	return NewResult(string(out))
}

func truncateStr(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
