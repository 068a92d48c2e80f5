package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOpenAIProvider_ChatParsesToolCalls(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"","tool_calls":[{"id":"c1","function":{"name":"estoque","arguments":"{\"ean\":\"789\"}"}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "sk-test", srv.URL+"/v1", "gpt-4o-mini")
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "olha", Images: []ImagePart{{URL: "https://x/y.jpg"}}},
		},
		Options: map[string]interface{}{OptTemperature: 0},
	})
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "estoque" || resp.ToolCalls[0].Arguments["ean"] != "789" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 7 {
		t.Fatalf("expected usage 7, got %+v", resp.Usage)
	}

	if got["model"] != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %v", got["model"])
	}
	msgs := got["messages"].([]interface{})
	parts := msgs[0].(map[string]interface{})["content"].([]interface{})
	if len(parts) != 2 || parts[1].(map[string]interface{})["type"] != "image_url" {
		t.Fatalf("expected text + image_url parts, got %v", parts)
	}
}

func TestOpenAIProvider_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "k", srv.URL, "m").
		WithRetry(RetryConfig{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "oi"}}})
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if resp.Content != "ok" || calls.Load() != 2 {
		t.Fatalf("expected ok after 2 calls, got %q after %d", resp.Content, calls.Load())
	}
}

func TestOpenAIProvider_NoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "k", srv.URL, "m")
	_, err := p.Chat(context.Background(), ChatRequest{})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadRequest {
		t.Fatalf("expected HTTPError 400, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("3"); got != 3*time.Second {
		t.Fatalf("expected 3s, got %v", got)
	}
	if got := ParseRetryAfter(""); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
