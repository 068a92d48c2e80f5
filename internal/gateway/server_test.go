package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/mercabot/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/mercabot/internal/inbound"
	"github.com/nextlevelbuilder/mercabot/internal/metrics"
)

type fakeSink struct {
	mu     sync.Mutex
	users  []string
	texts  []string
	status inbound.Status
	err    error
}

func (f *fakeSink) OnFragment(_ context.Context, userID, text string) (inbound.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	f.texts = append(f.texts, text)
	if f.status == "" {
		return inbound.StatusBuffering, f.err
	}
	return f.status, f.err
}

type fakeMedia struct{}

func (fakeMedia) Resolve(_ context.Context, in *whatsapp.Incoming) string {
	if in.Type == whatsapp.TypeAudio {
		return "[Áudio]: meio quilo de café"
	}
	return in.Text
}

func newTestServer(sink FragmentSink, media MediaResolver, rpm int) http.Handler {
	return NewServer(Config{Version: "1.6.0", RateLimitRPM: rpm}, sink, media, metrics.New()).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]string
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rr.Code, out
}

const textPayload = `{"message":{"sender":"5511999990000@s.whatsapp.net","content":"quanto custa o arroz"}}`

func TestRootAndHealth(t *testing.T) {
	t.Parallel()
	h := newTestServer(&fakeSink{}, nil, 0)

	code, out := do(t, h, http.MethodGet, "/", "")
	if code != http.StatusOK || out["status"] != "online" || out["version"] != "1.6.0" {
		t.Fatalf("unexpected root response %d %v", code, out)
	}
	code, out = do(t, h, http.MethodGet, "/health", "")
	if code != http.StatusOK || out["status"] != "healthy" || out["ts"] == "" {
		t.Fatalf("unexpected health response %d %v", code, out)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := newTestServer(&fakeSink{}, nil, 0)
	do(t, h, http.MethodPost, "/", textPayload)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "mercabot_") {
		t.Fatalf("expected prometheus exposition, got %d", rr.Code)
	}
}

func TestWebhook_Dispatches(t *testing.T) {
	t.Parallel()
	for _, path := range []string{"/", "/webhook/whatsapp"} {
		sink := &fakeSink{}
		code, out := do(t, newTestServer(sink, nil, 0), http.MethodPost, path, textPayload)
		if code != http.StatusOK || out["status"] != "buffering" {
			t.Fatalf("%s: unexpected response %d %v", path, code, out)
		}
		if len(sink.users) != 1 || sink.users[0] != "5511999990000" || sink.texts[0] != "quanto custa o arroz" {
			t.Fatalf("%s: unexpected dispatch %v %v", path, sink.users, sink.texts)
		}
	}
}

func TestWebhook_StatusPassthrough(t *testing.T) {
	t.Parallel()
	for _, st := range []inbound.Status{inbound.StatusCooldown, inbound.StatusProcessing} {
		_, out := do(t, newTestServer(&fakeSink{status: st}, nil, 0), http.MethodPost, "/", textPayload)
		if out["status"] != string(st) {
			t.Fatalf("expected %q, got %v", st, out)
		}
	}
}

func TestWebhook_Ignored(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"from me":  `{"message":{"sender":"5511999990000","content":"eco","fromMe":true}}`,
		"group":    `{"message":{"sender":"1203630@g.us","content":"oi"}}`,
		"no text":  `{"message":{"sender":"5511999990000","messageType":"StickerMessage"}}`,
		"no phone": `{"text":"oi"}`,
	}
	for name, body := range cases {
		sink := &fakeSink{}
		code, out := do(t, newTestServer(sink, nil, 0), http.MethodPost, "/", body)
		if code != http.StatusOK || out["status"] != "ignored" {
			t.Fatalf("%s: expected ignored, got %d %v", name, code, out)
		}
		if len(sink.users) != 0 {
			t.Fatalf("%s: expected no dispatch", name)
		}
	}
}

func TestWebhook_InvalidJSON(t *testing.T) {
	t.Parallel()
	code, _ := do(t, newTestServer(&fakeSink{}, nil, 0), http.MethodPost, "/", "{broken")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestWebhook_MediaResolved(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	body := `{"message":{"sender":"5511999990000","messageType":"AudioMessage","messageid":"A1"}}`
	code, _ := do(t, newTestServer(sink, fakeMedia{}, 0), http.MethodPost, "/", body)
	if code != http.StatusOK || len(sink.texts) != 1 || sink.texts[0] != "[Áudio]: meio quilo de café" {
		t.Fatalf("expected transcribed text dispatched, got %d %v", code, sink.texts)
	}
}

func TestWebhook_RateLimited(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	h := newTestServer(sink, nil, 1)

	if code, _ := do(t, h, http.MethodPost, "/", textPayload); code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", code)
	}
	if code, out := do(t, h, http.MethodPost, "/", textPayload); code != http.StatusTooManyRequests || out["status"] != "rate_limited" {
		t.Fatalf("expected 429, got %d %v", code, out)
	}
	if len(sink.users) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(sink.users))
	}
}

func TestWebhook_SinkError(t *testing.T) {
	t.Parallel()
	code, _ := do(t, newTestServer(&fakeSink{err: errors.New("boom")}, nil, 0), http.MethodPost, "/", textPayload)
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
}

// Not parallel: swaps the default logger.
func TestAccessLog_SkipsHealth(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := newTestServer(&fakeSink{}, nil, 0)
	do(t, h, http.MethodGet, "/health", "")
	if strings.Contains(buf.String(), "http request") {
		t.Fatalf("health check was access-logged: %s", buf.String())
	}
	do(t, h, http.MethodGet, "/", "")
	if !strings.Contains(buf.String(), "path=/ ") {
		t.Fatalf("expected root request logged, got: %s", buf.String())
	}
}
