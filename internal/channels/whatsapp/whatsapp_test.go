package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestParseWebhook(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Incoming
	}{
		{
			name: "message with chat",
			body: `{"message":{"sender":"5511999990000@s.whatsapp.net","messageType":"conversation","content":"quero arroz","messageid":"ABC"},"chat":{"id":"5511999990000@s.whatsapp.net"}}`,
			want: Incoming{UserID: "5511999990000", Text: "quero arroz", MessageID: "ABC", Type: TypeText},
		},
		{
			name: "messages array",
			body: `{"messages":[{"sender":"5511988887777:12@s.whatsapp.net","text":{"body":"oi"},"id":"M1"}]}`,
			want: Incoming{UserID: "5511988887777", Text: "oi", MessageID: "M1", Type: TypeText},
		},
		{
			name: "flat",
			body: `{"from":"+55 11 97777-6666","text":"bom dia","id":"F1"}`,
			want: Incoming{UserID: "5511977776666", Text: "bom dia", MessageID: "F1", Type: TypeText},
		},
		{
			name: "group ignored",
			body: `{"message":{"chatid":"1203630@g.us","sender":"1203630@g.us","content":"oi"}}`,
			want: Incoming{Text: "oi", Type: TypeText},
		},
		{
			name: "lid falls through to chat",
			body: `{"message":{"sender":"123@lid","content":"oi"},"chat":{"wa_id":"5511966665555"}}`,
			want: Incoming{UserID: "5511966665555", Text: "oi", Type: TypeText},
		},
		{
			name: "from me",
			body: `{"message":{"sender":"5511999990000","content":"eco","fromMe":true}}`,
			want: Incoming{UserID: "5511999990000", Text: "eco", Type: TypeText, FromMe: true},
		},
		{
			name: "ptt audio",
			body: `{"message":{"sender":"5511999990000","messageType":"PttMessage","messageid":"A1"}}`,
			want: Incoming{UserID: "5511999990000", MessageID: "A1", Type: TypeAudio},
		},
		{
			name: "image caption",
			body: `{"message":{"sender":"5511999990000","messageType":"ImageMessage","content":{"caption":"comprovante"},"id":"I1"}}`,
			want: Incoming{UserID: "5511999990000", Text: "comprovante", MessageID: "I1", Type: TypeImage},
		},
		{
			name: "pdf by mimetype",
			body: `{"message":{"sender":"5511999990000","messageType":"DocumentMessage","mimetype":"application/PDF","id":"D1"}}`,
			want: Incoming{UserID: "5511999990000", MessageID: "D1", Type: TypeDocument, MimeType: "application/pdf"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseWebhook([]byte(tc.body))
			if err != nil {
				t.Fatalf("expected nil error, got: %v", err)
			}
			if *got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, *got)
			}
		})
	}
}

func TestParseWebhook_InvalidJSON(t *testing.T) {
	if _, err := ParseWebhook([]byte("{nope")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNew_RequiresAPIURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty api_url")
	}
	if _, err := New(Config{APIURL: "not a url"}); err == nil {
		t.Fatal("expected error for relative api_url")
	}
}

func TestSplitReply(t *testing.T) {
	got := SplitReply("Olá!\n\n  \n\nArroz: R$ 25,90\nFeijão: R$ 8,50\n\n")
	if len(got) != 2 || got[0] != "Olá!" || got[1] != "Arroz: R$ 25,90\nFeijão: R$ 8,50" {
		t.Fatalf("unexpected split %q", got)
	}
	if len(SplitReply(" \n\n ")) != 0 {
		t.Fatal("expected no bubbles for blank reply")
	}
}

func TestChunkDelay(t *testing.T) {
	cases := map[string]time.Duration{
		"":                       1500 * time.Millisecond,
		strings.Repeat("a", 45):  2500 * time.Millisecond,
		strings.Repeat("é", 90):  3500 * time.Millisecond,
		strings.Repeat("a", 500): 4 * time.Second,
	}
	for in, want := range cases {
		if got := ChunkDelay(in); got != want {
			t.Fatalf("ChunkDelay(%d chars): expected %v, got %v", len([]rune(in)), want, got)
		}
	}
}

type apiCall struct {
	Path  string
	Token string
	Body  map[string]any
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	reply func(path string, body map[string]any) (int, any)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Path: r.URL.Path, Token: r.Header.Get("token"), Body: body})
	f.mu.Unlock()

	status, out := http.StatusOK, any(map[string]string{})
	if f.reply != nil {
		status, out = f.reply(r.URL.Path, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(out)
}

func newTestChannel(t *testing.T, api *fakeAPI) *Channel {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	ch, err := New(Config{APIURL: srv.URL + "/message/", Token: " tok ", RequestsPerSecond: 1000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch.pace = func(string) time.Duration { return 0 }
	return ch
}

func TestSend_SplitsIntoBubbles(t *testing.T) {
	api := &fakeAPI{}
	ch := newTestChannel(t, api)

	if err := ch.Send(context.Background(), "5511999990000", "Olá!\n\nSeu pedido foi enviado."); err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if len(api.calls) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(api.calls))
	}
	for i, want := range []string{"Olá!", "Seu pedido foi enviado."} {
		c := api.calls[i]
		if c.Path != "/send/text" || c.Token != "tok" {
			t.Fatalf("unexpected call %+v", c)
		}
		if c.Body["text"] != want || c.Body["number"] != "5511999990000" || c.Body["openTicket"] != "1" {
			t.Fatalf("unexpected body %v", c.Body)
		}
	}
}

func TestSend_StopsOnAPIError(t *testing.T) {
	api := &fakeAPI{reply: func(string, map[string]any) (int, any) {
		return http.StatusBadGateway, map[string]string{"error": "down"}
	}}
	ch := newTestChannel(t, api)

	err := ch.Send(context.Background(), "5511999990000", "a\n\nb")
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("expected APIError 502, got %v", err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("expected delivery to stop after first failure, got %d calls", len(api.calls))
	}
}

func TestSendPresence(t *testing.T) {
	api := &fakeAPI{}
	ch := newTestChannel(t, api)
	if err := ch.SendPresence(context.Background(), "5511999990000", "composing"); err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if c := api.calls[0]; c.Path != "/message/presence" || c.Body["presence"] != "composing" {
		t.Fatalf("unexpected call %+v", c)
	}
}

func TestResolve(t *testing.T) {
	api := &fakeAPI{reply: func(_ string, body map[string]any) (int, any) {
		if body["transcribe"] == true {
			if body["id"] == "mute" {
				return http.StatusOK, map[string]string{}
			}
			return http.StatusOK, map[string]string{"transcription": "dois quilos de arroz"}
		}
		if body["id"] == "gone" {
			return http.StatusNotFound, map[string]string{}
		}
		return http.StatusOK, map[string]string{"fileURL": "https://cdn.example/img.jpg"}
	}}
	ch := newTestChannel(t, api)

	cases := []struct {
		name string
		in   Incoming
		want string
	}{
		{"text", Incoming{Type: TypeText, Text: "oi"}, "oi"},
		{"audio", Incoming{Type: TypeAudio, MessageID: "a1"}, "[Áudio]: dois quilos de arroz"},
		{"audio silent", Incoming{Type: TypeAudio, MessageID: "mute"}, "[Áudio inaudível]"},
		{"image", Incoming{Type: TypeImage, MessageID: "i1", Text: "comprovante"}, "comprovante [MEDIA_URL: https://cdn.example/img.jpg]"},
		{"image no link", Incoming{Type: TypeImage, MessageID: "gone"}, "[Imagem]"},
		{"pdf no link", Incoming{Type: TypeDocument, MimeType: "application/pdf", MessageID: "gone"}, "[PDF]"},
		{"other document", Incoming{Type: TypeDocument, MimeType: "text/csv", Text: "planilha"}, "planilha"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.in
			if got := ch.Resolve(context.Background(), &in); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestResolve_PDFUnreadableKeepsLink(t *testing.T) {
	pdfSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not a pdf"))
	}))
	t.Cleanup(pdfSrv.Close)

	api := &fakeAPI{reply: func(string, map[string]any) (int, any) {
		return http.StatusOK, map[string]string{"url": pdfSrv.URL + "/doc.pdf"}
	}}
	ch := newTestChannel(t, api)

	got := ch.Resolve(context.Background(), &Incoming{Type: TypeDocument, MimeType: "application/pdf", MessageID: "d1"})
	if got != "PDF Recebido.  [MEDIA_URL: "+pdfSrv.URL+"/doc.pdf]" {
		t.Fatalf("unexpected resolution %q", got)
	}
}

func TestExtractPDFText_Invalid(t *testing.T) {
	if _, err := ExtractPDFText([]byte("%PDF-garbage")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("ação", 2); got != "aç" {
		t.Fatalf("expected %q, got %q", "aç", got)
	}
}
