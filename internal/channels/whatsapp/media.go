package whatsapp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	pdfTextLimit = 1000
	maxPDFBytes  = 20 << 20
)

type downloadResponse struct {
	FileURL       string `json:"fileURL"`
	URL           string `json:"url"`
	Transcription string `json:"transcription"`
}

// MediaURL asks the API for a public link to a message's media.
func (c *Channel) MediaURL(ctx context.Context, messageID string) (string, error) {
	if messageID == "" {
		return "", fmt.Errorf("whatsapp media: empty message id")
	}
	var out downloadResponse
	body := map[string]any{"id": messageID, "return_link": true, "return_base64": false}
	if err := c.post(ctx, "/message/download", downloadTimeout, body, &out); err != nil {
		return "", err
	}
	return firstNonEmpty(out.FileURL, out.URL), nil
}

// Transcribe asks the API to transcribe an audio message.
func (c *Channel) Transcribe(ctx context.Context, messageID string) (string, error) {
	if messageID == "" {
		return "", fmt.Errorf("whatsapp transcribe: empty message id")
	}
	var out downloadResponse
	body := map[string]any{"id": messageID, "transcribe": true, "return_link": false, "openai_apikey": c.openAIKey}
	if err := c.post(ctx, "/message/download", transcribeTimeout, body, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Transcription), nil
}

// PDFText downloads the PDF at url and returns its text, whitespace collapsed.
func (c *Channel) PDFText(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pdfFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch pdf: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch pdf: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	return ExtractPDFText(data)
}

// ExtractPDFText returns the plain text of a PDF document.
func ExtractPDFText(data []byte) (text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	return strings.Join(strings.Fields(string(b)), " "), nil
}

// Resolve turns media messages into the text the agent sees. Failures
// degrade to placeholders; Resolve never returns an empty string for media.
func (c *Channel) Resolve(ctx context.Context, in *Incoming) string {
	log := slog.With("message_id", in.MessageID, "type", in.Type)
	switch {
	case in.Type == TypeAudio && in.Text == "":
		t, err := c.Transcribe(ctx, in.MessageID)
		if err != nil {
			log.Warn("whatsapp: transcription failed", "error", err)
		}
		if t == "" {
			return "[Áudio inaudível]"
		}
		return "[Áudio]: " + t

	case in.Type == TypeImage:
		u, err := c.MediaURL(ctx, in.MessageID)
		if err != nil {
			log.Warn("whatsapp: media link failed", "error", err)
		}
		if u == "" {
			return strings.TrimSpace(in.Text + " [Imagem]")
		}
		return strings.TrimSpace(in.Text + " [MEDIA_URL: " + u + "]")

	case in.IsPDF():
		u, err := c.MediaURL(ctx, in.MessageID)
		if err != nil || u == "" {
			if err != nil {
				log.Warn("whatsapp: media link failed", "error", err)
			}
			return "[PDF]"
		}
		text, err := c.PDFText(ctx, u)
		if err != nil {
			log.Warn("whatsapp: pdf text failed", "error", err)
		}
		return fmt.Sprintf("PDF Recebido. %s [MEDIA_URL: %s]", truncateRunes(text, pdfTextLimit), u)
	}
	return in.Text
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
