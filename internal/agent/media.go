package agent

import (
	"regexp"
	"strings"
)

// DefaultImagePrompt replaces an empty caption on an image message.
const DefaultImagePrompt = "Analise esta imagem/comprovante enviada."

var mediaURLPattern = regexp.MustCompile(`\[MEDIA_URL:\s*(.*?)\]`)

// ExtractMediaURL removes the first [MEDIA_URL: x] marker from message and
// returns the remaining text and the URL. Without a marker the message is
// returned unchanged.
func ExtractMediaURL(message string) (text, url string) {
	m := mediaURLPattern.FindStringSubmatchIndex(message)
	if m == nil {
		return message, ""
	}
	url = strings.TrimSpace(message[m[2]:m[3]])
	text = strings.TrimSpace(message[:m[0]] + message[m[1]:])
	if text == "" {
		text = DefaultImagePrompt
	}
	return text, url
}

// stripMediaMarkers replaces markers in past messages so old images are not resent.
func stripMediaMarkers(s string) string {
	if !strings.Contains(s, "[MEDIA_URL:") {
		return s
	}
	return strings.TrimSpace(mediaURLPattern.ReplaceAllString(s, "[Imagem]"))
}
