// ABOUTME: Request language selection, including per-utterance detection for "auto"
// ABOUTME: Uses whatlanggo and falls back to English when detection is unreliable

package nlu

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

const (
	// Auto selects the language per utterance.
	Auto = "auto"
	// FallbackLanguage is used when detection gives no usable answer.
	FallbackLanguage = "en"

	minDetectConfidence = 0.5
)

// ResolveLanguage returns the language tag to send for text.
func ResolveLanguage(setting, text string) string {
	if !strings.EqualFold(setting, Auto) {
		return setting
	}
	return DetectLanguage(text)
}

// DetectLanguage returns the ISO 639-1 code for text, or FallbackLanguage.
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if info.Confidence < minDetectConfidence {
		return FallbackLanguage
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return FallbackLanguage
	}
	return code
}
