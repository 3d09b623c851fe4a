package stt

import (
	"regexp"
	"strings"
)

var richTag = regexp.MustCompile(`<\|([^|>]*)\|>`)

var spokenLanguages = map[string]bool{
	"zh": true, "en": true, "yue": true, "ja": true, "ko": true, "th": true,
}

// Postprocess strips rich transcription tags such as
// "<|th|><|NEUTRAL|><|Speech|><|withitn|>" and returns the clean text with the
// language named by the first language tag, if any.
func Postprocess(raw string) (text, language string) {
	for _, m := range richTag.FindAllStringSubmatch(raw, -1) {
		tag := strings.ToLower(m[1])
		if language == "" && spokenLanguages[tag] {
			language = tag
		}
	}
	text = strings.TrimSpace(richTag.ReplaceAllString(raw, ""))
	return text, language
}
