package tts

import (
	"fmt"
	"os"
	"path/filepath"
)

// Default prompt names inside a model's asset directory, in lookup order.
const (
	CrossLingualPrompt = "cross_lingual_prompt.wav"
	ZeroShotPrompt     = "zero_shot_prompt.wav"
)

// PromptResolver picks the reference prompt audio for a request.
type PromptResolver struct {
	Primary   string
	Fallbacks []string
	// Exists reports whether a candidate path is usable. Nil means a regular
	// file check on the local filesystem.
	Exists func(path string) bool
}

// DefaultPrompts returns the resolver for a model directory, honoring
// explicit primary and fallback overrides.
func DefaultPrompts(modelDir, primary, fallback string) PromptResolver {
	if primary == "" && modelDir != "" {
		primary = filepath.Join(modelDir, "asset", CrossLingualPrompt)
	}
	if fallback == "" && modelDir != "" {
		fallback = filepath.Join(modelDir, "asset", ZeroShotPrompt)
	}
	var fallbacks []string
	if fallback != "" {
		fallbacks = append(fallbacks, fallback)
	}
	return PromptResolver{Primary: primary, Fallbacks: fallbacks}
}

// Resolve returns the first existing candidate. A non-empty override is
// tried before the configured primary.
func (p PromptResolver) Resolve(override string) (string, error) {
	exists := p.Exists
	if exists == nil {
		exists = fileExists
	}
	candidates := make([]string, 0, len(p.Fallbacks)+2)
	for _, c := range append([]string{override, p.Primary}, p.Fallbacks...) {
		if c != "" {
			candidates = append(candidates, c)
		}
	}
	for _, c := range candidates {
		if exists(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: tried %v", ErrPromptNotFound, candidates)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
