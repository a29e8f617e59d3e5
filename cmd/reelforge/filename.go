package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/reelforge/reelforge/internal/client"
)

const maxFileNameLen = 120

// videoFileName is the default name of a downloaded final or subtitled video.
func videoFileName(sessionID string, kind client.ArtifactKind) string {
	return fmt.Sprintf("%s-%s.mp4", sanitizeFileName(sessionID, maxFileNameLen), kind)
}

// mediaFileName flattens a per-segment artifact path into one file name,
// keeping its extension.
func mediaFileName(sessionID, relpath string) string {
	flat := strings.ReplaceAll(strings.Trim(relpath, "/"), "/", "-")
	return sanitizeFileName(sessionID+"-"+flat, maxFileNameLen)
}

// outputPath picks where a download goes. An empty out or an existing
// directory gets the default name.
func outputPath(out, name string) string {
	if out == "" {
		return name
	}
	if fi, err := os.Stat(out); err == nil && fi.IsDir() {
		return filepath.Join(out, name)
	}
	return out
}

// sanitizeFileName drops control characters and replaces anything outside a
// conservative set with '_'.
func sanitizeFileName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsControl(r):
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := strings.Trim(b.String(), ".")
	if runes := []rune(cleaned); maxLen > 0 && len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	if cleaned == "" {
		return "session"
	}
	return cleaned
}
