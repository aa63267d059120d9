package digitize

import (
	"mime"
	"path/filepath"
	"strings"
)

const defaultContentType = "application/octet-stream"

// Supported lists the input extensions the service accepts.
var Supported = []string{".png", ".jpe", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".pdf"}

var knownTypes = map[string]string{
	".jpe":  "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
	".pdf":  "application/pdf",
}

// IsSupported reports whether path has a supported extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, candidate := range Supported {
		if ext == candidate {
			return true
		}
	}
	return false
}

// ContentType guesses the upload content type from the file extension.
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return defaultContentType
	}
	if known, ok := knownTypes[ext]; ok {
		return known
	}
	if guessed := mime.TypeByExtension(ext); guessed != "" {
		if idx := strings.Index(guessed, ";"); idx >= 0 {
			guessed = guessed[:idx]
		}
		return guessed
	}
	return defaultContentType
}
