package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates the parent directory for path if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// SanitizeFilename strips characters that are unsafe in file names. Share
// hosts occasionally hand back names carrying separators or control bytes.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			// drop control characters
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), " .")
	if cleaned == "" {
		return "download"
	}
	return cleaned
}

// UniquePath returns path unchanged when it is free, otherwise appends a
// numeric suffix before the extension until it finds an unused name.
func UniquePath(path string) string {
	if !FileExists(path) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		if !FileExists(candidate) {
			return candidate
		}
	}
}

// AtomicRename moves a finished temp file into place.
func AtomicRename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}
