package utils

import "fmt"

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count with two decimals and 1024-based units,
// matching what the Host's own web player shows. Non-positive sizes come
// back as "Unknown" (some endpoints omit sizes for folders).
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "Unknown"
	}
	size := float64(bytes)
	for _, unit := range sizeUnits {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f PB", size)
}

// TruncateText shortens s to at most max runes, appending "..." when it was
// cut. Titles on the Host can run to hundreds of characters.
func TruncateText(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
