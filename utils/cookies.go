package utils

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
)

// ParseCookies splits a Cookie header string ("k=v; k2=v2") into a map.
// Malformed fragments are skipped; values keep any embedded '='.
func ParseCookies(cookieString string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(cookieString, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.TrimSpace(kv[0])
		if name == "" {
			continue
		}
		cookies[name] = strings.TrimSpace(kv[1])
	}
	return cookies
}

// BuildCookieString serializes a cookie map back to a Cookie header value.
// Names are sorted so the output is deterministic; parse/build round-trips
// up to whitespace and ordering.
func BuildCookieString(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(cookies[name])
	}
	return b.String()
}

// FoldSetCookies merges a response's Set-Cookie values into a cookie map.
// Later values win; deletions (empty values) are honored.
func FoldSetCookies(dst map[string]string, setCookies []*http.Cookie) {
	for _, c := range setCookies {
		if c.Name == "" {
			continue
		}
		dst[c.Name] = c.Value
	}
}

// LoadNetscapeCookies reads a Netscape-format cookie file
// (domain \t flag \t path \t secure \t expiration \t name \t value) into a
// name→value map. Comment and blank lines are skipped.
func LoadNetscapeCookies(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie file: %w", err)
	}
	defer file.Close()

	cookies := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			return nil, fmt.Errorf("invalid cookie format at line %d: expected 7 fields, got %d", lineNum, len(fields))
		}
		name, value := fields[5], fields[6]
		if name == "" {
			return nil, fmt.Errorf("invalid cookie format at line %d: empty cookie name", lineNum)
		}
		cookies[name] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading cookie file: %w", err)
	}

	return cookies, nil
}
