package extractor

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"terastream/internal"
)

// The share page's shape is unstable, so every scraping concern lives in a
// pattern table rather than in pipeline logic. New mirror layouts get a new
// table row, nothing else changes.

// jsTokenPatterns locate the jsToken on the landing page, tried in order.
var jsTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"jsToken"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`jsToken\s*=\s*'([^']+)'`),
	regexp.MustCompile(`jsToken\s*=\s*"([^"]+)"`),
	regexp.MustCompile(`window\.jsToken\s*=\s*['"]([^'"]+)['"]`),
}

// bdstokenPatterns locate the bdstoken on the landing page.
var bdstokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"bdstoken"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`bdstoken\s*=\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`'bdstoken'\s*:\s*'([^']+)'`),
}

// bundlePatterns find the JSON blob mirrors embed into share pages. Each
// mirror generation ships a different wrapper; the first blob that parses
// as JSON wins.
var bundlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<script>\s*window\.locals\s*=\s*(\{.+?\});\s*</script>`),
	regexp.MustCompile(`(?s)__locals\s*=\s*(\{.+?\})`),
	regexp.MustCompile(`data-share-info="([^"]+)"`),
	regexp.MustCompile(`(?s)window\.__INITIAL_STATE__\s*=\s*(\{.+?\});`),
	regexp.MustCompile(`(?s)var\s+share(?:Info|Data)\s*=\s*(\{.+?\});`),
}

// fieldPatterns recover individual share fields when no bundle parsed.
var fieldPatterns = map[string][]*regexp.Regexp{
	"shareid": {
		regexp.MustCompile(`"shareid"\s*[=:]\s*["']?(\d+)["']?`),
		regexp.MustCompile(`share_id["\s]*[=:]\s*["']?(\d+)["']?`),
		regexp.MustCompile(`shareid=(\d+)`),
	},
	"uk": {
		regexp.MustCompile(`"uk"\s*[=:]\s*["']?(\d+)["']?`),
		regexp.MustCompile(`user_key["\s]*[=:]\s*["']?(\d+)["']?`),
		regexp.MustCompile(`uk=(\d+)`),
	},
	"sign": {
		regexp.MustCompile(`"sign"\s*[=:]\s*["']([^"']+)["']`),
		regexp.MustCompile(`sign=([a-zA-Z0-9]+)`),
	},
	"timestamp": {
		regexp.MustCompile(`"timestamp"\s*[=:]\s*(\d+)`),
		regexp.MustCompile(`timestamp=(\d+)`),
	},
}

// fileListPatterns pull an embedded file list out of the page when the
// bundle did not carry one.
var fileListPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)"file_list"\s*:\s*(\[.+?\])`),
	regexp.MustCompile(`(?s)"list"\s*:\s*(\[.+?\])`),
}

// extractJSToken returns the first jsToken capture from the landing page,
// or "" when none of the patterns match.
func extractJSToken(html string) string {
	return firstMatch(jsTokenPatterns, html)
}

// extractBDSToken returns the first bdstoken capture from the landing page.
func extractBDSToken(html string) string {
	return firstMatch(bdstokenPatterns, html)
}

func firstMatch(patterns []*regexp.Regexp, s string) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(s); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	return ""
}

// shareContext is the per-extraction working set assembled during share
// discovery. shareID and uk may still be empty after stage 1; the file
// listing call recovers them when the share page withheld them.
type shareContext struct {
	surl      string
	shareID   string
	uk        string
	sign      string
	timestamp int64
	title     string
	files     []internal.FileEntry
	haveFiles bool
}

// fold lifts the share fields out of a decoded JSON document, descending
// into the nested share/file/list shapes the endpoints use. Values found
// deeper override values found earlier, matching how the mirrors layer
// their payloads.
func (sc *shareContext) fold(doc gjson.Result) {
	if v := doc.Get("shareid"); v.Exists() {
		sc.shareID = v.String()
	}
	if v := doc.Get("uk"); v.Exists() {
		sc.uk = v.String()
	}
	if v := doc.Get("sign"); v.Exists() && v.String() != "" {
		sc.sign = v.String()
	}
	if v := doc.Get("timestamp"); v.Exists() {
		sc.timestamp = v.Int()
	}
	if v := doc.Get("title"); v.Exists() && v.String() != "" {
		sc.title = v.String()
	}
	if v := doc.Get("file_list"); v.IsArray() {
		sc.setFiles(v)
	}
	if v := doc.Get("share"); v.IsObject() {
		sc.fold(v)
	}
	if v := doc.Get("file"); v.Exists() {
		switch {
		case v.IsArray():
			sc.setFiles(v)
		case v.IsObject():
			sc.files = []internal.FileEntry{fileEntryFromJSON(v)}
			sc.haveFiles = true
		}
	}
	if v := doc.Get("list"); v.IsArray() {
		sc.setFiles(v)
	}
}

func (sc *shareContext) setFiles(list gjson.Result) {
	entries := list.Array()
	files := make([]internal.FileEntry, 0, len(entries))
	for _, item := range entries {
		files = append(files, fileEntryFromJSON(item))
	}
	sc.files = files
	sc.haveFiles = true
}

// fileEntryFromJSON converts one raw file item into a FileEntry. Numeric
// fs_id values serialize to their decimal form; the raw item is kept for
// diagnostics.
func fileEntryFromJSON(item gjson.Result) internal.FileEntry {
	entry := internal.FileEntry{
		FsID:           item.Get("fs_id").String(),
		ServerFilename: item.Get("server_filename").String(),
		Filename:       item.Get("filename").String(),
		Size:           item.Get("size").Int(),
		Category:       int(item.Get("category").Int()),
		MimeType:       item.Get("mime_type").String(),
		DLink:          item.Get("dlink").String(),
		Raw:            item.Raw,
	}
	if entry.MimeType == "" {
		entry.MimeType = item.Get("type").String()
	}
	if v := item.Get("thumbs.url3"); v.String() != "" {
		entry.Thumbnail = v.String()
	} else {
		entry.Thumbnail = item.Get("thumb").String()
	}
	return entry
}

// parseSharePage scrapes a share page when /api/shorturlinfo refused to
// answer: first the embedded JSON bundle, then per-field regex fallbacks,
// then any loose file list in the markup.
func parseSharePage(html, surl string) *shareContext {
	sc := &shareContext{surl: surl}

	for _, pattern := range bundlePatterns {
		m := pattern.FindStringSubmatch(html)
		if len(m) < 2 {
			continue
		}
		if doc, ok := decodeBundle(m[1]); ok {
			sc.fold(doc)
			break
		}
	}

	for field, patterns := range fieldPatterns {
		if sc.fieldSet(field) {
			continue
		}
		if v := firstMatch(patterns, html); v != "" {
			sc.applyField(field, v)
		}
	}

	if !sc.haveFiles {
		for _, pattern := range fileListPatterns {
			m := pattern.FindStringSubmatch(html)
			if len(m) < 2 {
				continue
			}
			if list := gjson.Parse(m[1]); list.IsArray() {
				sc.setFiles(list)
				break
			}
		}
	}

	return sc
}

func (sc *shareContext) fieldSet(field string) bool {
	switch field {
	case "shareid":
		return sc.shareID != ""
	case "uk":
		return sc.uk != ""
	case "sign":
		return sc.sign != ""
	case "timestamp":
		return sc.timestamp != 0
	}
	return false
}

func (sc *shareContext) applyField(field, value string) {
	switch field {
	case "shareid":
		sc.shareID = value
	case "uk":
		sc.uk = value
	case "sign":
		sc.sign = value
	case "timestamp":
		sc.timestamp, _ = strconv.ParseInt(value, 10, 64)
	}
}

// decodeBundle undoes the encodings mirrors wrap around embedded JSON:
// HTML entities first, percent-encoding second. Blobs that still fail to
// parse are rejected so the next pattern gets its chance.
func decodeBundle(raw string) (gjson.Result, bool) {
	s := strings.ReplaceAll(raw, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&amp;", "&")
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	if !gjson.Valid(s) {
		return gjson.Result{}, false
	}
	return gjson.Parse(s), true
}
