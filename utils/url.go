package utils

import (
	"net/url"
	"regexp"
	"strings"

	"terastream/internal"
)

// CanonicalHost is the mirror every recognized share link normalizes to.
const CanonicalHost = "www.terabox.com"

// ShareLocator identifies a recognized share link. It exists only when the
// input URL matched a known host pattern and carried a non-empty surl.
type ShareLocator struct {
	Surl         string
	CanonicalURL string
	OriginalURL  string
}

// Registry recognizes the Host's share URLs across its mirror constellation
// and extracts the short share identifier (surl) from them.
type Registry struct {
	hosts      map[string]struct{}
	heuristics []string
	patterns   []*regexp.Regexp
}

// knownHosts are the bare mirror hostnames; matching strips a leading "www."
// and also accepts subdomains by suffix, so dm.terabox.com and
// box.terabox.app resolve against terabox.com / terabox.app.
var knownHosts = []string{
	"terabox.com",
	"terabox.app",
	"terabox.co",
	"terabox.fun",
	"teraboxapp.com",
	"teraboxlink.com",
	"teraboxshare.com",
	"terasharelink.com",
	"terafileshare.com",
	"1024tera.com",
	"1024terabox.com",
	"freeterabox.com",
	"4funbox.co",
	"4funbox.com",
	"mirrobox.com",
	"nephobox.com",
	"momerybox.com",
	"tibibox.com",
	"dubox.com",
	"gibibox.com",
	"goaibox.com",
}

// heuristicSubstrings catch mirrors registered after this list was written.
// Deliberately loose; the Host spawns new domains faster than releases ship.
var heuristicSubstrings = []string{
	"terabox", "tera", "box", "dubox", "funbox", "nepho", "mirro", "momer",
}

// surlPatterns are tried in order against the raw URL; first capture wins.
var surlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/s/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`/sharing/link\?surl=([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`[?&]surl=([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`/wap/s/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`/web/share/link\?surl=([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`/share/link\?surl=([A-Za-z0-9_-]+)`),
}

// NewRegistry creates a registry over the known mirror set.
func NewRegistry() *Registry {
	hosts := make(map[string]struct{}, len(knownHosts))
	for _, h := range knownHosts {
		hosts[h] = struct{}{}
	}
	return &Registry{
		hosts:      hosts,
		heuristics: heuristicSubstrings,
		patterns:   surlPatterns,
	}
}

// IsHostURL reports whether the URL belongs to the Host or one of its
// mirrors.
func (r *Registry) IsHostURL(rawURL string) bool {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")

	if _, ok := r.hosts[host]; ok {
		return true
	}
	for known := range r.hosts {
		if strings.HasSuffix(host, "."+known) {
			return true
		}
	}
	for _, sub := range r.heuristics {
		if strings.Contains(host, sub) {
			return true
		}
	}
	return false
}

// ExtractSurl pulls the share identifier out of a URL. Returns "" when no
// pattern, query parameter, or path segment yields one.
func (r *Registry) ExtractSurl(rawURL string) string {
	for _, pattern := range r.patterns {
		if m := pattern.FindStringSubmatch(rawURL); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if surl := parsed.Query().Get("surl"); surl != "" {
		return surl
	}
	// Last resort: split around /s/ for surls with characters outside the
	// usual class.
	if idx := strings.Index(parsed.Path, "/s/"); idx >= 0 {
		rest := parsed.Path[idx+len("/s/"):]
		if cut := strings.IndexByte(rest, '/'); cut >= 0 {
			rest = rest[:cut]
		}
		return rest
	}
	return ""
}

// Parse composes host recognition and surl extraction into a ShareLocator.
func (r *Registry) Parse(rawURL string) (*ShareLocator, error) {
	if rawURL == "" {
		return nil, internal.NewInvalidURLError(rawURL, "URL is empty")
	}
	if !r.IsHostURL(rawURL) {
		return nil, internal.NewInvalidURLError(rawURL, "not a recognized host URL")
	}
	surl := r.ExtractSurl(rawURL)
	if surl == "" {
		return nil, internal.NewInvalidURLError(rawURL, "no share identifier found in URL")
	}
	return &ShareLocator{
		Surl:         surl,
		CanonicalURL: BuildShareURL(surl),
		OriginalURL:  rawURL,
	}, nil
}

// Normalize rewrites a recognized share URL to its canonical form. URLs the
// registry cannot parse come back unchanged, which keeps the operation
// idempotent either way.
func (r *Registry) Normalize(rawURL string) string {
	loc, err := r.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return loc.CanonicalURL
}

// BuildShareURL returns the canonical share URL for a surl.
func BuildShareURL(surl string) string {
	return "https://" + CanonicalHost + "/s/" + surl
}

// essentialParams are the only query parameters CleanURL preserves.
var essentialParams = map[string]struct{}{
	"surl":    {},
	"shareid": {},
	"uk":      {},
	"fid":     {},
}

// CleanURL strips tracking and UI parameters from a share URL, keeping only
// the identifiers the extraction endpoints consume.
func CleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	clean := url.Values{}
	for key, vals := range query {
		if _, ok := essentialParams[key]; ok {
			clean[key] = vals
		}
	}
	parsed.RawQuery = clean.Encode()
	parsed.Fragment = ""
	return parsed.String()
}
