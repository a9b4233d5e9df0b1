package extractor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"terastream/internal"
	"terastream/utils"
)

// DefaultLandingURL is the page the session bootstrap scrapes for tokens.
const DefaultLandingURL = "https://" + utils.CanonicalHost + "/"

// maxLandingBytes caps how much of the landing page the bootstrap reads.
const maxLandingBytes = 4 << 20

// userAgentPool holds realistic Chrome and Edge agents. One is chosen per
// session and never changes for that session's lifetime; the host
// fingerprints UA switches mid-session.
var userAgentPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.2365.66",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36 Edg/121.0.2277.128",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.2365.63",
}

// SessionState is one browser impersonation: fabricated device cookies, the
// tokens scraped from the landing page, and the identifiers the host expects
// to see repeated on every call. Instances are replaced on refresh, never
// mutated through a caller's pointer; every reader works on a snapshot.
type SessionState struct {
	Cookies   map[string]string
	UserAgent string
	JSToken   string
	BDSToken  string
	CSRFToken string
	LogID     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether the state is still inside its TTL.
func (s *SessionState) Valid() bool {
	return s != nil && time.Now().Before(s.ExpiresAt)
}

// CookieHeader serializes the cookie map for a Cookie request header.
func (s *SessionState) CookieHeader() string {
	return utils.BuildCookieString(s.Cookies)
}

// clone returns a deep copy so in-flight requests keep a stable view while
// the manager folds new cookies into the current state.
func (s *SessionState) clone() *SessionState {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Cookies = make(map[string]string, len(s.Cookies))
	for k, v := range s.Cookies {
		dup.Cookies[k] = v
	}
	return &dup
}

// NavigationHeaders mimic a top-level browser navigation, used for the
// landing page and share pages. Accept-Encoding is left to the transport so
// the standard library keeps handling decompression.
func (s *SessionState) NavigationHeaders() map[string]string {
	return map[string]string{
		"User-Agent":                s.UserAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.9",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
		"sec-ch-ua":                 `"Chromium";v="122", "Not(A:Brand";v="24", "Google Chrome";v="122"`,
		"sec-ch-ua-mobile":          "?0",
		"sec-ch-ua-platform":        `"Windows"`,
		"Cache-Control":             "max-age=0",
	}
}

// APIHeaders mimic the host's own XHR calls. With a referer the Origin is
// derived from its scheme+host prefix, which is what the host's JS sends.
func (s *SessionState) APIHeaders(referer string) map[string]string {
	headers := map[string]string{
		"User-Agent":         s.UserAgent,
		"Accept":             "application/json, text/plain, */*",
		"Accept-Language":    "en-US,en;q=0.9",
		"sec-ch-ua":          `"Chromium";v="122", "Not(A:Brand";v="24", "Google Chrome";v="122"`,
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": `"Windows"`,
		"Sec-Fetch-Dest":     "empty",
		"Sec-Fetch-Mode":     "cors",
		"Sec-Fetch-Site":     "same-origin",
		"X-Requested-With":   "XMLHttpRequest",
	}
	if referer != "" {
		headers["Referer"] = referer
		if parts := strings.SplitN(referer, "/", 4); len(parts) >= 3 {
			headers["Origin"] = strings.Join(parts[:3], "/")
		}
	}
	return headers
}

// SessionManager owns the process-wide SessionState. All mutation funnels
// through one mutex; refresh holds it across the bootstrap GET so concurrent
// extractions block instead of racing duplicate bootstraps.
type SessionManager struct {
	transport  *utils.HTTPClient
	ttl        time.Duration
	landingURL string
	overlay    map[string]string
	log        zerolog.Logger

	mu      sync.RWMutex
	current *SessionState
}

// NewSessionManager builds a manager that bootstraps against landingURL and
// considers sessions stale after ttl.
func NewSessionManager(transport *utils.HTTPClient, ttl time.Duration, landingURL string) *SessionManager {
	if landingURL == "" {
		landingURL = DefaultLandingURL
	}
	return &SessionManager{
		transport:  transport,
		ttl:        ttl,
		landingURL: landingURL,
		log:        internal.LogWith("session"),
	}
}

// SetCookieOverlay installs cookies that always win over fabricated and
// scraped ones, typically a real account's ndus from a Netscape cookie file.
func (m *SessionManager) SetCookieOverlay(cookies map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlay = cookies
	if m.current != nil {
		for k, v := range cookies {
			m.current.Cookies[k] = v
		}
	}
}

// GetOrRefresh returns a snapshot of the current session, bootstrapping a
// fresh one first when none exists or the TTL ran out.
func (m *SessionManager) GetOrRefresh(ctx context.Context) *SessionState {
	m.mu.RLock()
	if m.current.Valid() {
		snap := m.current.clone()
		m.mu.RUnlock()
		return snap
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.Valid() {
		return m.current.clone()
	}
	trigger := "initial"
	if m.current != nil {
		trigger = "expired"
	}
	return m.bootstrapLocked(ctx, trigger).clone()
}

// ForceRefresh discards the current state and bootstraps immediately. The
// API client calls this when the host signals the session went bad, so the
// next extraction already presents fresh artifacts.
func (m *SessionManager) ForceRefresh(ctx context.Context) *SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bootstrapLocked(ctx, "invalidated").clone()
}

// Invalidate drops the current state; the next GetOrRefresh bootstraps.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// Current returns a snapshot of the installed state without refreshing,
// or nil when no session exists yet.
func (m *SessionManager) Current() *SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.clone()
}

// FoldCookies merges response Set-Cookie values into the current state.
// This is the only mutation that happens outside a refresh.
func (m *SessionManager) FoldCookies(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	utils.FoldSetCookies(m.current.Cookies, cookies)
	for k, v := range m.overlay {
		m.current.Cookies[k] = v
	}
}

// bootstrapLocked fabricates a browser identity, performs the landing-page
// GET, folds its cookies, and scrapes jsToken/bdstoken. Callers hold m.mu.
// A transport failure still installs the fabricated state: its cookies alone
// satisfy several endpoints, and the next TTL expiry retries the full flow.
func (m *SessionManager) bootstrapLocked(ctx context.Context, trigger string) *SessionState {
	state := m.fabricate()
	internal.RecordSessionBootstrap(trigger)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.landingURL, nil)
	if err != nil {
		m.current = state
		return state
	}
	for k, v := range state.NavigationHeaders() {
		req.Header.Set(k, v)
	}
	req.Header.Set("Cookie", state.CookieHeader())

	resp, err := m.transport.Do(req)
	if err != nil {
		m.log.Warn().Err(err).Str("trigger", trigger).
			Msg("session bootstrap failed, continuing with fabricated cookies")
		m.current = state
		return state
	}
	defer resp.Body.Close()

	utils.FoldSetCookies(state.Cookies, resp.Cookies())
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLandingBytes))
	if err == nil {
		html := string(body)
		state.JSToken = extractJSToken(html)
		state.BDSToken = extractBDSToken(html)
	}
	state.CSRFToken = state.Cookies["csrfToken"]
	for k, v := range m.overlay {
		state.Cookies[k] = v
	}

	if state.JSToken != "" {
		m.log.Debug().Str("js_token", internal.RedactToken(state.JSToken)).
			Msg("scraped jsToken from landing page")
	}
	m.log.Info().
		Str("trigger", trigger).
		Str("logid", state.LogID).
		Bool("js_token", state.JSToken != "").
		Bool("bdstoken", state.BDSToken != "").
		Int("cookies", len(state.Cookies)).
		Msg("session bootstrapped")

	m.current = state
	return state
}

// fabricate builds the pre-bootstrap identity: seeded cookies, a stable
// user agent, a fresh logid, and the TTL window.
func (m *SessionManager) fabricate() *SessionState {
	now := time.Now()
	state := &SessionState{
		Cookies: map[string]string{
			"lang":      "en",
			"ndus":      randomDeviceID(),
			"browserid": randomBrowserID(),
			"__bid_n":   randomBrowserID()[:16],
		},
		UserAgent: userAgentPool[rand.Intn(len(userAgentPool))],
		LogID:     newLogID(),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	for k, v := range m.overlay {
		state.Cookies[k] = v
	}
	return state
}

const alphanumerics = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
const lowerAlnum = "abcdefghijklmnopqrstuvwxyz0123456789"

// newLogID builds a dp-logid the way the host's own client does: the
// millisecond timestamp followed by eight random lowercase alphanumerics.
func newLogID() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%013d", time.Now().UnixMilli())
	for i := 0; i < 8; i++ {
		b.WriteByte(lowerAlnum[rand.Intn(len(lowerAlnum))])
	}
	return b.String()
}

// randomDeviceID fabricates the 32-character ndus device fingerprint.
func randomDeviceID() string {
	b := make([]byte, 32)
	for i := range b {
		b[i] = alphanumerics[rand.Intn(len(alphanumerics))]
	}
	return string(b)
}

// randomBrowserID fabricates a browser fingerprint: the first 24 hex chars
// of an MD5 over wall time and a random draw.
func randomBrowserID() string {
	seed := fmt.Sprintf("%d%f", time.Now().UnixNano(), rand.Float64())
	sum := md5.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])[:24]
}

// SignatureFor synthesizes the download-endpoint signature used when the
// share page supplied none: md5("<shareid>_<timestamp>") in lowercase hex.
// The host's real algorithm is opaque; this stand-in is accepted in practice.
func SignatureFor(timestamp int64, shareID string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%d", shareID, timestamp)))
	return hex.EncodeToString(sum[:])
}
