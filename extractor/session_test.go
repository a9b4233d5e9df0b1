package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terastream/utils"
)

var logidPattern = regexp.MustCompile(`^\d{13}[a-z0-9]{8}$`)

const landingPage = `<html><head><script>
var jsToken = 'js-token-from-landing';
window.__config = {"bdstoken":"bds-token-from-landing"};
</script></head><body>home</body></html>`

func newTestTransport(t *testing.T) *utils.HTTPClient {
	t.Helper()
	transport, err := utils.NewHTTPClient(&utils.HTTPClientConfig{
		Timeout:    5 * time.Second,
		MaxRetries: 1,
	})
	require.NoError(t, err)
	return transport
}

// landingServer serves a landing page carrying tokens and cookies, counting
// how often it is hit.
func landingServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		http.SetCookie(w, &http.Cookie{Name: "csrfToken", Value: "csrf-abc"})
		http.SetCookie(w, &http.Cookie{Name: "PANWEB", Value: "1"})
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(landingPage))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGetOrRefreshBootstrap(t *testing.T) {
	var hits int32
	server := landingServer(t, &hits)
	m := NewSessionManager(newTestTransport(t), time.Hour, server.URL+"/")

	state := m.GetOrRefresh(context.Background())
	require.NotNil(t, state)

	assert.True(t, state.Valid())
	assert.Equal(t, time.Hour, state.ExpiresAt.Sub(state.CreatedAt))
	assert.Regexp(t, logidPattern, state.LogID)

	assert.Equal(t, "js-token-from-landing", state.JSToken)
	assert.Equal(t, "bds-token-from-landing", state.BDSToken)
	assert.Equal(t, "csrf-abc", state.CSRFToken)

	assert.Equal(t, "en", state.Cookies["lang"])
	assert.Len(t, state.Cookies["ndus"], 32)
	assert.Len(t, state.Cookies["browserid"], 24)
	assert.Len(t, state.Cookies["__bid_n"], 16)
	assert.Equal(t, "1", state.Cookies["PANWEB"])

	assert.Contains(t, userAgentPool, state.UserAgent)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGetOrRefreshReusesValidState(t *testing.T) {
	var hits int32
	server := landingServer(t, &hits)
	m := NewSessionManager(newTestTransport(t), time.Hour, server.URL+"/")

	first := m.GetOrRefresh(context.Background())
	second := m.GetOrRefresh(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "valid state must not re-bootstrap")
	assert.Equal(t, first.LogID, second.LogID)
	assert.NotSame(t, first, second, "callers get snapshots, not the shared state")

	// Mutating a snapshot must not leak into the shared state.
	first.Cookies["mutated"] = "yes"
	third := m.GetOrRefresh(context.Background())
	assert.NotContains(t, third.Cookies, "mutated")
}

func TestGetOrRefreshRebootstrapsAfterExpiry(t *testing.T) {
	var hits int32
	server := landingServer(t, &hits)
	m := NewSessionManager(newTestTransport(t), 50*time.Millisecond, server.URL+"/")

	first := m.GetOrRefresh(context.Background())
	time.Sleep(80 * time.Millisecond)
	second := m.GetOrRefresh(context.Background())

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.True(t, second.CreatedAt.After(first.CreatedAt))
}

// Concurrent callers of an empty manager must share one bootstrap: the first
// writer performs the landing GET, everyone else re-checks under the lock and
// reuses the fresh state.
func TestGetOrRefreshSingleFlight(t *testing.T) {
	var hits int32
	server := landingServer(t, &hits)
	m := NewSessionManager(newTestTransport(t), time.Hour, server.URL+"/")

	const goroutines = 16
	states := make([]*SessionState, goroutines)
	start := make(chan struct{})
	var wg sync.WaitGroup

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			<-start
			states[g] = m.GetOrRefresh(context.Background())
		}(g)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&hits), "racing callers must not duplicate the bootstrap")
	for g, state := range states {
		require.NotNil(t, state, "goroutine %d got nil state", g)
		assert.True(t, state.Valid())
		assert.Equal(t, states[0].LogID, state.LogID, "goroutine %d observed a different bootstrap", g)
	}
}

func TestForceRefreshReplacesState(t *testing.T) {
	var hits int32
	server := landingServer(t, &hits)
	m := NewSessionManager(newTestTransport(t), time.Hour, server.URL+"/")

	first := m.GetOrRefresh(context.Background())
	second := m.ForceRefresh(context.Background())

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "force refresh bootstraps even while valid")
	assert.True(t, second.CreatedAt.After(first.CreatedAt), "refreshed state must have a strictly greater CreatedAt")
	assert.NotEqual(t, first.LogID, second.LogID)
}

func TestInvalidateDropsState(t *testing.T) {
	var hits int32
	server := landingServer(t, &hits)
	m := NewSessionManager(newTestTransport(t), time.Hour, server.URL+"/")

	m.GetOrRefresh(context.Background())
	m.Invalidate()
	assert.Nil(t, m.Current())

	m.GetOrRefresh(context.Background())
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestBootstrapSurvivesTransportFailure(t *testing.T) {
	// Nothing listens on port 1; the bootstrap GET fails fast.
	m := NewSessionManager(newTestTransport(t), time.Hour, "http://127.0.0.1:1/")

	state := m.GetOrRefresh(context.Background())
	require.NotNil(t, state)

	assert.True(t, state.Valid(), "fabricated state is still usable")
	assert.Empty(t, state.JSToken)
	assert.Len(t, state.Cookies["ndus"], 32)
	assert.Regexp(t, logidPattern, state.LogID)
}

func TestFoldCookies(t *testing.T) {
	var hits int32
	server := landingServer(t, &hits)
	m := NewSessionManager(newTestTransport(t), time.Hour, server.URL+"/")

	snapshot := m.GetOrRefresh(context.Background())
	m.FoldCookies([]*http.Cookie{{Name: "STOKEN", Value: "xyz"}})

	assert.Equal(t, "xyz", m.Current().Cookies["STOKEN"])
	assert.NotContains(t, snapshot.Cookies, "STOKEN", "in-flight snapshots keep their view")
}

func TestCookieOverlayWins(t *testing.T) {
	var hits int32
	server := landingServer(t, &hits)
	m := NewSessionManager(newTestTransport(t), time.Hour, server.URL+"/")
	m.SetCookieOverlay(map[string]string{"ndus": "real-account-ndus"})

	state := m.GetOrRefresh(context.Background())
	assert.Equal(t, "real-account-ndus", state.Cookies["ndus"], "overlay beats fabricated cookies")

	// A response trying to replace the overlaid cookie loses too.
	m.FoldCookies([]*http.Cookie{{Name: "ndus", Value: "evicted-by-host"}})
	assert.Equal(t, "real-account-ndus", m.Current().Cookies["ndus"])
}

// Readers, refreshers and cookie folds interleave arbitrarily; every snapshot
// must stay internally consistent, the overlay must survive every refresh,
// and snapshot mutations must never reach the shared state.
func TestSessionManagerConcurrentUse(t *testing.T) {
	var hits int32
	server := landingServer(t, &hits)
	m := NewSessionManager(newTestTransport(t), time.Hour, server.URL+"/")
	m.SetCookieOverlay(map[string]string{"ndus": "pinned-account-ndus"})

	const goroutines = 8
	const iterations = 50
	var wg sync.WaitGroup

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				switch (g + i) % 4 {
				case 0:
					state := m.GetOrRefresh(context.Background())
					if state == nil {
						t.Error("GetOrRefresh returned nil")
						continue
					}
					if !logidPattern.MatchString(state.LogID) {
						t.Errorf("malformed logid %q", state.LogID)
					}
					if state.Cookies["ndus"] != "pinned-account-ndus" {
						t.Errorf("overlay lost: ndus = %q", state.Cookies["ndus"])
					}
					state.Cookies["scratch"] = "local"
				case 1:
					m.FoldCookies([]*http.Cookie{{Name: "STOKEN", Value: strconv.Itoa(i)}})
				case 2:
					if state := m.Current(); state != nil && !state.ExpiresAt.After(state.CreatedAt) {
						t.Error("snapshot has ExpiresAt before CreatedAt")
					}
				default:
					m.ForceRefresh(context.Background())
				}
			}
		}(g)
	}
	wg.Wait()

	final := m.Current()
	require.NotNil(t, final)
	assert.Equal(t, "pinned-account-ndus", final.Cookies["ndus"])
	assert.NotContains(t, final.Cookies, "scratch", "snapshot mutation leaked into the shared state")
	assert.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(1))
}

func TestSessionStateValid(t *testing.T) {
	var nilState *SessionState
	assert.False(t, nilState.Valid())

	expired := &SessionState{ExpiresAt: time.Now().Add(-time.Second)}
	assert.False(t, expired.Valid())

	live := &SessionState{ExpiresAt: time.Now().Add(time.Hour)}
	assert.True(t, live.Valid())
}

func TestSessionHeaders(t *testing.T) {
	state := &SessionState{
		UserAgent: "UA-test",
		Cookies:   map[string]string{"b": "2", "a": "1"},
	}

	nav := state.NavigationHeaders()
	assert.Equal(t, "UA-test", nav["User-Agent"])
	assert.Equal(t, "navigate", nav["Sec-Fetch-Mode"])
	assert.Contains(t, nav["Accept"], "text/html")

	api := state.APIHeaders("https://www.terabox.com/s/1abc")
	assert.Equal(t, "https://www.terabox.com/s/1abc", api["Referer"])
	assert.Equal(t, "https://www.terabox.com", api["Origin"])
	assert.Equal(t, "XMLHttpRequest", api["X-Requested-With"])
	assert.Equal(t, "UA-test", api["User-Agent"])

	bare := state.APIHeaders("")
	assert.NotContains(t, bare, "Referer")
	assert.NotContains(t, bare, "Origin")

	assert.Equal(t, "a=1; b=2", state.CookieHeader())
}

func TestGenerators(t *testing.T) {
	assert.Regexp(t, logidPattern, newLogID())

	device := randomDeviceID()
	assert.Regexp(t, `^[A-Za-z0-9]{32}$`, device)
	assert.NotEqual(t, device, randomDeviceID())

	browser := randomBrowserID()
	assert.Regexp(t, `^[0-9a-f]{24}$`, browser)
	assert.NotEqual(t, browser, randomBrowserID())
}

func TestSignatureFor(t *testing.T) {
	assert.Equal(t, "b45ac509a7ce7e286b635733d489b7ce", SignatureFor(1700000000, "123"))
	assert.Equal(t, "968b8d9a38099090cf9604c8f41ab88e", SignatureFor(1700000000, "999"))
	assert.Regexp(t, `^[0-9a-f]{32}$`, SignatureFor(time.Now().Unix(), "42"))
}
