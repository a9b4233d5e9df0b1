package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"terastream/internal"
	"terastream/utils"
)

// defaultMirrors is the ordered rotation of interchangeable API hosts.
// Entries are full base URLs so tests can point the client at local servers.
var defaultMirrors = []string{
	"https://www.terabox.com",
	"https://terabox.com",
	"https://www.teraboxapp.com",
	"https://www.1024tera.com",
}

// maxBodyBytes caps how much of any response body the client reads.
const maxBodyBytes = 8 << 20

// callOptions adjusts one API call.
type callOptions struct {
	// referer sets Referer on the request and derives Origin from it.
	referer string
	// benignErrnos raise as HostError without session refresh or mirror
	// rotation. The streaming endpoint returns errno 2 to mean "this variant
	// does not apply to this file", which must not be mistaken for the
	// session-invalid 2 other endpoints use.
	benignErrnos []int64
}

// apiResponse is one interpreted reply. Exactly one of json/rawHTML is
// meaningful, flagged by isJSON.
type apiResponse struct {
	status  int
	body    []byte
	json    gjson.Result
	isJSON  bool
	rawHTML string
}

// apiClient speaks the host's private JSON endpoints. It injects the query
// parameters and headers every endpoint expects, folds response cookies back
// into the session, and applies the shared errno reaction policy. The client
// holds the session manager one-way; the session manager knows nothing of it.
type apiClient struct {
	transport *utils.HTTPClient
	sessions  *SessionManager
	log       zerolog.Logger

	mu      sync.Mutex
	mirrors []string
	idx     int
}

func newAPIClient(transport *utils.HTTPClient, sessions *SessionManager, mirrors []string) *apiClient {
	if len(mirrors) == 0 {
		mirrors = defaultMirrors
	}
	return &apiClient{
		transport: transport,
		sessions:  sessions,
		mirrors:   append([]string(nil), mirrors...),
		log:       internal.LogWith("api"),
	}
}

// currentMirror returns the active mirror base URL.
func (c *apiClient) currentMirror() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirrors[c.idx]
}

// rotate advances the mirror cursor, wrapping around.
func (c *apiClient) rotate() {
	c.mu.Lock()
	c.idx = (c.idx + 1) % len(c.mirrors)
	next := c.mirrors[c.idx]
	c.mu.Unlock()
	internal.IncMirrorRotation()
	c.log.Info().Str("mirror", next).Msg("rotated to next mirror")
}

// shareReferer builds the Referer the host's own player sends with API calls
// for a share.
func (c *apiClient) shareReferer(surl string) string {
	return c.currentMirror() + "/s/" + surl
}

// get issues a GET against the current mirror.
func (c *apiClient) get(ctx context.Context, endpoint string, params url.Values, opts callOptions) (*apiResponse, error) {
	return c.request(ctx, http.MethodGet, endpoint, params, nil, opts)
}

// post issues a POST with a form body against the current mirror.
func (c *apiClient) post(ctx context.Context, endpoint string, params, form url.Values, opts callOptions) (*apiResponse, error) {
	return c.request(ctx, http.MethodPost, endpoint, params, form, opts)
}

func (c *apiClient) request(ctx context.Context, method, endpoint string, params, form url.Values, opts callOptions) (*apiResponse, error) {
	session := c.sessions.GetOrRefresh(ctx)

	if params == nil {
		params = url.Values{}
	}
	setDefault(params, "channel", "chunlei")
	setDefault(params, "web", "1")
	setDefault(params, "app_id", "250528")
	setDefault(params, "clienttype", "0")
	if session.LogID != "" {
		setDefault(params, "dp-logid", session.LogID)
	}

	target := c.currentMirror() + endpoint + "?" + params.Encode()

	var body io.Reader
	if len(form) > 0 {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, internal.NewTransportError(method+" "+endpoint, err)
	}
	for k, v := range session.APIHeaders(opts.referer) {
		req.Header.Set(k, v)
	}
	req.Header.Set("Cookie", session.CookieHeader())
	if len(form) > 0 {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.log.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Str("url", internal.RedactURL(target)).
		Msg("api request")

	resp, err := c.transport.Do(req)
	if err != nil {
		// A mirror that cannot be reached is skipped for the remainder of
		// the process; the error still surfaces to the caller.
		c.rotate()
		return nil, err
	}
	defer resp.Body.Close()

	c.sessions.FoldCookies(resp.Cookies())

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, internal.NewTransportError(method+" "+endpoint, err)
	}
	return c.interpret(ctx, resp, raw, opts)
}

// interpret decodes the reply and applies the errno reaction policy:
// session-invalid errnos force a bootstrap before raising, the captcha errno
// rotates the mirror before raising, benign errnos raise untouched.
func (c *apiClient) interpret(ctx context.Context, resp *http.Response, body []byte, opts callOptions) (*apiResponse, error) {
	out := &apiResponse{status: resp.StatusCode, body: body}

	// Mirrors are sloppy about Content-Type, so the header is only a hint;
	// anything that parses as JSON is treated as JSON.
	if gjson.ValidBytes(body) {
		out.json = gjson.ParseBytes(body)
		out.isJSON = true
	} else {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, internal.NewHostError(int64(resp.StatusCode),
				fmt.Sprintf("HTTP %d from %s", resp.StatusCode, resp.Request.URL.Host),
				string(body))
		}
		out.rawHTML = string(body)
		return out, nil
	}

	if !out.json.IsObject() {
		return out, nil
	}
	errno := out.json.Get("errno").Int()
	if errno == 0 {
		return out, nil
	}

	internal.RecordHostError(errno)
	message := out.json.Get("errmsg").String()
	if message == "" {
		message = out.json.Get("show_msg").String()
	}
	hostErr := internal.NewHostError(errno, message, string(body))

	for _, benign := range opts.benignErrnos {
		if errno == benign {
			return nil, hostErr
		}
	}

	switch errno {
	case -6, -9, 2:
		c.log.Warn().Int64("errno", errno).Msg("session rejected by host, re-bootstrapping")
		c.sessions.ForceRefresh(ctx)
	case 112:
		c.log.Warn().Int64("errno", errno).Msg("captcha demanded, rotating mirror")
		c.rotate()
	}
	return nil, hostErr
}

// fetchPage GETs a full page (share page, landing page) with browser
// navigation headers and returns its HTML. Page fetches never rotate the
// mirror: the caller chose the exact URL and rotation would not change it.
func (c *apiClient) fetchPage(ctx context.Context, pageURL string) (string, error) {
	session := c.sessions.GetOrRefresh(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", internal.NewTransportError("page fetch", err)
	}
	for k, v := range session.NavigationHeaders() {
		req.Header.Set(k, v)
	}
	req.Header.Set("Cookie", session.CookieHeader())

	resp, err := c.transport.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	c.sessions.FoldCookies(resp.Cookies())

	if resp.StatusCode >= http.StatusBadRequest {
		return "", internal.NewHostError(int64(resp.StatusCode),
			fmt.Sprintf("HTTP %d fetching page", resp.StatusCode), "")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", internal.NewTransportError("page fetch", err)
	}
	return string(body), nil
}

// setDefault adds key=value only when the caller did not supply the key.
func setDefault(params url.Values, key, value string) {
	if _, ok := params[key]; !ok {
		params.Set(key, value)
	}
}
