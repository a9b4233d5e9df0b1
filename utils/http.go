package utils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"terastream/internal"
)

// HTTPClientConfig controls transport construction.
type HTTPClientConfig struct {
	// Timeout bounds each attempt end to end, body included. Zero means no
	// overall bound (download path).
	Timeout time.Duration
	// MaxRetries is the total attempt count for transport failures.
	MaxRetries int
	// ProxyURL routes all traffic through an http, https or socks5 proxy.
	ProxyURL string
	// TLSVerify enables strict certificate checks. Off by default because
	// several share-host mirrors serve mismatched certificates.
	TLSVerify bool
	// RateLimit paces outgoing requests per second; zero disables pacing.
	RateLimit float64
	// WithJar attaches a public-suffix cookie jar. Only the download path
	// wants one; API calls serialize their Cookie header by hand and a jar
	// would append duplicates.
	WithJar bool
}

// HTTPClient wraps http.Client with transport-level retries and optional
// request pacing. HTTP error statuses are never retried here; what the
// server said is for the caller to interpret.
type HTTPClient struct {
	client     *http.Client
	maxRetries int
	limiter    *rate.Limiter
}

// Probe holds what a HEAD request learned about a URL.
type Probe struct {
	FinalURL      string
	Size          int64
	Filename      string
	AcceptsRanges bool
}

// NewHTTPClient builds a pooled client from config.
func NewHTTPClient(config *HTTPClientConfig) (*HTTPClient, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   30,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !config.TLSVerify,
		},
	}

	if config.ProxyURL != "" {
		if err := configureProxy(transport, config.ProxyURL); err != nil {
			return nil, internal.NewValidationErrorWithValue("PROXY_URL", err.Error(), config.ProxyURL)
		}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	if config.WithJar {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		client.Jar = jar
	}

	maxRetries := config.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &HTTPClient{
		client:     client,
		maxRetries: maxRetries,
		limiter:    limiter,
	}, nil
}

// configureProxy sets up proxy configuration for the transport
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsedURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if user := parsedURL.User; user != nil {
			password, _ := user.Password()
			auth = &proxy.Auth{User: user.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsedURL.Scheme)
	}

	return nil
}

// Do executes the request, retrying transport failures with exponential
// backoff. Responses with HTTP error statuses are returned untouched.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	op := req.Method + " " + req.URL.Host

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt)):
			case <-req.Context().Done():
				return nil, internal.NewTransportError(op, req.Context().Err())
			}
			internal.IncTransportRetry()
			if req.Body != nil && req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, internal.NewTransportError(op, err)
				}
				req.Body = body
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(req.Context()); err != nil {
				return nil, internal.NewTransportError(op, err)
			}
		}

		resp, err := c.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// The caller gave up; more attempts cannot help.
		if req.Context().Err() != nil {
			break
		}
	}

	if isTimeoutErr(lastErr) {
		return nil, internal.NewTimeoutError(op, lastErr)
	}
	return nil, internal.NewTransportError(op, lastErr)
}

// Head probes rawURL and reports the final URL after redirects plus whatever
// the response headers reveal about the payload. Any final status other than
// 200 fails the probe.
func (c *HTTPClient) Head(ctx context.Context, rawURL string, headers map[string]string) (*Probe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, internal.NewTransportError("HEAD", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, internal.NewTransportError("HEAD "+resp.Request.URL.Host,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	probe := &Probe{
		FinalURL:      resp.Request.URL.String(),
		Size:          resp.ContentLength,
		AcceptsRanges: strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
	}
	if disposition := resp.Header.Get("Content-Disposition"); disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			probe.Filename = params["filename"]
		}
	}
	return probe, nil
}

// HeadFinalURL follows redirects and returns where rawURL actually lands.
func (c *HTTPClient) HeadFinalURL(ctx context.Context, rawURL string, headers map[string]string) (string, error) {
	probe, err := c.Head(ctx, rawURL, headers)
	if err != nil {
		return "", err
	}
	return probe.FinalURL, nil
}

// CloseIdleConnections drops pooled keep-alive connections.
func (c *HTTPClient) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

// backoffDelay grows 1s<<attempt, clamped to [2s, 10s].
func backoffDelay(attempt int) time.Duration {
	delay := time.Second << attempt
	if delay < 2*time.Second {
		return 2 * time.Second
	}
	if delay > 10*time.Second {
		return 10 * time.Second
	}
	return delay
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
