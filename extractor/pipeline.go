// Package extractor resolves share links into playable media URLs. It owns
// the browser-like session, the mirror-rotating API client, and the
// four-stage pipeline that walks a share from surl to stream URL.
package extractor

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"terastream/internal"
	"terastream/utils"
)

// streamTypes are the streaming-endpoint variants, best quality first.
var streamTypes = []string{"M3U8_AUTO_720", "M3U8_AUTO_480", "M3U8_FLV_264_480", "mp4"}

// videoExtensions drive the first file-selection pass.
var videoExtensions = []string{".mp4", ".mkv", ".avi", ".mov", ".wmv", ".flv", ".webm", ".m4v", ".ts"}

// dlinkProbeTimeout bounds the HEAD validation of a pre-baked dlink.
const dlinkProbeTimeout = 10 * time.Second

// Option adjusts an Extractor at construction time.
type Option func(*Extractor)

// WithMirrors replaces the API mirror rotation with the given base URLs.
func WithMirrors(mirrors ...string) Option {
	return func(e *Extractor) { e.mirrors = mirrors }
}

// WithLandingURL points the session bootstrap at a different landing page.
func WithLandingURL(landingURL string) Option {
	return func(e *Extractor) { e.landingURL = landingURL }
}

// WithTransport substitutes a pre-built HTTP client.
func WithTransport(transport *utils.HTTPClient) Option {
	return func(e *Extractor) { e.transport = transport }
}

// WithCookieFile overlays cookies from a Netscape-format file onto every
// session, letting an authenticated ndus ride along with the fabricated
// identity.
func WithCookieFile(path string) Option {
	return func(e *Extractor) { e.cookieFile = path }
}

// Extractor is the extraction core's facade: one Extract operation, safe for
// concurrent use, sharing one session and one mirror cursor process-wide.
type Extractor struct {
	cfg      *internal.Config
	registry *utils.Registry

	transport *utils.HTTPClient
	sessions  *SessionManager
	api       *apiClient
	log       zerolog.Logger

	mirrors    []string
	landingURL string
	cookieFile string

	closed atomic.Bool
}

var _ internal.Resolver = (*Extractor)(nil)

// New builds an Extractor from config. The zero option set talks to the real
// mirror constellation.
func New(cfg *internal.Config, opts ...Option) (*Extractor, error) {
	if cfg == nil {
		cfg = internal.DefaultConfig()
	}
	e := &Extractor{
		cfg:        cfg,
		registry:   utils.NewRegistry(),
		log:        internal.LogWith("extractor"),
		cookieFile: cfg.CookieFile,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.transport == nil {
		transport, err := utils.NewHTTPClient(&utils.HTTPClientConfig{
			Timeout:    cfg.Timeout(),
			MaxRetries: cfg.MaxRetries,
			ProxyURL:   cfg.ProxyURL,
			TLSVerify:  cfg.TLSVerify,
			RateLimit:  cfg.RateLimit,
		})
		if err != nil {
			return nil, err
		}
		e.transport = transport
	}

	e.sessions = NewSessionManager(e.transport, cfg.RefreshTTL(), e.landingURL)
	if e.cookieFile != "" {
		overlay, err := utils.LoadNetscapeCookies(e.cookieFile)
		if err != nil {
			return nil, err
		}
		e.sessions.SetCookieOverlay(overlay)
	}
	e.api = newAPIClient(e.transport, e.sessions, e.mirrors)
	return e, nil
}

// Extract resolves a share URL to playable media information, running the
// four pipeline stages strictly in order: share discovery, file listing,
// file selection, stream-URL ladder.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*internal.MediaInfo, error) {
	if e.closed.Load() {
		return nil, internal.NewTransportError("extract", fmt.Errorf("extractor is closed"))
	}

	start := time.Now()
	info, err := e.extract(ctx, rawURL)
	internal.RecordExtraction(outcomeLabel(err), time.Since(start).Seconds())
	return info, err
}

func (e *Extractor) extract(ctx context.Context, rawURL string) (*internal.MediaInfo, error) {
	loc, err := e.registry.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	log := e.log.With().Str("surl", loc.Surl).Logger()
	log.Info().Str("url", internal.RedactURL(rawURL)).Msg("extracting")

	sc, err := e.fetchShareInfo(ctx, loc.Surl)
	if err != nil {
		return nil, err
	}

	if err := e.fetchFileList(ctx, sc); err != nil {
		return nil, err
	}
	if len(sc.files) == 0 {
		return nil, internal.NewNoFilesError(loc.Surl)
	}

	file := selectFile(sc.files)
	log.Debug().
		Str("file", utils.TruncateText(file.Name(), 80)).
		Str("fs_id", file.FsID).
		Int("candidates", len(sc.files)).
		Msg("selected file")

	result, err := e.resolveStreamURL(ctx, sc, file)
	if err != nil {
		return nil, err
	}

	info := buildMediaInfo(sc, file, result)
	log.Info().
		Str("file", info.Filename).
		Str("size", info.SizeFormatted).
		Str("rung", result.rung).
		Msg("extraction complete")
	return info, nil
}

// Close drains the connection pool. Extract calls after Close fail.
func (e *Extractor) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.transport.CloseIdleConnections()
	return nil
}

// DownloadHeaders returns the headers a caller must attach when fetching a
// URL the pipeline resolved. Stream hosts bind the URL to the session that
// minted it, so requests without these headers tend to get 403s.
func (e *Extractor) DownloadHeaders(ctx context.Context) map[string]string {
	session := e.sessions.GetOrRefresh(ctx)
	return map[string]string{
		"User-Agent": session.UserAgent,
		"Cookie":     session.CookieHeader(),
		"Referer":    e.api.currentMirror() + "/",
	}
}

// fetchShareInfo is stage 1: ask /api/shorturlinfo, and when the host
// refuses, scrape the share page instead. Transport failures propagate;
// only host-side refusals fall back to scraping.
func (e *Extractor) fetchShareInfo(ctx context.Context, surl string) (*shareContext, error) {
	params := url.Values{}
	params.Set("shorturl", surl)
	params.Set("root", "1")

	resp, err := e.api.get(ctx, "/api/shorturlinfo", params, callOptions{
		referer: e.api.shareReferer(surl),
	})
	if err == nil && resp.isJSON {
		sc := &shareContext{surl: surl}
		sc.fold(resp.json)
		return sc, nil
	}
	if err != nil {
		ee, ok := internal.AsExtractError(err)
		if !ok || ee.Type != internal.ErrHost {
			return nil, err
		}
		e.log.Warn().Err(err).Str("surl", surl).Msg("shorturlinfo refused, scraping share page")
	}

	html, err := e.api.fetchPage(ctx, e.api.shareReferer(surl))
	if err != nil {
		return nil, err
	}
	return parseSharePage(html, surl), nil
}

// fetchFileList is stage 2: reuse the stage-1 file list when present, else
// call /share/list. A host refusal leaves the list empty (surfaced as
// NoFilesFound by the caller); the response is folded back into the share
// context because it often carries shareid/uk the share page withheld.
func (e *Extractor) fetchFileList(ctx context.Context, sc *shareContext) error {
	if sc.haveFiles {
		return nil
	}

	params := url.Values{}
	params.Set("shorturl", sc.surl)
	params.Set("root", "1")
	params.Set("dir", "/")
	params.Set("page", "1")
	params.Set("num", "100")
	params.Set("order", "asc")
	params.Set("by", "name")
	if sc.shareID != "" {
		params.Set("shareid", sc.shareID)
	}
	if sc.uk != "" {
		params.Set("uk", sc.uk)
	}

	resp, err := e.api.get(ctx, "/share/list", params, callOptions{
		referer: e.api.shareReferer(sc.surl),
	})
	if err != nil {
		if ee, ok := internal.AsExtractError(err); ok && ee.Type == internal.ErrHost {
			e.log.Warn().Err(err).Str("surl", sc.surl).Msg("file listing refused")
			return nil
		}
		return err
	}
	if resp.isJSON {
		sc.fold(resp.json)
	}
	return nil
}

// selectFile picks the entry to resolve: extension match first, then the
// video category, then a video mime type, else the first entry.
func selectFile(files []internal.FileEntry) *internal.FileEntry {
	for i := range files {
		name := strings.ToLower(files[i].Name())
		for _, ext := range videoExtensions {
			if strings.HasSuffix(name, ext) {
				return &files[i]
			}
		}
	}
	for i := range files {
		if files[i].Category == 1 {
			return &files[i]
		}
	}
	for i := range files {
		if strings.Contains(strings.ToLower(files[i].MimeType), "video") {
			return &files[i]
		}
	}
	return &files[0]
}

// ladderResult is the outcome of the stream-URL ladder: the winning URL, the
// rung that produced it, and whether that rung also yields a download URL.
type ladderResult struct {
	url        string
	rung       string
	isDownload bool
}

// resolveStreamURL is stage 4: probe the rungs in order and stop at the
// first non-empty URL. Host refusals inside a rung mean "try the next one";
// transport failures abort the extraction.
func (e *Extractor) resolveStreamURL(ctx context.Context, sc *shareContext, file *internal.FileEntry) (*ladderResult, error) {
	rungs := []struct {
		name string
		run  func() (string, error)
	}{
		{"dlink", func() (string, error) { return e.validateDLink(ctx, file.DLink), nil }},
		{"streaming", func() (string, error) { return e.streamingURL(ctx, sc, file) }},
		{"download", func() (string, error) { return e.downloadURL(ctx, sc, file) }},
		{"filemetas", func() (string, error) { return e.filemetasURL(ctx, file) }},
		{"videoplay", func() (string, error) { return e.videoPlayURL(ctx, sc, file) }},
	}

	for _, rung := range rungs {
		streamURL, err := rung.run()
		if err != nil {
			return nil, err
		}
		if streamURL == "" {
			internal.RecordLadderAttempt(rung.name, "miss")
			continue
		}
		internal.RecordLadderAttempt(rung.name, "hit")
		return &ladderResult{
			url:        streamURL,
			rung:       rung.name,
			isDownload: rung.name == "download",
		}, nil
	}
	return nil, internal.NewNoVideoError("could not obtain a streaming URL")
}

// validateDLink handles a pre-baked dlink: terminate its query string, HEAD
// it with session headers, and prefer the redirect target. Any probe failure
// falls back to the unvalidated dlink; a present dlink always wins the
// ladder.
func (e *Extractor) validateDLink(ctx context.Context, dlink string) string {
	if dlink == "" {
		return ""
	}
	if strings.Contains(dlink, "?") {
		dlink += "&"
	} else {
		dlink += "?"
	}

	session := e.sessions.GetOrRefresh(ctx)
	headers := session.APIHeaders("")
	headers["Cookie"] = session.CookieHeader()

	probeCtx, cancel := context.WithTimeout(ctx, dlinkProbeTimeout)
	defer cancel()

	finalURL, err := e.transport.HeadFinalURL(probeCtx, dlink, headers)
	if err != nil {
		e.log.Debug().Err(err).Msg("dlink probe failed, using unvalidated dlink")
		return dlink
	}
	return finalURL
}

// streamingURL walks the streaming variants best-first. The endpoint answers
// errno 2 for variants that do not apply to the file; that one is skipped
// without touching the session.
func (e *Extractor) streamingURL(ctx context.Context, sc *shareContext, file *internal.FileEntry) (string, error) {
	for _, streamType := range streamTypes {
		params := url.Values{}
		params.Set("type", streamType)
		params.Set("uk", sc.uk)
		params.Set("shareid", sc.shareID)
		params.Set("fid", file.FsID)
		if sc.sign != "" {
			params.Set("sign", sc.sign)
		}
		if sc.timestamp != 0 {
			params.Set("timestamp", strconv.FormatInt(sc.timestamp, 10))
		}

		resp, err := e.api.get(ctx, "/share/streaming", params, callOptions{
			referer:      e.api.shareReferer(sc.surl),
			benignErrnos: []int64{2},
		})
		if err != nil {
			if ee, ok := internal.AsExtractError(err); ok && ee.Type == internal.ErrHost {
				e.log.Debug().Err(err).Str("type", streamType).Msg("streaming variant refused")
				continue
			}
			return "", err
		}
		if streamURL := streamURLFromResponse(resp); streamURL != "" {
			return streamURL, nil
		}
	}
	return "", nil
}

// streamURLFromResponse digs a URL out of a streaming reply: flat keys
// first, then the urls list/object.
func streamURLFromResponse(resp *apiResponse) string {
	if !resp.isJSON {
		return ""
	}
	for _, key := range []string{"lurl", "dlink", "url", "path", "mlink"} {
		if v := resp.json.Get(key).String(); v != "" {
			return v
		}
	}
	urls := resp.json.Get("urls")
	switch {
	case urls.IsArray():
		arr := urls.Array()
		if len(arr) == 0 {
			return ""
		}
		if v := arr[0].Get("url").String(); v != "" {
			return v
		}
		return arr[0].Get("dlink").String()
	case urls.IsObject():
		if v := urls.Get("url").String(); v != "" {
			return v
		}
		return urls.Get("dlink").String()
	}
	return ""
}

// downloadURL asks the download endpoint, synthesizing sign/timestamp when
// the share page withheld them and attaching jsToken when the session has
// one.
func (e *Extractor) downloadURL(ctx context.Context, sc *shareContext, file *internal.FileEntry) (string, error) {
	timestamp := sc.timestamp
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}
	sign := sc.sign
	if sign == "" {
		sign = SignatureFor(timestamp, sc.shareID)
	}

	params := url.Values{}
	params.Set("shareid", sc.shareID)
	params.Set("uk", sc.uk)
	params.Set("fid_list", fmt.Sprintf(`["%s"]`, file.FsID))
	params.Set("sign", sign)
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	if session := e.sessions.GetOrRefresh(ctx); session.JSToken != "" {
		params.Set("jsToken", session.JSToken)
	}

	resp, err := e.api.get(ctx, "/share/download", params, callOptions{
		referer: e.api.shareReferer(sc.surl),
	})
	if err != nil {
		if ee, ok := internal.AsExtractError(err); ok && ee.Type == internal.ErrHost {
			e.log.Debug().Err(err).Msg("download endpoint refused")
			return "", nil
		}
		return "", err
	}
	if !resp.isJSON {
		return "", nil
	}

	if list := resp.json.Get("list"); list.Exists() {
		item := list
		if list.IsArray() {
			arr := list.Array()
			if len(arr) == 0 {
				return "", nil
			}
			item = arr[0]
		}
		if v := item.Get("dlink").String(); v != "" {
			return v, nil
		}
		if v := item.Get("url").String(); v != "" {
			return v, nil
		}
	}
	return resp.json.Get("dlink").String(), nil
}

// filemetasURL asks the metadata endpoint for a dlink.
func (e *Extractor) filemetasURL(ctx context.Context, file *internal.FileEntry) (string, error) {
	params := url.Values{}
	params.Set("dlink", "1")
	params.Set("target", fmt.Sprintf(`["%s"]`, file.FsID))

	resp, err := e.api.get(ctx, "/api/filemetas", params, callOptions{})
	if err != nil {
		if ee, ok := internal.AsExtractError(err); ok && ee.Type == internal.ErrHost {
			e.log.Debug().Err(err).Msg("filemetas endpoint refused")
			return "", nil
		}
		return "", err
	}
	if !resp.isJSON {
		return "", nil
	}
	info := resp.json.Get("info")
	if !info.IsArray() {
		return "", nil
	}
	arr := info.Array()
	if len(arr) == 0 {
		return "", nil
	}
	return arr[0].Get("dlink").String(), nil
}

// videoPlayURL asks the player endpoint, the last rung before giving up.
func (e *Extractor) videoPlayURL(ctx context.Context, sc *shareContext, file *internal.FileEntry) (string, error) {
	params := url.Values{}
	params.Set("surl", sc.surl)
	params.Set("fid", file.FsID)

	resp, err := e.api.get(ctx, "/share/videoPlay", params, callOptions{})
	if err != nil {
		if ee, ok := internal.AsExtractError(err); ok && ee.Type == internal.ErrHost {
			e.log.Debug().Err(err).Msg("videoPlay endpoint refused")
			return "", nil
		}
		return "", err
	}
	if !resp.isJSON {
		return "", nil
	}
	for _, key := range []string{"video", "url", "stream", "hd_url", "sd_url"} {
		if v := resp.json.Get(key).String(); v != "" {
			return v, nil
		}
	}
	return "", nil
}

// buildMediaInfo assembles the result from the chosen entry, whatever rung
// produced the URL.
func buildMediaInfo(sc *shareContext, file *internal.FileEntry, result *ladderResult) *internal.MediaInfo {
	name := file.Name()
	if name == "" {
		name = sc.title
	}
	if name == "" {
		name = "Unknown"
	}

	info := &internal.MediaInfo{
		Title:         name,
		Filename:      name,
		Size:          file.Size,
		SizeFormatted: utils.FormatSize(file.Size),
		Thumbnail:     file.Thumbnail,
		FsID:          file.FsID,
		ShareID:       sc.shareID,
		UK:            sc.uk,
		Surl:          sc.surl,
		StreamURL:     result.url,
		DLink:         file.DLink,
		RawData:       file.Raw,
	}
	if result.isDownload {
		info.DownloadURL = result.url
	}
	return info
}

// outcomeLabel classifies an extraction result for metrics.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	ee, ok := internal.AsExtractError(err)
	if !ok {
		return "transport"
	}
	switch ee.Type {
	case internal.ErrInvalidURL:
		return "invalid_url"
	case internal.ErrNoFilesFound:
		return "no_files"
	case internal.ErrNoVideoFound:
		return "no_video"
	case internal.ErrHost:
		return "host_error"
	case internal.ErrTimeout:
		return "timeout"
	default:
		return "transport"
	}
}
