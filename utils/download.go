package utils

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"terastream/internal"
)

// StreamDownloader writes a resolved media URL to disk in a single stream.
// Stream hosts tie the URL to the session that minted it, so callers pass
// the session's headers through DownloadOptions.
type StreamDownloader struct {
	client *HTTPClient
}

var _ internal.Downloader = (*StreamDownloader)(nil)

// NewStreamDownloader wraps client for downloading.
func NewStreamDownloader(client *HTTPClient) *StreamDownloader {
	return &StreamDownloader{client: client}
}

// Download fetches rawURL into a local file and returns the final path.
// Data lands in a .part file first and is renamed only after the size
// checks out, so an interrupted run never leaves a truncated file behind
// under the real name.
func (d *StreamDownloader) Download(ctx context.Context, rawURL string, opts *internal.DownloadOptions) (string, error) {
	if opts == nil {
		opts = &internal.DownloadOptions{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", internal.NewTransportError("GET", err)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return "", internal.NewTransportError("GET "+resp.Request.URL.Host,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	outputPath := resolveOutputPath(opts.OutputPath, resp)
	if err := EnsureDir(outputPath); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath = UniquePath(outputPath)
	partPath := outputPath + ".part"

	partFile, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create part file: %w", err)
	}

	tracker := NewProgressTracker(resp.ContentLength, opts.Quiet)
	tracker.SetFilename(outputPath)
	limiter := NewBandwidthLimiter(opts.RateLimit)

	written, copyErr := copyLimited(ctx, partFile, tracker.WrapReader(resp.Body), limiter)
	closeErr := partFile.Close()
	tracker.Finish()

	if copyErr != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("download interrupted after %d bytes: %w", written, copyErr)
	}
	if closeErr != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("failed to flush part file: %w", closeErr)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(partPath)
		return "", fmt.Errorf("file size mismatch: expected %d bytes, got %d bytes", resp.ContentLength, written)
	}

	if err := AtomicRename(partPath, outputPath); err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("failed to rename part file: %w", err)
	}

	return outputPath, nil
}

// resolveOutputPath picks the destination file name. An explicit path wins;
// a directory gets the derived name joined onto it.
func resolveOutputPath(requested string, resp *http.Response) string {
	derived := deriveFilename(resp)

	if requested == "" {
		return derived
	}
	if info, err := os.Stat(requested); err == nil && info.IsDir() {
		return filepath.Join(requested, derived)
	}
	return requested
}

// deriveFilename prefers Content-Disposition, then the URL path, then a
// generic fallback.
func deriveFilename(resp *http.Response) string {
	if disposition := resp.Header.Get("Content-Disposition"); disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := params["filename"]; name != "" {
				return SanitizeFilename(name)
			}
		}
	}
	if base := path.Base(resp.Request.URL.Path); base != "" && base != "/" && base != "." {
		if unescaped, err := url.PathUnescape(base); err == nil {
			base = unescaped
		}
		return SanitizeFilename(base)
	}
	return "download"
}

// copyLimited streams src into dst through the bandwidth limiter, honoring
// ctx between chunks.
func copyLimited(ctx context.Context, dst io.Writer, src io.Reader, limiter *BandwidthLimiter) (int64, error) {
	buffer := make([]byte, 32*1024)
	var total int64

	for {
		n, err := src.Read(buffer)
		if n > 0 {
			if waitErr := limiter.WaitN(ctx, n); waitErr != nil {
				return total, waitErr
			}
			written, writeErr := dst.Write(buffer[:n])
			total += int64(written)
			if writeErr != nil {
				return total, writeErr
			}
			if written != n {
				return total, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
	}
}
