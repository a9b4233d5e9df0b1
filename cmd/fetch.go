package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"terastream/extractor"
	"terastream/internal"
	"terastream/utils"
)

var (
	outputPath string
	rateLimit  string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [OPTIONS] <URL>",
	Short: "Resolve a share link and download the media to disk",
	Long: `Fetch resolves a share link exactly like the root command, then streams
the media into a local file. The download carries the session that minted
the URL; stream hosts reject requests that arrive without it.

Examples:
  terastream fetch https://terabox.com/s/1AbC123
  terastream fetch -o /videos/trip.mp4 -r 5M https://terabox.com/s/1AbC123
  terastream fetch -q -c cookies.txt https://terabox.com/s/1AbC123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFetch(args[0])
	},
}

func init() {
	fetchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: the share's filename)")
	fetchCmd.Flags().StringVarP(&rateLimit, "limit-rate", "r", "", "Bandwidth limit (e.g., 5M for 5MB/s)")
}

func runFetch(rawURL string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var rateLimitBytes int64
	if rateLimit != "" {
		var err error
		rateLimitBytes, err = utils.ParseRateLimit(rateLimit)
		if err != nil {
			return fmt.Errorf("invalid rate limit format: %w\n\nSupported formats:\n  - 1M (1 MB/s)\n  - 500K (500 KB/s)\n  - 1024 (1024 bytes/s)", err)
		}
	}

	ex, err := extractor.New(cfg)
	if err != nil {
		return err
	}
	defer ex.Close()

	info, err := ex.Extract(ctx, rawURL)
	if err != nil {
		return describeError(err)
	}

	target := info.DownloadURL
	if target == "" {
		target = info.StreamURL
	}

	if !quiet {
		fmt.Printf("📄 File: %s (%s)\n", info.Filename, info.SizeFormatted)
	}

	// A separate transport: no overall timeout (the body takes as long as it
	// takes) and a jar for the redirect chains CDN hosts like to hand out.
	transport, err := utils.NewHTTPClient(&utils.HTTPClientConfig{
		MaxRetries: cfg.MaxRetries,
		ProxyURL:   cfg.ProxyURL,
		TLSVerify:  cfg.TLSVerify,
		WithJar:    true,
	})
	if err != nil {
		return err
	}
	defer transport.CloseIdleConnections()

	opts := &internal.DownloadOptions{
		OutputPath: outputPath,
		RateLimit:  rateLimitBytes,
		Quiet:      quiet,
		Headers:    ex.DownloadHeaders(ctx),
	}
	if opts.OutputPath == "" && info.Filename != "" {
		opts.OutputPath = utils.SanitizeFilename(info.Filename)
	}

	// Probe first so the log records what the CDN will serve. Failures are
	// advisory; the GET below decides. The probe gets its own deadline because
	// this transport is otherwise unbounded.
	probeCtx, cancelProbe := context.WithTimeout(ctx, 10*time.Second)
	logger := internal.Log()
	if probe, err := transport.Head(probeCtx, target, opts.Headers); err == nil {
		logger.Debug().
			Int64("size", probe.Size).
			Bool("accepts_ranges", probe.AcceptsRanges).
			Str("final_url", internal.RedactURL(probe.FinalURL)).
			Msg("download probe")
	} else {
		logger.Debug().Err(err).Msg("download probe failed")
	}
	cancelProbe()

	savedPath, err := utils.NewStreamDownloader(transport).Download(ctx, target, opts)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	if !quiet {
		fmt.Printf("✅ Saved to: %s\n", savedPath)
	}
	return nil
}
