package internal

import "context"

// Resolver turns a share URL into playable media information.
type Resolver interface {
	Extract(ctx context.Context, rawURL string) (*MediaInfo, error)
	Close() error
}

// Downloader streams a resolved media URL to local disk.
type Downloader interface {
	Download(ctx context.Context, url string, opts *DownloadOptions) (string, error)
}
