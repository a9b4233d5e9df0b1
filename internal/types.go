package internal

// FileEntry is one element of a share's file list, carrying the attributes
// the extraction pipeline cares about. Raw preserves the entry JSON exactly
// as the Host returned it.
type FileEntry struct {
	FsID           string `json:"fs_id"`
	ServerFilename string `json:"server_filename"`
	Filename       string `json:"filename,omitempty"`
	Size           int64  `json:"size"`
	Category       int    `json:"category"`
	MimeType       string `json:"mime_type,omitempty"`
	Thumbnail      string `json:"thumbnail,omitempty"`
	DLink          string `json:"dlink,omitempty"`
	Raw            string `json:"-"`
}

// Name returns the entry's display name, preferring server_filename.
func (f *FileEntry) Name() string {
	if f.ServerFilename != "" {
		return f.ServerFilename
	}
	return f.Filename
}

// MediaInfo is the result of a successful extraction. StreamURL is always
// set; DownloadURL may equal it or be empty when only a streaming variant
// was obtainable.
type MediaInfo struct {
	Title         string `json:"title"`
	Filename      string `json:"filename"`
	Size          int64  `json:"size"`
	SizeFormatted string `json:"size_formatted"`
	Thumbnail     string `json:"thumbnail,omitempty"`

	FsID    string `json:"fs_id"`
	ShareID string `json:"share_id"`
	UK      string `json:"uk"`
	Surl    string `json:"surl"`

	StreamURL   string `json:"stream_url"`
	DownloadURL string `json:"download_url,omitempty"`
	DLink       string `json:"dlink,omitempty"`

	// RawData is the selected file entry as received, for diagnostics.
	RawData string `json:"raw_data,omitempty"`
}

// DownloadOptions configures the fetch command's single-stream download.
type DownloadOptions struct {
	OutputPath string
	RateLimit  int64 // bytes per second, 0 disables limiting
	Quiet      bool
	Headers    map[string]string
}
