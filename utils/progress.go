package utils

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/cheggaaa/pb/v3"
)

// ProgressTracker renders a live byte-progress bar for the download path.
type ProgressTracker struct {
	bar      *pb.ProgressBar
	quiet    bool
	start    time.Time
	total    int64
	current  atomic.Int64
	filename string
}

// DownloadSummary contains final download statistics
type DownloadSummary struct {
	TotalBytes   int64
	TotalTime    time.Duration
	AverageSpeed float64 // bytes per second
	Filename     string
}

// NewProgressTracker creates a tracker for total bytes. A non-positive total
// renders counters and speed only; quiet suppresses all output.
func NewProgressTracker(total int64, quiet bool) *ProgressTracker {
	tracker := &ProgressTracker{
		quiet: quiet,
		start: time.Now(),
		total: total,
	}

	if !quiet {
		tmpl := `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`
		if total <= 0 {
			tmpl = `{{string . "prefix"}}{{counters . }} {{speed . }}`
			total = 0
		}
		bar := pb.ProgressBarTemplate(tmpl).Start64(total)
		bar.Set(pb.Bytes, true)
		bar.Set("prefix", "Downloading: ")
		tracker.bar = bar
	}

	return tracker
}

// Add records n more transferred bytes.
func (p *ProgressTracker) Add(n int64) {
	p.current.Add(n)
	if p.bar != nil {
		p.bar.Add64(n)
	}
}

// Current returns the number of bytes recorded so far.
func (p *ProgressTracker) Current() int64 {
	return p.current.Load()
}

// SetFilename sets the name shown in the final summary.
func (p *ProgressTracker) SetFilename(filename string) {
	p.filename = filename
}

// WrapReader counts everything read through r against the tracker.
func (p *ProgressTracker) WrapReader(r io.Reader) io.Reader {
	return &countingReader{r: r, tracker: p}
}

// Finish stops the bar, prints a summary unless quiet, and returns the stats.
func (p *ProgressTracker) Finish() *DownloadSummary {
	elapsed := time.Since(p.start)
	if p.bar != nil {
		p.bar.Finish()
	}

	current := p.current.Load()
	summary := &DownloadSummary{
		TotalBytes: current,
		TotalTime:  elapsed,
		Filename:   p.filename,
	}
	if seconds := elapsed.Seconds(); seconds > 0 {
		summary.AverageSpeed = float64(current) / seconds
	}

	if !p.quiet {
		p.displaySummary(summary)
	}

	return summary
}

// displaySummary prints the download summary statistics
func (p *ProgressTracker) displaySummary(summary *DownloadSummary) {
	fmt.Printf("\n")
	fmt.Printf("Download completed successfully!\n")
	fmt.Printf("Total size: %s\n", FormatSize(summary.TotalBytes))
	fmt.Printf("Total time: %v\n", summary.TotalTime.Round(time.Millisecond))
	fmt.Printf("Average speed: %s/s\n", FormatSize(int64(summary.AverageSpeed)))
	if summary.Filename != "" {
		fmt.Printf("Saved to: %s\n", summary.Filename)
	}
}

type countingReader struct {
	r       io.Reader
	tracker *ProgressTracker
}

func (c *countingReader) Read(buf []byte) (int, error) {
	n, err := c.r.Read(buf)
	if n > 0 {
		c.tracker.Add(int64(n))
	}
	return n, err
}
