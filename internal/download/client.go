// file: internal/download/client.go
// version: 2.0.0
// guid: 404055b4-a238-453f-80a7-f6303ab23ec1

// Package download defines the boundary to the remote content API and an
// HTTP byte-range implementation of it.
package download

import (
	"context"

	"github.com/jdfalk/paced-downloader/internal/models"
)

// ProgressFunc receives byte progress. total is zero when unknown.
type ProgressFunc func(downloaded, total int64)

// Result describes a finished download.
type Result struct {
	Path  string // final file location
	Bytes int64
	// SHA256 of the final file, hex encoded.
	SHA256 string

	TotalTracks        int
	CompletedTracks    int
	FailedTrackIndices []int
}

// Downloader fetches one item. Implementations must honor ctx and return
// *Error values so the queue can classify failures; any other error is
// treated as Transient.
type Downloader interface {
	Download(ctx context.Context, item models.DownloadItem, progress ProgressFunc) (Result, error)
}

// DownloaderFunc adapts a function to Downloader.
type DownloaderFunc func(ctx context.Context, item models.DownloadItem, progress ProgressFunc) (Result, error)

// Download calls f.
func (f DownloaderFunc) Download(ctx context.Context, item models.DownloadItem, progress ProgressFunc) (Result, error) {
	return f(ctx, item, progress)
}
