// file: internal/download/factory.go
// version: 2.0.0
// guid: be6a33cc-3062-42b7-b395-1892d8829540

package download

import (
	"net/http"
	"time"

	"github.com/jdfalk/paced-downloader/internal/config"
)

// NewClientFromConfig builds the HTTP downloader from application configuration.
func NewClientFromConfig(cfg config.Config) *HTTPDownloader {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = max(cfg.MaxConcurrentDownloads, 2)
	transport.ResponseHeaderTimeout = time.Minute

	return NewHTTPDownloader(HTTPConfig{
		BytesPerSecond: cfg.BandwidthLimit,
		UserAgent:      cfg.UserAgent,
		StagingDir:     cfg.StagingDir,
		VerifyAudio:    cfg.VerifyAudio,
	}, &http.Client{Transport: transport})
}
