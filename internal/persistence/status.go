// file: internal/persistence/status.go
// version: 1.1.0
// guid: c18e5f3a-7d24-4b69-9a0e-5f2b8d6c4e71

package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jdfalk/paced-downloader/internal/stats"
)

// Status is the telemetry document consumed by the external status viewer.
type Status struct {
	PluginVersion           string                       `json:"pluginVersion"`
	LastUpdated             time.Time                    `json:"lastUpdated"`
	TotalPendingDownloads   int                          `json:"totalPendingDownloads"`
	TotalCompletedDownloads int                          `json:"totalCompletedDownloads"`
	TotalFailedDownloads    int                          `json:"totalFailedDownloads"`
	DownloadRate            int                          `json:"downloadRate"`
	IsHighVolumeMode        bool                         `json:"isHighVolumeMode"`
	ArtistStats             map[string]stats.ArtistStats `json:"artistStats"`
	RecentDownloads         []stats.Outcome              `json:"recentDownloads"`
}

// StatusWriter atomically rewrites the status file.
type StatusWriter struct {
	mu   sync.Mutex
	path string
}

// NewStatusWriter writes status.json inside dir.
func NewStatusWriter(dir string) *StatusWriter {
	return &StatusWriter{path: filepath.Join(dir, StatusFile)}
}

// Path returns the status file location.
func (w *StatusWriter) Path() string { return w.path }

// Write replaces the status file. The directory is recreated if something
// removed it.
func (w *StatusWriter) Write(st Status) error {
	if st.ArtistStats == nil {
		st.ArtistStats = map[string]stats.ArtistStats{}
	}
	if st.RecentDownloads == nil {
		st.RecentDownloads = []stats.Outcome{}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}
	return writeVerified(w.path, data, func(b []byte) error {
		return json.Unmarshal(b, &map[string]any{})
	})
}

// ReadStatus loads a status file, used by the CLI.
func ReadStatus(path string) (Status, error) {
	var st Status
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to parse status file: %w", err)
	}
	return st, nil
}
