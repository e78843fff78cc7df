// file: internal/models/item.go
// version: 2.0.0
// guid: 6e7f8a9b-0c1d-2e3f-4a5b-6c7d8e9f0a1b

// Package models holds the download queue data types shared by the queue,
// persistence and API layers.
package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrInvalidItem is returned for items that cannot be tracked.
var ErrInvalidItem = errors.New("invalid download item")

// Status is the lifecycle position of a download item.
type Status int

const (
	StatusQueued Status = iota
	StatusDownloading
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

var statusNames = [...]string{"queued", "downloading", "paused", "completed", "failed", "cancelled"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(b)))
	for i, n := range statusNames {
		if n == name {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// transitions lists the allowed next states. Completed and Cancelled are
// terminal; Failed only re-enters the queue on retry.
var transitions = map[Status][]Status{
	StatusQueued:      {StatusDownloading, StatusCancelled},
	StatusDownloading: {StatusCompleted, StatusFailed, StatusCancelled, StatusPaused},
	StatusPaused:      {StatusDownloading, StatusCancelled},
	StatusFailed:      {StatusQueued},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether the item still occupies the queue.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusDownloading || s == StatusPaused
}

// Quality is the requested audio quality.
type Quality int

const (
	QualityLow Quality = iota
	QualityStandard
	QualityLossless
	QualityHiRes
)

var qualityNames = [...]string{"low", "standard", "lossless", "hires"}

// Bitrate strings as written to the queue snapshot.
var qualityBitrates = [...]string{"128", "320", "LOSSLESS", "HI_RES"}

func (q Quality) String() string {
	if q < 0 || int(q) >= len(qualityNames) {
		return fmt.Sprintf("quality(%d)", int(q))
	}
	return qualityNames[q]
}

// Bitrate returns the snapshot representation.
func (q Quality) Bitrate() string {
	if q < 0 || int(q) >= len(qualityBitrates) {
		return ""
	}
	return qualityBitrates[q]
}

// Valid reports whether q is a known quality.
func (q Quality) Valid() bool {
	return q >= 0 && int(q) < len(qualityNames)
}

// ParseQuality accepts a quality name or a snapshot bitrate string.
func ParseQuality(s string) (Quality, error) {
	v := strings.TrimSpace(s)
	for i := range qualityNames {
		if strings.EqualFold(v, qualityNames[i]) || strings.EqualFold(v, qualityBitrates[i]) {
			return Quality(i), nil
		}
	}
	switch strings.ToLower(v) {
	case "flac":
		return QualityLossless, nil
	case "hi-res", "hi_res":
		return QualityHiRes, nil
	}
	return QualityStandard, fmt.Errorf("unknown quality %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (q Quality) MarshalText() ([]byte, error) {
	if !q.Valid() {
		return nil, fmt.Errorf("unknown quality %d", int(q))
	}
	return []byte(qualityNames[q]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quality) UnmarshalText(b []byte) error {
	v, err := ParseQuality(string(b))
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// DownloadItem is one album or track tracked by the queue. Values handed
// out by the queue are copies; mutate only through queue operations.
type DownloadItem struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album"`
	Quality         Quality `json:"quality"`
	DestinationPath string  `json:"destination_path"`
	Status          Status  `json:"status"`

	Progress        float64 `json:"progress"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	BytesTotal      int64   `json:"bytes_total"`

	TotalTracks        int   `json:"total_tracks"`
	CompletedTracks    int   `json:"completed_tracks"`
	FailedTracks       int   `json:"failed_tracks"`
	FailedTrackIndices []int `json:"failed_track_indices,omitempty"`

	QueuedAt  time.Time `json:"queued_at"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	RetryCount       int    `json:"retry_count"`
	LastErrorMessage string `json:"last_error,omitempty"`
	Resumable        bool   `json:"resumable"`
	Explicit         bool   `json:"explicit"`
	SourceRef        string `json:"source_ref"`
}

// Validate checks the fields required to track an item.
func (it *DownloadItem) Validate() error {
	if it == nil {
		return fmt.Errorf("%w: nil item", ErrInvalidItem)
	}
	if strings.TrimSpace(it.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	if !it.Quality.Valid() {
		return fmt.Errorf("%w: quality %d", ErrInvalidItem, int(it.Quality))
	}
	if it.BytesTotal < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidItem)
	}
	return nil
}

// Clone returns a deep copy.
func (it DownloadItem) Clone() DownloadItem {
	it.FailedTrackIndices = slices.Clone(it.FailedTrackIndices)
	return it
}

// MarkTrackFailed records a failed track index once.
func (it *DownloadItem) MarkTrackFailed(index int) {
	pos, found := slices.BinarySearch(it.FailedTrackIndices, index)
	if found {
		return
	}
	it.FailedTrackIndices = slices.Insert(it.FailedTrackIndices, pos, index)
	it.FailedTracks = len(it.FailedTrackIndices)
}

// SameAlbum reports whether other belongs to the same release.
func (it DownloadItem) SameAlbum(other DownloadItem) bool {
	if it.Album == "" || other.Album == "" {
		return false
	}
	return strings.EqualFold(it.Artist, other.Artist) && strings.EqualFold(it.Album, other.Album)
}

// DisplayName is used in logs and progress output.
func (it DownloadItem) DisplayName() string {
	switch {
	case it.Artist != "" && it.Title != "":
		return it.Artist + " - " + it.Title
	case it.Title != "":
		return it.Title
	default:
		return it.ID
	}
}
