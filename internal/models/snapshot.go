// file: internal/models/snapshot.go
// version: 1.0.1
// guid: 4a2f9c17-6d3e-4b08-a5c1-8e7b2d90f364

package models

import (
	"fmt"
	"strings"
	"time"
)

// QueueSnapshotRecord is the persisted form of a queued item. Only the
// fields needed to re-enqueue survive a restart; progress does not.
type QueueSnapshotRecord struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Artist         string    `json:"artist"`
	Album          string    `json:"album"`
	Bitrate        string    `json:"bitrate"`
	TotalSize      int64     `json:"totalSize"`
	DownloadFolder string    `json:"downloadFolder"`
	Explicit       bool      `json:"explicit"`
	SourceRef      string    `json:"sourceRef"`
	QueuedTime     time.Time `json:"queuedTime"`
}

// RecordFromItem builds the snapshot record for it.
func RecordFromItem(it DownloadItem) QueueSnapshotRecord {
	return QueueSnapshotRecord{
		ID:             it.ID,
		Title:          it.Title,
		Artist:         it.Artist,
		Album:          it.Album,
		Bitrate:        it.Quality.Bitrate(),
		TotalSize:      it.BytesTotal,
		DownloadFolder: it.DestinationPath,
		Explicit:       it.Explicit,
		SourceRef:      it.SourceRef,
		QueuedTime:     it.QueuedAt.UTC(),
	}
}

// Validate checks that the record can be turned back into an item.
func (r QueueSnapshotRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: snapshot record without id", ErrInvalidItem)
	}
	if _, err := ParseQuality(r.Bitrate); err != nil {
		return fmt.Errorf("%w: record %s: %v", ErrInvalidItem, r.ID, err)
	}
	if r.TotalSize < 0 {
		return fmt.Errorf("%w: record %s: negative size", ErrInvalidItem, r.ID)
	}
	return nil
}

// ToItem converts the record into a Queued item.
func (r QueueSnapshotRecord) ToItem() (DownloadItem, error) {
	if err := r.Validate(); err != nil {
		return DownloadItem{}, err
	}
	q, _ := ParseQuality(r.Bitrate)
	return DownloadItem{
		ID:              r.ID,
		Title:           r.Title,
		Artist:          r.Artist,
		Album:           r.Album,
		Quality:         q,
		DestinationPath: r.DownloadFolder,
		Status:          StatusQueued,
		BytesTotal:      r.TotalSize,
		Explicit:        r.Explicit,
		SourceRef:       r.SourceRef,
		QueuedAt:        r.QueuedTime,
		Resumable:       true,
	}, nil
}
