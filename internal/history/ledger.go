// file: internal/history/ledger.go
// version: 1.0.0
// guid: 0c1d2e3f-4a5b-6c7d-8e9f-0a1b2c3d4e5f

// Package history keeps a durable ledger of finished downloads in PebbleDB.
// It seeds status telemetry after restarts and lets the queue skip items
// that were already downloaded.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"
	ulid "github.com/oklog/ulid/v2"

	"github.com/jdfalk/paced-downloader/internal/models"
	"github.com/jdfalk/paced-downloader/internal/stats"
)

// Key schema:
// - item:<id>   -> Entry JSON, latest outcome for the item
// - log:<ulid>  -> item id, one per recorded outcome in time order
const (
	itemPrefix = "item:"
	logPrefix  = "log:"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("history ledger closed")

// Entry is one finished download.
type Entry struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Artist     string        `json:"artist"`
	Album      string        `json:"album"`
	Quality    string        `json:"quality"`
	Status     models.Status `json:"status"`
	Bytes      int64         `json:"bytes"`
	Path       string        `json:"path,omitempty"`
	SHA256     string        `json:"sha256,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	FinishedAt time.Time     `json:"finished_at"`
}

// EntryFromItem captures the terminal state of it.
func EntryFromItem(it models.DownloadItem, path, sum string) Entry {
	return Entry{
		ID:         it.ID,
		Title:      it.Title,
		Artist:     it.Artist,
		Album:      it.Album,
		Quality:    it.Quality.Bitrate(),
		Status:     it.Status,
		Bytes:      it.BytesDownloaded,
		Path:       path,
		SHA256:     sum,
		Error:      it.LastErrorMessage,
		Attempts:   it.RetryCount + 1,
		FinishedAt: it.EndedAt,
	}
}

// Outcome converts the entry for the status file.
func (e Entry) Outcome() stats.Outcome {
	return stats.Outcome{
		ID:          e.ID,
		Title:       e.Title,
		Artist:      e.Artist,
		Album:       e.Album,
		Status:      e.Status.String(),
		CompletedAt: e.FinishedAt,
		Error:       e.Error,
		Bytes:       e.Bytes,
	}
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu sync.RWMutex
	db *pebble.DB
}

// Open opens or creates the ledger at dir.
func Open(dir string) (*Ledger, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open history at %s: %w", dir, err)
	}
	return &Ledger{db: db}, nil
}

// Close flushes and closes the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// Record stores e as the latest outcome for its item.
func (l *Ledger) Record(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("%w: entry without id", models.ErrInvalidItem)
	}
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return ErrClosed
	}

	logID := ulid.MustNew(ulid.Timestamp(e.FinishedAt), ulid.DefaultEntropy())
	batch := l.db.NewBatch()
	defer batch.Close()
	if err := batch.Set([]byte(itemPrefix+e.ID), data, nil); err != nil {
		return err
	}
	if err := batch.Set([]byte(logPrefix+logID.String()), []byte(e.ID), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// Get returns the latest entry for id.
func (l *Ledger) Get(id string) (Entry, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return Entry{}, false, ErrClosed
	}
	return l.getLocked(id)
}

func (l *Ledger) getLocked(id string) (Entry, bool, error) {
	var e Entry
	value, closer, err := l.db.Get([]byte(itemPrefix + id))
	if errors.Is(err, pebble.ErrNotFound) {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(value, &e); err != nil {
		return e, false, fmt.Errorf("corrupt history entry %s: %w", id, err)
	}
	return e, true, nil
}

// IsCompleted reports whether id finished successfully before.
func (l *Ledger) IsCompleted(id string) (bool, error) {
	e, ok, err := l.Get(id)
	if err != nil || !ok {
		return false, err
	}
	return e.Status == models.StatusCompleted, nil
}

// Recent returns up to n latest outcomes, newest first, one per item.
func (l *Ledger) Recent(n int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return nil, ErrClosed
	}

	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(logPrefix),
		UpperBound: []byte("log;"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	seen := make(map[string]bool)
	var out []Entry
	for ok := iter.Last(); ok && iter.Valid() && len(out) < n; ok = iter.Prev() {
		id := string(iter.Value())
		if seen[id] {
			continue
		}
		seen[id] = true
		e, found, err := l.getLocked(id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, e)
		}
	}
	return out, iter.Error()
}

// Totals aggregates every item's latest outcome.
type Totals struct {
	Completed int
	Failed    int
	Artists   map[string]stats.ArtistStats
}

// Totals scans all items.
func (l *Ledger) Totals() (Totals, error) {
	t := Totals{Artists: make(map[string]stats.ArtistStats)}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return t, ErrClosed
	}

	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(itemPrefix),
		UpperBound: []byte("item;"),
	})
	if err != nil {
		return t, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		as := t.Artists[e.Artist]
		switch e.Status {
		case models.StatusCompleted:
			t.Completed++
			as.Completed++
			as.Bytes += e.Bytes
		case models.StatusFailed:
			t.Failed++
			as.Failed++
		default:
			continue
		}
		t.Artists[e.Artist] = as
	}
	return t, iter.Error()
}
