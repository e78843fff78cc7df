// file: internal/stats/tracker.go
// version: 1.1.0
// guid: 7c41e0d2-5a8b-4f36-b1d9-2e6f0a9c3b57

// Package stats keeps the trailing one-hour completion window used for
// throttling, plus the running totals written to the status file.
package stats

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/jdfalk/paced-downloader/internal/clock"
)

// Window is the span over which the download rate is measured.
const Window = time.Hour

// DefaultRecentLimit bounds the recent-downloads list.
const DefaultRecentLimit = 25

// ArtistStats aggregates outcomes per artist.
type ArtistStats struct {
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
	Bytes     int64 `json:"bytes"`
}

// Outcome is one finished download as recorded for telemetry.
type Outcome struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Album       string    `json:"album"`
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completedAt"`
	Error       string    `json:"error,omitempty"`
	Bytes       int64     `json:"-"`
}

// Summary is a copy of the tracker totals.
type Summary struct {
	TotalCompleted int
	TotalFailed    int
	RatePerHour    int
	Artists        map[string]ArtistStats
	Recent         []Outcome
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	clock      clock.Clock
	maxPerHour int
	samples    deque.Deque[time.Time]

	completed   int
	failed      int
	artists     map[string]*ArtistStats
	displayName map[string]string
	recent      []Outcome
	recentLimit int
	folder      cases.Caser
}

// New creates a tracker. maxPerHour of zero disables throttling.
func New(maxPerHour int, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{
		clock:       clk,
		maxPerHour:  max(maxPerHour, 0),
		artists:     make(map[string]*ArtistStats),
		displayName: make(map[string]string),
		recentLimit: DefaultRecentLimit,
		folder:      cases.Fold(),
	}
}

// RecordCompletion appends n completion timestamps at the current time.
func (t *Tracker) RecordCompletion(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	for i := 0; i < n; i++ {
		t.samples.PushBack(now)
	}
	t.pruneLocked(now)
}

// RecordOutcome updates totals, per-artist stats and the recent list. It
// does not touch the rate window; RecordCompletion owns that.
func (t *Tracker) RecordOutcome(o Outcome, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	if o.CompletedAt.IsZero() {
		o.CompletedAt = now
	}

	key := t.artistKeyLocked(o.Artist)
	as, ok := t.artists[key]
	if !ok {
		as = &ArtistStats{}
		t.artists[key] = as
		t.displayName[key] = strings.TrimSpace(o.Artist)
	}
	if success {
		t.completed++
		as.Completed++
		as.Bytes += o.Bytes
	} else {
		t.failed++
		as.Failed++
	}

	t.recent = append([]Outcome{o}, t.recent...)
	if len(t.recent) > t.recentLimit {
		t.recent = t.recent[:t.recentLimit]
	}
}

// Seed restores totals from an external ledger after a restart. Outcomes
// are ordered newest first.
func (t *Tracker) Seed(completed, failed int, artists map[string]ArtistStats, recent []Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = completed
	t.failed = failed
	for name, s := range artists {
		key := t.artistKeyLocked(name)
		cp := s
		t.artists[key] = &cp
		t.displayName[key] = name
	}
	t.recent = append([]Outcome(nil), recent...)
	if len(t.recent) > t.recentLimit {
		t.recent = t.recent[:t.recentLimit]
	}
}

// artistKeyLocked folds case and Unicode normalization so "Björk" and
// "BJÖRK" share an entry.
func (t *Tracker) artistKeyLocked(artist string) string {
	name := strings.TrimSpace(artist)
	if name == "" {
		return "unknown"
	}
	return t.folder.String(norm.NFC.String(name))
}

func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-Window)
	for t.samples.Len() > 0 && !t.samples.Front().After(cutoff) {
		t.samples.PopFront()
	}
}

// CurrentRatePerHour returns the number of completions in the last hour.
func (t *Tracker) CurrentRatePerHour() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(t.clock.Now())
	return t.samples.Len()
}

// ShouldThrottle reports whether the hourly cap has been reached.
func (t *Tracker) ShouldThrottle() bool {
	if t.maxPerHour == 0 {
		return false
	}
	return t.CurrentRatePerHour() >= t.maxPerHour
}

// EstimatedTimeUntilNextSlot returns how long until the oldest sample
// leaves the window. ok is false when not throttled.
func (t *Tracker) EstimatedTimeUntilNextSlot() (wait time.Duration, ok bool) {
	if t.maxPerHour == 0 {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.pruneLocked(now)
	if t.samples.Len() < t.maxPerHour {
		return 0, false
	}
	// The sample whose expiry brings the count back under the cap.
	idx := t.samples.Len() - t.maxPerHour
	wait = t.samples.At(idx).Add(Window).Sub(now)
	return max(wait, 0), true
}

// Summary copies the totals. Artist names are reported as first seen.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(t.clock.Now())

	artists := make(map[string]ArtistStats, len(t.artists))
	for key, s := range t.artists {
		artists[t.displayName[key]] = *s
	}
	return Summary{
		TotalCompleted: t.completed,
		TotalFailed:    t.failed,
		RatePerHour:    t.samples.Len(),
		Artists:        artists,
		Recent:         append([]Outcome(nil), t.recent...),
	}
}

// TopArtists returns up to n artists ordered by completed downloads.
func (s Summary) TopArtists(n int) []string {
	names := make([]string, 0, len(s.Artists))
	for name := range s.Artists {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := s.Artists[names[i]], s.Artists[names[j]]
		if a.Completed != b.Completed {
			return a.Completed > b.Completed
		}
		return names[i] < names[j]
	})
	if n >= 0 && len(names) > n {
		names = names[:n]
	}
	return names
}
